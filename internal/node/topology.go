package node

import (
	"fmt"
	"strings"
)

// Role is the part a node plays in the cluster. It is derived from list
// position and never persisted.
type Role string

const (
	RoleFirstControlPlane      Role = "first-control-plane"
	RoleAdditionalControlPlane Role = "additional-control-plane"
	RoleWorker                 Role = "worker"
)

// IsControlPlane reports whether the role runs an API server.
func (r Role) IsControlPlane() bool {
	return r == RoleFirstControlPlane || r == RoleAdditionalControlPlane
}

// Member is an address paired with the role its position implies.
type Member struct {
	Address Address
	Role    Role
}

// Topology is the ordered control-plane and worker node lists of one run.
type Topology struct {
	ControlPlanes []Address
	Workers       []Address
}

// ParseTopology parses both node lists. Each entry may itself hold a
// comma-separated list; blank entries are dropped. The result is validated.
func ParseTopology(controlPlanes, workers []string, defaults Defaults) (Topology, error) {
	cps, err := parseList("control-plane", controlPlanes, defaults)
	if err != nil {
		return Topology{}, err
	}
	ws, err := parseList("worker", workers, defaults)
	if err != nil {
		return Topology{}, err
	}

	t := Topology{ControlPlanes: cps, Workers: ws}
	if err := t.Validate(); err != nil {
		return Topology{}, err
	}
	return t, nil
}

func parseList(kind string, specs []string, defaults Defaults) ([]Address, error) {
	var out []Address
	for _, spec := range specs {
		for _, field := range strings.Split(spec, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			addr, err := ParseAddress(field, defaults)
			if err != nil {
				return nil, fmt.Errorf("%s node list: %w", kind, err)
			}
			out = append(out, addr)
		}
	}
	return out, nil
}

// Validate checks that at least one control plane is present and that no
// host appears twice across the combined lists.
func (t Topology) Validate() error {
	if len(t.ControlPlanes) == 0 {
		return &ValidationError{Field: "control-planes", Reason: "at least one control-plane node is required"}
	}

	seen := make(map[string]string, len(t.ControlPlanes)+len(t.Workers))
	check := func(kind string, list []Address) error {
		for _, a := range list {
			if a.IsZero() {
				return &ValidationError{Field: kind, Reason: "unparsed address in node list"}
			}
			if prev, ok := seen[a.Key()]; ok {
				return &ValidationError{
					Field:  kind,
					Value:  a.String(),
					Reason: fmt.Sprintf("duplicate host %s (already listed as %s)", a.Host(), prev),
				}
			}
			seen[a.Key()] = a.String()
		}
		return nil
	}

	if err := check("control-planes", t.ControlPlanes); err != nil {
		return err
	}
	return check("workers", t.Workers)
}

// FirstControlPlane returns the node that initializes the cluster.
func (t Topology) FirstControlPlane() Address {
	if len(t.ControlPlanes) == 0 {
		return Address{}
	}
	return t.ControlPlanes[0]
}

// Role returns the role of the i-th node in execution order.
func (t Topology) Role(i int) Role {
	switch {
	case i == 0:
		return RoleFirstControlPlane
	case i < len(t.ControlPlanes):
		return RoleAdditionalControlPlane
	default:
		return RoleWorker
	}
}

// Ordered returns every node in execution order: first control plane, other
// control planes, then workers.
func (t Topology) Ordered() []Member {
	out := make([]Member, 0, t.Len())
	for i, a := range t.ControlPlanes {
		out = append(out, Member{Address: a, Role: t.Role(i)})
	}
	for _, a := range t.Workers {
		out = append(out, Member{Address: a, Role: RoleWorker})
	}
	return out
}

// Len returns the total number of nodes.
func (t Topology) Len() int {
	return len(t.ControlPlanes) + len(t.Workers)
}

// IsHA reports whether more than one control plane is listed.
func (t Topology) IsHA() bool {
	return len(t.ControlPlanes) > 1
}
