// Package provisioningtest provides an in-memory node set for tests of
// provisioning phases.
package provisioningtest

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/imamik/kubehop/internal/bundle"
	"github.com/imamik/kubehop/internal/cleanup"
	"github.com/imamik/kubehop/internal/node"
	"github.com/imamik/kubehop/internal/remote"
	"github.com/imamik/kubehop/internal/remote/remotetest"
)

// Nodes implements provisioning.Nodes over a remotetest.Cluster.
type Nodes struct {
	Topo    node.Topology
	Cluster *remotetest.Cluster
	Stack   *cleanup.Stack
	Family  []bundle.Family
	NonRoot map[string]bool
	Missing map[string]bool
}

// NewNodes parses the node lists and backs every node with a fake from
// cluster. It panics on an invalid topology.
func NewNodes(cluster *remotetest.Cluster, controlPlanes, workers []string) *Nodes {
	topo, err := node.ParseTopology(controlPlanes, workers, node.Defaults{})
	if err != nil {
		panic(err)
	}
	return &Nodes{
		Topo:    topo,
		Cluster: cluster,
		Stack:   cleanup.NewStack(logr.Discard()),
		Family:  []bundle.Family{bundle.FamilyDebian},
	}
}

// Topology returns the parsed node lists.
func (n *Nodes) Topology() node.Topology { return n.Topo }

// Families returns the configured families.
func (n *Nodes) Families() []bundle.Family { return n.Family }

// Cleanup returns the shared cleanup stack.
func (n *Nodes) Cleanup() *cleanup.Stack { return n.Stack }

// Runner returns the fake node for addr.
func (n *Nodes) Runner(addr node.Address) (remote.Runner, error) {
	if n.Missing[addr.Host()] {
		return nil, fmt.Errorf("node %s is not part of this session", addr)
	}
	return n.Node(addr.Host()), nil
}

// Node returns the fake behind host.
func (n *Nodes) Node(host string) *remotetest.Node {
	return n.Cluster.Node(host, !n.NonRoot[host])
}
