package upgrade

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Planning errors.
var (
	ErrDowngrade   = errors.New("target version is older than the current version")
	ErrSameVersion = errors.New("cluster already runs the target version")
	ErrMajorChange = errors.New("upgrades across major versions are not supported")
)

// Plan is the ordered list of versions a cluster moves through. Every hop
// advances at most one minor version; the last hop is the requested target.
type Plan struct {
	Current *semver.Version
	Target  *semver.Version
	Hops    []*semver.Version
}

// String renders the plan as "1.30.2 -> 1.31.9 -> 1.32.5".
func (p *Plan) String() string {
	parts := make([]string, 0, len(p.Hops)+1)
	parts = append(parts, p.Current.String())
	for _, h := range p.Hops {
		parts = append(parts, h.String())
	}
	return strings.Join(parts, " -> ")
}

// NewPlan computes the hops from current to target. Each skipped minor is
// resolved to its latest stable patch.
func NewPlan(ctx context.Context, current, target *semver.Version, resolver ReleaseResolver) (*Plan, error) {
	if current == nil || target == nil {
		return nil, errors.New("current and target versions are required")
	}
	switch {
	case target.Major() != current.Major():
		return nil, fmt.Errorf("%w: %s -> %s", ErrMajorChange, current, target)
	case target.LessThan(current):
		return nil, fmt.Errorf("%w: %s -> %s", ErrDowngrade, current, target)
	case target.Equal(current):
		return nil, fmt.Errorf("%w: %s", ErrSameVersion, current)
	}

	plan := &Plan{Current: current, Target: target}
	for minor := current.Minor() + 1; minor < target.Minor(); minor++ {
		if resolver == nil {
			return nil, fmt.Errorf("no release resolver for intermediate minor %d.%d", current.Major(), minor)
		}
		v, err := resolver.LatestPatch(ctx, current.Major(), minor)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve latest %d.%d release: %w", current.Major(), minor, err)
		}
		if v.Major() != current.Major() || v.Minor() != minor {
			return nil, fmt.Errorf("resolver returned %s for minor %d.%d", v, current.Major(), minor)
		}
		plan.Hops = append(plan.Hops, v)
	}
	plan.Hops = append(plan.Hops, target)
	return plan, nil
}

// ParseVersion parses a Kubernetes version such as "v1.31.2" or "1.31.2".
// The patch is required.
func ParseVersion(s string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(strings.TrimPrefix(strings.TrimSpace(s), "v"))
	if err != nil {
		return nil, fmt.Errorf("invalid kubernetes version %q: %w", s, err)
	}
	return v, nil
}
