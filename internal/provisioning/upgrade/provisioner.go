package upgrade

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/go-logr/logr"

	"github.com/imamik/kubehop/internal/bundle"
	"github.com/imamik/kubehop/internal/config"
	"github.com/imamik/kubehop/internal/node"
	"github.com/imamik/kubehop/internal/provisioning"
)

const phase = "Upgrade"

// Detected node roles, as printed by the role subcommand.
const (
	detectedControlPlane = "control-plane"
	detectedWorker       = "worker"
)

// ErrFromVersionRequired is returned by dry runs that cannot ask the
// cluster for its version.
var ErrFromVersionRequired = errors.New("a dry run needs --from-version: the current version is read from the first control plane")

// ProvisionerOptions contains options for the upgrade provisioner.
type ProvisionerOptions struct {
	// TargetVersion is the version the cluster ends on.
	TargetVersion string
	// FromVersion overrides the version detected on the first control plane.
	FromVersion string
	// SkipDrain upgrades nodes without draining them first.
	SkipDrain bool

	Resolver ReleaseResolver
	Builder  *bundle.Builder
	Log      logr.Logger
}

// Provisioner handles cluster upgrades.
type Provisioner struct {
	opts ProvisionerOptions
	plan *Plan
}

// NewProvisioner creates a new upgrade provisioner.
func NewProvisioner(opts ProvisionerOptions) *Provisioner {
	if opts.Resolver == nil {
		opts.Resolver = NewHTTPResolver()
	}
	if opts.Builder == nil {
		opts.Builder = bundle.NewBuilder(nil)
	}
	return &Provisioner{opts: opts}
}

// Name returns the phase name.
func (p *Provisioner) Name() string {
	return phase
}

// Plan returns the computed plan, nil before planning succeeded.
func (p *Provisioner) Plan() *Plan {
	return p.plan
}

// Provision performs the upgrade process.
//
// The upgrade happens in phases:
// 1. Build the bundle and upload it to every node
// 2. Read the current version and compute the hops
// 3. For each hop, upgrade every node in topology order
//
// The first failing node is rolled back to its previous packages and
// nothing after it runs. Nodes already upgraded stay upgraded.
func (p *Provisioner) Provision(ctx *provisioning.Context) error {
	if ctx.Timeouts == nil {
		ctx.Timeouts = config.LoadTimeouts()
	}
	if ctx.Report == nil {
		ctx.Report = provisioning.NewReport("Upgrade report")
	}
	target, err := ParseVersion(p.opts.TargetVersion)
	if err != nil {
		return err
	}
	if ctx.DryRun && p.opts.FromVersion == "" {
		return ErrFromVersionRequired
	}

	topo := ctx.Nodes.Topology()
	ctx.Observer.Printf("[%s] Upgrading %d node(s) to %s", phase, topo.Len(), target)
	if ctx.DryRun {
		ctx.Observer.Printf("[%s] [DRY RUN] No node will be changed", phase)
	}

	bundlePhase := &provisioning.BundlePhase{Builder: p.opts.Builder, Subcommands: []string{"upgrade"}}
	prepare := []provisioning.Phase{
		bundlePhase,
		provisioning.PhaseFunc("plan", func(ctx *provisioning.Context) error {
			return p.computePlan(ctx, target)
		}),
	}
	if err := provisioning.RunPhases(ctx, prepare); err != nil {
		return err
	}

	hops := make([]provisioning.Phase, 0, len(p.plan.Hops))
	prev := p.plan.Current
	for i, hop := range p.plan.Hops {
		h := &hopRunner{p: p, index: i + 1, total: len(p.plan.Hops), from: prev, to: hop}
		hops = append(hops, provisioning.PhaseFunc(h.group(), h.run))
		prev = hop
	}
	if err := provisioning.RunPhases(ctx, hops); err != nil {
		return err
	}

	ctx.Observer.Printf("[%s] Cluster upgrade to %s completed successfully", phase, target)
	return nil
}

// computePlan reads the current version and plans the hops. Every hop is
// added to the report up front so hops never reached show as not attempted.
func (p *Provisioner) computePlan(ctx *provisioning.Context, target *semver.Version) error {
	current, err := p.currentVersion(ctx)
	if err != nil {
		return err
	}

	plan, err := NewPlan(ctx, current, target, p.opts.Resolver)
	if err != nil {
		return err
	}
	p.plan = plan
	for i, hop := range plan.Hops {
		p.opts.Log.V(1).Info("planned hop", "index", i+1, "version", hop.String())
	}
	ctx.Observer.Printf("[%s] Upgrade plan: %s (%d hop(s))", phase, plan, len(plan.Hops))

	members := ctx.Nodes.Topology().Ordered()
	for _, hop := range plan.Hops {
		ctx.Report.Plan(hopGroup(hop), members)
	}
	return nil
}

// currentVersion returns the override or asks the first control plane.
func (p *Provisioner) currentVersion(ctx *provisioning.Context) (*semver.Version, error) {
	if p.opts.FromVersion != "" {
		return ParseVersion(p.opts.FromVersion)
	}
	cp1 := ctx.Nodes.Topology().FirstControlPlane()
	out, err := p.query(ctx, cp1, "version")
	if err != nil {
		return nil, fmt.Errorf("failed to read the current version from %s: %w", cp1.Host(), err)
	}
	v, err := ParseVersion(lastLine(out))
	if err != nil {
		return nil, fmt.Errorf("failed to read the current version from %s: %w", cp1.Host(), err)
	}
	ctx.Observer.Printf("[%s] %s runs Kubernetes %s", phase, cp1.Host(), v)
	return v, nil
}

func hopGroup(v *semver.Version) string {
	return "v" + v.String()
}

// query runs a read-only bundle subcommand on addr and returns its log.
func (p *Provisioner) query(ctx *provisioning.Context, addr node.Address, sub string) (string, error) {
	cmd, err := ctx.BundleCommand(addr, sub)
	if err != nil {
		return "", err
	}
	r, err := ctx.Nodes.Runner(addr)
	if err != nil {
		return "", err
	}
	res, err := ctx.Jobs.Submit(ctx, r, cmd, sub)
	if err != nil {
		return "", err
	}
	return res.Log, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
