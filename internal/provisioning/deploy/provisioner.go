// Package deploy bootstraps a kubeadm cluster over SSH: it initializes the
// first control plane, extracts the join credentials, joins the remaining
// control planes and then the workers.
package deploy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/imamik/kubehop/internal/bundle"
	"github.com/imamik/kubehop/internal/config"
	"github.com/imamik/kubehop/internal/joincred"
	"github.com/imamik/kubehop/internal/platform/s3"
	"github.com/imamik/kubehop/internal/provisioning"
)

const phase = "Deploy"

// State is a step of the deployment state machine.
type State string

// Deployment states in the order they are reached. StateHACertsUploaded is
// only visited by HA deployments; StateFailed can follow any state.
const (
	StateValidated           State = "validated"
	StateBundled             State = "bundled"
	StateFirstCPInitialized  State = "first-cp-initialized"
	StateHACertsUploaded     State = "ha-certs-uploaded"
	StateAdditionalCPsJoined State = "additional-cps-joined"
	StateWorkersJoined       State = "workers-joined"
	StateDone                State = "done"
	StateFailed              State = "failed"
)

// ReadinessWaiter blocks until expected nodes report Ready in the cluster
// reachable through kubeconfig.
type ReadinessWaiter func(ctx context.Context, kubeconfig []byte, expected int, timeout time.Duration) error

// ProvisionerOptions contains options for the deploy provisioner.
type ProvisionerOptions struct {
	Builder *bundle.Builder
	Parser  joincred.Parser

	// WorkerParallelism bounds concurrent worker joins. Values below 2 join
	// workers strictly one after another.
	WorkerParallelism int

	// KubeconfigOut receives the admin kubeconfig (path or s3:// URI).
	KubeconfigOut string
	Store         *s3.Store

	// WaitReady, when set, runs after the last join.
	WaitReady ReadinessWaiter

	Log logr.Logger
}

// Provisioner drives one deployment.
type Provisioner struct {
	opts ProvisionerOptions

	mu      sync.Mutex
	history []State
	cred    joincred.Credential
}

// NewProvisioner creates a new deploy provisioner.
func NewProvisioner(opts ProvisionerOptions) *Provisioner {
	if opts.Builder == nil {
		opts.Builder = bundle.NewBuilder(nil)
	}
	if opts.Parser == nil {
		opts.Parser = joincred.DefaultParser{}
	}
	if opts.Store == nil {
		opts.Store = s3.NewStore(s3.Options{})
	}
	return &Provisioner{opts: opts}
}

// Name implements the provisioning.Phase interface.
func (p *Provisioner) Name() string {
	return phase
}

// Provision performs the deployment.
//
// The deployment happens in phases:
// 1. Build the bundle and upload it to every node
// 2. Prepare and initialize the first control plane (behind the VIP for HA)
// 3. Extract the join command and, for HA, the certificate key
// 4. Join the remaining control planes in order
// 5. Join the workers, in order or with bounded parallelism
// 6. Optionally fetch the kubeconfig and wait for all nodes to be Ready
//
// The first failure aborts everything after it. Nodes already joined are
// left as they are.
func (p *Provisioner) Provision(ctx *provisioning.Context) error {
	if ctx.Timeouts == nil {
		ctx.Timeouts = config.LoadTimeouts()
	}
	if ctx.Report == nil {
		ctx.Report = provisioning.NewReport("Deploy report")
	}
	topo := ctx.Nodes.Topology()
	ctx.Report.Plan("", topo.Ordered())
	if topo.IsHA() && !ctx.Config.HA.Enabled() {
		p.transition(StateFailed)
		return fmt.Errorf("%d control planes require a virtual IP", len(topo.ControlPlanes))
	}
	p.transition(StateValidated)

	ctx.Observer.Printf("[%s] Deploying %d control plane(s) and %d worker(s), HA: %v",
		phase, len(topo.ControlPlanes), len(topo.Workers), p.isHA(ctx))
	if ctx.Config.HA.Enabled() && !topo.IsHA() {
		ctx.Observer.Printf("[%s] Ignoring VIP %s: a single control plane needs no failover", phase, ctx.Config.HA.VIP)
	}
	if ctx.DryRun {
		ctx.Observer.Printf("[%s] [DRY RUN] No node will be changed", phase)
	}

	if err := provisioning.RunPhases(ctx, p.phases(ctx)); err != nil {
		p.transition(StateFailed)
		return err
	}
	p.transition(StateDone)
	ctx.Observer.Printf("[%s] Cluster deployed successfully", phase)
	return nil
}

// States returns every state reached so far, in order.
func (p *Provisioner) States() []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]State(nil), p.history...)
}

// State returns the current state.
func (p *Provisioner) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.history) == 0 {
		return ""
	}
	return p.history[len(p.history)-1]
}

func (p *Provisioner) transition(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, s)
}

// phases returns the deployment phases, each moving the state machine on
// success.
func (p *Provisioner) phases(ctx *provisioning.Context) []provisioning.Phase {
	bundlePhase := &provisioning.BundlePhase{Builder: p.opts.Builder, Subcommands: []string{"deploy"}}
	phases := []provisioning.Phase{
		p.step(bundlePhase.Name(), bundlePhase.Provision, StateBundled),
		p.step("first-control-plane", p.initFirstControlPlane, StateFirstCPInitialized),
		p.step("join-credentials", p.extractCredentials, ""),
		p.step("control-planes", p.joinControlPlanes, StateAdditionalCPsJoined),
		p.step("workers", p.joinWorkers, StateWorkersJoined),
	}
	if p.opts.KubeconfigOut != "" || p.opts.WaitReady != nil {
		phases = append(phases, provisioning.PhaseFunc("kubeconfig", p.fetchKubeconfig))
	}
	if p.opts.WaitReady != nil {
		phases = append(phases, provisioning.PhaseFunc("wait-ready", p.waitReady))
	}
	return phases
}

func (p *Provisioner) step(name string, fn func(*provisioning.Context) error, next State) provisioning.Phase {
	return provisioning.PhaseFunc(name, func(ctx *provisioning.Context) error {
		if err := fn(ctx); err != nil {
			return err
		}
		if next != "" {
			p.transition(next)
		}
		return nil
	})
}

func (p *Provisioner) isHA(ctx *provisioning.Context) bool {
	return ctx.Config.HA.Enabled() && ctx.Nodes.Topology().IsHA()
}

func (p *Provisioner) credential() joincred.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cred
}
