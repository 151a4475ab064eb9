package deploy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/imamik/kubehop/internal/config"
	"github.com/imamik/kubehop/internal/joincred"
	"github.com/imamik/kubehop/internal/node"
	"github.com/imamik/kubehop/internal/provisioning"
	"github.com/imamik/kubehop/internal/remote"
	"github.com/imamik/kubehop/internal/util/async"
)

// Dry runs render join commands with these placeholders.
var dryRunCredential = joincred.Credential{
	Token:          "<token>",
	APIAddress:     "<endpoint>",
	DiscoveryHash:  "<discovery-hash>",
	CertificateKey: "<certificate-key>",
}

// initFirstControlPlane prepares the first control plane and runs kubeadm
// init on it. For HA the VIP is brought up first and a cleanup handler
// guarding the pre-added address stays pushed until init succeeds.
func (p *Provisioner) initFirstControlPlane(ctx *provisioning.Context) error {
	topo := ctx.Nodes.Topology()
	cp1 := node.Member{Address: topo.FirstControlPlane(), Role: node.RoleFirstControlPlane}
	host := cp1.Address.Host()
	start := time.Now()

	if err := p.prepare(ctx, ctx, cp1); err != nil {
		return err
	}

	endpoint := host
	args := []string{"--pod-cidr", ctx.Config.Kubernetes.PodCIDR}
	if v := ctx.Config.Kubernetes.Version; v != "" {
		args = append(args, "--kubernetes-version", v)
	}

	var vipGuard func()
	if p.isHA(ctx) {
		ha := ctx.Config.HA
		endpoint = ha.VIP
		args = append(args, "--upload-certs")

		release, err := p.guardVIP(ctx, cp1, ha)
		if err != nil {
			return p.fail(ctx, host, "vip-up", err)
		}
		vipGuard = release
		if _, err := p.run(ctx, ctx, cp1, "vip-up", "--vip", ha.VIP, "--interface", ha.Interface); err != nil {
			return p.fail(ctx, host, "vip-up", err)
		}
	}

	args = append([]string{"--endpoint", endpoint}, args...)
	if _, err := p.run(ctx, ctx, cp1, "init", args...); err != nil {
		return p.fail(ctx, host, "init", err)
	}
	if vipGuard != nil {
		vipGuard()
	}

	p.succeed(ctx, host, start)
	return nil
}

// guardVIP pushes the handler removing the pre-added VIP from cp1 and
// returns the function that pops it.
func (p *Provisioner) guardVIP(ctx *provisioning.Context, cp1 node.Member, ha config.HAConfig) (func(), error) {
	if ctx.DryRun {
		return func() {}, nil
	}
	host := cp1.Address.Host()
	down, err := ctx.BundleCommand(cp1.Address, "vip-down", "--vip", ha.VIP, "--interface", ha.Interface)
	if err != nil {
		return nil, err
	}
	r, err := ctx.Nodes.Runner(cp1.Address)
	if err != nil {
		return nil, err
	}

	stack := ctx.Nodes.Cleanup()
	h := stack.Push(fmt.Sprintf("remove pre-added VIP %s from %s on %s", ha.VIP, ha.Interface, host), func(cctx context.Context) error {
		res, err := r.Run(cctx, r.Elevate(down))
		if err != nil {
			return err
		}
		if !res.Success() {
			return fmt.Errorf("vip-down exited with code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
		}
		return nil
	})
	return func() { stack.Pop(h) }, nil
}

// extractCredentials reads the join command from the first control plane,
// and the certificate key for HA.
func (p *Provisioner) extractCredentials(ctx *provisioning.Context) error {
	topo := ctx.Nodes.Topology()
	if topo.Len() == 1 {
		ctx.Observer.Printf("[%s] Single node cluster, no join credentials needed", phase)
		return nil
	}
	ha := p.isHA(ctx)
	cp1 := topo.FirstControlPlane()
	host := cp1.Host()

	if ctx.DryRun {
		provisioning.LogDryRun(ctx.Observer, phase, host, "print-join")
		if ha {
			provisioning.LogDryRun(ctx.Observer, phase, host, "upload-certs")
		}
		p.setCredential(dryRunCredential)
		return nil
	}

	printJoin, err := ctx.BundleCommand(cp1, "print-join")
	if err != nil {
		return err
	}
	uploadCerts, err := ctx.BundleCommand(cp1, "upload-certs")
	if err != nil {
		return err
	}
	r, err := ctx.Nodes.Runner(cp1)
	if err != nil {
		return err
	}

	ctx.Report.Start("", host, "extract join credentials")
	extractor := &joincred.Extractor{
		Jobs:               ctx.Jobs,
		Runner:             r,
		Parser:             p.opts.Parser,
		PrintJoinCommand:   printJoin,
		UploadCertsCommand: uploadCerts,
		Attempts:           ctx.Timeouts.JoinRetryAttempt,
		Delay:              ctx.Timeouts.JoinRetryDelay,
		Log:                p.opts.Log,
	}
	cred, err := extractor.Extract(ctx, ha)
	if err != nil {
		return p.fail(ctx, host, "extract join credentials", err)
	}
	p.setCredential(cred)
	ctx.Observer.Printf("[%s] Extracted join credentials: %s", phase, cred)

	if ha {
		p.transition(StateHACertsUploaded)
	}
	return nil
}

func (p *Provisioner) setCredential(c joincred.Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cred = c
}

// joinControlPlanes joins every control plane after the first, in order.
// The VIP manifest is written after the join with the pre-add skipped:
// the address already lives on the leader.
func (p *Provisioner) joinControlPlanes(ctx *provisioning.Context) error {
	topo := ctx.Nodes.Topology()
	cred := p.credential()

	for _, m := range topo.Ordered() {
		if m.Role != node.RoleAdditionalControlPlane {
			continue
		}
		host := m.Address.Host()
		start := time.Now()

		if err := p.prepare(ctx, ctx, m); err != nil {
			return err
		}
		args := append(joinArgs(cred), "--control-plane", "--certificate-key", cred.CertificateKey)
		if _, err := p.run(ctx, ctx, m, "join", args...); err != nil {
			return p.fail(ctx, host, "join", err)
		}
		if p.isHA(ctx) {
			ha := ctx.Config.HA
			if _, err := p.run(ctx, ctx, m, "vip-up", "--vip", ha.VIP, "--interface", ha.Interface, "--no-preadd"); err != nil {
				return p.fail(ctx, host, "vip-up", err)
			}
		}
		p.succeed(ctx, host, start)
	}
	return nil
}

// joinWorkers joins the workers. With parallelism above one, up to that
// many workers are joined at once; no new worker starts after a failure.
func (p *Provisioner) joinWorkers(ctx *provisioning.Context) error {
	topo := ctx.Nodes.Topology()
	if len(topo.Workers) == 0 {
		return nil
	}
	cred := p.credential()

	tasks := make([]async.Task, 0, len(topo.Workers))
	for _, addr := range topo.Workers {
		m := node.Member{Address: addr, Role: node.RoleWorker}
		tasks = append(tasks, async.Task{
			Name: addr.Host(),
			Func: func(cctx context.Context) error {
				start := time.Now()
				if err := p.prepare(ctx, cctx, m); err != nil {
					return err
				}
				if _, err := p.run(ctx, cctx, m, "join", joinArgs(cred)...); err != nil {
					return p.fail(ctx, m.Address.Host(), "join", err)
				}
				p.succeed(ctx, m.Address.Host(), start)
				return nil
			},
		})
	}

	limit := max(p.opts.WorkerParallelism, 1)
	if limit > 1 {
		ctx.Observer.Printf("[%s] Joining %d workers, up to %d at a time", phase, len(tasks), limit)
	}
	outcomes, err := async.RunBounded(ctx, limit, tasks)
	for _, name := range async.NotStarted(outcomes) {
		provisioning.LogNodeSkipped(ctx.Observer, phase, name, "an earlier node failed")
	}
	return err
}

func joinArgs(cred joincred.Credential) []string {
	return []string{"--address", cred.APIAddress, "--token", cred.Token, "--discovery-hash", cred.DiscoveryHash}
}

// prepare installs dependencies, the container runtime and the Kubernetes
// packages on m.
func (p *Provisioner) prepare(ctx *provisioning.Context, cctx context.Context, m node.Member) error {
	args := []string{"--cri", ctx.Config.Kubernetes.CRI}
	if v := ctx.Config.Kubernetes.Version; v != "" {
		args = append(args, "--kubernetes-version", v)
	}
	if _, err := p.run(ctx, cctx, m, "prepare", args...); err != nil {
		return p.fail(ctx, m.Address.Host(), "prepare", err)
	}
	return nil
}

// run executes one bundle subcommand on m as a detached job. In a dry run
// the command is only logged.
func (p *Provisioner) run(ctx *provisioning.Context, cctx context.Context, m node.Member, sub string, args ...string) (remote.Result, error) {
	host := m.Address.Host()
	cmd, err := ctx.BundleCommand(m.Address, sub, args...)
	if err != nil {
		return remote.Result{}, err
	}
	ctx.Report.Start("", host, sub)

	if ctx.DryRun {
		provisioning.LogDryRun(ctx.Observer, phase, host, cmd)
		return remote.Result{Host: host, Description: sub, Status: remote.StatusCompleted}, nil
	}

	provisioning.LogNodeStep(ctx.Observer, phase, host, sub)
	r, err := ctx.Nodes.Runner(m.Address)
	if err != nil {
		return remote.Result{}, err
	}
	return ctx.Jobs.Submit(cctx, r, cmd, sub)
}

func (p *Provisioner) fail(ctx *provisioning.Context, host, step string, err error) error {
	provisioning.LogNodeFailed(ctx.Observer, phase, host, step, err)
	ctx.Report.Failed("", host, err)
	return fmt.Errorf("%s on %s: %w", step, host, err)
}

func (p *Provisioner) succeed(ctx *provisioning.Context, host string, start time.Time) {
	if ctx.DryRun {
		return
	}
	provisioning.LogNodeSucceeded(ctx.Observer, phase, host, time.Since(start))
	ctx.Report.Succeeded("", host)
}
