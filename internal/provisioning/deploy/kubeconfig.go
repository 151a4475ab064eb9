package deploy

import (
	"fmt"
	"strings"

	"al.essio.dev/pkg/shellescape"

	"github.com/imamik/kubehop/internal/provisioning"
)

// AdminKubeconfigPath is where kubeadm init writes the admin kubeconfig.
const AdminKubeconfigPath = "/etc/kubernetes/admin.conf"

// fetchKubeconfig reads the admin kubeconfig from the first control plane
// and writes it to KubeconfigOut when configured.
func (p *Provisioner) fetchKubeconfig(ctx *provisioning.Context) error {
	cp1 := ctx.Nodes.Topology().FirstControlPlane()
	host := cp1.Host()

	if ctx.DryRun {
		provisioning.LogDryRun(ctx.Observer, phase, host, "cat "+AdminKubeconfigPath)
		return nil
	}

	r, err := ctx.Nodes.Runner(cp1)
	if err != nil {
		return err
	}
	res, err := r.Run(ctx, r.Elevate("cat "+shellescape.Quote(AdminKubeconfigPath)))
	if err != nil {
		return fmt.Errorf("failed to read kubeconfig from %s: %w", host, err)
	}
	if !res.Success() {
		return fmt.Errorf("failed to read kubeconfig from %s: exit code %d: %s", host, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	ctx.State.Kubeconfig = []byte(res.Stdout)

	if p.opts.KubeconfigOut == "" {
		return nil
	}
	if err := p.opts.Store.Write(ctx, p.opts.KubeconfigOut, ctx.State.Kubeconfig, 0o600); err != nil {
		return fmt.Errorf("failed to write kubeconfig: %w", err)
	}
	ctx.Observer.Printf("[%s] Kubeconfig written to %s", phase, p.opts.KubeconfigOut)
	return nil
}

// waitReady blocks until every node of the topology is Ready.
func (p *Provisioner) waitReady(ctx *provisioning.Context) error {
	expected := ctx.Nodes.Topology().Len()
	if ctx.DryRun {
		ctx.Observer.Printf("[%s] [DRY RUN] Would wait for %d nodes to become Ready", phase, expected)
		return nil
	}
	ctx.Observer.Printf("[%s] Waiting for %d nodes to become Ready (timeout %v)", phase, expected, ctx.Timeouts.NodeReady)
	if err := p.opts.WaitReady(ctx, ctx.State.Kubeconfig, expected, ctx.Timeouts.NodeReady); err != nil {
		return err
	}
	ctx.Observer.Printf("[%s] All %d nodes are Ready", phase, expected)
	return nil
}
