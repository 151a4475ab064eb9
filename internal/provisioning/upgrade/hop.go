package upgrade

import (
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/imamik/kubehop/internal/node"
	"github.com/imamik/kubehop/internal/provisioning"
)

// hopRunner upgrades every node to one version.
type hopRunner struct {
	p            *Provisioner
	index, total int
	from, to     *semver.Version
}

func (h *hopRunner) group() string {
	return hopGroup(h.to)
}

func (h *hopRunner) run(ctx *provisioning.Context) error {
	ctx.Observer.Printf("[%s] Hop %d/%d: %s -> %s", phase, h.index, h.total, h.from, h.to)
	members := ctx.Nodes.Topology().Ordered()
	for i, m := range members {
		if err := h.upgradeNode(ctx, m); err != nil {
			return err
		}
		ctx.Observer.Progress(h.group(), i+1, len(members))
	}
	return nil
}

// upgradeNode runs the upgrade steps on one node. Nothing is changed until
// the role and the previous version are known; a failure after that point
// triggers a rollback to the previous version.
func (h *hopRunner) upgradeNode(ctx *provisioning.Context, m node.Member) error {
	host := m.Address.Host()
	first := m.Role == node.RoleFirstControlPlane
	drain := !first && !h.p.opts.SkipDrain
	version := h.to.String()
	start := time.Now()

	if ctx.DryRun {
		return h.dryRun(ctx, m, drain)
	}

	role, err := h.step(ctx, m.Address, host, "role")
	if err != nil {
		return h.fail(ctx, host, "role", err)
	}
	detected := lastLine(role)
	if first && detected != detectedControlPlane {
		return h.fail(ctx, host, "role", fmt.Errorf("no kube-apiserver manifest on %s, cannot run upgrade apply there", host))
	}
	switch {
	case detected == detectedControlPlane && m.Role == node.RoleWorker:
		ctx.Observer.Printf("[%s] %s is listed as a worker but runs a control plane", phase, host)
	case detected == detectedWorker && m.Role.IsControlPlane():
		ctx.Observer.Printf("[%s] %s is listed as a control plane but has no kube-apiserver manifest", phase, host)
	}

	out, err := h.step(ctx, m.Address, host, "version")
	if err != nil {
		return h.fail(ctx, host, "version", err)
	}
	prev, err := ParseVersion(lastLine(out))
	if err != nil {
		return h.fail(ctx, host, "version", err)
	}
	ctx.Observer.Printf("[%s] %s runs %s (role %s)", phase, host, prev, detected)

	var nodeName string
	if drain {
		if nodeName, err = h.nodeName(ctx, m.Address); err != nil {
			return h.fail(ctx, host, "hostname", err)
		}
		if _, err := h.step(ctx, ctx.Nodes.Topology().FirstControlPlane(), host, "drain", "--node", nodeName); err != nil {
			return h.rollback(ctx, m, prev, "drain", err)
		}
	}

	upgrade := "upgrade-node"
	if first {
		upgrade = "upgrade-apply"
	}
	if _, err := h.step(ctx, m.Address, host, upgrade, "--version", version); err != nil {
		return h.rollback(ctx, m, prev, upgrade, err)
	}
	if _, err := h.step(ctx, m.Address, host, "upgrade-packages", "--version", version); err != nil {
		return h.rollback(ctx, m, prev, "upgrade-packages", err)
	}
	if drain {
		if _, err := h.step(ctx, ctx.Nodes.Topology().FirstControlPlane(), host, "uncordon", "--node", nodeName); err != nil {
			return h.fail(ctx, host, "uncordon", err)
		}
	}

	provisioning.LogNodeSucceeded(ctx.Observer, phase, host, time.Since(start))
	ctx.Report.Succeeded(h.group(), host)
	return nil
}

func (h *hopRunner) dryRun(ctx *provisioning.Context, m node.Member, drain bool) error {
	host := m.Address.Host()
	cp1 := ctx.Nodes.Topology().FirstControlPlane()
	version := h.to.String()

	type planned struct {
		on   node.Address
		sub  string
		args []string
	}
	steps := []planned{{on: m.Address, sub: "role"}, {on: m.Address, sub: "version"}}
	if drain {
		steps = append(steps, planned{on: cp1, sub: "drain", args: []string{"--node", "<node-name>"}})
	}
	if m.Role == node.RoleFirstControlPlane {
		steps = append(steps, planned{on: m.Address, sub: "upgrade-apply", args: []string{"--version", version}})
	} else {
		steps = append(steps, planned{on: m.Address, sub: "upgrade-node", args: []string{"--version", version}})
	}
	steps = append(steps, planned{on: m.Address, sub: "upgrade-packages", args: []string{"--version", version}})
	if drain {
		steps = append(steps, planned{on: cp1, sub: "uncordon", args: []string{"--node", "<node-name>"}})
	}

	for _, s := range steps {
		cmd, err := ctx.BundleCommand(s.on, s.sub, s.args...)
		if err != nil {
			return err
		}
		action := cmd
		if s.on.Key() != m.Address.Key() {
			action = fmt.Sprintf("%s (on %s)", cmd, s.on.Host())
		}
		provisioning.LogDryRun(ctx.Observer, phase, host, action)
	}
	return nil
}

// step runs a bundle subcommand on addr as a job, reported against host.
func (h *hopRunner) step(ctx *provisioning.Context, addr node.Address, host, sub string, args ...string) (string, error) {
	cmd, err := ctx.BundleCommand(addr, sub, args...)
	if err != nil {
		return "", err
	}
	ctx.Report.Start(h.group(), host, sub)
	provisioning.LogNodeStep(ctx.Observer, phase, host, sub)

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

// nodeName returns the name kubeadm registered the node under.
func (h *hopRunner) nodeName(ctx *provisioning.Context, addr node.Address) (string, error) {
	r, err := ctx.Nodes.Runner(addr)
	if err != nil {
		return "", err
	}
	res, err := r.Run(ctx, "hostname")
	if err != nil {
		return "", err
	}
	name := strings.ToLower(strings.TrimSpace(res.Stdout))
	if !res.Success() || name == "" {
		return "", fmt.Errorf("hostname exited with code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return name, nil
}

// rollback reinstalls prev's packages on the failed node, best-effort, and
// returns the original failure.
func (h *hopRunner) rollback(ctx *provisioning.Context, m node.Member, prev *semver.Version, step string, cause error) error {
	host := m.Address.Host()
	err := h.fail(ctx, host, step, cause)

	ctx.Observer.Printf("[%s] Rolling back %s to %s", phase, host, prev)
	cmd, cerr := ctx.BundleCommand(m.Address, "rollback", "--version", prev.String())
	if cerr != nil {
		ctx.Observer.Printf("[%s] Rollback of %s skipped: %v", phase, host, cerr)
		return err
	}
	r, rerr := ctx.Nodes.Runner(m.Address)
	if rerr != nil {
		ctx.Observer.Printf("[%s] Rollback of %s skipped: %v", phase, host, rerr)
		return err
	}
	if _, rerr := ctx.Jobs.Submit(ctx, r, cmd, "rollback"); rerr != nil {
		provisioning.LogNodeFailed(ctx.Observer, phase, host, "rollback", rerr)
		return err
	}
	ctx.Observer.Printf("[%s] Rolled back %s to %s; the node may still be cordoned", phase, host, prev)
	return err
}

func (h *hopRunner) fail(ctx *provisioning.Context, host, step string, err error) error {
	provisioning.LogNodeFailed(ctx.Observer, phase, host, step, err)
	ctx.Report.Failed(h.group(), host, err)
	return fmt.Errorf("%s on %s: %w", step, host, err)
}
