package provisioning

import (
	"context"
	"fmt"
	"path"

	"github.com/imamik/kubehop/internal/bundle"
	"github.com/imamik/kubehop/internal/remote"
)

// dryRunBundlePath stands in for the uploaded bundle in dry-run output.
const dryRunBundlePath = "$KUBEHOP_DIR/" + bundle.RemoteName

// BundlePhase builds the bundle for the session's families and uploads it
// to a private directory on every node. The directory is removed when the
// session closes.
type BundlePhase struct {
	Builder     *bundle.Builder
	Subcommands []string
	// Group is the report group upload failures are recorded under.
	Group string
}

// Name implements the provisioning.Phase interface.
func (p *BundlePhase) Name() string { return "bundle" }

// Provision implements the provisioning.Phase interface.
func (p *BundlePhase) Provision(ctx *Context) error {
	builder := p.Builder
	if builder == nil {
		builder = bundle.NewBuilder(nil)
	}
	b, err := builder.Build(p.Subcommands, ctx.Nodes.Families())
	if err != nil {
		return fmt.Errorf("failed to build bundle: %w", err)
	}
	ctx.Observer.Printf("[bundle] built %s (%d modules, sha256 %s)", bundle.RemoteName, len(b.Modules), b.ShortChecksum())

	members := ctx.Nodes.Topology().Ordered()
	for i, m := range members {
		host := m.Address.Host()
		if ctx.DryRun {
			LogDryRun(ctx.Observer, "bundle", host, "upload "+bundle.RemoteName)
			ctx.State.BundlePaths[m.Address.Key()] = dryRunBundlePath
			continue
		}

		p.report(ctx, host, "upload bundle")
		r, err := ctx.Nodes.Runner(m.Address)
		if err != nil {
			p.fail(ctx, host, err)
			return err
		}
		dir, err := remote.MakeWorkDir(ctx, r)
		if err != nil {
			p.fail(ctx, host, err)
			return fmt.Errorf("failed to create bundle directory on %s: %w", host, err)
		}
		ctx.Nodes.Cleanup().Push(fmt.Sprintf("remove bundle dir %s on %s", dir, host), func(cctx context.Context) error {
			return remote.RemoveDir(cctx, r, dir)
		})

		target := path.Join(dir, bundle.RemoteName)
		if err := r.Upload(ctx, b.Content, target, 0o700); err != nil {
			p.fail(ctx, host, err)
			return fmt.Errorf("failed to upload bundle to %s: %w", host, err)
		}
		ctx.State.BundlePaths[m.Address.Key()] = target
		ctx.Observer.Progress("bundle", i+1, len(members))
	}
	return nil
}

func (p *BundlePhase) report(ctx *Context, host, step string) {
	if ctx.Report != nil {
		ctx.Report.Start(p.Group, host, step)
	}
}

func (p *BundlePhase) fail(ctx *Context, host string, err error) {
	LogNodeFailed(ctx.Observer, "bundle", host, "upload bundle", err)
	if ctx.Report != nil {
		ctx.Report.Failed(p.Group, host, err)
	}
}
