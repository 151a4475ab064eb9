package handlers

import (
	"fmt"

	"github.com/imamik/kubehop/internal/bundle"
)

// BundleOptions contains options for the bundle command.
type BundleOptions struct {
	Output      string
	Subcommands []string
	Families    []string
}

// Bundle writes a standalone bundle, the same artifact deploy and upgrade
// upload to each node.
func Bundle(opts BundleOptions) error {
	subs := opts.Subcommands
	if len(subs) == 0 {
		subs = bundle.Subcommands()
	}
	families := bundle.Families
	if len(opts.Families) > 0 {
		families = make([]bundle.Family, 0, len(opts.Families))
		for _, s := range opts.Families {
			f, err := bundle.ParseFamily(s)
			if err != nil {
				return err
			}
			families = append(families, f)
		}
	}

	b, err := bundle.NewBuilder(nil).Build(subs, families)
	if err != nil {
		return fmt.Errorf("failed to build bundle: %w", err)
	}
	if err := b.WriteFile(opts.Output); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(stdout, "Wrote %s (%d modules, sha256 %s)\n", opts.Output, len(b.Modules), b.ShortChecksum())
	return nil
}
