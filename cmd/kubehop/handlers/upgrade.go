package handlers

import (
	"context"
	"fmt"

	"github.com/imamik/kubehop/internal/provisioning/upgrade"
)

// UpgradeOptions contains options for the upgrade command.
type UpgradeOptions struct {
	CommonOptions

	ToVersion   string
	FromVersion string
	SkipDrain   bool
	// ReleaseMap pins intermediate releases as "1.31=1.31.9". Minors it
	// does not cover are resolved online.
	ReleaseMap []string
}

// Upgrade handles the upgrade command.
//
// It plans the hops from the running version to ToVersion and upgrades
// every node hop by hop. The report is printed whatever the outcome.
func Upgrade(ctx context.Context, opts UpgradeOptions) error {
	log, flush, err := newLogger(opts.CommonOptions)
	if err != nil {
		return err
	}
	defer flush()

	if _, err := upgrade.ParseVersion(opts.ToVersion); err != nil {
		return err
	}
	resolver, err := releaseResolver(opts.ReleaseMap)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts.CommonOptions, nil)
	if err != nil {
		return err
	}

	r := newRunner(opts.CommonOptions, cfg, log)
	p := upgrade.NewProvisioner(upgrade.ProvisionerOptions{
		TargetVersion: opts.ToVersion,
		FromVersion:   opts.FromVersion,
		SkipDrain:     opts.SkipDrain,
		Resolver:      resolver,
		Log:           log.WithName("upgrade"),
	})
	if err := r.run(ctx, "Upgrade report", p); err != nil {
		return fmt.Errorf("upgrade failed: %w", err)
	}
	return nil
}

func releaseResolver(entries []string) (upgrade.ReleaseResolver, error) {
	if len(entries) == 0 {
		return upgrade.NewHTTPResolver(), nil
	}
	static, err := upgrade.ParseReleaseMap(entries)
	if err != nil {
		return nil, err
	}
	return upgrade.ChainResolver{static, upgrade.NewHTTPResolver()}, nil
}
