package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/kubehop/cmd/kubehop/handlers"
)

// Upgrade returns the command for upgrading Kubernetes on a running cluster.
//
// Required flags:
//
//	--to-version: Kubernetes version the cluster ends on
//
// Optional flags:
//
//	--from-version: Skip reading the running version from the first control plane
//	--skip-drain: Upgrade nodes without draining them
//	--release-map: Pin intermediate releases, e.g. 1.31=1.31.9
func Upgrade() *cobra.Command {
	var opts handlers.UpgradeOptions

	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade Kubernetes one minor version at a time",
		Long: `Upgrade a kubeadm cluster to a newer Kubernetes version.

The upgrade process:
1. Reads the running version from the first control plane
2. Plans one hop per minor version, each on that minor's latest patch
3. Upgrades the first control plane with kubeadm upgrade apply
4. Upgrades every other node with kubeadm upgrade node, draining it first
5. Upgrades kubelet and kubectl on every node

A failing node gets its previous packages back and the plan stops there.
Use --dry-run together with --from-version to see the plan.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Upgrade(cmd.Context(), opts)
		},
	}

	addCommonFlags(cmd, &opts.CommonOptions)
	f := cmd.Flags()
	f.StringVar(&opts.ToVersion, "to-version", "", "Target Kubernetes version")
	f.StringVar(&opts.FromVersion, "from-version", "", "Current Kubernetes version (default read from the cluster)")
	f.BoolVar(&opts.SkipDrain, "skip-drain", false, "Do not drain nodes before upgrading them")
	f.StringSliceVar(&opts.ReleaseMap, "release-map", nil, "Intermediate releases as MAJOR.MINOR=VERSION")

	// MarkFlagRequired cannot fail for flags defined on the same command
	_ = cmd.MarkFlagRequired("to-version")

	return cmd
}
