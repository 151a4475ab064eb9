package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/imamik/kubehop/cmd/kubehop/handlers"
	"github.com/imamik/kubehop/internal/bundle"
)

// Bundle returns the command that writes the node bundle to a file.
func Bundle() *cobra.Command {
	var opts handlers.BundleOptions

	families := make([]string, 0, len(bundle.Families))
	for _, f := range bundle.Families {
		families = append(families, string(f))
	}

	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Write the self-contained node script",
		Long: `Write the script kubehop uploads to every node. It runs without kubehop:

  bash kubehop.sh prepare --cri containerd
  bash kubehop.sh print-join`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return handlers.Bundle(opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Output, "output", "o", "", "Output file")
	f.StringSliceVar(&opts.Subcommands, "subcommand", nil, "Module sets to include: "+strings.Join(bundle.Subcommands(), ", ")+" (default all)")
	f.StringSliceVar(&opts.Families, "family", nil, "Distribution families to include: "+strings.Join(families, ", ")+" (default all)")

	// MarkFlagRequired cannot fail for flags defined on the same command
	_ = cmd.MarkFlagRequired("output")

	return cmd
}
