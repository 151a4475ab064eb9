// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument parsing,
// flag binding, and validation. Command execution is delegated to handler
// functions in the handlers package.
package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variable of every flag.
const EnvPrefix = "KUBEHOP"

// Root returns the root command for the kubehop CLI.
//
// Every flag of the executed command can also be set through the
// environment: --ssh-user reads KUBEHOP_SSH_USER. Flags given on the command
// line win.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kubehop",
		Short: "Deploy and upgrade kubeadm clusters over SSH",
		Long: `kubehop turns a list of SSH-reachable Linux machines into a kubeadm
Kubernetes cluster, and rolls existing clusters forward one minor version
at a time.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindEnv(cmd.Flags())
		},
	}

	cmd.AddCommand(Deploy())
	cmd.AddCommand(Upgrade())
	cmd.AddCommand(Bundle())
	cmd.AddCommand(Version())
	cmd.AddCommand(Completion())

	return cmd
}

// bindEnv fills every flag not set on the command line from its
// KUBEHOP_* environment variable.
func bindEnv(flags *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	var errs []string
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		val := v.GetString(f.Name)
		if val == "" || val == f.DefValue {
			return
		}
		if err := flags.Set(f.Name, val); err != nil {
			errs = append(errs, fmt.Sprintf("%s_%s: %v", EnvPrefix, envName(f.Name), err))
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

func envName(flag string) string {
	return strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}
