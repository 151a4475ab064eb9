package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/kubehop/cmd/kubehop/handlers"
)

// addCommonFlags registers the flags deploy and upgrade share.
func addCommonFlags(cmd *cobra.Command, opts *handlers.CommonOptions) {
	f := cmd.Flags()
	f.StringVarP(&opts.ConfigPath, "config", "c", "", "Path to cluster configuration file")
	f.StringSliceVar(&opts.ControlPlanes, "control-planes", nil, "Control plane nodes as [user@]host[:port], the first one initializes the cluster")
	f.StringSliceVar(&opts.Workers, "workers", nil, "Worker nodes as [user@]host[:port]")

	f.StringVar(&opts.SSHUser, "ssh-user", "", "Default SSH user (default root)")
	f.IntVar(&opts.SSHPort, "ssh-port", 0, "Default SSH port (default 22)")
	f.StringVar(&opts.SSHKey, "ssh-key", "", "Path to the SSH private key")
	f.StringVar(&opts.SSHPassword, "ssh-password", "", "SSH password (prefer --ssh-password-file)")
	f.StringVar(&opts.SSHPasswordFile, "ssh-password-file", "", "File holding the SSH password, - to prompt")
	f.StringVar(&opts.SSHKnownHosts, "ssh-known-hosts", "", "known_hosts file or s3:// URI seeding host key checks")
	f.StringVar(&opts.SSHPersistKnownHosts, "ssh-persist-known-hosts", "", "Write the session known_hosts here (path or s3:// URI) on exit")
	f.StringVar(&opts.SSHHostKeyCheck, "ssh-host-key-check", "", "Host key checking: yes, no or accept-new (default accept-new)")

	f.DurationVar(&opts.RemoteTimeout, "remote-timeout", 0, "Time budget of a single remote step (default 30m)")
	f.DurationVar(&opts.PollInterval, "poll-interval", 0, "How often remote steps are polled (default 5s)")
	f.BoolVar(&opts.KeepRemoteLogs, "keep-remote-logs", false, "Leave the work directory of timed out steps on the node")
	f.BoolVar(&opts.DryRun, "dry-run", false, "Print the planned steps without contacting any node")

	f.StringVar(&opts.LogLevel, "log-level", "info", "Log level: error, warn, info, debug or trace")
	f.StringVar(&opts.LogFormat, "log-format", "console", "Log format: console or json")
	f.StringVar(&opts.MetricsFile, "metrics-file", "", "Write Prometheus metrics of the run to this file")
	f.StringVar(&opts.LogArchive, "log-archive", "", "Archive failed step logs below this directory or s3:// prefix")

	cmd.MarkFlagsMutuallyExclusive("ssh-password", "ssh-password-file")
}
