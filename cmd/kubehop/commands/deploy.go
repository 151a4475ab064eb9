package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/kubehop/cmd/kubehop/handlers"
)

// Deploy returns the command that bootstraps a new cluster.
//
// Nodes come from --control-planes and --workers or from the configuration
// file. With more than one control plane a virtual IP (--ha-vip) is
// required; it fronts the API servers through kube-vip.
func Deploy() *cobra.Command {
	var opts handlers.DeployOptions

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Bootstrap a Kubernetes cluster on the given nodes",
		Long: `Bootstrap a kubeadm cluster on SSH-reachable machines.

The deployment:
1. Checks every node is reachable and has root access
2. Uploads a self-contained bundle to each node
3. Prepares and initializes the first control plane
4. Joins the remaining control planes one at a time
5. Joins the workers

A failure stops the run. Nodes that already joined stay joined and the
final report lists what succeeded, what failed and what never ran.`,
		Example: `  kubehop deploy --control-planes 10.0.0.1 --workers 10.0.0.11,10.0.0.12
  kubehop deploy --control-planes 10.0.0.1,10.0.0.2,10.0.0.3 --ha-vip 10.0.0.100 --workers 10.0.0.11
  kubehop deploy -c cluster.yaml --kubeconfig-out s3://backups/admin.conf --wait-ready`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Deploy(cmd.Context(), opts)
		},
	}

	addCommonFlags(cmd, &opts.CommonOptions)
	f := cmd.Flags()
	f.StringVar(&opts.HAVIP, "ha-vip", "", "Virtual IP fronting the control planes")
	f.StringVar(&opts.HAInterface, "ha-interface", "", "Interface carrying the virtual IP (default eth0)")
	f.StringVar(&opts.CRI, "cri", "", "Container runtime: containerd or crio (default containerd)")
	f.StringVar(&opts.KubernetesVersion, "kubernetes-version", "", "Kubernetes version to install (default latest packaged)")
	f.StringVar(&opts.PodCIDR, "pod-cidr", "", "Pod network CIDR (default 10.244.0.0/16)")
	f.IntVar(&opts.WorkerParallelism, "worker-parallelism", 1, "Workers joined at the same time")
	f.StringVar(&opts.KubeconfigOut, "kubeconfig-out", "", "Write the admin kubeconfig here (path or s3:// URI)")
	f.BoolVar(&opts.WaitReady, "wait-ready", false, "Wait until every node reports Ready")

	return cmd
}
