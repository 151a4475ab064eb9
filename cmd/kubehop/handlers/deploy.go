package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/imamik/kubehop/internal/config"
	"github.com/imamik/kubehop/internal/k8s"
	"github.com/imamik/kubehop/internal/provisioning/deploy"
)

// DeployOptions contains options for the deploy command.
type DeployOptions struct {
	CommonOptions

	HAVIP             string
	HAInterface       string
	CRI               string
	KubernetesVersion string
	PodCIDR           string
	WorkerParallelism int
	KubeconfigOut     string
	WaitReady         bool
}

// Deploy handles the deploy command.
//
// It validates the configuration, opens a session to every node and runs
// the deploy provisioner. The report is printed whatever the outcome.
func Deploy(ctx context.Context, opts DeployOptions) error {
	log, flush, err := newLogger(opts.CommonOptions)
	if err != nil {
		return err
	}
	defer flush()

	cfg, err := loadConfig(opts.CommonOptions, func(cfg *config.Config) {
		setString(&cfg.HA.VIP, opts.HAVIP)
		setString(&cfg.HA.Interface, opts.HAInterface)
		setString(&cfg.Kubernetes.CRI, opts.CRI)
		setString(&cfg.Kubernetes.Version, opts.KubernetesVersion)
		setString(&cfg.Kubernetes.PodCIDR, opts.PodCIDR)
	})
	if err != nil {
		return err
	}
	if err := cfg.ValidateDeploy(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	r := newRunner(opts.CommonOptions, cfg, log)
	popts := deploy.ProvisionerOptions{
		WorkerParallelism: opts.WorkerParallelism,
		KubeconfigOut:     opts.KubeconfigOut,
		Store:             r.store,
		Log:               log.WithName("deploy"),
	}
	if opts.WaitReady {
		waitLog := log.WithName("k8s")
		popts.WaitReady = func(ctx context.Context, kubeconfig []byte, expected int, timeout time.Duration) error {
			return k8s.WaitReady(ctx, waitLog, kubeconfig, expected, timeout)
		}
	}

	if err := r.run(ctx, "Deploy report", deploy.NewProvisioner(popts)); err != nil {
		return fmt.Errorf("deploy failed: %w", err)
	}
	return nil
}
