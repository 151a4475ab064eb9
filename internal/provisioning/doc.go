// Package provisioning provides shared types, interfaces, and orchestration for cluster provisioning.
//
// # Subpackages
//
//   - deploy/: first control plane init, control plane and worker joins, HA virtual IP
//   - upgrade/: multi-hop Kubernetes version upgrades with per-node rollback
//
// # Core Types
//
// Context carries configuration, timeouts, the preflighted node set, the
// remote job runner, state, observer, metrics and the run report.
// Phase defines a provisioning step with Name() and Provision() methods.
// State accumulates results from each phase (uploaded bundle paths, kubeconfig).
// Report lists every node as succeeded, failed or not attempted.
package provisioning
