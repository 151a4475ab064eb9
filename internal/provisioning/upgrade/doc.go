// Package upgrade moves a kubeadm cluster to a newer Kubernetes version.
//
// The planner splits the move into hops of at most one minor version. Each
// hop visits every node in topology order: the first control plane runs
// kubeadm upgrade apply, the others kubeadm upgrade node, and every node
// then upgrades kubelet and kubectl. Nodes other than the first control
// plane are drained before and uncordoned after their upgrade. A failing
// node gets its previous packages reinstalled and the plan stops there.
package upgrade
