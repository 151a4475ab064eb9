package k8s

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
)

// DefaultNodePollInterval is how often node status is checked.
const DefaultNodePollInterval = 10 * time.Second

// NodeWaiter waits for a cluster's nodes to become Ready.
type NodeWaiter struct {
	Client   *Client
	Interval time.Duration
	Log      logr.Logger
}

// WaitForNodesReady waits until at least expected nodes are registered and
// every registered node is Ready. API errors are treated as not ready yet:
// the API server may still be settling right after the last join.
func (w *NodeWaiter) WaitForNodesReady(ctx context.Context, expected int, timeout time.Duration) error {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultNodePollInterval
	}

	var notReady []string
	var registered int
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		nodes, err := w.Client.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
		if err != nil {
			w.Log.V(1).Info("listing nodes failed, retrying", "error", err.Error())
			return false, nil
		}

		registered = len(nodes.Items)
		notReady = notReady[:0]
		for i := range nodes.Items {
			if !IsNodeReady(&nodes.Items[i]) {
				notReady = append(notReady, nodes.Items[i].Name)
			}
		}
		sort.Strings(notReady)

		if registered < expected || len(notReady) > 0 {
			w.Log.Info("waiting for nodes", "registered", registered, "expected", expected, "notReady", notReady)
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("nodes not ready (%d/%d registered, not ready: %v): %w", registered, expected, notReady, err)
	}
	return nil
}

// IsNodeReady checks if a node reports the Ready condition.
func IsNodeReady(n *corev1.Node) bool {
	for _, condition := range n.Status.Conditions {
		if condition.Type == corev1.NodeReady {
			return condition.Status == corev1.ConditionTrue
		}
	}
	return false
}

// WaitReady builds a client from kubeconfig and waits for expected nodes
// to become Ready.
func WaitReady(ctx context.Context, log logr.Logger, kubeconfig []byte, expected int, timeout time.Duration) error {
	client, err := NewClientFromBytes(kubeconfig)
	if err != nil {
		return err
	}
	w := &NodeWaiter{Client: client, Log: log}
	return w.WaitForNodesReady(ctx, expected, timeout)
}
