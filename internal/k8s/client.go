// Package k8s provides the Kubernetes API access used after a deployment,
// such as waiting for nodes to report Ready.
package k8s

import (
	"fmt"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

// Client wraps the Kubernetes API operations kubehop needs.
type Client struct {
	clientset kubernetes.Interface
}

// NewClientFromBytes creates a new Kubernetes client from kubeconfig bytes.
func NewClientFromBytes(kubeconfigData []byte) (*Client, error) {
	config, err := clientcmd.RESTConfigFromKubeConfig(kubeconfigData)
	if err != nil {
		return nil, fmt.Errorf("failed to build kubeconfig from bytes: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return &Client{clientset: clientset}, nil
}

// NewClientFromClientset wraps an existing clientset.
func NewClientFromClientset(cs kubernetes.Interface) *Client {
	return &Client{clientset: cs}
}
