package handlers

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/imamik/kubehop/internal/bundle"
	"github.com/imamik/kubehop/internal/cleanup"
	"github.com/imamik/kubehop/internal/node"
	"github.com/imamik/kubehop/internal/remote"
)

// offlineNodes stands in for a session during dry runs. No node is ever
// contacted, so every family is assumed.
type offlineNodes struct {
	topo  node.Topology
	stack *cleanup.Stack
}

func newOfflineNodes(topo node.Topology, log logr.Logger) *offlineNodes {
	return &offlineNodes{topo: topo, stack: cleanup.NewStack(log)}
}

func (o *offlineNodes) Topology() node.Topology { return o.topo }

func (o *offlineNodes) Families() []bundle.Family { return bundle.Families }

func (o *offlineNodes) Cleanup() *cleanup.Stack { return o.stack }

func (o *offlineNodes) Runner(addr node.Address) (remote.Runner, error) {
	return nil, fmt.Errorf("dry run: %s is not contacted", addr)
}
