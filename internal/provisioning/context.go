package provisioning

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/imamik/kubehop/internal/bundle"
	"github.com/imamik/kubehop/internal/cleanup"
	"github.com/imamik/kubehop/internal/config"
	"github.com/imamik/kubehop/internal/metrics"
	"github.com/imamik/kubehop/internal/node"
	"github.com/imamik/kubehop/internal/remote"
	"github.com/imamik/kubehop/internal/session"
)

// Nodes is the preflighted node set of a run. *session.Session provides
// one through FromSession.
type Nodes interface {
	Topology() node.Topology
	Families() []bundle.Family
	Cleanup() *cleanup.Stack
	Runner(addr node.Address) (remote.Runner, error)
}

// Jobs runs detached remote jobs. *remote.Engine implements it.
type Jobs interface {
	Start(ctx context.Context, r remote.Runner, command, description string) *remote.Future
	Submit(ctx context.Context, r remote.Runner, command, description string) (remote.Result, error)
}

// State holds the shared results of provisioning phases.
// It is progressively populated as each phase completes and is passed
// to subsequent phases that need earlier results.
type State struct {
	// BundlePaths maps a node key to the uploaded bundle on that node.
	BundlePaths map[string]string
	// Kubeconfig is the admin kubeconfig fetched from the first control plane.
	Kubeconfig []byte
}

// NewState creates an empty provisioning state.
func NewState() *State {
	return &State{BundlePaths: make(map[string]string)}
}

// Context wraps all dependencies and state needed for a provisioning phase.
type Context struct {
	context.Context
	Config   *config.Config
	Timeouts *config.Timeouts
	Nodes    Nodes
	Jobs     Jobs
	State    *State
	Observer Observer
	Metrics  *metrics.Metrics
	Report   *Report

	// DryRun makes phases describe their actions instead of running them.
	DryRun bool
}

// NewContext creates a provisioning context with a fresh state and a
// logr-backed observer.
func NewContext(ctx context.Context, cfg *config.Config, nodes Nodes, jobs Jobs, log logr.Logger) *Context {
	return &Context{
		Context:  ctx,
		Config:   cfg,
		Timeouts: config.LoadTimeouts(),
		Nodes:    nodes,
		Jobs:     jobs,
		State:    NewState(),
		Observer: NewLogObserver(log),
	}
}

// FromSession adapts a session to Nodes.
func FromSession(s *session.Session) Nodes {
	return sessionNodes{s}
}

type sessionNodes struct {
	*session.Session
}

func (s sessionNodes) Runner(addr node.Address) (remote.Runner, error) {
	r, err := s.Session.Runner(addr)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// BundleCommand returns the command line running subcommand of the bundle
// uploaded to addr.
func (c *Context) BundleCommand(addr node.Address, subcommand string, args ...string) (string, error) {
	p, ok := c.State.BundlePaths[addr.Key()]
	if !ok {
		return "", fmt.Errorf("no bundle uploaded to %s", addr.Host())
	}
	return bundle.Command(p, subcommand, args...), nil
}
