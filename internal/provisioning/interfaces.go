package provisioning

// Phase defines the interface for a provisioning phase.
type Phase interface {
	// Name returns the human-readable name of this phase.
	Name() string

	// Provision executes the provisioning logic for this phase.
	Provision(ctx *Context) error
}

// PhaseFunc adapts a function to Phase.
func PhaseFunc(name string, fn func(ctx *Context) error) Phase {
	return phaseFunc{name: name, fn: fn}
}

type phaseFunc struct {
	name string
	fn   func(ctx *Context) error
}

func (p phaseFunc) Name() string                 { return p.name }
func (p phaseFunc) Provision(ctx *Context) error { return p.fn(ctx) }
