package provisioning

import (
	"fmt"
	"time"
)

// RunPhases executes all provisioning phases sequentially. The first
// failing phase stops the run.
func RunPhases(ctx *Context, phases []Phase) error {
	start := time.Now()
	ctx.Observer.Printf("Starting provisioning with %d phases...", len(phases))

	for i, phase := range phases {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s phase not started: %w", phase.Name(), err)
		}

		phaseStart := time.Now()
		name := fmt.Sprintf("%s (%d/%d)", phase.Name(), i+1, len(phases))

		ctx.Observer.Printf("[%s] starting", name)

		err := phase.Provision(ctx)
		ctx.Metrics.ObservePhase(phase.Name(), err, time.Since(phaseStart))
		if err != nil {
			LogPhaseFailed(ctx.Observer, name, err)
			return fmt.Errorf("%s phase failed: %w", phase.Name(), err)
		}

		ctx.Observer.Printf("[%s] completed in %v", name, time.Since(phaseStart).Round(time.Millisecond))
	}

	ctx.Observer.Printf("Provisioning completed in %v", time.Since(start).Round(time.Millisecond))
	return nil
}
