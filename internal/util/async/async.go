package async

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Task represents an asynchronous operation with a name and function.
type Task struct {
	Name string
	Func func(context.Context) error
}

// Outcome records what happened to one task.
type Outcome struct {
	Name    string
	Started bool
	Err     error
}

// RunParallel executes all tasks concurrently and waits for every one of them.
// Failures are joined; each is prefixed with its task name.
func RunParallel(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for _, task := range tasks {
		g.Go(func() error {
			if err := task.Func(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", task.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// RunBounded executes tasks with at most limit running at once, in slice
// order. After the first failure no further task is started; tasks already
// running keep ctx and are waited for, so their outcome is their own.
// Outcomes are returned in task order and the first failure is returned.
// limit <= 1 runs tasks strictly one after another.
func RunBounded(ctx context.Context, limit int, tasks []Task) ([]Outcome, error) {
	outcomes := make([]Outcome, len(tasks))
	for i, task := range tasks {
		outcomes[i].Name = task.Name
	}
	if len(tasks) == 0 {
		return outcomes, nil
	}

	var (
		g        errgroup.Group
		mu       sync.Mutex
		firstErr error
	)
	g.SetLimit(max(limit, 1))

	stopped := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil || ctx.Err() != nil
	}

	for i, task := range tasks {
		// Go blocks until a slot frees up, so the check at the top of the
		// task sees any failure from an earlier task.
		if stopped() {
			break
		}
		g.Go(func() error {
			mu.Lock()
			if firstErr != nil || ctx.Err() != nil {
				mu.Unlock()
				return nil
			}
			outcomes[i].Started = true
			mu.Unlock()

			err := task.Func(ctx)

			mu.Lock()
			defer mu.Unlock()
			outcomes[i].Err = err
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", task.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if firstErr != nil {
		return outcomes, firstErr
	}
	return outcomes, ctx.Err()
}

// NotStarted returns the names of tasks that never ran.
func NotStarted(outcomes []Outcome) []string {
	var names []string
	for _, o := range outcomes {
		if !o.Started {
			names = append(names, o.Name)
		}
	}
	return names
}
