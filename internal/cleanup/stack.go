// Package cleanup provides the LIFO stack of remediation handlers guarding
// risky remote actions.
//
// A handler is pushed immediately before the action it guards and popped as
// soon as the action succeeds. Whatever is still on the stack when the
// session closes runs in reverse registration order.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

// Func remediates one action.
type Func func(ctx context.Context) error

// Handle identifies a pushed handler.
type Handle uint64

type handler struct {
	id          Handle
	description string
	fn          Func
}

// Stack is safe for concurrent use.
type Stack struct {
	log logr.Logger

	mu       sync.Mutex
	next     Handle
	handlers []handler
}

// NewStack returns an empty stack.
func NewStack(log logr.Logger) *Stack {
	return &Stack{log: log}
}

// Push registers fn and returns the handle to pop it with.
func (s *Stack) Push(description string, fn Func) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	s.handlers = append(s.handlers, handler{id: s.next, description: description, fn: fn})
	s.log.V(1).Info("cleanup registered", "handler", description)
	return s.next
}

// Pop removes the handler without running it. Popping an unknown or
// already-popped handle is a no-op.
func (s *Stack) Pop(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.handlers) - 1; i >= 0; i-- {
		if s.handlers[i].id == h {
			s.log.V(1).Info("cleanup released", "handler", s.handlers[i].description)
			s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
			return
		}
	}
}

// Len returns the number of outstanding handlers.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// Descriptions returns the outstanding handlers, most recent first.
func (s *Stack) Descriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.handlers))
	for i := len(s.handlers) - 1; i >= 0; i-- {
		out = append(out, s.handlers[i].description)
	}
	return out
}

// RunAll drains the stack, running handlers newest first. A failing handler
// does not stop the rest; all failures are joined.
func (s *Stack) RunAll(ctx context.Context) error {
	var errs []error
	for {
		h, ok := s.popLast()
		if !ok {
			break
		}
		s.log.Info("running cleanup", "handler", h.description)
		if err := h.fn(ctx); err != nil {
			s.log.Error(err, "cleanup failed", "handler", h.description)
			errs = append(errs, fmt.Errorf("%s: %w", h.description, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Stack) popLast() (handler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.handlers) == 0 {
		return handler{}, false
	}
	h := s.handlers[len(s.handlers)-1]
	s.handlers = s.handlers[:len(s.handlers)-1]
	return h, true
}
