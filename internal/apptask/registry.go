package apptask

import (
	"context"
	"fmt"

	"github.com/fisaks/cellagent/internal/apperr"
)

// Registry holds every compiled-in task in registration order and
// drives the bring-up/shutdown sequences the supervisor needs without
// each call site having to know the full task list.
type Registry struct {
	order []ID
	tasks map[ID]*Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[ID]*Task)}
}

func (r *Registry) Register(t *Task) {
	if _, exists := r.tasks[t.ID()]; !exists {
		r.order = append(r.order, t.ID())
	}
	r.tasks[t.ID()] = t
}

func (r *Registry) Get(id ID) (*Task, bool) {
	t, ok := r.tasks[id]
	return t, ok
}

// InitAll runs init on every registered task in registration order,
// stopping at the first failure.
func (r *Registry) InitAll(initFns map[ID]func() error) error {
	for _, id := range r.order {
		fn, ok := initFns[id]
		if !ok {
			continue
		}
		if err := r.tasks[id].Init(fn); err != nil {
			return fmt.Errorf("init %s: %w", id, err)
		}
	}
	return nil
}

// Send routes a message to task id's queue.
func (r *Registry) Send(id ID, msg Message) error {
	t, ok := r.tasks[id]
	if !ok {
		return apperr.ErrUnknownCommand
	}
	return t.Send(msg)
}

// StopAndWait stops the named task and blocks until its worker has
// exited or the iteration budget is spent.
func (r *Registry) StopAndWait(id ID, iterations int) error {
	t, ok := r.tasks[id]
	if !ok {
		return apperr.ErrNotRunning
	}
	t.StopLoop()
	return t.WaitStopped(iterations)
}

// StopAllExceptExplicit stops every non-explicit-stop task, the first
// phase of shutdown: explicit-stop tasks (registration) are stopped
// separately, after the others have drained.
func (r *Registry) StopAllExceptExplicit() {
	for _, id := range r.order {
		t := r.tasks[id]
		if !t.ExplicitStop() && t.Running() {
			t.StopLoop()
		}
	}
}

// WaitAllExceptExplicit waits for every non-explicit-stop task to exit.
func (r *Registry) WaitAllExceptExplicit(ctx context.Context, iterationsEach int) error {
	for _, id := range r.order {
		t := r.tasks[id]
		if t.ExplicitStop() {
			continue
		}
		if err := t.WaitStopped(iterationsEach); err != nil {
			return fmt.Errorf("waiting for %s to stop: %w", id, err)
		}
	}
	return nil
}

// FinalizeAll runs every registered task's finalizer in registration
// order, collecting (not short-circuiting on) individual errors so
// that one task's cleanup failure never skips another's.
func (r *Registry) FinalizeAll(finalizeFns map[ID]func() error) error {
	var firstErr error
	for _, id := range r.order {
		fn, ok := finalizeFns[id]
		if !ok {
			continue
		}
		if err := fn(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("finalize %s: %w", id, err)
		}
	}
	return firstErr
}
