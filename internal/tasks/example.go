package tasks

import (
	"context"

	"github.com/fisaks/cellagent/internal/apptask"
	"github.com/fisaks/cellagent/internal/dispatch"
	"github.com/fisaks/cellagent/internal/logging"
)

// Example is the extension slot §2 reserves for a compiled-in task that
// does nothing on its own: a template for adding a new sampler or
// one-shot operator without touching the spine. It listens on
// ExampleControl and only logs what it receives.
type Example struct {
	Task *apptask.Task
}

func NewExample() *Example {
	return &Example{Task: apptask.New(apptask.ExampleTask, "Example", 1, 0, false)}
}

func (e *Example) Init() error { return e.Task.Init(func() error { return nil }) }

func (e *Example) Run(ctx context.Context) error { return e.Task.StartLoop(ctx, e.runOnce) }

func (e *Example) Commands() dispatch.Table {
	return dispatch.Table{
		"MEASURE_NOW": func(params []string) error {
			return e.Task.Send(apptask.Message{Tag: "MEASURE_NOW", Payload: params})
		},
	}
}

func (e *Example) runOnce(ctx context.Context) {
	select {
	case msg := <-e.Task.Receive():
		logging.Debug("example task received message", "tag", msg.Tag, "payload", msg.Payload)
	case <-ctx.Done():
	}
}

func (e *Example) Finalize() error { return nil }
