// Package apptask implements the task supervision spine: a uniform
// lifecycle (init -> start loop -> accept commands -> stop loop ->
// finalize) shared by every long-lived task in the agent.
//
// Liveness is tracked with an atomic "running" flag set at worker
// entry and cleared at worker exit, not by treating a mutex's lock
// state as a liveness probe. The per-task mutex equivalent (a
// capacity-1 semaphore channel, since Go's sync.Mutex has no
// zero-wait TryLock outside of an atomic-backed custom type) exists
// purely to guard the one work unit each sampler performs per
// iteration.
package apptask

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fisaks/cellagent/internal/apperr"
)

// ID identifies one of the fixed, compiled-in tasks.
type ID int

const (
	RegistrationTask ID = iota
	MQTTClientTask
	SignalQualityTask
	LocationTask
	CellScanTask
	ExampleTask
)

func (id ID) String() string {
	switch id {
	case RegistrationTask:
		return "Registration"
	case MQTTClientTask:
		return "MQTT"
	case SignalQualityTask:
		return "SignalQuality"
	case LocationTask:
		return "Location"
	case CellScanTask:
		return "CellScan"
	case ExampleTask:
		return "Example"
	default:
		return "Unknown"
	}
}

// Message is one item placed on a task's command queue: a typed tag
// plus whatever payload that tag implies. Each task interprets its own
// tag set; every task's set includes a shutdown variant.
type Message struct {
	Tag     string
	Payload any
}

// dwellTick is the polled-sleep resolution used while a task's worker
// loop is dwelling between iterations, and the granularity at which a
// SET_DWELL_TIME change is observed and takes effect.
const dwellTick = 100 * time.Millisecond

// Task is the generic per-task runtime state the spine manages.
// Concrete tasks (registration, mqttclient, the samplers) embed or
// hold one of these and supply the work-unit function via StartLoop.
type Task struct {
	id           ID
	name         string
	explicitStop bool

	dwellSeconds atomic.Int64

	queue chan Message

	initialised atomic.Bool
	running     atomic.Bool
	stopFlag    atomic.Bool

	workToken chan struct{} // capacity-1 semaphore: the work-unit mutex
	done      chan struct{} // closed by the worker goroutine on exit
}

// New constructs a task descriptor. queueSize and dwellSeconds follow
// the per-task sizing table (signal-quality 5, MQTT 10, cell-scan 2,
// location 5, example 1; dwell defaults vary by sampler).
func New(id ID, name string, queueSize int, dwellSeconds int, explicitStop bool) *Task {
	t := &Task{
		id:           id,
		name:         name,
		explicitStop: explicitStop,
		queue:        make(chan Message, queueSize),
		workToken:    make(chan struct{}, 1),
	}
	t.dwellSeconds.Store(int64(dwellSeconds))
	t.workToken <- struct{}{}
	return t
}

func (t *Task) ID() ID            { return t.id }
func (t *Task) Name() string      { return t.name }
func (t *Task) ExplicitStop() bool { return t.explicitStop }

func (t *Task) Initialised() bool { return t.initialised.Load() }
func (t *Task) Running() bool     { return t.running.Load() }

func (t *Task) DwellSeconds() int64    { return t.dwellSeconds.Load() }
func (t *Task) SetDwellSeconds(n int64) { t.dwellSeconds.Store(n) }

// Init runs fn exactly once; subsequent calls are no-ops that return
// nil, matching the original's initialised-flag idempotence guard.
func (t *Task) Init(fn func() error) error {
	if t.initialised.Load() {
		return nil
	}
	if err := fn(); err != nil {
		return err
	}
	t.initialised.Store(true)
	return nil
}

// TryAcquireWork attempts to take the work-unit semaphore without
// blocking, mirroring the original's uPortMutexTryLock(TASK_MUTEX, 0).
// release must be called exactly once when ok is true.
func (t *Task) TryAcquireWork() (release func(), ok bool) {
	select {
	case <-t.workToken:
		return func() { t.workToken <- struct{}{} }, true
	default:
		return func() {}, false
	}
}

// StartLoop spawns the worker goroutine running body once per
// iteration until keepGoing returns false, dwelling between
// iterations. It returns apperr.ErrNotInitialised if the task has not
// been initialised. A call while the worker is already running returns
// nil without starting a second worker; it does not report an error.
func (t *Task) StartLoop(ctx context.Context, body func(ctx context.Context)) error {
	if !t.initialised.Load() {
		return apperr.ErrNotInitialised
	}
	if !t.running.CompareAndSwap(false, true) {
		return nil // already running: starting twice is a no-op, not an error
	}
	t.stopFlag.Store(false)
	done := make(chan struct{})
	t.done = done

	go func() {
		defer func() {
			t.running.Store(false)
			close(done)
		}()
		for t.keepGoing(ctx) {
			body(ctx)
			if !t.Dwell(ctx) {
				return
			}
		}
	}()
	return nil
}

func (t *Task) keepGoing(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	return !t.stopFlag.Load()
}

// StopLoop asks the worker to exit after its current iteration; it
// does not block waiting for it (see StopAndWait for that).
func (t *Task) StopLoop() { t.stopFlag.Store(true) }

// Dwell is a polled sleep in 100 ms ticks up to DwellSeconds, returning
// early (true, meaning "keep going") if the dwell value changes
// mid-sleep, or false if the context is cancelled or a stop was
// requested while sleeping.
func (t *Task) Dwell(ctx context.Context) bool {
	seconds := t.dwellSeconds.Load()
	if seconds <= 0 {
		return t.keepGoing(ctx)
	}
	deadline := time.Duration(seconds) * time.Second
	ticker := time.NewTicker(dwellTick)
	defer ticker.Stop()
	var elapsed time.Duration
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			elapsed += dwellTick
			if t.stopFlag.Load() {
				return false
			}
			if t.dwellSeconds.Load() != seconds {
				return t.keepGoing(ctx)
			}
			if elapsed >= deadline {
				return t.keepGoing(ctx)
			}
		}
	}
}

// WaitStopped blocks until the worker goroutine has exited or the
// iteration budget (each unit 2s) elapses, returning
// apperr.ErrStopTimeout on timeout. iterations<=0 waits forever.
func (t *Task) WaitStopped(iterations int) error {
	done := t.done
	if done == nil {
		return nil
	}
	if iterations <= 0 {
		<-done
		return nil
	}
	timer := time.NewTimer(time.Duration(iterations) * 2 * time.Second)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return apperr.ErrStopTimeout
	}
}

// Send performs a non-blocking enqueue; a full queue fails immediately
// with apperr.ErrQueueFull rather than retrying or blocking.
func (t *Task) Send(msg Message) error {
	select {
	case t.queue <- msg:
		return nil
	default:
		return apperr.ErrQueueFull
	}
}

// Receive exposes the queue for the worker's select loop.
func (t *Task) Receive() <-chan Message { return t.queue }
