package apptask

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fisaks/cellagent/internal/apperr"
)

func TestInitIsIdempotent(t *testing.T) {
	task := New(ExampleTask, "Example", 1, 1, false)
	var calls atomic.Int32
	for i := 0; i < 3; i++ {
		if err := task.Init(func() error {
			calls.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("Init: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("init body ran %d times, want 1", calls.Load())
	}
	if !task.Initialised() {
		t.Fatalf("expected Initialised() true")
	}
}

func TestStartLoopRequiresInit(t *testing.T) {
	task := New(ExampleTask, "Example", 1, 1, false)
	err := task.StartLoop(context.Background(), func(context.Context) {})
	if !errors.Is(err, apperr.ErrNotInitialised) {
		t.Fatalf("StartLoop before Init: err = %v, want ErrNotInitialised", err)
	}
}

func TestRunningFlagInvariant(t *testing.T) {
	task := New(ExampleTask, "Example", 1, 1, false)
	if err := task.Init(func() error { return nil }); err != nil {
		t.Fatalf("Init: %v", err)
	}

	var iterations atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := task.StartLoop(ctx, func(context.Context) { iterations.Add(1) }); err != nil {
		t.Fatalf("StartLoop: %v", err)
	}
	if !task.Running() {
		t.Fatalf("expected Running() true immediately after StartLoop")
	}

	// Let the worker finish its first iteration; it then dwells for 1 s.
	deadline := time.Now().Add(time.Second)
	for iterations.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// Starting again while already running must be a harmless no-op,
	// never a second worker goroutine.
	if err := task.StartLoop(ctx, func(context.Context) { iterations.Add(100) }); err != nil {
		t.Fatalf("second StartLoop: %v", err)
	}

	task.StopLoop()
	if err := task.WaitStopped(5); err != nil {
		t.Fatalf("WaitStopped: %v", err)
	}
	if task.Running() {
		t.Fatalf("expected Running() false after worker exit")
	}
	if n := iterations.Load(); n == 0 || n >= 100 {
		t.Fatalf("iterations = %d, expected a small count from the original loop only", n)
	}
}

func TestWaitStoppedReturnsImmediatelyWhenNeverStarted(t *testing.T) {
	task := New(ExampleTask, "Example", 1, 1, false)
	// done is nil until StartLoop runs; WaitStopped must treat that as
	// already-stopped rather than blocking forever.
	if err := task.WaitStopped(1); err != nil {
		t.Fatalf("WaitStopped on never-started task: %v", err)
	}
}

func TestDwellReturnsEarlyOnChange(t *testing.T) {
	task := New(ExampleTask, "Example", 1, 3600, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		done <- task.Dwell(ctx)
	}()

	time.Sleep(150 * time.Millisecond)
	task.SetDwellSeconds(1) // should be observed within one dwellTick

	select {
	case keepGoing := <-done:
		if !keepGoing {
			t.Fatalf("Dwell returned false, want true (keep going) on a dwell-value change")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Dwell did not return after dwell value changed")
	}
}

func TestSendFailsWhenQueueFull(t *testing.T) {
	task := New(ExampleTask, "Example", 1, 1, false)
	if err := task.Send(Message{Tag: "A"}); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if err := task.Send(Message{Tag: "B"}); !errors.Is(err, apperr.ErrQueueFull) {
		t.Fatalf("second Send: err = %v, want ErrQueueFull", err)
	}
}

func TestTryAcquireWorkIsExclusive(t *testing.T) {
	task := New(ExampleTask, "Example", 1, 1, false)
	release, ok := task.TryAcquireWork()
	if !ok {
		t.Fatalf("expected first TryAcquireWork to succeed")
	}
	if _, ok := task.TryAcquireWork(); ok {
		t.Fatalf("expected second TryAcquireWork to fail while held")
	}
	release()
	if _, ok := task.TryAcquireWork(); !ok {
		t.Fatalf("expected TryAcquireWork to succeed after release")
	}
}

func TestIDString(t *testing.T) {
	cases := map[ID]string{
		RegistrationTask:  "Registration",
		MQTTClientTask:    "MQTT",
		SignalQualityTask: "SignalQuality",
		LocationTask:      "Location",
		CellScanTask:      "CellScan",
		ExampleTask:       "Example",
		ID(99):            "Unknown",
	}
	for id, want := range cases {
		if got := id.String(); got != want {
			t.Errorf("ID(%d).String() = %q, want %q", int(id), got, want)
		}
	}
}
