package apptask

import (
	"context"
	"errors"
	"testing"
)

func TestRegistryInitAllStopsAtFirstFailure(t *testing.T) {
	reg := NewRegistry()
	reg.Register(New(RegistrationTask, "Registration", 1, 1, true))
	reg.Register(New(ExampleTask, "Example", 1, 1, false))

	boom := errors.New("boom")
	var secondRan bool
	err := reg.InitAll(map[ID]func() error{
		RegistrationTask: func() error { return boom },
		ExampleTask:      func() error { secondRan = true; return nil },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InitAll err = %v, want wrapping %v", err, boom)
	}
	if secondRan {
		t.Fatalf("second task's init ran despite first failing")
	}
}

func TestRegistrySendUnknownTask(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Send(ExampleTask, Message{Tag: "X"}); err == nil {
		t.Fatalf("expected error sending to unregistered task")
	}
}

func TestRegistryStopAllExceptExplicit(t *testing.T) {
	reg := NewRegistry()
	explicit := New(RegistrationTask, "Registration", 1, 0, true)
	ordinary := New(ExampleTask, "Example", 1, 0, false)
	reg.Register(explicit)
	reg.Register(ordinary)

	for _, task := range []*Task{explicit, ordinary} {
		if err := task.Init(func() error { return nil }); err != nil {
			t.Fatalf("Init: %v", err)
		}
		if err := task.StartLoop(context.Background(), func(context.Context) {}); err != nil {
			t.Fatalf("StartLoop: %v", err)
		}
	}

	reg.StopAllExceptExplicit()
	if err := reg.WaitAllExceptExplicit(context.Background(), 5); err != nil {
		t.Fatalf("WaitAllExceptExplicit: %v", err)
	}
	if ordinary.Running() {
		t.Fatalf("ordinary task should have stopped")
	}
	if !explicit.Running() {
		t.Fatalf("explicit-stop task must not be touched by StopAllExceptExplicit")
	}

	if err := reg.StopAndWait(RegistrationTask, 5); err != nil {
		t.Fatalf("StopAndWait(explicit): %v", err)
	}
	if explicit.Running() {
		t.Fatalf("explicit task should have stopped after direct StopAndWait")
	}
}

func TestRegistryFinalizeAllCollectsFirstErrorButRunsAll(t *testing.T) {
	reg := NewRegistry()
	reg.Register(New(RegistrationTask, "Registration", 1, 1, true))
	reg.Register(New(ExampleTask, "Example", 1, 1, false))

	var secondRan bool
	err := reg.FinalizeAll(map[ID]func() error{
		RegistrationTask: func() error { return errors.New("first") },
		ExampleTask:      func() error { secondRan = true; return nil },
	})
	if err == nil {
		t.Fatalf("expected first finalizer's error to surface")
	}
	if !secondRan {
		t.Fatalf("second task's finalizer should still run after first fails")
	}
}
