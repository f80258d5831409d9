package appstate

import "testing"

func TestNetworkAvailableRequiresBothFlags(t *testing.T) {
	s := New()
	if s.NetworkAvailable() {
		t.Fatalf("fresh state should not report network available")
	}
	s.SetNetworkUp(true)
	if s.NetworkAvailable() {
		t.Fatalf("network up alone should not be enough")
	}
	s.SetSignalValid(true)
	if !s.NetworkAvailable() {
		t.Fatalf("network up + signal valid should report available")
	}
}

func TestNetworkUpCounterMonotonic(t *testing.T) {
	s := New()
	for i := int64(1); i <= 3; i++ {
		if got := s.IncrementNetworkUpCounter(); got != i {
			t.Fatalf("counter = %d, want %d", got, i)
		}
	}
	if s.NetworkUpCounter() != 3 {
		t.Fatalf("NetworkUpCounter() = %d, want 3", s.NetworkUpCounter())
	}
}

func TestRequestExitSetsCodeAndFlag(t *testing.T) {
	s := New()
	if s.ExitRequested() {
		t.Fatalf("fresh state should not request exit")
	}
	s.RequestExit(7)
	if !s.ExitRequested() {
		t.Fatalf("RequestExit should set the exit flag")
	}
	if s.ExitCode() != 7 {
		t.Fatalf("ExitCode() = %d, want 7", s.ExitCode())
	}
}

func TestPhaseString(t *testing.T) {
	s := New()
	s.SetPhase(PhaseRegistered)
	if s.Phase().String() != "REGISTERED" {
		t.Fatalf("Phase().String() = %q", s.Phase().String())
	}
}
