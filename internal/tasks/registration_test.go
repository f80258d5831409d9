package tasks

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fisaks/cellagent/internal/appstate"
	"github.com/fisaks/cellagent/internal/config"
	"github.com/fisaks/cellagent/internal/modem"
)

func newTestRegistration(t *testing.T, fixture *modem.Fixture, cfgText string) (*Registration, *modem.Sim, *appstate.State) {
	t.Helper()
	sim := modem.NewSim(fixture)
	state := appstate.New()
	cfg, err := config.LoadFromReader(strings.NewReader(cfgText))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	r := NewRegistration(sim, state, cfg, nil)
	if err := r.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return r, sim, state
}

func TestRegistrationSetsFlagBeforeInvokingHandler(t *testing.T) {
	r, sim, state := newTestRegistration(t, &modem.Fixture{NetworkTimeUnix: time.Now().Unix()}, "APN internet\n")

	var upWhenCalled bool
	r.onNetworkUp = func() { upWhenCalled = state.NetworkUp() }

	if err := sim.RegistrationUp(context.Background(), func() bool { return true }); err != nil {
		t.Fatalf("RegistrationUp: %v", err)
	}
	if !upWhenCalled {
		t.Fatalf("expected NetworkUp() to already be true when onNetworkUp ran")
	}
	if state.NetworkUpCounter() != 1 {
		t.Fatalf("NetworkUpCounter() = %d, want 1", state.NetworkUpCounter())
	}
}

func TestFirstNetworkUpBootstrapsSignalValid(t *testing.T) {
	r, sim, state := newTestRegistration(t, &modem.Fixture{NetworkTimeUnix: time.Now().Unix()}, "APN internet\n")
	if state.SignalValid() {
		t.Fatalf("expected SignalValid() to start false")
	}

	if err := sim.RegistrationUp(context.Background(), func() bool { return true }); err != nil {
		t.Fatalf("RegistrationUp: %v", err)
	}
	if !state.SignalValid() {
		t.Fatalf("expected SignalValid() to be bootstrapped true on first registration, before any signal-quality sample")
	}
	if !state.NetworkAvailable() {
		t.Fatalf("expected NetworkAvailable() to be true once up and bootstrapped")
	}
	_ = r
}

func TestSetOnNetworkUpFiresAfterStateIsUpdated(t *testing.T) {
	r, sim, state := newTestRegistration(t, &modem.Fixture{NetworkTimeUnix: time.Now().Unix()}, "APN internet\n")

	var sawUp, sawSignalValid bool
	r.SetOnNetworkUp(func() {
		sawUp = state.NetworkUp()
		sawSignalValid = state.SignalValid()
	})

	if err := sim.RegistrationUp(context.Background(), func() bool { return true }); err != nil {
		t.Fatalf("RegistrationUp: %v", err)
	}
	if !sawUp {
		t.Fatalf("expected NetworkUp() true when onNetworkUp ran")
	}
	if !sawSignalValid {
		t.Fatalf("expected SignalValid() true when onNetworkUp ran, since it is bootstrapped before the hook fires")
	}
}

func TestAcceptNetworkTimeWithinWindowSkipsNTP(t *testing.T) {
	good := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	r, sim, _ := newTestRegistration(t, &modem.Fixture{NetworkTimeUnix: good.Unix(), NTPTimeUnix: 0}, "APN internet\n")
	r.acceptNetworkTime(context.Background())
	if !r.acceptedTimeKnown {
		t.Fatalf("expected accepted time to be known")
	}
	if !r.acceptedTime.Equal(good) {
		t.Fatalf("accepted time = %v, want %v", r.acceptedTime, good)
	}
	_ = sim
}

func TestAcceptNetworkTimeOutsideWindowFallsBackToNTP(t *testing.T) {
	bad := time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	ntp := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r, _, _ := newTestRegistration(t, &modem.Fixture{NetworkTimeUnix: bad.Unix(), NTPTimeUnix: ntp.Unix()}, "APN internet\n")
	r.acceptNetworkTime(context.Background())
	if !r.acceptedTimeKnown || !r.acceptedTime.Equal(ntp) {
		t.Fatalf("expected NTP fallback time %v, got known=%v time=%v", ntp, r.acceptedTimeKnown, r.acceptedTime)
	}
}

func TestAcceptNetworkTimeRestrictedAPNSkipsNTP(t *testing.T) {
	bad := time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	r, _, _ := newTestRegistration(t, &modem.Fixture{NetworkTimeUnix: bad.Unix(), NTPTimeUnix: 12345}, "APN TSUDP\n")
	r.acceptNetworkTime(context.Background())
	if r.acceptedTimeKnown {
		t.Fatalf("expected restricted APN to skip the NTP fallback entirely")
	}
}

func TestTimeInWindowBoundaries(t *testing.T) {
	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"just inside start", restrictedTimeWindowStart.Add(time.Second), true},
		{"exactly at start", restrictedTimeWindowStart, true},
		{"just inside end", restrictedTimeWindowEnd.Add(-time.Second), true},
		{"exactly at end", restrictedTimeWindowEnd, false},
	}
	for _, c := range cases {
		if got := timeInWindow(c.t); got != c.want {
			t.Errorf("%s: timeInWindow(%v) = %v, want %v", c.name, c.t, got, c.want)
		}
	}
}
