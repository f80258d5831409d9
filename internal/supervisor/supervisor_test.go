package supervisor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fisaks/cellagent/internal/appstate"
	"github.com/fisaks/cellagent/internal/apptask"
	"github.com/fisaks/cellagent/internal/config"
	"github.com/fisaks/cellagent/internal/modem"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []string
	failNext  bool
}

func (p *fakePublisher) Publish(topic, payload string, qos int, retain bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext {
		p.failNext = false
		return context.DeadlineExceeded
	}
	p.published = append(p.published, topic+":"+payload)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func newTestSupervisor(t *testing.T) (*Supervisor, *apptask.Registry, *appstate.State, *fakePublisher) {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader("APP_DWELL_TIME 5000\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	reg := apptask.NewRegistry()
	sigTask := apptask.New(apptask.SignalQualityTask, "SignalQuality", 5, 0, false)
	locTask := apptask.New(apptask.LocationTask, "Location", 5, 0, false)
	reg.Register(sigTask)
	reg.Register(locTask)
	if err := sigTask.Init(func() error { return nil }); err != nil {
		t.Fatalf("init sig: %v", err)
	}
	if err := locTask.Init(func() error { return nil }); err != nil {
		t.Fatalf("init loc: %v", err)
	}

	state := appstate.New()
	pub := &fakePublisher{}
	info := modem.ModuleInfo{Manufacturer: "u-blox", Model: "SARA-R5", Firmware: "1.0", IMSI: "1234", ICCID: "5678"}
	s := New(reg, state, pub, info, "U-BLOX", "490154203237518", cfg)
	return s, reg, state, pub
}

func TestSetDwellTimeClampsToMinimum(t *testing.T) {
	s, _, _, _ := newTestSupervisor(t)
	table := s.Commands()
	if err := table["SET_DWELL_TIME"]([]string{"1000"}); err != nil {
		t.Fatalf("SET_DWELL_TIME: %v", err)
	}
	if got := s.dwellMillis.Load(); got != minDwellMillis {
		t.Fatalf("dwellMillis = %d, want clamp to %d", got, minDwellMillis)
	}
}

func TestSetDwellTimeWithinRange(t *testing.T) {
	s, _, _, _ := newTestSupervisor(t)
	table := s.Commands()
	if err := table["SET_DWELL_TIME"]([]string{"10000"}); err != nil {
		t.Fatalf("SET_DWELL_TIME: %v", err)
	}
	if got := s.dwellMillis.Load(); got != 10000 {
		t.Fatalf("dwellMillis = %d, want 10000", got)
	}
}

func TestExitAppSetsStateExitCode(t *testing.T) {
	s, _, state, _ := newTestSupervisor(t)
	table := s.Commands()
	if err := table["EXIT_APP"]([]string{"7"}); err != nil {
		t.Fatalf("EXIT_APP: %v", err)
	}
	if !state.ExitRequested() {
		t.Fatalf("expected ExitRequested() true")
	}
	if state.ExitCode() != 7 {
		t.Fatalf("ExitCode() = %d, want 7", state.ExitCode())
	}
}

func TestModuleInfoPublishesOnceNetworkUp(t *testing.T) {
	s, _, state, pub := newTestSupervisor(t)

	s.houseKeepOnce()
	if pub.count() != 0 {
		t.Fatalf("expected no publish while network is down")
	}

	state.SetNetworkUp(true)
	s.houseKeepOnce()
	if pub.count() != 1 {
		t.Fatalf("expected exactly one module-info publish, got %d", pub.count())
	}
	if want := "U-BLOX/490154203237518/Information:"; len(pub.published) == 0 || pub.published[0][:len(want)] != want {
		t.Fatalf("published topic prefix = %v, want prefix %q", pub.published, want)
	}

	s.houseKeepOnce()
	if pub.count() != 1 {
		t.Fatalf("module-info publish should not repeat once delivered, got %d", pub.count())
	}
}

func TestModuleInfoRetriesOnPublishFailure(t *testing.T) {
	s, _, state, pub := newTestSupervisor(t)
	state.SetNetworkUp(true)
	pub.failNext = true

	s.houseKeepOnce()
	if pub.count() != 0 {
		t.Fatalf("expected the failed publish not to count as delivered")
	}
	if !s.moduleInfoPending.Load() {
		t.Fatalf("pending flag should remain set after a failed publish")
	}

	s.houseKeepOnce()
	if pub.count() != 1 {
		t.Fatalf("expected retry to succeed and publish once")
	}
}

func TestDwellRespondsWithin100ms(t *testing.T) {
	s, _, _, _ := newTestSupervisor(t)
	s.dwellMillis.Store(10000)

	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		s.dwell(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	s.dwellMillis.Store(50)

	select {
	case <-done:
	case <-time.After(300 * time.Millisecond):
		t.Fatalf("dwell did not return promptly after a dwell-time change")
	}
}

func TestHousekeepingPauseGate(t *testing.T) {
	s, _, state, _ := newTestSupervisor(t)
	s.PauseHousekeeping(true)
	if !state.HousekeepingPaused() {
		t.Fatalf("expected HousekeepingPaused() true")
	}
	s.PauseHousekeeping(false)
	if state.HousekeepingPaused() {
		t.Fatalf("expected HousekeepingPaused() false after resume")
	}
}
