// Package supervisor brings the task spine up, drives the periodic
// housekeeping loop, hooks the interrupt signal, and runs orderly
// shutdown. It is §4.6's "Supervisor / main loop" component.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fisaks/cellagent/internal/appstate"
	"github.com/fisaks/cellagent/internal/apptask"
	"github.com/fisaks/cellagent/internal/config"
	"github.com/fisaks/cellagent/internal/dispatch"
	"github.com/fisaks/cellagent/internal/logging"
	"github.com/fisaks/cellagent/internal/modem"
)

const (
	minDwellMillis     = 5000
	maxDwellMillis     = 60000
	defaultDwellMillis = 5000
	housekeepTick      = 100 * time.Millisecond
	pausedPollInterval = 200 * time.Millisecond
)

// Publisher is the narrow surface the supervisor needs from the MQTT
// client to emit the deferred Information message.
type Publisher interface {
	Publish(topic, payload string, qos int, retain bool) error
}

// Supervisor owns the housekeeping loop and the AppControl command
// table (SET_DWELL_TIME, SET_LOG_LEVEL, EXIT_APP).
type Supervisor struct {
	registry    *apptask.Registry
	state       *appstate.State
	publisher   Publisher
	info        modem.ModuleInfo
	topicHeader string
	imei        string

	dwellMillis atomic.Int64

	moduleInfoPending atomic.Bool
}

// New constructs a supervisor. dwellMillis comes from the
// APP_DWELL_TIME configuration key, clamped into [5000, 60000].
func New(registry *apptask.Registry, state *appstate.State, publisher Publisher, info modem.ModuleInfo, topicHeader, imei string, cfg *config.Store) *Supervisor {
	s := &Supervisor{
		registry:    registry,
		state:       state,
		publisher:   publisher,
		info:        info,
		topicHeader: topicHeader,
		imei:        imei,
	}
	dwell := cfg.GetInt(config.KeyAppDwellTime, defaultDwellMillis)
	s.dwellMillis.Store(int64(clampDwell(dwell)))
	s.moduleInfoPending.Store(true)
	return s
}

func clampDwell(ms int) int {
	if ms < minDwellMillis {
		return minDwellMillis
	}
	if ms > maxDwellMillis {
		return maxDwellMillis
	}
	return ms
}

// PauseHousekeeping implements tasks.HousekeepingPauser: the cell-scan
// operator pauses housekeeping for the duration of its scan so no other
// modem operation interleaves with it.
func (s *Supervisor) PauseHousekeeping(pause bool) { s.state.PauseHousekeeping(pause) }

// Commands exposes the AppControl handler table.
func (s *Supervisor) Commands() dispatch.Table {
	return dispatch.Table{
		"SET_DWELL_TIME": func(params []string) error {
			ms := dispatch.GetParamValue(params, 1, minDwellMillis, maxDwellMillis, int(s.dwellMillis.Load()))
			s.dwellMillis.Store(int64(ms))
			return nil
		},
		"SET_LOG_LEVEL": func(params []string) error {
			code := dispatch.GetParamValue(params, 1, 0, 5, 2)
			logging.SetLevelFromCode(code)
			return nil
		},
		"EXIT_APP": func(params []string) error {
			code := dispatch.GetParamValue(params, 1, 0, 255, 0)
			s.state.RequestExit(code)
			return nil
		},
	}
}

// Run drives the housekeeping loop until the app is asked to exit: on
// each dwell tick it asks the signal-quality sampler to measure now,
// attempts the deferred module-info publish once the network is up,
// and asks the location sampler to take a fix now.
func (s *Supervisor) Run(ctx context.Context) {
	for !s.state.ExitRequested() && ctx.Err() == nil {
		if s.state.HousekeepingPaused() {
			time.Sleep(pausedPollInterval)
			continue
		}
		s.houseKeepOnce()
		if !s.dwell(ctx) {
			return
		}
	}
}

func (s *Supervisor) houseKeepOnce() {
	if err := s.registry.Send(apptask.SignalQualityTask, apptask.Message{Tag: "MEASURE_NOW"}); err != nil {
		logging.Debug("housekeeping measure-now dropped", "err", err)
	}
	s.TryPublishModuleInfo()
	if err := s.registry.Send(apptask.LocationTask, apptask.Message{Tag: "LOCATION_NOW"}); err != nil {
		logging.Debug("housekeeping location-now dropped", "err", err)
	}
}

// TryPublishModuleInfo publishes the Information message once the
// network is up, then clears the pending flag; it is a no-op once the
// flag is clear or while the network remains unavailable. Exposed so the
// registration task's onNetworkUp hook can attempt an eager publish the
// instant registration succeeds, falling back to the housekeeping retry
// above only if that attempt fails.
func (s *Supervisor) TryPublishModuleInfo() {
	if !s.moduleInfoPending.Load() || !s.state.NetworkUp() {
		return
	}
	payload := formatModuleInfo(s.info, s.state.NetworkUpCounter())
	topic := fmt.Sprintf("%s/%s/Information", s.topicHeader, s.imei)
	if err := s.publisher.Publish(topic, payload, 1, true); err != nil {
		logging.Warn("module info publish failed, will retry", "err", err)
		return
	}
	s.moduleInfoPending.Store(false)
}

func formatModuleInfo(info modem.ModuleInfo, networkUpCounter int64) string {
	return fmt.Sprintf(
		`{"Timestamp":"%s","Module":{"Manufacturer":"%s","Model":"%s","Version":"%s"},"SIM":{"IMSI":"%s","CCID":"%s"},"Application":{"NetworkUpCounter":%d}}`,
		time.Now().UTC().Format("15:04:05.000"),
		info.Manufacturer, info.Model, info.Firmware, info.IMSI, info.ICCID, networkUpCounter,
	)
}

// dwell is the housekeeping loop's own 100 ms polled sleep, mirroring
// apptask.Task.Dwell so a SET_DWELL_TIME change takes effect within one
// tick even though the housekeeping loop is not itself a spine task.
func (s *Supervisor) dwell(ctx context.Context) bool {
	target := s.dwellMillis.Load()
	ticker := time.NewTicker(housekeepTick)
	defer ticker.Stop()
	var elapsed int64
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if s.state.ExitRequested() {
				return false
			}
			elapsed += housekeepTick.Milliseconds()
			if s.dwellMillis.Load() != target {
				return true
			}
			if elapsed >= target {
				return true
			}
		}
	}
}

// InstallSignalHandler hooks SIGINT/SIGTERM: the first signal requests
// an orderly exit via cancel; a second signal is left to the process's
// default disposition so the operator can force-terminate.
func InstallSignalHandler(state *appstate.State, cancel context.CancelFunc) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-ch
		logging.Info("interrupt received, shutting down", "signal", sig)
		state.RequestExit(0)
		cancel()
		signal.Stop(ch)
	}()
}

// Shutdown runs the §4.6 shutdown sequence: set phase to SHUTDOWN, stop
// and wait for every non-explicit-stop task, then stop and wait up to
// 30s for the registration task (the one explicit-stop task, stopped
// last and explicitly), then finalize everything.
func Shutdown(ctx context.Context, state *appstate.State, registry *apptask.Registry, finalizers map[apptask.ID]func() error) error {
	state.SetPhase(appstate.PhaseShutdown)
	registry.StopAllExceptExplicit()
	if err := registry.WaitAllExceptExplicit(ctx, 10); err != nil {
		logging.Warn("timed out waiting for tasks to stop", "err", err)
	}
	if err := registry.StopAndWait(apptask.RegistrationTask, 15); err != nil {
		logging.Warn("timed out waiting for registration task to stop", "err", err)
	}
	return registry.FinalizeAll(finalizers)
}
