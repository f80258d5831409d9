// Package tasks holds the fixed set of sampler and manager tasks that
// sit on top of the task spine: registration, signal quality, location,
// cell scan, and the example extension slot.
package tasks

import (
	"context"
	"time"

	"github.com/fisaks/cellagent/internal/appstate"
	"github.com/fisaks/cellagent/internal/apptask"
	"github.com/fisaks/cellagent/internal/config"
	"github.com/fisaks/cellagent/internal/logging"
	"github.com/fisaks/cellagent/internal/modem"
)

// restrictedTimeWindowStart and End bound the network UTC sanity check:
// a value outside this window is treated as unreliable.
var (
	restrictedTimeWindowStart = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	restrictedTimeWindowEnd   = time.Date(2050, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Registration owns the cellular network lifecycle: bring-up, the
// registration status callback, operator info refresh, and the
// network-time acceptance / NTP-fallback decision. It is the one task
// marked explicit-stop: the supervisor stops it last, explicitly.
type Registration struct {
	Task *apptask.Task

	session modem.Session
	state   *appstate.State
	cfg     *config.Store

	onNetworkUp func()

	operatorName string
	operatorMCC  string
	operatorMNC  string

	acceptedTime      time.Time
	acceptedTimeKnown bool
}

// NewRegistration constructs the task. onNetworkUp is invoked
// synchronously after the up flag and counter are updated, matching the
// resolved race in the original's first-registration callback ordering.
func NewRegistration(session modem.Session, state *appstate.State, cfg *config.Store, onNetworkUp func()) *Registration {
	return &Registration{
		Task:        apptask.New(apptask.RegistrationTask, "Registration", 2, 30, true),
		session:     session,
		state:       state,
		cfg:         cfg,
		onNetworkUp: onNetworkUp,
	}
}

// SetOnNetworkUp installs the network-up hook after construction, for
// callers (agentrun) that need a reference to a later-constructed
// collaborator, e.g. the supervisor's eager module-info publish.
func (r *Registration) SetOnNetworkUp(fn func()) { r.onNetworkUp = fn }

func (r *Registration) Init() error {
	return r.Task.Init(func() error {
		r.session.OnRegistrationStatus(r.handleEvent)
		return nil
	})
}

func (r *Registration) Run(ctx context.Context) error {
	return r.Task.StartLoop(ctx, r.runOnce)
}

func (r *Registration) keepGoing() bool {
	return r.Task.Running() && r.state.Phase() != appstate.PhaseCopsQuery
}

func (r *Registration) runOnce(ctx context.Context) {
	if r.state.NetworkUpCounter() > 0 {
		return // already registered at least once; further work is callback-driven
	}
	r.state.SetPhase(appstate.PhaseRegistering)
	if err := r.session.RegistrationUp(ctx, r.keepGoing); err != nil {
		logging.Warn("registration bring-up failed", "err", err)
	}
}

func (r *Registration) handleEvent(ev modem.RegistrationEvent) {
	if ev.Up {
		r.state.SetNetworkUp(true)
		count := r.state.IncrementNetworkUpCounter()
		logging.Info("network registered", "count", count)

		ctx := context.Background()
		if name, mcc, mnc, err := r.session.OperatorName(ctx); err != nil {
			logging.Warn("operator name query failed", "err", err)
		} else {
			r.operatorName, r.operatorMCC, r.operatorMNC = name, mcc, mnc
		}

		if count == 1 {
			// it must be valid as we've just connected: bootstrap
			// NetworkAvailable() before any signal-quality sample exists.
			r.state.SetSignalValid(true)
			r.acceptNetworkTime(ctx)
		}
		if r.onNetworkUp != nil {
			r.onNetworkUp()
		}
		return
	}

	r.state.SetNetworkUp(false)
	r.operatorName, r.operatorMCC, r.operatorMNC = "", "", ""
	if ev.Denied {
		r.state.IncrementDeniedCounter()
	}
}

// acceptNetworkTime implements the NTP-fallback decision: accept the
// modem's network time if it falls within the plausible window;
// otherwise fall back to NTP, unless the configured APN is restricted.
func (r *Registration) acceptNetworkTime(ctx context.Context) {
	networkTime, err := r.session.NetworkTime(ctx)
	if err == nil && timeInWindow(networkTime) {
		r.acceptedTime = networkTime
		r.acceptedTimeKnown = true
		return
	}

	apn := r.cfg.GetDefault(config.KeyAPN, "")
	if config.IsRestrictedAPN(apn) {
		logging.Info("network time unreliable, skipping NTP on restricted APN", "apn", apn)
		return
	}

	ntpTime, err := r.session.NTPTime(ctx)
	if err != nil {
		logging.Warn("NTP fallback query failed", "err", err)
		return
	}
	r.acceptedTime = ntpTime
	r.acceptedTimeKnown = true
}

func timeInWindow(t time.Time) bool {
	return !t.Before(restrictedTimeWindowStart) && t.Before(restrictedTimeWindowEnd)
}

// OperatorInfo returns the cached operator name and MCC/MNC from the
// last successful registration.
func (r *Registration) OperatorInfo() (name, mcc, mnc string) {
	return r.operatorName, r.operatorMCC, r.operatorMNC
}

func (r *Registration) Finalize() error {
	return r.session.RegistrationDown(context.Background())
}
