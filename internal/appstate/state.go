// Package appstate replaces the original's process-wide global flags
// (gExitApp, gIsNetworkUp, gIsMQTTConnected, gAppStatus) with a single
// explicit value passed to every task at construction.
package appstate

import "sync/atomic"

// Phase is the application's single observable state enum.
type Phase int32

const (
	PhaseManual Phase = iota
	PhaseInitDevice
	PhaseInitDeviceDone
	PhaseRegistering
	PhaseMQTTConnecting
	PhaseCopsQuery
	PhaseSendSignalQuality
	PhaseRegistrationUnknown
	PhaseRegistered
	PhaseError
	PhaseShutdown
	PhaseMQTTConnected
	PhaseMQTTDisconnected
	PhaseStartSignalQuality
	PhaseRegistrationDenied
	PhaseNoNetworksAvailable
	PhaseNoCompatibleNetworks
	PhaseLocationMeas
)

func (p Phase) String() string {
	switch p {
	case PhaseManual:
		return "MANUAL"
	case PhaseInitDevice:
		return "INIT_DEVICE"
	case PhaseInitDeviceDone:
		return "INIT_DEVICE_DONE"
	case PhaseRegistering:
		return "REGISTERING"
	case PhaseMQTTConnecting:
		return "MQTT_CONNECTING"
	case PhaseCopsQuery:
		return "COPS_QUERY"
	case PhaseSendSignalQuality:
		return "SEND_SIGNAL_QUALITY"
	case PhaseRegistrationUnknown:
		return "REGISTRATION_UNKNOWN"
	case PhaseRegistered:
		return "REGISTERED"
	case PhaseError:
		return "ERROR"
	case PhaseShutdown:
		return "SHUTDOWN"
	case PhaseMQTTConnected:
		return "MQTT_CONNECTED"
	case PhaseMQTTDisconnected:
		return "MQTT_DISCONNECTED"
	case PhaseStartSignalQuality:
		return "START_SIGNAL_QUALITY"
	case PhaseRegistrationDenied:
		return "REGISTRATION_DENIED"
	case PhaseNoNetworksAvailable:
		return "NO_NETWORKS_AVAILABLE"
	case PhaseNoCompatibleNetworks:
		return "NO_COMPATIBLE_NETWORKS"
	case PhaseLocationMeas:
		return "LOCATION_MEAS"
	default:
		return "UNKNOWN"
	}
}

// State is the shared, lock-free context passed to every task. Fields
// are independent atomics: there is no cross-field transaction, matching
// the original's "last writer wins, reads are a diagnostic" contract.
type State struct {
	exitApp         atomic.Bool
	networkUp       atomic.Bool
	networkSigValid atomic.Bool
	mqttConnected   atomic.Bool
	pauseHousekeep  atomic.Bool
	phase           atomic.Int32
	networkUpCount  atomic.Int64
	deniedCount     atomic.Int64
	exitCode        atomic.Int32
}

func New() *State {
	s := &State{}
	s.phase.Store(int32(PhaseManual))
	return s
}

func (s *State) ExitRequested() bool { return s.exitApp.Load() }
func (s *State) RequestExit(code int) {
	s.exitCode.Store(int32(code))
	s.exitApp.Store(true)
}
func (s *State) ExitCode() int { return int(s.exitCode.Load()) }

func (s *State) NetworkUp() bool       { return s.networkUp.Load() }
func (s *State) SetNetworkUp(up bool)  { s.networkUp.Store(up) }
func (s *State) SignalValid() bool     { return s.networkSigValid.Load() }
func (s *State) SetSignalValid(v bool) { s.networkSigValid.Store(v) }

// NetworkAvailable is the IS_NETWORK_AVAILABLE macro: registration up
// AND the last signal-quality reading looked sane.
func (s *State) NetworkAvailable() bool { return s.NetworkUp() && s.SignalValid() }

func (s *State) MQTTConnected() bool     { return s.mqttConnected.Load() }
func (s *State) SetMQTTConnected(v bool) { s.mqttConnected.Store(v) }

func (s *State) HousekeepingPaused() bool { return s.pauseHousekeep.Load() }
func (s *State) PauseHousekeeping(v bool) { s.pauseHousekeep.Store(v) }

func (s *State) Phase() Phase     { return Phase(s.phase.Load()) }
func (s *State) SetPhase(p Phase) { s.phase.Store(int32(p)) }

// IncrementNetworkUpCounter and NetworkUpCounter back the monotone
// network-up counter in the data model; only the registration manager
// calls Increment.
func (s *State) IncrementNetworkUpCounter() int64 { return s.networkUpCount.Add(1) }
func (s *State) NetworkUpCounter() int64          { return s.networkUpCount.Load() }

func (s *State) IncrementDeniedCounter() int64 { return s.deniedCount.Add(1) }
func (s *State) DeniedCounter() int64          { return s.deniedCount.Load() }
