// Package apperr defines the typed errors shared across the agent,
// matching the error taxonomy the agent is expected to discriminate
// between at call sites (configuration, modem, transient network,
// resource exhaustion, protocol, cancellation).
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull is returned by a task's command send when its inbox is
	// at capacity. The spine never retries on behalf of the caller.
	ErrQueueFull = errors.New("command queue full")

	// ErrNotRunning is returned when an operation requires a task's
	// worker loop to be active and it is not.
	ErrNotRunning = errors.New("task not running")

	// ErrNotInitialised is returned when an operation is attempted
	// before a task has completed its one-time init.
	ErrNotInitialised = errors.New("task not initialised")

	// ErrNotConnected is returned by the MQTT client when a publish or
	// subscribe is attempted while disconnected from the broker/gateway.
	ErrNotConnected = errors.New("mqtt client not connected")

	// ErrNetworkUnavailable is returned when an operation that requires
	// cellular network availability is attempted while it is down.
	ErrNetworkUnavailable = errors.New("cellular network unavailable")

	// ErrStopTimeout is returned by stopAndWait when a task's worker did
	// not exit within the allotted budget.
	ErrStopTimeout = errors.New("timed out waiting for task to stop")

	// ErrUnknownTopic and ErrUnknownCommand back the "protocol error"
	// case in the error taxonomy: logged and the inbound message is
	// simply discarded, never propagated as a fatal condition.
	ErrUnknownTopic   = errors.New("no subscription registered for topic")
	ErrUnknownCommand = errors.New("no handler registered for command")
)

// ModemError wraps the negative integer error codes the modem driver
// returns from every AT-level call. Code 34 ("no network service") is
// the one the MQTT client's publish-error recovery heuristic singles
// out (see mqttclient).
type ModemError struct {
	Code int
	Op   string
}

func (e *ModemError) Error() string {
	return fmt.Sprintf("modem error %d during %s", e.Code, e.Op)
}

// NoNetworkService reports whether this is modem error 34, the specific
// code that triggers a forced MQTT reconnect when the network is
// otherwise reported as available.
func (e *ModemError) NoNetworkService() bool { return e.Code == 34 }

// IsNoNetworkService is a convenience wrapper around errors.As for
// callers that only have an `error`, not a concrete *ModemError.
func IsNoNetworkService(err error) bool {
	var me *ModemError
	if errors.As(err, &me) {
		return me.NoNetworkService()
	}
	return false
}

// IsNotConnectedYet reports whether err is (or wraps) ErrNotConnected,
// the one subscribe failure the subscribe-retry loop treats as
// transient rather than fatal to the subscription attempt.
func IsNotConnectedYet(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
