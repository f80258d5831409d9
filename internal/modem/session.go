// Package modem defines the external collaborator the task spine drives
// for every radio/GNSS/MQTT-primitive operation: a single serial-attached
// cellular module. Two implementations exist: Serial, a real session over
// github.com/goburrow/serial, and Sim, a scripted session for tests and
// the modemsim tool.
package modem

import (
	"context"
	"errors"
	"time"
)

// ErrAcquisitionCancelled is returned by GNSSFix when the keep-going
// predicate turns false before a result is available. It is not a
// failure: the caller's in-flight operation simply stops early. ScanNext
// does not return it; a cancelled scan reports ok=false with a nil error.
var ErrAcquisitionCancelled = errors.New("acquisition cancelled")

// KeepGoing is polled periodically during a long-running operation
// (registration bring-up, a GNSS fix, an operator scan). It returns
// false to request early, clean cancellation.
type KeepGoing func() bool

// RegistrationEvent is delivered to the callback installed by
// OnRegistrationStatus. Denied is only meaningful when Up is false.
type RegistrationEvent struct {
	Up     bool
	Denied bool
}

// SignalReading is one signal-quality sample. RSRQ uses math.MaxInt32 to
// represent "not available", matching the original driver's sentinel.
type SignalReading struct {
	RSRP           int32
	RSRQ           int32
	RSSI           int32
	SNR            int32
	RxQual         int32
	LogicalCellID  int32
	PhysicalCellID int32
	EARFCN         int32
}

// Valid implements the networkSignalValid formula from the sampler spec.
func (r SignalReading) Valid() bool {
	const rsrqUnavailable = 1<<31 - 1
	return r.RSRP != 0 && r.RSRQ != rsrqUnavailable && r.RSSI != 0 && r.RxQual != -1
}

// Fix is one GNSS position reading. LatitudeE7/LongitudeE7 are the
// coordinate scaled by 1e7, matching the "signed integer part plus
// 7-digit fraction" wire format.
type Fix struct {
	LatitudeE7  int64
	LongitudeE7 int64
	AltitudeMM  int32
	AccuracyMM  int32
	SpeedMMPS   int32
	UTCUnix     int64
}

// Operator is one entry returned while iterating an operator scan.
type Operator struct {
	Name   string
	MCCMNC string
	RAT    string
}

// ModuleInfo is cached once after the modem session opens.
type ModuleInfo struct {
	Manufacturer string
	Model        string
	Firmware     string
	IMEI         string
	IMSI         string
	ICCID        string
}

// InboundMessage is one message the modem's MQTT primitives have
// buffered and handed back via ReadMessages.
type InboundMessage struct {
	Topic     string // set when the client is in plain-MQTT mode
	ShortName uint16 // set when the client is in MQTT-SN mode
	Payload   string
}

// MQTTConfig carries every connection parameter the spec's
// configuration keys map to.
type MQTTConfig struct {
	BrokerName   string
	Username     string
	Password     string
	ClientID     string
	TimeoutSecs  int
	KeepAlive    bool
	ShortNameMSN bool // true when MQTT_TYPE is MQTT-SN
	Security     bool
	TLSVersion   string
	CipherSuite  string
	ClientName   string
	ClientKey    string
	ServerNameID string
}

// Session is the full set of AT-level primitives the task spine and
// samplers drive. Every blocking method takes a context in addition to
// (where the original has one) a KeepGoing predicate; implementations
// select on both so cancellation has two equivalent triggers.
type Session interface {
	Open(ctx context.Context) error
	Close() error

	Info(ctx context.Context) (ModuleInfo, error)

	OnRegistrationStatus(cb func(RegistrationEvent))
	RegistrationUp(ctx context.Context, keepGoing KeepGoing) error
	RegistrationDown(ctx context.Context) error
	OperatorName(ctx context.Context) (name, mcc, mnc string, err error)
	NetworkTime(ctx context.Context) (time.Time, error)
	NTPTime(ctx context.Context) (time.Time, error)

	SignalQuality(ctx context.Context) (SignalReading, error)

	GNSSOpen(ctx context.Context) error
	GNSSClose(ctx context.Context) error
	GNSSFix(ctx context.Context, keepGoing KeepGoing) (Fix, error)

	ScanStart(ctx context.Context) error
	ScanNext(ctx context.Context, keepGoing KeepGoing) (Operator, bool, error)

	MQTTConnect(ctx context.Context, cfg MQTTConfig) error
	MQTTDisconnect(ctx context.Context) error
	MQTTSetDisconnectCallback(cb func())
	MQTTSetPendingCountCallback(cb func(count int))
	MQTTPublish(ctx context.Context, topic string, payload string, qos int, retain bool) error
	MQTTRegisterTopic(ctx context.Context, topic string) (shortName uint16, err error)
	MQTTPublishShortName(ctx context.Context, shortName uint16, payload string, qos int, retain bool) error
	MQTTSubscribe(ctx context.Context, topic string, qos int) error
	MQTTReadMessages(ctx context.Context, max int) ([]InboundMessage, error)
}
