package modem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fisaks/cellagent/internal/apperr"
)

// Sim is a scripted Session used by tests and by the modemsim tool in
// place of a real serial device. It replays a Fixture deterministically
// and lets a test inject inbound MQTT messages directly.
type Sim struct {
	fixture *Fixture

	mu              sync.Mutex
	signalIdx       int
	fixIdx          int
	scanIdx         int
	open            bool
	gnssOpen        bool
	registered      bool
	mqttConnected   bool
	published       []PublishedItem
	registeredNames map[string]uint16
	nextShortName   uint16
	inbound         []InboundMessage
	disconnectCb    func()
	pendingCountCb  func(int)
	registrationCb  func(RegistrationEvent)
}

type PublishedItem struct {
	Topic     string
	ShortName uint16
	Payload   string
	QoS       int
	Retain    bool
}

// NewSim constructs a simulated session from a parsed fixture.
func NewSim(f *Fixture) *Sim {
	return &Sim{
		fixture:         f,
		registeredNames: make(map[string]uint16),
		nextShortName:   1,
	}
}

// Published returns every item handed to MQTTPublish/MQTTPublishShortName
// so far, for test assertions.
func (s *Sim) Published() []PublishedItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PublishedItem, len(s.published))
	copy(out, s.published)
	return out
}

// InjectInbound makes msg available to the next MQTTReadMessages call.
func (s *Sim) InjectInbound(msg InboundMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbound = append(s.inbound, msg)
	if s.pendingCountCb != nil {
		s.pendingCountCb(len(s.inbound))
	}
}

func (s *Sim) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	return nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

func (s *Sim) Info(ctx context.Context) (ModuleInfo, error) { return s.fixture.Info, nil }

func (s *Sim) OnRegistrationStatus(cb func(RegistrationEvent)) { s.registrationCb = cb }

func (s *Sim) RegistrationUp(ctx context.Context, keepGoing KeepGoing) error {
	if s.fixture.RegistrationFail {
		return &apperr.ModemError{Code: 34, Op: "registration"}
	}
	if !keepGoing() {
		return ErrAcquisitionCancelled
	}
	s.mu.Lock()
	s.registered = true
	s.mu.Unlock()
	if s.registrationCb != nil {
		s.registrationCb(RegistrationEvent{Up: true})
	}
	return nil
}

func (s *Sim) RegistrationDown(ctx context.Context) error {
	s.mu.Lock()
	s.registered = false
	s.mu.Unlock()
	if s.registrationCb != nil {
		s.registrationCb(RegistrationEvent{Up: false})
	}
	return nil
}

func (s *Sim) OperatorName(ctx context.Context) (string, string, string, error) {
	return s.fixture.OperatorName, s.fixture.OperatorMCC, s.fixture.OperatorMNC, nil
}

func (s *Sim) NetworkTime(ctx context.Context) (time.Time, error) { return s.fixture.networkTime(), nil }
func (s *Sim) NTPTime(ctx context.Context) (time.Time, error)     { return s.fixture.ntpTime(), nil }

func (s *Sim) SignalQuality(ctx context.Context) (SignalReading, error) {
	readings := s.fixture.SignalReadings
	if len(readings) == 0 {
		return SignalReading{}, fmt.Errorf("fixture has no signal readings")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := readings[s.signalIdx%len(readings)]
	s.signalIdx++
	return r, nil
}

func (s *Sim) GNSSOpen(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gnssOpen = true
	return nil
}

func (s *Sim) GNSSClose(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gnssOpen = false
	return nil
}

func (s *Sim) GNSSFix(ctx context.Context, keepGoing KeepGoing) (Fix, error) {
	if !keepGoing() {
		return Fix{}, ErrAcquisitionCancelled
	}
	fixes := s.fixture.Fixes
	if len(fixes) == 0 {
		return Fix{}, fmt.Errorf("fixture has no GNSS fixes")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f := fixes[s.fixIdx%len(fixes)]
	s.fixIdx++
	return f, nil
}

func (s *Sim) ScanStart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanIdx = 0
	return nil
}

func (s *Sim) ScanNext(ctx context.Context, keepGoing KeepGoing) (Operator, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !keepGoing() || s.scanIdx >= len(s.fixture.ScanResults) {
		return Operator{}, false, nil
	}
	op := s.fixture.ScanResults[s.scanIdx]
	s.scanIdx++
	return op, true, nil
}

func (s *Sim) MQTTConnect(ctx context.Context, cfg MQTTConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mqttConnected = true
	return nil
}

func (s *Sim) MQTTDisconnect(ctx context.Context) error {
	s.mu.Lock()
	s.mqttConnected = false
	s.mu.Unlock()
	if s.disconnectCb != nil {
		s.disconnectCb()
	}
	return nil
}

func (s *Sim) MQTTSetDisconnectCallback(cb func())       { s.disconnectCb = cb }
func (s *Sim) MQTTSetPendingCountCallback(cb func(int)) { s.pendingCountCb = cb }

func (s *Sim) MQTTPublish(ctx context.Context, topic, payload string, qos int, retain bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, PublishedItem{Topic: topic, Payload: payload, QoS: qos, Retain: retain})
	return nil
}

func (s *Sim) MQTTRegisterTopic(ctx context.Context, topic string) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.registeredNames[topic]; ok {
		return id, nil
	}
	id := s.nextShortName
	s.nextShortName++
	s.registeredNames[topic] = id
	return id, nil
}

func (s *Sim) MQTTPublishShortName(ctx context.Context, shortName uint16, payload string, qos int, retain bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, PublishedItem{ShortName: shortName, Payload: payload, QoS: qos, Retain: retain})
	return nil
}

func (s *Sim) MQTTSubscribe(ctx context.Context, topic string, qos int) error { return nil }

func (s *Sim) MQTTReadMessages(ctx context.Context, max int) ([]InboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inbound) == 0 {
		return nil, nil
	}
	n := max
	if n > len(s.inbound) {
		n = len(s.inbound)
	}
	out := s.inbound[:n]
	s.inbound = s.inbound[n:]
	return out, nil
}
