package modem

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goburrow/serial"

	"github.com/fisaks/cellagent/internal/apperr"
	"github.com/fisaks/cellagent/internal/logging"
)

// Serial is the real Session implementation: an AT-command line
// protocol over a serial device. Connect/reconnect follows the same
// shape as the teacher's Modbus client (ensureConnected/bumpBackoff/
// isTransient): classify I/O errors as transient by substring match and
// back off exponentially between 200 ms and 5 s, rather than failing
// the caller on the first transport hiccup.
type Serial struct {
	device string
	baud   int

	mu      sync.Mutex
	port    serial.Port
	reader  *bufio.Scanner
	backoff time.Duration

	disconnectCb    func()
	pendingCountCb  func(int)
	registrationCb  func(RegistrationEvent)
	scanExhausted   bool
	registeredNames map[string]uint16
	nextShortName   uint16
}

const (
	minBackoff = 200 * time.Millisecond
	maxBackoff = 5 * time.Second
)

// NewSerial constructs a Serial session for the given device path
// (e.g. "/dev/ttyUSB0") at the given baud rate. Dial happens in Open.
func NewSerial(device string, baud int) *Serial {
	return &Serial{
		device:          device,
		baud:            baud,
		backoff:         minBackoff,
		registeredNames: make(map[string]uint16),
		nextShortName:   1,
	}
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range []string{"timeout", "busy", "reset", "broken pipe", "no such device", "i/o error"} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func (s *Serial) bumpBackoff() {
	s.backoff *= 2
	if s.backoff > maxBackoff {
		s.backoff = maxBackoff
	}
}

func (s *Serial) resetBackoff() { s.backoff = minBackoff }

func (s *Serial) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureConnectedLocked(ctx)
}

func (s *Serial) ensureConnectedLocked(ctx context.Context) error {
	if s.port != nil {
		return nil
	}
	for {
		port, err := serial.Open(&serial.Config{
			Address:  s.device,
			BaudRate: s.baud,
			DataBits: 8,
			StopBits: 1,
			Parity:   "N",
			Timeout:  2 * time.Second,
		})
		if err == nil {
			s.port = port
			s.reader = bufio.NewScanner(port)
			s.resetBackoff()
			return nil
		}
		if !isTransient(err) {
			return fmt.Errorf("open serial %s: %w", s.device, err)
		}
		logging.Warn("modem serial open failed, retrying", "device", s.device, "err", err, "backoff", s.backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.backoff):
		}
		s.bumpBackoff()
	}
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// sendAT writes one AT command line and reads one response line. A
// transient write error or any read error drops the port so the next
// call reopens it; the failed command itself is returned as an error,
// not retried.
func (s *Serial) sendAT(ctx context.Context, cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureConnectedLocked(ctx); err != nil {
		return "", err
	}
	if _, err := s.port.Write([]byte(cmd + "\r\n")); err != nil {
		if isTransient(err) {
			s.port = nil
		}
		return "", fmt.Errorf("write %q: %w", cmd, err)
	}
	if !s.reader.Scan() {
		if err := s.reader.Err(); err != nil {
			s.port = nil
			return "", fmt.Errorf("read response to %q: %w", cmd, err)
		}
		return "", fmt.Errorf("read response to %q: closed", cmd)
	}
	return strings.TrimSpace(s.reader.Text()), nil
}

func (s *Serial) Info(ctx context.Context) (ModuleInfo, error) {
	line, err := s.sendAT(ctx, "AT+CGMI;+CGMM;+CGMR;+CGSN;+CIMI;+CCID")
	if err != nil {
		return ModuleInfo{}, err
	}
	fields := strings.Split(line, ",")
	info := ModuleInfo{}
	if len(fields) >= 6 {
		info.Manufacturer, info.Model, info.Firmware = fields[0], fields[1], fields[2]
		info.IMEI, info.IMSI, info.ICCID = fields[3], fields[4], fields[5]
	}
	return info, nil
}

func (s *Serial) OnRegistrationStatus(cb func(RegistrationEvent)) { s.registrationCb = cb }

func (s *Serial) RegistrationUp(ctx context.Context, keepGoing KeepGoing) error {
	deadline := time.Now().Add(240 * time.Second)
	if _, err := s.sendAT(ctx, "AT+CFUN=1"); err != nil {
		return err
	}
	for time.Now().Before(deadline) {
		if !keepGoing() || ctx.Err() != nil {
			return ctx.Err()
		}
		resp, err := s.sendAT(ctx, "AT+CEREG?")
		if err != nil {
			return err
		}
		if strings.Contains(resp, "+CEREG: 1") || strings.Contains(resp, "+CEREG: 5") {
			if s.registrationCb != nil {
				s.registrationCb(RegistrationEvent{Up: true})
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return &apperr.ModemError{Code: 34, Op: "registration timeout"}
}

func (s *Serial) RegistrationDown(ctx context.Context) error {
	_, err := s.sendAT(ctx, "AT+CFUN=0")
	if err == nil && s.registrationCb != nil {
		s.registrationCb(RegistrationEvent{Up: false})
	}
	return err
}

func (s *Serial) OperatorName(ctx context.Context) (name, mcc, mnc string, err error) {
	resp, err := s.sendAT(ctx, "AT+COPS?")
	if err != nil {
		return "", "", "", err
	}
	parts := strings.Split(resp, ",")
	if len(parts) < 3 {
		return "", "", "", fmt.Errorf("unexpected +COPS response: %q", resp)
	}
	name = strings.Trim(parts[2], "\"")
	plmn := strings.Trim(parts[1], "\" ")
	if len(plmn) >= 5 {
		mcc, mnc = plmn[:3], plmn[3:]
	}
	return name, mcc, mnc, nil
}

func (s *Serial) NetworkTime(ctx context.Context) (time.Time, error) {
	resp, err := s.sendAT(ctx, "AT+CCLK?")
	if err != nil {
		return time.Time{}, err
	}
	clk := strings.Trim(strings.TrimPrefix(resp, "+CCLK: "), "\"")
	return time.Parse("06/01/02,15:04:05", clk)
}

func (s *Serial) NTPTime(ctx context.Context) (time.Time, error) {
	resp, err := s.sendAT(ctx, "AT+UTIME=1")
	if err != nil {
		return time.Time{}, err
	}
	unix, err := strconv.ParseInt(strings.TrimPrefix(resp, "+UTIME: "), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(unix, 0).UTC(), nil
}

func (s *Serial) SignalQuality(ctx context.Context) (SignalReading, error) {
	resp, err := s.sendAT(ctx, "AT+UCGED=5")
	if err != nil {
		return SignalReading{}, err
	}
	return parseSignalReading(resp)
}

func parseSignalReading(resp string) (SignalReading, error) {
	fields := strings.Split(strings.TrimPrefix(resp, "+UCGED: "), ",")
	if len(fields) < 7 {
		return SignalReading{}, fmt.Errorf("unexpected +UCGED response: %q", resp)
	}
	atoi := func(s string) int32 {
		n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
		return int32(n)
	}
	return SignalReading{
		RSRP:           atoi(fields[0]),
		RSRQ:           atoi(fields[1]),
		RSSI:           atoi(fields[2]),
		SNR:            atoi(fields[3]),
		RxQual:         atoi(fields[4]),
		LogicalCellID:  atoi(fields[5]),
		PhysicalCellID: atoi(fields[6]),
	}, nil
}

func (s *Serial) GNSSOpen(ctx context.Context) error {
	_, err := s.sendAT(ctx, "AT+UGPS=1")
	return err
}

func (s *Serial) GNSSClose(ctx context.Context) error {
	_, err := s.sendAT(ctx, "AT+UGPS=0")
	return err
}

func (s *Serial) GNSSFix(ctx context.Context, keepGoing KeepGoing) (Fix, error) {
	if !keepGoing() {
		return Fix{}, ErrAcquisitionCancelled
	}
	resp, err := s.sendAT(ctx, "AT+UGGGA?")
	if err != nil {
		return Fix{}, err
	}
	fields := strings.Split(strings.TrimPrefix(resp, "+UGGGA: "), ",")
	if len(fields) < 6 {
		return Fix{}, fmt.Errorf("unexpected GNSS response: %q", resp)
	}
	atoi := func(s string) int64 {
		n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		return n
	}
	return Fix{
		LatitudeE7:  atoi(fields[0]),
		LongitudeE7: atoi(fields[1]),
		AltitudeMM:  int32(atoi(fields[2])),
		AccuracyMM:  int32(atoi(fields[3])),
		SpeedMMPS:   int32(atoi(fields[4])),
		UTCUnix:     atoi(fields[5]),
	}, nil
}

func (s *Serial) ScanStart(ctx context.Context) error {
	s.scanExhausted = false
	_, err := s.sendAT(ctx, "AT+COPS=?")
	return err
}

func (s *Serial) ScanNext(ctx context.Context, keepGoing KeepGoing) (Operator, bool, error) {
	if s.scanExhausted || !keepGoing() {
		return Operator{}, false, nil
	}
	resp, err := s.sendAT(ctx, "AT+UCOPN?")
	if err != nil {
		return Operator{}, false, err
	}
	if resp == "" || resp == "OK" {
		s.scanExhausted = true
		return Operator{}, false, nil
	}
	fields := strings.Split(strings.TrimPrefix(resp, "+UCOPN: "), ",")
	if len(fields) < 3 {
		s.scanExhausted = true
		return Operator{}, false, nil
	}
	return Operator{Name: strings.Trim(fields[0], "\""), MCCMNC: strings.Trim(fields[1], "\""), RAT: strings.Trim(fields[2], "\"")}, true, nil
}

func (s *Serial) MQTTConnect(ctx context.Context, cfg MQTTConfig) error {
	cmd := fmt.Sprintf("AT+UMQTTC=1,%q,%q,%q", cfg.BrokerName, cfg.Username, cfg.ClientID)
	_, err := s.sendAT(ctx, cmd)
	return err
}

func (s *Serial) MQTTDisconnect(ctx context.Context) error {
	_, err := s.sendAT(ctx, "AT+UMQTTC=0")
	if err == nil && s.disconnectCb != nil {
		s.disconnectCb()
	}
	return err
}

func (s *Serial) MQTTSetDisconnectCallback(cb func())       { s.disconnectCb = cb }
func (s *Serial) MQTTSetPendingCountCallback(cb func(int)) { s.pendingCountCb = cb }

func (s *Serial) MQTTPublish(ctx context.Context, topic, payload string, qos int, retain bool) error {
	cmd := fmt.Sprintf("AT+UMQTTC=2,%d,%d,%q,%q", qos, boolToInt(retain), topic, payload)
	_, err := s.sendAT(ctx, cmd)
	return err
}

func (s *Serial) MQTTRegisterTopic(ctx context.Context, topic string) (uint16, error) {
	if id, ok := s.registeredNames[topic]; ok {
		return id, nil
	}
	if _, err := s.sendAT(ctx, fmt.Sprintf("AT+UMQTTC=9,%q", topic)); err != nil {
		return 0, err
	}
	id := s.nextShortName
	s.nextShortName++
	s.registeredNames[topic] = id
	return id, nil
}

func (s *Serial) MQTTPublishShortName(ctx context.Context, shortName uint16, payload string, qos int, retain bool) error {
	cmd := fmt.Sprintf("AT+UMQTTC=10,%d,%d,%d,%q", shortName, qos, boolToInt(retain), payload)
	_, err := s.sendAT(ctx, cmd)
	return err
}

func (s *Serial) MQTTSubscribe(ctx context.Context, topic string, qos int) error {
	_, err := s.sendAT(ctx, fmt.Sprintf("AT+UMQTTC=4,%d,%q", qos, topic))
	return err
}

func (s *Serial) MQTTReadMessages(ctx context.Context, max int) ([]InboundMessage, error) {
	resp, err := s.sendAT(ctx, fmt.Sprintf("AT+UMQTTC=6,%d", max))
	if err != nil {
		return nil, err
	}
	if resp == "" {
		return nil, nil
	}
	var out []InboundMessage
	for _, line := range strings.Split(resp, ";") {
		fields := strings.SplitN(line, ",", 2)
		if len(fields) != 2 {
			continue
		}
		out = append(out, InboundMessage{Topic: strings.Trim(fields[0], "\""), Payload: fields[1]})
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
