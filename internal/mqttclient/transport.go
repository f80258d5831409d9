// Package mqttclient implements the MQTT client task: connection
// management, the publish queue, the MQTT-SN short-name registry, and
// inbound dispatch to per-topic command tables.
package mqttclient

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/fisaks/cellagent/internal/logging"
	"github.com/fisaks/cellagent/internal/modem"
)

// Transport is the narrow surface the client drives; it is satisfied by
// a direct paho connection (plain MQTT) or by modem.Session (MQTT-SN,
// where the broker is reached through the modem's own AT-level client).
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SetDisconnectCallback(cb func())
	SetPendingCountCallback(cb func(count int))

	// PublishTopic is used directly in plain-MQTT mode. MQTT-SN mode
	// routes through RegisterTopic/PublishShortName instead.
	PublishTopic(ctx context.Context, topic, payload string, qos int, retain bool) (supported bool, err error)
	RegisterTopic(ctx context.Context, topic string) (shortName uint16, supported bool, err error)
	PublishShortName(ctx context.Context, shortName uint16, payload string, qos int, retain bool) error

	Subscribe(ctx context.Context, topic string, qos int) error
	ReadMessages(ctx context.Context, max int) ([]modem.InboundMessage, error)
}

// PahoTransport wraps github.com/eclipse/paho.mqtt.golang directly, for
// MQTT_TYPE=MQTT. It is adapted from the teacher's internal/mqtt/client.go
// connection-loop and internal/messaging/broker.go publish/subscribe
// shapes: a paho.ClientOptions built from configuration, a
// publish-with-timeout wrapper around the Token, and a subscribe
// callback wrapped in a panic-recovering adapter before it is handed to
// a dispatch.Table.
type PahoTransport struct {
	opts    *mqtt.ClientOptions
	client  mqtt.Client
	timeout time.Duration
	onMsg   func(topic string, payload []byte)
}

// NewPahoTransport builds a transport from the connection parameters;
// cfg mirrors modem.MQTTConfig's fields so both transports share one
// configuration shape at the call site.
func NewPahoTransport(brokerURL string, cfg modem.MQTTConfig, onMsg func(topic string, payload []byte)) *PahoTransport {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetKeepAlive(time.Duration(max(cfg.TimeoutSecs, 1)) * time.Second)

	t := &PahoTransport{opts: opts, timeout: time.Duration(max(cfg.TimeoutSecs, 5)) * time.Second, onMsg: onMsg}
	opts.SetDefaultPublishHandler(func(c mqtt.Client, m mqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("panic in mqtt message handler", "recovered", r)
			}
		}()
		if t.onMsg != nil {
			t.onMsg(m.Topic(), m.Payload())
		}
	})
	t.client = mqtt.NewClient(opts)
	return t
}

func (t *PahoTransport) Connect(ctx context.Context) error {
	tok := t.client.Connect()
	if !tok.WaitTimeout(t.timeout) {
		return fmt.Errorf("connect: timed out after %s", t.timeout)
	}
	return tok.Error()
}

func (t *PahoTransport) Disconnect(ctx context.Context) error {
	t.client.Disconnect(250)
	return nil
}

func (t *PahoTransport) SetDisconnectCallback(cb func()) {
	t.opts.SetConnectionLostHandler(func(mqtt.Client, error) {
		if cb != nil {
			cb()
		}
	})
}

// SetPendingCountCallback is a no-op for plain MQTT: paho delivers
// messages directly via the subscribe callback, there is no separate
// "count of buffered downlink messages" concept to report.
func (t *PahoTransport) SetPendingCountCallback(cb func(int)) {}

func (t *PahoTransport) PublishTopic(ctx context.Context, topic, payload string, qos int, retain bool) (bool, error) {
	tok := t.client.Publish(topic, byte(qos), retain, payload)
	if !tok.WaitTimeout(t.timeout) {
		return true, fmt.Errorf("publish %s: timed out after %s", topic, t.timeout)
	}
	return true, tok.Error()
}

func (t *PahoTransport) RegisterTopic(ctx context.Context, topic string) (uint16, bool, error) {
	return 0, false, nil
}

func (t *PahoTransport) PublishShortName(ctx context.Context, shortName uint16, payload string, qos int, retain bool) error {
	return fmt.Errorf("short-name publish not supported in plain MQTT mode")
}

func (t *PahoTransport) Subscribe(ctx context.Context, topic string, qos int) error {
	tok := t.client.Subscribe(topic, byte(qos), nil)
	if !tok.WaitTimeout(t.timeout) {
		return fmt.Errorf("subscribe %s: timed out after %s", topic, t.timeout)
	}
	return tok.Error()
}

// ReadMessages is a no-op for plain MQTT: inbound delivery happens
// through the subscribe callback (wired to onMsg at construction), not
// through a pending-message poll.
func (t *PahoTransport) ReadMessages(ctx context.Context, max int) ([]modem.InboundMessage, error) {
	return nil, nil
}

// ModemTransport routes every operation through modem.Session's AT-level
// MQTT/MQTT-SN primitives, for MQTT_TYPE=MQTT-SN. It owns no short-name
// cache itself (see Client.shortNames) beyond delegating the raw
// register call to the session, matching the split the original
// mqttTask.c makes between the task's own registry and the device's
// AT-level MQTT-SN commands.
type ModemTransport struct {
	session modem.Session
	cfg     modem.MQTTConfig
}

func NewModemTransport(session modem.Session, cfg modem.MQTTConfig) *ModemTransport {
	return &ModemTransport{session: session, cfg: cfg}
}

func (t *ModemTransport) Connect(ctx context.Context) error { return t.session.MQTTConnect(ctx, t.cfg) }
func (t *ModemTransport) Disconnect(ctx context.Context) error {
	return t.session.MQTTDisconnect(ctx)
}
func (t *ModemTransport) SetDisconnectCallback(cb func())       { t.session.MQTTSetDisconnectCallback(cb) }
func (t *ModemTransport) SetPendingCountCallback(cb func(int)) { t.session.MQTTSetPendingCountCallback(cb) }

func (t *ModemTransport) PublishTopic(ctx context.Context, topic, payload string, qos int, retain bool) (bool, error) {
	return false, nil
}

func (t *ModemTransport) RegisterTopic(ctx context.Context, topic string) (uint16, bool, error) {
	id, err := t.session.MQTTRegisterTopic(ctx, topic)
	return id, true, err
}

func (t *ModemTransport) PublishShortName(ctx context.Context, shortName uint16, payload string, qos int, retain bool) error {
	return t.session.MQTTPublishShortName(ctx, shortName, payload, qos, retain)
}

func (t *ModemTransport) Subscribe(ctx context.Context, topic string, qos int) error {
	return t.session.MQTTSubscribe(ctx, topic, qos)
}

func (t *ModemTransport) ReadMessages(ctx context.Context, max int) ([]modem.InboundMessage, error) {
	return t.session.MQTTReadMessages(ctx, max)
}
