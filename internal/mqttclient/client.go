package mqttclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fisaks/cellagent/internal/apperr"
	"github.com/fisaks/cellagent/internal/appstate"
	"github.com/fisaks/cellagent/internal/apptask"
	"github.com/fisaks/cellagent/internal/dispatch"
	"github.com/fisaks/cellagent/internal/logging"
	"github.com/fisaks/cellagent/internal/modem"
)

// ModeMQTT and ModeMQTTSN select which transport variant Publish uses.
const (
	ModeMQTT   = "MQTT"
	ModeMQTTSN = "MQTT-SN"
)

type subscription struct {
	topic     string
	qos       int
	shortName uint16
	table     dispatch.Table
}

type outboundItem struct {
	topic   string
	payload string
	qos     int
	retain  bool
	id      uint64
}

// Client is the MQTT client task: one apptask.Task driving a connection
// state machine, a publish queue, a short-name registry, and inbound
// dispatch to per-topic command tables.
type Client struct {
	task      *apptask.Task
	transport Transport
	state     *appstate.State
	mode      string

	connected     atomic.Bool
	tryReconnect  atomic.Bool
	pendingCount  atomic.Int32
	nextID        atomic.Uint64
	lastErrCode   atomic.Int32

	mu         sync.RWMutex
	subs       map[string]*subscription // by topic name
	byShort    map[uint16]*subscription
	shortNames map[string]uint16

	initialisedCh chan struct{}
	runningCh     chan struct{}
	runningOnce   sync.Once
}

// New builds the MQTT client task. queueSize follows §4.2's MQTT-task
// figure (10); dwellSeconds is the idle-poll cadence when connected with
// nothing pending.
func New(transport Transport, state *appstate.State, mode string, dwellSeconds int) *Client {
	return &Client{
		task:          apptask.New(apptask.MQTTClientTask, "MQTT", 10, dwellSeconds, false),
		transport:     transport,
		state:         state,
		mode:          mode,
		subs:          make(map[string]*subscription),
		byShort:       make(map[uint16]*subscription),
		shortNames:    make(map[string]uint16),
		initialisedCh: make(chan struct{}),
		runningCh:     make(chan struct{}),
	}
}

// Init wires the disconnect/pending-count callbacks and closes the
// readiness gate used by Subscribe.
func (c *Client) Init() error {
	return c.task.Init(func() error {
		c.transport.SetDisconnectCallback(func() {
			c.connected.Store(false)
			c.state.SetMQTTConnected(false)
			c.state.SetPhase(appstate.PhaseMQTTDisconnected)
		})
		c.transport.SetPendingCountCallback(func(n int) { c.pendingCount.Store(int32(n)) })
		close(c.initialisedCh)
		return nil
	})
}

// Run starts the connection loop's worker goroutine.
func (c *Client) Run(ctx context.Context) error {
	err := c.task.StartLoop(ctx, c.runOnce)
	if err == nil {
		c.runningOnce.Do(func() { close(c.runningCh) })
	}
	return err
}

func (c *Client) Connected() bool { return c.connected.Load() }

// runOnce is one iteration of the §4.3 connection loop.
func (c *Client) runOnce(ctx context.Context) {
	if !c.connected.Load() {
		if c.state.NetworkAvailable() {
			c.state.SetPhase(appstate.PhaseMQTTConnecting)
			if err := c.transport.Connect(ctx); err != nil {
				logging.Warn("mqtt connect failed", "err", err)
				c.tryReconnect.Store(false)
				time.Sleep(5 * time.Second)
				return
			}
			c.connected.Store(true)
			c.tryReconnect.Store(false)
			c.state.SetMQTTConnected(true)
			c.state.SetPhase(appstate.PhaseMQTTConnected)
		} else {
			time.Sleep(2 * time.Second)
			return
		}
	}

	if n := c.pendingCount.Load(); n > 0 {
		c.drainInbound(ctx, int(n))
	}
	c.drainOutbound(ctx)
}

func (c *Client) drainOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-c.task.Receive():
			item, ok := msg.Payload.(outboundItem)
			if !ok {
				continue
			}
			c.publishItem(ctx, item)
		default:
			return
		}
	}
}

func (c *Client) publishItem(ctx context.Context, item outboundItem) {
	var err error
	if c.mode == ModeMQTTSN {
		shortName, regErr := c.resolveShortName(ctx, item.topic)
		if regErr != nil {
			err = regErr
		} else {
			err = c.transport.PublishShortName(ctx, shortName, item.payload, item.qos, item.retain)
		}
	} else {
		_, err = c.transport.PublishTopic(ctx, item.topic, item.payload, item.qos, item.retain)
	}
	if err == nil {
		return
	}
	if apperr.IsNoNetworkService(err) && c.state.NetworkUp() {
		logging.Warn("publish failed with no-network-service, forcing reconnect", "topic", item.topic)
		c.transport.Disconnect(ctx)
		c.connected.Store(false)
		c.tryReconnect.Store(true)
		return
	}
	logging.Warn("publish failed, dropping message", "topic", item.topic, "err", err)
}

func (c *Client) resolveShortName(ctx context.Context, topic string) (uint16, error) {
	c.mu.RLock()
	id, ok := c.shortNames[topic]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.shortNames[topic]; ok {
		return id, nil
	}
	id, _, err := c.transport.RegisterTopic(ctx, topic)
	if err != nil {
		return 0, err
	}
	c.shortNames[topic] = id
	return id, nil
}

func (c *Client) drainInbound(ctx context.Context, max int) {
	msgs, err := c.transport.ReadMessages(ctx, max)
	if err != nil {
		logging.Warn("reading inbound mqtt messages failed", "err", err)
		return
	}
	for _, m := range msgs {
		c.dispatchOne(m)
	}
}

func (c *Client) dispatchOne(m modem.InboundMessage) {
	c.mu.RLock()
	var sub *subscription
	if m.Topic != "" {
		sub = c.subs[m.Topic]
	} else {
		sub = c.byShort[m.ShortName]
	}
	c.mu.RUnlock()

	if sub == nil {
		logging.Warn("dropping message on unknown topic", "topic", m.Topic, "shortName", m.ShortName)
		return
	}
	name, params := dispatch.Command(m.Payload)
	handled, err := sub.table.Dispatch(name, params)
	if !handled {
		logging.Warn("dropping message with unknown command", "topic", sub.topic, "command", name)
		return
	}
	if err != nil {
		logging.Warn("command handler returned an error", "topic", sub.topic, "command", name, "err", err)
	}
}

// Publish enqueues an outbound item; see §4.3 for the validation order.
func (c *Client) Publish(topic, payload string, qos int, retain bool) error {
	if !c.task.Running() {
		return apperr.ErrNotRunning
	}
	if !c.state.NetworkAvailable() {
		return apperr.ErrNetworkUnavailable
	}
	if !c.connected.Load() {
		c.tryReconnect.Store(true)
		return apperr.ErrNotConnected
	}
	item := outboundItem{topic: topic, payload: payload, qos: qos, retain: retain, id: c.nextID.Add(1)}
	return c.task.Send(apptask.Message{Tag: "PUBLISH", Payload: item})
}

// Subscribe builds the full topic name from the agent's topic header and
// IMEI, waits for the client to be initialised and running (via the
// readiness channels, polling at the same 500 ms / 2 s intervals the
// original's polling loop used), then subscribes and registers table as
// the command handlers for inbound messages on that topic.
func (c *Client) Subscribe(ctx context.Context, topicHeader, imei, suffix string, qos int, table dispatch.Table) error {
	initTicker := time.NewTicker(500 * time.Millisecond)
	defer initTicker.Stop()
	for !c.task.Initialised() {
		select {
		case <-c.initialisedCh:
		case <-initTicker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		if c.task.Initialised() {
			break
		}
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for !c.task.Running() {
		select {
		case <-c.runningCh:
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		if c.task.Running() {
			break
		}
	}

	topic := fmt.Sprintf("%s/%s/%s", topicHeader, imei, suffix)

	var shortName uint16
	var err error
	for {
		err = c.transport.Subscribe(ctx, topic, qos)
		if err == nil {
			break
		}
		if !apperr.IsNotConnectedYet(err) {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.mode == ModeMQTTSN {
		shortName, err = c.resolveShortName(ctx, topic)
		if err != nil {
			return fmt.Errorf("register short name for %s: %w", topic, err)
		}
	}

	sub := &subscription{topic: topic, qos: qos, shortName: shortName, table: table}
	c.mu.Lock()
	c.subs[topic] = sub
	if shortName != 0 {
		c.byShort[shortName] = sub
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) Finalize() error {
	c.mu.Lock()
	c.subs = make(map[string]*subscription)
	c.byShort = make(map[uint16]*subscription)
	c.mu.Unlock()
	return nil
}

func (c *Client) Task() *apptask.Task { return c.task }
