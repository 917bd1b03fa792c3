// Package bus connects Tsumiki to the Stack-chan robot over MQTT.
//
// The broker offers no request/response semantics, so the package layers a
// correlation table on top of fire-and-forget publishes: every command goes
// out with a fresh request id, and the inbound ack handler resolves the
// matching waiter. The latest device state report is cached with a timestamp
// and only served while fresh.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/bdobrica/Tsumiki/common/backoff"
	"github.com/bdobrica/Tsumiki/internal/tsumiki/command"
)

// Config holds bus connection and dispatch settings.
type Config struct {
	URL      string
	Username string
	Password string
	ClientID string

	CmdTopic   string
	AckTopic   string
	StateTopic string

	// AckTimeout is how long a single attempt waits for the device ack.
	AckTimeout time.Duration
	// MaxAttempts and BaseDelay control the retry policy for SendCommand.
	MaxAttempts int
	BaseDelay   time.Duration
}

// Defaults for the dispatch policy.
const (
	DefaultAckTimeout  = 8 * time.Second
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultStateMaxAge = 30 * time.Second

	reconnectPeriod = 2 * time.Second
	publishTimeout  = 5 * time.Second
)

// ErrAckTimeout is returned when the device does not acknowledge a command
// attempt within the deadline.
var ErrAckTimeout = errors.New("timed out waiting for device ack")

// Client is the bus transport adapter plus the command dispatcher built on it.
type Client struct {
	cfg     Config
	mqtt    mqtt.Client
	pending *pendingTable
	state   *stateCache

	// publish is swapped out by tests; production wiring points at paho.
	publish func(topic string, payload []byte) error
}

// New creates a Client. The connection is established by Connect.
func New(cfg Config) *Client {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "tsumiki-" + uuid.NewString()[:8]
	}

	c := &Client{
		cfg:     cfg,
		pending: newPendingTable(),
		state:   &stateCache{},
	}
	c.publish = c.publishMQTT

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(reconnectPeriod).
		SetMaxReconnectInterval(reconnectPeriod).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.Error("MQTT connection lost; reconnecting", "err", err)
		})

	c.mqtt = mqtt.NewClient(opts)
	return c
}

// Connect establishes the broker connection and blocks until the first
// connect succeeds. Reconnection after that is automatic and surfaces only
// in the logs.
func (c *Client) Connect() error {
	token := c.mqtt.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to broker %s: %w", c.cfg.URL, err)
	}
	return nil
}

// Close gracefully ends the broker connection. Safe to call once on every
// shutdown path.
func (c *Client) Close() {
	slog.Info("closing MQTT client")
	c.mqtt.Disconnect(250)
}

// onConnect runs on every (re)connect so subscriptions survive broker drops.
func (c *Client) onConnect(_ mqtt.Client) {
	slog.Info("MQTT connected", "broker", c.cfg.URL)
	if token := c.mqtt.Subscribe(c.cfg.AckTopic, 0, c.onAckMessage); token.Wait() && token.Error() != nil {
		slog.Error("subscribe failed", "topic", c.cfg.AckTopic, "err", token.Error())
	}
	if token := c.mqtt.Subscribe(c.cfg.StateTopic, 0, c.onStateMessage); token.Wait() && token.Error() != nil {
		slog.Error("subscribe failed", "topic", c.cfg.StateTopic, "err", token.Error())
	}
}

func (c *Client) onAckMessage(_ mqtt.Client, msg mqtt.Message) {
	c.handleAckPayload(msg.Payload())
}

func (c *Client) onStateMessage(_ mqtt.Client, msg mqtt.Message) {
	c.handleStatePayload(msg.Payload(), time.Now())
}

// handleAckPayload parses an inbound ack and resolves the matching waiter.
// Malformed payloads and unmatched ids are dropped, never fatal.
func (c *Client) handleAckPayload(payload []byte) {
	var ack Ack
	if err := json.Unmarshal(payload, &ack); err != nil {
		slog.Error("failed to parse ack", "err", err)
		return
	}
	if !c.pending.resolve(ack) {
		slog.Debug("ack with no pending request", "id", ack.ID)
	}
}

// handleStatePayload parses an inbound state report and replaces the cached
// snapshot, stamped with the arrival time.
func (c *Client) handleStatePayload(payload []byte, now time.Time) {
	var snap StateSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		slog.Error("failed to parse state", "err", err)
		return
	}
	c.state.store(snap, now)
	slog.Debug("device state updated")
}

func (c *Client) publishMQTT(topic string, payload []byte) error {
	token := c.mqtt.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s: transport did not accept write in %v", topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// PublishJSON sends a one-way JSON notification that expects no ack,
// bypassing the correlation table entirely.
func (c *Client) PublishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", topic, err)
	}
	return c.publish(topic, data)
}

// wireEnvelope is the shape published on the command topic.
type wireEnvelope struct {
	ID      string          `json:"id"`
	Type    command.Type    `json:"type"`
	Payload command.Payload `json:"payload"`
}

// SendCommand publishes cmd on the command topic and waits for the matching
// ack. Publish failures and ack timeouts are retried with exponential
// backoff; every attempt uses a brand-new request id, so a late ack for an
// abandoned attempt drops harmlessly as unmatched. The error from the last
// attempt surfaces once attempts are exhausted.
func (c *Client) SendCommand(ctx context.Context, cmd command.Command) (Ack, error) {
	var ack Ack
	policy := backoff.Policy{
		MaxAttempts: c.cfg.MaxAttempts,
		BaseDelay:   c.cfg.BaseDelay,
	}

	err := backoff.Retry(ctx, policy, func() error {
		var err error
		ack, err = c.attempt(ctx, cmd)
		return err
	})
	if err != nil {
		return Ack{}, err
	}
	return ack, nil
}

// attempt performs one publish-and-wait cycle with a fresh request id.
// The waiter is registered before the publish so an ack arriving faster than
// the registration cannot be lost.
func (c *Client) attempt(ctx context.Context, cmd command.Command) (Ack, error) {
	id := uuid.NewString()

	data, err := json.Marshal(wireEnvelope{ID: id, Type: cmd.Type, Payload: cmd.Payload})
	if err != nil {
		return Ack{}, fmt.Errorf("marshal command: %w", err)
	}

	ch := c.pending.add(id)
	if err := c.publish(c.cfg.CmdTopic, data); err != nil {
		c.pending.remove(id)
		return Ack{}, err
	}

	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case ack := <-ch:
		return ack, nil
	case <-timer.C:
		c.pending.remove(id)
		return Ack{}, fmt.Errorf("%w (id %s)", ErrAckTimeout, id)
	case <-ctx.Done():
		c.pending.remove(id)
		return Ack{}, ctx.Err()
	}
}

// FreshState returns the latest device snapshot if it is no older than
// maxAge. Pass 0 for the 30s default.
func (c *Client) FreshState(maxAge time.Duration) (StateSnapshot, bool) {
	if maxAge <= 0 {
		maxAge = DefaultStateMaxAge
	}
	return c.state.fresh(time.Now(), maxAge)
}
