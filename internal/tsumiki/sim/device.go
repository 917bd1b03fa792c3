// Package sim emulates a Stack-chan device on the bus. It subscribes to the
// command topic, acknowledges every command, applies simple state effects and
// publishes periodic state reports, so the whole bridge can be exercised
// against a plain broker without any hardware.
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/bdobrica/Tsumiki/internal/tsumiki/bus"
	"github.com/bdobrica/Tsumiki/internal/tsumiki/command"
)

// Config holds simulator connection settings.
type Config struct {
	URL      string
	ClientID string

	CmdTopic   string
	AckTopic   string
	StateTopic string

	// StateInterval is the period between unsolicited state reports.
	StateInterval time.Duration
}

// DefaultStateInterval matches the report cadence of the real device.
const DefaultStateInterval = 15 * time.Second

const (
	minBattery     = 10
	reconnectEvery = 2 * time.Second
	publishTimeout = 5 * time.Second
)

// Device is a simulated robot: a handful of state fields behind a mutex plus
// the broker plumbing to expose them.
type Device struct {
	cfg  Config
	mqtt mqtt.Client
	stop chan struct{}

	mu             sync.Mutex
	battery        int
	temperature    float64
	listening      bool
	lastMotion     string
	lastExpression string
	brightness     int

	// publish is swapped out by tests; production wiring points at paho.
	publish func(topic string, payload []byte) error
}

// New creates a Device with the same initial state as a freshly booted robot.
// The connection is established by Connect.
func New(cfg Config) *Device {
	if cfg.StateInterval <= 0 {
		cfg.StateInterval = DefaultStateInterval
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "tsumiki-sim-" + uuid.NewString()[:8]
	}

	d := &Device{
		cfg:            cfg,
		stop:           make(chan struct{}),
		battery:        90,
		temperature:    36.5,
		listening:      true,
		lastMotion:     "idle",
		lastExpression: "neutral",
		brightness:     70,
	}
	d.publish = d.publishMQTT

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.URL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(reconnectEvery).
		SetMaxReconnectInterval(reconnectEvery).
		SetOnConnectHandler(d.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.Error("simulator lost broker connection; reconnecting", "err", err)
		})

	d.mqtt = mqtt.NewClient(opts)
	return d
}

// Connect establishes the broker connection and blocks until the first
// connect succeeds.
func (d *Device) Connect() error {
	token := d.mqtt.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to broker %s: %w", d.cfg.URL, err)
	}
	return nil
}

// Run publishes one state report immediately and then one per interval until
// Close or ctx cancellation.
func (d *Device) Run(ctx context.Context) {
	d.publishState()
	ticker := time.NewTicker(d.cfg.StateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.publishState()
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the report loop and disconnects from the broker.
func (d *Device) Close() {
	close(d.stop)
	d.mqtt.Disconnect(250)
}

// onConnect runs on every (re)connect so the command subscription survives
// broker drops.
func (d *Device) onConnect(_ mqtt.Client) {
	slog.Info("simulator connected", "broker", d.cfg.URL)
	if token := d.mqtt.Subscribe(d.cfg.CmdTopic, 0, d.onCommandMessage); token.Wait() && token.Error() != nil {
		slog.Error("subscribe failed", "topic", d.cfg.CmdTopic, "err", token.Error())
	}
}

func (d *Device) onCommandMessage(_ mqtt.Client, msg mqtt.Message) {
	d.handleCommand(msg.Payload())
}

// cmdEnvelope mirrors the shape the bridge publishes on the command topic.
type cmdEnvelope struct {
	ID      string          `json:"id"`
	Type    command.Type    `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// handleCommand acks the command, applies its state effect, and publishes the
// resulting state. Malformed payloads are logged and dropped.
func (d *Device) handleCommand(payload []byte) {
	var env cmdEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		slog.Error("bad command payload", "err", err)
		return
	}
	slog.Info("received command", "id", env.ID, "type", env.Type)

	ack, err := json.Marshal(bus.Ack{ID: env.ID, Status: bus.AckOK, Message: "simulated"})
	if err == nil {
		if err := d.publish(d.cfg.AckTopic, ack); err != nil {
			slog.Error("publish ack failed", "err", err)
		}
	}

	d.apply(env)
	d.publishState()
}

// apply mutates the simulated state the way each command kind would on the
// real robot. Unknown types ack but change nothing.
func (d *Device) apply(env cmdEnvelope) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch env.Type {
	case command.TypeVolume:
		// Louder playback costs the battery a little.
		if d.battery > minBattery {
			d.battery--
		}
	case command.TypeMotion:
		var p command.MotionPayload
		_ = json.Unmarshal(env.Payload, &p)
		if p.Motion == "" {
			p.Motion = "unknown"
		}
		d.lastMotion = p.Motion
	case command.TypeExpression:
		var p command.ExpressionPayload
		_ = json.Unmarshal(env.Payload, &p)
		if p.Expression == "" {
			p.Expression = "unknown"
		}
		d.lastExpression = p.Expression
	case command.TypeListen:
		var p command.ListenPayload
		_ = json.Unmarshal(env.Payload, &p)
		d.listening = p.Listen
	case command.TypeBrightness:
		var p struct {
			Brightness *int `json:"brightness"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		if p.Brightness != nil {
			d.brightness = clamp(*p.Brightness, 0, 100)
		}
	}
}

// snapshot freezes the current state into the report shape.
func (d *Device) snapshot(now time.Time) bus.StateSnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	battery, brightness := d.battery, d.brightness
	temperature, listening := d.temperature, d.listening
	return bus.StateSnapshot{
		Battery:        &battery,
		Temperature:    &temperature,
		Listening:      &listening,
		LastMotion:     d.lastMotion,
		LastExpression: d.lastExpression,
		Brightness:     &brightness,
		UpdatedAt:      now.UTC().Format(time.RFC3339),
	}
}

func (d *Device) publishState() {
	data, err := json.Marshal(d.snapshot(time.Now()))
	if err != nil {
		slog.Error("marshal state failed", "err", err)
		return
	}
	if err := d.publish(d.cfg.StateTopic, data); err != nil {
		slog.Error("publish state failed", "err", err)
	}
}

func (d *Device) publishMQTT(topic string, payload []byte) error {
	token := d.mqtt.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s: transport did not accept write in %v", topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
