package sim

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/bdobrica/Tsumiki/internal/tsumiki/bus"
)

type published struct {
	topic   string
	payload []byte
}

// newTestDevice returns a Device whose publish records into the returned
// slice instead of going to a broker.
func newTestDevice() (*Device, *[]published) {
	d := New(Config{
		CmdTopic:   "stackchan/cmd",
		AckTopic:   "stackchan/ack",
		StateTopic: "stackchan/state",
	})
	var out []published
	d.publish = func(topic string, payload []byte) error {
		out = append(out, published{topic, payload})
		return nil
	}
	return d, &out
}

func envelope(t *testing.T, id, typ string, payload map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{"id": id, "type": typ, "payload": payload})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func lastState(t *testing.T, out []published) bus.StateSnapshot {
	t.Helper()
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].topic == "stackchan/state" {
			var snap bus.StateSnapshot
			if err := json.Unmarshal(out[i].payload, &snap); err != nil {
				t.Fatalf("bad state payload: %v", err)
			}
			return snap
		}
	}
	t.Fatal("no state report published")
	return bus.StateSnapshot{}
}

func TestHandleCommand_AcksThenReportsState(t *testing.T) {
	d, out := newTestDevice()

	d.handleCommand(envelope(t, "req-1", "say", map[string]any{"text": "こんにちは"}))

	if len(*out) != 2 {
		t.Fatalf("expected ack + state, got %d publishes", len(*out))
	}
	if (*out)[0].topic != "stackchan/ack" {
		t.Errorf("first publish on wrong topic %q", (*out)[0].topic)
	}
	var ack bus.Ack
	if err := json.Unmarshal((*out)[0].payload, &ack); err != nil {
		t.Fatalf("bad ack payload: %v", err)
	}
	if ack.ID != "req-1" || ack.Status != bus.AckOK || ack.Message != "simulated" {
		t.Errorf("unexpected ack: %+v", ack)
	}
	if (*out)[1].topic != "stackchan/state" {
		t.Errorf("second publish on wrong topic %q", (*out)[1].topic)
	}
}

func TestHandleCommand_VolumeDrainsBatteryToFloor(t *testing.T) {
	d, out := newTestDevice()

	d.handleCommand(envelope(t, "v1", "volume", map[string]any{"volume": 50}))
	snap := lastState(t, *out)
	if snap.Battery == nil || *snap.Battery != 89 {
		t.Fatalf("expected battery 89 after one volume command, got %+v", snap.Battery)
	}

	d.mu.Lock()
	d.battery = minBattery
	d.mu.Unlock()
	d.handleCommand(envelope(t, "v2", "volume", map[string]any{"volume": 50}))
	snap = lastState(t, *out)
	if snap.Battery == nil || *snap.Battery != minBattery {
		t.Errorf("battery drained below the floor: %+v", snap.Battery)
	}
}

func TestHandleCommand_StateEffects(t *testing.T) {
	d, out := newTestDevice()

	d.handleCommand(envelope(t, "1", "motion", map[string]any{"motion": "wave"}))
	d.handleCommand(envelope(t, "2", "expression", map[string]any{"expression": "happy"}))
	d.handleCommand(envelope(t, "3", "listen", map[string]any{"listen": false}))
	d.handleCommand(envelope(t, "4", "brightness", map[string]any{"brightness": 40}))

	snap := lastState(t, *out)
	if snap.LastMotion != "wave" {
		t.Errorf("motion not applied: %q", snap.LastMotion)
	}
	if snap.LastExpression != "happy" {
		t.Errorf("expression not applied: %q", snap.LastExpression)
	}
	if snap.Listening == nil || *snap.Listening {
		t.Errorf("listen off not applied: %+v", snap.Listening)
	}
	if snap.Brightness == nil || *snap.Brightness != 40 {
		t.Errorf("brightness not applied: %+v", snap.Brightness)
	}
}

func TestHandleCommand_BrightnessClamped(t *testing.T) {
	d, out := newTestDevice()
	d.handleCommand(envelope(t, "b", "brightness", map[string]any{"brightness": 250}))
	if snap := lastState(t, *out); snap.Brightness == nil || *snap.Brightness != 100 {
		t.Errorf("brightness not clamped: %+v", snap.Brightness)
	}
}

func TestHandleCommand_EmptyMotionBecomesUnknown(t *testing.T) {
	d, out := newTestDevice()
	d.handleCommand(envelope(t, "m", "motion", map[string]any{}))
	if snap := lastState(t, *out); snap.LastMotion != "unknown" {
		t.Errorf("expected unknown motion, got %q", snap.LastMotion)
	}
}

func TestHandleCommand_MalformedPayloadIsDropped(t *testing.T) {
	d, out := newTestDevice()
	d.handleCommand([]byte("{not json"))
	if len(*out) != 0 {
		t.Errorf("malformed command produced %d publishes", len(*out))
	}
}

func TestSnapshot_CarriesTimestamp(t *testing.T) {
	d, _ := newTestDevice()
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	snap := d.snapshot(now)
	if snap.UpdatedAt != "2026-08-28T12:00:00Z" {
		t.Errorf("unexpected timestamp %q", snap.UpdatedAt)
	}
	if snap.Battery == nil || *snap.Battery != 90 || snap.Temperature == nil || *snap.Temperature != 36.5 {
		t.Errorf("initial state wrong: %+v", snap)
	}
}
