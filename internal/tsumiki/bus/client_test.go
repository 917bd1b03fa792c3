package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bdobrica/Tsumiki/internal/tsumiki/command"
)

// newTestClient returns a Client whose publish goes to fn instead of a broker.
func newTestClient(cfg Config, fn func(topic string, payload []byte) error) *Client {
	c := &Client{
		cfg:     cfg,
		pending: newPendingTable(),
		state:   &stateCache{},
	}
	c.publish = fn
	return c
}

// wireEnvelope2 mirrors the published shape with an untyped payload so tests
// can decode what production code encoded.
type wireEnvelope2 struct {
	ID      string          `json:"id"`
	Type    command.Type    `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func testConfig() Config {
	return Config{
		CmdTopic:    "stackchan/cmd",
		AckTopic:    "stackchan/ack",
		StateTopic:  "stackchan/state",
		AckTimeout:  50 * time.Millisecond,
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
	}
}

func sayCmd(text string) command.Command {
	return command.Command{Type: command.TypeSay, Payload: command.SayPayload{Text: text}, RequesterID: "u"}
}

func TestSendCommand_ResolvesOnMatchingAck(t *testing.T) {
	var c *Client
	c = newTestClient(testConfig(), func(topic string, payload []byte) error {
		var env wireEnvelope2
		if err := json.Unmarshal(payload, &env); err != nil {
			t.Fatalf("bad envelope: %v", err)
		}
		if topic != "stackchan/cmd" {
			t.Errorf("published to wrong topic %q", topic)
		}
		ack, _ := json.Marshal(Ack{ID: env.ID, Status: AckOK})
		go c.handleAckPayload(ack)
		return nil
	})

	ack, err := c.SendCommand(context.Background(), sayCmd("こんにちは"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Status != AckOK {
		t.Errorf("expected ok ack, got %+v", ack)
	}
	if c.pending.size() != 0 {
		t.Errorf("pending table leaked %d entries", c.pending.size())
	}
}

func TestSendCommand_ConcurrentCallsDoNotCrossTalk(t *testing.T) {
	cfg := testConfig()
	cfg.AckTimeout = 100 * time.Millisecond

	published := make(chan wireEnvelope2, 2)
	c := newTestClient(cfg, func(_ string, payload []byte) error {
		var env wireEnvelope2
		_ = json.Unmarshal(payload, &env)
		published <- env
		return nil
	})

	type result struct {
		name string
		ack  Ack
		err  error
	}
	results := make(chan result, 2)

	go func() {
		ack, err := c.SendCommand(context.Background(), sayCmd("A"))
		results <- result{"A", ack, err}
	}()
	go func() {
		ack, err := c.SendCommand(context.Background(), sayCmd("B"))
		results <- result{"B", ack, err}
	}()

	envA := <-published
	envB := <-published
	// Tell A and B apart by their payload text.
	var pa command.SayPayload
	_ = json.Unmarshal(envA.Payload, &pa)
	if pa.Text != "A" {
		envA, envB = envB, envA
	}

	// Ack only B. A must time out; B must resolve with B's ack.
	ackB, _ := json.Marshal(Ack{ID: envB.ID, Status: AckOK, Message: "for B"})
	c.handleAckPayload(ackB)

	for i := 0; i < 2; i++ {
		r := <-results
		switch r.name {
		case "A":
			if !errors.Is(r.err, ErrAckTimeout) {
				t.Errorf("A: expected timeout, got ack=%+v err=%v", r.ack, r.err)
			}
		case "B":
			if r.err != nil {
				t.Errorf("B: unexpected error %v", r.err)
			}
			if r.ack.Message != "for B" {
				t.Errorf("B: got wrong ack %+v", r.ack)
			}
		}
	}
}

func TestHandleAck_UnmatchedIsDroppedQuietly(t *testing.T) {
	c := newTestClient(testConfig(), func(string, []byte) error { return nil })

	ch := c.pending.add("real-id")
	before := c.pending.size()

	unknown, _ := json.Marshal(Ack{ID: "nobody-waiting", Status: AckOK})
	c.handleAckPayload(unknown)

	if c.pending.size() != before {
		t.Errorf("unmatched ack changed table size: %d -> %d", before, c.pending.size())
	}
	select {
	case <-ch:
		t.Error("unmatched ack resolved an unrelated waiter")
	default:
	}
}

func TestHandleAck_MalformedPayloadIsDropped(t *testing.T) {
	c := newTestClient(testConfig(), func(string, []byte) error { return nil })
	c.pending.add("x")
	c.handleAckPayload([]byte("{not json"))
	if c.pending.size() != 1 {
		t.Errorf("malformed ack disturbed the table")
	}
}

func TestSendCommand_RetryBackoffLaw(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 3
	cfg.BaseDelay = 20 * time.Millisecond

	var attempts []time.Time
	sentinel := errors.New("broker rejected write")
	c := newTestClient(cfg, func(string, []byte) error {
		attempts = append(attempts, time.Now())
		return sentinel
	})

	_, err := c.SendCommand(context.Background(), sayCmd("x"))
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected last publish error to surface, got %v", err)
	}
	if len(attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(attempts))
	}

	gap1 := attempts[1].Sub(attempts[0])
	gap2 := attempts[2].Sub(attempts[1])
	if gap1 < 20*time.Millisecond || gap1 > 100*time.Millisecond {
		t.Errorf("first retry wait out of range: %v", gap1)
	}
	if gap2 < 40*time.Millisecond || gap2 > 200*time.Millisecond {
		t.Errorf("second retry wait out of range: %v", gap2)
	}
	if c.pending.size() != 0 {
		t.Errorf("failed attempts leaked pending entries")
	}
}

func TestSendCommand_FreshIDPerAttempt(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 3
	cfg.BaseDelay = time.Millisecond
	cfg.AckTimeout = 5 * time.Millisecond

	var ids []string
	c := newTestClient(cfg, func(_ string, payload []byte) error {
		var env wireEnvelope2
		_ = json.Unmarshal(payload, &env)
		ids = append(ids, env.ID)
		return nil // publish succeeds, ack never arrives
	})

	_, err := c.SendCommand(context.Background(), sayCmd("x"))
	if !errors.Is(err, ErrAckTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(ids))
	}
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("request id %s reused across attempts", id)
		}
		seen[id] = true
	}
	if c.pending.size() != 0 {
		t.Errorf("timed-out attempts leaked pending entries")
	}
}

func TestStaleAckAfterRetryIsUnmatched(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 2
	cfg.BaseDelay = time.Millisecond
	cfg.AckTimeout = 5 * time.Millisecond

	var c *Client
	var firstID string
	attempt := 0
	c = newTestClient(cfg, func(_ string, payload []byte) error {
		var env wireEnvelope2
		_ = json.Unmarshal(payload, &env)
		attempt++
		if attempt == 1 {
			firstID = env.ID
			return nil // let the first attempt time out
		}
		// Second attempt: the device finally acks the *stale* first id,
		// then the current one.
		stale, _ := json.Marshal(Ack{ID: firstID, Status: AckOK, Message: "stale"})
		c.handleAckPayload(stale)
		fresh, _ := json.Marshal(Ack{ID: env.ID, Status: AckOK, Message: "fresh"})
		go c.handleAckPayload(fresh)
		return nil
	})

	ack, err := c.SendCommand(context.Background(), sayCmd("x"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Message != "fresh" {
		t.Errorf("stale ack won the race: %+v", ack)
	}
}

func TestPublishJSON_BypassesCorrelation(t *testing.T) {
	var gotTopic string
	var gotPayload []byte
	c := newTestClient(testConfig(), func(topic string, payload []byte) error {
		gotTopic = topic
		gotPayload = payload
		return nil
	})

	if err := c.PublishJSON("stackchan/trello", map[string]any{"type": "trello_due_soon"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotTopic != "stackchan/trello" {
		t.Errorf("wrong topic %q", gotTopic)
	}
	var decoded map[string]any
	if err := json.Unmarshal(gotPayload, &decoded); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if c.pending.size() != 0 {
		t.Errorf("one-way publish registered a pending entry")
	}
}

func TestStateCache_StalenessLaw(t *testing.T) {
	cache := &stateCache{}
	t0 := time.Unix(1000, 0)
	battery := 42
	cache.store(StateSnapshot{Battery: &battery}, t0)

	maxAge := 30 * time.Second
	if _, ok := cache.fresh(t0.Add(29999*time.Millisecond), maxAge); !ok {
		t.Error("snapshot at d=29999ms should be fresh")
	}
	if _, ok := cache.fresh(t0.Add(30001*time.Millisecond), maxAge); ok {
		t.Error("snapshot at d=30001ms should be stale")
	}
	if snap, ok := cache.fresh(t0.Add(time.Second), maxAge); !ok || snap.Battery == nil || *snap.Battery != 42 {
		t.Errorf("fresh read lost data: %+v ok=%v", snap, ok)
	}
}

func TestFreshState_NoDataBeforeFirstReport(t *testing.T) {
	c := newTestClient(testConfig(), func(string, []byte) error { return nil })
	if _, ok := c.FreshState(0); ok {
		t.Error("expected no data before any state message")
	}
}

func TestHandleState_ReplacesSnapshot(t *testing.T) {
	c := newTestClient(testConfig(), func(string, []byte) error { return nil })

	now := time.Now()
	c.handleStatePayload([]byte(`{"battery":42,"listening":true}`), now)

	snap, ok := c.state.fresh(now.Add(time.Second), DefaultStateMaxAge)
	if !ok {
		t.Fatal("expected fresh state")
	}
	if snap.Battery == nil || *snap.Battery != 42 {
		t.Errorf("battery lost: %+v", snap)
	}
	if snap.Listening == nil || !*snap.Listening {
		t.Errorf("listening lost: %+v", snap)
	}

	// Last write wins.
	c.handleStatePayload([]byte(`{"battery":10}`), now.Add(2*time.Second))
	snap, _ = c.state.fresh(now.Add(3*time.Second), DefaultStateMaxAge)
	if snap.Battery == nil || *snap.Battery != 10 {
		t.Errorf("second snapshot did not replace first: %+v", snap)
	}
	if snap.Listening != nil {
		t.Errorf("old fields bled into new snapshot: %+v", snap)
	}
}

func TestHandleState_MalformedPayloadIsDropped(t *testing.T) {
	c := newTestClient(testConfig(), func(string, []byte) error { return nil })
	c.handleStatePayload([]byte("garbage"), time.Now())
	if _, ok := c.FreshState(0); ok {
		t.Error("malformed state should not populate the cache")
	}
}

func TestSendCommand_ContextCancelStopsAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 5
	cfg.BaseDelay = 10 * time.Millisecond
	cfg.AckTimeout = 10 * time.Millisecond

	calls := 0
	c := newTestClient(cfg, func(string, []byte) error {
		calls++
		return fmt.Errorf("down")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()

	_, err := c.SendCommand(ctx, sayCmd("x"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if calls >= 5 {
		t.Errorf("cancellation did not stop retries (%d calls)", calls)
	}
}
