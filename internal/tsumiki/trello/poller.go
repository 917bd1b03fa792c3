// Package trello polls a Trello board for cards that are due soon and
// forwards them to the robot: a JSON notification on the notify topic, and
// optionally a spoken summary pushed to the command topic as a one-way say.
//
// The poller is an optional collaborator: when credentials are missing it
// stays disabled and the rest of the bot runs normally.
package trello

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/bdobrica/Tsumiki/internal/tsumiki/llm"
)

const defaultBaseURL = "https://api.trello.com/1"

// MinInterval is the floor on the polling period; the Trello API is a guest,
// not a firehose.
const MinInterval = time.Minute

// Publisher is the one-way bus surface the poller needs. Notifications expect
// no acknowledgement, so the correlation machinery is bypassed entirely.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// clock lets tests control time without wall-clock sleeps.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config holds poller settings.
type Config struct {
	Key     string
	Token   string
	BoardID string

	// BaseURL overrides the Trello API endpoint (tests). Defaults to the
	// public API.
	BaseURL string

	// Interval between polls; clamped up to MinInterval. Defaults to 5m.
	Interval time.Duration
	// DueSoonWindow is how far ahead a due date counts as "soon".
	// Defaults to 120 minutes.
	DueSoonWindow time.Duration

	NotifyTopic string
	CmdTopic    string
	// SayViaCmd additionally forwards the spoken summary to the command
	// topic as a one-way say command.
	SayViaCmd bool
}

// Card is the subset of the Trello card fields the poller requests.
type Card struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Due         string `json:"due"`
	URL         string `json:"url"`
	DueComplete bool   `json:"dueComplete"`
	IDList      string `json:"idList,omitempty"`
}

// upcomingCard is a card inside the due-soon window, as published in the
// notification payload.
type upcomingCard struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Due          string `json:"due"`
	URL          string `json:"url"`
	DueInMinutes int    `json:"dueInMinutes"`
	IDList       string `json:"idList,omitempty"`
}

// notification is the JSON shape published on the notify topic.
type notification struct {
	Type           string         `json:"type"`
	GeneratedAt    string         `json:"generatedAt"`
	BoardID        string         `json:"boardId"`
	DueSoonMinutes int            `json:"dueSoonMinutes"`
	Cards          []upcomingCard `json:"cards"`
	SayText        string         `json:"sayText,omitempty"`
}

// sayEnvelope is the one-way command published when SayViaCmd is on.
type sayEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Payload struct {
		Text string `json:"text"`
	} `json:"payload"`
}

// Poller periodically fetches board cards and pushes due-soon alerts.
type Poller struct {
	cfg   Config
	pub   Publisher
	chat  llm.Provider
	http  *http.Client
	clock clock
	stop  chan struct{}
}

// New creates a Poller. chat may be nil; the notification then goes out
// without a spoken summary.
func New(cfg Config, pub Publisher, chat llm.Provider) *Poller {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Interval < MinInterval {
		cfg.Interval = MinInterval
	}
	if cfg.DueSoonWindow <= 0 {
		cfg.DueSoonWindow = 120 * time.Minute
	}
	return &Poller{
		cfg:   cfg,
		pub:   pub,
		chat:  chat,
		http:  &http.Client{Timeout: 30 * time.Second},
		clock: realClock{},
		stop:  make(chan struct{}),
	}
}

// Enabled reports whether the poller has the credentials it needs.
func (p *Poller) Enabled() bool {
	return p.cfg.Key != "" && p.cfg.Token != "" && p.cfg.BoardID != ""
}

// Start launches the polling loop: one immediate poll, then one per interval,
// until Stop. A failed poll is logged and the loop continues.
func (p *Poller) Start(ctx context.Context) {
	if !p.Enabled() {
		slog.Info("Trello poller disabled (missing key/token/board)")
		return
	}
	slog.Info("starting Trello poller",
		"interval", p.cfg.Interval,
		"dueSoonWindow", p.cfg.DueSoonWindow,
		"board", p.cfg.BoardID,
		"topic", p.cfg.NotifyTopic)

	go func() {
		if err := p.poll(ctx); err != nil {
			slog.Error("Trello poll failed", "err", err)
		}
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := p.poll(ctx); err != nil {
					slog.Error("Trello poll failed", "err", err)
				}
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the polling loop.
func (p *Poller) Stop() {
	close(p.stop)
	slog.Info("Trello poller stopped")
}

// poll fetches the board's cards, filters to incomplete ones due within the
// window, and publishes the notification (plus the optional say command).
func (p *Poller) poll(ctx context.Context) error {
	cards, err := p.fetchCards(ctx)
	if err != nil {
		return err
	}

	now := p.clock.Now()
	upcoming := filterUpcoming(cards, now, p.cfg.DueSoonWindow)
	slog.Info("Trello poll result", "total", len(cards), "upcoming", len(upcoming))
	if len(upcoming) == 0 {
		return nil
	}

	note := notification{
		Type:           "trello_due_soon",
		GeneratedAt:    now.UTC().Format(time.RFC3339),
		BoardID:        p.cfg.BoardID,
		DueSoonMinutes: int(p.cfg.DueSoonWindow / time.Minute),
		Cards:          upcoming,
	}

	if p.chat != nil {
		names := make([]string, len(upcoming))
		for i, c := range upcoming {
			names[i] = c.Name
		}
		say, err := llm.DueSummary(ctx, p.chat, names)
		if err != nil {
			slog.Warn("due-soon speech generation failed", "err", err)
		} else {
			note.SayText = say
		}
	}

	if err := p.pub.PublishJSON(p.cfg.NotifyTopic, note); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	if note.SayText != "" && p.cfg.SayViaCmd {
		var env sayEnvelope
		env.ID = uuid.NewString()
		env.Type = "say"
		env.Payload.Text = note.SayText
		if err := p.pub.PublishJSON(p.cfg.CmdTopic, env); err != nil {
			return fmt.Errorf("publish say command: %w", err)
		}
		slog.Info("due-soon summary sent to command topic", "id", env.ID)
	}
	return nil
}

func (p *Poller) fetchCards(ctx context.Context) ([]Card, error) {
	u, err := url.Parse(fmt.Sprintf("%s/boards/%s/cards", p.cfg.BaseURL, p.cfg.BoardID))
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("fields", "name,due,url,dueComplete,idList")
	q.Set("key", p.cfg.Key)
	q.Set("token", p.cfg.Token)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch cards: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trello HTTP %d", resp.StatusCode)
	}

	var cards []Card
	if err := json.NewDecoder(resp.Body).Decode(&cards); err != nil {
		return nil, fmt.Errorf("decode cards: %w", err)
	}
	return cards, nil
}

// filterUpcoming keeps incomplete cards whose due time falls in
// [now, now+window], sorted soonest first. Cards with no or unparseable due
// date are skipped.
func filterUpcoming(cards []Card, now time.Time, window time.Duration) []upcomingCard {
	var upcoming []upcomingCard
	for _, c := range cards {
		if c.Due == "" || c.DueComplete {
			continue
		}
		due, err := time.Parse(time.RFC3339, c.Due)
		if err != nil {
			continue
		}
		if due.Before(now) || due.Sub(now) > window {
			continue
		}
		upcoming = append(upcoming, upcomingCard{
			ID:           c.ID,
			Name:         c.Name,
			Due:          c.Due,
			URL:          c.URL,
			DueInMinutes: int(due.Sub(now).Round(time.Minute) / time.Minute),
			IDList:       c.IDList,
		})
	}
	sort.Slice(upcoming, func(i, j int) bool { return upcoming[i].Due < upcoming[j].Due })
	return upcoming
}
