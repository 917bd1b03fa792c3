// Package app wires the Tsumiki components together and runs them.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bdobrica/Tsumiki/internal/tsumiki/bus"
	"github.com/bdobrica/Tsumiki/internal/tsumiki/confirm"
	"github.com/bdobrica/Tsumiki/internal/tsumiki/llm"
	"github.com/bdobrica/Tsumiki/internal/tsumiki/matrix"
	"github.com/bdobrica/Tsumiki/internal/tsumiki/persona"
	"github.com/bdobrica/Tsumiki/internal/tsumiki/router"
	"github.com/bdobrica/Tsumiki/internal/tsumiki/trello"
)

// Config holds application configuration.
type Config struct {
	Bus    bus.Config
	Matrix matrix.Config
	Trello trello.Config

	// AllowedUserIDs are the chat identities permitted to issue device
	// commands. When empty, nobody may command; chat and queries stay open.
	AllowedUserIDs []string

	// ConfirmAll routes even non-risky commands through the yes/no prompt.
	ConfirmAll bool

	// PersonaFile optionally overrides the built-in reply strings.
	PersonaFile string

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
}

// App is the assembled application.
type App struct {
	cfg      Config
	busCli   *bus.Client
	chat     llm.Provider
	matrix   *matrix.Client
	confirms *confirm.Coordinator
	router   *router.Router
	poller   *trello.Poller

	// inflight counts message handlers still running, so shutdown can wait
	// for dispatches instead of guessing.
	inflight sync.WaitGroup
	stopped  bool
}

// drainTimeout bounds how long Stop waits for in-flight dispatches. It covers
// a full retry cycle at the default ack timeout without stalling shutdown
// behind a wedged handler.
const drainTimeout = 5 * time.Second

// New assembles the application from cfg.
func New(cfg Config) (*App, error) {
	p, err := persona.Load(cfg.PersonaFile)
	if err != nil {
		return nil, err
	}

	chat := llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		Model:        cfg.OpenAIModel,
		SystemPrompt: p.SystemPrompt,
	})

	busCli := bus.New(cfg.Bus)
	confirms := confirm.New()
	rt := router.New(busCli, chat, confirms, p, cfg.AllowedUserIDs, cfg.ConfirmAll)

	mx, err := matrix.New(&cfg.Matrix)
	if err != nil {
		return nil, err
	}

	poller := trello.New(cfg.Trello, busCli, chat)

	return &App{
		cfg:      cfg,
		busCli:   busCli,
		chat:     chat,
		matrix:   mx,
		confirms: confirms,
		router:   rt,
		poller:   poller,
	}, nil
}

// Run connects everything and blocks until SIGINT/SIGTERM.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.busCli.Connect(); err != nil {
		return fmt.Errorf("bus: %w", err)
	}

	handler := func(ctx context.Context, roomID, senderID, text string) {
		// Each message gets its own goroutine: a dispatch can wait many
		// seconds for an ack and must not stall the sync loop.
		a.inflight.Add(1)
		go func() {
			defer a.inflight.Done()
			a.router.HandleMessage(ctx, senderID, text, func(reply string) {
				if err := a.matrix.SendMessage(roomID, reply); err != nil {
					slog.Error("failed to send reply", "room", roomID, "err", err)
				}
			})
		}()
	}
	if err := a.matrix.Start(ctx, handler); err != nil {
		return fmt.Errorf("matrix: %w", err)
	}
	slog.Info("Tsumiki is up", "rooms", len(a.cfg.Matrix.Rooms))

	a.poller.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)
	return nil
}

// Stop shuts the application down: no new proposals, pollers and sync
// stopped, and the bus connection closed exactly once.
func (a *App) Stop() {
	if a.stopped {
		return
	}
	a.stopped = true

	a.confirms.Close()
	if a.poller.Enabled() {
		a.poller.Stop()
	}
	a.matrix.Stop()
	if !waitTimeout(&a.inflight, drainTimeout) {
		slog.Warn("shutdown grace period elapsed with dispatches still in flight")
	}
	a.busCli.Close()
}

// waitTimeout waits for wg up to d and reports whether everything finished.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
