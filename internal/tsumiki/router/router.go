// Package router turns inbound room messages into Tsumiki's three flows:
// state queries, device commands (with confirmation), and LLM chat.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/Tsumiki/internal/tsumiki/bus"
	"github.com/bdobrica/Tsumiki/internal/tsumiki/command"
	"github.com/bdobrica/Tsumiki/internal/tsumiki/confirm"
	"github.com/bdobrica/Tsumiki/internal/tsumiki/llm"
	"github.com/bdobrica/Tsumiki/internal/tsumiki/persona"
)

// Bus is the slice of the bus client the router needs.
type Bus interface {
	SendCommand(ctx context.Context, cmd command.Command) (bus.Ack, error)
	FreshState(maxAge time.Duration) (bus.StateSnapshot, bool)
}

// Router glues the interpreter, the confirmation coordinator, the dispatcher
// and the LLM together. It holds no mutable state of its own; everything
// shared lives in the injected collaborators.
type Router struct {
	bus      Bus
	chat     llm.Provider
	confirms *confirm.Coordinator
	persona  persona.Persona

	// allowed is the set of requester identities permitted to issue device
	// commands. An empty set means nobody may command; chat and state
	// queries stay open to everyone in the room.
	allowed map[string]bool

	// confirmAll routes non-risky commands through the yes/no prompt too,
	// with the friendlier wording. Risky commands always prompt.
	confirmAll bool
}

// New creates a Router. When confirmAll is false, only risky commands go
// through the confirmation prompt; everything else dispatches directly.
func New(b Bus, chat llm.Provider, confirms *confirm.Coordinator, p persona.Persona, allowedIDs []string, confirmAll bool) *Router {
	allowed := make(map[string]bool, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = true
	}
	return &Router{bus: b, chat: chat, confirms: confirms, persona: p, allowed: allowed, confirmAll: confirmAll}
}

// HandleMessage processes one room message from senderID. Replies are pushed
// through the reply callback in order; flows that dispatch to the device may
// reply more than once (progress, then outcome).
func (r *Router) HandleMessage(ctx context.Context, senderID, text string, reply func(string)) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if decision, err := confirm.ParseDecision(text); err == nil && r.isLiveDecision(senderID, decision) {
		r.handleDecision(ctx, senderID, decision, reply)
		return
	}

	switch command.GuessIntent(text) {
	case command.IntentQuery:
		r.handleQuery(ctx, reply)
	case command.IntentCommand:
		r.handleCommand(ctx, senderID, text, reply)
	default:
		r.handleChat(ctx, senderID, text, reply)
	}
}

// isLiveDecision keeps casual two-word yes/no phrases ("no thanks", "yes
// please") out of the decision flow: a parsed decision only counts when its
// id names a known proposal or the sender has something pending to answer.
// Everything else falls through to the normal intent routing.
func (r *Router) isLiveDecision(senderID string, d *confirm.Decision) bool {
	if _, ok := r.confirms.Get(d.ProposalID); ok {
		return true
	}
	return r.confirms.PendingFor(senderID) > 0
}

// handleQuery serves a fresh snapshot when one exists, and otherwise asks the
// device for a new report.
func (r *Router) handleQuery(ctx context.Context, reply func(string)) {
	if snap, ok := r.bus.FreshState(0); ok {
		reply(r.formatState(snap))
		return
	}

	reply(r.persona.Replies.QueryWait)
	ack, err := r.bus.SendCommand(ctx, command.Command{Type: command.TypeStatus, Payload: command.StatusPayload{}})
	if err != nil {
		slog.Error("status request failed", "err", err)
		reply(r.persona.Replies.QueryFailed)
		return
	}
	reply(fmt.Sprintf(r.persona.Replies.QuerySent, ack.Status))
}

// handleCommand parses the text into a typed command, then either proposes it
// for confirmation or dispatches it straight away depending on risk.
func (r *Router) handleCommand(ctx context.Context, senderID, text string, reply func(string)) {
	cmd, err := command.ParseText(text, senderID)
	if errors.Is(err, command.ErrNoCommand) {
		reply(r.persona.Replies.ParseFailed)
		return
	}
	if err != nil {
		reply(fmt.Sprintf(r.persona.Replies.Invalid, err))
		return
	}

	if !r.allowed[senderID] {
		slog.Warn("command from unauthorized requester", "requester", senderID, "type", cmd.Type)
		reply(r.persona.Replies.NotAllowed)
		return
	}

	risky := command.IsDangerous(cmd)
	if !risky && !r.confirmAll {
		r.dispatch(ctx, cmd, reply)
		return
	}

	p, err := r.confirms.Propose(cmd, risky)
	if err != nil {
		slog.Error("proposal rejected", "err", err)
		reply(r.persona.Replies.SendFailed)
		return
	}

	prompt := r.persona.Replies.Confirm
	if risky {
		prompt = r.persona.Replies.ConfirmRisky
	}
	reply(fmt.Sprintf(prompt, cmd.Type, p.ID, p.ID))
}

// dispatch sends a validated command to the device and reports the outcome.
func (r *Router) dispatch(ctx context.Context, cmd command.Command, reply func(string)) {
	if command.IsDangerous(cmd) {
		reply(r.persona.Replies.ApprovedRisky)
	} else {
		reply(r.persona.Replies.Approved)
	}

	ack, err := r.bus.SendCommand(ctx, cmd)
	if err != nil {
		slog.Error("command dispatch failed", "type", cmd.Type, "err", err)
		reply(r.persona.Replies.SendFailed)
		return
	}

	result := ack.Status
	if ack.Message != "" {
		result = fmt.Sprintf("%s (%s)", ack.Status, ack.Message)
	}
	reply(fmt.Sprintf(r.persona.Replies.AckResult, result))
}

// handleDecision resolves a pending proposal. The responder must be on the
// allow-list and must be the identity that proposed the command.
func (r *Router) handleDecision(ctx context.Context, senderID string, d *confirm.Decision, reply func(string)) {
	if !r.allowed[senderID] {
		reply(r.persona.Replies.Unauthorized)
		return
	}

	if !d.Approve {
		if err := r.confirms.Deny(d.ProposalID, senderID); err != nil {
			reply(r.decisionErrorReply(err))
			return
		}
		reply(r.persona.Replies.Denied)
		return
	}

	cmd, err := r.confirms.Approve(d.ProposalID, senderID)
	if err != nil {
		slog.Warn("approval rejected", "id", d.ProposalID, "responder", senderID, "err", err)
		reply(r.decisionErrorReply(err))
		return
	}

	r.dispatch(ctx, cmd, reply)
}

// decisionErrorReply maps coordinator errors to persona phrases without
// leaking detail about who is authorized or what went wrong internally.
func (r *Router) decisionErrorReply(err error) string {
	switch {
	case errors.Is(err, confirm.ErrUnknownProposal), errors.Is(err, confirm.ErrAlreadyResolved):
		return r.persona.Replies.UnknownID
	default:
		return r.persona.Replies.Unauthorized
	}
}

// handleChat relays everything else to the LLM.
func (r *Router) handleChat(ctx context.Context, senderID, text string, reply func(string)) {
	answer, err := r.chat.Chat(ctx, senderID, text)
	if err != nil {
		slog.Error("chat failed", "err", err)
		reply(r.persona.Replies.ChatFailed)
		return
	}
	reply(answer)
}

// formatState renders a snapshot as one friendly line.
func (r *Router) formatState(snap bus.StateSnapshot) string {
	var parts []string
	if snap.Battery != nil {
		parts = append(parts, fmt.Sprintf("バッテリー: %d%%", *snap.Battery))
	}
	if snap.Temperature != nil {
		parts = append(parts, fmt.Sprintf("温度: %.1f°C", *snap.Temperature))
	}
	if snap.Listening != nil {
		state := "OFF"
		if *snap.Listening {
			state = "ON"
		}
		parts = append(parts, "リスニング: "+state)
	}
	if snap.LastMotion != "" {
		parts = append(parts, "モーション: "+snap.LastMotion)
	}
	if snap.LastExpression != "" {
		parts = append(parts, "表情: "+snap.LastExpression)
	}
	if snap.Brightness != nil {
		parts = append(parts, fmt.Sprintf("明るさ: %d%%", *snap.Brightness))
	}
	if len(parts) == 0 {
		return r.persona.Replies.NoState
	}
	return strings.Join(parts, " | ")
}
