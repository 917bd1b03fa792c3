// Package confirm implements the yes/no confirmation workflow for device
// commands.
//
// Every command routed through chat is held as a pending Proposal before
// dispatch; risky commands (volume/brightness over the danger threshold) get
// a sterner prompt but follow the same flow. The proposal stores the
// JSON-serialized command, and because that serialized form round-trips
// through the chat surface it is re-validated against a JSON Schema and an
// identity check before anything is dispatched.
package confirm

import (
	"time"
)

// Status is the lifecycle state of a proposal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// Proposal is a command awaiting an explicit yes/no from its requester.
// Proposals have no deadline of their own; an unanswered one just stays
// pending until the process exits.
type Proposal struct {
	// ID is a short random identifier quoted in the prompt (e.g. "a3f2b1").
	ID string

	// CommandJSON is the serialized command, reconstructed verbatim on
	// approval.
	CommandJSON string

	// RequesterID is the chat identity that proposed the command. Only this
	// identity may resolve the proposal.
	RequesterID string

	// Risky marks commands that crossed the danger threshold.
	Risky bool

	Status     Status
	CreatedAt  time.Time
	ResolvedAt *time.Time
}
