package confirm

import (
	"errors"
	"strings"
)

// Decision is a parsed yes/no answer to a confirmation prompt.
type Decision struct {
	// Approve is true for "yes", false for "no".
	Approve bool
	// ProposalID is the id quoted by the prompt.
	ProposalID string
}

// ErrNotADecision is returned when the message is not a yes/no answer.
// Callers should use errors.Is to distinguish this expected case.
var ErrNotADecision = errors.New("not a confirmation decision")

// ParseDecision parses a room message of the form "yes <id>" or "no <id>"
// (case-insensitive). Anything else returns ErrNotADecision.
func ParseDecision(text string) (*Decision, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) != 2 {
		return nil, ErrNotADecision
	}

	var approve bool
	switch strings.ToLower(fields[0]) {
	case "yes":
		approve = true
	case "no":
		approve = false
	default:
		return nil, ErrNotADecision
	}

	return &Decision{Approve: approve, ProposalID: fields[1]}, nil
}
