package confirm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/bdobrica/Tsumiki/internal/tsumiki/command"
)

// commandSchema constrains the serialized command reconstructed on approval.
// The encoded value crosses a trust boundary (it comes back through the chat
// surface), so structure and ranges are checked before the command is decoded
// and dispatched.
const commandSchemaJSON = `{
  "type": "object",
  "required": ["type", "payload", "requesterId"],
  "properties": {
    "type": {
      "enum": ["say", "volume", "motion", "expression", "listen", "brightness", "status"]
    },
    "payload": {"type": "object"},
    "requesterId": {"type": "string", "minLength": 1},
    "originalText": {"type": "string"}
  },
  "allOf": [
    {
      "if": {"properties": {"type": {"const": "volume"}}},
      "then": {
        "properties": {
          "payload": {
            "required": ["volume"],
            "properties": {"volume": {"type": "integer", "minimum": 0, "maximum": 100}}
          }
        }
      }
    },
    {
      "if": {"properties": {"type": {"const": "brightness"}}},
      "then": {
        "properties": {
          "payload": {
            "required": ["brightness"],
            "properties": {"brightness": {"type": "integer", "minimum": 0, "maximum": 100}}
          }
        }
      }
    },
    {
      "if": {"properties": {"type": {"const": "say"}}},
      "then": {
        "properties": {
          "payload": {
            "required": ["text"],
            "properties": {"text": {"type": "string", "minLength": 1}}
          }
        }
      }
    }
  ]
}`

var commandSchema = jsonschema.MustCompileString("command.schema.json", commandSchemaJSON)

// Errors surfaced to the router. Wording for users lives in the persona
// strings, not here.
var (
	ErrUnknownProposal = errors.New("no such proposal")
	ErrUnauthorized    = errors.New("responder is not the original requester")
	ErrAlreadyResolved = errors.New("proposal already resolved")
	ErrClosed          = errors.New("coordinator is shut down")
)

// Coordinator holds pending proposals in memory. Command history is
// deliberately not persisted across restarts.
type Coordinator struct {
	mu        sync.Mutex
	proposals map[string]*Proposal
	closed    bool
}

// New creates an empty Coordinator.
func New() *Coordinator {
	return &Coordinator{proposals: make(map[string]*Proposal)}
}

// Propose serializes cmd and holds it pending confirmation, returning the
// proposal whose ID the prompt should quote.
func (c *Coordinator) Propose(cmd command.Command, risky bool) (*Proposal, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("serialize proposal: %w", err)
	}

	p := &Proposal{
		ID:          uuid.NewString()[:6],
		CommandJSON: string(data),
		RequesterID: cmd.RequesterID,
		Risky:       risky,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	c.proposals[p.ID] = p
	return p, nil
}

// Approve resolves the proposal and reconstructs its command for dispatch.
// The responder must be the identity that proposed the command; the stored
// JSON must still validate against the command schema. On any failure nothing
// is dispatched and the proposal keeps its prior state.
func (c *Coordinator) Approve(id, responderID string) (command.Command, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.proposals[id]
	if !ok {
		return command.Command{}, ErrUnknownProposal
	}
	if p.RequesterID != responderID {
		return command.Command{}, ErrUnauthorized
	}
	if p.Status != StatusPending {
		return command.Command{}, fmt.Errorf("%w (%s)", ErrAlreadyResolved, p.Status)
	}

	cmd, err := decodeVerified(p.CommandJSON)
	if err != nil {
		return command.Command{}, err
	}

	// The identity inside the serialized form must also match: a forged
	// payload with a different requester would otherwise ride an honest
	// approval. The proposal stays pending in that case.
	if cmd.RequesterID != responderID {
		return command.Command{}, ErrUnauthorized
	}

	now := time.Now()
	p.Status = StatusApproved
	p.ResolvedAt = &now
	return cmd, nil
}

// Deny resolves the proposal without dispatching. The same identity rule
// applies so that a bystander cannot cancel someone else's command.
func (c *Coordinator) Deny(id, responderID string) error {
	_, err := c.resolve(id, responderID, StatusDenied)
	return err
}

// Get returns the proposal with the given id, if present.
func (c *Coordinator) Get(id string) (*Proposal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.proposals[id]
	return p, ok
}

// PendingFor returns the number of unresolved proposals raised by the given
// requester.
func (c *Coordinator) PendingFor(requesterID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.proposals {
		if p.Status == StatusPending && p.RequesterID == requesterID {
			n++
		}
	}
	return n
}

// Pending returns the number of unresolved proposals.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.proposals {
		if p.Status == StatusPending {
			n++
		}
	}
	return n
}

// Close stops the coordinator accepting new proposals. Pending proposals are
// abandoned; in-flight resolutions still complete.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Coordinator) resolve(id, responderID string, to Status) (*Proposal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.proposals[id]
	if !ok {
		return nil, ErrUnknownProposal
	}
	if p.RequesterID != responderID {
		return nil, ErrUnauthorized
	}
	if p.Status != StatusPending {
		return nil, fmt.Errorf("%w (%s)", ErrAlreadyResolved, p.Status)
	}

	now := time.Now()
	p.Status = to
	p.ResolvedAt = &now
	return p, nil
}

// decodeVerified validates raw against the command schema and decodes it into
// a typed Command.
func decodeVerified(raw string) (command.Command, error) {
	var loose any
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	if err := dec.Decode(&loose); err != nil {
		return command.Command{}, fmt.Errorf("proposal payload is not JSON: %w", err)
	}
	if err := commandSchema.Validate(loose); err != nil {
		return command.Command{}, fmt.Errorf("proposal payload failed validation: %w", err)
	}

	var cmd command.Command
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		return command.Command{}, fmt.Errorf("decode proposal payload: %w", err)
	}
	return cmd, nil
}
