package event

import (
	"encoding/json"
	"time"
)

// TerminalEventsTopic mirrors every delivery envelope for processes that
// bridge terminals through NATS instead of the in-process stream.
const TerminalEventsTopic = "terminals.events"

// Envelope is the unit delivered to a terminal. ID is stable across
// re-emissions; receivers drop envelopes whose ID they already processed.
type Envelope struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Priority    string          `json:"priority"`
	AckRequired bool            `json:"ack_required,omitempty"`
	Stations    []string        `json:"stations,omitempty"`
	Roles       []string        `json:"roles,omitempty"`
	Broadcast   bool            `json:"broadcast,omitempty"`
	EmittedAt   time.Time       `json:"emitted_at"`
	Payload     json.RawMessage `json:"payload"`
}
