package bridge

import (
	"encoding/json"

	"github.com/refill-sh/refill/internal/session"
)

// Frame is the wire envelope in both directions. Peer-initiated frames carry
// a peer-assigned id echoed back on the reply; engine-initiated commands
// carry a ULID the peer echoes back on its reply.
type Frame struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Peer-initiated event types.
const (
	frameFieldChanged   = "field_changed"
	framePromptResponse = "prompt_response"
)

// Reply types, both directions.
const (
	frameResult = "result"
	frameError  = "error"
)

type fieldChangedPayload struct {
	URL   string              `json:"url"`
	Field session.FieldRecord `json:"field"`
}

type promptResponsePayload struct {
	URL      string `json:"url"`
	Accepted bool   `json:"accepted"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
