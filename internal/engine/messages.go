package engine

import (
	"context"
	"encoding/json"

	"github.com/refill-sh/refill/internal/session"
)

// StopReason says why a capture was stopped.
type StopReason string

const (
	StopUserAction         StopReason = "user_action"
	StopHistoryPanelOpened StopReason = "history_panel_opened"
)

// Command is the closed set of outbound commands for the page-context peer.
// Each variant carries a statically-typed payload; Type names it on the wire.
type Command interface {
	Type() string
}

// StartCapture tells the page context to begin emitting field events against
// a session.
type StartCapture struct {
	SessionID int64 `json:"session_id"`
}

func (StartCapture) Type() string { return "start_capture" }

// StopCapture tells the page context to stop emitting field events.
type StopCapture struct {
	Reason StopReason `json:"reason"`
}

func (StopCapture) Type() string { return "stop_capture" }

// ShowPrompt asks the page context to offer the recording prompt.
type ShowPrompt struct {
	FieldChangeCount int `json:"field_change_count"`
}

func (ShowPrompt) Type() string { return "show_prompt" }

// ApplyFieldValue replays one recorded value into a matching field.
type ApplyFieldValue struct {
	Identifier session.FieldIdentifier `json:"identifier"`
	Value      string                  `json:"value"`
}

func (ApplyFieldValue) Type() string { return "apply_field_value" }

// ScrollToField scrolls the page to a recorded field.
type ScrollToField struct {
	Identifier session.FieldIdentifier `json:"identifier"`
}

func (ScrollToField) Type() string { return "scroll_to_field" }

// CommandSender delivers outbound commands to page-context peers, keyed by
// browsing-context id. The engine is the only caller.
type CommandSender interface {
	// Send delivers fire-and-forget; the engine logs and swallows failures.
	Send(ctx context.Context, contextID string, cmd Command) error

	// Call delivers and waits for the peer's reply payload.
	Call(ctx context.Context, contextID string, cmd Command) (json.RawMessage, error)
}
