package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/refill-sh/refill/internal/config"
	"github.com/refill-sh/refill/internal/engine"
	"github.com/refill-sh/refill/internal/errors"
	"github.com/refill-sh/refill/internal/session"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	engine *engine.Engine
	cfg    *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(eng *engine.Engine, cfg *config.Config) *Handlers {
	return &Handlers{engine: eng, cfg: cfg}
}

// Request types for each tool

// RecordListRequest represents the arguments for record_list.
type RecordListRequest struct {
	URL    string `json:"url,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// RecordDetailRequest represents the arguments for record_detail.
type RecordDetailRequest struct {
	PageKey   string `json:"page_key"`
	SessionID int64  `json:"session_id"`
}

// RecordDeleteRequest represents the arguments for record_delete.
type RecordDeleteRequest struct {
	PageKey   string `json:"page_key"`
	SessionID *int64 `json:"session_id,omitempty"`
}

// RecordingStateRequest represents the arguments for recording_state.
type RecordingStateRequest struct {
	ContextID string `json:"context_id"`
}

// RecordingToggleRequest represents the arguments for recording_toggle.
type RecordingToggleRequest struct {
	ContextID string `json:"context_id"`
	Start     bool   `json:"start"`
	URL       string `json:"url,omitempty"`
	PageTitle string `json:"page_title,omitempty"`
}

// PanelNotifyRequest represents the arguments for panel_notify.
type PanelNotifyRequest struct {
	ContextID string `json:"context_id"`
	IsOpen    bool   `json:"is_open"`
}

// FieldApplyRequest represents the arguments for field_apply.
type FieldApplyRequest struct {
	ContextID  string                  `json:"context_id"`
	Identifier session.FieldIdentifier `json:"identifier"`
	Value      string                  `json:"value"`
}

// FieldScrollRequest represents the arguments for field_scroll.
type FieldScrollRequest struct {
	ContextID  string                  `json:"context_id"`
	Identifier session.FieldIdentifier `json:"identifier"`
}

func emptyIdentifier(id session.FieldIdentifier) bool {
	return id.ID == "" && id.Name == "" && id.Selector == ""
}

// Handler implementations

// HandleRecordList handles the record_list tool call.
func (h *Handlers) HandleRecordList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RecordListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.engine.GetRecords(ctx, input.URL, input.Limit, input.Offset)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRecordDetail handles the record_detail tool call.
func (h *Handlers) HandleRecordDetail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RecordDetailRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.PageKey == "" || input.SessionID == 0 {
		return errorResult(errors.NewInvalidRequest("page_key and session_id are required")), nil
	}

	sess, err := h.engine.GetSessionDetail(ctx, input.PageKey, input.SessionID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(map[string]any{"session": sess})
}

// HandleRecordDelete handles the record_delete tool call.
func (h *Handlers) HandleRecordDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RecordDeleteRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.PageKey == "" {
		return errorResult(errors.NewInvalidRequest("page_key is required")), nil
	}

	result, err := h.engine.DeleteRecord(ctx, input.PageKey, input.SessionID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRecordingState handles the recording_state tool call.
func (h *Handlers) HandleRecordingState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RecordingStateRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.ContextID == "" {
		return errorResult(errors.NewInvalidRequest("context_id is required")), nil
	}

	return successResult(h.engine.GetRecordingState(input.ContextID))
}

// HandleRecordingToggle handles the recording_toggle tool call.
func (h *Handlers) HandleRecordingToggle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RecordingToggleRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.ContextID == "" {
		return errorResult(errors.NewInvalidRequest("context_id is required")), nil
	}
	if input.Start && input.URL == "" {
		return errorResult(errors.NewInvalidRequest("url is required when starting a recording")), nil
	}

	result, err := h.engine.ToggleRecording(ctx, input.ContextID, input.Start, input.URL, input.PageTitle)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePanelNotify handles the panel_notify tool call.
func (h *Handlers) HandlePanelNotify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PanelNotifyRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.ContextID == "" {
		return errorResult(errors.NewInvalidRequest("context_id is required")), nil
	}

	return successResult(h.engine.NotifyPanelState(ctx, input.ContextID, input.IsOpen))
}

// HandleFieldApply handles the field_apply tool call.
func (h *Handlers) HandleFieldApply(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FieldApplyRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.ContextID == "" {
		return errorResult(errors.NewInvalidRequest("context_id is required")), nil
	}
	if emptyIdentifier(input.Identifier) {
		return errorResult(errors.NewInvalidRequest("identifier needs at least one of id, name, selector")), nil
	}

	result, err := h.engine.ApplyFieldValue(ctx, input.ContextID, input.Identifier, input.Value)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleFieldScroll handles the field_scroll tool call.
func (h *Handlers) HandleFieldScroll(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FieldScrollRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.ContextID == "" {
		return errorResult(errors.NewInvalidRequest("context_id is required")), nil
	}
	if emptyIdentifier(input.Identifier) {
		return errorResult(errors.NewInvalidRequest("identifier needs at least one of id, name, selector")), nil
	}

	result, err := h.engine.ScrollToField(ctx, input.ContextID, input.Identifier)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if eErr, ok := err.(*errors.EngineError); ok {
		errorObj := map[string]any{
			"code":    eErr.Code,
			"message": eErr.Message,
			"status":  eErr.Status,
		}
		if eErr.Code != errors.ErrInternal && eErr.Details != nil {
			errorObj["details"] = eErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
