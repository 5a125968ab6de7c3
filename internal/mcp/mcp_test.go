package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/refill-sh/refill/internal/config"
	"github.com/refill-sh/refill/internal/db"
	"github.com/refill-sh/refill/internal/engine"
	"github.com/refill-sh/refill/internal/recording"
	"github.com/refill-sh/refill/internal/session"
	"github.com/refill-sh/refill/internal/store"
)

const formURL = "https://a.test/form"

// testSetup creates handlers over a temporary database. Peers are nil, as in
// a management surface with no bridge running.
func testSetup(t *testing.T) (*Handlers, *engine.Engine) {
	t.Helper()

	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	s := store.New(database, cfg, session.HeuristicMatcher{})
	eng := engine.New(s, recording.NewRegistry(), cfg, nil, nil)
	return NewHandlers(eng, cfg), eng
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

// startSession toggles a recording on and returns the new session id.
func startSession(t *testing.T, eng *engine.Engine, contextID, url string) int64 {
	t.Helper()
	result, err := eng.ToggleRecording(context.Background(), contextID, true, url, "")
	if err != nil {
		t.Fatalf("ToggleRecording failed: %v", err)
	}
	return result.SessionID
}

func parsePayload(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()

	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatal("content is not TextContent")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(text.Text), &payload); err != nil {
		t.Fatalf("failed to unmarshal payload: %v", err)
	}
	return payload
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()

	payload := parsePayload(t, result)
	errorObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in payload: %v", payload)
	}
	if errorObj["code"] != expectedCode {
		t.Errorf("error code = %v, want %s", errorObj["code"], expectedCode)
	}
}

func TestHandleRecordingToggle(t *testing.T) {
	h, _ := testSetup(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		args      map[string]any
		wantError bool
		errorCode string
	}{
		{
			name: "start with url",
			args: map[string]any{
				"context_id": "tab-1",
				"start":      true,
				"url":        formURL,
				"page_title": "Signup",
			},
		},
		{
			name: "stop",
			args: map[string]any{
				"context_id": "tab-1",
				"start":      false,
			},
		},
		{
			name:      "missing context_id",
			args:      map[string]any{"start": true, "url": formURL},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
		{
			name:      "start without url",
			args:      map[string]any{"context_id": "tab-1", "start": true},
			wantError: true,
			errorCode: "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleRecordingToggle(ctx, makeRequest(tt.args))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}

			if tt.wantError {
				if !result.IsError {
					t.Fatal("expected error result, got success")
				}
				assertErrorCode(t, result, tt.errorCode)
				return
			}
			if result.IsError {
				t.Fatalf("unexpected error result: %v", parsePayload(t, result))
			}
		})
	}
}

func TestHandleRecordList(t *testing.T) {
	h, eng := testSetup(t)
	ctx := context.Background()

	startSession(t, eng, "tab-1", formURL)
	startSession(t, eng, "tab-1", formURL)
	startSession(t, eng, "tab-1", "https://b.test/login")

	result, err := h.HandleRecordList(ctx, makeRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	payload := parsePayload(t, result)

	records, ok := payload["records"].(map[string]any)
	if !ok {
		t.Fatalf("no records object: %v", payload)
	}
	if len(records) != 2 {
		t.Errorf("page keys = %d, want 2", len(records))
	}

	pagination, ok := payload["pagination"].(map[string]any)
	if !ok {
		t.Fatalf("no pagination object: %v", payload)
	}
	if pagination["total"] != float64(3) {
		t.Errorf("total = %v, want 3", pagination["total"])
	}

	// Filtered to one page key, query string ignored
	result, err = h.HandleRecordList(ctx, makeRequest(map[string]any{"url": formURL + "?x=1"}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	payload = parsePayload(t, result)
	records = payload["records"].(map[string]any)
	if len(records) != 1 {
		t.Errorf("filtered page keys = %d, want 1", len(records))
	}
	if len(records[formURL].(map[string]any)) != 2 {
		t.Errorf("sessions under %s = %d, want 2", formURL, len(records[formURL].(map[string]any)))
	}
}

func TestHandleRecordDetail(t *testing.T) {
	h, eng := testSetup(t)
	ctx := context.Background()

	id := startSession(t, eng, "tab-1", formURL)

	result, err := h.HandleRecordDetail(ctx, makeRequest(map[string]any{
		"page_key":   formURL,
		"session_id": id,
	}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	payload := parsePayload(t, result)
	sess, ok := payload["session"].(map[string]any)
	if !ok {
		t.Fatalf("no session object: %v", payload)
	}
	if sess["page_key"] != formURL {
		t.Errorf("page_key = %v, want %s", sess["page_key"], formURL)
	}

	// A missing session reads as null, not an error
	result, err = h.HandleRecordDetail(ctx, makeRequest(map[string]any{
		"page_key":   formURL,
		"session_id": id + 999,
	}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	payload = parsePayload(t, result)
	if payload["session"] != nil {
		t.Errorf("session = %v, want null", payload["session"])
	}

	// Required arguments
	result, err = h.HandleRecordDetail(ctx, makeRequest(map[string]any{"page_key": formURL}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for missing session_id")
	}
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleRecordDelete(t *testing.T) {
	h, eng := testSetup(t)
	ctx := context.Background()

	id := startSession(t, eng, "tab-1", formURL)
	startSession(t, eng, "tab-2", formURL)
	startSession(t, eng, "tab-3", formURL)

	// One session
	result, err := h.HandleRecordDelete(ctx, makeRequest(map[string]any{
		"page_key":   formURL,
		"session_id": id,
	}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	payload := parsePayload(t, result)
	if payload["deleted"] != true || payload["deleted_count"] != float64(1) {
		t.Errorf("unexpected delete payload: %v", payload)
	}

	// Whole page when session_id is omitted
	result, err = h.HandleRecordDelete(ctx, makeRequest(map[string]any{"page_key": formURL}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	payload = parsePayload(t, result)
	if payload["deleted_count"] != float64(2) {
		t.Errorf("deleted_count = %v, want 2", payload["deleted_count"])
	}

	result, err = h.HandleRecordDelete(ctx, makeRequest(map[string]any{}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for missing page_key")
	}
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleRecordingState(t *testing.T) {
	h, eng := testSetup(t)
	ctx := context.Background()

	id := startSession(t, eng, "tab-1", formURL)

	result, err := h.HandleRecordingState(ctx, makeRequest(map[string]any{"context_id": "tab-1"}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	payload := parsePayload(t, result)
	if payload["is_recording"] != true {
		t.Errorf("is_recording = %v, want true", payload["is_recording"])
	}
	if payload["active_session_id"] != float64(id) {
		t.Errorf("active_session_id = %v, want %d", payload["active_session_id"], id)
	}

	// Unknown context reads as the zero state
	result, err = h.HandleRecordingState(ctx, makeRequest(map[string]any{"context_id": "tab-9"}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	payload = parsePayload(t, result)
	if payload["is_recording"] != false {
		t.Errorf("is_recording = %v, want false", payload["is_recording"])
	}
}

func TestHandlePanelNotify(t *testing.T) {
	h, eng := testSetup(t)
	ctx := context.Background()

	startSession(t, eng, "tab-1", formURL)

	result, err := h.HandlePanelNotify(ctx, makeRequest(map[string]any{
		"context_id": "tab-1",
		"is_open":    true,
	}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	payload := parsePayload(t, result)
	if payload["acknowledged"] != true || payload["recording_paused"] != true {
		t.Errorf("unexpected panel payload: %v", payload)
	}
}

func TestHandleFieldApply(t *testing.T) {
	h, _ := testSetup(t)
	ctx := context.Background()

	// No bridge running: the pass-through fails with PEER_UNREACHABLE
	result, err := h.HandleFieldApply(ctx, makeRequest(map[string]any{
		"context_id": "tab-1",
		"identifier": map[string]any{"id": "email"},
		"value":      "a@b.com",
	}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result without a peer")
	}
	assertErrorCode(t, result, "PEER_UNREACHABLE")

	// Empty identifier is rejected before reaching the peer
	result, err = h.HandleFieldApply(ctx, makeRequest(map[string]any{
		"context_id": "tab-1",
		"identifier": map[string]any{},
		"value":      "a@b.com",
	}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleFieldScroll(t *testing.T) {
	h, _ := testSetup(t)
	ctx := context.Background()

	result, err := h.HandleFieldScroll(ctx, makeRequest(map[string]any{
		"context_id": "tab-1",
		"identifier": map[string]any{"selector": "#email"},
	}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	assertErrorCode(t, result, "PEER_UNREACHABLE")
}

func TestDecodeRejectsWrongTypes(t *testing.T) {
	h, _ := testSetup(t)
	ctx := context.Background()

	// session_id must be a number
	result, err := h.HandleRecordDetail(ctx, makeRequest(map[string]any{
		"page_key":   formURL,
		"session_id": "not-a-number",
	}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for mistyped session_id")
	}
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestValidateDisabledTools(t *testing.T) {
	unknown := ValidateDisabledTools([]string{"record_list", "no_such_tool"})
	if len(unknown) != 1 || unknown[0] != "no_such_tool" {
		t.Errorf("unknown = %v, want [no_such_tool]", unknown)
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()
	if len(names) != len(toolRegistry) {
		t.Errorf("names = %d, want %d", len(names), len(toolRegistry))
	}
}
