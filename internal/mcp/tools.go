package mcp

import "github.com/mark3labs/mcp-go/mcp"

// identifierSchema is the shared shape of a field identifier argument. At
// least one of id, name, selector must be set.
var identifierSchema = map[string]any{
	"id":       map[string]any{"type": "string", "description": "Element id attribute"},
	"name":     map[string]any{"type": "string", "description": "Element name attribute"},
	"selector": map[string]any{"type": "string", "description": "CSS selector for the element"},
}

var recordListToolDef = mcp.NewTool("record_list",
	mcp.WithDescription("List stored capture sessions grouped by page key, newest first."),
	mcp.WithString("url",
		mcp.Description("Restrict to the page key of this URL. Query string and fragment are ignored."),
	),
	mcp.WithNumber("limit",
		mcp.Description("Page size, 1-100 (default 20)."),
	),
	mcp.WithNumber("offset",
		mcp.Description("Number of sessions to skip."),
	),
)

var recordDetailToolDef = mcp.NewTool("record_detail",
	mcp.WithDescription("Fetch one capture session with its full field list in first-seen order. Returns null for a session that does not exist."),
	mcp.WithString("page_key",
		mcp.Required(),
		mcp.Description("Normalized page key (protocol://host/path)."),
	),
	mcp.WithNumber("session_id",
		mcp.Required(),
		mcp.Description("Session id (millisecond creation timestamp)."),
	),
)

var recordDeleteToolDef = mcp.NewTool("record_delete",
	mcp.WithDescription("Delete one capture session, or every session for a page key when session_id is omitted."),
	mcp.WithString("page_key",
		mcp.Required(),
		mcp.Description("Normalized page key."),
	),
	mcp.WithNumber("session_id",
		mcp.Description("Session id to delete; omit to delete the whole page."),
	),
)

var recordingStateToolDef = mcp.NewTool("recording_state",
	mcp.WithDescription("Report a browsing context's recording state: whether it is recording, the bound session id, and the prompt counter."),
	mcp.WithString("context_id",
		mcp.Required(),
		mcp.Description("Browsing context id."),
	),
)

var recordingToggleToolDef = mcp.NewTool("recording_toggle",
	mcp.WithDescription("Start or stop recording for a browsing context. Starting always creates a fresh session for the page, regardless of prior state."),
	mcp.WithString("context_id",
		mcp.Required(),
		mcp.Description("Browsing context id."),
	),
	mcp.WithBoolean("start",
		mcp.Required(),
		mcp.Description("true to start recording, false to stop."),
	),
	mcp.WithString("url",
		mcp.Description("Page URL; required when starting."),
	),
	mcp.WithString("page_title",
		mcp.Description("Page title stored in the new session's metadata."),
	),
)

var panelNotifyToolDef = mcp.NewTool("panel_notify",
	mcp.WithDescription("Notify the engine that the history panel opened or closed. Opening pauses an active recording; closing resets the prompt budget."),
	mcp.WithString("context_id",
		mcp.Required(),
		mcp.Description("Browsing context id."),
	),
	mcp.WithBoolean("is_open",
		mcp.Required(),
		mcp.Description("true when the panel opened, false when it closed."),
	),
)

var fieldApplyToolDef = mcp.NewTool("field_apply",
	mcp.WithDescription("Replay a recorded value into a matching field on the live page. Fails with PEER_UNREACHABLE when the context has no connection."),
	mcp.WithString("context_id",
		mcp.Required(),
		mcp.Description("Browsing context id."),
	),
	mcp.WithObject("identifier",
		mcp.Required(),
		mcp.Description("Field identifier; at least one of id, name, selector."),
		mcp.Properties(identifierSchema),
	),
	mcp.WithString("value",
		mcp.Required(),
		mcp.Description("Value to apply."),
	),
)

var fieldScrollToolDef = mcp.NewTool("field_scroll",
	mcp.WithDescription("Scroll the live page to a recorded field. Fails with PEER_UNREACHABLE when the context has no connection."),
	mcp.WithString("context_id",
		mcp.Required(),
		mcp.Description("Browsing context id."),
	),
	mcp.WithObject("identifier",
		mcp.Required(),
		mcp.Description("Field identifier; at least one of id, name, selector."),
		mcp.Properties(identifierSchema),
	),
)
