package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/refill-sh/refill/internal/config"
	"github.com/refill-sh/refill/internal/engine"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"record_list": {
		def:     recordListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecordList },
	},
	"record_detail": {
		def:     recordDetailToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecordDetail },
	},
	"record_delete": {
		def:     recordDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecordDelete },
	},
	"recording_state": {
		def:     recordingStateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecordingState },
	},
	"recording_toggle": {
		def:     recordingToggleToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecordingToggle },
	},
	"panel_notify": {
		def:     panelNotifyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePanelNotify },
	},
	"field_apply": {
		def:     fieldApplyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFieldApply },
	},
	"field_scroll": {
		def:     fieldScrollToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFieldScroll },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with Refill tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(eng *engine.Engine, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"refill",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(eng, cfg)

	disabled := make(map[string]bool)
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(eng *engine.Engine, cfg *config.Config, version string) error {
	s := NewServer(eng, cfg, version)
	return server.ServeStdio(s)
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
