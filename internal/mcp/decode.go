package mcp

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/refill-sh/refill/internal/errors"
)

// decode unmarshals MCP request arguments into a typed request struct.
// Malformed arguments surface as INVALID_REQUEST, so handlers can pass the
// error straight to errorResult.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	b, err := json.Marshal(req.GetArguments())
	if err != nil {
		return result, errors.NewInvalidRequest("marshal args: " + err.Error())
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, errors.NewInvalidRequest("unmarshal args: " + err.Error())
	}
	return result, nil
}
