// Package memtools provides the MCP tool handlers for the shared memory
// system.
//
// Each tool handler follows the same pattern:
// - A struct with dependencies (memory.Store, assemble.Assembler) injected
//   via constructor
// - Definition() returns the mcp.Tool schema
// - Handle() processes the request and returns a result
//
// Tools run over stdio for a local caller, so they resolve a trusted
// caller context against the configured tenant instead of parsing
// credentials.
package memtools

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// boolArg extracts a boolean argument from a tool request.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// stringSliceArg extracts a string-array argument. Non-string elements
// are skipped; a missing or malformed argument yields a nil slice.
func stringSliceArg(req mcp.CallToolRequest, key string) []string {
	raw, ok := req.GetArguments()[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// objectSliceArg decodes an object-array argument into dst (a pointer to
// a slice of structs) by round-tripping through JSON.
func objectSliceArg(req mcp.CallToolRequest, key string, dst any) error {
	raw, ok := req.GetArguments()[key].([]any)
	if !ok {
		return fmt.Errorf("'%s' must be an array of objects", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("'%s' is not valid JSON: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("'%s' has the wrong shape: %w", key, err)
	}
	return nil
}
