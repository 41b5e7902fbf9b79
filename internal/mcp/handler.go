package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/porticoapi/portico/internal/recordstore"
	"github.com/porticoapi/portico/internal/service"
)

func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil || val == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

func optionalString(request mcp.CallToolRequest, key string) string {
	return request.GetString(key, "")
}

func optionalInt(request mcp.CallToolRequest, key string, defaultVal int) int {
	return request.GetInt(key, defaultVal)
}

func optionalStringSlice(request mcp.CallToolRequest, key string) []string {
	return request.GetStringSlice(key, nil)
}

// getObjectArg returns the object argument key, or nil when it is absent or
// not an object.
func getObjectArg(request mcp.CallToolRequest, key string) map[string]interface{} {
	args := request.GetArguments()
	if args == nil {
		return nil
	}
	m, _ := args[key].(map[string]interface{})
	return m
}

// filterValue renders one filter argument as a query parameter value.
// Control parameter names are rejected so a filter cannot change paging.
func filterValue(field string, v interface{}) (string, error) {
	if service.IsControlParam(field) {
		return "", fmt.Errorf("%q is not a filterable field; use the %s argument", field, field)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case json.Number:
		return x.String(), nil
	case nil:
		return "", fmt.Errorf("filter %q: null is not supported", field)
	default:
		return "", fmt.Errorf("filter %q: expected a string, number or boolean", field)
	}
}

// cleanRecords converts []byte values to strings so they marshal as text
// instead of base64.
func cleanRecords(records []recordstore.Record) {
	for _, rec := range records {
		for k, v := range rec {
			if b, ok := v.([]byte); ok {
				rec[k] = string(b)
			}
		}
	}
}

func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns an error result the model can read and act on. It does
// not end the MCP session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

// serviceError reports a service failure as a tool error. Internal faults
// are logged and reported generically.
func (s *Server) serviceError(err error) (*mcp.CallToolResult, error) {
	var se *service.Error
	if !errors.As(err, &se) || se.Kind == service.KindInternal {
		s.logger.Error("mcp tool failed", "error", err)
		return toolError("internal error")
	}
	return toolError("%s: %s", se.Code, se.Message)
}

func clamp(val, lo, hi int) int {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}
