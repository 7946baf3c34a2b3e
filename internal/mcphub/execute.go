package mcphub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/xeipuuv/gojsonschema"

	"github.com/ebongard/renfield/internal/breaker"
	"github.com/ebongard/renfield/internal/rferr"
)

// Execute runs the spec §4.7 five-step pipeline: resolve the
// descriptor, check permissions, validate params, invoke under a
// breaker and call_timeout, then truncate the response.
func (h *Hub) Execute(ctx context.Context, toolName string, params map[string]any, caller Caller) (json.RawMessage, error) {
	serverName, bareName, ok := ParseQualifiedName(toolName)
	if !ok {
		return nil, rferr.New(rferr.KindResourceNotFound, "malformed tool name: "+toolName)
	}

	h.mu.RLock()
	sc, ok := h.servers[serverName]
	h.mu.RUnlock()
	if !ok {
		return nil, rferr.New(rferr.KindResourceNotFound, "unknown mcp server: "+serverName)
	}

	descriptor, ok := sc.lookupTool(bareName)
	if !ok {
		return nil, rferr.New(rferr.KindResourceNotFound, "unknown tool: "+toolName)
	}

	if err := h.checkPermission(sc.manifest, bareName, caller); err != nil {
		return nil, err
	}

	if err := validateParams(descriptor, params); err != nil {
		return nil, err
	}

	callTimeout := h.durationOr(h.cfg.Snapshot().MCP.CallTimeout, 30*time.Second)
	breakerKey := "mcp:" + serverName

	var raw json.RawMessage
	execErr := h.breakers.Get(breakerKey).Execute(ctx, func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()

		req := mcpgo.CallToolRequest{}
		req.Params.Name = bareName
		req.Params.Arguments = params

		result, err := sc.client.CallTool(cctx, req)
		if err != nil {
			return rferr.Wrap(rferr.KindToolFailed, "mcp call failed", err)
		}
		if result.IsError {
			return rferr.New(rferr.KindToolFailed, resultErrorText(result))
		}
		raw = resultToJSON(result)
		return nil
	})
	if execErr != nil {
		if _, isOpen := execErr.(*breaker.ErrOpen); isOpen {
			return nil, rferr.Wrap(rferr.KindCircuitOpen, "mcp server circuit open: "+serverName, execErr)
		}
		return nil, execErr
	}

	maxSize := h.cfg.Snapshot().MCP.MaxResponseSize
	if maxSize <= 0 {
		maxSize = 10 * 1024
	}
	return truncateJSON(raw, maxSize), nil
}

// checkPermission implements spec §4.7 Execute step 2: permission
// resolution falls back from the tool-specific entry to the server's
// general permission list to "mcp.<server>", and auth-disabled or
// unidentified callers are always permitted.
func (h *Hub) checkPermission(m ServerManifest, tool string, caller Caller) error {
	if !h.cfg.Snapshot().Gateway.WSAuthEnabled || caller.Unidentified {
		return nil
	}

	if p, ok := m.ToolPermissions[tool]; ok {
		if caller.Has(p) {
			return nil
		}
		return rferr.New(rferr.KindPermissionDenied, "missing permission "+p+" for "+tool)
	}
	if len(m.Permissions) > 0 {
		if caller.HasAny(m.Permissions) {
			return nil
		}
		return rferr.New(rferr.KindPermissionDenied, "missing any of "+strings.Join(m.Permissions, ",")+" for "+m.Name)
	}
	generic := "mcp." + m.Name
	if caller.Has(generic) {
		return nil
	}
	return rferr.New(rferr.KindPermissionDenied, "missing permission "+generic)
}

func validateParams(d ToolDescriptor, params map[string]any) error {
	if len(d.InputSchema) == 0 {
		return nil
	}
	schemaLoader := gojsonschema.NewGoLoader(d.InputSchema)
	docLoader := gojsonschema.NewGoLoader(params)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return rferr.Wrap(rferr.KindInputInvalid, "tool argument validation error", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return rferr.New(rferr.KindInputInvalid, "invalid arguments for "+d.QualifiedName()+": "+strings.Join(msgs, "; "))
	}
	return nil
}

func resultErrorText(result *mcpgo.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			return tc.Text
		}
	}
	return "tool reported an error"
}

func resultToJSON(result *mcpgo.CallToolResult) json.RawMessage {
	texts := make([]string, 0, len(result.Content))
	for _, c := range result.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	if len(texts) == 1 {
		var js json.RawMessage
		if json.Unmarshal([]byte(texts[0]), &js) == nil {
			return js
		}
		b, _ := json.Marshal(texts[0])
		return b
	}
	b, _ := json.Marshal(texts)
	return b
}

// truncateJSON enforces max_response_size (spec §4.7 step 5) by
// truncating the serialized bytes, re-wrapping as a JSON string if the
// cut left invalid JSON behind.
func truncateJSON(raw json.RawMessage, maxSize int) json.RawMessage {
	if len(raw) <= maxSize {
		return raw
	}
	cut := raw[:maxSize]
	var probe json.RawMessage
	if json.Unmarshal(cut, &probe) == nil {
		return cut
	}
	b, _ := json.Marshal(fmt.Sprintf("%s... (truncated, %d bytes total)", string(cut), len(raw)))
	return b
}
