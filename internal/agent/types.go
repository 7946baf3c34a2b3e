package agent

import (
	"context"
	"encoding/json"

	"github.com/ebongard/renfield/internal/mcphub"
)

// Event types the Agent Loop emits, matching spec §4.10's event list
// exactly: thinking, tool_call, tool_result, final_token, done.
const (
	EventThinking   = "thinking"
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
	EventFinalToken = "final_token"
	EventDone       = "done"
)

// Event is one step of a Run's output stream.
type Event struct {
	Type string

	// thinking, final_token
	Text string

	// tool_call, tool_result
	ToolName string
	Params   map[string]any
	Reason   string
	Result   json.RawMessage
	Err      string

	// done
	StepsUsed int
}

// ToolExecutor is the Tool Registry contract the loop calls tools
// through, satisfied by *mcphub.Hub.
type ToolExecutor interface {
	Execute(ctx context.Context, toolName string, params map[string]any, caller mcphub.Caller) (json.RawMessage, error)
}

// scratchpadEntry is one remembered step, folded into the next
// iteration's prompt (spec §4.10 "Maintains a scratchpad of prior steps").
type scratchpadEntry struct {
	kind   string // "tool_result" | "tool_error" | "tool_disallowed" | "step_timeout" | "final_hint"
	detail string
}
