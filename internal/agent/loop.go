// Package agent implements the Agent Loop (spec §4.10): a bounded
// ReAct-style think/act/observe cycle that runs a single role-scoped
// task to completion and streams its progress as Events.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ebongard/renfield/internal/agentrouter"
	"github.com/ebongard/renfield/internal/config"
	"github.com/ebongard/renfield/internal/llm"
	"github.com/ebongard/renfield/internal/mcphub"
	"github.com/ebongard/renfield/internal/tracing"
)

const maxStepTimeouts = 2

var agentStepSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"action":       map[string]any{"type": "string", "enum": []any{"tool", "final"}},
		"tool":         map[string]any{"type": "string"},
		"parameters":   map[string]any{"type": "object"},
		"reason":       map[string]any{"type": "string"},
		"final_answer": map[string]any{"type": "string"},
	},
	"required": []any{"action", "reason"},
}

// Loop runs a single agent invocation to completion.
type Loop struct {
	gw    llm.Gateway
	tools ToolExecutor
	cfg   *config.Config
}

// New wires a Loop.
func New(gw llm.Gateway, tools ToolExecutor, cfg *config.Config) *Loop {
	return &Loop{gw: gw, tools: tools, cfg: cfg}
}

// Run executes the role's task against message, emitting Events via
// emit as it goes. It never returns partial output on cancellation:
// per spec §4.10 it stops before the next LLM call and aborts any
// in-flight tool call, but does not roll back events already emitted.
func (l *Loop) Run(ctx context.Context, role agentrouter.Role, manifest agentrouter.RoleManifestEntry, message string, convContext []llm.Message, caller mcphub.Caller, catalog []mcphub.ToolDescriptor, emit func(Event)) error {
	snap := l.cfg.Snapshot()

	stepTimeout := 20 * time.Second
	if d, err := time.ParseDuration(snap.Agent.StepTimeout); err == nil && d > 0 {
		stepTimeout = d
	}
	totalTimeout := 90 * time.Second
	if d, err := time.ParseDuration(snap.Agent.TotalTimeout); err == nil && d > 0 {
		totalTimeout = d
	}
	convN := 10
	if snap.Agent.ConvContextMessages > 0 {
		convN = snap.Agent.ConvContextMessages
	}
	convContext = lastN(convContext, convN)
	allowed := allowedTools(catalog, manifest.ToolPrefixes)

	deadline := time.Now().Add(totalTimeout)
	var scratchpad []scratchpadEntry
	steps := 0
	timeouts := 0

	for manifest.MaxSteps > 0 && steps < manifest.MaxSteps {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			break
		}

		emit(Event{Type: EventThinking})

		prompt := buildStepPrompt(manifest, convContext, allowed, scratchpad, message)
		stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
		out, err := l.gw.CompleteJSON(stepCtx, "agent", prompt, agentStepSchema, llm.Options{})
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			timeouts++
			scratchpad = append(scratchpad, scratchpadEntry{kind: "step_timeout", detail: err.Error()})
			if timeouts > maxStepTimeouts {
				return fmt.Errorf("agent: step failed after %d retries: %w", maxStepTimeouts, err)
			}
			continue
		}
		timeouts = 0
		steps++

		action, _ := out["action"].(string)
		reason, _ := out["reason"].(string)

		if action == "final" {
			finalAnswer, _ := out["final_answer"].(string)
			if finalAnswer != "" {
				scratchpad = append(scratchpad, scratchpadEntry{kind: "final_hint", detail: finalAnswer})
			}
			break
		}

		toolName, _ := out["tool"].(string)
		params, _ := out["parameters"].(map[string]any)
		if params == nil {
			params = map[string]any{}
		}

		if toolName == "" || !isToolAllowed(toolName, allowed) {
			detail := fmt.Sprintf("tool %q is not permitted for role %s", toolName, role)
			scratchpad = append(scratchpad, scratchpadEntry{kind: "tool_disallowed", detail: detail})
			continue
		}

		emit(Event{Type: EventToolCall, ToolName: toolName, Params: params, Reason: reason})

		toolCtx, span := tracing.StartSpan(ctx, "tool_call", attribute.String("tool.name", toolName))
		result, err := l.tools.Execute(toolCtx, toolName, params, caller)
		span.End()
		if err != nil {
			emit(Event{Type: EventToolResult, ToolName: toolName, Err: err.Error()})
			scratchpad = append(scratchpad, scratchpadEntry{kind: "tool_error", detail: toolName + ": " + err.Error()})
			continue
		}

		emit(Event{Type: EventToolResult, ToolName: toolName, Result: result})
		scratchpad = append(scratchpad, scratchpadEntry{kind: "tool_result", detail: toolName + " -> " + truncateForScratchpad(result)})
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	messages := buildFinalMessages(manifest, convContext, scratchpad, message)
	resp, err := l.gw.ChatStream(ctx, "agent", messages, llm.Options{}, func(llm.StreamDelta) {})
	if err != nil {
		return fmt.Errorf("agent: final answer failed: %w", err)
	}

	// Sanitization needs the complete answer (tag-closing patterns can span
	// the delta boundaries a live token stream would emit), so the cleaned
	// text is re-chunked and emitted as final_token events after the fact
	// rather than forwarding raw deltas.
	final := SanitizeFinalAnswer(resp.Content)
	for _, chunk := range chunkWords(final) {
		emit(Event{Type: EventFinalToken, Text: chunk})
	}

	emit(Event{Type: EventDone, StepsUsed: steps})
	return nil
}

// chunkWords splits text into whitespace-preserving word chunks suitable
// for incremental final_token emission.
func chunkWords(text string) []string {
	if text == "" {
		return nil
	}
	fields := strings.SplitAfter(text, " ")
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func truncateForScratchpad(raw json.RawMessage) string {
	const max = 500
	s := string(raw)
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
