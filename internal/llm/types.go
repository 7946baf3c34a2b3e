// Package llm implements the LLM Gateway (spec §4.3): role-keyed
// client pooling over Ollama-compatible HTTP endpoints, streaming
// chat, schema-validated JSON completion with one repair retry, and
// embedding, every call wrapped in a per-role circuit breaker.
package llm

import "context"

// Message is one turn in a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options carries per-call knobs layered over the role's defaults.
type Options struct {
	Temperature   *float64
	ContextWindow int
	Model         string // overrides the role's configured model when set
}

// StreamDelta is one piece of a streaming chat response. A delta with
// Done=true and empty Content is the final signal (spec §4.3).
type StreamDelta struct {
	Content string
	Done    bool
}

// ChatResponse is the accumulated result of a (possibly streamed) chat call.
type ChatResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Gateway is the contract every caller (Agent Loop, Intent Classifier,
// Knowledge Retriever, Orchestrator) uses; the concrete *OllamaGateway
// is the only implementation, but callers depend on this interface so
// tests can substitute a fake.
type Gateway interface {
	ChatStream(ctx context.Context, role string, messages []Message, opts Options, onDelta func(StreamDelta)) (*ChatResponse, error)
	CompleteJSON(ctx context.Context, role string, prompt string, schema map[string]any, opts Options) (map[string]any, error)
	Embed(ctx context.Context, role string, text string) ([]float32, error)
}
