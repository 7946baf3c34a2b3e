package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ebongard/renfield/internal/breaker"
	"github.com/ebongard/renfield/internal/config"
	"github.com/ebongard/renfield/internal/rferr"
	"github.com/ebongard/renfield/internal/tracing"
)

// OllamaGateway is the sole Gateway implementation, routing each role
// to its configured (endpoint, model) pair, pooling one ollamaClient
// per distinct endpoint URL, and wrapping every call in a breaker
// keyed "llm:<role>" (spec §4.3).
type OllamaGateway struct {
	cfg      *config.Config
	breakers *breaker.Manager
	log      *slog.Logger

	mu      sync.Mutex
	clients map[string]*ollamaClient // keyed by endpoint URL
}

// NewOllamaGateway builds a gateway over cfg's role table.
func NewOllamaGateway(cfg *config.Config, breakers *breaker.Manager, log *slog.Logger) *OllamaGateway {
	if log == nil {
		log = slog.Default()
	}
	return &OllamaGateway{
		cfg:      cfg,
		breakers: breakers,
		log:      log,
		clients:  make(map[string]*ollamaClient),
	}
}

func (g *OllamaGateway) clientFor(endpoint string) *ollamaClient {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[endpoint]; ok {
		return c
	}
	c := newOllamaClient(endpoint)
	g.clients[endpoint] = c
	return c
}

func (g *OllamaGateway) roleConfig(role string) (config.LLMRoleConfig, error) {
	snap := g.cfg.Snapshot()
	rc, ok := snap.LLM.Roles[role]
	if !ok {
		return config.LLMRoleConfig{}, rferr.New(rferr.KindInputInvalid, fmt.Sprintf("unknown llm role %q", role))
	}
	return rc, nil
}

func (g *OllamaGateway) temperature(role string, rc config.LLMRoleConfig, opts Options) float64 {
	if opts.Temperature != nil {
		return *opts.Temperature
	}
	if rc.Temperature != 0 {
		return rc.Temperature
	}
	return config.DefaultTemperature(role)
}

// ChatStream implements Gateway.ChatStream (spec §4.3 streaming contract).
func (g *OllamaGateway) ChatStream(ctx context.Context, role string, messages []Message, opts Options, onDelta func(StreamDelta)) (*ChatResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "llm_call", attribute.String("llm.role", role))
	defer span.End()

	rc, err := g.roleConfig(role)
	if err != nil {
		return nil, err
	}
	model := rc.Model
	if opts.Model != "" {
		model = opts.Model
	}
	client := g.clientFor(rc.Endpoint)
	br := g.breakers.Get("llm:" + role)

	temp := g.temperature(role, rc, opts)
	req := ollamaChatRequest{
		Model:    model,
		Messages: toOllamaMessages(messages),
		Options:  map[string]interface{}{"temperature": temp},
	}
	if opts.ContextWindow > 0 {
		req.Options["num_ctx"] = opts.ContextWindow
	} else if g.cfg.Snapshot().LLM.ContextWindow > 0 {
		req.Options["num_ctx"] = g.cfg.Snapshot().LLM.ContextWindow
	}

	result := &ChatResponse{}
	var sb strings.Builder
	runErr := br.Execute(ctx, func(ctx context.Context) error {
		sb.Reset()
		return client.streamChat(ctx, req, func(line ollamaChatStreamLine) {
			if line.Message.Content != "" {
				sb.WriteString(line.Message.Content)
				onDelta(StreamDelta{Content: line.Message.Content})
			}
			if line.Done {
				result.PromptTokens = line.PromptEvalCount
				result.CompletionTokens = line.EvalCount
				onDelta(StreamDelta{Done: true})
			}
		})
	})
	if runErr != nil {
		if _, open := runErr.(*breaker.ErrOpen); open {
			return nil, rferr.Wrap(rferr.KindCircuitOpen, "llm role "+role, runErr)
		}
		return nil, rferr.Wrap(rferr.KindLLMUnavailable, "chat_stream failed for role "+role, runErr)
	}
	result.Content = sb.String()
	return result, nil
}

// CompleteJSON implements Gateway.CompleteJSON: sets JSON format,
// validates the result against schema, and retries once with a
// repair instruction on validation failure (spec §4.3).
func (g *OllamaGateway) CompleteJSON(ctx context.Context, role string, prompt string, schema map[string]any, opts Options) (map[string]any, error) {
	ctx, span := tracing.StartSpan(ctx, "llm_call", attribute.String("llm.role", role), attribute.String("llm.mode", "json"))
	defer span.End()

	rc, err := g.roleConfig(role)
	if err != nil {
		return nil, err
	}
	model := rc.Model
	if opts.Model != "" {
		model = opts.Model
	}
	client := g.clientFor(rc.Endpoint)
	br := g.breakers.Get("llm:" + role)
	temp := g.temperature(role, rc, opts)

	attempt := func(p string) (map[string]any, error) {
		req := ollamaChatRequest{
			Model:    model,
			Messages: []ollamaChatMessage{{Role: "user", Content: p}},
			Format:   "json",
			Options:  map[string]interface{}{"temperature": temp},
		}
		var content string
		err := br.Execute(ctx, func(ctx context.Context) error {
			c, err := client.chat(ctx, req)
			content = c
			return err
		})
		if err != nil {
			if _, open := err.(*breaker.ErrOpen); open {
				return nil, rferr.Wrap(rferr.KindCircuitOpen, "llm role "+role, err)
			}
			return nil, rferr.Wrap(rferr.KindLLMUnavailable, "complete_json failed for role "+role, err)
		}

		var parsed map[string]any
		if err := json.Unmarshal([]byte(content), &parsed); err != nil {
			return nil, rferr.Wrap(rferr.KindLLMMalformedOutput, "response is not valid JSON", err)
		}
		if len(schema) > 0 {
			if err := validateAgainstSchema(schema, parsed); err != nil {
				return nil, rferr.Wrap(rferr.KindLLMMalformedOutput, "response does not match schema", err)
			}
		}
		return parsed, nil
	}

	result, err := attempt(prompt)
	if err == nil {
		return result, nil
	}
	if rferr.KindOf(err) != rferr.KindLLMMalformedOutput {
		return nil, err
	}

	g.log.Warn("llm.json_repair_retry", "role", role)
	repairPrompt := prompt + "\n\nRespond with only valid JSON matching this schema, no commentary: " + schemaToHint(schema)
	result, err = attempt(repairPrompt)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Embed implements Gateway.Embed.
func (g *OllamaGateway) Embed(ctx context.Context, role string, text string) ([]float32, error) {
	ctx, span := tracing.StartSpan(ctx, "llm_call", attribute.String("llm.role", role), attribute.String("llm.mode", "embed"))
	defer span.End()

	rc, err := g.roleConfig(role)
	if err != nil {
		return nil, err
	}
	client := g.clientFor(rc.Endpoint)
	br := g.breakers.Get("llm:" + role)

	var vec []float32
	runErr := br.Execute(ctx, func(ctx context.Context) error {
		v, err := client.embed(ctx, rc.Model, text)
		vec = v
		return err
	})
	if runErr != nil {
		if _, open := runErr.(*breaker.ErrOpen); open {
			return nil, rferr.Wrap(rferr.KindCircuitOpen, "llm role "+role, runErr)
		}
		return nil, rferr.Wrap(rferr.KindLLMUnavailable, "embed failed for role "+role, runErr)
	}
	dim := g.cfg.Snapshot().EmbeddingDim
	if dim > 0 && len(vec) != dim {
		return nil, rferr.New(rferr.KindInternal, fmt.Sprintf("embedding dimension mismatch: got %d, want %d", len(vec), dim))
	}
	return vec, nil
}

func toOllamaMessages(msgs []Message) []ollamaChatMessage {
	out := make([]ollamaChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = ollamaChatMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// validateAgainstSchema checks doc against a JSON Schema expressed as
// a plain map, following the teacher's tool-argument validation
// pattern (gojsonschema over Go values, no marshal round-trip needed).
func validateAgainstSchema(schema map[string]any, doc map[string]any) error {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	docLoader := gojsonschema.NewGoLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return nil
}

func schemaToHint(schema map[string]any) string {
	b, err := json.Marshal(schema)
	if err != nil {
		return ""
	}
	return string(b)
}
