package agentrouter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ebongard/renfield/internal/config"
	"github.com/ebongard/renfield/internal/llm"
)

type fakeGateway struct {
	completeJSON func(ctx context.Context, role, prompt string, schema map[string]any, opts llm.Options) (map[string]any, error)
}

func (f *fakeGateway) ChatStream(context.Context, string, []llm.Message, llm.Options, func(llm.StreamDelta)) (*llm.ChatResponse, error) {
	return nil, nil
}

func (f *fakeGateway) CompleteJSON(ctx context.Context, role, prompt string, schema map[string]any, opts llm.Options) (map[string]any, error) {
	return f.completeJSON(ctx, role, prompt, schema, opts)
}

func (f *fakeGateway) Embed(context.Context, string, string) ([]float32, error) { return nil, nil }

func TestRouteReturnsClassifiedRole(t *testing.T) {
	gw := &fakeGateway{completeJSON: func(ctx context.Context, role, prompt string, schema map[string]any, opts llm.Options) (map[string]any, error) {
		return map[string]any{"role": "smart_home", "reason": "mentions lights"}, nil
	}}
	r := New(gw, config.Default(), nil)

	role, reason := r.Route(context.Background(), "turn on the kitchen lights")
	assert.Equal(t, RoleSmartHome, role)
	assert.Equal(t, "mentions lights", reason)
}

func TestRouteDefaultsToConversationOnGatewayError(t *testing.T) {
	gw := &fakeGateway{completeJSON: func(ctx context.Context, role, prompt string, schema map[string]any, opts llm.Options) (map[string]any, error) {
		return nil, errors.New("llm unavailable")
	}}
	r := New(gw, config.Default(), nil)

	role, _ := r.Route(context.Background(), "anything")
	assert.Equal(t, RoleConversation, role)
}

func TestRouteDefaultsToConversationOnUnknownRole(t *testing.T) {
	gw := &fakeGateway{completeJSON: func(ctx context.Context, role, prompt string, schema map[string]any, opts llm.Options) (map[string]any, error) {
		return map[string]any{"role": "not_a_real_role", "reason": "?"}, nil
	}}
	r := New(gw, config.Default(), nil)

	role, _ := r.Route(context.Background(), "anything")
	assert.Equal(t, RoleConversation, role)
}

func TestManifestResolvesRoleConfig(t *testing.T) {
	r := New(nil, config.Default(), nil)
	m := r.Manifest(RoleSmartHome)
	assert.Equal(t, "Smart Home", m.Label)
	assert.Contains(t, m.ToolPrefixes, "mcp.homeassistant.")
}
