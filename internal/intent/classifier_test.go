package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebongard/renfield/internal/llm"
)

type fakeGateway struct {
	completeJSON func(ctx context.Context, role, prompt string, schema map[string]any, opts llm.Options) (map[string]any, error)
}

func (f *fakeGateway) ChatStream(ctx context.Context, role string, messages []llm.Message, opts llm.Options, onDelta func(llm.StreamDelta)) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{}, nil
}

func (f *fakeGateway) CompleteJSON(ctx context.Context, role, prompt string, schema map[string]any, opts llm.Options) (map[string]any, error) {
	return f.completeJSON(ctx, role, prompt, schema, opts)
}

func (f *fakeGateway) Embed(ctx context.Context, role, text string) ([]float32, error) {
	return nil, nil
}

type fakeCatalog struct{ names []string }

func (f fakeCatalog) PromptToolNames() []string { return f.names }

func TestClassifySortsByConfidenceDescending(t *testing.T) {
	gw := &fakeGateway{completeJSON: func(ctx context.Context, role, prompt string, schema map[string]any, opts llm.Options) (map[string]any, error) {
		return map[string]any{
			"intents": []any{
				map[string]any{"intent": "weather.query", "confidence": 0.4},
				map[string]any{"intent": "smart_home.light_on", "confidence": 0.9},
			},
		}, nil
	}}
	c := New(gw, fakeCatalog{names: []string{"mcp.smarthome.light_on"}}, nil)

	got, err := c.Classify(context.Background(), "", "turn on the lights", "", nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "smart_home.light_on", got[0].Name)
	assert.Equal(t, "weather.query", got[1].Name)
}

func TestClassifyCapsAtThreeCandidates(t *testing.T) {
	gw := &fakeGateway{completeJSON: func(ctx context.Context, role, prompt string, schema map[string]any, opts llm.Options) (map[string]any, error) {
		return map[string]any{
			"intents": []any{
				map[string]any{"intent": "a", "confidence": 0.9},
				map[string]any{"intent": "b", "confidence": 0.8},
				map[string]any{"intent": "c", "confidence": 0.7},
				map[string]any{"intent": "d", "confidence": 0.6},
			},
		}, nil
	}}
	c := New(gw, nil, nil)

	got, err := c.Classify(context.Background(), "", "hello", "", nil)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestClassifyFallsBackOnMalformedOutput(t *testing.T) {
	gw := &fakeGateway{completeJSON: func(ctx context.Context, role, prompt string, schema map[string]any, opts llm.Options) (map[string]any, error) {
		return map[string]any{"garbage": true}, nil
	}}
	c := New(gw, nil, nil)

	got, err := c.Classify(context.Background(), "", "hello", "", nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fallbackIntent, got[0])
}

func TestClassifyFallsBackOnGatewayError(t *testing.T) {
	gw := &fakeGateway{completeJSON: func(ctx context.Context, role, prompt string, schema map[string]any, opts llm.Options) (map[string]any, error) {
		return nil, assertErr
	}}
	c := New(gw, nil, nil)

	got, err := c.Classify(context.Background(), "", "hello", "", nil)
	require.NoError(t, err)
	assert.Equal(t, []IntentCandidate{fallbackIntent}, got)
}

var assertErr = errors.New("llm unavailable")
