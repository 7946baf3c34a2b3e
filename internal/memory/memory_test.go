package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebongard/renfield/internal/config"
	"github.com/ebongard/renfield/internal/llm"
)

func TestToVectorLiteralFormatsPgvectorSyntax(t *testing.T) {
	assert.Equal(t, "[]", toVectorLiteral(nil))
	assert.Equal(t, "[1,0.5,-2]", toVectorLiteral([]float32{1, 0.5, -2}))
}

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

func TestClassifyPairMapsValidDecisions(t *testing.T) {
	s := &Store{cfg: config.Default()}
	for _, want := range []ReconcileDecision{DecisionAdd, DecisionUpdate, DecisionDelete, DecisionNoop} {
		s.gw = &fakeGateway{completeJSON: func(context.Context, string, string, map[string]any, llm.Options) (map[string]any, error) {
			return map[string]any{"decision": string(want)}, nil
		}}
		got, err := s.classifyPair(context.Background(), "new", "existing")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestClassifyPairDefaultsToNoopOnGarbage(t *testing.T) {
	s := &Store{cfg: config.Default(), gw: &fakeGateway{
		completeJSON: func(context.Context, string, string, map[string]any, llm.Options) (map[string]any, error) {
			return map[string]any{"decision": "destroy_everything"}, nil
		},
	}}
	got, err := s.classifyPair(context.Background(), "new", "existing")
	require.NoError(t, err)
	assert.Equal(t, DecisionNoop, got)
}
