package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebongard/renfield/internal/breaker"
	"github.com/ebongard/renfield/internal/clockcfg"
	"github.com/ebongard/renfield/internal/config"
	"github.com/ebongard/renfield/internal/rferr"
)

func testGateway(t *testing.T, endpoint string) *OllamaGateway {
	t.Helper()
	cfg := config.Default()
	cfg.LLM.Roles["chat"] = config.LLMRoleConfig{Endpoint: endpoint, Model: "llama3.1"}
	cfg.LLM.Roles["intent"] = config.LLMRoleConfig{Endpoint: endpoint, Model: "llama3.1"}
	breakers := breaker.NewManager(breaker.DefaultConfig(), clockcfg.SystemClock{}, nil)
	return NewOllamaGateway(cfg, breakers, nil)
}

func TestChatStreamAccumulatesDeltasAndSignalsDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lines := []string{
			`{"message":{"content":"Hel"},"done":false}`,
			`{"message":{"content":"lo"},"done":false}`,
			`{"message":{"content":""},"done":true,"prompt_eval_count":5,"eval_count":2}`,
		}
		for _, l := range lines {
			fmt.Fprintln(w, l)
		}
	}))
	defer srv.Close()

	gw := testGateway(t, srv.URL)
	var deltas []StreamDelta
	resp, err := gw.ChatStream(context.Background(), "chat", []Message{{Role: "user", Content: "hi"}}, Options{}, func(d StreamDelta) {
		deltas = append(deltas, d)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, 5, resp.PromptTokens)
	assert.True(t, deltas[len(deltas)-1].Done)
	assert.Empty(t, deltas[len(deltas)-1].Content)
}

func TestCompleteJSONValidatesAgainstSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"message": map[string]any{"content": `{"intent":"set_timer","confidence":0.9}`}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	gw := testGateway(t, srv.URL)
	schema := map[string]any{
		"type":     "object",
		"required": []any{"intent", "confidence"},
		"properties": map[string]any{
			"intent":     map[string]any{"type": "string"},
			"confidence": map[string]any{"type": "number"},
		},
	}
	out, err := gw.CompleteJSON(context.Background(), "intent", "classify", schema, Options{})
	require.NoError(t, err)
	assert.Equal(t, "set_timer", out["intent"])
}

func TestCompleteJSONRetriesOnceOnSchemaMismatchThenFails(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		resp := map[string]any{"message": map[string]any{"content": `{"wrong_field":true}`}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	gw := testGateway(t, srv.URL)
	schema := map[string]any{
		"type":     "object",
		"required": []any{"intent"},
		"properties": map[string]any{
			"intent": map[string]any{"type": "string"},
		},
	}
	_, err := gw.CompleteJSON(context.Background(), "intent", "classify", schema, Options{})
	require.Error(t, err)
	assert.Equal(t, rferr.KindLLMMalformedOutput, rferr.KindOf(err))
	assert.Equal(t, 2, calls, "exactly one repair retry")
}

func TestChatStreamSurfacesCircuitOpenAfterThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	gw := testGateway(t, srv.URL)
	for i := 0; i < 3; i++ {
		_, err := gw.ChatStream(context.Background(), "chat", []Message{{Role: "user", Content: "hi"}}, Options{}, func(StreamDelta) {})
		require.Error(t, err)
		assert.Equal(t, rferr.KindLLMUnavailable, rferr.KindOf(err))
	}

	_, err := gw.ChatStream(context.Background(), "chat", []Message{{Role: "user", Content: "hi"}}, Options{}, func(StreamDelta) {})
	require.Error(t, err)
	assert.Equal(t, rferr.KindCircuitOpen, rferr.KindOf(err))
}

func TestClientsAreSharedPerEndpoint(t *testing.T) {
	gw := testGateway(t, "http://localhost:11434")
	c1 := gw.clientFor("http://localhost:11434")
	c2 := gw.clientFor("http://localhost:11434")
	assert.Same(t, c1, c2)
}

func TestUnknownRoleIsInputInvalid(t *testing.T) {
	gw := testGateway(t, "http://localhost:11434")
	_, err := gw.ChatStream(context.Background(), "nonexistent", nil, Options{}, func(StreamDelta) {})
	require.Error(t, err)
	assert.Equal(t, rferr.KindInputInvalid, rferr.KindOf(err))
}
