package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebongard/renfield/internal/agent"
	"github.com/ebongard/renfield/internal/agentrouter"
	"github.com/ebongard/renfield/internal/feedback"
	"github.com/ebongard/renfield/internal/intent"
	"github.com/ebongard/renfield/internal/knowledge"
	"github.com/ebongard/renfield/internal/llm"
	"github.com/ebongard/renfield/internal/mcphub"
	"github.com/ebongard/renfield/internal/memory"
	"github.com/ebongard/renfield/internal/outputrouter"
)

type fakeConvo struct {
	tail     []llm.Message
	mu       sync.Mutex
	appended []string
}

func (f *fakeConvo) TailMessages(ctx context.Context, conversationID string, n int) ([]llm.Message, error) {
	return f.tail, nil
}

func (f *fakeConvo) AppendMessage(ctx context.Context, conversationID, role, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, role+":"+content)
	return nil
}

type fakeMemories struct {
	mems []memory.Memory
}

func (f *fakeMemories) Retrieve(ctx context.Context, userID, queryText string, limit int, threshold float64) ([]memory.Memory, error) {
	return f.mems, nil
}

type fakeMemRecon struct {
	mu       sync.Mutex
	decision memory.ReconcileDecision
	inserted []string
	done     chan struct{}
}

func (f *fakeMemRecon) Reconcile(ctx context.Context, userID, newContent string) (memory.ReconcileDecision, string, error) {
	return f.decision, "", nil
}

func (f *fakeMemRecon) Insert(ctx context.Context, userID, category, content string, importance float64) (string, error) {
	f.mu.Lock()
	f.inserted = append(f.inserted, content)
	f.mu.Unlock()
	if f.done != nil {
		close(f.done)
	}
	return "mem-1", nil
}

type fakeKnowledge struct {
	chunks []knowledge.Chunk
}

func (f *fakeKnowledge) Retrieve(ctx context.Context, queryText string, kbIDs []string, userID string, topK int) ([]knowledge.Chunk, error) {
	return f.chunks, nil
}

type fakeFeedback struct {
	corrections []feedback.Correction
}

func (f *fakeFeedback) FewShot(ctx context.Context, userID string, limit int) ([]feedback.Correction, error) {
	return f.corrections, nil
}

type fakeClassifier struct {
	candidates []intent.IntentCandidate
}

func (f *fakeClassifier) Classify(ctx context.Context, userID, message, roomContext string, keywordHints []string) ([]intent.IntentCandidate, error) {
	return f.candidates, nil
}

type fakeAgentRouter struct {
	role     agentrouter.Role
	manifest agentrouter.RoleManifestEntry
}

func (f *fakeAgentRouter) Route(ctx context.Context, message string) (agentrouter.Role, string) {
	return f.role, "routed"
}

func (f *fakeAgentRouter) Manifest(role agentrouter.Role) agentrouter.RoleManifestEntry {
	return f.manifest
}

type fakeAgentLoop struct {
	events []agent.Event
	err    error
}

func (f *fakeAgentLoop) Run(ctx context.Context, role agentrouter.Role, manifest agentrouter.RoleManifestEntry, message string, convContext []llm.Message, caller mcphub.Caller, catalog []mcphub.ToolDescriptor, emit func(agent.Event)) error {
	for _, ev := range f.events {
		emit(ev)
	}
	return f.err
}

type fakeTools struct {
	result json.RawMessage
	err    error
	called string
}

func (f *fakeTools) Execute(ctx context.Context, toolName string, params map[string]any, caller mcphub.Caller) (json.RawMessage, error) {
	f.called = toolName
	return f.result, f.err
}

type fakeCatalog struct {
	catalog []mcphub.ToolDescriptor
}

func (f *fakeCatalog) Catalog() []mcphub.ToolDescriptor {
	return f.catalog
}

type fakeTTS struct {
	playable outputrouter.Playable
	err      error
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string) (outputrouter.Playable, error) {
	return f.playable, f.err
}

type fakeRouter struct {
	err    error
	room   string
	origin string
}

func (f *fakeRouter) Route(ctx context.Context, roomID string, playable outputrouter.Playable, originatingDevice string) (outputrouter.EmissionPlan, error) {
	f.room = roomID
	f.origin = originatingDevice
	if f.err != nil {
		return outputrouter.EmissionPlan{}, f.err
	}
	return outputrouter.EmissionPlan{RoomID: roomID}, nil
}

type fakeSpeakerCtx struct {
	device string
}

func (f *fakeSpeakerCtx) OriginatingDevice(sessionID string) string {
	return f.device
}

type fakeGateway struct {
	chatStream   func(role string, messages []llm.Message) (*llm.ChatResponse, error)
	completeJSON map[string]any
}

func (f *fakeGateway) ChatStream(ctx context.Context, role string, messages []llm.Message, opts llm.Options, onDelta func(llm.StreamDelta)) (*llm.ChatResponse, error) {
	if f.chatStream != nil {
		return f.chatStream(role, messages)
	}
	onDelta(llm.StreamDelta{Content: "hi"})
	return &llm.ChatResponse{Content: "hi"}, nil
}

func (f *fakeGateway) CompleteJSON(ctx context.Context, role string, prompt string, schema map[string]any, opts llm.Options) (map[string]any, error) {
	return f.completeJSON, nil
}

func (f *fakeGateway) Embed(ctx context.Context, role string, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}

type fakeClient struct {
	mu          sync.Mutex
	deltas      []string
	agentEvents []agent.Event
	doneCalled  bool
	ttsHandled  bool
}

func (c *fakeClient) SendAgentEvent(ev agent.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentEvents = append(c.agentEvents, ev)
}

func (c *fakeClient) SendDelta(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deltas = append(c.deltas, text)
}

func (c *fakeClient) SendDone(ttsHandled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doneCalled = true
	c.ttsHandled = ttsHandled
}

func TestRunTurnSimplePathSkipsToolUseForGeneralConversation(t *testing.T) {
	classifier := &fakeClassifier{candidates: []intent.IntentCandidate{{Name: "general.conversation", Confidence: 1}}}
	tools := &fakeTools{}
	gw := &fakeGateway{}
	o := New(Deps{Classifier: classifier, Tools: tools, Gateway: gw}, DefaultConfig(), nil)

	client := &fakeClient{}
	err := o.RunTurn(context.Background(), Turn{SessionID: "s1", UserID: "u1", Text: "hello there"}, client)

	require.NoError(t, err)
	assert.Empty(t, tools.called)
	assert.True(t, client.doneCalled)
	assert.NotEmpty(t, client.deltas)
}

func TestRunTurnSimplePathExecutesTopToolAndFoldsResultIntoPrompt(t *testing.T) {
	classifier := &fakeClassifier{candidates: []intent.IntentCandidate{{Name: "smarthome.turn_on", Confidence: 0.9, Parameters: map[string]any{"entity": "light.kitchen"}}}}
	tools := &fakeTools{result: json.RawMessage(`{"ok":true}`)}
	var seenPrompt string
	gw := &fakeGateway{chatStream: func(role string, messages []llm.Message) (*llm.ChatResponse, error) {
		seenPrompt = messages[0].Content
		return &llm.ChatResponse{Content: "done"}, nil
	}}
	o := New(Deps{Classifier: classifier, Tools: tools, Gateway: gw}, DefaultConfig(), nil)

	client := &fakeClient{}
	err := o.RunTurn(context.Background(), Turn{SessionID: "s1", UserID: "u1", Text: "turn on the kitchen light"}, client)

	require.NoError(t, err)
	assert.Equal(t, "smarthome.turn_on", tools.called)
	assert.Contains(t, seenPrompt, "ok")
}

func TestRunTurnComplexPathRoutesThroughAgentLoopAndSkipsStreaming(t *testing.T) {
	router := &fakeAgentRouter{role: agentrouter.RoleResearch, manifest: agentrouter.RoleManifestEntry{Label: "Research", ToolPrefixes: []string{"mcp.web."}}}
	loop := &fakeAgentLoop{events: []agent.Event{
		{Type: agent.EventThinking, Text: "looking it up"},
		{Type: agent.EventFinalToken, Text: "the answer is 42"},
	}}
	catalog := &fakeCatalog{catalog: []mcphub.ToolDescriptor{{Server: "web", Name: "search"}, {Server: "homeassistant", Name: "toggle"}}}
	convo := &fakeConvo{}
	o := New(Deps{AgentRoute: router, AgentLoop: loop, Catalog: catalog, Convo: convo}, DefaultConfig(), nil)

	client := &fakeClient{}
	msg := "if it is warmer than 20 degrees then open the window and also tell me why"
	err := o.RunTurn(context.Background(), Turn{SessionID: "s1", UserID: "u1", Text: msg}, client)

	require.NoError(t, err)
	require.Len(t, client.agentEvents, 3) // agent_role + thinking + final_token
	assert.Equal(t, "agent_role", client.agentEvents[0].Type)
	assert.Equal(t, "research", client.agentEvents[0].Text)
	assert.Contains(t, convo.appended, "assistant:the answer is 42")
}

func TestRunTurnKnowledgeRetrievalGatedByHeuristic(t *testing.T) {
	kr := &fakeKnowledge{chunks: []knowledge.Chunk{{Text: "the sky is blue"}}}
	var seenRole string
	gw := &fakeGateway{chatStream: func(role string, messages []llm.Message) (*llm.ChatResponse, error) {
		seenRole = role
		return &llm.ChatResponse{Content: "ok"}, nil
	}}
	o := New(Deps{Knowledge: kr, Gateway: gw}, DefaultConfig(), nil)

	client := &fakeClient{}
	err := o.RunTurn(context.Background(), Turn{SessionID: "s1", UserID: "u1", Text: "what color is the sky?"}, client)

	require.NoError(t, err)
	assert.Equal(t, "rag", seenRole)
}

func TestRunTurnSkipsKnowledgeRetrievalForNonQuestions(t *testing.T) {
	kr := &fakeKnowledge{chunks: []knowledge.Chunk{{Text: "should not appear"}}}
	var seenRole string
	gw := &fakeGateway{chatStream: func(role string, messages []llm.Message) (*llm.ChatResponse, error) {
		seenRole = role
		return &llm.ChatResponse{Content: "ok"}, nil
	}}
	o := New(Deps{Knowledge: kr, Gateway: gw}, DefaultConfig(), nil)

	client := &fakeClient{}
	err := o.RunTurn(context.Background(), Turn{SessionID: "s1", UserID: "u1", Text: "turn off the lights"}, client)

	require.NoError(t, err)
	assert.Equal(t, "chat", seenRole)
}

func TestRunTurnPersistsUserAndAssistantMessages(t *testing.T) {
	convo := &fakeConvo{}
	gw := &fakeGateway{}
	o := New(Deps{Convo: convo, Gateway: gw}, DefaultConfig(), nil)

	client := &fakeClient{}
	err := o.RunTurn(context.Background(), Turn{SessionID: "s1", UserID: "u1", Text: "good morning"}, client)

	require.NoError(t, err)
	assert.Contains(t, convo.appended, "user:good morning")
	assert.Contains(t, convo.appended, "assistant:hi")
}

func TestRunTurnExtractsMemoriesInBackgroundWhenReconcileDecidesAdd(t *testing.T) {
	done := make(chan struct{})
	recon := &fakeMemRecon{decision: memory.DecisionAdd, done: done}
	gw := &fakeGateway{completeJSON: map[string]any{"facts": []any{"likes tea"}}}
	o := New(Deps{MemRecon: recon, Gateway: gw}, DefaultConfig(), nil)

	client := &fakeClient{}
	err := o.RunTurn(context.Background(), Turn{SessionID: "s1", UserID: "u1", Text: "I really enjoy my tea in the morning"}, client)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected background memory extraction to insert a fact")
	}
	recon.mu.Lock()
	defer recon.mu.Unlock()
	assert.Equal(t, []string{"likes tea"}, recon.inserted)
}

func TestRunTurnRoutesTTSWhenAudioInput(t *testing.T) {
	tts := &fakeTTS{playable: outputrouter.Playable{URL: "file://reply.wav"}}
	router := &fakeRouter{}
	speakerCtx := &fakeSpeakerCtx{device: "device-1"}
	gw := &fakeGateway{}
	o := New(Deps{TTS: tts, Router: router, SpeakerCtx: speakerCtx, Gateway: gw}, DefaultConfig(), nil)

	client := &fakeClient{}
	err := o.RunTurn(context.Background(), Turn{SessionID: "s1", UserID: "u1", Room: "kitchen", Audio: []byte("audio"), Text: "hi"}, client)

	require.NoError(t, err)
	assert.Equal(t, "kitchen", router.room)
	assert.Equal(t, "device-1", router.origin)
	assert.True(t, client.ttsHandled)
}

func TestFilterCatalogKeepsOnlyToolsMatchingRolePrefixes(t *testing.T) {
	catalog := []mcphub.ToolDescriptor{
		{Server: "web", Name: "search"},
		{Server: "homeassistant", Name: "toggle"},
	}
	filtered := filterCatalog(catalog, []string{"mcp.web."})
	require.Len(t, filtered, 1)
	assert.Equal(t, "search", filtered[0].Name)
}

func TestFilterCatalogReturnsEverythingWhenNoPrefixesConfigured(t *testing.T) {
	catalog := []mcphub.ToolDescriptor{{Server: "web", Name: "search"}}
	assert.Equal(t, catalog, filterCatalog(catalog, nil))
}

func TestRunTurnReturnsNilOnEmptyTranscription(t *testing.T) {
	o := New(Deps{}, DefaultConfig(), nil)
	client := &fakeClient{}
	err := o.RunTurn(context.Background(), Turn{SessionID: "s1", UserID: "u1"}, client)
	require.NoError(t, err)
	assert.False(t, client.doneCalled)
}
