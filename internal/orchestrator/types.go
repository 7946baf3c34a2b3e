// Package orchestrator implements the Orchestrator / Conversation
// Pipeline (spec §4.17): the top-level per-turn coordinator tying
// together transcription, speaker id, context retrieval, the
// fast/agent routing gate, streaming generation, persistence,
// background memory extraction, and TTS/output routing.
package orchestrator

import (
	"context"
	"time"

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

// Turn is the Orchestrator's input (spec §4.17 "The turn").
type Turn struct {
	SessionID string
	UserID    string
	Room      string
	Text             string // set when the inbound payload is already text
	Audio            []byte // set when the inbound payload is an audio blob
	WantsTTS         bool   // caller explicitly requested TTS regardless of input modality
	KnowledgeBaseIDs []string
}

// STT transcribes an audio blob (spec §4.17 step 1).
type STT interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// SpeakerID identifies a satellite speaker from audio, for user
// override when confidence clears the configured threshold (spec
// §4.17 step 2).
type SpeakerID interface {
	Identify(ctx context.Context, audio []byte) (userID string, confidence float64, ok bool)
}

// ConversationStore persists turn messages and supplies short-term
// context (spec §4.17 steps 3 and 9). The concrete implementation
// lives in internal/store/pg.
type ConversationStore interface {
	AppendMessage(ctx context.Context, conversationID, role, content string) error
	TailMessages(ctx context.Context, conversationID string, n int) ([]llm.Message, error)
}

// MemoryRetriever is the Memory Store surface the Orchestrator needs
// (satisfied by *memory.Store).
type MemoryRetriever interface {
	Retrieve(ctx context.Context, userID, queryText string, limit int, threshold float64) ([]memory.Memory, error)
}

// MemoryReconciler is the Memory Store surface background extraction
// needs (satisfied by *memory.Store).
type MemoryReconciler interface {
	Reconcile(ctx context.Context, userID, newContent string) (memory.ReconcileDecision, string, error)
	Insert(ctx context.Context, userID, category, content string, importance float64) (string, error)
}

// KnowledgeRetriever is the Knowledge Retriever surface the
// Orchestrator needs (satisfied by *knowledge.Retriever).
type KnowledgeRetriever interface {
	Retrieve(ctx context.Context, queryText string, kbIDs []string, userID string, topK int) ([]knowledge.Chunk, error)
}

// FeedbackRetriever is the Feedback Retriever surface the Orchestrator
// needs (satisfied by *feedback.Retriever).
type FeedbackRetriever interface {
	FewShot(ctx context.Context, userID string, limit int) ([]feedback.Correction, error)
}

// IntentClassifier is the fast-path classifier (satisfied by *intent.Classifier).
type IntentClassifier interface {
	Classify(ctx context.Context, userID, message, roomContext string, keywordHints []string) ([]intent.IntentCandidate, error)
}

// AgentRouter and AgentLoop are the complex-path pair: AgentRouter
// classifies a role and supplies its manifest (satisfied by
// *agentrouter.Router), AgentLoop runs it (satisfied by *agent.Loop).
type AgentRouter interface {
	Route(ctx context.Context, message string) (agentrouter.Role, string)
	Manifest(role agentrouter.Role) agentrouter.RoleManifestEntry
}

type AgentLoop interface {
	Run(ctx context.Context, role agentrouter.Role, manifest agentrouter.RoleManifestEntry, message string, convContext []llm.Message, caller mcphub.Caller, catalog []mcphub.ToolDescriptor, emit func(agent.Event)) error
}

// ToolExecutor runs the resolved tool for the fast path (satisfied by
// *mcphub.Hub; re-exported for callers that only import orchestrator).
type ToolExecutor = agent.ToolExecutor

// ToolCatalogSource supplies the live tool catalog for the Agent Loop
// (satisfied by *mcphub.Hub).
type ToolCatalogSource interface {
	Catalog() []mcphub.ToolDescriptor
}

// TTS synthesizes text into a playable audio reference.
type TTS interface {
	Synthesize(ctx context.Context, text string) (outputrouter.Playable, error)
}

// Router dispatches synthesized audio to a room (satisfied by *outputrouter.Router).
type Router interface {
	Route(ctx context.Context, roomID string, playable outputrouter.Playable, originatingDevice string) (outputrouter.EmissionPlan, error)
}

// Client is the transport-facing sink events and final output stream
// to (one per connected session; the WebSocket handler in
// internal/httpapi implements this by writing framed protocol
// messages).
type Client interface {
	SendAgentEvent(agent.Event)
	SendDelta(text string)
	SendDone(ttsHandled bool)
}

// SpeakerContext resolves the id of the device a session's turn came
// from, which the Output Router uses as its fallback target (kept
// distinct from the Router collaborator, which only dispatches once a
// room is already known).
type SpeakerContext interface {
	OriginatingDevice(sessionID string) string
}

// Config carries the tunables the turn pipeline reads directly (the
// rest — Agent Loop's own step/total timeouts, role manifests — live
// inside the collaborators that already read *config.Config).
type Config struct {
	FastPathContextMessages int
	MemoryRetrieveLimit     int
	MemoryRetrieveThreshold float64
	KnowledgeTopK           int
	FeedbackLimit           int
	SpeakerIDThreshold      float64
	STTTimeout              time.Duration
	RetrievalTimeout        time.Duration
	MemoryEnabled           bool
	SpeakerIDEnabled        bool
}

// DefaultConfig returns spec §4.17's stated defaults.
func DefaultConfig() Config {
	return Config{
		FastPathContextMessages: 10,
		MemoryRetrieveLimit:     3,
		MemoryRetrieveThreshold: 0.7,
		KnowledgeTopK:           5,
		FeedbackLimit:           3,
		SpeakerIDThreshold:      0.7,
		STTTimeout:              30 * time.Second,
		RetrievalTimeout:        5 * time.Second,
		MemoryEnabled:           true,
		SpeakerIDEnabled:        false,
	}
}
