package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ebongard/renfield/internal/agent"
	"github.com/ebongard/renfield/internal/intent"
	"github.com/ebongard/renfield/internal/knowledge"
	"github.com/ebongard/renfield/internal/llm"
	"github.com/ebongard/renfield/internal/mcphub"
	"github.com/ebongard/renfield/internal/memory"
	"github.com/ebongard/renfield/internal/outputrouter"
	"github.com/ebongard/renfield/internal/tracing"
)

// correctionPair is one few-shot example drawn from a feedback
// correction, folded into the system prompt.
type correctionPair struct {
	WrongDecision, RightDecision string
}

// Orchestrator runs the per-turn pipeline (spec §4.17): transcribe,
// identify speaker, gather context, route simple vs. complex, stream
// the reply, persist, extract memories in the background, and route
// TTS to the originating room.
type Orchestrator struct {
	stt        STT
	speaker    SpeakerID
	convo      ConversationStore
	memories   MemoryRetriever
	memRecon   MemoryReconciler
	knowledge  KnowledgeRetriever
	feedback   FeedbackRetriever
	classifier IntentClassifier
	agentRoute AgentRouter
	agentLoop  AgentLoop
	tools      ToolExecutor
	catalog    ToolCatalogSource
	tts        TTS
	router     Router
	speakerCtx SpeakerContext
	gw         llm.Gateway
	cfg        Config
	log        *slog.Logger
}

// Deps bundles every collaborator; any pointer field left nil
// disables the corresponding pipeline step rather than erroring (the
// same "nil collaborator skips its step" convention internal/notify
// uses).
type Deps struct {
	STT        STT
	Speaker    SpeakerID
	Convo      ConversationStore
	Memories   MemoryRetriever
	MemRecon   MemoryReconciler
	Knowledge  KnowledgeRetriever
	Feedback   FeedbackRetriever
	Classifier IntentClassifier
	AgentRoute AgentRouter
	AgentLoop  AgentLoop
	Tools      ToolExecutor
	Catalog    ToolCatalogSource
	TTS        TTS
	Router     Router
	SpeakerCtx SpeakerContext
	Gateway    llm.Gateway
}

// New wires an Orchestrator.
func New(d Deps, cfg Config, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		stt: d.STT, speaker: d.Speaker, convo: d.Convo,
		memories: d.Memories, memRecon: d.MemRecon, knowledge: d.Knowledge,
		feedback: d.Feedback, classifier: d.Classifier,
		agentRoute: d.AgentRoute, agentLoop: d.AgentLoop,
		tools: d.Tools, catalog: d.Catalog,
		tts: d.TTS, router: d.Router, speakerCtx: d.SpeakerCtx,
		gw: d.Gateway, cfg: cfg, log: log,
	}
}

// RunTurn executes the full 11-step pipeline for one inbound turn,
// streaming intermediate events and the final reply to client.
func (o *Orchestrator) RunTurn(ctx context.Context, turn Turn, client Client) error {
	ctx, span := tracing.StartSpan(ctx, "turn", attribute.String("session.id", turn.SessionID))
	defer span.End()

	userID := turn.UserID

	// Step 1: transcribe.
	text := turn.Text
	if text == "" && len(turn.Audio) > 0 && o.stt != nil {
		sctx, cancel := context.WithTimeout(ctx, o.cfg.STTTimeout)
		transcribed, err := o.stt.Transcribe(sctx, turn.Audio)
		cancel()
		if err != nil {
			return err
		}
		text = transcribed
	}
	if text == "" {
		return nil
	}

	// Step 2: identify speaker (satellite only; overrides user_id when
	// the speaker model clears the configured confidence threshold).
	if o.cfg.SpeakerIDEnabled && len(turn.Audio) > 0 && o.speaker != nil {
		if id, confidence, ok := o.speaker.Identify(ctx, turn.Audio); ok && confidence >= o.cfg.SpeakerIDThreshold {
			userID = id
		}
	}

	// Step 3: short-term context (the fast-path width; the agent path
	// slices its own narrower tail out of the same fetch).
	var convContext []llm.Message
	if o.convo != nil {
		convContext, _ = o.convo.TailMessages(ctx, turn.SessionID, o.cfg.FastPathContextMessages)
	}

	// Step 4: retrieve memories.
	var mems []memory.Memory
	if o.cfg.MemoryEnabled && o.memories != nil {
		rctx, cancel := context.WithTimeout(ctx, o.cfg.RetrievalTimeout)
		mems, _ = o.memories.Retrieve(rctx, userID, text, o.cfg.MemoryRetrieveLimit, o.cfg.MemoryRetrieveThreshold)
		cancel()
	}

	// Step 5: retrieve knowledge, gated by a knowledge-seeking
	// heuristic. The knowledge agent role bypasses this and retrieves
	// on its own, so skip when the complex path is going to route
	// there anyway.
	var chunks []knowledge.Chunk
	complexity := intent.Complexity(text)
	if o.knowledge != nil && isKnowledgeSeeking(text) && complexity != intent.Complex {
		rctx, cancel := context.WithTimeout(ctx, o.cfg.RetrievalTimeout)
		chunks, _ = o.knowledge.Retrieve(rctx, text, turn.KnowledgeBaseIDs, userID, o.cfg.KnowledgeTopK)
		cancel()
	}

	// Step 6: retrieve few-shot feedback corrections.
	var corrections []correctionPair
	if o.feedback != nil {
		rctx, cancel := context.WithTimeout(ctx, o.cfg.RetrievalTimeout)
		fb, _ := o.feedback.FewShot(rctx, userID, o.cfg.FeedbackLimit)
		cancel()
		for _, c := range fb {
			corrections = append(corrections, correctionPair{c.WrongDecision, c.RightDecision})
		}
	}

	// Step 7/8: complexity gate, then the simple or complex path.
	var reply string
	var toolResult json.RawMessage
	var ttsHandled bool

	if complexity == intent.Complex && o.agentRoute != nil && o.agentLoop != nil {
		reply = o.runComplexPath(ctx, userID, text, convContext, turn, client)
	} else {
		toolResult = o.runSimplePath(ctx, userID, text, turn)
		reply = o.streamReply(ctx, text, convContext, mems, chunks, corrections, toolResult, client)
	}

	// Step 8 happens inline above for each path; continue to persist.
	if ctx.Err() != nil && reply == "" {
		return ctx.Err()
	}

	// Persistence and memory extraction outlive a cancelled request
	// context as long as step 8 produced partial content, per the
	// turn's cancellation contract.
	bg := ctx
	if ctx.Err() != nil {
		bg = context.WithoutCancel(ctx)
	}

	// Step 9: persist.
	if o.convo != nil && reply != "" {
		_ = o.convo.AppendMessage(bg, turn.SessionID, "user", text)
		_ = o.convo.AppendMessage(bg, turn.SessionID, "assistant", reply)
	}

	// Step 10: background memory extraction, fire-and-forget.
	if o.memRecon != nil && reply != "" {
		go o.extractMemories(context.WithoutCancel(bg), userID, text, reply)
	}

	// Step 11: TTS & routing.
	if reply != "" && (turn.WantsTTS || len(turn.Audio) > 0) && o.tts != nil && o.router != nil {
		ttsHandled = o.speakAndRoute(bg, turn, reply)
	}

	client.SendDone(ttsHandled)
	return nil
}

// runSimplePath classifies the turn's intent and, for anything other
// than general.conversation, executes the top-ranked tool so its
// result can be folded into the generation prompt.
func (o *Orchestrator) runSimplePath(ctx context.Context, userID, text string, turn Turn) json.RawMessage {
	if o.classifier == nil {
		return nil
	}
	candidates, err := o.classifier.Classify(ctx, userID, text, turn.Room, nil)
	if err != nil || len(candidates) == 0 {
		return nil
	}
	top := candidates[0]
	if top.Name == "general.conversation" || o.tools == nil {
		return nil
	}
	caller := mcphub.Caller{UserID: userID}
	result, err := o.tools.Execute(ctx, top.Name, top.Parameters, caller)
	if err != nil {
		return nil
	}
	return result
}

func (o *Orchestrator) runComplexPath(ctx context.Context, userID, text string, convContext []llm.Message, turn Turn, client Client) string {
	role, _ := o.agentRoute.Route(ctx, text)
	manifest := o.agentRoute.Manifest(role)
	client.SendAgentEvent(agent.Event{Type: "agent_role", Text: string(role)})

	var catalog []mcphub.ToolDescriptor
	if o.catalog != nil {
		catalog = filterCatalog(o.catalog.Catalog(), manifest.ToolPrefixes)
	}

	const agentContextMessages = 6
	narrow := convContext
	if len(narrow) > agentContextMessages {
		narrow = narrow[len(narrow)-agentContextMessages:]
	}

	caller := mcphub.Caller{UserID: userID}
	var final string
	emit := func(ev agent.Event) {
		if ev.Type == agent.EventFinalToken {
			final += ev.Text
		}
		client.SendAgentEvent(ev)
	}
	_ = o.agentLoop.Run(ctx, role, manifest, text, narrow, caller, catalog, emit)
	return final
}

func filterCatalog(catalog []mcphub.ToolDescriptor, prefixes []string) []mcphub.ToolDescriptor {
	if len(prefixes) == 0 {
		return catalog
	}
	out := make([]mcphub.ToolDescriptor, 0, len(catalog))
	for _, td := range catalog {
		qualified := td.QualifiedName()
		for _, p := range prefixes {
			if strings.HasPrefix(qualified, p) {
				out = append(out, td)
				break
			}
		}
	}
	return out
}

func (o *Orchestrator) streamReply(ctx context.Context, text string, convContext []llm.Message, mems []memory.Memory, chunks []knowledge.Chunk, corrections []correctionPair, toolResult json.RawMessage, client Client) string {
	if o.gw == nil {
		return ""
	}
	role := "chat"
	if len(chunks) > 0 {
		role = "rag"
	}
	messages := append([]llm.Message{{Role: "system", Content: systemPrompt(mems, chunks, corrections, toolResult)}}, convContext...)
	messages = append(messages, llm.Message{Role: "user", Content: text})

	var reply string
	resp, err := o.gw.ChatStream(ctx, role, messages, llm.Options{}, func(d llm.StreamDelta) {
		reply += d.Content
		client.SendDelta(d.Content)
	})
	if err != nil {
		return reply
	}
	if resp != nil && resp.Content != "" {
		return resp.Content
	}
	return reply
}

func systemPrompt(mems []memory.Memory, chunks []knowledge.Chunk, corrections []correctionPair, toolResult json.RawMessage) string {
	var sb strings.Builder
	sb.WriteString("You are Renfield, a helpful household voice assistant.")
	if len(mems) > 0 {
		sb.WriteString("\n\nKnown facts about the user:")
		for _, m := range mems {
			sb.WriteString("\n- " + m.Content)
		}
	}
	if len(chunks) > 0 {
		sb.WriteString("\n\nRelevant knowledge:")
		for _, c := range chunks {
			sb.WriteString("\n- " + c.Text)
		}
	}
	for _, c := range corrections {
		sb.WriteString("\n\nPreviously corrected: instead of \"" + c.WrongDecision + "\", do \"" + c.RightDecision + "\".")
	}
	if len(toolResult) > 0 {
		sb.WriteString("\n\nTool result: " + string(toolResult))
	}
	return sb.String()
}

var extractionSchema = map[string]any{
	"type":     "object",
	"required": []any{"facts"},
	"properties": map[string]any{
		"facts": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
}

// extractMemories is the background step (no deadline): it asks the
// LLM for durable facts worth remembering from this turn, then
// reconciles each against existing memories.
func (o *Orchestrator) extractMemories(ctx context.Context, userID, userText, assistantReply string) {
	if o.gw == nil {
		return
	}
	prompt := "Extract any durable facts about the user worth remembering long-term from this exchange. Return an empty list if none.\nUser: " + userText + "\nAssistant: " + assistantReply
	out, err := o.gw.CompleteJSON(ctx, "intent", prompt, extractionSchema, llm.Options{})
	if err != nil {
		o.log.Warn("orchestrator.extract_failed", "error", err)
		return
	}
	raw, _ := out["facts"].([]any)
	for _, f := range raw {
		content, ok := f.(string)
		if !ok || strings.TrimSpace(content) == "" {
			continue
		}
		decision, _, err := o.memRecon.Reconcile(ctx, userID, content)
		if err != nil {
			o.log.Warn("orchestrator.reconcile_failed", "error", err)
			continue
		}
		if decision == memory.DecisionAdd {
			if _, err := o.memRecon.Insert(ctx, userID, "context", content, 0.5); err != nil {
				o.log.Warn("orchestrator.memory_insert_failed", "error", err)
			}
		}
	}
}

func (o *Orchestrator) speakAndRoute(ctx context.Context, turn Turn, reply string) bool {
	playable, err := o.tts.Synthesize(ctx, reply)
	if err != nil {
		o.log.Warn("orchestrator.tts_failed", "error", err)
		return false
	}
	origin := ""
	if o.speakerCtx != nil {
		origin = o.speakerCtx.OriginatingDevice(turn.SessionID)
	}
	room := turn.Room
	if _, err := o.router.Route(ctx, room, playable, origin); err != nil {
		if err != outputrouter.ErrRoomBusy && err != outputrouter.ErrNoOutput {
			o.log.Warn("orchestrator.route_failed", "error", err)
		}
		return false
	}
	return true
}

var knowledgeSeekingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(was|wer|wie|wann|wo|warum|welche[rs]?)\b`),
	regexp.MustCompile(`(?i)\b(what|who|how|when|where|which|why)\b`),
	regexp.MustCompile(`\?\s*$`),
}

// isKnowledgeSeeking is a lightweight heuristic (spec §4.17 step 5):
// question words or a trailing question mark, in German or English.
func isKnowledgeSeeking(text string) bool {
	for _, re := range knowledgeSeekingPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
