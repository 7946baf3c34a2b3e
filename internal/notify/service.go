package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/ebongard/renfield/internal/devices"
	"github.com/ebongard/renfield/internal/llm"
	"github.com/ebongard/renfield/internal/outputrouter"
	"github.com/ebongard/renfield/internal/rferr"
)

// Store persists Notifications and answers the dedup/expiry queries
// the Ingest pipeline needs. The concrete implementation lives in
// internal/store/pg, backed by Postgres + pgvector the same way
// internal/memory.Store delegates cosine search to the database.
type Store interface {
	RecentFingerprint(ctx context.Context, fingerprint string, within time.Duration) (bool, error)
	SimilarActive(ctx context.Context, roomName string, embedding []float32, threshold float64) (bool, error)
	Insert(ctx context.Context, n *Notification) error
	UpdateStatus(ctx context.Context, id string, status Status) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// SuppressionRuleSource resolves the active SuppressionRules that
// apply to users currently present in a room.
type SuppressionRuleSource interface {
	ActiveRulesForRoom(ctx context.Context, roomName string) ([]SuppressionRule, error)
}

// Broadcaster fans a notification out to every device in a room (or
// every device, when roomName is empty). Satisfied by *devices.Manager.
type Broadcaster interface {
	BroadcastToRoom(ctx context.Context, roomID string, predicate func(devices.Device) bool, message devices.Envelope)
}

// Router dispatches synthesized audio to a room. Satisfied by
// *outputrouter.Router.
type Router interface {
	Route(ctx context.Context, roomID string, playable outputrouter.Playable, originatingDevice string) (outputrouter.EmissionPlan, error)
}

// TTS synthesizes text into a playable audio URL/reference.
type TTS interface {
	Synthesize(ctx context.Context, text string) (outputrouter.Playable, error)
}

// IDGenerator produces a new Notification id. Satisfied by
// func() string { return uuid.NewString() }.
type IDGenerator func() string

// Clock abstracts time.Now for deterministic suppression-window and
// expiry tests (the same clockcfg.Clock idiom used throughout).
type Clock interface {
	Now() time.Time
}

// Config carries the tunables of spec §4.14, sourced from
// config.ProactiveConfig.
type Config struct {
	SuppressionWindow      time.Duration
	SemanticDedupEnabled   bool
	SemanticDedupThreshold float64
	UrgencyAutoEnabled     bool
	EnrichmentEnabled      bool
	NotificationTTL        time.Duration
	TTSDefault             bool
}

// Service implements the Notification Service (spec §4.14).
type Service struct {
	store   Store
	rules   SuppressionRuleSource
	devices Broadcaster
	router  Router
	tts     TTS
	gw      llm.Gateway
	clock   Clock
	newID   IDGenerator
	cfg     Config
	log     *slog.Logger
}

// New wires a Service. Any of rules/devices/router/tts may be nil for
// a deployment that doesn't use that collaborator (e.g. no TTS
// configured); the relevant step is then skipped rather than failing.
func New(store Store, rules SuppressionRuleSource, devices Broadcaster, router Router, tts TTS, gw llm.Gateway, clock Clock, newID IDGenerator, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, rules: rules, devices: devices, router: router, tts: tts, gw: gw, clock: clock, newID: newID, cfg: cfg, log: log}
}

// Ingest runs the full spec §4.14 pipeline: dedup (exact, then
// semantic), urgency classification, enrichment, suppression-rule
// matching, persistence, and fan-out.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*Notification, error) {
	fp := req.DedupKey
	if fp == "" {
		fp = fingerprint(req.EventType, req.Title, req.Message, req.RoomName)
	}

	recent, err := s.store.RecentFingerprint(ctx, fp, s.cfg.SuppressionWindow)
	if err != nil {
		return nil, rferr.Wrap(rferr.KindInternal, "notify: check recent fingerprint", err)
	}
	if recent {
		return nil, rferr.New(rferr.KindRateLimited, "duplicate notification suppressed")
	}

	var embedding []float32
	if s.cfg.SemanticDedupEnabled && s.gw != nil {
		embedding, err = s.gw.Embed(ctx, "embed", req.Title+" "+req.Message)
		if err == nil {
			similar, simErr := s.store.SimilarActive(ctx, req.RoomName, embedding, s.cfg.SemanticDedupThreshold)
			if simErr == nil && similar {
				return nil, rferr.New(rferr.KindRateLimited, "semantically duplicate notification suppressed")
			}
		}
	}

	urgency := req.Urgency
	if urgency == UrgencyAuto || urgency == "" {
		urgency = s.classifyUrgency(ctx, req)
	}

	message := req.Message
	if req.Enrich && s.cfg.EnrichmentEnabled {
		message = s.enrich(ctx, req.Title, req.Message)
	}

	if s.rules != nil && len(embedding) > 0 {
		rules, err := s.rules.ActiveRulesForRoom(ctx, req.RoomName)
		if err == nil {
			for _, rule := range rules {
				if !rule.Active {
					continue
				}
				if cosineSimilarity(embedding, rule.Embedding) >= rule.Threshold {
					return nil, nil
				}
			}
		}
	}

	now := s.clock.Now()
	n := &Notification{
		ID:               s.newID(),
		EventType:        req.EventType,
		Title:            req.Title,
		Body:             message,
		Urgency:          urgency,
		RoomName:         req.RoomName,
		DedupFingerprint: fp,
		Status:           StatusPending,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.cfg.NotificationTTL),
	}
	if err := s.store.Insert(ctx, n); err != nil {
		return nil, rferr.Wrap(rferr.KindInternal, "notify: persist notification", err)
	}

	s.deliver(ctx, n, req)

	if err := s.store.UpdateStatus(ctx, n.ID, StatusDelivered); err != nil {
		s.log.Warn("notify.status_update_failed", "notification", n.ID, "error", err)
	} else {
		n.Status = StatusDelivered
	}

	return n, nil
}

func (s *Service) classifyUrgency(ctx context.Context, req IngestRequest) Urgency {
	if !s.cfg.UrgencyAutoEnabled || s.gw == nil {
		return UrgencyInfo
	}
	schema := map[string]any{
		"type":     "object",
		"required": []any{"urgency"},
		"properties": map[string]any{
			"urgency": map[string]any{"type": "string", "enum": []any{"critical", "info", "low"}},
		},
	}
	prompt := "Classify the urgency of this notification as critical, info, or low.\nTitle: " + req.Title + "\nMessage: " + req.Message
	out, err := s.gw.CompleteJSON(ctx, "intent", prompt, schema, llm.Options{})
	if err != nil {
		return UrgencyInfo
	}
	if v, ok := out["urgency"].(string); ok {
		switch Urgency(v) {
		case UrgencyCritical, UrgencyInfo, UrgencyLow:
			return Urgency(v)
		}
	}
	return UrgencyInfo
}

const enrichTimeout = 15 * time.Second

func (s *Service) enrich(ctx context.Context, title, message string) string {
	if s.gw == nil {
		return message
	}
	cctx, cancel := context.WithTimeout(ctx, enrichTimeout)
	defer cancel()

	var sb []byte
	messages := []llm.Message{{Role: "user", Content: "Rewrite this as a brief natural-sounding spoken notification (no more than 200 tokens): " + title + ". " + message}}
	resp, err := s.gw.ChatStream(cctx, "chat", messages, llm.Options{}, func(d llm.StreamDelta) {
		sb = append(sb, d.Content...)
	})
	if err != nil || cctx.Err() != nil {
		return message
	}
	if resp != nil && resp.Content != "" {
		return resp.Content
	}
	if len(sb) > 0 {
		return string(sb)
	}
	return message
}

func (s *Service) deliver(ctx context.Context, n *Notification, req IngestRequest) {
	if s.devices != nil {
		s.devices.BroadcastToRoom(ctx, n.RoomName, func(devices.Device) bool { return true }, devices.Envelope{
			Type: "notification",
			Payload: map[string]any{
				"id":         n.ID,
				"event_type": n.EventType,
				"title":      n.Title,
				"message":    n.Body,
				"urgency":    n.Urgency,
				"data":       req.Data,
			},
		})
	}

	wantsTTS := s.cfg.TTSDefault
	if req.TTS != nil {
		wantsTTS = *req.TTS
	}
	if wantsTTS && s.tts != nil && s.router != nil && n.RoomName != "" {
		playable, err := s.tts.Synthesize(ctx, n.Body)
		if err != nil {
			s.log.Warn("notify.tts_failed", "notification", n.ID, "error", err)
			return
		}
		if _, err := s.router.Route(ctx, n.RoomName, playable, ""); err != nil {
			s.log.Warn("notify.route_failed", "notification", n.ID, "error", err)
		}
	}
}

// Acknowledge soft-transitions a notification to acknowledged; the row
// is kept for audit (spec §4.14 "Acknowledge / Dismiss").
func (s *Service) Acknowledge(ctx context.Context, id string) error {
	return s.store.UpdateStatus(ctx, id, StatusAcknowledged)
}

// Dismiss soft-transitions a notification to dismissed.
func (s *Service) Dismiss(ctx context.Context, id string) error {
	return s.store.UpdateStatus(ctx, id, StatusDismissed)
}

// SweepExpired hard-deletes notifications whose expires_at has
// passed (spec §4.14 "Expiry task").
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	return s.store.DeleteExpired(ctx, s.clock.Now())
}
