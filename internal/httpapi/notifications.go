package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ebongard/renfield/internal/notify"
)

// TokenSource resolves the current webhook bearer token, letting an
// admin operation rotate it without restarting the process.
type TokenSource interface {
	Current() string
}

// NotificationHandler serves POST /api/notifications/webhook and the
// acknowledge/dismiss actions (spec §4.14, §6.2).
type NotificationHandler struct {
	service *notify.Service
	token   TokenSource
	log     *slog.Logger
}

// NewNotificationHandler wires a NotificationHandler.
func NewNotificationHandler(service *notify.Service, token TokenSource, log *slog.Logger) *NotificationHandler {
	if log == nil {
		log = slog.Default()
	}
	return &NotificationHandler{service: service, token: token, log: log}
}

type webhookRequest struct {
	EventType string         `json:"event_type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Urgency   string         `json:"urgency,omitempty"`
	RoomName  string         `json:"room_name,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	TTS       *bool          `json:"tts,omitempty"`
	Enrich    bool           `json:"enrich,omitempty"`
	DedupKey  string         `json:"dedup_key,omitempty"`
}

// HandleWebhook implements POST /api/notifications/webhook, validated
// against a bearer token compared in constant time
// (notify.VerifyWebhookToken).
func (h *NotificationHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "input_invalid", "POST required")
		return
	}
	provided := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !notify.VerifyWebhookToken(provided, h.token.Current()) {
		WriteError(w, http.StatusUnauthorized, "auth_failed", "invalid or missing webhook token")
		return
	}

	var body webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "input_invalid", "malformed JSON body")
		return
	}
	urgency := notify.Urgency(body.Urgency)
	if urgency == "" {
		urgency = notify.UrgencyAuto
	}

	n, err := h.service.Ingest(r.Context(), notify.IngestRequest{
		EventType: body.EventType,
		Title:     body.Title,
		Message:   body.Message,
		Urgency:   urgency,
		RoomName:  body.RoomName,
		Data:      body.Data,
		TTS:       body.TTS,
		Enrich:    body.Enrich,
		DedupKey:  body.DedupKey,
	})
	if err != nil {
		WriteRFErr(w, err)
		return
	}
	if n == nil {
		WriteJSON(w, map[string]string{"status": "suppressed"})
		return
	}
	WriteJSON(w, n)
}

// HandleAction implements POST /api/notifications/{id}/{ack|dismiss}.
func (h *NotificationHandler) HandleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "input_invalid", "POST required")
		return
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/notifications/"), "/"), "/")
	if len(parts) != 2 {
		WriteError(w, http.StatusNotFound, "resource_not_found", "expected /api/notifications/{id}/{action}")
		return
	}
	id, action := parts[0], parts[1]

	var err error
	switch action {
	case "ack", "acknowledge":
		err = h.service.Acknowledge(r.Context(), id)
	case "dismiss":
		err = h.service.Dismiss(r.Context(), id)
	default:
		WriteError(w, http.StatusNotFound, "resource_not_found", "unknown action "+action)
		return
	}
	if err != nil {
		WriteRFErr(w, err)
		return
	}
	WriteJSON(w, map[string]string{"status": "ok"})
}
