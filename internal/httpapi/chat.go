package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/ebongard/renfield/internal/agent"
	"github.com/ebongard/renfield/internal/bus"
	"github.com/ebongard/renfield/internal/orchestrator"
	"github.com/ebongard/renfield/internal/session"
	"github.com/ebongard/renfield/pkg/protocol"
)

// ChatHandler serves /api/chat/send and /ws (spec §6.1, §6.2).
type ChatHandler struct {
	orch     *orchestrator.Orchestrator
	sessions *session.Manager
	hub      *bus.Hub
	log      *slog.Logger
}

// NewChatHandler wires a ChatHandler.
func NewChatHandler(orch *orchestrator.Orchestrator, sessions *session.Manager, hub *bus.Hub, log *slog.Logger) *ChatHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ChatHandler{orch: orch, sessions: sessions, hub: hub, log: log}
}

// chatSendRequest is the REST body for a one-shot, non-streaming turn.
type chatSendRequest struct {
	SessionID        string   `json:"session_id"`
	UserID           string   `json:"user_id"`
	Room             string   `json:"room"`
	Text             string   `json:"text"`
	WantsTTS         bool     `json:"wants_tts"`
	KnowledgeBaseIDs []string `json:"knowledge_base_ids,omitempty"`
}

// chatSendResponse collects every event and delta the turn produced,
// since the REST surface has no open stream to push them over live.
type chatSendResponse struct {
	Events []agent.Event `json:"events,omitempty"`
	Reply  string        `json:"reply"`
	Done   bool          `json:"done"`
	TTS    bool          `json:"tts_handled"`
}

// bufferedClient implements orchestrator.Client by accumulating
// everything in memory, for REST callers that want one JSON response
// rather than a live stream.
type bufferedClient struct {
	events []agent.Event
	reply  []byte
	done   bool
	tts    bool
}

func (c *bufferedClient) SendAgentEvent(ev agent.Event) { c.events = append(c.events, ev) }
func (c *bufferedClient) SendDelta(text string)         { c.reply = append(c.reply, text...) }
func (c *bufferedClient) SendDone(ttsHandled bool)      { c.done = true; c.tts = ttsHandled }

// HandleSend implements POST /api/chat/send.
func (h *ChatHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "input_invalid", "POST required")
		return
	}
	var req chatSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "input_invalid", "malformed JSON body")
		return
	}
	if req.Text == "" {
		WriteError(w, http.StatusBadRequest, "input_invalid", "text is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	turn := orchestrator.Turn{
		SessionID:        req.SessionID,
		UserID:           req.UserID,
		Room:             req.Room,
		Text:             req.Text,
		WantsTTS:         req.WantsTTS,
		KnowledgeBaseIDs: req.KnowledgeBaseIDs,
	}
	client := &bufferedClient{}
	if err := h.orch.RunTurn(r.Context(), turn, client); err != nil {
		WriteRFErr(w, err)
		return
	}
	WriteJSON(w, chatSendResponse{
		Events: client.events,
		Reply:  string(client.reply),
		Done:   client.done,
		TTS:    client.tts,
	})
}

// HandleWS returns the /ws handler: each connection registers itself
// in the bus.Hub under its session id, then every chat.send frame
// received runs one Orchestrator turn whose output streams back as
// protocol.Envelope frames.
func (h *ChatHandler) HandleWS(srv *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := srv.Upgrade(w, r)
		if err != nil {
			h.log.Warn("httpapi.ws_upgrade_failed", "error", err)
			return
		}
		wsConn := newWSConn(conn)
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		h.hub.Register(sessionID, wsConn)
		defer func() {
			h.hub.Unregister(sessionID, wsConn)
			conn.Close()
		}()

		client := h.hub.Session(sessionID)
		for {
			var env protocol.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			switch env.Type {
			case protocol.MethodChatSend:
				var body chatSendRequest
				if err := protocol.Decode(env, &body); err != nil {
					wsConn.WriteEnvelope(protocol.NewEnvelope(protocol.EventError, err.Error()))
					continue
				}
				turn := orchestrator.Turn{
					SessionID:        sessionID,
					UserID:           body.UserID,
					Room:             body.Room,
					Text:             body.Text,
					WantsTTS:         body.WantsTTS,
					KnowledgeBaseIDs: body.KnowledgeBaseIDs,
				}
				go func() {
					if err := h.orch.RunTurn(r.Context(), turn, client); err != nil {
						wsConn.WriteEnvelope(protocol.NewEnvelope(protocol.EventError, err.Error()))
					}
				}()
			case protocol.MethodChatCancel:
				// The Agent Loop honors ctx cancellation; a full
				// per-turn cancel registry is future work once
				// concurrent turns per session are supported.
			}
		}
	}
}
