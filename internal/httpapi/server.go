// Package httpapi is Renfield's external-interface layer (spec §6.1,
// §6.2): the REST surface and the three WebSocket transports (/ws for
// browser chat clients, /ws/device for panels/tablets/kiosks,
// /ws/satellite for voice hardware), following the teacher gateway's
// single net/http.ServeMux + gorilla/websocket.Upgrader shape.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ebongard/renfield/internal/config"
	"github.com/ebongard/renfield/internal/ratelimit"
)

// Server wires the mux, upgrader, and every collaborator a handler
// needs, then exposes it over one http.Server.
type Server struct {
	cfg    *config.Config
	log    *slog.Logger
	limits *ratelimit.Limiter

	chat     *ChatHandler
	devices  *DeviceHandler
	notif    *NotificationHandler
	mcp      *MCPStatusHandler
	metrics  *MetricsHandler

	upgrader   websocket.Upgrader
	mux        *http.ServeMux
	httpServer *http.Server
}

// New wires a Server. Any handler may be nil, in which case its
// routes are simply not registered (a deployment without MCP servers
// need not wire an MCPStatusHandler, for instance).
func New(cfg *config.Config, limits *ratelimit.Limiter, chat *ChatHandler, devices *DeviceHandler, notif *NotificationHandler, mcp *MCPStatusHandler, metrics *MetricsHandler, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{cfg: cfg, log: log, limits: limits, chat: chat, devices: devices, notif: notif, mcp: mcp, metrics: metrics}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin enforces gateway.allowed_origins (spec §6.1); an empty
// list allows everything, matching the teacher's dev-mode default.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Snapshot().Gateway.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	s.log.Warn("httpapi.cors_rejected", "origin", origin)
	return false
}

// Mux builds (and caches) the registered route table.
func (s *Server) Mux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	}
	if s.chat != nil {
		mux.HandleFunc("/api/chat/send", s.withLimit("rest_chat", s.chat.HandleSend))
		mux.HandleFunc("/ws", s.chat.HandleWS(s))
	}
	if s.devices != nil {
		mux.HandleFunc("/ws/device", s.devices.HandleDeviceWS(s))
		mux.HandleFunc("/ws/satellite", s.devices.HandleSatelliteWS(s))
	}
	if s.notif != nil {
		mux.HandleFunc("/api/notifications/webhook", s.withLimit("rest_default", s.notif.HandleWebhook))
		mux.HandleFunc("/api/notifications/", s.withLimit("rest_default", s.notif.HandleAction))
	}
	if s.mcp != nil {
		mux.HandleFunc("/api/mcp/status", s.withLimit("rest_admin", s.mcp.HandleStatus))
	}

	s.mux = mux
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// withLimit applies the named rate-limit bucket (spec §5), keyed by
// client IP, before delegating to next.
func (s *Server) withLimit(kind string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limits != nil && !s.limits.Allow(r.Context(), kind, clientIP(r)) {
			WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// Upgrade promotes r to a WebSocket connection using the server's
// shared upgrader (CORS + buffer sizing applied consistently across
// all three WS endpoints).
func (s *Server) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return s.upgrader.Upgrade(w, r, nil)
}

// Serve starts the HTTP server on cfg.Gateway.Host:Port, blocking
// until it exits (caller runs this in a goroutine and calls Shutdown
// to stop it).
func (s *Server) Serve(ctx context.Context) error {
	snap := s.cfg.Snapshot()
	addr := fmt.Sprintf("%s:%d", snap.Gateway.Host, snap.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Mux(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming WS/SSE connections must not be cut off
	}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
