// Package mcphub implements the Tool Registry / Capability Hub (spec
// §4.7): it supervises child capability (MCP) servers declared in a
// YAML manifest, discovers their tools, enforces per-tool permissions
// and response size limits on execute, and polls servers for pending
// proactive events on behalf of the Notification Poller.
package mcphub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebongard/renfield/internal/breaker"
	"github.com/ebongard/renfield/internal/config"
)

const (
	initialReconnectBackoff = 2 * time.Second
	maxReconnectBackoff     = 60 * time.Second
	maxReconnectAttempts    = 10
)

// ServerStatus reports one server's connection health for admin endpoints.
type ServerStatus struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Connected bool   `json:"connected"`
	ToolCount int    `json:"tool_count"`
	Error     string `json:"error,omitempty"`
}

// Hub owns every connected capability server.
type Hub struct {
	cfg      *config.Config
	breakers *breaker.Manager
	log      *slog.Logger
	secrets  map[string]string

	mu      sync.RWMutex
	servers map[string]*serverConn

	events chan ProactiveEvent
}

// New wires a Hub. secrets holds file-based secret values (e.g. from
// /run/secrets/<name>) available to manifest env-var substitution.
func New(cfg *config.Config, breakers *breaker.Manager, log *slog.Logger, secrets map[string]string) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		cfg:      cfg,
		breakers: breakers,
		log:      log,
		secrets:  secrets,
		servers:  make(map[string]*serverConn),
		events:   make(chan ProactiveEvent, 64),
	}
}

// Events exposes the channel the Notification Poller drains pending
// proactive events from (spec §4.7 "polls for pending proactive events").
func (h *Hub) Events() <-chan ProactiveEvent {
	return h.events
}

// Start loads the manifest and connects every enabled server. Each
// server gets its own goroutine so one failing to connect never
// blocks the others (spec §4.7 "Partial failure").
func (h *Hub) Start(ctx context.Context) error {
	if !h.cfg.Snapshot().MCP.Enabled {
		return nil
	}
	manifests, err := LoadManifests(h.cfg.Snapshot().MCP.ConfigPath)
	if err != nil {
		return fmt.Errorf("mcphub: load manifest: %w", err)
	}
	for _, m := range manifests {
		if !m.IsEnabled() {
			h.log.Info("mcphub.server.disabled", "server", m.Name)
			continue
		}
		m := m
		sctx, cancel := context.WithCancel(ctx)
		go h.supervise(sctx, cancel, m)
	}
	return nil
}

// supervise connects one server and, once connected, runs its refresh
// loop and (if configured) its proactive-event poll loop until ctx
// is cancelled or reconnection is exhausted.
func (h *Hub) supervise(ctx context.Context, cancel context.CancelFunc, m ServerManifest) {
	defer cancel()

	connectTimeout := h.durationOr(h.cfg.Snapshot().MCP.ConnectTimeout, 10*time.Second)
	sc, err := h.connectWithRetry(ctx, m, connectTimeout)
	if err != nil {
		h.log.Warn("mcphub.server.connect_failed", "server", m.Name, "error", err)
		return
	}
	sc.cancel = cancel

	h.mu.Lock()
	h.servers[m.Name] = sc
	h.mu.Unlock()
	h.log.Info("mcphub.server.connected", "server", m.Name, "transport", m.Transport, "tools", len(sc.tools))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.refreshLoop(ctx, m, sc)
	}()

	if m.Notifications != nil && m.Notifications.ToolName != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.pollProactiveEvents(ctx, m, sc)
		}()
	}

	wg.Wait()
	sc.close()
	h.mu.Lock()
	delete(h.servers, m.Name)
	h.mu.Unlock()
}

// connectWithRetry retries the initial connect with exponential
// backoff, since a capability server (e.g. a container still starting)
// may not be reachable the instant the hub starts.
func (h *Hub) connectWithRetry(ctx context.Context, m ServerManifest, connectTimeout time.Duration) (*serverConn, error) {
	backoff := initialReconnectBackoff
	var lastErr error
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		sc, err := connectServer(ctx, m, h.secrets, connectTimeout)
		if err == nil {
			return sc, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}
	}
	return nil, lastErr
}

// refreshLoop re-lists tools every refresh_interval (default 60s).
func (h *Hub) refreshLoop(ctx context.Context, m ServerManifest, sc *serverConn) {
	interval := m.refreshInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sc.refresh(ctx); err != nil {
				h.log.Warn("mcphub.server.refresh_failed", "server", m.Name, "error", err)
			}
		}
	}
}

// Stop cancels and closes every connected server.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sc := range h.servers {
		sc.close()
	}
	h.servers = make(map[string]*serverConn)
}

// Status returns the health of every server that has completed its
// initial connect; servers still connecting are not listed.
func (h *Hub) Status() []ServerStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ServerStatus, 0, len(h.servers))
	for _, sc := range h.servers {
		sc.mu.RLock()
		out = append(out, ServerStatus{
			Name:      sc.manifest.Name,
			Transport: string(sc.manifest.Transport),
			Connected: sc.connected.Load(),
			ToolCount: len(sc.tools),
			Error:     sc.lastErr,
		})
		sc.mu.RUnlock()
	}
	return out
}

// Catalog returns every healthy tool descriptor across all connected
// servers, the set the Agent Loop builds its catalog from (invariant I4).
func (h *Hub) Catalog() []ToolDescriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []ToolDescriptor
	for _, sc := range h.servers {
		if !sc.connected.Load() {
			continue
		}
		for _, d := range sc.snapshotTools() {
			out = append(out, d)
		}
	}
	return out
}

// PromptToolNames returns the qualified tool names to surface in an
// LLM prompt's intent taxonomy: every healthy server's tools, narrowed
// to its manifest's `prompt_tools` subset when one is declared (spec
// §4.8 "optionally filtered by each server's prompt_tools").
func (h *Hub) PromptToolNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []string
	for _, sc := range h.servers {
		if !sc.connected.Load() {
			continue
		}
		allow := toSet(sc.manifest.PromptTools)
		for _, d := range sc.snapshotTools() {
			if len(allow) > 0 && !allow[d.Name] {
				continue
			}
			out = append(out, d.QualifiedName())
		}
	}
	return out
}

func toSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func (h *Hub) durationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
