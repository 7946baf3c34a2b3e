package mcphub

import (
	"context"
	"encoding/json"
	"time"
)

// ProactiveEvent is one pending event a capability server reported
// through its notifications poll tool, forwarded to the Notification
// Service for enrichment and dedup (spec §4.14).
type ProactiveEvent struct {
	Server  string
	Payload json.RawMessage
}

// pollProactiveEvents calls the server's notifications.tool_name tool
// on notifications.poll_interval and forwards each result onto
// h.events. A failed poll is logged and retried on the next tick
// rather than torn down, matching the hub's partial-failure stance.
func (h *Hub) pollProactiveEvents(ctx context.Context, m ServerManifest, sc *serverConn) {
	interval := pollInterval(m.Notifications.PollInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	systemCaller := Caller{Unidentified: true}
	toolName := "mcp." + m.Name + "." + m.Notifications.ToolName

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := h.Execute(ctx, toolName, map[string]any{"lookahead_minutes": 45}, systemCaller)
			if err != nil {
				h.log.Warn("mcphub.notifications.poll_failed", "server", m.Name, "error", err)
				continue
			}
			select {
			case h.events <- ProactiveEvent{Server: m.Name, Payload: result}:
			case <-ctx.Done():
				return
			default:
				h.log.Warn("mcphub.notifications.dropped", "server", m.Name, "reason", "events channel full")
			}
		}
	}
}

func pollInterval(s string) time.Duration {
	if s == "" {
		return 60 * time.Second
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}
