package httpapi

import (
	"net/http"

	"github.com/ebongard/renfield/internal/mcphub"
)

// MCPStatusHandler serves GET /api/mcp/status (spec §6.2), the
// equivalent of the teacher's MCP status endpoint re-pointed at
// internal/mcphub.Hub instead of the teacher's internal/mcp.Manager.
type MCPStatusHandler struct {
	hub *mcphub.Hub
}

// NewMCPStatusHandler wires an MCPStatusHandler.
func NewMCPStatusHandler(hub *mcphub.Hub) *MCPStatusHandler {
	return &MCPStatusHandler{hub: hub}
}

// HandleStatus reports every configured capability server's
// connection state and tool count.
func (h *MCPStatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "input_invalid", "GET required")
		return
	}
	WriteJSON(w, map[string]any{
		"servers": h.hub.Status(),
		"tools":   h.hub.Catalog(),
	})
}
