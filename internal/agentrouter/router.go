// Package agentrouter implements the Agent Router (spec §4.9): a
// single classification call that assigns a complex message to one of
// a closed set of agent roles, each carrying its own tool-prefix
// allowlist, step budget, and optional model/endpoint override.
package agentrouter

import (
	"context"
	"time"

	"github.com/ebongard/renfield/internal/config"
	"github.com/ebongard/renfield/internal/llm"
)

// Role is one of the closed set of agent roles spec §4.9 names.
type Role string

const (
	RoleSmartHome    Role = "smart_home"
	RoleResearch     Role = "research"
	RoleDocuments    Role = "documents"
	RoleMedia        Role = "media"
	RoleWorkflow     Role = "workflow"
	RoleKnowledge    Role = "knowledge"
	RoleConversation Role = "conversation"
	RoleGeneral      Role = "general"
)

var allRoles = []Role{
	RoleSmartHome, RoleResearch, RoleDocuments, RoleMedia,
	RoleWorkflow, RoleKnowledge, RoleConversation, RoleGeneral,
}

// RoleManifestEntry is one role's config manifest entry: display
// label, tool name prefix allowlist, max steps, and optional
// model/endpoint overrides for the Agent Loop that runs it.
type RoleManifestEntry struct {
	Label            string
	ToolPrefixes     []string
	MaxSteps         int
	ModelOverride    string
	EndpointOverride string
}

// DefaultRoleManifest returns the built-in role → manifest mapping.
// Each role's tool prefix allowlist narrows the Agent Loop's catalog
// to the capability servers relevant to that role (spec §4.9 example:
// "smart_home → mcp.homeassistant.*").
func DefaultRoleManifest() map[Role]RoleManifestEntry {
	return map[Role]RoleManifestEntry{
		RoleSmartHome:    {Label: "Smart Home", ToolPrefixes: []string{"mcp.homeassistant."}, MaxSteps: 6},
		RoleResearch:     {Label: "Research", ToolPrefixes: []string{"mcp.web."}, MaxSteps: 10},
		RoleDocuments:    {Label: "Documents", ToolPrefixes: []string{"mcp.documents.", "mcp.filesystem."}, MaxSteps: 8},
		RoleMedia:        {Label: "Media", ToolPrefixes: []string{"mcp.media."}, MaxSteps: 6},
		RoleWorkflow:     {Label: "Workflow", ToolPrefixes: []string{"mcp.automation.", "mcp.calendar."}, MaxSteps: 8},
		RoleKnowledge:    {Label: "Knowledge", ToolPrefixes: nil, MaxSteps: 4},
		RoleConversation: {Label: "Conversation", ToolPrefixes: nil, MaxSteps: 0},
		RoleGeneral:      {Label: "General", ToolPrefixes: []string{"mcp."}, MaxSteps: 10},
	}
}

// Router implements route(message) -> role_name.
type Router struct {
	gw    llm.Gateway
	cfg   *config.Config
	roles map[Role]RoleManifestEntry
}

// New wires a Router. A nil roles map falls back to DefaultRoleManifest.
func New(gw llm.Gateway, cfg *config.Config, roles map[Role]RoleManifestEntry) *Router {
	if roles == nil {
		roles = DefaultRoleManifest()
	}
	return &Router{gw: gw, cfg: cfg, roles: roles}
}

// Manifest returns the role's config manifest entry.
func (r *Router) Manifest(role Role) RoleManifestEntry {
	return r.roles[role]
}

var routerSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"role":   map[string]any{"type": "string", "enum": roleStrings()},
		"reason": map[string]any{"type": "string"},
	},
	"required": []any{"role", "reason"},
}

func roleStrings() []any {
	out := make([]any, len(allRoles))
	for i, r := range allRoles {
		out[i] = string(r)
	}
	return out
}

// Route implements spec §4.9's contract: a single complete_json call
// under router_timeout (default 30s). On timeout or error, it
// defaults to RoleConversation, the no-tools path.
func (r *Router) Route(ctx context.Context, message string) (Role, string) {
	timeout := 30 * time.Second
	if d, err := time.ParseDuration(r.cfg.Snapshot().Agent.RouterTimeout); err == nil && d > 0 {
		timeout = d
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := "Classify the following user message into exactly one agent role.\nMessage: " + message

	out, err := r.gw.CompleteJSON(rctx, "router", prompt, routerSchema, llm.Options{})
	if err != nil {
		return RoleConversation, "router unavailable: " + err.Error()
	}

	roleStr, _ := out["role"].(string)
	reason, _ := out["reason"].(string)
	role := Role(roleStr)
	if !isKnownRole(role) {
		return RoleConversation, "router returned unknown role"
	}
	return role, reason
}

func isKnownRole(role Role) bool {
	for _, r := range allRoles {
		if r == role {
			return true
		}
	}
	return false
}
