package mcphub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebongard/renfield/internal/breaker"
	"github.com/ebongard/renfield/internal/clockcfg"
	"github.com/ebongard/renfield/internal/config"
	"github.com/ebongard/renfield/internal/rferr"
)

func testHub(t *testing.T, authEnabled bool) *Hub {
	t.Helper()
	cfg := config.Default()
	snap := cfg.Snapshot()
	snap.Gateway.WSAuthEnabled = authEnabled
	cfg.ReplaceFrom(&snap)
	return New(cfg, breaker.NewManager(breaker.DefaultConfig(), clockcfg.NewManualClock(time.Now()), nil), nil, nil)
}

func TestCheckPermissionPermitsWhenAuthDisabled(t *testing.T) {
	h := testHub(t, false)
	m := ServerManifest{Name: "fs", Permissions: []string{"fs.read"}}
	err := h.checkPermission(m, "read_file", Caller{})
	assert.NoError(t, err)
}

func TestCheckPermissionPermitsUnidentifiedCaller(t *testing.T) {
	h := testHub(t, true)
	m := ServerManifest{Name: "fs", Permissions: []string{"fs.read"}}
	err := h.checkPermission(m, "read_file", Caller{Unidentified: true})
	assert.NoError(t, err)
}

func TestCheckPermissionUsesToolSpecificPermissionFirst(t *testing.T) {
	h := testHub(t, true)
	m := ServerManifest{
		Name:            "fs",
		Permissions:     []string{"fs.any"},
		ToolPermissions: map[string]string{"write_file": "fs.write"},
	}
	err := h.checkPermission(m, "write_file", Caller{Permissions: []string{"fs.any"}})
	require.Error(t, err)
	assert.Equal(t, rferr.KindPermissionDenied, rferr.KindOf(err))

	err = h.checkPermission(m, "write_file", Caller{Permissions: []string{"fs.write"}})
	assert.NoError(t, err)
}

func TestCheckPermissionWildcardPasses(t *testing.T) {
	h := testHub(t, true)
	m := ServerManifest{Name: "fs", Permissions: []string{"fs.read"}}
	err := h.checkPermission(m, "read_file", Caller{Permissions: []string{"mcp.*"}})
	assert.NoError(t, err)
}

func TestCheckPermissionFallsBackToGenericServerPermission(t *testing.T) {
	h := testHub(t, true)
	m := ServerManifest{Name: "fs"}
	err := h.checkPermission(m, "read_file", Caller{Permissions: []string{"mcp.fs"}})
	assert.NoError(t, err)

	err = h.checkPermission(m, "read_file", Caller{Permissions: []string{"mcp.other"}})
	assert.Error(t, err)
}

func TestValidateParamsRejectsMissingRequiredField(t *testing.T) {
	d := ToolDescriptor{
		Server: "fs", Name: "read_file",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []any{"path"},
		},
	}
	err := validateParams(d, map[string]any{})
	require.Error(t, err)
	assert.Equal(t, rferr.KindInputInvalid, rferr.KindOf(err))

	err = validateParams(d, map[string]any{"path": "/tmp/x"})
	assert.NoError(t, err)
}

func TestTruncateJSONLeavesSmallResponsesAlone(t *testing.T) {
	raw := json.RawMessage(`{"ok":true}`)
	assert.Equal(t, raw, truncateJSON(raw, 1024))
}

func TestTruncateJSONCutsOversizedResponses(t *testing.T) {
	big := make([]byte, 0, 2048)
	big = append(big, '"')
	for i := 0; i < 2000; i++ {
		big = append(big, 'x')
	}
	big = append(big, '"')
	out := truncateJSON(json.RawMessage(big), 128)
	assert.LessOrEqual(t, len(out), 256)
	var s string
	require.NoError(t, json.Unmarshal(out, &s))
}
