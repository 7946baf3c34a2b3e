package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsUsableWithoutFile(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8080, cfg.Gateway.Port)
	assert.True(t, cfg.RAG.Enabled)
	assert.Equal(t, 768, cfg.EmbeddingDim)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	require.NoError(t, err)
	assert.Equal(t, Default().RAG.TopK, cfg.RAG.TopK)
}

func TestLoadParsesJSON5File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// trailing commas and comments are fine in json5
		rag: { top_k: 12, enabled: true, },
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.RAG.TopK)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json5")
	require.NoError(t, os.WriteFile(path, []byte(`{rag: {top_k: 12}}`), 0o600))

	t.Setenv("RAG_TOP_K", "20")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.RAG.TopK)
}

func TestLoadSecretsFallsBackToEnvPassword(t *testing.T) {
	secretsDir := t.TempDir()
	t.Setenv("POSTGRES_PASSWORD", "from-env")

	cfg := Default()
	cfg.Database.Password = ""
	_ = secretsDir // secret path is fixed at /run/secrets; env fallback exercised here
	require.NoError(t, cfg.loadSecrets())
	assert.Equal(t, "from-env", cfg.Database.Password)
}

func TestFlexibleStringSliceAcceptsMixedArrays(t *testing.T) {
	var f FlexibleStringSlice
	require.NoError(t, f.UnmarshalJSON([]byte(`["a", 1, "b"]`)))
	assert.Equal(t, FlexibleStringSlice{"a", "1", "b"}, f)
}

func TestSnapshotIsIndependentOfLiveMutation(t *testing.T) {
	cfg := Default()
	snap := cfg.Snapshot()
	cfg.ReplaceFrom(&Config{RAG: RAGConfig{TopK: 99}})
	assert.Equal(t, 8, snap.RAG.TopK)
	assert.Equal(t, 99, cfg.Snapshot().RAG.TopK)
}
