package mcphub

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandTokensPrefersSecretsThenEnvThenDefault(t *testing.T) {
	t.Setenv("RENFIELD_TEST_TOKEN", "from-env")
	secrets := map[string]string{"RENFIELD_TEST_SECRET": "from-secret"}

	assert.Equal(t, "from-secret", expandTokens("${RENFIELD_TEST_SECRET}", secrets))
	assert.Equal(t, "from-env", expandTokens("${RENFIELD_TEST_TOKEN}", secrets))
	assert.Equal(t, "fallback", expandTokens("${RENFIELD_TEST_MISSING:-fallback}", secrets))
	assert.Equal(t, "", expandTokens("${RENFIELD_TEST_MISSING}", secrets))
}

func TestExpandTokensLeavesPlainTextAlone(t *testing.T) {
	assert.Equal(t, "plain-arg", expandTokens("plain-arg", nil))
}

func TestIsEnabledDefaultsToTrueWithoutEnableField(t *testing.T) {
	m := ServerManifest{Name: "fs"}
	assert.True(t, m.IsEnabled())
}

func TestIsEnabledReadsLiteralBoolean(t *testing.T) {
	assert.False(t, ServerManifest{Enable: "false"}.IsEnabled())
	assert.True(t, ServerManifest{Enable: "true"}.IsEnabled())
}

func TestIsEnabledReadsEnvVarName(t *testing.T) {
	os.Unsetenv("RENFIELD_TEST_ENABLE_FLAG")
	m := ServerManifest{Enable: "RENFIELD_TEST_ENABLE_FLAG"}
	assert.False(t, m.IsEnabled())

	t.Setenv("RENFIELD_TEST_ENABLE_FLAG", "1")
	assert.True(t, m.IsEnabled())
}

func TestLoadManifestsMissingFileYieldsNoServers(t *testing.T) {
	servers, err := LoadManifests("/nonexistent/path/mcp-servers.yaml")
	assert.NoError(t, err)
	assert.Nil(t, servers)
}

func TestLoadManifestsEmptyPathYieldsNoServers(t *testing.T) {
	servers, err := LoadManifests("")
	assert.NoError(t, err)
	assert.Nil(t, servers)
}
