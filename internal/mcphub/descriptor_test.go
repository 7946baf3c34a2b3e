package mcphub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQualifiedNameRoundTrips(t *testing.T) {
	d := ToolDescriptor{Server: "filesystem", Name: "read_file"}
	assert.Equal(t, "mcp.filesystem.read_file", d.QualifiedName())

	server, tool, ok := ParseQualifiedName(d.QualifiedName())
	assert.True(t, ok)
	assert.Equal(t, "filesystem", server)
	assert.Equal(t, "read_file", tool)
}

func TestParseQualifiedNameRejectsMalformed(t *testing.T) {
	cases := []string{"", "mcp.", "mcp.onlyserver", "not-mcp.server.tool"}
	for _, c := range cases {
		_, _, ok := ParseQualifiedName(c)
		assert.False(t, ok, c)
	}
}
