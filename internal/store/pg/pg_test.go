package pg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToVectorLiteralFormatsPgvectorSyntax(t *testing.T) {
	assert.Equal(t, "[]", toVectorLiteral(nil))
	assert.Equal(t, "[1,0.5,-2]", toVectorLiteral([]float32{1, 0.5, -2}))
}

func TestParseVectorLiteralRoundTripsToVectorLiteral(t *testing.T) {
	v := []float32{1, 0.5, -2}
	assert.Equal(t, v, parseVectorLiteral(toVectorLiteral(v)))
}

func TestParseVectorLiteralHandlesEmpty(t *testing.T) {
	assert.Nil(t, parseVectorLiteral("[]"))
}

type fakeRoomPresence struct {
	users []string
}

func (f fakeRoomPresence) UsersInRoom(string) []string { return f.users }

func TestActiveRulesForRoomSkipsQueryWhenRoomIsEmpty(t *testing.T) {
	s := NewSuppressionRuleStore(nil, fakeRoomPresence{})
	rules, err := s.ActiveRulesForRoom(nil, "kitchen") //nolint:staticcheck // nil ctx: no SQL is issued
	assert.NoError(t, err)
	assert.Nil(t, rules)
}
