package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseScheduleUsesPlainDurationDirectly(t *testing.T) {
	s := ParseSchedule("45s", 15*time.Second)
	assert.Equal(t, 45*time.Second, s.TickInterval())
	assert.True(t, s.Due(time.Now()), "a plain duration schedule is always due on tick")
}

func TestParseScheduleFallsBackOnEmptySpec(t *testing.T) {
	s := ParseSchedule("", 15*time.Second)
	assert.Equal(t, 15*time.Second, s.TickInterval())
}

func TestParseScheduleTreatsUnparsableSpecAsFallback(t *testing.T) {
	s := ParseSchedule("not-a-duration-or-cron", 30*time.Second)
	assert.Equal(t, 30*time.Second, s.TickInterval())
	assert.True(t, s.Due(time.Now()))
}

func TestParseScheduleRecognizesCronExpressionAndChecksDueness(t *testing.T) {
	s := ParseSchedule("0 0 * * *", 15*time.Second)
	assert.Equal(t, time.Second, s.TickInterval())

	midnight := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	noon := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	assert.True(t, s.Due(midnight))
	assert.False(t, s.Due(noon))
}
