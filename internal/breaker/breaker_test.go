package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebongard/renfield/internal/clockcfg"
)

func testConfig() Config {
	return Config{FailureThreshold: 3, SuccessThreshold: 2, Timeout: time.Second}
}

func TestClosedAllowsRequestsUntilThreshold(t *testing.T) {
	clock := clockcfg.NewManualClock(time.Now())
	b := New("llm:chat", testConfig(), clock, nil)

	fail := errors.New("boom")
	for i := 0; i < 2; i++ {
		err := b.Execute(context.Background(), func(context.Context) error { return fail })
		assert.ErrorIs(t, err, fail)
	}
	assert.Equal(t, StateClosed, b.State())

	err := b.Execute(context.Background(), func(context.Context) error { return fail })
	assert.ErrorIs(t, err, fail)
	assert.Equal(t, StateOpen, b.State())
}

func TestOpenRejectsUntilTimeoutElapsed(t *testing.T) {
	clock := clockcfg.NewManualClock(time.Now())
	b := New("llm:chat", testConfig(), clock, nil)
	fail := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return fail })
	}
	require.Equal(t, StateOpen, b.State())

	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	var openErr *ErrOpen
	require.ErrorAs(t, err, &openErr)

	clock.Advance(2 * time.Second)
	err = b.Execute(context.Background(), func(context.Context) error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	clock := clockcfg.NewManualClock(time.Now())
	b := New("llm:chat", testConfig(), clock, nil)
	fail := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return fail })
	}
	clock.Advance(2 * time.Second)
	_ = b.Execute(context.Background(), func(context.Context) error { return nil })
	require.Equal(t, StateHalfOpen, b.State())

	_ = b.Execute(context.Background(), func(context.Context) error { return nil })
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopensImmediately(t *testing.T) {
	clock := clockcfg.NewManualClock(time.Now())
	b := New("llm:chat", testConfig(), clock, nil)
	fail := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return fail })
	}
	clock.Advance(2 * time.Second)
	_ = b.Execute(context.Background(), func(context.Context) error { return nil })
	require.Equal(t, StateHalfOpen, b.State())

	_ = b.Execute(context.Background(), func(context.Context) error { return fail })
	assert.Equal(t, StateOpen, b.State())
}

func TestExponentialBackoffCapsAt60s(t *testing.T) {
	clock := clockcfg.NewManualClock(time.Now())
	cfg := testConfig()
	b := New("llm:chat", cfg, clock, nil)
	fail := errors.New("boom")

	// Open the breaker repeatedly, advancing time past each timeout.
	for opens := 0; opens < 8; opens++ {
		for i := 0; i < cfg.FailureThreshold; i++ {
			_ = b.Execute(context.Background(), func(context.Context) error { return fail })
		}
		require.Equal(t, StateOpen, b.State())
		timeout := b.calculateTimeout()
		clock.Advance(timeout)
		_ = b.Execute(context.Background(), func(context.Context) error { return fail }) // reopen from half-open
	}
	assert.LessOrEqual(t, b.calculateTimeout(), 60*time.Second)
}

func TestValidationErrorsDoNotCountTowardThreshold(t *testing.T) {
	clock := clockcfg.NewManualClock(time.Now())
	b := New("llm:embed", testConfig(), clock, nil)
	fail := errors.New("schema mismatch")

	for i := 0; i < 10; i++ {
		_ = b.ExecuteValidation(context.Background(), func(context.Context) error { return fail })
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestManagerIsolatesResourcesIndependently(t *testing.T) {
	clock := clockcfg.NewManualClock(time.Now())
	mgr := NewManager(testConfig(), clock, nil)
	fail := errors.New("boom")

	chat := mgr.Get("llm:chat")
	for i := 0; i < 3; i++ {
		_ = chat.Execute(context.Background(), func(context.Context) error { return fail })
	}
	assert.Equal(t, StateOpen, mgr.Get("llm:chat").State())
	assert.Equal(t, StateClosed, mgr.Get("llm:embed").State())
}

func TestResetClearsOpenState(t *testing.T) {
	clock := clockcfg.NewManualClock(time.Now())
	b := New("mcp:home", testConfig(), clock, nil)
	fail := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func(context.Context) error { return fail })
	}
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	stats := b.Stats()
	assert.Equal(t, 0, stats.FailureCount)
	assert.Equal(t, 0, stats.ConsecutiveOpens)
}
