package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packlane/batchup/uptypes"
)

func TestPolicy_Delay_Exponential(t *testing.T) {
	p := New(uptypes.RetryOptions{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	})

	tests := []struct {
		attempt uint
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1600 * time.Millisecond},
		{5, 2 * time.Second},
		{6, 2 * time.Second},
		{60, 2 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt, 0), "attempt %d", tt.attempt)
	}
}

func TestPolicy_Delay_MonotonicUntilCeiling(t *testing.T) {
	p := New(uptypes.RetryOptions{
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	})

	prev := time.Duration(0)
	for attempt := uint(0); attempt < 20; attempt++ {
		d := p.Delay(attempt, 0)
		require.GreaterOrEqual(t, d, prev, "delay must not decrease at attempt %d", attempt)
		require.LessOrEqual(t, d, 5*time.Second)
		prev = d
	}
}

func TestPolicy_Delay_HintOverridesFormula(t *testing.T) {
	p := New(uptypes.RetryOptions{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
	})

	// Server guidance wins regardless of attempt index.
	assert.Equal(t, 2*time.Second, p.Delay(0, 2*time.Second))
	assert.Equal(t, 2*time.Second, p.Delay(7, 2*time.Second))

	// But the ceiling still applies.
	assert.Equal(t, 10*time.Second, p.Delay(0, time.Minute))
}

func TestPolicy_Delay_JitterBounds(t *testing.T) {
	p := New(uptypes.RetryOptions{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Jitter:       true,
	})

	for i := 0; i < 200; i++ {
		d := p.Delay(0, 0)
		require.GreaterOrEqual(t, d, 750*time.Millisecond)
		require.LessOrEqual(t, d, 1250*time.Millisecond)
	}

	// Jittered ceiling never exceeds max * 1.25.
	for i := 0; i < 200; i++ {
		d := p.Delay(30, 0)
		require.LessOrEqual(t, d, time.Duration(float64(30*time.Second)*1.25))
	}
}

func TestPolicy_Delay_DeterministicWithoutJitter(t *testing.T) {
	p := New(uptypes.RetryOptions{
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     8 * time.Second,
	})

	for attempt := uint(0); attempt < 10; attempt++ {
		first := p.Delay(attempt, 0)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, p.Delay(attempt, 0))
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	p := New(uptypes.RetryOptions{})

	assert.Equal(t, 500*time.Millisecond, p.Delay(0, 0))
	assert.Equal(t, 30*time.Second, p.Delay(100, 0))
}
