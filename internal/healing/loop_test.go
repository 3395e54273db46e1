package healing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when told to.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLoop(t *testing.T, attempts int, perAttempt, total time.Duration) (*Loop, *fakeClock) {
	t.Helper()
	l, err := NewLoop(attempts, perAttempt, total)
	require.NoError(t, err)
	clock := newFakeClock()
	l.now = clock.now
	return l, clock
}

func TestNewLoopValidation(t *testing.T) {
	cases := []struct {
		name       string
		attempts   int
		perAttempt time.Duration
		total      time.Duration
	}{
		{"zero attempts", 0, time.Minute, time.Hour},
		{"negative attempts", -1, time.Minute, time.Hour},
		{"zero attempt timeout", 3, 0, time.Hour},
		{"total shorter than attempt", 3, time.Hour, time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewLoop(tc.attempts, tc.perAttempt, tc.total)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

func TestLoopYieldsAttemptBudgetThenExhausts(t *testing.T) {
	l, _ := newTestLoop(t, 3, time.Minute, time.Hour)

	for want := 1; want <= 3; want++ {
		slot, ok := l.Next()
		require.True(t, ok)
		assert.Equal(t, want, slot.Attempt)
	}
	_, ok := l.Next()
	assert.False(t, ok)
	assert.Equal(t, StateExhausted, l.State())

	// Exhausted loops stay exhausted.
	_, ok = l.Next()
	assert.False(t, ok)
}

func TestLoopMarkSuccessStopsEarly(t *testing.T) {
	l, _ := newTestLoop(t, 5, time.Minute, time.Hour)

	_, ok := l.Next()
	require.True(t, ok)
	l.MarkSuccess()

	assert.Equal(t, StateSucceeded, l.State())
	_, ok = l.Next()
	assert.False(t, ok)
	assert.Equal(t, 4, l.AttemptsRemaining())
}

func TestLoopTotalTimeoutCheckedBetweenAttempts(t *testing.T) {
	l, clock := newTestLoop(t, 10, time.Minute, 5*time.Minute)

	_, ok := l.Next()
	require.True(t, ok)

	clock.advance(6 * time.Minute)
	_, ok = l.Next()
	assert.False(t, ok)
	assert.Equal(t, StateTimedOut, l.State())
}

func TestLoopDeadlineClampedToSessionEnd(t *testing.T) {
	l, clock := newTestLoop(t, 10, 2*time.Minute, 5*time.Minute)
	sessionStart := clock.now()

	_, ok := l.Next()
	require.True(t, ok)

	// 4 minutes in, one minute of session left but a 2-minute slot.
	clock.advance(4 * time.Minute)
	slot, ok := l.Next()
	require.True(t, ok)
	assert.Equal(t, sessionStart.Add(5*time.Minute), slot.Deadline)
}

func TestLoopCancelDoesNotOverwriteTerminal(t *testing.T) {
	l, _ := newTestLoop(t, 1, time.Minute, time.Hour)

	_, ok := l.Next()
	require.True(t, ok)
	l.MarkSuccess()
	l.Cancel()
	assert.Equal(t, StateSucceeded, l.State())
}

func TestLoopResetAllowsReuse(t *testing.T) {
	l, _ := newTestLoop(t, 1, time.Minute, time.Hour)

	_, ok := l.Next()
	require.True(t, ok)
	_, ok = l.Next()
	require.False(t, ok)

	l.Reset()
	assert.Equal(t, StateIdle, l.State())
	slot, ok := l.Next()
	require.True(t, ok)
	assert.Equal(t, 1, slot.Attempt)
}

func TestLoopElapsedZeroBeforeStart(t *testing.T) {
	l, clock := newTestLoop(t, 3, time.Minute, time.Hour)
	assert.Equal(t, time.Duration(0), l.Elapsed())

	_, _ = l.Next()
	clock.advance(90 * time.Second)
	assert.Equal(t, 90*time.Second, l.Elapsed())
	assert.Equal(t, time.Hour-90*time.Second, l.Remaining())
}

func TestDelay(t *testing.T) {
	base := 2 * time.Second
	cap := 10 * time.Second

	assert.Equal(t, time.Duration(0), Delay(1, base, cap))
	assert.Equal(t, 2*time.Second, Delay(2, base, cap))
	assert.Equal(t, 4*time.Second, Delay(3, base, cap))
	assert.Equal(t, 8*time.Second, Delay(4, base, cap))
	assert.Equal(t, cap, Delay(5, base, cap))
	assert.Equal(t, cap, Delay(20, base, cap))
	assert.Equal(t, time.Duration(0), Delay(5, 0, cap))
}
