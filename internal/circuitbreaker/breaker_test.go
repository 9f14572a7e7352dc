package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b := New("prover", 3, time.Minute)

	for i := 0; i < 3; i++ {
		err := b.Do(func() error { return assert.AnError })
		assert.ErrorIs(t, err, assert.AnError)
	}
	assert.Equal(t, StateOpen, b.State())

	calls := 0
	err := b.Do(func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.Zero(t, calls, "open circuit must fail fast")
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New("prover", 3, time.Minute)

	require.Error(t, b.Do(func() error { return assert.AnError }))
	require.Error(t, b.Do(func() error { return assert.AnError }))
	require.NoError(t, b.Do(func() error { return nil }))
	require.Error(t, b.Do(func() error { return assert.AnError }))
	require.Error(t, b.Do(func() error { return assert.AnError }))

	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenProbeClosesOnSuccess(t *testing.T) {
	b := New("prover", 1, time.Minute)
	current := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return current }

	require.Error(t, b.Do(func() error { return assert.AnError }))
	assert.Equal(t, StateOpen, b.State())

	current = current.Add(time.Minute)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenProbeReopensOnFailure(t *testing.T) {
	b := New("prover", 1, time.Minute)
	current := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return current }

	require.Error(t, b.Do(func() error { return assert.AnError }))
	current = current.Add(time.Minute)

	require.Error(t, b.Do(func() error { return assert.AnError }))
	assert.Equal(t, StateOpen, b.State())

	// The cooldown restarts from the failed probe.
	current = current.Add(30 * time.Second)
	assert.Equal(t, StateOpen, b.State())
	current = current.Add(30 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestHalfOpenAdmitsSingleProbe(t *testing.T) {
	b := New("prover", 1, time.Minute)
	current := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return current }

	require.Error(t, b.Do(func() error { return assert.AnError }))
	current = current.Add(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	go b.Do(func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	err := b.Do(func() error { return nil })
	assert.ErrorIs(t, err, ErrOpen, "second concurrent probe must be refused")
	close(release)
}
