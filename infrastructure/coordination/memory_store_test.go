package coordination

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreBufferLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	n, err := s.AppendBuffer(ctx, "buf", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.AppendBuffer(ctx, "buf", "b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	length, err := s.BufferLen(ctx, "buf")
	require.NoError(t, err)
	assert.Equal(t, int64(2), length)

	items, err := s.DrainBuffer(ctx, "buf")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, items)

	// Drain empties the buffer.
	items, err = s.DrainBuffer(ctx, "buf")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMemoryStoreGateExclusionAndExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }

	ok, err := s.ClaimGate(ctx, "gate", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimGate(ctx, "gate", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "held gate must reject a second claimant")

	// TTL expiry frees the gate without a release.
	now = now.Add(31 * time.Second)
	ok, err = s.ClaimGate(ctx, "gate", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.ReleaseGate(ctx, "gate"))
	ok, err = s.ClaimGate(ctx, "gate", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStoreTimers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.EnqueueTimer(ctx, "timers", "1:10", base.Add(time.Hour)))
	require.NoError(t, s.EnqueueTimer(ctx, "timers", "1:20", base.Add(2*time.Hour)))
	require.NoError(t, s.EnqueueTimer(ctx, "timers", "1:30", base.Add(3*time.Hour)))

	due, err := s.DueTimers(ctx, "timers", base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"1:10", "1:20"}, due, "due timers come back oldest first")

	// Removal doubles as a claim: only one caller wins.
	removed, err := s.RemoveTimer(ctx, "timers", "1:10")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.RemoveTimer(ctx, "timers", "1:10")
	require.NoError(t, err)
	assert.False(t, removed)

	// Re-arming overwrites the fire time.
	require.NoError(t, s.EnqueueTimer(ctx, "timers", "1:20", base.Add(5*time.Hour)))
	due, err = s.DueTimers(ctx, "timers", base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestMemoryStoreLeaseSticksToHolder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }

	ok, err := s.AcquireLease(ctx, "scheduler:lock", 180*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLease(ctx, "scheduler:lock", 180*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(181 * time.Second)
	ok, err = s.AcquireLease(ctx, "scheduler:lock", 180*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
