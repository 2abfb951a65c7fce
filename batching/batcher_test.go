package batching

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wapilot/wapilot/infrastructure/coordination"
)

type flushRecorder struct {
	mu      sync.Mutex
	batches [][]PendingMessage
}

func (r *flushRecorder) flush(_ context.Context, _ uint, _ string, batch []PendingMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
}

func (r *flushRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *flushRecorder) last() []PendingMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.batches) == 0 {
		return nil
	}
	return r.batches[len(r.batches)-1]
}

func TestBatcherZeroDebounceFlushesImmediately(t *testing.T) {
	rec := &flushRecorder{}
	b := NewBatcher(coordination.NewMemoryStore(), rec.flush)

	err := b.Add(context.Background(), 1, "972501234567", PendingMessage{Text: "שלום"}, 0, 10)
	require.NoError(t, err)

	require.Equal(t, 1, rec.count())
	assert.Equal(t, "שלום", rec.last()[0].Text)
}

func TestBatcherMaxMessagesForcesFlush(t *testing.T) {
	rec := &flushRecorder{}
	b := NewBatcher(coordination.NewMemoryStore(), rec.flush)
	ctx := context.Background()

	require.NoError(t, b.Add(ctx, 1, "972501234567", PendingMessage{Text: "one"}, 60, 3))
	require.NoError(t, b.Add(ctx, 1, "972501234567", PendingMessage{Text: "two"}, 60, 3))
	assert.Equal(t, 0, rec.count())

	require.NoError(t, b.Add(ctx, 1, "972501234567", PendingMessage{Text: "three"}, 60, 3))
	require.Equal(t, 1, rec.count())
	assert.Len(t, rec.last(), 3)
}

func TestBatcherDebounceRestartsOnArrival(t *testing.T) {
	rec := &flushRecorder{}
	b := NewBatcher(coordination.NewMemoryStore(), rec.flush)
	ctx := context.Background()

	require.NoError(t, b.Add(ctx, 2, "972501234567", PendingMessage{Text: "first"}, 1, 20))
	time.Sleep(500 * time.Millisecond)
	require.NoError(t, b.Add(ctx, 2, "972501234567", PendingMessage{Text: "second"}, 1, 20))

	// The first timer was restarted, so nothing flushed yet.
	assert.Equal(t, 0, rec.count())

	time.Sleep(1500 * time.Millisecond)
	require.Equal(t, 1, rec.count())
	assert.Len(t, rec.last(), 2)
}

func TestBatcherSeparatePairsDoNotMix(t *testing.T) {
	rec := &flushRecorder{}
	b := NewBatcher(coordination.NewMemoryStore(), rec.flush)
	ctx := context.Background()

	require.NoError(t, b.Add(ctx, 1, "972501111111", PendingMessage{Text: "a"}, 0, 10))
	require.NoError(t, b.Add(ctx, 1, "972502222222", PendingMessage{Text: "b"}, 0, 10))

	require.Equal(t, 2, rec.count())
	assert.Len(t, rec.last(), 1)
}

func TestCombinedText(t *testing.T) {
	assert.Equal(t, "", CombinedText(nil))
	assert.Equal(t, "only", CombinedText([]PendingMessage{{Text: "only"}}))
	assert.Equal(t, "one\ntwo", CombinedText([]PendingMessage{
		{Text: "one"}, {Text: ""}, {Text: "two"},
	}))
}
