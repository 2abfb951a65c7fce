package followups

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRepo(t *testing.T) *GormRepository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	repo := NewGormRepository(db)
	require.NoError(t, repo.Init(context.Background()))
	return repo
}

func pendingFollowup(convID uint, due time.Time) *ScheduledFollowup {
	return &ScheduledFollowup{
		ConversationID: convID,
		AgentID:        1,
		UserID:         2,
		FollowupNumber: 1,
		ScheduledFor:   due,
		Status:         StatusPending,
	}
}

func TestClaimDueBatchClaimsOnlyDuePending(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, pendingFollowup(10, now.Add(-time.Minute))))
	require.NoError(t, repo.Create(ctx, pendingFollowup(11, now.Add(-2*time.Minute))))
	require.NoError(t, repo.Create(ctx, pendingFollowup(12, now.Add(time.Hour)))) // not yet due

	batch, err := repo.ClaimDueBatch(ctx, now, 50)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, uint(11), batch[0].ConversationID, "oldest first")
	for _, fu := range batch {
		assert.Equal(t, StatusEvaluating, fu.Status)
	}

	// The claim is exclusive: a second pass sees nothing.
	batch, err = repo.ClaimDueBatch(ctx, now, 50)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestClaimDueBatchHonorsLimit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := range 5 {
		require.NoError(t, repo.Create(ctx, pendingFollowup(uint(20+i), now.Add(-time.Minute))))
	}

	batch, err := repo.ClaimDueBatch(ctx, now, 3)
	require.NoError(t, err)
	assert.Len(t, batch, 3)

	batch, err = repo.ClaimDueBatch(ctx, now, 3)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}

func TestCancelActiveHitsPendingAndEvaluating(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pending := pendingFollowup(30, now.Add(time.Hour))
	require.NoError(t, repo.Create(ctx, pending))

	evaluating := pendingFollowup(30, now.Add(-time.Minute))
	require.NoError(t, repo.Create(ctx, evaluating))
	_, err := repo.ClaimDueBatch(ctx, now, 10)
	require.NoError(t, err)

	sentAt := now.Add(-time.Hour)
	sent := pendingFollowup(30, sentAt)
	require.NoError(t, repo.Create(ctx, sent))
	sent.Status = StatusSent
	sent.SentAt = &sentAt
	require.NoError(t, repo.Update(ctx, sent))

	n, err := repo.CancelActive(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "sent rows stay untouched")

	active, err := repo.HasActive(ctx, 30)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestSentCountAndLastSent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	mkSent := func(at time.Time) {
		fu := pendingFollowup(40, at)
		require.NoError(t, repo.Create(ctx, fu))
		fu.Status = StatusSent
		fu.SentAt = &at
		require.NoError(t, repo.Update(ctx, fu))
	}
	mkSent(base.Add(1 * time.Hour))
	mkSent(base.Add(2 * time.Hour))
	mkSent(base.Add(-1 * time.Hour)) // before cutoff

	count, err := repo.SentCountSince(ctx, 40, base)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	last, err := repo.LastSentAfter(ctx, 40, base)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(base.Add(2*time.Hour)))

	last, err = repo.LastSentAfter(ctx, 40, base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, last)
}

// Two scheduler instances racing over the same due rows must end up with
// disjoint batches: only the caller whose pending check won gets the row.
func TestClaimDueBatchParallelClaimsAreDisjoint(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	const rows = 20
	for i := range rows {
		require.NoError(t, repo.Create(ctx, pendingFollowup(uint(100+i), now.Add(-time.Minute))))
	}

	results := make(chan []ScheduledFollowup, 2)
	for range 2 {
		go func() {
			batch, err := repo.ClaimDueBatch(ctx, now, rows)
			assert.NoError(t, err)
			results <- batch
		}()
	}

	seen := make(map[uint]int)
	total := 0
	for range 2 {
		for _, fu := range <-results {
			seen[fu.ID]++
			total++
		}
	}
	assert.Equal(t, rows, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "row %d claimed by both callers", id)
	}
}
