package summaries

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

func testSummary(convID uint, lastMessageAt time.Time) *ConversationSummary {
	return &ConversationSummary{
		ConversationID: convID,
		AgentID:        1,
		UserID:         2,
		SummaryText:    "הלקוח התעניין בניקוי אבנית וקבע תור ליום ראשון.",
		MessageCount:   8,
		LastMessageAt:  lastMessageAt,
		WebhookStatus:  WebhookPending,
	}
}

func TestCreateDeduplicatesByWindow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	window := time.Date(2026, 6, 14, 12, 0, 0, 0, time.UTC)

	first := testSummary(10, window)
	dup, err := repo.Create(ctx, first)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.NotZero(t, first.ID)

	// Same conversation and window: another instance already wrote it.
	dup, err = repo.Create(ctx, testSummary(10, window))
	require.NoError(t, err)
	assert.True(t, dup)

	// A newer window for the same conversation is a fresh summary.
	dup, err = repo.Create(ctx, testSummary(10, window.Add(time.Hour)))
	require.NoError(t, err)
	assert.False(t, dup)

	dup, err = repo.Create(ctx, testSummary(11, window))
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestDueRetriesFilters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()
	window := now.Add(-time.Hour)

	// Pending with a due retry.
	due := testSummary(20, window)
	_, err := repo.Create(ctx, due)
	require.NoError(t, err)
	due.WebhookAttempts = 1
	retryAt := now.Add(-time.Minute)
	due.NextRetryAt = &retryAt
	require.NoError(t, repo.Update(ctx, due))

	// Pending but the retry is still in the future.
	future := testSummary(21, window)
	_, err = repo.Create(ctx, future)
	require.NoError(t, err)
	future.WebhookAttempts = 1
	futureAt := now.Add(time.Hour)
	future.NextRetryAt = &futureAt
	require.NoError(t, repo.Update(ctx, future))

	// Never attempted: the first delivery is not a retry.
	fresh := testSummary(22, window)
	_, err = repo.Create(ctx, fresh)
	require.NoError(t, err)

	// Already delivered.
	sent := testSummary(23, window)
	_, err = repo.Create(ctx, sent)
	require.NoError(t, err)
	sent.WebhookStatus = WebhookSent
	sentAt := now
	sent.WebhookSentAt = &sentAt
	require.NoError(t, repo.Update(ctx, sent))

	retries, err := repo.DueRetries(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, retries, 1)
	assert.Equal(t, uint(20), retries[0].ConversationID)
	assert.Equal(t, 1, retries[0].WebhookAttempts)
}

func TestUpdatePersistsWebhookFieldsOnly(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	summary := testSummary(30, now.Add(-time.Hour))
	_, err := repo.Create(ctx, summary)
	require.NoError(t, err)

	summary.WebhookStatus = WebhookFailed
	summary.WebhookAttempts = 3
	summary.WebhookLastError = "webhook returned 500"
	summary.SummaryText = "mutated locally" // must not be written back
	require.NoError(t, repo.Update(ctx, summary))

	// Failed summaries never come back as retries.
	retries, err := repo.DueRetries(ctx, now.Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, retries)
}
