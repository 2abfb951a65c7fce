package conversation

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

func TestMarkProcessedDetectsDuplicates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	dup, err := repo.MarkProcessed(ctx, "1234567890:972501234567:42")
	require.NoError(t, err)
	assert.False(t, dup, "first sighting is not a duplicate")

	dup, err = repo.MarkProcessed(ctx, "1234567890:972501234567:42")
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = repo.MarkProcessed(ctx, "1234567890:972501234567:43")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestPurgeProcessedBefore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	dup, err := repo.MarkProcessed(ctx, "old-key")
	require.NoError(t, err)
	require.False(t, dup)

	require.NoError(t, repo.PurgeProcessedBefore(ctx, time.Now().UTC().Add(time.Hour)))

	// After the purge the key is seeable again.
	dup, err = repo.MarkProcessed(ctx, "old-key")
	require.NoError(t, err)
	assert.False(t, dup)

	// A cutoff in the past leaves fresh rows alone.
	require.NoError(t, repo.PurgeProcessedBefore(ctx, time.Now().UTC().Add(-time.Hour)))
	dup, err = repo.MarkProcessed(ctx, "old-key")
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestGetOrCreateUserIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	user, err := repo.GetOrCreateUser(ctx, "972501234567", "דני")
	require.NoError(t, err)
	require.NotZero(t, user.ID)
	assert.Equal(t, "דני", user.Name)
	assert.Equal(t, GenderUnknown, user.Gender)

	again, err := repo.GetOrCreateUser(ctx, "972501234567", "")
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)
	assert.Equal(t, "דני", again.Name, "existing name is kept")

	// A nameless first contact picks the name up later.
	anon, err := repo.GetOrCreateUser(ctx, "972509999999", "")
	require.NoError(t, err)
	named, err := repo.GetOrCreateUser(ctx, "972509999999", "רותם")
	require.NoError(t, err)
	assert.Equal(t, anon.ID, named.ID)
	assert.Equal(t, "רותם", named.Name)
}

func TestGetOrCreateConversation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	conv, err := repo.GetOrCreateConversation(ctx, 1, 2)
	require.NoError(t, err)
	require.NotZero(t, conv.ID)
	assert.False(t, conv.Paused)
	assert.False(t, conv.OptedOut)

	again, err := repo.GetOrCreateConversation(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	other, err := repo.GetOrCreateConversation(ctx, 1, 3)
	require.NoError(t, err)
	assert.NotEqual(t, conv.ID, other.ID)
}

func TestRecentMessagesChronological(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 6, 14, 10, 0, 0, 0, time.UTC)
	for i := range 5 {
		msg := &Message{
			ConversationID: 7,
			Role:           RoleUser,
			Type:           TypeText,
			Content:        fmt.Sprintf("הודעה %d", i),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.AppendMessage(ctx, msg))
	}

	recent, err := repo.RecentMessages(ctx, 7, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "הודעה 2", recent[0].Content)
	assert.Equal(t, "הודעה 4", recent[2].Content, "newest last")
}

func TestMessagesAfterAndCounts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	var ids []uint
	for i := range 4 {
		msg := &Message{ConversationID: 8, Role: RoleUser, Type: TypeText, Content: fmt.Sprintf("m%d", i)}
		require.NoError(t, repo.AppendMessage(ctx, msg))
		ids = append(ids, msg.ID)
	}

	after, err := repo.MessagesAfter(ctx, 8, ids[1])
	require.NoError(t, err)
	require.Len(t, after, 2)
	assert.Equal(t, "m2", after[0].Content)

	count, err := repo.CountMessagesAfter(ctx, 8, ids[1])
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	maxID, err := repo.MaxMessageID(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, ids[3], maxID)

	maxID, err = repo.MaxMessageID(ctx, 999)
	require.NoError(t, err)
	assert.Zero(t, maxID)
}

func TestTouchLastCustomerMessageIsMonotonic(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	conv, err := repo.GetOrCreateConversation(ctx, 1, 2)
	require.NoError(t, err)

	later := time.Date(2026, 6, 14, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.TouchLastCustomerMessage(ctx, conv.ID, later))

	// An out-of-order older event must not move the marker backwards.
	require.NoError(t, repo.TouchLastCustomerMessage(ctx, conv.ID, later.Add(-time.Hour)))

	got, err := repo.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastCustomerMessageAt)
	assert.True(t, got.LastCustomerMessageAt.Equal(later))
}
