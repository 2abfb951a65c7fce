package reminders

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

func testReminder(appointmentID uint, due time.Time) ScheduledReminder {
	return ScheduledReminder{
		AppointmentID: appointmentID,
		AgentID:       1,
		UserID:        2,
		ScheduledFor:  due,
		Status:        StatusPending,
		ContentType:   ContentTemplate,
		Template:      "תזכורת: {appointment_title} ב-{date}",
	}
}

func TestDueBatchOrderingAndLimit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.CreateBatch(ctx, []ScheduledReminder{
		testReminder(100, now.Add(-time.Minute)),
		testReminder(101, now.Add(-time.Hour)),
		testReminder(102, now.Add(time.Hour)), // future
	}))

	due, err := repo.DueBatch(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, uint(101), due[0].AppointmentID, "oldest first")
	assert.Equal(t, uint(100), due[1].AppointmentID)

	due, err = repo.DueBatch(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestClaimProcessingSingleWinner(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.CreateBatch(ctx, []ScheduledReminder{testReminder(110, now)}))
	due, err := repo.DueBatch(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)

	claimed, err := repo.ClaimProcessing(ctx, due[0].ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	// The row is no longer pending, so every later claim loses.
	claimed, err = repo.ClaimProcessing(ctx, due[0].ID)
	require.NoError(t, err)
	assert.False(t, claimed)

	due, err = repo.DueBatch(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due, "processing rows are no longer due")
}

func TestCancelPendingForAppointment(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.CreateBatch(ctx, []ScheduledReminder{
		testReminder(120, now.Add(time.Hour)),
		testReminder(120, now.Add(24*time.Hour)),
		testReminder(121, now.Add(time.Hour)),
	}))

	n, err := repo.CancelPendingForAppointment(ctx, 120)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// The other appointment keeps its reminder.
	pending, err := repo.HasPendingForUser(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, pending)

	n, err = repo.CancelPendingForAppointment(ctx, 120)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdatePersistsOutcomeFieldsOnly(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.CreateBatch(ctx, []ScheduledReminder{testReminder(130, now)}))
	due, err := repo.DueBatch(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, due, 1)

	rem := due[0]
	rem.Status = StatusSent
	sentAt := now.Add(time.Second)
	rem.SentAt = &sentAt
	rem.Template = "mutated locally" // must not be written back
	require.NoError(t, repo.Update(ctx, &rem))

	pending, err := repo.HasPendingForUser(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, pending)

	due, err = repo.DueBatch(ctx, now.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestHasPendingForUser(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pending, err := repo.HasPendingForUser(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, pending)

	require.NoError(t, repo.CreateBatch(ctx, []ScheduledReminder{testReminder(140, now.Add(time.Hour))}))

	pending, err = repo.HasPendingForUser(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, pending)

	pending, err = repo.HasPendingForUser(ctx, 1, 99)
	require.NoError(t, err)
	assert.False(t, pending)
}
