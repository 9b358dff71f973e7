package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/tvrec/internal/models"
)

func setupRecordingTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.Recording{}))
	return db
}

func newRecording(key string, status models.RecordingStatus) *models.Recording {
	return &models.Recording{
		Key:             key,
		Title:           "Evening News " + key,
		Channel:         "News Now",
		Source:          "p1:news",
		DurationSeconds: 600,
		Status:          status,
		ChatID:          42,
		RequestedBy:     7,
	}
}

func TestRecordingRepo_UpsertCreatesThenUpdates(t *testing.T) {
	repo := NewRecordingRepository(setupRecordingTestDB(t))
	ctx := context.Background()

	rec := newRecording("k1", models.RecordingStatusPending)
	require.NoError(t, repo.Upsert(ctx, rec))
	require.False(t, rec.ID.IsZero())
	id := rec.ID

	next := newRecording("k1", models.RecordingStatusCompleted)
	next.FileName = "news.mkv"
	next.StoredMessageID = 11
	require.NoError(t, repo.Upsert(ctx, next))
	assert.Equal(t, id, next.ID, "the row keeps its id across transitions")

	got, err := repo.GetByKey(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.RecordingStatusCompleted, got.Status)
	assert.Equal(t, "news.mkv", got.FileName)
	assert.Equal(t, 11, got.StoredMessageID)

	_, total, err := repo.List(ctx, RecordingFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestRecordingRepo_UpsertValidates(t *testing.T) {
	repo := NewRecordingRepository(setupRecordingTestDB(t))

	err := repo.Upsert(context.Background(), &models.Recording{Key: "k", Source: "x", Status: models.RecordingStatusPending})
	var verr models.ErrValidation
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Field)
}

func TestRecordingRepo_GetMissing(t *testing.T) {
	repo := NewRecordingRepository(setupRecordingTestDB(t))
	ctx := context.Background()

	got, err := repo.GetByKey(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, got)

	byID, err := repo.GetByID(ctx, models.NewULID())
	assert.NoError(t, err)
	assert.Nil(t, byID)
}

func TestRecordingRepo_GetByID(t *testing.T) {
	repo := NewRecordingRepository(setupRecordingTestDB(t))
	ctx := context.Background()

	rec := newRecording("k1", models.RecordingStatusRecording)
	require.NoError(t, repo.Upsert(ctx, rec))

	got, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "k1", got.Key)
}

func TestRecordingRepo_ListFilters(t *testing.T) {
	db := setupRecordingTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, tc := range []struct {
		key    string
		status models.RecordingStatus
		chat   int64
		title  string
	}{
		{"a", models.RecordingStatusCompleted, 42, "Cricket Final"},
		{"b", models.RecordingStatusFailed, 42, "Morning Show"},
		{"c", models.RecordingStatusCompleted, 99, "Cricket Highlights"},
	} {
		rec := newRecording(tc.key, tc.status)
		rec.ChatID = tc.chat
		rec.Title = tc.title
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Upsert(ctx, rec))
	}

	all, total, err := repo.List(ctx, RecordingFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].Key, all[1].Key, all[2].Key}, "newest first")

	completed, total, err := repo.List(ctx, RecordingFilter{Status: models.RecordingStatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, completed, 2)

	chat, _, err := repo.List(ctx, RecordingFilter{ChatID: 99})
	require.NoError(t, err)
	require.Len(t, chat, 1)
	assert.Equal(t, "c", chat[0].Key)

	search, total, err := repo.List(ctx, RecordingFilter{Query: "CRICKET"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, search, 2)

	page, total, err := repo.List(ctx, RecordingFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total, "total ignores paging")
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].Key)
}

func TestRecordingRepo_CountByStatus(t *testing.T) {
	repo := NewRecordingRepository(setupRecordingTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, newRecording("a", models.RecordingStatusCompleted)))
	require.NoError(t, repo.Upsert(ctx, newRecording("b", models.RecordingStatusCompleted)))
	require.NoError(t, repo.Upsert(ctx, newRecording("c", models.RecordingStatusFailed)))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.RecordingStatusCompleted])
	assert.Equal(t, int64(1), counts[models.RecordingStatusFailed])
	assert.Zero(t, counts[models.RecordingStatusRecording])
}

func TestRecordingRepo_DeleteFinishedBefore(t *testing.T) {
	db := setupRecordingTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)
	recent := now.Add(-time.Hour)

	oldDone := newRecording("old", models.RecordingStatusCompleted)
	oldDone.FinishedAt = &old
	recentDone := newRecording("recent", models.RecordingStatusFailed)
	recentDone.FinishedAt = &recent
	active := newRecording("active", models.RecordingStatusRecording)
	for _, rec := range []*models.Recording{oldDone, recentDone, active} {
		require.NoError(t, repo.Upsert(ctx, rec))
	}

	deleted, err := repo.DeleteFinishedBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining int64
	require.NoError(t, db.Unscoped().Model(&models.Recording{}).Count(&remaining).Error)
	assert.Equal(t, int64(2), remaining, "pruning is a hard delete")

	gone, err := repo.GetByKey(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestRecordingRepo_FailUnfinished(t *testing.T) {
	repo := NewRecordingRepository(setupRecordingTestDB(t))
	ctx := context.Background()
	for _, rec := range []*models.Recording{
		newRecording("uploading", models.RecordingStatusUploading),
		newRecording("pending", models.RecordingStatusPending),
		newRecording("done", models.RecordingStatusCompleted),
	} {
		require.NoError(t, repo.Upsert(ctx, rec))
	}

	at := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	n, err := repo.FailUnfinished(ctx, "interrupted by restart", at)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := repo.GetByKey(ctx, "uploading")
	require.NoError(t, err)
	assert.Equal(t, models.RecordingStatusFailed, got.Status)
	assert.Equal(t, "interrupted by restart", got.Error)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(at))

	done, err := repo.GetByKey(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, models.RecordingStatusCompleted, done.Status)
	assert.Empty(t, done.Error)
}
