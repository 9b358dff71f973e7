// Package service holds application services composed from repositories
// and runtime components.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/tvrec/internal/models"
	"github.com/jmylchreest/tvrec/internal/observability"
	"github.com/jmylchreest/tvrec/internal/recorder"
	"github.com/jmylchreest/tvrec/internal/repository"
)

// HistoryService persists recording transitions and answers history queries.
type HistoryService struct {
	repo   repository.RecordingRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewHistoryService creates a new HistoryService.
func NewHistoryService(repo repository.RecordingRepository) *HistoryService {
	return &HistoryService{
		repo:   repo,
		logger: observability.WithComponent(slog.Default(), "history"),
		now:    time.Now,
	}
}

// WithLogger sets a custom logger.
func (s *HistoryService) WithLogger(logger *slog.Logger) *HistoryService {
	s.logger = observability.WithComponent(logger, "history")
	return s
}

// WithClock replaces the wall clock used for pruning.
func (s *HistoryService) WithClock(now func() time.Time) *HistoryService {
	s.now = now
	return s
}

// OnTransition upserts the history row for snap. Failures are logged; a
// recording never fails because history could not be written.
func (s *HistoryService) OnTransition(ctx context.Context, snap recorder.Snapshot) {
	if err := s.repo.Upsert(ctx, RecordingFromSnapshot(snap)); err != nil {
		s.logger.Warn("failed to persist recording",
			slog.String("key", snap.Key),
			slog.String("status", string(snap.Status)),
			slog.String("error", err.Error()))
	}
}

// Get returns a recording by key, or models.ErrRecordingNotFound.
func (s *HistoryService) Get(ctx context.Context, key string) (*models.Recording, error) {
	rec, err := s.repo.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", models.ErrRecordingNotFound, key)
	}
	return rec, nil
}

// List returns a page of history.
func (s *HistoryService) List(ctx context.Context, filter repository.RecordingFilter) ([]*models.Recording, int64, error) {
	return s.repo.List(ctx, filter)
}

// Counts returns the number of recordings per status.
func (s *HistoryService) Counts(ctx context.Context) (map[models.RecordingStatus]int64, error) {
	return s.repo.CountByStatus(ctx)
}

// Prune deletes terminal rows older than retention. A non-positive
// retention keeps everything.
func (s *HistoryService) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-retention)
	n, err := s.repo.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("pruned recording history", slog.Int64("deleted", n), slog.Time("cutoff", cutoff))
	}
	return n, nil
}

// RecordingFromSnapshot maps a task snapshot onto its history row.
func RecordingFromSnapshot(snap recorder.Snapshot) *models.Recording {
	rec := &models.Recording{
		Key:             snap.Key,
		Title:           snap.Title,
		Channel:         snap.Channel,
		Source:          snap.Source,
		PlaylistID:      snap.PlaylistID,
		DurationSeconds: int(snap.Duration / time.Second),
		Status:          models.RecordingStatus(snap.Status),
		ChatID:          snap.ChatID,
		RequestedBy:     snap.RequestedBy,
		RequesterName:   snap.RequesterName,
		FileName:        snap.FileName,
		FileSize:        snap.FileSize,
		Quality:         snap.Quality,
		Error:           snap.Error,
		StoredChatID:    snap.Stored.ChatID,
		StoredMessageID: snap.Stored.MessageID,
		Attempts:        snap.Attempts,
		ScheduledFor:    timePtr(snap.ScheduledFor),
		StartedAt:       timePtr(snap.StartedAt),
		FinishedAt:      timePtr(snap.FinishedAt),
	}
	rec.CreatedAt = snap.CreatedAt
	return rec
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
