// Package repository defines data access for tvrec's persisted records.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/tvrec/internal/models"
)

// RecordingFilter narrows a history listing. Zero fields do not filter.
type RecordingFilter struct {
	Status      models.RecordingStatus
	ChatID      int64
	RequestedBy int64
	// Query matches title or channel, case-insensitively.
	Query  string
	Limit  int
	Offset int
}

// RecordingRepository defines operations for recording history.
type RecordingRepository interface {
	// Upsert creates or replaces the row for rec.Key.
	Upsert(ctx context.Context, rec *models.Recording) error
	// GetByID retrieves a recording by ID. Returns nil, nil when absent.
	GetByID(ctx context.Context, id models.ULID) (*models.Recording, error)
	// GetByKey retrieves a recording by correlation key. Returns nil, nil when absent.
	GetByKey(ctx context.Context, key string) (*models.Recording, error)
	// List returns a page of recordings, newest first, and the total match count.
	List(ctx context.Context, filter RecordingFilter) ([]*models.Recording, int64, error)
	// CountByStatus counts recordings per status.
	CountByStatus(ctx context.Context) (map[models.RecordingStatus]int64, error)
	// DeleteFinishedBefore permanently removes terminal rows finished before cutoff.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// FailUnfinished marks every non-terminal row failed with reason, finishing it at.
	FailUnfinished(ctx context.Context, reason string, at time.Time) (int64, error)
}
