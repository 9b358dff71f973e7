package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/tvrec/internal/models"
)

// DefaultListLimit bounds a listing without an explicit limit.
const DefaultListLimit = 50

// recordingRepo implements RecordingRepository using GORM.
type recordingRepo struct {
	db *gorm.DB
}

// NewRecordingRepository creates a new RecordingRepository.
func NewRecordingRepository(db *gorm.DB) RecordingRepository {
	return &recordingRepo{db: db}
}

func (r *recordingRepo) Upsert(ctx context.Context, rec *models.Recording) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Recording
		err := tx.Where("task_key = ?", rec.Key).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(rec).Error; err != nil {
				return fmt.Errorf("creating recording: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("finding recording %s: %w", rec.Key, err)
		}

		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		if err := tx.Save(rec).Error; err != nil {
			return fmt.Errorf("updating recording: %w", err)
		}
		return nil
	})
}

func (r *recordingRepo) GetByID(ctx context.Context, id models.ULID) (*models.Recording, error) {
	var rec models.Recording
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting recording by ID: %w", err)
	}
	return &rec, nil
}

func (r *recordingRepo) GetByKey(ctx context.Context, key string) (*models.Recording, error) {
	var rec models.Recording
	if err := r.db.WithContext(ctx).Where("task_key = ?", key).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting recording by key: %w", err)
	}
	return &rec, nil
}

func (r *recordingRepo) List(ctx context.Context, filter RecordingFilter) ([]*models.Recording, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Recording{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.ChatID != 0 {
		q = q.Where("chat_id = ?", filter.ChatID)
	}
	if filter.RequestedBy != 0 {
		q = q.Where("requested_by = ?", filter.RequestedBy)
	}
	if term := strings.TrimSpace(filter.Query); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("LOWER(title) LIKE ? OR LOWER(channel) LIKE ?", like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting recordings: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var recs []*models.Recording
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Offset(filter.Offset).Find(&recs).Error; err != nil {
		return nil, 0, fmt.Errorf("listing recordings: %w", err)
	}
	return recs, total, nil
}

func (r *recordingRepo) CountByStatus(ctx context.Context) (map[models.RecordingStatus]int64, error) {
	var rows []struct {
		Status models.RecordingStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&models.Recording{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting recordings by status: %w", err)
	}
	out := make(map[models.RecordingStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func (r *recordingRepo) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Unscoped().
		Where("finished_at IS NOT NULL AND finished_at < ?", cutoff).
		Where("status IN ?", []models.RecordingStatus{
			models.RecordingStatusCompleted,
			models.RecordingStatusFailed,
			models.RecordingStatusCancelled,
		}).
		Delete(&models.Recording{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning recordings: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *recordingRepo) FailUnfinished(ctx context.Context, reason string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Recording{}).
		Where("status NOT IN ?", []models.RecordingStatus{
			models.RecordingStatusCompleted,
			models.RecordingStatusFailed,
			models.RecordingStatusCancelled,
		}).
		Updates(map[string]any{
			"status":      models.RecordingStatusFailed,
			"error":       reason,
			"finished_at": at,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failing unfinished recordings: %w", res.Error)
	}
	return res.RowsAffected, nil
}
