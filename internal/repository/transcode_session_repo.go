package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/encodr/internal/models"
)

const defaultSessionLimit = 50

type transcodeSessionRepository struct {
	db *gorm.DB
}

// NewTranscodeSessionRepository creates a new TranscodeSessionRepository.
func NewTranscodeSessionRepository(db *gorm.DB) TranscodeSessionRepository {
	return &transcodeSessionRepository{db: db}
}

func (r *transcodeSessionRepository) Create(ctx context.Context, session *models.TranscodeSession) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("validating transcode session: %w", err)
	}
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *transcodeSessionRepository) GetByJobID(ctx context.Context, jobID string) (*models.TranscodeSession, error) {
	var session models.TranscodeSession
	if err := r.db.WithContext(ctx).First(&session, "job_id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

func (r *transcodeSessionRepository) List(ctx context.Context, filter SessionFilter) ([]*models.TranscodeSession, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.TranscodeSession{})
	if filter.DeviceID != "" {
		q = q.Where("device_id = ?", filter.DeviceID)
	}
	if filter.PlaySessionID != "" {
		q = q.Where("play_session_id = ?", filter.PlaySessionID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if !filter.Since.IsZero() {
		q = q.Where("started_at >= ?", filter.Since)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSessionLimit
	}
	var sessions []*models.TranscodeSession
	if err := q.Order("started_at DESC").Limit(limit).Offset(filter.Offset).Find(&sessions).Error; err != nil {
		return nil, 0, err
	}
	return sessions, total, nil
}

func (r *transcodeSessionRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Unscoped().Where("started_at < ?", cutoff).Delete(&models.TranscodeSession{})
	return result.RowsAffected, result.Error
}

var _ TranscodeSessionRepository = (*transcodeSessionRepository)(nil)
