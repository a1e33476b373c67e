package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jmylchreest/encodr/internal/models"
)

type deviceCapabilitiesRepository struct {
	db *gorm.DB
}

// NewDeviceCapabilitiesRepository creates a new DeviceCapabilitiesRepository.
func NewDeviceCapabilitiesRepository(db *gorm.DB) DeviceCapabilitiesRepository {
	return &deviceCapabilitiesRepository{db: db}
}

func (r *deviceCapabilitiesRepository) Upsert(ctx context.Context, caps *models.DeviceCapabilities) error {
	if err := caps.Validate(); err != nil {
		return fmt.Errorf("validating device capabilities: %w", err)
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"device_name", "profile_id", "profile", "updated_at"}),
	}).Create(caps).Error
}

func (r *deviceCapabilitiesRepository) GetByDeviceID(ctx context.Context, deviceID string) (*models.DeviceCapabilities, error) {
	var caps models.DeviceCapabilities
	if err := r.db.WithContext(ctx).First(&caps, "device_id = ?", deviceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &caps, nil
}

func (r *deviceCapabilitiesRepository) Delete(ctx context.Context, deviceID string) error {
	return r.db.WithContext(ctx).Unscoped().Delete(&models.DeviceCapabilities{}, "device_id = ?", deviceID).Error
}

var _ DeviceCapabilitiesRepository = (*deviceCapabilitiesRepository)(nil)
