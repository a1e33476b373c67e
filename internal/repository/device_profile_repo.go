package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/jmylchreest/encodr/internal/models"
)

// deviceProfileRepository implements DeviceProfileRepository using GORM.
type deviceProfileRepository struct {
	db *gorm.DB
}

// NewDeviceProfileRepository creates a new DeviceProfileRepository.
func NewDeviceProfileRepository(db *gorm.DB) DeviceProfileRepository {
	return &deviceProfileRepository{db: db}
}

func (r *deviceProfileRepository) Create(ctx context.Context, profile *models.DeviceProfile) error {
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("validating device profile: %w", err)
	}
	return r.db.WithContext(ctx).Create(profile).Error
}

func (r *deviceProfileRepository) GetByID(ctx context.Context, id models.ULID) (*models.DeviceProfile, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *deviceProfileRepository) GetByName(ctx context.Context, name string) (*models.DeviceProfile, error) {
	return r.first(ctx, "name = ?", name)
}

func (r *deviceProfileRepository) first(ctx context.Context, query string, arg any) (*models.DeviceProfile, error) {
	var profile models.DeviceProfile
	if err := r.db.WithContext(ctx).First(&profile, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (r *deviceProfileRepository) GetAll(ctx context.Context) ([]*models.DeviceProfile, error) {
	var profiles []*models.DeviceProfile
	if err := r.db.WithContext(ctx).Order("priority DESC, name ASC").Find(&profiles).Error; err != nil {
		return nil, err
	}
	return profiles, nil
}

func (r *deviceProfileRepository) Update(ctx context.Context, profile *models.DeviceProfile) error {
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("validating device profile: %w", err)
	}
	return r.db.WithContext(ctx).Save(profile).Error
}

// Delete hard-deletes a profile and the capabilities referencing it.
func (r *deviceProfileRepository) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("profile_id = ?", id).Delete(&models.DeviceCapabilities{}).Error; err != nil {
			return err
		}
		result := tx.Unscoped().Delete(&models.DeviceProfile{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrDeviceProfileNotFound
		}
		return nil
	})
}

func (r *deviceProfileRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.DeviceProfile{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

var _ DeviceProfileRepository = (*deviceProfileRepository)(nil)
