package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/models"
	"github.com/jmylchreest/encodr/internal/repository"
)

// ErrDeviceProfileNameTaken is returned when a profile name is already in use.
var ErrDeviceProfileNameTaken = errors.New("device profile name already in use")

// DeviceProfileService manages stored device profiles and device
// capabilities, and resolves them for the decision engine.
type DeviceProfileService struct {
	profiles     repository.DeviceProfileRepository
	capabilities repository.DeviceCapabilitiesRepository
	logger       *slog.Logger
}

var _ encoding.DeviceProfiles = (*DeviceProfileService)(nil)

// NewDeviceProfileService creates a new device profile service.
func NewDeviceProfileService(profiles repository.DeviceProfileRepository, capabilities repository.DeviceCapabilitiesRepository) *DeviceProfileService {
	return &DeviceProfileService{
		profiles:     profiles,
		capabilities: capabilities,
		logger:       slog.Default(),
	}
}

// WithLogger sets the logger for the service.
func (s *DeviceProfileService) WithLogger(logger *slog.Logger) *DeviceProfileService {
	s.logger = logger
	return s
}

// Create stores a new device profile.
func (s *DeviceProfileService) Create(ctx context.Context, profile *models.DeviceProfile) error {
	existing, err := s.profiles.GetByName(ctx, profile.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrDeviceProfileNameTaken
	}
	return s.profiles.Create(ctx, profile)
}

// GetByID retrieves a device profile by ID.
func (s *DeviceProfileService) GetByID(ctx context.Context, id models.ULID) (*models.DeviceProfile, error) {
	profile, err := s.profiles.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, models.ErrDeviceProfileNotFound
	}
	return profile, nil
}

// GetAll retrieves every device profile, highest priority first.
func (s *DeviceProfileService) GetAll(ctx context.Context) ([]*models.DeviceProfile, error) {
	return s.profiles.GetAll(ctx)
}

// Update replaces an existing device profile.
func (s *DeviceProfileService) Update(ctx context.Context, profile *models.DeviceProfile) error {
	existing, err := s.profiles.GetByID(ctx, profile.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return models.ErrDeviceProfileNotFound
	}
	if profile.Name != existing.Name {
		other, err := s.profiles.GetByName(ctx, profile.Name)
		if err != nil {
			return err
		}
		if other != nil {
			return ErrDeviceProfileNameTaken
		}
	}
	profile.CreatedAt = existing.CreatedAt
	return s.profiles.Update(ctx, profile)
}

// Delete removes a device profile and the capabilities referencing it.
func (s *DeviceProfileService) Delete(ctx context.Context, id models.ULID) error {
	return s.profiles.Delete(ctx, id)
}

// SetCapabilities records the profile a device reported for itself.
func (s *DeviceProfileService) SetCapabilities(ctx context.Context, caps *models.DeviceCapabilities) error {
	if caps.ProfileID != nil && !caps.ProfileID.IsZero() {
		profile, err := s.profiles.GetByID(ctx, *caps.ProfileID)
		if err != nil {
			return err
		}
		if profile == nil {
			return models.ErrDeviceProfileNotFound
		}
	}
	if err := s.capabilities.Upsert(ctx, caps); err != nil {
		return err
	}
	s.logger.Debug("device capabilities stored",
		slog.String("device_id", caps.DeviceID),
		slog.Bool("inline_profile", caps.Profile != nil))
	return nil
}

// ClearCapabilities removes a device's registered capabilities.
func (s *DeviceProfileService) ClearCapabilities(ctx context.Context, deviceID string) error {
	return s.capabilities.Delete(ctx, deviceID)
}

// GetProfile resolves a stored profile by id. Unknown or malformed ids
// resolve to no profile.
func (s *DeviceProfileService) GetProfile(ctx context.Context, id string) (*encoding.DeviceProfile, error) {
	ulid, err := models.ParseULID(id)
	if err != nil {
		s.logger.Debug("ignoring malformed device profile id", slog.String("profile_id", id))
		return nil, nil
	}
	profile, err := s.profiles.GetByID(ctx, ulid)
	if err != nil {
		return nil, fmt.Errorf("loading device profile %s: %w", id, err)
	}
	if profile == nil {
		return nil, nil
	}
	return profile.ToEncoding(), nil
}

// GetCapabilities resolves the profile a device registered. A reference to
// a profile that no longer exists counts as registered without a profile.
func (s *DeviceProfileService) GetCapabilities(ctx context.Context, deviceID string) (*encoding.DeviceProfile, bool, error) {
	caps, err := s.capabilities.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, false, fmt.Errorf("loading capabilities for device %s: %w", deviceID, err)
	}
	if caps == nil {
		return nil, false, nil
	}
	if caps.ProfileID != nil && !caps.ProfileID.IsZero() {
		profile, err := s.profiles.GetByID(ctx, *caps.ProfileID)
		if err != nil {
			return nil, true, fmt.Errorf("loading device profile %s: %w", caps.ProfileID, err)
		}
		if profile == nil {
			return nil, true, nil
		}
		return profile.ToEncoding(), true, nil
	}
	return caps.Profile, true, nil
}

// MatchProfile returns the highest priority profile whose identification
// rules match the request headers.
func (s *DeviceProfileService) MatchProfile(ctx context.Context, headers map[string]string) (*encoding.DeviceProfile, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	all, err := s.profiles.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing device profiles: %w", err)
	}
	for _, stored := range all {
		profile := stored.ToEncoding()
		if profile.MatchesHeaders(headers) {
			return profile, nil
		}
	}
	return nil, nil
}
