// Package repository defines data access for encodr's persisted entities.
// All database access goes through these interfaces.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/encodr/internal/models"
)

// DeviceProfileRepository defines operations for device profile persistence.
type DeviceProfileRepository interface {
	// Create creates a new device profile.
	Create(ctx context.Context, profile *models.DeviceProfile) error
	// GetByID retrieves a device profile by ID. Returns nil, nil when absent.
	GetByID(ctx context.Context, id models.ULID) (*models.DeviceProfile, error)
	// GetByName retrieves a device profile by name. Returns nil, nil when absent.
	GetByName(ctx context.Context, name string) (*models.DeviceProfile, error)
	// GetAll retrieves all device profiles, highest priority first.
	GetAll(ctx context.Context) ([]*models.DeviceProfile, error)
	// Update updates an existing device profile.
	Update(ctx context.Context, profile *models.DeviceProfile) error
	// Delete deletes a device profile by ID.
	Delete(ctx context.Context, id models.ULID) error
	// Count returns the number of device profiles.
	Count(ctx context.Context) (int64, error)
}

// DeviceCapabilitiesRepository defines operations for per-device capabilities.
type DeviceCapabilitiesRepository interface {
	// Upsert stores the capabilities of a device, replacing earlier ones.
	Upsert(ctx context.Context, caps *models.DeviceCapabilities) error
	// GetByDeviceID retrieves a device's capabilities. Returns nil, nil when absent.
	GetByDeviceID(ctx context.Context, deviceID string) (*models.DeviceCapabilities, error)
	// Delete removes a device's capabilities.
	Delete(ctx context.Context, deviceID string) error
}

// SessionFilter narrows a session history query.
type SessionFilter struct {
	DeviceID      string
	PlaySessionID string
	Status        models.SessionStatus
	Since         time.Time
	Limit         int
	Offset        int
}

// TranscodeSessionRepository defines operations for session history.
type TranscodeSessionRepository interface {
	// Create records a finished session.
	Create(ctx context.Context, session *models.TranscodeSession) error
	// GetByJobID retrieves a session by its job id. Returns nil, nil when absent.
	GetByJobID(ctx context.Context, jobID string) (*models.TranscodeSession, error)
	// List returns sessions matching the filter, newest first, and the total
	// number of matches.
	List(ctx context.Context, filter SessionFilter) ([]*models.TranscodeSession, int64, error)
	// DeleteOlderThan hard-deletes sessions that started before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
