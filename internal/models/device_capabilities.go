package models

import (
	"strings"

	"github.com/jmylchreest/encodr/internal/encoding"
)

// DeviceCapabilities is the profile a device registered for itself. It
// either references a stored profile or carries its own.
type DeviceCapabilities struct {
	BaseModel

	// DeviceID is the client device identifier.
	DeviceID string `gorm:"uniqueIndex;not null;size:255" json:"device_id"`

	// DeviceName is the name the client reported.
	DeviceName string `gorm:"size:255" json:"device_name,omitempty"`

	// ProfileID references a stored profile. When set, Profile is ignored.
	ProfileID *ULID `gorm:"type:varchar(26);index" json:"profile_id,omitempty"`

	// Profile is the inline profile the device reported.
	Profile *encoding.DeviceProfile `gorm:"serializer:json" json:"profile,omitempty"`
}

// TableName returns the table name for DeviceCapabilities.
func (DeviceCapabilities) TableName() string {
	return "device_capabilities"
}

// Validate checks the capabilities before they are stored.
func (c *DeviceCapabilities) Validate() error {
	if strings.TrimSpace(c.DeviceID) == "" {
		return ErrDeviceIDRequired
	}
	if (c.ProfileID == nil || c.ProfileID.IsZero()) && c.Profile == nil {
		return ErrValidation{Field: "profile", Message: "either profile_id or profile is required"}
	}
	return nil
}
