package models

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jmylchreest/encodr/internal/encoding"
)

// DeviceProfile is a stored device profile. The profile body is kept as a
// JSON document; only the fields used for lookup are columns.
type DeviceProfile struct {
	BaseModel

	// Name is a unique, human readable profile name.
	Name string `gorm:"uniqueIndex;not null;size:100" json:"name"`

	// Description explains which devices the profile targets.
	Description string `gorm:"size:500" json:"description,omitempty"`

	// Priority orders header identification. Higher priority profiles are
	// tried first.
	Priority int `gorm:"default:0;index" json:"priority"`

	// Identification lists the request headers that identify the device.
	Identification []encoding.HeaderRule `gorm:"serializer:json" json:"identification,omitempty"`

	// MediaProfiles lists the direct play formats the device accepts.
	MediaProfiles []encoding.MediaProfile `gorm:"serializer:json" json:"media_profiles,omitempty"`

	// TranscodingProfiles lists how transcoded output is delivered.
	TranscodingProfiles []encoding.TranscodingProfile `gorm:"serializer:json" json:"transcoding_profiles,omitempty"`
}

// TableName returns the table name for DeviceProfile.
func (DeviceProfile) TableName() string {
	return "device_profiles"
}

// Validate checks the profile before it is stored.
func (p *DeviceProfile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrNameRequired
	}
	for i, rule := range p.Identification {
		if strings.TrimSpace(rule.Name) == "" {
			return ErrValidation{Field: fmt.Sprintf("identification[%d].name", i), Message: "header name is required"}
		}
		if rule.Match == encoding.MatchRegex {
			if _, err := regexp.Compile(rule.Value); err != nil {
				return ErrValidation{Field: fmt.Sprintf("identification[%d].value", i), Message: err.Error()}
			}
		}
	}
	for i, tp := range p.TranscodingProfiles {
		if tp.Type != encoding.ProfileAudio && tp.Type != encoding.ProfileVideo {
			return ErrValidation{Field: fmt.Sprintf("transcoding_profiles[%d].type", i), Message: "must be Audio or Video"}
		}
		if strings.TrimSpace(tp.Container) == "" {
			return ErrValidation{Field: fmt.Sprintf("transcoding_profiles[%d].container", i), Message: "container is required"}
		}
	}
	return nil
}

// ToEncoding converts the stored profile into the form the decision engine
// consumes.
func (p *DeviceProfile) ToEncoding() *encoding.DeviceProfile {
	return &encoding.DeviceProfile{
		ID:                  p.ID.String(),
		Name:                p.Name,
		Identification:      p.Identification,
		MediaProfiles:       p.MediaProfiles,
		TranscodingProfiles: p.TranscodingProfiles,
	}
}
