package migrations

import (
	"errors"

	"gorm.io/gorm"

	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/models"
)

// AllMigrations returns every migration in version order.
//   - 001: device profiles and device capabilities
//   - 002: transcode session history
//   - 003: built-in device profiles
func AllMigrations() []Migration {
	return []Migration{
		migration001DeviceProfiles(),
		migration002TranscodeSessions(),
		migration003DefaultProfiles(),
	}
}

func migration001DeviceProfiles() Migration {
	return Migration{
		Version:     "001",
		Description: "Create device profile tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.DeviceProfile{}, &models.DeviceCapabilities{})
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.DeviceCapabilities{}, &models.DeviceProfile{})
		},
	}
}

func migration002TranscodeSessions() Migration {
	return Migration{
		Version:     "002",
		Description: "Create transcode session history",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.TranscodeSession{})
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.TranscodeSession{})
		},
	}
}

func migration003DefaultProfiles() Migration {
	return Migration{
		Version:     "003",
		Description: "Insert built-in device profiles",
		Up: func(tx *gorm.DB) error {
			for _, p := range DefaultProfiles() {
				var existing models.DeviceProfile
				err := tx.Where("name = ?", p.Name).First(&existing).Error
				if err == nil {
					continue
				}
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return err
				}
				if err := tx.Create(&p).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Down: func(tx *gorm.DB) error {
			names := make([]string, 0, len(DefaultProfiles()))
			for _, p := range DefaultProfiles() {
				names = append(names, p.Name)
			}
			return tx.Unscoped().Where("name IN ?", names).Delete(&models.DeviceProfile{}).Error
		},
	}
}

// DefaultProfiles returns the device profiles installed with a new database.
func DefaultProfiles() []models.DeviceProfile {
	return []models.DeviceProfile{
		{
			Name:        "Web Browser",
			Description: "HTML5 video in current desktop and mobile browsers",
			Priority:    10,
			Identification: []encoding.HeaderRule{
				{Name: "User-Agent", Value: "Mozilla/", Match: encoding.MatchSubstring},
			},
			MediaProfiles: []encoding.MediaProfile{
				{Type: encoding.ProfileVideo, Container: "mp4", VideoCodec: "h264", AudioCodec: "aac,mp3", MimeType: "video/mp4"},
				{Type: encoding.ProfileVideo, Container: "ts", VideoCodec: "h264", AudioCodec: "aac", MimeType: "video/mp2t"},
				{Type: encoding.ProfileAudio, Container: "mp3", AudioCodec: "mp3", MimeType: "audio/mpeg"},
			},
			TranscodingProfiles: []encoding.TranscodingProfile{
				{Type: encoding.ProfileVideo, Container: "ts", VideoCodec: "h264", AudioCodec: "aac", TranscodeSeekInfo: encoding.SeekAuto},
				{Type: encoding.ProfileAudio, Container: "mp3", AudioCodec: "mp3", TranscodeSeekInfo: encoding.SeekAuto},
			},
		},
		{
			Name:        "DLNA Renderer",
			Description: "Generic UPnP AV renderer",
			Identification: []encoding.HeaderRule{
				{Name: "User-Agent", Value: `(?i)(dlna|upnp)`, Match: encoding.MatchRegex},
			},
			MediaProfiles: []encoding.MediaProfile{
				{Type: encoding.ProfileVideo, Container: "ts", VideoCodec: "h264,mpeg2video", AudioCodec: "ac3,aac,mp3", MimeType: "video/vnd.dlna.mpeg-tts"},
				{Type: encoding.ProfileAudio, Container: "mp3", AudioCodec: "mp3", MimeType: "audio/mpeg"},
			},
			TranscodingProfiles: []encoding.TranscodingProfile{
				{
					Type:                  encoding.ProfileVideo,
					Container:             "ts",
					VideoCodec:            "h264",
					AudioCodec:            "ac3,aac",
					EstimateContentLength: true,
					EnableMpegtsM2TsMode:  true,
					TranscodeSeekInfo:     encoding.SeekBytes,
				},
				{Type: encoding.ProfileAudio, Container: "mp3", AudioCodec: "mp3", TranscodeSeekInfo: encoding.SeekBytes},
			},
		},
	}
}
