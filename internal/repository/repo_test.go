package repository

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.DeviceProfile{}, &models.DeviceCapabilities{}, &models.TranscodeSession{}))
	return db
}

func tvProfile(name string, priority int) *models.DeviceProfile {
	return &models.DeviceProfile{
		Name:     name,
		Priority: priority,
		Identification: []encoding.HeaderRule{
			{Name: "User-Agent", Value: name, Match: encoding.MatchSubstring},
		},
		TranscodingProfiles: []encoding.TranscodingProfile{
			{Type: encoding.ProfileVideo, Container: "ts", VideoCodec: "h264", AudioCodec: "aac"},
		},
	}
}
