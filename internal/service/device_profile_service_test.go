package service

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/models"
	"github.com/jmylchreest/encodr/internal/repository"
)

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every pooled connection to :memory: would open its own database
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.DeviceProfile{}, &models.DeviceCapabilities{}, &models.TranscodeSession{}))
	return db
}

func newTestDeviceProfileService(t *testing.T) *DeviceProfileService {
	db := setupServiceTestDB(t)
	return NewDeviceProfileService(
		repository.NewDeviceProfileRepository(db),
		repository.NewDeviceCapabilitiesRepository(db),
	)
}

func uaProfile(name, ua string, priority int) *models.DeviceProfile {
	return &models.DeviceProfile{
		Name:     name,
		Priority: priority,
		Identification: []encoding.HeaderRule{
			{Name: "User-Agent", Value: ua, Match: encoding.MatchSubstring},
		},
		TranscodingProfiles: []encoding.TranscodingProfile{
			{Type: encoding.ProfileVideo, Container: "ts", VideoCodec: "h264", AudioCodec: "aac"},
		},
	}
}

func TestDeviceProfileService_CRUD(t *testing.T) {
	svc := newTestDeviceProfileService(t)
	ctx := context.Background()

	profile := uaProfile("Living Room TV", "SmartTV", 5)
	require.NoError(t, svc.Create(ctx, profile))
	assert.False(t, profile.ID.IsZero())

	assert.ErrorIs(t, svc.Create(ctx, uaProfile("Living Room TV", "x", 0)), ErrDeviceProfileNameTaken)

	found, err := svc.GetByID(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, "Living Room TV", found.Name)

	other := uaProfile("Bedroom TV", "Tizen", 1)
	require.NoError(t, svc.Create(ctx, other))
	other.Name = "Living Room TV"
	assert.ErrorIs(t, svc.Update(ctx, other), ErrDeviceProfileNameTaken)

	found.Description = "updated"
	require.NoError(t, svc.Update(ctx, found))
	again, err := svc.GetByID(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", again.Description)

	require.NoError(t, svc.Delete(ctx, profile.ID))
	_, err = svc.GetByID(ctx, profile.ID)
	assert.ErrorIs(t, err, models.ErrDeviceProfileNotFound)

	missing := uaProfile("Missing", "x", 0)
	missing.ID = models.NewULID()
	assert.ErrorIs(t, svc.Update(ctx, missing), models.ErrDeviceProfileNotFound)
}

func TestDeviceProfileService_GetProfile(t *testing.T) {
	svc := newTestDeviceProfileService(t)
	ctx := context.Background()

	profile := uaProfile("TV", "SmartTV", 0)
	require.NoError(t, svc.Create(ctx, profile))

	got, err := svc.GetProfile(ctx, profile.ID.String())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, profile.ID.String(), got.ID)
	assert.Equal(t, "TV", got.Name)

	got, err = svc.GetProfile(ctx, "not-a-ulid")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = svc.GetProfile(ctx, models.NewULID().String())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeviceProfileService_MatchProfileByPriority(t *testing.T) {
	svc := newTestDeviceProfileService(t)
	ctx := context.Background()

	require.NoError(t, svc.Create(ctx, uaProfile("Generic", "Mozilla", 1)))
	require.NoError(t, svc.Create(ctx, uaProfile("Tizen", "Tizen", 10)))

	got, err := svc.MatchProfile(ctx, map[string]string{"user-agent": "Mozilla/5.0 (SMART-TV; Tizen 6.0)"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Tizen", got.Name)

	got, err = svc.MatchProfile(ctx, map[string]string{"User-Agent": "Mozilla/5.0 (X11; Linux)"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Generic", got.Name)

	got, err = svc.MatchProfile(ctx, map[string]string{"User-Agent": "curl/8.0"})
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = svc.MatchProfile(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeviceProfileService_Capabilities(t *testing.T) {
	svc := newTestDeviceProfileService(t)
	ctx := context.Background()

	stored := uaProfile("TV", "SmartTV", 0)
	require.NoError(t, svc.Create(ctx, stored))

	_, ok, err := svc.GetCapabilities(ctx, "dev-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.SetCapabilities(ctx, &models.DeviceCapabilities{DeviceID: "dev-1", ProfileID: &stored.ID}))
	got, ok, err := svc.GetCapabilities(ctx, "dev-1")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, got)
	assert.Equal(t, "TV", got.Name)

	inline := &encoding.DeviceProfile{Name: "Reported"}
	require.NoError(t, svc.SetCapabilities(ctx, &models.DeviceCapabilities{DeviceID: "dev-2", Profile: inline}))
	got, ok, err = svc.GetCapabilities(ctx, "dev-2")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, got)
	assert.Equal(t, "Reported", got.Name)

	missing := models.NewULID()
	err = svc.SetCapabilities(ctx, &models.DeviceCapabilities{DeviceID: "dev-3", ProfileID: &missing})
	assert.ErrorIs(t, err, models.ErrDeviceProfileNotFound)

	require.NoError(t, svc.ClearCapabilities(ctx, "dev-2"))
	_, ok, err = svc.GetCapabilities(ctx, "dev-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeviceProfileService_ResolveOrder(t *testing.T) {
	svc := newTestDeviceProfileService(t)
	ctx := context.Background()

	explicit := uaProfile("Explicit", "never", 0)
	registered := uaProfile("Registered", "never", 0)
	matched := uaProfile("Matched", "SmartTV", 0)
	for _, p := range []*models.DeviceProfile{explicit, registered, matched} {
		require.NoError(t, svc.Create(ctx, p))
	}
	require.NoError(t, svc.SetCapabilities(ctx, &models.DeviceCapabilities{DeviceID: "dev-1", ProfileID: &registered.ID}))
	headers := map[string]string{"User-Agent": "SmartTV"}

	got, err := encoding.ResolveDeviceProfile(ctx, svc, &encoding.Request{DeviceID: "dev-1", DeviceProfileID: explicit.ID.String()}, headers)
	require.NoError(t, err)
	assert.Equal(t, "Explicit", got.Name)

	got, err = encoding.ResolveDeviceProfile(ctx, svc, &encoding.Request{DeviceID: "dev-1"}, headers)
	require.NoError(t, err)
	assert.Equal(t, "Registered", got.Name)

	got, err = encoding.ResolveDeviceProfile(ctx, svc, &encoding.Request{DeviceID: "dev-2"}, headers)
	require.NoError(t, err)
	assert.Equal(t, "Matched", got.Name)

	got, err = encoding.ResolveDeviceProfile(ctx, svc, &encoding.Request{}, headers)
	require.NoError(t, err)
	assert.Nil(t, got)
}
