package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/models"
)

func TestDeviceProfileRepo_CRUD(t *testing.T) {
	repo := NewDeviceProfileRepository(setupTestDB(t))
	ctx := context.Background()

	profile := tvProfile("SmartTV", 5)
	require.NoError(t, repo.Create(ctx, profile))
	assert.False(t, profile.ID.IsZero())

	found, err := repo.GetByID(ctx, profile.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "SmartTV", found.Name)
	require.Len(t, found.TranscodingProfiles, 1)
	assert.Equal(t, "h264", found.TranscodingProfiles[0].VideoCodec)

	found.TranscodingProfiles[0].EstimateContentLength = true
	require.NoError(t, repo.Update(ctx, found))

	byName, err := repo.GetByName(ctx, "SmartTV")
	require.NoError(t, err)
	assert.True(t, byName.TranscodingProfiles[0].EstimateContentLength)

	require.NoError(t, repo.Delete(ctx, profile.ID))
	gone, err := repo.GetByID(ctx, profile.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	assert.ErrorIs(t, repo.Delete(ctx, profile.ID), models.ErrDeviceProfileNotFound)
}

func TestDeviceProfileRepo_Validation(t *testing.T) {
	repo := NewDeviceProfileRepository(setupTestDB(t))

	err := repo.Create(context.Background(), &models.DeviceProfile{})
	assert.ErrorIs(t, err, models.ErrNameRequired)
}

func TestDeviceProfileRepo_GetAllOrdersByPriority(t *testing.T) {
	repo := NewDeviceProfileRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, tvProfile("Beta", 1)))
	require.NoError(t, repo.Create(ctx, tvProfile("Alpha", 1)))
	require.NoError(t, repo.Create(ctx, tvProfile("Zulu", 9)))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	names := make([]string, 0, len(all))
	for _, p := range all {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"Zulu", "Alpha", "Beta"}, names)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestDeviceProfileRepo_DeleteRemovesReferencingCapabilities(t *testing.T) {
	db := setupTestDB(t)
	profiles := NewDeviceProfileRepository(db)
	caps := NewDeviceCapabilitiesRepository(db)
	ctx := context.Background()

	profile := tvProfile("SmartTV", 0)
	require.NoError(t, profiles.Create(ctx, profile))
	require.NoError(t, caps.Upsert(ctx, &models.DeviceCapabilities{DeviceID: "dev-1", ProfileID: &profile.ID}))
	require.NoError(t, caps.Upsert(ctx, &models.DeviceCapabilities{
		DeviceID: "dev-2",
		Profile:  &encoding.DeviceProfile{Name: "inline"},
	}))

	require.NoError(t, profiles.Delete(ctx, profile.ID))

	c, err := caps.GetByDeviceID(ctx, "dev-1")
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = caps.GetByDeviceID(ctx, "dev-2")
	require.NoError(t, err)
	assert.NotNil(t, c)
}
