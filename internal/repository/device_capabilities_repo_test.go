package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/models"
)

func TestDeviceCapabilitiesRepo_UpsertReplaces(t *testing.T) {
	repo := NewDeviceCapabilitiesRepository(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, &models.DeviceCapabilities{
		DeviceID:   "dev-1",
		DeviceName: "Phone",
		Profile:    &encoding.DeviceProfile{Name: "first"},
	}))
	require.NoError(t, repo.Upsert(ctx, &models.DeviceCapabilities{
		DeviceID:   "dev-1",
		DeviceName: "Phone",
		Profile:    &encoding.DeviceProfile{Name: "second"},
	}))

	caps, err := repo.GetByDeviceID(ctx, "dev-1")
	require.NoError(t, err)
	require.NotNil(t, caps)
	require.NotNil(t, caps.Profile)
	assert.Equal(t, "second", caps.Profile.Name)

	require.NoError(t, repo.Delete(ctx, "dev-1"))
	caps, err = repo.GetByDeviceID(ctx, "dev-1")
	require.NoError(t, err)
	assert.Nil(t, caps)
}

func TestDeviceCapabilitiesRepo_Validation(t *testing.T) {
	repo := NewDeviceCapabilitiesRepository(setupTestDB(t))
	err := repo.Upsert(context.Background(), &models.DeviceCapabilities{})
	assert.ErrorIs(t, err, models.ErrDeviceIDRequired)
}
