package storage

import (
	"testing"
	"time"

	"github.com/fde-io/fde/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeployResultRoundTrip(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	// Unknown environment yields nil, not an error.
	got, err := store.GetDeployResult("production")
	require.NoError(t, err)
	assert.Nil(t, got)

	start := time.Now().UTC().Truncate(time.Millisecond)
	result := &types.DeployResult{
		Success:   false,
		StartTime: start,
		EndTime:   start.Add(3 * time.Second),
		ExitCode:  2,
	}
	require.NoError(t, store.PutDeployResult("production", result))

	got, err = store.GetDeployResult("production")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.Success)
	assert.Equal(t, 2, got.ExitCode)
	assert.True(t, got.EndTime.Equal(result.EndTime))

	// Environments are independent keys.
	other, err := store.GetDeployResult("staging")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestPutOverwritesPreviousResult(t *testing.T) {
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	now := time.Now().UTC()
	require.NoError(t, store.PutDeployResult("production", &types.DeployResult{Success: false, ExitCode: 1, EndTime: now}))
	require.NoError(t, store.PutDeployResult("production", &types.DeployResult{Success: true, ExitCode: 0, EndTime: now.Add(time.Minute)}))

	got, err := store.GetDeployResult("production")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Success)
}
