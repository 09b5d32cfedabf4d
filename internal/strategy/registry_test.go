package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRegistryBuildsEnabledStrategies(t *testing.T) {
	path := writeProfile(t, `
strategies:
  ma_cross:
    enabled: true
    params:
      short_window: 5
      long_window: 15
      position_size: 0.2
  momentum:
    enabled: false
    params:
      lookback: 10
`)
	r, err := NewRegistry(path)
	require.NoError(t, err)

	built := r.Strategies()
	require.Len(t, built, 1)
	ma, ok := built[0].(*MACross)
	require.True(t, ok)
	assert.Equal(t, 5, ma.Short)
	assert.Equal(t, 15, ma.Long)
	assert.InDelta(t, 0.2, ma.SizeFraction, 1e-9)

	_, ok = r.Strategy("momentum")
	assert.False(t, ok)
}

func TestRegistryRejectsShortNotBelowLong(t *testing.T) {
	path := writeProfile(t, `
strategies:
  ma_cross:
    enabled: true
    params:
      short_window: 20
      long_window: 10
`)
	_, err := NewRegistry(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "less than long window")
}

func TestRegistryRejectsUnknownStrategy(t *testing.T) {
	path := writeProfile(t, `
strategies:
  golden_goose:
    enabled: true
`)
	_, err := NewRegistry(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown strategy")
}

func TestRegistrySchemaValidation(t *testing.T) {
	path := writeProfile(t, `
strategies:
  mean_revert:
    enabled: true
    params:
      window: 20
      threshold: -1
    schema:
      type: object
      properties:
        threshold:
          type: number
          exclusiveMinimum: 0
`)
	_, err := NewRegistry(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected by schema")
}

func TestRegistryReloadKeepsStrategiesFresh(t *testing.T) {
	path := writeProfile(t, `
strategies:
  momentum:
    enabled: true
    params:
      lookback: 12
      threshold: 3.0
`)
	r, err := NewRegistry(path)
	require.NoError(t, err)
	require.Len(t, r.Strategies(), 1)

	require.NoError(t, os.WriteFile(path, []byte(`
strategies:
  momentum:
    enabled: true
    params:
      lookback: 12
      threshold: 3.0
  mean_revert:
    enabled: true
    params:
      window: 25
      threshold: 2.0
`), 0o644))
	require.NoError(t, r.Reload())
	assert.Len(t, r.Strategies(), 2)

	snap := r.Snapshot()
	assert.Equal(t, int64(2), snap.Version)
}
