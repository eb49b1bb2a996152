package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "USGS", cfg.Feed.Source)
	require.Contains(t, cfg.Feed.URL, "all_hour.geojson")
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.Equal(t, "postgres", cfg.API.Backend)
	require.False(t, cfg.DB.PostGISEnabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9090
feed:
  url: https://example.org/feed.geojson
  source: TEST
storage:
  root: /var/lib/quakepipe
api:
  backend: silver
db:
  postgis_enabled: true
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "TEST", cfg.Feed.Source)
	require.Equal(t, "/var/lib/quakepipe", cfg.Storage.Root)
	require.Equal(t, "silver", cfg.API.Backend)
	require.True(t, cfg.DB.PostGISEnabled)
}

func TestValidateRejectsBadBackend(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.API.Backend = "oracle"
	require.ErrorContains(t, cfg.Validate(), "api.backend")
}

func TestValidateRequiresAPIKeyWhenAuthEnabled(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.API.AuthEnabled = true
	require.ErrorContains(t, cfg.Validate(), "api.api_key")
}

func TestValidateRequiresFeedURL(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Feed.URL = ""
	require.ErrorContains(t, cfg.Validate(), "feed.url")
}
