package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
source = "/srv/data"
data_cache = "/var/cache/backup/data.db"
metadata_cache = "/var/cache/backup/metadata.db"
hmac_secret = "sekret"
encrypting_key_file = "/etc/backup/pub.asc"

[[stores]]
id = 1
data_container = "backup-data"
metadata_container = "backup-meta"
data_prefix = "data/"
metadata_prefix = "meta/"
data_cloud_config = "primary"
metadata_cloud_config = "primary"
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backup.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, sampleTOML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/data", cfg.Source)
	assert.Equal(t, "sekret", cfg.HMACSecret)
	require.Len(t, cfg.Stores, 1)
	assert.Equal(t, 1, cfg.Stores[0].ID)
	assert.Equal(t, "backup-data", cfg.Stores[0].DataContainer)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRate)
	assert.Equal(t, "127.0.0.1:9090", cfg.Metrics.Addr)
}

func TestLoadRejectsMissingStores(t *testing.T) {
	path := writeTempConfig(t, `
source = "/srv/data"
data_cache = "/var/cache/backup/data.db"
metadata_cache = "/var/cache/backup/metadata.db"
hmac_secret = "sekret"
encrypting_key_file = "/etc/backup/pub.asc"
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsDuplicateStoreIDs(t *testing.T) {
	path := writeTempConfig(t, sampleTOML+`
[[stores]]
id = 1
data_container = "other-data"
metadata_container = "other-meta"
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestStoreIDs(t *testing.T) {
	path := writeTempConfig(t, sampleTOML)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, cfg.StoreIDs())
}
