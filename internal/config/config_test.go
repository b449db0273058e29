package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crashvault/crashvault/pkg/bytesize"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadServerConfig(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
auth_token: secret
data_dir: /srv/crashvault
upload:
  max_size: 1GB
archive:
  max_concurrency: 16
catalog:
  addr: redis.internal:6379
  password: hunter2
  db: 3
blob:
  backend: s3
  endpoint: minio.internal:9000
  region: eu-west-1
  bucket: crashvault
  access_key: AK
  secret_key: SK
  use_ssl: true
  path_style: true
`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "secret", cfg.AuthToken)
	assert.Equal(t, "/srv/crashvault", cfg.DataDir)
	assert.Equal(t, bytesize.Size(bytesize.MustParse("1GB")), cfg.Upload.MaxSize)
	assert.Equal(t, 16, cfg.Archive.MaxConcurrency)
	assert.Equal(t, "redis.internal:6379", cfg.Catalog.Addr)
	assert.Equal(t, 3, cfg.Catalog.DB)
	assert.Equal(t, "crashvault", cfg.Blob.Bucket)
	assert.True(t, cfg.Blob.PathStyle)
}

func TestLoadServerConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
blob:
  backend: memory
`)

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "/var/lib/crashvault", cfg.DataDir)
	assert.Equal(t, "/var/lib/crashvault/client", cfg.ClientDir)
	assert.Equal(t, bytesize.Size(bytesize.MustParse("4GB")), cfg.Upload.MaxSize)
	assert.Equal(t, 8, cfg.Archive.MaxConcurrency)
	assert.Equal(t, "127.0.0.1:6379", cfg.Catalog.Addr)
	assert.Equal(t, "us-east-1", cfg.Blob.Region)
	assert.Empty(t, cfg.AuthToken, "auth is opt-in")
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	_, err := LoadServerConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *ServerConfig {
		cfg, err := LoadServerConfig(writeConfig(t, `
blob:
  backend: memory
`))
		require.NoError(t, err)
		return cfg
	}

	t.Run("s3 backend requires endpoint", func(t *testing.T) {
		cfg := base()
		cfg.Blob.Backend = "s3"
		cfg.Blob.Bucket = "b"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "blob.endpoint")
	})

	t.Run("s3 backend requires bucket", func(t *testing.T) {
		cfg := base()
		cfg.Blob.Backend = "s3"
		cfg.Blob.Endpoint = "minio:9000"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "blob.bucket")
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := base()
		cfg.Blob.Backend = "tape"
		require.Error(t, cfg.Validate())
	})

	t.Run("concurrency floor", func(t *testing.T) {
		cfg := base()
		cfg.Archive.MaxConcurrency = -1
		require.Error(t, cfg.Validate())
	})
}
