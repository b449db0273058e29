// Package config handles configuration loading and validation for crashvault.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/crashvault/crashvault/pkg/bytesize"
)

// UploadConfig bounds the upload intake path.
type UploadConfig struct {
	MaxSize bytesize.Size `yaml:"max_size"` // Per-upload byte cap (default: 4GiB)
}

// ArchiveConfig tunes incident archive assembly.
type ArchiveConfig struct {
	MaxConcurrency int `yaml:"max_concurrency"` // Parallel blob fetches per archive (default: 8)
}

// CatalogConfig points at the Redis instance holding the record catalog.
type CatalogConfig struct {
	Addr     string `yaml:"addr"` // host:port (default: 127.0.0.1:6379)
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BlobConfig selects and configures the artifact object store.
type BlobConfig struct {
	Backend string `yaml:"backend"` // "s3" or "memory" (default: s3)

	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
	PathStyle bool   `yaml:"path_style"` // Path-style bucket addressing, for MinIO and friends
}

// ServerConfig holds configuration for the crashvault server.
type ServerConfig struct {
	Listen    string `yaml:"listen"`
	AuthToken string `yaml:"auth_token"` // Bearer token for the API (empty disables auth)
	DataDir   string `yaml:"data_dir"`   // Staging directory root (default: /var/lib/crashvault)
	ClientDir string `yaml:"client_dir"` // Client tool files served at /api/v1/client (default: <data_dir>/client)

	Upload  UploadConfig  `yaml:"upload"`
	Archive ArchiveConfig `yaml:"archive"`
	Catalog CatalogConfig `yaml:"catalog"`
	Blob    BlobConfig    `yaml:"blob"`
}

// LoadServerConfig loads server configuration from a YAML file.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &ServerConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// Apply defaults
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "/var/lib/crashvault"
	}
	// Expand home directory in data dir
	if strings.HasPrefix(cfg.DataDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			cfg.DataDir = filepath.Join(homeDir, cfg.DataDir[2:])
		}
	}
	if cfg.ClientDir == "" {
		cfg.ClientDir = filepath.Join(cfg.DataDir, "client")
	}
	if cfg.Upload.MaxSize == 0 {
		cfg.Upload.MaxSize = bytesize.Size(bytesize.MustParse("4GB"))
	}
	if cfg.Archive.MaxConcurrency == 0 {
		cfg.Archive.MaxConcurrency = 8
	}
	if cfg.Catalog.Addr == "" {
		cfg.Catalog.Addr = "127.0.0.1:6379"
	}
	if cfg.Blob.Backend == "" {
		cfg.Blob.Backend = "s3"
	}
	if cfg.Blob.Region == "" {
		cfg.Blob.Region = "us-east-1"
	}

	return cfg, nil
}

// Validate checks if the server configuration is valid.
func (c *ServerConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Upload.MaxSize < 0 {
		return fmt.Errorf("upload.max_size must not be negative")
	}
	if c.Archive.MaxConcurrency < 1 {
		return fmt.Errorf("archive.max_concurrency must be at least 1")
	}
	if c.Catalog.Addr == "" {
		return fmt.Errorf("catalog.addr is required")
	}
	switch c.Blob.Backend {
	case "s3":
		if c.Blob.Endpoint == "" {
			return fmt.Errorf("blob.endpoint is required for the s3 backend")
		}
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket is required for the s3 backend")
		}
	case "memory":
		// No settings; holds blobs in process, for development only.
	default:
		return fmt.Errorf("unknown blob.backend %q (want s3 or memory)", c.Blob.Backend)
	}
	return nil
}
