// Package config loads the application configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/dbglass/dbglass/internal/errs"
	"github.com/dbglass/dbglass/internal/logger"
	snapminio "github.com/dbglass/dbglass/internal/snapshot/minio"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SnapshotConfig selects and configures the snapshot persistence backend.
type SnapshotConfig struct {
	// Backend is "local", "minio", or "none".
	Backend string          `yaml:"backend"`
	Dir     string          `yaml:"dir"` // local backend root
	Minio   snapminio.Config `yaml:"minio"`
}

// RemoteDefaults are pool settings applied to remote connections that do
// not specify their own.
type RemoteDefaults struct {
	MaxConns        int32    `yaml:"maxConns"`
	MinConns        int32    `yaml:"minConns"`
	ConnectTimeout  Duration `yaml:"connectTimeout"`
	MaxConnLifetime Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime Duration `yaml:"maxConnIdleTime"`
}

// Config is the full application configuration.
type Config struct {
	Listen   string         `yaml:"listen"`
	Log      logger.Config  `yaml:"log"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Remote   RemoteDefaults `yaml:"remote"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Listen: ":8460",
		Log: logger.Config{
			Level:  "info",
			Format: "json",
		},
		Snapshot: SnapshotConfig{
			Backend: "local",
			Dir:     "snapshots",
		},
		Remote: RemoteDefaults{
			MaxConns:       10,
			MinConns:       2,
			ConnectTimeout: Duration(10 * time.Second),
		},
	}
}

// Load reads a YAML config file, layered over Default.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Newf(errs.ErrKindNotFound, "config file %q does not exist", path)
		}
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to read config file", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to parse config file", err)
	}
	return cfg, nil
}
