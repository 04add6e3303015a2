// Package config loads and validates backup.toml (or an equivalent
// YAML/JSON file — viper is format-agnostic) into a BackupConfig, the
// structure every pipeline stage and the CLI commands are constructed
// from.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (BACKUP_*) (highest priority)
//  2. Configuration file (TOML, YAML, or JSON)
//  3. Default values from ApplyDefaults (lowest priority)
//
// No command-line flag overrides a configuration value; --config only
// selects which file is read.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	interr "github.com/ottervault/backup/internal/errors"
)

var validate = validator.New()

// StoreConfig identifies one remote destination: a Swift container pair
// (data and metadata), the key prefixes used within them, and the cloud
// profile credentials to reach them.
type StoreConfig struct {
	ID                  int    `mapstructure:"id" validate:"required,gte=1"`
	DataContainer       string `mapstructure:"data_container" validate:"required"`
	MetadataContainer   string `mapstructure:"metadata_container" validate:"required"`
	DataPrefix          string `mapstructure:"data_prefix"`
	MetadataPrefix      string `mapstructure:"metadata_prefix"`
	DataCloudConfig     string `mapstructure:"data_cloud_config"`
	MetadataCloudConfig string `mapstructure:"metadata_cloud_config"`
}

// LoggingConfig controls internal/logger's output, mirroring the teacher's
// LoggingConfig shape.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig controls internal/telemetry's tracer provider.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// MetricsConfig controls the pipelines' Prometheus counters. Enabled
// registers them on the default registerer; no command serves them over
// HTTP, and Addr is given a default but is not read anywhere.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// BackupConfig is the top-level configuration for every subcommand.
type BackupConfig struct {
	Source             string        `mapstructure:"source" validate:"required"`
	DataCache          string        `mapstructure:"data_cache" validate:"required"`
	MetadataCache      string        `mapstructure:"metadata_cache" validate:"required"`
	HMACSecret         string        `mapstructure:"hmac_secret" validate:"required"`
	EncryptingKeyFile  string        `mapstructure:"encrypting_key_file" validate:"required"`
	SigningKeyFile     string        `mapstructure:"signing_key_file"`
	Stores             []StoreConfig `mapstructure:"stores" validate:"required,min=1,dive"`

	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ApplyDefaults fills in ambient-stack fields left unset in the config
// file; domain fields (source, stores, keys) have no sensible default and
// are caught by Validate instead.
func (c *BackupConfig) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 1.0
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = "127.0.0.1:9090"
	}
}

// Validate checks that every field required by the pipelines is present,
// via struct tags, then checks the cross-field invariants tags can't
// express (unique store IDs).
func (c *BackupConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return interr.Config("", fmt.Errorf("invalid config: %w", err))
	}
	seen := make(map[int]bool, len(c.Stores))
	for _, s := range c.Stores {
		if seen[s.ID] {
			return interr.Config("", fmt.Errorf("duplicate store id %d", s.ID))
		}
		seen[s.ID] = true
	}
	return nil
}

// StoreIDs returns the IDs of every configured store, in configuration order.
func (c *BackupConfig) StoreIDs() []int {
	ids := make([]int, len(c.Stores))
	for i, s := range c.Stores {
		ids[i] = s.ID
	}
	return ids
}

// Load reads path (TOML by default; viper infers from extension when one
// is present) into a validated BackupConfig, applying BACKUP_* environment
// variable overrides.
func Load(path string) (*BackupConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if !strings.ContainsRune(path, '.') {
		v.SetConfigType("toml")
	}

	v.SetEnvPrefix("BACKUP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, interr.Config(path, fmt.Errorf("reading config: %w", err))
	}

	var cfg BackupConfig
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, interr.Config(path, fmt.Errorf("decoding config: %w", err))
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
