package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Backend         string `toml:"backend"`
	DataDir         string `toml:"data_dir"`
	MaxChunkSize    int    `toml:"max_chunk_size"`
	RetryMax        *int   `toml:"retry_max"`
	RetryDelay      string `toml:"retry_delay"`
	RetryMaxDelay   string `toml:"retry_max_delay"`
	ReadParallelism int    `toml:"read_parallelism"`
	Concurrency     int    `toml:"concurrency"`
	LogLevel        string `toml:"log_level"`
	MetricsAddr     string `toml:"metrics_addr"`

	S3 FileS3Config `toml:"s3"`
}

// FileS3Config is the [s3] table.
type FileS3Config struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	Prefix          string `toml:"prefix"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.fragstore/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, DefaultDataDirName, "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("backend", fc.Backend, &cfg.Backend)
	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)

	s.setInt("max-chunk-size", fc.MaxChunkSize, &cfg.MaxChunkSize)
	s.setIntPtr("retry-max", fc.RetryMax, &cfg.RetryMax)
	s.setInt("read-parallelism", fc.ReadParallelism, &cfg.ReadParallelism)
	s.setInt("concurrency", fc.Concurrency, &cfg.Concurrency)

	if err := s.setDuration("retry-delay", fc.RetryDelay, &cfg.RetryDelay); err != nil {
		return err
	}
	if err := s.setDuration("retry-max-delay", fc.RetryMaxDelay, &cfg.RetryMaxDelay); err != nil {
		return err
	}

	s.setString("s3-bucket", fc.S3.Bucket, &cfg.S3Bucket)
	s.setString("s3-region", fc.S3.Region, &cfg.S3Region)
	s.setString("s3-endpoint", fc.S3.Endpoint, &cfg.S3Endpoint)
	s.setString("s3-prefix", fc.S3.Prefix, &cfg.S3Prefix)
	s.setString("s3-access-key-id", fc.S3.AccessKeyID, &cfg.S3AccessKeyID)
	s.setString("s3-secret-access-key", fc.S3.SecretAccessKey, &cfg.S3SecretAccessKey)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// Resolve layers the config file at path (when it exists) and then the
// FRAGSTORE_* environment onto a copy of base and validates the result.
// base is never modified, so resolving again after the file changed drops
// settings that were removed from it.
func Resolve(base Config, path string, changed map[string]bool) (Config, error) {
	cfg := base
	if path != "" && FileExists(path) {
		fc, err := LoadFileConfig(path)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		if err := ApplyFileConfig(&cfg, fc, changed); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnvConfig(&cfg, changed); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
