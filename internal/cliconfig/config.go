package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bft-labs/fragstore/internal/app"
	"github.com/bft-labs/fragstore/internal/backend"
)

// DefaultDataDirName is the data directory used under $HOME when none is set.
const DefaultDataDirName = ".fragstore"

// Config holds CLI configuration for fragstore.
type Config struct {
	Backend string
	DataDir string

	// MaxChunkSize overrides the backend fragment limit. Zero keeps the default.
	MaxChunkSize int

	RetryMax      int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration

	ReadParallelism int
	Concurrency     int

	LogLevel    string
	MetricsAddr string

	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3Prefix          string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	retry := app.DefaultRetryPolicy()
	return Config{
		Backend:           string(backend.KindMemory),
		RetryMax:          retry.MaxRetries,
		RetryDelay:        retry.Delay,
		RetryMaxDelay:     retry.MaxDelay,
		ReadParallelism:   1,
		LogLevel:          "info",
		S3SecretAccessKey: os.Getenv("FRAGSTORE_S3_SECRET_ACCESS_KEY"),
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	kind, err := backend.ParseKind(c.Backend)
	if err != nil {
		return err
	}
	c.Backend = string(kind)

	if kind != backend.KindMemory && kind != backend.KindS3 && c.DataDir == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("data-dir is required for the %s backend", kind)
		}
		c.DataDir = filepath.Join(h, DefaultDataDirName, "data")
	}
	if kind == backend.KindS3 && (c.S3Bucket == "" || c.S3Region == "") {
		return fmt.Errorf("s3-bucket and s3-region are required for the s3 backend")
	}

	if c.MaxChunkSize < 0 {
		return fmt.Errorf("max chunk size must not be negative")
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("retry max must not be negative")
	}
	if c.RetryDelay < 0 || c.RetryMaxDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if c.ReadParallelism <= 0 {
		c.ReadParallelism = 1
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}
	return nil
}

// RetryPolicy returns the retry settings as a policy.
func (c Config) RetryPolicy() app.RetryPolicy {
	return app.RetryPolicy{
		MaxRetries: c.RetryMax,
		Delay:      c.RetryDelay,
		MaxDelay:   c.RetryMaxDelay,
	}
}

// StoreConfig returns the store settings.
func (c Config) StoreConfig() app.StoreConfig {
	return app.StoreConfig{
		Retry:           c.RetryPolicy(),
		MaxChunkSize:    c.MaxChunkSize,
		ReadParallelism: c.ReadParallelism,
	}
}

// BackendConfig returns the backend selection. MaxChunkSize is left to the
// store so an oversized override is rejected there rather than silently
// raising the backend limit.
func (c Config) BackendConfig() backend.Config {
	return backend.Config{
		Kind:        backend.Kind(c.Backend),
		Dir:         c.DataDir,
		Concurrency: c.Concurrency,
		S3: backend.S3Config{
			Bucket:          c.S3Bucket,
			Region:          c.S3Region,
			Endpoint:        c.S3Endpoint,
			Prefix:          c.S3Prefix,
			AccessKeyID:     c.S3AccessKeyID,
			SecretAccessKey: c.S3SecretAccessKey,
		},
	}
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if len(c.S3SecretAccessKey) > 0 {
		c.S3SecretAccessKey = "*****"
	}
	return c
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setIntPtr sets an int value from a pointer, so an explicit zero applies.
func (s *configSetter) setIntPtr(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings. Zero is accepted.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i < 0 {
		return nil
	}
	*dst = i
	return nil
}
