package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (FRAGSTORE_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("backend", os.Getenv("FRAGSTORE_BACKEND"), &cfg.Backend)
	s.setString("data-dir", os.Getenv("FRAGSTORE_DATA_DIR"), &cfg.DataDir)
	s.setString("log-level", os.Getenv("FRAGSTORE_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("metrics-addr", os.Getenv("FRAGSTORE_METRICS_ADDR"), &cfg.MetricsAddr)

	if err := s.setIntFromString("max-chunk-size", os.Getenv("FRAGSTORE_MAX_CHUNK_SIZE"), &cfg.MaxChunkSize); err != nil {
		return err
	}
	if err := s.setIntFromString("retry-max", os.Getenv("FRAGSTORE_RETRY_MAX"), &cfg.RetryMax); err != nil {
		return err
	}
	if err := s.setIntFromString("read-parallelism", os.Getenv("FRAGSTORE_READ_PARALLELISM"), &cfg.ReadParallelism); err != nil {
		return err
	}
	if err := s.setIntFromString("concurrency", os.Getenv("FRAGSTORE_CONCURRENCY"), &cfg.Concurrency); err != nil {
		return err
	}

	if err := s.setDuration("retry-delay", os.Getenv("FRAGSTORE_RETRY_DELAY"), &cfg.RetryDelay); err != nil {
		return err
	}
	if err := s.setDuration("retry-max-delay", os.Getenv("FRAGSTORE_RETRY_MAX_DELAY"), &cfg.RetryMaxDelay); err != nil {
		return err
	}

	s.setString("s3-bucket", os.Getenv("FRAGSTORE_S3_BUCKET"), &cfg.S3Bucket)
	s.setString("s3-region", os.Getenv("FRAGSTORE_S3_REGION"), &cfg.S3Region)
	s.setString("s3-endpoint", os.Getenv("FRAGSTORE_S3_ENDPOINT"), &cfg.S3Endpoint)
	s.setString("s3-prefix", os.Getenv("FRAGSTORE_S3_PREFIX"), &cfg.S3Prefix)
	s.setString("s3-access-key-id", os.Getenv("FRAGSTORE_S3_ACCESS_KEY_ID"), &cfg.S3AccessKeyID)
	s.setString("s3-secret-access-key", os.Getenv("FRAGSTORE_S3_SECRET_ACCESS_KEY"), &cfg.S3SecretAccessKey)

	return nil
}
