package cliconfig

import (
	"testing"
	"time"
)

func TestApplyEnvConfig(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		changed  map[string]bool
		initial  Config
		expected Config
		wantErr  bool
	}{
		{
			name: "applies all valid env vars",
			envVars: map[string]string{
				"FRAGSTORE_BACKEND":          "disk",
				"FRAGSTORE_DATA_DIR":         "/env/data",
				"FRAGSTORE_RETRY_MAX":        "0",
				"FRAGSTORE_RETRY_DELAY":      "10m",
				"FRAGSTORE_READ_PARALLELISM": "3",
				"FRAGSTORE_METRICS_ADDR":     ":9100",
				"FRAGSTORE_S3_PREFIX":        "atoms/",
			},
			changed: map[string]bool{},
			initial: Config{RetryMax: 5},
			expected: Config{
				Backend:         "disk",
				DataDir:         "/env/data",
				RetryMax:        0,
				RetryDelay:      10 * time.Minute,
				ReadParallelism: 3,
				MetricsAddr:     ":9100",
				S3Prefix:        "atoms/",
			},
		},
		{
			name: "respects changed flags",
			envVars: map[string]string{
				"FRAGSTORE_BACKEND":  "bolt",
				"FRAGSTORE_DATA_DIR": "/env/data",
			},
			changed:  map[string]bool{"backend": true},
			initial:  Config{Backend: "memory"},
			expected: Config{Backend: "memory", DataDir: "/env/data"},
		},
		{
			name: "ignores negative ints",
			envVars: map[string]string{
				"FRAGSTORE_CONCURRENCY": "-2",
			},
			changed:  map[string]bool{},
			initial:  Config{Concurrency: 4},
			expected: Config{Concurrency: 4},
		},
		{
			name: "returns error for invalid duration",
			envVars: map[string]string{
				"FRAGSTORE_RETRY_MAX_DELAY": "not-a-duration",
			},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name: "returns error for invalid int",
			envVars: map[string]string{
				"FRAGSTORE_MAX_CHUNK_SIZE": "not-a-number",
			},
			changed: map[string]bool{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := tt.initial
			err := ApplyEnvConfig(&cfg, tt.changed)

			if tt.wantErr && err == nil {
				t.Error("ApplyEnvConfig() expected error but got nil")
				return
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ApplyEnvConfig() unexpected error: %v", err)
				return
			}
			if !tt.wantErr && cfg != tt.expected {
				t.Errorf("ApplyEnvConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

// Integration test: precedence order (CLI > Env > File)
func TestConfigPrecedence(t *testing.T) {
	three := 3

	fileConf := FileConfig{
		Backend:  "disk",
		DataDir:  "/file/data",
		RetryMax: &three,
		LogLevel: "warn",
	}

	t.Setenv("FRAGSTORE_BACKEND", "sqlite")
	t.Setenv("FRAGSTORE_DATA_DIR", "/env/data")
	t.Setenv("FRAGSTORE_RETRY_DELAY", "50ms")

	// Simulate CLI flags
	changed := map[string]bool{
		"backend": true,
	}

	cfg := Config{
		Backend: "bolt", // This should remain (CLI wins)
	}

	if err := ApplyFileConfig(&cfg, fileConf, changed); err != nil {
		t.Fatalf("ApplyFileConfig failed: %v", err)
	}
	if err := ApplyEnvConfig(&cfg, changed); err != nil {
		t.Fatalf("ApplyEnvConfig failed: %v", err)
	}

	if cfg.Backend != "bolt" {
		t.Errorf("Backend = %v, want bolt (CLI should win)", cfg.Backend)
	}
	if cfg.DataDir != "/env/data" {
		t.Errorf("DataDir = %v, want /env/data (env should override file)", cfg.DataDir)
	}
	if cfg.RetryDelay != 50*time.Millisecond {
		t.Errorf("RetryDelay = %v, want 50ms (env should set)", cfg.RetryDelay)
	}
	if cfg.RetryMax != 3 || cfg.LogLevel != "warn" {
		t.Errorf("RetryMax = %v LogLevel = %v, want 3/warn (file should set)", cfg.RetryMax, cfg.LogLevel)
	}
}
