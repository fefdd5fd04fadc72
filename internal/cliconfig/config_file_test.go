package cliconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyFileConfig(t *testing.T) {
	zero := 0
	seven := 7

	tests := []struct {
		name       string
		fileConfig FileConfig
		changed    map[string]bool
		initial    Config
		expected   Config
		wantErr    bool
	}{
		{
			name: "applies all valid config values",
			fileConfig: FileConfig{
				Backend:         "bolt",
				DataDir:         "/var/lib/fragstore",
				MaxChunkSize:    4096,
				RetryMax:        &seven,
				RetryDelay:      "25ms",
				RetryMaxDelay:   "1s",
				ReadParallelism: 4,
				LogLevel:        "debug",
				S3:              FileS3Config{Bucket: "atoms", Region: "us-east-1"},
			},
			changed: map[string]bool{},
			initial: Config{},
			expected: Config{
				Backend:         "bolt",
				DataDir:         "/var/lib/fragstore",
				MaxChunkSize:    4096,
				RetryMax:        7,
				RetryDelay:      25 * time.Millisecond,
				RetryMaxDelay:   time.Second,
				ReadParallelism: 4,
				LogLevel:        "debug",
				S3Bucket:        "atoms",
				S3Region:        "us-east-1",
			},
		},
		{
			name: "respects changed flags",
			fileConfig: FileConfig{
				Backend: "disk",
				DataDir: "/config/data",
			},
			changed: map[string]bool{"backend": true},
			initial: Config{Backend: "sqlite"},
			expected: Config{
				Backend: "sqlite", // unchanged because flag was set
				DataDir: "/config/data",
			},
		},
		{
			name:       "explicit zero retries applies",
			fileConfig: FileConfig{RetryMax: &zero},
			changed:    map[string]bool{},
			initial:    Config{RetryMax: 5},
			expected:   Config{RetryMax: 0},
		},
		{
			name:       "absent retry max keeps current value",
			fileConfig: FileConfig{},
			changed:    map[string]bool{},
			initial:    Config{RetryMax: 5},
			expected:   Config{RetryMax: 5},
		},
		{
			name:       "returns error for invalid duration",
			fileConfig: FileConfig{RetryDelay: "soon"},
			changed:    map[string]bool{},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyFileConfig(&cfg, tt.fileConfig, tt.changed)

			if tt.wantErr && err == nil {
				t.Error("ApplyFileConfig() expected error but got nil")
				return
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ApplyFileConfig() unexpected error: %v", err)
				return
			}
			if !tt.wantErr && cfg != tt.expected {
				t.Errorf("ApplyFileConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.toml")

	tomlContent := `
backend = "sqlite"
data_dir = "/tmp/data"
retry_max = 0
retry_delay = "5ms"
read_parallelism = 8

[s3]
bucket = "atoms"
endpoint = "http://localhost:9000"
`

	if err := os.WriteFile(configPath, []byte(tomlContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	fc, err := LoadFileConfig(configPath)
	if err != nil {
		t.Fatalf("LoadFileConfig() error = %v", err)
	}

	if fc.Backend != "sqlite" {
		t.Errorf("Backend = %v, want sqlite", fc.Backend)
	}
	if fc.DataDir != "/tmp/data" {
		t.Errorf("DataDir = %v, want /tmp/data", fc.DataDir)
	}
	if fc.RetryMax == nil || *fc.RetryMax != 0 {
		t.Errorf("RetryMax = %v, want 0", fc.RetryMax)
	}
	if fc.RetryDelay != "5ms" {
		t.Errorf("RetryDelay = %v, want 5ms", fc.RetryDelay)
	}
	if fc.ReadParallelism != 8 {
		t.Errorf("ReadParallelism = %v, want 8", fc.ReadParallelism)
	}
	if fc.S3.Bucket != "atoms" || fc.S3.Endpoint != "http://localhost:9000" {
		t.Errorf("S3 = %+v", fc.S3)
	}
}

func TestLoadFileConfig_InvalidFile(t *testing.T) {
	_, err := LoadFileConfig("/nonexistent/path/config.toml")
	if err == nil {
		t.Error("LoadFileConfig() expected error for nonexistent file")
	}
}

func TestLoadFileConfig_InvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.toml")

	invalidContent := `
backend = "memory"
this is not valid toml
`

	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	_, err := LoadFileConfig(configPath)
	if err == nil {
		t.Error("LoadFileConfig() expected error for invalid TOML")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()

	if path != "" && !strings.Contains(path, ".fragstore") {
		t.Errorf("DefaultConfigPath() = %v, should contain .fragstore", path)
	}
}

func TestFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	existingFile := filepath.Join(tmpDir, "exists.txt")

	if err := os.WriteFile(existingFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	if !FileExists(existingFile) {
		t.Error("FileExists() = false, want true for existing file")
	}

	if FileExists(filepath.Join(tmpDir, "nonexistent.txt")) {
		t.Error("FileExists() = true, want false for nonexistent file")
	}
}

func TestResolve_RemovedFileSettingsRevert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	base := DefaultConfig()

	if err := os.WriteFile(path, []byte("retry_max = 9\nretry_delay = \"40ms\"\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Resolve(base, path, map[string]bool{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.RetryMax != 9 || cfg.RetryDelay != 40*time.Millisecond {
		t.Fatalf("resolved retry = (%d, %v), want (9, 40ms)", cfg.RetryMax, cfg.RetryDelay)
	}

	if err := os.WriteFile(path, []byte("log_level = \"debug\"\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err = Resolve(base, path, map[string]bool{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.RetryMax != base.RetryMax || cfg.RetryDelay != base.RetryDelay {
		t.Errorf("retry = (%d, %v) after removal, want defaults (%d, %v)",
			cfg.RetryMax, cfg.RetryDelay, base.RetryMax, base.RetryDelay)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if base.RetryMax != DefaultConfig().RetryMax {
		t.Error("Resolve modified its base")
	}
}

func TestResolve_MissingFile(t *testing.T) {
	cfg, err := Resolve(DefaultConfig(), filepath.Join(t.TempDir(), "absent.toml"), map[string]bool{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.Backend != "memory" {
		t.Errorf("Backend = %q, want memory", cfg.Backend)
	}
}
