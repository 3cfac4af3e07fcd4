package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validMount() *Configuration {
	cfg := NewDefault()
	cfg.Trackers = []string{"tracker1:7001", "tracker2:7001"}
	cfg.Domain = "testdomain"
	cfg.Mountpoint = "/mnt/objectfs"
	return cfg
}

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.LogLevel != "NOTICE" {
		t.Errorf("Expected LogLevel to be NOTICE, got %s", cfg.LogLevel)
	}
	if !cfg.Buffered {
		t.Error("Expected Buffered to default true")
	}
	if cfg.Checksums {
		t.Error("Expected Checksums to default false")
	}
	if cfg.Readonly {
		t.Error("Expected Readonly to default false")
	}
	if !cfg.FilePaths.Dircache {
		t.Error("Expected FilePaths.Dircache to default true")
	}
	if cfg.FilePaths.DircacheDuration != 2*time.Second {
		t.Errorf("Expected dircache duration 2s, got %v", cfg.FilePaths.DircacheDuration)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("Expected retry.max_attempts 5, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Transport.MaxIdlePerHost != 8 {
		t.Errorf("Expected transport.max_idle_per_host 8, got %d", cfg.Transport.MaxIdlePerHost)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  func() *Configuration
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			config: validMount,
		},
		{
			name: "missing trackers",
			config: func() *Configuration {
				cfg := validMount()
				cfg.Trackers = nil
				return cfg
			},
			wantErr: true,
			errMsg:  "trackers is required",
		},
		{
			name: "missing domain",
			config: func() *Configuration {
				cfg := validMount()
				cfg.Domain = ""
				return cfg
			},
			wantErr: true,
			errMsg:  "domain is required",
		},
		{
			name: "missing mountpoint",
			config: func() *Configuration {
				cfg := validMount()
				cfg.Mountpoint = ""
				return cfg
			},
			wantErr: true,
			errMsg:  "mountpoint is required",
		},
		{
			name: "invalid loglevel",
			config: func() *Configuration {
				cfg := validMount()
				cfg.LogLevel = "VERBOSE"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid loglevel",
		},
		{
			name: "negative dircache duration",
			config: func() *Configuration {
				cfg := validMount()
				cfg.FilePaths.DircacheDuration = -1 * time.Second
				return cfg
			},
			wantErr: true,
			errMsg:  "must not be negative",
		},
		{
			name: "zero retry attempts",
			config: func() *Configuration {
				cfg := validMount()
				cfg.Retry.MaxAttempts = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "retry.max_attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config().Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && tt.errMsg != "" && !contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want error containing %v", err, tt.errMsg)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
trackers:
  - tracker1:7001
  - tracker2:7001
domain: mydomain
class: replicated
mountpoint: /mnt/objectfs
readonly: true
loglevel: DEBUG
`

	if err := os.WriteFile(configFile, []byte(configContent), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if len(cfg.Trackers) != 2 || cfg.Trackers[0] != "tracker1:7001" {
		t.Errorf("Expected 2 trackers, got %v", cfg.Trackers)
	}
	if cfg.Domain != "mydomain" {
		t.Errorf("Expected domain mydomain, got %s", cfg.Domain)
	}
	if cfg.Class != "replicated" {
		t.Errorf("Expected class replicated, got %s", cfg.Class)
	}
	if !cfg.Readonly {
		t.Error("Expected readonly true")
	}
	if cfg.LogLevel != "DEBUG" {
		t.Errorf("Expected loglevel DEBUG, got %s", cfg.LogLevel)
	}
}

func TestLoadFromFileNonExistent(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error when loading non-existent config file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OBJECTFS_TRACKERS", "a:7001,b:7001")
	t.Setenv("OBJECTFS_DOMAIN", "envdomain")
	t.Setenv("OBJECTFS_MOUNTPOINT", "/mnt/env")
	t.Setenv("OBJECTFS_READONLY", "true")
	t.Setenv("OBJECTFS_BUFFERED", "false")
	t.Setenv("OBJECTFS_CHECKSUMS", "true")
	t.Setenv("OBJECTFS_LOGLEVEL", "DEBUG_FUSE")
	t.Setenv("OBJECTFS_DIRCACHE_DURATION", "10")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if len(cfg.Trackers) != 2 || cfg.Trackers[1] != "b:7001" {
		t.Errorf("Expected trackers [a:7001 b:7001], got %v", cfg.Trackers)
	}
	if cfg.Domain != "envdomain" {
		t.Errorf("Expected domain envdomain, got %s", cfg.Domain)
	}
	if cfg.Mountpoint != "/mnt/env" {
		t.Errorf("Expected mountpoint /mnt/env, got %s", cfg.Mountpoint)
	}
	if !cfg.Readonly {
		t.Error("Expected readonly true")
	}
	if cfg.Buffered {
		t.Error("Expected buffered false")
	}
	if !cfg.Checksums {
		t.Error("Expected checksums true")
	}
	if cfg.LogLevel != "DEBUG_FUSE" {
		t.Errorf("Expected loglevel DEBUG_FUSE, got %s", cfg.LogLevel)
	}
	if cfg.FilePaths.DircacheDuration != 10*time.Second {
		t.Errorf("Expected dircache duration 10s, got %v", cfg.FilePaths.DircacheDuration)
	}
}

func TestSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "saved_config.yaml")

	cfg := validMount()
	cfg.LogLevel = "DEBUG"

	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}

	newCfg := NewDefault()
	if err := newCfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	if newCfg.LogLevel != "DEBUG" {
		t.Errorf("Expected LogLevel DEBUG, got %s", newCfg.LogLevel)
	}
	if newCfg.Domain != cfg.Domain {
		t.Errorf("Expected domain %s, got %s", cfg.Domain, newCfg.Domain)
	}
}

func TestSaveToFileCreateDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := validMount()
	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}
	if _, err := os.Stat(filepath.Dir(configFile)); os.IsNotExist(err) {
		t.Error("Config directory was not created")
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
