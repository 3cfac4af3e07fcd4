package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration is the complete configuration for one mount, plus the
// ambient transport/retry/circuit-breaker/metrics tuning this module layers
// on top of the enumerated mount fields.
type Configuration struct {
	// Trackers is the list of "host:port" tracker addresses.
	Trackers []string `yaml:"trackers"`
	// Domain is the MogileFS domain this mount serves.
	Domain string `yaml:"domain"`
	// Class is the storage class new files are created with. Empty means
	// the tracker's server-side default class.
	Class string `yaml:"class"`
	// Mountpoint is the local path the filesystem is mounted at.
	Mountpoint string `yaml:"mountpoint"`
	// MountOpts is a raw FUSE mount-option string, or empty for none.
	MountOpts string `yaml:"mountopts"`
	// Threaded enables the multi-threaded FUSE dispatcher. Defaults to
	// whether the host supports the go-fuse threading primitives.
	Threaded bool `yaml:"threaded"`
	// Readonly makes every mutating callback return -EACCES without
	// calling the tracker.
	Readonly bool `yaml:"readonly"`
	// Buffered enables the write-coalescing buffer mixin.
	Buffered bool `yaml:"buffered"`
	// Checksums enables the streaming checksum mixin on writes.
	Checksums bool `yaml:"checksums"`
	// LogLevel is one of OFF/NOTICE/ERROR/DEBUG/DEBUG_BACKEND/DEBUG_FUSE.
	LogLevel string `yaml:"loglevel"`
	// LogFile is the destination for log output; empty means stderr.
	LogFile string `yaml:"logfile"`

	FilePaths FilePathsConfig `yaml:"filepaths"`
	Transport TransportConfig `yaml:"transport"`
	Retry     RetryConfig     `yaml:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// FilePathsConfig holds the directory-cache knobs named under
// "filepaths.dircache" / "filepaths.dircache.duration".
type FilePathsConfig struct {
	Dircache         bool          `yaml:"dircache"`
	DircacheDuration time.Duration `yaml:"dircache_duration"`
}

// TransportConfig tunes the storage-node HTTP client and connection pool.
type TransportConfig struct {
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	MaxIdlePerHost  int           `yaml:"max_idle_per_host"`
}

// RetryConfig tunes the retry-with-backoff wrapper shared by the tracker
// client and the HTTP transport.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// CircuitConfig tunes the per-origin circuit breakers.
type CircuitConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// MetricsConfig controls the optional admin/metrics HTTP listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// NewDefault returns a configuration with every field set explicitly,
// plus reasonable ambient transport/retry/circuit tuning.
func NewDefault() *Configuration {
	return &Configuration{
		Trackers:   nil,
		Domain:     "",
		Class:      "",
		Mountpoint: "",
		MountOpts:  "",
		Threaded:   true,
		Readonly:   false,
		Buffered:   true,
		Checksums:  false,
		LogLevel:   "NOTICE",
		LogFile:    "",
		FilePaths: FilePathsConfig{
			Dircache:         true,
			DircacheDuration: 2 * time.Second,
		},
		Transport: TransportConfig{
			RequestTimeout: 5 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxIdlePerHost: 8,
		},
		Retry: RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     30 * time.Second,
		},
		Circuit: CircuitConfig{
			Enabled:          true,
			FailureThreshold: 5,
			Timeout:          60 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv applies OBJECTFS_* environment overrides on top of whatever
// is already set, matching the file-then-env precedence order.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("OBJECTFS_TRACKERS"); val != "" {
		c.Trackers = strings.Split(val, ",")
	}
	if val := os.Getenv("OBJECTFS_DOMAIN"); val != "" {
		c.Domain = val
	}
	if val := os.Getenv("OBJECTFS_CLASS"); val != "" {
		c.Class = val
	}
	if val := os.Getenv("OBJECTFS_MOUNTPOINT"); val != "" {
		c.Mountpoint = val
	}
	if val := os.Getenv("OBJECTFS_MOUNTOPTS"); val != "" {
		c.MountOpts = val
	}
	if val := os.Getenv("OBJECTFS_THREADED"); val != "" {
		c.Threaded = strings.EqualFold(val, "true")
	}
	if val := os.Getenv("OBJECTFS_READONLY"); val != "" {
		c.Readonly = strings.EqualFold(val, "true")
	}
	if val := os.Getenv("OBJECTFS_BUFFERED"); val != "" {
		c.Buffered = strings.EqualFold(val, "true")
	}
	if val := os.Getenv("OBJECTFS_CHECKSUMS"); val != "" {
		c.Checksums = strings.EqualFold(val, "true")
	}
	if val := os.Getenv("OBJECTFS_LOGLEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("OBJECTFS_LOGFILE"); val != "" {
		c.LogFile = val
	}
	if val := os.Getenv("OBJECTFS_DIRCACHE"); val != "" {
		c.FilePaths.Dircache = strings.EqualFold(val, "true")
	}
	if val := os.Getenv("OBJECTFS_DIRCACHE_DURATION"); val != "" {
		if secs, err := strconv.Atoi(val); err == nil {
			c.FilePaths.DircacheDuration = time.Duration(secs) * time.Second
		}
	}
	if val := os.Getenv("OBJECTFS_METRICS_ADDR"); val != "" {
		c.Metrics.Addr = val
		c.Metrics.Enabled = true
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the required enumerated fields and ambient tuning knobs.
func (c *Configuration) Validate() error {
	if len(c.Trackers) == 0 {
		return fmt.Errorf("trackers is required")
	}
	if c.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	if c.Mountpoint == "" {
		return fmt.Errorf("mountpoint is required")
	}

	validLogLevels := []string{"OFF", "NOTICE", "ERROR", "DEBUG", "DEBUG_BACKEND", "DEBUG_FUSE"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.EqualFold(c.LogLevel, level) {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid loglevel: %s (must be one of: %s)",
			c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.FilePaths.DircacheDuration < 0 {
		return fmt.Errorf("filepaths.dircache.duration must not be negative")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be greater than 0")
	}
	if c.Transport.MaxIdlePerHost <= 0 {
		return fmt.Errorf("transport.max_idle_per_host must be greater than 0")
	}

	return nil
}
