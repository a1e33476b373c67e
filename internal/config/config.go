// Package config provides configuration management for encodr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort         = 8096
	defaultServerTimeout      = 30 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultMaxOpenConns       = 25
	defaultMaxIdleConns       = 10
	defaultConnMaxIdleTime    = 30 * time.Minute
	defaultThrottleThreshold  = 180 * time.Second
	defaultThrottleInterval   = 5 * time.Second
	defaultReadyPollInterval  = 100 * time.Millisecond
	defaultMinThrottleRuntime = 5 * time.Minute
	defaultDownmixBoost       = 2.0
	defaultCleanupMaxAge      = 24 * time.Hour
	defaultArchiveRetention   = 14 * 24 * time.Hour
	defaultGRPCAddress        = "127.0.0.1:8097"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "ENCODR"

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Transcoding TranscodingConfig `mapstructure:"transcoding"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	GRPC        GRPCConfig        `mapstructure:"grpc"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir      string `mapstructure:"base_dir"`
	MediaRoot    string `mapstructure:"media_root"`
	TranscodeDir string `mapstructure:"transcode_dir"`
	LogDir       string `mapstructure:"log_dir"`
	ArchiveDir   string `mapstructure:"archive_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`  // debug, info, warn, error
	Format         string `mapstructure:"format"` // auto, json, text
	AddSource      bool   `mapstructure:"add_source"`
	TimeFormat     string `mapstructure:"time_format"`
	RequestLogging bool   `mapstructure:"request_logging"`
}

// TranscodingConfig controls how encoder processes are built and supervised.
type TranscodingConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // empty = auto-detect
	ProbePath  string `mapstructure:"probe_path"`  // empty = auto-detect
	// HWAccel selects the hardware encoder family: "", "qsv", "nvenc".
	HWAccel     string `mapstructure:"hwaccel"`
	Threads     int    `mapstructure:"threads"`
	DebugLog    bool   `mapstructure:"debug_log"`
	ProbeOutput bool   `mapstructure:"probe_output"`
	// SegmentSubfolders places segmented job output in a per-job folder.
	SegmentSubfolders  bool           `mapstructure:"segment_subfolders"`
	DownmixBoost       float64        `mapstructure:"downmix_boost"`
	ReadyPollInterval  time.Duration  `mapstructure:"ready_poll_interval"`
	Throttle           ThrottleConfig `mapstructure:"throttle"`
	EnableAutoCopy     bool           `mapstructure:"enable_auto_copy"`
	ProbeCacheDuration time.Duration  `mapstructure:"probe_cache_duration"`
	// StatsInterval is how often encoder CPU and memory are sampled; 0 disables.
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// ThrottleConfig holds throttler settings.
type ThrottleConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Threshold  time.Duration `mapstructure:"threshold"`
	Interval   time.Duration `mapstructure:"interval"`
	MinRuntime time.Duration `mapstructure:"min_runtime"`
}

// MaintenanceConfig holds scheduled cleanup and log archiving settings.
type MaintenanceConfig struct {
	CleanupCron      string        `mapstructure:"cleanup_cron"` // 6-field cron expression
	CleanupMaxAge    time.Duration `mapstructure:"cleanup_max_age"`
	ArchiveCron      string        `mapstructure:"archive_cron"`
	ArchiveFormat    string        `mapstructure:"archive_format"` // brotli, xz, bzip2
	ArchiveRetention time.Duration `mapstructure:"archive_retention"`
}

// GRPCConfig holds the gRPC health listener configuration.
type GRPCConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// MetricsConfig holds prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Example: ENCODR_SERVER_PORT=8096.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/encodr")
		v.AddConfigPath("$HOME/.encodr")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", 0) // progressive responses are long lived
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "encodr.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.media_root", "./media")
	v.SetDefault("storage.transcode_dir", "transcodes")
	v.SetDefault("storage.log_dir", "logs")
	v.SetDefault("storage.archive_dir", "logs/archive")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "auto")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.request_logging", false)

	v.SetDefault("transcoding.binary_path", "")
	v.SetDefault("transcoding.probe_path", "")
	v.SetDefault("transcoding.hwaccel", "")
	v.SetDefault("transcoding.threads", 0)
	v.SetDefault("transcoding.debug_log", false)
	v.SetDefault("transcoding.probe_output", true)
	v.SetDefault("transcoding.segment_subfolders", true)
	v.SetDefault("transcoding.downmix_boost", defaultDownmixBoost)
	v.SetDefault("transcoding.ready_poll_interval", defaultReadyPollInterval)
	v.SetDefault("transcoding.enable_auto_copy", true)
	v.SetDefault("transcoding.probe_cache_duration", 10*time.Minute)
	v.SetDefault("transcoding.stats_interval", 5*time.Second)
	v.SetDefault("transcoding.throttle.enabled", true)
	v.SetDefault("transcoding.throttle.threshold", defaultThrottleThreshold)
	v.SetDefault("transcoding.throttle.interval", defaultThrottleInterval)
	v.SetDefault("transcoding.throttle.min_runtime", defaultMinThrottleRuntime)

	v.SetDefault("maintenance.cleanup_cron", "0 */15 * * * *")
	v.SetDefault("maintenance.cleanup_max_age", defaultCleanupMaxAge)
	v.SetDefault("maintenance.archive_cron", "0 30 3 * * *")
	v.SetDefault("maintenance.archive_format", "brotli")
	v.SetDefault("maintenance.archive_retention", defaultArchiveRetention)

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.address", defaultGRPCAddress)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"auto": true, "json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: auto, json, text")
	}

	validAccel := map[string]bool{"": true, "qsv": true, "nvenc": true}
	if !validAccel[c.Transcoding.HWAccel] {
		return fmt.Errorf("transcoding.hwaccel must be one of: qsv, nvenc or empty")
	}
	if c.Transcoding.Threads < 0 {
		return fmt.Errorf("transcoding.threads must not be negative")
	}
	if c.Transcoding.ReadyPollInterval <= 0 {
		return fmt.Errorf("transcoding.ready_poll_interval must be positive")
	}
	if c.Transcoding.Throttle.Enabled {
		if c.Transcoding.Throttle.Interval <= 0 {
			return fmt.Errorf("transcoding.throttle.interval must be positive")
		}
		if c.Transcoding.Throttle.Threshold <= 0 {
			return fmt.Errorf("transcoding.throttle.threshold must be positive")
		}
	}

	validArchive := map[string]bool{"brotli": true, "xz": true, "bzip2": true}
	if !validArchive[c.Maintenance.ArchiveFormat] {
		return fmt.Errorf("maintenance.archive_format must be one of: brotli, xz, bzip2")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TranscodePath returns the directory encoder output is written to.
func (c *StorageConfig) TranscodePath() string {
	return c.resolve(c.TranscodeDir)
}

// LogPath returns the directory per-job encoder logs are written to.
func (c *StorageConfig) LogPath() string {
	return c.resolve(c.LogDir)
}

// ArchivePath returns the directory compressed encoder logs are moved to.
func (c *StorageConfig) ArchivePath() string {
	return c.resolve(c.ArchiveDir)
}

func (c *StorageConfig) resolve(dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.BaseDir, dir)
}
