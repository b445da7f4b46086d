package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the entire application configuration
type Config struct {
	Cache       CacheConfig       `mapstructure:"cache"`
	Watchdog    WatchdogConfig    `mapstructure:"watchdog"`
	Options     OptionsConfig     `mapstructure:"options"`
	Fetch       FetchConfig       `mapstructure:"fetch"`
	S3          S3Config          `mapstructure:"s3"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// CacheConfig contains cache and scheduling settings
type CacheConfig struct {
	RootDir             string `mapstructure:"root_dir"`
	MaxSizeGB           int    `mapstructure:"max_size_gb"`
	MaxDiskUsagePercent int    `mapstructure:"max_disk_usage_percent"`
	MaxRequestLengthMB  int    `mapstructure:"max_request_length_mb"`
	MaxAttempts         int    `mapstructure:"max_attempts"`
	RetryBackoff        string `mapstructure:"retry_backoff"`
	PersistInterval     string `mapstructure:"persist_interval"`
}

// WatchdogConfig contains stalled session recovery settings
type WatchdogConfig struct {
	Enabled                 bool   `mapstructure:"enabled"`
	Period                  string `mapstructure:"period"`
	InactiveBeforeReconnect string `mapstructure:"inactive_before_reconnect"`
	MaxReconnectsPerMinute  int    `mapstructure:"max_reconnects_per_minute"`
}

// OptionsConfig contains per-resource behavior switches
type OptionsConfig struct {
	RequireIntegrity bool `mapstructure:"require_integrity"`
	PurgeOnRelease   bool `mapstructure:"purge_on_release"`
}

// FetchConfig contains HTTP fetcher settings
type FetchConfig struct {
	UserAgent             string `mapstructure:"user_agent"`
	ResponseHeaderTimeout string `mapstructure:"response_header_timeout"`
	IdleConnTimeout       string `mapstructure:"idle_conn_timeout"`
	BufferSizeKB          int    `mapstructure:"buffer_size_kb"`
	SkipTLSVerify         bool   `mapstructure:"skip_tls_verify"`
}

// S3Config contains settings for s3:// resources
type S3Config struct {
	Enabled      bool   `mapstructure:"enabled"`
	Region       string `mapstructure:"region"`
	Profile      string `mapstructure:"profile"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	BindAddr      string `mapstructure:"bind_addr"`
	AdminUsername string `mapstructure:"admin_username"`
	AdminPassword string `mapstructure:"admin_password"` // empty leaves admin endpoints open
	ReadTimeout   string `mapstructure:"read_timeout"`
	WriteTimeout  string `mapstructure:"write_timeout"` // 0 disables; streams can be long
	IdleTimeout   string `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	FilePath   string `mapstructure:"file_path"` // empty logs to stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// MaintenanceConfig contains cache housekeeping settings
type MaintenanceConfig struct {
	CleanupInterval string `mapstructure:"cleanup_interval"`
	TempFileMaxAge  string `mapstructure:"temp_file_max_age"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache.root_dir", "/var/lib/streamcache")
	v.SetDefault("cache.max_size_gb", 20)
	v.SetDefault("cache.max_disk_usage_percent", 90)
	v.SetDefault("cache.max_request_length_mb", 15)
	v.SetDefault("cache.max_attempts", 3)
	v.SetDefault("cache.retry_backoff", "500ms")
	v.SetDefault("cache.persist_interval", "2s")
	v.SetDefault("watchdog.enabled", true)
	v.SetDefault("watchdog.period", "1s")
	v.SetDefault("watchdog.inactive_before_reconnect", "10s")
	v.SetDefault("watchdog.max_reconnects_per_minute", 6)
	v.SetDefault("options.require_integrity", false)
	v.SetDefault("options.purge_on_release", false)
	v.SetDefault("fetch.user_agent", "streamcache/1.0")
	v.SetDefault("fetch.response_header_timeout", "30s")
	v.SetDefault("fetch.idle_conn_timeout", "120s")
	v.SetDefault("fetch.buffer_size_kb", 64)
	v.SetDefault("fetch.skip_tls_verify", false)
	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.profile", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.use_path_style", false)
	v.SetDefault("http.bind_addr", "127.0.0.1:8090")
	v.SetDefault("http.admin_username", "admin")
	v.SetDefault("http.admin_password", "")
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "0s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file_path", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("database.path", "")
	v.SetDefault("maintenance.cleanup_interval", "10m")
	v.SetDefault("maintenance.temp_file_max_age", "1h")
}

// Load loads configuration from the specified file path.
// An empty path uses the defaults only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("STREAMCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Cache.RootDir == "" {
		return fmt.Errorf("cache.root_dir is required")
	}
	if c.Cache.MaxSizeGB <= 0 {
		return fmt.Errorf("cache.max_size_gb must be positive")
	}
	if c.Cache.MaxDiskUsagePercent <= 0 || c.Cache.MaxDiskUsagePercent > 100 {
		return fmt.Errorf("cache.max_disk_usage_percent must be between 1 and 100")
	}
	if c.Cache.MaxRequestLengthMB <= 0 {
		return fmt.Errorf("cache.max_request_length_mb must be positive")
	}
	if c.Cache.MaxAttempts < 1 || c.Cache.MaxAttempts > 10 {
		return fmt.Errorf("cache.max_attempts must be between 1 and 10")
	}

	durations := map[string]string{
		"cache.retry_backoff":                c.Cache.RetryBackoff,
		"cache.persist_interval":             c.Cache.PersistInterval,
		"watchdog.period":                    c.Watchdog.Period,
		"watchdog.inactive_before_reconnect": c.Watchdog.InactiveBeforeReconnect,
		"fetch.response_header_timeout":      c.Fetch.ResponseHeaderTimeout,
		"fetch.idle_conn_timeout":            c.Fetch.IdleConnTimeout,
		"http.read_timeout":                  c.HTTP.ReadTimeout,
		"http.write_timeout":                 c.HTTP.WriteTimeout,
		"http.idle_timeout":                  c.HTTP.IdleTimeout,
		"maintenance.cleanup_interval":       c.Maintenance.CleanupInterval,
		"maintenance.temp_file_max_age":      c.Maintenance.TempFileMaxAge,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	if c.Watchdog.Enabled && c.Watchdog.MaxReconnectsPerMinute < 0 {
		return fmt.Errorf("watchdog.max_reconnects_per_minute must not be negative")
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// GetMaxSizeBytes returns the cache size limit in bytes
func (c *CacheConfig) GetMaxSizeBytes() int64 {
	return int64(c.MaxSizeGB) * 1024 * 1024 * 1024
}

// GetMaxRequestLength returns the session length bound in bytes
func (c *CacheConfig) GetMaxRequestLength() int64 {
	if c.MaxRequestLengthMB <= 0 {
		return 15 * 1024 * 1024
	}
	return int64(c.MaxRequestLengthMB) * 1024 * 1024
}

// GetRetryBackoff returns the delay before retrying a failed session
func (c *CacheConfig) GetRetryBackoff() time.Duration {
	d, _ := time.ParseDuration(c.RetryBackoff)
	return d
}

// GetPersistInterval returns the metadata persistence interval as time.Duration
func (c *CacheConfig) GetPersistInterval() time.Duration {
	d, _ := time.ParseDuration(c.PersistInterval)
	if d == 0 {
		return 2 * time.Second
	}
	return d
}

// GetDatabasePath returns the index path, defaulting to a file in the cache root
func (c *Config) GetDatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Cache.RootDir, "index.db")
}

// GetPeriod returns the watchdog period as time.Duration
func (c *WatchdogConfig) GetPeriod() time.Duration {
	d, _ := time.ParseDuration(c.Period)
	if d == 0 {
		return time.Second
	}
	return d
}

// GetInactiveBeforeReconnect returns the inactivity threshold as time.Duration
func (c *WatchdogConfig) GetInactiveBeforeReconnect() time.Duration {
	d, _ := time.ParseDuration(c.InactiveBeforeReconnect)
	if d == 0 {
		return 10 * time.Second
	}
	return d
}

// GetResponseHeaderTimeout returns the response header timeout as time.Duration
func (c *FetchConfig) GetResponseHeaderTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ResponseHeaderTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetIdleConnTimeout returns the idle connection timeout as time.Duration
func (c *FetchConfig) GetIdleConnTimeout() time.Duration {
	d, _ := time.ParseDuration(c.IdleConnTimeout)
	if d == 0 {
		return 120 * time.Second
	}
	return d
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ReadTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetWriteTimeout returns the write timeout as time.Duration.
// Zero means no timeout.
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.WriteTimeout)
	return d
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	d, _ := time.ParseDuration(c.IdleTimeout)
	if d == 0 {
		return 60 * time.Second
	}
	return d
}

// GetCleanupInterval returns the maintenance interval as time.Duration
func (c *MaintenanceConfig) GetCleanupInterval() time.Duration {
	d, _ := time.ParseDuration(c.CleanupInterval)
	if d == 0 {
		return 10 * time.Minute
	}
	return d
}

// GetTempFileMaxAge returns the age after which temp files are removed
func (c *MaintenanceConfig) GetTempFileMaxAge() time.Duration {
	d, _ := time.ParseDuration(c.TempFileMaxAge)
	if d == 0 {
		return time.Hour
	}
	return d
}
