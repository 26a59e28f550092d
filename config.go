package wardsync

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hyperengineering/wardsync/internal/store"
	"gopkg.in/yaml.v3"
)

// Config configures the wardsync client.
type Config struct {
	// LocalPath is the path to the local SQLite database.
	// If empty, LocalPath is derived from Profile.
	LocalPath string `yaml:"local_path"`

	// Profile selects a per-clinic database under the data root.
	// If empty, resolved using profile resolution (explicit > WARDSYNC_PROFILE env > "default").
	Profile string `yaml:"profile"`

	// ServerURL is the base URL of the remote records service.
	// If empty, operates in offline-only mode.
	ServerURL string `yaml:"server_url"`

	// APIKey authenticates with the remote service.
	APIKey string `yaml:"api_key"`

	// DeviceID identifies this installation to the remote service.
	// Defaults to hostname, or a random UUID when the hostname is unavailable.
	DeviceID string `yaml:"device_id"`

	// SyncInterval is the timer trigger for sync passes.
	// Defaults to 5 minutes.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// RetryThreshold is the number of failed attempts before a mutation is evicted.
	// Defaults to 3.
	RetryThreshold int `yaml:"retry_threshold"`

	// DependencyRetryLimit bounds how many passes a mutation may wait for its
	// parent's server identity. Counted separately from RetryThreshold.
	// Defaults to 10.
	DependencyRetryLimit int `yaml:"dependency_retry_limit"`

	// RequestTimeout bounds each remote call. Defaults to 30 seconds.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// HeartbeatInterval is how often the health endpoint is pinged to detect
	// connectivity. Zero disables the heartbeat; the client then assumes it is
	// online until told otherwise.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// AutoSync requests a sync pass after every local write.
	AutoSync bool `yaml:"auto_sync"`

	// OfflineMode disables all remote calls even when ServerURL is set.
	OfflineMode bool `yaml:"offline_mode"`

	// Debug enables verbose logging of remote calls and sync passes.
	Debug bool `yaml:"debug"`

	// DebugLogPath is the path to write debug logs.
	// Defaults to stderr if empty. The file is rotated.
	DebugLogPath string `yaml:"debug_log_path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Profile:              store.DefaultProfile,
		LocalPath:            store.ProfileDBPath(store.DefaultProfile),
		SyncInterval:         5 * time.Minute,
		RetryThreshold:       3,
		DependencyRetryLimit: 10,
		RequestTimeout:       30 * time.Second,
		AutoSync:             true,
		DeviceID:             defaultDeviceID(),
	}
}

func defaultDeviceID() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return uuid.NewString()
}

// ConfigFromEnv reads configuration from environment variables.
//
//	WARDSYNC_DB_PATH        → LocalPath
//	WARDSYNC_PROFILE        → Profile
//	WARDSYNC_SERVER_URL     → ServerURL
//	WARDSYNC_API_KEY        → APIKey
//	WARDSYNC_DEVICE_ID      → DeviceID
//	WARDSYNC_SYNC_INTERVAL  → SyncInterval (Go duration, e.g. "2m")
//	WARDSYNC_HEARTBEAT_INTERVAL → HeartbeatInterval
//	WARDSYNC_OFFLINE        → OfflineMode (any non-empty value enables)
//	WARDSYNC_DEBUG          → Debug (any non-empty value enables)
//	WARDSYNC_DEBUG_LOG      → DebugLogPath
func ConfigFromEnv() Config {
	cfg := Config{
		LocalPath:    os.Getenv("WARDSYNC_DB_PATH"),
		Profile:      os.Getenv("WARDSYNC_PROFILE"),
		ServerURL:    os.Getenv("WARDSYNC_SERVER_URL"),
		APIKey:       os.Getenv("WARDSYNC_API_KEY"),
		DeviceID:     os.Getenv("WARDSYNC_DEVICE_ID"),
		OfflineMode:  os.Getenv("WARDSYNC_OFFLINE") != "",
		Debug:        os.Getenv("WARDSYNC_DEBUG") != "",
		DebugLogPath: os.Getenv("WARDSYNC_DEBUG_LOG"),
	}
	if d, err := time.ParseDuration(os.Getenv("WARDSYNC_SYNC_INTERVAL")); err == nil {
		cfg.SyncInterval = d
	}
	if d, err := time.ParseDuration(os.Getenv("WARDSYNC_HEARTBEAT_INTERVAL")); err == nil {
		cfg.HeartbeatInterval = d
	}
	return cfg
}

// LoadConfigFile reads a YAML config file. Durations use Go syntax ("5m").
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Merge returns c with every zero field filled from other.
// Booleans are OR-ed so either source can enable them.
func (c Config) Merge(other Config) Config {
	if c.LocalPath == "" {
		c.LocalPath = other.LocalPath
	}
	if c.Profile == "" {
		c.Profile = other.Profile
	}
	if c.ServerURL == "" {
		c.ServerURL = other.ServerURL
	}
	if c.APIKey == "" {
		c.APIKey = other.APIKey
	}
	if c.DeviceID == "" {
		c.DeviceID = other.DeviceID
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = other.SyncInterval
	}
	if c.RetryThreshold == 0 {
		c.RetryThreshold = other.RetryThreshold
	}
	if c.DependencyRetryLimit == 0 {
		c.DependencyRetryLimit = other.DependencyRetryLimit
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = other.RequestTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = other.HeartbeatInterval
	}
	if c.DebugLogPath == "" {
		c.DebugLogPath = other.DebugLogPath
	}
	c.AutoSync = c.AutoSync || other.AutoSync
	c.OfflineMode = c.OfflineMode || other.OfflineMode
	c.Debug = c.Debug || other.Debug
	return c
}

// Validate checks the configuration for errors.
// Returns *ValidationError for invalid fields.
func (c *Config) Validate() error {
	if c.LocalPath == "" {
		return &ValidationError{Field: "LocalPath", Message: "required: path to SQLite database"}
	}

	if c.Profile != "" {
		if err := store.ValidateProfileID(c.Profile); err != nil {
			return &ValidationError{Field: "Profile", Message: err.Error()}
		}
	}

	if c.ServerURL != "" && c.APIKey == "" {
		return &ValidationError{Field: "APIKey", Message: "required when ServerURL is set"}
	}

	if c.SyncInterval < 0 {
		return &ValidationError{Field: "SyncInterval", Message: "must be non-negative"}
	}
	if c.RetryThreshold < 0 {
		return &ValidationError{Field: "RetryThreshold", Message: "must be non-negative"}
	}
	if c.DependencyRetryLimit < 0 {
		return &ValidationError{Field: "DependencyRetryLimit", Message: "must be non-negative"}
	}
	if c.RequestTimeout < 0 {
		return &ValidationError{Field: "RequestTimeout", Message: "must be non-negative"}
	}
	if c.HeartbeatInterval < 0 {
		return &ValidationError{Field: "HeartbeatInterval", Message: "must be non-negative"}
	}

	return nil
}

// IsOffline returns true if the client never contacts the remote service.
func (c *Config) IsOffline() bool {
	return c.ServerURL == "" || c.OfflineMode
}

// WithDefaults fills in default values for unset fields.
// Profile resolution: explicit Profile field > WARDSYNC_PROFILE env > "default".
// LocalPath is derived from the resolved profile if not explicitly set.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.Profile == "" {
		if resolved, err := store.ResolveProfile(""); err == nil {
			c.Profile = resolved
		} else {
			c.Profile = store.DefaultProfile
		}
	}

	if c.LocalPath == "" {
		c.LocalPath = store.ProfileDBPath(c.Profile)
	}

	if c.SyncInterval == 0 {
		c.SyncInterval = defaults.SyncInterval
	}
	if c.RetryThreshold == 0 {
		c.RetryThreshold = defaults.RetryThreshold
	}
	if c.DependencyRetryLimit == 0 {
		c.DependencyRetryLimit = defaults.DependencyRetryLimit
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
	if c.DeviceID == "" {
		c.DeviceID = defaults.DeviceID
	}

	return c
}
