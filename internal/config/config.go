// Package config reads the offsync client settings and credentials from
// the user config directory. Every getter resolves env > file > default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	jsonFile = "config.json"
	tomlFile = "config.toml"
	authFile = "auth.json"

	defaultServerURL    = "http://localhost:8080"
	defaultSQLiteDriver = "sqlite"
	defaultPolicy       = "remote-first"
	defaultResolution   = "ignore"
	defaultSyncInterval = 5 * time.Minute
)

// SyncConfig holds sync pass settings.
type SyncConfig struct {
	Interval string `json:"interval,omitempty" toml:"interval,omitempty"` // duration string, default "5m"
	OnStart  *bool  `json:"on_start,omitempty" toml:"on_start,omitempty"` // nil = default true
	Resolve  string `json:"resolve,omitempty" toml:"resolve,omitempty"`   // default "ignore"
}

// CacheConfig holds offline cache settings.
type CacheConfig struct {
	Dir    string `json:"dir,omitempty" toml:"dir,omitempty"`
	Driver string `json:"driver,omitempty" toml:"driver,omitempty"` // "sqlite" or "sqlite3"
	Policy string `json:"policy,omitempty" toml:"policy,omitempty"`
}

// WebhookConfig holds the sync report webhook settings.
type WebhookConfig struct {
	URL    string `json:"url,omitempty" toml:"url,omitempty"`
	Secret string `json:"secret,omitempty" toml:"secret,omitempty"`
}

// Config is the client config stored at ~/.config/offsync/config.json, or
// config.toml when no JSON file exists.
type Config struct {
	URL   string      `json:"url,omitempty" toml:"url,omitempty"`
	Cache CacheConfig `json:"cache" toml:"cache"`
	Sync  SyncConfig  `json:"sync" toml:"sync"`

	Webhook *WebhookConfig `json:"webhook,omitempty" toml:"webhook,omitempty"`
}

// AuthCredentials is the login state at ~/.config/offsync/auth.json.
type AuthCredentials struct {
	APIKey     string `json:"api_key"`
	ServerURL  string `json:"server_url"`
	UserID     int64  `json:"user_id"`
	CompanyID  int64  `json:"company_id,omitempty"`
	GroupID    int64  `json:"group_id,omitempty"`
	Email      string `json:"email,omitempty"`
	ScreenName string `json:"screen_name,omitempty"`
}

// Dir returns the config directory, creating it if necessary.
// OFFSYNC_CONFIG_DIR overrides ~/.config/offsync.
func Dir() (string, error) {
	dir := os.Getenv("OFFSYNC_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		dir = filepath.Join(home, ".config", "offsync")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// Load reads config.json, falling back to config.toml. A missing file is an
// empty config.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	var cfg Config
	data, err := os.ReadFile(filepath.Join(dir, jsonFile))
	if err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", jsonFile, err)
		}
		return &cfg, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	data, err = os.ReadFile(filepath.Join(dir, tomlFile))
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", tomlFile, err)
	}
	return &cfg, nil
}

// Save writes cfg as config.json.
func Save(cfg *Config) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(dir, jsonFile, data, 0644)
}

// LoadAuth reads auth.json. It returns nil, nil when not logged in.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, authFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse %s: %w", authFile, err)
	}
	return &creds, nil
}

// SaveAuth writes auth.json with 0600 permissions.
func SaveAuth(creds *AuthCredentials) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(dir, authFile, data, 0600)
}

// ClearAuth removes auth.json.
func ClearAuth() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, authFile))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// writeAtomic writes a temp file in dir and renames it over name.
func writeAtomic(dir, name string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(dir, name+"-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, filepath.Join(dir, name))
}

func loadOrEmpty() *Config {
	cfg, err := Load()
	if err != nil {
		return &Config{}
	}
	return cfg
}

// ServerURL returns the remote server URL.
// Priority: OFFSYNC_URL env > auth.json > config url > default.
func ServerURL() string {
	if v := os.Getenv("OFFSYNC_URL"); v != "" {
		return v
	}
	if creds, err := LoadAuth(); err == nil && creds != nil && creds.ServerURL != "" {
		return creds.ServerURL
	}
	if cfg := loadOrEmpty(); cfg.URL != "" {
		return cfg.URL
	}
	return defaultServerURL
}

// APIKey returns the API key.
// Priority: OFFSYNC_API_KEY env > auth.json.
func APIKey() string {
	if v := os.Getenv("OFFSYNC_API_KEY"); v != "" {
		return v
	}
	if creds, err := LoadAuth(); err == nil && creds != nil {
		return creds.APIKey
	}
	return ""
}

// CacheDir returns the offline cache directory.
// Priority: OFFSYNC_CACHE_DIR env > config cache.dir > <config dir>/cache.
func CacheDir() (string, error) {
	if v := os.Getenv("OFFSYNC_CACHE_DIR"); v != "" {
		return v, nil
	}
	if cfg := loadOrEmpty(); cfg.Cache.Dir != "" {
		return expandHome(cfg.Cache.Dir), nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cache"), nil
}

// SQLiteDriver returns the database/sql driver name for the cache.
// Priority: OFFSYNC_SQLITE_DRIVER env > config cache.driver > "sqlite".
func SQLiteDriver() string {
	if v := os.Getenv("OFFSYNC_SQLITE_DRIVER"); v != "" {
		return v
	}
	if cfg := loadOrEmpty(); cfg.Cache.Driver != "" {
		return cfg.Cache.Driver
	}
	return defaultSQLiteDriver
}

// DefaultPolicy returns the cache policy name used when a command gets no
// --policy flag.
// Priority: OFFSYNC_POLICY env > config cache.policy > "remote-first".
func DefaultPolicy() string {
	if v := os.Getenv("OFFSYNC_POLICY"); v != "" {
		return v
	}
	if cfg := loadOrEmpty(); cfg.Cache.Policy != "" {
		return cfg.Cache.Policy
	}
	return defaultPolicy
}

// SyncInterval returns the period of watch mode.
// Priority: OFFSYNC_SYNC_INTERVAL env > config sync.interval > 5m.
func SyncInterval() time.Duration {
	if v := os.Getenv("OFFSYNC_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	if cfg := loadOrEmpty(); cfg.Sync.Interval != "" {
		if d, err := time.ParseDuration(cfg.Sync.Interval); err == nil && d > 0 {
			return d
		}
	}
	return defaultSyncInterval
}

// SyncOnStart reports whether watch mode runs a pass immediately.
// Priority: OFFSYNC_SYNC_ON_START env > config sync.on_start > true.
func SyncOnStart() bool {
	if v := parseBoolEnv("OFFSYNC_SYNC_ON_START"); v != nil {
		return *v
	}
	if cfg := loadOrEmpty(); cfg.Sync.OnStart != nil {
		return *cfg.Sync.OnStart
	}
	return true
}

// ConflictResolution returns the resolution name applied to conflicts when
// sync runs non-interactively.
// Priority: OFFSYNC_RESOLVE env > config sync.resolve > "ignore".
func ConflictResolution() string {
	if v := os.Getenv("OFFSYNC_RESOLVE"); v != "" {
		return v
	}
	if cfg := loadOrEmpty(); cfg.Sync.Resolve != "" {
		return cfg.Sync.Resolve
	}
	return defaultResolution
}

// WebhookURL returns the URL that receives a report after each sync pass,
// or "" when reports are not posted.
// Priority: OFFSYNC_WEBHOOK_URL env > config webhook.url.
func WebhookURL() string {
	if v := os.Getenv("OFFSYNC_WEBHOOK_URL"); v != "" {
		return v
	}
	if cfg := loadOrEmpty(); cfg.Webhook != nil {
		return cfg.Webhook.URL
	}
	return ""
}

// WebhookSecret returns the HMAC secret for webhook signatures.
// Priority: OFFSYNC_WEBHOOK_SECRET env > config webhook.secret.
func WebhookSecret() string {
	if v := os.Getenv("OFFSYNC_WEBHOOK_SECRET"); v != "" {
		return v
	}
	if cfg := loadOrEmpty(); cfg.Webhook != nil {
		return cfg.Webhook.Secret
	}
	return ""
}

// LogLevel returns OFFSYNC_LOG_LEVEL, or "warn".
func LogLevel() string {
	if v := os.Getenv("OFFSYNC_LOG_LEVEL"); v != "" {
		return v
	}
	return "warn"
}

// parseBoolEnv returns nil if env not set, pointer to bool if set.
func parseBoolEnv(envKey string) *bool {
	v := strings.ToLower(os.Getenv(envKey))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
