package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets from the YAML file.
const (
	EnvPMSRefreshToken = "STAYSYNC_PMS_REFRESH_TOKEN"
	EnvDatabaseDSN     = "STAYSYNC_DATABASE_DSN"
	EnvRedisPassword   = "STAYSYNC_REDIS_PASSWORD"
)

// DatabaseConfig selects the gorm driver and its DSN.
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `yaml:"driver" json:"driver" validate:"oneof=postgres sqlite"`
	DSN    string `yaml:"dsn" json:"-" validate:"required"`
}

// PMSConfig configures the external channel-manager API client.
type PMSConfig struct {
	// BaseURL is the API root, e.g. "https://beds24.com/api/v2".
	BaseURL string `yaml:"base_url" json:"base_url" validate:"omitempty,url"`
	// RefreshToken is exchanged for short-lived access tokens. Usually
	// supplied through STAYSYNC_PMS_REFRESH_TOKEN rather than the file.
	RefreshToken string `yaml:"refresh_token,omitempty" json:"-"`

	TimeoutSeconds    int     `yaml:"timeout_seconds" json:"timeout_seconds" validate:"min=1,max=120"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" validate:"gt=0"`
	Burst             int     `yaml:"burst" json:"burst" validate:"min=1"`

	// TokenCache is "memory" or "redis".
	TokenCache string `yaml:"token_cache" json:"token_cache" validate:"oneof=memory redis"`
}

// Configured reports whether outbound calls can be attempted at all.
func (p PMSConfig) Configured() bool {
	return p.BaseURL != "" && p.RefreshToken != ""
}

// RedisConfig is used only when PMS.TokenCache is "redis".
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password,omitempty" json:"-"`
	DB       int    `yaml:"db" json:"db" validate:"min=0"`
}

// ICalConfig controls feed fetching.
type ICalConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds" validate:"min=1,max=60"`
}

// ScheduleConfig holds cron specs for the periodic jobs. An empty spec
// disables the job.
type ScheduleConfig struct {
	InboundSync   string `yaml:"inbound_sync" json:"inbound_sync"`
	DailySnapshot string `yaml:"daily_snapshot" json:"daily_snapshot"`
	ICalSync      string `yaml:"ical_sync" json:"ical_sync"`
	ExpireSweep   string `yaml:"expire_sweep" json:"expire_sweep"`
	Reconcile     string `yaml:"reconcile" json:"reconcile"`
}

// SyncConfig holds sync windows.
type SyncConfig struct {
	// InboundWindowHours is the default modifiedFrom look-back.
	InboundWindowHours int `yaml:"inbound_window_hours" json:"inbound_window_hours" validate:"min=1"`
	// ReconcileDays is the forward-looking reconciliation window.
	ReconcileDays int `yaml:"reconcile_days" json:"reconcile_days" validate:"min=1,max=730"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the admin API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the admin and hook API.
	Listen string `yaml:"listen" json:"listen" validate:"required"`

	// Timezone is the IANA zone "today" is evaluated in (e.g. "Asia/Tokyo").
	Timezone string `yaml:"timezone" json:"timezone" validate:"required"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`

	Database DatabaseConfig `yaml:"database" json:"database"`
	PMS      PMSConfig      `yaml:"pms" json:"pms"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	ICal     ICalConfig     `yaml:"ical" json:"ical"`
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
	Sync     SyncConfig     `yaml:"sync" json:"sync"`

	// CORSOrigins lists origins allowed to call the API from a browser.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		Timezone: "UTC",
		LogLevel: "info",
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "./var/staysync.db",
		},
		PMS: PMSConfig{
			BaseURL:           "https://beds24.com/api/v2",
			TimeoutSeconds:    20,
			RequestsPerSecond: 1,
			Burst:             3,
			TokenCache:        "memory",
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		ICal:  ICalConfig{TimeoutSeconds: 10},
		Schedule: ScheduleConfig{
			InboundSync:   "*/30 * * * *",
			DailySnapshot: "15 0 * * *",
			ICalSync:      "0 * * * *",
			ExpireSweep:   "30 0 * * *",
			Reconcile:     "",
		},
		Sync: SyncConfig{
			InboundWindowHours: 24,
			ReconcileDays:      90,
		},
		CORSOrigins: []string{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Database.Driver == "" {
		c.Database.Driver = def.Database.Driver
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = def.Database.DSN
	}
	if c.PMS.TimeoutSeconds <= 0 {
		c.PMS.TimeoutSeconds = def.PMS.TimeoutSeconds
	}
	if c.PMS.RequestsPerSecond <= 0 {
		c.PMS.RequestsPerSecond = def.PMS.RequestsPerSecond
	}
	if c.PMS.Burst <= 0 {
		c.PMS.Burst = def.PMS.Burst
	}
	if c.PMS.TokenCache == "" {
		c.PMS.TokenCache = def.PMS.TokenCache
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = def.Redis.Addr
	}
	if c.ICal.TimeoutSeconds <= 0 {
		c.ICal.TimeoutSeconds = def.ICal.TimeoutSeconds
	}
	if c.Sync.InboundWindowHours <= 0 {
		c.Sync.InboundWindowHours = def.Sync.InboundWindowHours
	}
	if c.Sync.ReconcileDays <= 0 {
		c.Sync.ReconcileDays = def.Sync.ReconcileDays
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = []string{}
	}
}

// ApplyEnv overlays secrets from the process environment. A .env file in
// the working directory is loaded first when present.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv(EnvPMSRefreshToken); v != "" {
		c.PMS.RefreshToken = v
	}
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Redis.Password = v
	}
}

var validate = validator.New()

// Validate checks field constraints after normalization.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Environment secrets are applied in both cases, after which the result is
// validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, cfg.Validate()
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".staysync-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
