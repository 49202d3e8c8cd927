package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"evcal/internal/zone"
)

// FeedConfig describes one subscribed ICS feed.
type FeedConfig struct {
	ID  string `yaml:"id" json:"id" validate:"required"`
	URL string `yaml:"url" json:"url" validate:"required,url"`
	// Category is the slug attached to every event of the feed.
	Category     string `yaml:"category,omitempty" json:"category,omitempty"`
	CategoryName string `yaml:"category_name,omitempty" json:"category_name,omitempty"`
	Organizer    string `yaml:"organizer,omitempty" json:"organizer,omitempty"`
	Online       bool   `yaml:"online,omitempty" json:"online,omitempty"`
	// Timezone applies to floating times in the feed.
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty" validate:"omitempty,iana_zone"`
}

// BasicAuthConfig protects the admin API. PasswordHash is a bcrypt hash and
// wins over Password when both are set.
type BasicAuthConfig struct {
	Username     string `yaml:"username" json:"username" validate:"required"`
	Password     string `yaml:"password,omitempty" json:"-" validate:"required_without=PasswordHash"`
	PasswordHash string `yaml:"password_hash,omitempty" json:"-"`
}

type DatabaseConfig struct {
	// Path of the SQLite file; ":memory:" keeps everything in process.
	Path string `yaml:"path" json:"path" validate:"required"`
}

type CacheConfig struct {
	Backend       string        `yaml:"backend" json:"backend" validate:"oneof=memory redis none"`
	TTL           time.Duration `yaml:"ttl" json:"ttl" validate:"min=0"`
	RedisAddr     string        `yaml:"redis_addr,omitempty" json:"redis_addr,omitempty" validate:"required_if=Backend redis"`
	RedisPassword string        `yaml:"redis_password,omitempty" json:"-"`
	RedisDB       int           `yaml:"redis_db,omitempty" json:"redis_db,omitempty" validate:"min=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=console json"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen string `yaml:"listen" json:"listen" validate:"required"`
	// BaseURL is the public origin used for links in the ICS export.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" validate:"omitempty,url"`

	// Timezone is the server zone used for quick presets without a tz.
	Timezone string `yaml:"timezone" json:"timezone" validate:"required,iana_zone"`
	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start" validate:"oneof=monday sunday"`

	// Locales is the translation fallback chain.
	Locales                   []string `yaml:"locales" json:"locales" validate:"min=1,dive,oneof=sv fi en"`
	SkipEmptyTranslationTitle bool     `yaml:"skip_empty_translation_title" json:"skip_empty_translation_title"`

	// BucketMode is "utc" or "event_zone".
	BucketMode    string `yaml:"bucket_mode" json:"bucket_mode" validate:"oneof=utc event_zone"`
	FeaturedLimit int    `yaml:"featured_limit" json:"featured_limit" validate:"min=1,max=50"`

	// RefreshCron is a standard 5-field cron schedule for feed imports.
	RefreshCron string `yaml:"refresh" json:"refresh" validate:"required,cron_schedule"`
	// HorizonDays is how far ahead recurring feed events are expanded.
	HorizonDays int    `yaml:"horizon_days" json:"horizon_days" validate:"min=1,max=730"`
	ICSCacheDir string `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	Database DatabaseConfig `yaml:"database" json:"database"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Log      LogConfig      `yaml:"log" json:"log"`

	Feeds       []FeedConfig `yaml:"feeds" json:"feeds" validate:"dive"`
	CORSOrigins []string     `yaml:"cors_origins" json:"cors_origins"`

	// BasicAuth, when set, enables HTTP Basic auth on the admin API.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() *Config {
	return &Config{
		Listen:        "127.0.0.1:8080",
		Timezone:      "Europe/Helsinki",
		WeekStart:     "monday",
		Locales:       []string{"sv", "fi", "en"},
		BucketMode:    "utc",
		FeaturedLimit: 6,
		RefreshCron:   "*/30 * * * *",
		HorizonDays:   180,
		ICSCacheDir:   "./var/ics-cache",
		Database:      DatabaseConfig{Path: "./var/evcal.db"},
		Cache:         CacheConfig{Backend: "memory", TTL: 30 * time.Second},
		Log:           LogConfig{Level: "info", Format: "console"},
		Feeds:         []FeedConfig{},
		CORSOrigins:   []string{},
	}
}

// Normalize fills zero values with defaults so partial files still work.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	if c.WeekStart == "" {
		c.WeekStart = d.WeekStart
	}
	if len(c.Locales) == 0 {
		c.Locales = d.Locales
	}
	for i, l := range c.Locales {
		c.Locales[i] = strings.ToLower(strings.TrimSpace(l))
	}
	if c.BucketMode == "" {
		c.BucketMode = d.BucketMode
	}
	if c.FeaturedLimit == 0 {
		c.FeaturedLimit = d.FeaturedLimit
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.HorizonDays == 0 {
		c.HorizonDays = d.HorizonDays
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = d.ICSCacheDir
	}
	if c.Database.Path == "" {
		c.Database.Path = d.Database.Path
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = d.Cache.Backend
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = []string{}
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("iana_zone", func(fl validator.FieldLevel) bool {
		_, err := zone.Load(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("cron_schedule", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks the struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := map[string]bool{}
	for _, f := range c.Feeds {
		if seen[f.ID] {
			return fmt.Errorf("invalid config: duplicate feed id %q", f.ID)
		}
		seen[f.ID] = true
	}
	return nil
}

// Location returns the configured server zone.
func (c *Config) Location() *time.Location {
	loc, err := zone.Load(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) WeekStartDay() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// Load reads the YAML file at path, creating it with defaults on first run,
// then applies EVCAL_* environment overrides (optionally from a .env file
// next to the config) and validates the result. Overrides are never written
// back to disk.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		cfg.Normalize()
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads a .env file if one exists. Variables already set in the
// process environment win.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Listen = getEnv("EVCAL_LISTEN", c.Listen)
	c.BaseURL = getEnv("EVCAL_BASE_URL", c.BaseURL)
	c.Timezone = getEnv("EVCAL_TIMEZONE", c.Timezone)
	c.RefreshCron = getEnv("EVCAL_REFRESH", c.RefreshCron)
	c.Database.Path = getEnv("EVCAL_DATABASE_PATH", c.Database.Path)
	c.Cache.Backend = getEnv("EVCAL_CACHE_BACKEND", c.Cache.Backend)
	c.Cache.RedisAddr = getEnv("EVCAL_REDIS_ADDR", c.Cache.RedisAddr)
	c.Cache.RedisPassword = getEnv("EVCAL_REDIS_PASSWORD", c.Cache.RedisPassword)
	c.Log.Level = getEnv("EVCAL_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("EVCAL_LOG_FORMAT", c.Log.Format)

	var err error
	if c.Cache.RedisDB, err = getEnvAsInt("EVCAL_REDIS_DB", c.Cache.RedisDB); err != nil {
		return err
	}
	if c.Cache.TTL, err = getEnvAsDuration("EVCAL_CACHE_TTL", c.Cache.TTL); err != nil {
		return err
	}

	user := getEnv("EVCAL_BASIC_AUTH_USERNAME", "")
	pass := getEnv("EVCAL_BASIC_AUTH_PASSWORD", "")
	hash := getEnv("EVCAL_BASIC_AUTH_PASSWORD_HASH", "")
	if user != "" || pass != "" || hash != "" {
		if c.BasicAuth == nil {
			c.BasicAuth = &BasicAuthConfig{}
		}
		if user != "" {
			c.BasicAuth.Username = user
		}
		if pass != "" {
			c.BasicAuth.Password = pass
		}
		if hash != "" {
			c.BasicAuth.PasswordHash = hash
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// Save writes cfg to path atomically (temp file and rename) with 0600
// permissions, creating the parent directory with 0700.
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

	tmp, err := os.CreateTemp(dir, ".evcal-config-*.tmp")
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

func (c *Config) Save(path string) error {
	return Save(path, c)
}
