// Package config loads planner settings from defaults, an optional TOML file and
// PLANNER_ environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	AppDirName       = ".transit-planner"
	SQLiteDBFileName = "planner.db"
	ConfigFileName   = "config"
	EnvPrefix        = "PLANNER"
)

// Config holds application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Routing   RoutingConfig   `mapstructure:"routing"`
	Geocoding GeocodingConfig `mapstructure:"geocoding"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Session   SessionConfig   `mapstructure:"session"`
	Store     StoreConfig     `mapstructure:"store"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds the listen address and the public base of the app URL.
// An empty BaseURL gives relative app URLs. No AllowedOrigins means local origins only.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	BaseURL        string   `mapstructure:"base_url"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RoutingConfig points at the routing service
type RoutingConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// GeocodingConfig points at the geocoder
type GeocodingConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	UserAgent   string        `mapstructure:"user_agent"`
	MinInterval time.Duration `mapstructure:"min_interval"`
}

// HTTPConfig applies to outbound calls
type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// SessionConfig controls how long idle sessions stay in memory
type SessionConfig struct {
	TTL     time.Duration `mapstructure:"ttl"`
	Cleanup time.Duration `mapstructure:"cleanup"`
}

// StoreConfig holds sqlite settings. An empty Path disables persistence.
type StoreConfig struct {
	Path      string        `mapstructure:"path"`
	Retention time.Duration `mapstructure:"retention"`
}

// LogConfig selects the logger flavour
type LogConfig struct {
	Env string `mapstructure:"env"`
}

// AppDir returns ~/.transit-planner, creating it if needed
func AppDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	appDir := filepath.Join(homeDir, AppDirName)
	if err := os.MkdirAll(appDir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create app directory: %w", err)
	}
	return appDir, nil
}

// DefaultStorePath returns ~/.transit-planner/planner.db
func DefaultStorePath() string {
	appDir, err := AppDir()
	if err != nil {
		return ""
	}
	return filepath.Join(appDir, SQLiteDBFileName)
}

// SetDefaults registers every key with its default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.base_url", "")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("routing.base_url", "http://localhost:8989")
	v.SetDefault("geocoding.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocoding.user_agent", "transit-planner/1.0")
	v.SetDefault("geocoding.min_interval", time.Second)
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("session.ttl", 30*time.Minute)
	v.SetDefault("session.cleanup", 5*time.Minute)
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.retention", 30*24*time.Hour)
	v.SetDefault("log.env", "development")
}

// Load reads configuration from file and env. The file is path when set, otherwise
// $PLANNER_CONFIG, otherwise ~/.transit-planner/config.toml if present.
// Env var overrides use prefix PLANNER_, e.g. PLANNER_ROUTING_BASE_URL.
func Load(path string) (Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetConfigType("toml")
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	explicit := path != ""
	if explicit {
		v.SetConfigFile(path)
	} else {
		if appDir, err := AppDir(); err == nil {
			v.AddConfigPath(appDir)
		}
		v.SetConfigName(ConfigFileName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the values that would otherwise fail late
func (c Config) Validate() error {
	for name, raw := range map[string]string{
		"routing.base_url":   c.Routing.BaseURL,
		"geocoding.base_url": c.Geocoding.BaseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config: %s must be an absolute URL, got %q", name, raw)
		}
	}
	if c.Server.BaseURL != "" {
		if _, err := url.Parse(c.Server.BaseURL); err != nil {
			return fmt.Errorf("config: server.base_url: %w", err)
		}
	}
	if c.HTTP.Timeout < 0 {
		return fmt.Errorf("config: http.timeout must not be negative")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("config: session.ttl must be positive")
	}
	return nil
}
