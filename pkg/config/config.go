package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/schema/main.go schema.json

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen  string        `yaml:"listen" json:"listen" jsonschema:"default=:8080,description=HTTP server listen address"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
	} `yaml:"server" json:"server" jsonschema:"description=Server configuration"`

	Database struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:podscope.db?cache=shared&mode=rwc,description=Database connection string"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
	} `yaml:"database" json:"database" jsonschema:"description=Database configuration"`

	Schedule struct {
		RefreshInterval int `yaml:"refresh_interval" json:"refresh_interval" jsonschema:"default=30,description=Feed refresh interval in minutes"`
		SweepInterval   int `yaml:"sweep_interval" json:"sweep_interval" jsonschema:"default=60,description=Decay sweep interval in minutes"`
		MaxWorkers      int `yaml:"max_workers" json:"max_workers" jsonschema:"default=5,description=Maximum concurrent refresh workers"`
	} `yaml:"schedule" json:"schedule" jsonschema:"description=Scheduler configuration"`

	Fetch FetchConfig `yaml:"fetch" json:"fetch" jsonschema:"description=Feed fetching configuration"`

	Refresh RefreshConfig `yaml:"refresh" json:"refresh" jsonschema:"description=Refresh rate limiting configuration"`

	Lifecycle LifecycleConfig `yaml:"lifecycle" json:"lifecycle" jsonschema:"description=Episode lifecycle configuration"`

	Enrichment EnrichmentConfig `yaml:"enrichment" json:"enrichment" jsonschema:"description=Show notes enrichment configuration"`
}

// FetchConfig holds feed fetcher settings
type FetchConfig struct {
	Timeout      time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Fetch timeout per feed"`
	MaxRedirects int           `yaml:"max_redirects" json:"max_redirects" jsonschema:"default=5,description=Maximum redirects to follow per fetch"`
	UserAgent    string        `yaml:"user_agent" json:"user_agent" jsonschema:"default=podscope/1.0,description=User agent for feed requests"`
}

// RefreshConfig holds refresh rate-limit settings
type RefreshConfig struct {
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown" jsonschema:"default=1h,description=Minimum time between refreshes of one podcast"`
}

// LifecycleConfig holds lifecycle engine settings
type LifecycleConfig struct {
	DecayWindow time.Duration `yaml:"decay_window" json:"decay_window" jsonschema:"default=168h,description=Age after which NEW episodes decay to AVAILABLE"`
}

// EnrichmentConfig holds show-notes enrichment settings
type EnrichmentConfig struct {
	Enabled   bool          `yaml:"enabled" json:"enabled" jsonschema:"default=false,description=Extract show notes from episode pages when the feed has none"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Extraction timeout per page"`
	UserAgent string        `yaml:"user_agent" json:"user_agent" jsonschema:"default=podscope/1.0,description=User agent for page requests"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// Default returns a configuration with all defaults applied, used when no
// config file is given
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 30 * time.Second
	}

	if c.Database.DSN == "" {
		c.Database.DSN = "file:podscope.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 3600
	}

	if c.Schedule.RefreshInterval == 0 {
		c.Schedule.RefreshInterval = 30
	}
	if c.Schedule.SweepInterval == 0 {
		c.Schedule.SweepInterval = 60
	}
	if c.Schedule.MaxWorkers == 0 {
		c.Schedule.MaxWorkers = 5
	}

	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.MaxRedirects == 0 {
		c.Fetch.MaxRedirects = 5
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "podscope/1.0"
	}

	if c.Refresh.Cooldown == 0 {
		c.Refresh.Cooldown = time.Hour
	}
	if c.Lifecycle.DecayWindow == 0 {
		c.Lifecycle.DecayWindow = 7 * 24 * time.Hour
	}

	if c.Enrichment.Timeout == 0 {
		c.Enrichment.Timeout = 30 * time.Second
	}
	if c.Enrichment.UserAgent == "" {
		c.Enrichment.UserAgent = c.Fetch.UserAgent
	}
}

// GetServerConfig returns the HTTP server settings
func (c *Config) GetServerConfig() (listen string, timeout time.Duration) {
	return c.Server.Listen, c.Server.Timeout
}
