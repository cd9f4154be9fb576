package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for calsync.
type Config struct {
	Engine    EngineConfig    `mapstructure:"engine"    yaml:"engine"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"   yaml:"fetcher"`
	Locator   LocatorConfig   `mapstructure:"locator"   yaml:"locator"`
	Venue     VenueConfig     `mapstructure:"venue"     yaml:"venue"`
	Storage   StorageConfig   `mapstructure:"storage"   yaml:"storage"`
	Publisher PublisherConfig `mapstructure:"publisher" yaml:"publisher"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"  yaml:"schedule"`
	API       APIConfig       `mapstructure:"api"       yaml:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   yaml:"metrics"`
}

// EngineConfig controls the pool orchestrator.
type EngineConfig struct {
	// Strategy picks the page source: "auto", "http" or "browser".
	Strategy            string        `mapstructure:"strategy"              yaml:"strategy"`
	MaxAttempts         int           `mapstructure:"max_attempts"          yaml:"max_attempts"`
	RetryDelay          time.Duration `mapstructure:"retry_delay"           yaml:"retry_delay"`
	PolitenessDelay     time.Duration `mapstructure:"politeness_delay"      yaml:"politeness_delay"`
	DefaultSeason       string        `mapstructure:"default_season"        yaml:"default_season"`
	DefaultLinkTemplate string        `mapstructure:"default_link_template" yaml:"default_link_template"`
	MaxUnions           int           `mapstructure:"max_unions"            yaml:"max_unions"`
	MaxAgeGroups        int           `mapstructure:"max_age_groups"        yaml:"max_age_groups"`
	MaxPools            int           `mapstructure:"max_pools"             yaml:"max_pools"`
	RespectRobotsTxt    bool          `mapstructure:"respect_robots_txt"    yaml:"respect_robots_txt"`
}

// FetcherConfig controls both navigators.
type FetcherConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ReadyTimeout      time.Duration `mapstructure:"ready_timeout"      yaml:"ready_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"       yaml:"settle_delay"`
	Headless          bool          `mapstructure:"headless"           yaml:"headless"`
	Stealth           bool          `mapstructure:"stealth"            yaml:"stealth"`
	BrowserBin        string        `mapstructure:"browser_bin"        yaml:"browser_bin"`
	UserAgents        []string      `mapstructure:"user_agents"        yaml:"user_agents"`
	MaxBodySize       int64         `mapstructure:"max_body_size"      yaml:"max_body_size"`
	IdleConnTimeout   time.Duration `mapstructure:"idle_conn_timeout"  yaml:"idle_conn_timeout"`
	MaxIdleConns      int           `mapstructure:"max_idle_conns"     yaml:"max_idle_conns"`
	TLSInsecure       bool          `mapstructure:"tls_insecure"       yaml:"tls_insecure"`
}

// LocatorConfig overrides the table selector strategies.
type LocatorConfig struct {
	Selectors []SelectorConfig `mapstructure:"selectors" yaml:"selectors"`
}

// SelectorConfig is one locator strategy.
type SelectorConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	Type string `mapstructure:"type" yaml:"type"` // css, xpath
	Expr string `mapstructure:"expr" yaml:"expr"`
}

// VenueConfig holds the default home venue.
type VenueConfig struct {
	Default string   `mapstructure:"default" yaml:"default"`
	Aliases []string `mapstructure:"aliases" yaml:"aliases"`
}

// StorageConfig controls persistence and exports.
type StorageConfig struct {
	Driver        string        `mapstructure:"driver"         yaml:"driver"` // sqlite, postgres, mongodb
	DSN           string        `mapstructure:"dsn"            yaml:"dsn"`
	MongoDatabase string        `mapstructure:"mongo_database" yaml:"mongo_database"`
	MaxOpenConns  int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	QueryTimeout  time.Duration `mapstructure:"query_timeout"  yaml:"query_timeout"`
	AutoMigrate   bool          `mapstructure:"auto_migrate"   yaml:"auto_migrate"`
	ExportType    string        `mapstructure:"export_type"    yaml:"export_type"` // "", json, jsonl, csv
	ExportPath    string        `mapstructure:"export_path"    yaml:"export_path"`
}

// PublisherConfig controls the WordPress events calendar sync.
type PublisherConfig struct {
	Enabled       bool          `mapstructure:"enabled"        yaml:"enabled"`
	BaseURL       string        `mapstructure:"base_url"       yaml:"base_url"`
	Username      string        `mapstructure:"username"       yaml:"username"`
	AppPassword   string        `mapstructure:"app_password"   yaml:"app_password"`
	Workers       int           `mapstructure:"workers"        yaml:"workers"`
	Timeout       time.Duration `mapstructure:"timeout"        yaml:"timeout"`
	Timezone      string        `mapstructure:"timezone"       yaml:"timezone"`
	EventDuration time.Duration `mapstructure:"event_duration" yaml:"event_duration"`
	Categories    []string      `mapstructure:"categories"     yaml:"categories"`
	Tags          []string      `mapstructure:"tags"           yaml:"tags"`
}

// ScheduleConfig controls the daily automatic run.
type ScheduleConfig struct {
	Enabled          bool   `mapstructure:"enabled"            yaml:"enabled"`
	DailyAt          string `mapstructure:"daily_at"           yaml:"daily_at"` // HH:MM
	Timezone         string `mapstructure:"timezone"           yaml:"timezone"`
	ClearBeforeSync  bool   `mapstructure:"clear_before_sync"  yaml:"clear_before_sync"`
	PublishAfterSync bool   `mapstructure:"publish_after_sync" yaml:"publish_after_sync"`
}

// APIConfig controls the HTTP trigger surface.
type APIConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level      string `mapstructure:"level"        yaml:"level"`
	Format     string `mapstructure:"format"       yaml:"format"`
	Output     string `mapstructure:"output"       yaml:"output"` // stderr, file, both
	File       string `mapstructure:"file"         yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"  yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"  yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress"     yaml:"compress"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Strategy:            "auto",
			MaxAttempts:         3,
			RetryDelay:          2 * time.Second,
			PolitenessDelay:     2 * time.Second,
			DefaultSeason:       "2024/2025",
			DefaultLinkTemplate: "https://www.bordtennisportalen.dk/DBTU/HoldTurnering/Stilling/#4.{season}.{pool}.{group}.{region}.....",
			MaxUnions:           50,
			MaxAgeGroups:        50,
			MaxPools:            200,
			RespectRobotsTxt:    true,
		},
		Fetcher: FetcherConfig{
			NavigationTimeout: 30 * time.Second,
			ReadyTimeout:      30 * time.Second,
			SettleDelay:       500 * time.Millisecond,
			Headless:          true,
			Stealth:           false,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
			MaxBodySize:     10 * 1024 * 1024, // 10MB
			IdleConnTimeout: 90 * time.Second,
			MaxIdleConns:    20,
		},
		Venue: VenueConfig{
			Default: "Grøndal MultiCenter",
			Aliases: []string{"Grøndal MultiCenter, lokale 28"},
		},
		Storage: StorageConfig{
			Driver:        "sqlite",
			DSN:           "file:calsync.db?_pragma=busy_timeout(5000)",
			MongoDatabase: "calsync",
			MaxOpenConns:  10,
			QueryTimeout:  15 * time.Second,
			AutoMigrate:   true,
			ExportPath:    "./output/matches.json",
		},
		Publisher: PublisherConfig{
			Enabled:       false,
			Workers:       4,
			Timeout:       20 * time.Second,
			Timezone:      "Europe/Copenhagen",
			EventDuration: 2 * time.Hour,
		},
		Schedule: ScheduleConfig{
			Enabled:  false,
			DailyAt:  "00:00",
			Timezone: "Europe/Copenhagen",
		},
		API: APIConfig{
			Port: 3000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			File:       "./logs/calsync.log",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
