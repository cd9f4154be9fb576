package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and CLI flags.
// Priority (highest to lowest): CLI flags > env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	v.SetEnvPrefix("CALSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("calsync")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".calsync"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers default values in viper so env overrides bind.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("engine.strategy", cfg.Engine.Strategy)
	v.SetDefault("engine.max_attempts", cfg.Engine.MaxAttempts)
	v.SetDefault("engine.retry_delay", cfg.Engine.RetryDelay)
	v.SetDefault("engine.politeness_delay", cfg.Engine.PolitenessDelay)
	v.SetDefault("engine.default_season", cfg.Engine.DefaultSeason)
	v.SetDefault("engine.default_link_template", cfg.Engine.DefaultLinkTemplate)
	v.SetDefault("engine.max_unions", cfg.Engine.MaxUnions)
	v.SetDefault("engine.max_age_groups", cfg.Engine.MaxAgeGroups)
	v.SetDefault("engine.max_pools", cfg.Engine.MaxPools)
	v.SetDefault("engine.respect_robots_txt", cfg.Engine.RespectRobotsTxt)

	v.SetDefault("fetcher.navigation_timeout", cfg.Fetcher.NavigationTimeout)
	v.SetDefault("fetcher.ready_timeout", cfg.Fetcher.ReadyTimeout)
	v.SetDefault("fetcher.settle_delay", cfg.Fetcher.SettleDelay)
	v.SetDefault("fetcher.headless", cfg.Fetcher.Headless)
	v.SetDefault("fetcher.stealth", cfg.Fetcher.Stealth)
	v.SetDefault("fetcher.browser_bin", cfg.Fetcher.BrowserBin)
	v.SetDefault("fetcher.user_agents", cfg.Fetcher.UserAgents)
	v.SetDefault("fetcher.max_body_size", cfg.Fetcher.MaxBodySize)
	v.SetDefault("fetcher.idle_conn_timeout", cfg.Fetcher.IdleConnTimeout)
	v.SetDefault("fetcher.max_idle_conns", cfg.Fetcher.MaxIdleConns)
	v.SetDefault("fetcher.tls_insecure", cfg.Fetcher.TLSInsecure)

	v.SetDefault("venue.default", cfg.Venue.Default)
	v.SetDefault("venue.aliases", cfg.Venue.Aliases)

	v.SetDefault("storage.driver", cfg.Storage.Driver)
	v.SetDefault("storage.dsn", cfg.Storage.DSN)
	v.SetDefault("storage.mongo_database", cfg.Storage.MongoDatabase)
	v.SetDefault("storage.max_open_conns", cfg.Storage.MaxOpenConns)
	v.SetDefault("storage.query_timeout", cfg.Storage.QueryTimeout)
	v.SetDefault("storage.auto_migrate", cfg.Storage.AutoMigrate)
	v.SetDefault("storage.export_type", cfg.Storage.ExportType)
	v.SetDefault("storage.export_path", cfg.Storage.ExportPath)

	v.SetDefault("publisher.enabled", cfg.Publisher.Enabled)
	v.SetDefault("publisher.base_url", cfg.Publisher.BaseURL)
	v.SetDefault("publisher.username", cfg.Publisher.Username)
	v.SetDefault("publisher.app_password", cfg.Publisher.AppPassword)
	v.SetDefault("publisher.workers", cfg.Publisher.Workers)
	v.SetDefault("publisher.timeout", cfg.Publisher.Timeout)
	v.SetDefault("publisher.timezone", cfg.Publisher.Timezone)
	v.SetDefault("publisher.event_duration", cfg.Publisher.EventDuration)

	v.SetDefault("schedule.enabled", cfg.Schedule.Enabled)
	v.SetDefault("schedule.daily_at", cfg.Schedule.DailyAt)
	v.SetDefault("schedule.timezone", cfg.Schedule.Timezone)
	v.SetDefault("schedule.clear_before_sync", cfg.Schedule.ClearBeforeSync)
	v.SetDefault("schedule.publish_after_sync", cfg.Schedule.PublishAfterSync)

	v.SetDefault("api.port", cfg.API.Port)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.max_size_mb", cfg.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", cfg.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", cfg.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", cfg.Logging.Compress)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
