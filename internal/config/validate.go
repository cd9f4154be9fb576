package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var dailyAtRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	switch cfg.Engine.Strategy {
	case "auto", "http", "browser":
	default:
		return fmt.Errorf("engine.strategy must be 'auto', 'http' or 'browser', got %q", cfg.Engine.Strategy)
	}
	if cfg.Engine.MaxAttempts < 1 {
		return fmt.Errorf("engine.max_attempts must be >= 1, got %d", cfg.Engine.MaxAttempts)
	}
	if cfg.Engine.MaxAttempts > 10 {
		return fmt.Errorf("engine.max_attempts must be <= 10, got %d", cfg.Engine.MaxAttempts)
	}
	if cfg.Engine.RetryDelay < 0 {
		return fmt.Errorf("engine.retry_delay must be >= 0")
	}
	if cfg.Engine.PolitenessDelay < 0 {
		return fmt.Errorf("engine.politeness_delay must be >= 0")
	}
	if cfg.Engine.MaxPools < 0 || cfg.Engine.MaxUnions < 0 || cfg.Engine.MaxAgeGroups < 0 {
		return fmt.Errorf("engine discovery caps must be >= 0")
	}

	if cfg.Fetcher.NavigationTimeout <= 0 {
		return fmt.Errorf("fetcher.navigation_timeout must be > 0")
	}
	if cfg.Fetcher.ReadyTimeout <= 0 {
		return fmt.Errorf("fetcher.ready_timeout must be > 0")
	}
	if cfg.Fetcher.MaxBodySize <= 0 {
		return fmt.Errorf("fetcher.max_body_size must be > 0")
	}

	for i, sel := range cfg.Locator.Selectors {
		if sel.Type != "css" && sel.Type != "xpath" {
			return fmt.Errorf("locator.selectors[%d].type must be 'css' or 'xpath', got %q", i, sel.Type)
		}
		if strings.TrimSpace(sel.Expr) == "" {
			return fmt.Errorf("locator.selectors[%d].expr must not be empty", i)
		}
	}

	switch cfg.Storage.Driver {
	case "sqlite", "postgres", "mongodb":
	default:
		return fmt.Errorf("storage.driver %q is not supported (valid: sqlite, postgres, mongodb)", cfg.Storage.Driver)
	}
	if cfg.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn must be set")
	}
	if cfg.Storage.MaxOpenConns < 1 {
		return fmt.Errorf("storage.max_open_conns must be >= 1, got %d", cfg.Storage.MaxOpenConns)
	}
	switch cfg.Storage.ExportType {
	case "", "json", "jsonl", "csv":
	default:
		return fmt.Errorf("storage.export_type %q is not supported (valid: json, jsonl, csv)", cfg.Storage.ExportType)
	}

	if cfg.Publisher.Enabled {
		if err := ValidateURL(cfg.Publisher.BaseURL); err != nil {
			return fmt.Errorf("publisher.base_url: %w", err)
		}
		if cfg.Publisher.Username == "" || cfg.Publisher.AppPassword == "" {
			return fmt.Errorf("publisher.username and publisher.app_password are required when publishing is enabled")
		}
		if cfg.Publisher.Workers < 1 {
			return fmt.Errorf("publisher.workers must be >= 1, got %d", cfg.Publisher.Workers)
		}
		if _, err := time.LoadLocation(cfg.Publisher.Timezone); err != nil {
			return fmt.Errorf("publisher.timezone %q: %w", cfg.Publisher.Timezone, err)
		}
	}

	if cfg.Schedule.Enabled {
		if !dailyAtRe.MatchString(cfg.Schedule.DailyAt) {
			return fmt.Errorf("schedule.daily_at must be HH:MM, got %q", cfg.Schedule.DailyAt)
		}
		if _, err := time.LoadLocation(cfg.Schedule.Timezone); err != nil {
			return fmt.Errorf("schedule.timezone %q: %w", cfg.Schedule.Timezone, err)
		}
	}

	if cfg.API.Port < 1 || cfg.API.Port > 65535 {
		return fmt.Errorf("api.port must be 1-65535, got %d", cfg.API.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}
	switch cfg.Logging.Output {
	case "stderr", "file", "both":
	default:
		return fmt.Errorf("logging.output must be stderr/file/both, got %q", cfg.Logging.Output)
	}

	return nil
}

// ValidateURL checks if a URL string is an absolute http(s) URL.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
