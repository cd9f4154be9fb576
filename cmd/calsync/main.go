package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/calsync/internal/config"
	"github.com/IshaanNene/calsync/internal/engine"
	"github.com/IshaanNene/calsync/internal/fetcher"
	"github.com/IshaanNene/calsync/internal/observability"
	"github.com/IshaanNene/calsync/internal/publisher"
	"github.com/IshaanNene/calsync/internal/storage"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "calsync",
		Short: "calsync: table tennis fixtures to a club calendar",
		Long: `calsync scrapes team tournament pools from the results portal, keeps the
matches played at the club's venue and stores them for the club calendar.

Commands:
  run        scrape every pool of a season once
  cancel     stop a run on a running server
  serve      start the HTTP API and the daily schedule
  discover   crawl unions, age groups and pools into pool definitions
  publish    push stored matches to the WordPress events calendar
  logs, clear, venue, migrate   administer stored data`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(discoverCmd())
	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(clearCmd())
	rootCmd.AddCommand(venueCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// app holds the wired components shared by the commands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   storage.Store
	metrics *observability.Metrics
	closers []io.Closer
}

// loadConfig reads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newApp loads config, builds the logger and opens storage.
func newApp(ctx context.Context, override func(*config.Config)) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if override != nil {
		override(cfg)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, logCloser, err := observability.NewLogger(cfg.Logging, verbose)
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}

	store, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.store = store
	a.closers = append([]io.Closer{store}, a.closers...)
	a.metrics = observability.NewMetrics(logger)

	logger.Debug("storage ready", "backend", store.Name())
	return a, nil
}

func (a *app) engine() *engine.Engine {
	return engine.New(a.cfg, a.store, fetcher.NewFactory(a.cfg, a.logger), a.logger, engine.WithMetrics(a.metrics))
}

// syncer returns nil when publishing is disabled.
func (a *app) syncer() (*publisher.Syncer, error) {
	if !a.cfg.Publisher.Enabled {
		return nil, nil
	}
	sink, err := publisher.NewWordPressSink(a.cfg.Publisher, a.logger)
	if err != nil {
		return nil, err
	}
	return publisher.NewSyncer(sink, a.cfg.Publisher.Workers, a.logger, publisher.WithMetrics(a.metrics)), nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil && a.logger != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("calsync %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("Engine:\n")
			fmt.Printf("  Strategy:          %s\n", cfg.Engine.Strategy)
			fmt.Printf("  Max Attempts:      %d\n", cfg.Engine.MaxAttempts)
			fmt.Printf("  Retry Delay:       %s\n", cfg.Engine.RetryDelay)
			fmt.Printf("  Politeness Delay:  %s\n", cfg.Engine.PolitenessDelay)
			fmt.Printf("  Default Season:    %s\n", cfg.Engine.DefaultSeason)
			fmt.Printf("  Link Template:     %s\n", cfg.Engine.DefaultLinkTemplate)
			fmt.Printf("\nFetcher:\n")
			fmt.Printf("  Navigation Timeout: %s\n", cfg.Fetcher.NavigationTimeout)
			fmt.Printf("  Headless:          %v\n", cfg.Fetcher.Headless)
			fmt.Printf("  Stealth:           %v\n", cfg.Fetcher.Stealth)
			fmt.Printf("\nVenue:\n")
			fmt.Printf("  Default:           %s\n", cfg.Venue.Default)
			fmt.Printf("\nStorage:\n")
			fmt.Printf("  Driver:            %s\n", cfg.Storage.Driver)
			fmt.Printf("  Export:            %s %s\n", cfg.Storage.ExportType, cfg.Storage.ExportPath)
			fmt.Printf("\nPublisher:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.Publisher.Enabled)
			fmt.Printf("  Base URL:          %s\n", cfg.Publisher.BaseURL)
			fmt.Printf("\nSchedule:\n")
			fmt.Printf("  Enabled:           %v\n", cfg.Schedule.Enabled)
			fmt.Printf("  Daily At:          %s %s\n", cfg.Schedule.DailyAt, cfg.Schedule.Timezone)
			fmt.Printf("\nAPI:\n")
			fmt.Printf("  Port:              %d\n", cfg.API.Port)
			fmt.Printf("  Metrics:           %v %s\n", cfg.Metrics.Enabled, cfg.Metrics.Path)
			return nil
		},
	}
}
