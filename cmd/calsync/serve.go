package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/IshaanNene/calsync/internal/api"
	"github.com/IshaanNene/calsync/internal/config"
	"github.com/IshaanNene/calsync/internal/dashboard"
	"github.com/IshaanNene/calsync/internal/schedule"
)

var (
	servePort     int
	serveSchedule bool
)

// serveCmd creates the "serve" subcommand.
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the daily schedule",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (default from config)")
	cmd.Flags().BoolVar(&serveSchedule, "schedule", false, "enable the daily sync regardless of config")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), func(cfg *config.Config) {
		if servePort > 0 {
			cfg.API.Port = servePort
		}
		if serveSchedule {
			cfg.Schedule.Enabled = true
		}
	})
	if err != nil {
		return err
	}
	defer a.Close()

	eng := a.engine()
	syncer, err := a.syncer()
	if err != nil {
		return fmt.Errorf("create publisher: %w", err)
	}

	var sched *schedule.Scheduler
	if a.cfg.Schedule.Enabled {
		var schedOpts []schedule.Option
		if syncer != nil {
			schedOpts = append(schedOpts, schedule.WithPublisher(syncer))
		}
		sched, err = schedule.New(a.cfg, eng, a.store, a.logger, schedOpts...)
		if err != nil {
			return err
		}
	}

	opts := []api.Option{
		api.WithBaseContext(cmd.Context()),
		api.WithDashboard(dashboard.New(a.metrics, eng.Sessions(), a.store, a.logger)),
	}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, api.WithMetrics(a.cfg.Metrics.Path, a.metrics))
	}
	if syncer != nil {
		opts = append(opts, api.WithPublisher(syncer))
	}
	srv := api.NewServer(a.cfg.API, eng, a.store, a.logger, opts...)

	p := pool.New().WithContext(cmd.Context()).WithCancelOnError()
	p.Go(srv.ListenAndServe)
	if sched != nil {
		p.Go(func(ctx context.Context) error {
			if err := sched.Start(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	err = p.Wait()
	a.metrics.LogSummary()
	return err
}
