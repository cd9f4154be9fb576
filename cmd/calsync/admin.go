package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/calsync/internal/observability"
	"github.com/IshaanNene/calsync/internal/storage"
	"github.com/IshaanNene/calsync/internal/types"
)

var (
	logsLimit     int
	publishSeason string
)

// publishCmd creates the "publish" subcommand.
func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Push stored matches to the WordPress events calendar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close()
			return publishStored(cmd.Context(), a, publishSeason)
		},
	}
	cmd.Flags().StringVarP(&publishSeason, "season", "s", "", "only publish this season")
	return cmd
}

// logsCmd creates the "logs" subcommand.
func logsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			logs, err := a.store.RecentLogs(cmd.Context(), logsLimit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tSESSION\tSEASON\tSTATUS\tMATCHES\tMESSAGE")
			for _, l := range logs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					l.StartDatetime.Local().Format(time.DateTime), l.SessionID, l.Season, l.Status, l.TotalMatches, l.Message)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&logsLimit, "limit", "n", storage.DefaultRecentLogs, "number of runs to show")
	return cmd
}

// clearCmd creates the "clear" subcommand.
func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "clear {matches|logs}",
		Short:     "Delete all stored matches or the run log",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"matches", "logs"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			var n int64
			switch args[0] {
			case "matches":
				n, err = a.store.DeleteAllMatches(cmd.Context())
			case "logs":
				n, err = a.store.ClearLogs(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Printf("🗑  %d %s deleted\n", n, args[0])
			return nil
		},
	}
}

// venueCmd creates the "venue" subcommand.
func venueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "venue",
		Short: "Remember or show the venue used by scheduled runs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "save <venue>",
		Short: "Save a venue search",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close()
			name := strings.Join(args, " ")
			if err := a.store.SaveVenueSearch(cmd.Context(), name, time.Now().Format(time.RFC3339)); err != nil {
				return err
			}
			fmt.Printf("📍 saved %q\n", name)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "last",
		Short: "Show the most recently saved venue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer a.Close()
			v, err := a.store.LastVenue(cmd.Context())
			if errors.Is(err, types.ErrNotFound) {
				fmt.Printf("no venue saved, runs use %q\n", a.cfg.Venue.Default)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s (searched %s)\n", v.Venue, v.SearchTime)
			return nil
		},
	})
	return cmd
}

// migrateCmd creates the "migrate" subcommand.
func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate {up|down|version}",
		Short:     "Manage the SQL schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.Driver == storage.DriverMongo {
				return fmt.Errorf("migrations only apply to SQL drivers, storage.driver is %s", cfg.Storage.Driver)
			}
			logger, closer, err := observability.NewLogger(cfg.Logging, verbose)
			if err != nil {
				return err
			}
			defer closer.Close()

			storeCfg := cfg.Storage
			storeCfg.AutoMigrate = false
			store, err := storage.NewSQLStore(cmd.Context(), storeCfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			switch args[0] {
			case "up":
				err = store.MigrateUp()
			case "down":
				err = store.MigrateDown()
			}
			if err != nil {
				return err
			}
			version, dirty, err := store.MigrateVersion()
			if err != nil {
				return err
			}
			fmt.Printf("schema version %d (dirty: %v)\n", version, dirty)
			return nil
		},
	}
	return cmd
}
