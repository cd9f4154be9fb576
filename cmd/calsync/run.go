package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/IshaanNene/calsync/internal/config"
	"github.com/IshaanNene/calsync/internal/engine"
	"github.com/IshaanNene/calsync/internal/types"
)

var (
	runSeason    string
	runLink      string
	runVenue     string
	runSession   string
	runStrategy  string
	runAllVenues bool
	runPublish   bool
	runNoBar     bool
)

// runCmd creates the "run" subcommand.
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape every pool of a season once",
		Long: `Load the season's pools from storage, read each pool page and store the
matches played at the venue. Pools that keep failing are skipped and listed
in the summary.`,
		Args: cobra.NoArgs,
		RunE: runRun,
	}

	cmd.Flags().StringVarP(&runSeason, "season", "s", "", "season identifier (default from config)")
	cmd.Flags().StringVarP(&runLink, "link", "l", "", "pool link template with {season} {region} {group} {pool} (default from config)")
	cmd.Flags().StringVar(&runVenue, "venue", "", "venue filter, several separated by ';' (default from config)")
	cmd.Flags().StringVar(&runSession, "session", "", "session id (default session_<unixms>)")
	cmd.Flags().StringVar(&runStrategy, "strategy", "", "page source: auto, http or browser")
	cmd.Flags().BoolVar(&runAllVenues, "all-venues", false, "keep matches at every venue")
	cmd.Flags().BoolVar(&runPublish, "publish", false, "publish stored matches to the calendar after a successful run")
	cmd.Flags().BoolVar(&runNoBar, "no-progress", false, "disable the progress bar")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, func(cfg *config.Config) {
		if runStrategy != "" {
			cfg.Engine.Strategy = runStrategy
		}
	})
	if err != nil {
		return err
	}
	defer a.Close()

	req := types.RunRequest{
		Season:             firstNonEmpty(runSeason, a.cfg.Engine.DefaultSeason),
		LinkStructure:      firstNonEmpty(runLink, a.cfg.Engine.DefaultLinkTemplate),
		Venue:              firstNonEmpty(runVenue, a.cfg.Venue.Default),
		SessionID:          firstNonEmpty(runSession, types.NewSessionID(time.Now())),
		DisableVenueFilter: runAllVenues,
	}
	eng := a.engine()

	a.logger.Info("starting run",
		"session_id", req.SessionID,
		"season", req.Season,
		"venue", req.Venue,
		"strategy", a.cfg.Engine.Strategy,
	)

	done := make(chan struct{})
	if !runNoBar {
		go showProgress(eng, req.SessionID, done)
	}
	res := eng.Run(ctx, req)
	close(done)

	printResult(res)
	a.metrics.LogSummary()

	if !res.Success {
		return fmt.Errorf("run failed: %s", res.Message)
	}
	if runPublish || (a.cfg.Publisher.Enabled && a.cfg.Schedule.PublishAfterSync) {
		return publishStored(ctx, a, req.Season)
	}
	return nil
}

// showProgress renders pool progress until done is closed.
func showProgress(eng *engine.Engine, sessionID string, done <-chan struct{}) {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("pools"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	defer func() { _ = bar.Finish() }()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	total := -1
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s, ok := eng.Sessions().Snapshot(sessionID)
			if !ok {
				continue
			}
			if s.PoolsTotal > 0 && s.PoolsTotal != total {
				total = s.PoolsTotal
				bar.ChangeMax(total)
			}
			bar.Describe(fmt.Sprintf("pools (%d matches)", s.MatchesTotal))
			_ = bar.Set(s.PoolsProcessed)
		}
	}
}

func printResult(res types.RunResult) {
	mark := "✅"
	if !res.Success {
		mark = "❌"
	}
	fmt.Printf("\n%s %s\n", mark, res.Message)
	fmt.Printf("   Session:   %s\n", res.SessionID)
	fmt.Printf("   Matches:   %d\n", res.TotalMatches)
	fmt.Printf("   Pools:     %d (%d failed)\n", res.PoolsTotal, len(res.PoolsFailed))
	fmt.Printf("   Duration:  %s\n", res.Duration.Round(time.Millisecond))
	for _, f := range res.PoolsFailed {
		fmt.Printf("   - #%d %s after %d attempts: %s\n", f.Index, f.Pool, f.Attempts, f.Error)
	}

	var noPools *types.NoPoolsError
	if errors.As(res.Err, &noPools) {
		fmt.Println("\n💡 No pools are stored for this season. Load them first with:")
		fmt.Println("     calsync discover --base-url <portal url> --season <season> --save")
	}
}

func publishStored(ctx context.Context, a *app, season string) error {
	syncer, err := a.syncer()
	if err != nil {
		return fmt.Errorf("create publisher: %w", err)
	}
	if syncer == nil {
		return errors.New("publishing is disabled; set publisher.enabled")
	}
	records, err := a.store.ListMatches(ctx, season)
	if err != nil {
		return fmt.Errorf("list matches: %w", err)
	}
	summary, err := syncer.SyncAll(ctx, records)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	fmt.Printf("\n📅 Calendar: %d synced (%d new), %d failed\n", summary.Succeeded, summary.Created, summary.Failed)
	for _, e := range summary.Errors {
		fmt.Printf("   - %s\n", e)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
