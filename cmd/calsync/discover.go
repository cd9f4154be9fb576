package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/calsync/internal/types"
)

var (
	discoverBaseURL   string
	discoverSeason    string
	discoverMaxUnions int
	discoverMaxGroups int
	discoverMaxPools  int
	discoverSave      bool
)

// discoverCmd creates the "discover" subcommand.
func discoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Crawl unions, age groups and pools into pool definitions",
		Args:  cobra.NoArgs,
		RunE:  runDiscover,
	}
	cmd.Flags().StringVar(&discoverBaseURL, "base-url", "", "tournament overview page")
	cmd.Flags().StringVarP(&discoverSeason, "season", "s", "", "season identifier (default from config)")
	cmd.Flags().IntVar(&discoverMaxUnions, "max-unions", 0, "maximum unions to visit (0 = config)")
	cmd.Flags().IntVar(&discoverMaxGroups, "max-groups", 0, "maximum age groups to visit (0 = config)")
	cmd.Flags().IntVar(&discoverMaxPools, "max-pools", 0, "maximum pools to collect (0 = config)")
	cmd.Flags().BoolVar(&discoverSave, "save", false, "store the discovered pools")
	_ = cmd.MarkFlagRequired("base-url")
	return cmd
}

func runDiscover(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.engine().Discover(cmd.Context(), types.DiscoverRequest{
		BaseURL:   discoverBaseURL,
		Season:    firstNonEmpty(discoverSeason, a.cfg.Engine.DefaultSeason),
		MaxUnions: discoverMaxUnions,
		MaxGroups: discoverMaxGroups,
		MaxPools:  discoverMaxPools,
		SavePools: discoverSave,
	})
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}

	fmt.Printf("\n🔎 %d unions, %d age groups, %d pools\n", res.Unions, res.AgeGroups, len(res.Pools))
	for _, p := range res.Pools {
		fmt.Printf("   %-10s %-30s %s / %s\n", p.PoolValue, p.PoolName, p.RegionName, p.AgeGroupName)
	}
	if len(res.Skipped) > 0 {
		fmt.Printf("\n   Skipped %d pages:\n", len(res.Skipped))
		for _, s := range res.Skipped {
			fmt.Printf("   - %s\n", s)
		}
	}
	if discoverSave {
		fmt.Printf("\n   Saved: %d\n", res.Saved)
	}
	return nil
}
