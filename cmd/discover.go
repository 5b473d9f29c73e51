package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dost0092/web-scraper-atomic/internal/model"
	"github.com/dost0092/web-scraper-atomic/internal/scrape"
	"github.com/dost0092/web-scraper-atomic/internal/store"
)

// locationDiscoverer walks a chain's location directory.
type locationDiscoverer interface {
	Check(chainKey, countryCode string) error
	Discover(ctx context.Context, chainKey, countryCode string, emit func(context.Context, model.HotelLocation) error) (*scrape.DiscoverStats, error)
}

// locationStore saves and lists discovered property pages.
type locationStore interface {
	UpsertLocation(ctx context.Context, loc model.HotelLocation) (bool, error)
	ListLocations(ctx context.Context, filter store.LocationFilter) ([]model.HotelLocation, error)
}

// discoverRun is the outcome of one directory walk.
type discoverRun struct {
	Stats *scrape.DiscoverStats `json:"discovery"`
	New   int                   `json:"new"`
	URLs  []string              `json:"urls"`
}

// runDiscovery walks the directory, saves every location it finds and
// returns their URLs in discovery order. A save failure stops the walk.
func runDiscovery(ctx context.Context, d locationDiscoverer, locs locationStore, chainKey, countryCode string) (*discoverRun, error) {
	run := &discoverRun{URLs: []string{}}
	stats, err := d.Discover(ctx, chainKey, countryCode, func(ctx context.Context, loc model.HotelLocation) error {
		created, err := locs.UpsertLocation(ctx, loc)
		if err != nil {
			return eris.Wrapf(err, "discover: save %s", loc.URL)
		}
		if created {
			run.New++
		}
		run.URLs = append(run.URLs, loc.URL)
		return nil
	})
	run.Stats = stats
	return run, err
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find property URLs in a chain's location directory",
	Long: "Walks the chain's public location directory, saves every listed property page and prints the URLs. " +
		"With --extract the URLs are then run through the pipeline like a batch.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		chainKey, _ := cmd.Flags().GetString("chain")
		country, _ := cmd.Flags().GetString("country")
		output, _ := cmd.Flags().GetString("output")
		extractURLs, _ := cmd.Flags().GetBool("extract")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		refresh, _ := cmd.Flags().GetBool("refresh")
		if output != "urls" && output != "json" {
			return eris.Errorf("discover: unknown output %q (urls or json)", output)
		}
		if concurrency <= 0 {
			concurrency = cfg.Pipeline.Concurrency
		}

		var (
			env *pipelineEnv
			err error
		)
		if extractURLs {
			env, err = initPipeline(ctx)
		} else {
			env, err = initDiscovery(ctx)
		}
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Discoverer.Check(chainKey, country); err != nil {
			return err
		}
		run, err := runDiscovery(ctx, env.Discoverer, env.Store, chainKey, country)
		if err != nil {
			return err
		}

		if !extractURLs {
			if output == "json" {
				return printJSON(run)
			}
			for _, u := range run.URLs {
				fmt.Fprintln(cmd.OutOrStdout(), u)
			}
			return nil
		}

		res := processBatch(ctx, run.URLs, refresh, concurrency, env.Orchestrator.Run)
		if err := printJSON(map[string]any{"discovery": run.Stats, "new": run.New, "batch": res}); err != nil {
			return err
		}
		if res.Failed > 0 {
			return eris.Errorf("discover: %d of %d urls failed", res.Failed, res.Total)
		}
		return nil
	},
}

var locationsCmd = &cobra.Command{
	Use:   "locations",
	Short: "List discovered property pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		chainKey, _ := cmd.Flags().GetString("chain")
		country, _ := cmd.Flags().GetString("country")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		locs, err := st.ListLocations(ctx, store.LocationFilter{
			Chain:       strings.ToLower(chainKey),
			CountryCode: strings.ToUpper(country),
			Limit:       limit,
			Offset:      offset,
		})
		if err != nil {
			return err
		}
		if locs == nil {
			locs = []model.HotelLocation{}
		}
		zap.L().Debug("locations listed", zap.Int("count", len(locs)))
		return printJSON(locs)
	},
}

func init() {
	discoverCmd.Flags().String("chain", "", "chain key from the catalogue (required)")
	discoverCmd.Flags().String("country", "", "ISO country code to restrict the walk to")
	discoverCmd.Flags().String("output", "urls", "urls or json")
	discoverCmd.Flags().Bool("extract", false, "run every discovered URL through the pipeline")
	discoverCmd.Flags().Int("concurrency", 0, "parallel runs with --extract (default pipeline.concurrency)")
	discoverCmd.Flags().Bool("refresh", false, "with --extract, scrape again even when a URL is already finalized")
	_ = discoverCmd.MarkFlagRequired("chain")
	rootCmd.AddCommand(discoverCmd)

	locationsCmd.Flags().String("chain", "", "filter by chain key")
	locationsCmd.Flags().String("country", "", "filter by ISO country code")
	locationsCmd.Flags().Int("limit", 100, "maximum locations")
	locationsCmd.Flags().Int("offset", 0, "locations to skip")
	rootCmd.AddCommand(locationsCmd)
}
