package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"relief_portal_backend/internal/missingpersons/domain"
	"relief_portal_backend/internal/missingpersons/geocode"
	"relief_portal_backend/internal/portalapi"
	"relief_portal_backend/internal/regions"
	"relief_portal_backend/platform/config"
	"relief_portal_backend/platform/db"
	"relief_portal_backend/platform/logger"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	state    string
	district string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "missing-geocode",
		Short: "Resolve and cluster every open missing-person report",
		Long: `missing-geocode fetches the missing-person records from the portal API,
resolves their last-seen locations and logs one line per map cluster plus
the records that could not be placed.`,
		Run: func(cmd *cobra.Command, args []string) {
			if err := run(cmd.Context()); err != nil {
				cmd.PrintErrln(err)
				os.Exit(1)
			}
		},
	}

	rootCmd.Flags().StringVarP(&state, "state", "s", "", "Only cluster records of this state")
	rootCmd.Flags().StringVarP(&district, "district", "d", "", "Only cluster records of this district (requires --state)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// run returns an error only when the records cannot be fetched or the
// filter is invalid; unresolved locations are reported, not fatal.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Env)
	log.Info("starting missing-person geocode run", "state", state, "district", district)

	filter, err := buildFilter(cfg)
	if err != nil {
		return err
	}

	var cache redis.Cmdable
	if cfg.IsRedisEnabled() {
		rdb, err := db.NewRedis(ctx, cfg)
		if err != nil {
			log.Warn("redis unavailable; resolving without cache", "error", err)
		} else {
			defer func() { _ = rdb.Close() }()
			cache = rdb
		}
	}

	portal := portalapi.NewFromConfig(cfg, log)
	records, err := portal.ListMissingPersons(ctx)
	if err != nil {
		log.Error("failed to fetch missing-person records", "error", err)
		return err
	}

	visible := domain.FilterVisible(records, filter)
	resolver := geocode.NewFromConfig(cfg, cache, log)
	batch := resolver.ResolveAll(ctx, domain.DistinctLocations(visible))
	result := domain.BuildClusters(visible, batch.Resolved)

	for _, c := range result.Clusters {
		log.Info("cluster",
			"key", c.Key,
			"label", c.LocationLabel,
			"lat", c.Position.Lat,
			"lon", c.Position.Lon,
			"members", len(c.Members),
		)
	}
	for query, lookupErr := range batch.Failed {
		log.Warn("location not resolved", "query", query, "error", lookupErr)
	}

	log.Info("geocode run complete",
		"records", len(records),
		"visible", len(visible),
		"lookups", batch.Lookups,
		"clusters", len(result.Clusters),
		"dropped", len(result.Dropped),
	)
	return nil
}

func buildFilter(cfg config.DashboardConfig) (domain.FilterState, error) {
	filter := domain.AllScope().SelectState(state)
	if district == "" {
		return filter, nil
	}

	ref, err := regions.Default()
	if path := cfg.GetDistrictsFile(); path != "" {
		ref, err = regions.Load(path)
	}
	if err != nil {
		return domain.FilterState{}, fmt.Errorf("load district reference list: %w", err)
	}
	filter, err = filter.SelectDistrict(district, ref)
	if err != nil {
		return domain.FilterState{}, fmt.Errorf("district %q: %w", district, err)
	}
	return filter, nil
}
