package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/lakeview/internal/config"
	"github.com/3leaps/lakeview/pkg/browse"
	"github.com/3leaps/lakeview/pkg/inventory"
	"github.com/3leaps/lakeview/pkg/inventory/athena"
	"github.com/3leaps/lakeview/pkg/inventory/sqlite"
	"github.com/3leaps/lakeview/pkg/listcache"
)

// backendBindings are the flags shared by serve and ls.
var backendBindings = map[string][]string{
	"backend":         {"backend"},
	"database":        {"athena.database"},
	"table":           {"athena.table"},
	"output-location": {"athena.output_location"},
	"workgroup":       {"athena.workgroup"},
	"region":          {"athena.region"},
	"profile":         {"athena.profile"},
	"endpoint":        {"athena.endpoint"},
	"bucket":          {"athena.bucket", "sqlite.bucket"},
	"snapshot":        {"athena.snapshot", "sqlite.snapshot"},
	"sqlite-path":     {"sqlite.path"},
	"sqlite-url":      {"sqlite.url"},
	"query-timeout":   {"query.timeout"},
	"cache-ttl":       {"cache.ttl"},
	"cache-capacity":  {"cache.capacity"},
}

// openQueryService constructs the configured inventory backend.
func openQueryService(ctx context.Context, cfg *config.Config) (inventory.QueryService, error) {
	switch inventory.Backend(cfg.Backend) {
	case inventory.BackendAthena:
		return athena.New(ctx, cfg.Athena.AdapterConfig())
	case inventory.BackendSQLite:
		return sqlite.OpenService(ctx, cfg.SQLite.StoreConfig(), cfg.SQLite.Options())
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// newBrowseService wires a query service into a cached browse service.
func newBrowseService(query inventory.QueryService, cfg *config.Config, logger *zap.Logger) (*browse.Service, error) {
	cache, err := listcache.New(listcache.Config{
		TTL:      cfg.Cache.TTL,
		Capacity: cfg.Cache.Capacity,
	})
	if err != nil {
		return nil, err
	}
	return browse.NewService(query, cache, browse.Options{
		QueryTimeout: cfg.Query.Timeout,
		Logger:       logger,
	})
}

// backendSummary describes the data source for banners and logs.
func backendSummary(cfg *config.Config) []zap.Field {
	if inventory.Backend(cfg.Backend) == inventory.BackendSQLite {
		source := cfg.SQLite.Path
		if cfg.SQLite.URL != "" {
			source = cfg.SQLite.URL
		}
		return []zap.Field{
			zap.String("backend", cfg.Backend),
			zap.String("source", source),
		}
	}
	return []zap.Field{
		zap.String("backend", cfg.Backend),
		zap.String("database", cfg.Athena.Database),
		zap.String("table", cfg.Athena.Table),
		zap.String("output_location", cfg.Athena.OutputLocation),
	}
}

// addBackendFlags registers the backend selection and tuning flags. Only
// flags set on the command line override the loaded configuration.
func addBackendFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("backend", "athena", "Query backend (athena|sqlite)")
	f.String("database", "default", "Athena database holding the inventory table")
	f.String("table", "inventory", "Inventory table name")
	f.String("output-location", "", "s3:// URI for Athena query results (required for athena unless the workgroup sets one)")
	f.String("workgroup", "", "Athena workgroup")
	f.String("region", "", "AWS region")
	f.String("profile", "", "AWS shared config profile")
	f.String("endpoint", "", "Custom Athena endpoint URL")
	f.String("bucket", "", "Restrict rows to one source bucket")
	f.String("snapshot", "", "Inventory snapshot partition (dt)")
	f.String("sqlite-path", "", "Local SQLite inventory database")
	f.String("sqlite-url", "", "libsql URL for a remote inventory database")
	f.Duration("query-timeout", 0, "Deadline for one inventory query (default 60s)")
	f.Duration("cache-ttl", 0, "Listing cache entry lifetime (default 24h)")
	f.Int("cache-capacity", 0, "Maximum cached listings (default 500)")
}
