// Command pipeline runs the housing-market ingestion stages and the derived
// metrics pass against one Postgres database. Stages are strictly sequential;
// each one is idempotent, so a failed run is recovered by running again.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"housing-market-pipeline/internal/config"
	"housing-market-pipeline/internal/dataset"
	"housing-market-pipeline/internal/db"
	"housing-market-pipeline/internal/fetcher"
	"housing-market-pipeline/internal/geo"
	"housing-market-pipeline/internal/metrics"
)

type stageResult struct {
	name     string
	err      error
	duration time.Duration
	scanned  int64
	matched  int64
	synced   int64
}

func main() {
	cfg := config.FromEnv()

	var runZillow, runCensus, runRedfin, runMetrics, runAll bool
	flag.BoolVar(&runZillow, "zillow", false, "Run the home-value index stage")
	flag.BoolVar(&runCensus, "census", false, "Run the ACS demographics stage")
	flag.BoolVar(&runRedfin, "redfin", false, "Run the market tracker stage")
	flag.BoolVar(&runMetrics, "metrics", false, "Run the derived-metrics stage")
	flag.BoolVar(&runAll, "all", false, "Run every stage (default when no stage flag is set)")

	flag.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "Postgres connection string. Env: DATABASE_URL")
	flag.IntVar(&cfg.PGMaxConns, "pg-max-conns", cfg.PGMaxConns, "DB max connections. Env: PG_MAX_CONNS")
	flag.BoolVar(&cfg.PGViaBouncer, "pg-via-bouncer", cfg.PGViaBouncer, "Use simple protocol for PgBouncer txn pooling. Env: PG_VIA_BOUNCER")
	flag.IntVar(&cfg.BatchSize, "pg-batch", cfg.BatchSize, "DB upsert batch size. Env: PG_BATCH")
	flag.StringVar(&cfg.RegionZips, "zips", cfg.RegionZips, "Comma-separated zip allow-list override. Env: REGION_ZIPS")
	flag.StringVar(&cfg.ZillowBaseURL, "zillow-base-url", cfg.ZillowBaseURL, "Value-index CSV base URL. Env: ZILLOW_BASE_URL")
	flag.StringVar(&cfg.CensusBaseURL, "census-base-url", cfg.CensusBaseURL, "Census API base URL. Env: CENSUS_BASE_URL")
	flag.StringVar(&cfg.CensusAPIKey, "census-api-key", cfg.CensusAPIKey, "Census API key (optional). Env: CENSUS_API_KEY")
	flag.StringVar(&cfg.RedfinURL, "redfin-url", cfg.RedfinURL, "Market tracker gzip TSV URL. Env: REDFIN_TRACKER_URL")
	flag.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "HTTP User-Agent. Env: HTTP_USER_AGENT")
	flag.IntVar(&cfg.TimeoutSec, "http-timeout-sec", cfg.TimeoutSec, "Whole-request HTTP timeout in seconds. Env: HTTP_TIMEOUT_SEC")
	flag.Float64Var(&cfg.RPS, "rps", cfg.RPS, "Outbound requests per second (0 = unlimited). Env: REQUEST_RPS")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	runID := uuid.NewString()
	zap.ReplaceGlobals(logger.With(zap.String("run_id", runID)))
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		zap.L().Error("bad configuration", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:   int32(cfg.PGMaxConns),
		ViaBouncer: cfg.PGViaBouncer,
	})
	if err != nil {
		zap.L().Error("pool unavailable", zap.Error(err))
		os.Exit(1)
	}
	defer pool.Close()

	filter := geo.DefaultFilter()
	if zips := cfg.ZipList(); zips != nil {
		filter = geo.NewFilter(zips)
	}
	zap.L().Info("run starting",
		zap.Int("allowed_zips", filter.Size()),
		zap.Float64("rps", cfg.RPS),
	)

	f := fetcher.New(fetcher.Options{
		UserAgent: cfg.UserAgent,
		Timeout:   time.Duration(cfg.TimeoutSec) * time.Second,
		RPS:       cfg.RPS,
	})

	if !runZillow && !runCensus && !runRedfin && !runMetrics {
		runAll = true
	}
	if runAll {
		runZillow, runCensus, runRedfin, runMetrics = true, true, true, true
	}

	var results []stageResult

	runDataset := func(ds dataset.Dataset) {
		start := time.Now()
		res, err := ds.Sync(ctx, pool, f)
		r := stageResult{name: ds.Name(), err: err, duration: time.Since(start)}
		if res != nil {
			r.scanned, r.matched, r.synced = res.RowsScanned, res.RowsMatched, res.RowsSynced
		}
		if err != nil {
			zap.L().Error("stage failed", zap.String("stage", ds.Name()), zap.Error(err))
		}
		results = append(results, r)
	}

	if runZillow {
		runDataset(&dataset.Zillow{Filter: filter, BaseURL: cfg.ZillowBaseURL, BatchSize: cfg.BatchSize})
	}
	if runCensus {
		runDataset(&dataset.Census{Filter: filter, BaseURL: cfg.CensusBaseURL, APIKey: cfg.CensusAPIKey, BatchSize: cfg.BatchSize})
	}
	if runRedfin {
		runDataset(&dataset.Redfin{Filter: filter, URL: cfg.RedfinURL, BatchSize: cfg.BatchSize})
	}
	if runMetrics {
		start := time.Now()
		engine := metrics.NewEngine(metrics.NewSQLStore(pool), metrics.DefaultAssumptions())
		res, err := engine.Run(ctx, time.Now().UTC())
		r := stageResult{name: "metrics", err: err, duration: time.Since(start)}
		if res != nil {
			r.scanned = int64(res.Regions)
			r.matched = int64(res.Computed)
			r.synced = int64(res.Computed)
			if res.Regions > 0 && res.Computed == 0 && r.err == nil {
				r.err = fmt.Errorf("no region computed (%d failed)", res.Failed)
			}
		}
		if r.err != nil {
			zap.L().Error("stage failed", zap.String("stage", "metrics"), zap.Error(r.err))
		}
		results = append(results, r)
	}

	failed := 0
	for _, r := range results {
		status := "ok"
		if r.err != nil {
			status = "error"
			failed++
		}
		fmt.Printf("stage=%s status=%s scanned=%d matched=%d synced=%d duration=%0.2fs\n",
			r.name, status, r.scanned, r.matched, r.synced, r.duration.Seconds())
	}
	fmt.Printf("run=%s stages=%d failed=%d\n", runID, len(results), failed)

	if len(results) > 0 && failed == len(results) {
		os.Exit(1)
	}
}
