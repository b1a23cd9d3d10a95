package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/moh-dwh/immunization-etl/internal/config"
	"github.com/moh-dwh/immunization-etl/internal/dal"
	"github.com/moh-dwh/immunization-etl/internal/etl"
	"github.com/moh-dwh/immunization-etl/internal/fhir"
	"github.com/moh-dwh/immunization-etl/internal/metrics"
	"github.com/moh-dwh/immunization-etl/internal/scheduler"
	"github.com/moh-dwh/immunization-etl/pkg/zerologconfig"
)

func main() {
	config.LoadDotenv()
	cfg := config.LoadETL()

	zerologconfig.SetAppName("immunization-etl")
	zerologconfig.Startup(cfg.ElasticsearchURL, "logs")

	log.Info().Msg("Starting immunization ETL service")

	metrics.StartSystemMetricsCollection("etl")

	// Metrics HTTP server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: mux,
		}

		log.Info().Str("port", cfg.MetricsPort).Msg("Starting metrics server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown: let the current batch finish, then stop
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	pool, err := dal.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Postgres")
	}
	defer pool.Close()

	dataset := dal.NewDatasetModel(pool)
	if err := dataset.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure dataset schema")
	}

	source := fhir.NewClient(fhir.Config{
		BaseURL:  cfg.FHIRBaseURL,
		Timeout:  cfg.FHIRTimeout,
		PageSize: cfg.PageSize,
	})

	pipeline := etl.NewPipeline(source, dataset, etl.Config{
		BatchSize:              cfg.BatchSize,
		Policy:                 etl.Policy(cfg.PersistencePolicy),
		DefaulterThresholdDays: cfg.DefaulterThresholdDays,
		DataSource:             cfg.DataSource,
		RunTimeout:             cfg.RunTimeout,
	})

	runner := scheduler.NewRunner(func(ctx context.Context) (*etl.RunSummary, error) {
		// Advisory lock keeps runs from other processes out as well
		lock, acquired, err := dataset.AcquireRunLock(ctx)
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, scheduler.ErrRunInFlight
		}
		defer lock.Release(ctx)

		return pipeline.Run(ctx)
	})

	if cfg.ScheduleInterval > 0 {
		runner.Start(ctx, cfg.ScheduleInterval)
		return
	}

	summary, err := runner.RunOnce(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("ETL run failed")
	}

	log.Info().
		Str("run_id", summary.RunID.String()).
		Int("total_processed", summary.TotalProcessed).
		Int("skipped", summary.Skipped).
		Int("invalid", summary.Invalid).
		Msg("ETL run finished")
}
