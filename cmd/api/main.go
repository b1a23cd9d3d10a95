package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/moh-dwh/immunization-etl/internal/api"
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
	cfg := config.LoadAPI()

	zerologconfig.SetAppName("immunization-api")
	zerologconfig.Startup(cfg.ElasticsearchURL, "logs")

	log.Info().Msg("Starting immunization API service")

	metrics.StartSystemMetricsCollection("api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.NewServer(dataset, runner).SetupRoutes(),
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("API server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	log.Info().Msg("API server stopped")
}
