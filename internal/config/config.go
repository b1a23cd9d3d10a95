package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// ETL holds the configuration for the ETL runner process.
type ETL struct {
	ElasticsearchURL string
	MetricsPort      string

	FHIRBaseURL string
	FHIRTimeout time.Duration
	PageSize    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	BatchSize              int
	PersistencePolicy      string // "replace" or "append"
	DefaulterThresholdDays int
	DataSource             string
	RunTimeout             time.Duration

	// ScheduleInterval of zero means a single one-shot run.
	ScheduleInterval time.Duration
}

// API holds the configuration for the reporting API process.
type API struct {
	ElasticsearchURL string
	Port             string

	FHIRBaseURL string
	FHIRTimeout time.Duration
	PageSize    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	BatchSize              int
	PersistencePolicy      string
	DefaulterThresholdDays int
	DataSource             string
	RunTimeout             time.Duration
}

// LoadDotenv loads a .env file when present. Missing files are fine; the
// process then relies on real environment variables.
func LoadDotenv() {
	if err := godotenv.Load(".env"); err != nil {
		log.Info().Msg("No .env file found, assuming environment variables are set")
	}
}

// LoadETL reads the ETL configuration from the environment.
func LoadETL() ETL {
	return ETL{
		ElasticsearchURL:       os.Getenv("ELASTICSEARCH_URL"),
		MetricsPort:            getEnvOrDefault("ETL_METRICS_PORT", "8081"),
		FHIRBaseURL:            getEnvOrDefault("FHIR_BASE_URL", "http://localhost:8080/fhir"),
		FHIRTimeout:            getEnvDuration("FHIR_TIMEOUT", 30*time.Second),
		PageSize:               getEnvInt("FHIR_PAGE_SIZE", 500),
		DatabaseURL:            getEnvOrDefault("DATABASE_URL", "postgres://localhost:5432/immunization?sslmode=disable"),
		DBMaxConns:             int32(getEnvInt("DB_MAX_CONNS", 10)),
		DBMinConns:             int32(getEnvInt("DB_MIN_CONNS", 2)),
		BatchSize:              getEnvInt("ETL_BATCH_SIZE", 1000),
		PersistencePolicy:      getEnvOrDefault("ETL_PERSISTENCE_POLICY", "replace"),
		DefaulterThresholdDays: getEnvInt("ETL_DEFAULTER_THRESHOLD_DAYS", 14),
		DataSource:             getEnvOrDefault("ETL_DATA_SOURCE", "FHIR"),
		RunTimeout:             getEnvDuration("ETL_RUN_TIMEOUT", 30*time.Minute),
		ScheduleInterval:       getEnvDuration("ETL_SCHEDULE_INTERVAL", 0),
	}
}

// LoadAPI reads the API configuration from the environment.
func LoadAPI() API {
	return API{
		ElasticsearchURL:       os.Getenv("ELASTICSEARCH_URL"),
		Port:                   getEnvOrDefault("API_PORT", "8080"),
		FHIRBaseURL:            getEnvOrDefault("FHIR_BASE_URL", "http://localhost:8080/fhir"),
		FHIRTimeout:            getEnvDuration("FHIR_TIMEOUT", 30*time.Second),
		PageSize:               getEnvInt("FHIR_PAGE_SIZE", 500),
		DatabaseURL:            getEnvOrDefault("DATABASE_URL", "postgres://localhost:5432/immunization?sslmode=disable"),
		DBMaxConns:             int32(getEnvInt("DB_MAX_CONNS", 10)),
		DBMinConns:             int32(getEnvInt("DB_MIN_CONNS", 2)),
		BatchSize:              getEnvInt("ETL_BATCH_SIZE", 1000),
		PersistencePolicy:      getEnvOrDefault("ETL_PERSISTENCE_POLICY", "replace"),
		DefaulterThresholdDays: getEnvInt("ETL_DEFAULTER_THRESHOLD_DAYS", 14),
		DataSource:             getEnvOrDefault("ETL_DATA_SOURCE", "FHIR"),
		RunTimeout:             getEnvDuration("ETL_RUN_TIMEOUT", 30*time.Minute),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid integer in environment, using default")
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("Invalid duration in environment, using default")
		return defaultValue
	}
	return d
}
