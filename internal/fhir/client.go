// Package fhir implements the source reader: an HTTP client that pulls raw
// patient, immunization recommendation and immunization collections from an
// upstream FHIR store.
package fhir

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrSourceUnavailable wraps any failure to reach or read from the upstream
// store. It is fatal for an ETL run.
var ErrSourceUnavailable = errors.New("source store unavailable")

// Config holds the source reader settings.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	PageSize int
}

// Client fetches raw resource collections from the FHIR store.
type Client struct {
	httpClient *http.Client
	baseURL    string
	pageSize   int
}

// NewClient creates a new source reader client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}

	log.Info().
		Str("fhir_base_url", cfg.BaseURL).
		Int("page_size", pageSize).
		Msg("FHIR source client initialized")

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		pageSize:   pageSize,
	}
}
