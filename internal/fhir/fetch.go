package fhir

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/moh-dwh/immunization-etl/internal/extract"
	"github.com/moh-dwh/immunization-etl/internal/metrics"
)

// FetchPatients fetches all patient resources from the FHIR store.
func (c *Client) FetchPatients(ctx context.Context) ([]Resource, error) {
	return c.fetchAll(ctx, "Patient")
}

// FetchRecommendations fetches all immunization recommendation resources.
func (c *Client) FetchRecommendations(ctx context.Context) ([]Resource, error) {
	return c.fetchAll(ctx, "ImmunizationRecommendation")
}

// FetchImmunizations fetches all administered immunization resources.
func (c *Client) FetchImmunizations(ctx context.Context) ([]Resource, error) {
	return c.fetchAll(ctx, "Immunization")
}

// fetchAll pages through the search results for one resource type, following
// bundle "next" links until exhausted.
func (c *Client) fetchAll(ctx context.Context, resourceType string) ([]Resource, error) {
	url := fmt.Sprintf("%s/%s?_count=%d", c.baseURL, resourceType, c.pageSize)

	var resources []Resource
	var pages int
	for url != "" {
		bundle, err := c.fetchBundle(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("%w: fetch %s page %d: %w", ErrSourceUnavailable, resourceType, pages+1, err)
		}
		pages++

		for _, entry := range bundle.Entry {
			if entry.Resource == nil {
				continue
			}
			resource := Resource{
				// Decode JSON-text columns once at the boundary so every
				// downstream consumer sees the structured form.
				Data: extract.Canonicalize(entry.Resource),
			}
			if id, ok := entry.Resource["id"].(string); ok {
				resource.ID = id
			}
			if rt, ok := entry.Resource["resourceType"].(string); ok {
				resource.ResourceType = rt
			}
			resources = append(resources, resource)
		}

		url = bundle.nextLink()
	}

	log.Info().
		Str("resource_type", resourceType).
		Int("total", len(resources)).
		Int("pages", pages).
		Msg("Fetched resources from FHIR store")

	return resources, nil
}

// fetchBundle fetches one bundle page from the given URL.
func (c *Client) fetchBundle(ctx context.Context, url string) (*Bundle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/fhir+json")

	fetchStart := time.Now()
	resp, err := c.httpClient.Do(req)
	fetchDuration := time.Since(fetchStart)

	if err != nil {
		metrics.RecordSourceFetch("bundle_fetch", "error")
		metrics.RecordSourceFetchDuration("bundle_fetch", fetchDuration)
		return nil, fmt.Errorf("failed to fetch FHIR bundle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.RecordSourceFetch("bundle_fetch", "error")
		metrics.RecordSourceFetchDuration("bundle_fetch", fetchDuration)
		return nil, fmt.Errorf("FHIR API returned status %d", resp.StatusCode)
	}

	metrics.RecordSourceFetch("bundle_fetch", "success")
	metrics.RecordSourceFetchDuration("bundle_fetch", fetchDuration)

	var bundle Bundle
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		return nil, fmt.Errorf("failed to decode FHIR bundle: %w", err)
	}
	return &bundle, nil
}
