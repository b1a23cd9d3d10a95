// Package etl flattens raw patient, recommendation and immunization
// collections into the primary immunization dataset: one row per
// (patient, recommended vaccine).
package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/moh-dwh/immunization-etl/internal/extract"
	"github.com/moh-dwh/immunization-etl/internal/fhir"
	"github.com/moh-dwh/immunization-etl/internal/metrics"
)

// Source supplies the three raw resource collections for one run.
type Source interface {
	FetchPatients(ctx context.Context) ([]fhir.Resource, error)
	FetchRecommendations(ctx context.Context) ([]fhir.Resource, error)
	FetchImmunizations(ctx context.Context) ([]fhir.Resource, error)
}

// Sink persists validated batches of flattened records. InsertBatch is
// all-or-nothing per batch: on failure the whole batch is rolled back.
type Sink interface {
	Clear(ctx context.Context) error
	InsertBatch(ctx context.Context, records []FlattenedRecord) error
}

// Policy selects how each run treats previously persisted rows.
type Policy string

const (
	// PolicyReplace empties the dataset at the start of the run.
	PolicyReplace Policy = "replace"
	// PolicyAppend inserts without deleting; a separate housekeeping job
	// purges stale rows.
	PolicyAppend Policy = "append"
)

// Config carries the per-run options.
type Config struct {
	BatchSize              int
	Policy                 Policy
	DefaulterThresholdDays int
	DataSource             string
	RunTimeout             time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.Policy == "" {
		c.Policy = PolicyReplace
	}
	if c.DefaulterThresholdDays <= 0 {
		c.DefaulterThresholdDays = 14
	}
	if c.DataSource == "" {
		c.DataSource = "FHIR"
	}
	return c
}

// RunSummary reports the categorized outcome of one ETL run.
type RunSummary struct {
	RunID          uuid.UUID     `json:"run_id"`
	StartedAt      time.Time     `json:"started_at"`
	Elapsed        time.Duration `json:"elapsed"`
	TotalProcessed int           `json:"total_processed"`
	Skipped        int           `json:"skipped"`
	Invalid        int           `json:"invalid"`
	BatchesWritten int           `json:"batches_written"`
}

// Pipeline joins the three raw collections into flattened records and hands
// them to the sink in batches. A run is restartable: it re-derives
// everything from scratch and keeps no incremental state.
type Pipeline struct {
	source Source
	sink   Sink
	cfg    Config
}

// NewPipeline creates a pipeline over the given source and sink.
func NewPipeline(source Source, sink Sink, cfg Config) *Pipeline {
	return &Pipeline{
		source: source,
		sink:   sink,
		cfg:    cfg.withDefaults(),
	}
}

// Run executes one full ETL pass. Per-record failures are logged and
// counted; only source unavailability and sink batch failures abort the run.
// Batches already committed before an abort remain committed.
func (p *Pipeline) Run(ctx context.Context) (*RunSummary, error) {
	if p.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RunTimeout)
		defer cancel()
	}

	summary := &RunSummary{
		RunID:     uuid.New(),
		StartedAt: time.Now().UTC(),
	}
	defer func() {
		summary.Elapsed = time.Since(summary.StartedAt)
	}()

	log.Info().
		Str("run_id", summary.RunID.String()).
		Str("policy", string(p.cfg.Policy)).
		Int("batch_size", p.cfg.BatchSize).
		Msg("Starting ETL run")

	recommendations, err := p.source.FetchRecommendations(ctx)
	if err != nil {
		metrics.RecordETLRun("error", 0, 0, 0, time.Since(summary.StartedAt))
		return summary, fmt.Errorf("failed to fetch recommendations: %w", err)
	}
	patients, err := p.source.FetchPatients(ctx)
	if err != nil {
		metrics.RecordETLRun("error", 0, 0, 0, time.Since(summary.StartedAt))
		return summary, fmt.Errorf("failed to fetch patients: %w", err)
	}
	immunizations, err := p.source.FetchImmunizations(ctx)
	if err != nil {
		metrics.RecordETLRun("error", 0, 0, 0, time.Since(summary.StartedAt))
		return summary, fmt.Errorf("failed to fetch immunizations: %w", err)
	}

	log.Info().
		Int("recommendations", len(recommendations)).
		Int("patients", len(patients)).
		Int("immunizations", len(immunizations)).
		Msg("Fetched raw collections from source")

	patientIndex := indexPatients(patients)
	immIndex := indexImmunizations(immunizations)

	if p.cfg.Policy == PolicyReplace {
		if err := p.sink.Clear(ctx); err != nil {
			metrics.RecordETLRun("error", 0, 0, 0, time.Since(summary.StartedAt))
			return summary, fmt.Errorf("failed to clear dataset: %w", err)
		}
	}

	now := time.Now().UTC()
	batch := make([]FlattenedRecord, 0, p.cfg.BatchSize)

	for count, recommendation := range recommendations {
		if count > 0 && count%100 == 0 {
			log.Info().
				Int("processed", count).
				Int("total", len(recommendations)).
				Msg("Recommendation processing progress")
		}

		reference, _ := extract.String(recommendation.Data, "patient", "reference")
		patientID := fhir.ReferenceID(reference, "Patient")
		if patientID == "" {
			summary.Invalid++
			log.Warn().Err(ErrMalformedResource).
				Str("recommendation_id", recommendation.ID).
				Str("reference", reference).
				Msg("Recommendation without resolvable patient reference")
			continue
		}

		patientRaw, ok := patientIndex[patientID]
		if !ok {
			summary.Skipped++
			log.Warn().Err(ErrMissingReference).
				Str("patient_id", patientID).
				Msg("Skipped recommendation - patient not found in index")
			continue
		}

		patientFields, err := NormalizePatient(patientRaw, now)
		if err != nil {
			summary.Invalid++
			log.Warn().Err(err).
				Str("patient_id", patientID).
				Msg("Failed to normalize patient")
			continue
		}

		entries, ok := extract.Slice(recommendation.Data, "recommendation")
		if !ok {
			summary.Invalid++
			log.Warn().
				Str("patient_id", patientID).
				Msg("Recommendation without vaccine entries")
			continue
		}

		for _, item := range entries {
			entry, ok := item.(map[string]interface{})
			if !ok {
				summary.Invalid++
				continue
			}

			var matching map[string]interface{}
			if code, ok := VaccineEntryCode(entry); ok {
				matching = immIndex[immKey(patientID, code)]
			}

			vaccineFields, err := NormalizeVaccine(entry, matching, patientID, now, p.cfg.DefaulterThresholdDays)
			if err != nil {
				summary.Invalid++
				log.Warn().Err(err).
					Str("patient_id", patientID).
					Msg("Failed to normalize vaccine entry")
				continue
			}

			record := mergeRecord(patientFields, vaccineFields, now, p.cfg.DataSource)
			if err := record.Validate(); err != nil {
				summary.Invalid++
				log.Warn().Err(err).
					Str("patient_id", patientID).
					Msg("Merged record failed validation")
				continue
			}

			batch = append(batch, record)
			summary.TotalProcessed++

			if len(batch) >= p.cfg.BatchSize {
				if err := p.flush(ctx, batch, summary); err != nil {
					metrics.RecordETLRun("error", summary.TotalProcessed, summary.Skipped, summary.Invalid, time.Since(summary.StartedAt))
					return summary, err
				}
				batch = batch[:0]
			}
		}
	}

	if len(batch) > 0 {
		if err := p.flush(ctx, batch, summary); err != nil {
			metrics.RecordETLRun("error", summary.TotalProcessed, summary.Skipped, summary.Invalid, time.Since(summary.StartedAt))
			return summary, err
		}
	}

	summary.Elapsed = time.Since(summary.StartedAt)
	metrics.RecordETLRun("success", summary.TotalProcessed, summary.Skipped, summary.Invalid, summary.Elapsed)

	log.Info().
		Str("run_id", summary.RunID.String()).
		Int("total_processed", summary.TotalProcessed).
		Int("skipped", summary.Skipped).
		Int("invalid", summary.Invalid).
		Int("batches_written", summary.BatchesWritten).
		Dur("elapsed", summary.Elapsed).
		Msg("ETL run completed")

	return summary, nil
}

func (p *Pipeline) flush(ctx context.Context, batch []FlattenedRecord, summary *RunSummary) error {
	log.Info().Int("batch_size", len(batch)).Msg("Inserting batch")
	if err := p.sink.InsertBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to insert batch of %d records: %w", len(batch), err)
	}
	summary.BatchesWritten++
	return nil
}

func immKey(patientID, vaccineCode string) string {
	return patientID + "_" + vaccineCode
}

func indexPatients(patients []fhir.Resource) map[string]map[string]interface{} {
	index := make(map[string]map[string]interface{}, len(patients))
	for _, patient := range patients {
		if patient.ID == "" {
			continue
		}
		index[patient.ID] = patient.Data
	}
	return index
}

// indexImmunizations builds the (patient, vaccine code) lookup. On key
// collision the immunization with the latest recorded timestamp wins, so
// the match is deterministic regardless of source ordering; an entry with
// an unparseable recorded date never displaces a parseable one.
func indexImmunizations(immunizations []fhir.Resource) map[string]map[string]interface{} {
	index := make(map[string]map[string]interface{}, len(immunizations))
	recordedAt := make(map[string]time.Time, len(immunizations))

	for _, imm := range immunizations {
		reference, _ := extract.String(imm.Data, "patient", "reference")
		patientID := fhir.ReferenceID(reference, "Patient")
		if patientID == "" {
			log.Warn().Str("immunization_id", imm.ID).Msg("Immunization without resolvable patient reference")
			continue
		}

		coding, ok := extract.FirstMap(imm.Data, "vaccineCode", "coding")
		if !ok {
			log.Warn().Str("immunization_id", imm.ID).Msg("Immunization without vaccine coding")
			continue
		}
		code, ok := extract.String(coding, "code")
		if !ok || code == "" {
			log.Warn().Str("immunization_id", imm.ID).Msg("Immunization without vaccine code")
			continue
		}

		key := immKey(patientID, code)

		var recorded time.Time
		if raw, ok := extract.String(imm.Data, "recorded"); ok {
			if t, err := extract.ParseDate(raw); err == nil {
				recorded = t
			}
		}

		if existing, ok := recordedAt[key]; ok && !recorded.After(existing) {
			continue
		}
		index[key] = imm.Data
		recordedAt[key] = recorded
	}
	return index
}

// mergeRecord combines the demographic and dose-status fragments into one
// flattened row.
func mergeRecord(p PatientFields, v VaccineFields, now time.Time, dataSource string) FlattenedRecord {
	birthDate := p.BirthDate
	ageYears := p.AgeYears
	ageMonths := p.AgeMonths

	return FlattenedRecord{
		PatientID:    p.PatientID,
		DocumentID:   p.DocumentID,
		DocumentType: p.DocumentType,

		FamilyName: p.FamilyName,
		GivenName:  p.GivenName,
		BirthDate:  &birthDate,
		Gender:     p.Gender,
		AgeYears:   &ageYears,
		AgeMonths:  &ageMonths,
		AgeGroup:   p.AgeGroup,

		IsActive:        p.IsActive,
		IsDeceased:      p.IsDeceased,
		IsMultipleBirth: p.IsMultipleBirth,

		PhonePrimary:         p.PhonePrimary,
		PhoneSecondary:       p.PhoneSecondary,
		GuardianRelationship: p.GuardianRelationship,
		GuardianName:         p.GuardianName,
		GuardianPhone:        p.GuardianPhone,

		County:       p.County,
		Subcounty:    p.Subcounty,
		Ward:         p.Ward,
		FacilityName: p.FacilityName,
		FacilityCode: p.FacilityCode,

		VaccineCode:     v.VaccineCode,
		VaccineName:     v.VaccineName,
		VaccineCategory: v.VaccineCategory,
		SeriesName:      v.SeriesName,
		DoseNumber:      v.DoseNumber,

		ScheduleDueDate:        v.ScheduleDueDate,
		AdministeredDate:       v.AdministeredDate,
		DaysFromDueDate:        v.DaysFromDueDate,
		IsDefaulter:            v.IsDefaulter,
		DefaulterDays:          v.DefaulterDays,
		AdministrationLocation: v.AdministrationLocation,
		ImmunizationStatus:     v.ImmunizationStatus,
		BatchNumber:            v.BatchNumber,

		TargetDisease:   v.TargetDisease,
		DiseaseCategory: v.DiseaseCategory,

		RecordCreatedAt:    now,
		RecordUpdatedAt:    now,
		PatientLastUpdated: p.PatientLastUpdated,
		DataSource:         dataSource,
	}
}
