package dal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/moh-dwh/immunization-etl/internal/etl"
	"github.com/moh-dwh/immunization-etl/internal/metrics"
)

// SinkError wraps a failed batch insert. The whole batch was rolled back;
// the caller decides whether to retry, skip or abort.
type SinkError struct {
	BatchSize int
	Err       error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink write of %d records failed: %v", e.BatchSize, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// DatasetModel owns all reads and writes against the
// primary_immunization_dataset table.
type DatasetModel struct {
	pool *pgxpool.Pool
}

// NewDatasetModel creates a dataset model over the given pool.
func NewDatasetModel(pool *pgxpool.Pool) *DatasetModel {
	return &DatasetModel{pool: pool}
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS primary_immunization_dataset (
	id                      BIGSERIAL PRIMARY KEY,
	patient_id              VARCHAR(50) NOT NULL,
	document_id             VARCHAR(50),
	document_type           VARCHAR(50),
	family_name             VARCHAR(100),
	given_name              VARCHAR(100),
	birth_date              DATE,
	gender                  VARCHAR(20),
	age_years               INTEGER,
	age_months              INTEGER,
	age_group               VARCHAR(50),
	is_active               BOOLEAN DEFAULT TRUE,
	is_deceased             BOOLEAN DEFAULT FALSE,
	is_multiple_birth       BOOLEAN DEFAULT FALSE,
	phone_primary           VARCHAR(50),
	phone_secondary         VARCHAR(50),
	guardian_relationship   VARCHAR(50),
	guardian_name           VARCHAR(100),
	guardian_phone          VARCHAR(50),
	county                  VARCHAR(100),
	subcounty               VARCHAR(100),
	ward                    VARCHAR(100),
	facility_name           VARCHAR(500),
	facility_code           VARCHAR(50),
	vaccine_code            VARCHAR(50) NOT NULL,
	vaccine_name            VARCHAR(100) NOT NULL,
	vaccine_category        VARCHAR(50),
	series_name             VARCHAR(100),
	dose_number             INTEGER,
	schedule_due_date       TIMESTAMP,
	administered_date       TIMESTAMP,
	days_from_due_date      INTEGER,
	is_defaulter            BOOLEAN,
	defaulter_days          INTEGER,
	administration_location VARCHAR(200),
	immunization_status     VARCHAR(50),
	batch_number            VARCHAR(50),
	target_disease          VARCHAR(200),
	disease_category        VARCHAR(100),
	record_created_at       TIMESTAMP,
	record_updated_at       TIMESTAMP,
	patient_last_updated    TIMESTAMP,
	data_source             VARCHAR(50)
);
CREATE INDEX IF NOT EXISTS idx_pid_patient ON primary_immunization_dataset (patient_id);
CREATE INDEX IF NOT EXISTS idx_pid_vaccine ON primary_immunization_dataset (vaccine_code);
CREATE INDEX IF NOT EXISTS idx_pid_defaulter ON primary_immunization_dataset (is_defaulter);
CREATE INDEX IF NOT EXISTS idx_pid_county ON primary_immunization_dataset (county);
CREATE INDEX IF NOT EXISTS idx_pid_status ON primary_immunization_dataset (immunization_status);
`

// EnsureSchema creates the dataset table and its indexes when missing.
func (m *DatasetModel) EnsureSchema(ctx context.Context) error {
	if _, err := m.pool.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("ensure dataset schema: %w", err)
	}
	return nil
}

// Clear removes every persisted row. Used by the full-replace policy at the
// start of a run.
func (m *DatasetModel) Clear(ctx context.Context) error {
	start := time.Now()
	tag, err := m.pool.Exec(ctx, "DELETE FROM primary_immunization_dataset")
	metrics.RecordSinkOperationDuration("clear", time.Since(start))
	if err != nil {
		metrics.RecordSinkOperation("clear", "error")
		return fmt.Errorf("clear dataset: %w", err)
	}
	metrics.RecordSinkOperation("clear", "success")
	log.Info().Int64("deleted", tag.RowsAffected()).Msg("Cleared dataset table")
	return nil
}

const insertSQL = `
INSERT INTO primary_immunization_dataset (
	patient_id, document_id, document_type, family_name, given_name,
	birth_date, gender, age_years, age_months, age_group,
	is_active, is_deceased, is_multiple_birth,
	phone_primary, phone_secondary,
	guardian_relationship, guardian_name, guardian_phone,
	county, subcounty, ward, facility_name, facility_code,
	vaccine_code, vaccine_name, vaccine_category, series_name, dose_number,
	schedule_due_date, administered_date, days_from_due_date,
	is_defaulter, defaulter_days, administration_location,
	immunization_status, batch_number, target_disease, disease_category,
	record_created_at, record_updated_at, patient_last_updated, data_source
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,
	$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
	$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,
	$31,$32,$33,$34,$35,$36,$37,$38,$39,$40,
	$41,$42
)`

// InsertBatch persists one batch inside a single transaction. Any per-row
// failure rolls back the entire batch and surfaces a SinkError.
func (m *DatasetModel) InsertBatch(ctx context.Context, records []etl.FlattenedRecord) error {
	if len(records) == 0 {
		return nil
	}

	start := time.Now()

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		metrics.RecordSinkOperation("insert_batch", "error")
		return &SinkError{BatchSize: len(records), Err: fmt.Errorf("begin transaction: %w", err)}
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for i := range records {
		r := &records[i]
		batch.Queue(insertSQL,
			r.PatientID, r.DocumentID, r.DocumentType, r.FamilyName, r.GivenName,
			r.BirthDate, r.Gender, r.AgeYears, r.AgeMonths, r.AgeGroup,
			r.IsActive, r.IsDeceased, r.IsMultipleBirth,
			r.PhonePrimary, r.PhoneSecondary,
			r.GuardianRelationship, r.GuardianName, r.GuardianPhone,
			r.County, r.Subcounty, r.Ward, r.FacilityName, r.FacilityCode,
			r.VaccineCode, r.VaccineName, r.VaccineCategory, r.SeriesName, r.DoseNumber,
			r.ScheduleDueDate, r.AdministeredDate, r.DaysFromDueDate,
			r.IsDefaulter, r.DefaulterDays, r.AdministrationLocation,
			r.ImmunizationStatus, r.BatchNumber, r.TargetDisease, r.DiseaseCategory,
			r.RecordCreatedAt, r.RecordUpdatedAt, r.PatientLastUpdated, r.DataSource,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			metrics.RecordSinkOperation("insert_batch", "error")
			metrics.RecordSinkOperationDuration("insert_batch", time.Since(start))
			return &SinkError{BatchSize: len(records), Err: fmt.Errorf("row %d: %w", i, err)}
		}
	}
	if err := results.Close(); err != nil {
		metrics.RecordSinkOperation("insert_batch", "error")
		return &SinkError{BatchSize: len(records), Err: fmt.Errorf("close batch results: %w", err)}
	}

	if err := tx.Commit(ctx); err != nil {
		metrics.RecordSinkOperation("insert_batch", "error")
		return &SinkError{BatchSize: len(records), Err: fmt.Errorf("commit batch: %w", err)}
	}

	metrics.RecordSinkOperation("insert_batch", "success")
	metrics.RecordSinkOperationDuration("insert_batch", time.Since(start))
	log.Info().Int("records", len(records)).Msg("Batch inserted")
	return nil
}
