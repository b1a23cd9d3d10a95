package dal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/moh-dwh/immunization-etl/internal/etl"
	"github.com/moh-dwh/immunization-etl/internal/metrics"
)

// Filter selects flattened records for the query endpoints.
type Filter struct {
	PatientID      string
	Name           string
	County         string
	Subcounty      string
	Ward           string
	FacilityCode   string
	VaccineName    string
	DefaultersOnly bool
	StartDate      *time.Time
	EndDate        *time.Time
	Page           int
	PerPage        int
}

// Page is one page of query results with pagination metadata.
type Page struct {
	Data         []etl.FlattenedRecord `json:"data"`
	TotalRecords int                   `json:"total_records"`
	TotalPages   int                   `json:"total_pages"`
	CurrentPage  int                   `json:"current_page"`
	PerPage      int                   `json:"per_page"`
}

const datasetColumns = `
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
	record_created_at, record_updated_at, patient_last_updated, data_source`

// buildFilterWhere turns a Filter into a WHERE clause and its arguments.
func buildFilterWhere(f Filter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	add := func(cond string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if f.PatientID != "" {
		add("patient_id = $%d", f.PatientID)
	}
	if f.Name != "" {
		args = append(args, "%"+f.Name+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(family_name ILIKE $%d OR given_name ILIKE $%d)", n, n))
	}
	if f.County != "" {
		add("county ILIKE $%d", "%"+f.County+"%")
	}
	if f.Subcounty != "" {
		add("subcounty ILIKE $%d", "%"+f.Subcounty+"%")
	}
	if f.Ward != "" {
		add("ward ILIKE $%d", "%"+f.Ward+"%")
	}
	if f.FacilityCode != "" {
		add("facility_code = $%d", f.FacilityCode)
	}
	if f.VaccineName != "" {
		add("vaccine_name ILIKE $%d", "%"+f.VaccineName+"%")
	}
	if f.DefaultersOnly {
		conditions = append(conditions, "is_defaulter = TRUE")
	}
	if f.StartDate != nil {
		add("schedule_due_date >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("schedule_due_date <= $%d", *f.EndDate)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// clampPage normalizes the page/perPage pair against the total row count.
// A page beyond the last wraps to the first, mirroring the behavior of the
// paginated defaulter listing.
func clampPage(page, perPage, total int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	offset := (page - 1) * perPage
	if offset >= total {
		return 1, 0
	}
	return page, offset
}

// Query returns one page of flattened records matching the filter, ordered
// by due date descending.
func (m *DatasetModel) Query(ctx context.Context, f Filter) (*Page, error) {
	start := time.Now()
	defer func() {
		metrics.RecordSinkOperationDuration("query", time.Since(start))
	}()

	where, args := buildFilterWhere(f)

	var total int
	err := m.pool.QueryRow(ctx, "SELECT COUNT(*) FROM primary_immunization_dataset"+where, args...).Scan(&total)
	if err != nil {
		metrics.RecordSinkOperation("query", "error")
		return nil, fmt.Errorf("count dataset rows: %w", err)
	}

	perPage := f.PerPage
	if perPage < 1 {
		perPage = 20
	}
	page, offset := clampPage(f.Page, perPage, total)

	if total == 0 {
		metrics.RecordSinkOperation("query", "success")
		return &Page{Data: []etl.FlattenedRecord{}, CurrentPage: page, PerPage: perPage}, nil
	}

	args = append(args, perPage, offset)
	sql := fmt.Sprintf(
		"SELECT %s FROM primary_immunization_dataset%s ORDER BY schedule_due_date DESC NULLS LAST LIMIT $%d OFFSET $%d",
		datasetColumns, where, len(args)-1, len(args),
	)

	rows, err := m.pool.Query(ctx, sql, args...)
	if err != nil {
		metrics.RecordSinkOperation("query", "error")
		return nil, fmt.Errorf("query dataset rows: %w", err)
	}
	defer rows.Close()

	records := make([]etl.FlattenedRecord, 0, perPage)
	for rows.Next() {
		var r etl.FlattenedRecord
		err := rows.Scan(
			&r.PatientID, &r.DocumentID, &r.DocumentType, &r.FamilyName, &r.GivenName,
			&r.BirthDate, &r.Gender, &r.AgeYears, &r.AgeMonths, &r.AgeGroup,
			&r.IsActive, &r.IsDeceased, &r.IsMultipleBirth,
			&r.PhonePrimary, &r.PhoneSecondary,
			&r.GuardianRelationship, &r.GuardianName, &r.GuardianPhone,
			&r.County, &r.Subcounty, &r.Ward, &r.FacilityName, &r.FacilityCode,
			&r.VaccineCode, &r.VaccineName, &r.VaccineCategory, &r.SeriesName, &r.DoseNumber,
			&r.ScheduleDueDate, &r.AdministeredDate, &r.DaysFromDueDate,
			&r.IsDefaulter, &r.DefaulterDays, &r.AdministrationLocation,
			&r.ImmunizationStatus, &r.BatchNumber, &r.TargetDisease, &r.DiseaseCategory,
			&r.RecordCreatedAt, &r.RecordUpdatedAt, &r.PatientLastUpdated, &r.DataSource,
		)
		if err != nil {
			metrics.RecordSinkOperation("query", "error")
			return nil, fmt.Errorf("scan dataset row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		metrics.RecordSinkOperation("query", "error")
		return nil, fmt.Errorf("iterate dataset rows: %w", err)
	}

	metrics.RecordSinkOperation("query", "success")
	return &Page{
		Data:         records,
		TotalRecords: total,
		TotalPages:   (total + perPage - 1) / perPage,
		CurrentPage:  page,
		PerPage:      perPage,
	}, nil
}

// Stats summarizes the persisted dataset.
type Stats struct {
	TotalPatients    int     `json:"total_patients"`
	TotalRecords     int     `json:"total_records"`
	Defaulters       int     `json:"defaulters"`
	NotAdministered  int     `json:"not_administered"`
	AdministeredRate float64 `json:"administered_rate"`
	DefaulterRate    float64 `json:"defaulter_rate"`
}

// Stats returns aggregate counts and rates over the whole dataset.
func (m *DatasetModel) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := m.pool.QueryRow(ctx, `
		SELECT
			COUNT(DISTINCT patient_id),
			COUNT(*),
			COUNT(*) FILTER (WHERE is_defaulter),
			COUNT(*) FILTER (WHERE administered_date IS NULL)
		FROM primary_immunization_dataset`,
	).Scan(&s.TotalPatients, &s.TotalRecords, &s.Defaulters, &s.NotAdministered)
	if err != nil {
		return nil, fmt.Errorf("query dataset stats: %w", err)
	}

	if s.TotalRecords > 0 {
		s.AdministeredRate = float64(s.TotalRecords-s.NotAdministered) / float64(s.TotalRecords) * 100
		s.DefaulterRate = float64(s.Defaulters) / float64(s.TotalRecords) * 100
	}
	return &s, nil
}
