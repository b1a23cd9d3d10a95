package etl

import (
	"fmt"
	"time"
)

// FlattenedRecord is one row of the primary immunization dataset: a single
// (patient, recommended vaccine) pair combining demographic and dose-status
// fields.
type FlattenedRecord struct {
	// Patient identification
	PatientID    string  `json:"patient_id"`
	DocumentID   *string `json:"document_id"`
	DocumentType *string `json:"document_type"`

	// Patient demographics
	FamilyName string     `json:"family_name"`
	GivenName  string     `json:"given_name"`
	BirthDate  *time.Time `json:"birth_date"`
	Gender     string     `json:"gender"`
	AgeYears   *int       `json:"age_years"`
	AgeMonths  *int       `json:"age_months"`
	AgeGroup   string     `json:"age_group"`

	// Patient status
	IsActive        bool `json:"is_active"`
	IsDeceased      bool `json:"is_deceased"`
	IsMultipleBirth bool `json:"is_multiple_birth"`

	// Contact information
	PhonePrimary         *string `json:"phone_primary"`
	PhoneSecondary       *string `json:"phone_secondary"`
	GuardianRelationship *string `json:"guardian_relationship"`
	GuardianName         *string `json:"guardian_name"`
	GuardianPhone        *string `json:"guardian_phone"`

	// Location information
	County       *string `json:"county"`
	Subcounty    *string `json:"subcounty"`
	Ward         *string `json:"ward"`
	FacilityName string  `json:"facility_name"`
	FacilityCode *string `json:"facility_code"`

	// Vaccination details
	VaccineCode     string  `json:"vaccine_code"`
	VaccineName     string  `json:"vaccine_name"`
	VaccineCategory *string `json:"vaccine_category"`
	SeriesName      *string `json:"series_name"`
	DoseNumber      int     `json:"dose_number"`

	// Schedule and administration
	ScheduleDueDate        *time.Time `json:"schedule_due_date"`
	AdministeredDate       *time.Time `json:"administered_date"`
	DaysFromDueDate        *int       `json:"days_from_due_date"`
	IsDefaulter            bool       `json:"is_defaulter"`
	DefaulterDays          *int       `json:"defaulter_days"`
	AdministrationLocation string     `json:"administration_location"`
	ImmunizationStatus     string     `json:"immunization_status"`
	BatchNumber            *string    `json:"batch_number"`

	// Disease prevention
	TargetDisease   string `json:"target_disease"`
	DiseaseCategory string `json:"disease_category"`

	// Bookkeeping
	RecordCreatedAt    time.Time  `json:"record_created_at"`
	RecordUpdatedAt    time.Time  `json:"record_updated_at"`
	PatientLastUpdated *time.Time `json:"patient_last_updated"`
	DataSource         string     `json:"data_source"`
}

// Validate enforces the required-field contract. Rows failing it are
// rejected before persistence, never stored.
func (r *FlattenedRecord) Validate() error {
	if r.PatientID == "" {
		return fmt.Errorf("%w: missing patient_id", ErrValidationFailure)
	}
	if r.VaccineCode == "" {
		return fmt.Errorf("%w: missing vaccine_code for patient %s", ErrValidationFailure, r.PatientID)
	}
	if r.VaccineName == "" {
		return fmt.Errorf("%w: missing vaccine_name for patient %s", ErrValidationFailure, r.PatientID)
	}
	return nil
}
