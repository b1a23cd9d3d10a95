package etl

import (
	"fmt"
	"strings"
	"time"

	"github.com/moh-dwh/immunization-etl/internal/extract"
)

const notAdministered = "Not Administered"

// earliestDateCriterion is the dateCriterion code carrying the due date.
const earliestDateCriterion = "Earliest-date-to-administer"

// VaccineFields is the dose-status fragment of a flattened record, derived
// from one recommended-vaccine entry plus its matching administered
// immunization, when one exists.
type VaccineFields struct {
	PatientID              string
	VaccineCode            string
	VaccineName            string
	VaccineCategory        *string
	SeriesName             *string
	DoseNumber             int
	TargetDisease          string
	DiseaseCategory        string
	ScheduleDueDate        *time.Time
	AdministeredDate       *time.Time
	DaysFromDueDate        *int
	IsDefaulter            bool
	DefaulterDays          *int
	AdministrationLocation string
	ImmunizationStatus     string
	BatchNumber            *string
}

// VaccineEntryCode reads the vaccine code out of a recommended-vaccine
// entry. The join engine uses it to build the immunization lookup key before
// full normalization.
func VaccineEntryCode(entry map[string]interface{}) (string, bool) {
	vaccineCode, ok := extract.FirstMap(entry, "vaccineCode")
	if !ok {
		return "", false
	}
	coding, ok := extract.FirstMap(vaccineCode, "coding")
	if !ok {
		return "", false
	}
	return extract.String(coding, "code")
}

// NormalizeVaccine derives the dose-status fragment for one recommended
// vaccine. matching is the administered immunization resolved by the join
// engine, or nil when the dose was never administered. thresholdDays is the
// strict defaulter cutoff: a dose is a defaulter only when the signed day
// difference exceeds it.
func NormalizeVaccine(entry map[string]interface{}, matching map[string]interface{}, patientID string, now time.Time, thresholdDays int) (VaccineFields, error) {
	code, ok := VaccineEntryCode(entry)
	if !ok || code == "" {
		return VaccineFields{}, fmt.Errorf("%w: recommendation entry without vaccine code for patient %s", ErrMalformedResource, patientID)
	}

	vaccineCode, _ := extract.FirstMap(entry, "vaccineCode")
	name, ok := extract.String(vaccineCode, "text")
	if !ok || name == "" {
		return VaccineFields{}, fmt.Errorf("%w: vaccine %s without display text for patient %s", ErrMalformedResource, code, patientID)
	}

	fields := VaccineFields{
		PatientID:              patientID,
		VaccineCode:            code,
		VaccineName:            name,
		VaccineCategory:        optString(entry, "description"),
		SeriesName:             optString(entry, "series"),
		AdministrationLocation: notAdministered,
		ImmunizationStatus:     notAdministered,
	}

	if dose, ok := extract.Int(entry, "doseNumberPositiveInt"); ok {
		fields.DoseNumber = dose
	}

	if disease, ok := extract.String(entry, "targetDisease", "text"); ok {
		fields.TargetDisease = disease
		fields.DiseaseCategory = strings.TrimSpace(strings.SplitN(disease, ",", 2)[0])
	}

	fields.ScheduleDueDate = dueDate(entry)

	switch {
	case matching != nil:
		applyAdministered(&fields, matching, thresholdDays)
	case fields.ScheduleDueDate != nil:
		// Never administered but scheduled: overdue relative to today
		days := extract.DaysBetween(now, *fields.ScheduleDueDate)
		fields.DaysFromDueDate = &days
		fields.DefaulterDays = &days
		fields.IsDefaulter = days > thresholdDays
	default:
		// Unscheduled and unadministered: excluded from defaulter
		// semantics by construction
	}

	return fields, nil
}

// dueDate selects the date criterion whose code matches the earliest-date
// marker. Without it the dose has no resolvable due date.
func dueDate(entry map[string]interface{}) *time.Time {
	criteria, ok := extract.Slice(entry, "dateCriterion")
	if !ok {
		return nil
	}
	criterion, ok := extract.SelectMap(criteria, func(m map[string]interface{}) bool {
		coding, ok := extract.FirstMap(m, "code", "coding")
		if !ok {
			return false
		}
		code, _ := extract.String(coding, "code")
		return code == earliestDateCriterion
	})
	if !ok {
		return nil
	}
	value, ok := extract.String(criterion, "value")
	if !ok {
		return nil
	}
	t, err := extract.ParseDate(value)
	if err != nil {
		return nil
	}
	return &t
}

// applyAdministered copies status fields from the administered immunization
// and, when a due date exists, computes the overdue arithmetic. Without a
// due date "overdue" is undefined, so days stay nil and the dose is not a
// defaulter.
func applyAdministered(fields *VaccineFields, imm map[string]interface{}, thresholdDays int) {
	if status, ok := extract.String(imm, "status"); ok {
		fields.ImmunizationStatus = status
	}
	fields.BatchNumber = optString(imm, "lotNumber")
	fields.AdministrationLocation = administrationLocation(imm)

	recorded, ok := extract.String(imm, "recorded")
	if !ok {
		return
	}
	administered, err := extract.ParseDate(recorded)
	if err != nil {
		return
	}
	fields.AdministeredDate = &administered

	if fields.ScheduleDueDate == nil {
		return
	}
	days := extract.DaysBetween(administered, *fields.ScheduleDueDate)
	fields.DaysFromDueDate = &days
	fields.DefaulterDays = &days
	fields.IsDefaulter = days > thresholdDays
}

// administrationLocation reads the free-text note signalling where the dose
// was given. A note without location text means the home facility.
func administrationLocation(imm map[string]interface{}) string {
	notes, ok := extract.Slice(imm, "note")
	if !ok || len(notes) == 0 {
		return "Facility"
	}
	note, ok := notes[0].(map[string]interface{})
	if !ok {
		return "Facility"
	}
	if text, ok := extract.String(note, "text"); ok && text != "" {
		return text
	}
	return "Facility"
}
