package etl

import (
	"fmt"
	"strings"
	"time"

	"github.com/moh-dwh/immunization-etl/internal/extract"
)

// PatientFields is the demographic fragment of a flattened record, derived
// from one raw patient resource.
type PatientFields struct {
	PatientID            string
	FamilyName           string
	GivenName            string
	DocumentID           *string
	DocumentType         *string
	BirthDate            time.Time
	Gender               string
	AgeYears             int
	AgeMonths            int
	AgeGroup             string
	IsActive             bool
	IsDeceased           bool
	IsMultipleBirth      bool
	PhonePrimary         *string
	PhoneSecondary       *string
	GuardianRelationship *string
	GuardianName         *string
	GuardianPhone        *string
	County               *string
	Subcounty            *string
	Ward                 *string
	FacilityName         string
	FacilityCode         *string
	PatientLastUpdated   *time.Time
}

// NormalizePatient derives the demographic fragment from one raw patient
// resource. A missing id or unparseable birth date makes the whole patient
// unprocessable; everything else degrades to an absent field.
func NormalizePatient(raw map[string]interface{}, now time.Time) (PatientFields, error) {
	patientID, ok := extract.String(raw, "id")
	if !ok || patientID == "" {
		return PatientFields{}, fmt.Errorf("%w: patient without id", ErrMalformedResource)
	}

	birthRaw, ok := extract.String(raw, "birthDate")
	if !ok {
		return PatientFields{}, fmt.Errorf("%w: patient %s without birthDate", ErrMalformedResource, patientID)
	}
	birthDate, err := extract.ParseDate(extract.DatePortion(birthRaw))
	if err != nil {
		return PatientFields{}, fmt.Errorf("%w: patient %s birthDate: %w", ErrMalformedResource, patientID, err)
	}

	ageYears, ageMonths := calendarAge(birthDate, now)

	fields := PatientFields{
		PatientID: patientID,
		BirthDate: birthDate,
		AgeYears:  ageYears,
		AgeMonths: ageMonths,
		AgeGroup:  ageGroup(ageYears),
		IsActive:  true,
	}

	if gender, ok := extract.String(raw, "gender"); ok {
		fields.Gender = gender
	}
	if active, ok := extract.Bool(raw, "active"); ok {
		fields.IsActive = active
	}
	if deceased, ok := extract.Bool(raw, "deceasedBoolean"); ok {
		fields.IsDeceased = deceased
	}
	if multiple, ok := extract.Bool(raw, "multipleBirthBoolean"); ok {
		fields.IsMultipleBirth = multiple
	}

	if name, ok := extract.FirstMap(raw, "name"); ok {
		fields.FamilyName, _ = extract.String(name, "family")
		fields.GivenName = strings.Join(extract.Strings(name, "given"), " ")
	}

	fields.DocumentID, fields.DocumentType = patientDocument(raw)

	if address, ok := extract.FirstMap(raw, "address"); ok {
		fields.County = optString(address, "city")
		fields.Subcounty = optString(address, "district")
		fields.Ward = optString(address, "state")
	}

	if telecom, ok := extract.FirstMap(raw, "telecom"); ok {
		fields.PhonePrimary = optString(telecom, "value")
	}

	fields.FacilityName, fields.FacilityCode = patientFacility(raw)

	if lastUpdated, ok := extract.String(raw, "meta", "lastUpdated"); ok {
		if t, err := extract.ParseDate(lastUpdated); err == nil {
			fields.PatientLastUpdated = &t
		}
	}

	applyGuardianContact(&fields, raw)

	return fields, nil
}

// calendarAge computes full years and leftover months between birth and now
// using calendar arithmetic: the month count borrows when the current
// day-of-month precedes the birth day-of-month.
func calendarAge(birth, now time.Time) (years, months int) {
	years = now.Year() - birth.Year()
	months = int(now.Month()) - int(birth.Month())
	if now.Day() < birth.Day() {
		months--
	}
	if months < 0 {
		years--
		months += 12
	}
	return years, months
}

func ageGroup(ageYears int) string {
	if ageYears > 1 {
		return "Above 1 year"
	}
	return "Below 1 year"
}

// patientDocument selects the first identifier whose type coding is not the
// "estimated_age" placeholder, returning its value and display.
func patientDocument(raw map[string]interface{}) (docID, docType *string) {
	identifiers, ok := extract.Slice(raw, "identifier")
	if !ok {
		return nil, nil
	}
	identifier, ok := extract.SelectMap(identifiers, func(m map[string]interface{}) bool {
		value, ok := extract.String(m, "value")
		if !ok || value == "" {
			return false
		}
		coding, ok := extract.FirstMap(m, "type", "coding")
		if !ok {
			return true
		}
		code, _ := extract.String(coding, "code")
		return code != "estimated_age"
	})
	if !ok {
		return nil, nil
	}

	docID = optString(identifier, "value")
	if coding, ok := extract.FirstMap(identifier, "type", "coding"); ok {
		docType = optString(coding, "display")
	}
	return docID, docType
}

// patientFacility reads the registering facility from the first metadata tag.
func patientFacility(raw map[string]interface{}) (name string, code *string) {
	name = "N/A"
	tag, ok := extract.FirstMap(raw, "meta", "tag")
	if !ok {
		return name, nil
	}
	if display, ok := extract.String(tag, "display"); ok && display != "" {
		name = display
	}
	if ref, ok := extract.String(tag, "code"); ok && ref != "" {
		trimmed := strings.TrimPrefix(ref, "Location/")
		code = &trimmed
	}
	return name, code
}

// applyGuardianContact scans the contact list for the first entry carrying
// both a telecom value and a relationship text, short-circuiting on match.
func applyGuardianContact(fields *PatientFields, raw map[string]interface{}) {
	contacts, ok := extract.Slice(raw, "contact")
	if !ok {
		return
	}
	for _, item := range contacts {
		contact, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		telecom, ok := extract.FirstMap(contact, "telecom")
		if !ok {
			continue
		}
		relationship, ok := extract.FirstMap(contact, "relationship")
		if !ok {
			continue
		}
		relText, ok := extract.String(relationship, "text")
		if !ok || relText == "" {
			continue
		}

		fields.GuardianRelationship = &relText
		if name, ok := extract.String(contact, "name", "text"); ok {
			fields.GuardianName = &name
		}
		if phone, ok := extract.String(telecom, "value"); ok {
			fields.GuardianPhone = &phone
			fields.PhoneSecondary = &phone
		}
		return
	}
}

// optString returns a pointer to the string at key, or nil when absent or
// empty.
func optString(m map[string]interface{}, path ...string) *string {
	s, ok := extract.String(m, path...)
	if !ok || s == "" {
		return nil
	}
	return &s
}
