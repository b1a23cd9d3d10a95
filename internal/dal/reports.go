package dal

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ReportFilter scopes a report by location and reporting period. Location
// filters are mutually exclusive: the narrowest one provided wins, checked
// facility first.
type ReportFilter struct {
	FacilityCode string
	County       string
	Subcounty    string
	Ward         string
	StartDate    time.Time
	EndDate      time.Time
}

func (f ReportFilter) locationCondition(args *[]interface{}) string {
	switch {
	case f.FacilityCode != "":
		*args = append(*args, f.FacilityCode)
		return fmt.Sprintf("facility_code = $%d", len(*args))
	case f.County != "":
		*args = append(*args, "%"+f.County+"%")
		return fmt.Sprintf("county ILIKE $%d", len(*args))
	case f.Subcounty != "":
		*args = append(*args, "%"+f.Subcounty+"%")
		return fmt.Sprintf("subcounty ILIKE $%d", len(*args))
	case f.Ward != "":
		*args = append(*args, "%"+f.Ward+"%")
		return fmt.Sprintf("ward ILIKE $%d", len(*args))
	}
	return "TRUE"
}

// moh710Antigens is the fixed antigen list of the MOH 710 form, in form
// order, keyed by the vaccine name used in the dataset.
var moh710Antigens = []struct {
	DatasetName string
	FormLabel   string
}{
	{"BCG", "BCG"},
	{"bOPV", "OPV Birth Dose"},
	{"OPV 1", "OPV1"},
	{"OPV 2", "OPV2"},
	{"OPV 3", "OPV3"},
	{"IPV", "IPV"},
	{"DPT-HepB+Hib 1", "DPT-HepB-Hib 1"},
	{"DPT-HepB+Hib 2", "DPT-HepB-Hib 2"},
	{"DPT-HepB+Hib 3", "DPT-HepB-Hib 3"},
	{"PCV10 1", "PCV10 1"},
	{"PCV10 2", "PCV10 2"},
	{"PCV10 3", "PCV10 3"},
	{"Rotavaq 1", "Rota 1"},
	{"Rotavaq 2", "Rota 2"},
	{"Rotavaq 3", "Rota 3"},
	{"Vitamin A", "Vitamin A"},
	{"Yellow Fever", "Yellow Fever"},
	{"Measles-Rubella 1", "Measles-Rubella 1"},
	{"Measles-Rubella 2", "Measles-Rubella 2"},
}

// MOH710Cell is one antigen row of MOH 710 Section A.
type MOH710Cell struct {
	Under1Year int `json:"under_1_year"`
	Above1Year int `json:"above_1_year"`
	Facility   int `json:"facility"`
	Outreach   int `json:"outreach"`
	Total      int `json:"total"`
}

// MOH710SectionA aggregates completed routine immunizations into the
// antigen/age-group grid of the MOH 710 facility report.
func (m *DatasetModel) MOH710SectionA(ctx context.Context, f ReportFilter) (map[string]*MOH710Cell, error) {
	section := make(map[string]*MOH710Cell, len(moh710Antigens))
	labels := make(map[string]string, len(moh710Antigens))
	for _, antigen := range moh710Antigens {
		section[antigen.FormLabel] = &MOH710Cell{}
		labels[antigen.DatasetName] = antigen.FormLabel
	}

	var args []interface{}
	location := f.locationCondition(&args)
	args = append(args, f.StartDate, f.EndDate)

	sql := fmt.Sprintf(`
		SELECT
			vaccine_name,
			age_group,
			COUNT(*),
			COUNT(*) FILTER (WHERE administration_location = 'Facility'),
			COUNT(*) FILTER (WHERE administration_location = 'Outreach')
		FROM primary_immunization_dataset
		WHERE %s
		  AND administered_date BETWEEN $%d AND $%d
		  AND vaccine_category = 'routine'
		  AND immunization_status = 'completed'
		GROUP BY vaccine_name, age_group`,
		location, len(args)-1, len(args),
	)

	rows, err := m.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query moh710 section a: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var vaccineName, ageGroup string
		var total, facility, outreach int
		if err := rows.Scan(&vaccineName, &ageGroup, &total, &facility, &outreach); err != nil {
			return nil, fmt.Errorf("scan moh710 row: %w", err)
		}

		label, ok := labels[vaccineName]
		if !ok {
			continue
		}
		cell := section[label]
		if ageGroup == "Above 1 year" {
			cell.Above1Year += total
		} else {
			cell.Under1Year += total
		}
		cell.Facility += facility
		cell.Outreach += outreach
		cell.Total += total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate moh710 rows: %w", err)
	}

	return section, nil
}

// MOH525Row is one line of the MOH 525 defaulter-tracing list.
type MOH525Row struct {
	SerialNo           int        `json:"serial_no"`
	DueDate            *time.Time `json:"due_date"`
	ChildName          string     `json:"child_name"`
	DocumentID         *string    `json:"document_id"`
	Gender             string     `json:"gender"`
	AgeMonths          *int       `json:"age_in_months"`
	GuardianName       *string    `json:"name_of_parent"`
	ContactNumber      string     `json:"telephone_no"`
	Ward               *string    `json:"ward"`
	VaccineName        string     `json:"missed_vaccine"`
	DaysFromDueDate    *int       `json:"days_overdue"`
	TracingOutcome     string     `json:"tracing_outcome"`
	ImmunizationStatus string     `json:"immunization_status"`
}

// MOH525 returns the defaulter-tracing line list for the reporting period:
// routine doses whose due date falls in the window and whose patient
// defaulted.
func (m *DatasetModel) MOH525(ctx context.Context, f ReportFilter) ([]MOH525Row, error) {
	var args []interface{}
	location := f.locationCondition(&args)
	args = append(args, f.StartDate, f.EndDate)

	sql := fmt.Sprintf(`
		SELECT
			schedule_due_date, given_name, family_name, document_id, gender,
			age_months, guardian_name, phone_primary, ward, vaccine_name,
			days_from_due_date, administration_location, immunization_status
		FROM primary_immunization_dataset
		WHERE %s
		  AND schedule_due_date BETWEEN $%d AND $%d
		  AND vaccine_category = 'routine'
		  AND is_defaulter = TRUE
		ORDER BY schedule_due_date`,
		location, len(args)-1, len(args),
	)

	rows, err := m.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query moh525: %w", err)
	}
	defer rows.Close()

	var report []MOH525Row
	for rows.Next() {
		var row MOH525Row
		var givenName, familyName *string
		var phone *string
		var location string
		err := rows.Scan(
			&row.DueDate, &givenName, &familyName, &row.DocumentID, &row.Gender,
			&row.AgeMonths, &row.GuardianName, &phone, &row.Ward, &row.VaccineName,
			&row.DaysFromDueDate, &location, &row.ImmunizationStatus,
		)
		if err != nil {
			return nil, fmt.Errorf("scan moh525 row: %w", err)
		}

		row.SerialNo = len(report) + 1
		row.ChildName = childName(givenName, familyName)
		row.ContactNumber = "No contact provided"
		if phone != nil && *phone != "" {
			row.ContactNumber = *phone
		}
		row.TracingOutcome = tracingOutcome(location, row.ImmunizationStatus)
		report = append(report, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate moh525 rows: %w", err)
	}

	return report, nil
}

func childName(given, family *string) string {
	var parts []string
	if given != nil && *given != "" {
		parts = append(parts, *given)
	}
	if family != nil && *family != "" {
		parts = append(parts, *family)
	}
	if len(parts) == 0 {
		return "Name not provided"
	}
	return strings.Join(parts, " ")
}

func tracingOutcome(location, status string) string {
	switch {
	case location == "Facility":
		return "Traced & vaccinated at the facility"
	case location == "Outreach":
		return "Vaccinated at another facility/outreach"
	case status == "Not Administered":
		return "Lost to follow up"
	default:
		return "Vaccinated at the facility & NOT documented"
	}
}

// Monitoring report vaccine codes: DPT1, DPT3 and Measles-Rubella 1 are the
// doses the dropout-rate indicators are defined over.
const (
	codeDPT1     = "14676"
	codeDPT3     = "50732"
	codeMeasles1 = "24014"
)

// MonitoringMonth is one month of the immunization monitoring chart.
type MonitoringMonth struct {
	Month string `json:"month"`
	Year  int    `json:"year"`

	DPT1Monthly    int `json:"dpt1_monthly"`
	DPT1Cumulative int `json:"dpt1_cumulative"`
	DPT3Monthly    int `json:"dpt3_monthly"`
	DPT3Cumulative int `json:"dpt3_cumulative"`
	MR1Monthly     int `json:"measles1_monthly"`
	MR1Cumulative  int `json:"measles1_cumulative"`

	DPTDropout               int     `json:"dpt_dropout_cumulative"`
	DPTDropoutRate           float64 `json:"dpt_dropout_rate_cumulative"`
	MeaslesDropout           int     `json:"measles_dropout_cumulative"`
	MeaslesDropoutRate       float64 `json:"measles_dropout_rate_cumulative"`
	DPTPerformanceStatus     string  `json:"dpt_performance_status"`
	MeaslesPerformanceStatus string  `json:"measles_performance_status"`
}

// MonitoringReport builds the monthly monitoring chart for one year:
// DPT1/DPT3/MR1 counts with cumulative dropout rates, for active,
// non-deceased patients with completed doses.
func (m *DatasetModel) MonitoringReport(ctx context.Context, f ReportFilter, year int) ([]MonitoringMonth, error) {
	if year == 0 {
		year = time.Now().Year()
	}

	var args []interface{}
	location := f.locationCondition(&args)
	args = append(args,
		time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(year, time.December, 31, 23, 59, 59, 0, time.UTC),
	)

	sql := fmt.Sprintf(`
		SELECT vaccine_code, EXTRACT(MONTH FROM administered_date)::int, COUNT(*)
		FROM primary_immunization_dataset
		WHERE %s
		  AND administered_date BETWEEN $%d AND $%d
		  AND vaccine_code IN ('%s','%s','%s')
		  AND immunization_status = 'completed'
		  AND is_active = TRUE
		  AND is_deceased = FALSE
		GROUP BY vaccine_code, EXTRACT(MONTH FROM administered_date)`,
		location, len(args)-1, len(args), codeDPT1, codeDPT3, codeMeasles1,
	)

	rows, err := m.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query monitoring report: %w", err)
	}
	defer rows.Close()

	monthly := make(map[int]map[string]int, 12)
	for month := 1; month <= 12; month++ {
		monthly[month] = map[string]int{}
	}
	for rows.Next() {
		var code string
		var month, count int
		if err := rows.Scan(&code, &month, &count); err != nil {
			return nil, fmt.Errorf("scan monitoring row: %w", err)
		}
		if month >= 1 && month <= 12 {
			monthly[month][code] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate monitoring rows: %w", err)
	}

	var report []MonitoringMonth
	var cumDPT1, cumDPT3, cumMR1 int
	for month := 1; month <= 12; month++ {
		cumDPT1 += monthly[month][codeDPT1]
		cumDPT3 += monthly[month][codeDPT3]
		cumMR1 += monthly[month][codeMeasles1]

		entry := MonitoringMonth{
			Month:          time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).Format("January"),
			Year:           year,
			DPT1Monthly:    monthly[month][codeDPT1],
			DPT1Cumulative: cumDPT1,
			DPT3Monthly:    monthly[month][codeDPT3],
			DPT3Cumulative: cumDPT3,
			MR1Monthly:     monthly[month][codeMeasles1],
			MR1Cumulative:  cumMR1,

			DPTDropout:         cumDPT1 - cumDPT3,
			DPTDropoutRate:     dropoutRate(cumDPT1, cumDPT3),
			MeaslesDropout:     cumDPT1 - cumMR1,
			MeaslesDropoutRate: dropoutRate(cumDPT1, cumMR1),
		}
		entry.DPTPerformanceStatus = performanceStatus(entry.DPTDropoutRate)
		entry.MeaslesPerformanceStatus = performanceStatus(entry.MeaslesDropoutRate)
		report = append(report, entry)
	}

	return report, nil
}

// dropoutRate is the percentage of children who received the first dose but
// not the later one.
func dropoutRate(first, later int) float64 {
	if first == 0 {
		return 0
	}
	return float64(first-later) / float64(first) * 100
}

func performanceStatus(rate float64) string {
	if rate < 10 {
		return "Good"
	}
	return "Poor"
}
