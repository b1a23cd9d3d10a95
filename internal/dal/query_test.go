package dal

import (
	"strings"
	"testing"
	"time"
)

func TestBuildFilterWhere(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		filter   Filter
		wantSQL  []string
		wantArgs int
	}{
		{
			name:     "empty filter",
			filter:   Filter{},
			wantSQL:  nil,
			wantArgs: 0,
		},
		{
			name:     "patient id",
			filter:   Filter{PatientID: "p1"},
			wantSQL:  []string{"patient_id = $1"},
			wantArgs: 1,
		},
		{
			name:     "name matches either name column",
			filter:   Filter{Name: "wanjiku"},
			wantSQL:  []string{"family_name ILIKE $1", "given_name ILIKE $1"},
			wantArgs: 1,
		},
		{
			name:     "defaulters only adds no argument",
			filter:   Filter{DefaultersOnly: true},
			wantSQL:  []string{"is_defaulter = TRUE"},
			wantArgs: 0,
		},
		{
			name:     "date window",
			filter:   Filter{StartDate: &start, EndDate: &end},
			wantSQL:  []string{"schedule_due_date >= $1", "schedule_due_date <= $2"},
			wantArgs: 2,
		},
		{
			name: "combined placeholders stay sequential",
			filter: Filter{
				County:         "Nairobi",
				VaccineName:    "BCG",
				DefaultersOnly: true,
				StartDate:      &start,
			},
			wantSQL:  []string{"county ILIKE $1", "vaccine_name ILIKE $2", "is_defaulter = TRUE", "schedule_due_date >= $3"},
			wantArgs: 3,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			where, args := buildFilterWhere(tc.filter)

			if len(tc.wantSQL) == 0 {
				if where != "" {
					t.Errorf("want empty clause, got %q", where)
				}
			} else if !strings.HasPrefix(where, " WHERE ") {
				t.Errorf("clause missing WHERE prefix: %q", where)
			}
			for _, fragment := range tc.wantSQL {
				if !strings.Contains(where, fragment) {
					t.Errorf("clause %q missing fragment %q", where, fragment)
				}
			}
			if len(args) != tc.wantArgs {
				t.Errorf("args: got %d, want %d", len(args), tc.wantArgs)
			}
		})
	}
}

func TestBuildFilterWhereWildcards(t *testing.T) {
	_, args := buildFilterWhere(Filter{Name: "wan"})
	if len(args) != 1 || args[0] != "%wan%" {
		t.Errorf("got %v, want wrapped wildcard", args)
	}
}

func TestClampPage(t *testing.T) {
	cases := []struct {
		name       string
		page       int
		perPage    int
		total      int
		wantPage   int
		wantOffset int
	}{
		{"first page", 1, 20, 100, 1, 0},
		{"second page", 2, 20, 100, 2, 20},
		{"zero page normalizes", 0, 20, 100, 1, 0},
		{"negative page normalizes", -3, 20, 100, 1, 0},
		{"beyond last page wraps to first", 9, 20, 100, 1, 0},
		{"exactly past the end wraps", 6, 20, 100, 1, 0},
		{"last valid page stays", 5, 20, 100, 5, 80},
		{"empty dataset wraps to first", 3, 20, 0, 1, 0},
		{"empty dataset first page", 1, 20, 0, 1, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, offset := clampPage(tc.page, tc.perPage, tc.total)
			if page != tc.wantPage || offset != tc.wantOffset {
				t.Errorf("got page=%d offset=%d, want page=%d offset=%d",
					page, offset, tc.wantPage, tc.wantOffset)
			}
		})
	}
}
