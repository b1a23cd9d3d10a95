package extract

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain date", "2023-01-15", "2023-01-15T00:00:00", false},
		{"timestamp", "2023-01-15T10:30:00", "2023-01-15T10:30:00", false},
		{"timestamp with zulu", "2023-01-15T10:30:00Z", "2023-01-15T10:30:00", false},
		{"fractional seconds", "2023-01-15T10:30:00.123Z", "2023-01-15T10:30:00", false},
		{"zone offset", "2023-01-15T10:30:00+03:00", "2023-01-15T10:30:00", false},
		{"negative zone offset", "2023-01-15T10:30:00-05:00", "2023-01-15T10:30:00", false},
		{"empty", "", "", true},
		{"garbage", "not-a-date", "", true},
		{"short with T", "T", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseDate(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Format("2006-01-02T15:04:05") != tc.want {
				t.Errorf("got %v, want %s", got, tc.want)
			}
		})
	}
}

func TestDatePortion(t *testing.T) {
	if got := DatePortion("2023-01-15T10:30:00Z"); got != "2023-01-15" {
		t.Errorf("got %q", got)
	}
	if got := DatePortion("2023-01-15"); got != "2023-01-15" {
		t.Errorf("got %q", got)
	}
}

func TestDaysBetween(t *testing.T) {
	day := func(value string) time.Time {
		t.Helper()
		d, err := ParseDate(value)
		if err != nil {
			t.Fatalf("parse %q: %v", value, err)
		}
		return d
	}

	cases := []struct {
		name string
		a, b string
		want int
	}{
		{"same day", "2023-01-15", "2023-01-15", 0},
		{"seventeen days late", "2023-02-01", "2023-01-15", 17},
		{"five days late", "2023-01-20", "2023-01-15", 5},
		{"early is negative", "2023-01-10", "2023-01-15", -5},
		{"time of day ignored", "2023-01-16T23:59:00", "2023-01-15T00:01:00", 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DaysBetween(day(tc.a), day(tc.b)); got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}
}
