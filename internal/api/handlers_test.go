package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/moh-dwh/immunization-etl/internal/dal"
	"github.com/moh-dwh/immunization-etl/internal/etl"
)

type fakeStore struct {
	lastFilter       dal.Filter
	lastReportFilter dal.ReportFilter
	err              error
}

func (s *fakeStore) Query(ctx context.Context, f dal.Filter) (*dal.Page, error) {
	s.lastFilter = f
	if s.err != nil {
		return nil, s.err
	}
	return &dal.Page{
		Data:         []etl.FlattenedRecord{{PatientID: "p1", VaccineCode: "42284007", VaccineName: "BCG"}},
		TotalRecords: 1,
		TotalPages:   1,
		CurrentPage:  1,
		PerPage:      20,
	}, nil
}

func (s *fakeStore) Stats(ctx context.Context) (*dal.Stats, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &dal.Stats{TotalPatients: 5, TotalRecords: 40}, nil
}

func (s *fakeStore) MOH710SectionA(ctx context.Context, f dal.ReportFilter) (map[string]*dal.MOH710Cell, error) {
	s.lastReportFilter = f
	if s.err != nil {
		return nil, s.err
	}
	return map[string]*dal.MOH710Cell{"BCG": {Under1Year: 3, Total: 3}}, nil
}

func (s *fakeStore) MOH525(ctx context.Context, f dal.ReportFilter) ([]dal.MOH525Row, error) {
	s.lastReportFilter = f
	if s.err != nil {
		return nil, s.err
	}
	return []dal.MOH525Row{{SerialNo: 1, ChildName: "Amina Wanjiku", VaccineName: "BCG"}}, nil
}

func (s *fakeStore) MonitoringReport(ctx context.Context, f dal.ReportFilter, year int) ([]dal.MonitoringMonth, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []dal.MonitoringMonth{{Month: "January", Year: year}}, nil
}

type fakeTrigger struct {
	busy      bool
	triggered int
}

func (t *fakeTrigger) TriggerAsync(ctx context.Context) bool {
	if t.busy {
		return false
	}
	t.triggered++
	return true
}

func (t *fakeTrigger) InFlight() bool { return t.busy }

func doRequest(t *testing.T, server *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	server.SetupRoutes().ServeHTTP(rec, req)
	return rec
}

func TestHealthHandler(t *testing.T) {
	server := NewServer(&fakeStore{}, &fakeTrigger{})
	rec := doRequest(t, server, http.MethodGet, "/health")

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
}

func TestListRecordsHandler(t *testing.T) {
	store := &fakeStore{}
	server := NewServer(store, &fakeTrigger{})

	rec := doRequest(t, server, http.MethodGet, "/records?county=Nairobi&page=2&per_page=50")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}

	if store.lastFilter.County != "Nairobi" || store.lastFilter.Page != 2 || store.lastFilter.PerPage != 50 {
		t.Errorf("filter not propagated: %+v", store.lastFilter)
	}

	var page dal.Page
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if page.TotalRecords != 1 || len(page.Data) != 1 {
		t.Errorf("envelope: %+v", page)
	}
}

func TestPatientRecordsHandler(t *testing.T) {
	store := &fakeStore{}
	server := NewServer(store, &fakeTrigger{})

	rec := doRequest(t, server, http.MethodGet, "/records/patient-9")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if store.lastFilter.PatientID != "patient-9" {
		t.Errorf("patient id: got %q", store.lastFilter.PatientID)
	}
}

func TestDefaultersHandler(t *testing.T) {
	store := &fakeStore{}
	server := NewServer(store, &fakeTrigger{})

	rec := doRequest(t, server, http.MethodGet, "/defaulters?ward=Parklands")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if !store.lastFilter.DefaultersOnly {
		t.Error("defaulters endpoint must force the defaulter filter")
	}
	if store.lastFilter.Ward != "Parklands" {
		t.Errorf("ward: got %q", store.lastFilter.Ward)
	}
}

func TestQueryFailureReturns500(t *testing.T) {
	server := NewServer(&fakeStore{err: errors.New("connection refused")}, &fakeTrigger{})

	rec := doRequest(t, server, http.MethodGet, "/records")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d", rec.Code)
	}
}

func TestReportRequiresPeriod(t *testing.T) {
	server := NewServer(&fakeStore{}, &fakeTrigger{})

	for _, target := range []string{
		"/reports/moh710",
		"/reports/moh710?start_date=2023-01-01",
		"/reports/moh525?end_date=2023-01-31",
	} {
		rec := doRequest(t, server, http.MethodGet, target)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", target, rec.Code)
		}
	}
}

func TestMOH710Handler(t *testing.T) {
	store := &fakeStore{}
	server := NewServer(store, &fakeTrigger{})

	rec := doRequest(t, server, http.MethodGet, "/reports/moh710?start_date=2023-01-01&end_date=2023-01-31&facility_code=fac-42")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}
	if store.lastReportFilter.FacilityCode != "fac-42" {
		t.Errorf("facility: got %q", store.lastReportFilter.FacilityCode)
	}

	var body map[string]map[string]dal.MOH710Cell
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["section_a"]["BCG"].Total != 3 {
		t.Errorf("section a: %+v", body)
	}
}

func TestMOH525Handler(t *testing.T) {
	server := NewServer(&fakeStore{}, &fakeTrigger{})

	rec := doRequest(t, server, http.MethodGet, "/reports/moh525?start_date=2023-01-01&end_date=2023-01-31")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}

	var body struct {
		Data         []dal.MOH525Row `json:"data"`
		TotalRecords int             `json:"total_records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.TotalRecords != 1 || len(body.Data) != 1 {
		t.Errorf("envelope: %+v", body)
	}
}

func TestMonitoringHandler(t *testing.T) {
	server := NewServer(&fakeStore{}, &fakeTrigger{})

	rec := doRequest(t, server, http.MethodGet, "/reports/monitoring?year=2023")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}

	var body struct {
		Data []dal.MonitoringMonth `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].Year != 2023 {
		t.Errorf("body: %+v", body)
	}
}

func TestTriggerETLHandler(t *testing.T) {
	trigger := &fakeTrigger{}
	server := NewServer(&fakeStore{}, trigger)

	rec := doRequest(t, server, http.MethodPost, "/etl/run")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202", rec.Code)
	}
	if trigger.triggered != 1 {
		t.Errorf("triggered: got %d", trigger.triggered)
	}
}

func TestTriggerETLHandlerBusy(t *testing.T) {
	server := NewServer(&fakeStore{}, &fakeTrigger{busy: true})

	rec := doRequest(t, server, http.MethodPost, "/etl/run")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status: got %d, want 409", rec.Code)
	}
}

func TestTriggerETLHandlerUnconfigured(t *testing.T) {
	server := NewServer(&fakeStore{}, nil)

	rec := doRequest(t, server, http.MethodPost, "/etl/run")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", rec.Code)
	}
}
