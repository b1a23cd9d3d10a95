package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/moh-dwh/immunization-etl/internal/dal"
	"github.com/moh-dwh/immunization-etl/internal/extract"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// filterFromQuery builds a dataset filter from request query parameters.
func filterFromQuery(r *http.Request) dal.Filter {
	q := r.URL.Query()

	f := dal.Filter{
		Name:         q.Get("name"),
		County:       q.Get("county"),
		Subcounty:    q.Get("subcounty"),
		Ward:         q.Get("ward"),
		FacilityCode: q.Get("facility_code"),
		VaccineName:  q.Get("vaccine_name"),
	}

	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		f.Page = page
	}
	if perPage, err := strconv.Atoi(q.Get("per_page")); err == nil {
		f.PerPage = perPage
	}
	if start, err := extract.ParseDate(q.Get("start_date")); err == nil {
		f.StartDate = &start
	}
	if end, err := extract.ParseDate(q.Get("end_date")); err == nil {
		f.EndDate = &end
	}

	return f
}

// ListRecordsHandler handles GET /records.
func (s *Server) ListRecordsHandler(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.Query(r.Context(), filterFromQuery(r))
	if err != nil {
		log.Error().Err(err).Msg("Failed to query records")
		writeError(w, http.StatusInternalServerError, "failed to query records")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// PatientRecordsHandler handles GET /records/{patientId}.
func (s *Server) PatientRecordsHandler(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["patientId"]
	if patientID == "" {
		writeError(w, http.StatusBadRequest, "missing patient id")
		return
	}

	f := filterFromQuery(r)
	f.PatientID = patientID

	page, err := s.store.Query(r.Context(), f)
	if err != nil {
		log.Error().Err(err).Str("patient_id", patientID).Msg("Failed to query patient records")
		writeError(w, http.StatusInternalServerError, "failed to query records")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// DefaultersHandler handles GET /defaulters.
func (s *Server) DefaultersHandler(w http.ResponseWriter, r *http.Request) {
	f := filterFromQuery(r)
	f.DefaultersOnly = true

	page, err := s.store.Query(r.Context(), f)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query defaulters")
		writeError(w, http.StatusInternalServerError, "failed to query defaulters")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// StatsHandler handles GET /stats.
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to query stats")
		writeError(w, http.StatusInternalServerError, "failed to query stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// reportFilterFromQuery builds a report filter. Reports require an explicit
// reporting period.
func reportFilterFromQuery(r *http.Request) (dal.ReportFilter, bool) {
	q := r.URL.Query()

	f := dal.ReportFilter{
		FacilityCode: q.Get("facility_code"),
		County:       q.Get("county"),
		Subcounty:    q.Get("subcounty"),
		Ward:         q.Get("ward"),
	}

	start, err := extract.ParseDate(q.Get("start_date"))
	if err != nil {
		return f, false
	}
	end, err := extract.ParseDate(q.Get("end_date"))
	if err != nil {
		return f, false
	}
	f.StartDate = start
	f.EndDate = end
	return f, true
}

// MOH710Handler handles GET /reports/moh710.
func (s *Server) MOH710Handler(w http.ResponseWriter, r *http.Request) {
	f, ok := reportFilterFromQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "start_date and end_date are required (YYYY-MM-DD)")
		return
	}

	section, err := s.store.MOH710SectionA(r.Context(), f)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build MOH 710 report")
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"section_a": section})
}

// MOH525Handler handles GET /reports/moh525.
func (s *Server) MOH525Handler(w http.ResponseWriter, r *http.Request) {
	f, ok := reportFilterFromQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "start_date and end_date are required (YYYY-MM-DD)")
		return
	}

	report, err := s.store.MOH525(r.Context(), f)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build MOH 525 report")
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":          report,
		"total_records": len(report),
	})
}

// MonitoringHandler handles GET /reports/monitoring.
func (s *Server) MonitoringHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := dal.ReportFilter{
		FacilityCode: q.Get("facility_code"),
		County:       q.Get("county"),
		Subcounty:    q.Get("subcounty"),
	}
	year, _ := strconv.Atoi(q.Get("year"))

	report, err := s.store.MonitoringReport(r.Context(), f, year)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build monitoring report")
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": report})
}

// TriggerETLHandler handles POST /etl/run. Returns 409 when a run is
// already in flight.
func (s *Server) TriggerETLHandler(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "ETL trigger not configured")
		return
	}

	// The run outlives the request, so it is not bound to the request
	// context.
	if !s.trigger.TriggerAsync(context.Background()) {
		writeError(w, http.StatusConflict, "an ETL run is already in flight")
		return
	}

	log.Info().Str("remote_addr", r.RemoteAddr).Msg("ETL run triggered via API")
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":       "accepted",
		"triggered_at": time.Now().UTC().Format(time.RFC3339),
	})
}
