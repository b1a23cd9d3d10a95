// Package api serves the filtered/paginated dataset queries and the
// aggregate report endpoints over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/moh-dwh/immunization-etl/internal/dal"
	"github.com/moh-dwh/immunization-etl/internal/metrics"
)

// Store is the read-side surface the handlers need from the dataset model.
type Store interface {
	Query(ctx context.Context, f dal.Filter) (*dal.Page, error)
	Stats(ctx context.Context) (*dal.Stats, error)
	MOH710SectionA(ctx context.Context, f dal.ReportFilter) (map[string]*dal.MOH710Cell, error)
	MOH525(ctx context.Context, f dal.ReportFilter) ([]dal.MOH525Row, error)
	MonitoringReport(ctx context.Context, f dal.ReportFilter, year int) ([]dal.MonitoringMonth, error)
}

// Trigger starts ETL runs on demand.
type Trigger interface {
	TriggerAsync(ctx context.Context) bool
	InFlight() bool
}

// Server holds the handler dependencies.
type Server struct {
	store   Store
	trigger Trigger
}

// NewServer creates the API server over a dataset store and an ETL trigger.
func NewServer(store Store, trigger Trigger) *Server {
	return &Server{store: store, trigger: trigger}
}

// SetupRoutes configures and returns the HTTP router.
func (s *Server) SetupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(metrics.Middleware)

	r.HandleFunc("/health", s.HealthHandler).Methods("GET")

	// Dataset endpoints
	r.HandleFunc("/records", s.ListRecordsHandler).Methods("GET")
	r.HandleFunc("/records/{patientId}", s.PatientRecordsHandler).Methods("GET")
	r.HandleFunc("/defaulters", s.DefaultersHandler).Methods("GET")
	r.HandleFunc("/stats", s.StatsHandler).Methods("GET")

	// Report endpoints
	r.HandleFunc("/reports/moh710", s.MOH710Handler).Methods("GET")
	r.HandleFunc("/reports/moh525", s.MOH525Handler).Methods("GET")
	r.HandleFunc("/reports/monitoring", s.MonitoringHandler).Methods("GET")

	// Manual ETL trigger
	r.HandleFunc("/etl/run", s.TriggerETLHandler).Methods("POST")

	// Prometheus metrics endpoint
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return r
}

// HealthHandler reports process liveness.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
