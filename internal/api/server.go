package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"media-vault/internal/catalog"
	"media-vault/internal/events"
	"media-vault/internal/logging"
)

// Server is the HTTP command adapter. It decodes requests, calls the
// catalog, and encodes results; all business logic lives below it.
type Server struct {
	catalog *catalog.Catalog
	bus     *events.Bus
	version string
	started time.Time
}

// New creates a Server over the given catalog. bus may be nil, which
// disables the event stream endpoint.
func New(cat *catalog.Catalog, bus *events.Bus, version string) *Server {
	return &Server{
		catalog: cat,
		bus:     bus,
		version: version,
		started: time.Now(),
	}
}

// Router builds the full route table with logging and metrics middleware
// applied.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods("GET")
	r.HandleFunc("/healthz", s.health).Methods("GET")
	r.HandleFunc("/livez", s.liveness).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", s.readiness).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/import/batches", s.createBatches).Methods("POST")
	api.HandleFunc("/import/batches", s.deleteBatches).Methods("DELETE")
	api.HandleFunc("/import/batches/{id}", s.getBatch).Methods("GET")
	api.HandleFunc("/import/batches/{id}/start", s.startBatch).Methods("POST")
	api.HandleFunc("/import/batches/{id}/complete", s.completeBatch).Methods("POST")
	api.HandleFunc("/import/batches/{id}/cancel", s.cancelBatch).Methods("POST")

	api.HandleFunc("/tags", s.listTags).Methods("GET")
	api.HandleFunc("/tags", s.createTag).Methods("POST")
	api.HandleFunc("/tags/merge", s.mergeTags).Methods("POST")
	api.HandleFunc("/tags/recount", s.recountTags).Methods("POST")
	api.HandleFunc("/tags/regen-ancestors", s.regenAncestors).Methods("POST")
	api.HandleFunc("/tags/{id:[0-9]+}", s.getTag).Methods("GET")
	api.HandleFunc("/tags/{id:[0-9]+}", s.editTag).Methods("PUT")
	api.HandleFunc("/tags/{id:[0-9]+}", s.deleteTag).Methods("DELETE")

	api.HandleFunc("/files/hash/{hash}", s.getFileByHash).Methods("GET")
	api.HandleFunc("/files/{id:[0-9]+}", s.getFile).Methods("GET")
	api.HandleFunc("/files/{id:[0-9]+}", s.deleteFile).Methods("DELETE")

	api.HandleFunc("/collections", s.createCollection).Methods("POST")

	if s.bus != nil {
		api.HandleFunc("/events", s.streamEvents).Methods("GET")
	}

	return Logger(DefaultLoggingConfig())(Metrics(DefaultMetricsConfig())(r))
}

// MetricsHandler exposes the Prometheus registry, for serving on a
// dedicated port.
func (s *Server) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		logging.Error("Failed to encode JSON error response: %v", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Uptime       string `json:"uptime"`
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, HealthResponse{
		Status:       "healthy",
		Version:      s.version,
		Uptime:       time.Since(s.started).Round(time.Second).String(),
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	})
}

func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{"status": "alive"})
	}
}

func (s *Server) readiness(w http.ResponseWriter, _ *http.Request) {
	// The catalog is fully wired before the server starts listening, so
	// readiness matches liveness.
	writeJSON(w, map[string]string{"status": "ready"})
}
