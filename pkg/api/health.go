package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/rookery/pkg/coord"
	"github.com/cuemby/rookery/pkg/events"
	"github.com/cuemby/rookery/pkg/manager"
	"github.com/cuemby/rookery/pkg/metrics"
	"github.com/cuemby/rookery/pkg/storage"
	"github.com/cuemby/rookery/pkg/types"
)

// DefaultHistoryLimit bounds /history when no limit is given
const DefaultHistoryLimit = 100

// StatusSource reports the local manager's status
type StatusSource interface {
	Status() manager.Status
}

// HistorySource lists recorded failover events, oldest first
type HistorySource interface {
	List(limit int) ([]*events.Event, error)
}

// HealthServer provides the HTTP endpoints of a manager process
type HealthServer struct {
	manager StatusSource
	store   *storage.TopologyStore
	journal HistorySource
	mux     *http.ServeMux
	server  *http.Server
}

// NewHealthServer creates a new HTTP server. Any source may be nil; the
// endpoints depending on it then answer 503.
func NewHealthServer(mgr StatusSource, store *storage.TopologyStore, journal HistorySource) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		manager: mgr,
		store:   store,
		journal: journal,
		mux:     mux,
	}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.HandleFunc("/status", hs.statusHandler)
	mux.HandleFunc("/topology", hs.topologyHandler)
	mux.HandleFunc("/history", hs.historyHandler)
	mux.Handle("/metrics", metrics.Handler())

	return hs
}

// Start serves HTTP on addr until Shutdown is called
func (hs *HealthServer) Start(addr string) error {
	hs.server = &http.Server{
		Addr:         addr,
		Handler:      hs.GetHandler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	err := hs.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	if hs.server == nil {
		return nil
	}
	return hs.server.Shutdown(ctx)
}

// GetHandler returns the instrumented HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return instrument(hs.mux)
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// TopologyResponse is the persisted topology as served by /topology
type TopologyResponse struct {
	Primary     string    `json:"primary"`
	Replicas    []string  `json:"replicas"`
	Unavailable []string  `json:"unavailable"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// healthHandler is the liveness check with component details
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	metrics.HealthHandler()(w, r)
}

// readyHandler checks that the coordination service answers and reports
// this process's role
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.manager != nil {
		if hs.manager.Status().Leader {
			checks["leadership"] = "leader"
		} else {
			checks["leadership"] = "follower"
		}
	} else {
		checks["leadership"] = "not initialized"
		ready = false
		message = "Manager not initialized"
	}

	if hs.store != nil {
		_, err := hs.store.ReadTopology(r.Context())
		switch {
		case err == nil:
			checks["coordinator"] = "ok"
		case errors.Is(err, coord.ErrNoNode):
			checks["coordinator"] = "ok (no topology recorded)"
		default:
			checks["coordinator"] = "error: " + err.Error()
			ready = false
			if message == "" {
				message = "Coordination service not accessible"
			}
		}
	} else {
		checks["coordinator"] = "not initialized"
		ready = false
	}

	for name, state := range metrics.GetReadiness().Components {
		if _, ok := checks[name]; ok {
			continue
		}
		checks[name] = state
		if state != "ready" {
			ready = false
			if message == "" {
				message = "waiting for " + name
			}
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}

func (hs *HealthServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if hs.manager == nil {
		http.Error(w, "Manager not initialized", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, hs.manager.Status())
}

// topologyHandler serves the persisted topology, which every manager can
// read regardless of leadership
func (hs *HealthServer) topologyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if hs.store == nil {
		http.Error(w, "Store not initialized", http.StatusServiceUnavailable)
		return
	}

	rec, err := hs.store.ReadTopology(r.Context())
	if errors.Is(err, coord.ErrNoNode) {
		http.Error(w, "No topology recorded", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, topologyResponse(rec))
}

func (hs *HealthServer) historyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if hs.journal == nil {
		http.Error(w, "Journal not initialized", http.StatusServiceUnavailable)
		return
	}

	limit := DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	list, err := hs.journal.List(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*events.Event{}
	}
	writeJSON(w, http.StatusOK, list)
}

func topologyResponse(rec *types.TopologyRecord) TopologyResponse {
	resp := TopologyResponse{
		Primary:     rec.Primary,
		Replicas:    rec.Replicas,
		Unavailable: rec.Unavailable,
		UpdatedAt:   rec.UpdatedAt,
	}
	if resp.Replicas == nil {
		resp.Replicas = []string{}
	}
	if resp.Unavailable == nil {
		resp.Unavailable = []string{}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusRecorder captures the response code for metrics
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and durations per path
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}

		next.ServeHTTP(rec, r)

		method := "http " + r.URL.Path
		metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(rec.code)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)
	})
}
