package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Component names reported by the manager process
const (
	ComponentCoordinator = "coordinator"
	ComponentMonitor     = "monitor"
	ComponentManager     = "manager"
	ComponentAPI         = "api"
)

// Overall states
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// HealthStatus is the body of the health and readiness endpoints
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// ComponentState is the last reported state of one component
type ComponentState struct {
	Healthy bool
	Message string

	// Since is when Healthy last changed
	Since time.Time
}

type registry struct {
	mu         sync.RWMutex
	components map[string]ComponentState
	critical   []string
	started    time.Time
	version    string
}

var components = newRegistry()

func newRegistry() *registry {
	return &registry{
		components: make(map[string]ComponentState),
		critical:   []string{ComponentCoordinator, ComponentMonitor},
		started:    time.Now(),
	}
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	components.mu.Lock()
	defer components.mu.Unlock()
	components.version = version
}

// SetCriticalComponents sets the components that must be healthy for readiness
func SetCriticalComponents(names ...string) {
	components.mu.Lock()
	defer components.mu.Unlock()
	components.critical = append([]string(nil), names...)
}

// RegisterComponent records the state of a component
func RegisterComponent(name string, healthy bool, message string) {
	components.mu.Lock()
	defer components.mu.Unlock()

	now := time.Now()
	st, ok := components.components[name]
	if !ok || st.Healthy != healthy {
		st.Since = now
	}
	st.Healthy = healthy
	st.Message = message
	components.components[name] = st

	if healthy {
		ComponentHealthy.WithLabelValues(name).Set(1)
	} else {
		ComponentHealthy.WithLabelValues(name).Set(0)
	}
}

// UpdateComponent is RegisterComponent for components already known
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// Component returns the recorded state of name
func Component(name string) (ComponentState, bool) {
	components.mu.RLock()
	defer components.mu.RUnlock()
	st, ok := components.components[name]
	return st, ok
}

// GetHealth reports every registered component; any unhealthy component makes
// the process unhealthy
func GetHealth() HealthStatus {
	components.mu.RLock()
	defer components.mu.RUnlock()

	names := make([]string, 0, len(components.components))
	for name := range components.components {
		names = append(names, name)
	}
	sort.Strings(names)

	status := components.summary(StatusHealthy)
	for _, name := range names {
		st := components.components[name]
		if st.Healthy {
			status.Components[name] = StatusHealthy
			continue
		}
		status.Status = StatusUnhealthy
		status.Components[name] = StatusUnhealthy + ": " + st.Message
		if status.Message == "" {
			status.Message = name + " unhealthy"
		}
	}
	return status
}

// GetReadiness reports the critical components only. A manager is ready once
// it is connected to the coordination service and observing its nodes; it
// does not need to be the leader.
func GetReadiness() HealthStatus {
	components.mu.RLock()
	defer components.mu.RUnlock()

	status := components.summary(StatusReady)
	for _, name := range components.critical {
		st, ok := components.components[name]
		waiting := "waiting for " + name
		switch {
		case !ok:
			status.Components[name] = "not registered"
			waiting += " initialization"
		case !st.Healthy:
			status.Components[name] = "not ready: " + st.Message
		default:
			status.Components[name] = StatusReady
			continue
		}
		status.Status = StatusNotReady
		if status.Message == "" {
			status.Message = waiting
		}
	}
	return status
}

func (r *registry) summary(status string) HealthStatus {
	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]string),
		Version:    r.version,
		Uptime:     time.Since(r.started).Round(time.Second).String(),
	}
}

// HealthHandler returns an HTTP handler for the /health endpoint
func HealthHandler() http.HandlerFunc {
	return statusHandler(GetHealth, StatusHealthy)
}

// ReadyHandler returns an HTTP handler for the /ready endpoint
func ReadyHandler() http.HandlerFunc {
	return statusHandler(GetReadiness, StatusReady)
}

// LivenessHandler answers 200 while the process runs
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components.mu.RLock()
		uptime := time.Since(components.started).Round(time.Second).String()
		components.mu.RUnlock()

		writeStatus(w, http.StatusOK, map[string]string{"status": "alive", "uptime": uptime})
	}
}

func statusHandler(get func() HealthStatus, ok string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := get()
		code := http.StatusOK
		if st.Status != ok {
			code = http.StatusServiceUnavailable
		}
		writeStatus(w, code, st)
	}
}

func writeStatus(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
