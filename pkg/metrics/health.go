package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthStatus is the JSON body of /health and /ready
type HealthStatus struct {
	Status     string            `json:"status"` // healthy/unhealthy or ready/not_ready
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// criticalComponents must be registered and healthy for the process to be ready
var criticalComponents = []string{"store", "worker"}

type componentState struct {
	err     error
	updated time.Time
}

type healthRegistry struct {
	mu         sync.RWMutex
	components map[string]componentState
	started    time.Time
	version    string
}

var registry = &healthRegistry{
	components: make(map[string]componentState),
	started:    time.Now(),
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.version = version
}

// SetComponent records the state of a component; a nil err means healthy
func SetComponent(name string, err error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.components[name] = componentState{err: err, updated: time.Now()}
}

func resetHealth() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.components = make(map[string]componentState)
}

func (r *healthRegistry) status(status, message string, components map[string]string) HealthStatus {
	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    r.version,
		Uptime:     time.Since(r.started).Round(time.Second).String(),
	}
}

// GetHealth reports unhealthy as soon as one registered component failed
func GetHealth() HealthStatus {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string, len(registry.components))
	for name, c := range registry.components {
		if c.err != nil {
			status = "unhealthy"
			components[name] = "unhealthy: " + c.err.Error()
			continue
		}
		components[name] = "healthy"
	}
	return registry.status(status, "", components)
}

// GetReadiness reports ready once every critical component is registered and healthy
func GetReadiness() HealthStatus {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	status, message := "ready", ""
	components := make(map[string]string, len(criticalComponents))
	for _, name := range criticalComponents {
		c, ok := registry.components[name]
		switch {
		case !ok:
			status, message = "not_ready", "waiting for "+name+" initialization"
			components[name] = "not registered"
		case c.err != nil:
			status, message = "not_ready", "waiting for "+name
			components[name] = "not ready: " + c.err.Error()
		default:
			components[name] = "ready"
		}
	}
	return registry.status(status, message, components)
}

func writeStatus(w http.ResponseWriter, s HealthStatus, ok bool) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(s)
}

// HealthHandler serves /health
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := GetHealth()
		writeStatus(w, s, s.Status == "healthy")
	}
}

// ReadyHandler serves /ready
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := GetReadiness()
		writeStatus(w, s, s.Status == "ready")
	}
}

// Mux returns a ServeMux exposing /metrics, /health and /ready
func Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", HealthHandler())
	mux.HandleFunc("/ready", ReadyHandler())
	return mux
}
