package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// readinessTimeout bounds one round of dependency probes.
const readinessTimeout = 2 * time.Second

// HealthChecker backs /healthz and /readyz. The service is ready once
// SetReady(true) was called and every registered probe passes.
type HealthChecker struct {
	started time.Time
	ready   atomic.Bool

	mu     sync.RWMutex
	probes map[string]func(context.Context) error
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		started: time.Now(),
		probes:  make(map[string]func(context.Context) error),
	}
}

// AddCheck registers a named dependency probe, replacing any probe with the
// same name.
func (h *HealthChecker) AddCheck(name string, probe func(context.Context) error) {
	h.mu.Lock()
	h.probes[name] = probe
	h.mu.Unlock()
}

func (h *HealthChecker) SetReady(ready bool) { h.ready.Store(ready) }

func (h *HealthChecker) IsReady() bool { return h.ready.Load() }

type healthBody struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks []string          `json:"checks,omitempty"`
	Failed map[string]string `json:"failed,omitempty"`
}

// LivenessHandler answers 200 while the process runs.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, healthBody{
		Status: "alive",
		Uptime: time.Since(h.started).Truncate(time.Second).String(),
	})
}

// ReadinessHandler answers 200 when ready, 503 with the failing probes
// otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	names, failed := h.probe(ctx)
	if !h.ready.Load() || len(failed) > 0 {
		writeHealth(w, http.StatusServiceUnavailable, healthBody{Status: "not_ready", Checks: names, Failed: failed})
		return
	}
	writeHealth(w, http.StatusOK, healthBody{Status: "ready", Checks: names})
}

func (h *HealthChecker) probe(ctx context.Context) ([]string, map[string]string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.probes))
	var failed map[string]string
	for name, probe := range h.probes {
		names = append(names, name)
		if err := probe(ctx); err != nil {
			if failed == nil {
				failed = make(map[string]string)
			}
			failed[name] = err.Error()
		}
	}
	sort.Strings(names)
	return names, failed
}

func writeHealth(w http.ResponseWriter, status int, body healthBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
