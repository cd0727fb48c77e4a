package observability_test

import (
	"FXSwapLedger/internal/observability"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestHealthChecker_Readiness(t *testing.T) {
	h := observability.NewHealthChecker()

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("before SetReady: got %d, want 503", rec.Code)
	}

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("after SetReady: got %d, want 200", rec.Code)
	}

	h.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("with failing check: got %d, want 503", rec.Code)
	}

	var body struct {
		Failed map[string]string `json:"failed"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Failed["postgres"] != "connection refused" {
		t.Errorf("failed checks: %v", body.Failed)
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	rec := httptest.NewRecorder()
	observability.NewHealthChecker().LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("got %d, want 200", rec.Code)
	}
}

func TestNewMetrics_IsolatedRegistries(t *testing.T) {
	m1 := observability.NewMetrics(prometheus.NewRegistry())
	m2 := observability.NewMetrics(prometheus.NewRegistry())

	m1.OperationsApplied.WithLabelValues("deposit").Inc()
	if got := testutil.ToFloat64(m2.OperationsApplied.WithLabelValues("deposit")); got != 0 {
		t.Errorf("registries leak: got %v", got)
	}

	m1.SetChannelMetrics("persist", 5, 10)
	if got := testutil.ToFloat64(m1.ChannelUtilization.WithLabelValues("persist")); got != 0.5 {
		t.Errorf("utilization: got %v, want 0.5", got)
	}
}

func TestNewLoggerWithLevel_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLoggerWithLevel(&buf, "engine", zerolog.InfoLevel)

	logger.Debug().Msg("hidden")
	logger.Info().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug line written at info level")
	}
	if !strings.Contains(out, `"component":"engine"`) || !strings.Contains(out, "shown") {
		t.Errorf("unexpected output: %s", out)
	}
}
