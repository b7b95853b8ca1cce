package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler_nilMetrics(t *testing.T) {
	var m *Metrics
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if got := rr.Body.String(); !strings.Contains(got, "metrics unavailable") {
		t.Fatalf("expected body to mention metrics unavailable, got %q", got)
	}
}

func TestNilMetrics_MethodsAreNoOps(t *testing.T) {
	var m *Metrics
	m.ObserveHTTPRequest(http.MethodGet, "/", 200, time.Millisecond)
	m.IncMapLoad("ok")
	m.ObserveMapLoadDuration(time.Second)
	m.SetLoadedMaps(3)
	m.IncSnapshot()
	m.IncRollback()
	m.IncFailureHandled("network", "medium")
}

func TestHandler_exposesRegisteredMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest(http.MethodGet, "/readyz", http.StatusOK, 12*time.Millisecond)
	m.IncMapLoad("ok")
	m.ObserveMapLoadDuration(300 * time.Millisecond)
	m.SetLoadedMaps(2)
	m.IncSnapshot()
	m.IncFailureHandled("network", "medium")

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	body := rr.Body.String()
	if !strings.Contains(body, "fleetmap_http_requests_total{method=\"GET\",path=\"/readyz\",status=\"200\"} 1") {
		t.Fatalf("expected labeled request counter to be incremented; body=%s", body)
	}
	if !strings.Contains(body, "fleetmap_map_loads_total{outcome=\"ok\"} 1") {
		t.Fatalf("expected map load counter to be incremented; body=%s", body)
	}
	if !strings.Contains(body, "fleetmap_map_load_duration_seconds_count 1") {
		t.Fatalf("expected map load duration histogram to have one observation; body=%s", body)
	}
	if !strings.Contains(body, "fleetmap_loaded_maps 2") {
		t.Fatalf("expected loaded maps gauge; body=%s", body)
	}
	if !strings.Contains(body, "fleetmap_snapshots_total 1") {
		t.Fatalf("expected snapshots counter; body=%s", body)
	}
	if !strings.Contains(body, "fleetmap_failures_handled_total{category=\"network\",severity=\"medium\"} 1") {
		t.Fatalf("expected failures handled counter; body=%s", body)
	}
}
