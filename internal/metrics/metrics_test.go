package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGaugeFuncsReflectCounters(t *testing.T) {
	m := New()
	m.PollsOK.Add(3)
	m.ChecksSkipped.Add(1)
	m.LiveClients.Store(2)

	expected := `
# HELP care_polls_ok_total Status polls that returned a snapshot
# TYPE care_polls_ok_total gauge
care_polls_ok_total 3
# HELP care_checks_skipped_total Automatic fall checks skipped while one was in flight
# TYPE care_checks_skipped_total gauge
care_checks_skipped_total 1
# HELP care_live_clients Connected live status clients
# TYPE care_live_clients gauge
care_live_clients 2
`
	err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"care_polls_ok_total", "care_checks_skipped_total", "care_live_clients")
	if err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestObserveAnalysis(t *testing.T) {
	m := New()
	m.ObserveAnalysis(1200 * time.Millisecond)

	if samples := testutil.CollectAndCount(m.AnalysisLatency); samples != 1 {
		t.Fatalf("expected 1 histogram sample, got %d", samples)
	}
}

func TestMiddlewareLabelsRouteTemplate(t *testing.T) {
	m := New()

	r := mux.NewRouter()
	r.Use(m.Middleware)
	r.HandleFunc("/api/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"1", "2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/items/"+id, nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("expected 418, got %d", rec.Code)
		}
	}

	got := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/api/items/{id}", "418"))
	if got != 2 {
		t.Fatalf("expected 2 requests on route template, got %f", got)
	}
}

func TestMiddlewareKeepsFlusher(t *testing.T) {
	m := New()
	var flushable bool
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !flushable {
		t.Fatalf("wrapped writer must implement http.Flusher")
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.FallsDetected.Add(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "care_falls_detected_total 1") {
		t.Fatalf("expected falls counter in output:\n%s", rec.Body.String())
	}
}
