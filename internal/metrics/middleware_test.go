package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/sessions/{session_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/plain", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	seriesBefore := testutil.CollectAndCount(httpRequestDurationSeconds)
	before418 := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418"))
	before200 := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/sessions/"+id, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/plain", nil))

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")) - before418; got != 3 {
		t.Errorf("418 requests = %v, want 3", got)
	}
	// A handler that never calls WriteHeader still counts as 200.
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")) - before200; got != 1 {
		t.Errorf("200 requests = %v, want 1", got)
	}
	// Three session IDs collapse into one route series.
	if added := testutil.CollectAndCount(httpRequestDurationSeconds) - seriesBefore; added > 2 {
		t.Errorf("duration series added = %d, want at most one per route pattern", added)
	}
}
