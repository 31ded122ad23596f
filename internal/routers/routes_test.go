package routers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"peerprep/proctoring/internal/handlers"
	"peerprep/proctoring/internal/repositories"
	"peerprep/proctoring/internal/scoring"
	"peerprep/proctoring/internal/services"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func newTestEngine(t *testing.T) *services.AggregationEngine {
	t.Helper()
	return services.NewAggregationEngine(
		repositories.NewMemoryStore(),
		scoring.MustLoadPolicy(scoring.DefaultVersion),
		zap.NewNop(),
		services.EngineConfig{},
	)
}

func TestSessionRoutesRegistersBothPrefixes(t *testing.T) {
	router := chi.NewRouter()
	SessionRoutes(router, handlers.NewSessionHandler(newTestEngine(t), nil, zap.NewNop()))

	paths := map[string]bool{}
	if err := chi.Walk(router, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		paths[method+" "+route] = true
		return nil
	}); err != nil {
		t.Fatalf("failed walking routes: %v", err)
	}

	for _, prefix := range []string{"/sessions", "/api/sessions"} {
		expected := []string{
			"POST " + prefix + "/",
			"GET " + prefix + "/{id}",
			"POST " + prefix + "/{id}/events",
			"PUT " + prefix + "/{id}/end",
			"PUT " + prefix + "/{id}/terminate",
			"GET " + prefix + "/{id}/score",
			"GET " + prefix + "/{id}/live",
		}
		for _, route := range expected {
			if !paths[route] {
				t.Fatalf("expected route %s to be registered", route)
			}
		}
	}
}

func TestHealthRoutes(t *testing.T) {
	router := chi.NewRouter()
	HealthRoutes(router, handlers.NewHealthHandler(stubPinger{}, nil))

	for _, path := range []string{"/healthz", "/readyz", "/api/health"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestReadyzReportsFailingStore(t *testing.T) {
	router := chi.NewRouter()
	HealthRoutes(router, handlers.NewHealthHandler(stubPinger{err: errors.New("connection refused")}, nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	var body handlers.ReadinessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "not_ready" || body.Checks["store"].Status != "failed" {
		t.Fatalf("unexpected readiness body %+v", body)
	}
}

func TestMetricsRoute(t *testing.T) {
	router := chi.NewRouter()
	MetricsRoutes(router, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics"))
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "# metrics" {
		t.Fatalf("unexpected metrics response %d %q", rec.Code, rec.Body.String())
	}
}
