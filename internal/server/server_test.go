package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"forecaster/internal/config"
	"forecaster/internal/logging"
	"forecaster/internal/service"
	"forecaster/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "forecaster.db"))
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.DefaultConfig()
	svc, err := service.New(st, nil, cfg.ServiceOptions(), logging.Nop())
	if err != nil {
		t.Fatalf("init service: %v", err)
	}
	return NewServer(cfg, svc, logging.Nop())
}

func TestServerRoutes(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz status: %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/templates", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("templates status: %d body=%s", w.Code, w.Body.String())
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/templates", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight status: %d", w.Code)
	}
}
