package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"realtimeedit/go-server/coordinator"
	"realtimeedit/go-server/metrics"
	"realtimeedit/go-server/session"
)

func newTestServer() *Server {
	store := session.NewMemoryStore()
	agg := metrics.New()
	hub := coordinator.NewHub(store, agg, nil)
	return NewServer(store, agg, hub)
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestServer()
	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var created map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	id, _ := created["session_id"].(string)
	if id == "" {
		t.Fatal("expected a generated session_id in the create response")
	}

	getReq := httptest.NewRequest(http.MethodGet, "/api/sessions/"+id, nil)
	getRec := httptest.NewRecorder()
	mux.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching the created session, got %d", getRec.Code)
	}
}

func TestGetMissingSessionReturns404(t *testing.T) {
	s := newTestServer()
	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/does-not-exist", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHealthEndpointReportsHealthy(t *testing.T) {
	s := newTestServer()
	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("expected status healthy, got %v", body["status"])
	}
}

func TestAdminCleanupRequiresPost(t *testing.T) {
	s := newTestServer()
	mux := http.NewServeMux()
	s.Routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/cleanup", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", rec.Code)
	}
}
