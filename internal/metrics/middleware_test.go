package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestMiddleware_RecordsStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/query", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/query", http.NoBody)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestNormalizePath(t *testing.T) {
	if got := normalizePath(""); got != "unknown" {
		t.Errorf("empty path: got %q, want %q", got, "unknown")
	}
	if got := normalizePath("/query"); got != "/query" {
		t.Errorf("path: got %q, want %q", got, "/query")
	}
}

func TestStatusWriter_DefaultOK(t *testing.T) {
	rr := httptest.NewRecorder()
	ww := &statusWriter{ResponseWriter: rr, status: http.StatusOK}

	if _, err := ww.Write([]byte("body")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ww.status != http.StatusOK {
		t.Errorf("status: got %d, want %d", ww.status, http.StatusOK)
	}
}
