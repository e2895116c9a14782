package docserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/mschirtzinger/taskmirror/internal/logging"
	"github.com/mschirtzinger/taskmirror/internal/mirror/cloud/docdb"
	"github.com/mschirtzinger/taskmirror/internal/mirror/cloud/httpstore"
	"github.com/mschirtzinger/taskmirror/internal/testutil"
)

func setupTestServer(t *testing.T, token string) *Server {
	t.Helper()
	db, err := docdb.Open(filepath.Join(t.TempDir(), "remote.db"))
	if err != nil {
		t.Fatalf("docdb.Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	srv, err := NewServer(db, &Config{Token: token, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	return srv
}

func TestNewServer_NilStore(t *testing.T) {
	if _, err := NewServer(nil, nil); err == nil {
		t.Error("expected error for nil store")
	}
}

func TestHandler_Routes(t *testing.T) {
	srv := setupTestServer(t, "tok")
	h := srv.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		auth   bool
		want   int
	}{
		{name: "health without token", method: "GET", path: "/healthz", want: http.StatusOK},
		{name: "list without token", method: "GET", path: "/v1/users/u/tasks", want: http.StatusUnauthorized},
		{name: "list", method: "GET", path: "/v1/users/u/tasks", auth: true, want: http.StatusOK},
		{name: "singular kind", method: "GET", path: "/v1/users/u/todo", auth: true, want: http.StatusOK},
		{name: "unknown kind", method: "GET", path: "/v1/users/u/notes", auth: true, want: http.StatusNotFound},
		{name: "add", method: "POST", path: "/v1/users/u/todos", body: `{"title":"x","status":false}`, auth: true, want: http.StatusCreated},
		{name: "add malformed", method: "POST", path: "/v1/users/u/todos", body: `{`, auth: true, want: http.StatusBadRequest},
		{name: "delete missing", method: "DELETE", path: "/v1/users/u/todos/nope", auth: true, want: http.StatusNoContent},
		{name: "manifest missing", method: "GET", path: "/v1/users/u/manifests/tasks", auth: true, want: http.StatusNotFound},
		{name: "put manifest", method: "PUT", path: "/v1/users/u/manifests/tasks", body: `{"complete":true,"count":0}`, auth: true, want: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			if tt.auth {
				req.Header.Set("Authorization", "Bearer tok")
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("expected status %d, got %d (body %s)", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_HealthReflectsStore(t *testing.T) {
	fake := testutil.NewFakeCloud()
	fake.SetPingErr(http.ErrHandlerTimeout)

	srv, err := NewServer(fake, &Config{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp httpstore.HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if resp.Status != "unavailable" {
		t.Errorf("expected unavailable, got %q", resp.Status)
	}
}

func TestServer_StartStop(t *testing.T) {
	srv := setupTestServer(t, "")
	srv.config.Addr = "127.0.0.1:0"

	if err := srv.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
}
