package admin_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/mercury-pubsub/mercury"
	"github.com/mercury-pubsub/mercury/admin"
)

func newServer(t *testing.T) *mercury.Server {
	t.Helper()
	s, err := mercury.NewServer()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Shutdown)
	return s
}

// it should serve a HTML index page
func TestAdminHTTPIndex(t *testing.T) {
	s := newServer(t)

	req, err := http.NewRequest("GET", "/admin/", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	handler := admin.Handler(s, admin.Options{})
	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v",
			status, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), "status.json") {
		t.Error("status page does not poll status.json")
	}
}

// it should expose a REST JSON status API
func TestAdminHTTPStatusAPI(t *testing.T) {
	s := newServer(t)

	req, err := http.NewRequest("GET", "/admin/status.json", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	handler := admin.Handler(s, admin.Options{})
	handler.ServeHTTP(rr, req)

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v",
			status, http.StatusOK)
	}

	if ctype := rr.Header().Get("Content-Type"); ctype != "application/json" {
		t.Errorf("content type header does not match: got %v want %v",
			ctype, "application/json")
	}

	var status mercury.ServerStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Status != "OK" {
		t.Errorf("unexpected status: got %v want OK", status.Status)
	}
	if len(status.Connections) != 0 {
		t.Errorf("expected no connections, got %d", len(status.Connections))
	}
}

// it should disable all HTTP endpoints based on Options
func TestAdminDisableEndpoints(t *testing.T) {
	s := newServer(t)

	for _, path := range []string{"/admin/", "/admin/status.json"} {
		req, err := http.NewRequest("GET", path, nil)
		if err != nil {
			t.Fatal(err)
		}

		rr := httptest.NewRecorder()
		handler := admin.Handler(s, admin.Options{Disabled: true})
		handler.ServeHTTP(rr, req)

		if status := rr.Code; status != http.StatusForbidden {
			t.Errorf("handler returned wrong status code: got %v want %v",
				status, http.StatusForbidden)
		}

		expected := "403 admin endpoint disabled\n"
		if rr.Body.String() != expected {
			t.Errorf("handler returned unexpected body: got %v want %v",
				rr.Body.String(), expected)
		}
	}
}

func TestStaticHandler(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"index.html":      "<h1>home</h1>",
		"channels.html":   "<h1>channels</h1>",
		"keys/index.html": "<h1>keys</h1>",
		"404.html":        "<h1>lost</h1>",
	}
	for name, body := range files {
		p := filepath.Join(dir, "static", name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	t.Chdir(dir)

	handler := admin.StaticHandler("static")

	var testcases = []struct {
		path   string
		status int
		body   string
	}{
		{"/", http.StatusOK, "<h1>home</h1>"},
		{"/channels", http.StatusOK, "<h1>channels</h1>"},
		{"/channels.html", http.StatusOK, "<h1>channels</h1>"},
		{"/keys", http.StatusOK, "<h1>keys</h1>"},
		{"/nope", http.StatusNotFound, "<h1>lost</h1>"},
		{"/../../etc/passwd", http.StatusNotFound, "<h1>lost</h1>"},
	}
	for _, tc := range testcases {
		req := httptest.NewRequest("GET", tc.path, nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != tc.status {
			t.Errorf("%s: got status %v want %v", tc.path, rr.Code, tc.status)
		}
		if rr.Body.String() != tc.body {
			t.Errorf("%s: got body %q want %q", tc.path, rr.Body.String(), tc.body)
		}
	}
}

func TestStaticHandlerMissingBox(t *testing.T) {
	t.Chdir(t.TempDir())
	handler := admin.StaticHandler("static")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("got status %v want %v", rr.Code, http.StatusNotFound)
	}
}
