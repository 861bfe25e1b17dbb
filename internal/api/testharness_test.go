package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/marcus/offsync/internal/serverdb"
)

// testConfig returns a config with limits high enough not to interfere.
func testConfig() Config {
	return Config{
		ListenAddr:     ":0",
		BaseURL:        "http://files.test",
		RateLimitRead:  100000,
		RateLimitWrite: 100000,
	}
}

// newTestServer creates a Server backed by a temp database.
func newTestServer(t *testing.T, opts ...func(*Config)) (*Server, *serverdb.ServerDB) {
	t.Helper()

	store, err := serverdb.Open(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("open server db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := testConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	srv, err := NewServer(cfg, store)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	t.Cleanup(srv.cancel)
	return srv, store
}

// createTestUser creates a user and API key, returning the user and bearer token.
func createTestUser(t *testing.T, store *serverdb.ServerDB, email string) (*serverdb.User, string) {
	t.Helper()
	user, err := store.CreateUser(email, "", 1, 7)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, _, err := store.GenerateAPIKey(user.ID, "test", nil)
	if err != nil {
		t.Fatalf("generate api key: %v", err)
	}
	return user, token
}

func doRequest(srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

// TestHarness wraps a full Server with a real HTTP listener for integration tests.
type TestHarness struct {
	t       *testing.T
	Server  *Server
	Store   *serverdb.ServerDB
	BaseURL string
}

// newTestHarness creates a TestHarness with a real HTTP server on a random port.
func newTestHarness(t *testing.T, opts ...func(*Config)) *TestHarness {
	t.Helper()
	srv, store := newTestServer(t, opts...)
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return &TestHarness{t: t, Server: srv, Store: store, BaseURL: httpSrv.URL}
}

// CreateUser creates a user with an API key.
func (h *TestHarness) CreateUser(email string) (int64, string) {
	h.t.Helper()
	u, token := createTestUser(h.t, h.Store, email)
	return u.ID, token
}

// --- Response assertion helpers ---

// AssertStatus checks the HTTP status code matches expected.
func AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if w.Code != expected {
		t.Fatalf("expected status %d, got %d: %s", expected, w.Code, w.Body.String())
	}
}

// AssertErrorResponse checks the response has the expected status and error code.
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedCode string) {
	t.Helper()
	body, _ := io.ReadAll(w.Body)
	if w.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d: %s", expectedStatus, w.Code, string(body))
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp.Error.Code != expectedCode {
		t.Fatalf("expected error code %q, got %q: %s", expectedCode, errResp.Error.Code, errResp.Error.Message)
	}
}

// ReadJSON decodes a JSON response body into the given type.
func ReadJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode json response: %v", err)
	}
	return out
}

// AssertCORSHeaders checks the response has the expected CORS origin header.
func AssertCORSHeaders(t *testing.T, w *httptest.ResponseRecorder, expectedOrigin string) {
	t.Helper()
	if origin := w.Header().Get("Access-Control-Allow-Origin"); origin != expectedOrigin {
		t.Fatalf("expected Access-Control-Allow-Origin %q, got %q", expectedOrigin, origin)
	}
}
