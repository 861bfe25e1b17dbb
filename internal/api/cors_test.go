package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSMiddleware(t *testing.T) {
	stub := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"disabled", nil, "https://app.example.com", ""},
		{"no origin header", []string{"https://app.example.com"}, "", ""},
		{"allowed", []string{"https://app.example.com"}, "https://app.example.com", "https://app.example.com"},
		{"disallowed", []string{"https://app.example.com"}, "https://evil.example.com", ""},
		{"wildcard", []string{"*"}, "https://any.example.com", "https://any.example.com"},
		{"second of two", []string{"https://one.example.com", "https://two.example.com"}, "https://two.example.com", "https://two.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{config: Config{CORSAllowedOrigins: tt.allowed}}
			req := httptest.NewRequest("GET", "/v1/records/1", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			s.CORSMiddleware(stub).ServeHTTP(w, req)

			AssertCORSHeaders(t, w, tt.want)
			AssertStatus(t, w, http.StatusOK)
		})
	}
}

func TestCORSPreflightSkipsAuth(t *testing.T) {
	srv, _ := newTestServer(t, func(c *Config) { c.CORSAllowedOrigins = []string{"https://app.example.com"} })

	req := httptest.NewRequest("OPTIONS", "/v1/records", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	AssertStatus(t, w, http.StatusNoContent)
	AssertCORSHeaders(t, w, "https://app.example.com")
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, PUT, OPTIONS" {
		t.Fatalf("allow methods: got %q", got)
	}
}
