package cmd

import (
	"context"
	"log/slog"
	"testing"

	"github.com/marcus/offsync/internal/strategy"
	"github.com/marcus/offsync/internal/sync"
	"github.com/spf13/cobra"
)

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    map[string]any
		wantErr bool
	}{
		{"empty", nil, map[string]any{}, false},
		{"string", []string{"title=Survey"}, map[string]any{"title": "Survey"}, false},
		{"typed", []string{"n=4", "f=1.5", "ok=true", "gone=null"}, map[string]any{"n": int64(4), "f": 1.5, "ok": true, "gone": nil}, false},
		{"value with equals", []string{"q=a=b"}, map[string]any{"q": "a=b"}, false},
		{"empty value", []string{"note="}, map[string]any{"note": ""}, false},
		{"missing equals", []string{"title"}, nil, true},
		{"missing key", []string{"=x"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAssignments(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s: got %#v, want %#v", k, got[k], v)
				}
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelWarn,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for in, want := range tests {
		got, err := parseLevel(in)
		if err != nil || got != want {
			t.Errorf("parseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := parseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestParseID(t *testing.T) {
	if id, err := parseID("record id", "42"); err != nil || id != 42 {
		t.Fatalf("got %d, %v", id, err)
	}
	for _, bad := range []string{"", "0", "-3", "abc"} {
		if _, err := parseID("record id", bad); err == nil {
			t.Errorf("parseID(%q): expected error", bad)
		}
	}
}

func TestPolicyFlagDefaultsToConfig(t *testing.T) {
	setupCLI(t)
	t.Setenv("OFFSYNC_POLICY", "cache_first")

	c := &cobra.Command{Use: "x"}
	addPolicyFlag(c)
	p, err := policyFlag(c)
	if err != nil || p != strategy.CacheFirst {
		t.Fatalf("default: got %q, %v", p, err)
	}

	if err := c.Flags().Set("policy", "remote-only"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	p, err = policyFlag(c)
	if err != nil || p != strategy.RemoteOnly {
		t.Fatalf("flag: got %q, %v", p, err)
	}
	if err := c.Flags().Set("policy", "sometimes"); err == nil {
		t.Fatal("expected invalid policy to be rejected")
	}
}

func TestResolutionFlagDefaultsToConfig(t *testing.T) {
	setupCLI(t)
	t.Setenv("OFFSYNC_RESOLVE", "use-remote")

	c := &cobra.Command{Use: "x"}
	c.Flags().Var(new(sync.Resolution), "resolve", "")
	r, err := resolutionFlag(c)
	if err != nil || r != sync.UseRemote {
		t.Fatalf("default: got %v, %v", r, err)
	}
	if err := c.Flags().Set("resolve", "discard"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	if r, _ := resolutionFlag(c); r != sync.Discard {
		t.Fatalf("flag: got %v", r)
	}
}

func TestSavedSession(t *testing.T) {
	setupCLI(t)

	s, err := savedSession()
	if err != nil || s != nil {
		t.Fatalf("logged out: got %+v, %v", s, err)
	}

	t.Setenv("OFFSYNC_API_KEY", "os_live_abc")
	t.Setenv("OFFSYNC_URL", "http://example.test")
	s, err = savedSession()
	if err != nil || s == nil {
		t.Fatalf("env key: got %+v, %v", s, err)
	}
	if s.APIKey != "os_live_abc" || s.ServerURL != "http://example.test" {
		t.Fatalf("session: got %+v", s)
	}
}

func TestOpenAppLoggedOut(t *testing.T) {
	setupCLI(t)

	a, err := openApp()
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	defer a.Close()
	if a.session.IsLoggedIn() {
		t.Fatal("expected logged out session")
	}
	n, err := a.store.CountPending(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("pending: got %d, %v", n, err)
	}
}
