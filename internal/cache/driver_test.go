package cache

import (
	"context"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestCgoDriver(t *testing.T) {
	s, err := Open(Options{Dir: t.TempDir(), Driver: "sqlite3"})
	if err != nil {
		if strings.Contains(err.Error(), "CGO_ENABLED") || strings.Contains(err.Error(), "cgo") {
			t.Skipf("cgo driver unavailable: %v", err)
		}
		t.Fatalf("Open sqlite3: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.SetDirty(ctx, "c", "k", []byte("v"), Attributes{"n": 1}); err != nil {
		t.Fatalf("SetDirty: %v", err)
	}
	v, ok, err := s.Get(ctx, "c", "k")
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("Get: %q %v %v", v, ok, err)
	}
	if n, _ := s.CountPending(ctx); n != 1 {
		t.Fatalf("pending: got %d, want 1", n)
	}
}
