package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/marcus/offsync/internal/sync"
)

func TestWatchLoopRunsOnStartAndTicks(t *testing.T) {
	setupCLI(t)
	a, err := openApp()
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	defer a.Close()
	m := a.syncManager(nil)

	ctx, cancel := context.WithCancel(context.Background())
	var reports []sync.Report
	done := make(chan struct{})
	go func() {
		defer close(done)
		watchLoop(ctx, m, 10*time.Millisecond, true, func(rep sync.Report) {
			reports = append(reports, rep)
			if len(reports) == 3 {
				cancel()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("watch loop did not stop")
	}
	if len(reports) < 3 {
		t.Fatalf("expected 3 passes, got %d", len(reports))
	}
	for _, rep := range reports[:3] {
		if rep.Count != 0 || rep.Err != nil {
			t.Errorf("empty cache pass: got %+v", rep)
		}
	}
}

func TestWatchLoopSkipsStartPass(t *testing.T) {
	setupCLI(t)
	a, err := openApp()
	if err != nil {
		t.Fatalf("open app: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	watchLoop(ctx, a.syncManager(nil), time.Hour, false, func(sync.Report) { calls++ })
	if calls != 0 {
		t.Fatalf("expected no pass, got %d", calls)
	}
}
