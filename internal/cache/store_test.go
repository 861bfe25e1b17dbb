package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/marcus/offsync/internal/errkind"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")
	s, err := Open(Options{Dir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(filepath.Join(dir, dbFile)); err != nil {
		t.Fatalf("database file not created: %v", err)
	}
	v, err := s.Version()
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v != SchemaVersion {
		t.Fatalf("schema version: got %d, want %d", v, SchemaVersion)
	}
}

func TestOpenRequiresDir(t *testing.T) {
	_, err := Open(Options{})
	if !errkind.Is(err, errkind.ValidationFailed) {
		t.Fatalf("got %v, want validation_failed", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Options{Dir: t.TempDir(), Driver: "nope"})
	if !errkind.Is(err, errkind.NotAvailable) {
		t.Fatalf("got %v, want not_available", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(Options{Dir: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SetDirty(ctx, "forms", "draft-1", []byte("v"), nil); err != nil {
		t.Fatalf("SetDirty: %v", err)
	}
	s.Close()

	s, err = Open(Options{Dir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	n, err := s.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if n != 1 {
		t.Fatalf("pending after reopen: got %d, want 1", n)
	}
}

func TestGetAbsent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v, ok, err := s.Get(ctx, "forms", "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok || v != nil {
		t.Fatalf("absent key: got ok=%v value=%q", ok, v)
	}
	e, err := s.GetEntry(ctx, "forms", "missing")
	if err != nil || e != nil {
		t.Fatalf("GetEntry absent: got %v, %v", e, err)
	}
}

func TestSetAndGetWithAttributes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	attrs := Attributes{"userId": int64(42), "name": "form"}
	if err := s.SetClean(ctx, "forms", "recordId-1", []byte(`{"a":1}`), attrs); err != nil {
		t.Fatalf("SetClean: %v", err)
	}

	v, got, ok, err := s.GetWithAttributes(ctx, "forms", "recordId-1")
	if err != nil || !ok {
		t.Fatalf("GetWithAttributes: ok=%v err=%v", ok, err)
	}
	if string(v) != `{"a":1}` {
		t.Errorf("value: got %q", v)
	}
	if id, ok := got.Int64("userId"); !ok || id != 42 {
		t.Errorf("userId: got %d ok=%v, want 42", id, ok)
	}
	if got.String("name") != "form" {
		t.Errorf("name: got %q", got.String("name"))
	}

	e, err := s.GetEntry(ctx, "forms", "recordId-1")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if e.Dirty() {
		t.Error("SetClean entry reported dirty")
	}
}

func TestDirtyThenCleanIsOneCleanEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SetDirty(ctx, "c", "k", []byte("1"), nil); err != nil {
		t.Fatalf("SetDirty: %v", err)
	}
	if err := s.SetClean(ctx, "c", "k", []byte("2"), nil); err != nil {
		t.Fatalf("SetClean: %v", err)
	}

	keys, err := s.Keys(ctx, "c")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("keys: got %v, want one", keys)
	}
	e, _ := s.GetEntry(ctx, "c", "k")
	if e.Synchronized == nil {
		t.Fatal("synchronized should be set")
	}
	n, _ := s.CountPending(ctx)
	if n != 0 {
		t.Fatalf("pending: got %d, want 0", n)
	}
}

func TestPendingCountAfterClean(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const n = 5
	for i := 0; i < n; i++ {
		if err := s.SetDirty(ctx, "c", fmt.Sprintf("k%d", i), []byte("v"), nil); err != nil {
			t.Fatalf("SetDirty: %v", err)
		}
	}
	if err := s.SetClean(ctx, "c", "k2", []byte("v"), nil); err != nil {
		t.Fatalf("SetClean: %v", err)
	}
	got, err := s.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if got != n-1 {
		t.Fatalf("pending: got %d, want %d", got, n-1)
	}
}

func TestForEachPendingOrderAndStop(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	writes := []struct{ c, k string }{
		{"portrait", "userId-2"},
		{"forms", "recordId-9"},
		{"forms", "draft-a"},
		{"portrait", "userId-1"},
	}
	for _, w := range writes {
		if err := s.SetDirty(ctx, w.c, w.k, nil, Attributes{"k": w.k}); err != nil {
			t.Fatalf("SetDirty: %v", err)
		}
	}
	s.SetClean(ctx, "forms", "recordId-1", nil, nil)

	var seen []string
	err := s.ForEachPending(ctx, func(p Pending) bool {
		seen = append(seen, p.Collection+"/"+p.Key)
		if p.Attributes.String("k") != p.Key {
			t.Errorf("attributes for %s: got %v", p.Key, p.Attributes)
		}
		return true
	})
	if err != nil {
		t.Fatalf("ForEachPending: %v", err)
	}
	want := []string{"forms/draft-a", "forms/recordId-9", "portrait/userId-1", "portrait/userId-2"}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Fatalf("order: got %v, want %v", seen, want)
	}

	visits := 0
	s.ForEachPending(ctx, func(Pending) bool {
		visits++
		return false
	})
	if visits != 1 {
		t.Fatalf("early stop: visited %d, want 1", visits)
	}
}

func TestForEachPendingAllowsWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.SetDirty(ctx, "c", "a", []byte("1"), nil)
	s.SetDirty(ctx, "c", "b", []byte("2"), nil)

	err := s.ForEachPending(ctx, func(p Pending) bool {
		if err := s.SetMetadataClean(ctx, p.Collection, p.Key, p.Attributes); err != nil {
			t.Errorf("SetMetadataClean inside visitor: %v", err)
		}
		return true
	})
	if err != nil {
		t.Fatalf("ForEachPending: %v", err)
	}
	if n, _ := s.CountPending(ctx); n != 0 {
		t.Fatalf("pending: got %d, want 0", n)
	}
}

func TestGetBatchAlignment(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SetCleanBatch(ctx, "forms", []string{"a", "c"}, [][]byte{[]byte("A"), []byte("C")}, nil); err != nil {
		t.Fatalf("SetCleanBatch: %v", err)
	}

	got, err := s.GetBatch(ctx, "forms", []string{"c", "b", "a"})
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len: got %d, want 3", len(got))
	}
	if string(got[0]) != "C" || got[1] != nil || string(got[2]) != "A" {
		t.Fatalf("alignment: got %q", got)
	}

	empty, err := s.GetBatch(ctx, "forms", nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty batch: got %v, %v", empty, err)
	}
}

func TestSetCleanBatchLengthMismatch(t *testing.T) {
	s := openTestStore(t)
	err := s.SetCleanBatch(context.Background(), "c", []string{"a", "b"}, [][]byte{[]byte("x")}, nil)
	if !errkind.Is(err, errkind.ValidationFailed) {
		t.Fatalf("got %v, want validation_failed", err)
	}
}

func TestSetMetadataClean(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SetMetadataClean(ctx, "c", "missing", Attributes{"x": 1}); err != nil {
		t.Fatalf("SetMetadataClean absent: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "c", "missing"); ok {
		t.Fatal("SetMetadataClean created an entry")
	}

	s.SetDirty(ctx, "c", "k", []byte("payload"), Attributes{"x": 1})
	if err := s.SetMetadataClean(ctx, "c", "k", Attributes{"x": 2}); err != nil {
		t.Fatalf("SetMetadataClean: %v", err)
	}
	e, _ := s.GetEntry(ctx, "c", "k")
	if e.Dirty() {
		t.Error("entry still dirty")
	}
	if string(e.Value) != "payload" {
		t.Errorf("value rewritten: got %q", e.Value)
	}
	if x, _ := e.Attributes.Int64("x"); x != 2 {
		t.Errorf("attribute x: got %d, want 2", x)
	}
}

func TestPromote(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.SetDirty(ctx, "forms", "draft-abc", []byte("local"), nil)
	if err := s.Promote(ctx, "forms", "draft-abc", "recordId-42", []byte("synced"), Attributes{"recordId": 42}); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	if _, ok, _ := s.Get(ctx, "forms", "draft-abc"); ok {
		t.Error("draft key still present")
	}
	e, err := s.GetEntry(ctx, "forms", "recordId-42")
	if err != nil || e == nil {
		t.Fatalf("promoted entry: %v, %v", e, err)
	}
	if e.Dirty() || string(e.Value) != "synced" {
		t.Errorf("promoted entry: dirty=%v value=%q", e.Dirty(), e.Value)
	}
}

func TestRemove(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.SetDirty(ctx, "a", "1", nil, nil)
	s.SetDirty(ctx, "a", "2", nil, nil)
	s.SetDirty(ctx, "b", "1", nil, nil)

	if err := s.Remove(ctx, "a", "1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if n, _ := s.CountPending(ctx); n != 2 {
		t.Fatalf("after Remove: got %d, want 2", n)
	}
	if err := s.RemoveCollection(ctx, "a"); err != nil {
		t.Fatalf("RemoveCollection: %v", err)
	}
	cols, _ := s.Collections(ctx)
	if len(cols) != 1 || cols[0] != "b" {
		t.Fatalf("collections: got %v, want [b]", cols)
	}
	if err := s.RemoveAll(ctx); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if n, _ := s.CountPending(ctx); n != 0 {
		t.Fatalf("after RemoveAll: got %d, want 0", n)
	}
}

func TestConcurrentWritesAndReads(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter*2)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if err := s.SetDirty(ctx, "c", fmt.Sprintf("w%d-%d", w, i), []byte("v"), nil); err != nil {
					errs <- err
				}
				if _, err := s.CountPending(ctx); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent op: %v", err)
	}

	n, err := s.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if n != writers*perWriter {
		t.Fatalf("pending: got %d, want %d", n, writers*perWriter)
	}
}

func TestClosedStoreIsNotAvailable(t *testing.T) {
	s, err := Open(Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Close()

	_, _, err = s.Get(context.Background(), "c", "k")
	if !errors.Is(err, errkind.NotAvailable) {
		t.Fatalf("read on closed store: got %v, want not_available", err)
	}
	err = s.SetDirty(context.Background(), "c", "k", nil, nil)
	if !errors.Is(err, errkind.NotAvailable) {
		t.Fatalf("write on closed store: got %v, want not_available", err)
	}
}

func TestConflictLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		err := s.RecordConflict(ctx, Conflict{
			Collection: "forms",
			Key:        fmt.Sprintf("recordId-%d", i),
			LocalData:  `{"v":"local"}`,
			RemoteData: `{"v":"remote"}`,
			Resolution: "use_remote",
			RecordedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("RecordConflict: %v", err)
		}
	}

	all, err := s.RecentConflicts(ctx, 10, nil)
	if err != nil {
		t.Fatalf("RecentConflicts: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("conflicts: got %d, want 3", len(all))
	}
	if all[0].Key != "recordId-2" {
		t.Errorf("most recent first: got %s", all[0].Key)
	}

	since := base.Add(90 * time.Second)
	recent, _ := s.RecentConflicts(ctx, 10, &since)
	if len(recent) != 1 {
		t.Fatalf("since filter: got %d, want 1", len(recent))
	}

	limited, _ := s.RecentConflicts(ctx, 2, nil)
	if len(limited) != 2 {
		t.Fatalf("limit: got %d, want 2", len(limited))
	}
}
