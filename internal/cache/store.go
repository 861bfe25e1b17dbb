// Package cache is the offline key/value store: named collections of entries
// carrying a value, a synchronized timestamp and free-form attributes. Entries
// whose synchronized timestamp is NULL are dirty and form the pending view the
// synchronizer replays.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marcus/offsync/internal/errkind"
	_ "modernc.org/sqlite"
)

const (
	dbFile = "cache.db"
	// DefaultDriver is the pure Go SQLite driver registered by this package.
	DefaultDriver = "sqlite"
)

// Options configures Open.
type Options struct {
	// Dir holds the database and its lock file. Created if missing.
	Dir string
	// Driver is a database/sql driver name. Empty means DefaultDriver.
	// "sqlite3" selects the cgo driver when the binary registers it.
	Driver string
	Logger *slog.Logger
}

// Entry is one cached value with its metadata.
type Entry struct {
	Collection   string
	Key          string
	Value        []byte
	Synchronized *time.Time
	Attributes   Attributes
	UpdatedAt    time.Time
}

// Dirty reports whether the entry still needs to be sent.
func (e *Entry) Dirty() bool {
	return e.Synchronized == nil
}

// Pending is a dirty entry as seen by the synchronizer.
type Pending struct {
	Collection string
	Key        string
	Attributes Attributes
}

// Store is safe for concurrent use. Reads run in parallel; writes are
// serialized against each other and against reads.
type Store struct {
	conn   *sql.DB
	dir    string
	mu     sync.RWMutex
	logger *slog.Logger
	now    func() time.Time
}

// Open opens or creates the cache database under opts.Dir and runs any
// pending migrations.
func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errkind.New(errkind.ValidationFailed, "cache dir required")
	}
	driver := opts.Driver
	if driver == "" {
		driver = DefaultDriver
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, errkind.Wrap(errkind.NotAvailable, fmt.Errorf("create cache dir: %w", err))
	}

	conn, err := sql.Open(driver, filepath.Join(opts.Dir, dbFile))
	if err != nil {
		return nil, errkind.Wrap(errkind.NotAvailable, fmt.Errorf("open cache: %w", err))
	}

	// WAL lets readers proceed while a write commits
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, errkind.Wrap(errkind.NotAvailable, fmt.Errorf("enable WAL mode: %w", err))
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, errkind.Wrap(errkind.NotAvailable, fmt.Errorf("set busy timeout: %w", err))
	}
	conn.Exec("PRAGMA synchronous=NORMAL")

	s := &Store{conn: conn, dir: opts.Dir, logger: logger, now: time.Now}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, errkind.Wrap(errkind.NotAvailable, fmt.Errorf("create schema: %w", err))
	}
	if _, err := s.runMigrations(); err != nil {
		conn.Close()
		return nil, errkind.Wrap(errkind.NotAvailable, fmt.Errorf("run migrations: %w", err))
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Dir returns the directory holding the database.
func (s *Store) Dir() string {
	return s.dir
}

// withWriteLock runs fn in one transaction under both the in-process write
// lock and the cross-process file lock.
func (s *Store) withWriteLock(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	locker := newWriteLocker(s.dir)
	if err := locker.acquire(defaultTimeout); err != nil {
		return unavailable(op, err)
	}
	defer locker.release()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return unavailable(op, err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable(op, err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return errkind.Wrap(errkind.NotAvailable, fmt.Errorf("cache %s: %w", op, err))
}

// Get returns the value stored under (collection, key). Absence is not an
// error: ok is false and err nil.
func (s *Store) Get(ctx context.Context, collection, key string) ([]byte, bool, error) {
	e, err := s.GetEntry(ctx, collection, key)
	if err != nil || e == nil {
		return nil, false, err
	}
	return e.Value, true, nil
}

// GetWithAttributes returns the value and its attributes.
func (s *Store) GetWithAttributes(ctx context.Context, collection, key string) ([]byte, Attributes, bool, error) {
	e, err := s.GetEntry(ctx, collection, key)
	if err != nil || e == nil {
		return nil, nil, false, err
	}
	return e.Value, e.Attributes, true, nil
}

// GetEntry returns the full entry, or nil when absent.
func (s *Store) GetEntry(ctx context.Context, collection, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.conn.QueryRowContext(ctx, `
		SELECT collection, key, value, synchronized_at, attributes, updated_at
		FROM cache_entries WHERE collection = ? AND key = ?
	`, collection, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return e, nil
}

// GetBatch returns values aligned with keys; absent keys yield nil.
func (s *Store) GetBatch(ctx context.Context, collection string, keys []string) ([][]byte, error) {
	entries, err := s.GetBatchWithAttributes(ctx, collection, keys)
	if err != nil {
		return nil, err
	}
	values := make([][]byte, len(entries))
	for i, e := range entries {
		if e != nil {
			values[i] = e.Value
		}
	}
	return values, nil
}

// GetBatchWithAttributes returns entries aligned with keys; absent keys
// yield nil.
func (s *Store) GetBatchWithAttributes(ctx context.Context, collection string, keys []string) ([]*Entry, error) {
	out := make([]*Entry, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(keys))
	args := make([]any, 0, len(keys)+1)
	args = append(args, collection)
	for _, k := range keys {
		args = append(args, k)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT collection, key, value, synchronized_at, attributes, updated_at
		FROM cache_entries WHERE collection = ? AND key IN (`+placeholders[:len(placeholders)-1]+`)
	`, args...)
	if err != nil {
		return nil, unavailable("get batch", err)
	}
	defer rows.Close()

	found := make(map[string]*Entry, len(keys))
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, unavailable("get batch", err)
		}
		found[e.Key] = e
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("get batch", err)
	}
	for i, k := range keys {
		out[i] = found[k]
	}
	return out, nil
}

// SetClean upserts the entry and stamps it synchronized now.
func (s *Store) SetClean(ctx context.Context, collection, key string, value []byte, attrs Attributes) error {
	return s.withWriteLock(ctx, "set clean", func(tx *sql.Tx) error {
		now := s.now()
		return upsert(ctx, tx, collection, key, value, attrs, &now, now)
	})
}

// SetDirty upserts the entry and clears its synchronized stamp.
func (s *Store) SetDirty(ctx context.Context, collection, key string, value []byte, attrs Attributes) error {
	return s.withWriteLock(ctx, "set dirty", func(tx *sql.Tx) error {
		return upsert(ctx, tx, collection, key, value, attrs, nil, s.now())
	})
}

// SetCleanBatch writes several clean entries in one transaction. attrs may
// be nil; otherwise all three slices must have the same length.
func (s *Store) SetCleanBatch(ctx context.Context, collection string, keys []string, values [][]byte, attrs []Attributes) error {
	if len(keys) != len(values) || (attrs != nil && len(attrs) != len(keys)) {
		return errkind.Newf(errkind.ValidationFailed, "set clean batch: %d keys, %d values, %d attributes", len(keys), len(values), len(attrs))
	}
	return s.withWriteLock(ctx, "set clean batch", func(tx *sql.Tx) error {
		now := s.now()
		for i, k := range keys {
			var a Attributes
			if attrs != nil {
				a = attrs[i]
			}
			if err := upsert(ctx, tx, collection, k, values[i], a, &now, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetMetadataClean replaces the attributes of an existing entry and stamps
// it synchronized, leaving the value alone. Absent entries are left absent.
func (s *Store) SetMetadataClean(ctx context.Context, collection, key string, attrs Attributes) error {
	encoded, err := encodeAttributes(attrs)
	if err != nil {
		return errkind.Wrap(errkind.ValidationFailed, err)
	}
	return s.withWriteLock(ctx, "set metadata clean", func(tx *sql.Tx) error {
		now := s.now().UnixNano()
		_, err := tx.ExecContext(ctx, `
			UPDATE cache_entries SET attributes = ?, synchronized_at = ?, updated_at = ?
			WHERE collection = ? AND key = ?
		`, encoded, now, now, collection, key)
		return err
	})
}

// Promote replaces oldKey with a clean entry under newKey in one
// transaction. Used when the remote assigns a durable identity to a draft.
func (s *Store) Promote(ctx context.Context, collection, oldKey, newKey string, value []byte, attrs Attributes) error {
	return s.withWriteLock(ctx, "promote", func(tx *sql.Tx) error {
		if oldKey != newKey {
			if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE collection = ? AND key = ?`, collection, oldKey); err != nil {
				return err
			}
		}
		now := s.now()
		return upsert(ctx, tx, collection, newKey, value, attrs, &now, now)
	})
}

// Remove deletes one entry.
func (s *Store) Remove(ctx context.Context, collection, key string) error {
	return s.withWriteLock(ctx, "remove", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE collection = ? AND key = ?`, collection, key)
		return err
	})
}

// RemoveCollection deletes every entry in a collection.
func (s *Store) RemoveCollection(ctx context.Context, collection string) error {
	return s.withWriteLock(ctx, "remove collection", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE collection = ?`, collection)
		return err
	})
}

// RemoveAll wipes the store. The conflict log is kept.
func (s *Store) RemoveAll(ctx context.Context) error {
	err := s.withWriteLock(ctx, "remove all", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM cache_entries`)
		return err
	})
	if err == nil {
		s.logger.Debug("cache: cleared", "dir", s.dir)
	}
	return err
}

// Keys lists the keys of a collection in order.
func (s *Store) Keys(ctx context.Context, collection string) ([]string, error) {
	return s.listStrings(ctx, "keys", `SELECT key FROM cache_entries WHERE collection = ? ORDER BY key`, collection)
}

// Collections lists the collections holding at least one entry.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	return s.listStrings(ctx, "collections", `SELECT DISTINCT collection FROM cache_entries ORDER BY collection`)
}

func (s *Store) listStrings(ctx context.Context, op, query string, args ...any) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, unavailable(op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return out, nil
}

// CountPending returns the number of dirty entries across all collections.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries WHERE synchronized_at IS NULL`).Scan(&n); err != nil {
		return 0, unavailable("count pending", err)
	}
	return n, nil
}

// ForEachPending visits dirty entries grouped by collection and sorted by
// key. fn returning false stops the walk. The set is read up front, so fn
// may write to the store.
func (s *Store) ForEachPending(ctx context.Context, fn func(Pending) bool) error {
	pending, err := s.pending(ctx)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if !fn(p) {
			return nil
		}
	}
	return nil
}

func (s *Store) pending(ctx context.Context) ([]Pending, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT collection, key, attributes FROM cache_entries
		WHERE synchronized_at IS NULL
		ORDER BY collection, key
	`)
	if err != nil {
		return nil, unavailable("pending", err)
	}
	defer rows.Close()

	var out []Pending
	for rows.Next() {
		var p Pending
		var attrs string
		if err := rows.Scan(&p.Collection, &p.Key, &attrs); err != nil {
			return nil, unavailable("pending", err)
		}
		if p.Attributes, err = decodeAttributes(attrs); err != nil {
			return nil, unavailable("pending", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("pending", err)
	}
	return out, nil
}

// PendingByCollection returns dirty counts per collection.
func (s *Store) PendingByCollection(ctx context.Context) (map[string]int, error) {
	pending, err := s.pending(ctx)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, p := range pending {
		counts[p.Collection]++
	}
	return counts, nil
}

func upsert(ctx context.Context, tx *sql.Tx, collection, key string, value []byte, attrs Attributes, synced *time.Time, now time.Time) error {
	encoded, err := encodeAttributes(attrs)
	if err != nil {
		return err
	}
	var syncedAt any
	if synced != nil {
		syncedAt = synced.UnixNano()
	}
	if value == nil {
		value = []byte{}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cache_entries (collection, key, value, synchronized_at, attributes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET
			value = excluded.value,
			synchronized_at = excluded.synchronized_at,
			attributes = excluded.attributes,
			updated_at = excluded.updated_at
	`, collection, key, value, syncedAt, encoded, now.UnixNano(), now.UnixNano())
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e       Entry
		synced  sql.NullInt64
		attrs   string
		updated int64
	)
	if err := row.Scan(&e.Collection, &e.Key, &e.Value, &synced, &attrs, &updated); err != nil {
		return nil, err
	}
	if synced.Valid {
		t := time.Unix(0, synced.Int64)
		e.Synchronized = &t
	}
	e.UpdatedAt = time.Unix(0, updated)
	a, err := decodeAttributes(attrs)
	if err != nil {
		return nil, err
	}
	e.Attributes = a
	return &e, nil
}

// runMigrations applies migrations newer than the stored schema version.
func (s *Store) runMigrations() (int, error) {
	current, err := s.schemaVersion()
	if err != nil {
		return 0, err
	}
	if current >= SchemaVersion {
		return 0, nil
	}

	sort.Slice(Migrations, func(i, j int) bool { return Migrations[i].Version < Migrations[j].Version })

	run := 0
	err = s.withWriteLock(context.Background(), "migrate", func(tx *sql.Tx) error {
		for _, m := range Migrations {
			if m.Version <= current {
				continue
			}
			if _, err := tx.Exec(m.SQL); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
			}
			run++
		}
		_, err := tx.Exec(`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`, fmt.Sprintf("%d", SchemaVersion))
		return err
	})
	if run > 0 {
		s.logger.Debug("cache: migrated", "from", current, "to", SchemaVersion, "applied", run)
	}
	return run, err
}

func (s *Store) schemaVersion() (int, error) {
	var version string
	err := s.conn.QueryRow(`SELECT value FROM schema_info WHERE key = 'version'`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v int
	fmt.Sscanf(version, "%d", &v)
	return v, nil
}

// Version returns the stored schema version.
func (s *Store) Version() (int, error) {
	return s.schemaVersion()
}
