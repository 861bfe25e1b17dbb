// Package serverdb is the storage of the offsync reference server: users,
// API keys, forms, records, documents and portraits in one SQLite file.
//
// Lookups return (nil, nil) when the row does not exist.
package serverdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

// ServerDB is safe for concurrent use. It holds a single connection, so
// statements never interleave.
type ServerDB struct {
	conn *sql.DB
}

// Open opens or creates the database at dbPath and brings its schema to
// ServerSchemaVersion.
func Open(dbPath string) (*ServerDB, error) {
	if dbPath != memoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{"journal_mode=WAL", "busy_timeout=5000", "synchronous=NORMAL", "foreign_keys=ON"} {
		if _, err := conn.Exec("PRAGMA " + pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("pragma %s: %w", pragma, err)
		}
	}

	db := &ServerDB{conn: conn}
	if _, err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close checkpoints the WAL and closes the database.
func (db *ServerDB) Close() error {
	db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return db.conn.Close()
}

// Check reports whether the database answers and carries the current
// schema. The health endpoint calls it.
func (db *ServerDB) Check(ctx context.Context) error {
	v, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if v != ServerSchemaVersion {
		return fmt.Errorf("schema version %d, want %d", v, ServerSchemaVersion)
	}
	return nil
}

// SchemaVersion returns the stored schema version.
func (db *ServerDB) SchemaVersion(ctx context.Context) (int, error) {
	return schemaVersion(ctx, db.conn)
}

// migrate creates the base schema and applies every migration newer than
// the stored version in one transaction.
func (db *ServerDB) migrate(ctx context.Context) (int, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, serverSchema); err != nil {
		return 0, fmt.Errorf("create schema: %w", err)
	}
	current, err := schemaVersion(ctx, tx)
	if err != nil {
		return 0, err
	}
	if current >= ServerSchemaVersion {
		return 0, tx.Commit()
	}

	applied := 0
	for _, m := range Migrations {
		if m.Version <= current {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			return 0, fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
		applied++
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`,
		strconv.Itoa(ServerSchemaVersion)); err != nil {
		return 0, fmt.Errorf("set schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit migration: %w", err)
	}
	slog.Debug("serverdb: migrated", "from", current, "to", ServerSchemaVersion, "applied", applied)
	return applied, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// schemaVersion returns 0 for a database that has no version row yet.
func schemaVersion(ctx context.Context, q rowQuerier) (int, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM schema_info WHERE key = 'version'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", value, err)
	}
	return v, nil
}
