package cache

// SchemaVersion is the current cache schema version
const SchemaVersion = 2

const schema = `
-- One row per cached entry; synchronized_at NULL means dirty
CREATE TABLE IF NOT EXISTS cache_entries (
    collection TEXT NOT NULL,
    key TEXT NOT NULL,
    value BLOB,
    synchronized_at INTEGER,
    attributes TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (collection, key)
);

-- Pending view: only dirty rows are indexed
CREATE INDEX IF NOT EXISTS idx_cache_entries_pending
    ON cache_entries(collection, key) WHERE synchronized_at IS NULL;

CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Migration defines a schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the list of all schema migrations
var Migrations = []Migration{
	{
		Version:     2,
		Description: "Add sync conflict log",
		SQL: `
CREATE TABLE IF NOT EXISTS sync_conflicts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    collection TEXT NOT NULL,
    key TEXT NOT NULL,
    local_data TEXT,
    remote_data TEXT,
    resolution TEXT NOT NULL DEFAULT '',
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_conflicts_recorded ON sync_conflicts(recorded_at);
`,
	},
}
