package cache

import (
	"context"
	"database/sql"
	"time"
)

// Conflict is one row of the sync conflict log.
type Conflict struct {
	ID         int64
	Collection string
	Key        string
	LocalData  string
	RemoteData string
	Resolution string
	RecordedAt time.Time
}

// RecordConflict appends c to the conflict log. A zero RecordedAt is
// stamped with the current time.
func (s *Store) RecordConflict(ctx context.Context, c Conflict) error {
	if c.RecordedAt.IsZero() {
		c.RecordedAt = s.now()
	}
	return s.withWriteLock(ctx, "record conflict", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sync_conflicts (collection, key, local_data, remote_data, resolution, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, c.Collection, c.Key, c.LocalData, c.RemoteData, c.Resolution, c.RecordedAt.UnixNano())
		return err
	})
}

// RecentConflicts returns logged conflicts, most recent first. A non-nil
// since limits the result to conflicts recorded at or after it.
func (s *Store) RecentConflicts(ctx context.Context, limit int, since *time.Time) ([]Conflict, error) {
	if limit <= 0 {
		limit = 20
	}
	var from int64
	if since != nil {
		from = since.UnixNano()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, collection, key, COALESCE(local_data,'null'), COALESCE(remote_data,'null'), resolution, recorded_at
		FROM sync_conflicts
		WHERE recorded_at >= ?
		ORDER BY recorded_at DESC, id DESC
		LIMIT ?
	`, from, limit)
	if err != nil {
		return nil, unavailable("recent conflicts", err)
	}
	defer rows.Close()

	var conflicts []Conflict
	for rows.Next() {
		var c Conflict
		var ts int64
		if err := rows.Scan(&c.ID, &c.Collection, &c.Key, &c.LocalData, &c.RemoteData, &c.Resolution, &ts); err != nil {
			return nil, unavailable("recent conflicts", err)
		}
		c.RecordedAt = time.Unix(0, ts)
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("recent conflicts", err)
	}
	return conflicts, nil
}
