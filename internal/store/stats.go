package store

import (
	"context"
	"fmt"
)

const sqlStatusCounts = `
	SELECT sync_status, COUNT(*), COALESCE(SUM(size), 0)
	FROM attachments GROUP BY sync_status`

const sqlRecentSessions = `
	SELECT id, config_id, sync_type, status, started_at, ended_at,
	       last_update, total_processed, total_success, total_errors
	FROM sync_sessions ORDER BY started_at DESC, id DESC LIMIT ?`

// StatusCount is one row of the per-status attachment breakdown.
type StatusCount struct {
	Status string
	Count  int64
	Bytes  int64
}

// StatusCounts returns attachment counts and byte totals grouped by
// sync status, for the status command.
func (s *Store) StatusCounts(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, sqlStatusCounts)
	if err != nil {
		return nil, fmt.Errorf("store: status counts: %w", err)
	}
	defer rows.Close()

	var out []StatusCount

	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Count, &c.Bytes); err != nil {
			return nil, fmt.Errorf("store: scan status count: %w", err)
		}

		out = append(out, c)
	}

	return out, rows.Err()
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, sqlRecentSessions, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session

	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}

		out = append(out, sess)
	}

	return out, rows.Err()
}
