package store

import (
	"context"
	"fmt"
	"time"
)

const sqlInsertAccessEntry = `
	INSERT INTO access_log
		(attachment_id, accessed_at, bytes_served, cache_hit,
		 http_status, duration_ms, range_header, user_agent, remote_addr)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// LogAccess appends one retrieval telemetry row. The log is
// write-only; nothing in the pipeline reads it back.
func (s *Store) LogAccess(ctx context.Context, e *AccessEntry) error {
	if e.AccessedAt.IsZero() {
		e.AccessedAt = time.Now()
	}

	_, err := s.accessStmts.insert.ExecContext(ctx,
		e.AttachmentID, e.AccessedAt.Unix(), e.BytesServed, e.CacheHit,
		e.HTTPStatus, e.DurationMS, e.RangeHeader, e.UserAgent, e.RemoteAddr)
	if err != nil {
		return fmt.Errorf("store: log access for attachment %d: %w", e.AttachmentID, err)
	}

	return nil
}
