package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const sqlInsertSession = `
	INSERT INTO sync_sessions
		(id, config_id, sync_type, status, started_at, last_update)
	VALUES (?, ?, ?, 'in_progress', ?, ?)`

const sqlGetInProgressSession = `
	SELECT id, config_id, sync_type, status, started_at, ended_at,
	       last_update, total_processed, total_success, total_errors
	FROM sync_sessions
	WHERE config_id = ? AND status = 'in_progress'`

const sqlAddSessionProgress = `
	UPDATE sync_sessions SET
		total_processed = total_processed + ?,
		total_success = total_success + ?,
		total_errors = total_errors + ?,
		last_update = ?
	WHERE id = ?`

const sqlFinalizeSession = `
	UPDATE sync_sessions SET status = ?, ended_at = ?, last_update = ?
	WHERE id = ? AND status = 'in_progress'`

const sqlGetSession = `
	SELECT id, config_id, sync_type, status, started_at, ended_at,
	       last_update, total_processed, total_success, total_errors
	FROM sync_sessions WHERE id = ?`

const sqlInsertOutcome = `
	INSERT INTO sync_outcomes
		(session_id, model, record_id, file_name, status,
		 remote_id, remote_url, error_message, size_bytes, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const sqlListOutcomes = `
	SELECT id, session_id, model, record_id, file_name, status,
	       remote_id, remote_url, error_message, size_bytes, created_at
	FROM sync_outcomes WHERE session_id = ? ORDER BY id`

// ResumeOrCreateSession returns the in-progress session for the
// configuration, creating one when none exists. The partial unique
// index on (config_id) WHERE status='in_progress' makes the insert an
// atomic compare-and-create: on conflict the existing session is
// returned, so a resumed run continues the interrupted one.
func (s *Store) ResumeOrCreateSession(ctx context.Context, configID int64, syncType string) (*Session, bool, error) {
	if sess, err := s.inProgressSession(ctx, configID); err != nil {
		return nil, false, err
	} else if sess != nil {
		s.logger.Info("resuming sync session",
			slog.String("session", sess.ID),
			slog.Int64("config", configID),
			slog.Int64("processed", sess.TotalProcessed))

		return sess, true, nil
	}

	now := time.Now()
	sess := &Session{
		ID:         uuid.NewString(),
		ConfigID:   configID,
		Type:       syncType,
		Status:     SessionInProgress,
		StartedAt:  now,
		LastUpdate: now,
	}

	_, err := s.sessionStmts.insert.ExecContext(ctx,
		sess.ID, configID, syncType, now.Unix(), now.Unix())
	if err != nil {
		// Lost the race to another creator: adopt theirs.
		if isUniqueViolation(err) {
			existing, lerr := s.inProgressSession(ctx, configID)
			if lerr != nil {
				return nil, false, lerr
			}

			if existing != nil {
				return existing, true, nil
			}
		}

		return nil, false, fmt.Errorf("store: create session: %w", err)
	}

	s.logger.Info("created sync session",
		slog.String("session", sess.ID),
		slog.Int64("config", configID),
		slog.String("type", syncType))

	return sess, false, nil
}

func (s *Store) inProgressSession(ctx context.Context, configID int64) (*Session, error) {
	sess, err := scanSession(s.sessionStmts.getInProgress.QueryRowContext(ctx, configID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("store: in-progress session for config %d: %w", configID, err)
	}

	return sess, nil
}

// AddSessionProgress adds batch counters to the session. Counters only
// grow; a resumed run continues from the persisted totals.
func (s *Store) AddSessionProgress(ctx context.Context, sessionID string, processed, success, errCount int64) error {
	_, err := s.sessionStmts.addProgress.ExecContext(ctx,
		processed, success, errCount, time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("store: session %s progress: %w", sessionID, err)
	}

	return nil
}

// FinalizeSession closes an in-progress session with a terminal
// status. Finalizing an already-closed session is a no-op.
func (s *Store) FinalizeSession(ctx context.Context, sessionID, status string) error {
	now := time.Now().Unix()

	_, err := s.sessionStmts.finalize.ExecContext(ctx, status, now, now, sessionID)
	if err != nil {
		return fmt.Errorf("store: finalize session %s: %w", sessionID, err)
	}

	return nil
}

// GetSession loads one session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	sess, err := scanSession(s.sessionStmts.get.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: session %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("store: get session %s: %w", id, err)
	}

	return sess, nil
}

// AddOutcome records one attempted file within a session.
func (s *Store) AddOutcome(ctx context.Context, o *Outcome) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}

	res, err := s.sessionStmts.addOutcome.ExecContext(ctx,
		o.SessionID, o.Model, o.RecordID, o.FileName, o.Status,
		o.RemoteID, o.RemoteURL, o.ErrorMsg, o.SizeBytes, o.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("store: add outcome for %s: %w", o.FileName, err)
	}

	o.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: outcome insert id: %w", err)
	}

	return nil
}

// ListOutcomes returns every outcome of a session in insertion order.
func (s *Store) ListOutcomes(ctx context.Context, sessionID string) ([]*Outcome, error) {
	rows, err := s.sessionStmts.listOutcomes.QueryContext(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list outcomes for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []*Outcome

	for rows.Next() {
		var (
			o       Outcome
			created int64
		)

		if err := rows.Scan(&o.ID, &o.SessionID, &o.Model, &o.RecordID,
			&o.FileName, &o.Status, &o.RemoteID, &o.RemoteURL,
			&o.ErrorMsg, &o.SizeBytes, &created); err != nil {
			return nil, fmt.Errorf("store: scan outcome: %w", err)
		}

		o.CreatedAt = timeOrZero(created)
		out = append(out, &o)
	}

	return out, rows.Err()
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess                       Session
		started, ended, lastUpdate int64
	)

	err := row.Scan(&sess.ID, &sess.ConfigID, &sess.Type, &sess.Status,
		&started, &ended, &lastUpdate, &sess.TotalProcessed,
		&sess.TotalSuccess, &sess.TotalErrors)
	if err != nil {
		return nil, err
	}

	sess.StartedAt = timeOrZero(started)
	sess.EndedAt = timeOrZero(ended)
	sess.LastUpdate = timeOrZero(lastUpdate)

	return &sess, nil
}

// isUniqueViolation matches SQLite unique constraint failures without
// depending on driver error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
