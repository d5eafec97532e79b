package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const attachmentColumns = `
	id, name, res_model, res_id, res_field, display_name, mime_type,
	payload, size, url, sync_status, remote_id, remote_url, remote_md5,
	remote_size, credential_id, synced_at, last_accessed_at`

const sqlGetAttachment = `
	SELECT` + attachmentColumns + `
	FROM attachments WHERE id = ?`

const sqlGetAttachmentByRemoteID = `
	SELECT` + attachmentColumns + `
	FROM attachments WHERE remote_id = ?`

const sqlInsertAttachment = `
	INSERT INTO attachments
		(name, res_model, res_id, res_field, display_name, mime_type,
		 payload, size, url, sync_status, credential_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const sqlMarkAttachmentSynced = `
	UPDATE attachments SET
		sync_status = 'synced', url = ?, remote_id = ?, remote_url = ?,
		remote_md5 = ?, remote_size = ?, credential_id = ?, synced_at = ?
	WHERE id = ?`

const sqlMarkAttachmentError = `
	UPDATE attachments SET sync_status = 'error' WHERE id = ?`

const sqlSetAttachmentStatus = `
	UPDATE attachments SET sync_status = ? WHERE id = ?`

const sqlClearAttachmentPayload = `
	UPDATE attachments SET payload = NULL WHERE id = ? AND sync_status = 'synced'`

const sqlRehydrateAttachment = `
	UPDATE attachments SET
		payload = ?, size = ?, url = ?, sync_status = 'local',
		remote_id = '', remote_url = '', remote_md5 = '',
		remote_size = 0, credential_id = 0, synced_at = 0
	WHERE id = ?`

const sqlTouchAttachmentAccess = `
	UPDATE attachments SET last_accessed_at = ? WHERE id = ?`

const sqlListSyncedByCredential = `
	SELECT` + attachmentColumns + `
	FROM attachments
	WHERE sync_status = 'synced' AND credential_id = ?
	ORDER BY id`

// CreateAttachment inserts a local attachment and assigns its ID.
func (s *Store) CreateAttachment(ctx context.Context, a *Attachment) error {
	if a.SyncStatus == "" {
		a.SyncStatus = StatusLocal
	}

	res, err := s.attachStmts.insert.ExecContext(ctx,
		a.Name, a.ResModel, a.ResID, a.ResField, a.DisplayName,
		a.MimeType, a.Payload, a.Size, a.URL, a.SyncStatus, a.CredentialID)
	if err != nil {
		return fmt.Errorf("store: insert attachment %s: %w", a.Name, err)
	}

	a.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: attachment insert id: %w", err)
	}

	return nil
}

// GetAttachment loads one attachment including its payload.
func (s *Store) GetAttachment(ctx context.Context, id int64) (*Attachment, error) {
	a, err := scanAttachment(s.attachStmts.get.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: attachment %d: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("store: get attachment %d: %w", id, err)
	}

	return a, nil
}

// GetAttachmentByRemoteID resolves an attachment by its remote file ID.
func (s *Store) GetAttachmentByRemoteID(ctx context.Context, remoteID string) (*Attachment, error) {
	a, err := scanAttachment(s.attachStmts.getByRemoteID.QueryRowContext(ctx, remoteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: remote %s: %w", remoteID, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("store: get attachment by remote %s: %w", remoteID, err)
	}

	return a, nil
}

// MarkSynced records a successful upload: remote identity, the public
// URL replacing the local one, and integrity evidence for later
// payload removal.
func (s *Store) MarkSynced(ctx context.Context, a *Attachment) error {
	if a.SyncedAt.IsZero() {
		a.SyncedAt = time.Now()
	}

	_, err := s.attachStmts.markSynced.ExecContext(ctx,
		a.URL, a.RemoteID, a.RemoteURL, a.RemoteMD5, a.RemoteSize,
		a.CredentialID, a.SyncedAt.Unix(), a.ID)
	if err != nil {
		return fmt.Errorf("store: mark attachment %d synced: %w", a.ID, err)
	}

	a.SyncStatus = StatusSynced

	return nil
}

// MarkError flags a failed attachment without touching its payload.
func (s *Store) MarkError(ctx context.Context, id int64) error {
	if _, err := s.attachStmts.markError.ExecContext(ctx, id); err != nil {
		return fmt.Errorf("store: mark attachment %d error: %w", id, err)
	}

	return nil
}

// SetStatus moves an attachment to the given sync status.
func (s *Store) SetStatus(ctx context.Context, id int64, status string) error {
	if _, err := s.attachStmts.setStatus.ExecContext(ctx, status, id); err != nil {
		return fmt.Errorf("store: set attachment %d status %s: %w", id, status, err)
	}

	return nil
}

// ClearPayload drops the local binary of a synced attachment. It is a
// no-op for attachments in any other status.
func (s *Store) ClearPayload(ctx context.Context, id int64) error {
	res, err := s.attachStmts.clearPayload.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("store: clear attachment %d payload: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: clear payload rows affected: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("store: attachment %d not synced, payload kept", id)
	}

	return nil
}

// Rehydrate restores a downloaded payload and returns the attachment
// to local status, severing the remote linkage.
func (s *Store) Rehydrate(ctx context.Context, id int64, payload []byte, localURL string) error {
	_, err := s.attachStmts.rehydrate.ExecContext(ctx,
		payload, int64(len(payload)), localURL, id)
	if err != nil {
		return fmt.Errorf("store: rehydrate attachment %d: %w", id, err)
	}

	return nil
}

// TouchAccess stamps last_accessed_at, used by the retrieval server.
func (s *Store) TouchAccess(ctx context.Context, id int64, at time.Time) error {
	if _, err := s.attachStmts.touchAccess.ExecContext(ctx, at.Unix(), id); err != nil {
		return fmt.Errorf("store: touch attachment %d: %w", id, err)
	}

	return nil
}

// ListSyncedByCredential returns every synced attachment held by one
// credential, in ID order. Used by restore and reconcile.
func (s *Store) ListSyncedByCredential(ctx context.Context, credentialID int64) ([]*Attachment, error) {
	rows, err := s.attachStmts.listSyncedByCredential.QueryContext(ctx, credentialID)
	if err != nil {
		return nil, fmt.Errorf("store: list synced for credential %d: %w", credentialID, err)
	}
	defer rows.Close()

	var out []*Attachment

	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan synced attachment: %w", err)
		}

		out = append(out, a)
	}

	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttachment(row rowScanner) (*Attachment, error) {
	var (
		a                  Attachment
		syncedAt, accessed int64
	)

	err := row.Scan(&a.ID, &a.Name, &a.ResModel, &a.ResID, &a.ResField,
		&a.DisplayName, &a.MimeType, &a.Payload, &a.Size, &a.URL,
		&a.SyncStatus, &a.RemoteID, &a.RemoteURL, &a.RemoteMD5,
		&a.RemoteSize, &a.CredentialID, &syncedAt, &accessed)
	if err != nil {
		return nil, err
	}

	a.SyncedAt = timeOrZero(syncedAt)
	a.LastAccessed = timeOrZero(accessed)

	return &a, nil
}
