package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Jmendoza-user/drivesync/internal/auth"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

const sqlGetCredential = `
	SELECT id, name, client_id, client_secret, redirect_uri,
	       access_token, refresh_token, token_expiry, state
	FROM credentials WHERE id = ?`

const sqlInsertCredential = `
	INSERT INTO credentials
		(name, client_id, client_secret, redirect_uri,
		 access_token, refresh_token, token_expiry, state,
		 created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const sqlUpdateCredential = `
	UPDATE credentials SET
		name = ?, client_id = ?, client_secret = ?, redirect_uri = ?,
		access_token = ?, refresh_token = ?, token_expiry = ?, state = ?,
		updated_at = ?
	WHERE id = ?`

// CreateCredential inserts a new credential and assigns its ID.
func (s *Store) CreateCredential(ctx context.Context, cred *auth.Credential) error {
	now := time.Now().Unix()

	res, err := s.credStmts.insert.ExecContext(ctx,
		cred.Name, cred.ClientID, cred.ClientSecret, cred.RedirectURI,
		cred.AccessToken, cred.RefreshToken, unixOrZero(cred.Expiry),
		string(cred.State), now, now)
	if err != nil {
		return fmt.Errorf("store: insert credential: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: credential insert id: %w", err)
	}

	cred.ID = id

	return nil
}

// GetCredential loads a credential by ID.
func (s *Store) GetCredential(ctx context.Context, id int64) (*auth.Credential, error) {
	var (
		cred   auth.Credential
		expiry int64
		state  string
	)

	err := s.credStmts.get.QueryRowContext(ctx, id).Scan(
		&cred.ID, &cred.Name, &cred.ClientID, &cred.ClientSecret,
		&cred.RedirectURI, &cred.AccessToken, &cred.RefreshToken,
		&expiry, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: credential %d: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("store: get credential %d: %w", id, err)
	}

	cred.Expiry = timeOrZero(expiry)
	cred.State = auth.State(state)

	return &cred, nil
}

// SaveCredential persists token and state changes. Implements
// auth.CredentialStore.
func (s *Store) SaveCredential(ctx context.Context, cred *auth.Credential) error {
	if cred.ID == 0 {
		return s.CreateCredential(ctx, cred)
	}

	res, err := s.credStmts.update.ExecContext(ctx,
		cred.Name, cred.ClientID, cred.ClientSecret, cred.RedirectURI,
		cred.AccessToken, cred.RefreshToken, unixOrZero(cred.Expiry),
		string(cred.State), time.Now().Unix(), cred.ID)
	if err != nil {
		return fmt.Errorf("store: update credential %d: %w", cred.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: credential rows affected: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("store: credential %d: %w", cred.ID, ErrNotFound)
	}

	return nil
}

const sqlListCredentials = `
	SELECT id, name, client_id, client_secret, redirect_uri,
	       access_token, refresh_token, token_expiry, state
	FROM credentials ORDER BY id`

// ListCredentials returns every credential for status reporting.
func (s *Store) ListCredentials(ctx context.Context) ([]*auth.Credential, error) {
	rows, err := s.db.QueryContext(ctx, sqlListCredentials)
	if err != nil {
		return nil, fmt.Errorf("store: list credentials: %w", err)
	}
	defer rows.Close()

	var out []*auth.Credential

	for rows.Next() {
		var (
			cred   auth.Credential
			expiry int64
			state  string
		)

		if err := rows.Scan(&cred.ID, &cred.Name, &cred.ClientID,
			&cred.ClientSecret, &cred.RedirectURI, &cred.AccessToken,
			&cred.RefreshToken, &expiry, &state); err != nil {
			return nil, fmt.Errorf("store: scan credential: %w", err)
		}

		cred.Expiry = timeOrZero(expiry)
		cred.State = auth.State(state)
		out = append(out, &cred)
	}

	return out, rows.Err()
}

// unixOrZero maps the zero time to 0 on disk.
func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.Unix()
}

// timeOrZero maps 0 on disk back to the zero time.
func timeOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}

	return time.Unix(sec, 0)
}
