// Package auth owns the OAuth2 credential lifecycle for one remote
// account: authorization-code exchange, refresh-on-demand with expiry
// lookahead, and the credential state machine. Every state transition
// is persisted immediately through a CredentialStore.
package auth

import (
	"context"
	"errors"
	"time"
)

// Credential lifecycle states.
type State string

const (
	StateDraft      State = "draft"
	StatePending    State = "pending"
	StateAuthorized State = "authorized"
	StateExpired    State = "expired" // refresh token rejected, re-authorization required
	StateError      State = "error"
)

// Sentinel errors.
var (
	// ErrNotAuthorized is returned when an operation needs a usable
	// token but the credential has never been authorized.
	ErrNotAuthorized = errors.New("auth: credential not authorized")

	// ErrReauthRequired is returned when the provider rejected the
	// refresh token (invalid grant) — a new consent flow is needed,
	// not a retry.
	ErrReauthRequired = errors.New("auth: re-authorization required")
)

// Credential is one OAuth2-authorized identity against the storage
// provider. Tokens are retained on error transitions for diagnostics;
// only the state blocks gateway use.
type Credential struct {
	ID           int64
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time // zero when the provider reported no expiry
	State        State
}

// Usable reports whether the credential may back a drive gateway.
func (c *Credential) Usable() bool {
	return c.State == StateAuthorized && c.AccessToken != ""
}

// CredentialStore persists credential mutations. Implemented by the
// entity store and by the file-backed credfile store for CLI use.
type CredentialStore interface {
	SaveCredential(ctx context.Context, cred *Credential) error
}
