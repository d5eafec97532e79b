package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// refreshLookahead triggers a refresh when the token expires within
// this window, so in-flight batches do not straddle an expiry.
const refreshLookahead = 5 * time.Minute

// Default provider OAuth2 endpoints.
const (
	defaultAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	defaultTokenURL = "https://accounts.google.com/o/oauth2/token" //nolint:gosec // endpoint URL, not a credential
)

// driveScope grants full drive access, matching the sync pipeline's
// needs (upload, list, trash, permission grants).
const driveScope = "https://www.googleapis.com/auth/drive"

// Manager owns one credential's token lifecycle. It implements
// drive.TokenSource and drive.ForceRefresher.
type Manager struct {
	cred   *Credential
	store  CredentialStore
	logger *slog.Logger

	// endpoint and httpClient are overridable for tests.
	endpoint   oauth2.Endpoint
	httpClient *http.Client

	now func() time.Time
}

// NewManager creates a Manager around an existing credential.
func NewManager(cred *Credential, store CredentialStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cred:   cred,
		store:  store,
		logger: logger,
		endpoint: oauth2.Endpoint{
			AuthURL:  defaultAuthURL,
			TokenURL: defaultTokenURL,
		},
		now: time.Now,
	}
}

// SetEndpoint overrides the provider endpoints. Tests point this at an
// httptest server.
func (m *Manager) SetEndpoint(authURL, tokenURL string) {
	m.endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL}
}

// SetHTTPClient overrides the HTTP client used for token requests.
func (m *Manager) SetHTTPClient(c *http.Client) {
	m.httpClient = c
}

// Credential returns the managed credential.
func (m *Manager) Credential() *Credential { return m.cred }

// oauthConfig builds the oauth2 config for the managed credential.
func (m *Manager) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     m.cred.ClientID,
		ClientSecret: m.cred.ClientSecret,
		RedirectURL:  m.cred.RedirectURI,
		Scopes:       []string{driveScope},
		Endpoint:     m.endpoint,
	}
}

// oauthContext injects the manager's HTTP client into the oauth2
// library when one is set.
func (m *Manager) oauthContext(ctx context.Context) context.Context {
	if m.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}

	return ctx
}

// AuthURL returns the provider consent URL for the one-time
// authorization flow and moves the credential to pending. The state
// parameter identifies the credential when the callback arrives.
func (m *Manager) AuthURL(ctx context.Context) (string, error) {
	if m.cred.ClientID == "" {
		return "", errors.New("auth: client ID required to build authorization URL")
	}

	u := m.oauthConfig().AuthCodeURL(
		m.StateToken(),
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
	)

	m.cred.State = StatePending
	if err := m.persist(ctx); err != nil {
		return "", err
	}

	return u, nil
}

// StateToken returns the OAuth2 state parameter that identifies this
// credential on the callback.
func (m *Manager) StateToken() string {
	return fmt.Sprintf("auth_%d", m.cred.ID)
}

// CredentialIDFromState parses a callback state parameter back into a
// credential ID.
func CredentialIDFromState(state string) (int64, error) {
	var id int64

	if _, err := fmt.Sscanf(state, "auth_%d", &id); err != nil || !strings.HasPrefix(state, "auth_") {
		return 0, fmt.Errorf("auth: invalid state parameter %q", state)
	}

	return id, nil
}

// ExchangeCode performs the one-time authorization-code exchange,
// producing the initial access/refresh token pair.
func (m *Manager) ExchangeCode(ctx context.Context, code string) error {
	m.logger.Info("exchanging authorization code",
		slog.String("credential", m.cred.Name),
	)

	tok, err := m.oauthConfig().Exchange(m.oauthContext(ctx), code)
	if err != nil {
		m.cred.State = StateError
		if persistErr := m.persist(ctx); persistErr != nil {
			m.logger.Error("persisting error state failed", slog.String("error", persistErr.Error()))
		}

		return fmt.Errorf("auth: code exchange failed: %w", err)
	}

	m.cred.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		m.cred.RefreshToken = tok.RefreshToken
	}

	m.cred.Expiry = tok.Expiry
	m.cred.State = StateAuthorized

	if err := m.persist(ctx); err != nil {
		return err
	}

	m.logger.Info("credential authorized",
		slog.String("credential", m.cred.Name),
		slog.Time("expiry", tok.Expiry),
	)

	return nil
}

// Refresh exchanges the stored refresh token for a new access token
// and expiry. An invalid-grant response marks the credential expired
// (re-authorization required, not a transient failure); any other
// failure marks it error. Tokens are never cleared on failure.
func (m *Manager) Refresh(ctx context.Context) error {
	if m.cred.RefreshToken == "" {
		m.cred.State = StateError
		if err := m.persist(ctx); err != nil {
			return err
		}

		return fmt.Errorf("auth: no refresh token for %q: %w", m.cred.Name, ErrNotAuthorized)
	}

	m.logger.Info("refreshing access token", slog.String("credential", m.cred.Name))

	src := m.oauthConfig().TokenSource(m.oauthContext(ctx), &oauth2.Token{
		RefreshToken: m.cred.RefreshToken,
	})

	tok, err := src.Token()
	if err != nil {
		return m.refreshFailed(ctx, err)
	}

	m.cred.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		m.cred.RefreshToken = tok.RefreshToken
	}

	m.cred.Expiry = tok.Expiry
	m.cred.State = StateAuthorized

	if err := m.persist(ctx); err != nil {
		return err
	}

	m.logger.Info("token refreshed",
		slog.String("credential", m.cred.Name),
		slog.Time("expiry", tok.Expiry),
	)

	return nil
}

// refreshFailed records the failure state and classifies the error.
func (m *Manager) refreshFailed(ctx context.Context, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
		m.cred.State = StateExpired
		if persistErr := m.persist(ctx); persistErr != nil {
			m.logger.Error("persisting expired state failed", slog.String("error", persistErr.Error()))
		}

		m.logger.Warn("refresh token rejected, re-authorization required",
			slog.String("credential", m.cred.Name),
		)

		return fmt.Errorf("auth: refresh rejected for %q: %w", m.cred.Name, ErrReauthRequired)
	}

	m.cred.State = StateError
	if persistErr := m.persist(ctx); persistErr != nil {
		m.logger.Error("persisting error state failed", slog.String("error", persistErr.Error()))
	}

	return fmt.Errorf("auth: refreshing token for %q: %w", m.cred.Name, err)
}

// ValidToken returns a currently-usable access token, refreshing when
// the token is absent, expired, or expiring within the lookahead
// window.
func (m *Manager) ValidToken(ctx context.Context) (string, error) {
	if m.cred.AccessToken == "" {
		if m.cred.RefreshToken == "" {
			return "", fmt.Errorf("auth: %q has no access token: %w", m.cred.Name, ErrNotAuthorized)
		}

		if err := m.Refresh(ctx); err != nil {
			return "", err
		}

		return m.cred.AccessToken, nil
	}

	if !m.cred.Expiry.IsZero() && m.cred.Expiry.Sub(m.now()) <= refreshLookahead {
		if err := m.Refresh(ctx); err != nil {
			return "", err
		}
	}

	return m.cred.AccessToken, nil
}

// Token implements drive.TokenSource.
func (m *Manager) Token(ctx context.Context) (string, error) {
	return m.ValidToken(ctx)
}

// ForceRefresh implements drive.ForceRefresher: the gateway calls it
// once when the very first remote call fails authentication.
func (m *Manager) ForceRefresh(ctx context.Context) error {
	return m.Refresh(ctx)
}

// persist writes the credential through the store.
func (m *Manager) persist(ctx context.Context) error {
	if err := m.store.SaveCredential(ctx, m.cred); err != nil {
		return fmt.Errorf("auth: persisting credential %q: %w", m.cred.Name, err)
	}

	return nil
}
