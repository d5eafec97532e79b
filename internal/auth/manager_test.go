package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore records credential saves in memory.
type memStore struct {
	saves int
	last  Credential
}

func (s *memStore) SaveCredential(_ context.Context, cred *Credential) error {
	s.saves++
	s.last = *cred

	return nil
}

// tokenEndpoint is a fake provider token endpoint. respond is invoked
// per request and returns the HTTP status and JSON body.
func tokenEndpoint(t *testing.T, hits *int, respond func() (int, string)) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++

		status, body := respond()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
}

func newTestManager(t *testing.T, cred *Credential, srv *httptest.Server) (*Manager, *memStore) {
	t.Helper()

	store := &memStore{}
	m := NewManager(cred, store, slog.New(slog.DiscardHandler))
	m.SetEndpoint(srv.URL+"/auth", srv.URL+"/token")

	return m, store
}

func baseCredential() *Credential {
	return &Credential{
		ID:           1,
		Name:         "main",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "http://localhost/oauth/callback",
		AccessToken:  "old-access",
		RefreshToken: "refresh-token",
		State:        StateAuthorized,
	}
}

func TestValidTokenRefreshesWithinLookahead(t *testing.T) {
	var hits int

	srv := tokenEndpoint(t, &hits, func() (int, string) {
		return http.StatusOK, `{"access_token":"new-access","token_type":"Bearer","expires_in":3600}`
	})
	defer srv.Close()

	cred := baseCredential()
	cred.Expiry = time.Now().Add(4 * time.Minute)

	m, store := newTestManager(t, cred, srv)

	tok, err := m.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", tok)
	assert.Equal(t, 1, hits, "expiry within lookahead must trigger a refresh call")
	assert.Equal(t, StateAuthorized, store.last.State)
	assert.Positive(t, store.saves)
}

func TestValidTokenSkipsRefreshOutsideLookahead(t *testing.T) {
	var hits int

	srv := tokenEndpoint(t, &hits, func() (int, string) {
		return http.StatusOK, `{"access_token":"new-access","token_type":"Bearer"}`
	})
	defer srv.Close()

	cred := baseCredential()
	cred.Expiry = time.Now().Add(10 * time.Minute)

	m, _ := newTestManager(t, cred, srv)

	tok, err := m.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old-access", tok)
	assert.Zero(t, hits, "expiry outside lookahead must not trigger a refresh call")
}

func TestValidTokenNoTokensReturnsNotAuthorized(t *testing.T) {
	var hits int

	srv := tokenEndpoint(t, &hits, func() (int, string) {
		return http.StatusOK, `{}`
	})
	defer srv.Close()

	cred := baseCredential()
	cred.AccessToken = ""
	cred.RefreshToken = ""

	m, _ := newTestManager(t, cred, srv)

	_, err := m.ValidToken(context.Background())
	require.ErrorIs(t, err, ErrNotAuthorized)
	assert.Zero(t, hits)
}

func TestRefreshInvalidGrantMarksExpired(t *testing.T) {
	var hits int

	srv := tokenEndpoint(t, &hits, func() (int, string) {
		return http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Token has been revoked."}`
	})
	defer srv.Close()

	cred := baseCredential()
	m, store := newTestManager(t, cred, srv)

	err := m.Refresh(context.Background())
	require.ErrorIs(t, err, ErrReauthRequired)
	assert.Equal(t, StateExpired, store.last.State)
	// Tokens are retained for diagnostics.
	assert.Equal(t, "refresh-token", store.last.RefreshToken)
	assert.Equal(t, "old-access", store.last.AccessToken)
}

func TestRefreshServerErrorMarksError(t *testing.T) {
	var hits int

	srv := tokenEndpoint(t, &hits, func() (int, string) {
		return http.StatusInternalServerError, `{"error":"server_error"}`
	})
	defer srv.Close()

	cred := baseCredential()
	m, store := newTestManager(t, cred, srv)

	err := m.Refresh(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrReauthRequired)
	assert.Equal(t, StateError, store.last.State)
}

func TestRefreshWithoutRefreshTokenMarksError(t *testing.T) {
	var hits int

	srv := tokenEndpoint(t, &hits, func() (int, string) {
		return http.StatusOK, `{}`
	})
	defer srv.Close()

	cred := baseCredential()
	cred.RefreshToken = ""

	m, store := newTestManager(t, cred, srv)

	err := m.Refresh(context.Background())
	require.ErrorIs(t, err, ErrNotAuthorized)
	assert.Equal(t, StateError, store.last.State)
	assert.Zero(t, hits)
}

func TestExchangeCodeAuthorizes(t *testing.T) {
	var hits int

	srv := tokenEndpoint(t, &hits, func() (int, string) {
		return http.StatusOK,
			`{"access_token":"first-access","refresh_token":"first-refresh","token_type":"Bearer","expires_in":3600}`
	})
	defer srv.Close()

	cred := baseCredential()
	cred.AccessToken = ""
	cred.RefreshToken = ""
	cred.State = StatePending

	m, store := newTestManager(t, cred, srv)

	require.NoError(t, m.ExchangeCode(context.Background(), "the-code"))
	assert.Equal(t, StateAuthorized, store.last.State)
	assert.Equal(t, "first-access", store.last.AccessToken)
	assert.Equal(t, "first-refresh", store.last.RefreshToken)
	assert.False(t, store.last.Expiry.IsZero())
}

func TestExchangeCodeFailureMarksError(t *testing.T) {
	var hits int

	srv := tokenEndpoint(t, &hits, func() (int, string) {
		return http.StatusBadRequest, `{"error":"invalid_request"}`
	})
	defer srv.Close()

	cred := baseCredential()
	cred.State = StatePending

	m, store := newTestManager(t, cred, srv)

	require.Error(t, m.ExchangeCode(context.Background(), "bad-code"))
	assert.Equal(t, StateError, store.last.State)
}

func TestAuthURLMovesToPending(t *testing.T) {
	var hits int

	srv := tokenEndpoint(t, &hits, func() (int, string) {
		return http.StatusOK, `{}`
	})
	defer srv.Close()

	cred := baseCredential()
	cred.State = StateDraft

	m, store := newTestManager(t, cred, srv)

	u, err := m.AuthURL(context.Background())
	require.NoError(t, err)
	assert.Contains(t, u, "state=auth_1")
	assert.Contains(t, u, "access_type=offline")
	assert.Equal(t, StatePending, store.last.State)
}

func TestCredentialIDFromState(t *testing.T) {
	id, err := CredentialIDFromState("auth_42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = CredentialIDFromState("bogus")
	require.Error(t, err)

	_, err = CredentialIDFromState("")
	require.Error(t, err)
}
