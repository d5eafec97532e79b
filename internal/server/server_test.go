package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jmendoza-user/drivesync/internal/auth"
	"github.com/Jmendoza-user/drivesync/internal/cache"
	"github.com/Jmendoza-user/drivesync/internal/drive"
	"github.com/Jmendoza-user/drivesync/internal/store"
)

type fakeDownloader struct {
	content     map[string][]byte
	downloadErr error
}

func (f *fakeDownloader) Download(_ context.Context, fileID string, w io.Writer) (int64, error) {
	if f.downloadErr != nil {
		return 0, f.downloadErr
	}

	data, ok := f.content[fileID]
	if !ok {
		return 0, drive.ErrNotFound
	}

	n, err := w.Write(data)

	return int64(n), err
}

func (f *fakeDownloader) DownloadRange(_ context.Context, _, _ string) (*drive.RangeResult, error) {
	return nil, errors.New("range not supported")
}

type fixture struct {
	store  *store.Store
	gw     *fakeDownloader
	server *Server
	ts     *httptest.Server
}

func setup(t *testing.T, managerFor ManagerFactory) *fixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	s, err := store.Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	gw := &fakeDownloader{content: make(map[string][]byte)}

	dc, err := cache.NewDiskCache(t.TempDir(), time.Hour, 0, gw, cache.NewMemoryCache(16, time.Hour), logger)
	require.NoError(t, err)

	if managerFor == nil {
		managerFor = func(context.Context, int64) (*auth.Manager, error) {
			return nil, errors.New("no manager")
		}
	}

	srv := New("127.0.0.1:0", s, dc, managerFor, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{store: s, gw: gw, server: srv, ts: ts}
}

func seedSynced(t *testing.T, f *fixture, remoteID, name string, content []byte) *store.Attachment {
	t.Helper()
	ctx := context.Background()

	f.gw.content[remoteID] = content

	a := &store.Attachment{Name: name, ResModel: "account.move", MimeType: "application/pdf", Payload: content, Size: int64(len(content))}
	require.NoError(t, f.store.CreateAttachment(ctx, a))

	a.RemoteID = remoteID
	a.RemoteSize = int64(len(content))
	a.CredentialID = 1
	require.NoError(t, f.store.MarkSynced(ctx, a))

	return a
}

func lastAccessRow(t *testing.T, s *store.Store) (status int, bytesServed int64, cacheHit bool) {
	t.Helper()

	err := s.DB().QueryRow(`
		SELECT http_status, bytes_served, cache_hit
		FROM access_log ORDER BY id DESC LIMIT 1`).
		Scan(&status, &bytesServed, &cacheHit)
	require.NoError(t, err)

	return status, bytesServed, cacheHit
}

func accessRowCount(t *testing.T, s *store.Store) int {
	t.Helper()

	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM access_log`).Scan(&n))

	return n
}

func TestServeFullFile(t *testing.T) {
	f := setup(t, nil)
	content := []byte("the pdf body")
	seedSynced(t, f, "r1", "invoice.pdf", content)

	resp, err := http.Get(f.ts.URL + "/files/r1")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Equal(t, `inline; filename="invoice.pdf"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, fmt.Sprint(len(content)), resp.Header.Get("Content-Length"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content, body)

	status, served, hit := lastAccessRow(t, f.store)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(len(content)), served)
	assert.False(t, hit)
}

func TestServeCachedSecondRead(t *testing.T) {
	f := setup(t, nil)
	seedSynced(t, f, "r1", "invoice.pdf", []byte("body"))

	for range 2 {
		resp, err := http.Get(f.ts.URL + "/files/r1")
		require.NoError(t, err)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	_, _, hit := lastAccessRow(t, f.store)
	assert.True(t, hit)
	assert.Equal(t, 2, accessRowCount(t, f.store))
}

func TestServeRange(t *testing.T) {
	f := setup(t, nil)
	seedSynced(t, f, "r1", "invoice.pdf", []byte("0123456789"))

	// Prime the cache so the range is served from disk.
	resp, err := http.Get(f.ts.URL + "/files/r1")
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/files/r1", nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=2-5")

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
	assert.Equal(t, "bytes 2-5/10", resp.Header.Get("Content-Range"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), body)
}

func TestServeUnknownID(t *testing.T) {
	f := setup(t, nil)

	resp, err := http.Get(f.ts.URL + "/files/nothere")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	status, _, _ := lastAccessRow(t, f.store)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestServeUnsyncedRecord(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	a := &store.Attachment{Name: "draft.pdf", Payload: []byte("x"), Size: 1}
	require.NoError(t, f.store.CreateAttachment(ctx, a))

	resp, err := http.Get(f.ts.URL + "/files/draft-remote")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeRemoteFailure(t *testing.T) {
	f := setup(t, nil)
	seedSynced(t, f, "r1", "invoice.pdf", []byte("body"))

	f.gw.downloadErr = errors.New("remote down")

	resp, err := http.Get(f.ts.URL + "/files/r1")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	status, _, _ := lastAccessRow(t, f.store)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestOAuthCallbackSuccess(t *testing.T) {
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at","refresh_token":"rt","expires_in":3600,"token_type":"Bearer"}`)
	}))
	defer tokens.Close()

	var f *fixture

	managerFor := func(ctx context.Context, credID int64) (*auth.Manager, error) {
		cred, err := f.store.GetCredential(ctx, credID)
		if err != nil {
			return nil, err
		}

		mgr := auth.NewManager(cred, f.store, slog.New(slog.DiscardHandler))
		mgr.SetEndpoint(tokens.URL+"/auth", tokens.URL+"/token")

		return mgr, nil
	}

	f = setup(t, managerFor)
	ctx := context.Background()

	cred := &auth.Credential{Name: "acct", ClientID: "c", ClientSecret: "s", State: auth.StatePending}
	require.NoError(t, f.store.CreateCredential(ctx, cred))

	resp, err := http.Get(fmt.Sprintf("%s/oauth/callback?code=ok&state=auth_%d", f.ts.URL, cred.ID))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Authorization successful")

	got, err := f.store.GetCredential(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.StateAuthorized, got.State)
	assert.Equal(t, "at", got.AccessToken)
}

func TestOAuthCallbackBadState(t *testing.T) {
	f := setup(t, nil)

	resp, err := http.Get(f.ts.URL + "/oauth/callback?code=x&state=bogus")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOAuthCallbackProviderError(t *testing.T) {
	f := setup(t, nil)

	resp, err := http.Get(f.ts.URL + "/oauth/callback?state=auth_1&error=access_denied")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "access_denied")
}

func TestOAuthCallbackMissingCode(t *testing.T) {
	f := setup(t, nil)

	resp, err := http.Get(f.ts.URL + "/oauth/callback?state=auth_1")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOAuthCallbackUnknownCredential(t *testing.T) {
	f := setup(t, nil) // managerFor always errors

	resp, err := http.Get(f.ts.URL + "/oauth/callback?code=x&state=auth_42")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
