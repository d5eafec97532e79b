package migrate

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jmendoza-user/drivesync/internal/drive"
	"github.com/Jmendoza-user/drivesync/internal/store"
)

// fakeAccount is one in-memory drive account.
type fakeAccount struct {
	files    map[string][]byte
	names    map[string]string
	wrongMD5 bool
	removed  []string
	nextID   int
}

func newFakeAccount() *fakeAccount {
	return &fakeAccount{
		files: make(map[string][]byte),
		names: make(map[string]string),
	}
}

func (f *fakeAccount) add(id, name string, content []byte) {
	f.files[id] = content
	f.names[id] = name
}

func (f *fakeAccount) ListFolder(_ context.Context, _ string, _ bool) ([]drive.File, error) {
	var out []drive.File

	for id, data := range f.files {
		out = append(out, drive.File{
			ID:   id,
			Name: f.names[id],
			Size: int64(len(data)),
		})
	}

	return out, nil
}

func (f *fakeAccount) Download(_ context.Context, fileID string, w io.Writer) (int64, error) {
	data, ok := f.files[fileID]
	if !ok {
		return 0, drive.ErrNotFound
	}

	n, err := w.Write(data)

	return int64(n), err
}

func (f *fakeAccount) Upload(_ context.Context, content []byte, name, _ string) (*drive.File, error) {
	f.nextID++
	id := fmt.Sprintf("up-%d", f.nextID)
	f.add(id, name, content)

	remote := &drive.File{
		ID:      id,
		Name:    name,
		Size:    int64(len(content)),
		ViewURL: "https://drive.example.com/view/" + id,
	}

	if f.wrongMD5 {
		remote.MD5 = "deadbeef"
	} else {
		sum := md5.Sum(content)
		remote.MD5 = hex.EncodeToString(sum[:])
	}

	return remote, nil
}

func (f *fakeAccount) EnsureFolder(_ context.Context, name, _ string) (string, error) {
	return "folder-" + name, nil
}

func (f *fakeAccount) GetMetadata(_ context.Context, fileID, _ string) (*drive.File, error) {
	if _, ok := f.files[fileID]; !ok {
		return nil, nil
	}

	return &drive.File{ID: fileID, Name: f.names[fileID]}, nil
}

func (f *fakeAccount) Remove(_ context.Context, fileID string, _ drive.RemoveMode) error {
	delete(f.files, fileID)
	f.removed = append(f.removed, fileID)

	return nil
}

type fixture struct {
	store  *store.Store
	engine *Engine
	source *fakeAccount
	target *fakeAccount
}

const (
	sourceCred int64 = 1
	targetCred int64 = 2
)

func setup(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	s, err := store.Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &fixture{
		store:  s,
		source: newFakeAccount(),
		target: newFakeAccount(),
	}

	f.engine = New(s, func(_ context.Context, credID int64) (Drive, error) {
		switch credID {
		case sourceCred:
			return f.source, nil
		case targetCred:
			return f.target, nil
		}

		return nil, fmt.Errorf("unknown credential %d", credID)
	}, logger)

	return f
}

// seedSynced creates a record synced to the source account.
func seedSynced(t *testing.T, f *fixture, remoteID, name string, content []byte) *store.Attachment {
	t.Helper()
	ctx := context.Background()

	f.source.add(remoteID, name, content)

	a := &store.Attachment{Name: name, ResModel: "account.move", Payload: content, Size: int64(len(content))}
	require.NoError(t, f.store.CreateAttachment(ctx, a))

	sum := md5.Sum(content)
	a.RemoteID = remoteID
	a.RemoteURL = "https://drive.example.com/view/" + remoteID
	a.RemoteMD5 = hex.EncodeToString(sum[:])
	a.RemoteSize = int64(len(content))
	a.CredentialID = sourceCred
	a.URL = "https://files.example.com/files/" + remoteID
	require.NoError(t, f.store.MarkSynced(ctx, a))

	return a
}

func TestMigrateRoundTrip(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	content := []byte("the invoice body")
	a := seedSynced(t, f, "src-1", "invoice.pdf", content)

	report, err := f.engine.Migrate(ctx, MigrateOptions{
		SourceCredentialID: sourceCred,
		TargetCredentialID: targetCred,
		TargetFolderName:   "Migrated",
		VerifyIntegrity:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Succeeded)
	assert.Equal(t, int64(0), report.Failed)

	got, err := f.store.GetAttachment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, targetCred, got.CredentialID)
	assert.NotEqual(t, "src-1", got.RemoteID)
	assert.Equal(t, "https://files.example.com/files/"+got.RemoteID, got.URL)

	assert.Equal(t, content, f.target.files[got.RemoteID])
}

func TestMigrateMismatchKeepsSource(t *testing.T) {
	f := setup(t)
	f.target.wrongMD5 = true
	ctx := context.Background()

	a := seedSynced(t, f, "src-1", "invoice.pdf", []byte("body"))

	report, err := f.engine.Migrate(ctx, MigrateOptions{
		SourceCredentialID: sourceCred,
		TargetCredentialID: targetCred,
		VerifyIntegrity:    true,
		DeleteSource:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Failed)

	// Source copy survives a failed verification even with
	// DeleteSource set.
	assert.Contains(t, f.source.files, "src-1")
	assert.Empty(t, f.source.removed)

	got, err := f.store.GetAttachment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "src-1", got.RemoteID)
	assert.Equal(t, sourceCred, got.CredentialID)
}

func TestMigrateDeleteSourceAfterVerify(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	seedSynced(t, f, "src-1", "invoice.pdf", []byte("body"))

	report, err := f.engine.Migrate(ctx, MigrateOptions{
		SourceCredentialID: sourceCred,
		TargetCredentialID: targetCred,
		VerifyIntegrity:    true,
		DeleteSource:       true,
		DeleteMode:         drive.RemoveTrash,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Succeeded)
	assert.Equal(t, []string{"src-1"}, f.source.removed)
}

func TestMigrateFolderSkipsUnmatched(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	seedSynced(t, f, "src-1", "known.pdf", []byte("known"))
	f.source.add("stray-1", "stray.pdf", []byte("stray"))

	report, err := f.engine.Migrate(ctx, MigrateOptions{
		SourceCredentialID: sourceCred,
		TargetCredentialID: targetCred,
		SourceFolderID:     "root",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Processed)
	assert.Equal(t, int64(1), report.Succeeded)
}

func TestMigrateLimit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	for i := range 3 {
		seedSynced(t, f, fmt.Sprintf("src-%d", i), fmt.Sprintf("f%d.pdf", i), []byte("x"))
	}

	report, err := f.engine.Migrate(ctx, MigrateOptions{
		SourceCredentialID: sourceCred,
		TargetCredentialID: targetCred,
		Limit:              2,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Processed)
}

func TestRestoreRehydratesMatched(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	content := []byte("the original bytes")
	a := seedSynced(t, f, "src-1", "invoice.pdf", content)
	require.NoError(t, f.store.ClearPayload(ctx, a.ID))

	report, err := f.engine.Restore(ctx, RestoreOptions{
		CredentialID: sourceCred,
		FolderID:     "root",
		LinkExisting: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Succeeded)

	got, err := f.store.GetAttachment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusLocal, got.SyncStatus)
	assert.Equal(t, content, got.Payload)
	assert.Empty(t, got.RemoteID)
}

func TestRestoreSkipsUnmatchedWithoutOwner(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.source.add("stray-1", "stray.pdf", []byte("stray"))

	report, err := f.engine.Restore(ctx, RestoreOptions{
		CredentialID: sourceCred,
		FolderID:     "root",
		LinkExisting: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Skipped)
	assert.Equal(t, int64(0), report.Succeeded)
}

func TestRestoreCreatesUnderDefaultOwner(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.source.add("stray-1", "stray.pdf", []byte("stray"))

	report, err := f.engine.Restore(ctx, RestoreOptions{
		CredentialID: sourceCred,
		FolderID:     "root",
		LinkExisting: true,
		DefaultModel: "documents.document",
		DefaultResID: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Succeeded)
}

func TestPreviewMigrate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	seedSynced(t, f, "src-1", "a.pdf", []byte("1234"))
	seedSynced(t, f, "src-2", "b.pdf", []byte("12345678"))

	p, err := f.engine.PreviewMigrate(ctx, MigrateOptions{
		SourceCredentialID: sourceCred,
		TargetCredentialID: targetCred,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Count)
	assert.Equal(t, int64(12), p.TotalSize)
	assert.Len(t, p.SampleNames, 2)

	// Dry run: nothing moved.
	assert.Empty(t, f.target.files)
}

func TestPreviewRestore(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.source.add("x", "x.pdf", []byte("abc"))

	p, err := f.engine.PreviewRestore(ctx, RestoreOptions{
		CredentialID: sourceCred,
		FolderID:     "root",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Count)
	assert.Equal(t, int64(3), p.TotalSize)
}
