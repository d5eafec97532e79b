package discovery

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jmendoza-user/drivesync/internal/auth"
	"github.com/Jmendoza-user/drivesync/internal/store"
)

func setupFinder(t *testing.T) (*Finder, *store.Store, *store.SyncConfig) {
	t.Helper()

	s, err := store.Open(":memory:", slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cred := &auth.Credential{
		Name:     "main",
		ClientID: "client-id",
		State:    auth.StateAuthorized,
	}
	require.NoError(t, s.CreateCredential(context.Background(), cred))

	cfg := &store.SyncConfig{
		Name:         "test",
		CredentialID: cred.ID,
		IsActive:     true,
		ModelRules: []store.ModelRule{
			{Model: "account.move", Kind: store.KindAttachment, FolderName: "Invoices", IsActive: true},
			{Model: "res.partner", Kind: store.KindImageField, Field: "image_1920", FolderName: "Partners", IsActive: true},
		},
		FileTypeRules: []store.FileTypeRule{
			{Extension: "pdf", MaxSizeMB: 50, IsActive: true},
			{Extension: "jpg", MaxSizeMB: 10, IsActive: true},
		},
	}
	require.NoError(t, s.CreateConfig(context.Background(), cfg))

	return NewFinder(s, slog.New(slog.DiscardHandler)), s, cfg
}

func mustCreate(t *testing.T, s *store.Store, a *store.Attachment) *store.Attachment {
	t.Helper()
	require.NoError(t, s.CreateAttachment(context.Background(), a))

	return a
}

func TestBatchAttachmentRule(t *testing.T) {
	f, s, cfg := setupFinder(t)
	ctx := context.Background()

	mustCreate(t, s, &store.Attachment{Name: "invoice.pdf", ResModel: "account.move", ResID: 1, Payload: []byte("x"), Size: 1})
	mustCreate(t, s, &store.Attachment{Name: "photo.PNG", ResModel: "account.move", ResID: 2, Payload: []byte("x"), Size: 1})
	mustCreate(t, s, &store.Attachment{Name: "noextension", ResModel: "account.move", ResID: 3, Payload: []byte("x"), Size: 1})
	mustCreate(t, s, &store.Attachment{Name: "scan.JPG", ResModel: "account.move", ResID: 4, Payload: []byte("x"), Size: 1})
	mustCreate(t, s, &store.Attachment{Name: "other.pdf", ResModel: "sale.order", ResID: 5, Payload: []byte("x"), Size: 1})
	mustCreate(t, s, &store.Attachment{Name: "empty.pdf", ResModel: "account.move", ResID: 6, Payload: []byte("x"), Size: 0})

	got, err := f.Batch(ctx, cfg, cfg.ModelRules[0], 100, 0)
	require.NoError(t, err)

	var names []string
	for _, c := range got {
		names = append(names, c.UploadName)
	}

	// png is not allowed, dotless names are skipped, other models and
	// zero-size rows are out of domain. Extension match is
	// case-insensitive.
	assert.Equal(t, []string{"invoice.pdf", "scan.JPG"}, names)
}

func TestBatchSkipsOversizedRecords(t *testing.T) {
	f, s, cfg := setupFinder(t)
	ctx := context.Background()

	mustCreate(t, s, &store.Attachment{Name: "huge.pdf", ResModel: "account.move", ResID: 1, Payload: []byte("x"), Size: MaxCandidateSize + 1})
	fits := mustCreate(t, s, &store.Attachment{Name: "fits.pdf", ResModel: "account.move", ResID: 2, Payload: []byte("x"), Size: MaxCandidateSize})

	got, err := f.Batch(ctx, cfg, cfg.ModelRules[0], 100, 0)
	require.NoError(t, err)

	// Records above the size cap are out of domain, so repeated
	// passes do not rediscover files that can never upload.
	require.Len(t, got, 1)
	assert.Equal(t, fits.ID, got[0].Attachment.ID)

	total, err := f.Total(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestBatchRetriesErroredRecords(t *testing.T) {
	f, s, cfg := setupFinder(t)
	ctx := context.Background()

	failed := mustCreate(t, s, &store.Attachment{Name: "retry.pdf", ResModel: "account.move", ResID: 1, Payload: []byte("x"), Size: 1})
	require.NoError(t, s.MarkError(ctx, failed.ID))

	synced := mustCreate(t, s, &store.Attachment{Name: "done.pdf", ResModel: "account.move", ResID: 2, Payload: []byte("x"), Size: 1})
	synced.RemoteID = "remote-1"
	require.NoError(t, s.MarkSynced(ctx, synced))

	got, err := f.Batch(ctx, cfg, cfg.ModelRules[0], 100, 0)
	require.NoError(t, err)

	// Errored records are retried on the next pass; synced ones are
	// done.
	require.Len(t, got, 1)
	assert.Equal(t, failed.ID, got[0].Attachment.ID)
}

func TestBatchPagination(t *testing.T) {
	f, s, cfg := setupFinder(t)
	ctx := context.Background()

	var ids []int64
	for range 5 {
		a := mustCreate(t, s, &store.Attachment{Name: "doc.pdf", ResModel: "account.move", Payload: []byte("x"), Size: 1})
		ids = append(ids, a.ID)
	}

	first, err := f.Batch(ctx, cfg, cfg.ModelRules[0], 2, 0)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, ids[0], first[0].Attachment.ID)

	second, err := f.Batch(ctx, cfg, cfg.ModelRules[0], 2, first[1].Attachment.ID)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, ids[2], second[0].Attachment.ID)

	last, err := f.Batch(ctx, cfg, cfg.ModelRules[0], 2, second[1].Attachment.ID)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, ids[4], last[0].Attachment.ID)
}

func TestBatchImageFieldRule(t *testing.T) {
	f, s, cfg := setupFinder(t)
	ctx := context.Background()

	mustCreate(t, s, &store.Attachment{
		Name: "image_1920", ResModel: "res.partner", ResID: 10,
		ResField: "image_1920", DisplayName: "Acme Corp",
		Payload: []byte("jpeg"), Size: 4,
	})

	got, err := f.Batch(ctx, cfg, cfg.ModelRules[1], 100, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Acme Corp_image_1920.jpg", got[0].UploadName)
	assert.Equal(t, "image/jpeg", got[0].MimeType)
}

func TestImageFieldRuleInertWithoutJPG(t *testing.T) {
	f, s, cfg := setupFinder(t)
	ctx := context.Background()

	mustCreate(t, s, &store.Attachment{
		Name: "image_1920", ResModel: "res.partner", ResID: 10,
		ResField: "image_1920", DisplayName: "Acme Corp",
		Payload: []byte("jpeg"), Size: 4,
	})

	// Deactivate jpg: derived JPEG candidates must disappear.
	for i := range cfg.FileTypeRules {
		if cfg.FileTypeRules[i].Extension == "jpg" {
			cfg.FileTypeRules[i].IsActive = false
		}
	}

	got, err := f.Batch(ctx, cfg, cfg.ModelRules[1], 100, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCountPerRule(t *testing.T) {
	f, s, cfg := setupFinder(t)
	ctx := context.Background()

	mustCreate(t, s, &store.Attachment{Name: "a.pdf", ResModel: "account.move", Payload: []byte("x"), Size: 1})
	mustCreate(t, s, &store.Attachment{Name: "b.pdf", ResModel: "account.move", Payload: []byte("x"), Size: 1})
	mustCreate(t, s, &store.Attachment{
		Name: "image_1920", ResModel: "res.partner", ResField: "image_1920",
		DisplayName: "P", Payload: []byte("x"), Size: 1,
	})

	counts, err := f.Count(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[cfg.ModelRules[0].ID])
	assert.Equal(t, int64(1), counts[cfg.ModelRules[1].ID])

	total, err := f.Total(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestUnknownRuleKind(t *testing.T) {
	f, _, cfg := setupFinder(t)

	bogus := store.ModelRule{Model: "res.users", Kind: "spreadsheet", IsActive: true}

	_, err := f.Batch(context.Background(), cfg, bogus, 10, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown rule kind")
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "a_b_c.pdf", SanitizeName("a/b\\c.pdf"))
	// NFC: combining acute collapses into the precomposed rune.
	assert.Equal(t, "café.pdf", SanitizeName("café.pdf"))
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "pdf", Extension("a.PDF"))
	assert.Equal(t, "", Extension("noext"))
	assert.Equal(t, "", Extension("trailing."))
	assert.Equal(t, "gz", Extension("a.tar.gz"))
}
