// Package migrate moves synced content between drive accounts and
// restores cloud copies back into local payloads.
package migrate

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Jmendoza-user/drivesync/internal/drive"
	"github.com/Jmendoza-user/drivesync/internal/store"
)

// Drive is the remote surface the engine needs per account.
// *drive.Gateway implements it.
type Drive interface {
	ListFolder(ctx context.Context, folderID string, recursive bool) ([]drive.File, error)
	Download(ctx context.Context, fileID string, w io.Writer) (int64, error)
	Upload(ctx context.Context, content []byte, name, folderID string) (*drive.File, error)
	EnsureFolder(ctx context.Context, name, parentID string) (string, error)
	GetMetadata(ctx context.Context, fileID, fields string) (*drive.File, error)
	Remove(ctx context.Context, fileID string, mode drive.RemoveMode) error
}

// DriveFactory builds a gateway for one credential.
type DriveFactory func(ctx context.Context, credentialID int64) (Drive, error)

// MigrateOptions selects what moves where. With SourceFolderID unset,
// the source set is every synced record tied to the source credential.
type MigrateOptions struct {
	SourceCredentialID int64
	TargetCredentialID int64
	SourceFolderID     string
	TargetFolderName   string
	Recursive          bool
	Limit              int
	VerifyIntegrity    bool
	DeleteSource       bool
	DeleteMode         drive.RemoveMode
}

// RestoreOptions selects a folder to pull back. Files without a
// matching record are created under DefaultModel/DefaultResID when
// set, otherwise skipped.
type RestoreOptions struct {
	CredentialID int64
	FolderID     string
	Recursive    bool
	LinkExisting bool
	DefaultModel string
	DefaultResID int64
}

// Report summarizes one engine run.
type Report struct {
	Processed int64
	Succeeded int64
	Skipped   int64
	Failed    int64
}

// Preview is the dry-run estimate of a migration or restore.
type Preview struct {
	Count       int64
	TotalSize   int64
	SampleNames []string
}

const previewSamples = 10

// Engine runs migrations against the entity store.
type Engine struct {
	store    *store.Store
	driveFor DriveFactory
	logger   *slog.Logger
}

// New returns an Engine.
func New(s *store.Store, driveFor DriveFactory, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{store: s, driveFor: driveFor, logger: logger}
}

// Migrate copies each source file to the target account, rewrites the
// owning record's remote reference, and optionally removes the source
// copy. A failed integrity check never removes the source: the
// verified-good copy always survives.
func (e *Engine) Migrate(ctx context.Context, opts MigrateOptions) (*Report, error) {
	source, err := e.driveFor(ctx, opts.SourceCredentialID)
	if err != nil {
		return nil, fmt.Errorf("migrate: source gateway: %w", err)
	}

	target, err := e.driveFor(ctx, opts.TargetCredentialID)
	if err != nil {
		return nil, fmt.Errorf("migrate: target gateway: %w", err)
	}

	targetFolderID := ""
	if opts.TargetFolderName != "" {
		targetFolderID, err = target.EnsureFolder(ctx, opts.TargetFolderName, "")
		if err != nil {
			return nil, fmt.Errorf("migrate: target folder: %w", err)
		}
	}

	records, err := e.sourceRecords(ctx, source, opts)
	if err != nil {
		return nil, err
	}

	report := &Report{}

	for _, a := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if opts.Limit > 0 && report.Processed >= int64(opts.Limit) {
			break
		}

		report.Processed++
		e.migrateOne(ctx, source, target, targetFolderID, a, opts, report)
	}

	e.logger.Info("migration finished",
		slog.Int64("processed", report.Processed),
		slog.Int64("succeeded", report.Succeeded),
		slog.Int64("skipped", report.Skipped),
		slog.Int64("failed", report.Failed))

	return report, nil
}

// sourceRecords resolves the migration set. Folder-driven enumeration
// keeps only files a local record references; unmatched remote files
// are skipped rather than imported.
func (e *Engine) sourceRecords(ctx context.Context, source Drive, opts MigrateOptions) ([]*store.Attachment, error) {
	if opts.SourceFolderID == "" {
		records, err := e.store.ListSyncedByCredential(ctx, opts.SourceCredentialID)
		if err != nil {
			return nil, err
		}

		return records, nil
	}

	files, err := source.ListFolder(ctx, opts.SourceFolderID, opts.Recursive)
	if err != nil {
		return nil, fmt.Errorf("migrate: listing source folder: %w", err)
	}

	var records []*store.Attachment

	for _, f := range files {
		if f.IsFolder() {
			continue
		}

		a, err := e.store.GetAttachmentByRemoteID(ctx, f.ID)
		if errors.Is(err, store.ErrNotFound) {
			e.logger.Debug("unmatched remote file skipped",
				slog.String("remote", f.ID),
				slog.String("name", f.Name))

			continue
		}

		if err != nil {
			return nil, err
		}

		records = append(records, a)
	}

	return records, nil
}

func (e *Engine) migrateOne(ctx context.Context, source, target Drive, targetFolderID string, a *store.Attachment, opts MigrateOptions, report *Report) {
	var buf bytes.Buffer

	if _, err := source.Download(ctx, a.RemoteID, &buf); err != nil {
		report.Failed++
		e.logger.Warn("migrate: download failed",
			slog.Int64("attachment", a.ID),
			slog.String("remote", a.RemoteID),
			slog.String("error", err.Error()))

		return
	}

	content := buf.Bytes()

	uploaded, err := target.Upload(ctx, content, a.Name, targetFolderID)
	if err != nil {
		report.Failed++
		e.logger.Warn("migrate: upload failed",
			slog.Int64("attachment", a.ID),
			slog.String("error", err.Error()))

		return
	}

	if opts.VerifyIntegrity && !verified(content, uploaded) {
		report.Failed++
		e.logger.Warn("migrate: integrity mismatch, source copy kept",
			slog.Int64("attachment", a.ID),
			slog.String("source", a.RemoteID),
			slog.String("target", uploaded.ID))

		return
	}

	oldRemoteID := a.RemoteID

	if a.URL != "" && strings.Contains(a.URL, oldRemoteID) {
		a.URL = strings.Replace(a.URL, oldRemoteID, uploaded.ID, 1)
	}

	a.RemoteID = uploaded.ID
	a.RemoteURL = uploaded.ViewURL
	a.RemoteMD5 = uploaded.MD5
	a.RemoteSize = uploaded.Size
	a.CredentialID = opts.TargetCredentialID

	if err := e.store.MarkSynced(ctx, a); err != nil {
		report.Failed++
		e.logger.Error("migrate: rewriting record",
			slog.Int64("attachment", a.ID),
			slog.String("error", err.Error()))

		return
	}

	report.Succeeded++

	if opts.DeleteSource {
		if err := source.Remove(ctx, oldRemoteID, opts.DeleteMode); err != nil {
			e.logger.Warn("migrate: removing source copy",
				slog.String("remote", oldRemoteID),
				slog.String("error", err.Error()))
		}
	}
}

// verified compares the uploaded copy against the downloaded source
// bytes: MD5 when reported, size as fallback, and no evidence fails.
func verified(content []byte, uploaded *drive.File) bool {
	if uploaded.MD5 != "" {
		sum := md5.Sum(content)
		return hex.EncodeToString(sum[:]) == uploaded.MD5
	}

	if uploaded.Size > 0 {
		return uploaded.Size == int64(len(content))
	}

	return false
}

// Restore downloads every file in a folder and rehydrates the matched
// local records. Unmatched files become new records only when a
// default owner is configured.
func (e *Engine) Restore(ctx context.Context, opts RestoreOptions) (*Report, error) {
	drv, err := e.driveFor(ctx, opts.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("restore: gateway: %w", err)
	}

	files, err := drv.ListFolder(ctx, opts.FolderID, opts.Recursive)
	if err != nil {
		return nil, fmt.Errorf("restore: listing folder: %w", err)
	}

	report := &Report{}

	for _, f := range files {
		if f.IsFolder() {
			continue
		}

		if err := ctx.Err(); err != nil {
			return report, err
		}

		report.Processed++
		e.restoreOne(ctx, drv, f, opts, report)
	}

	e.logger.Info("restore finished",
		slog.Int64("processed", report.Processed),
		slog.Int64("succeeded", report.Succeeded),
		slog.Int64("skipped", report.Skipped),
		slog.Int64("failed", report.Failed))

	return report, nil
}

func (e *Engine) restoreOne(ctx context.Context, drv Drive, f drive.File, opts RestoreOptions, report *Report) {
	var matched *store.Attachment

	if opts.LinkExisting {
		a, err := e.store.GetAttachmentByRemoteID(ctx, f.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			report.Failed++
			e.logger.Error("restore: record lookup",
				slog.String("remote", f.ID),
				slog.String("error", err.Error()))

			return
		}

		matched = a
	}

	if matched == nil && opts.DefaultModel == "" {
		report.Skipped++
		e.logger.Debug("restore: no matching record, skipped",
			slog.String("remote", f.ID),
			slog.String("name", f.Name))

		return
	}

	var buf bytes.Buffer

	if _, err := drv.Download(ctx, f.ID, &buf); err != nil {
		report.Failed++
		e.logger.Warn("restore: download failed",
			slog.String("remote", f.ID),
			slog.String("error", err.Error()))

		return
	}

	if matched != nil {
		if err := e.store.Rehydrate(ctx, matched.ID, buf.Bytes(), ""); err != nil {
			report.Failed++
			e.logger.Error("restore: rehydrating record",
				slog.Int64("attachment", matched.ID),
				slog.String("error", err.Error()))

			return
		}

		report.Succeeded++

		return
	}

	created := &store.Attachment{
		Name:     f.Name,
		ResModel: opts.DefaultModel,
		ResID:    opts.DefaultResID,
		MimeType: f.MimeType,
		Payload:  buf.Bytes(),
		Size:     int64(buf.Len()),
	}

	if err := e.store.CreateAttachment(ctx, created); err != nil {
		report.Failed++
		e.logger.Error("restore: creating record",
			slog.String("name", f.Name),
			slog.String("error", err.Error()))

		return
	}

	report.Succeeded++
}

// PreviewMigrate estimates a migration without transferring anything.
func (e *Engine) PreviewMigrate(ctx context.Context, opts MigrateOptions) (*Preview, error) {
	source, err := e.driveFor(ctx, opts.SourceCredentialID)
	if err != nil {
		return nil, fmt.Errorf("preview: source gateway: %w", err)
	}

	records, err := e.sourceRecords(ctx, source, opts)
	if err != nil {
		return nil, err
	}

	p := &Preview{}

	for _, a := range records {
		if opts.Limit > 0 && p.Count >= int64(opts.Limit) {
			break
		}

		p.Count++
		p.TotalSize += a.RemoteSize

		if len(p.SampleNames) < previewSamples {
			p.SampleNames = append(p.SampleNames, a.Name)
		}
	}

	return p, nil
}

// PreviewRestore estimates a restore without transferring anything.
func (e *Engine) PreviewRestore(ctx context.Context, opts RestoreOptions) (*Preview, error) {
	drv, err := e.driveFor(ctx, opts.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("preview: gateway: %w", err)
	}

	files, err := drv.ListFolder(ctx, opts.FolderID, opts.Recursive)
	if err != nil {
		return nil, fmt.Errorf("preview: listing folder: %w", err)
	}

	p := &Preview{}

	for _, f := range files {
		if f.IsFolder() {
			continue
		}

		p.Count++
		p.TotalSize += f.Size

		if len(p.SampleNames) < previewSamples {
			p.SampleNames = append(p.SampleNames, f.Name)
		}
	}

	return p, nil
}
