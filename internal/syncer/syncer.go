// Package syncer drives attachment uploads: it pairs the discovery
// engine with a drive gateway and moves records through the
// local → pending → synced/error lifecycle, one session at a time.
package syncer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Jmendoza-user/drivesync/internal/discovery"
	"github.com/Jmendoza-user/drivesync/internal/drive"
	"github.com/Jmendoza-user/drivesync/internal/store"
)

// MaxFileSize is the upload ceiling. Discovery keeps larger records
// out of batch domains; this guard covers direct single-record
// triggers, which reject without contacting the remote.
const MaxFileSize = discovery.MaxCandidateSize

const (
	// DefaultBatchSize is the discovery page size per commit point.
	DefaultBatchSize = 50

	// DefaultAutoCap bounds the per-model file count of one scheduled
	// run so the scheduler slot stays predictable.
	DefaultAutoCap = 500

	// interBatchPause spaces batches out to stay under provider
	// rate limits.
	interBatchPause = 100 * time.Millisecond
)

// Drive is the remote surface the orchestrator needs. *drive.Gateway
// implements it.
type Drive interface {
	EnsureFolder(ctx context.Context, name, parentID string) (string, error)
	Upload(ctx context.Context, content []byte, name, folderID string) (*drive.File, error)
	GetMetadata(ctx context.Context, fileID, fields string) (*drive.File, error)
}

// DriveFactory builds a gateway for one credential. Each configuration
// may point at a different account.
type DriveFactory func(ctx context.Context, credentialID int64) (Drive, error)

// Summary reports one sync pass for interactive callers.
type Summary struct {
	Total     int64
	Succeeded int64
	Failed    int64
}

// Orchestrator runs sync sessions against the entity store.
type Orchestrator struct {
	store     *store.Store
	finder    *discovery.Finder
	driveFor  DriveFactory
	logger    *slog.Logger
	batchSize int
	autoCap   int
	sleepFunc func(ctx context.Context, d time.Duration) error

	// folderIDs caches resolved folder IDs for the current process,
	// keyed by credential and folder path.
	folderIDs map[string]string
}

// New returns an Orchestrator with default batch sizing.
func New(s *store.Store, finder *discovery.Finder, driveFor DriveFactory, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		store:     s,
		finder:    finder,
		driveFor:  driveFor,
		logger:    logger,
		batchSize: DefaultBatchSize,
		autoCap:   DefaultAutoCap,
		sleepFunc: sleepContext,
		folderIDs: make(map[string]string),
	}
}

// SetLimits overrides the default batch size and automatic-sync cap.
// Zero values keep the current setting.
func (o *Orchestrator) SetLimits(batchSize, autoCap int) {
	if batchSize > 0 {
		o.batchSize = batchSize
	}

	if autoCap > 0 {
		o.autoCap = autoCap
	}
}

// ManualSync runs one pass over the active configuration and returns a
// summary for the caller's notification.
func (o *Orchestrator) ManualSync(ctx context.Context) (*Summary, error) {
	cfg, err := o.store.ActiveConfig(ctx)
	if err != nil {
		return nil, err
	}

	return o.runConfig(ctx, cfg, store.SessionManual, o.batchSize, 0)
}

// AutomaticSync is the scheduled trigger. It iterates every active
// auto-sync configuration, capping per-model work, and never fails the
// run because one configuration's credential is unauthorized.
func (o *Orchestrator) AutomaticSync(ctx context.Context) error {
	configs, err := o.store.AutoSyncConfigs(ctx)
	if err != nil {
		return err
	}

	for _, cfg := range configs {
		summary, err := o.runConfig(ctx, cfg, store.SessionAutomatic, o.batchSize, int64(o.autoCap))
		if err != nil {
			if ctx.Err() != nil {
				return err
			}

			o.logger.Warn("skipping configuration",
				slog.Int64("config", cfg.ID),
				slog.String("error", err.Error()))

			continue
		}

		o.logger.Info("automatic sync pass done",
			slog.Int64("config", cfg.ID),
			slog.Int64("total", summary.Total),
			slog.Int64("succeeded", summary.Succeeded),
			slog.Int64("failed", summary.Failed))
	}

	return nil
}

// CompleteSync drains the active configuration's backlog under a
// resumable session: if an in-progress session exists it is continued,
// so repeated invocations make forward progress without duplicating
// work. batchSize <= 0 selects the default.
func (o *Orchestrator) CompleteSync(ctx context.Context, batchSize int) (*Summary, error) {
	if batchSize <= 0 {
		batchSize = o.batchSize
	}

	cfg, err := o.store.ActiveConfig(ctx)
	if err != nil {
		return nil, err
	}

	return o.runConfig(ctx, cfg, store.SessionCompleteBatch, batchSize, 0)
}

// runConfig executes one session over cfg. perModelCap of 0 means
// unbounded. Configuration and auth faults finalize the session as
// error; per-file faults only produce error outcomes.
func (o *Orchestrator) runConfig(ctx context.Context, cfg *store.SyncConfig, syncType string, batchSize int, perModelCap int64) (*Summary, error) {
	sess, resumed, err := o.store.ResumeOrCreateSession(ctx, cfg.ID, syncType)
	if err != nil {
		return nil, err
	}

	drv, err := o.driveFor(ctx, cfg.CredentialID)
	if err != nil {
		o.finalize(ctx, sess.ID, store.SessionError)
		return nil, fmt.Errorf("syncer: gateway for credential %d: %w", cfg.CredentialID, err)
	}

	backlog, err := o.finder.Total(ctx, cfg)
	if err != nil {
		o.finalize(ctx, sess.ID, store.SessionError)
		return nil, err
	}

	o.logger.Info("sync session started",
		slog.String("session", sess.ID),
		slog.String("type", syncType),
		slog.Int64("config", cfg.ID),
		slog.Int64("backlog", backlog),
		slog.Bool("resumed", resumed))

	var summary Summary

	for _, rule := range cfg.ModelRules {
		if !rule.IsActive {
			continue
		}

		if err := o.runRule(ctx, drv, cfg, rule, sess.ID, batchSize, perModelCap, &summary); err != nil {
			status := store.SessionError
			if ctx.Err() != nil {
				// Interrupted, not failed: leave in progress so the
				// next invocation resumes it.
				return &summary, err
			}

			o.finalize(ctx, sess.ID, status)

			return &summary, err
		}
	}

	o.finalize(ctx, sess.ID, finalStatus(syncType, &summary))

	o.logger.Info("sync session finished",
		slog.String("session", sess.ID),
		slog.Int64("total", summary.Total),
		slog.Int64("succeeded", summary.Succeeded),
		slog.Int64("failed", summary.Failed))

	return &summary, nil
}

func finalStatus(syncType string, s *Summary) string {
	if syncType == store.SessionCompleteBatch {
		return store.SessionCompleted
	}

	switch {
	case s.Failed == 0:
		return store.SessionSuccess
	case s.Succeeded == 0 && s.Failed > 0:
		return store.SessionError
	default:
		return store.SessionPartial
	}
}

func (o *Orchestrator) finalize(ctx context.Context, sessionID, status string) {
	if err := o.store.FinalizeSession(ctx, sessionID, status); err != nil {
		o.logger.Error("finalizing session",
			slog.String("session", sessionID),
			slog.String("error", err.Error()))
	}
}

// runRule pages through one rule's backlog. Each batch ends with a
// durable progress commit, so a killed process loses at most the
// uncommitted batch.
func (o *Orchestrator) runRule(ctx context.Context, drv Drive, cfg *store.SyncConfig, rule store.ModelRule, sessionID string, batchSize int, perModelCap int64, summary *Summary) error {
	var (
		afterID   int64
		processed int64
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		limit := batchSize
		if perModelCap > 0 && perModelCap-processed < int64(limit) {
			limit = int(perModelCap - processed)
		}

		if limit <= 0 {
			return nil
		}

		batch, err := o.finder.Batch(ctx, cfg, rule, limit, afterID)
		if err != nil {
			return err
		}

		if len(batch) == 0 {
			return nil
		}

		var succeeded, failed int64

		for _, cand := range batch {
			outcome := o.syncOne(ctx, drv, cfg, cand)
			outcome.SessionID = sessionID

			if err := o.store.AddOutcome(ctx, outcome); err != nil {
				return err
			}

			if outcome.Status == store.OutcomeSuccess {
				succeeded++
			} else {
				failed++
			}

			afterID = cand.Attachment.ID
		}

		processed += int64(len(batch))
		summary.Total += int64(len(batch))
		summary.Succeeded += succeeded
		summary.Failed += failed

		if err := o.store.AddSessionProgress(ctx, sessionID, int64(len(batch)), succeeded, failed); err != nil {
			return err
		}

		if len(batch) < limit {
			return nil
		}

		if err := o.sleepFunc(ctx, interBatchPause); err != nil {
			return err
		}
	}
}

// syncOne attempts one candidate. It always returns exactly one
// outcome and never panics past this boundary.
func (o *Orchestrator) syncOne(ctx context.Context, drv Drive, cfg *store.SyncConfig, cand discovery.Candidate) (outcome *store.Outcome) {
	a := cand.Attachment

	outcome = &store.Outcome{
		Model:     a.ResModel,
		RecordID:  a.ResID,
		FileName:  cand.UploadName,
		SizeBytes: a.Size,
		Status:    store.OutcomeError,
	}

	defer func() {
		if r := recover(); r != nil {
			outcome.Status = store.OutcomeError
			outcome.ErrorMsg = fmt.Sprintf("panic: %v", r)
			o.logger.Error("sync attempt panicked",
				slog.Int64("attachment", a.ID),
				slog.Any("panic", r))
			o.markError(ctx, a.ID)
		}
	}()

	if a.Size > MaxFileSize {
		outcome.ErrorMsg = fmt.Sprintf("file exceeds maximum size: %d bytes", a.Size)
		o.markError(ctx, a.ID)

		return outcome
	}

	if len(a.Payload) == 0 {
		outcome.ErrorMsg = "empty or undecodable payload"
		o.markError(ctx, a.ID)

		return outcome
	}

	folderID, err := o.resolveFolder(ctx, drv, cfg, cand.Rule)
	if err != nil {
		outcome.ErrorMsg = fmt.Sprintf("resolving folder: %v", err)
		o.markError(ctx, a.ID)

		return outcome
	}

	remote, err := drv.Upload(ctx, a.Payload, cand.UploadName, folderID)
	if err != nil {
		outcome.ErrorMsg = fmt.Sprintf("upload: %v", err)
		o.markError(ctx, a.ID)

		return outcome
	}

	a.RemoteID = remote.ID
	a.RemoteURL = remote.ViewURL
	a.RemoteMD5 = remote.MD5
	a.RemoteSize = remote.Size
	a.CredentialID = cfg.CredentialID

	if cfg.ReplaceLocalWithCloud && cfg.PublicBaseURL != "" {
		a.URL = strings.TrimSuffix(cfg.PublicBaseURL, "/") + "/files/" + remote.ID
	}

	if err := o.store.MarkSynced(ctx, a); err != nil {
		outcome.ErrorMsg = fmt.Sprintf("recording sync: %v", err)

		return outcome
	}

	outcome.Status = store.OutcomeSuccess
	outcome.RemoteID = remote.ID
	outcome.RemoteURL = remote.ViewURL

	if cfg.DeleteLocalAfterSync {
		o.maybeClearPayload(ctx, a, remote, outcome)
	}

	o.logger.Debug("attachment synced",
		slog.Int64("attachment", a.ID),
		slog.String("remote", remote.ID),
		slog.String("name", cand.UploadName))

	return outcome
}

// maybeClearPayload drops the local binary only when the remote copy
// is verifiably identical. MD5 is the primary evidence, size the
// fallback; no evidence at all keeps the payload.
func (o *Orchestrator) maybeClearPayload(ctx context.Context, a *store.Attachment, remote *drive.File, outcome *store.Outcome) {
	switch {
	case remote.MD5 != "":
		sum := md5.Sum(a.Payload)
		if hex.EncodeToString(sum[:]) != remote.MD5 {
			outcome.Status = store.OutcomeError
			outcome.ErrorMsg = "checksum mismatch after upload, local payload kept"
			o.markError(ctx, a.ID)

			return
		}

	case remote.Size > 0:
		if remote.Size != int64(len(a.Payload)) {
			outcome.Status = store.OutcomeError
			outcome.ErrorMsg = "size mismatch after upload, local payload kept"
			o.markError(ctx, a.ID)

			return
		}

	default:
		// Remote reported neither checksum nor size. Deleting on no
		// evidence risks losing the only good copy.
		o.logger.Warn("no integrity evidence from remote, keeping local payload",
			slog.Int64("attachment", a.ID),
			slog.String("remote", remote.ID))

		return
	}

	if err := o.store.ClearPayload(ctx, a.ID); err != nil {
		o.logger.Warn("clearing payload",
			slog.Int64("attachment", a.ID),
			slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) markError(ctx context.Context, id int64) {
	if err := o.store.MarkError(ctx, id); err != nil {
		o.logger.Error("marking attachment error",
			slog.Int64("attachment", id),
			slog.String("error", err.Error()))
	}
}

// resolveFolder returns the remote folder for a rule, creating the
// configured root and the rule folder as needed. Resolutions are
// cached for the life of the process.
func (o *Orchestrator) resolveFolder(ctx context.Context, drv Drive, cfg *store.SyncConfig, rule store.ModelRule) (string, error) {
	folderName := rule.FolderName
	if folderName == "" {
		folderName = rule.Model
	}

	key := fmt.Sprintf("%d/%s/%s", cfg.CredentialID, cfg.RootFolderName, folderName)
	if id, ok := o.folderIDs[key]; ok {
		return id, nil
	}

	parentID := ""

	if cfg.RootFolderName != "" {
		rootID, err := drv.EnsureFolder(ctx, cfg.RootFolderName, "")
		if err != nil {
			return "", err
		}

		parentID = rootID
	}

	folderID, err := drv.EnsureFolder(ctx, folderName, parentID)
	if err != nil {
		return "", err
	}

	o.folderIDs[key] = folderID

	return folderID, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
