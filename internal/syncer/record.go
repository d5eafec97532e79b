package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Jmendoza-user/drivesync/internal/discovery"
	"github.com/Jmendoza-user/drivesync/internal/store"
)

// ErrNotEligible is returned by SyncRecord for attachments outside the
// active configuration's rules.
var ErrNotEligible = errors.New("syncer: attachment not eligible under active configuration")

// SyncRecord uploads a single attachment on demand, outside the batch
// pipeline. The attachment must be in local or error status and match
// one of the active configuration's rules.
func (o *Orchestrator) SyncRecord(ctx context.Context, id int64) (*store.Outcome, error) {
	cfg, err := o.store.ActiveConfig(ctx)
	if err != nil {
		return nil, err
	}

	a, err := o.store.GetAttachment(ctx, id)
	if err != nil {
		return nil, err
	}

	if a.SyncStatus == store.StatusSynced {
		return nil, fmt.Errorf("syncer: attachment %d already synced", id)
	}

	cand, ok := o.matchRule(cfg, a)
	if !ok {
		return nil, ErrNotEligible
	}

	drv, err := o.driveFor(ctx, cfg.CredentialID)
	if err != nil {
		return nil, fmt.Errorf("syncer: gateway for credential %d: %w", cfg.CredentialID, err)
	}

	sess, _, err := o.store.ResumeOrCreateSession(ctx, cfg.ID, store.SessionManual)
	if err != nil {
		return nil, err
	}

	outcome := o.syncOne(ctx, drv, cfg, cand)
	outcome.SessionID = sess.ID

	if err := o.store.AddOutcome(ctx, outcome); err != nil {
		return nil, err
	}

	var succeeded, failed int64
	if outcome.Status == store.OutcomeSuccess {
		succeeded = 1
	} else {
		failed = 1
	}

	if err := o.store.AddSessionProgress(ctx, sess.ID, 1, succeeded, failed); err != nil {
		return nil, err
	}

	o.finalize(ctx, sess.ID, finalStatus(store.SessionManual, &Summary{
		Total: 1, Succeeded: succeeded, Failed: failed,
	}))

	return outcome, nil
}

// matchRule finds the active rule covering the attachment and builds
// its candidate. Attachment rules additionally require an allowed
// extension.
func (o *Orchestrator) matchRule(cfg *store.SyncConfig, a *store.Attachment) (discovery.Candidate, bool) {
	for _, rule := range cfg.ModelRules {
		if !rule.IsActive || rule.Model != a.ResModel {
			continue
		}

		switch rule.Kind {
		case store.KindImageField:
			if a.ResField != rule.Field {
				continue
			}

			base := a.DisplayName
			if base == "" {
				base = fmt.Sprintf("%s_%d", rule.Model, a.ResID)
			}

			return discovery.Candidate{
				Attachment: a,
				Rule:       rule,
				UploadName: discovery.SanitizeName(base + "_" + rule.Field + ".jpg"),
				MimeType:   "image/jpeg",
			}, true

		default:
			if a.ResField != "" {
				continue
			}

			ext := discovery.Extension(a.Name)
			if ext == "" || !extensionAllowed(cfg, ext) {
				continue
			}

			return discovery.Candidate{
				Attachment: a,
				Rule:       rule,
				UploadName: discovery.SanitizeName(a.Name),
				MimeType:   a.MimeType,
			}, true
		}
	}

	return discovery.Candidate{}, false
}

func extensionAllowed(cfg *store.SyncConfig, ext string) bool {
	for _, e := range cfg.ActiveExtensions() {
		if e == ext {
			return true
		}
	}

	return false
}

// Reconcile re-checks every synced attachment of the active
// configuration against the remote: records whose file is gone or
// trashed flip back to error status so a later sync can re-upload
// them. Returns the number of records flipped.
func (o *Orchestrator) Reconcile(ctx context.Context) (int64, error) {
	cfg, err := o.store.ActiveConfig(ctx)
	if err != nil {
		return 0, err
	}

	drv, err := o.driveFor(ctx, cfg.CredentialID)
	if err != nil {
		return 0, fmt.Errorf("syncer: gateway for credential %d: %w", cfg.CredentialID, err)
	}

	synced, err := o.store.ListSyncedByCredential(ctx, cfg.CredentialID)
	if err != nil {
		return 0, err
	}

	var flipped int64

	for _, a := range synced {
		if err := ctx.Err(); err != nil {
			return flipped, err
		}

		meta, err := drv.GetMetadata(ctx, a.RemoteID, "id,trashed")
		if err != nil {
			o.logger.Warn("reconcile: metadata check failed",
				slog.Int64("attachment", a.ID),
				slog.String("remote", a.RemoteID),
				slog.String("error", err.Error()))

			continue
		}

		if meta != nil && !meta.Trashed {
			continue
		}

		if err := o.store.MarkError(ctx, a.ID); err != nil {
			return flipped, err
		}

		flipped++

		o.logger.Info("reconcile: remote copy gone, record flagged",
			slog.Int64("attachment", a.ID),
			slog.String("remote", a.RemoteID))
	}

	return flipped, nil
}
