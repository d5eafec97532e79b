// Package discovery enumerates sync candidates for a configuration.
// Each model rule contributes a domain: attachment rules select stored
// attachments whose extension is allowed, image-field rules derive one
// JPEG candidate per record from an inline binary field. Rule kinds
// dispatch through a closed strategy registry.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/Jmendoza-user/drivesync/internal/store"
)

// MaxCandidateSize caps eligible payloads at 100 MiB. Larger records
// are out of domain entirely, so repeated passes do not churn error
// outcomes for files that can never upload.
const MaxCandidateSize = 100 << 20

// Candidate is one file eligible for upload. UploadName is the name
// the remote copy gets; for image fields it is derived from the owning
// record, for attachments it is the stored name.
type Candidate struct {
	Attachment *store.Attachment
	Rule       store.ModelRule
	UploadName string
	MimeType   string
}

// Strategy resolves one rule kind's domain. Count sizes the pending
// backlog; Enumerate pages through it in ID order.
type Strategy interface {
	Count(ctx context.Context, cfg *store.SyncConfig, rule store.ModelRule) (int64, error)
	Enumerate(ctx context.Context, cfg *store.SyncConfig, rule store.ModelRule, limit int, afterID int64) ([]Candidate, error)
}

// Finder dispatches candidate queries to per-kind strategies.
type Finder struct {
	strategies map[string]Strategy
	logger     *slog.Logger
}

// NewFinder returns a Finder over the given store with the built-in
// strategies registered.
func NewFinder(s *store.Store, logger *slog.Logger) *Finder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Finder{
		strategies: map[string]Strategy{
			store.KindAttachment: &attachmentStrategy{store: s},
			store.KindImageField: &imageFieldStrategy{store: s},
		},
		logger: logger,
	}
}

func (f *Finder) strategy(rule store.ModelRule) (Strategy, error) {
	st, ok := f.strategies[rule.Kind]
	if !ok {
		return nil, fmt.Errorf("discovery: unknown rule kind %q for model %s", rule.Kind, rule.Model)
	}

	return st, nil
}

// Count returns the number of pending candidates per active model rule,
// keyed by rule ID.
func (f *Finder) Count(ctx context.Context, cfg *store.SyncConfig) (map[int64]int64, error) {
	counts := make(map[int64]int64)

	for _, rule := range cfg.ModelRules {
		if !rule.IsActive {
			continue
		}

		st, err := f.strategy(rule)
		if err != nil {
			return nil, err
		}

		n, err := st.Count(ctx, cfg, rule)
		if err != nil {
			return nil, err
		}

		counts[rule.ID] = n
	}

	return counts, nil
}

// Total sums Count across all active rules.
func (f *Finder) Total(ctx context.Context, cfg *store.SyncConfig) (int64, error) {
	counts, err := f.Count(ctx, cfg)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, n := range counts {
		total += n
	}

	return total, nil
}

// Batch returns up to limit candidates for one rule, ordered by ID,
// starting after afterID. Callers page through a domain by passing the
// last candidate's attachment ID back in.
func (f *Finder) Batch(ctx context.Context, cfg *store.SyncConfig, rule store.ModelRule, limit int, afterID int64) ([]Candidate, error) {
	if !rule.IsActive {
		return nil, nil
	}

	st, err := f.strategy(rule)
	if err != nil {
		return nil, err
	}

	out, err := st.Enumerate(ctx, cfg, rule, limit, afterID)
	if err != nil {
		return nil, err
	}

	f.logger.Debug("discovered candidates",
		slog.String("model", rule.Model),
		slog.String("kind", rule.Kind),
		slog.Int("count", len(out)))

	return out, nil
}

const candidateColumns = `id, name, res_model, res_id, res_field,
	display_name, mime_type, payload, size, url, sync_status,
	remote_id, remote_url, remote_md5, remote_size,
	credential_id, synced_at, last_accessed_at`

const pendingPredicate = `res_model = ? AND sync_status IN ('local', 'error')
	AND payload IS NOT NULL AND size > 0 AND size <= ?`

// attachmentStrategy selects stored attachments carrying an allowed
// extension in their name.
type attachmentStrategy struct {
	store *store.Store
}

func (st *attachmentStrategy) domain(cfg *store.SyncConfig, rule store.ModelRule) (string, []any) {
	exts := cfg.ActiveExtensions()
	if len(exts) == 0 {
		return "", nil
	}

	var b strings.Builder

	b.WriteString(pendingPredicate)
	b.WriteString(" AND res_field = '' AND name LIKE '%.%' AND (")

	args := []any{rule.Model, int64(MaxCandidateSize)}

	for i, ext := range exts {
		if i > 0 {
			b.WriteString(" OR ")
		}

		b.WriteString("lower(name) LIKE ?")
		args = append(args, "%."+strings.ToLower(ext))
	}

	b.WriteString(")")

	return b.String(), args
}

func (st *attachmentStrategy) Count(ctx context.Context, cfg *store.SyncConfig, rule store.ModelRule) (int64, error) {
	where, args := st.domain(cfg, rule)
	if where == "" {
		return 0, nil
	}

	return countWhere(ctx, st.store, rule, where, args)
}

func (st *attachmentStrategy) Enumerate(ctx context.Context, cfg *store.SyncConfig, rule store.ModelRule, limit int, afterID int64) ([]Candidate, error) {
	where, args := st.domain(cfg, rule)
	if where == "" {
		return nil, nil
	}

	return enumerateWhere(ctx, st.store, rule, where, args, limit, afterID,
		func(a *store.Attachment) Candidate {
			return Candidate{
				Attachment: a,
				Rule:       rule,
				UploadName: SanitizeName(a.Name),
				MimeType:   a.MimeType,
			}
		})
}

// imageFieldStrategy derives one JPEG candidate per record holding the
// rule's inline image field. Derived names are JPEGs, so the strategy
// is inert unless jpg is an allowed extension.
type imageFieldStrategy struct {
	store *store.Store
}

func (st *imageFieldStrategy) domain(cfg *store.SyncConfig, rule store.ModelRule) (string, []any) {
	if !extensionAllowed(cfg, "jpg") {
		return "", nil
	}

	return pendingPredicate + " AND res_field = ?", []any{rule.Model, int64(MaxCandidateSize), rule.Field}
}

func (st *imageFieldStrategy) Count(ctx context.Context, cfg *store.SyncConfig, rule store.ModelRule) (int64, error) {
	where, args := st.domain(cfg, rule)
	if where == "" {
		return 0, nil
	}

	return countWhere(ctx, st.store, rule, where, args)
}

func (st *imageFieldStrategy) Enumerate(ctx context.Context, cfg *store.SyncConfig, rule store.ModelRule, limit int, afterID int64) ([]Candidate, error) {
	where, args := st.domain(cfg, rule)
	if where == "" {
		return nil, nil
	}

	return enumerateWhere(ctx, st.store, rule, where, args, limit, afterID,
		func(a *store.Attachment) Candidate {
			base := a.DisplayName
			if base == "" {
				base = fmt.Sprintf("%s_%d", rule.Model, a.ResID)
			}

			return Candidate{
				Attachment: a,
				Rule:       rule,
				UploadName: SanitizeName(base + "_" + rule.Field + ".jpg"),
				MimeType:   "image/jpeg",
			}
		})
}

func countWhere(ctx context.Context, s *store.Store, rule store.ModelRule, where string, args []any) (int64, error) {
	var n int64

	query := "SELECT COUNT(*) FROM attachments WHERE " + where
	if err := s.DB().QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("discovery: count for %s: %w", rule.Model, err)
	}

	return n, nil
}

func enumerateWhere(ctx context.Context, s *store.Store, rule store.ModelRule, where string, args []any, limit int, afterID int64, build func(*store.Attachment) Candidate) ([]Candidate, error) {
	query := "SELECT " + candidateColumns + " FROM attachments WHERE " + where +
		" AND id > ? ORDER BY id LIMIT ?"
	args = append(args, afterID, limit)

	rows, err := s.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("discovery: batch for %s: %w", rule.Model, err)
	}
	defer rows.Close()

	var out []Candidate

	for rows.Next() {
		var (
			a                  store.Attachment
			syncedAt, accessed int64
		)

		if err := rows.Scan(&a.ID, &a.Name, &a.ResModel, &a.ResID,
			&a.ResField, &a.DisplayName, &a.MimeType, &a.Payload,
			&a.Size, &a.URL, &a.SyncStatus, &a.RemoteID, &a.RemoteURL,
			&a.RemoteMD5, &a.RemoteSize, &a.CredentialID,
			&syncedAt, &accessed); err != nil {
			return nil, fmt.Errorf("discovery: scan candidate: %w", err)
		}

		out = append(out, build(&a))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("discovery: batch for %s: %w", rule.Model, err)
	}

	return out, nil
}

func extensionAllowed(cfg *store.SyncConfig, ext string) bool {
	for _, e := range cfg.ActiveExtensions() {
		if strings.EqualFold(e, ext) {
			return true
		}
	}

	return false
}

// SanitizeName normalizes a file name to NFC and strips characters the
// remote drive rejects in names.
func SanitizeName(name string) string {
	name = norm.NFC.String(name)

	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '\x00':
			return '_'
		default:
			return r
		}
	}, name)
}

// Extension returns the lowercase extension of a name without the dot,
// or "" when the name has none.
func Extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return ""
	}

	return strings.ToLower(name[i+1:])
}
