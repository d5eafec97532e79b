package store

import (
	"strings"
	"time"
)

// Attachment sync statuses.
const (
	StatusLocal   = "local"
	StatusPending = "pending"
	StatusSynced  = "synced"
	StatusError   = "error"
)

// Sync session types.
const (
	SessionManual        = "manual"
	SessionAutomatic     = "automatic"
	SessionCompleteBatch = "complete_batch"
)

// Sync session statuses.
const (
	SessionInProgress = "in_progress"
	SessionCompleted  = "completed"
	SessionSuccess    = "success"
	SessionPartial    = "partial"
	SessionError      = "error"
)

// Model rule kinds. An attachment rule enumerates stored attachments;
// an image-field rule derives one candidate per record from an inline
// binary field.
const (
	KindAttachment = "attachment"
	KindImageField = "image_field"
)

// Outcome statuses for individual file attempts.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Attachment is the unit of sync: one binary payload owned by a host
// record. Payload is nil once synced with delete_local_after_sync.
type Attachment struct {
	ID          int64
	Name        string
	ResModel    string // owning entity model, e.g. "account.move"
	ResID       int64
	ResField    string // non-empty for inline image fields
	DisplayName string
	MimeType    string
	Payload     []byte
	Size        int64
	URL         string

	SyncStatus   string
	RemoteID     string
	RemoteURL    string
	RemoteMD5    string
	RemoteSize   int64
	CredentialID int64 // account holding the remote copy, 0 when local
	SyncedAt     time.Time
	LastAccessed time.Time
}

// SyncConfig selects a credential, per-model rules, file-type rules,
// and behavior flags. At most one config is active at a time.
type SyncConfig struct {
	ID           int64
	Name         string
	CredentialID int64
	IsActive     bool
	AutoSync     bool

	DeleteLocalAfterSync  bool
	ReplaceLocalWithCloud bool
	RootFolderName        string
	PublicBaseURL         string

	ModelRules    []ModelRule
	FileTypeRules []FileTypeRule
}

// ModelRule maps one host model to a remote folder.
type ModelRule struct {
	ID         int64
	ConfigID   int64
	Model      string
	Kind       string // KindAttachment or KindImageField
	Field      string // attachment field or image field name
	FolderName string
	IsActive   bool
}

// FileTypeRule allows one extension up to a size cap.
type FileTypeRule struct {
	ID        int64
	ConfigID  int64
	Extension string
	MaxSizeMB float64
	IsActive  bool
}

// ActiveExtensions returns the lowercase extensions of all active
// file-type rules. Rules are matched case-insensitively regardless of
// how the extension was stored.
func (c *SyncConfig) ActiveExtensions() []string {
	var exts []string

	for _, r := range c.FileTypeRules {
		if r.IsActive {
			exts = append(exts, strings.ToLower(r.Extension))
		}
	}

	return exts
}

// Session records one run of the batch upload pipeline.
type Session struct {
	ID       string // uuid
	ConfigID int64
	Type     string
	Status   string

	StartedAt  time.Time
	EndedAt    time.Time
	LastUpdate time.Time

	TotalProcessed int64
	TotalSuccess   int64
	TotalErrors    int64
}

// Outcome is one attempted file within a session.
type Outcome struct {
	ID        int64
	SessionID string
	Model     string
	RecordID  int64
	FileName  string
	Status    string
	RemoteID  string
	RemoteURL string
	ErrorMsg  string
	SizeBytes int64
	CreatedAt time.Time
}

// AccessEntry is one row of write-only retrieval telemetry.
type AccessEntry struct {
	AttachmentID int64
	AccessedAt   time.Time
	BytesServed  int64
	CacheHit     bool
	HTTPStatus   int
	DurationMS   int64
	RangeHeader  string
	UserAgent    string
	RemoteAddr   string
}
