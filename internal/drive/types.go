package drive

// FolderMimeType is the provider's marker for folder entries.
const FolderMimeType = "application/vnd.google-apps.folder"

// File is the normalized view of a remote file returned by the gateway.
type File struct {
	ID         string
	Name       string
	MimeType   string
	Size       int64
	MD5        string
	ViewURL    string
	ContentURL string
	Trashed    bool
	Parents    []string
}

// IsFolder reports whether the entry is a folder.
func (f *File) IsFolder() bool { return f.MimeType == FolderMimeType }

// fileResource mirrors the provider's file JSON exactly. Unexported —
// callers use File via toFile() normalization.
type fileResource struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	MimeType       string   `json:"mimeType"`
	Size           int64    `json:"size,string"` // provider serializes int64 as a quoted string
	MD5Checksum    string   `json:"md5Checksum"`
	WebViewLink    string   `json:"webViewLink"`
	WebContentLink string   `json:"webContentLink"`
	Trashed        bool     `json:"trashed"`
	Parents        []string `json:"parents"`
}

type fileListResponse struct {
	Files         []fileResource `json:"files"`
	NextPageToken string         `json:"nextPageToken"`
}

type createFileRequest struct {
	Name     string   `json:"name"`
	MimeType string   `json:"mimeType,omitempty"`
	Parents  []string `json:"parents,omitempty"`
}

type permissionRequest struct {
	Role string `json:"role"`
	Type string `json:"type"`
}

type aboutResponse struct {
	User struct {
		DisplayName  string `json:"displayName"`
		EmailAddress string `json:"emailAddress"`
	} `json:"user"`
}

// RangeResult carries a range-passthrough response verbatim so the
// caller can decide whether partial-content semantics were honored.
type RangeResult struct {
	StatusCode   int
	ContentRange string
	ContentType  string
	Body         []byte
}

// toFile normalizes a provider file resource.
func (r *fileResource) toFile() File {
	return File{
		ID:         r.ID,
		Name:       r.Name,
		MimeType:   r.MimeType,
		Size:       r.Size,
		MD5:        r.MD5Checksum,
		ViewURL:    r.WebViewLink,
		ContentURL: r.WebContentLink,
		Trashed:    r.Trashed,
		Parents:    r.Parents,
	}
}
