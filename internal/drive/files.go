package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/Jmendoza-user/drivesync/internal/backoff"
)

// RemoveMode selects between recoverable trash and permanent delete.
type RemoveMode string

const (
	RemoveTrash  RemoveMode = "trash"
	RemoveDelete RemoveMode = "delete"
)

// Upload creates a file with the given content, optionally parented
// under folderID, and grants anyone-with-link read access so view
// links work for host users without provider accounts.
func (g *Gateway) Upload(ctx context.Context, content []byte, name, folderID string) (*File, error) {
	g.logger.Info("uploading file",
		slog.String("name", name),
		slog.Int("size", len(content)),
		slog.String("folder_id", folderID),
	)

	meta := createFileRequest{Name: name}
	if folderID != "" {
		meta.Parents = []string{folderID}
	}

	body, contentType, err := multipartBody(meta, content)
	if err != nil {
		return nil, err
	}

	uploadURL := g.uploadURL + "/files?uploadType=multipart&fields=" + url.QueryEscape(fileFields)

	file, err := backoff.Do(ctx, g.exec, "upload "+name, func() (*File, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(body))
		if reqErr != nil {
			return nil, fmt.Errorf("drive: creating upload request: %w", reqErr)
		}

		req.Header.Set("Content-Type", contentType)

		resp, doErr := g.do(ctx, req)
		if doErr != nil {
			return nil, doErr
		}
		defer resp.Body.Close()

		var res fileResource
		if decErr := json.NewDecoder(resp.Body).Decode(&res); decErr != nil {
			return nil, fmt.Errorf("drive: decoding upload response: %w", decErr)
		}

		f := res.toFile()

		return &f, nil
	})
	if err != nil {
		return nil, err
	}

	permURL := fmt.Sprintf("%s/files/%s/permissions", g.baseURL, url.PathEscape(file.ID))
	err = g.exec.Execute(ctx, "share "+name, func() error {
		return g.postJSON(ctx, http.MethodPost, permURL, permissionRequest{Role: "reader", Type: "anyone"}, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("drive: sharing uploaded file: %w", err)
	}

	g.logger.Debug("upload complete",
		slog.String("name", name),
		slog.String("file_id", file.ID),
		slog.String("md5", file.MD5),
	)

	return file, nil
}

// multipartBody builds a multipart/related body with a JSON metadata
// part followed by the raw content part.
func multipartBody(meta createFileRequest, content []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")

	metaPart, err := w.CreatePart(metaHeader)
	if err != nil {
		return nil, "", fmt.Errorf("drive: creating metadata part: %w", err)
	}

	if err := json.NewEncoder(metaPart).Encode(meta); err != nil {
		return nil, "", fmt.Errorf("drive: encoding metadata part: %w", err)
	}

	contentHeader := textproto.MIMEHeader{}
	contentHeader.Set("Content-Type", "application/octet-stream")

	contentPart, err := w.CreatePart(contentHeader)
	if err != nil {
		return nil, "", fmt.Errorf("drive: creating content part: %w", err)
	}

	if _, err := contentPart.Write(content); err != nil {
		return nil, "", fmt.Errorf("drive: writing content part: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("drive: finalizing multipart body: %w", err)
	}

	return buf.Bytes(), "multipart/related; boundary=" + w.Boundary(), nil
}

// Download streams the full file content to w and returns the number
// of bytes written.
func (g *Gateway) Download(ctx context.Context, fileID string, w io.Writer) (int64, error) {
	g.logger.Info("downloading file", slog.String("file_id", fileID))

	mediaURL := fmt.Sprintf("%s/files/%s?alt=media", g.baseURL, url.PathEscape(fileID))

	return backoff.Do(ctx, g.exec, "download "+fileID, func() (int64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, http.NoBody)
		if err != nil {
			return 0, fmt.Errorf("drive: creating download request: %w", err)
		}

		resp, err := g.do(ctx, req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		n, copyErr := io.Copy(w, resp.Body)
		if copyErr != nil {
			return n, fmt.Errorf("drive: streaming download content: %w", copyErr)
		}

		return n, nil
	})
}

// DownloadRange performs a raw ranged GET and returns the provider's
// status, Content-Range, and body verbatim. The caller decides whether
// partial-content semantics were honored (200 vs 206).
func (g *Gateway) DownloadRange(ctx context.Context, fileID, rangeHeader string) (*RangeResult, error) {
	mediaURL := fmt.Sprintf("%s/files/%s?alt=media", g.baseURL, url.PathEscape(fileID))

	return backoff.Do(ctx, g.exec, "range download "+fileID, func() (*RangeResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("drive: creating range request: %w", err)
		}

		if rangeHeader != "" {
			req.Header.Set("Range", rangeHeader)
		}

		resp, err := g.do(ctx, req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("drive: reading range response: %w", readErr)
		}

		return &RangeResult{
			StatusCode:   resp.StatusCode,
			ContentRange: resp.Header.Get("Content-Range"),
			ContentType:  resp.Header.Get("Content-Type"),
			Body:         body,
		}, nil
	})
}

// GetMetadata fetches metadata for a file. Returns (nil, nil) when the
// file does not exist — distinct from network or auth errors, which
// are returned as errors.
func (g *Gateway) GetMetadata(ctx context.Context, fileID, fields string) (*File, error) {
	if fields == "" {
		fields = fileFields
	}

	metaURL := fmt.Sprintf("%s/files/%s?fields=%s", g.baseURL, url.PathEscape(fileID), url.QueryEscape(fields))

	file, err := backoff.Do(ctx, g.exec, "metadata "+fileID, func() (*File, error) {
		var res fileResource
		if getErr := g.getJSON(ctx, metaURL, &res); getErr != nil {
			return nil, getErr
		}

		f := res.toFile()

		return &f, nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, err
	}

	return file, nil
}

// ListFolder returns the non-trashed children of folderID, descending
// breadth-first into subfolders when recursive. Pagination is handled
// internally.
func (g *Gateway) ListFolder(ctx context.Context, folderID string, recursive bool) ([]File, error) {
	var out []File

	queue := []string{folderID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		children, err := g.listChildren(ctx, current)
		if err != nil {
			return nil, err
		}

		for _, child := range children {
			if child.IsFolder() {
				if recursive {
					queue = append(queue, child.ID)
				}

				continue
			}

			out = append(out, child)
		}
	}

	g.logger.Debug("folder listing complete",
		slog.String("folder_id", folderID),
		slog.Bool("recursive", recursive),
		slog.Int("files", len(out)),
	)

	return out, nil
}

// listChildren returns one folder's direct non-trashed children across
// all pages.
func (g *Gateway) listChildren(ctx context.Context, folderID string) ([]File, error) {
	var (
		out       []File
		pageToken string
	)

	for {
		q := fmt.Sprintf("'%s' in parents and trashed=false", folderID)
		listURL := fmt.Sprintf("%s/files?q=%s&pageSize=%d&fields=%s",
			g.baseURL, url.QueryEscape(q), listPageSize,
			url.QueryEscape("nextPageToken,files("+fileFields+")"))

		if pageToken != "" {
			listURL += "&pageToken=" + url.QueryEscape(pageToken)
		}

		page, err := backoff.Do(ctx, g.exec, "list "+folderID, func() (*fileListResponse, error) {
			var res fileListResponse
			if getErr := g.getJSON(ctx, listURL, &res); getErr != nil {
				return nil, getErr
			}

			return &res, nil
		})
		if err != nil {
			return nil, err
		}

		for i := range page.Files {
			out = append(out, page.Files[i].toFile())
		}

		if page.NextPageToken == "" {
			return out, nil
		}

		pageToken = page.NextPageToken
	}
}

// EnsureFolder returns the ID of a non-trashed folder with the given
// name, creating it when absent. Scoped to parentID when given —
// repeated calls are idempotent.
func (g *Gateway) EnsureFolder(ctx context.Context, name, parentID string) (string, error) {
	q := fmt.Sprintf("name='%s' and mimeType='%s' and trashed=false",
		strings.ReplaceAll(name, "'", `\'`), FolderMimeType)
	if parentID != "" {
		q += fmt.Sprintf(" and '%s' in parents", parentID)
	}

	searchURL := fmt.Sprintf("%s/files?q=%s&fields=%s",
		g.baseURL, url.QueryEscape(q), url.QueryEscape("files(id,name)"))

	existing, err := backoff.Do(ctx, g.exec, "find folder "+name, func() (*fileListResponse, error) {
		var res fileListResponse
		if getErr := g.getJSON(ctx, searchURL, &res); getErr != nil {
			return nil, getErr
		}

		return &res, nil
	})
	if err != nil {
		return "", err
	}

	if len(existing.Files) > 0 {
		return existing.Files[0].ID, nil
	}

	create := createFileRequest{Name: name, MimeType: FolderMimeType}
	if parentID != "" {
		create.Parents = []string{parentID}
	}

	createURL := g.baseURL + "/files?fields=id"

	folder, err := backoff.Do(ctx, g.exec, "create folder "+name, func() (*fileResource, error) {
		var res fileResource
		if postErr := g.postJSON(ctx, http.MethodPost, createURL, create, &res); postErr != nil {
			return nil, postErr
		}

		return &res, nil
	})
	if err != nil {
		return "", err
	}

	g.logger.Info("created remote folder",
		slog.String("name", name),
		slog.String("folder_id", folder.ID),
	)

	return folder.ID, nil
}

// Remove trashes (recoverable) or permanently deletes a file.
func (g *Gateway) Remove(ctx context.Context, fileID string, mode RemoveMode) error {
	switch mode {
	case RemoveTrash:
		patchURL := fmt.Sprintf("%s/files/%s", g.baseURL, url.PathEscape(fileID))

		return g.exec.Execute(ctx, "trash "+fileID, func() error {
			return g.postJSON(ctx, http.MethodPatch, patchURL, map[string]bool{"trashed": true}, nil)
		})
	case RemoveDelete:
		deleteURL := fmt.Sprintf("%s/files/%s", g.baseURL, url.PathEscape(fileID))

		return g.exec.Execute(ctx, "delete "+fileID, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodDelete, deleteURL, http.NoBody)
			if err != nil {
				return fmt.Errorf("drive: creating delete request: %w", err)
			}

			resp, err := g.do(ctx, req)
			if err != nil {
				return err
			}
			resp.Body.Close()

			return nil
		})
	default:
		return fmt.Errorf("drive: unknown remove mode %q", mode)
	}
}

// About returns the authorized user's email address. Used by the
// status command to confirm connectivity.
func (g *Gateway) About(ctx context.Context) (string, error) {
	aboutURL := g.baseURL + "/about?fields=" + url.QueryEscape("user(displayName,emailAddress)")

	res, err := backoff.Do(ctx, g.exec, "about", func() (*aboutResponse, error) {
		var about aboutResponse
		if getErr := g.getJSON(ctx, aboutURL, &about); getErr != nil {
			return nil, getErr
		}

		return &about, nil
	})
	if err != nil {
		return "", err
	}

	return res.User.EmailAddress, nil
}
