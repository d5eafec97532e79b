// Package server exposes the retrieval endpoint and the OAuth
// callback over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Jmendoza-user/drivesync/internal/auth"
	"github.com/Jmendoza-user/drivesync/internal/cache"
	"github.com/Jmendoza-user/drivesync/internal/store"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// ManagerFactory builds an auth manager for one credential, used by
// the OAuth callback to finish authorization flows.
type ManagerFactory func(ctx context.Context, credentialID int64) (*auth.Manager, error)

// Server serves synced file content and the OAuth callback.
type Server struct {
	store      *store.Store
	cache      *cache.DiskCache
	managerFor ManagerFactory
	logger     *slog.Logger
	httpServer *http.Server
}

// New returns a Server bound to addr.
func New(addr string, s *store.Store, c *cache.DiskCache, managerFor ManagerFactory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	srv := &Server{
		store:      s,
		cache:      c,
		managerFor: managerFor,
		logger:     logger,
	}

	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /files/{id}", s.handleFile)
	mux.HandleFunc("GET /oauth/callback", s.handleOAuthCallback)

	return mux
}

// ListenAndServe blocks until the context is canceled or the listener
// fails, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}

	s.logger.Info("http server stopped")

	return nil
}

// handleFile serves one synced attachment by its remote file ID,
// reading through the disk cache. Every request writes exactly one
// access-log row.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	fileID := r.PathValue("id")

	entry := &store.AccessEntry{
		RangeHeader: r.Header.Get("Range"),
		UserAgent:   r.UserAgent(),
		RemoteAddr:  r.RemoteAddr,
	}

	defer func() {
		entry.DurationMS = time.Since(started).Milliseconds()

		if err := s.store.LogAccess(r.Context(), entry); err != nil {
			s.logger.Error("writing access log", slog.String("error", err.Error()))
		}
	}()

	a, err := s.store.GetAttachmentByRemoteID(r.Context(), fileID)
	if err != nil || a.SyncStatus != store.StatusSynced {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("attachment lookup", slog.String("error", err.Error()))
		}

		entry.HTTPStatus = http.StatusNotFound
		http.Error(w, "file not found", http.StatusNotFound)

		return
	}

	entry.AttachmentID = a.ID

	res, err := s.cache.Fetch(r.Context(), fileID, entry.RangeHeader)
	if err != nil {
		s.logger.Warn("fetching file content",
			slog.String("file", fileID),
			slog.String("error", err.Error()))

		entry.HTTPStatus = http.StatusServiceUnavailable
		http.Error(w, "remote fetch failed, retry later", http.StatusServiceUnavailable)

		return
	}
	defer res.Body.Close()

	entry.CacheHit = res.CacheHit
	entry.HTTPStatus = res.Status

	w.Header().Set("Content-Type", contentType(a))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", a.Name))

	if res.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(res.ContentLength, 10))
	}

	if res.Status == http.StatusPartialContent {
		w.Header().Set("Accept-Ranges", "bytes")

		if res.ContentRange != "" {
			w.Header().Set("Content-Range", res.ContentRange)
		}
	}

	w.WriteHeader(res.Status)

	n, err := io.Copy(w, res.Body)
	entry.BytesServed = n

	if err != nil {
		s.logger.Debug("streaming response",
			slog.String("file", fileID),
			slog.String("error", err.Error()))
	}

	if err := s.store.TouchAccess(r.Context(), a.ID, time.Now()); err != nil {
		s.logger.Debug("touching attachment", slog.String("error", err.Error()))
	}
}

func contentType(a *store.Attachment) string {
	if a.MimeType != "" {
		return a.MimeType
	}

	if ct := mime.TypeByExtension(filepath.Ext(a.Name)); ct != "" {
		return ct
	}

	return "application/octet-stream"
}
