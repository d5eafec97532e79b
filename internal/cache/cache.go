// Package cache serves remote file content through a disk-backed
// read-through cache with TTL expiry, byte-range support, and
// oldest-first quota eviction.
package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Jmendoza-user/drivesync/internal/drive"
)

const (
	// DefaultTTL is how long a disk entry stays fresh after its last
	// write or recency touch.
	DefaultTTL = 24 * time.Hour

	// quotaTarget is the fill ratio eviction shrinks to, leaving
	// headroom so eviction does not run on every write.
	quotaTarget = 0.9

	// memEntryLimit keeps oversized payloads out of the memory layer.
	memEntryLimit = 4 << 20
)

// Downloader is the remote side of the cache. *drive.Gateway
// implements it.
type Downloader interface {
	Download(ctx context.Context, fileID string, w io.Writer) (int64, error)
	DownloadRange(ctx context.Context, fileID, rangeHeader string) (*drive.RangeResult, error)
}

// Result is one resolved fetch. Body is never nil on success and must
// be closed by the caller. ContentLength is -1 when unknown
// (range passthrough without a length header).
type Result struct {
	Status        int
	ContentRange  string
	ContentLength int64
	Body          io.ReadCloser
	CacheHit      bool
}

// DiskCache is the read-through cache. All methods are safe for
// sequential use; concurrent readers of distinct entries are fine,
// concurrent writes to one entry race benignly through atomic renames.
type DiskCache struct {
	root       string
	ttl        time.Duration
	quotaBytes int64
	gateway    Downloader
	mem        *MemoryCache
	logger     *slog.Logger
	now        func() time.Time
}

// NewDiskCache returns a cache rooted at dir. mem may be nil to
// disable the in-process layer.
func NewDiskCache(dir string, ttl time.Duration, quotaBytes int64, gw Downloader, mem *MemoryCache, logger *slog.Logger) (*DiskCache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cache: creating root %s: %w", dir, err)
	}

	return &DiskCache{
		root:       dir,
		ttl:        ttl,
		quotaBytes: quotaBytes,
		gateway:    gw,
		mem:        mem,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Fetch resolves fileID, preferring a fresh disk entry, then a remote
// range passthrough for Range requests, then a full remote download
// that populates the cache.
func (c *DiskCache) Fetch(ctx context.Context, fileID, rangeHeader string) (*Result, error) {
	path, err := c.entryPath(fileID)
	if err != nil {
		return nil, err
	}

	if st, err := os.Stat(path); err == nil && c.now().Sub(st.ModTime()) < c.ttl {
		return c.serveDisk(path, fileID, st.Size(), rangeHeader, true)
	}

	if rangeHeader != "" {
		res, err := c.gateway.DownloadRange(ctx, fileID, rangeHeader)
		if err == nil {
			return &Result{
				Status:        res.StatusCode,
				ContentRange:  res.ContentRange,
				ContentLength: int64(len(res.Body)),
				Body:          io.NopCloser(bytes.NewReader(res.Body)),
			}, nil
		}

		c.logger.Debug("range passthrough failed, falling back to full download",
			slog.String("file", fileID),
			slog.String("error", err.Error()))
	}

	if err := c.populate(ctx, fileID, path); err != nil {
		return nil, err
	}

	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cache: stat fresh entry: %w", err)
	}

	return c.serveDisk(path, fileID, st.Size(), rangeHeader, false)
}

// serveDisk serves a disk entry, honoring a valid Range and falling
// back to the full content otherwise. hit distinguishes a pre-existing
// fresh entry from one just populated.
func (c *DiskCache) serveDisk(path, fileID string, size int64, rangeHeader string, hit bool) (*Result, error) {
	if start, end, ok := parseRange(rangeHeader, size); ok {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("cache: open entry: %w", err)
		}

		return &Result{
			Status:        http.StatusPartialContent,
			ContentRange:  fmt.Sprintf("bytes %d-%d/%d", start, end, size),
			ContentLength: end - start + 1,
			Body:          &sectionCloser{SectionReader: io.NewSectionReader(f, start, end-start+1), f: f},
			CacheHit:      hit,
		}, nil
	}

	// Full read refreshes recency so quota eviction removes cold
	// entries first.
	now := c.now()
	if err := os.Chtimes(path, now, now); err != nil {
		c.logger.Debug("touching cache entry", slog.String("error", err.Error()))
	}

	if c.mem != nil {
		if data := c.mem.Get(fileID); data != nil {
			return &Result{
				Status:        http.StatusOK,
				ContentLength: int64(len(data)),
				Body:          io.NopCloser(bytes.NewReader(data)),
				CacheHit:      hit,
			}, nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cache: open entry: %w", err)
	}

	if c.mem != nil && size <= memEntryLimit {
		data, err := io.ReadAll(f)
		f.Close()

		if err != nil {
			return nil, fmt.Errorf("cache: read entry: %w", err)
		}

		c.mem.Put(fileID, data)

		return &Result{
			Status:        http.StatusOK,
			ContentLength: size,
			Body:          io.NopCloser(bytes.NewReader(data)),
			CacheHit:      hit,
		}, nil
	}

	return &Result{
		Status:        http.StatusOK,
		ContentLength: size,
		Body:          f,
		CacheHit:      hit,
	}, nil
}

// populate downloads the full content into the cache atomically:
// temp file in the same directory, then rename over the entry.
func (c *DiskCache) populate(ctx context.Context, fileID, path string) error {
	tmp, err := os.CreateTemp(c.root, ".download-*")
	if err != nil {
		return fmt.Errorf("cache: temp file: %w", err)
	}

	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	n, err := c.gateway.Download(ctx, fileID, tmp)
	if err != nil {
		return fmt.Errorf("cache: download %s: %w", fileID, err)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("cache: sync entry: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: close entry: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("cache: publish entry: %w", err)
	}

	c.logger.Debug("cache entry written",
		slog.String("file", fileID),
		slog.Int64("bytes", n))

	c.EnforceQuota()

	return nil
}

// EnforceQuota deletes oldest-mtime entries until total size is at or
// under 90% of the quota. Best-effort: removal failures are logged and
// skipped. A zero quota disables enforcement.
func (c *DiskCache) EnforceQuota() {
	if c.quotaBytes <= 0 {
		return
	}

	entries, err := os.ReadDir(c.root)
	if err != nil {
		c.logger.Warn("quota: reading cache dir", slog.String("error", err.Error()))
		return
	}

	type entry struct {
		path  string
		size  int64
		mtime time.Time
	}

	var (
		files []entry
		total int64
	)

	for _, de := range entries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".download-") {
			continue
		}

		info, err := de.Info()
		if err != nil {
			continue
		}

		files = append(files, entry{
			path:  filepath.Join(c.root, de.Name()),
			size:  info.Size(),
			mtime: info.ModTime(),
		})
		total += info.Size()
	}

	if total <= c.quotaBytes {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })

	target := int64(float64(c.quotaBytes) * quotaTarget)

	for _, f := range files {
		if total <= target {
			break
		}

		if err := os.Remove(f.path); err != nil {
			c.logger.Warn("quota: removing entry",
				slog.String("path", f.path),
				slog.String("error", err.Error()))

			continue
		}

		total -= f.size

		c.logger.Debug("quota: evicted entry",
			slog.String("path", f.path),
			slog.Int64("bytes", f.size))
	}
}

// Invalidate drops the disk and memory entries for fileID.
func (c *DiskCache) Invalidate(fileID string) {
	if c.mem != nil {
		c.mem.Clear()
	}

	path, err := c.entryPath(fileID)
	if err != nil {
		return
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("invalidating cache entry",
			slog.String("file", fileID),
			slog.String("error", err.Error()))
	}
}

// entryPath maps a remote file ID to its on-disk entry. IDs carrying
// path separators are rejected outright.
func (c *DiskCache) entryPath(fileID string) (string, error) {
	if fileID == "" || strings.ContainsAny(fileID, "/\\") || strings.Contains(fileID, "..") {
		return "", fmt.Errorf("cache: invalid file id %q", fileID)
	}

	return filepath.Join(c.root, fileID), nil
}

// parseRange interprets a "bytes=a-b" header against size. It reports
// ok=false for absent, unparseable, or out-of-bounds ranges, which
// callers treat as a full-content request.
func parseRange(header string, size int64) (start, end int64, ok bool) {
	if header == "" || size == 0 {
		return 0, 0, false
	}

	spec, found := strings.CutPrefix(header, "bytes=")
	if !found || strings.Contains(spec, ",") {
		return 0, 0, false
	}

	first, last, found := strings.Cut(spec, "-")
	if !found {
		return 0, 0, false
	}

	switch {
	case first == "" && last != "":
		// Suffix form: last n bytes.
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}

		if n > size {
			n = size
		}

		return size - n, size - 1, true

	case first != "" && last == "":
		start, err := strconv.ParseInt(first, 10, 64)
		if err != nil || start < 0 || start >= size {
			return 0, 0, false
		}

		return start, size - 1, true

	case first != "" && last != "":
		start, err1 := strconv.ParseInt(first, 10, 64)
		end, err2 := strconv.ParseInt(last, 10, 64)
		if err1 != nil || err2 != nil || start < 0 || start > end || end >= size {
			return 0, 0, false
		}

		return start, end, true
	}

	return 0, 0, false
}

// sectionCloser pairs a SectionReader with the file it reads from.
type sectionCloser struct {
	*io.SectionReader
	f *os.File
}

func (s *sectionCloser) Close() error { return s.f.Close() }
