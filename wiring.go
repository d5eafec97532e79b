package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Jmendoza-user/drivesync/internal/auth"
	"github.com/Jmendoza-user/drivesync/internal/backoff"
	"github.com/Jmendoza-user/drivesync/internal/cache"
	"github.com/Jmendoza-user/drivesync/internal/discovery"
	"github.com/Jmendoza-user/drivesync/internal/drive"
	"github.com/Jmendoza-user/drivesync/internal/migrate"
	"github.com/Jmendoza-user/drivesync/internal/server"
	"github.com/Jmendoza-user/drivesync/internal/store"
	"github.com/Jmendoza-user/drivesync/internal/syncer"
)

// memCacheEntries bounds the in-process hot-content cache used by the
// retrieval server.
const memCacheEntries = 128

// openStore opens the entity store at the configured database path,
// creating the data directory on first run.
func openStore(logger *slog.Logger) (*store.Store, error) {
	dbPath := resolvedCfg.Database.Path
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	return store.Open(dbPath, logger)
}

// gatewayPool builds one drive gateway per credential and reuses it
// for the rest of the process. The auth manager behind each gateway
// refreshes tokens on demand and persists them through the store.
type gatewayPool struct {
	store  *store.Store
	logger *slog.Logger

	mu       sync.Mutex
	gateways map[int64]*drive.Gateway
}

func newGatewayPool(s *store.Store, logger *slog.Logger) *gatewayPool {
	return &gatewayPool{
		store:    s,
		logger:   logger,
		gateways: make(map[int64]*drive.Gateway),
	}
}

func (p *gatewayPool) gateway(ctx context.Context, credentialID int64) (*drive.Gateway, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gw, ok := p.gateways[credentialID]; ok {
		return gw, nil
	}

	cred, err := p.store.GetCredential(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	if !cred.Usable() {
		return nil, fmt.Errorf("credential %d (%s) is not authorized, run login first", cred.ID, cred.Name)
	}

	mgr := auth.NewManager(cred, p.store, p.logger)
	gw := drive.NewGateway(nil, mgr, backoff.New(p.logger), p.logger)
	p.gateways[credentialID] = gw

	return gw, nil
}

// syncerFactory adapts the pool to the orchestrator's Drive interface.
func (p *gatewayPool) syncerFactory() syncer.DriveFactory {
	return func(ctx context.Context, credentialID int64) (syncer.Drive, error) {
		return p.gateway(ctx, credentialID)
	}
}

// migrateFactory adapts the pool to the migration engine's Drive
// interface.
func (p *gatewayPool) migrateFactory() migrate.DriveFactory {
	return func(ctx context.Context, credentialID int64) (migrate.Drive, error) {
		return p.gateway(ctx, credentialID)
	}
}

// managerFactory builds auth managers for the OAuth callback handler.
// Callback credentials may be in any state, so no Usable check here.
func managerFactory(s *store.Store, logger *slog.Logger) server.ManagerFactory {
	return func(ctx context.Context, credentialID int64) (*auth.Manager, error) {
		cred, err := s.GetCredential(ctx, credentialID)
		if err != nil {
			return nil, err
		}

		return auth.NewManager(cred, s, logger), nil
	}
}

// routedDownloader resolves a remote file ID to its owning credential
// and downloads through that credential's gateway. The disk cache sees
// a single download surface even when records span accounts.
type routedDownloader struct {
	store *store.Store
	pool  *gatewayPool
}

func (d *routedDownloader) route(ctx context.Context, fileID string) (*drive.Gateway, error) {
	a, err := d.store.GetAttachmentByRemoteID(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if a.CredentialID == 0 {
		return nil, fmt.Errorf("file %s has no owning credential", fileID)
	}

	return d.pool.gateway(ctx, a.CredentialID)
}

func (d *routedDownloader) Download(ctx context.Context, fileID string, w io.Writer) (int64, error) {
	gw, err := d.route(ctx, fileID)
	if err != nil {
		return 0, err
	}

	return gw.Download(ctx, fileID, w)
}

func (d *routedDownloader) DownloadRange(ctx context.Context, fileID, rangeHeader string) (*drive.RangeResult, error) {
	gw, err := d.route(ctx, fileID)
	if err != nil {
		return nil, err
	}

	return gw.DownloadRange(ctx, fileID, rangeHeader)
}

// newDiskCache assembles the read-through cache from the resolved
// configuration.
func newDiskCache(s *store.Store, pool *gatewayPool, logger *slog.Logger) (*cache.DiskCache, error) {
	ttl, err := resolvedCfg.CacheTTL()
	if err != nil {
		return nil, err
	}

	dl := &routedDownloader{store: s, pool: pool}
	mem := cache.NewMemoryCache(memCacheEntries, ttl)

	return cache.NewDiskCache(resolvedCfg.Cache.Dir, ttl, resolvedCfg.CacheQuotaBytes(), dl, mem, logger)
}

// newOrchestrator assembles the sync pipeline with configured limits.
func newOrchestrator(s *store.Store, pool *gatewayPool, logger *slog.Logger) *syncer.Orchestrator {
	finder := discovery.NewFinder(s, logger)
	orch := syncer.New(s, finder, pool.syncerFactory(), logger)
	orch.SetLimits(resolvedCfg.Sync.BatchSize, resolvedCfg.Sync.AutoCap)

	return orch
}
