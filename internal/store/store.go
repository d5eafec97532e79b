// Package store is the entity store: credentials, sync configurations
// and rules, attachment records, sync sessions with per-file outcomes,
// and the retrieval access log. SQLite in WAL mode with embedded goose
// migrations.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// walJournalSizeLimit caps the WAL journal at 64 MiB.
const walJournalSizeLimit = 67108864

// Store wraps the database with prepared statements for the hot paths.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// Prepared statements for repeated queries, grouped by domain.
	credStmts    credentialStatements
	attachStmts  attachmentStatements
	sessionStmts sessionStatements
	accessStmts  accessStatements
}

type credentialStatements struct {
	get, insert, update *sql.Stmt
}

type attachmentStatements struct {
	get, getByRemoteID, insert, markSynced, markError, setStatus,
	clearPayload, rehydrate, touchAccess, listSyncedByCredential *sql.Stmt
}

type sessionStatements struct {
	insert, getInProgress, addProgress, finalize, get, addOutcome, listOutcomes *sql.Stmt
}

type accessStatements struct {
	insert *sql.Stmt
}

// Open creates a Store at dbPath, applying migrations and preparing
// statements. Use ":memory:" for tests.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening entity store", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}

	// Single writer: the sync pipeline is batch-sequential, and one
	// connection avoids SQLITE_BUSY between statements.
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	if err := setPragmas(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareStatements(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: prepare statements: %w", err)
	}

	logger.Info("entity store ready", slog.String("path", dbPath))

	return s, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for callers that need ad-hoc queries
// (discovery builds dynamic extension filters).
func (s *Store) DB() *sql.DB { return s.db }

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("store: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", slog.String("pragma", p.desc))
	}

	return nil
}

// runMigrations applies all pending schema migrations via the goose v3
// Provider API (no global state, context-aware).
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("store: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("store: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// prepareStatements readies all hot-path statements.
func (s *Store) prepareStatements(ctx context.Context) error {
	prep := func(dst **sql.Stmt, query string) error {
		stmt, err := s.db.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("preparing %q: %w", query, err)
		}

		*dst = stmt

		return nil
	}

	for _, p := range []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.credStmts.get, sqlGetCredential},
		{&s.credStmts.insert, sqlInsertCredential},
		{&s.credStmts.update, sqlUpdateCredential},
		{&s.attachStmts.get, sqlGetAttachment},
		{&s.attachStmts.getByRemoteID, sqlGetAttachmentByRemoteID},
		{&s.attachStmts.insert, sqlInsertAttachment},
		{&s.attachStmts.markSynced, sqlMarkAttachmentSynced},
		{&s.attachStmts.markError, sqlMarkAttachmentError},
		{&s.attachStmts.setStatus, sqlSetAttachmentStatus},
		{&s.attachStmts.clearPayload, sqlClearAttachmentPayload},
		{&s.attachStmts.rehydrate, sqlRehydrateAttachment},
		{&s.attachStmts.touchAccess, sqlTouchAttachmentAccess},
		{&s.attachStmts.listSyncedByCredential, sqlListSyncedByCredential},
		{&s.sessionStmts.insert, sqlInsertSession},
		{&s.sessionStmts.getInProgress, sqlGetInProgressSession},
		{&s.sessionStmts.addProgress, sqlAddSessionProgress},
		{&s.sessionStmts.finalize, sqlFinalizeSession},
		{&s.sessionStmts.get, sqlGetSession},
		{&s.sessionStmts.addOutcome, sqlInsertOutcome},
		{&s.sessionStmts.listOutcomes, sqlListOutcomes},
		{&s.accessStmts.insert, sqlInsertAccessEntry},
	} {
		if err := prep(p.dst, p.query); err != nil {
			return err
		}
	}

	return nil
}
