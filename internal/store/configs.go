package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const sqlGetActiveConfig = `
	SELECT id, name, credential_id, is_active, auto_sync,
	       delete_local_after_sync, replace_local_with_cloud,
	       root_folder_name, public_base_url
	FROM sync_configs WHERE is_active = 1 ORDER BY id LIMIT 1`

const sqlGetConfig = `
	SELECT id, name, credential_id, is_active, auto_sync,
	       delete_local_after_sync, replace_local_with_cloud,
	       root_folder_name, public_base_url
	FROM sync_configs WHERE id = ?`

// ErrNoActiveConfig is returned when no sync configuration is marked
// active.
var ErrNoActiveConfig = errors.New("store: no active sync configuration")

// ActiveConfig returns the active configuration with its rules loaded.
func (s *Store) ActiveConfig(ctx context.Context) (*SyncConfig, error) {
	cfg, err := s.scanConfig(s.db.QueryRowContext(ctx, sqlGetActiveConfig))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveConfig
	}

	if err != nil {
		return nil, fmt.Errorf("store: active config: %w", err)
	}

	if err := s.loadRules(ctx, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// GetConfig loads one configuration by ID with its rules.
func (s *Store) GetConfig(ctx context.Context, id int64) (*SyncConfig, error) {
	cfg, err := s.scanConfig(s.db.QueryRowContext(ctx, sqlGetConfig, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: config %d: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("store: get config %d: %w", id, err)
	}

	if err := s.loadRules(ctx, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (s *Store) scanConfig(row *sql.Row) (*SyncConfig, error) {
	var cfg SyncConfig

	err := row.Scan(&cfg.ID, &cfg.Name, &cfg.CredentialID, &cfg.IsActive,
		&cfg.AutoSync, &cfg.DeleteLocalAfterSync, &cfg.ReplaceLocalWithCloud,
		&cfg.RootFolderName, &cfg.PublicBaseURL)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (s *Store) loadRules(ctx context.Context, cfg *SyncConfig) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, config_id, model, kind, field, folder_name, is_active
		FROM model_rules WHERE config_id = ? ORDER BY id`, cfg.ID)
	if err != nil {
		return fmt.Errorf("store: model rules for config %d: %w", cfg.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var r ModelRule
		if err := rows.Scan(&r.ID, &r.ConfigID, &r.Model, &r.Kind,
			&r.Field, &r.FolderName, &r.IsActive); err != nil {
			return fmt.Errorf("store: scan model rule: %w", err)
		}

		cfg.ModelRules = append(cfg.ModelRules, r)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: model rules: %w", err)
	}

	frows, err := s.db.QueryContext(ctx, `
		SELECT id, config_id, extension, max_size_mb, is_active
		FROM file_type_rules WHERE config_id = ? ORDER BY id`, cfg.ID)
	if err != nil {
		return fmt.Errorf("store: file type rules for config %d: %w", cfg.ID, err)
	}
	defer frows.Close()

	for frows.Next() {
		var r FileTypeRule
		if err := frows.Scan(&r.ID, &r.ConfigID, &r.Extension,
			&r.MaxSizeMB, &r.IsActive); err != nil {
			return fmt.Errorf("store: scan file type rule: %w", err)
		}

		cfg.FileTypeRules = append(cfg.FileTypeRules, r)
	}

	return frows.Err()
}

// AutoSyncConfigs returns every active configuration with auto_sync
// enabled, rules loaded.
func (s *Store) AutoSyncConfigs(ctx context.Context) ([]*SyncConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, credential_id, is_active, auto_sync,
		       delete_local_after_sync, replace_local_with_cloud,
		       root_folder_name, public_base_url
		FROM sync_configs WHERE is_active = 1 AND auto_sync = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: auto-sync configs: %w", err)
	}
	defer rows.Close()

	var configs []*SyncConfig

	for rows.Next() {
		var cfg SyncConfig
		if err := rows.Scan(&cfg.ID, &cfg.Name, &cfg.CredentialID,
			&cfg.IsActive, &cfg.AutoSync, &cfg.DeleteLocalAfterSync,
			&cfg.ReplaceLocalWithCloud, &cfg.RootFolderName,
			&cfg.PublicBaseURL); err != nil {
			return nil, fmt.Errorf("store: scan config: %w", err)
		}

		configs = append(configs, &cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: auto-sync configs: %w", err)
	}

	for _, cfg := range configs {
		if err := s.loadRules(ctx, cfg); err != nil {
			return nil, err
		}
	}

	return configs, nil
}

// CreateConfig inserts a configuration plus its rules. Used by tests
// and the bootstrap path.
func (s *Store) CreateConfig(ctx context.Context, cfg *SyncConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin config tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sync_configs
			(name, credential_id, is_active, auto_sync,
			 delete_local_after_sync, replace_local_with_cloud,
			 root_folder_name, public_base_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.Name, cfg.CredentialID, cfg.IsActive, cfg.AutoSync,
		cfg.DeleteLocalAfterSync, cfg.ReplaceLocalWithCloud,
		cfg.RootFolderName, cfg.PublicBaseURL)
	if err != nil {
		return fmt.Errorf("store: insert config: %w", err)
	}

	cfg.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: config insert id: %w", err)
	}

	for i := range cfg.ModelRules {
		r := &cfg.ModelRules[i]
		r.ConfigID = cfg.ID

		rres, err := tx.ExecContext(ctx, `
			INSERT INTO model_rules
				(config_id, model, kind, field, folder_name, is_active)
			VALUES (?, ?, ?, ?, ?, ?)`,
			r.ConfigID, r.Model, r.Kind, r.Field, r.FolderName, r.IsActive)
		if err != nil {
			return fmt.Errorf("store: insert model rule %s: %w", r.Model, err)
		}

		r.ID, _ = rres.LastInsertId()
	}

	for i := range cfg.FileTypeRules {
		r := &cfg.FileTypeRules[i]
		r.ConfigID = cfg.ID

		rres, err := tx.ExecContext(ctx, `
			INSERT INTO file_type_rules
				(config_id, extension, max_size_mb, is_active)
			VALUES (?, ?, ?, ?)`,
			r.ConfigID, r.Extension, r.MaxSizeMB, r.IsActive)
		if err != nil {
			return fmt.Errorf("store: insert file type rule %s: %w", r.Extension, err)
		}

		r.ID, _ = rres.LastInsertId()
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit config: %w", err)
	}

	return nil
}
