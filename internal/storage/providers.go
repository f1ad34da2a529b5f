package storage

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/promptdeck/promptd/internal/logger"
)

// Store provides relational access to provider configurations and
// response metadata over either sqlite or postgres.
type Store struct {
	db     *DB
	logger *logger.Logger
}

func NewStore(db *DB, log *logger.Logger) *Store {
	return &Store{db: db, logger: log.WithComponent("storage")}
}

const providerColumns = `id, provider_type, display_name, base_url, model_name,
	encrypted_credential, timeout_seconds, is_active, created_at, updated_at, last_validated_at`

// SaveProvider inserts a new configuration or updates an existing one by id.
// Provider types are unique; saving a second configuration with the same
// type under a different id returns ErrDuplicate.
func (s *Store) SaveProvider(ctx context.Context, cfg *ProviderConfig) error {
	now := time.Now().UTC()
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
		cfg.CreatedAt = now
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	var existing string
	err := s.db.QueryRowContext(ctx,
		s.db.rebind(`SELECT id FROM provider_configurations WHERE provider_type = ?`),
		cfg.ProviderType,
	).Scan(&existing)
	switch {
	case err == nil && existing != cfg.ID:
		return fmt.Errorf("provider type %q already configured: %w", cfg.ProviderType, ErrDuplicate)
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check provider type: %w", err)
	}

	cred := sql.NullString{}
	if len(cfg.EncryptedCredential) > 0 {
		cred = sql.NullString{String: base64.StdEncoding.EncodeToString(cfg.EncryptedCredential), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, s.db.rebind(`
		UPDATE provider_configurations
		SET provider_type = ?, display_name = ?, base_url = ?, model_name = ?,
			encrypted_credential = ?, timeout_seconds = ?, updated_at = ?
		WHERE id = ?`),
		cfg.ProviderType, cfg.DisplayName, nullEmpty(cfg.BaseURL), nullEmpty(cfg.ModelName),
		cred, cfg.TimeoutSeconds, timeToMs(cfg.UpdatedAt), cfg.ID,
	)
	if err != nil {
		return fmt.Errorf("update provider: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx, s.db.rebind(`
		INSERT INTO provider_configurations
			(id, provider_type, display_name, base_url, model_name,
			 encrypted_credential, timeout_seconds, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		cfg.ID, cfg.ProviderType, cfg.DisplayName, nullEmpty(cfg.BaseURL), nullEmpty(cfg.ModelName),
		cred, cfg.TimeoutSeconds, cfg.IsActive, timeToMs(cfg.CreatedAt), timeToMs(cfg.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert provider: %w", err)
	}
	return nil
}

// GetProvider returns the configuration with the given id.
func (s *Store) GetProvider(ctx context.Context, id string) (*ProviderConfig, error) {
	row := s.db.QueryRowContext(ctx,
		s.db.rebind(`SELECT `+providerColumns+` FROM provider_configurations WHERE id = ?`), id)
	return scanProvider(row)
}

// ListProviders returns all configurations ordered by creation time.
func (s *Store) ListProviders(ctx context.Context) ([]ProviderConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+providerColumns+` FROM provider_configurations ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var out []ProviderConfig
	for rows.Next() {
		cfg, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}
	return out, rows.Err()
}

// GetActiveProvider returns the single active configuration, or
// ErrNoActiveProvider when none is active.
func (s *Store) GetActiveProvider(ctx context.Context) (*ProviderConfig, error) {
	row := s.db.QueryRowContext(ctx,
		s.db.rebind(`SELECT `+providerColumns+` FROM provider_configurations WHERE is_active = ?`), true)
	cfg, err := scanProvider(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoActiveProvider
	}
	return cfg, err
}

// SetActiveProvider activates the given configuration and deactivates all
// others in one transaction, so at most one provider is ever active.
func (s *Store) SetActiveProvider(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := timeToMs(time.Now().UTC())
	if _, err := tx.ExecContext(ctx,
		s.db.rebind(`UPDATE provider_configurations SET is_active = ?, updated_at = ? WHERE is_active = ?`),
		false, now, true,
	); err != nil {
		return fmt.Errorf("deactivate providers: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		s.db.rebind(`UPDATE provider_configurations SET is_active = ?, updated_at = ? WHERE id = ?`),
		true, now, id,
	)
	if err != nil {
		return fmt.Errorf("activate provider: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// DeleteProvider removes a configuration.
func (s *Store) DeleteProvider(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		s.db.rebind(`DELETE FROM provider_configurations WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkValidated stamps a successful credential validation.
func (s *Store) MarkValidated(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		s.db.rebind(`UPDATE provider_configurations SET last_validated_at = ?, updated_at = ? WHERE id = ?`),
		timeToMs(at), timeToMs(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("mark validated: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProvider(row rowScanner) (*ProviderConfig, error) {
	var (
		cfg                          ProviderConfig
		baseURL, modelName, cred     sql.NullString
		createdMs, updatedMs         int64
		validatedMs                  sql.NullInt64
	)
	err := row.Scan(&cfg.ID, &cfg.ProviderType, &cfg.DisplayName, &baseURL, &modelName,
		&cred, &cfg.TimeoutSeconds, &cfg.IsActive, &createdMs, &updatedMs, &validatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan provider: %w", err)
	}
	cfg.BaseURL = baseURL.String
	cfg.ModelName = modelName.String
	if cred.Valid && cred.String != "" {
		raw, err := base64.StdEncoding.DecodeString(cred.String)
		if err != nil {
			return nil, fmt.Errorf("decode stored credential: %w", err)
		}
		cfg.EncryptedCredential = raw
	}
	cfg.CreatedAt = msToTime(createdMs)
	cfg.UpdatedAt = msToTime(updatedMs)
	cfg.LastValidatedAt = msPtr(validatedMs)
	return &cfg, nil
}

func nullEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
