// Copyright 2025 The N8N2MCP Authors
// SPDX-License-Identifier: BUSL-1.1

package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"
)

// PostgreSQLStorage implements persistent storage for registry entries
type PostgreSQLStorage struct {
	db     *sql.DB
	logger *log.Logger
}

// pingTimeout bounds the connection check made when the storage opens.
const pingTimeout = 5 * time.Second

// NewPostgreSQLStorage opens the database and checks the connection once.
// An unreachable database is logged, not returned: the pool connects
// lazily, so later calls fail with a StoreError until it is reachable.
// Only a DSN the driver cannot use is an error.
func NewPostgreSQLStorage(ctx context.Context, dbURL string) (*PostgreSQLStorage, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}

	storage := NewPostgreSQLStorageFromDB(db)
	if err := storage.Ping(ctx); err != nil {
		storage.logger.Printf("Warning: registry database unreachable, continuing without it: %v", err)
		return storage, nil
	}
	storage.logger.Println("Connected to registry database")
	return storage, nil
}

// Ping checks the connection within pingTimeout.
func (s *PostgreSQLStorage) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return &StoreError{Op: "ping", Err: err}
	}
	return nil
}

// NewPostgreSQLStorageFromDB wraps an existing connection pool.
func NewPostgreSQLStorageFromDB(db *sql.DB) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		db:     db,
		logger: log.New(os.Stdout, "[REGISTRY_STORAGE] ", log.LstdFlags),
	}
}

// EnsureSchema creates the mcp_configs table if it doesn't exist
func (s *PostgreSQLStorage) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS mcp_configs (
		id SERIAL PRIMARY KEY,
		resource_id TEXT NOT NULL,
		api_key TEXT NOT NULL,
		handler_source TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_mcp_configs_key ON mcp_configs(resource_id, api_key);
	`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return &StoreError{Op: "schema", Err: err}
	}

	s.logger.Println("Registry schema initialized")
	return nil
}

// Upsert persists an entry, overwriting the handler source of an existing key.
func (s *PostgreSQLStorage) Upsert(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO mcp_configs (resource_id, api_key, handler_source)
		VALUES ($1, $2, $3)
		ON CONFLICT (resource_id, api_key) DO UPDATE SET
			handler_source = EXCLUDED.handler_source,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err := s.db.QueryRowContext(ctx, query, entry.ResourceID, entry.APIKey, entry.HandlerSource).
		Scan(&entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return &StoreError{Op: "upsert", Err: err}
	}

	s.logger.Printf("Saved entry: %s", entry.ResourceID)
	return nil
}

// Get retrieves a single entry
func (s *PostgreSQLStorage) Get(ctx context.Context, resourceID, apiKey string) (*Entry, error) {
	query := `
		SELECT resource_id, api_key, handler_source, created_at, updated_at
		FROM mcp_configs
		WHERE resource_id = $1 AND api_key = $2
	`

	var e Entry
	err := s.db.QueryRowContext(ctx, query, resourceID, apiKey).
		Scan(&e.ResourceID, &e.APIKey, &e.HandlerSource, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StoreError{Op: "get", Err: err}
	}
	return &e, nil
}

// Delete removes an entry
func (s *PostgreSQLStorage) Delete(ctx context.Context, resourceID, apiKey string) error {
	query := `DELETE FROM mcp_configs WHERE resource_id = $1 AND api_key = $2`

	result, err := s.db.ExecContext(ctx, query, resourceID, apiKey)
	if err != nil {
		return &StoreError{Op: "delete", Err: err}
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return &StoreError{Op: "delete", Err: fmt.Errorf("failed to check rows affected: %w", err)}
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Printf("Deleted entry: %s", resourceID)
	return nil
}

// List returns every stored entry
func (s *PostgreSQLStorage) List(ctx context.Context) ([]*Entry, error) {
	query := `
		SELECT resource_id, api_key, handler_source, created_at, updated_at
		FROM mcp_configs
		ORDER BY resource_id, api_key
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ResourceID, &e.APIKey, &e.HandlerSource, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, &StoreError{Op: "list", Err: fmt.Errorf("failed to scan row: %w", err)}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}

	return entries, nil
}

// Close closes the database connection
func (s *PostgreSQLStorage) Close() error {
	return s.db.Close()
}
