package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	version    INTEGER NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// PostgresStore implements DocumentStore on top of Postgres.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects to Postgres and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating documents table: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Get fetches a record by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := s.db.GetContext(ctx, &rec,
		`SELECT id, content, version, updated_at FROM documents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching document %s: %w", id, err)
	}
	return &rec, nil
}

// Create inserts a new record with version 0 and returns the generated id.
func (s *PostgresStore) Create(ctx context.Context, content string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, content, version, updated_at) VALUES ($1, $2, 0, $3)`,
		id, content, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("creating document: %w", err)
	}
	return id, nil
}

// UpsertByID writes the latest content and version for a document.
func (s *PostgresStore) UpsertByID(ctx context.Context, id string, content string, version int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, content, version, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET content = $2, version = $3, updated_at = $4`,
		id, content, version, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("persisting document %s: %w", id, err)
	}
	return nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
