package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLiteBackend keeps one row per collection holding its JSON snapshot.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(ctx context.Context, dataSourceName string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// One writer at a time; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	backend := &SQLiteBackend{db: db}
	if err = backend.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return backend, nil
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

func (s *SQLiteBackend) runMigrations() error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Get(ctx context.Context, c Collection) ([]json.RawMessage, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM collections WHERE name = ?", string(c)).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("failed to query collection %s: %w", c, err)
	}
	return decodeSnapshot([]byte(data))
}

func (s *SQLiteBackend) Put(ctx context.Context, c Collection, records []json.RawMessage) error {
	data, err := encodeSnapshot(records)
	if err != nil {
		return err
	}

	stmt, err := s.db.PrepareContext(ctx, `
        INSERT INTO collections (name, data, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
    `)
	if err != nil {
		return fmt.Errorf("failed to prepare collection upsert: %w", err)
	}
	defer stmt.Close()

	if _, err = stmt.ExecContext(ctx, string(c), string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to execute collection upsert: %w", err)
	}
	return nil
}
