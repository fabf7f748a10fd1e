package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// SQLite driver registration
	_ "modernc.org/sqlite"

	"github.com/stacklok/promptsync/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	metadata   TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	deleted    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_items_type ON items(type);
`

const upsertItemSQL = `
INSERT INTO items (id, type, title, content, metadata, updated_at, deleted)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	type = excluded.type,
	title = excluded.title,
	content = excluded.content,
	metadata = excluded.metadata,
	updated_at = excluded.updated_at,
	deleted = excluded.deleted`

// SQLiteStore is a LocalStore backed by an embedded SQLite database.
type SQLiteStore struct {
	broadcaster

	db       *sql.DB
	deviceID string
	now      func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path, deviceID string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		sqliteSchema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	return &SQLiteStore{db: db, deviceID: deviceID, now: time.Now}, nil
}

// ListAll implements Store
func (s *SQLiteStore) ListAll(ctx context.Context, itemType model.ItemType) ([]model.DataItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, title, content, metadata FROM items WHERE type = ? ORDER BY id`, string(itemType))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s items: %w", itemType, err)
	}
	defer rows.Close()

	items := make([]model.DataItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s items: %w", itemType, err)
	}
	return items, nil
}

// UpsertMany implements Store
func (s *SQLiteStore) UpsertMany(ctx context.Context, itemType model.ItemType, items []model.DataItem) error {
	if len(items) == 0 {
		return nil
	}
	prepared := make([]model.DataItem, 0, len(items))
	for _, item := range items {
		p, err := prepareSynced(item, itemType)
		if err != nil {
			return err
		}
		prepared = append(prepared, p)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	events := make([]ChangeEvent, 0, len(prepared))
	for _, item := range prepared {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM items WHERE id = ?`, item.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to look up item %s: %w", item.ID, err)
		}
		if err := writeItem(ctx, tx, item); err != nil {
			return err
		}
		op := OperationUpdate
		if exists == 0 {
			op = OperationCreate
		}
		events = append(events, ChangeEvent{Operation: op, EntityType: itemType, ID: item.ID})
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s items: %w", itemType, err)
	}

	for _, ev := range events {
		s.emit(ctx, ev)
	}
	return nil
}

// Get returns the item with id, or nil when absent.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.DataItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, type, title, content, metadata FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return item, err
}

// Save records a user edit.
func (s *SQLiteStore) Save(ctx context.Context, item model.DataItem) (*model.DataItem, error) {
	var existing *model.DataItem
	if item.ID != "" {
		cur, err := s.Get(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		existing = cur
	}

	prepared, op, err := prepareEdit(item, existing, s.deviceID, s.now())
	if err != nil {
		return nil, err
	}
	if err := writeItem(ctx, s.db, prepared); err != nil {
		return nil, err
	}

	s.emit(ctx, ChangeEvent{Operation: op, EntityType: prepared.Type, ID: prepared.ID})
	return &prepared, nil
}

// Delete soft-deletes the item with id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	item, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("item %s not found", id)
	}
	item.Metadata.Deleted = true
	_, err = s.Save(ctx, *item)
	return err
}

// PurgeTombstones implements Purger
func (s *SQLiteStore) PurgeTombstones(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ? AND deleted = 1`, id); err != nil {
			return fmt.Errorf("failed to purge tombstone %s: %w", id, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func writeItem(ctx context.Context, db execer, item model.DataItem) error {
	content, err := json.Marshal(item.Content)
	if err != nil {
		return fmt.Errorf("failed to encode content of %s: %w", item.ID, err)
	}
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata of %s: %w", item.ID, err)
	}
	deleted := 0
	if item.Metadata.Deleted {
		deleted = 1
	}
	_, err = db.ExecContext(ctx, upsertItemSQL,
		item.ID, string(item.Type), item.Title, string(content), string(metadata),
		item.Metadata.UpdatedAt.UTC().Format(time.RFC3339Nano), deleted)
	if err != nil {
		return fmt.Errorf("failed to write item %s: %w", item.ID, err)
	}
	return nil
}

func scanItem(row scanner) (*model.DataItem, error) {
	var (
		item              model.DataItem
		itemType          string
		content, metadata string
	)
	if err := row.Scan(&item.ID, &itemType, &item.Title, &content, &metadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read item: %w", err)
	}
	item.Type = model.ItemType(itemType)
	if err := json.Unmarshal([]byte(content), &item.Content); err != nil {
		return nil, fmt.Errorf("failed to decode content of %s: %w", item.ID, err)
	}
	if err := json.Unmarshal([]byte(metadata), &item.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata of %s: %w", item.ID, err)
	}
	return &item, nil
}
