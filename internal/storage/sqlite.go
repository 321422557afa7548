package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/indexdef/internal/indexconfig"
	"github.com/hyperjump/indexdef/internal/models"
)

// SQLiteMetastore implements Metastore using SQLite.
type SQLiteMetastore struct {
	db   *sql.DB
	path string
}

// NewSQLiteMetastore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteMetastore(dbPath string) (*SQLiteMetastore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteMetastore{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS indexes (
		index_uid TEXT PRIMARY KEY,
		index_id TEXT NOT NULL UNIQUE,
		config TEXT NOT NULL,
		source_path TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_indexes_source_path ON indexes(source_path);
	`
	_, err := db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *SQLiteMetastore) Path() string {
	return s.path
}

// CreateIndex inserts index metadata. The config is stored as JSON.
func (s *SQLiteMetastore) CreateIndex(ctx context.Context, meta *models.IndexMetadata) error {
	configJSON, err := json.Marshal(meta.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal index config: %w", err)
	}

	now := time.Now().UTC()
	meta.CreatedAt = now
	meta.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO indexes (index_uid, index_id, config, source_path, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		meta.IndexUID, meta.IndexID, string(configJSON), meta.SourcePath, meta.CreatedAt, meta.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrIndexExists, meta.IndexID)
	}
	return err
}

const selectIndex = `SELECT index_uid, index_id, config, source_path, created_at, updated_at FROM indexes`

// GetIndex returns index metadata by index id.
func (s *SQLiteMetastore) GetIndex(ctx context.Context, indexID string) (*models.IndexMetadata, error) {
	meta, err := scanIndex(s.db.QueryRowContext(ctx, selectIndex+` WHERE index_id = ?`, indexID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, indexID)
	}
	return meta, err
}

// GetIndexByUID returns index metadata by index uid.
func (s *SQLiteMetastore) GetIndexByUID(ctx context.Context, indexUID string) (*models.IndexMetadata, error) {
	meta, err := scanIndex(s.db.QueryRowContext(ctx, selectIndex+` WHERE index_uid = ?`, indexUID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, indexUID)
	}
	return meta, err
}

// UpdateIndex replaces the config and source path of an existing index.
func (s *SQLiteMetastore) UpdateIndex(ctx context.Context, meta *models.IndexMetadata) error {
	configJSON, err := json.Marshal(meta.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal index config: %w", err)
	}

	meta.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		`UPDATE indexes SET config = ?, source_path = ?, updated_at = ?
		 WHERE index_id = ?`,
		string(configJSON), meta.SourcePath, meta.UpdatedAt, meta.IndexID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, meta.IndexID)
	}
	return nil
}

// DeleteIndex removes an index by id.
func (s *SQLiteMetastore) DeleteIndex(ctx context.Context, indexID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM indexes WHERE index_id = ?`, indexID)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, indexID)
	}
	return nil
}

// ListIndexes returns indexes ordered by id with offset and limit.
// A non-positive limit returns every index.
func (s *SQLiteMetastore) ListIndexes(ctx context.Context, offset, limit int) ([]*models.IndexMetadata, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectIndex+` ORDER BY index_id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanIndexes(rows)
}

// ListIndexesBySource returns the indexes registered from sourcePath.
func (s *SQLiteMetastore) ListIndexesBySource(ctx context.Context, sourcePath string) ([]*models.IndexMetadata, error) {
	rows, err := s.db.QueryContext(ctx, selectIndex+` WHERE source_path = ? ORDER BY index_id`, sourcePath)
	if err != nil {
		return nil, err
	}
	return scanIndexes(rows)
}

// CountIndexes returns the number of registered indexes.
func (s *SQLiteMetastore) CountIndexes(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM indexes`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteMetastore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIndex(row rowScanner) (*models.IndexMetadata, error) {
	var meta models.IndexMetadata
	var configJSON string
	var sourcePath sql.NullString
	if err := row.Scan(&meta.IndexUID, &meta.IndexID, &configJSON, &sourcePath, &meta.CreatedAt, &meta.UpdatedAt); err != nil {
		return nil, err
	}
	meta.SourcePath = sourcePath.String
	var cfg indexconfig.IndexConfig
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config of %s: %w", meta.IndexID, err)
	}
	meta.Config = &cfg
	return &meta, nil
}

func scanIndexes(rows *sql.Rows) ([]*models.IndexMetadata, error) {
	defer rows.Close()
	var out []*models.IndexMetadata
	for rows.Next() {
		meta, err := scanIndex(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
