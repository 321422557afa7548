// Package storage defines the persistence interface for index metadata.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/indexdef/internal/models"
)

var (
	// ErrIndexNotFound is returned when no index matches the id or uid.
	ErrIndexNotFound = errors.New("index not found")
	// ErrIndexExists is returned when creating an index whose id is taken.
	ErrIndexExists = errors.New("index already exists")
)

// Metastore persists registered index configs.
type Metastore interface {
	CreateIndex(ctx context.Context, meta *models.IndexMetadata) error
	GetIndex(ctx context.Context, indexID string) (*models.IndexMetadata, error)
	GetIndexByUID(ctx context.Context, indexUID string) (*models.IndexMetadata, error)
	// UpdateIndex replaces the config of an existing index, keyed by IndexID.
	UpdateIndex(ctx context.Context, meta *models.IndexMetadata) error
	DeleteIndex(ctx context.Context, indexID string) error
	ListIndexes(ctx context.Context, offset, limit int) ([]*models.IndexMetadata, error)
	// ListIndexesBySource returns the indexes registered from a config file.
	ListIndexesBySource(ctx context.Context, sourcePath string) ([]*models.IndexMetadata, error)
	CountIndexes(ctx context.Context) (int64, error)

	Close() error
}
