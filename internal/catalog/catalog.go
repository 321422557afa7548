// Package catalog registers index configs in the metastore and keeps them in
// sync with config files on disk.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hyperjump/indexdef/internal/docmapper"
	"github.com/hyperjump/indexdef/internal/indexconfig"
	"github.com/hyperjump/indexdef/internal/keyword"
	"github.com/hyperjump/indexdef/internal/metrics"
	"github.com/hyperjump/indexdef/internal/models"
	"github.com/hyperjump/indexdef/internal/storage"
	"go.uber.org/zap"
)

// ErrSourceConflict is returned when a config file declares an index that
// was registered from a different file.
var ErrSourceConflict = errors.New("index is managed by another config file")

// Catalog validates index configs and persists them in a metastore.
type Catalog struct {
	store  storage.Metastore
	logger *zap.Logger // optional; when set, logs debug events

	// mu serializes mutations coming from the API and the watcher.
	mu sync.Mutex
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets a logger for debug output (index created, file applied, etc.).
func WithLogger(l *zap.Logger) Option {
	return func(c *Catalog) { c.logger = l }
}

// New creates a catalog over store.
func New(store storage.Metastore, opts ...Option) *Catalog {
	c := &Catalog{store: store}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewIndexUID returns a fresh uid for indexID.
func NewIndexUID(indexID string) string {
	return indexID + ":" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// prepare returns a defaulted, validated copy of cfg.
func prepare(cfg *indexconfig.IndexConfig) (*indexconfig.IndexConfig, error) {
	c := cfg.Clone()
	indexconfig.ApplyDefaults(c)
	if err := c.Validate(); err != nil {
		for _, v := range indexconfig.Violations(err) {
			metrics.RecordViolation(v.Path)
		}
		return nil, err
	}
	return c, nil
}

// CreateIndex validates cfg and registers it. sourcePath may be empty for
// indexes created through the API.
func (c *Catalog) CreateIndex(ctx context.Context, cfg *indexconfig.IndexConfig, sourcePath string) (*models.IndexMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	meta, err := c.createLocked(ctx, cfg, sourcePath)
	metrics.RecordOperation("create", outcome(err))
	return meta, err
}

func (c *Catalog) createLocked(ctx context.Context, cfg *indexconfig.IndexConfig, sourcePath string) (*models.IndexMetadata, error) {
	prepared, err := prepare(cfg)
	if err != nil {
		return nil, err
	}
	meta := &models.IndexMetadata{
		IndexUID:   NewIndexUID(prepared.IndexID),
		IndexID:    prepared.IndexID,
		Config:     prepared,
		SourcePath: sourcePath,
	}
	if err := c.store.CreateIndex(ctx, meta); err != nil {
		return nil, fmt.Errorf("failed to create index %s: %w", prepared.IndexID, err)
	}
	c.refreshGauge(ctx)
	if c.logger != nil {
		c.logger.Debug("catalog index created", zap.String("index_uid", meta.IndexUID), zap.String("source", sourcePath))
	}
	return meta, nil
}

// UpdateIndex replaces the config of an existing index. Only changes allowed
// by indexconfig.CheckUpdate are accepted.
func (c *Catalog) UpdateIndex(ctx context.Context, cfg *indexconfig.IndexConfig) (*models.IndexMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, err := c.store.GetIndex(ctx, cfg.IndexID)
	if err != nil {
		metrics.RecordOperation("update", outcome(err))
		return nil, err
	}
	meta, _, err := c.updateLocked(ctx, current, cfg, current.SourcePath)
	metrics.RecordOperation("update", outcome(err))
	return meta, err
}

// updateLocked reports whether the stored config changed.
func (c *Catalog) updateLocked(ctx context.Context, current *models.IndexMetadata, cfg *indexconfig.IndexConfig, sourcePath string) (*models.IndexMetadata, bool, error) {
	prepared, err := prepare(cfg)
	if err != nil {
		return nil, false, err
	}
	if err := indexconfig.CheckUpdate(current.Config, prepared); err != nil {
		return nil, false, err
	}
	if sameConfig(current.Config, prepared) && current.SourcePath == sourcePath {
		return current, false, nil
	}
	next := *current
	next.Config = prepared
	next.SourcePath = sourcePath
	if err := c.store.UpdateIndex(ctx, &next); err != nil {
		return nil, false, fmt.Errorf("failed to update index %s: %w", prepared.IndexID, err)
	}
	if c.logger != nil {
		c.logger.Debug("catalog index updated", zap.String("index_uid", next.IndexUID))
	}
	return &next, true, nil
}

func sameConfig(a, b *indexconfig.IndexConfig) bool {
	ja, errA := indexconfig.ToJSON(a)
	jb, errB := indexconfig.ToJSON(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

// ApplyFile loads the config file at path and creates or updates its index.
// An unchanged file is a no-op. If the file previously declared a different
// index, that index is removed.
func (c *Catalog) ApplyFile(ctx context.Context, path string) (*models.IndexMetadata, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	cfg, err := indexconfig.Load(absPath)
	if err != nil {
		metrics.RecordOperation("apply_file", outcome(err))
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	meta, err := c.applyLocked(ctx, cfg, absPath)
	metrics.RecordOperation("apply_file", outcome(err))
	return meta, err
}

// applyLocked validates and registers cfg before dropping any index the file
// used to declare, so a failed edit leaves the registered indexes untouched.
func (c *Catalog) applyLocked(ctx context.Context, cfg *indexconfig.IndexConfig, absPath string) (*models.IndexMetadata, error) {
	if _, err := prepare(cfg); err != nil {
		return nil, err
	}
	current, err := c.store.GetIndex(ctx, cfg.IndexID)
	if errors.Is(err, storage.ErrIndexNotFound) {
		current = nil
	} else if err != nil {
		return nil, err
	}
	if current != nil && current.SourcePath != "" && current.SourcePath != absPath {
		return nil, fmt.Errorf("%w: %s is declared in %s", ErrSourceConflict, cfg.IndexID, current.SourcePath)
	}
	previous, err := c.store.ListIndexesBySource(ctx, absPath)
	if err != nil {
		return nil, err
	}

	var meta *models.IndexMetadata
	if current == nil {
		meta, err = c.createLocked(ctx, cfg, absPath)
	} else {
		var changed bool
		meta, changed, err = c.updateLocked(ctx, current, cfg, absPath)
		if err == nil && !changed && c.logger != nil {
			c.logger.Debug("catalog skipping unchanged file", zap.String("path", absPath))
		}
	}
	if err != nil {
		return nil, err
	}

	for _, p := range previous {
		if p.IndexID == cfg.IndexID {
			continue
		}
		if err := c.store.DeleteIndex(ctx, p.IndexID); err != nil && !errors.Is(err, storage.ErrIndexNotFound) {
			return meta, err
		}
		if c.logger != nil {
			c.logger.Debug("catalog index replaced in file", zap.String("old", p.IndexID), zap.String("new", cfg.IndexID), zap.String("path", absPath))
		}
	}
	if len(previous) > 0 {
		c.refreshGauge(ctx)
	}
	return meta, nil
}

// ApplyDirectory applies every config file under dir whose extension is in
// exts (all config extensions when empty). Files that fail are reported in
// the joined error and do not stop the walk.
func (c *Catalog) ApplyDirectory(ctx context.Context, dir string, exts []string, recursive bool) (int, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	if len(exts) == 0 {
		exts = indexconfig.ConfigExtensions
	}
	var n int
	var errs []error
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != absDir && (!recursive || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !ExtensionAllowed(filepath.Ext(path), exts) {
			return nil
		}
		if _, applyErr := c.ApplyFile(ctx, path); applyErr != nil {
			errs = append(errs, applyErr)
			return nil
		}
		n++
		return nil
	})
	if err != nil {
		return n, err
	}
	return n, errors.Join(errs...)
}

// ExtensionAllowed reports whether ext is in allowed, ignoring case and the leading dot.
func ExtensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// RemoveFile deletes the indexes registered from path and returns how many were removed.
func (c *Catalog) RemoveFile(ctx context.Context, path string) (int, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	indexes, err := c.store.ListIndexesBySource(ctx, absPath)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, meta := range indexes {
		if err := c.store.DeleteIndex(ctx, meta.IndexID); err != nil && !errors.Is(err, storage.ErrIndexNotFound) {
			metrics.RecordOperation("remove_file", outcome(err))
			return removed, err
		}
		removed++
		if c.logger != nil {
			c.logger.Debug("catalog index removed with its file", zap.String("index_id", meta.IndexID), zap.String("path", absPath))
		}
	}
	c.refreshGauge(ctx)
	metrics.RecordOperation("remove_file", metrics.OutcomeOK)
	return removed, nil
}

// DeleteIndex removes an index by id.
func (c *Catalog) DeleteIndex(ctx context.Context, indexID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.store.DeleteIndex(ctx, indexID)
	metrics.RecordOperation("delete", outcome(err))
	if err != nil {
		return err
	}
	c.refreshGauge(ctx)
	if c.logger != nil {
		c.logger.Debug("catalog index deleted", zap.String("index_id", indexID))
	}
	return nil
}

// GetIndex returns the metadata of an index.
func (c *Catalog) GetIndex(ctx context.Context, indexID string) (*models.IndexMetadata, error) {
	return c.store.GetIndex(ctx, indexID)
}

// ListIndexes returns registered indexes ordered by id.
func (c *Catalog) ListIndexes(ctx context.Context, offset, limit int) ([]*models.IndexMetadata, error) {
	return c.store.ListIndexes(ctx, offset, limit)
}

// CountIndexes returns the number of registered indexes.
func (c *Catalog) CountIndexes(ctx context.Context) (int64, error) {
	return c.store.CountIndexes(ctx)
}

// Describe returns the field summary of a registered index.
func (c *Catalog) Describe(ctx context.Context, indexID string) (*models.IndexDescription, error) {
	meta, err := c.store.GetIndex(ctx, indexID)
	if err != nil {
		return nil, err
	}
	d := models.Describe(meta.Config)
	d.IndexUID = meta.IndexUID
	return d, nil
}

// ParseDocuments maps an NDJSON stream with the doc mapping of a registered index.
func (c *Catalog) ParseDocuments(ctx context.Context, indexID string, r io.Reader) ([]docmapper.Result, models.ParseSummary, error) {
	meta, err := c.store.GetIndex(ctx, indexID)
	if err != nil {
		return nil, models.ParseSummary{}, err
	}
	var opts []docmapper.Option
	if c.logger != nil {
		opts = append(opts, docmapper.WithLogger(c.logger))
	}
	mapper, err := docmapper.New(meta.Config, opts...)
	if err != nil {
		return nil, models.ParseSummary{}, err
	}
	results, err := mapper.MapBatch(ctx, r)
	summary := Summarize(results)
	metrics.RecordMapped(summary.NumValid, summary.NumRejected)
	return results, summary, err
}

// Summarize counts valid and rejected results.
func Summarize(results []docmapper.Result) models.ParseSummary {
	s := models.ParseSummary{NumDocs: len(results)}
	for _, r := range results {
		if r.Err != nil {
			s.NumRejected++
		} else {
			s.NumValid++
		}
	}
	return s
}

// PreviewResult is the outcome of indexing sample documents in a sandbox.
type PreviewResult struct {
	Summary models.ParseSummary   `json:"summary"`
	Results []docmapper.Result    `json:"results,omitempty"`
	Search  *keyword.SearchResult `json:"search"`
}

// Preview indexes an NDJSON stream into a throwaway sandbox built from the
// config of a registered index and runs req against it.
func (c *Catalog) Preview(ctx context.Context, indexID string, r io.Reader, req keyword.SearchRequest) (*PreviewResult, error) {
	meta, err := c.store.GetIndex(ctx, indexID)
	if err != nil {
		return nil, err
	}
	return PreviewConfig(ctx, meta.Config, r, req, c.logger)
}

// PreviewConfig is Preview for an unregistered config. logger may be nil.
func PreviewConfig(ctx context.Context, cfg *indexconfig.IndexConfig, r io.Reader, req keyword.SearchRequest, logger *zap.Logger) (*PreviewResult, error) {
	var opts []keyword.SandboxOption
	if logger != nil {
		opts = append(opts, keyword.WithLogger(logger))
	}
	sb, err := keyword.NewSandbox(cfg, opts...)
	if err != nil {
		return nil, err
	}
	defer sb.Close()

	_, results, err := sb.IndexNDJSON(ctx, r)
	if err != nil {
		return nil, err
	}
	summary := Summarize(results)
	metrics.RecordMapped(summary.NumValid, summary.NumRejected)
	search, err := sb.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	out := &PreviewResult{Summary: summary, Search: search}
	for _, res := range results {
		if res.Err != nil {
			out.Results = append(out.Results, res)
		}
	}
	return out, nil
}

func (c *Catalog) refreshGauge(ctx context.Context) {
	if n, err := c.store.CountIndexes(ctx); err == nil {
		metrics.IndexesRegistered.Set(float64(n))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, indexconfig.ErrInvalidConfig),
		errors.Is(err, indexconfig.ErrForbiddenUpdate),
		errors.Is(err, indexconfig.ErrUnknownField):
		return metrics.OutcomeInvalid
	case errors.Is(err, storage.ErrIndexExists), errors.Is(err, ErrSourceConflict):
		return metrics.OutcomeConflict
	case errors.Is(err, storage.ErrIndexNotFound):
		return metrics.OutcomeNotFound
	default:
		return metrics.OutcomeError
	}
}
