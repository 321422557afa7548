package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/indexdef/internal/catalog"
	"github.com/hyperjump/indexdef/internal/config"
	"github.com/hyperjump/indexdef/internal/docmapper"
	"github.com/hyperjump/indexdef/internal/indexconfig"
	"github.com/hyperjump/indexdef/internal/keyword"
	"github.com/hyperjump/indexdef/internal/models"
	"github.com/hyperjump/indexdef/internal/storage"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.catalog.CountIndexes(r.Context())
	if err != nil {
		s.logger.Error("status: count indexes failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := models.StatusResponse{
		Status:        "ok",
		Version:       s.version,
		IndexCount:    count,
		MetastorePath: s.config.Storage.DatabasePath,
	}
	if diskBytes, err := storage.DiskUsageBytes(storage.MetastoreFiles(s.config.Storage.DatabasePath)...); err == nil {
		resp.DiskUsage = diskBytes
	}
	if s.watch != nil {
		resp.WatchedPaths = s.watch.Directories()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// errBadBody marks request bodies that are not a parsable index config.
var errBadBody = errors.New("malformed request body")

// readConfig parses an index config (YAML or JSON) from the request body.
func (s *Server) readConfig(w http.ResponseWriter, r *http.Request) (*indexconfig.IndexConfig, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.API.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	cfg, err := indexconfig.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadBody, err)
	}
	return cfg, nil
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.readConfig(w, r)
	if err != nil {
		s.respondJSON(w, http.StatusOK, models.NewValidationReport("", err))
		return
	}
	c := cfg.Clone()
	indexconfig.ApplyDefaults(c)
	s.respondJSON(w, http.StatusOK, models.NewValidationReport(c.IndexID, c.Validate()))
}

func (s *Server) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	indexes, err := s.catalog.ListIndexes(r.Context(), offset, limit)
	if err != nil {
		s.logger.Error("list indexes failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if indexes == nil {
		indexes = []*models.IndexMetadata{}
	}
	s.respondJSON(w, http.StatusOK, indexes)
}

func (s *Server) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.readConfig(w, r)
	if err != nil {
		s.respondCatalogError(w, err)
		return
	}
	s.logger.Debug("create index request", zap.String("index_id", cfg.IndexID))
	meta, err := s.catalog.CreateIndex(r.Context(), cfg, "")
	if err != nil {
		s.respondCatalogError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, meta)
}

// handleGetIndex returns index metadata, or only the config when ?format=yaml|json is set.
func (s *Server) handleGetIndex(w http.ResponseWriter, r *http.Request) {
	meta, err := s.catalog.GetIndex(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondCatalogError(w, err)
		return
	}
	formatParam := r.URL.Query().Get("format")
	if formatParam == "" {
		s.respondJSON(w, http.StatusOK, meta)
		return
	}
	format, err := indexconfig.ParseFormat(formatParam)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := indexconfig.Marshal(meta.Config, format)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	contentType := "application/json"
	if format == indexconfig.FormatYAML {
		contentType = "application/yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleUpdateIndex(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cfg, err := s.readConfig(w, r)
	if err != nil {
		s.respondCatalogError(w, err)
		return
	}
	if cfg.IndexID != id {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("index_id %q does not match %q", cfg.IndexID, id))
		return
	}
	s.logger.Debug("update index request", zap.String("index_id", id))
	meta, err := s.catalog.UpdateIndex(r.Context(), cfg)
	if err != nil {
		s.respondCatalogError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, meta)
}

func (s *Server) handleDeleteIndex(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete index request", zap.String("index_id", id))
	if err := s.catalog.DeleteIndex(r.Context(), id); err != nil {
		s.respondCatalogError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"index_id": id, "status": "deleted"})
}

func (s *Server) handleDescribeIndex(w http.ResponseWriter, r *http.Request) {
	desc, err := s.catalog.Describe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondCatalogError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, desc)
}

type parseResponse struct {
	Summary models.ParseSummary `json:"summary"`
	Results []docmapper.Result  `json:"results"`
}

// handleParseDocuments maps an NDJSON body with the doc mapping of an index.
func (s *Server) handleParseDocuments(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.config.API.MaxBodyBytes)
	results, summary, err := s.catalog.ParseDocuments(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		s.respondCatalogError(w, err)
		return
	}
	if results == nil {
		results = []docmapper.Result{}
	}
	s.respondJSON(w, http.StatusOK, parseResponse{Summary: summary, Results: results})
}

// handlePreview indexes an NDJSON body into a sandbox and searches it.
// Query parameters: q, limit, fuzzy, fuzziness, start_timestamp, end_timestamp, sort=timestamp.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	req, err := searchRequestFromQuery(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	body := http.MaxBytesReader(w, r.Body, s.config.API.MaxBodyBytes)
	res, err := s.catalog.Preview(r.Context(), chi.URLParam(r, "id"), body, req)
	if err != nil {
		s.respondCatalogError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func searchRequestFromQuery(r *http.Request) (keyword.SearchRequest, error) {
	q := r.URL.Query()
	req := keyword.SearchRequest{
		Query:           q.Get("q"),
		SortByTimestamp: q.Get("sort") == "timestamp",
	}
	var err error
	if req.Limit, err = queryInt(r, "limit"); err != nil {
		return req, err
	}
	if req.Fuzziness, err = queryInt(r, "fuzziness"); err != nil {
		return req, err
	}
	if v := q.Get("fuzzy"); v != "" {
		if req.Fuzzy, err = strconv.ParseBool(v); err != nil {
			return req, fmt.Errorf("invalid fuzzy: %q", v)
		}
	}
	if req.StartTimestamp, err = queryTime(r, "start_timestamp"); err != nil {
		return req, err
	}
	if req.EndTimestamp, err = queryTime(r, "end_timestamp"); err != nil {
		return req, err
	}
	return req, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}

// queryTime accepts RFC 3339 or Unix seconds.
func queryTime(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		t := time.Unix(secs, 0).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %q", name, v)
	}
	return &t, nil
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistWatchDirectories writes the current watch list back to the config file.
func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// statusFor maps catalog and config errors to HTTP status codes.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, storage.ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrIndexExists), errors.Is(err, catalog.ErrSourceConflict):
		return http.StatusConflict
	case errors.Is(err, indexconfig.ErrInvalidConfig),
		errors.Is(err, indexconfig.ErrUnknownField),
		errors.Is(err, indexconfig.ErrForbiddenUpdate),
		errors.Is(err, keyword.ErrNoTimestampField),
		errors.Is(err, errBadBody):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Error      string             `json:"error"`
	Violations []models.Violation `json:"violations,omitempty"`
}

func (s *Server) respondCatalogError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	resp := errorResponse{Error: err.Error()}
	for _, v := range indexconfig.Violations(err) {
		resp.Violations = append(resp.Violations, models.Violation{Path: v.Path, Reason: v.Reason})
	}
	s.respondJSON(w, status, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
