// Package models defines the data structures shared by the catalog, the API and the CLI.
package models

import (
	"time"

	"github.com/hyperjump/indexdef/internal/indexconfig"
)

// IndexMetadata is a registered index config plus its bookkeeping.
type IndexMetadata struct {
	// IndexUID is "<index_id>:<incarnation>"; a re-created index gets a new one.
	IndexUID   string                   `json:"index_uid" yaml:"index_uid"`
	IndexID    string                   `json:"index_id" yaml:"index_id"`
	Config     *indexconfig.IndexConfig `json:"index_config" yaml:"index_config"`
	SourcePath string                   `json:"source_path,omitempty" yaml:"source_path,omitempty"`
	CreatedAt  time.Time                `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time                `json:"updated_at" yaml:"updated_at"`
}

// FieldSummary describes one field mapping after defaults.
type FieldSummary struct {
	Name         string   `json:"name" yaml:"name"`
	Type         string   `json:"type" yaml:"type"`
	Indexed      bool     `json:"indexed" yaml:"indexed"`
	Stored       bool     `json:"stored" yaml:"stored"`
	Fast         bool     `json:"fast" yaml:"fast"`
	Tokenizer    string   `json:"tokenizer,omitempty" yaml:"tokenizer,omitempty"`
	InputFormats []string `json:"input_formats,omitempty" yaml:"input_formats,omitempty"`
	Precision    string   `json:"fast_precision,omitempty" yaml:"fast_precision,omitempty"`
	Timestamp    bool     `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	Tag          bool     `json:"tag,omitempty" yaml:"tag,omitempty"`
}

// IndexDescription is the describe view of an index.
type IndexDescription struct {
	IndexID           string         `json:"index_id" yaml:"index_id"`
	IndexUID          string         `json:"index_uid,omitempty" yaml:"index_uid,omitempty"`
	Mode              string         `json:"mode" yaml:"mode"`
	TimestampField    string         `json:"timestamp_field,omitempty" yaml:"timestamp_field,omitempty"`
	CommitTimeoutSecs int            `json:"commit_timeout_secs" yaml:"commit_timeout_secs"`
	Retention         string         `json:"retention_period,omitempty" yaml:"retention_period,omitempty"`
	NumFields         int            `json:"num_fields" yaml:"num_fields"`
	NumFastFields     int            `json:"num_fast_fields" yaml:"num_fast_fields"`
	Fields            []FieldSummary `json:"fields" yaml:"fields"`
}

// Describe summarizes cfg. Defaults are applied to a copy.
func Describe(cfg *indexconfig.IndexConfig) *IndexDescription {
	c := cfg.Clone()
	indexconfig.ApplyDefaults(c)
	tags := make(map[string]bool, len(c.DocMapping.TagFields))
	for _, name := range c.DocMapping.TagFields {
		tags[name] = true
	}
	d := &IndexDescription{
		IndexID:           c.IndexID,
		Mode:              string(c.DocMapping.Mode),
		TimestampField:    c.DocMapping.TimestampField,
		CommitTimeoutSecs: c.IndexingSettings.CommitTimeoutSecsOrDefault(),
		NumFields:         len(c.DocMapping.FieldMappings),
		Fields:            make([]FieldSummary, 0, len(c.DocMapping.FieldMappings)),
	}
	if c.Retention != nil {
		d.Retention = c.Retention.Period
	}
	for _, f := range c.DocMapping.FieldMappings {
		s := FieldSummary{
			Name:         f.Name,
			Type:         string(f.Type),
			Indexed:      f.IsIndexed(),
			Stored:       f.IsStored(),
			Fast:         f.IsFast(),
			Tokenizer:    f.Tokenizer,
			InputFormats: f.InputFormats,
			Precision:    string(f.FastPrecision),
			Timestamp:    f.Name == c.DocMapping.TimestampField,
			Tag:          tags[f.Name],
		}
		if s.Fast {
			d.NumFastFields++
		}
		d.Fields = append(d.Fields, s)
	}
	return d
}

// Violation is one entry of a validation report.
type Violation struct {
	Path   string `json:"path" yaml:"path"`
	Reason string `json:"reason" yaml:"reason"`
}

// ValidationReport is returned by dry-run validation.
type ValidationReport struct {
	Valid      bool        `json:"valid" yaml:"valid"`
	IndexID    string      `json:"index_id,omitempty" yaml:"index_id,omitempty"`
	Violations []Violation `json:"violations,omitempty" yaml:"violations,omitempty"`
	// Error is set when the input could not be parsed at all.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewValidationReport builds a report from the result of Validate (or a parse error).
func NewValidationReport(indexID string, err error) *ValidationReport {
	r := &ValidationReport{Valid: err == nil, IndexID: indexID}
	if err == nil {
		return r
	}
	vs := indexconfig.Violations(err)
	if len(vs) == 0 {
		r.Error = err.Error()
		return r
	}
	for _, v := range vs {
		r.Violations = append(r.Violations, Violation{Path: v.Path, Reason: v.Reason})
	}
	return r
}

// ParseSummary counts the outcome of mapping a batch of documents.
type ParseSummary struct {
	NumDocs     int `json:"num_docs" yaml:"num_docs"`
	NumValid    int `json:"num_valid" yaml:"num_valid"`
	NumRejected int `json:"num_rejected" yaml:"num_rejected"`
}

// StatusResponse is returned by the status endpoint.
type StatusResponse struct {
	Status        string   `json:"status"`
	Version       string   `json:"version"`
	IndexCount    int64    `json:"index_count"`
	MetastorePath string   `json:"metastore_path"`
	DiskUsage     int64    `json:"disk_usage_bytes"`
	WatchedPaths  []string `json:"watched_paths,omitempty"`
}
