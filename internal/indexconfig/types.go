// Package indexconfig defines the index descriptor (doc mapping, indexing settings)
// and provides strict parsing, defaults, validation and round-trip serialization.
package indexconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// IndexConfig is the index descriptor: an identifier, a schema version, the
// document mapping and the settings governing ingestion.
type IndexConfig struct {
	Version          Version          `yaml:"version" json:"version"`
	IndexID          string           `yaml:"index_id" json:"index_id"`
	IndexURI         string           `yaml:"index_uri,omitempty" json:"index_uri,omitempty"`
	DocMapping       DocMapping       `yaml:"doc_mapping" json:"doc_mapping"`
	IndexingSettings IndexingSettings `yaml:"indexing_settings" json:"indexing_settings"`
	SearchSettings   *SearchSettings  `yaml:"search_settings,omitempty" json:"search_settings,omitempty"`
	Retention        *RetentionPolicy `yaml:"retention,omitempty" json:"retention,omitempty"`
}

// Version is the config schema version. It is kept verbatim so that `0.7`
// and `"0.7"` both load and re-serialize as a plain scalar.
type Version string

// MarshalYAML emits the version as an untagged scalar.
func (v Version) MarshalYAML() (interface{}, error) {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: string(v)}, nil
}

// DocMapping declares how document fields are typed and indexed.
type DocMapping struct {
	FieldMappings      []FieldMapping `yaml:"field_mappings" json:"field_mappings"`
	TimestampField     string         `yaml:"timestamp_field,omitempty" json:"timestamp_field,omitempty"`
	TagFields          []string       `yaml:"tag_fields,omitempty" json:"tag_fields,omitempty"`
	Mode               Mode           `yaml:"mode,omitempty" json:"mode,omitempty"`
	StoreSource        *bool          `yaml:"store_source,omitempty" json:"store_source,omitempty"`
	IndexFieldPresence *bool          `yaml:"index_field_presence,omitempty" json:"index_field_presence,omitempty"`
	PartitionKey       string         `yaml:"partition_key,omitempty" json:"partition_key,omitempty"`
	MaxNumPartitions   int            `yaml:"max_num_partitions,omitempty" json:"max_num_partitions,omitempty"`
}

// FieldMapping is the type and indexing behavior of one document field.
// Optional keys are pointers or omitempty so an unset key stays unset on re-serialization.
type FieldMapping struct {
	Name          string        `yaml:"name" json:"name"`
	Type          FieldType     `yaml:"type" json:"type"`
	Description   string        `yaml:"description,omitempty" json:"description,omitempty"`
	Tokenizer     string        `yaml:"tokenizer,omitempty" json:"tokenizer,omitempty"`
	Record        string        `yaml:"record,omitempty" json:"record,omitempty"`
	Fieldnorms    *bool         `yaml:"fieldnorms,omitempty" json:"fieldnorms,omitempty"`
	Stored        *bool         `yaml:"stored,omitempty" json:"stored,omitempty"`
	Indexed       *bool         `yaml:"indexed,omitempty" json:"indexed,omitempty"`
	Fast          *FastOption   `yaml:"fast,omitempty" json:"fast,omitempty"`
	InputFormats  []string      `yaml:"input_formats,omitempty" json:"input_formats,omitempty"`
	OutputFormat  string        `yaml:"output_format,omitempty" json:"output_format,omitempty"`
	FastPrecision DatePrecision `yaml:"fast_precision,omitempty" json:"fast_precision,omitempty"`
	ExpandDots    *bool         `yaml:"expand_dots,omitempty" json:"expand_dots,omitempty"`
	Coerce        *bool         `yaml:"coerce,omitempty" json:"coerce,omitempty"`
}

// IsFast reports whether the field is flagged for columnar access.
func (f *FieldMapping) IsFast() bool {
	return f.Fast != nil && f.Fast.Enabled
}

// IsStored reports whether the field value is kept in the docstore (default true).
func (f *FieldMapping) IsStored() bool {
	return f.Stored == nil || *f.Stored
}

// IsIndexed reports whether the field is searchable (default true).
func (f *FieldMapping) IsIndexed() bool {
	return f.Indexed == nil || *f.Indexed
}

// CoerceOrDefault reports whether string values may be coerced to numbers (default true).
func (f *FieldMapping) CoerceOrDefault() bool {
	return f.Coerce == nil || *f.Coerce
}

// FieldType is the declared type of a field.
type FieldType string

const (
	TypeText     FieldType = "text"
	TypeBool     FieldType = "bool"
	TypeJSON     FieldType = "json"
	TypeDatetime FieldType = "datetime"
	TypeI64      FieldType = "i64"
	TypeU64      FieldType = "u64"
	TypeF64      FieldType = "f64"
	TypeIP       FieldType = "ip"
	TypeBytes    FieldType = "bytes"
)

var knownTypes = map[FieldType]struct{}{
	TypeText: {}, TypeBool: {}, TypeJSON: {}, TypeDatetime: {},
	TypeI64: {}, TypeU64: {}, TypeF64: {}, TypeIP: {}, TypeBytes: {},
}

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// Tokenizable reports whether a tokenizer can be applied to fields of this type.
func (t FieldType) Tokenizable() bool {
	return t == TypeText || t == TypeJSON
}

// Numeric reports whether the type is one of the numeric types.
func (t FieldType) Numeric() bool {
	return t == TypeI64 || t == TypeU64 || t == TypeF64
}

// Mode controls how fields absent from the mapping are handled.
type Mode string

const (
	ModeLenient Mode = "lenient"
	ModeStrict  Mode = "strict"
	ModeDynamic Mode = "dynamic"
)

// FastOption is the `fast` key: either a boolean or an object carrying a
// normalizer for text fields.
type FastOption struct {
	Enabled    bool
	Normalizer string
}

// Fast returns an enabled FastOption.
func Fast() *FastOption {
	return &FastOption{Enabled: true}
}

// UnmarshalYAML accepts `fast: true` and `fast: {normalizer: lowercase}`.
func (f *FastOption) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var b bool
		if err := value.Decode(&b); err != nil {
			return fmt.Errorf("fast: expected bool, got %q", value.Value)
		}
		f.Enabled = b
		f.Normalizer = ""
		return nil
	case yaml.MappingNode:
		normalizer := ""
		for i := 0; i+1 < len(value.Content); i += 2 {
			key, val := value.Content[i], value.Content[i+1]
			if key.Value != "normalizer" {
				return fmt.Errorf("%w: line %d: field %s not found in fast options", ErrUnknownField, key.Line, key.Value)
			}
			if err := val.Decode(&normalizer); err != nil {
				return fmt.Errorf("fast.normalizer: %w", err)
			}
		}
		f.Enabled = true
		f.Normalizer = normalizer
		return nil
	default:
		return fmt.Errorf("fast: expected bool or object at line %d", value.Line)
	}
}

func (f FastOption) marshalValue() interface{} {
	if f.Normalizer != "" {
		return map[string]string{"normalizer": f.Normalizer}
	}
	return f.Enabled
}

// MarshalYAML emits a bool unless a normalizer is set.
func (f FastOption) MarshalYAML() (interface{}, error) {
	return f.marshalValue(), nil
}

// MarshalJSON emits a bool unless a normalizer is set.
func (f FastOption) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.marshalValue())
}

// UnmarshalJSON mirrors UnmarshalYAML.
func (f *FastOption) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		f.Enabled = b
		f.Normalizer = ""
		return nil
	}
	var raw struct {
		Normalizer string `json:"normalizer"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("fast: expected bool or object: %w", err)
	}
	f.Enabled = true
	f.Normalizer = raw.Normalizer
	return nil
}

// IndexingSettings holds ingestion parameters. CommitTimeoutSecs is a pointer
// so that an explicit 0 is kept apart from an absent key.
type IndexingSettings struct {
	CommitTimeoutSecs        *int `yaml:"commit_timeout_secs,omitempty" json:"commit_timeout_secs,omitempty"`
	SplitNumDocsTarget       int  `yaml:"split_num_docs_target,omitempty" json:"split_num_docs_target,omitempty"`
	DocstoreBlocksize        int  `yaml:"docstore_blocksize,omitempty" json:"docstore_blocksize,omitempty"`
	DocstoreCompressionLevel int  `yaml:"docstore_compression_level,omitempty" json:"docstore_compression_level,omitempty"`
}

// Seconds returns a commit timeout value for IndexingSettings.
func Seconds(n int) *int {
	return &n
}

// CommitTimeoutSecsOrDefault returns the commit timeout in seconds, or the
// default when the key is unset.
func (s IndexingSettings) CommitTimeoutSecsOrDefault() int {
	if s.CommitTimeoutSecs == nil {
		return DefaultCommitTimeoutSecs
	}
	return *s.CommitTimeoutSecs
}

// CommitTimeout is the maximum time uncommitted documents stay buffered.
func (s IndexingSettings) CommitTimeout() time.Duration {
	return time.Duration(s.CommitTimeoutSecsOrDefault()) * time.Second
}

// SearchSettings holds query-time defaults.
type SearchSettings struct {
	DefaultSearchFields []string `yaml:"default_search_fields,omitempty" json:"default_search_fields,omitempty"`
}

// RetentionPolicy declares how long splits are kept and when the policy runs.
type RetentionPolicy struct {
	Period             string `yaml:"period" json:"period"`
	EvaluationSchedule string `yaml:"schedule,omitempty" json:"schedule,omitempty"`
}

// FieldByName returns the mapping for name.
func (c *IndexConfig) FieldByName(name string) (*FieldMapping, bool) {
	for i := range c.DocMapping.FieldMappings {
		if c.DocMapping.FieldMappings[i].Name == name {
			return &c.DocMapping.FieldMappings[i], true
		}
	}
	return nil, false
}

// TimestampFieldMapping returns the mapping of the designated timestamp field.
func (c *IndexConfig) TimestampFieldMapping() (*FieldMapping, bool) {
	if c.DocMapping.TimestampField == "" {
		return nil, false
	}
	return c.FieldByName(c.DocMapping.TimestampField)
}

// FastFields returns the names of all fast fields in mapping order.
func (c *IndexConfig) FastFields() []string {
	var out []string
	for i := range c.DocMapping.FieldMappings {
		if c.DocMapping.FieldMappings[i].IsFast() {
			out = append(out, c.DocMapping.FieldMappings[i].Name)
		}
	}
	return out
}

// CommitTimeout is shorthand for IndexingSettings.CommitTimeout.
func (c *IndexConfig) CommitTimeout() time.Duration {
	return c.IndexingSettings.CommitTimeout()
}

// Clone returns a deep copy of c.
func (c *IndexConfig) Clone() *IndexConfig {
	out := *c
	out.DocMapping.FieldMappings = make([]FieldMapping, len(c.DocMapping.FieldMappings))
	for i, f := range c.DocMapping.FieldMappings {
		out.DocMapping.FieldMappings[i] = f.clone()
	}
	out.DocMapping.TagFields = cloneStrings(c.DocMapping.TagFields)
	out.DocMapping.StoreSource = cloneBool(c.DocMapping.StoreSource)
	out.DocMapping.IndexFieldPresence = cloneBool(c.DocMapping.IndexFieldPresence)
	if c.SearchSettings != nil {
		s := SearchSettings{DefaultSearchFields: cloneStrings(c.SearchSettings.DefaultSearchFields)}
		out.SearchSettings = &s
	}
	if c.Retention != nil {
		r := *c.Retention
		out.Retention = &r
	}
	if c.IndexingSettings.CommitTimeoutSecs != nil {
		out.IndexingSettings.CommitTimeoutSecs = Seconds(*c.IndexingSettings.CommitTimeoutSecs)
	}
	return &out
}

func (f FieldMapping) clone() FieldMapping {
	out := f
	out.Fieldnorms = cloneBool(f.Fieldnorms)
	out.Stored = cloneBool(f.Stored)
	out.Indexed = cloneBool(f.Indexed)
	out.ExpandDots = cloneBool(f.ExpandDots)
	out.Coerce = cloneBool(f.Coerce)
	if f.Fast != nil {
		fast := *f.Fast
		out.Fast = &fast
	}
	out.InputFormats = cloneStrings(f.InputFormats)
	return out
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
