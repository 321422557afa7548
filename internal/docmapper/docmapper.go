// Package docmapper maps raw JSON documents onto a validated doc mapping:
// it types every declared field, extracts the timestamp and applies the
// mapping mode to undeclared keys.
package docmapper

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/indexdef/internal/indexconfig"
	"go.uber.org/zap"
)

var (
	// ErrMissingTimestamp is returned when the timestamp field is absent or null.
	ErrMissingTimestamp = errors.New("missing timestamp field")
	// ErrUndeclaredField is returned in strict mode for keys absent from the mapping.
	ErrUndeclaredField = errors.New("field is not declared in the doc mapping")
	// ErrNotObject is returned when a document is not a JSON object.
	ErrNotObject = errors.New("document is not a JSON object")
)

// maxLineBytes bounds a single NDJSON line.
const maxLineBytes = 10 << 20

// FieldError locates a coercion failure on one field.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// ParsedDoc is a document after mapping.
type ParsedDoc struct {
	// Fields holds typed values of declared fields: string, bool, int64,
	// uint64, float64, time.Time, map[string]interface{}, []byte, or a
	// []interface{} of those for multi-valued fields.
	Fields map[string]interface{} `json:"fields"`
	// FastValues holds the columnar value of fast fields: datetimes truncated
	// to their precision, text normalized.
	FastValues map[string]interface{} `json:"fast_values,omitempty"`
	// Timestamp is the truncated value of the timestamp field.
	Timestamp *time.Time `json:"timestamp,omitempty"`
	// Dynamic holds undeclared keys kept in dynamic mode.
	Dynamic map[string]interface{} `json:"dynamic,omitempty"`
	// Dropped lists undeclared keys ignored in lenient mode.
	Dropped []string `json:"dropped,omitempty"`
	// Source is the original document when store_source is enabled.
	Source json.RawMessage `json:"source,omitempty"`
}

// Result is the outcome for one NDJSON line.
type Result struct {
	Line int        `json:"line"`
	Doc  *ParsedDoc `json:"doc,omitempty"`
	Err  error      `json:"-"`
}

// MarshalJSON renders Err as a string.
func (r Result) MarshalJSON() ([]byte, error) {
	type alias Result
	out := struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias: alias(r)}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// DocMapper maps documents for one index config.
type DocMapper struct {
	cfg       *indexconfig.IndexConfig
	fields    map[string]*indexconfig.FieldMapping
	timestamp *indexconfig.FieldMapping
	mode      indexconfig.Mode
	logger    *zap.Logger // optional
}

// Option configures a DocMapper.
type Option func(*DocMapper)

// WithLogger sets a logger for debug output (rejected documents).
func WithLogger(l *zap.Logger) Option {
	return func(m *DocMapper) { m.logger = l }
}

// New builds a mapper from cfg. Defaults are applied to a copy; cfg itself
// is not modified. The config must be valid.
func New(cfg *indexconfig.IndexConfig, opts ...Option) (*DocMapper, error) {
	c := cfg.Clone()
	indexconfig.ApplyDefaults(c)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("cannot build doc mapper for %q: %w", cfg.IndexID, err)
	}
	m := &DocMapper{
		cfg:    c,
		fields: make(map[string]*indexconfig.FieldMapping, len(c.DocMapping.FieldMappings)),
		mode:   c.DocMapping.Mode,
	}
	for i := range c.DocMapping.FieldMappings {
		f := &c.DocMapping.FieldMappings[i]
		m.fields[f.Name] = f
	}
	if ts, ok := c.TimestampFieldMapping(); ok {
		m.timestamp = ts
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the defaulted config the mapper was built from.
func (m *DocMapper) Config() *indexconfig.IndexConfig {
	return m.cfg
}

// Map decodes one JSON object and maps it.
func (m *DocMapper) Map(raw []byte) (*ParsedDoc, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid JSON: trailing data after the document")
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, ErrNotObject
	}
	doc, err := m.MapObject(obj)
	if err != nil {
		return nil, err
	}
	if m.cfg.DocMapping.StoreSource != nil && *m.cfg.DocMapping.StoreSource {
		doc.Source = append(json.RawMessage(nil), bytes.TrimSpace(raw)...)
	}
	return doc, nil
}

// MapObject maps an already decoded object. Numbers should be json.Number
// or float64.
func (m *DocMapper) MapObject(obj map[string]interface{}) (*ParsedDoc, error) {
	doc := &ParsedDoc{Fields: make(map[string]interface{}, len(m.fields))}
	for key, value := range obj {
		f, declared := m.fields[key]
		if !declared {
			switch m.mode {
			case indexconfig.ModeStrict:
				return nil, &FieldError{Field: key, Err: ErrUndeclaredField}
			case indexconfig.ModeDynamic:
				if doc.Dynamic == nil {
					doc.Dynamic = make(map[string]interface{})
				}
				doc.Dynamic[key] = value
			default:
				doc.Dropped = append(doc.Dropped, key)
			}
			continue
		}
		if value == nil {
			continue
		}
		typed, err := m.coerceValue(f, value)
		if err != nil {
			return nil, &FieldError{Field: key, Err: err}
		}
		doc.Fields[key] = typed
		if f.IsFast() {
			if doc.FastValues == nil {
				doc.FastValues = make(map[string]interface{})
			}
			doc.FastValues[key] = fastValue(f, typed)
		}
	}

	if m.timestamp != nil {
		v, ok := doc.FastValues[m.timestamp.Name]
		if !ok {
			return nil, &FieldError{Field: m.timestamp.Name, Err: ErrMissingTimestamp}
		}
		ts, ok := v.(time.Time)
		if !ok {
			return nil, &FieldError{Field: m.timestamp.Name, Err: fmt.Errorf("timestamp field must be single-valued")}
		}
		doc.Timestamp = &ts
	}
	sort.Strings(doc.Dropped)
	return doc, nil
}

// MapBatch maps an NDJSON stream. A bad line is recorded in its Result and
// processing continues; the returned error is only for read failures or
// context cancellation.
func (m *DocMapper) MapBatch(ctx context.Context, r io.Reader) ([]Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var results []Result
	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		doc, err := m.Map(raw)
		if err != nil && m.logger != nil {
			m.logger.Debug("document rejected", zap.String("index_id", m.cfg.IndexID), zap.Int("line", line), zap.Error(err))
		}
		results = append(results, Result{Line: line, Doc: doc, Err: err})
	}
	if err := scanner.Err(); err != nil {
		return results, fmt.Errorf("failed to read documents: %w", err)
	}
	return results, nil
}

func (m *DocMapper) coerceValue(f *indexconfig.FieldMapping, value interface{}) (interface{}, error) {
	if arr, ok := value.([]interface{}); ok && f.Type != indexconfig.TypeJSON {
		out := make([]interface{}, 0, len(arr))
		for i, item := range arr {
			if item == nil {
				continue
			}
			if _, nested := item.([]interface{}); nested {
				return nil, fmt.Errorf("element %d: nested arrays are not supported", i)
			}
			v, err := coerceScalar(f, item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out = append(out, v)
		}
		return out, nil
	}
	return coerceScalar(f, value)
}

func coerceScalar(f *indexconfig.FieldMapping, value interface{}) (interface{}, error) {
	switch f.Type {
	case indexconfig.TypeText:
		s, ok := value.(string)
		if !ok {
			return nil, typeMismatch("text", value)
		}
		return s, nil
	case indexconfig.TypeBool:
		b, ok := value.(bool)
		if !ok {
			return nil, typeMismatch("bool", value)
		}
		return b, nil
	case indexconfig.TypeI64:
		s, err := numberString(f, value)
		if err != nil {
			return nil, err
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected i64, got %s", s)
		}
		return i, nil
	case indexconfig.TypeU64:
		s, err := numberString(f, value)
		if err != nil {
			return nil, err
		}
		u, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected u64, got %s", s)
		}
		return u, nil
	case indexconfig.TypeF64:
		s, err := numberString(f, value)
		if err != nil {
			return nil, err
		}
		fl, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("expected f64, got %s", s)
		}
		return fl, nil
	case indexconfig.TypeDatetime:
		return indexconfig.ParseDatetime(value, f.InputFormats)
	case indexconfig.TypeIP:
		s, ok := value.(string)
		if !ok {
			return nil, typeMismatch("ip", value)
		}
		addr, err := netip.ParseAddr(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("invalid ip address %q", s)
		}
		return addr.String(), nil
	case indexconfig.TypeBytes:
		s, ok := value.(string)
		if !ok {
			return nil, typeMismatch("bytes", value)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("bytes value is not valid base64: %w", err)
		}
		return b, nil
	case indexconfig.TypeJSON:
		obj, ok := value.(map[string]interface{})
		if !ok {
			return nil, typeMismatch("json object", value)
		}
		if f.ExpandDots != nil && *f.ExpandDots {
			return expandDots(obj), nil
		}
		return obj, nil
	}
	return nil, fmt.Errorf("unsupported field type %q", f.Type)
}

func numberString(f *indexconfig.FieldMapping, value interface{}) (string, error) {
	switch v := value.(type) {
	case json.Number:
		return v.String(), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case string:
		if !f.CoerceOrDefault() {
			return "", fmt.Errorf("expected %s, got string %q (coerce is disabled)", f.Type, v)
		}
		return strings.TrimSpace(v), nil
	}
	return "", typeMismatch(string(f.Type), value)
}

func typeMismatch(want string, value interface{}) error {
	return fmt.Errorf("expected %s, got %s", want, jsonKind(value))
}

func jsonKind(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "bool"
	case json.Number, float64:
		return "number"
	case map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	}
	return fmt.Sprintf("%T", v)
}

func fastValue(f *indexconfig.FieldMapping, typed interface{}) interface{} {
	if arr, ok := typed.([]interface{}); ok {
		out := make([]interface{}, len(arr))
		for i, v := range arr {
			out[i] = fastScalar(f, v)
		}
		return out
	}
	return fastScalar(f, typed)
}

func fastScalar(f *indexconfig.FieldMapping, v interface{}) interface{} {
	switch val := v.(type) {
	case time.Time:
		return f.FastPrecision.Truncate(val)
	case string:
		if f.Fast.Normalizer == "lowercase" {
			return strings.ToLower(val)
		}
	}
	return v
}

// expandDots turns {"a.b": 1} into {"a": {"b": 1}}.
func expandDots(obj map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		if child, ok := v.(map[string]interface{}); ok {
			v = expandDots(child)
		}
		parts := strings.Split(k, ".")
		cur := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]interface{})
			if !ok {
				next = make(map[string]interface{})
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = v
	}
	return out
}
