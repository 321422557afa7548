package indexconfig

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/indexdef/pkg/utils"
)

// Tokenizers accepted on text and json fields.
const (
	TokenizerRaw               = "raw"
	TokenizerDefault           = "default"
	TokenizerEnStem            = "en_stem"
	TokenizerWhitespace        = "whitespace"
	TokenizerChineseCompatible = "chinese_compatible"
	TokenizerSourceCode        = "source_code_default"
	TokenizerLowercase         = "lowercase"
)

var knownTokenizers = map[string]struct{}{
	TokenizerRaw: {}, TokenizerDefault: {}, TokenizerEnStem: {}, TokenizerWhitespace: {},
	TokenizerChineseCompatible: {}, TokenizerSourceCode: {}, TokenizerLowercase: {},
}

// unknownName formats an "unknown <kind>" reason with a did-you-mean hint.
func unknownName(kind, name string, candidates []string) string {
	if hint := utils.Suggest(name, candidates); hint != "" {
		return fmt.Sprintf("unknown %s %q (did you mean %q?)", kind, name, hint)
	}
	return fmt.Sprintf("unknown %s %q", kind, name)
}

func mapKeys[K ~string, V any](m map[K]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, string(k))
	}
	return out
}

// KnownTokenizer reports whether name is an accepted tokenizer.
func KnownTokenizer(name string) bool {
	_, ok := knownTokenizers[name]
	return ok
}

var knownNormalizers = map[string]struct{}{"raw": {}, "lowercase": {}}

var knownRecordOptions = map[string]struct{}{"basic": {}, "freq": {}, "position": {}}

var (
	indexIDPattern   = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]{2,254}$`)
	fieldNamePattern = regexp.MustCompile(`^[@$_\-a-zA-Z][@$_/\.\-a-zA-Z0-9]{0,254}$`)
)

// ValidateIndexID checks the identifier syntax.
func ValidateIndexID(id string) error {
	if !indexIDPattern.MatchString(id) {
		return fmt.Errorf("index ID %q is invalid: must start with a letter, contain only letters, digits, '-', '_' or '.', and be 3 to 255 characters long", id)
	}
	return nil
}

// Validate checks every rule and returns all violations joined. Each
// violation satisfies errors.Is(err, ErrInvalidConfig).
func (c *IndexConfig) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if c.Version == "" {
		add(violationf("version", "is required"))
	}
	if err := ValidateIndexID(c.IndexID); err != nil {
		add(&ValidationError{Path: "index_id", Reason: err.Error()})
	}

	errs = append(errs, c.DocMapping.validate()...)

	if secs := c.IndexingSettings.CommitTimeoutSecs; secs != nil && *secs <= 0 {
		add(violationf("indexing_settings.commit_timeout_secs", "must be a positive integer, got %d", *secs))
	}
	if c.IndexingSettings.SplitNumDocsTarget < 0 {
		add(violationf("indexing_settings.split_num_docs_target", "must not be negative"))
	}
	if lvl := c.IndexingSettings.DocstoreCompressionLevel; lvl < 0 || lvl > 22 {
		add(violationf("indexing_settings.docstore_compression_level", "must be between 0 and 22, got %d", lvl))
	}

	if c.SearchSettings != nil {
		for i, name := range c.SearchSettings.DefaultSearchFields {
			path := fmt.Sprintf("search_settings.default_search_fields[%d]", i)
			f, ok := c.FieldByName(name)
			if !ok {
				add(violationf(path, "%s", unknownName("field", name, c.DocMapping.fieldNames())))
				continue
			}
			if !f.IsIndexed() {
				add(violationf(path, "field %q is not indexed", name))
			}
		}
	}

	if c.Retention != nil {
		if _, err := ParseRetentionPeriod(c.Retention.Period); err != nil {
			add(&ValidationError{Path: "retention.period", Reason: err.Error()})
		}
		if s := c.Retention.EvaluationSchedule; s != "" && !knownSchedule(s) {
			add(violationf("retention.schedule", "unknown schedule %q", s))
		}
	}

	return errors.Join(errs...)
}

func (m *DocMapping) validate() []error {
	var errs []error
	seen := make(map[string]int, len(m.FieldMappings))
	for i := range m.FieldMappings {
		f := &m.FieldMappings[i]
		path := fmt.Sprintf("doc_mapping.field_mappings[%d]", i)
		if prev, dup := seen[f.Name]; dup {
			errs = append(errs, violationf(path+".name", "duplicate field name %q (first declared at index %d)", f.Name, prev))
		} else {
			seen[f.Name] = i
		}
		errs = append(errs, f.validate(path)...)
	}

	switch m.Mode {
	case "", ModeLenient, ModeStrict, ModeDynamic:
	default:
		errs = append(errs, violationf("doc_mapping.mode", "unknown mode %q (expected lenient, strict or dynamic)", m.Mode))
	}

	if m.TimestampField != "" {
		idx, ok := seen[m.TimestampField]
		switch {
		case !ok:
			errs = append(errs, violationf("doc_mapping.timestamp_field", "%s", unknownName("field", m.TimestampField, m.fieldNames())))
		case m.FieldMappings[idx].Type != TypeDatetime:
			errs = append(errs, violationf("doc_mapping.timestamp_field", "field %q has type %q, expected datetime", m.TimestampField, m.FieldMappings[idx].Type))
		case !m.FieldMappings[idx].IsFast():
			errs = append(errs, violationf("doc_mapping.timestamp_field", "field %q must be a fast field", m.TimestampField))
		}
	}

	for i, tag := range m.TagFields {
		path := fmt.Sprintf("doc_mapping.tag_fields[%d]", i)
		idx, ok := seen[tag]
		if !ok {
			errs = append(errs, violationf(path, "%s", unknownName("field", tag, m.fieldNames())))
			continue
		}
		switch m.FieldMappings[idx].Type {
		case TypeText, TypeBool, TypeI64, TypeU64:
		default:
			errs = append(errs, violationf(path, "field %q of type %q cannot be a tag field", tag, m.FieldMappings[idx].Type))
		}
	}

	if m.PartitionKey != "" {
		for _, name := range partitionKeyFields(m.PartitionKey) {
			if _, ok := seen[name]; !ok {
				errs = append(errs, violationf("doc_mapping.partition_key", "unknown field %q", name))
			}
		}
	}
	if m.MaxNumPartitions < 0 {
		errs = append(errs, violationf("doc_mapping.max_num_partitions", "must not be negative"))
	}
	return errs
}

func (m *DocMapping) fieldNames() []string {
	names := make([]string, len(m.FieldMappings))
	for i, f := range m.FieldMappings {
		names[i] = f.Name
	}
	return names
}

func (f *FieldMapping) validate(path string) []error {
	var errs []error
	if !fieldNamePattern.MatchString(f.Name) {
		errs = append(errs, violationf(path+".name", "field name %q is invalid", f.Name))
	}
	if !f.Type.Valid() {
		errs = append(errs, violationf(path+".type", "%s", unknownName("type", string(f.Type), mapKeys(knownTypes))))
		return errs
	}

	if f.Tokenizer != "" {
		if !f.Type.Tokenizable() {
			errs = append(errs, violationf(path+".tokenizer", "tokenizer is only allowed on text and json fields, field %q is %s", f.Name, f.Type))
		} else if !KnownTokenizer(f.Tokenizer) {
			errs = append(errs, violationf(path+".tokenizer", "%s", unknownName("tokenizer", f.Tokenizer, mapKeys(knownTokenizers))))
		}
	}
	if f.Record != "" {
		if !f.Type.Tokenizable() {
			errs = append(errs, violationf(path+".record", "record is only allowed on text and json fields"))
		} else if _, ok := knownRecordOptions[f.Record]; !ok {
			errs = append(errs, violationf(path+".record", "unknown record option %q", f.Record))
		}
	}
	if f.Fieldnorms != nil && f.Type != TypeText {
		errs = append(errs, violationf(path+".fieldnorms", "fieldnorms is only allowed on text fields"))
	}
	if f.Fast != nil && f.Fast.Normalizer != "" {
		if !f.Type.Tokenizable() {
			errs = append(errs, violationf(path+".fast.normalizer", "normalizer is only allowed on text and json fields"))
		} else if _, ok := knownNormalizers[f.Fast.Normalizer]; !ok {
			errs = append(errs, violationf(path+".fast.normalizer", "unknown normalizer %q", f.Fast.Normalizer))
		}
	}
	if f.ExpandDots != nil && f.Type != TypeJSON {
		errs = append(errs, violationf(path+".expand_dots", "expand_dots is only allowed on json fields"))
	}
	if f.Coerce != nil && !f.Type.Numeric() {
		errs = append(errs, violationf(path+".coerce", "coerce is only allowed on numeric fields"))
	}

	if f.Type != TypeDatetime {
		if len(f.InputFormats) > 0 {
			errs = append(errs, violationf(path+".input_formats", "input_formats is only allowed on datetime fields"))
		}
		if f.OutputFormat != "" {
			errs = append(errs, violationf(path+".output_format", "output_format is only allowed on datetime fields"))
		}
		if f.FastPrecision != "" {
			errs = append(errs, violationf(path+".fast_precision", "fast_precision is only allowed on datetime fields"))
		}
		return errs
	}

	for j, format := range f.InputFormats {
		if err := ValidateInputFormat(format); err != nil {
			errs = append(errs, &ValidationError{Path: fmt.Sprintf("%s.input_formats[%d]", path, j), Reason: err.Error()})
		}
	}
	if f.OutputFormat != "" {
		if err := ValidateOutputFormat(f.OutputFormat); err != nil {
			errs = append(errs, &ValidationError{Path: path + ".output_format", Reason: err.Error()})
		}
	}
	if f.FastPrecision != "" && !f.FastPrecision.Valid() {
		errs = append(errs, violationf(path+".fast_precision", "unknown precision %q", f.FastPrecision))
	}
	return errs
}

// partitionKeyFields extracts field names from a partition key expression
// such as `tenant_id` or `hash_mod((service,level),100)`.
func partitionKeyFields(expr string) []string {
	var out []string
	for _, tok := range strings.FieldsFunc(expr, func(r rune) bool {
		return r == '(' || r == ')' || r == ',' || r == ' '
	}) {
		if tok == "hash_mod" {
			continue
		}
		if _, err := strconv.Atoi(tok); err == nil {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func knownSchedule(s string) bool {
	switch s {
	case "hourly", "daily", "weekly", "monthly", "yearly":
		return true
	}
	// five or six field cron expression
	n := len(strings.Fields(s))
	return n == 5 || n == 6
}

var periodUnits = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
	"w": 7 * 24 * time.Hour, "week": 7 * 24 * time.Hour, "weeks": 7 * 24 * time.Hour,
	"month": 30 * 24 * time.Hour, "months": 30 * 24 * time.Hour,
	"y": 365 * 24 * time.Hour, "year": 365 * 24 * time.Hour, "years": 365 * 24 * time.Hour,
}

// ParseRetentionPeriod parses human durations such as `30 days` or `1 hour`,
// and Go durations such as `72h`.
func ParseRetentionPeriod(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("retention period is required")
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("retention period %q must be positive", s)
		}
		return d, nil
	}
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, fmt.Errorf("retention period %q: expected `<number> <unit>`", s)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("retention period %q: %q is not a positive integer", s, fields[0])
	}
	unit, ok := periodUnits[strings.ToLower(fields[1])]
	if !ok {
		return 0, fmt.Errorf("retention period %q: unknown unit %q", s, fields[1])
	}
	return time.Duration(n) * unit, nil
}
