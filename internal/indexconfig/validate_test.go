package indexconfig

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validConfig() *IndexConfig {
	return &IndexConfig{
		Version: "0.7",
		IndexID: "events",
		DocMapping: DocMapping{
			FieldMappings: []FieldMapping{
				{Name: "body", Type: TypeText, Tokenizer: TokenizerDefault},
				{Name: "level", Type: TypeText, Tokenizer: TokenizerRaw, Fast: Fast()},
				{Name: "ok", Type: TypeBool, Fast: Fast()},
				{Name: "attrs", Type: TypeJSON},
				{Name: "ts", Type: TypeDatetime, Fast: Fast(), InputFormats: []string{"rfc3339"}, FastPrecision: PrecisionSeconds},
			},
			TimestampField: "ts",
		},
		IndexingSettings: IndexingSettings{CommitTimeoutSecs: Seconds(10)},
	}
}

func TestValidate_valid(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestValidate_violations(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *IndexConfig)
		wantPath string
	}{
		{"invalid index id", func(c *IndexConfig) { c.IndexID = "1x" }, "index_id"},
		{"index id too short", func(c *IndexConfig) { c.IndexID = "ab" }, "index_id"},
		{"missing version", func(c *IndexConfig) { c.Version = "" }, "version"},
		{"duplicate field", func(c *IndexConfig) {
			c.DocMapping.FieldMappings = append(c.DocMapping.FieldMappings, FieldMapping{Name: "body", Type: TypeText})
		}, "doc_mapping.field_mappings[5].name"},
		{"invalid field name", func(c *IndexConfig) { c.DocMapping.FieldMappings[0].Name = "9 lives" }, "doc_mapping.field_mappings[0].name"},
		{"unknown type", func(c *IndexConfig) { c.DocMapping.FieldMappings[0].Type = "string" }, "doc_mapping.field_mappings[0].type"},
		{"timestamp missing", func(c *IndexConfig) { c.DocMapping.TimestampField = "nope" }, "doc_mapping.timestamp_field"},
		{"timestamp not datetime", func(c *IndexConfig) { c.DocMapping.TimestampField = "body" }, "doc_mapping.timestamp_field"},
		{"timestamp not fast", func(c *IndexConfig) { c.DocMapping.FieldMappings[4].Fast = nil }, "doc_mapping.timestamp_field"},
		{"tokenizer on bool", func(c *IndexConfig) { c.DocMapping.FieldMappings[2].Tokenizer = "raw" }, "doc_mapping.field_mappings[2].tokenizer"},
		{"unknown tokenizer", func(c *IndexConfig) { c.DocMapping.FieldMappings[0].Tokenizer = "ngram" }, "doc_mapping.field_mappings[0].tokenizer"},
		{"input formats on text", func(c *IndexConfig) { c.DocMapping.FieldMappings[0].InputFormats = []string{"rfc3339"} }, "doc_mapping.field_mappings[0].input_formats"},
		{"precision on bool", func(c *IndexConfig) { c.DocMapping.FieldMappings[2].FastPrecision = PrecisionSeconds }, "doc_mapping.field_mappings[2].fast_precision"},
		{"unknown precision", func(c *IndexConfig) { c.DocMapping.FieldMappings[4].FastPrecision = "minutes" }, "doc_mapping.field_mappings[4].fast_precision"},
		{"unknown input format", func(c *IndexConfig) { c.DocMapping.FieldMappings[4].InputFormats = []string{"epoch"} }, "doc_mapping.field_mappings[4].input_formats[0]"},
		{"bad strftime", func(c *IndexConfig) { c.DocMapping.FieldMappings[4].InputFormats = []string{"%Y-%Q"} }, "doc_mapping.field_mappings[4].input_formats[0]"},
		{"zero commit timeout", func(c *IndexConfig) { c.IndexingSettings.CommitTimeoutSecs = Seconds(0) }, "indexing_settings.commit_timeout_secs"},
		{"negative commit timeout", func(c *IndexConfig) { c.IndexingSettings.CommitTimeoutSecs = Seconds(-3) }, "indexing_settings.commit_timeout_secs"},
		{"unknown mode", func(c *IndexConfig) { c.DocMapping.Mode = "loose" }, "doc_mapping.mode"},
		{"tag on json", func(c *IndexConfig) { c.DocMapping.TagFields = []string{"attrs"} }, "doc_mapping.tag_fields[0]"},
		{"unknown tag", func(c *IndexConfig) { c.DocMapping.TagFields = []string{"tenant"} }, "doc_mapping.tag_fields[0]"},
		{"partition key unknown", func(c *IndexConfig) { c.DocMapping.PartitionKey = "hash_mod((tenant,level),10)" }, "doc_mapping.partition_key"},
		{"default search field unknown", func(c *IndexConfig) {
			c.SearchSettings = &SearchSettings{DefaultSearchFields: []string{"title"}}
		}, "search_settings.default_search_fields[0]"},
		{"bad retention", func(c *IndexConfig) { c.Retention = &RetentionPolicy{Period: "forever"} }, "retention.period"},
		{"expand dots on text", func(c *IndexConfig) { v := true; c.DocMapping.FieldMappings[0].ExpandDots = &v }, "doc_mapping.field_mappings[0].expand_dots"},
		{"unknown normalizer", func(c *IndexConfig) {
			c.DocMapping.FieldMappings[1].Fast = &FastOption{Enabled: true, Normalizer: "upper"}
		}, "doc_mapping.field_mappings[1].fast.normalizer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("errors.Is(err, ErrInvalidConfig) = false for %v", err)
			}
			found := false
			for _, v := range Violations(err) {
				if v.Path == tt.wantPath {
					found = true
				}
			}
			if !found {
				t.Errorf("no violation at %s; got %v", tt.wantPath, err)
			}
		})
	}
}

func TestValidate_collectsAllViolations(t *testing.T) {
	cfg := validConfig()
	cfg.IndexID = "?"
	cfg.IndexingSettings.CommitTimeoutSecs = Seconds(0)
	cfg.DocMapping.TimestampField = "missing"
	got := Violations(cfg.Validate())
	if len(got) != 3 {
		t.Errorf("got %d violations, want 3: %v", len(got), got)
	}
}

func TestValidate_fastAllowedOnTextAndJSON(t *testing.T) {
	cfg := validConfig()
	cfg.DocMapping.FieldMappings[3].Fast = &FastOption{Enabled: true, Normalizer: "raw"}
	cfg.DocMapping.FieldMappings = append(cfg.DocMapping.FieldMappings,
		FieldMapping{Name: "count", Type: TypeU64, Fast: Fast()},
		FieldMapping{Name: "client_ip", Type: TypeIP, Fast: Fast()},
	)
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestValidationError_message(t *testing.T) {
	err := &ValidationError{Path: "index_id", Reason: "is required"}
	if !strings.Contains(err.Error(), "index_id: is required") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestParseRetentionPeriod(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30 days", 30 * 24 * time.Hour, false},
		{"1 hour", time.Hour, false},
		{"2 weeks", 14 * 24 * time.Hour, false},
		{"72h", 72 * time.Hour, false},
		{"", 0, true},
		{"forever", 0, true},
		{"0 days", 0, true},
		{"3 fortnights", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseRetentionPeriod(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRetentionPeriod(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRetentionPeriod(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidateIndexID(t *testing.T) {
	for _, id := range []string{"gh-archive", "otel-logs-v0_7", "abc", "a.b.c"} {
		if err := ValidateIndexID(id); err != nil {
			t.Errorf("ValidateIndexID(%q) = %v", id, err)
		}
	}
	for _, id := range []string{"", "ab", "-abc", "a b c", "1abc", strings.Repeat("a", 256)} {
		if err := ValidateIndexID(id); err == nil {
			t.Errorf("ValidateIndexID(%q) = nil, want error", id)
		}
	}
}

func TestValidate_suggestsCloseNames(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *IndexConfig)
		want   string
	}{
		{"timestamp field", func(c *IndexConfig) { c.DocMapping.TimestampField = "tss" }, `(did you mean "ts"?)`},
		{"tag field", func(c *IndexConfig) { c.DocMapping.TagFields = []string{"levle"} }, `(did you mean "level"?)`},
		{"tokenizer", func(c *IndexConfig) { c.DocMapping.FieldMappings[0].Tokenizer = "en_stemm" }, `(did you mean "en_stem"?)`},
		{"type", func(c *IndexConfig) { c.DocMapping.FieldMappings[0].Type = "txt" }, `(did you mean "text"?)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want hint %s", err, tt.want)
			}
		})
	}

	cfg := validConfig()
	cfg.DocMapping.FieldMappings[0].Tokenizer = "ngram"
	if err := cfg.Validate(); err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("no hint expected for a distant name, got %v", err)
	}
}
