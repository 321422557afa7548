package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/indexdef/internal/catalog"
	"github.com/hyperjump/indexdef/internal/docmapper"
	"github.com/hyperjump/indexdef/internal/indexconfig"
	"github.com/hyperjump/indexdef/internal/keyword"
	"github.com/hyperjump/indexdef/internal/models"
	"gopkg.in/yaml.v3"
)

func ghArchiveDescription(t *testing.T) *models.IndexDescription {
	t.Helper()
	cfg, err := indexconfig.Load("../indexconfig/testdata/gh-archive.yaml")
	if err != nil {
		t.Fatal(err)
	}
	return models.Describe(cfg)
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"JSON", OutputJSON, false},
		{"yaml", OutputYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestWriteValidationReport_text(t *testing.T) {
	tests := []struct {
		name   string
		report *models.ValidationReport
		want   []string
	}{
		{"valid", &models.ValidationReport{Valid: true, IndexID: "gh-archive"}, []string{"gh-archive: OK"}},
		{"violations", &models.ValidationReport{IndexID: "logs", Violations: []models.Violation{
			{Path: "indexing_settings.commit_timeout_secs", Reason: "must be a positive integer, got 0"},
		}}, []string{"logs: 1 violation(s)", "indexing_settings.commit_timeout_secs: must be a positive integer"}},
		{"parse error", &models.ValidationReport{Error: "failed to parse index config: empty document"}, []string{"index config: failed to parse"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteValidationReport(&buf, tt.report, OutputText); err != nil {
				t.Fatal(err)
			}
			for _, sub := range tt.want {
				if !strings.Contains(buf.String(), sub) {
					t.Errorf("output missing %q:\n%s", sub, buf.String())
				}
			}
		})
	}
}

func TestWriteValidationReport_JSON(t *testing.T) {
	report := &models.ValidationReport{IndexID: "logs", Violations: []models.Violation{{Path: "version", Reason: "is required"}}}
	var buf bytes.Buffer
	if err := WriteValidationReport(&buf, report, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.ValidationReport
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Valid || len(decoded.Violations) != 1 || decoded.Violations[0].Path != "version" {
		t.Errorf("decoded report: %+v", decoded)
	}
}

func TestWriteDescription(t *testing.T) {
	d := ghArchiveDescription(t)

	var buf bytes.Buffer
	if err := WriteDescription(&buf, d, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, sub := range []string{"gh-archive", "Timestamp field: created_at", "Commit timeout:  10s", "Fields:          9 (3 fast)", "created_at (timestamp)", "rfc3339", "seconds"} {
		if !strings.Contains(out, sub) {
			t.Errorf("text output missing %q:\n%s", sub, out)
		}
	}

	buf.Reset()
	if err := WriteDescription(&buf, d, OutputYAML); err != nil {
		t.Fatal(err)
	}
	var decoded models.IndexDescription
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid YAML: %v", err)
	}
	if decoded.NumFields != 9 || decoded.TimestampField != "created_at" {
		t.Errorf("decoded description: %+v", decoded)
	}
}

func TestWriteIndexList(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteIndexList(&buf, nil, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No indexes registered") {
		t.Errorf("empty list output: %q", buf.String())
	}

	buf.Reset()
	if err := WriteIndexList(&buf, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty JSON list should be [], got %q", buf.String())
	}

	cfg, err := indexconfig.Load("../indexconfig/testdata/gh-archive.yaml")
	if err != nil {
		t.Fatal(err)
	}
	indexes := []*models.IndexMetadata{{
		IndexUID: "gh-archive:01", IndexID: "gh-archive", Config: cfg,
		SourcePath: "/etc/indexes/gh-archive.yaml", UpdatedAt: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
	buf.Reset()
	if err := WriteIndexList(&buf, indexes, OutputText); err != nil {
		t.Fatal(err)
	}
	for _, sub := range []string{"INDEX ID", "gh-archive", "created_at", "/etc/indexes/gh-archive.yaml", "2023-01-01 00:00:00"} {
		if !strings.Contains(buf.String(), sub) {
			t.Errorf("text output missing %q:\n%s", sub, buf.String())
		}
	}
}

func TestWriteParseResults(t *testing.T) {
	results := []docmapper.Result{
		{Line: 1, Doc: &docmapper.ParsedDoc{Fields: map[string]interface{}{"type": "PushEvent"}}},
		{Line: 2, Err: errors.New("missing timestamp field")},
	}
	summary := catalog.Summarize(results)

	var buf bytes.Buffer
	if err := WriteParseResults(&buf, results, summary, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "2 document(s): 1 valid, 1 rejected") || !strings.Contains(out, "line 2: missing timestamp field") {
		t.Errorf("text output:\n%s", out)
	}
	if strings.Contains(out, "line 1") {
		t.Errorf("valid lines should not be listed:\n%s", out)
	}

	for _, format := range []OutputFormat{OutputJSON, OutputYAML} {
		buf.Reset()
		if err := WriteParseResults(&buf, results, summary, format); err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if !strings.Contains(buf.String(), "missing timestamp field") {
			t.Errorf("%s output should carry the rejection reason:\n%s", format, buf.String())
		}
	}
}

func TestWritePreview(t *testing.T) {
	res := &catalog.PreviewResult{
		Summary: models.ParseSummary{NumDocs: 2, NumValid: 2},
		Search: &keyword.SearchResult{Total: 1, Took: time.Millisecond, Hits: []keyword.Hit{
			{ID: "1", Score: 0.5, Fields: map[string]interface{}{"type": "PushEvent"}},
		}},
	}
	var buf bytes.Buffer
	if err := WritePreview(&buf, res, OutputText); err != nil {
		t.Fatal(err)
	}
	for _, sub := range []string{"2 valid", "Found 1 hit(s)", "ID: 1", "PushEvent"} {
		if !strings.Contains(buf.String(), sub) {
			t.Errorf("text output missing %q:\n%s", sub, buf.String())
		}
	}

	buf.Reset()
	if err := WritePreview(&buf, res, OutputYAML); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "total: 1") {
		t.Errorf("yaml output:\n%s", buf.String())
	}
}

func TestOrDash(t *testing.T) {
	if orDash("") != "-" || orDash("raw") != "raw" {
		t.Error("orDash")
	}
}

func TestWriteStructured(t *testing.T) {
	status := &models.StatusResponse{Status: "ok", IndexCount: 2}
	var buf bytes.Buffer
	if err := WriteStructured(&buf, status, OutputYAML); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "status: ok") {
		t.Errorf("yaml output:\n%s", buf.String())
	}
	if err := WriteStructured(&buf, status, OutputText); err == nil {
		t.Error("text is not a structured format")
	}
}
