// Package cli renders catalog results for the indexdef command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/hyperjump/indexdef/internal/catalog"
	"github.com/hyperjump/indexdef/internal/docmapper"
	"github.com/hyperjump/indexdef/internal/models"
	"github.com/hyperjump/indexdef/pkg/utils"
	"gopkg.in/yaml.v3"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
	// OutputYAML is structured YAML.
	OutputYAML OutputFormat = "yaml"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON, OutputYAML:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (expected text, json or yaml)", s)
}

// writeStructured encodes v as JSON or YAML. It reports false for text output.
func writeStructured(w io.Writer, v interface{}, format OutputFormat) (bool, error) {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case OutputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return false, nil
}

// WriteStructured encodes v as JSON or YAML.
func WriteStructured(w io.Writer, v interface{}, format OutputFormat) error {
	if done, err := writeStructured(w, v, format); done {
		return err
	}
	return fmt.Errorf("output format %q is not structured", format)
}

// WriteValidationReport writes a validation report.
func WriteValidationReport(w io.Writer, report *models.ValidationReport, format OutputFormat) error {
	if done, err := writeStructured(w, report, format); done {
		return err
	}
	name := report.IndexID
	if name == "" {
		name = "index config"
	}
	if report.Valid {
		fmt.Fprintf(w, "%s: OK\n", name)
		return nil
	}
	if report.Error != "" {
		fmt.Fprintf(w, "%s: %s\n", name, report.Error)
		return nil
	}
	fmt.Fprintf(w, "%s: %d violation(s)\n", name, len(report.Violations))
	for _, v := range report.Violations {
		fmt.Fprintf(w, "  - %s: %s\n", v.Path, v.Reason)
	}
	return nil
}

// WriteDescription writes the field summary of an index.
func WriteDescription(w io.Writer, d *models.IndexDescription, format OutputFormat) error {
	if done, err := writeStructured(w, d, format); done {
		return err
	}
	fmt.Fprintf(w, "Index:           %s\n", d.IndexID)
	if d.IndexUID != "" {
		fmt.Fprintf(w, "UID:             %s\n", d.IndexUID)
	}
	fmt.Fprintf(w, "Mode:            %s\n", d.Mode)
	fmt.Fprintf(w, "Timestamp field: %s\n", orDash(d.TimestampField))
	fmt.Fprintf(w, "Commit timeout:  %ds\n", d.CommitTimeoutSecs)
	if d.Retention != "" {
		fmt.Fprintf(w, "Retention:       %s\n", d.Retention)
	}
	fmt.Fprintf(w, "Fields:          %d (%d fast)\n\n", d.NumFields, d.NumFastFields)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tINDEXED\tSTORED\tFAST\tTOKENIZER\tINPUT FORMATS\tPRECISION")
	for _, f := range d.Fields {
		name := f.Name
		if f.Timestamp {
			name += " (timestamp)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%t\t%s\t%s\t%s\n",
			name, f.Type, f.Indexed, f.Stored, f.Fast,
			orDash(f.Tokenizer), utils.JoinOrDash(f.InputFormats), orDash(f.Precision))
	}
	return tw.Flush()
}

// WriteIndexList writes registered indexes.
func WriteIndexList(w io.Writer, indexes []*models.IndexMetadata, format OutputFormat) error {
	if indexes == nil {
		indexes = []*models.IndexMetadata{}
	}
	if done, err := writeStructured(w, indexes, format); done {
		return err
	}
	if len(indexes) == 0 {
		fmt.Fprintln(w, "No indexes registered.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX ID\tFIELDS\tTIMESTAMP\tSOURCE\tUPDATED")
	for _, m := range indexes {
		fields, ts := 0, ""
		if m.Config != nil {
			fields = len(m.Config.DocMapping.FieldMappings)
			ts = m.Config.DocMapping.TimestampField
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			m.IndexID, fields, orDash(ts), orDash(m.SourcePath), m.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

type parseOutput struct {
	Summary models.ParseSummary `json:"summary" yaml:"summary"`
	Results []docmapper.Result  `json:"results" yaml:"-"`
}

// WriteParseResults writes mapped documents. Text output lists rejected lines only.
func WriteParseResults(w io.Writer, results []docmapper.Result, summary models.ParseSummary, format OutputFormat) error {
	if format == OutputYAML {
		// Result carries an error value, so go through JSON to get the rendered form.
		data, err := json.Marshal(parseOutput{Summary: summary, Results: results})
		if err != nil {
			return err
		}
		var generic interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		_, err = writeStructured(w, generic, OutputYAML)
		return err
	}
	if done, err := writeStructured(w, parseOutput{Summary: summary, Results: results}, format); done {
		return err
	}
	fmt.Fprintf(w, "Parsed %d document(s): %d valid, %d rejected\n",
		summary.NumDocs, summary.NumValid, summary.NumRejected)
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "  line %d: %v\n", r.Line, r.Err)
		}
	}
	return nil
}

// WritePreview writes the outcome of a sandbox preview.
func WritePreview(w io.Writer, res *catalog.PreviewResult, format OutputFormat) error {
	if format == OutputYAML {
		data, err := json.Marshal(res)
		if err != nil {
			return err
		}
		var generic interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		_, err = writeStructured(w, generic, OutputYAML)
		return err
	}
	if done, err := writeStructured(w, res, format); done {
		return err
	}
	if err := WriteParseResults(w, res.Results, res.Summary, OutputText); err != nil {
		return err
	}
	if res.Search == nil {
		return nil
	}
	fmt.Fprintf(w, "\nFound %d hit(s) in %s\n", res.Search.Total, res.Search.Took)
	for _, hit := range res.Search.Hits {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "ID: %s | Score: %.4f\n", hit.ID, hit.Score)
		if len(hit.Fields) > 0 {
			data, err := json.Marshal(hit.Fields)
			if err == nil {
				fmt.Fprintf(w, "%s\n", utils.Truncate(string(data), 200))
			}
		}
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
