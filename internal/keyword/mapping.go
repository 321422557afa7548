// Package keyword compiles doc mappings into bleve index mappings and runs an
// in-memory preview index over mapped documents.
package keyword

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/whitespace"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/hyperjump/indexdef/internal/indexconfig"

	_ "github.com/blevesearch/bleve/v2/analysis/lang/cjk"
)

const (
	documentType       = "document"
	whitespaceAnalyzer = "qw_whitespace"
	lowercaseAnalyzer  = "qw_lowercase"
	cjkAnalyzer        = "cjk"
)

// AnalyzerFor returns the bleve analyzer name used for a tokenizer.
func AnalyzerFor(tokenizer string) string {
	switch tokenizer {
	case indexconfig.TokenizerRaw:
		return keywordanalyzer.Name
	case indexconfig.TokenizerEnStem:
		return en.AnalyzerName
	case indexconfig.TokenizerWhitespace:
		return whitespaceAnalyzer
	case indexconfig.TokenizerLowercase:
		return lowercaseAnalyzer
	case indexconfig.TokenizerChineseCompatible:
		return cjkAnalyzer
	default:
		// default and source_code_default both split on word boundaries and lowercase.
		return standard.Name
	}
}

// BuildIndexMapping compiles the doc mapping of cfg into a bleve mapping.
// Only declared fields are indexed unless the mapping mode is dynamic.
// The config is expected to be valid; defaults are applied to a copy.
func BuildIndexMapping(cfg *indexconfig.IndexConfig) (*mapping.IndexMappingImpl, error) {
	c := cfg.Clone()
	indexconfig.ApplyDefaults(c)

	im := bleve.NewIndexMapping()
	if err := im.AddCustomAnalyzer(whitespaceAnalyzer, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": whitespace.Name,
	}); err != nil {
		return nil, fmt.Errorf("failed to register whitespace analyzer: %w", err)
	}
	if err := im.AddCustomAnalyzer(lowercaseAnalyzer, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     single.Name,
		"token_filters": []string{lowercase.Name},
	}); err != nil {
		return nil, fmt.Errorf("failed to register lowercase analyzer: %w", err)
	}

	var docMapping *mapping.DocumentMapping
	if c.DocMapping.Mode == indexconfig.ModeDynamic {
		docMapping = bleve.NewDocumentMapping()
	} else {
		docMapping = bleve.NewDocumentStaticMapping()
	}

	inAll := defaultSearchFields(c)
	for i := range c.DocMapping.FieldMappings {
		f := &c.DocMapping.FieldMappings[i]
		_, includeInAll := inAll[f.Name]
		if f.Type == indexconfig.TypeJSON {
			sub := bleve.NewDocumentMapping()
			sub.DefaultAnalyzer = AnalyzerFor(f.Tokenizer)
			sub.Enabled = f.IsIndexed()
			docMapping.AddSubDocumentMapping(f.Name, sub)
			continue
		}
		fm := fieldMappingFor(f)
		if fm == nil {
			continue
		}
		fm.IncludeInAll = includeInAll
		docMapping.AddFieldMappingsAt(f.Name, fm)
	}

	im.AddDocumentMapping(documentType, docMapping)
	im.DefaultType = documentType
	im.DefaultMapping = docMapping
	im.DefaultAnalyzer = standard.Name

	if err := im.Validate(); err != nil {
		return nil, fmt.Errorf("bleve rejected mapping for %q: %w", c.IndexID, err)
	}
	return im, nil
}

func fieldMappingFor(f *indexconfig.FieldMapping) *mapping.FieldMapping {
	var fm *mapping.FieldMapping
	switch f.Type {
	case indexconfig.TypeText:
		if f.Tokenizer == indexconfig.TokenizerRaw {
			fm = bleve.NewKeywordFieldMapping()
		} else {
			fm = bleve.NewTextFieldMapping()
			fm.Analyzer = AnalyzerFor(f.Tokenizer)
		}
	case indexconfig.TypeIP:
		fm = bleve.NewKeywordFieldMapping()
	case indexconfig.TypeBool:
		fm = bleve.NewBooleanFieldMapping()
	case indexconfig.TypeDatetime:
		fm = bleve.NewDateTimeFieldMapping()
	case indexconfig.TypeI64, indexconfig.TypeU64, indexconfig.TypeF64:
		fm = bleve.NewNumericFieldMapping()
	default:
		// bytes are stored in the docstore only.
		return nil
	}
	fm.Store = f.IsStored()
	fm.Index = f.IsIndexed()
	fm.DocValues = f.IsFast()
	return fm
}

// defaultSearchFields returns the fields a field-less query hits: the
// configured default search fields, or every indexed text field.
func defaultSearchFields(c *indexconfig.IndexConfig) map[string]struct{} {
	out := make(map[string]struct{})
	if c.SearchSettings != nil && len(c.SearchSettings.DefaultSearchFields) > 0 {
		for _, name := range c.SearchSettings.DefaultSearchFields {
			out[name] = struct{}{}
		}
		return out
	}
	for _, f := range c.DocMapping.FieldMappings {
		if f.Type == indexconfig.TypeText && f.IsIndexed() {
			out[f.Name] = struct{}{}
		}
	}
	return out
}
