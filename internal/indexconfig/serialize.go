package indexconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// Format is a serialization format for index configs.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// ParseFormat maps a name or file extension to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(s), ".") {
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// ToYAML serializes cfg as YAML with two-space indentation.
func ToYAML(cfg *IndexConfig) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to marshal index config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to marshal index config: %w", err)
	}
	return buf.Bytes(), nil
}

// ToJSON serializes cfg as indented JSON.
func ToJSON(cfg *IndexConfig) ([]byte, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal index config: %w", err)
	}
	return append(data, '\n'), nil
}

// Marshal serializes cfg in the given format.
func Marshal(cfg *IndexConfig, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return ToJSON(cfg)
	case FormatYAML:
		return ToYAML(cfg)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}

// Save atomically writes cfg to path, choosing the format from the extension.
func Save(path string, cfg *IndexConfig) error {
	format, err := ParseFormat(filepath.Ext(path))
	if err != nil {
		return err
	}
	data, err := Marshal(cfg, format)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write index config: %w", err)
	}
	return nil
}
