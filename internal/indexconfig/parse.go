package indexconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse decodes an index config from YAML or JSON. Unknown keys are rejected
// and the input must contain exactly one document. No defaults are applied, so
// re-serializing the result reproduces the keys that were present.
func Parse(data []byte) (*IndexConfig, error) {
	var cfg IndexConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("failed to parse index config: empty document")
		}
		if strings.Contains(err.Error(), "not found in type") {
			return nil, fmt.Errorf("failed to parse index config: %w: %v", ErrUnknownField, err)
		}
		return nil, fmt.Errorf("failed to parse index config: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse index config: multiple documents or trailing content")
	}
	return &cfg, nil
}

// Load reads and parses the index config file at path.
// Supported extensions are .yaml, .yml and .json.
func Load(path string) (*IndexConfig, error) {
	if !IsConfigFile(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read index config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadValidated loads path, applies defaults and validates the result.
func LoadValidated(path string) (*IndexConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigExtensions are the file extensions recognised as index configs.
var ConfigExtensions = []string{".yaml", ".yml", ".json"}

// IsConfigFile reports whether path has a config extension.
func IsConfigFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range ConfigExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
