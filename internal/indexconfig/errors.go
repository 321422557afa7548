package indexconfig

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is matched by every validation failure.
	ErrInvalidConfig = errors.New("invalid index config")
	// ErrUnknownField classifies strict parse failures caused by unknown keys.
	ErrUnknownField = errors.New("unknown config field")
	// ErrUnsupportedFormat is returned for config files that are neither YAML nor JSON.
	ErrUnsupportedFormat = errors.New("unsupported config format")
	// ErrForbiddenUpdate is returned when an update changes an immutable part of the config.
	ErrForbiddenUpdate = errors.New("forbidden index config update")
)

// ValidationError is one rule violation, located by a dotted path
// such as `doc_mapping.field_mappings[3].tokenizer`.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidConfig) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Violations flattens err into its individual validation errors.
func Violations(err error) []*ValidationError {
	if err == nil {
		return nil
	}
	var out []*ValidationError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			out = append(out, Violations(e)...)
		}
		return out
	}
	if v, ok := err.(*ValidationError); ok {
		return append(out, v)
	}
	if inner := errors.Unwrap(err); inner != nil {
		return Violations(inner)
	}
	return out
}

func violationf(path, format string, args ...interface{}) error {
	return &ValidationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}
