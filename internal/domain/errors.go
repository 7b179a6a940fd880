package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrFormat       = errors.New("malformed input")
	ErrStructure    = errors.New("invalid structure")
	ErrDuplicate    = errors.New("already registered")
	ErrDependency   = errors.New("dependency failed")
	ErrCapability   = errors.New("capability missing")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("service unavailable")
)

// Specific errors.
var (
	ErrParserNotFound     = fmt.Errorf("parser: %w", ErrNotFound)
	ErrSourceNotFound     = fmt.Errorf("source: %w", ErrNotFound)
	ErrPluginNotFound     = fmt.Errorf("plugin: %w", ErrNotFound)
	ErrFileNotFound       = fmt.Errorf("file: %w", ErrNotFound)
	ErrProviderNotFound   = fmt.Errorf("provider: %w", ErrNotFound)
	ErrDuplicateParser    = fmt.Errorf("parser: %w", ErrDuplicate)
	ErrDuplicateSource    = fmt.Errorf("source: %w", ErrDuplicate)
	ErrNilSource          = fmt.Errorf("source is nil: %w", ErrInvalidInput)
	ErrCyclicDependency   = fmt.Errorf("cyclic plugin dependency: %w", ErrDependency)
	ErrAPIKeyRequired     = fmt.Errorf("api key required: %w", ErrInvalidInput)
	ErrInvalidCoordinate  = fmt.Errorf("coordinate: %w", ErrInvalidInput)
	ErrUnsupportedFormat  = fmt.Errorf("no parser accepts this file: %w", ErrNotFound)
	ErrStorageUnavailable = fmt.Errorf("storage: %w", ErrUnavailable)
)

// ParseError reports a failure to turn bytes into a map source.
// Err is ErrFormat for syntax problems and ErrStructure for schema problems,
// optionally wrapping the decoder error.
type ParseError struct {
	Format string // Parser name (GeoJSON, GPX, KML)
	Source string // Source name or path
	Line   int    // Line of the failure when the decoder reports one
	Err    error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s parse error in %s at line %d: %v", e.Format, e.Source, e.Line, e.Err)
	}
	return fmt.Sprintf("%s parse error in %s: %v", e.Format, e.Source, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewFormatError wraps a syntax error so it matches ErrFormat.
func NewFormatError(format, source string, line int, cause error) *ParseError {
	return &ParseError{Format: format, Source: source, Line: line, Err: fmt.Errorf("%w: %v", ErrFormat, cause)}
}

// NewStructureError reports a syntactically valid but unusable document.
func NewStructureError(format, source, msg string) *ParseError {
	return &ParseError{Format: format, Source: source, Err: fmt.Errorf("%w: %s", ErrStructure, msg)}
}

// PluginError represents a failure during a plugin lifecycle operation.
type PluginError struct {
	PluginID string // Plugin identifier
	Op       string // scan, open, load, initialize, shutdown
	Err      error  // Underlying error
}

// Error implements the error interface.
func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %s: %s: %v", e.PluginID, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *PluginError) Unwrap() error {
	return e.Err
}

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string // Field that failed validation
	Value      any    // The invalid value
	Constraint string // The constraint that was violated
	Message    string // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// StorageError represents an error while listing or fetching remote map files.
type StorageError struct {
	Operation string // list, download
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
