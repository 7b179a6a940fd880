package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessagesAndChains(t *testing.T) {
	network := errors.New("network error")

	tests := []struct {
		name  string
		err   error
		msg   string
		wraps []error
		notIs error
	}{
		{
			name:  "format error with line",
			err:   NewFormatError("GPX", "track.gpx", 12, errors.New("unexpected EOF")),
			msg:   "GPX parse error in track.gpx at line 12: malformed input: unexpected EOF",
			wraps: []error{ErrFormat},
			notIs: ErrStructure,
		},
		{
			name:  "structure error",
			err:   NewStructureError("GeoJSON", "data.json", "missing type"),
			msg:   "GeoJSON parse error in data.json: invalid structure: missing type",
			wraps: []error{ErrStructure},
			notIs: ErrFormat,
		},
		{
			name:  "plugin error",
			err:   &PluginError{PluginID: "ruler", Op: "initialize", Err: ErrCyclicDependency},
			msg:   "plugin ruler: initialize: cyclic plugin dependency: dependency failed",
			wraps: []error{ErrCyclicDependency, ErrDependency},
		},
		{
			name: "validation error",
			err: &ValidationError{
				Field:      "longitude",
				Value:      200.0,
				Constraint: "[-180, 180]",
				Message:    "out of range",
			},
			msg:   "validation error for longitude: out of range (value: 200, constraint: [-180, 180])",
			wraps: []error{ErrInvalidInput},
		},
		{
			name:  "storage error with key",
			err:   &StorageError{Operation: "download", Key: "tracks/run.gpx", Err: network},
			msg:   "storage error during download for tracks/run.gpx: network error",
			wraps: []error{network},
		},
		{
			name:  "storage error without key",
			err:   &StorageError{Operation: "list", Err: ErrStorageUnavailable},
			msg:   "storage error during list: storage: service unavailable",
			wraps: []error{ErrStorageUnavailable, ErrUnavailable},
		},
		{
			name:  "config error",
			err:   &ConfigError{Field: "tls.email", Message: "required when tls is enabled"},
			msg:   "configuration error for tls.email: required when tls is enabled",
			wraps: []error{ErrInvalidInput},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.msg {
				t.Errorf("Error() = %q, want %q", got, tt.msg)
			}
			// Chains must survive further wrapping by callers
			wrapped := fmt.Errorf("loading: %w", tt.err)
			for _, target := range tt.wraps {
				if !errors.Is(wrapped, target) {
					t.Errorf("errors.Is(%v, %v) = false", wrapped, target)
				}
			}
			if tt.notIs != nil && errors.Is(wrapped, tt.notIs) {
				t.Errorf("errors.Is(%v, %v) = true", wrapped, tt.notIs)
			}
		})
	}
}

func TestParseErrorAs(t *testing.T) {
	err := fmt.Errorf("berlin.kml: %w", NewFormatError("KML", "berlin.kml", 3, errors.New("bad token")))

	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatal("errors.As did not find the ParseError")
	}
	if pe.Format != "KML" || pe.Line != 3 {
		t.Errorf("ParseError = %+v", pe)
	}
}

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		err  error
		base error
	}{
		{ErrParserNotFound, ErrNotFound},
		{ErrSourceNotFound, ErrNotFound},
		{ErrPluginNotFound, ErrNotFound},
		{ErrFileNotFound, ErrNotFound},
		{ErrProviderNotFound, ErrNotFound},
		{ErrUnsupportedFormat, ErrNotFound},
		{ErrDuplicateParser, ErrDuplicate},
		{ErrDuplicateSource, ErrDuplicate},
		{ErrCyclicDependency, ErrDependency},
		{ErrNilSource, ErrInvalidInput},
		{ErrAPIKeyRequired, ErrInvalidInput},
		{ErrInvalidCoordinate, ErrInvalidInput},
		{ErrStorageUnavailable, ErrUnavailable},
	}

	for _, tt := range tests {
		if !errors.Is(tt.err, tt.base) {
			t.Errorf("%q does not wrap %q", tt.err, tt.base)
		}
	}

	if errors.Is(ErrSourceNotFound, ErrDuplicate) {
		t.Error("ErrSourceNotFound matches ErrDuplicate")
	}
}
