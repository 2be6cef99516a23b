// Package lidarerr defines the error taxonomy shared by the reader, writer
// and conversion driver.
//
// FormatError and ConfigurationError are fatal for a conversion run.
// ErrFitFailure is recovered per pulse by the driver and only counted.
package lidarerr

import (
	"errors"
	"fmt"
)

// ErrFitFailure is returned when the waveform decomposition does not converge.
var ErrFitFailure = errors.New("waveform fit did not converge")

// FormatError reports malformed, truncated or inconsistent binary input, or an
// output format that cannot carry the requested features.
type FormatError struct {
	Path  string // offending file, may be empty for in-memory streams
	Field string // header field, record or feature that failed
	Err   error
}

func (e *FormatError) Error() string {
	switch {
	case e.Path != "" && e.Field != "":
		return fmt.Sprintf("format error in %s (%s): %v", e.Path, e.Field, e.Err)
	case e.Path != "":
		return fmt.Sprintf("format error in %s: %v", e.Path, e.Err)
	case e.Field != "":
		return fmt.Sprintf("format error (%s): %v", e.Field, e.Err)
	default:
		return fmt.Sprintf("format error: %v", e.Err)
	}
}

func (e *FormatError) Unwrap() error { return e.Err }

// NewFormatError builds a FormatError with a formatted message.
func NewFormatError(path, field, format string, args ...interface{}) *FormatError {
	return &FormatError{Path: path, Field: field, Err: fmt.Errorf(format, args...)}
}

// ConfigurationError reports a run configuration that cannot be honoured.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error (%s): %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NewConfigurationError builds a ConfigurationError with a formatted message.
func NewConfigurationError(field, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Field: field, Err: fmt.Errorf(format, args...)}
}

// IsFormat reports whether err wraps a FormatError.
func IsFormat(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// IsConfiguration reports whether err wraps a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
