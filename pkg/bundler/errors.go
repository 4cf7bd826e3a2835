package bundler

import (
	"errors"
	"fmt"
)

// ConfigurationError is returned when the build script is malformed or contradictory. It is always
// detected before any module is transformed.
type ConfigurationError struct {
	File string
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e.File == "" {
		return "configuration error: " + e.Err.Error()
	}
	return fmt.Sprintf("configuration error in %s: %s", e.File, e.Err.Error())
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// TransformError is returned when a source file can't be processed by its assigned transform.
// Line and Column are 1-based; zero means the position is unknown.
type TransformError struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (e *TransformError) Error() string {
	switch {
	case e.Line > 0 && e.Column > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.File, e.Message)
	}
}

// IsConfigurationError reports whether err is or wraps a *ConfigurationError
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsTransformError reports whether err is or wraps a *TransformError
func IsTransformError(err error) bool {
	var target *TransformError
	return errors.As(err, &target)
}

func configErr(file string, err error) error {
	return &ConfigurationError{File: file, Err: err}
}

func transformErr(file string, format string, args ...interface{}) error {
	return &TransformError{File: file, Message: fmt.Sprintf(format, args...)}
}
