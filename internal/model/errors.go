package model

import (
	"errors"
	"fmt"
)

// ArchiveError reports an unreadable or corrupt input archive.
// It is isolated to one feed; the rest of the corpus continues.
type ArchiveError struct {
	Path  string
	Table string
	Err   error
}

func (e *ArchiveError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("archive %s: table %s: %v", e.Path, e.Table, e.Err)
	}
	return fmt.Sprintf("archive %s: %v", e.Path, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

// WriteError reports a failure while producing an output archive.
// The partial output has already been discarded when this is returned.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ConfigError is the only error class that aborts a run
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Message
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

// ErrorKind classifies err for the report
func ErrorKind(err error) string {
	var archiveErr *ArchiveError
	var writeErr *WriteError
	var configErr *ConfigError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &archiveErr):
		return "archive"
	case errors.As(err, &writeErr):
		return "write"
	case errors.As(err, &configErr):
		return "config"
	default:
		return "internal"
	}
}
