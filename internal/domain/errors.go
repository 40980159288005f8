package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the failure taxonomy recorded on jobs and rendered to users.
type ErrorKind string

const (
	ErrKindAuthMissing      ErrorKind = "auth_missing"
	ErrKindMailUnavailable  ErrorKind = "mail_source_unavailable"
	ErrKindStoreConflict    ErrorKind = "store_conflict"
	ErrKindIngestFailure    ErrorKind = "ingest_failure"
	ErrKindLLMTransport     ErrorKind = "llm_transport"
	ErrKindLLMSchema        ErrorKind = "llm_schema"
	ErrKindLLMRateLimited   ErrorKind = "llm_rate_limited"
	ErrKindPhaseTimeout     ErrorKind = "phase_timeout"
	ErrKindCancelled        ErrorKind = "cancelled"
	ErrKindInvalidInput     ErrorKind = "invalid_input"
)

// PipelineError carries an ErrorKind across component boundaries so the
// supervisor can record the right taxonomy entry on the job.
type PipelineError struct {
	Kind ErrorKind
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Errf wraps an error with a taxonomy kind.
func Errf(kind ErrorKind, format string, args ...interface{}) error {
	return &PipelineError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the taxonomy kind from an error chain, or "".
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
