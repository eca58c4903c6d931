// Package corerr defines the core's error taxonomy, one typed struct per
// failure category.
package corerr

import (
	"fmt"
	"time"
)

// Type classifies a CoreError for callers that want to branch on failure
// category (retry policy, user-facing reporting) without string-matching
// error messages.
type Type string

const (
	TypeConfig    Type = "config"
	TypeBackend   Type = "backend"
	TypePredicate Type = "predicate"
	TypeListener  Type = "listener"
)

// CoreError is satisfied by every error type in this package.
type CoreError interface {
	error
	Type() Type
}

// ConfigError represents a configuration-time failure: undeclared
// parent_tag, job name collision, invalid name, submit attempted outside
// CONFIGURED, retyping outside CONFIGURED, incompatible snapshot version.
// These fail fast and are always surfaced to the caller.
type ConfigError struct {
	Job     string
	Field   string
	Message string
	Time    time.Time
}

func NewConfigError(job, field, message string) *ConfigError {
	return &ConfigError{Job: job, Field: field, Message: message, Time: time.Now()}
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config error for job %q: %s", e.Job, e.Message)
	}
	return fmt.Sprintf("config error for job %q: field %q: %s", e.Job, e.Field, e.Message)
}

func (e *ConfigError) Type() Type { return TypeConfig }

// BackendError wraps a transient failure from a Backend call (submit,
// cancel, status, exitcode). It is captured as the job's own failure
// rather than propagated, so it is eligible for the retry policy.
type BackendError struct {
	Job       string
	Operation string
	Err       error
	Time      time.Time
}

func NewBackendError(job, operation string, err error) *BackendError {
	return &BackendError{Job: job, Operation: operation, Err: err, Time: time.Now()}
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error for job %q during %s: %v", e.Job, e.Operation, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Type() Type { return TypeBackend }

// PredicateError wraps a panic or error recovered from a user-supplied
// finished/success/post predicate. These propagate and cancel the
// session; they are never silently swallowed.
type PredicateError struct {
	Job       string
	Predicate string
	Err       error
	Time      time.Time
}

func NewPredicateError(job, predicate string, err error) *PredicateError {
	return &PredicateError{Job: job, Predicate: predicate, Err: err, Time: time.Now()}
}

func (e *PredicateError) Error() string {
	return fmt.Sprintf("predicate error for job %q in %s: %v", e.Job, e.Predicate, e.Err)
}

func (e *PredicateError) Unwrap() error { return e.Err }

func (e *PredicateError) Type() Type { return TypePredicate }

// ListenerError records that a Listener's background task terminated. The
// scheduler does not propagate this as a fatal failure: it treats missing
// updates as "not observed" and keeps running.
type ListenerError struct {
	Source string
	Err    error
	Time   time.Time
}

func NewListenerError(source string, err error) *ListenerError {
	return &ListenerError{Source: source, Err: err, Time: time.Now()}
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener %q stopped: %v", e.Source, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }

func (e *ListenerError) Type() Type { return TypeListener }
