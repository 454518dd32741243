// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

// Package errkind defines the error taxonomy shared by every APEX component.
// Component boundaries convert lower-level errors into one of these kinds so
// that retry and fail-fast decisions are made in exactly one place.
package errkind

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and retry decisions.
type Kind string

const (
	// Configuration covers schema violations, unknown types, cycles and
	// missing required fields. Fails fast at load time.
	Configuration Kind = "CONFIGURATION"
	// Expression covers parse and evaluation failures. A rule whose
	// condition errors counts as non-triggered.
	Expression Kind = "EXPRESSION"
	// Lookup covers missing lookup services, missing rows and
	// required-field-missing conditions.
	Lookup Kind = "LOOKUP"
	// DataIntegrityViolation covers unique/PK/FK/not-null/check failures.
	// Non-fatal: surfaced as a typed error, the pipeline continues.
	DataIntegrityViolation Kind = "DATA_INTEGRITY_VIOLATION"
	// Transient covers connection loss, deadlocks and serialization
	// failures. The only kind eligible for retry.
	Transient Kind = "TRANSIENT"
	// Fatal covers unrecoverable data-access failures. Fails fast.
	Fatal Kind = "FATAL"
	// CircuitOpen is returned without I/O while a breaker is open.
	CircuitOpen Kind = "CIRCUIT_OPEN"
	// Timeout is returned when an operation exceeds its effective budget.
	Timeout Kind = "TIMEOUT"
	// Cancelled is returned when the caller's context is cancelled.
	Cancelled Kind = "CANCELLED"
	// Internal marks invariant violations that should never fire.
	Internal Kind = "INTERNAL"
)

// Classified wraps an error with its taxonomy kind and an optional path
// locating the offending value (file path, config path or expression span).
type Classified struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Classified) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Classified) Unwrap() error { return e.Err }

// New creates a classified error from a message.
func New(kind Kind, format string, args ...any) *Classified {
	return &Classified{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind to an existing error. A nil err returns nil.
func Wrap(kind Kind, err error) *Classified {
	if err == nil {
		return nil
	}
	return &Classified{Kind: kind, Err: err}
}

// WrapPath attaches a kind and a locating path to an existing error.
func WrapPath(kind Kind, path string, err error) *Classified {
	if err == nil {
		return nil
	}
	return &Classified{Kind: kind, Path: path, Err: err}
}

// KindOf reports the kind of err, or Internal when err carries no
// classification. A nil err has no kind and returns the empty string.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var c *Classified
	if errors.As(err, &c) {
		return c.Kind
	}
	return Internal
}

// IsRetryable reports whether err may be retried. Only Transient errors
// qualify; every other kind either fails fast or is surfaced to the caller.
func IsRetryable(err error) bool {
	return KindOf(err) == Transient
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
