// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasource

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/lib/pq"

	"github.com/apexrules/apex/internal/errkind"
)

// ClassifySQLError maps any data-access error to exactly one taxonomy
// kind. The classifier is the single source of truth for retry versus
// fail-fast decisions; no unclassified error leaks past it.
//
// Classes:
//   - DataIntegrityViolation: unique/PK/FK/not-null/check violations.
//     Non-fatal, the pipeline continues.
//   - Transient: connection loss, deadlock, serialization failure.
//     Retryable with backoff.
//   - Configuration: missing table/column, SQL syntax. Fail fast.
//   - Fatal: everything else. Fail fast.
func ClassifySQLError(err error) *errkind.Classified {
	if err == nil {
		return nil
	}
	var classified *errkind.Classified
	if errors.As(err, &classified) {
		return classified
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errkind.Wrap(errkind.Timeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return errkind.Wrap(errkind.Cancelled, err)
	}

	if state := sqlState(err); state != "" {
		return errkind.Wrap(classifyState(state), err)
	}

	// Driver-level and network failures have no SQLSTATE.
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.As(err, &netErr) {
		return errkind.Wrap(errkind.Transient, err)
	}

	return errkind.Wrap(classifyMessage(err.Error()), err)
}

// sqlState extracts the five-character SQLSTATE when the driver exposes it.
func sqlState(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func classifyState(state string) errkind.Kind {
	if len(state) < 2 {
		return errkind.Fatal
	}
	switch state {
	case "40001", "40P01": // serialization failure, deadlock
		return errkind.Transient
	case "57014": // query cancelled
		return errkind.Cancelled
	}
	switch state[:2] {
	case "23": // integrity constraint violations
		return errkind.DataIntegrityViolation
	case "08": // connection exceptions
		return errkind.Transient
	case "42": // syntax errors, undefined table/column
		return errkind.Configuration
	case "3F", "3D": // invalid schema/catalog name
		return errkind.Configuration
	case "53": // insufficient resources
		return errkind.Transient
	}
	return errkind.Fatal
}

// classifyMessage is the fallback for drivers that surface plain strings.
func classifyMessage(msg string) errkind.Kind {
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, "unique constraint", "duplicate key", "duplicate entry",
		"foreign key", "not-null constraint", "null value in column", "check constraint"):
		return errkind.DataIntegrityViolation
	case containsAny(lower, "connection refused", "connection reset", "broken pipe",
		"deadlock", "serialization failure", "connection lost", "timeout", "i/o timeout"):
		return errkind.Transient
	case containsAny(lower, "syntax error", "does not exist", "no such table",
		"no such column", "unknown column", "unknown table"):
		return errkind.Configuration
	}
	return errkind.Fatal
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
