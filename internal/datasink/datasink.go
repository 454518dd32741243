// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

// Package datasink implements the write side of the external data layer:
// named write operations executed in configurable transaction scopes with
// batching, partial-failure reporting and an optional dead-letter hook.
package datasink

import (
	"context"
	"time"

	"github.com/apexrules/apex/internal/model"
)

// DataSink is the uniform write interface. Operation names resolve through
// the sink's operations map.
type DataSink interface {
	// Name returns the configured sink name.
	Name() string
	// Type returns the connector family.
	Type() model.SourceType
	// Write executes a named operation for every record and reports the
	// outcome per record. A non-nil error means the write as a whole
	// failed; partial failures are reported through the result instead.
	Write(ctx context.Context, operation string, records []map[string]any) (*WriteResult, error)
	// HealthCheck probes liveness within the given context budget.
	HealthCheck(ctx context.Context) error
	// Close flushes and releases all resources. Idempotent.
	Close() error
}

// FailedRecord identifies one record that could not be written.
type FailedRecord struct {
	Index  int
	Record map[string]any
	Err    error
}

// WriteResult reports the outcome of one Write call. Succeeded + Failed
// always equals Total; FailedBatches counts all-or-nothing batches that
// rolled back.
type WriteResult struct {
	Total         int
	Succeeded     int
	Failed        []FailedRecord
	Batches       int
	FailedBatches int
	Duration      time.Duration
}

// PartialFailure reports whether some records succeeded and some failed.
func (r *WriteResult) PartialFailure() bool {
	return len(r.Failed) > 0 && r.Succeeded > 0
}

// DeadLetterFunc receives records that exhausted all write attempts. The
// callback must not block; drop or forward quickly.
type DeadLetterFunc func(sink, operation string, failed []FailedRecord)
