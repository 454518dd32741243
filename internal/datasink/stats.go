// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasink

import (
	"math"
	"sync/atomic"
	"time"
)

// WriteStats tracks write outcomes without locks. Counters use plain
// atomic adds; min/max write times use CAS loops so concurrent writers
// never lose an extreme.
type WriteStats struct {
	recordsWritten atomic.Int64
	recordsFailed  atomic.Int64
	batchesWritten atomic.Int64
	batchesFailed  atomic.Int64

	minWriteNanos atomic.Int64
	maxWriteNanos atomic.Int64
	totalNanos    atomic.Int64
	writes        atomic.Int64
}

// NewWriteStats initializes the min tracker to the maximum value so the
// first observation always wins.
func NewWriteStats() *WriteStats {
	s := &WriteStats{}
	s.minWriteNanos.Store(math.MaxInt64)
	return s
}

// Record folds one write outcome into the stats.
func (s *WriteStats) Record(result *WriteResult) {
	s.recordsWritten.Add(int64(result.Succeeded))
	s.recordsFailed.Add(int64(len(result.Failed)))
	s.batchesWritten.Add(int64(result.Batches - result.FailedBatches))
	s.batchesFailed.Add(int64(result.FailedBatches))
	s.writes.Add(1)
	s.totalNanos.Add(int64(result.Duration))

	nanos := int64(result.Duration)
	for {
		min := s.minWriteNanos.Load()
		if nanos >= min || s.minWriteNanos.CompareAndSwap(min, nanos) {
			break
		}
	}
	for {
		max := s.maxWriteNanos.Load()
		if nanos <= max || s.maxWriteNanos.CompareAndSwap(max, nanos) {
			break
		}
	}
}

// Snapshot is a point-in-time copy of the stats.
type Snapshot struct {
	RecordsWritten int64
	RecordsFailed  int64
	BatchesWritten int64
	BatchesFailed  int64
	MinWrite       time.Duration
	MaxWrite       time.Duration
	AvgWrite       time.Duration
}

// Snapshot reads the stats. Min is zero until the first write.
func (s *WriteStats) Snapshot() Snapshot {
	snap := Snapshot{
		RecordsWritten: s.recordsWritten.Load(),
		RecordsFailed:  s.recordsFailed.Load(),
		BatchesWritten: s.batchesWritten.Load(),
		BatchesFailed:  s.batchesFailed.Load(),
		MaxWrite:       time.Duration(s.maxWriteNanos.Load()),
	}
	if min := s.minWriteNanos.Load(); min != math.MaxInt64 {
		snap.MinWrite = time.Duration(min)
	}
	if writes := s.writes.Load(); writes > 0 {
		snap.AvgWrite = time.Duration(s.totalNanos.Load() / writes)
	}
	return snap
}
