// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasink

import (
	"runtime"

	"github.com/apexrules/apex/internal/model"
)

// memStatsFunc is swapped in tests to simulate memory pressure.
var memStatsFunc = func() (heapInUse, heapSys uint64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapInuse, m.HeapSys
}

// BatchManager computes the effective batch size for each write. The size
// is clamped to [1, maxBatchSize] and reduced proportionally while heap
// usage exceeds the configured memory threshold.
type BatchManager struct {
	size      int
	maxSize   int
	threshold int
}

// NewBatchManager builds a manager from the sink's batch config. A nil or
// disabled config yields batches of one.
func NewBatchManager(cfg *model.BatchConfig) *BatchManager {
	if cfg == nil || !cfg.Enabled {
		return &BatchManager{size: 1, maxSize: 1}
	}
	size := cfg.BatchSize
	if size <= 0 {
		size = 100
	}
	maxSize := cfg.MaxBatchSize
	if maxSize <= 0 {
		maxSize = size
	}
	threshold := cfg.MemoryThresholdPercent
	if threshold <= 0 || threshold > 100 {
		threshold = 80
	}
	return &BatchManager{size: size, maxSize: maxSize, threshold: threshold}
}

// EffectiveSize returns the batch size to use right now.
func (b *BatchManager) EffectiveSize() int {
	size := clamp(b.size, 1, b.maxSize)
	heapInUse, heapSys := memStatsFunc()
	if heapSys == 0 {
		return size
	}
	usedPercent := int(heapInUse * 100 / heapSys)
	if usedPercent <= b.threshold {
		return size
	}
	// Shrink in proportion to how far past the threshold the heap is.
	over := usedPercent - b.threshold
	headroom := 100 - b.threshold
	reduced := size * (headroom - over) / headroom
	return clamp(reduced, 1, b.maxSize)
}

// Split partitions records into batches of the current effective size.
func (b *BatchManager) Split(records []map[string]any) [][]map[string]any {
	size := b.EffectiveSize()
	batches := make([][]map[string]any, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
