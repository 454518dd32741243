// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasink

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/apexrules/apex/internal/model"
)

func TestBatchManagerDefaults(t *testing.T) {
	assert.Equal(t, 1, NewBatchManager(nil).EffectiveSize())
	assert.Equal(t, 1, NewBatchManager(&model.BatchConfig{}).EffectiveSize())
	assert.Equal(t, 100, NewBatchManager(&model.BatchConfig{Enabled: true}).EffectiveSize())
}

func TestBatchManagerClampsToMax(t *testing.T) {
	manager := NewBatchManager(&model.BatchConfig{
		Enabled:      true,
		BatchSize:    500,
		MaxBatchSize: 200,
	})
	assert.Equal(t, 200, manager.EffectiveSize())
}

func TestBatchManagerShrinksUnderMemoryPressure(t *testing.T) {
	original := memStatsFunc
	defer func() { memStatsFunc = original }()

	manager := NewBatchManager(&model.BatchConfig{
		Enabled:                true,
		BatchSize:              100,
		MaxBatchSize:           100,
		MemoryThresholdPercent: 80,
	})

	memStatsFunc = func() (uint64, uint64) { return 50, 100 } // 50% used
	assert.Equal(t, 100, manager.EffectiveSize())

	memStatsFunc = func() (uint64, uint64) { return 90, 100 } // 90% used
	assert.Equal(t, 50, manager.EffectiveSize(), "half the headroom gone halves the batch")

	memStatsFunc = func() (uint64, uint64) { return 100, 100 }
	assert.Equal(t, 1, manager.EffectiveSize(), "full heap floors at one record per batch")
}

func TestBatchManagerSplit(t *testing.T) {
	original := memStatsFunc
	defer func() { memStatsFunc = original }()
	memStatsFunc = func() (uint64, uint64) { return 0, 100 }

	manager := NewBatchManager(&model.BatchConfig{Enabled: true, BatchSize: 3})
	batches := manager.Split(records(7))
	assert.Len(t, batches, 3)
	assert.Len(t, batches[0], 3)
	assert.Len(t, batches[2], 1)

	assert.Empty(t, manager.Split(nil))
}
