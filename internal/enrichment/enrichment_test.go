// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package enrichment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/expr"
	"github.com/apexrules/apex/internal/model"
)

type mapLookup struct {
	name  string
	rows  map[string]map[string]any
	calls int
	err   error
}

func (l *mapLookup) Name() string { return l.name }

func (l *mapLookup) Lookup(_ context.Context, key string) (map[string]any, bool, error) {
	l.calls++
	if l.err != nil {
		return nil, false, l.err
	}
	row, ok := l.rows[key]
	return row, ok, nil
}

type mapResolver map[string]LookupService

func (r mapResolver) LookupService(name string) (LookupService, bool) {
	s, ok := r[name]
	return s, ok
}

func newProcessor(t *testing.T, services ...*mapLookup) *Processor {
	t.Helper()
	cache, err := expr.NewCache(128)
	require.NoError(t, err)
	resolver := mapResolver{}
	for _, s := range services {
		resolver[s.name] = s
	}
	return NewProcessor(resolver, cache, nil)
}

func counterpartyEnrichment() model.Enrichment {
	return model.Enrichment{
		ID:   "counterparty-enrichment",
		Type: model.EnrichmentLookup,
		LookupConfig: &model.LookupConfig{
			LookupService: "counterpartyLookupService",
			LookupKey:     "#counterpartyId",
		},
		FieldMappings: []model.FieldMapping{
			{SourceField: "name", TargetField: "counterpartyName"},
			{SourceField: "rating", TargetField: "counterpartyRating", DefaultValue: "NR"},
			{SourceField: "jurisdiction", TargetField: "counterpartyJurisdiction", DefaultValue: "UNKNOWN"},
		},
	}
}

func counterpartyService() *mapLookup {
	return &mapLookup{
		name: "counterpartyLookupService",
		rows: map[string]map[string]any{
			"CPTY001": {"name": "Goldman Sachs", "rating": "A+", "jurisdiction": "US"},
		},
	}
}

func TestLookupEnrichmentMapsFields(t *testing.T) {
	processor := newProcessor(t, counterpartyService())
	record := map[string]any{"counterpartyId": "CPTY001", "notional": 1000000}

	out, err := processor.Enrich(context.Background(), record,
		[]model.Enrichment{counterpartyEnrichment()})
	require.NoError(t, err)

	// The record instance is enriched in place.
	assert.Equal(t, record["counterpartyName"], out["counterpartyName"])
	assert.Equal(t, "Goldman Sachs", out["counterpartyName"])
	assert.Equal(t, "A+", out["counterpartyRating"])
	assert.Equal(t, "US", out["counterpartyJurisdiction"])
	assert.Equal(t, 1000000, out["notional"], "existing fields untouched")
}

func TestLookupEnrichmentMissingRowAppliesDefaults(t *testing.T) {
	processor := newProcessor(t, counterpartyService())
	record := map[string]any{"counterpartyId": "UNKNOWN"}

	out, err := processor.Enrich(context.Background(), record,
		[]model.Enrichment{counterpartyEnrichment()})
	require.NoError(t, err)
	assert.Equal(t, "NR", out["counterpartyRating"])
	assert.Equal(t, "UNKNOWN", out["counterpartyJurisdiction"])
	_, hasName := out["counterpartyName"]
	assert.False(t, hasName, "no default configured, field stays absent")
}

func TestLookupEnrichmentRequiredFieldMissing(t *testing.T) {
	e := counterpartyEnrichment()
	e.FieldMappings = []model.FieldMapping{
		{SourceField: "name", TargetField: "counterpartyName", Required: true},
	}
	processor := newProcessor(t, counterpartyService())

	_, err := processor.Enrich(context.Background(),
		map[string]any{"counterpartyId": "UNKNOWN"}, []model.Enrichment{e})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required field "name" missing`)
}

func TestLookupEnrichmentMissingServiceIsFatal(t *testing.T) {
	processor := newProcessor(t)

	_, err := processor.Enrich(context.Background(),
		map[string]any{"counterpartyId": "CPTY001"},
		[]model.Enrichment{counterpartyEnrichment()})
	require.Error(t, err)
	assert.True(t, errkind.IsKind(err, errkind.Fatal))
	assert.Contains(t, err.Error(), "counterpartyLookupService")
}

func TestLookupEnrichmentCachesHitsAndMisses(t *testing.T) {
	service := counterpartyService()
	e := counterpartyEnrichment()
	e.LookupConfig.CacheEnabled = true
	e.LookupConfig.CacheTTLSeconds = 60
	processor := newProcessor(t, service)

	for i := 0; i < 3; i++ {
		_, err := processor.Enrich(context.Background(),
			map[string]any{"counterpartyId": "CPTY001"}, []model.Enrichment{e})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, service.calls, "repeat lookups served from cache")

	for i := 0; i < 3; i++ {
		processor.Enrich(context.Background(),
			map[string]any{"counterpartyId": "NOPE"}, []model.Enrichment{e})
	}
	assert.Equal(t, 2, service.calls, "misses are cached too")
}

func TestEnrichmentPriorityOrderIsStable(t *testing.T) {
	processor := newProcessor(t)
	makeCalc := func(id string, priority int) model.Enrichment {
		return model.Enrichment{
			ID:       id,
			Type:     model.EnrichmentCalculation,
			Priority: priority,
			CalculationConfig: &model.CalculationConfig{
				Expression:  `"` + id + `"`,
				ResultField: "last",
			},
		}
	}
	enrichments := []model.Enrichment{
		makeCalc("third", 20),
		makeCalc("first", 10),
		makeCalc("second", 10),
	}

	record := map[string]any{}
	_, err := processor.Enrich(context.Background(), record, enrichments)
	require.NoError(t, err)
	// Equal priorities keep configuration order, so "second" ran after
	// "first" and "third" ran last.
	assert.Equal(t, "third", record["last"])
}

func TestEnrichmentGating(t *testing.T) {
	service := counterpartyService()
	processor := newProcessor(t, service)

	disabled := false
	gated := []model.Enrichment{
		func() model.Enrichment {
			e := counterpartyEnrichment()
			e.Enabled = &disabled
			return e
		}(),
		func() model.Enrichment {
			e := counterpartyEnrichment()
			e.TargetType = "equity-trade"
			return e
		}(),
		func() model.Enrichment {
			e := counterpartyEnrichment()
			e.Condition = "#notional > 5000000"
			return e
		}(),
	}

	record := map[string]any{"counterpartyId": "CPTY001", "recordType": "fx-trade", "notional": 100}
	out, err := processor.Enrich(context.Background(), record, gated)
	require.NoError(t, err)
	assert.Zero(t, service.calls)
	_, enriched := out["counterpartyName"]
	assert.False(t, enriched)
}

func TestEnrichmentIsIdempotent(t *testing.T) {
	processor := newProcessor(t, counterpartyService())
	enrichments := []model.Enrichment{counterpartyEnrichment()}
	record := map[string]any{"counterpartyId": "CPTY001"}

	first, err := processor.Enrich(context.Background(), record, enrichments)
	require.NoError(t, err)
	snapshot := map[string]any{}
	for k, v := range first {
		snapshot[k] = v
	}

	second, err := processor.Enrich(context.Background(), first, enrichments)
	require.NoError(t, err)
	assert.Equal(t, snapshot, second)
}

func TestCalculationEnrichment(t *testing.T) {
	processor := newProcessor(t)
	record := map[string]any{"quantity": 4, "price": 25}

	out, err := processor.Enrich(context.Background(), record, []model.Enrichment{{
		ID:   "total-calc",
		Type: model.EnrichmentCalculation,
		CalculationConfig: &model.CalculationConfig{
			Expression:  "#quantity * #price",
			ResultField: "total",
		},
	}})
	require.NoError(t, err)
	assert.EqualValues(t, 100, out["total"])
}

func TestCalculationEnrichmentExpressionError(t *testing.T) {
	processor := newProcessor(t)

	_, err := processor.Enrich(context.Background(), map[string]any{}, []model.Enrichment{{
		ID:   "bad-calc",
		Type: model.EnrichmentCalculation,
		CalculationConfig: &model.CalculationConfig{
			Expression:  "1 +",
			ResultField: "x",
		},
	}})
	require.Error(t, err)
	assert.True(t, errkind.IsKind(err, errkind.Expression))
}
