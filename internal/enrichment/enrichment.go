// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

// Package enrichment applies configured lookup and calculation enrichments
// to records before rule evaluation.
package enrichment

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/expr"
	"github.com/apexrules/apex/internal/model"
)

// LookupService resolves one key to a reference-data row. A missing row
// returns (nil, false, nil); errors are reserved for lookup failures.
type LookupService interface {
	Name() string
	Lookup(ctx context.Context, key string) (map[string]any, bool, error)
}

// ServiceResolver finds lookup services by name. The registry implements
// this.
type ServiceResolver interface {
	LookupService(name string) (LookupService, bool)
}

const defaultCacheSize = 1024

// Processor runs enrichments against records. Enrichments execute in
// ascending priority order; ties keep configuration order. Lookup results
// may be cached per enrichment with a TTL.
type Processor struct {
	resolver ServiceResolver
	exprs    *expr.Cache
	logger   *slog.Logger

	mu     sync.Mutex
	caches map[string]*expirable.LRU[string, lookupEntry]
}

// lookupEntry caches both hits and misses so a hot missing key does not
// hammer the service.
type lookupEntry struct {
	row   map[string]any
	found bool
}

// NewProcessor builds a processor. The expression cache is shared with the
// rest of the engine.
func NewProcessor(resolver ServiceResolver, exprs *expr.Cache, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		resolver: resolver,
		exprs:    exprs,
		logger:   logger.With(slog.String("component", "enrichment")),
		caches:   map[string]*expirable.LRU[string, lookupEntry]{},
	}
}

// Enrich applies every eligible enrichment to record, in priority order,
// and returns the same record instance. A missing lookup service aborts
// immediately; field-level failures are joined and returned after all
// enrichments ran.
func (p *Processor) Enrich(ctx context.Context, record map[string]any, enrichments []model.Enrichment) (map[string]any, error) {
	ordered := make([]model.Enrichment, len(enrichments))
	copy(ordered, enrichments)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	var fieldErrs []error
	for i := range ordered {
		e := &ordered[i]
		if err := ctx.Err(); err != nil {
			return record, errkind.Wrap(errkind.Cancelled, err)
		}
		eligible, err := p.eligible(e, record)
		if err != nil {
			p.logger.Warn("enrichment condition failed, skipping",
				slog.String("enrichment", e.ID), slog.Any("error", err))
			continue
		}
		if !eligible {
			continue
		}

		switch e.Type {
		case model.EnrichmentLookup:
			if err := p.applyLookup(ctx, e, record); err != nil {
				if errkind.IsKind(err, errkind.Fatal) {
					return record, err
				}
				fieldErrs = append(fieldErrs, err)
			}
		case model.EnrichmentCalculation:
			if err := p.applyCalculation(e, record); err != nil {
				fieldErrs = append(fieldErrs, err)
			}
		default:
			fieldErrs = append(fieldErrs, errkind.New(errkind.Configuration,
				"enrichment %q has unknown type %q", e.ID, e.Type))
		}
	}
	return record, errors.Join(fieldErrs...)
}

// eligible applies the enabled, targetType and condition gates.
func (p *Processor) eligible(e *model.Enrichment, record map[string]any) (bool, error) {
	if !e.IsEnabled() {
		return false, nil
	}
	if e.TargetType != "" {
		recordType, _ := record["recordType"].(string)
		if recordType != e.TargetType {
			return false, nil
		}
	}
	if e.Condition == "" {
		return true, nil
	}
	return p.exprs.EvaluateBool(e.Condition, expr.NewContext(record))
}

func (p *Processor) applyLookup(ctx context.Context, e *model.Enrichment, record map[string]any) error {
	cfg := e.LookupConfig
	if cfg == nil {
		return errkind.New(errkind.Configuration,
			"lookup enrichment %q has no lookupConfig", e.ID)
	}
	service, ok := p.resolver.LookupService(cfg.LookupService)
	if !ok {
		// A missing service is a wiring error, not a data condition.
		return errkind.WrapPath(errkind.Fatal, e.ID,
			errkind.New(errkind.Lookup, "lookup service %q is not registered", cfg.LookupService))
	}

	keyValue, err := p.exprs.Evaluate(cfg.LookupKey, expr.NewContext(record))
	if err != nil {
		return errkind.WrapPath(errkind.Expression, e.ID, err)
	}
	key := expr.Stringify(keyValue)

	row, found, err := p.lookup(ctx, e.ID, cfg, service, key)
	if err != nil {
		return errkind.WrapPath(errkind.Lookup, e.ID, err)
	}

	var fieldErrs []error
	for _, mapping := range e.FieldMappings {
		value, present := any(nil), false
		if found {
			value, present = row[mapping.SourceField]
		}
		switch {
		case present:
			record[mapping.TargetField] = value
		case mapping.DefaultValue != nil:
			record[mapping.TargetField] = mapping.DefaultValue
		case mapping.Required:
			fieldErrs = append(fieldErrs, errkind.New(errkind.Lookup,
				"enrichment %q: required field %q missing for key %q",
				e.ID, mapping.SourceField, key))
		}
	}
	return errors.Join(fieldErrs...)
}

// lookup consults the per-enrichment cache when enabled.
func (p *Processor) lookup(ctx context.Context, id string, cfg *model.LookupConfig, service LookupService, key string) (map[string]any, bool, error) {
	if !cfg.CacheEnabled {
		return service.Lookup(ctx, key)
	}

	cache := p.cacheFor(id, cfg)
	if entry, ok := cache.Get(key); ok {
		return entry.row, entry.found, nil
	}
	row, found, err := service.Lookup(ctx, key)
	if err != nil {
		return nil, false, err
	}
	cache.Add(key, lookupEntry{row: row, found: found})
	return row, found, nil
}

func (p *Processor) cacheFor(id string, cfg *model.LookupConfig) *expirable.LRU[string, lookupEntry] {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cache, ok := p.caches[id]; ok {
		return cache
	}
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cache := expirable.NewLRU[string, lookupEntry](defaultCacheSize, nil, ttl)
	p.caches[id] = cache
	return cache
}

func (p *Processor) applyCalculation(e *model.Enrichment, record map[string]any) error {
	cfg := e.CalculationConfig
	if cfg == nil {
		return errkind.New(errkind.Configuration,
			"calculation enrichment %q has no calculationConfig", e.ID)
	}
	value, err := p.exprs.Evaluate(cfg.Expression, expr.NewContext(record))
	if err != nil {
		return errkind.WrapPath(errkind.Expression, e.ID, err)
	}
	// A nil result is a legal outcome and is stored as such.
	record[cfg.ResultField] = value
	return nil
}
