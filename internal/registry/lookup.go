// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"sync"

	"github.com/apexrules/apex/internal/datasource"
	"github.com/apexrules/apex/internal/enrichment"
)

// InMemoryLookup serves lookups from a static row map. Used for reference
// data shipped with the configuration and in tests.
type InMemoryLookup struct {
	name string

	mu   sync.RWMutex
	rows map[string]map[string]any
}

// NewInMemoryLookup builds a lookup service over the given rows.
func NewInMemoryLookup(name string, rows map[string]map[string]any) *InMemoryLookup {
	if rows == nil {
		rows = map[string]map[string]any{}
	}
	return &InMemoryLookup{name: name, rows: rows}
}

// Name implements enrichment.LookupService.
func (l *InMemoryLookup) Name() string { return l.name }

// Lookup implements enrichment.LookupService.
func (l *InMemoryLookup) Lookup(_ context.Context, key string) (map[string]any, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	row, ok := l.rows[key]
	return row, ok, nil
}

// Put adds or replaces one row.
func (l *InMemoryLookup) Put(key string, row map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows[key] = row
}

// lookupOperation is the conventional operation name a data source must
// define to serve as a lookup service.
const lookupOperation = "lookup"

// lookupKeyParam is the parameter the key value binds to.
const lookupKeyParam = "key"

// SourceLookup adapts a data source to the lookup contract: the key is
// bound as the :key parameter of the source's "lookup" operation.
type SourceLookup struct {
	name      string
	source    datasource.DataSource
	operation string
	keyParam  string
}

// NewSourceLookup wraps source as a lookup service. Empty operation and
// keyParam fall back to the "lookup"/"key" convention.
func NewSourceLookup(name string, source datasource.DataSource, operation, keyParam string) *SourceLookup {
	if operation == "" {
		operation = lookupOperation
	}
	if keyParam == "" {
		keyParam = lookupKeyParam
	}
	return &SourceLookup{name: name, source: source, operation: operation, keyParam: keyParam}
}

// Name implements enrichment.LookupService.
func (l *SourceLookup) Name() string { return l.name }

// Lookup implements enrichment.LookupService.
func (l *SourceLookup) Lookup(ctx context.Context, key string) (map[string]any, bool, error) {
	return l.source.QueryOne(ctx, l.operation, map[string]any{l.keyParam: key})
}

var _ enrichment.LookupService = (*InMemoryLookup)(nil)
var _ enrichment.LookupService = (*SourceLookup)(nil)
