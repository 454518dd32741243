// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasource

import (
	"context"
	"log/slog"
	"sync"

	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/model"
)

// SourceFactory builds a fully wired DataSource from its configuration.
type SourceFactory func(ctx context.Context, cfg model.DataSourceConfig, logger *slog.Logger) (DataSource, error)

var (
	customMu        sync.RWMutex
	customFactories = map[string]SourceFactory{}
)

// RegisterCustom registers a factory for type "custom" sources under the
// given implementation name. Registration replaces any previous factory
// with the same name.
func RegisterCustom(implementation string, factory SourceFactory) {
	customMu.Lock()
	defer customMu.Unlock()
	customFactories[implementation] = factory
}

// Build dispatches on the configured source type and returns a started
// DataSource. Custom sources resolve their factory by implementation name.
func Build(ctx context.Context, cfg model.DataSourceConfig, logger *slog.Logger) (DataSource, error) {
	switch cfg.Type {
	case model.SourceDatabase:
		return NewDatabaseSource(ctx, cfg, logger)
	case model.SourceRestAPI:
		return NewRestSource(cfg, logger)
	case model.SourceCache:
		return NewCacheSource(cfg, logger)
	case model.SourceFileSystem:
		return NewFileSource(cfg, logger)
	case model.SourceMessageQueue:
		return NewQueueSource(cfg, logger)
	case model.SourceCustom:
		customMu.RLock()
		factory, ok := customFactories[cfg.Implementation]
		customMu.RUnlock()
		if !ok {
			return nil, errkind.New(errkind.Configuration,
				"no custom source factory registered for implementation %q", cfg.Implementation)
		}
		return factory(ctx, cfg, logger)
	}
	return nil, errkind.New(errkind.Configuration, "unknown data source type %q", cfg.Type)
}
