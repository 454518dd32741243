// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry holds the engine's shared services: data sources,
// sinks, lookup services, rule chains and enrichments. Reload swaps the
// whole generation atomically; in-flight requests keep the generation
// they started with.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/apexrules/apex/internal/datasink"
	"github.com/apexrules/apex/internal/datasource"
	"github.com/apexrules/apex/internal/enrichment"
	"github.com/apexrules/apex/internal/model"
)

// Generation is one immutable snapshot of all registered services. Build
// a generation fully, then install it; never mutate an installed one.
type Generation struct {
	Sources     map[string]datasource.DataSource
	Sinks       map[string]datasink.DataSink
	Lookups     map[string]enrichment.LookupService
	Chains      map[string]*model.RuleChain
	Enrichments []model.Enrichment
}

// NewGeneration creates an empty generation.
func NewGeneration() *Generation {
	return &Generation{
		Sources: map[string]datasource.DataSource{},
		Sinks:   map[string]datasink.DataSink{},
		Lookups: map[string]enrichment.LookupService{},
		Chains:  map[string]*model.RuleChain{},
	}
}

// close releases every service owned by the generation.
func (g *Generation) close() error {
	var errs []error
	for _, source := range g.Sources {
		if err := source.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, sink := range g.Sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Registry is the concurrent-safe service directory. Readers resolve
// against the current generation without locks.
type Registry struct {
	current atomic.Pointer[Generation]
	serial  atomic.Int64
	logger  *slog.Logger
}

// New creates a registry with an empty generation installed.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger.With(slog.String("component", "registry"))}
	r.current.Store(NewGeneration())
	return r
}

// Generation returns the current snapshot. Callers hold it for the
// duration of one request so a concurrent reload cannot change their view.
func (r *Registry) Generation() *Generation {
	return r.current.Load()
}

// Serial reports how many generations have been installed.
func (r *Registry) Serial() int64 { return r.serial.Load() }

// Install atomically replaces the current generation. The previous one is
// closed; requests still running on it keep their borrowed services until
// those are released through the normal pool paths.
func (r *Registry) Install(gen *Generation) {
	old := r.current.Swap(gen)
	serial := r.serial.Add(1)
	r.logger.Info("generation installed",
		slog.Int64("serial", serial),
		slog.Int("sources", len(gen.Sources)),
		slog.Int("sinks", len(gen.Sinks)),
		slog.Int("lookups", len(gen.Lookups)),
		slog.Int("chains", len(gen.Chains)))
	if old != nil {
		if err := old.close(); err != nil {
			r.logger.Warn("closing previous generation", slog.Any("error", err))
		}
	}
}

// DataSource resolves a data source by name.
func (r *Registry) DataSource(name string) (datasource.DataSource, bool) {
	s, ok := r.Generation().Sources[name]
	return s, ok
}

// DataSink resolves a data sink by name.
func (r *Registry) DataSink(name string) (datasink.DataSink, bool) {
	s, ok := r.Generation().Sinks[name]
	return s, ok
}

// LookupService resolves a lookup service by name. Implements
// enrichment.ServiceResolver.
func (r *Registry) LookupService(name string) (enrichment.LookupService, bool) {
	s, ok := r.Generation().Lookups[name]
	return s, ok
}

// RuleChain resolves a rule chain by id.
func (r *Registry) RuleChain(id string) (*model.RuleChain, bool) {
	c, ok := r.Generation().Chains[id]
	return c, ok
}

// Enrichments returns the registered enrichments in declaration order.
func (r *Registry) Enrichments() []model.Enrichment {
	return r.Generation().Enrichments
}

// Shutdown closes the current generation and installs an empty one so
// late resolvers see nothing rather than closed services.
func (r *Registry) Shutdown(ctx context.Context) error {
	gen := r.current.Swap(NewGeneration())
	done := make(chan error, 1)
	go func() { done <- gen.close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ enrichment.ServiceResolver = (*Registry)(nil)
