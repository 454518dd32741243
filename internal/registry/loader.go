// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/apexrules/apex/internal/chain"
	"github.com/apexrules/apex/internal/datasink"
	"github.com/apexrules/apex/internal/datasource"
	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/grammar"
	"github.com/apexrules/apex/internal/model"
)

// Loader reads configuration files, validates them and assembles a
// Generation. A failed load leaves the previously installed generation
// untouched.
type Loader struct {
	registry *Registry
	logger   *slog.Logger
	defaults *ConnectionDefaults
}

// LoaderOption customizes loader construction.
type LoaderOption func(*Loader)

// ConnectionDefaults fills pool settings that a source's connection
// config omits. Zero fields are left to the model's own defaults.
type ConnectionDefaults struct {
	MinPoolSize     int
	InitialPoolSize int
	MaxPoolSize     int

	ConnectionTimeout      time.Duration
	IdleTimeout            time.Duration
	MaxLifetime            time.Duration
	LeakDetectionThreshold time.Duration
	ValidationInterval     time.Duration
}

// WithConnectionDefaults applies engine-level pool defaults to sources
// that do not set their own.
func WithConnectionDefaults(d ConnectionDefaults) LoaderOption {
	return func(l *Loader) { l.defaults = &d }
}

// NewLoader creates a loader that installs into registry.
func NewLoader(registry *Registry, logger *slog.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{
		registry: registry,
		logger:   logger.With(slog.String("component", "loader")),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads and validates every path, builds all services and installs
// the resulting generation. All-or-nothing: any validation or connector
// failure aborts the load and closes whatever was already built.
func (l *Loader) Load(ctx context.Context, paths ...string) error {
	gen, err := l.build(ctx, paths)
	if err != nil {
		return err
	}
	l.registry.Install(gen)
	return nil
}

// Reload rebuilds from the same or new paths. Identical to Load; named
// separately so call sites read as a config refresh.
func (l *Loader) Reload(ctx context.Context, paths ...string) error {
	return l.Load(ctx, paths...)
}

func (l *Loader) build(ctx context.Context, paths []string) (gen *Generation, err error) {
	gen = NewGeneration()
	defer func() {
		if err != nil {
			if cerr := gen.close(); cerr != nil {
				l.logger.Warn("closing partially built generation", slog.Any("error", cerr))
			}
		}
	}()

	docs := make([]*model.Document, 0, len(paths))
	for _, path := range paths {
		doc, loadErr := l.loadDocument(path)
		if loadErr != nil {
			return gen, loadErr
		}
		docs = append(docs, doc)
	}

	for i, doc := range docs {
		if err = l.populate(ctx, gen, doc, paths[i]); err != nil {
			return gen, err
		}
	}
	return gen, nil
}

// loadDocument reads one file, runs grammar validation on the raw tree
// and binds the typed document. Grammar errors are fatal; warnings are
// logged and the load continues.
func (l *Loader) loadDocument(path string) (*model.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.WrapPath(errkind.Configuration, path, err)
	}
	doc, raw, err := model.Parse(data)
	if err != nil {
		return nil, errkind.WrapPath(errkind.Configuration, path, err)
	}
	result := grammar.ValidateDocument(path, raw)
	for _, warning := range result.Warnings {
		l.logger.Warn("configuration warning",
			slog.String("path", path), slog.String("warning", warning))
	}
	if len(result.Errors) > 0 {
		errs := make([]error, 0, len(result.Errors))
		for _, e := range result.Errors {
			errs = append(errs, errors.New(e))
		}
		return nil, errkind.WrapPath(errkind.Configuration, path, errors.Join(errs...))
	}
	return doc, nil
}

func (l *Loader) populate(ctx context.Context, gen *Generation, doc *model.Document, path string) error {
	for i := range doc.DataSources {
		cfg := doc.DataSources[i]
		if !cfg.IsEnabled() {
			l.logger.Debug("skipping disabled data source", slog.String("name", cfg.Name))
			continue
		}
		if _, dup := gen.Sources[cfg.Name]; dup {
			return errkind.New(errkind.Configuration,
				"%s: duplicate data source %q", path, cfg.Name)
		}
		l.applyConnectionDefaults(&cfg)
		source, err := datasource.Build(ctx, cfg, l.logger)
		if err != nil {
			return errkind.WrapPath(errkind.KindOf(err), path, err)
		}
		gen.Sources[cfg.Name] = source
		if definesLookup(&cfg) {
			gen.Lookups[cfg.Name] = NewSourceLookup(cfg.Name, source, "", "")
		}
	}

	for i := range doc.DataSinks {
		cfg := doc.DataSinks[i]
		if !cfg.IsEnabled() {
			continue
		}
		if _, dup := gen.Sinks[cfg.Name]; dup {
			return errkind.New(errkind.Configuration,
				"%s: duplicate data sink %q", path, cfg.Name)
		}
		if cfg.Type != model.SourceDatabase {
			return errkind.New(errkind.Configuration,
				"%s: data sink %q has unsupported type %q", path, cfg.Name, cfg.Type)
		}
		sink, err := datasink.NewDatabaseSink(cfg, l.logger)
		if err != nil {
			return errkind.WrapPath(errkind.KindOf(err), path, err)
		}
		gen.Sinks[cfg.Name] = sink
	}

	for i := range doc.RuleChains {
		rc := doc.RuleChains[i]
		if !rc.IsEnabled() {
			continue
		}
		if err := chain.ValidateChainConfig(&rc); err != nil {
			return errkind.WrapPath(errkind.Configuration, path, err)
		}
		if _, dup := gen.Chains[rc.ID]; dup {
			return errkind.New(errkind.Configuration,
				"%s: duplicate rule chain %q", path, rc.ID)
		}
		gen.Chains[rc.ID] = &rc
	}

	gen.Enrichments = append(gen.Enrichments, doc.Enrichments...)

	if model.DocumentType(doc.Metadata.Type) == model.TypeDataset && len(doc.Data) > 0 {
		name := doc.Metadata.ID
		if name == "" {
			name = doc.Metadata.Name
		}
		if _, dup := gen.Lookups[name]; dup {
			return errkind.New(errkind.Configuration,
				"%s: duplicate lookup service %q", path, name)
		}
		gen.Lookups[name] = datasetLookup(name, doc.Data)
	}
	return nil
}

// applyConnectionDefaults fills omitted pool settings from the engine
// defaults. A source's own values always win.
func (l *Loader) applyConnectionDefaults(cfg *model.DataSourceConfig) {
	if l.defaults == nil || cfg.Connection == nil {
		return
	}
	d := l.defaults
	c := cfg.Connection
	if c.MinPoolSize == 0 {
		c.MinPoolSize = d.MinPoolSize
	}
	if c.InitialPoolSize == 0 {
		c.InitialPoolSize = d.InitialPoolSize
	}
	if c.MaxPoolSize == 0 {
		c.MaxPoolSize = d.MaxPoolSize
	}
	if c.ConnectionTimeoutMillis == 0 {
		c.ConnectionTimeoutMillis = int(d.ConnectionTimeout / time.Millisecond)
	}
	if c.IdleTimeoutMillis == 0 {
		c.IdleTimeoutMillis = int(d.IdleTimeout / time.Millisecond)
	}
	if c.MaxLifetimeMillis == 0 {
		c.MaxLifetimeMillis = int(d.MaxLifetime / time.Millisecond)
	}
	if c.LeakThresholdMillis == 0 {
		c.LeakThresholdMillis = int(d.LeakDetectionThreshold / time.Millisecond)
	}
	if c.ValidationIntervalMillis == 0 {
		c.ValidationIntervalMillis = int(d.ValidationInterval / time.Millisecond)
	}
}

// definesLookup reports whether the source declares the conventional
// "lookup" operation in any of its operation maps.
func definesLookup(cfg *model.DataSourceConfig) bool {
	for _, ops := range []map[string]string{cfg.Queries, cfg.Endpoints, cfg.Topics, cfg.KeyPatterns} {
		if _, ok := ops[lookupOperation]; ok {
			return true
		}
	}
	return false
}

// datasetLookup keys dataset rows by their "key" field, falling back to
// "id". Rows without either are skipped.
func datasetLookup(name string, data []map[string]any) *InMemoryLookup {
	rows := make(map[string]map[string]any, len(data))
	for _, row := range data {
		key, ok := row["key"]
		if !ok {
			key, ok = row["id"]
		}
		if !ok || key == nil {
			continue
		}
		rows[fmt.Sprint(key)] = row
	}
	return NewInMemoryLookup(name, rows)
}
