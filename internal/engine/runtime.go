// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/apexrules/apex/internal/config"
	"github.com/apexrules/apex/internal/datasink"
	"github.com/apexrules/apex/internal/datasource"
	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/expr"
	"github.com/apexrules/apex/internal/logging"
	"github.com/apexrules/apex/internal/observability"
	"github.com/apexrules/apex/internal/registry"
)

// Runtime is the composition root for an APEX process: it builds the
// logger, metrics, expression cache, registry and loader from one engine
// configuration and wires the observers between them. One Runtime per
// process; the datasource observer providers are process-wide.
type Runtime struct {
	cfg      config.Engine
	logger   *slog.Logger
	metrics  *observability.Metrics
	registry *registry.Registry
	loader   *registry.Loader
	engine   *Engine
}

// NewRuntime validates cfg and assembles the runtime. Collectors register
// on registerer; pass nil logger to construct one from cfg.Logging.
func NewRuntime(cfg config.Engine, registerer prometheus.Registerer, logger *slog.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.New(cfg.Logging)
	}

	metrics, err := observability.NewMetrics(registerer)
	if err != nil {
		return nil, err
	}
	datasource.SetPoolObserverProvider(metrics.PoolObserver)
	datasource.SetHealthObserverProvider(metrics.HealthObserver)
	datasource.SetRetryObserverProvider(metrics.RetryObserver)

	onHit, onMiss := metrics.ExprCacheObservers()
	exprs, err := expr.NewCache(cfg.Expression.CacheSize, expr.WithCacheObserver(onHit, onMiss))
	if err != nil {
		return nil, err
	}

	reg := registry.New(logger)
	loader := registry.NewLoader(reg, logger, registry.WithConnectionDefaults(registry.ConnectionDefaults{
		MinPoolSize:            cfg.Pools.MinSize,
		InitialPoolSize:        cfg.Pools.InitialSize,
		MaxPoolSize:            cfg.Pools.MaxSize,
		ConnectionTimeout:      cfg.Pools.ConnectionTimeout,
		IdleTimeout:            cfg.Pools.IdleTimeout,
		MaxLifetime:            cfg.Pools.MaxLifetime,
		LeakDetectionThreshold: cfg.Pools.LeakDetectionThreshold,
		ValidationInterval:     cfg.Pools.ValidationInterval,
	}))

	return &Runtime{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		registry: reg,
		loader:   loader,
		engine:   New(reg, exprs, logger),
	}, nil
}

// Load builds and installs a generation from the given config files.
func (r *Runtime) Load(ctx context.Context, paths ...string) error {
	if err := r.loader.Load(ctx, paths...); err != nil {
		return err
	}
	r.metrics.GenerationSerial.Set(float64(r.registry.Serial()))
	return nil
}

// Reload rebuilds the generation; in-flight requests keep the old one.
func (r *Runtime) Reload(ctx context.Context, paths ...string) error {
	return r.Load(ctx, paths...)
}

// ReloadEnabled reports whether configuration hot reload is switched on.
func (r *Runtime) ReloadEnabled() bool { return r.cfg.Reload.Enabled }

// Process enriches and executes one record, recording chain metrics.
func (r *Runtime) Process(ctx context.Context, record map[string]any, chainID string) *Result {
	result := r.engine.Process(ctx, record, chainID)
	if result.Chain != nil {
		r.metrics.ObserveChain(result.Chain)
	}
	return result
}

// Write runs a named operation on a registered sink and records write
// metrics.
func (r *Runtime) Write(ctx context.Context, sink, operation string, records []map[string]any) (*datasink.WriteResult, error) {
	s, ok := r.registry.DataSink(sink)
	if !ok {
		return nil, errkind.New(errkind.Configuration, "data sink %q is not registered", sink)
	}
	result, err := s.Write(ctx, operation, records)
	if result != nil {
		r.metrics.ObserveWrite(sink, result)
	}
	return result, err
}

// Registry exposes the service registry for direct resolution.
func (r *Runtime) Registry() *registry.Registry { return r.registry }

// Metrics exposes the collector set.
func (r *Runtime) Metrics() *observability.Metrics { return r.metrics }

// Logger exposes the runtime logger.
func (r *Runtime) Logger() *slog.Logger { return r.logger }

// Shutdown closes every registered service.
func (r *Runtime) Shutdown(ctx context.Context) error {
	return r.registry.Shutdown(ctx)
}
