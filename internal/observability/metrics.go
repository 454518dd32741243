// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

// Package observability exposes Prometheus collectors for the engine's
// moving parts: connection pools, circuit breakers, sinks, rule chains
// and the expression cache. Collectors register on a caller-provided
// registerer so embedding applications control the exposition surface.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/apexrules/apex/internal/chain"
	"github.com/apexrules/apex/internal/datasink"
	"github.com/apexrules/apex/internal/datasource"
)

const namespace = "apex"

// Metrics is the full collector set. One instance per process; share it
// across sources and sinks via the observer adapters.
type Metrics struct {
	PoolConnectionsCreated *prometheus.CounterVec
	PoolConnectionsFailed  *prometheus.CounterVec
	PoolConnectionsClosed  *prometheus.CounterVec
	PoolConnectionsActive  *prometheus.GaugeVec
	PoolConnectionsIdle    *prometheus.GaugeVec
	PoolBorrowTimeouts     *prometheus.CounterVec
	PoolLeaksDetected      *prometheus.CounterVec

	HealthChecks        *prometheus.CounterVec
	HealthCheckFailures *prometheus.CounterVec

	RetryAttempts   *prometheus.CounterVec
	RetryRecoveries *prometheus.CounterVec

	SinkRecordsWritten *prometheus.CounterVec
	SinkRecordsFailed  *prometheus.CounterVec
	SinkBatchesWritten *prometheus.CounterVec
	SinkBatchesFailed  *prometheus.CounterVec
	SinkWriteDuration  *prometheus.HistogramVec

	ChainExecutions *prometheus.CounterVec
	ChainDuration   *prometheus.HistogramVec

	ExprCacheHits   prometheus.Counter
	ExprCacheMisses prometheus.Counter

	GenerationSerial prometheus.Gauge
}

// NewMetrics builds the collector set and registers it on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		PoolConnectionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool",
			Name: "connections_created_total",
			Help: "Connections opened by the pool.",
		}, []string{"source"}),
		PoolConnectionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool",
			Name: "connections_failed_total",
			Help: "Connection attempts that failed.",
		}, []string{"source"}),
		PoolConnectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool",
			Name: "connections_closed_total",
			Help: "Connections closed by the pool.",
		}, []string{"source"}),
		PoolConnectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool",
			Name: "connections_active",
			Help: "Connections currently borrowed.",
		}, []string{"source"}),
		PoolConnectionsIdle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool",
			Name: "connections_idle",
			Help: "Connections currently idle in the pool.",
		}, []string{"source"}),
		PoolBorrowTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool",
			Name: "borrow_timeouts_total",
			Help: "Borrow attempts that timed out with the pool exhausted.",
		}, []string{"source"}),
		PoolLeaksDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool",
			Name: "leaks_detected_total",
			Help: "Connections held past the leak detection threshold.",
		}, []string{"source"}),

		HealthChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "health",
			Name: "checks_total",
			Help: "Health probes executed.",
		}, []string{"source"}),
		HealthCheckFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "health",
			Name: "check_failures_total",
			Help: "Health probes that failed.",
		}, []string{"source"}),

		RetryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retry",
			Name: "attempts_total",
			Help: "Operations retried after a transient failure.",
		}, []string{"source"}),
		RetryRecoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retry",
			Name: "recoveries_total",
			Help: "Operations that succeeded after at least one retry.",
		}, []string{"source"}),

		SinkRecordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sink",
			Name: "records_written_total",
			Help: "Records written successfully.",
		}, []string{"sink"}),
		SinkRecordsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sink",
			Name: "records_failed_total",
			Help: "Records that failed to write.",
		}, []string{"sink"}),
		SinkBatchesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sink",
			Name: "batches_written_total",
			Help: "Batches flushed to the backend.",
		}, []string{"sink"}),
		SinkBatchesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sink",
			Name: "batches_failed_total",
			Help: "Batches rolled back after exhausting retries.",
		}, []string{"sink"}),
		SinkWriteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "sink",
			Name:    "write_duration_seconds",
			Help:    "Wall time of one Write call.",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),

		ChainExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chain",
			Name: "executions_total",
			Help: "Chain executions by pattern and final outcome.",
		}, []string{"chain", "pattern", "outcome"}),
		ChainDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "chain",
			Name:    "duration_seconds",
			Help:    "Wall time of one chain execution.",
			Buckets: prometheus.DefBuckets,
		}, []string{"chain"}),

		ExprCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "expr",
			Name: "cache_hits_total",
			Help: "Expression compilations served from cache.",
		}),
		ExprCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "expr",
			Name: "cache_misses_total",
			Help: "Expression compilations that parsed from source.",
		}),

		GenerationSerial: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "registry",
			Name: "generation_serial",
			Help: "Serial of the currently installed configuration generation.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.PoolConnectionsCreated, m.PoolConnectionsFailed, m.PoolConnectionsClosed,
		m.PoolConnectionsActive, m.PoolConnectionsIdle,
		m.PoolBorrowTimeouts, m.PoolLeaksDetected,
		m.HealthChecks, m.HealthCheckFailures,
		m.RetryAttempts, m.RetryRecoveries,
		m.SinkRecordsWritten, m.SinkRecordsFailed,
		m.SinkBatchesWritten, m.SinkBatchesFailed, m.SinkWriteDuration,
		m.ChainExecutions, m.ChainDuration,
		m.ExprCacheHits, m.ExprCacheMisses,
		m.GenerationSerial,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// PoolObserver returns the datasource.PoolObserver for one source. Pass
// it to datasource.SetPoolObserverProvider before building sources.
func (m *Metrics) PoolObserver(source string) datasource.PoolObserver {
	return &poolObserver{metrics: m, source: source}
}

type poolObserver struct {
	metrics *Metrics
	source  string
}

func (o *poolObserver) ConnectionCreated() {
	o.metrics.PoolConnectionsCreated.WithLabelValues(o.source).Inc()
}

func (o *poolObserver) ConnectionFailed() {
	o.metrics.PoolConnectionsFailed.WithLabelValues(o.source).Inc()
}

func (o *poolObserver) ConnectionClosed() {
	o.metrics.PoolConnectionsClosed.WithLabelValues(o.source).Inc()
}

func (o *poolObserver) BorrowTimeout() {
	o.metrics.PoolBorrowTimeouts.WithLabelValues(o.source).Inc()
}

func (o *poolObserver) LeakDetected() {
	o.metrics.PoolLeaksDetected.WithLabelValues(o.source).Inc()
}

func (o *poolObserver) SizeChanged(live, idle int) {
	o.metrics.PoolConnectionsActive.WithLabelValues(o.source).Set(float64(live - idle))
	o.metrics.PoolConnectionsIdle.WithLabelValues(o.source).Set(float64(idle))
}

// HealthObserver returns the probe-outcome callback for one source. Pass
// it through datasource.SetHealthObserverProvider.
func (m *Metrics) HealthObserver(source string) func(failed bool) {
	return func(failed bool) {
		m.HealthChecks.WithLabelValues(source).Inc()
		if failed {
			m.HealthCheckFailures.WithLabelValues(source).Inc()
		}
	}
}

// RetryObserver returns the retry callbacks for one source. Pass it
// through datasource.SetRetryObserverProvider.
func (m *Metrics) RetryObserver(source string) (onRetry, onRecovered func()) {
	return m.RetryAttempts.WithLabelValues(source).Inc,
		m.RetryRecoveries.WithLabelValues(source).Inc
}

// ObserveWrite records one sink Write outcome.
func (m *Metrics) ObserveWrite(sink string, result *datasink.WriteResult) {
	m.SinkRecordsWritten.WithLabelValues(sink).Add(float64(result.Succeeded))
	m.SinkRecordsFailed.WithLabelValues(sink).Add(float64(len(result.Failed)))
	m.SinkBatchesWritten.WithLabelValues(sink).Add(float64(result.Batches))
	m.SinkBatchesFailed.WithLabelValues(sink).Add(float64(result.FailedBatches))
	m.SinkWriteDuration.WithLabelValues(sink).Observe(result.Duration.Seconds())
}

// ObserveChain records one chain execution.
func (m *Metrics) ObserveChain(result *chain.ChainResult) {
	m.ChainExecutions.WithLabelValues(result.RuleChainID, result.Pattern, result.FinalOutcome).Inc()
	m.ChainDuration.WithLabelValues(result.RuleChainID).Observe(result.Duration.Seconds())
}

// ExprCacheObservers returns the hit/miss callbacks for
// expr.WithCacheObserver.
func (m *Metrics) ExprCacheObservers() (onHit, onMiss func()) {
	return m.ExprCacheHits.Inc, m.ExprCacheMisses.Inc
}

var _ datasource.PoolObserver = (*poolObserver)(nil)
