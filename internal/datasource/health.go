// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasource

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Probe checks liveness of one source within the context budget.
type Probe func(ctx context.Context) error

// HealthChecker runs a periodic probe and tracks consecutive outcomes:
// failureThreshold consecutive failures mark the source Unhealthy,
// successThreshold consecutive successes mark it Connected again.
type HealthChecker struct {
	probe            Probe
	interval         time.Duration
	timeout          time.Duration
	failureThreshold int
	successThreshold int
	logger           *slog.Logger
	onCheck          func(failed bool)

	mu        sync.Mutex
	status    Status
	failures  int
	successes int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// HealthCheckerConfig configures a HealthChecker.
type HealthCheckerConfig struct {
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
	SuccessThreshold int
	// OnCheck receives each probe outcome, used to feed metrics.
	OnCheck func(failed bool)
}

// NewHealthChecker creates a checker in NotInitialized state; Start begins
// the loop.
func NewHealthChecker(cfg HealthCheckerConfig, probe Probe, logger *slog.Logger) *HealthChecker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthChecker{
		probe:            probe,
		interval:         cfg.Interval,
		timeout:          cfg.Timeout,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		logger:           logger,
		onCheck:          cfg.OnCheck,
		status:           StatusNotInitialized,
		stopCh:           make(chan struct{}),
	}
}

// Start runs an immediate probe then loops on the configured interval.
func (h *HealthChecker) Start() {
	h.mu.Lock()
	h.status = StatusConnecting
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.check()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stopCh:
				return
			case <-ticker.C:
				h.check()
			}
		}
	}()
}

// Stop terminates the loop and marks the checker Shutdown.
func (h *HealthChecker) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.wg.Wait()
	h.mu.Lock()
	h.status = StatusShutdown
	h.mu.Unlock()
}

// Status returns the current health state.
func (h *HealthChecker) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *HealthChecker) check() {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	err := h.probe(ctx)
	cancel()

	if h.onCheck != nil {
		h.onCheck(err != nil)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.failures++
		h.successes = 0
		if h.failures >= h.failureThreshold {
			if h.status != StatusUnhealthy {
				h.logger.Warn("source marked unhealthy",
					slog.Int("consecutive_failures", h.failures),
					slog.Any("error", err))
			}
			h.status = StatusUnhealthy
		} else if h.status == StatusConnected {
			h.status = StatusDegraded
		}
		return
	}

	h.successes++
	h.failures = 0
	if h.successes >= h.successThreshold {
		if h.status == StatusUnhealthy || h.status == StatusDegraded {
			h.logger.Info("source recovered",
				slog.Int("consecutive_successes", h.successes))
		}
		h.status = StatusConnected
	}
}
