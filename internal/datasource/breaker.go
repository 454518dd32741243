// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasource

import (
	"errors"
	"log/slog"

	"github.com/sony/gobreaker"

	"github.com/apexrules/apex/internal/errkind"
	"github.com/apexrules/apex/internal/model"
)

// Breaker wraps calls to one source with a circuit breaker. After
// failureThreshold consecutive failures the circuit opens and calls fail
// fast with a CircuitOpen error for the configured timeout, then a single
// trial is permitted; success closes the circuit.
type Breaker struct {
	cb      *gobreaker.CircuitBreaker
	enabled bool
}

// NewBreaker builds a breaker from the source's circuitBreaker config. A
// nil or disabled config yields a pass-through breaker.
func NewBreaker(name string, cfg *model.CircuitBreakerConfig, logger *slog.Logger) *Breaker {
	if cfg == nil || !cfg.Enabled {
		return &Breaker{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	threshold := uint32(cfg.Threshold())
	settings := gobreaker.Settings{
		Name: name,
		// Half-open admits exactly one trial request.
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit state change",
				slog.String("source", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings), enabled: true}
}

// Execute runs op through the breaker. While the circuit is open the call
// returns CircuitOpen without attempting any I/O.
func (b *Breaker) Execute(op func() (any, error)) (any, error) {
	if !b.enabled {
		return op()
	}
	result, err := b.cb.Execute(op)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errkind.Wrap(errkind.CircuitOpen, err)
		}
		return nil, err
	}
	return result, nil
}

// State reports the breaker state name, or "disabled".
func (b *Breaker) State() string {
	if !b.enabled {
		return "disabled"
	}
	return b.cb.State().String()
}
