// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasource

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/apexrules/apex/internal/errkind"
)

// RetryPolicy bounds retry behavior for transient failures. The backoff is
// exponential with jitter, capped by MaxRetries and the caller's context.
type RetryPolicy struct {
	MaxRetries int
	RetryDelay time.Duration
	// OnRetry receives each retry attempt, used to feed metrics.
	OnRetry func()
	// OnRecovered fires when an operation succeeds after at least one
	// retry.
	OnRecovered func()
}

// DefaultRetryPolicy is applied when a source omits retry settings.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, RetryDelay: 200 * time.Millisecond}

// Do runs op, retrying only errors classified Transient. Every other kind
// is returned immediately: integrity violations surface to the caller,
// configuration and fatal errors fail fast, cancellation is honored.
func (p RetryPolicy) Do(ctx context.Context, op func() error) error {
	if p.MaxRetries <= 0 {
		return op()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.RetryDelay
	policy.MaxInterval = 10 * p.RetryDelay

	retried := false
	wrapped := func() error {
		err := op()
		if err == nil {
			if retried && p.OnRecovered != nil {
				p.OnRecovered()
			}
			return nil
		}
		if !errkind.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		retried = true
		if p.OnRetry != nil {
			p.OnRetry()
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(p.MaxRetries)), ctx))
}
