// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasource

import "sync"

// Process-wide observer providers. Sources consult them at construction
// time, so install providers before building sources; nil resets.
var (
	observerMu             sync.RWMutex
	observerProvider       func(source string) PoolObserver
	healthObserverProvider func(source string) func(failed bool)
	retryObserverProvider  func(source string) (onRetry, onRecovered func())
)

// SetPoolObserverProvider installs a factory that hands each source its
// pool observer.
func SetPoolObserverProvider(provider func(source string) PoolObserver) {
	observerMu.Lock()
	defer observerMu.Unlock()
	observerProvider = provider
}

func poolObserverFor(source string) PoolObserver {
	observerMu.RLock()
	defer observerMu.RUnlock()
	if observerProvider == nil {
		return nil
	}
	return observerProvider(source)
}

// SetHealthObserverProvider installs a factory that hands each source the
// callback receiving its health probe outcomes.
func SetHealthObserverProvider(provider func(source string) func(failed bool)) {
	observerMu.Lock()
	defer observerMu.Unlock()
	healthObserverProvider = provider
}

func healthObserverFor(source string) func(failed bool) {
	observerMu.RLock()
	defer observerMu.RUnlock()
	if healthObserverProvider == nil {
		return nil
	}
	return healthObserverProvider(source)
}

// SetRetryObserverProvider installs a factory that hands each source its
// retry callbacks: onRetry fires per retried attempt, onRecovered once an
// operation succeeds after at least one retry.
func SetRetryObserverProvider(provider func(source string) (onRetry, onRecovered func())) {
	observerMu.Lock()
	defer observerMu.Unlock()
	retryObserverProvider = provider
}

// RetryPolicyFor returns the default retry policy wired with the source's
// retry observers, when a provider is installed.
func RetryPolicyFor(source string) RetryPolicy {
	policy := DefaultRetryPolicy
	observerMu.RLock()
	provider := retryObserverProvider
	observerMu.RUnlock()
	if provider != nil {
		policy.OnRetry, policy.OnRecovered = provider(source)
	}
	return policy
}
