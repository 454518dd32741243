// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a bounded, threadsafe compilation cache keyed by source text.
// Parsed expressions are immutable so cached entries are shared freely
// across concurrent evaluations.
type Cache struct {
	lru    *lru.Cache[string, *Compiled]
	hits   func()
	misses func()
}

// CacheOption customizes a Cache.
type CacheOption func(*Cache)

// WithCacheObserver registers hit/miss callbacks, used to feed metrics.
func WithCacheObserver(onHit, onMiss func()) CacheOption {
	return func(c *Cache) {
		c.hits = onHit
		c.misses = onMiss
	}
}

// NewCache creates a cache bounded to size entries.
func NewCache(size int, opts ...CacheOption) (*Cache, error) {
	inner, err := lru.New[string, *Compiled](size)
	if err != nil {
		return nil, err
	}
	c := &Cache{lru: inner}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Compile parses source, consulting the cache first.
func (c *Cache) Compile(source string) (*Compiled, error) {
	if compiled, ok := c.lru.Get(source); ok {
		if c.hits != nil {
			c.hits()
		}
		return compiled, nil
	}
	if c.misses != nil {
		c.misses()
	}
	compiled, err := Parse(source)
	if err != nil {
		return nil, err
	}
	c.lru.Add(source, compiled)
	return compiled, nil
}

// Evaluate compiles (cached) and evaluates source against env.
func (c *Cache) Evaluate(source string, env *Context) (any, error) {
	compiled, err := c.Compile(source)
	if err != nil {
		return nil, err
	}
	return compiled.Eval(env)
}

// EvaluateBool compiles (cached) and evaluates source as a condition.
func (c *Cache) EvaluateBool(source string, env *Context) (bool, error) {
	compiled, err := c.Compile(source)
	if err != nil {
		return false, err
	}
	return compiled.EvalBool(env)
}

// Len reports the number of cached expressions.
func (c *Cache) Len() int { return c.lru.Len() }
