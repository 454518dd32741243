// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
pools:
  max_size: 25
`), 0o644))
	t.Setenv("APEX__POOLS__MIN_SIZE", "2")

	loader := NewLoader("APEX")
	require.NoError(t, loader.LoadWithDefaults(DefaultEngine(), path))

	var engine Engine
	require.NoError(t, loader.UnmarshalAndValidate("", &engine))

	// File overrides defaults, env overrides the file.
	assert.Equal(t, "debug", engine.Logging.Level)
	assert.Equal(t, "json", engine.Logging.Format)
	assert.Equal(t, 25, engine.Pools.MaxSize)
	assert.Equal(t, 2, engine.Pools.MinSize)
	assert.Equal(t, 30*time.Second, engine.Pools.ConnectionTimeout)
}

func TestLoadMissingFileFails(t *testing.T) {
	loader := NewLoader("APEX")
	err := loader.LoadWithDefaults(DefaultEngine(), "/nonexistent/engine.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestFlagOverrides(t *testing.T) {
	loader := NewLoader("APEX")
	require.NoError(t, loader.LoadWithDefaults(DefaultEngine(), ""))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	flags.String("log-format", "json", "")
	require.NoError(t, flags.Parse([]string{"--log-level=warn"}))

	require.NoError(t, loader.LoadFlags(flags, map[string]string{
		"log-level":  "logging.level",
		"log-format": "logging.format",
	}))

	var engine Engine
	require.NoError(t, loader.Unmarshal("", &engine))
	assert.Equal(t, "warn", engine.Logging.Level)
	// Unset flags must not override.
	assert.Equal(t, "json", engine.Logging.Format)
}

func TestEngineValidate(t *testing.T) {
	engine := DefaultEngine()
	require.NoError(t, engine.Validate())

	engine.Pools.MinSize = 5
	engine.Pools.InitialSize = 1
	engine.Expression.CacheSize = 0
	err := engine.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pools.initial_size")
	assert.Contains(t, err.Error(), "expression.cache_size")
}

func TestPathBuilding(t *testing.T) {
	p := NewPath("pools").Child("sources").Index(2).Child("max_size")
	assert.Equal(t, "pools.sources[2].max_size", p.String())
}

func TestRequireHelpers(t *testing.T) {
	p := NewPath("x")
	assert.Nil(t, RequireNonEmpty(p, "value"))
	assert.Error(t, RequireNonEmpty(p, "  "))
	assert.Nil(t, RequirePositive(p, 1))
	assert.Error(t, RequirePositive(p, 0))
	assert.Nil(t, RequireOneOf(p, "a", []string{"a", "b"}))
	assert.Error(t, RequireOneOf(p, "c", []string{"a", "b"}))
}
