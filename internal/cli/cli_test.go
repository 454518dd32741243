// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validRuleConfig = `
metadata:
  id: trade-rules
  name: Trade Rules
  version: "1.0"
  description: Basic trade validation rules
  type: rule-config
  author: trading-platform
rules:
  - id: notional-check
    name: Notional Check
    condition: "#notionalAmount > 0"
    message: "Notional must be positive"
`

const invalidRuleConfig = `
metadata:
  id: broken-rules
  name: Broken Rules
  version: "not-a-version"
  description: Bad version string
  type: rule-config
  author: trading-platform
rules:
  - id: notional-check
    name: Notional Check
    condition: "#notionalAmount > 0"
    message: "Notional must be positive"
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateValidFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rules.yaml", validRuleConfig)

	out, err := runCommand(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "VALID")
}

func TestValidateInvalidFileFails(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rules.yaml", invalidRuleConfig)

	out, err := runCommand(t, "validate", path)
	require.Error(t, err)
	assert.Contains(t, out, "INVALID")
	assert.Contains(t, out, "root cause")
}

func TestValidateFollowsDependencies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sources.yaml", `
metadata:
  id: ref-data
  name: Reference Data
  version: "1.0"
  description: External sources
  type: external-data-config
data-sources:
  - name: refdata
    type: file-system
    connection:
      basePath: /tmp
`)
	root := writeFile(t, dir, "rules.yaml", validRuleConfig+`
data-source-refs:
  - name: refdata
    source: sources.yaml
`)

	out, err := runCommand(t, "validate", root)
	require.NoError(t, err)
	assert.Contains(t, out, "sources.yaml")
	assert.Contains(t, out, "dependencies:")
}

func TestValidateReportsMissingDependency(t *testing.T) {
	dir := t.TempDir()
	root := writeFile(t, dir, "rules.yaml", validRuleConfig+`
data-source-refs:
  - name: missing
    source: nowhere.yaml
`)

	out, err := runCommand(t, "validate", root)
	require.Error(t, err)
	assert.Contains(t, out, "INVALID")
	assert.Contains(t, out, "nowhere.yaml")
}

func TestValidateFolder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.yaml", validRuleConfig)
	writeFile(t, dir, "bad.yaml", invalidRuleConfig)
	writeFile(t, dir, "ignored.txt", "not yaml")

	out, err := runCommand(t, "validate-folder", dir)
	require.Error(t, err)
	assert.Contains(t, out, "2 file(s) validated, 1 invalid")
}

func TestValidateFolderWritesReport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.yaml", validRuleConfig)
	writeFile(t, dir, "bad.yaml", invalidRuleConfig)
	reportPath := filepath.Join(dir, "report.md")

	_, err := runCommand(t, "validate-folder", dir, "--report", reportPath)
	require.Error(t, err)

	data, readErr := os.ReadFile(reportPath)
	require.NoError(t, readErr)
	report := string(data)
	assert.Contains(t, report, "# Configuration Validation Report")
	assert.Contains(t, report, "bad.yaml")
	assert.Contains(t, report, "invalid")
}

func TestEngineConfigLayersFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "engine.yaml", `
logging:
  level: warn
pools:
  max_size: 25
`)

	opts := &rootOptions{configPath: cfgPath}
	flags := pflag.NewFlagSet("apex", pflag.ContinueOnError)
	flags.StringVar(&opts.logLevel, "log-level", "info", "")
	flags.StringVar(&opts.logFormat, "log-format", "json", "")
	opts.flags = flags

	cfg, err := opts.engineConfig()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 25, cfg.Pools.MaxSize)
	// Settings the file omits keep their defaults.
	assert.Equal(t, 1024, cfg.Expression.CacheSize)

	// An explicitly set flag beats the file; the untouched flag default
	// does not.
	require.NoError(t, flags.Set("log-level", "debug"))
	cfg, err = opts.engineConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEngineConfigEnvOverridesDefaults(t *testing.T) {
	t.Setenv("APEX__LOGGING__FORMAT", "text")
	opts := &rootOptions{}
	cfg, err := opts.engineConfig()
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestEngineConfigRejectsInvalidSettings(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "engine.yaml", "expression:\n  cache_size: -1\n")

	_, err := (&rootOptions{configPath: cfgPath}).engineConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache_size")
}

func TestEngineConfigMissingFileFails(t *testing.T) {
	_, err := (&rootOptions{configPath: "/nope/engine.yaml"}).engineConfig()
	require.Error(t, err)
}

func TestValidateProjectWalksTree(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	writeFile(t, dir, "root.yaml", validRuleConfig)
	writeFile(t, sub, "nested.yaml", validRuleConfig)

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	out, err := runCommand(t, "validate-project")
	require.NoError(t, err)
	assert.Contains(t, out, "2 file(s) validated, 0 invalid")
}
