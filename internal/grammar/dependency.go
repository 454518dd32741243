// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package grammar

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Report is the outcome of dependency-aware validation rooted at one file.
type Report struct {
	RootPath             string
	Valid                bool
	Dependencies         map[string][]string
	CircularDependencies [][]string
	RootCauses           []string
	FileResults          map[string]*FileResult
}

// fileLoader reads and parses one document; swapped out in tests.
type fileLoader func(path string) (map[string]any, error)

func defaultLoader(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("yaml parse failed: %w", err)
	}
	return raw, nil
}

// AnalyzeDependencies validates rootPath and everything it transitively
// references through data-source-refs. The report contains the dependency
// graph, any cycles, per-file results and the ranked root causes.
func AnalyzeDependencies(rootPath string) *Report {
	return analyzeWith(rootPath, defaultLoader)
}

func analyzeWith(rootPath string, load fileLoader) *Report {
	report := &Report{
		RootPath:     rootPath,
		Valid:        true,
		Dependencies: map[string][]string{},
		FileResults:  map[string]*FileResult{},
	}

	// Phase 1: load the include graph transitively. Iterative DFS with a
	// visiting set; a node found in the visiting set closes a cycle.
	visiting := map[string]bool{}
	done := map[string]bool{}

	var stack []*frame
	push := func(path string) {
		raw, err := load(path)
		if err != nil {
			report.FileResults[path] = &FileResult{
				Path:   path,
				Errors: []string{fmt.Sprintf("failed to load: %v", err)},
			}
			report.Dependencies[path] = nil
			done[path] = true
			return
		}
		result := ValidateDocument(path, raw)
		report.FileResults[path] = result
		deps := referencedFiles(path, raw)
		report.Dependencies[path] = deps
		visiting[path] = true
		stack = append(stack, &frame{path: path, deps: deps})
	}

	push(rootPath)
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next >= len(top.deps) {
			visiting[top.path] = false
			done[top.path] = true
			stack = stack[:len(stack)-1]
			continue
		}
		dep := top.deps[top.next]
		top.next++
		if visiting[dep] {
			report.CircularDependencies = append(report.CircularDependencies, cyclePath(stack, dep))
			continue
		}
		if !done[dep] {
			push(dep)
		}
	}

	// Phase 2: rank errors. A file with its own errors (structural or
	// missing) is a root cause; files that only depend on broken files are
	// invalid by propagation but not root causes themselves.
	invalid := map[string]bool{}
	var causes []string
	for path, result := range report.FileResults {
		if len(result.Errors) > 0 {
			invalid[path] = true
			for _, e := range result.Errors {
				causes = append(causes, fmt.Sprintf("%s: %s", path, e))
			}
		}
	}
	sort.Strings(causes)
	report.RootCauses = causes

	// Propagate invalidity up the dependency graph to a fixpoint.
	for changed := true; changed; {
		changed = false
		for path, deps := range report.Dependencies {
			if invalid[path] {
				continue
			}
			for _, dep := range deps {
				if invalid[dep] {
					invalid[path] = true
					if r := report.FileResults[path]; r != nil {
						r.Valid = false
						r.Errors = append(r.Errors,
							fmt.Sprintf("invalid dependency: %s", dep))
					}
					changed = true
					break
				}
			}
		}
	}

	if len(report.CircularDependencies) > 0 {
		report.Valid = false
	}
	if invalid[rootPath] {
		report.Valid = false
	}
	for _, result := range report.FileResults {
		result.Valid = len(result.Errors) == 0
	}
	return report
}

// frame is one DFS stack entry during include-graph traversal.
type frame struct {
	path string
	deps []string
	next int
}

// cyclePath reconstructs the cycle from the DFS stack, starting at the
// first occurrence of the repeated node.
func cyclePath(stack []*frame, repeat string) []string {
	start := 0
	for i, f := range stack {
		if f.path == repeat {
			start = i
			break
		}
	}
	cycle := make([]string, 0, len(stack)-start+1)
	for _, f := range stack[start:] {
		cycle = append(cycle, f.path)
	}
	cycle = append(cycle, repeat)
	return cycle
}

// referencedFiles extracts data-source-refs sources, resolved relative to
// the referring file's directory. Disabled refs are skipped.
func referencedFiles(path string, raw map[string]any) []string {
	refsAny, ok := raw["data-source-refs"]
	if !ok {
		return nil
	}
	refs, ok := refsAny.([]any)
	if !ok {
		return nil
	}
	base := filepath.Dir(path)
	var out []string
	for _, entry := range refs {
		ref, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if enabled, ok := ref["enabled"].(bool); ok && !enabled {
			continue
		}
		source, _ := ref["source"].(string)
		if source == "" {
			continue
		}
		if !filepath.IsAbs(source) {
			source = filepath.Join(base, source)
		}
		out = append(out, source)
	}
	return out
}
