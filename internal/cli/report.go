// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/apexrules/apex/internal/grammar"
)

// writeMarkdownReport renders the batch outcome as a markdown document:
// a summary table followed by per-file detail sections.
func writeMarkdownReport(path string, reports []*grammar.Report) error {
	var b strings.Builder

	b.WriteString("# Configuration Validation Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", time.Now().UTC().Format(time.RFC3339))

	valid := len(reports) - countInvalid(reports)
	fmt.Fprintf(&b, "**%d** file(s) validated, **%d** valid, **%d** invalid.\n\n",
		len(reports), valid, countInvalid(reports))

	b.WriteString("| File | Status | Errors | Warnings |\n")
	b.WriteString("| --- | --- | ---: | ---: |\n")
	for _, report := range reports {
		errs, warns := 0, 0
		for _, result := range report.FileResults {
			errs += len(result.Errors)
			warns += len(result.Warnings)
		}
		status := "valid"
		if !report.Valid {
			status = "invalid"
		}
		fmt.Fprintf(&b, "| `%s` | %s | %d | %d |\n", report.RootPath, status, errs, warns)
	}
	b.WriteString("\n")

	for _, report := range reports {
		if report.Valid && !hasFindings(report) {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", report.RootPath)

		for _, cycle := range report.CircularDependencies {
			fmt.Fprintf(&b, "- **Cycle:** %s\n", strings.Join(cycle, " -> "))
		}
		for _, cause := range report.RootCauses {
			fmt.Fprintf(&b, "- **Root cause:** %s\n", cause)
		}
		for _, path := range sortedKeys(report.FileResults) {
			result := report.FileResults[path]
			for _, e := range result.Errors {
				fmt.Fprintf(&b, "- Error in `%s`: %s\n", path, e)
			}
			for _, w := range result.Warnings {
				fmt.Fprintf(&b, "- Warning in `%s`: %s\n", path, w)
			}
		}
		b.WriteString("\n")
	}

	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func hasFindings(report *grammar.Report) bool {
	if len(report.CircularDependencies) > 0 || len(report.RootCauses) > 0 {
		return true
	}
	for _, result := range report.FileResults {
		if len(result.Errors) > 0 || len(result.Warnings) > 0 {
			return true
		}
	}
	return false
}
