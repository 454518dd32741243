// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/apexrules/apex/internal/grammar"
)

// errInvalid signals a validation failure already reported on stdout.
var errInvalid = errors.New("validation failed")

func newValidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate one configuration file and its dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report := grammar.AnalyzeDependencies(args[0])
			printReport(cmd.OutOrStdout(), report)
			if !report.Valid {
				return errInvalid
			}
			return nil
		},
	}
}

func newValidateFolderCommand(opts *rootOptions) *cobra.Command {
	var reportPath string
	cmd := &cobra.Command{
		Use:   "validate-folder <dir>",
		Short: "Validate every configuration file directly inside a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := configFilesIn(args[0])
			if err != nil {
				return err
			}
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			return runBatch(cmd.OutOrStdout(), logger, files, reportPath)
		},
	}
	cmd.Flags().StringVar(&reportPath, "report", "", "write a markdown validation report to this path")
	return cmd
}

func newValidateProjectCommand(opts *rootOptions) *cobra.Command {
	var reportPath string
	cmd := &cobra.Command{
		Use:   "validate-project",
		Short: "Validate every configuration file under the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := os.Getwd()
			if err != nil {
				return err
			}
			files, err := configFilesUnder(root)
			if err != nil {
				return err
			}
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			return runBatch(cmd.OutOrStdout(), logger, files, reportPath)
		},
	}
	cmd.Flags().StringVar(&reportPath, "report", "", "write a markdown validation report to this path")
	return cmd
}

// runBatch validates each file with full dependency analysis, prints the
// combined outcome and optionally writes the markdown report.
func runBatch(out io.Writer, logger *slog.Logger, files []string, reportPath string) error {
	if len(files) == 0 {
		fmt.Fprintln(out, "no configuration files found")
		return nil
	}

	reports := make([]*grammar.Report, 0, len(files))
	valid := true
	for _, file := range files {
		report := grammar.AnalyzeDependencies(file)
		reports = append(reports, report)
		printReport(out, report)
		if !report.Valid {
			valid = false
		}
	}

	fmt.Fprintf(out, "\n%d file(s) validated, %d invalid\n", len(reports), countInvalid(reports))

	if reportPath != "" {
		if err := writeMarkdownReport(reportPath, reports); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		logger.Info("validation report written", slog.String("path", reportPath))
	}
	if !valid {
		return errInvalid
	}
	return nil
}

func countInvalid(reports []*grammar.Report) int {
	n := 0
	for _, r := range reports {
		if !r.Valid {
			n++
		}
	}
	return n
}

// printReport renders one dependency report: graph, cycles, root causes
// and per-file results, in stable path order.
func printReport(out io.Writer, report *grammar.Report) {
	status := "VALID"
	if !report.Valid {
		status = "INVALID"
	}
	fmt.Fprintf(out, "%s: %s\n", report.RootPath, status)

	paths := sortedKeys(report.Dependencies)
	if len(paths) > 0 {
		fmt.Fprintln(out, "  dependencies:")
		for _, path := range paths {
			deps := report.Dependencies[path]
			if len(deps) == 0 {
				fmt.Fprintf(out, "    %s\n", path)
				continue
			}
			fmt.Fprintf(out, "    %s -> %s\n", path, strings.Join(deps, ", "))
		}
	}

	for _, cycle := range report.CircularDependencies {
		fmt.Fprintf(out, "  cycle: %s\n", strings.Join(cycle, " -> "))
	}
	for _, cause := range report.RootCauses {
		fmt.Fprintf(out, "  root cause: %s\n", cause)
	}

	for _, path := range sortedKeys(report.FileResults) {
		result := report.FileResults[path]
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  error: %s: %s\n", path, e)
		}
		for _, w := range result.Warnings {
			fmt.Fprintf(out, "  warning: %s: %s\n", path, w)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// configFilesIn lists YAML files directly inside dir, non-recursive.
func configFilesIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !isConfigFile(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// configFilesUnder walks root recursively collecting YAML files. Hidden
// directories are skipped.
func configFilesUnder(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if name := d.Name(); name != "." && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if isConfigFile(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func isConfigFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
