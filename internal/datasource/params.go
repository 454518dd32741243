// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package datasource

import (
	"log/slog"
	"strings"
)

// BoundQuery is the result of named-parameter scanning: the rewritten SQL
// with '?' placeholders, the values in scan order, and the parameter names
// in the order they were discovered. Binding is always by this discovered
// order, never by map iteration.
type BoundQuery struct {
	SQL    string
	Values []any
	Names  []string
}

// ScanNamedParams scans sql left to right for :name parameters. Each match
// found in params is replaced with '?' and its value appended to the bind
// list; unknown names are left as-is and logged. The '::' sequence (SQL
// cast syntax) is never treated as a parameter.
func ScanNamedParams(sql string, params map[string]any, logger *slog.Logger) BoundQuery {
	var (
		out    strings.Builder
		values []any
		names  []string
	)
	out.Grow(len(sql))

	for i := 0; i < len(sql); {
		c := sql[i]
		if c != ':' {
			out.WriteByte(c)
			i++
			continue
		}
		// '::' is a cast, not a parameter.
		if i+1 < len(sql) && sql[i+1] == ':' {
			out.WriteString("::")
			i += 2
			continue
		}
		start := i + 1
		end := start
		for end < len(sql) && isParamChar(sql[end]) {
			end++
		}
		if end == start {
			out.WriteByte(c)
			i++
			continue
		}
		name := sql[start:end]
		value, ok := params[name]
		if !ok {
			if logger != nil {
				logger.Warn("unknown named parameter left unbound",
					slog.String("parameter", name))
			}
			out.WriteString(sql[i:end])
			i = end
			continue
		}
		out.WriteByte('?')
		values = append(values, value)
		names = append(names, name)
		i = end
	}

	return BoundQuery{SQL: out.String(), Values: values, Names: names}
}

func isParamChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
