// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
)

// Path represents a path to a config field for error reporting. It builds
// paths like "pools.database.max_size" for clear error messages.
type Path struct {
	segments []string
}

// NewPath creates a new path with a root segment.
func NewPath(root string) *Path {
	return &Path{segments: []string{root}}
}

// Child returns a new path with the child segment appended.
func (p *Path) Child(name string) *Path {
	newSegments := make([]string, len(p.segments)+1)
	copy(newSegments, p.segments)
	newSegments[len(p.segments)] = name
	return &Path{segments: newSegments}
}

// Index returns a new path with an array index appended to the last segment.
// Example: path.Child("rules").Index(0) produces "parent.rules[0]"
func (p *Path) Index(i int) *Path {
	if len(p.segments) == 0 {
		return &Path{segments: []string{fmt.Sprintf("[%d]", i)}}
	}
	newSegments := make([]string, len(p.segments))
	copy(newSegments, p.segments)
	newSegments[len(newSegments)-1] = fmt.Sprintf("%s[%d]", newSegments[len(newSegments)-1], i)
	return &Path{segments: newSegments}
}

// String returns the dot-separated path string.
func (p *Path) String() string {
	return strings.Join(p.segments, ".")
}

// FieldError represents a validation error for a specific config field.
type FieldError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewFieldError creates a field error at the given path.
func NewFieldError(path *Path, format string, args ...any) *FieldError {
	return &FieldError{Field: path.String(), Message: fmt.Sprintf(format, args...)}
}

// RequireNonEmpty returns a field error when value is empty.
func RequireNonEmpty(path *Path, value string) *FieldError {
	if strings.TrimSpace(value) == "" {
		return NewFieldError(path, "must not be empty")
	}
	return nil
}

// RequirePositive returns a field error when value is not strictly positive.
func RequirePositive(path *Path, value int64) *FieldError {
	if value <= 0 {
		return NewFieldError(path, "must be positive, got %d", value)
	}
	return nil
}

// RequireOneOf returns a field error when value is not in allowed.
func RequireOneOf(path *Path, value string, allowed []string) *FieldError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return NewFieldError(path, "must be one of %v, got %q", allowed, value)
}
