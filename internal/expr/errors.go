// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import "fmt"

// ErrorKind identifies the failure class of an expression error.
type ErrorKind string

const (
	ParseError        ErrorKind = "ParseError"
	UnknownIdentifier ErrorKind = "UnknownIdentifier"
	TypeMismatch      ErrorKind = "TypeMismatch"
	NullDereference   ErrorKind = "NullDereference"
	DivideByZero      ErrorKind = "DivideByZero"
	UnsafeOperation   ErrorKind = "UnsafeOperation"
)

// Span marks the byte range of a subexpression within its source text.
type Span struct {
	Start int
	End   int
}

// Error is a typed expression failure carrying the offending subexpression.
type Error struct {
	Kind    ErrorKind
	Span    Span
	Source  string
	Message string
}

func (e *Error) Error() string {
	frag := e.fragment()
	if frag != "" {
		return fmt.Sprintf("%s at [%d:%d] %q: %s", e.Kind, e.Span.Start, e.Span.End, frag, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) fragment() string {
	if e.Source == "" || e.Span.End <= e.Span.Start || e.Span.End > len(e.Source) {
		return ""
	}
	return e.Source[e.Span.Start:e.Span.End]
}

func newError(kind ErrorKind, source string, span Span, format string, args ...any) *Error {
	return &Error{Kind: kind, Span: span, Source: source, Message: fmt.Sprintf(format, args...)}
}
