// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eval(t *testing.T, source string, record map[string]any) any {
	t.Helper()
	compiled, err := Parse(source)
	require.NoError(t, err, "parse %q", source)
	v, err := compiled.Eval(NewContext(record))
	require.NoError(t, err, "eval %q", source)
	return v
}

func evalErr(t *testing.T, source string, record map[string]any) *Error {
	t.Helper()
	compiled, err := Parse(source)
	require.NoError(t, err, "parse %q", source)
	_, err = compiled.Eval(NewContext(record))
	require.Error(t, err, "eval %q", source)
	var ee *Error
	require.True(t, errors.As(err, &ee))
	return ee
}

func TestArithmeticPromotion(t *testing.T) {
	record := map[string]any{"a": int64(7), "b": 2.5, "d": decimal.NewFromInt(10)}

	assert.Equal(t, int64(9), eval(t, "a + 2", record))
	assert.Equal(t, int64(3), eval(t, "a / 2", record)) // integer division
	assert.Equal(t, int64(1), eval(t, "a % 2", record))
	assert.Equal(t, 9.5, eval(t, "a + b", record))
	assert.Equal(t, 17.5, eval(t, "a * b", record))

	got := eval(t, "d / 4", record)
	dec, ok := got.(decimal.Decimal)
	require.True(t, ok, "decimal operand must promote to decimal, got %T", got)
	assert.True(t, dec.Equal(decimal.NewFromFloat(2.5)))
}

func TestComparisonAndLogic(t *testing.T) {
	record := map[string]any{
		"notionalAmount": int64(5000000),
		"tradeType":      "SWAP",
		"active":         true,
	}

	cases := map[string]bool{
		"notionalAmount > 1000000":                      true,
		"notionalAmount <= 1000000":                     false,
		"tradeType == 'SWAP'":                           true,
		"tradeType != 'SWAP'":                           false,
		"active && notionalAmount > 0":                  true,
		"!active || tradeType == 'SWAP'":                true,
		"tradeType == 'FRA' && notionalAmount > 0":      false,
		"notionalAmount > 1000000 ? true : false":       true,
		"(notionalAmount > 1000000) == (1 < 2)":         true,
		"tradeType.startsWith('SW')":                    true,
		"tradeType.matches('^[A-Z]+$')":                 true,
		"tradeType.length() == 4":                       true,
		"tradeType.toLowerCase() == 'swap'":             true,
	}
	for source, want := range cases {
		got := eval(t, source, record)
		assert.Equal(t, want, got, source)
	}
}

func TestShortCircuit(t *testing.T) {
	// The right side would be a type error; short-circuit must skip it.
	record := map[string]any{"flag": false, "s": "x"}
	assert.Equal(t, false, eval(t, "flag && (s + 1 > 0)", record))
	record["flag"] = true
	assert.Equal(t, true, eval(t, "flag || (s + 1 > 0)", record))
}

func TestNullSemantics(t *testing.T) {
	record := map[string]any{"present": int64(1)}

	// Missing fields evaluate to null, not an error.
	assert.Nil(t, eval(t, "missing", record))
	// Null equality is ordinary equality.
	assert.Equal(t, true, eval(t, "missing == null", record))
	assert.Equal(t, false, eval(t, "present == null", record))
	// Null in a boolean context is false.
	assert.Equal(t, false, eval(t, "missing && true", record))
	// Null in arithmetic is an error.
	assert.Equal(t, NullDereference, evalErr(t, "missing + 1", record).Kind)
}

func TestErrorKindsAndSpans(t *testing.T) {
	record := map[string]any{"s": "text", "n": int64(3), "m": map[string]any{}}

	assert.Equal(t, DivideByZero, evalErr(t, "n / 0", record).Kind)
	assert.Equal(t, TypeMismatch, evalErr(t, "s < n", record).Kind)
	assert.Equal(t, UnknownIdentifier, evalErr(t, "#unbound + 1", record).Kind)
	assert.Equal(t, UnsafeOperation, evalErr(t, "s.exec('rm')", record).Kind)
	assert.Equal(t, NullDereference, evalErr(t, "m.child.name", record).Kind)

	err := evalErr(t, "n / 0", record)
	assert.Equal(t, "n / 0", err.Source[err.Span.Start:err.Span.End])

	_, perr := Parse("a +")
	require.Error(t, perr)
	var ee *Error
	require.True(t, errors.As(perr, &ee))
	assert.Equal(t, ParseError, ee.Kind)
}

func TestVariablesAndNestedAccess(t *testing.T) {
	record := map[string]any{
		"trade": map[string]any{
			"legs": []any{
				map[string]any{"currency": "USD"},
				map[string]any{"currency": "EUR"},
			},
		},
	}
	env := NewContext(record).Bind("riskLevel", "HIGH")

	compiled, err := Parse("#riskLevel == 'HIGH' && trade.legs[1]['currency'] == 'EUR'")
	require.NoError(t, err)
	v, err := compiled.Eval(env)
	require.NoError(t, err)
	assert.Equal(t, true, v)

	compiled, err = Parse("#root['trade'].legs.size()")
	require.NoError(t, err)
	v, err = compiled.Eval(env)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestTimeMethods(t *testing.T) {
	effective := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	record := map[string]any{
		"effectiveDate":  effective,
		"expirationDate": effective.AddDate(1, 0, 0),
	}

	assert.Equal(t, true, eval(t, "expirationDate.isAfter(effectiveDate)", record))
	assert.Equal(t, false, eval(t, "effectiveDate.isAfter(expirationDate)", record))
	assert.Equal(t, true, eval(t, "effectiveDate.plusYears(1).isAfter(effectiveDate)", record))
	assert.Equal(t, int64(-1), eval(t, "effectiveDate.compareTo(expirationDate)", record))
}

func TestPurity(t *testing.T) {
	record := map[string]any{"x": int64(2), "y": int64(3)}
	compiled, err := Parse("x * y + 1")
	require.NoError(t, err)

	first, err := compiled.Eval(NewContext(record))
	require.NoError(t, err)
	second, err := compiled.Eval(NewContext(record))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCache(t *testing.T) {
	var hits, misses int
	cache, err := NewCache(8, WithCacheObserver(
		func() { hits++ },
		func() { misses++ },
	))
	require.NoError(t, err)

	env := NewContext(map[string]any{"x": int64(1)})
	for i := 0; i < 3; i++ {
		v, err := cache.Evaluate("x + 1", env)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)
	}
	assert.Equal(t, 1, misses)
	assert.Equal(t, 2, hits)
	assert.Equal(t, 1, cache.Len())

	_, err = cache.Evaluate("x +", env)
	assert.Error(t, err)
}
