// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import (
	"github.com/shopspring/decimal"
)

// numKind identifies the rung of the numeric promotion tower a value sits
// on. Operations promote to the wider of the two operands: decimal beats
// float, float beats int.
type numKind int

const (
	numNone numKind = iota
	numInt
	numFloat
	numDecimal
)

type numeric struct {
	kind numKind
	i    int64
	f    float64
	d    decimal.Decimal
}

func toNumeric(v any) numeric {
	switch n := v.(type) {
	case int:
		return numeric{kind: numInt, i: int64(n)}
	case int32:
		return numeric{kind: numInt, i: int64(n)}
	case int64:
		return numeric{kind: numInt, i: n}
	case float32:
		return numeric{kind: numFloat, f: float64(n)}
	case float64:
		return numeric{kind: numFloat, f: n}
	case decimal.Decimal:
		return numeric{kind: numDecimal, d: n}
	}
	return numeric{kind: numNone}
}

func (n numeric) asFloat() float64 {
	switch n.kind {
	case numInt:
		return float64(n.i)
	case numFloat:
		return n.f
	case numDecimal:
		f, _ := n.d.Float64()
		return f
	}
	return 0
}

func (n numeric) asDecimal() decimal.Decimal {
	switch n.kind {
	case numInt:
		return decimal.NewFromInt(n.i)
	case numFloat:
		return decimal.NewFromFloat(n.f)
	case numDecimal:
		return n.d
	}
	return decimal.Zero
}

// promote returns the common kind for a binary numeric operation.
func promote(a, b numeric) numKind {
	if a.kind == numDecimal || b.kind == numDecimal {
		return numDecimal
	}
	if a.kind == numFloat || b.kind == numFloat {
		return numFloat
	}
	return numInt
}

// truthy implements boolean-context coercion: nil is false, bools are
// themselves; anything else is not a boolean.
func truthy(v any) (bool, bool) {
	if v == nil {
		return false, true
	}
	if b, ok := v.(bool); ok {
		return b, true
	}
	return false, false
}

// valueEqual implements ==. Numbers compare through the tower, nil equals
// only nil, everything else compares by interface equality.
func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	na, nb := toNumeric(a), toNumeric(b)
	if na.kind != numNone && nb.kind != numNone {
		switch promote(na, nb) {
		case numDecimal:
			return na.asDecimal().Equal(nb.asDecimal())
		case numFloat:
			return na.asFloat() == nb.asFloat()
		default:
			return na.i == nb.i
		}
	}
	return a == b
}
