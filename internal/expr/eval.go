// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

// Package expr implements the APEX expression language: a small, pure,
// side-effect-free language used for rule conditions, lookup keys,
// transformations and calculations. Expressions access the current record
// by plain identifier, the evaluation context by #name, and may call a
// fixed safelist of methods on built-in types. There is no I/O, no clock
// and no user-defined functions.
package expr

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Context carries the data an expression evaluates against. Record holds
// the current record's fields; Vars holds bound variables addressable via
// #name (stage outputs, prior results, the root record under #root).
type Context struct {
	Record map[string]any
	Vars   map[string]any
}

// NewContext builds a context over a record with no extra bindings.
func NewContext(record map[string]any) *Context {
	return &Context{Record: record, Vars: map[string]any{}}
}

// Bind sets a #name-addressable variable and returns the context.
func (c *Context) Bind(name string, value any) *Context {
	if c.Vars == nil {
		c.Vars = map[string]any{}
	}
	c.Vars[name] = value
	return c
}

// Eval evaluates the compiled expression against env. Evaluation is pure:
// the same expression and context always yield the same value.
func (c *Compiled) Eval(env *Context) (any, error) {
	ev := &evaluator{src: c.source, env: env}
	return ev.eval(c.root)
}

// EvalBool evaluates the expression and coerces the result to a boolean.
// A nil result is false; a non-boolean result is a TypeMismatch.
func (c *Compiled) EvalBool(env *Context) (bool, error) {
	v, err := c.Eval(env)
	if err != nil {
		return false, err
	}
	b, ok := truthy(v)
	if !ok {
		return false, newError(TypeMismatch, c.source, c.root.span(),
			"expected boolean result, got %T", v)
	}
	return b, nil
}

type evaluator struct {
	src string
	env *Context
}

func (ev *evaluator) eval(n node) (any, error) {
	switch n := n.(type) {
	case *literalNode:
		return n.value, nil
	case *identNode:
		if ev.env.Record == nil {
			return nil, nil
		}
		// Missing fields are null, not errors.
		return ev.env.Record[n.name], nil
	case *variableNode:
		if n.name == "root" {
			return ev.env.Record, nil
		}
		if v, ok := ev.env.Vars[n.name]; ok {
			return v, nil
		}
		if v, ok := ev.env.Record[n.name]; ok {
			return v, nil
		}
		return nil, newError(UnknownIdentifier, ev.src, n.sp,
			"variable #%s is not bound", n.name)
	case *propertyNode:
		return ev.evalProperty(n)
	case *indexNode:
		return ev.evalIndex(n)
	case *callNode:
		return ev.evalCall(n)
	case *unaryNode:
		return ev.evalUnary(n)
	case *binaryNode:
		return ev.evalBinary(n)
	case *ternaryNode:
		cond, err := ev.eval(n.cond)
		if err != nil {
			return nil, err
		}
		b, ok := truthy(cond)
		if !ok {
			return nil, newError(TypeMismatch, ev.src, n.cond.span(),
				"ternary condition must be boolean, got %T", cond)
		}
		if b {
			return ev.eval(n.then)
		}
		return ev.eval(n.els)
	}
	return nil, newError(UnsafeOperation, ev.src, n.span(), "unsupported expression node")
}

func (ev *evaluator) evalProperty(n *propertyNode) (any, error) {
	target, err := ev.eval(n.target)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, newError(NullDereference, ev.src, n.sp,
			"cannot access %q on null", n.name)
	}
	switch m := target.(type) {
	case map[string]any:
		return m[n.name], nil
	case map[any]any:
		return m[n.name], nil
	case *Context:
		return m.Record[n.name], nil
	}
	return nil, newError(TypeMismatch, ev.src, n.sp,
		"cannot access property %q on %T", n.name, target)
}

func (ev *evaluator) evalIndex(n *indexNode) (any, error) {
	target, err := ev.eval(n.target)
	if err != nil {
		return nil, err
	}
	index, err := ev.eval(n.index)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, newError(NullDereference, ev.src, n.sp, "cannot index into null")
	}
	switch t := target.(type) {
	case map[string]any:
		key, ok := index.(string)
		if !ok {
			return nil, newError(TypeMismatch, ev.src, n.index.span(),
				"map index must be a string, got %T", index)
		}
		return t[key], nil
	case map[any]any:
		return t[index], nil
	case []any:
		num := toNumeric(index)
		if num.kind != numInt {
			return nil, newError(TypeMismatch, ev.src, n.index.span(),
				"list index must be an integer, got %T", index)
		}
		if num.i < 0 || num.i >= int64(len(t)) {
			return nil, nil
		}
		return t[num.i], nil
	case string:
		num := toNumeric(index)
		if num.kind != numInt {
			return nil, newError(TypeMismatch, ev.src, n.index.span(),
				"string index must be an integer, got %T", index)
		}
		if num.i < 0 || num.i >= int64(len(t)) {
			return nil, nil
		}
		return string(t[num.i]), nil
	}
	return nil, newError(TypeMismatch, ev.src, n.sp, "cannot index into %T", target)
}

func (ev *evaluator) evalUnary(n *unaryNode) (any, error) {
	v, err := ev.eval(n.operand)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case tokenNot:
		b, ok := truthy(v)
		if !ok {
			return nil, newError(TypeMismatch, ev.src, n.sp, "'!' requires a boolean, got %T", v)
		}
		return !b, nil
	case tokenMinus:
		num := toNumeric(v)
		switch num.kind {
		case numInt:
			return -num.i, nil
		case numFloat:
			return -num.f, nil
		case numDecimal:
			return num.d.Neg(), nil
		}
		if v == nil {
			return nil, newError(NullDereference, ev.src, n.sp, "cannot negate null")
		}
		return nil, newError(TypeMismatch, ev.src, n.sp, "cannot negate %T", v)
	}
	return nil, newError(UnsafeOperation, ev.src, n.sp, "unsupported unary operator")
}

func (ev *evaluator) evalBinary(n *binaryNode) (any, error) {
	// Logical operators short-circuit strictly left to right.
	if n.op == tokenAnd || n.op == tokenOr {
		left, err := ev.eval(n.left)
		if err != nil {
			return nil, err
		}
		lb, ok := truthy(left)
		if !ok {
			return nil, newError(TypeMismatch, ev.src, n.left.span(),
				"logical operand must be boolean, got %T", left)
		}
		if n.op == tokenAnd && !lb {
			return false, nil
		}
		if n.op == tokenOr && lb {
			return true, nil
		}
		right, err := ev.eval(n.right)
		if err != nil {
			return nil, err
		}
		rb, ok := truthy(right)
		if !ok {
			return nil, newError(TypeMismatch, ev.src, n.right.span(),
				"logical operand must be boolean, got %T", right)
		}
		return rb, nil
	}

	left, err := ev.eval(n.left)
	if err != nil {
		return nil, err
	}
	right, err := ev.eval(n.right)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case tokenEq:
		return valueEqual(left, right), nil
	case tokenNeq:
		return !valueEqual(left, right), nil
	case tokenLt, tokenLte, tokenGt, tokenGte:
		return ev.compare(n, left, right)
	case tokenPlus, tokenMinus, tokenStar, tokenSlash, tokenPercent:
		return ev.arithmetic(n, left, right)
	}
	return nil, newError(UnsafeOperation, ev.src, n.sp, "unsupported binary operator")
}

func (ev *evaluator) compare(n *binaryNode, left, right any) (any, error) {
	if left == nil || right == nil {
		return nil, newError(NullDereference, ev.src, n.sp, "cannot order null values")
	}

	var cmp int
	la, ra := toNumeric(left), toNumeric(right)
	switch {
	case la.kind != numNone && ra.kind != numNone:
		switch promote(la, ra) {
		case numDecimal:
			cmp = la.asDecimal().Cmp(ra.asDecimal())
		case numFloat:
			lf, rf := la.asFloat(), ra.asFloat()
			switch {
			case lf < rf:
				cmp = -1
			case lf > rf:
				cmp = 1
			}
		default:
			switch {
			case la.i < ra.i:
				cmp = -1
			case la.i > ra.i:
				cmp = 1
			}
		}
	default:
		ls, lok := left.(string)
		rs, rok := right.(string)
		if lok && rok {
			cmp = strings.Compare(ls, rs)
			break
		}
		lt, ltok := left.(time.Time)
		rt, rtok := right.(time.Time)
		if ltok && rtok {
			cmp = lt.Compare(rt)
			break
		}
		return nil, newError(TypeMismatch, ev.src, n.sp,
			"cannot compare %T with %T", left, right)
	}

	switch n.op {
	case tokenLt:
		return cmp < 0, nil
	case tokenLte:
		return cmp <= 0, nil
	case tokenGt:
		return cmp > 0, nil
	default:
		return cmp >= 0, nil
	}
}

func (ev *evaluator) arithmetic(n *binaryNode, left, right any) (any, error) {
	if n.op == tokenPlus {
		ls, lok := left.(string)
		rs, rok := right.(string)
		if lok && rok {
			return ls + rs, nil
		}
	}
	if left == nil || right == nil {
		return nil, newError(NullDereference, ev.src, n.sp, "null operand in arithmetic")
	}

	la, ra := toNumeric(left), toNumeric(right)
	if la.kind == numNone || ra.kind == numNone {
		return nil, newError(TypeMismatch, ev.src, n.sp,
			"arithmetic requires numbers, got %T and %T", left, right)
	}

	switch promote(la, ra) {
	case numDecimal:
		ld, rd := la.asDecimal(), ra.asDecimal()
		switch n.op {
		case tokenPlus:
			return ld.Add(rd), nil
		case tokenMinus:
			return ld.Sub(rd), nil
		case tokenStar:
			return ld.Mul(rd), nil
		case tokenSlash:
			if rd.IsZero() {
				return nil, newError(DivideByZero, ev.src, n.sp, "division by zero")
			}
			return ld.Div(rd), nil
		case tokenPercent:
			if rd.IsZero() {
				return nil, newError(DivideByZero, ev.src, n.sp, "modulo by zero")
			}
			return ld.Mod(rd), nil
		}
	case numFloat:
		lf, rf := la.asFloat(), ra.asFloat()
		switch n.op {
		case tokenPlus:
			return lf + rf, nil
		case tokenMinus:
			return lf - rf, nil
		case tokenStar:
			return lf * rf, nil
		case tokenSlash:
			if rf == 0 {
				return nil, newError(DivideByZero, ev.src, n.sp, "division by zero")
			}
			return lf / rf, nil
		case tokenPercent:
			return nil, newError(TypeMismatch, ev.src, n.sp, "'%%' requires integers")
		}
	default:
		switch n.op {
		case tokenPlus:
			return la.i + ra.i, nil
		case tokenMinus:
			return la.i - ra.i, nil
		case tokenStar:
			return la.i * ra.i, nil
		case tokenSlash:
			if ra.i == 0 {
				return nil, newError(DivideByZero, ev.src, n.sp, "division by zero")
			}
			return la.i / ra.i, nil
		case tokenPercent:
			if ra.i == 0 {
				return nil, newError(DivideByZero, ev.src, n.sp, "modulo by zero")
			}
			return la.i % ra.i, nil
		}
	}
	return nil, newError(UnsafeOperation, ev.src, n.sp, "unsupported arithmetic operator")
}

// evalCall dispatches a safelisted method on a built-in type. Anything
// outside the safelist is an UnsafeOperation.
func (ev *evaluator) evalCall(n *callNode) (any, error) {
	target, err := ev.eval(n.target)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, newError(NullDereference, ev.src, n.sp,
			"cannot call %q on null", n.method)
	}
	args := make([]any, len(n.args))
	for i, a := range n.args {
		v, err := ev.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch t := target.(type) {
	case string:
		return ev.callString(n, t, args)
	case time.Time:
		return ev.callTime(n, t, args)
	case []any:
		return ev.callList(n, t, args)
	case map[string]any:
		return ev.callMap(n, t, args)
	}
	if num := toNumeric(target); num.kind != numNone {
		return ev.callNumber(n, num, args)
	}
	return nil, newError(UnsafeOperation, ev.src, n.sp,
		"method %q is not allowed on %T", n.method, target)
}

func (ev *evaluator) callString(n *callNode, s string, args []any) (any, error) {
	switch n.method {
	case "length":
		return int64(len(s)), nil
	case "toUpperCase":
		return strings.ToUpper(s), nil
	case "toLowerCase":
		return strings.ToLower(s), nil
	case "trim":
		return strings.TrimSpace(s), nil
	case "matches":
		pat, err := ev.stringArg(n, args, 0)
		if err != nil {
			return nil, err
		}
		re, rerr := regexp.Compile(pat)
		if rerr != nil {
			return nil, newError(TypeMismatch, ev.src, n.sp, "invalid pattern %q", pat)
		}
		return re.MatchString(s), nil
	case "startsWith":
		prefix, err := ev.stringArg(n, args, 0)
		if err != nil {
			return nil, err
		}
		return strings.HasPrefix(s, prefix), nil
	case "endsWith":
		suffix, err := ev.stringArg(n, args, 0)
		if err != nil {
			return nil, err
		}
		return strings.HasSuffix(s, suffix), nil
	case "contains":
		sub, err := ev.stringArg(n, args, 0)
		if err != nil {
			return nil, err
		}
		return strings.Contains(s, sub), nil
	case "substring":
		start, err := ev.intArg(n, args, 0)
		if err != nil {
			return nil, err
		}
		end := int64(len(s))
		if len(args) > 1 {
			if end, err = ev.intArg(n, args, 1); err != nil {
				return nil, err
			}
		}
		if start < 0 || end > int64(len(s)) || start > end {
			return nil, newError(TypeMismatch, ev.src, n.sp,
				"substring bounds [%d:%d] out of range", start, end)
		}
		return s[start:end], nil
	case "compareTo":
		other, err := ev.stringArg(n, args, 0)
		if err != nil {
			return nil, err
		}
		return int64(strings.Compare(s, other)), nil
	case "isEmpty":
		return s == "", nil
	}
	return nil, newError(UnsafeOperation, ev.src, n.sp,
		"method %q is not allowed on strings", n.method)
}

func (ev *evaluator) callTime(n *callNode, t time.Time, args []any) (any, error) {
	switch n.method {
	case "isAfter":
		other, err := ev.timeArg(n, args, 0)
		if err != nil {
			return nil, err
		}
		return t.After(other), nil
	case "isBefore":
		other, err := ev.timeArg(n, args, 0)
		if err != nil {
			return nil, err
		}
		return t.Before(other), nil
	case "plusYears":
		years, err := ev.intArg(n, args, 0)
		if err != nil {
			return nil, err
		}
		return t.AddDate(int(years), 0, 0), nil
	case "plusDays":
		days, err := ev.intArg(n, args, 0)
		if err != nil {
			return nil, err
		}
		return t.AddDate(0, 0, int(days)), nil
	case "compareTo":
		other, err := ev.timeArg(n, args, 0)
		if err != nil {
			return nil, err
		}
		return int64(t.Compare(other)), nil
	}
	return nil, newError(UnsafeOperation, ev.src, n.sp,
		"method %q is not allowed on dates", n.method)
}

func (ev *evaluator) callNumber(n *callNode, num numeric, args []any) (any, error) {
	switch n.method {
	case "abs":
		switch num.kind {
		case numInt:
			if num.i < 0 {
				return -num.i, nil
			}
			return num.i, nil
		case numFloat:
			if num.f < 0 {
				return -num.f, nil
			}
			return num.f, nil
		case numDecimal:
			return num.d.Abs(), nil
		}
	case "compareTo":
		if len(args) != 1 {
			return nil, newError(TypeMismatch, ev.src, n.sp, "compareTo requires one argument")
		}
		other := toNumeric(args[0])
		if other.kind == numNone {
			return nil, newError(TypeMismatch, ev.src, n.sp,
				"compareTo requires a number, got %T", args[0])
		}
		return int64(num.asDecimal().Cmp(other.asDecimal())), nil
	}
	return nil, newError(UnsafeOperation, ev.src, n.sp,
		"method %q is not allowed on numbers", n.method)
}

func (ev *evaluator) callList(n *callNode, list []any, args []any) (any, error) {
	switch n.method {
	case "size", "length":
		return int64(len(list)), nil
	case "isEmpty":
		return len(list) == 0, nil
	case "contains":
		if len(args) != 1 {
			return nil, newError(TypeMismatch, ev.src, n.sp, "contains requires one argument")
		}
		for _, v := range list {
			if valueEqual(v, args[0]) {
				return true, nil
			}
		}
		return false, nil
	}
	return nil, newError(UnsafeOperation, ev.src, n.sp,
		"method %q is not allowed on lists", n.method)
}

func (ev *evaluator) callMap(n *callNode, m map[string]any, args []any) (any, error) {
	switch n.method {
	case "size":
		return int64(len(m)), nil
	case "isEmpty":
		return len(m) == 0, nil
	case "containsKey":
		key, err := ev.stringArg(n, args, 0)
		if err != nil {
			return nil, err
		}
		_, ok := m[key]
		return ok, nil
	}
	return nil, newError(UnsafeOperation, ev.src, n.sp,
		"method %q is not allowed on maps", n.method)
}

func (ev *evaluator) stringArg(n *callNode, args []any, i int) (string, *Error) {
	if i >= len(args) {
		return "", newError(TypeMismatch, ev.src, n.sp,
			"%s requires argument %d", n.method, i+1)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", newError(TypeMismatch, ev.src, n.sp,
			"%s argument %d must be a string, got %T", n.method, i+1, args[i])
	}
	return s, nil
}

func (ev *evaluator) intArg(n *callNode, args []any, i int) (int64, *Error) {
	if i >= len(args) {
		return 0, newError(TypeMismatch, ev.src, n.sp,
			"%s requires argument %d", n.method, i+1)
	}
	num := toNumeric(args[i])
	if num.kind != numInt {
		return 0, newError(TypeMismatch, ev.src, n.sp,
			"%s argument %d must be an integer, got %T", n.method, i+1, args[i])
	}
	return num.i, nil
}

func (ev *evaluator) timeArg(n *callNode, args []any, i int) (time.Time, *Error) {
	if i >= len(args) {
		return time.Time{}, newError(TypeMismatch, ev.src, n.sp,
			"%s requires argument %d", n.method, i+1)
	}
	switch v := args[i].(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
	}
	return time.Time{}, newError(TypeMismatch, ev.src, n.sp,
		"%s argument %d must be a date, got %T", n.method, i+1, args[i])
}

// String renders a value the way routing and outcome labels expect:
// strings verbatim, numbers and booleans via fmt, nil as "null".
func Stringify(v any) string {
	if v == nil {
		return "null"
	}
	if s, ok := v.(string); ok {
		return s
	}
	if d, ok := v.(decimal.Decimal); ok {
		return d.String()
	}
	return fmt.Sprintf("%v", v)
}
