// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package expr

// node is an AST node. Every node records its source span so evaluation
// errors can point at the offending subexpression.
type node interface {
	span() Span
}

type literalNode struct {
	value any // nil, bool, string, int64, float64
	sp    Span
}

// identNode is a plain identifier resolved as a property of the current
// record.
type identNode struct {
	name string
	sp   Span
}

// variableNode is a #name reference into the evaluation context.
type variableNode struct {
	name string // without the leading '#'
	sp   Span
}

// propertyNode is a dotted access target.name.
type propertyNode struct {
	target node
	name   string
	sp     Span
}

// indexNode is target['key'] or target[i].
type indexNode struct {
	target node
	index  node
	sp     Span
}

// callNode is a safelisted method call target.method(args...).
type callNode struct {
	target node
	method string
	args   []node
	sp     Span
}

type unaryNode struct {
	op      tokenType // tokenNot or tokenMinus
	operand node
	sp      Span
}

type binaryNode struct {
	op          tokenType
	left, right node
	sp          Span
}

type ternaryNode struct {
	cond, then, els node
	sp              Span
}

func (n *literalNode) span() Span  { return n.sp }
func (n *identNode) span() Span    { return n.sp }
func (n *variableNode) span() Span { return n.sp }
func (n *propertyNode) span() Span { return n.sp }
func (n *indexNode) span() Span    { return n.sp }
func (n *callNode) span() Span     { return n.sp }
func (n *unaryNode) span() Span    { return n.sp }
func (n *binaryNode) span() Span   { return n.sp }
func (n *ternaryNode) span() Span  { return n.sp }
