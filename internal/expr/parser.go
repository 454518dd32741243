// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import (
	"strconv"
	"strings"
)

// Compiled is a parsed, reusable expression. Compiled expressions are
// immutable and safe for concurrent evaluation.
type Compiled struct {
	source string
	root   node
}

// Source returns the original expression text.
func (c *Compiled) Source() string { return c.source }

// Parse compiles source into an AST without consulting the cache.
func Parse(source string) (*Compiled, error) {
	p := &parser{lex: newLexer(source), src: source}
	if err := p.advance(); err != nil {
		return nil, err
	}
	root, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if p.cur.typ != tokenEOF {
		return nil, newError(ParseError, source, Span{p.cur.pos, p.cur.end()},
			"unexpected %q after expression", p.cur.text)
	}
	return &Compiled{source: source, root: root}, nil
}

// parser is a recursive-descent parser with one token of lookahead.
// Precedence, loosest first: ternary, ||, &&, equality, comparison,
// additive, multiplicative, unary, postfix (property/index/call), primary.
type parser struct {
	lex *lexer
	src string
	cur token
}

func (p *parser) advance() *Error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *parser) expect(typ tokenType, what string) (token, *Error) {
	if p.cur.typ != typ {
		return token{}, newError(ParseError, p.src, Span{p.cur.pos, p.cur.end()},
			"expected %s, got %q", what, p.cur.text)
	}
	tok := p.cur
	if err := p.advance(); err != nil {
		return token{}, err
	}
	return tok, nil
}

func (p *parser) parseTernary() (node, *Error) {
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.typ != tokenQuestion {
		return cond, nil
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	then, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenColon, "':' in ternary"); err != nil {
		return nil, err
	}
	els, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	return &ternaryNode{cond: cond, then: then, els: els,
		sp: Span{cond.span().Start, els.span().End}}, nil
}

func (p *parser) parseOr() (node, *Error) {
	return p.parseBinary([]tokenType{tokenOr}, p.parseAnd)
}

func (p *parser) parseAnd() (node, *Error) {
	return p.parseBinary([]tokenType{tokenAnd}, p.parseEquality)
}

func (p *parser) parseEquality() (node, *Error) {
	return p.parseBinary([]tokenType{tokenEq, tokenNeq}, p.parseComparison)
}

func (p *parser) parseComparison() (node, *Error) {
	return p.parseBinary([]tokenType{tokenLt, tokenLte, tokenGt, tokenGte}, p.parseAdditive)
}

func (p *parser) parseAdditive() (node, *Error) {
	return p.parseBinary([]tokenType{tokenPlus, tokenMinus}, p.parseMultiplicative)
}

func (p *parser) parseMultiplicative() (node, *Error) {
	return p.parseBinary([]tokenType{tokenStar, tokenSlash, tokenPercent}, p.parseUnary)
}

func (p *parser) parseBinary(ops []tokenType, next func() (node, *Error)) (node, *Error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		matched := false
		for _, op := range ops {
			if p.cur.typ == op {
				matched = true
				break
			}
		}
		if !matched {
			return left, nil
		}
		op := p.cur.typ
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right,
			sp: Span{left.span().Start, right.span().End}}
	}
}

func (p *parser) parseUnary() (node, *Error) {
	if p.cur.typ == tokenNot || p.cur.typ == tokenMinus {
		op := p.cur.typ
		start := p.cur.pos
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: op, operand: operand,
			sp: Span{start, operand.span().End}}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, *Error) {
	target, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur.typ {
		case tokenDot:
			if err := p.advance(); err != nil {
				return nil, err
			}
			name, perr := p.expect(tokenIdent, "property or method name")
			if perr != nil {
				return nil, perr
			}
			if p.cur.typ == tokenLParen {
				args, end, aerr := p.parseArgs()
				if aerr != nil {
					return nil, aerr
				}
				target = &callNode{target: target, method: name.text, args: args,
					sp: Span{target.span().Start, end}}
				continue
			}
			target = &propertyNode{target: target, name: name.text,
				sp: Span{target.span().Start, name.end()}}
		case tokenLBracket:
			if err := p.advance(); err != nil {
				return nil, err
			}
			index, ierr := p.parseTernary()
			if ierr != nil {
				return nil, ierr
			}
			closing, cerr := p.expect(tokenRBracket, "']'")
			if cerr != nil {
				return nil, cerr
			}
			target = &indexNode{target: target, index: index,
				sp: Span{target.span().Start, closing.end()}}
		default:
			return target, nil
		}
	}
}

func (p *parser) parseArgs() ([]node, int, *Error) {
	if _, err := p.expect(tokenLParen, "'('"); err != nil {
		return nil, 0, err
	}
	var args []node
	if p.cur.typ != tokenRParen {
		for {
			arg, err := p.parseTernary()
			if err != nil {
				return nil, 0, err
			}
			args = append(args, arg)
			if p.cur.typ != tokenComma {
				break
			}
			if err := p.advance(); err != nil {
				return nil, 0, err
			}
		}
	}
	closing, err := p.expect(tokenRParen, "')'")
	if err != nil {
		return nil, 0, err
	}
	return args, closing.end(), nil
}

func (p *parser) parsePrimary() (node, *Error) {
	tok := p.cur
	switch tok.typ {
	case tokenNumber:
		if err := p.advance(); err != nil {
			return nil, err
		}
		sp := Span{tok.pos, tok.end()}
		if strings.Contains(tok.text, ".") {
			f, err := strconv.ParseFloat(tok.text, 64)
			if err != nil {
				return nil, newError(ParseError, p.src, sp, "invalid number %q", tok.text)
			}
			return &literalNode{value: f, sp: sp}, nil
		}
		i, err := strconv.ParseInt(tok.text, 10, 64)
		if err != nil {
			return nil, newError(ParseError, p.src, sp, "invalid integer %q", tok.text)
		}
		return &literalNode{value: i, sp: sp}, nil
	case tokenString:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &literalNode{value: tok.text, sp: Span{tok.pos, p.cur.pos}}, nil
	case tokenTrue, tokenFalse:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &literalNode{value: tok.typ == tokenTrue, sp: Span{tok.pos, tok.end()}}, nil
	case tokenNull:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &literalNode{value: nil, sp: Span{tok.pos, tok.end()}}, nil
	case tokenVariable:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &variableNode{name: strings.TrimPrefix(tok.text, "#"),
			sp: Span{tok.pos, tok.end()}}, nil
	case tokenIdent:
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &identNode{name: tok.text, sp: Span{tok.pos, tok.end()}}, nil
	case tokenLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return nil, newError(ParseError, p.src, Span{tok.pos, tok.end()},
		"unexpected %q", tok.text)
}
