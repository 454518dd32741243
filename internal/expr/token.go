// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenType int

const (
	tokenEOF tokenType = iota
	tokenNumber
	tokenString
	tokenIdent     // plain identifier, property of the current record
	tokenVariable  // #name, context variable reference
	tokenTrue
	tokenFalse
	tokenNull
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenPercent
	tokenEq
	tokenNeq
	tokenLt
	tokenLte
	tokenGt
	tokenGte
	tokenAnd
	tokenOr
	tokenNot
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
	tokenDot
	tokenQuestion
	tokenColon
	tokenComma
)

type token struct {
	typ  tokenType
	text string
	pos  int
}

func (t token) end() int { return t.pos + len(t.text) }

type lexer struct {
	src string
	pos int
}

func newLexer(src string) *lexer { return &lexer{src: src} }

// next returns the next token or a ParseError for unrecognized input.
func (l *lexer) next() (token, *Error) {
	for l.pos < len(l.src) && unicode.IsSpace(rune(l.src[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{typ: tokenEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]

	switch {
	case c >= '0' && c <= '9':
		return l.lexNumber(), nil
	case c == '\'' || c == '"':
		return l.lexString(c)
	case c == '#':
		l.pos++
		ident := l.lexIdentText()
		if ident == "" {
			return token{}, newError(ParseError, l.src, Span{start, l.pos}, "expected identifier after '#'")
		}
		return token{typ: tokenVariable, text: "#" + ident, pos: start}, nil
	case isIdentStart(c):
		ident := l.lexIdentText()
		switch ident {
		case "true":
			return token{typ: tokenTrue, text: ident, pos: start}, nil
		case "false":
			return token{typ: tokenFalse, text: ident, pos: start}, nil
		case "null":
			return token{typ: tokenNull, text: ident, pos: start}, nil
		}
		return token{typ: tokenIdent, text: ident, pos: start}, nil
	}

	two := ""
	if l.pos+1 < len(l.src) {
		two = l.src[l.pos : l.pos+2]
	}
	switch two {
	case "==":
		l.pos += 2
		return token{typ: tokenEq, text: two, pos: start}, nil
	case "!=":
		l.pos += 2
		return token{typ: tokenNeq, text: two, pos: start}, nil
	case "<=":
		l.pos += 2
		return token{typ: tokenLte, text: two, pos: start}, nil
	case ">=":
		l.pos += 2
		return token{typ: tokenGte, text: two, pos: start}, nil
	case "&&":
		l.pos += 2
		return token{typ: tokenAnd, text: two, pos: start}, nil
	case "||":
		l.pos += 2
		return token{typ: tokenOr, text: two, pos: start}, nil
	}

	l.pos++
	one := string(c)
	switch c {
	case '+':
		return token{typ: tokenPlus, text: one, pos: start}, nil
	case '-':
		return token{typ: tokenMinus, text: one, pos: start}, nil
	case '*':
		return token{typ: tokenStar, text: one, pos: start}, nil
	case '/':
		return token{typ: tokenSlash, text: one, pos: start}, nil
	case '%':
		return token{typ: tokenPercent, text: one, pos: start}, nil
	case '<':
		return token{typ: tokenLt, text: one, pos: start}, nil
	case '>':
		return token{typ: tokenGt, text: one, pos: start}, nil
	case '!':
		return token{typ: tokenNot, text: one, pos: start}, nil
	case '(':
		return token{typ: tokenLParen, text: one, pos: start}, nil
	case ')':
		return token{typ: tokenRParen, text: one, pos: start}, nil
	case '[':
		return token{typ: tokenLBracket, text: one, pos: start}, nil
	case ']':
		return token{typ: tokenRBracket, text: one, pos: start}, nil
	case '.':
		return token{typ: tokenDot, text: one, pos: start}, nil
	case '?':
		return token{typ: tokenQuestion, text: one, pos: start}, nil
	case ':':
		return token{typ: tokenColon, text: one, pos: start}, nil
	case ',':
		return token{typ: tokenComma, text: one, pos: start}, nil
	}
	return token{}, newError(ParseError, l.src, Span{start, l.pos},
		"unexpected character %q", string(c))
}

func (l *lexer) lexNumber() token {
	start := l.pos
	for l.pos < len(l.src) && (l.src[l.pos] >= '0' && l.src[l.pos] <= '9') {
		l.pos++
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' &&
		l.pos+1 < len(l.src) && l.src[l.pos+1] >= '0' && l.src[l.pos+1] <= '9' {
		l.pos++
		for l.pos < len(l.src) && (l.src[l.pos] >= '0' && l.src[l.pos] <= '9') {
			l.pos++
		}
	}
	return token{typ: tokenNumber, text: l.src[start:l.pos], pos: start}
}

func (l *lexer) lexString(quote byte) (token, *Error) {
	start := l.pos
	l.pos++ // opening quote
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\\' && l.pos+1 < len(l.src) {
			next := l.src[l.pos+1]
			switch next {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case '\\', '\'', '"':
				b.WriteByte(next)
			default:
				b.WriteByte('\\')
				b.WriteByte(next)
			}
			l.pos += 2
			continue
		}
		if c == quote {
			l.pos++
			return token{typ: tokenString, text: b.String(), pos: start}, nil
		}
		b.WriteByte(c)
		l.pos++
	}
	return token{}, newError(ParseError, l.src, Span{start, l.pos}, "unterminated string literal")
}

func (l *lexer) lexIdentText() string {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}
	return l.src[start:l.pos]
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func (t tokenType) String() string {
	names := map[tokenType]string{
		tokenEOF: "EOF", tokenNumber: "number", tokenString: "string",
		tokenIdent: "identifier", tokenVariable: "variable",
	}
	if n, ok := names[t]; ok {
		return n
	}
	return fmt.Sprintf("token(%d)", int(t))
}
