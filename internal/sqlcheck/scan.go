package sqlcheck

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenSemicolon
)

type token struct {
	kind  tokenKind
	text  string
	depth int
}

// scanTopLevel walks the statement and emits bare words and semicolons with
// their parenthesis depth, skipping string literals, quoted identifiers, and
// both comment styles. An unterminated literal or comment is an error; so is
// a parenthesis imbalance.
func scanTopLevel(sqlText string) ([]token, error) {
	var tokens []token
	depth := 0
	i := 0
	n := len(sqlText)

	for i < n {
		ch := sqlText[i]
		switch {
		case ch == '\'':
			end, ok := skipQuoted(sqlText, i, '\'')
			if !ok {
				return tokens, fmt.Errorf("unterminated string literal")
			}
			i = end
		case ch == '"':
			end, ok := skipQuoted(sqlText, i, '"')
			if !ok {
				return tokens, fmt.Errorf("unterminated quoted identifier")
			}
			i = end
		case ch == '-' && i+1 < n && sqlText[i+1] == '-':
			for i < n && sqlText[i] != '\n' {
				i++
			}
		case ch == '/' && i+1 < n && sqlText[i+1] == '*':
			end := strings.Index(sqlText[i+2:], "*/")
			if end < 0 {
				return tokens, fmt.Errorf("unterminated block comment")
			}
			i += end + 4
		case ch == '(':
			depth++
			i++
		case ch == ')':
			depth--
			if depth < 0 {
				return tokens, fmt.Errorf("unbalanced parentheses")
			}
			i++
		case ch == ';':
			tokens = append(tokens, token{kind: tokenSemicolon, depth: depth})
			i++
		case isWordByte(ch):
			start := i
			for i < n && isWordByte(sqlText[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokenWord, text: sqlText[start:i], depth: depth})
		default:
			i++
		}
	}

	if depth != 0 {
		return tokens, fmt.Errorf("unbalanced parentheses")
	}
	return tokens, nil
}

// skipQuoted returns the index just past the closing quote, honoring the SQL
// doubled-quote escape, where the quote character written twice stays inside
// the literal.
func skipQuoted(s string, start int, quote byte) (int, bool) {
	i := start + 1
	for i < len(s) {
		if s[i] != quote {
			i++
			continue
		}
		if i+1 < len(s) && s[i+1] == quote {
			i += 2
			continue
		}
		return i + 1, true
	}
	return i, false
}

func isWordByte(ch byte) bool {
	return ch == '_' || (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}
