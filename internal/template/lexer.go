// Package template implements the minimal Jinja2-flavoured expression
// language real GGUF tokenizer.chat_template strings embed: variable
// substitution, for-loops, and if/else conditionals over a bound
// "messages" list. It is hand-rolled rather than built on text/template
// because that engine's delimiters and scoping don't match the
// {%...%}/{{...}} syntax models actually ship.
package template

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokText tokenKind = iota
	tokExprOpen
	tokExprClose
	tokStmtOpen
	tokStmtClose
	tokIdent
	tokDot
	tokString
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

// lex splits src into a flat token stream: runs of literal text become a
// single tokText, and {{ ... }} / {% ... %} spans are tokenized inside.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		if strings.HasPrefix(src[i:], "{{") || strings.HasPrefix(src[i:], "{%") {
			isStmt := src[i+1] == '%'
			closeDelim := "}}"
			if isStmt {
				closeDelim = "%}"
			}
			end := strings.Index(src[i+2:], closeDelim)
			if end == -1 {
				return nil, fmt.Errorf("template: unterminated %s", map[bool]string{true: "{%", false: "{{"}[isStmt])
			}
			inner := strings.TrimSpace(src[i+2 : i+2+end])
			if isStmt {
				toks = append(toks, token{tokStmtOpen, ""})
			} else {
				toks = append(toks, token{tokExprOpen, ""})
			}
			toks = append(toks, lexInner(inner)...)
			if isStmt {
				toks = append(toks, token{tokStmtClose, ""})
			} else {
				toks = append(toks, token{tokExprClose, ""})
			}
			i = i + 2 + end + 2
			continue
		}

		next := len(src)
		if idx := strings.Index(src[i:], "{{"); idx != -1 && i+idx < next {
			next = i + idx
		}
		if idx := strings.Index(src[i:], "{%"); idx != -1 && i+idx < next {
			next = i + idx
		}
		if next > i {
			toks = append(toks, token{tokText, src[i:next]})
		}
		i = next
	}
	toks = append(toks, token{tokEOF, ""})
	return toks, nil
}

// lexInner tokenizes the whitespace-separated identifier/dotted-path/
// string-literal content found between {{ }} or {% %} delimiters.
func lexInner(s string) []token {
	var toks []token
	fields := splitRespectingQuotes(s)
	for _, f := range fields {
		if strings.HasPrefix(f, `"`) && strings.HasSuffix(f, `"`) && len(f) >= 2 {
			toks = append(toks, token{tokString, strings.Trim(f, `"`)})
			continue
		}
		parts := strings.Split(f, ".")
		for j, p := range parts {
			if j > 0 {
				toks = append(toks, token{tokDot, "."})
			}
			toks = append(toks, token{tokIdent, p})
		}
	}
	return toks
}

func splitRespectingQuotes(s string) []string {
	var fields []string
	var cur strings.Builder
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == ' ' && !inQuote:
			if cur.Len() > 0 {
				fields = append(fields, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields
}
