/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package query

import (
	"strings"
	"unicode"

	"github.com/jhc920403/inflearn-data-jpa/types"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokNamedParam
	tokPositionalParam
	tokSymbol
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// is reports whether the token is the keyword kw (case-insensitive).
func (t token) is(kw string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

func (t token) isSymbol(s string) bool {
	return t.kind == tokSymbol && t.text == s
}

func lex(source, text string) ([]token, error) {
	var tokens []token
	rs := []rune(text)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_') {
				i++
			}
			tokens = append(tokens, token{tokIdent, string(rs[start:i]), start})
		case unicode.IsDigit(r):
			start := i
			for i < len(rs) && (unicode.IsDigit(rs[i]) || rs[i] == '.') {
				i++
			}
			tokens = append(tokens, token{tokNumber, string(rs[start:i]), start})
		case r == '\'':
			start := i
			var sb strings.Builder
			i++
			closed := false
			for i < len(rs) {
				if rs[i] == '\'' {
					if i+1 < len(rs) && rs[i+1] == '\'' {
						sb.WriteRune('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				sb.WriteRune(rs[i])
				i++
			}
			if !closed {
				return nil, types.NewError(types.MalformedQueryKind, source, "unterminated string at position %d", start)
			}
			tokens = append(tokens, token{tokString, sb.String(), start})
		case r == ':':
			start := i
			i++
			for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_') {
				i++
			}
			if i == start+1 {
				return nil, types.NewError(types.MalformedQueryKind, source, "parameter name expected at position %d", start)
			}
			tokens = append(tokens, token{tokNamedParam, string(rs[start+1 : i]), start})
		case r == '?':
			start := i
			i++
			for i < len(rs) && unicode.IsDigit(rs[i]) {
				i++
			}
			if i == start+1 {
				return nil, types.NewError(types.MalformedQueryKind, source, "positional parameter needs an index at position %d", start)
			}
			tokens = append(tokens, token{tokPositionalParam, string(rs[start+1 : i]), start})
		default:
			start := i
			two := ""
			if i+1 < len(rs) {
				two = string(rs[i : i+2])
			}
			switch two {
			case "<>", "!=", "<=", ">=":
				tokens = append(tokens, token{tokSymbol, two, start})
				i += 2
				continue
			}
			if !strings.ContainsRune("(),.=<>+-*/", r) {
				return nil, types.NewError(types.MalformedQueryKind, source, "unexpected character %q at position %d", r, start)
			}
			tokens = append(tokens, token{tokSymbol, string(r), start})
			i++
		}
	}
	tokens = append(tokens, token{tokEOF, "", len(rs)})
	return tokens, nil
}
