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
	"fmt"
	"strconv"
	"strings"

	"github.com/jhc920403/inflearn-data-jpa/types"
)

var reservedWords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "JOIN": true, "LEFT": true, "INNER": true,
	"OUTER": true, "FETCH": true, "ORDER": true, "BY": true, "SET": true, "AND": true,
	"OR": true, "NOT": true, "AS": true, "ON": true, "UPDATE": true, "DELETE": true,
}

var functions = map[string]bool{"UPPER": true, "LOWER": true, "LENGTH": true, "ABS": true}

type rawJoin struct {
	path  *PathExpr
	alias string
	left  bool
	fetch bool
}

type rawQuery struct {
	kind       StatementKind
	distinct   bool
	selectKind SelectionKind
	paths      []*PathExpr
	ctorName   string
	entity     string
	alias      string
	joins      []rawJoin
	where      Expr
	orderBy    []OrderItem
	sets       []Assignment
}

type parser struct {
	source string
	toks   []token
	pos    int
}

func parse(source, text string) (*rawQuery, error) {
	toks, err := lex(source, text)
	if err != nil {
		return nil, err
	}
	p := &parser{source: source, toks: toks}
	var q *rawQuery
	switch t := p.peek(); {
	case t.is("SELECT"):
		q, err = p.parseSelect()
	case t.is("UPDATE"):
		q, err = p.parseUpdate()
	case t.is("DELETE"):
		q, err = p.parseDelete()
	default:
		return nil, p.errorf("SELECT, UPDATE or DELETE expected")
	}
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, p.errorf("unexpected %q", p.peek().text)
	}
	return q, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(kw string) bool {
	if p.peek().is(kw) {
		p.next()
		return true
	}
	return false
}

func (p *parser) acceptSymbol(s string) bool {
	if p.peek().isSymbol(s) {
		p.next()
		return true
	}
	return false
}

func (p *parser) expect(kw string) error {
	if !p.accept(kw) {
		return p.errorf("%s expected", kw)
	}
	return nil
}

func (p *parser) expectSymbol(s string) error {
	if !p.acceptSymbol(s) {
		return p.errorf("%q expected", s)
	}
	return nil
}

func (p *parser) errorf(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	return types.NewError(types.MalformedQueryKind, p.source, "%s at position %d", msg, p.peek().pos)
}

func (p *parser) ident() (string, error) {
	t := p.peek()
	if t.kind != tokIdent {
		return "", p.errorf("identifier expected")
	}
	p.next()
	return t.text, nil
}

// alias reads an identification variable after an optional AS.
func (p *parser) alias() (string, error) {
	explicit := p.accept("AS")
	t := p.peek()
	if t.kind != tokIdent || reservedWords[strings.ToUpper(t.text)] {
		if explicit {
			return "", p.errorf("alias expected")
		}
		return "", nil
	}
	p.next()
	return t.text, nil
}

func (p *parser) path() (*PathExpr, error) {
	first, err := p.ident()
	if err != nil {
		return nil, err
	}
	parts := []string{first}
	for p.acceptSymbol(".") {
		part, err := p.ident()
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
	return &PathExpr{Parts: parts}, nil
}

func (p *parser) parseSelect() (*rawQuery, error) {
	q := &rawQuery{kind: SelectStatement}
	p.next()
	q.distinct = p.accept("DISTINCT")

	switch {
	case p.accept("NEW"):
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		for p.acceptSymbol(".") {
			part, err := p.ident()
			if err != nil {
				return nil, err
			}
			name += "." + part
		}
		q.selectKind = SelectConstructor
		q.ctorName = name
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		if q.paths, err = p.pathList(); err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
	case p.peek().is("COUNT") && p.toks[p.pos+1].isSymbol("("):
		p.next()
		p.next()
		if p.accept("DISTINCT") {
			q.distinct = true
		}
		path, err := p.path()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		q.selectKind = SelectCount
		q.paths = []*PathExpr{path}
	default:
		paths, err := p.pathList()
		if err != nil {
			return nil, err
		}
		q.paths = paths
		q.selectKind = SelectPaths
		if len(paths) == 1 && len(paths[0].Parts) == 1 {
			q.selectKind = SelectEntity
		}
	}

	if err := p.expect("FROM"); err != nil {
		return nil, err
	}
	if err := p.parseRoot(q); err != nil {
		return nil, err
	}
	for {
		j, ok, err := p.parseJoin()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		q.joins = append(q.joins, j)
	}
	if err := p.parseWhere(q); err != nil {
		return nil, err
	}
	if p.accept("ORDER") {
		if err := p.expect("BY"); err != nil {
			return nil, err
		}
		for {
			path, err := p.path()
			if err != nil {
				return nil, err
			}
			item := OrderItem{Path: path}
			if p.accept("DESC") {
				item.Desc = true
			} else {
				p.accept("ASC")
			}
			q.orderBy = append(q.orderBy, item)
			if !p.acceptSymbol(",") {
				break
			}
		}
	}
	return q, nil
}

func (p *parser) pathList() ([]*PathExpr, error) {
	var paths []*PathExpr
	for {
		path, err := p.path()
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
		if !p.acceptSymbol(",") {
			return paths, nil
		}
	}
}

func (p *parser) parseRoot(q *rawQuery) error {
	entity, err := p.ident()
	if err != nil {
		return err
	}
	alias, err := p.alias()
	if err != nil {
		return err
	}
	if alias == "" {
		return p.errorf("alias for %s expected", entity)
	}
	q.entity, q.alias = entity, alias
	return nil
}

func (p *parser) parseJoin() (rawJoin, bool, error) {
	var j rawJoin
	switch {
	case p.accept("LEFT"):
		p.accept("OUTER")
		j.left = true
		if err := p.expect("JOIN"); err != nil {
			return j, false, err
		}
	case p.accept("INNER"):
		if err := p.expect("JOIN"); err != nil {
			return j, false, err
		}
	case p.accept("JOIN"):
	default:
		return j, false, nil
	}
	j.fetch = p.accept("FETCH")
	path, err := p.path()
	if err != nil {
		return j, false, err
	}
	if len(path.Parts) != 2 {
		return j, false, p.errorf("join path alias.relation expected")
	}
	j.path = path
	if j.alias, err = p.alias(); err != nil {
		return j, false, err
	}
	return j, true, nil
}

func (p *parser) parseWhere(q *rawQuery) error {
	if !p.accept("WHERE") {
		return nil
	}
	cond, err := p.parseOr()
	if err != nil {
		return err
	}
	q.where = cond
	return nil
}

func (p *parser) parseUpdate() (*rawQuery, error) {
	q := &rawQuery{kind: UpdateStatement}
	p.next()
	if err := p.parseRoot(q); err != nil {
		return nil, err
	}
	if err := p.expect("SET"); err != nil {
		return nil, err
	}
	for {
		path, err := p.path()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol("="); err != nil {
			return nil, err
		}
		value, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		q.sets = append(q.sets, Assignment{Path: path, Value: value})
		if !p.acceptSymbol(",") {
			break
		}
	}
	return q, p.parseWhere(q)
}

func (p *parser) parseDelete() (*rawQuery, error) {
	q := &rawQuery{kind: DeleteStatement}
	p.next()
	if err := p.expect("FROM"); err != nil {
		return nil, err
	}
	if err := p.parseRoot(q); err != nil {
		return nil, err
	}
	return q, p.parseWhere(q)
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &LogicalExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.accept("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &LogicalExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.accept("NOT") {
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &NotExpr{X: x}, nil
	}
	if p.peek().isSymbol("(") {
		save := p.pos
		p.next()
		cond, err := p.parseOr()
		if err == nil && p.acceptSymbol(")") && !p.continuesOperand() {
			return cond, nil
		}
		// not a parenthesized condition: reparse as an operand
		p.pos = save
	}
	return p.parsePredicate()
}

func (p *parser) continuesOperand() bool {
	t := p.peek()
	if t.kind == tokSymbol {
		return t.text != ")" && t.text != ","
	}
	return t.is("IN") || t.is("LIKE") || t.is("BETWEEN") || t.is("IS") ||
		(t.is("NOT") && (p.toks[p.pos+1].is("IN") || p.toks[p.pos+1].is("LIKE") || p.toks[p.pos+1].is("BETWEEN")))
}

func (p *parser) parsePredicate() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	not := p.accept("NOT")
	t := p.peek()
	switch {
	case t.is("IN"):
		p.next()
		in := &InExpr{Left: left, Not: not}
		if p.peek().kind == tokNamedParam || p.peek().kind == tokPositionalParam {
			x, err := p.parsePrimary()
			if err != nil {
				return nil, err
			}
			in.Param = x.(*ParamExpr)
			return in, nil
		}
		if err := p.expectSymbol("("); err != nil {
			return nil, err
		}
		for {
			item, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			in.Items = append(in.Items, item)
			if !p.acceptSymbol(",") {
				break
			}
		}
		return in, p.expectSymbol(")")
	case t.is("LIKE"):
		p.next()
		pattern, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &LikeExpr{Left: left, Pattern: pattern, Not: not}, nil
	case t.is("BETWEEN"):
		p.next()
		low, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if err := p.expect("AND"); err != nil {
			return nil, err
		}
		high, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &BetweenExpr{Left: left, Low: low, High: high, Not: not}, nil
	case not:
		return nil, p.errorf("IN, LIKE or BETWEEN expected after NOT")
	case t.is("IS"):
		p.next()
		isNot := p.accept("NOT")
		if err := p.expect("NULL"); err != nil {
			return nil, err
		}
		return &NullExpr{Left: left, Not: isNot}, nil
	case t.kind == tokSymbol:
		op := t.text
		switch op {
		case "=", "<>", "<", "<=", ">", ">=":
		case "!=":
			op = "<>"
		default:
			return nil, p.errorf("comparison operator expected")
		}
		p.next()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &CompareExpr{Op: op, Left: left, Right: right}, nil
	default:
		return nil, p.errorf("comparison expected")
	}
}

func (p *parser) parseOperand() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.peek().isSymbol("+") || p.peek().isSymbol("-") {
		op := p.next().text
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &ArithExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek().isSymbol("*") || p.peek().isSymbol("/") {
		op := p.next().text
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = &ArithExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.next()
		return numberLiteral(p, t.text, false)
	case tokString:
		p.next()
		return &LiteralExpr{Value: t.text}, nil
	case tokNamedParam:
		p.next()
		return &ParamExpr{Param: Param{Name: t.text}}, nil
	case tokPositionalParam:
		p.next()
		n, err := strconv.Atoi(t.text)
		if err != nil || n < 1 {
			return nil, p.errorf("invalid positional parameter ?%s", t.text)
		}
		return &ParamExpr{Param: Param{Position: n}}, nil
	case tokSymbol:
		switch t.text {
		case "(":
			p.next()
			x, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			return x, p.expectSymbol(")")
		case "-":
			p.next()
			n := p.peek()
			if n.kind != tokNumber {
				return nil, p.errorf("number expected after '-'")
			}
			p.next()
			return numberLiteral(p, n.text, true)
		}
	case tokIdent:
		switch {
		case t.is("TRUE"):
			p.next()
			return &LiteralExpr{Value: true}, nil
		case t.is("FALSE"):
			p.next()
			return &LiteralExpr{Value: false}, nil
		case t.is("NULL"):
			p.next()
			return &LiteralExpr{Value: nil}, nil
		case functions[strings.ToUpper(t.text)] && p.toks[p.pos+1].isSymbol("("):
			p.next()
			p.next()
			arg, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			if err := p.expectSymbol(")"); err != nil {
				return nil, err
			}
			return &FuncExpr{Name: strings.ToUpper(t.text), Arg: arg}, nil
		}
		return p.path()
	}
	return nil, p.errorf("operand expected")
}

func numberLiteral(p *parser, text string, negative bool) (Expr, error) {
	if negative {
		text = "-" + text
	}
	if strings.Contains(text, ".") {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, p.errorf("invalid number %s", text)
		}
		return &LiteralExpr{Value: f}, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, p.errorf("invalid number %s", text)
	}
	return &LiteralExpr{Value: n}, nil
}
