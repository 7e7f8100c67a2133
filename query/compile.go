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
	"reflect"
	"strings"

	"github.com/jhc920403/inflearn-data-jpa/types"
)

// LockSyntax is how the store spells a pessimistic-write lock.
type LockSyntax int

const (
	// LockUnsupported means rows cannot be locked by the statement itself.
	LockUnsupported LockSyntax = iota
	LockForUpdate
	// LockForUpdateOf restricts the lock to the root table, required when
	// the root is outer joined.
	LockForUpdateOf
)

// Options are the per-call parts of a statement.
type Options struct {
	Sort       []types.Order
	Limit      int
	Offset     int
	Count      bool
	Lock       types.LockMode
	LockSyntax LockSyntax
	Graph      []string
}

// Statement is an executable SQL statement with ? placeholders.
type Statement struct {
	SQL       string
	Args      []interface{}
	Kind      StatementKind
	Selection SelectionKind
	Fetch     []string
}

// FetchColumn is the result column name of a fetched relation column.
func FetchColumn(relation, column string) string {
	return relation + "_" + column
}

type compiler struct {
	d         *Descriptor
	b         Binding
	sb        strings.Builder
	args      []interface{}
	qualified bool
	wrap      LikeWrap
	err       error
}

// Compile renders d with the bound values. Binding problems are reported as
// UnboundParameterKind, unknown sort keys or graph paths as MalformedQueryKind.
func Compile(d *Descriptor, b Binding, opts Options) (*Statement, error) {
	if b == nil {
		b = Args(nil)
	}
	if err := b.check(d.Source, d.Params); err != nil {
		return nil, err
	}
	c := &compiler{d: d, b: b, qualified: d.Kind == SelectStatement}
	st := &Statement{Kind: d.Kind, Selection: d.Select.Kind}
	var err error
	switch d.Kind {
	case UpdateStatement:
		c.update()
	case DeleteStatement:
		c.delete()
	default:
		err = c.selectStmt(st, opts)
	}
	if err != nil {
		return nil, err
	}
	if c.err != nil {
		return nil, c.err
	}
	st.SQL = c.sb.String()
	st.Args = c.args
	return st, nil
}

func (c *compiler) write(parts ...string) {
	for _, p := range parts {
		c.sb.WriteString(p)
	}
}

func (c *compiler) update() {
	c.write("UPDATE ", c.d.Entity.Table, " SET ")
	for i, set := range c.d.Sets {
		if i > 0 {
			c.write(", ")
		}
		c.write(set.Path.Column, " = ", c.expr(set.Value, 0))
	}
	c.where()
}

func (c *compiler) delete() {
	c.write("DELETE FROM ", c.d.Entity.Table)
	c.where()
}

func (c *compiler) where() {
	if c.d.Where != nil {
		c.write(" WHERE ", c.expr(c.d.Where, 0))
	}
}

func (c *compiler) selectStmt(st *Statement, opts Options) error {
	d := c.d
	joins, err := c.joinsWithGraph(opts.Graph)
	if err != nil {
		return err
	}
	count := opts.Count || d.Select.Kind == SelectCount
	if opts.Count {
		st.Selection = SelectCount
	}

	c.write("SELECT ")
	switch {
	case count:
		target := "*"
		if d.Select.Kind == SelectCount && len(d.Select.Paths) == 1 {
			target = c.path(d.Select.Paths[0])
		} else if d.Distinct {
			target = d.Alias + "." + d.Entity.ID.Column
		}
		if d.Distinct {
			target = "DISTINCT " + target
		}
		c.write("count(", target, ")")
	case d.Select.Kind == SelectExists:
		c.write("1")
	default:
		if d.Distinct {
			c.write("DISTINCT ")
		}
		c.write(strings.Join(c.selectList(joins, st), ", "))
	}

	c.write(" FROM ", d.Entity.Table, " AS ", d.Alias)
	for _, j := range joins {
		if j.Left {
			c.write(" LEFT JOIN ")
		} else {
			c.write(" INNER JOIN ")
		}
		c.write(j.Target.Table, " AS ", j.Alias, " ON ",
			j.Alias, ".", j.Relation.TargetColumn, " = ", j.Owner, ".", j.Relation.JoinColumn)
	}
	c.where()
	if count {
		return nil
	}

	orders, err := c.orders(joins, opts.Sort)
	if err != nil {
		return err
	}
	if len(orders) > 0 {
		c.write(" ORDER BY ", strings.Join(orders, ", "))
	}

	limit := d.Limit
	if opts.Limit > 0 && (limit == 0 || opts.Limit < limit) {
		limit = opts.Limit
	}
	if d.Select.Kind == SelectExists {
		limit = 1
	}
	if limit > 0 {
		c.write(fmt.Sprintf(" LIMIT %d", limit))
		if opts.Offset > 0 {
			c.write(fmt.Sprintf(" OFFSET %d", opts.Offset))
		}
	}

	if opts.Lock == types.LockPessimisticWrite {
		switch opts.LockSyntax {
		case LockForUpdate:
			c.write(" FOR UPDATE")
		case LockForUpdateOf:
			c.write(" FOR UPDATE OF ", d.Alias)
		}
	}
	return nil
}

func (c *compiler) selectList(joins []*Join, st *Statement) []string {
	d := c.d
	var cols []string
	switch d.Select.Kind {
	case SelectEntity:
		for _, col := range d.Entity.Columns() {
			cols = append(cols, d.Alias+"."+col)
		}
		for _, j := range joins {
			if !j.Fetch || j.Owner != d.Alias {
				continue
			}
			st.Fetch = append(st.Fetch, j.Relation.Name)
			for _, col := range j.Target.Columns() {
				cols = append(cols, j.Alias+"."+col+" AS "+FetchColumn(j.Relation.Name, col))
			}
		}
	case SelectConstructor:
		for i, p := range d.Select.Paths {
			cols = append(cols, c.path(p)+" AS "+d.Select.Projection.Columns[i])
		}
	default:
		seen := map[string]bool{}
		for _, p := range d.Select.Paths {
			name := p.Column
			if seen[name] {
				name = p.Alias + "_" + p.Column
			}
			seen[name] = true
			cols = append(cols, c.path(p)+" AS "+name)
		}
	}
	return cols
}

// joinsWithGraph copies the declared joins and turns on fetching for the
// graph's relations, adding left joins where the query has none.
func (c *compiler) joinsWithGraph(graph []string) ([]*Join, error) {
	d := c.d
	joins := make([]*Join, 0, len(d.Joins)+len(graph))
	used := map[string]*EntityMeta{d.Alias: d.Entity}
	for _, j := range d.Joins {
		cp := *j
		joins = append(joins, &cp)
		used[j.Alias] = j.Target
	}
	if d.Select.Kind != SelectEntity {
		return joins, nil
	}
	for _, name := range graph {
		rel, ok := d.Entity.Relation(name)
		if !ok {
			return nil, types.NewError(types.MalformedQueryKind, d.Source, "entity graph path %s is not a relation of %s", name, d.Entity.Name)
		}
		found := false
		for _, j := range joins {
			if j.Owner == d.Alias && j.Relation.Name == rel.Name {
				j.Fetch = true
				found = true
			}
		}
		if found {
			continue
		}
		target, ok := d.model.Entity(rel.Target)
		if !ok {
			return nil, types.NewError(types.MalformedQueryKind, d.Source, "unknown entity %s", rel.Target)
		}
		alias := uniqueAlias(target.Alias, used)
		used[alias] = target
		joins = append(joins, &Join{Relation: rel, Target: target, Owner: d.Alias, Alias: alias, Left: true, Fetch: true})
	}
	return joins, nil
}

func (c *compiler) orders(joins []*Join, sort []types.Order) ([]string, error) {
	d := c.d
	var out []string
	for _, item := range d.OrderBy {
		out = append(out, orderString(c.path(item.Path), item.Desc))
	}
	for _, o := range sort {
		alias, property := d.Alias, o.Property
		meta := d.Entity
		if i := strings.Index(o.Property, "."); i >= 0 {
			alias, property = o.Property[:i], o.Property[i+1:]
			meta = nil
			if alias == d.Alias {
				meta = d.Entity
			}
			for _, j := range joins {
				if j.Alias == alias || (j.Owner == d.Alias && strings.EqualFold(j.Relation.Name, alias)) {
					alias, meta = j.Alias, j.Target
					break
				}
			}
		}
		if meta == nil {
			return nil, types.NewError(types.MalformedQueryKind, d.Source, "unknown alias in sort %s", o.Property)
		}
		col, ok := meta.Column(property)
		if !ok {
			return nil, types.NewError(types.MalformedQueryKind, d.Source, "unknown sort property %s", o.Property)
		}
		out = append(out, orderString(alias+"."+col, o.Desc))
	}
	return out, nil
}

func orderString(col string, desc bool) string {
	if desc {
		return col + " DESC"
	}
	return col + " ASC"
}

func (c *compiler) path(p *PathExpr) string {
	if c.qualified {
		return p.Alias + "." + p.Column
	}
	return p.Column
}

func (c *compiler) bind(v interface{}) string {
	c.args = append(c.args, v)
	return "?"
}

func precedence(e Expr) int {
	switch x := e.(type) {
	case *LogicalExpr:
		if x.Op == "OR" {
			return 1
		}
		return 2
	case *NotExpr:
		return 3
	case *ArithExpr:
		if x.Op == "+" || x.Op == "-" {
			return 5
		}
		return 6
	case *CompareExpr, *LikeExpr, *InExpr, *BetweenExpr, *NullExpr:
		return 4
	default:
		return 7
	}
}

// expr renders e, parenthesized when it binds looser than its parent.
func (c *compiler) expr(e Expr, parent int) string {
	prec := precedence(e)
	var s string
	switch x := e.(type) {
	case *LogicalExpr:
		s = c.expr(x.Left, prec) + " " + x.Op + " " + c.expr(x.Right, prec)
	case *NotExpr:
		s = "NOT (" + c.expr(x.X, 0) + ")"
	case *CompareExpr:
		s = c.expr(x.Left, prec) + " " + x.Op + " " + c.expr(x.Right, prec)
	case *ArithExpr:
		// right operand of - and / keeps its parentheses
		s = c.expr(x.Left, prec) + " " + x.Op + " " + c.expr(x.Right, prec+1)
	case *FuncExpr:
		s = x.Name + "(" + c.expr(x.Arg, 0) + ")"
	case *PathExpr:
		s = c.path(x)
	case *LiteralExpr:
		if x.Value == nil {
			s = "NULL"
		} else {
			s = c.bind(x.Value)
		}
	case *ParamExpr:
		s = c.bind(c.wrapValue(c.b.value(x.Param)))
	case *NullExpr:
		s = c.expr(x.Left, prec) + " IS NULL"
		if x.Not {
			s = c.expr(x.Left, prec) + " IS NOT NULL"
		}
	case *LikeExpr:
		left := c.expr(x.Left, prec)
		c.wrap = x.Wrap
		pattern := c.expr(x.Pattern, prec)
		c.wrap = LikeAsIs
		op := " LIKE "
		if x.Not {
			op = " NOT LIKE "
		}
		s = left + op + pattern
		if x.Wrap != LikeAsIs {
			s += " ESCAPE '" + likeEscape + "'"
		}
	case *BetweenExpr:
		op := " BETWEEN "
		if x.Not {
			op = " NOT BETWEEN "
		}
		s = c.expr(x.Left, prec) + op + c.expr(x.Low, prec) + " AND " + c.expr(x.High, prec)
	case *InExpr:
		s = c.in(x)
	default:
		c.fail(types.NewError(types.MalformedQueryKind, c.d.Source, "unsupported expression %T", e))
	}
	if prec < parent {
		return "(" + s + ")"
	}
	return s
}

func (c *compiler) in(x *InExpr) string {
	var items []string
	mark := len(c.args)
	left := c.expr(x.Left, 4)
	if x.Param != nil {
		v := reflect.ValueOf(c.b.value(x.Param.Param))
		if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
			c.fail(types.NewError(types.UnboundParameterKind, c.d.Source, "parameter %s expects a collection, got %T", x.Param.Param, c.b.value(x.Param.Param)))
			return ""
		}
		if v.Len() == 0 {
			// an empty collection matches nothing
			c.args = c.args[:mark]
			if x.Not {
				return "1 = 1"
			}
			return "1 = 0"
		}
		for i := 0; i < v.Len(); i++ {
			items = append(items, c.bind(v.Index(i).Interface()))
		}
	} else {
		for _, item := range x.Items {
			items = append(items, c.expr(item, 0))
		}
	}
	op := " IN ("
	if x.Not {
		op = " NOT IN ("
	}
	return left + op + strings.Join(items, ", ") + ")"
}

// likeEscape is the escape character of wrapped LIKE patterns. A backslash
// would need doubling on MySQL.
const likeEscape = "!"

var likeEscaper = strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")

// wrapValue turns the value of a StartingWith, EndingWith or Containing
// parameter into a pattern matching it literally.
func (c *compiler) wrapValue(v interface{}) interface{} {
	if c.wrap == LikeAsIs {
		return v
	}
	s, ok := v.(string)
	if !ok {
		s = fmt.Sprint(v)
	}
	s = likeEscaper.Replace(s)
	switch c.wrap {
	case LikeStarting:
		return s + "%"
	case LikeEnding:
		return "%" + s
	default:
		return "%" + s + "%"
	}
}

func (c *compiler) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}
