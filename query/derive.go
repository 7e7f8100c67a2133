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
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-openapi/inflect"
	"github.com/jhc920403/inflearn-data-jpa/types"
)

var derivePrefixes = []string{"find", "read", "get", "query", "search", "stream", "count", "exists", "delete", "remove"}

var limitPattern = regexp.MustCompile(`(First|Top)(\d*)`)

// keywords ordered so that longer suffixes win.
var keywords = []struct {
	suffix string
	op     string
}{
	{"IsNotNull", "notnull"}, {"NotNull", "notnull"}, {"IsNull", "null"}, {"Null", "null"},
	{"IsNotIn", "notin"}, {"NotIn", "notin"}, {"IsIn", "in"}, {"In", "in"},
	{"IsNotLike", "notlike"}, {"NotLike", "notlike"}, {"IsLike", "like"}, {"Like", "like"},
	{"IsStartingWith", "starting"}, {"StartingWith", "starting"}, {"StartsWith", "starting"},
	{"IsEndingWith", "ending"}, {"EndingWith", "ending"}, {"EndsWith", "ending"},
	{"IsNotContaining", "notcontaining"}, {"NotContaining", "notcontaining"},
	{"IsContaining", "containing"}, {"Containing", "containing"}, {"Contains", "containing"},
	{"IsBetween", "between"}, {"Between", "between"},
	{"IsLessThanEqual", "<="}, {"LessThanEqual", "<="}, {"IsLessThan", "<"}, {"LessThan", "<"},
	{"IsGreaterThanEqual", ">="}, {"GreaterThanEqual", ">="}, {"IsGreaterThan", ">"}, {"GreaterThan", ">"},
	{"IsAfter", ">"}, {"After", ">"}, {"IsBefore", "<"}, {"Before", "<"},
	{"IsTrue", "true"}, {"True", "true"}, {"IsFalse", "false"}, {"False", "false"},
	{"IsNot", "<>"}, {"Not", "<>"}, {"Is", "="}, {"Equals", "="},
}

type deriver struct {
	model    *Metamodel
	d        *Descriptor
	aliases  map[string]*EntityMeta
	position int
}

// derive builds a descriptor from a repository method name such as
// findByUsernameAndAgeGreaterThan or findTop3HelloBy.
func derive(model *Metamodel, entity *EntityMeta, method string) (*Descriptor, error) {
	prefix := ""
	for _, p := range derivePrefixes {
		if strings.HasPrefix(method, p) && wordBoundary(method, len(p)) {
			prefix = p
			break
		}
	}
	if prefix == "" {
		return nil, types.NewError(types.MalformedQueryKind, method, "method name must start with one of %v", derivePrefixes)
	}

	drv := &deriver{
		model: model,
		d: &Descriptor{
			Source: method,
			Kind:   SelectStatement,
			Entity: entity,
			Alias:  entity.Alias,
			model:  model,
		},
		aliases: map[string]*EntityMeta{entity.Alias: entity},
	}
	d := drv.d
	switch prefix {
	case "count":
		d.Select.Kind = SelectCount
	case "exists":
		d.Select.Kind = SelectExists
	case "delete", "remove":
		d.Kind = DeleteStatement
	}

	rest := method[len(prefix):]
	subject, predicate := rest, ""
	if i := indexWord(rest, "By"); i >= 0 {
		subject, predicate = rest[:i], rest[i+2:]
	}
	if strings.Contains(subject, "Distinct") {
		d.Distinct = true
	}
	if m := limitPattern.FindStringSubmatch(subject); m != nil {
		d.Limit = 1
		if m[2] != "" {
			n, err := strconv.Atoi(m[2])
			if err != nil || n < 1 {
				return nil, types.NewError(types.MalformedQueryKind, method, "invalid result limit %s", m[0])
			}
			d.Limit = n
		}
	}

	if i := lastIndexWord(predicate, "OrderBy"); i >= 0 {
		if err := drv.orderBy(predicate[i+len("OrderBy"):]); err != nil {
			return nil, err
		}
		predicate = predicate[:i]
	}

	allIgnoreCase := false
	for _, suffix := range []string{"AllIgnoreCase", "AllIgnoringCase"} {
		if strings.HasSuffix(predicate, suffix) {
			predicate = strings.TrimSuffix(predicate, suffix)
			allIgnoreCase = true
		}
	}

	if predicate != "" {
		var where Expr
		for _, orPart := range splitWord(predicate, "Or") {
			var and Expr
			for _, part := range splitWord(orPart, "And") {
				cond, err := drv.condition(part, allIgnoreCase)
				if err != nil {
					return nil, err
				}
				and = combine("AND", and, cond)
			}
			where = combine("OR", where, and)
		}
		d.Where = where
	}

	if d.Kind == DeleteStatement && len(d.Joins) > 0 {
		return nil, types.NewError(types.MalformedQueryKind, method, "derived delete cannot traverse relations")
	}
	for i := 1; i <= drv.position; i++ {
		d.Params = append(d.Params, Param{Position: i})
	}
	return d, nil
}

func combine(op string, left, right Expr) Expr {
	if left == nil {
		return right
	}
	return &LogicalExpr{Op: op, Left: left, Right: right}
}

func (drv *deriver) next() *ParamExpr {
	drv.position++
	return &ParamExpr{Param: Param{Position: drv.position}}
}

func (drv *deriver) condition(part string, ignoreCase bool) (Expr, error) {
	method := drv.d.Source
	for _, suffix := range []string{"IgnoreCase", "IgnoringCase"} {
		if strings.HasSuffix(part, suffix) {
			part = strings.TrimSuffix(part, suffix)
			ignoreCase = true
		}
	}
	op, property := "=", part
	for _, kw := range keywords {
		if strings.HasSuffix(part, kw.suffix) && len(part) > len(kw.suffix) {
			op, property = kw.op, strings.TrimSuffix(part, kw.suffix)
			break
		}
	}
	path, err := drv.property(property)
	if err != nil {
		return nil, err
	}

	var cond Expr
	switch op {
	case "null":
		cond = &NullExpr{Left: path}
	case "notnull":
		cond = &NullExpr{Left: path, Not: true}
	case "in":
		cond = &InExpr{Left: path, Param: drv.next()}
	case "notin":
		cond = &InExpr{Left: path, Param: drv.next(), Not: true}
	case "like":
		cond = &LikeExpr{Left: path, Pattern: drv.next()}
	case "notlike":
		cond = &LikeExpr{Left: path, Pattern: drv.next(), Not: true}
	case "starting":
		cond = &LikeExpr{Left: path, Pattern: drv.next(), Wrap: LikeStarting}
	case "ending":
		cond = &LikeExpr{Left: path, Pattern: drv.next(), Wrap: LikeEnding}
	case "containing":
		cond = &LikeExpr{Left: path, Pattern: drv.next(), Wrap: LikeContaining}
	case "notcontaining":
		cond = &LikeExpr{Left: path, Pattern: drv.next(), Wrap: LikeContaining, Not: true}
	case "between":
		cond = &BetweenExpr{Left: path, Low: drv.next(), High: drv.next()}
	case "true":
		cond = &CompareExpr{Op: "=", Left: path, Right: &LiteralExpr{Value: true}}
	case "false":
		cond = &CompareExpr{Op: "=", Left: path, Right: &LiteralExpr{Value: false}}
	default:
		cond = &CompareExpr{Op: op, Left: path, Right: drv.next()}
	}

	if ignoreCase {
		switch c := cond.(type) {
		case *CompareExpr:
			c.Left, c.Right = upper(c.Left), upper(c.Right)
		case *LikeExpr:
			c.Left, c.Pattern = upper(c.Left), upper(c.Pattern)
		default:
			return nil, types.NewError(types.MalformedQueryKind, method, "IgnoreCase is not supported for %s", part)
		}
	}
	return cond, nil
}

func upper(e Expr) Expr {
	return &FuncExpr{Name: "UPPER", Arg: e}
}

// property resolves a capitalized property word against the root entity,
// joining a relation for nested properties (TeamName -> team.name).
func (drv *deriver) property(word string) (*PathExpr, error) {
	d := drv.d
	root := d.Entity
	name := inflect.CamelizeDownFirst(word)
	if a, ok := root.Attribute(word); ok {
		return &PathExpr{Parts: []string{d.Alias, a.Name}, Alias: d.Alias, Column: a.Column}, nil
	}
	if rel, ok := root.Relation(word); ok {
		return &PathExpr{Parts: []string{d.Alias, rel.Name}, Alias: d.Alias, Column: rel.JoinColumn}, nil
	}
	for _, rel := range root.Relations {
		if len(word) <= len(rel.Name) || !strings.EqualFold(word[:len(rel.Name)], rel.Name) {
			continue
		}
		nested := word[len(rel.Name):]
		target, _ := drv.model.Entity(rel.Target)
		if strings.EqualFold(target.ID.Name, nested) {
			return &PathExpr{Parts: []string{d.Alias, rel.Name, target.ID.Name}, Alias: d.Alias, Column: rel.JoinColumn}, nil
		}
		a, ok := target.Attribute(nested)
		if !ok {
			continue
		}
		join := drv.join(rel, target)
		return &PathExpr{Parts: []string{join.Alias, a.Name}, Alias: join.Alias, Column: a.Column}, nil
	}
	return nil, types.NewError(types.MalformedQueryKind, d.Source, "no property %s found on %s", name, root.Name)
}

func (drv *deriver) join(rel RelationMeta, target *EntityMeta) *Join {
	for _, j := range drv.d.Joins {
		if j.Owner == drv.d.Alias && j.Relation.Name == rel.Name {
			return j
		}
	}
	alias := uniqueAlias(target.Alias, drv.aliases)
	drv.aliases[alias] = target
	j := &Join{Relation: rel, Target: target, Owner: drv.d.Alias, Alias: alias}
	drv.d.Joins = append(drv.d.Joins, j)
	return j
}

func (drv *deriver) orderBy(s string) error {
	if s == "" {
		return types.NewError(types.MalformedQueryKind, drv.d.Source, "OrderBy without property")
	}
	for s != "" {
		cut, desc, dirLen := len(s), false, 0
		for i := 1; i < len(s); i++ {
			if strings.HasPrefix(s[i:], "Asc") && wordBoundary(s, i+3) {
				cut, dirLen = i, 3
				break
			}
			if strings.HasPrefix(s[i:], "Desc") && wordBoundary(s, i+4) {
				cut, desc, dirLen = i, true, 4
				break
			}
		}
		path, err := drv.property(s[:cut])
		if err != nil {
			return err
		}
		drv.d.OrderBy = append(drv.d.OrderBy, OrderItem{Path: path, Desc: desc})
		s = s[min(len(s), cut+dirLen):]
	}
	return nil
}

// wordBoundary reports whether s[i] starts a new camel-case word.
func wordBoundary(s string, i int) bool {
	return i >= len(s) || unicode.IsUpper(rune(s[i]))
}

// indexWord finds the first whole camel-case occurrence of word.
func indexWord(s, word string) int {
	for i := 0; i+len(word) <= len(s); i++ {
		if s[i:i+len(word)] == word && wordBoundary(s, i+len(word)) {
			return i
		}
	}
	return -1
}

func lastIndexWord(s, word string) int {
	for i := len(s) - len(word); i >= 0; i-- {
		if s[i:i+len(word)] == word && wordBoundary(s, i+len(word)) {
			return i
		}
	}
	return -1
}

// splitWord splits on whole camel-case occurrences of sep.
func splitWord(s, sep string) []string {
	var parts []string
	start := 0
	for i := 1; i+len(sep) < len(s); i++ {
		if s[i:i+len(sep)] == sep && wordBoundary(s, i+len(sep)) {
			parts = append(parts, s[start:i])
			start = i + len(sep)
			i = start
		}
	}
	return append(parts, s[start:])
}
