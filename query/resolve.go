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
	"strconv"
	"strings"

	"github.com/jhc920403/inflearn-data-jpa/types"
)

type scope struct {
	source  string
	aliases map[string]*EntityMeta
	root    string
	// mutation paths render unqualified and may only touch the root
	mutation bool
}

func (s *scope) errorf(format string, args ...interface{}) error {
	return types.NewError(types.MalformedQueryKind, s.source, format, args...)
}

// resolve binds a parsed query to the metamodel.
func resolve(model *Metamodel, source string, q *rawQuery) (*Descriptor, error) {
	root, ok := model.Entity(q.entity)
	if !ok {
		return nil, types.NewError(types.MalformedQueryKind, source, "unknown entity %s", q.entity)
	}
	s := &scope{
		source:   source,
		aliases:  map[string]*EntityMeta{q.alias: root},
		root:     q.alias,
		mutation: q.kind != SelectStatement,
	}
	d := &Descriptor{
		Source:   source,
		Kind:     q.kind,
		Entity:   root,
		Alias:    q.alias,
		Distinct: q.distinct,
		model:    model,
	}

	for _, rj := range q.joins {
		owner, ok := s.aliases[rj.path.Parts[0]]
		if !ok {
			return nil, s.errorf("unknown alias %s in join", rj.path.Parts[0])
		}
		rel, ok := owner.Relation(rj.path.Parts[1])
		if !ok {
			return nil, s.errorf("%s has no relation %s", owner.Name, rj.path.Parts[1])
		}
		target, _ := model.Entity(rel.Target)
		alias := rj.alias
		if alias == "" {
			alias = uniqueAlias(target.Alias, s.aliases)
		} else if _, taken := s.aliases[alias]; taken {
			return nil, s.errorf("duplicate alias %s", alias)
		}
		s.aliases[alias] = target
		d.Joins = append(d.Joins, &Join{
			Relation: rel,
			Target:   target,
			Owner:    rj.path.Parts[0],
			Alias:    alias,
			Left:     rj.left,
			Fetch:    rj.fetch,
		})
	}

	if q.kind == SelectStatement {
		if err := s.resolveSelection(model, q, d); err != nil {
			return nil, err
		}
	}
	for _, set := range q.sets {
		if err := s.resolvePath(set.Path); err != nil {
			return nil, err
		}
		if set.Path.Column == "" || set.Path.Column == root.ID.Column {
			return nil, s.errorf("cannot assign %s", strings.Join(set.Path.Parts, "."))
		}
		if err := s.resolveExpr(set.Value); err != nil {
			return nil, err
		}
		d.Sets = append(d.Sets, set)
	}
	if err := s.resolveExpr(q.where); err != nil {
		return nil, err
	}
	d.Where = q.where
	for _, item := range q.orderBy {
		if err := s.resolvePath(item.Path); err != nil {
			return nil, err
		}
		d.OrderBy = append(d.OrderBy, item)
	}
	params, err := collectParams(source, d)
	if err != nil {
		return nil, err
	}
	d.Params = params
	return d, nil
}

func (s *scope) resolveSelection(model *Metamodel, q *rawQuery, d *Descriptor) error {
	d.Select.Kind = q.selectKind
	switch q.selectKind {
	case SelectEntity:
		if q.paths[0].Parts[0] != s.root {
			return s.errorf("only the root entity %s can be selected", s.root)
		}
		return nil
	case SelectCount:
		path := q.paths[0]
		if len(path.Parts) == 1 {
			if path.Parts[0] != s.root {
				return s.errorf("count of unknown alias %s", path.Parts[0])
			}
			return nil
		}
		if err := s.resolvePath(path); err != nil {
			return err
		}
		d.Select.Paths = q.paths
		return nil
	case SelectConstructor:
		proj, ok := model.Projection(q.ctorName)
		if !ok {
			return s.errorf("unknown projection %s", q.ctorName)
		}
		if len(proj.Columns) != len(q.paths) {
			return s.errorf("projection %s takes %d values, got %d", proj.Name, len(proj.Columns), len(q.paths))
		}
		d.Select.Projection = proj
	}
	for _, path := range q.paths {
		if err := s.resolvePath(path); err != nil {
			return err
		}
		if path.Column == "" {
			return s.errorf("%s is not a value path", strings.Join(path.Parts, "."))
		}
	}
	d.Select.Paths = q.paths
	return nil
}

// resolvePath fills Alias and Column. alias.attr maps to the attribute
// column; alias.relation and alias.relation.id map to the join column.
func (s *scope) resolvePath(path *PathExpr) error {
	meta, ok := s.aliases[path.Parts[0]]
	if !ok {
		return s.errorf("unknown alias %s", path.Parts[0])
	}
	if s.mutation && path.Parts[0] != s.root {
		return s.errorf("bulk statements can only reference %s", s.root)
	}
	path.Alias = path.Parts[0]
	switch len(path.Parts) {
	case 2:
		if a, ok := meta.Attribute(path.Parts[1]); ok {
			path.Column = a.Column
			return nil
		}
		if rel, ok := meta.Relation(path.Parts[1]); ok {
			path.Column = rel.JoinColumn
			return nil
		}
		return s.errorf("%s has no attribute %s", meta.Name, path.Parts[1])
	case 3:
		if rel, ok := meta.Relation(path.Parts[1]); ok {
			for _, target := range s.aliases {
				if target.Name == rel.Target && strings.EqualFold(target.ID.Name, path.Parts[2]) {
					path.Column = rel.JoinColumn
					return nil
				}
			}
		}
		return s.errorf("path %s requires a join", strings.Join(path.Parts, "."))
	default:
		return s.errorf("invalid path %s", strings.Join(path.Parts, "."))
	}
}

func (s *scope) resolveExpr(e Expr) error {
	var err error
	walk(e, func(x Expr) {
		if err != nil {
			return
		}
		if p, ok := x.(*PathExpr); ok {
			err = s.resolvePath(p)
		}
	})
	return err
}

// collectParams lists the placeholders in order of first appearance.
func collectParams(source string, d *Descriptor) ([]Param, error) {
	var params []Param
	seen := map[Param]bool{}
	var mixed bool
	visit := func(x Expr) {
		pe, ok := x.(*ParamExpr)
		if !ok || seen[pe.Param] {
			return
		}
		if len(params) > 0 && (params[0].Name == "") != (pe.Param.Name == "") {
			mixed = true
		}
		seen[pe.Param] = true
		params = append(params, pe.Param)
	}
	for _, set := range d.Sets {
		walk(set.Value, visit)
	}
	walk(d.Where, visit)
	if mixed {
		return nil, types.NewError(types.MalformedQueryKind, source, "named and positional parameters cannot be mixed")
	}
	return params, nil
}

func uniqueAlias(base string, taken map[string]*EntityMeta) string {
	alias := base
	for i := 1; ; i++ {
		if _, ok := taken[alias]; !ok {
			return alias
		}
		alias = base + strconv.Itoa(i)
	}
}
