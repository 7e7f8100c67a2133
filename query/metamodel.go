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
	"strings"

	"github.com/go-openapi/inflect"
)

// RelationKind is the cardinality of a relation.
type RelationKind int

const (
	ManyToOne RelationKind = iota
)

// Attribute maps an entity property to its column.
type Attribute struct {
	Name   string
	Column string
}

// RelationMeta describes a to-one association owned by the entity through a
// join column.
type RelationMeta struct {
	Name         string
	Target       string
	JoinColumn   string
	TargetColumn string
	Kind         RelationKind
}

// EntityMeta is the mapping of one entity type. Columns left empty default
// to the underscored attribute name.
type EntityMeta struct {
	Name       string
	Table      string
	Alias      string
	ID         Attribute
	Attributes []Attribute
	Relations  []RelationMeta
}

// Attribute looks up an attribute (the identifier included) by name. The
// match is case-insensitive so derived method words resolve directly.
func (e *EntityMeta) Attribute(name string) (Attribute, bool) {
	if strings.EqualFold(e.ID.Name, name) {
		return e.ID, true
	}
	for _, a := range e.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	for _, a := range e.Attributes {
		if strings.EqualFold(a.Name, name) {
			return a, true
		}
	}
	return Attribute{}, false
}

// Relation looks up a relation by name.
func (e *EntityMeta) Relation(name string) (RelationMeta, bool) {
	for _, r := range e.Relations {
		if strings.EqualFold(r.Name, name) {
			return r, true
		}
	}
	return RelationMeta{}, false
}

// Columns returns the selected columns of the entity: identifier,
// attributes, then join columns.
func (e *EntityMeta) Columns() []string {
	cols := make([]string, 0, 1+len(e.Attributes)+len(e.Relations))
	cols = append(cols, e.ID.Column)
	for _, a := range e.Attributes {
		cols = append(cols, a.Column)
	}
	for _, r := range e.Relations {
		cols = append(cols, r.JoinColumn)
	}
	return cols
}

// Column maps a property name to its column.
func (e *EntityMeta) Column(property string) (string, bool) {
	if a, ok := e.Attribute(property); ok {
		return a.Column, true
	}
	return "", false
}

func (e *EntityMeta) normalize() error {
	if e.Name == "" {
		return fmt.Errorf("entity without name")
	}
	if e.Table == "" {
		e.Table = inflect.Underscore(e.Name)
	}
	if e.Alias == "" {
		e.Alias = strings.ToLower(e.Name[:1])
	}
	if e.ID.Name == "" {
		e.ID.Name = "id"
	}
	if e.ID.Column == "" {
		e.ID.Column = inflect.Underscore(e.ID.Name)
	}
	seen := map[string]bool{strings.ToLower(e.ID.Name): true}
	for i := range e.Attributes {
		a := &e.Attributes[i]
		if seen[strings.ToLower(a.Name)] {
			return fmt.Errorf("entity %s: duplicate attribute %s", e.Name, a.Name)
		}
		seen[strings.ToLower(a.Name)] = true
		if a.Column == "" {
			a.Column = inflect.Underscore(a.Name)
		}
	}
	for i := range e.Relations {
		r := &e.Relations[i]
		if seen[strings.ToLower(r.Name)] {
			return fmt.Errorf("entity %s: duplicate property %s", e.Name, r.Name)
		}
		seen[strings.ToLower(r.Name)] = true
		if r.JoinColumn == "" {
			r.JoinColumn = inflect.Underscore(r.Name) + "_id"
		}
	}
	return nil
}

// Projection is a constructor expression target: the selected values are
// returned under Columns, in constructor argument order.
type Projection struct {
	Name    string
	Columns []string
}

// Metamodel holds the validated entity and projection mappings.
type Metamodel struct {
	entities    map[string]*EntityMeta
	projections map[string]*Projection
}

// NewMetamodel validates the mappings: unique names, known relation targets.
// Relation target columns default to the target identifier column.
func NewMetamodel(entities []*EntityMeta, projections ...*Projection) (*Metamodel, error) {
	m := &Metamodel{
		entities:    make(map[string]*EntityMeta, len(entities)),
		projections: make(map[string]*Projection, len(projections)),
	}
	for _, e := range entities {
		if err := e.normalize(); err != nil {
			return nil, err
		}
		if _, dup := m.entities[e.Name]; dup {
			return nil, fmt.Errorf("duplicate entity %s", e.Name)
		}
		m.entities[e.Name] = e
	}
	for _, e := range entities {
		for i := range e.Relations {
			r := &e.Relations[i]
			target, ok := m.entities[r.Target]
			if !ok {
				return nil, fmt.Errorf("entity %s: relation %s targets unknown entity %s", e.Name, r.Name, r.Target)
			}
			if r.TargetColumn == "" {
				r.TargetColumn = target.ID.Column
			}
		}
	}
	for _, p := range projections {
		if p.Name == "" || len(p.Columns) == 0 {
			return nil, fmt.Errorf("projection %q needs a name and columns", p.Name)
		}
		if _, dup := m.projections[p.Name]; dup {
			return nil, fmt.Errorf("duplicate projection %s", p.Name)
		}
		m.projections[p.Name] = p
	}
	return m, nil
}

// Entity returns the mapping of the named entity.
func (m *Metamodel) Entity(name string) (*EntityMeta, bool) {
	e, ok := m.entities[name]
	return e, ok
}

// Projection returns a projection by simple or qualified name
// ("MemberDto" or "study.datajpa.dto.MemberDto").
func (m *Metamodel) Projection(name string) (*Projection, bool) {
	if p, ok := m.projections[name]; ok {
		return p, true
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		p, ok := m.projections[name[i+1:]]
		return p, ok
	}
	return nil, false
}
