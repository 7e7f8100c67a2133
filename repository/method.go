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

package repository

import (
	"github.com/jhc920403/inflearn-data-jpa/query"
	"github.com/jhc920403/inflearn-data-jpa/types"
)

// Shape is the result form of a repository method.
type Shape int

const (
	ShapeList Shape = iota
	// ShapeSingle requires exactly one row.
	ShapeSingle
	ShapeOptional
	ShapePage
	// ShapeSlice fetches one extra row instead of counting.
	ShapeSlice
	ShapeScalars
	ShapeProjection
	ShapeCount
	ShapeExists
	ShapeModifying
)

func (s Shape) String() string {
	switch s {
	case ShapeList:
		return "list"
	case ShapeSingle:
		return "single"
	case ShapeOptional:
		return "optional"
	case ShapePage:
		return "page"
	case ShapeSlice:
		return "slice"
	case ShapeScalars:
		return "scalars"
	case ShapeProjection:
		return "projection"
	case ShapeCount:
		return "count"
	case ShapeExists:
		return "exists"
	case ShapeModifying:
		return "modifying"
	default:
		return "unknown"
	}
}

// Modifying marks a bulk update or delete.
type Modifying struct {
	// ClearAutomatically clears the unit of work after the statement, so
	// later reads see the updated rows.
	ClearAutomatically bool
	// FlushAutomatically flushes every pending change before the statement.
	// Without it only pending changes of the same entity are flushed.
	FlushAutomatically bool
}

// Method declares one repository query. The query comes from Query text,
// from NamedQuery, or is derived from Name.
type Method struct {
	Name        string
	Query       string
	NamedQuery  string
	EntityGraph string
	GraphPaths  []string
	Shape       Shape
	Lock        types.LockMode
	Hints       query.Hints
	Modifying   *Modifying
}

// Prepared is a validated method with its resolved query.
type Prepared struct {
	Method     Method
	Descriptor *query.Descriptor
	Graph      []string
}

// MethodTable holds the prepared methods of one repository.
type MethodTable struct {
	entity  string
	methods map[string]*Prepared
}

// NewMethodTable resolves and validates every method against entity, so a
// bad declaration fails when the repository is built.
func NewMethodTable(registry *query.Registry, entity string, methods ...Method) (*MethodTable, error) {
	t := &MethodTable{entity: entity, methods: make(map[string]*Prepared, len(methods))}
	for _, m := range methods {
		p, err := prepare(registry, entity, m)
		if err != nil {
			return nil, err
		}
		if _, dup := t.methods[m.Name]; dup {
			return nil, types.NewError(types.MalformedQueryKind, m.Name, "method declared twice")
		}
		t.methods[m.Name] = p
	}
	return t, nil
}

// Get returns the prepared method.
func (t *MethodTable) Get(name string) (*Prepared, error) {
	p, ok := t.methods[name]
	if !ok {
		return nil, types.NewError(types.MalformedQueryKind, name, "no method declared on %s repository", t.entity)
	}
	return p, nil
}

// Len returns the number of declared methods.
func (t *MethodTable) Len() int {
	return len(t.methods)
}

func prepare(registry *query.Registry, entity string, m Method) (*Prepared, error) {
	if m.Name == "" {
		return nil, types.NewError(types.MalformedQueryKind, entity, "method without name")
	}
	var (
		d   *query.Descriptor
		err error
	)
	switch {
	case m.Query != "" && m.NamedQuery != "":
		return nil, types.NewError(types.MalformedQueryKind, m.Name, "query text and named query are exclusive")
	case m.Query != "":
		d, err = registry.Parse(m.Query)
	case m.NamedQuery != "":
		d, err = registry.NamedQuery(m.NamedQuery)
	default:
		d, err = registry.Derive(entity, m.Name)
	}
	if err != nil {
		return nil, err
	}
	if d.Entity.Name != entity {
		return nil, types.NewError(types.MalformedQueryKind, m.Name, "query selects from %s, not %s", d.Entity.Name, entity)
	}
	if err := checkShape(m, d); err != nil {
		return nil, err
	}

	p := &Prepared{Method: m, Descriptor: d}
	if m.EntityGraph != "" {
		g, err := registry.EntityGraph(m.EntityGraph)
		if err != nil {
			return nil, err
		}
		if g.Entity != entity {
			return nil, types.NewError(types.MalformedQueryKind, m.Name, "entity graph %s belongs to %s", g.Name, g.Entity)
		}
		p.Graph = append(p.Graph, g.Paths...)
	}
	if len(m.GraphPaths) > 0 {
		paths, err := registry.GraphPaths(entity, m.GraphPaths)
		if err != nil {
			return nil, err
		}
		p.Graph = append(p.Graph, paths...)
	}
	return p, nil
}

func checkShape(m Method, d *query.Descriptor) error {
	fail := func(format string, args ...interface{}) error {
		return types.NewError(types.MalformedQueryKind, m.Name, format, args...)
	}
	if d.Kind != query.SelectStatement {
		if m.Shape != ShapeModifying || m.Modifying == nil {
			return fail("%s statements must be declared modifying", d.Kind)
		}
		return nil
	}
	if m.Shape == ShapeModifying || m.Modifying != nil {
		return fail("a select cannot be declared modifying")
	}
	entitySelect := d.Select.Kind == query.SelectEntity
	switch m.Shape {
	case ShapeList, ShapeSingle, ShapeOptional, ShapePage, ShapeSlice:
		if !entitySelect {
			return fail("%s results need an entity selection", m.Shape)
		}
	case ShapeScalars:
		if d.Select.Kind != query.SelectPaths || len(d.Select.Paths) != 1 {
			return fail("scalar results need exactly one selected value")
		}
	case ShapeProjection:
		if d.Select.Kind != query.SelectConstructor {
			return fail("projection results need a constructor expression")
		}
	case ShapeCount:
		if d.Select.Kind != query.SelectCount && !entitySelect {
			return fail("count results need a count or entity selection")
		}
	case ShapeExists:
		if d.Select.Kind != query.SelectExists && !entitySelect {
			return fail("exists results need an exists or entity selection")
		}
	default:
		return fail("unknown result shape %d", int(m.Shape))
	}
	if m.Lock == types.LockPessimisticWrite && !entitySelect {
		return fail("only entity selections can be locked")
	}
	if (m.EntityGraph != "" || len(m.GraphPaths) > 0) && !entitySelect {
		return fail("entity graphs apply to entity selections only")
	}
	return nil
}
