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
	"sync"

	"github.com/jhc920403/inflearn-data-jpa/types"
)

// EntityGraph names the relations fetched together with an entity.
type EntityGraph struct {
	Name   string
	Entity string
	Paths  []string
}

// Registry holds the metamodel, the named queries and entity graphs, and a
// cache of derived descriptors. Everything registered is validated up front.
type Registry struct {
	model *Metamodel

	mu      sync.RWMutex
	named   map[string]*Descriptor
	graphs  map[string]*EntityGraph
	derived map[string]*Descriptor
}

// NewRegistry creates an empty registry over model.
func NewRegistry(model *Metamodel) *Registry {
	return &Registry{
		model:   model,
		named:   make(map[string]*Descriptor),
		graphs:  make(map[string]*EntityGraph),
		derived: make(map[string]*Descriptor),
	}
}

// Metamodel returns the mappings the registry resolves against.
func (r *Registry) Metamodel() *Metamodel {
	return r.model
}

// Parse resolves a query text.
func (r *Registry) Parse(text string) (*Descriptor, error) {
	return r.parse(text, text)
}

func (r *Registry) parse(source, text string) (*Descriptor, error) {
	raw, err := parse(source, text)
	if err != nil {
		return nil, err
	}
	return resolve(r.model, source, raw)
}

// RegisterNamedQuery parses text and stores it under name
// ("Member.findByUsername").
func (r *Registry) RegisterNamedQuery(name, text string) error {
	d, err := r.parse(name, text)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.named[name]; dup {
		return types.NewError(types.MalformedQueryKind, name, "named query already registered")
	}
	r.named[name] = d
	return nil
}

// NamedQuery returns a registered named query.
func (r *Registry) NamedQuery(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.named[name]
	if !ok {
		return nil, types.NewError(types.MalformedQueryKind, name, "no named query")
	}
	return d, nil
}

// RegisterEntityGraph declares a graph; every path must be a relation of
// entity.
func (r *Registry) RegisterEntityGraph(name, entity string, paths ...string) error {
	meta, ok := r.model.Entity(entity)
	if !ok {
		return types.NewError(types.MalformedQueryKind, name, "unknown entity %s", entity)
	}
	for _, p := range paths {
		if _, ok := meta.Relation(p); !ok {
			return types.NewError(types.MalformedQueryKind, name, "%s is not a relation of %s", p, entity)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.graphs[name]; dup {
		return types.NewError(types.MalformedQueryKind, name, "entity graph already registered")
	}
	r.graphs[name] = &EntityGraph{Name: name, Entity: entity, Paths: paths}
	return nil
}

// EntityGraph returns a registered graph.
func (r *Registry) EntityGraph(name string) (*EntityGraph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.graphs[name]
	if !ok {
		return nil, types.NewError(types.MalformedQueryKind, name, "no entity graph")
	}
	return g, nil
}

// Derive builds the descriptor of a method name on entity
// ("findByUsernameAndAgeGreaterThan"). Results are cached.
func (r *Registry) Derive(entity, method string) (*Descriptor, error) {
	key := entity + "." + method
	r.mu.RLock()
	d, ok := r.derived[key]
	r.mu.RUnlock()
	if ok {
		return d, nil
	}
	meta, ok := r.model.Entity(entity)
	if !ok {
		return nil, types.NewError(types.MalformedQueryKind, key, "unknown entity %s", entity)
	}
	d, err := derive(r.model, meta, method)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.derived[key] = d
	r.mu.Unlock()
	return d, nil
}

// GraphPaths validates ad-hoc graph paths against entity.
func (r *Registry) GraphPaths(entity string, paths []string) ([]string, error) {
	meta, ok := r.model.Entity(entity)
	if !ok {
		return nil, types.NewError(types.MalformedQueryKind, entity, "unknown entity")
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		rel, ok := meta.Relation(strings.TrimSpace(p))
		if !ok {
			return nil, types.NewError(types.MalformedQueryKind, entity, "%s is not a relation", p)
		}
		out = append(out, rel.Name)
	}
	return out, nil
}
