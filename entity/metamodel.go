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

package entity

import (
	"github.com/jhc920403/inflearn-data-jpa/database"
	"github.com/jhc920403/inflearn-data-jpa/query"
)

const (
	MemberEntity = "Member"
	TeamEntity   = "Team"
)

// Named declarations.
const (
	FindByUsernameQuery = "Member.findByUsername"
	MemberAllGraph      = "Member.all"
)

// MemberMeta maps Member. Property names are those used in query text.
func MemberMeta() *query.EntityMeta {
	return &query.EntityMeta{
		Name:  MemberEntity,
		Table: "member",
		Alias: "m",
		ID:    query.Attribute{Name: "id", Column: "member_id"},
		Attributes: []query.Attribute{
			{Name: "username"},
			{Name: "age"},
			{Name: "createdDate"},
			{Name: "lastModifiedDate"},
		},
		Relations: []query.RelationMeta{
			{Name: "team", Target: TeamEntity, JoinColumn: "team_id", Kind: query.ManyToOne},
		},
	}
}

func TeamMeta() *query.EntityMeta {
	return &query.EntityMeta{
		Name:       TeamEntity,
		Table:      "team",
		Alias:      "t",
		ID:         query.Attribute{Name: "id", Column: "team_id"},
		Attributes: []query.Attribute{{Name: "name"}},
	}
}

func MemberDtoProjection() *query.Projection {
	return &query.Projection{Name: "MemberDto", Columns: []string{"id", "username", "team_name"}}
}

// NewMetamodel returns the mappings of all entities.
func NewMetamodel() (*query.Metamodel, error) {
	return query.NewMetamodel([]*query.EntityMeta{MemberMeta(), TeamMeta()}, MemberDtoProjection())
}

// RegisterQueries declares the named queries and entity graphs.
func RegisterQueries(r *query.Registry) error {
	if err := r.RegisterNamedQuery(FindByUsernameQuery, "select m from Member m where m.username = :username"); err != nil {
		return err
	}
	return r.RegisterEntityGraph(MemberAllGraph, MemberEntity, "team")
}

// NewRegistry builds the metamodel and registers every declaration.
func NewRegistry() (*query.Registry, error) {
	model, err := NewMetamodel()
	if err != nil {
		return nil, err
	}
	r := query.NewRegistry(model)
	if err := RegisterQueries(r); err != nil {
		return nil, err
	}
	return r, nil
}

// RegisterModels adds the tables to registry; teams are created first.
func RegisterModels(registry database.ModelRegistry) database.ModelRegistry {
	if registry == nil {
		registry = database.NewModelRegistry()
	}
	registry.Register(database.NewModelAdapter((*Team)(nil), 1))
	registry.Register(database.NewModelAdapter((*Member)(nil), 2))
	return registry
}
