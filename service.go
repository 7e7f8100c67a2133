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

package datajpa

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/jhc920403/inflearn-data-jpa/database"
	"github.com/jhc920403/inflearn-data-jpa/entity"
	"github.com/jhc920403/inflearn-data-jpa/query"
	"github.com/jhc920403/inflearn-data-jpa/repository"
	"github.com/jhc920403/inflearn-data-jpa/session"
)

// Service wires the query registry, the unit-of-work manager and the
// repositories over one database.
type Service struct {
	Registry *query.Registry
	Sessions *session.Manager
	Members  *repository.MemberRepository
	Teams    *repository.TeamRepository

	factory *database.BaseDatabaseFactory
}

// NewService opens the database described by cfg, creating the member and
// team tables when migration on startup is enabled.
func NewService(ctx context.Context, cfg *database.Config) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration cannot be empty")
	}
	factory, err := database.OpenDatabase(ctx, cfg, entity.RegisterModels(nil))
	if err != nil {
		return nil, err
	}
	s, err := NewServiceWithDB(factory.GetDB(), cfg.SessionConfig)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	s.factory = factory
	return s, nil
}

// NewServiceWithDB builds a service over an open database. The caller keeps
// ownership of db.
func NewServiceWithDB(db *bun.DB, cfg database.SessionConfig) (*Service, error) {
	registry, err := entity.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to build query registry: %w", err)
	}
	sessions := session.NewManager(db, cfg, nil)
	teams, err := repository.NewTeamRepository(sessions, registry)
	if err != nil {
		return nil, err
	}
	members, err := repository.NewMemberRepository(sessions, registry, teams)
	if err != nil {
		return nil, err
	}
	return &Service{
		Registry: registry,
		Sessions: sessions,
		Members:  members,
		Teams:    teams,
	}, nil
}

// Transaction runs fn in one unit of work. Repository calls made with the
// context passed to fn join it; the work commits when fn returns nil.
func (s *Service) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.Sessions.Do(ctx, func(ctx context.Context, _ *session.UnitOfWork) error {
		return fn(ctx)
	})
}

// Health reports the state of a database opened by NewService.
func (s *Service) Health(ctx context.Context) *database.HealthStatus {
	if s.factory == nil {
		return &database.HealthStatus{LastError: "database not managed by the service"}
	}
	return s.factory.GetHealthStatus(ctx)
}

// Close closes a database opened by NewService.
func (s *Service) Close() error {
	if s.factory == nil {
		return nil
	}
	return s.factory.Close()
}
