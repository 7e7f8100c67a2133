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
	"github.com/jhc920403/inflearn-data-jpa/entity"
	"github.com/jhc920403/inflearn-data-jpa/query"
	"github.com/jhc920403/inflearn-data-jpa/session"
)

// TeamRepository is the repository of teams. It declares no query methods.
type TeamRepository struct {
	*Base[entity.Team]
}

func NewTeamRepository(sessions *session.Manager, registry *query.Registry) (*TeamRepository, error) {
	base, err := NewRepository[entity.Team](sessions, registry, entity.TeamEntity, nil)
	if err != nil {
		return nil, err
	}
	return &TeamRepository{Base: base}, nil
}
