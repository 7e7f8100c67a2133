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
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/jhc920403/inflearn-data-jpa/relation"
)

type Member struct {
	bun.BaseModel `bun:"table:member,alias:m"`

	ID       int64  `bun:"member_id,pk,autoincrement" json:"id"`
	Username string `bun:"username" json:"username"`
	Age      int    `bun:"age,notnull" json:"age"`
	TeamID   *int64 `bun:"team_id" json:"teamId,omitempty"`
	// Team is the lazily loaded association behind TeamID.
	Team *relation.Ref[Team] `bun:"-" json:"-"`

	BaseEntity
}

// NewMember creates a member, joining team when it is not nil.
func NewMember(username string, age int, team *Team) *Member {
	m := &Member{Username: username, Age: age}
	if team != nil {
		m.ChangeTeam(team)
	}
	return m
}

// ChangeTeam moves the member to team and keeps both sides of the
// association in sync. A nil team leaves the current one.
func (m *Member) ChangeTeam(team *Team) {
	if m.Team != nil {
		if old, ok := m.Team.Get(); ok && old != nil {
			old.removeMember(m)
		}
	}
	if team == nil {
		m.Team, m.TeamID = nil, nil
		return
	}
	m.Team = relation.Of(team.ID, team)
	m.TeamID = nil
	if team.ID != 0 {
		id := team.ID
		m.TeamID = &id
	}
	team.Members = append(team.Members, m)
}

func (m *Member) EntityName() string { return MemberEntity }

func (m *Member) PrimaryKey() int64 { return m.ID }

type memberState struct {
	Username         string
	Age              int
	TeamID           int64
	CreatedDate      time.Time
	LastModifiedDate time.Time
}

func (m *Member) Snapshot() interface{} {
	s := memberState{
		Username:         m.Username,
		Age:              m.Age,
		CreatedDate:      m.CreatedDate,
		LastModifiedDate: m.LastModifiedDate,
	}
	if id := m.teamID(); id != nil {
		s.TeamID = *id
	}
	return s
}

// teamID prefers the identifier of a resolved team, which may have been
// assigned after ChangeTeam.
func (m *Member) teamID() *int64 {
	if m.Team == nil {
		return m.TeamID
	}
	if t, ok := m.Team.Get(); ok && t != nil && t.ID != 0 {
		id := t.ID
		return &id
	}
	if m.Team.ID() != 0 {
		id := m.Team.ID()
		return &id
	}
	return m.TeamID
}

var _ bun.BeforeAppendModelHook = (*Member)(nil)

func (m *Member) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	m.TeamID = m.teamID()
	return m.BaseEntity.BeforeAppendModel(ctx, query)
}

func (m *Member) String() string {
	return fmt.Sprintf("Member(id=%d, username=%s, age=%d)", m.ID, m.Username, m.Age)
}
