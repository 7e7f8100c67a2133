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
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/jhc920403/inflearn-data-jpa/query"
)

func TestNewMemberAndChangeTeam(t *testing.T) {
	teamA := &Team{ID: 1, Name: "teamA"}
	teamB := &Team{ID: 2, Name: "teamB"}

	m := NewMember("member1", 10, teamA)
	require.NotNil(t, m.TeamID)
	assert.Equal(t, int64(1), *m.TeamID)
	assert.Equal(t, []*Member{m}, teamA.Members)

	m.ChangeTeam(teamB)
	assert.Equal(t, int64(2), *m.TeamID)
	assert.Empty(t, teamA.Members)
	assert.Equal(t, []*Member{m}, teamB.Members)
	got, ok := m.Team.Get()
	require.True(t, ok)
	assert.Same(t, teamB, got)

	m.ChangeTeam(nil)
	assert.Nil(t, m.TeamID)
	assert.Nil(t, m.Team)
	assert.Empty(t, teamB.Members)

	solo := NewMember("solo", 0, nil)
	assert.Nil(t, solo.Team)
}

func TestMemberStringAndJSON(t *testing.T) {
	team := &Team{ID: 1, Name: "teamA"}
	m := NewMember("member1", 10, team)
	m.ID = 5
	assert.Equal(t, "Member(id=5, username=member1, age=10)", m.String())
	assert.Equal(t, "Team(id=1, name=teamA)", team.String())

	b, err := json.Marshal(team)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "member1")

	dto := MemberDto{ID: 5, Username: "member1", TeamName: "teamA"}
	assert.Equal(t, "MemberDto(id=5, username=member1, teamName=teamA)", dto.String())
}

func TestSnapshotTracksPersistentState(t *testing.T) {
	team := &Team{ID: 1, Name: "teamA"}
	m := NewMember("member1", 10, nil)
	before := m.Snapshot()
	assert.Equal(t, before, m.Snapshot())

	m.Age = 11
	assert.NotEqual(t, before, m.Snapshot())

	before = m.Snapshot()
	m.ChangeTeam(team)
	assert.NotEqual(t, before, m.Snapshot())

	// a team saved after the change contributes its new identifier
	fresh := NewTeam("fresh")
	m.ChangeTeam(fresh)
	before = m.Snapshot()
	fresh.ID = 9
	assert.NotEqual(t, before, m.Snapshot())
	assert.Equal(t, int64(9), *m.teamID())

	teamBefore := team.Snapshot()
	team.Name = "renamed"
	assert.NotEqual(t, teamBefore, team.Snapshot())
	assert.Equal(t, MemberEntity, m.EntityName())
	assert.Equal(t, TeamEntity, team.EntityName())
}

func TestAuditHook(t *testing.T) {
	sqlDB, err := sql.Open(sqliteshim.ShimName, filepath.Join(t.TempDir(), "entity.db"))
	require.NoError(t, err)
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	defer db.Close()
	ctx := context.Background()
	for _, model := range RegisterModels(nil).Instances() {
		_, err := db.NewCreateTable().Model(model).Exec(ctx)
		require.NoError(t, err)
	}

	team := NewTeam("teamA")
	_, err = db.NewInsert().Model(team).Exec(ctx)
	require.NoError(t, err)
	assert.NotZero(t, team.ID)

	m := NewMember("member1", 10, team)
	_, err = db.NewInsert().Model(m).Exec(ctx)
	require.NoError(t, err)
	assert.False(t, m.CreatedDate.IsZero())
	assert.Equal(t, m.CreatedDate, m.LastModifiedDate)
	created := m.CreatedDate

	m.Age = 20
	_, err = db.NewUpdate().Model(m).WherePK().Exec(ctx)
	require.NoError(t, err)
	assert.Equal(t, created, m.CreatedDate)
	assert.False(t, m.LastModifiedDate.Before(created))

	loaded := new(Member)
	require.NoError(t, db.NewSelect().Model(loaded).Where("member_id = ?", m.ID).Scan(ctx))
	assert.Equal(t, 20, loaded.Age)
	require.NotNil(t, loaded.TeamID)
	assert.Equal(t, team.ID, *loaded.TeamID)
}

func TestRegistryDeclarations(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	d, err := r.NamedQuery(FindByUsernameQuery)
	require.NoError(t, err)
	st, err := query.Compile(d, query.NamedArgs{"username": "AAA"}, query.Options{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT m.member_id, m.username, m.age, m.created_date, m.last_modified_date, m.team_id FROM member AS m WHERE m.username = ?", st.SQL)

	g, err := r.EntityGraph(MemberAllGraph)
	require.NoError(t, err)
	assert.Equal(t, []string{"team"}, g.Paths)

	models := RegisterModels(nil).Models()
	require.Len(t, models, 2)
	assert.IsType(t, (*Team)(nil), models[0].Instance())
}
