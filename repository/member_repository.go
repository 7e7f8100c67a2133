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
	"context"
	"slices"
	"time"

	"github.com/uptrace/bun"

	"github.com/jhc920403/inflearn-data-jpa/entity"
	"github.com/jhc920403/inflearn-data-jpa/query"
	"github.com/jhc920403/inflearn-data-jpa/relation"
	"github.com/jhc920403/inflearn-data-jpa/session"
	"github.com/jhc920403/inflearn-data-jpa/types"
)

// Member repository methods.
const (
	findByUsernameAndAgeGreaterThan = "findByUsernameAndAgeGreaterThan"
	findTop3HelloBy                 = "findTop3HelloBy"
	findByUsername                  = "findByUsername"
	findUser                        = "findUser"
	findUsernameList                = "findUsernameList"
	findByMemberDto                 = "findByMemberDto"
	findByNames                     = "findByNames"
	findMemberByUsername            = "findMemberByUsername"
	findListByUsername              = "findListByUsername"
	findMemberOptionalByUsername    = "findMemberOptionalByUsername"
	findByAge                       = "findByAge"
	findSliceByAge                  = "findSliceByAge"
	bulkAgePlus                     = "bulkAgePlus"
	bulkAgePlusKeepContext          = "bulkAgePlusKeepContext"
	findMemberFetchJoin             = "findMemberFetchJoin"
	findAll                         = "findAll"
	findMemberEntityGraph           = "findMemberEntityGraph"
	findEntityGraphByUsername       = "findEntityGraphByUsername"
	findReadOnlyByUsername          = "findReadOnlyByUsername"
	findLockByUsername              = "findLockByUsername"
	countByAge                      = "countByAge"
	existsByUsername                = "existsByUsername"
	deleteByUsername                = "deleteByUsername"
)

const bulkAgePlusQuery = "update Member m set m.age = m.age + 1 where m.age >= :age"

func memberMethods() []Method {
	return []Method{
		{Name: findByUsernameAndAgeGreaterThan, Shape: ShapeList},
		{Name: findTop3HelloBy, Shape: ShapeList},
		{Name: findByUsername, NamedQuery: entity.FindByUsernameQuery, Shape: ShapeList},
		{Name: findUser, Query: "select m from Member m where m.username = :username and m.age = :age", Shape: ShapeList},
		{Name: findUsernameList, Query: "select m.username from Member m", Shape: ShapeScalars},
		{
			Name:  findByMemberDto,
			Query: "select new study.datajpa.dto.MemberDto(m.id, m.username, t.name) from Member m join m.team t",
			Shape: ShapeProjection,
		},
		{Name: findByNames, Query: "select m from Member m where m.username in :names", Shape: ShapeList},
		{Name: findMemberByUsername, Shape: ShapeSingle},
		{Name: findListByUsername, Shape: ShapeList},
		{Name: findMemberOptionalByUsername, Shape: ShapeOptional},
		{Name: findByAge, Shape: ShapePage},
		{Name: findSliceByAge, Shape: ShapeSlice},
		{Name: bulkAgePlus, Query: bulkAgePlusQuery, Shape: ShapeModifying, Modifying: &Modifying{ClearAutomatically: true}},
		{Name: bulkAgePlusKeepContext, Query: bulkAgePlusQuery, Shape: ShapeModifying, Modifying: &Modifying{}},
		{Name: findMemberFetchJoin, Query: "select m from Member m left join fetch m.team", Shape: ShapeList},
		{Name: findAll, Shape: ShapeList, GraphPaths: []string{"team"}},
		{Name: findMemberEntityGraph, Query: "select m from Member m", Shape: ShapeList, GraphPaths: []string{"team"}},
		{Name: findEntityGraphByUsername, Shape: ShapeList, EntityGraph: entity.MemberAllGraph},
		{Name: findReadOnlyByUsername, Shape: ShapeSingle, Hints: query.Hints{ReadOnly: true}},
		{Name: findLockByUsername, Shape: ShapeList, Lock: types.LockPessimisticWrite},
		{Name: countByAge, Shape: ShapeCount},
		{Name: existsByUsername, Shape: ShapeExists},
		{Name: deleteByUsername, Shape: ShapeModifying, Modifying: &Modifying{}},
	}
}

// MemberRepository is the repository of members. Loaded members carry a
// team reference: resolved when the team was fetched with them or is
// already managed, otherwise resolvable while the unit of work is open.
type MemberRepository struct {
	*Base[entity.Member]
	teams *TeamRepository
}

func NewMemberRepository(sessions *session.Manager, registry *query.Registry, teams *TeamRepository) (*MemberRepository, error) {
	r := &MemberRepository{teams: teams}
	base, err := NewRepository[entity.Member](sessions, registry, entity.MemberEntity, memberMethods(),
		WithMapper(scanMembers),
		WithBinder(r.bindTeam),
	)
	if err != nil {
		return nil, err
	}
	r.Base = base
	return r, nil
}

// memberRow is one row of a member selection, with the columns of a
// fetched team when there is one.
type memberRow struct {
	ID               int64     `bun:"member_id"`
	Username         string    `bun:"username"`
	Age              int       `bun:"age"`
	CreatedDate      time.Time `bun:"created_date"`
	LastModifiedDate time.Time `bun:"last_modified_date"`
	TeamID           *int64    `bun:"team_id"`
	FetchedTeamID    *int64    `bun:"team_team_id"`
	FetchedTeamName  *string   `bun:"team_name"`
}

func (row *memberRow) member() *entity.Member {
	return &entity.Member{
		ID:       row.ID,
		Username: row.Username,
		Age:      row.Age,
		TeamID:   row.TeamID,
		BaseEntity: entity.BaseEntity{
			CreatedDate:      row.CreatedDate,
			LastModifiedDate: row.LastModifiedDate,
		},
	}
}

func scanMembers(ctx context.Context, db bun.IDB, st *query.Statement) ([]*entity.Member, []Fetched, error) {
	rows := make([]memberRow, 0)
	if err := db.NewRaw(st.SQL, st.Args...).Scan(ctx, &rows); err != nil {
		return nil, nil, err
	}
	fetchTeam := slices.Contains(st.Fetch, "team")
	members := make([]*entity.Member, len(rows))
	fetched := make([]Fetched, len(rows))
	for i := range rows {
		members[i] = rows[i].member()
		if fetchTeam && rows[i].FetchedTeamID != nil {
			team := &entity.Team{ID: *rows[i].FetchedTeamID}
			if rows[i].FetchedTeamName != nil {
				team.Name = *rows[i].FetchedTeamName
			}
			fetched[i] = Fetched{"team": team}
		}
	}
	return members, fetched, nil
}

// bindTeam wires the team reference of a managed member. A team read along
// with the member is attached to uow (an already managed team wins).
func (r *MemberRepository) bindTeam(ctx context.Context, uow *session.UnitOfWork, m *entity.Member, fetched Fetched) {
	if t, ok := fetched["team"].(*entity.Team); ok {
		team := uow.Attach(t, false).(*entity.Team)
		switch {
		case m.Team == nil:
			m.Team = relation.Of(team.ID, team)
		case m.Team.ID() == team.ID:
			m.Team.Fill(team)
		}
		if !slices.Contains(team.Members, m) {
			team.Members = append(team.Members, m)
		}
		return
	}
	if m.Team != nil || m.TeamID == nil {
		return
	}
	id := *m.TeamID
	if managed, ok := uow.Lookup(entity.TeamEntity, id); ok {
		m.Team = relation.Of(id, managed.(*entity.Team))
		return
	}
	m.Team = relation.Lazy(id, uow, func(ctx context.Context, id int64) (*entity.Team, error) {
		return r.teams.findByID(ctx, uow, id)
	})
}

func (r *MemberRepository) FindByUsernameAndAgeGreaterThan(ctx context.Context, username string, age int) ([]*entity.Member, error) {
	return r.QueryList(ctx, findByUsernameAndAgeGreaterThan, query.Args{username, age})
}

func (r *MemberRepository) FindTop3HelloBy(ctx context.Context) ([]*entity.Member, error) {
	return r.QueryList(ctx, findTop3HelloBy, nil)
}

// FindByUsername runs the named query Member.findByUsername.
func (r *MemberRepository) FindByUsername(ctx context.Context, username string) ([]*entity.Member, error) {
	return r.QueryList(ctx, findByUsername, query.NamedArgs{"username": username})
}

func (r *MemberRepository) FindUser(ctx context.Context, username string, age int) ([]*entity.Member, error) {
	return r.QueryList(ctx, findUser, query.NamedArgs{"username": username, "age": age})
}

func (r *MemberRepository) FindUsernameList(ctx context.Context) ([]string, error) {
	return QueryScalars[string](ctx, r.Base, findUsernameList, nil)
}

// FindByMemberDto projects members of a team into MemberDto values.
// Members without a team are not returned.
func (r *MemberRepository) FindByMemberDto(ctx context.Context) ([]*entity.MemberDto, error) {
	return QueryProjection[entity.MemberDto](ctx, r.Base, findByMemberDto, nil)
}

func (r *MemberRepository) FindByNames(ctx context.Context, names []string) ([]*entity.Member, error) {
	return r.QueryList(ctx, findByNames, query.NamedArgs{"names": names})
}

// FindMemberByUsername fails with NotFoundKind when there is no such member
// and NonUniqueResultKind when there are several.
func (r *MemberRepository) FindMemberByUsername(ctx context.Context, username string) (*entity.Member, error) {
	return r.QuerySingle(ctx, findMemberByUsername, query.Args{username})
}

func (r *MemberRepository) FindListByUsername(ctx context.Context, username string) ([]*entity.Member, error) {
	return r.QueryList(ctx, findListByUsername, query.Args{username})
}

func (r *MemberRepository) FindMemberOptionalByUsername(ctx context.Context, username string) (types.Optional[entity.Member], error) {
	return r.QueryOptional(ctx, findMemberOptionalByUsername, query.Args{username})
}

func (r *MemberRepository) FindByAge(ctx context.Context, age int, page *types.PageRequest) (*types.Page[entity.Member], error) {
	return r.QueryPage(ctx, findByAge, query.Args{age}, page)
}

func (r *MemberRepository) FindSliceByAge(ctx context.Context, age int, page *types.PageRequest) (*types.Slice[entity.Member], error) {
	return r.QuerySlice(ctx, findSliceByAge, query.Args{age}, page)
}

// BulkAgePlus increments the age of every member at least age years old
// and clears the unit of work, so later reads see the new ages.
func (r *MemberRepository) BulkAgePlus(ctx context.Context, age int) (int, error) {
	return r.Modify(ctx, bulkAgePlus, query.NamedArgs{"age": age})
}

// BulkAgePlusKeepContext is BulkAgePlus without the clear: members already
// loaded keep their old ages.
func (r *MemberRepository) BulkAgePlusKeepContext(ctx context.Context, age int) (int, error) {
	return r.Modify(ctx, bulkAgePlusKeepContext, query.NamedArgs{"age": age})
}

func (r *MemberRepository) FindMemberFetchJoin(ctx context.Context) ([]*entity.Member, error) {
	return r.QueryList(ctx, findMemberFetchJoin, nil)
}

// FindAll loads every member with its team.
func (r *MemberRepository) FindAll(ctx context.Context) ([]*entity.Member, error) {
	return r.QueryList(ctx, findAll, nil)
}

func (r *MemberRepository) FindMemberEntityGraph(ctx context.Context) ([]*entity.Member, error) {
	return r.QueryList(ctx, findMemberEntityGraph, nil)
}

func (r *MemberRepository) FindEntityGraphByUsername(ctx context.Context, username string) ([]*entity.Member, error) {
	return r.QueryList(ctx, findEntityGraphByUsername, query.Args{username})
}

// FindReadOnlyByUsername returns an untracked member: changes to it are not
// written back.
func (r *MemberRepository) FindReadOnlyByUsername(ctx context.Context, username string) (*entity.Member, error) {
	return r.QuerySingle(ctx, findReadOnlyByUsername, query.Args{username})
}

// FindLockByUsername locks the selected members until the unit of work
// ends. It waits at most the configured lock timeout.
func (r *MemberRepository) FindLockByUsername(ctx context.Context, username string) ([]*entity.Member, error) {
	return r.QueryList(ctx, findLockByUsername, query.Args{username})
}

func (r *MemberRepository) CountByAge(ctx context.Context, age int) (int, error) {
	return r.QueryCount(ctx, countByAge, query.Args{age})
}

func (r *MemberRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.QueryExists(ctx, existsByUsername, query.Args{username})
}

// DeleteByUsername deletes in bulk and returns the number of members
// removed. Loaded members are left in the unit of work.
func (r *MemberRepository) DeleteByUsername(ctx context.Context, username string) (int, error) {
	return r.Modify(ctx, deleteByUsername, query.Args{username})
}

// FindMemberCustom is a hand-written query on the bun builder.
func (r *MemberRepository) FindMemberCustom(ctx context.Context) ([]*entity.Member, error) {
	var out []*entity.Member
	err := r.within(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		if err := uow.Flush(ctx); err != nil {
			return err
		}
		recs := make([]*entity.Member, 0)
		if err := uow.Tx().NewSelect().Model(&recs).OrderExpr("? ASC", r.pk()).Scan(ctx); err != nil {
			return session.TranslateError("FindMemberCustom", err)
		}
		out = r.manage(ctx, uow, recs, nil, false)
		return nil
	})
	return out, err
}
