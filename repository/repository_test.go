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
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"
	"golang.org/x/sync/errgroup"

	"github.com/jhc920403/inflearn-data-jpa/database"
	"github.com/jhc920403/inflearn-data-jpa/entity"
	"github.com/jhc920403/inflearn-data-jpa/relation"
	"github.com/jhc920403/inflearn-data-jpa/session"
	"github.com/jhc920403/inflearn-data-jpa/types"
)

type testEnv struct {
	db       *bun.DB
	sessions *session.Manager
	members  *MemberRepository
	teams    *TeamRepository
	log      *bytes.Buffer
}

func newTestEnv(t *testing.T, cfg database.SessionConfig) *testEnv {
	t.Helper()
	ctx := context.Background()
	sqlDB, err := sql.Open(sqliteshim.ShimName, filepath.Join(t.TempDir(), "repository.db"))
	require.NoError(t, err)
	db := bun.NewDB(sqlDB, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrationManager(db, entity.RegisterModels(nil), database.NopLogger{}).RunMigrations(ctx))
	log := new(bytes.Buffer)
	db.AddQueryHook(database.NewQueryHook(log))

	return newEnvWithDB(t, db, cfg, log)
}

func newEnvWithDB(t *testing.T, db *bun.DB, cfg database.SessionConfig, log *bytes.Buffer) *testEnv {
	t.Helper()
	registry, err := entity.NewRegistry()
	require.NoError(t, err)
	sessions := session.NewManager(db, cfg, database.NopLogger{})
	teams, err := NewTeamRepository(sessions, registry)
	require.NoError(t, err)
	members, err := NewMemberRepository(sessions, registry, teams)
	require.NoError(t, err)
	return &testEnv{db: db, sessions: sessions, members: members, teams: teams, log: log}
}

func (e *testEnv) team(t *testing.T, name string) *entity.Team {
	t.Helper()
	team, err := e.teams.Save(context.Background(), entity.NewTeam(name))
	require.NoError(t, err)
	return team
}

func (e *testEnv) member(t *testing.T, username string, age int, team *entity.Team) *entity.Member {
	t.Helper()
	m, err := e.members.Save(context.Background(), entity.NewMember(username, age, team))
	require.NoError(t, err)
	return m
}

// age reads the stored age, bypassing every unit of work.
func (e *testEnv) age(t *testing.T, id int64) int {
	t.Helper()
	var age int
	require.NoError(t, e.db.NewSelect().Table("member").Column("age").Where("member_id = ?", id).Scan(context.Background(), &age))
	return age
}

func usernames(members []*entity.Member) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.Username
	}
	return out
}

func TestCrud(t *testing.T) {
	env := newTestEnv(t, database.SessionConfig{})
	ctx := context.Background()

	m := env.member(t, "memberA", 10, nil)
	require.NotZero(t, m.ID)
	assert.False(t, m.CreatedDate.IsZero())

	found, err := env.members.FindByID(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, found.IsPresent())
	got, _ := found.Get()
	assert.Equal(t, "memberA", got.Username)

	missing, err := env.members.FindByID(ctx, m.ID+100)
	require.NoError(t, err)
	assert.False(t, missing.IsPresent())
	_, err = env.members.GetByID(ctx, m.ID+100)
	assert.True(t, types.IsKind(err, types.NotFoundKind))

	env.member(t, "memberB", 20, nil)
	n, err := env.members.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	exists, err := env.members.ExistsByID(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, env.members.Delete(ctx, m))
	err = env.members.DeleteByID(ctx, m.ID)
	assert.True(t, types.IsKind(err, types.NotFoundKind))

	n, err = env.members.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSaveMergesDetached(t *testing.T) {
	env := newTestEnv(t, database.SessionConfig{})
	ctx := context.Background()
	saved := env.member(t, "memberA", 10, nil)
	created := saved.CreatedDate
	time.Sleep(20 * time.Millisecond)

	detached := &entity.Member{ID: saved.ID, Username: "memberB", Age: 11}
	merged, err := env.members.Save(ctx, detached)
	require.NoError(t, err)
	assert.NotSame(t, detached, merged)
	assert.True(t, created.Equal(merged.CreatedDate), "merged copy created %s, want %s", merged.CreatedDate, created)

	detached.Age = 50
	got, err := env.members.GetByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "memberB", got.Username)
	assert.Equal(t, 11, got.Age)
	assert.True(t, created.Equal(got.CreatedDate), "stored created %s, want %s", got.CreatedDate, created)
	assert.True(t, got.LastModifiedDate.After(created))

	err = env.sessions.Do(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		m, err := env.members.GetByID(ctx, saved.ID)
		if err != nil {
			return err
		}
		m.CreatedDate = created.Add(time.Hour)
		m.Age = 12
		return nil
	})
	require.NoError(t, err)
	got, err = env.members.GetByID(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, got.Age)
	assert.True(t, created.Equal(got.CreatedDate))
}

func TestDirtyCheckingAndAutoFlush(t *testing.T) {
	env := newTestEnv(t, database.SessionConfig{})
	ctx := context.Background()
	m := env.member(t, "memberA", 10, nil)

	err := env.sessions.Do(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		loaded, err := env.members.FindMemberByUsername(ctx, "memberA")
		if err != nil {
			return err
		}
		again, err := env.members.GetByID(ctx, m.ID)
		if err != nil {
			return err
		}
		assert.Same(t, loaded, again)

		loaded.Age = 33
		n, err := env.members.CountByAge(ctx, 33)
		if err != nil {
			return err
		}
		assert.Equal(t, 1, n)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 33, env.age(t, m.ID))
}

func TestDerivedAndDeclaredQueries(t *testing.T) {
	env := newTestEnv(t, database.SessionConfig{})
	ctx := context.Background()
	env.member(t, "AAA", 10, nil)
	env.member(t, "AAA", 20, nil)
	env.member(t, "BBB", 30, nil)

	list, err := env.members.FindByUsernameAndAgeGreaterThan(ctx, "AAA", 15)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 20, list[0].Age)

	list, err = env.members.FindByUsername(ctx, "AAA")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = env.members.FindUser(ctx, "AAA", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 10, list[0].Age)

	list, err = env.members.FindByNames(ctx, []string{"AAA", "BBB"})
	require.NoError(t, err)
	assert.Len(t, list, 3)

	list, err = env.members.FindByNames(ctx, []string{})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = env.members.FindListByUsername(ctx, "CCC")
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = env.members.FindTop3HelloBy(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	names, err := env.members.FindUsernameList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "AAA", "BBB"}, names)

	exists, err := env.members.ExistsByUsername(ctx, "BBB")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = env.members.ExistsByUsername(ctx, "CCC")
	require.NoError(t, err)
	assert.False(t, exists)

	n, err := env.members.CountByAge(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = env.members.DeleteByUsername(ctx, "AAA")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = env.members.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSingleResults(t *testing.T) {
	env := newTestEnv(t, database.SessionConfig{})
	ctx := context.Background()
	env.member(t, "AAA", 10, nil)
	env.member(t, "BBB", 20, nil)
	env.member(t, "BBB", 30, nil)

	m, err := env.members.FindMemberByUsername(ctx, "AAA")
	require.NoError(t, err)
	assert.Equal(t, 10, m.Age)

	_, err = env.members.FindMemberByUsername(ctx, "CCC")
	assert.True(t, types.IsKind(err, types.NotFoundKind))
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = env.members.FindMemberByUsername(ctx, "BBB")
	assert.True(t, types.IsKind(err, types.NonUniqueResultKind))

	opt, err := env.members.FindMemberOptionalByUsername(ctx, "CCC")
	require.NoError(t, err)
	assert.False(t, opt.IsPresent())

	opt, err = env.members.FindMemberOptionalByUsername(ctx, "AAA")
	require.NoError(t, err)
	assert.True(t, opt.IsPresent())

	_, err = env.members.FindMemberOptionalByUsername(ctx, "BBB")
	assert.ErrorIs(t, err, types.ErrNonUniqueResult)
}

func TestPaging(t *testing.T) {
	env := newTestEnv(t, database.SessionConfig{})
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		env.member(t, fmt.Sprintf("member%d", i), 10, nil)
	}
	env.member(t, "member6", 11, nil)

	page, err := env.members.FindByAge(ctx, 10, types.NewPageRequest(1, 3, []string{"username DESC"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"member5", "member4", "member3"}, usernames(page.Content))
	assert.Equal(t, 5, page.TotalElements)
	assert.Equal(t, 2, page.TotalPages())
	assert.True(t, page.IsFirst())
	assert.True(t, page.HasNext())

	page, err = env.members.FindByAge(ctx, 10, types.NewPageRequest(2, 3, []string{"username DESC"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"member2", "member1"}, usernames(page.Content))
	assert.True(t, page.IsLast())

	env.log.Reset()
	page, err = env.members.FindByAge(ctx, 99, types.NewDefaultPageRequest(1, 3))
	require.NoError(t, err)
	assert.Zero(t, page.TotalElements)
	assert.Empty(t, page.Content)
	assert.Equal(t, 1, strings.Count(env.log.String(), "SELECT"))

	_, err = env.members.FindByAge(ctx, 10, types.NewPageRequest(1, 3, []string{"nope DESC"}))
	assert.True(t, types.IsKind(err, types.MalformedQueryKind))

	_, err = env.members.FindByAge(ctx, 10, nil)
	assert.True(t, types.IsKind(err, types.MalformedQueryKind))
	_, err = env.members.FindSliceByAge(ctx, 10, nil)
	assert.True(t, types.IsKind(err, types.MalformedQueryKind))
	_, err = env.members.FindAllPage(ctx, nil)
	assert.True(t, types.IsKind(err, types.MalformedQueryKind))
}

func TestSliceSkipsCount(t *testing.T) {
	env := newTestEnv(t, database.SessionConfig{})
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		env.member(t, fmt.Sprintf("member%d", i), 10, nil)
	}

	env.log.Reset()
	slice, err := env.members.FindSliceByAge(ctx, 10, types.NewPageRequest(1, 3, []string{"username"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"member1", "member2", "member3"}, usernames(slice.Content))
	assert.True(t, slice.HasNext())
	assert.NotContains(t, env.log.String(), "count(")
	assert.Contains(t, env.log.String(), "LIMIT 4")

	slice, err = env.members.FindSliceByAge(ctx, 10, types.NewPageRequest(2, 3, []string{"username"}))
	require.NoError(t, err)
	assert.Len(t, slice.Content, 2)
	assert.True(t, slice.IsLast())
}

func TestBulkAgePlus(t *testing.T) {
	env := newTestEnv(t, database.SessionConfig{})
	ctx := context.Background()
	for i, age := range []int{10, 19, 20, 21, 40} {
		env.member(t, fmt.Sprintf("member%d", i+1), age, nil)
	}

	err := env.sessions.Do(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		loaded, err := env.members.FindMemberByUsername(ctx, "member5")
		require.NoError(t, err)

		n, err := env.members.BulkAgePlusKeepContext(ctx, 20)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		stale, err := env.members.FindMemberByUsername(ctx, "member5")
		require.NoError(t, err)
		assert.Same(t, loaded, stale)
		assert.Equal(t, 40, stale.Age)

		n, err = env.members.BulkAgePlus(ctx, 20)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Zero(t, uow.Size())
		fresh, err := env.members.FindMemberByUsername(ctx, "member5")
		require.NoError(t, err)
		assert.NotSame(t, loaded, fresh)
		assert.Equal(t, 42, fresh.Age)
		return nil
	})
	require.NoError(t, err)
}

func TestLazyTeam(t *testing.T) {
	env := newTestEnv(t, database.SessionConfig{})
	ctx := context.Background()
	teamA := env.team(t, "teamA")
	env.member(t, "member1", 10, teamA)
	env.member(t, "member2", 20, teamA)
	env.member(t, "member3", 30, nil)

	err := env.sessions.Do(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		m, err := env.members.FindMemberByUsername(ctx, "member1")
		require.NoError(t, err)
		require.NotNil(t, m.Team)
		assert.Equal(t, relation.Unresolved, m.Team.State())
		assert.Equal(t, teamA.ID, m.Team.ID())

		team, err := m.Team.Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, "teamA", team.Name)
		assert.Equal(t, relation.Resolved, m.Team.State())

		other, err := env.members.FindMemberByUsername(ctx, "member2")
		require.NoError(t, err)
		got, ok := other.Team.Get()
		require.True(t, ok)
		assert.Same(t, team, got)
		return nil
	})
	require.NoError(t, err)

	detached, err := env.members.FindMemberByUsername(ctx, "member1")
	require.NoError(t, err)
	_, err = detached.Team.Resolve(ctx)
	assert.True(t, types.IsKind(err, types.DetachedAccessKind))
	assert.Equal(t, relation.Unresolved, detached.Team.State())

	none, err := env.members.FindMemberByUsername(ctx, "member3")
	require.NoError(t, err)
	assert.Nil(t, none.Team)
}

func TestFetchJoinAndEntityGraph(t *testing.T) {
	env := newTestEnv(t, database.SessionConfig{})
	ctx := context.Background()
	teamA := env.team(t, "teamA")
	teamB := env.team(t, "teamB")
	env.member(t, "member1", 10, teamA)
	env.member(t, "member2", 20, teamA)
	env.member(t, "member3", 30, teamB)
	env.member(t, "member4", 40, nil)

	queries := map[string]func(ctx context.Context) ([]*entity.Member, error){
		"fetch join":   env.members.FindMemberFetchJoin,
		"find all":     env.members.FindAll,
		"entity graph": env.members.FindMemberEntityGraph,
	}
	for name, find := range queries {
		t.Run(name, func(t *testing.T) {
			err := env.sessions.Do(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
				list, err := find(ctx)
				require.NoError(t, err)
				require.Len(t, list, 4)
				teams := map[string]*entity.Team{}
				for _, m := range list {
					if m.Username == "member4" {
						assert.Nil(t, m.Team)
						continue
					}
					team, ok := m.Team.Get()
					require.True(t, ok, m.Username)
					if seen, dup := teams[team.Name]; dup {
						assert.Same(t, seen, team)
					}
					teams[team.Name] = team
				}
				assert.Len(t, teams["teamA"].Members, 2)
				return nil
			})
			require.NoError(t, err)
		})
	}

	list, err := env.members.FindEntityGraphByUsername(ctx, "member3")
	require.NoError(t, err)
	require.Len(t, list, 1)
	team, ok := list[0].Team.Get()
	require.True(t, ok)
	assert.Equal(t, "teamB", team.Name)
}

func TestMemberDto(t *testing.T) {
	env := newTestEnv(t, database.SessionConfig{})
	ctx := context.Background()
	teamA := env.team(t, "teamA")
	m := env.member(t, "AAA", 10, teamA)
	env.member(t, "BBB", 20, nil)

	dtos, err := env.members.FindByMemberDto(ctx)
	require.NoError(t, err)
	require.Len(t, dtos, 1)
	assert.Equal(t, entity.MemberDto{ID: m.ID, Username: "AAA", TeamName: "teamA"}, *dtos[0])
}

func TestFindMemberCustom(t *testing.T) {
	env := newTestEnv(t, database.SessionConfig{})
	team := env.team(t, "teamA")
	env.member(t, "AAA", 10, team)
	env.member(t, "BBB", 20, nil)

	list, err := env.members.FindMemberCustom(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "BBB"}, usernames(list))
	assert.Equal(t, relation.Unresolved, list[0].Team.State())
}

func TestReadOnlyHint(t *testing.T) {
	ctx := context.Background()

	t.Run("ignore", func(t *testing.T) {
		env := newTestEnv(t, database.SessionConfig{})
		m := env.member(t, "member1", 10, nil)
		err := env.sessions.Do(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
			loaded, err := env.members.FindReadOnlyByUsername(ctx, "member1")
			if err != nil {
				return err
			}
			loaded.Age = 99
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 10, env.age(t, m.ID))
	})

	t.Run("reject", func(t *testing.T) {
		env := newTestEnv(t, database.SessionConfig{ReadOnlyPolicy: "reject"})
		m := env.member(t, "member1", 10, nil)
		err := env.sessions.Do(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
			loaded, err := env.members.FindReadOnlyByUsername(ctx, "member1")
			if err != nil {
				return err
			}
			loaded.Age = 99
			return nil
		})
		assert.True(t, types.IsKind(err, types.ReadOnlyViolationKind))
		assert.Equal(t, 10, env.age(t, m.ID))
	})
}

func TestPessimisticLock(t *testing.T) {
	env := newTestEnv(t, database.SessionConfig{LockTimeout: 100 * time.Millisecond})
	ctx := context.Background()
	env.member(t, "member1", 10, nil)

	first, err := env.sessions.Begin(ctx)
	require.NoError(t, err)
	defer first.Close()
	second, err := env.sessions.Begin(ctx)
	require.NoError(t, err)
	defer second.Close()

	list, err := env.members.FindLockByUsername(session.WithUnitOfWork(ctx, first), "member1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, []string{"member"}, first.Locks())

	_, err = env.members.FindLockByUsername(session.WithUnitOfWork(ctx, second), "member1")
	assert.True(t, types.IsKind(err, types.LockTimeoutKind))
	assert.True(t, types.KindOf(err).Retryable())

	require.NoError(t, first.Close())
	list, err = env.members.FindLockByUsername(session.WithUnitOfWork(ctx, second), "member1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPessimisticLockWaitsForRelease(t *testing.T) {
	env := newTestEnv(t, database.SessionConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	env.member(t, "member1", 10, nil)

	first, err := env.sessions.Begin(ctx)
	require.NoError(t, err)
	defer first.Close()
	_, err = env.members.FindLockByUsername(session.WithUnitOfWork(ctx, first), "member1")
	require.NoError(t, err)

	second, err := env.sessions.Begin(ctx)
	require.NoError(t, err)
	defer second.Close()

	acquired := make(chan time.Time, 1)
	var g errgroup.Group
	g.Go(func() error {
		list, err := env.members.FindLockByUsername(session.WithUnitOfWork(ctx, second), "member1")
		if err != nil {
			return err
		}
		if len(list) != 1 {
			return fmt.Errorf("locked %d members, want 1", len(list))
		}
		acquired <- time.Now()
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("second unit of work acquired the lock while the first held it")
	default:
	}
	holder, ok := env.sessions.Locks().Holder("member")
	require.True(t, ok)
	assert.Equal(t, first.ID(), holder)

	released := time.Now()
	require.NoError(t, first.Close())
	require.NoError(t, g.Wait())
	assert.False(t, (<-acquired).Before(released))
	assert.Equal(t, []string{"member"}, second.Locks())
}

func TestLockStatements(t *testing.T) {
	const selectMember = "SELECT m.member_id, m.username, m.age, m.created_date, m.last_modified_date, m.team_id FROM member AS m WHERE m.username = 'member1'"
	cases := []struct {
		name    string
		dialect func() schema.Dialect
		setup   string
		lock    string
	}{
		{"postgres", func() schema.Dialect { return pgdialect.New() }, "SET LOCAL lock_timeout = '100ms'", " FOR UPDATE OF m"},
		{"mysql", func() schema.Dialect { return mysqldialect.New() }, "SET SESSION innodb_lock_wait_timeout = 1", " FOR UPDATE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
			require.NoError(t, err)
			db := bun.NewDB(sqlDB, tc.dialect())
			defer db.Close()
			env := newEnvWithDB(t, db, database.SessionConfig{LockTimeout: 100 * time.Millisecond}, nil)

			now := time.Now()
			mock.ExpectBegin()
			mock.ExpectExec(tc.setup).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery(selectMember + tc.lock).WillReturnRows(
				sqlmock.NewRows([]string{"member_id", "username", "age", "created_date", "last_modified_date", "team_id"}).
					AddRow(1, "member1", 10, now, now, nil))
			mock.ExpectCommit()

			list, err := env.members.FindLockByUsername(context.Background(), "member1")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, int64(1), list[0].ID)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestLockTimeoutFromStore(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := bun.NewDB(sqlDB, pgdialect.New())
	defer db.Close()
	env := newEnvWithDB(t, db, database.SessionConfig{LockTimeout: time.Second}, nil)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FOR UPDATE OF m").WillReturnError(&pq.Error{Code: "55P03", Message: "canceling statement due to lock timeout"})
	mock.ExpectRollback()

	_, err = env.members.FindLockByUsername(context.Background(), "member1")
	assert.True(t, types.IsKind(err, types.LockTimeoutKind))
	var pqErr *pq.Error
	assert.ErrorAs(t, err, &pqErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMethodDeclarations(t *testing.T) {
	env := newTestEnv(t, database.SessionConfig{})
	registry, err := entity.NewRegistry()
	require.NoError(t, err)
	assert.Equal(t, len(memberMethods()), env.members.Methods().Len())

	bad := []Method{
		{Name: "findByNope", Shape: ShapeList},
		{Name: "findUsernames", Query: "select m.username from Member m", Shape: ShapeList},
		{Name: "bulk", Query: bulkAgePlusQuery, Shape: ShapeList},
		{Name: "findByUsername", Shape: ShapeModifying, Modifying: &Modifying{}},
		{Name: "findTeams", Query: "select t from Team t", Shape: ShapeList},
		{Name: "findByAge", Shape: ShapeList, EntityGraph: "Nope.graph"},
	}
	for _, m := range bad {
		_, err := NewMethodTable(registry, entity.MemberEntity, m)
		assert.True(t, types.IsKind(err, types.MalformedQueryKind), m.Name)
	}

	_, err = NewMethodTable(registry, entity.MemberEntity,
		Method{Name: "findByAge", Shape: ShapeList},
		Method{Name: "findByAge", Shape: ShapeList})
	assert.True(t, types.IsKind(err, types.MalformedQueryKind))

	_, err = env.members.QueryList(context.Background(), "findByTeamName", nil)
	assert.True(t, types.IsKind(err, types.MalformedQueryKind))
	_, err = env.members.QueryList(context.Background(), findMemberByUsername, nil)
	assert.True(t, types.IsKind(err, types.MalformedQueryKind))
	_, err = env.members.QueryList(context.Background(), findListByUsername, nil)
	assert.True(t, types.IsKind(err, types.UnboundParameterKind))
}
