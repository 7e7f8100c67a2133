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
	"testing"

	"github.com/jhc920403/inflearn-data-jpa/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const memberColumns = "m.member_id, m.username, m.age, m.created_date, m.last_modified_date, m.team_id"

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	model, err := NewMetamodel([]*EntityMeta{
		{
			Name:  "Member",
			Alias: "m",
			ID:    Attribute{Name: "id", Column: "member_id"},
			Attributes: []Attribute{
				{Name: "username"}, {Name: "age"}, {Name: "createdDate"}, {Name: "lastModifiedDate"},
			},
			Relations: []RelationMeta{{Name: "team", Target: "Team"}},
		},
		{
			Name:       "Team",
			ID:         Attribute{Name: "id", Column: "team_id"},
			Attributes: []Attribute{{Name: "name"}},
		},
	}, &Projection{Name: "MemberDto", Columns: []string{"id", "username", "team_name"}})
	require.NoError(t, err)
	return NewRegistry(model)
}

func compile(t *testing.T, d *Descriptor, b Binding, opts Options) *Statement {
	t.Helper()
	st, err := Compile(d, b, opts)
	require.NoError(t, err)
	return st
}

func TestMetamodelDefaults(t *testing.T) {
	r := testRegistry(t)
	m, ok := r.Metamodel().Entity("Member")
	require.True(t, ok)
	assert.Equal(t, "member", m.Table)
	assert.Equal(t, []string{"member_id", "username", "age", "created_date", "last_modified_date", "team_id"}, m.Columns())
	rel, ok := m.Relation("team")
	require.True(t, ok)
	assert.Equal(t, "team_id", rel.JoinColumn)
	assert.Equal(t, "team_id", rel.TargetColumn)

	team, _ := r.Metamodel().Entity("Team")
	assert.Equal(t, "t", team.Alias)

	_, ok = r.Metamodel().Projection("study.datajpa.dto.MemberDto")
	assert.True(t, ok)

	_, err := NewMetamodel([]*EntityMeta{{Name: "Member", Relations: []RelationMeta{{Name: "team", Target: "Team"}}}})
	assert.Error(t, err)
}

func TestDerivedMatchesExplicit(t *testing.T) {
	r := testRegistry(t)
	cases := []struct {
		method string
		text   string
		args   Args
		sql    string
	}{
		{
			method: "findByUsernameAndAgeGreaterThan",
			text:   "select m from Member m where m.username = ?1 and m.age > ?2",
			args:   Args{"AAA", 15},
			sql:    "SELECT " + memberColumns + " FROM member AS m WHERE m.username = ? AND m.age > ?",
		},
		{
			method: "findByTeamName",
			text:   "select m from Member m join m.team t where t.name = ?1",
			args:   Args{"teamA"},
			sql:    "SELECT " + memberColumns + " FROM member AS m INNER JOIN team AS t ON t.team_id = m.team_id WHERE t.name = ?",
		},
		{
			method: "findByUsernameOrAgeLessThanEqual",
			text:   "select m from Member m where m.username = ?1 or m.age <= ?2",
			args:   Args{"AAA", 20},
			sql:    "SELECT " + memberColumns + " FROM member AS m WHERE m.username = ? OR m.age <= ?",
		},
		{
			method: "findByAgeBetween",
			text:   "select m from Member m where m.age between ?1 and ?2",
			args:   Args{10, 20},
			sql:    "SELECT " + memberColumns + " FROM member AS m WHERE m.age BETWEEN ? AND ?",
		},
	}
	for _, tc := range cases {
		t.Run(tc.method, func(t *testing.T) {
			derived, err := r.Derive("Member", tc.method)
			require.NoError(t, err)
			parsed, err := r.Parse(tc.text)
			require.NoError(t, err)

			a := compile(t, derived, tc.args, Options{})
			b := compile(t, parsed, tc.args, Options{})
			assert.Equal(t, tc.sql, a.SQL)
			assert.Equal(t, a.SQL, b.SQL)
			assert.Equal(t, []interface{}(tc.args), a.Args)
			assert.Equal(t, a.Args, b.Args)
		})
	}
}

func TestDeriveCached(t *testing.T) {
	r := testRegistry(t)
	a, err := r.Derive("Member", "findByUsername")
	require.NoError(t, err)
	b, err := r.Derive("Member", "findByUsername")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestDerivedKeywords(t *testing.T) {
	r := testRegistry(t)
	cases := []struct {
		method string
		args   Args
		where  string
		values []interface{}
	}{
		{"findByUsernameStartingWith", Args{"AA"}, "m.username LIKE ? ESCAPE '!'", []interface{}{"AA%"}},
		{"findByUsernameEndingWith", Args{"AA"}, "m.username LIKE ? ESCAPE '!'", []interface{}{"%AA"}},
		{"findByUsernameContaining", Args{"AA"}, "m.username LIKE ? ESCAPE '!'", []interface{}{"%AA%"}},
		{"findByUsernameContaining", Args{"10%_a!"}, "m.username LIKE ? ESCAPE '!'", []interface{}{"%10!%!_a!!%"}},
		{"findByUsernameNotContaining", Args{"AA"}, "m.username NOT LIKE ? ESCAPE '!'", []interface{}{"%AA%"}},
		{"findByUsernameIgnoreCase", Args{"aaa"}, "UPPER(m.username) = UPPER(?)", []interface{}{"aaa"}},
		{"findByUsernameStartingWithIgnoreCase", Args{"aa"}, "UPPER(m.username) LIKE UPPER(?) ESCAPE '!'", []interface{}{"aa%"}},
		{"findByTeamIsNull", nil, "m.team_id IS NULL", nil},
		{"findByTeamIdIsNotNull", nil, "m.team_id IS NOT NULL", nil},
		{"findByUsernameNot", Args{"AAA"}, "m.username <> ?", []interface{}{"AAA"}},
		{"findByAgeGreaterThanEqualAndAgeLessThan", Args{10, 30}, "m.age >= ? AND m.age < ?", []interface{}{10, 30}},
		{"findByUsernameIn", Args{[]string{"AAA", "BBB"}}, "m.username IN (?, ?)", []interface{}{"AAA", "BBB"}},
		{"findByUsernameNotIn", Args{[]string{"AAA"}}, "m.username NOT IN (?)", []interface{}{"AAA"}},
	}
	for _, tc := range cases {
		t.Run(tc.method, func(t *testing.T) {
			d, err := r.Derive("Member", tc.method)
			require.NoError(t, err)
			st := compile(t, d, tc.args, Options{})
			assert.Equal(t, "SELECT "+memberColumns+" FROM member AS m WHERE "+tc.where, st.SQL)
			if tc.values == nil {
				assert.Empty(t, st.Args)
			} else {
				assert.Equal(t, tc.values, st.Args)
			}
		})
	}
}

func TestDerivedSubject(t *testing.T) {
	r := testRegistry(t)

	d, err := r.Derive("Member", "findTop3HelloBy")
	require.NoError(t, err)
	assert.Equal(t, "SELECT "+memberColumns+" FROM member AS m LIMIT 3", compile(t, d, nil, Options{}).SQL)

	d, err = r.Derive("Member", "findFirstByOrderByAgeDesc")
	require.NoError(t, err)
	assert.Equal(t, "SELECT "+memberColumns+" FROM member AS m ORDER BY m.age DESC LIMIT 1", compile(t, d, nil, Options{}).SQL)

	d, err = r.Derive("Member", "findDistinctByAgeGreaterThanOrderByUsernameAscAgeDesc")
	require.NoError(t, err)
	assert.Equal(t, "SELECT DISTINCT "+memberColumns+" FROM member AS m WHERE m.age > ? ORDER BY m.username ASC, m.age DESC",
		compile(t, d, Args{10}, Options{}).SQL)

	d, err = r.Derive("Member", "countByAge")
	require.NoError(t, err)
	st := compile(t, d, Args{10}, Options{})
	assert.Equal(t, "SELECT count(*) FROM member AS m WHERE m.age = ?", st.SQL)
	assert.Equal(t, SelectCount, st.Selection)

	d, err = r.Derive("Member", "existsByUsername")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1 FROM member AS m WHERE m.username = ? LIMIT 1", compile(t, d, Args{"AAA"}, Options{}).SQL)

	d, err = r.Derive("Member", "deleteByUsername")
	require.NoError(t, err)
	st = compile(t, d, Args{"AAA"}, Options{})
	assert.Equal(t, "DELETE FROM member WHERE username = ?", st.SQL)
	assert.Equal(t, DeleteStatement, st.Kind)
}

func TestMalformed(t *testing.T) {
	r := testRegistry(t)
	texts := []string{
		"select m from Nope m",
		"select m from Member m where m.nope = ?1",
		"select m from Member",
		"select m from Member m where m.username = ?",
		"select m from Member m where m.username = :a and m.age = ?1",
		"select x from Member m",
		"select m from Member m join m.nope n",
		"select new MemberDto(m.id, m.username) from Member m",
		"select new Nope(m.id) from Member m",
		"update Member m set m.id = 1",
		"update Member m set m.age = 1 where m.username = 'x' order",
		"select m from Member m where m.username = 'open",
		"select m from Member m join m.team t where t.name = ?1 and t.name.x = ?2",
	}
	for _, text := range texts {
		_, err := r.Parse(text)
		assert.Truef(t, types.IsKind(err, types.MalformedQueryKind), "%s: %v", text, err)
	}

	for _, method := range []string{"fetchByUsername", "findByNope", "findByTeamNope", "findByAgeIsNullIgnoreCase", "findFirst0By"} {
		_, err := r.Derive("Member", method)
		assert.Truef(t, types.IsKind(err, types.MalformedQueryKind), "%s: %v", method, err)
	}
	_, err := r.Derive("Nope", "findByUsername")
	assert.True(t, types.IsKind(err, types.MalformedQueryKind))
}

func TestBinding(t *testing.T) {
	r := testRegistry(t)
	positional, err := r.Derive("Member", "findByUsernameAndAge")
	require.NoError(t, err)
	named, err := r.Parse("select m from Member m where m.username = :username")
	require.NoError(t, err)
	in, err := r.Derive("Member", "findByUsernameIn")
	require.NoError(t, err)

	cases := []struct {
		name string
		d    *Descriptor
		b    Binding
	}{
		{"missing positional", positional, Args{"AAA"}},
		{"extra positional", positional, Args{"AAA", 10, 20}},
		{"named for positional", positional, NamedArgs{"username": "AAA"}},
		{"missing named", named, NamedArgs{}},
		{"extra named", named, NamedArgs{"username": "AAA", "age": 10}},
		{"positional for named", named, Args{"AAA"}},
		{"scalar for collection", in, Args{"AAA"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(tc.d, tc.b, Options{})
			assert.True(t, types.IsKind(err, types.UnboundParameterKind), "%v", err)
			assert.ErrorIs(t, err, types.ErrUnboundParameter)
		})
	}

	st := compile(t, named, NamedArgs{"username": "AAA"}, Options{})
	assert.Equal(t, []interface{}{"AAA"}, st.Args)
}

func TestEmptyCollection(t *testing.T) {
	r := testRegistry(t)
	d, err := r.Derive("Member", "findByUsernameIn")
	require.NoError(t, err)
	st := compile(t, d, Args{[]string{}}, Options{})
	assert.Equal(t, "SELECT "+memberColumns+" FROM member AS m WHERE 1 = 0", st.SQL)
	assert.Empty(t, st.Args)

	d, err = r.Parse("select m from Member m where m.age > :age and m.username not in :names")
	require.NoError(t, err)
	st = compile(t, d, NamedArgs{"age": 10, "names": []string{}}, Options{})
	assert.Equal(t, "SELECT "+memberColumns+" FROM member AS m WHERE m.age > ? AND 1 = 1", st.SQL)
	assert.Equal(t, []interface{}{10}, st.Args)
}

func TestLogicalRendering(t *testing.T) {
	r := testRegistry(t)
	d, err := r.Parse("select m from Member m where (m.username = :a or m.age > :b) and not m.age < :c")
	require.NoError(t, err)
	st := compile(t, d, NamedArgs{"a": "AAA", "b": 10, "c": 30}, Options{})
	assert.Equal(t, "SELECT "+memberColumns+" FROM member AS m WHERE (m.username = ? OR m.age > ?) AND NOT (m.age < ?)", st.SQL)
	assert.Equal(t, []interface{}{"AAA", 10, 30}, st.Args)

	d, err = r.Parse("select m from Member m where m.age * (2 + :n) > 10 and m.username is not null")
	require.NoError(t, err)
	st = compile(t, d, NamedArgs{"n": 1}, Options{})
	assert.Equal(t, "SELECT "+memberColumns+" FROM member AS m WHERE m.age * (? + ?) > ? AND m.username IS NOT NULL", st.SQL)
	assert.Equal(t, []interface{}{int64(2), 1, int64(10)}, st.Args)
}

func TestOptions(t *testing.T) {
	r := testRegistry(t)
	d, err := r.Derive("Member", "findByAge")
	require.NoError(t, err)

	st := compile(t, d, Args{10}, Options{Sort: []types.Order{{Property: "username", Desc: true}}, Limit: 3, Offset: 6})
	assert.Equal(t, "SELECT "+memberColumns+" FROM member AS m WHERE m.age = ? ORDER BY m.username DESC LIMIT 3 OFFSET 6", st.SQL)

	st = compile(t, d, Args{10}, Options{Sort: []types.Order{{Property: "username"}}, Limit: 3, Count: true})
	assert.Equal(t, "SELECT count(*) FROM member AS m WHERE m.age = ?", st.SQL)
	assert.Equal(t, SelectCount, st.Selection)

	st = compile(t, d, Args{10}, Options{Lock: types.LockPessimisticWrite, LockSyntax: LockForUpdate})
	assert.Equal(t, "SELECT "+memberColumns+" FROM member AS m WHERE m.age = ? FOR UPDATE", st.SQL)
	st = compile(t, d, Args{10}, Options{Lock: types.LockPessimisticWrite, LockSyntax: LockForUpdateOf})
	assert.Equal(t, "SELECT "+memberColumns+" FROM member AS m WHERE m.age = ? FOR UPDATE OF m", st.SQL)
	st = compile(t, d, Args{10}, Options{Lock: types.LockPessimisticWrite, LockSyntax: LockUnsupported})
	assert.Equal(t, "SELECT "+memberColumns+" FROM member AS m WHERE m.age = ?", st.SQL)

	top, err := r.Derive("Member", "findTop3By")
	require.NoError(t, err)
	assert.Contains(t, compile(t, top, nil, Options{Limit: 10}).SQL, "LIMIT 3")
	assert.Contains(t, compile(t, top, nil, Options{Limit: 2}).SQL, "LIMIT 2")
	assert.NotContains(t, compile(t, d, Args{1}, Options{Offset: 5}).SQL, "OFFSET")

	_, err = Compile(d, Args{10}, Options{Sort: []types.Order{{Property: "nope"}}})
	assert.True(t, types.IsKind(err, types.MalformedQueryKind))

	team, err := r.Derive("Member", "findByTeamName")
	require.NoError(t, err)
	st = compile(t, team, Args{"teamA"}, Options{Sort: []types.Order{{Property: "team.name"}}})
	assert.Contains(t, st.SQL, "ORDER BY t.name ASC")
}

func TestBulkUpdate(t *testing.T) {
	r := testRegistry(t)
	d, err := r.Parse("update Member m set m.age = m.age + 1 where m.age >= :age")
	require.NoError(t, err)
	st := compile(t, d, NamedArgs{"age": 20}, Options{})
	assert.Equal(t, "UPDATE member SET age = age + ? WHERE age >= ?", st.SQL)
	assert.Equal(t, []interface{}{int64(1), 20}, st.Args)
	assert.Equal(t, UpdateStatement, st.Kind)

	d, err = r.Parse("delete from Member m where m.age < ?1")
	require.NoError(t, err)
	assert.Equal(t, "DELETE FROM member WHERE age < ?", compile(t, d, Args{20}, Options{}).SQL)

	_, err = r.Parse("update Member m set m.age = 1 where m.team.name = 'x'")
	assert.True(t, types.IsKind(err, types.MalformedQueryKind))
}

func TestProjections(t *testing.T) {
	r := testRegistry(t)
	d, err := r.Parse("select new study.datajpa.dto.MemberDto(m.id, m.username, t.name) from Member m join m.team t")
	require.NoError(t, err)
	st := compile(t, d, nil, Options{})
	assert.Equal(t, "SELECT m.member_id AS id, m.username AS username, t.name AS team_name FROM member AS m INNER JOIN team AS t ON t.team_id = m.team_id", st.SQL)
	assert.Equal(t, SelectConstructor, st.Selection)

	d, err = r.Parse("select m.username, t.name from Member m left join m.team t")
	require.NoError(t, err)
	assert.Equal(t, "SELECT m.username AS username, t.name AS name FROM member AS m LEFT JOIN team AS t ON t.team_id = m.team_id",
		compile(t, d, nil, Options{}).SQL)

	d, err = r.Parse("select count(distinct m) from Member m")
	require.NoError(t, err)
	assert.Equal(t, "SELECT count(DISTINCT m.member_id) FROM member AS m", compile(t, d, nil, Options{}).SQL)
}

func TestEntityGraph(t *testing.T) {
	r := testRegistry(t)
	fetched := "SELECT " + memberColumns + ", t.team_id AS team_team_id, t.name AS team_name FROM member AS m"

	all, err := r.Derive("Member", "findAll")
	require.NoError(t, err)
	st := compile(t, all, nil, Options{Graph: []string{"team"}})
	assert.Equal(t, fetched+" LEFT JOIN team AS t ON t.team_id = m.team_id", st.SQL)
	assert.Equal(t, []string{"team"}, st.Fetch)
	assert.Empty(t, all.Joins)

	d, err := r.Parse("select m from Member m left join fetch m.team t")
	require.NoError(t, err)
	assert.Equal(t, st.SQL, compile(t, d, nil, Options{}).SQL)

	byTeam, err := r.Derive("Member", "findByTeamName")
	require.NoError(t, err)
	st = compile(t, byTeam, Args{"teamA"}, Options{Graph: []string{"team"}})
	assert.Equal(t, fetched+" INNER JOIN team AS t ON t.team_id = m.team_id WHERE t.name = ?", st.SQL)
	assert.False(t, byTeam.Joins[0].Fetch)

	st = compile(t, all, nil, Options{Graph: []string{"team"}, Count: true})
	assert.Equal(t, "SELECT count(*) FROM member AS m LEFT JOIN team AS t ON t.team_id = m.team_id", st.SQL)

	_, err = Compile(all, nil, Options{Graph: []string{"nope"}})
	assert.True(t, types.IsKind(err, types.MalformedQueryKind))
}

func TestRegistryDeclarations(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.RegisterNamedQuery("Member.findByUsername", "select m from Member m where m.username = :username"))
	assert.Error(t, r.RegisterNamedQuery("Member.findByUsername", "select m from Member m"))
	assert.True(t, types.IsKind(r.RegisterNamedQuery("Member.bad", "select m from Member m where"), types.MalformedQueryKind))

	d, err := r.NamedQuery("Member.findByUsername")
	require.NoError(t, err)
	assert.True(t, d.Named())
	_, err = r.NamedQuery("Member.nope")
	assert.True(t, types.IsKind(err, types.MalformedQueryKind))

	require.NoError(t, r.RegisterEntityGraph("Member.all", "Member", "team"))
	g, err := r.EntityGraph("Member.all")
	require.NoError(t, err)
	assert.Equal(t, []string{"team"}, g.Paths)
	assert.Error(t, r.RegisterEntityGraph("Member.bad", "Member", "nope"))
	assert.Error(t, r.RegisterEntityGraph("Nope.all", "Nope"))

	paths, err := r.GraphPaths("Member", []string{"Team"})
	require.NoError(t, err)
	assert.Equal(t, []string{"team"}, paths)
}
