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

package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/jhc920403/inflearn-data-jpa/utils"
)

type testTeam struct {
	bun.BaseModel `bun:"table:team"`

	ID   int64  `bun:"team_id,pk,autoincrement"`
	Name string `bun:"name"`
}

type testMember struct {
	bun.BaseModel `bun:"table:member"`

	ID       int64  `bun:"member_id,pk,autoincrement"`
	Username string `bun:"username"`
	TeamID   *int64 `bun:"team_id"`
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
connection:
  type: sqlite
  dbname: jpa
  enable_query_log: true
  query_log_style: color
migrate:
  enable_migrate_on_startup: true
  enable_foreign_key: true
session:
  lock_timeout: 2s
  read_only_policy: reject
`))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.ConnectionConfig.Type)
	assert.Equal(t, "jpa", cfg.ConnectionConfig.DBName)
	assert.Equal(t, "color", cfg.ConnectionConfig.QueryLogStyle)
	// defaults survive
	assert.Equal(t, 100, cfg.ConnectionConfig.MaxOpenConns)
	assert.True(t, cfg.DataMigrateConfig.EnableMigrateOnStartup)
	assert.True(t, cfg.DataMigrateConfig.EnableForeignKey)
	assert.Equal(t, 2*time.Second, cfg.SessionConfig.LockTimeout)
	assert.Equal(t, "reject", cfg.SessionConfig.ReadOnlyPolicy)

	_, err = ParseConfig([]byte("connection: [1, 2"))
	assert.Error(t, err)
}

func TestLoadConfigWithEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("connection:\n  type: sqlite\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("JPA_TEST_ENV_VALUE=from-dotenv\n"), 0644))
	t.Cleanup(func() { _ = os.Unsetenv("JPA_TEST_ENV_VALUE") })

	cfg, err := LoadConfig(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.ConnectionConfig.Type)
	assert.Equal(t, "from-dotenv", os.Getenv("JPA_TEST_ENV_VALUE"))

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestFactoryEnvOverride(t *testing.T) {
	t.Setenv("DB_TYPE", "sqlite")
	t.Setenv("DB_DSN", "file::memory:")
	t.Setenv("DB_MAX_OPEN_CONNS", "7")

	cfg := DefaultConnectionConfig()
	cfg.Type = "oracle"
	_, err := NewDatabaseFactory().CreateFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Type)
	assert.Equal(t, "file::memory:", cfg.DSN)
	assert.Equal(t, 7, cfg.MaxOpenConns)
}

func TestSessionEnvOverride(t *testing.T) {
	t.Setenv("DB_LOCK_TIMEOUT", "1500ms")
	t.Setenv("DB_READ_ONLY_POLICY", "reject")

	cfg := SessionConfig{LockTimeout: time.Second}
	OverrideSessionFromEnv(&cfg)
	assert.Equal(t, 1500*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, "reject", cfg.ReadOnlyPolicy)

	t.Setenv("DB_LOCK_TIMEOUT", "3")
	OverrideSessionFromEnv(&cfg)
	assert.Equal(t, 3*time.Second, cfg.LockTimeout)
}

func TestSessionConfigValidation(t *testing.T) {
	_, err := ParseConfig([]byte("session:\n  read_only_policy: rejct\n"))
	assert.ErrorContains(t, err, `"rejct"`)

	cfg, err := ParseConfig([]byte("session:\n  read_only_policy: reject\n"))
	require.NoError(t, err)
	assert.Equal(t, "reject", cfg.SessionConfig.ReadOnlyPolicy)

	assert.Error(t, (&SessionConfig{LockTimeout: -time.Second}).Validate())

	t.Setenv("DB_READ_ONLY_POLICY", "rejct")
	cfg = &Config{ConnectionConfig: *DefaultConnectionConfig()}
	cfg.ConnectionConfig.Type = "sqlite"
	cfg.ConnectionConfig.DSN = "file:" + filepath.Join(t.TempDir(), "invalid.db")
	_, err = OpenDatabase(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "invalid session config")
}

func TestFactoryRejectsUnsupportedType(t *testing.T) {
	cfg := DefaultConnectionConfig()
	cfg.Type = "oracle"
	_, err := NewDatabaseFactory().CreateFromConfig(cfg)
	assert.ErrorContains(t, err, "unsupported database type")

	_, err = NewDatabaseFactory().CreateFromConfig(nil)
	assert.Error(t, err)
}

func TestIsSqlError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		is   bool
		kind SQLError
	}{
		{"nil", nil, false, UnknownErr},
		{"mysql lock wait", &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}, true, LockTimeoutErr},
		{"mysql nowait", &mysql.MySQLError{Number: 3572}, true, LockTimeoutErr},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, true, DeadlockErr},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, true, DuplicateKeyErr},
		{"pq lock", &pq.Error{Code: "55P03"}, true, LockTimeoutErr},
		{"pq fk", &pq.Error{Code: "23503"}, true, ForeignKeyViolationErr},
		{"pq no table", &pq.Error{Code: "42P01"}, true, NoTableErr},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true, LockTimeoutErr},
		{"sqlite unique", errors.New("UNIQUE constraint failed: member.member_id"), true, DuplicateKeyErr},
		{"sqlite table", errors.New("no such table: member"), true, NoTableErr},
		{"other", errors.New("boom"), false, UnknownErr},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			is, kind := IsSqlError(tc.err)
			assert.Equal(t, tc.is, is)
			assert.Equal(t, tc.kind, kind)
		})
	}
	assert.True(t, IsLockTimeout(&pq.Error{Code: "55P03"}))
	assert.False(t, IsLockTimeout(&pq.Error{Code: "23505"}))
}

func TestModelRegistryOrder(t *testing.T) {
	r := NewModelRegistry()
	r.Register(NewModelAdapter((*testMember)(nil), 2))
	r.Register(NewModelAdapter((*testTeam)(nil), 1))
	r.Register(NewModelAdapter("third", 2))
	r.Register(NewModelAdapter((*testTeam)(nil), 5))

	models := r.Models()
	require.Len(t, models, 3)
	assert.Equal(t, 1, models[0].Priority())
	assert.IsType(t, (*testMember)(nil), models[1].Instance())
	assert.Equal(t, "third", models[2].Instance())
	assert.Len(t, r.Instances(), 3)
}

func TestForeignKeyConstraintSQL(t *testing.T) {
	fk := getForeignKeyConstraints()[0]
	assert.Equal(t, "fk_member_team_id", fk.GenerateConstraintName())
	assert.Equal(t, "ALTER TABLE member ADD CONSTRAINT fk_member_team_id FOREIGN KEY (team_id) REFERENCES team(team_id) ON DELETE SET NULL", fk.GenerateSQL())
	assert.Equal(t, `("team_id") REFERENCES "team" ("team_id") ON DELETE SET NULL`, fk.InlineClause())

	bad := &ForeignKeyManager{constraints: []ForeignKeyConstraint{{Table: "member", OnDelete: "EXPLODE"}}}
	assert.Len(t, bad.ValidateConstraints(), 4)
}

func TestConfigurableForeignKeyManager(t *testing.T) {
	dir := t.TempDir()

	m, err := NewConfigurableForeignKeyManager(NopLogger{}, filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Len(t, m.ListAllConstraints(), 1)

	out := filepath.Join(dir, "fk", "keys.yaml")
	require.NoError(t, m.ExportToConfig(out))

	loaded, err := NewConfigurableForeignKeyManager(NopLogger{}, out)
	require.NoError(t, err)
	assert.Equal(t, m.ListAllConstraints(), loaded.ListAllConstraints())
	assert.Len(t, loaded.GetConstraintsByTable("MEMBER"), 1)
	assert.Empty(t, loaded.GetConstraintsByTable("team"))

	require.NoError(t, os.WriteFile(out, []byte("foreign_keys: {"), 0644))
	_, err = NewConfigurableForeignKeyManager(NopLogger{}, out)
	assert.Error(t, err)
}

func TestOpenDatabaseRunsMigrations(t *testing.T) {
	registry := NewModelRegistry()
	registry.Register(NewModelAdapter((*testTeam)(nil), 1))
	registry.Register(NewModelAdapter((*testMember)(nil), 2))

	cfg := &Config{ConnectionConfig: *DefaultConnectionConfig()}
	cfg.ConnectionConfig.Type = "sqlite"
	cfg.ConnectionConfig.DSN = "file:" + filepath.Join(t.TempDir(), "migrate.db")
	cfg.ConnectionConfig.HealthCheckInterval = 0
	cfg.DataMigrateConfig.EnableMigrateOnStartup = true
	cfg.DataMigrateConfig.EnableForeignKey = true
	cfg.LogLevel = "debug"
	t.Cleanup(func() { utils.ConfigureLogLevel("info") })

	ctx := context.Background()
	factory, err := OpenDatabase(ctx, cfg, registry)
	require.NoError(t, err)
	defer func() { _ = factory.Close() }()
	assert.Equal(t, logrus.DebugLevel, utils.NewLogger("DATABASE").GetLevel())

	db := factory.GetDB()
	_, err = db.NewInsert().Model(&testTeam{Name: "teamA"}).Exec(ctx)
	require.NoError(t, err)

	applied, err := NewMigrationManager(db, registry, NopLogger{}).GetAppliedMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, "create_base_tables", applied[0].Name)

	// a second run is a no-op
	require.NoError(t, factory.GetManager().RunMigrations(ctx, registry, &cfg.DataMigrateConfig))

	status := factory.GetHealthStatus(ctx)
	assert.True(t, status.Healthy)
}
