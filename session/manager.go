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

package session

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/jhc920403/inflearn-data-jpa/database"
	"github.com/jhc920403/inflearn-data-jpa/types"
)

type contextKey struct{}

// Manager opens units of work over a database.
type Manager struct {
	db     *bun.DB
	config database.SessionConfig
	policy types.ReadOnlyPolicy
	locks  *LockTable
	logger database.Logger
}

// NewManager returns a manager; a nil logger uses the database logger. An
// unknown read-only policy is reported and treated as ignore; use
// SessionConfig.Validate to reject it up front.
func NewManager(db *bun.DB, config database.SessionConfig, logger database.Logger) *Manager {
	if logger == nil {
		logger = database.GetLogger()
	}
	policy, err := types.ParseReadOnlyPolicy(config.ReadOnlyPolicy)
	if err != nil {
		logger.Warn("Falling back to read-only policy ignore", "error", err)
	}
	return &Manager{db: db, config: config, policy: policy, locks: NewLockTable(), logger: logger}
}

func (m *Manager) DB() *bun.DB {
	return m.db
}

func (m *Manager) Logger() database.Logger {
	return m.logger
}

func (m *Manager) Locks() *LockTable {
	return m.locks
}

// Begin starts a unit of work. The caller must Close it.
func (m *Manager) Begin(ctx context.Context) (*UnitOfWork, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	uow := newUnitOfWork(tx, m)
	m.logger.Debug("Unit of work started", "uow", uow.ID())
	return uow, nil
}

// Do runs fn in a new unit of work, reachable from the context passed to fn.
// The work is flushed and committed when fn returns nil and rolled back when
// it fails or panics; the unit of work is closed in every case.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context, uow *UnitOfWork) error) (err error) {
	uow, err := m.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = uow.Close()
			m.logger.Error("Unit of work rolled back after panic", "uow", uow.ID(), "panic", r)
			panic(r)
		}
		if closeErr := uow.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if err = fn(WithUnitOfWork(ctx, uow), uow); err != nil {
		m.logger.Debug("Unit of work rolled back", "uow", uow.ID(), "error", err)
		return err
	}
	return uow.Commit(ctx)
}

// WithUnitOfWork returns a context carrying uow.
func WithUnitOfWork(ctx context.Context, uow *UnitOfWork) context.Context {
	return context.WithValue(ctx, contextKey{}, uow)
}

// FromContext returns the active unit of work carried by ctx.
func FromContext(ctx context.Context) (*UnitOfWork, bool) {
	uow, ok := ctx.Value(contextKey{}).(*UnitOfWork)
	return uow, ok && uow.Active()
}

// Within runs fn in the unit of work carried by ctx, or in a new one.
func (m *Manager) Within(ctx context.Context, fn func(ctx context.Context, uow *UnitOfWork) error) error {
	if uow, ok := FromContext(ctx); ok {
		return fn(ctx, uow)
	}
	return m.Do(ctx, fn)
}
