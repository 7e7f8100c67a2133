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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/jhc920403/inflearn-data-jpa/database"
	"github.com/jhc920403/inflearn-data-jpa/query"
	"github.com/jhc920403/inflearn-data-jpa/types"
)

// Entity is a record managed by a unit of work.
type Entity interface {
	EntityName() string
	PrimaryKey() int64
	// Snapshot returns a comparable copy of the persistent state; a record
	// is dirty when its snapshot differs from the one taken at attach time.
	Snapshot() interface{}
}

// InsertOnly is implemented by records with columns that are written on
// insert and never updated, such as a creation date.
type InsertOnly interface {
	InsertOnlyColumns() []string
}

// InsertOnlyColumns returns the insert-only columns of rec, if any.
func InsertOnlyColumns(rec interface{}) []string {
	if ins, ok := rec.(InsertOnly); ok {
		return ins.InsertOnlyColumns()
	}
	return nil
}

type identityKey struct {
	entity string
	id     int64
}

type managed struct {
	record   Entity
	snapshot interface{}
	readOnly bool
}

// UnitOfWork is one transaction plus the records it has loaded. Within a
// unit of work an identifier maps to a single instance. A UnitOfWork is not
// safe for concurrent use.
type UnitOfWork struct {
	id          string
	tx          bun.Tx
	logger      database.Logger
	locks       *LockTable
	lockTimeout time.Duration
	policy      types.ReadOnlyPolicy

	identity  map[identityKey]*managed
	order     []identityKey
	rowLocks  []string
	timeoutOK bool
	active    bool
	done      bool
}

func (u *UnitOfWork) ID() string {
	return u.id
}

// Tx returns the transaction statements of this unit of work run in.
func (u *UnitOfWork) Tx() *bun.Tx {
	return &u.tx
}

// Active reports whether the unit of work is still open.
func (u *UnitOfWork) Active() bool {
	return u.active
}

// Attach registers rec. When an instance with the same identifier is already
// managed, that instance is returned and rec is ignored.
func (u *UnitOfWork) Attach(rec Entity, readOnly bool) Entity {
	k := identityKey{rec.EntityName(), rec.PrimaryKey()}
	if m, ok := u.identity[k]; ok {
		return m.record
	}
	u.identity[k] = &managed{record: rec, snapshot: rec.Snapshot(), readOnly: readOnly}
	u.order = append(u.order, k)
	return rec
}

// Lookup returns the managed instance of entity with id.
func (u *UnitOfWork) Lookup(entity string, id int64) (Entity, bool) {
	m, ok := u.identity[identityKey{entity, id}]
	if !ok {
		return nil, false
	}
	return m.record, true
}

// Contains reports whether rec itself (not just its identifier) is managed.
func (u *UnitOfWork) Contains(rec Entity) bool {
	m, ok := u.identity[identityKey{rec.EntityName(), rec.PrimaryKey()}]
	return ok && m.record == rec
}

// Detach stops tracking rec; later changes to it are not flushed.
func (u *UnitOfWork) Detach(rec Entity) {
	k := identityKey{rec.EntityName(), rec.PrimaryKey()}
	if m, ok := u.identity[k]; ok && m.record == rec {
		delete(u.identity, k)
	}
}

// Size returns the number of managed records.
func (u *UnitOfWork) Size() int {
	return len(u.identity)
}

// HasChanges reports whether a managed record of entity is dirty.
func (u *UnitOfWork) HasChanges(entity string) bool {
	for k, m := range u.identity {
		if k.entity == entity && m.record.Snapshot() != m.snapshot {
			return true
		}
	}
	return false
}

// Flush writes the changes of dirty records in attach order.
func (u *UnitOfWork) Flush(ctx context.Context) error {
	if !u.active {
		return types.NewError(types.DetachedAccessKind, "UnitOfWork.Flush", "unit of work %s is closed", u.id)
	}
	order := make([]identityKey, 0, len(u.order))
	seen := make(map[identityKey]bool, len(u.order))
	for _, k := range u.order {
		m, ok := u.identity[k]
		if !ok || seen[k] {
			continue
		}
		seen[k] = true
		order = append(order, k)
		current := m.record.Snapshot()
		if current == m.snapshot {
			continue
		}
		if m.readOnly {
			if u.policy == types.ReadOnlyReject {
				return types.NewError(types.ReadOnlyViolationKind, "UnitOfWork.Flush", "%s %d was loaded read-only", k.entity, k.id)
			}
			u.logger.Warn("Change to read-only record dropped", "uow", u.id, "entity", k.entity, "id", k.id)
			m.snapshot = current
			continue
		}
		q := u.tx.NewUpdate().Model(m.record).WherePK()
		if cols := InsertOnlyColumns(m.record); len(cols) > 0 {
			q = q.ExcludeColumn(cols...)
		}
		if _, err := q.Exec(ctx); err != nil {
			return TranslateError("UnitOfWork.Flush", err)
		}
		m.snapshot = m.record.Snapshot()
		u.logger.Debug("Record flushed", "uow", u.id, "entity", k.entity, "id", k.id)
	}
	u.order = order
	return nil
}

// Clear detaches every managed record. Unflushed changes are discarded.
func (u *UnitOfWork) Clear(reason string) {
	u.logger.Info("Persistence context cleared", "uow", u.id, "reason", reason, "records", len(u.identity))
	u.identity = make(map[identityKey]*managed)
	u.order = nil
}

// LockSyntax is how locking reads are written for this store.
func (u *UnitOfWork) LockSyntax() query.LockSyntax {
	switch u.tx.Dialect().Name() {
	case dialect.PG:
		return query.LockForUpdateOf
	case dialect.MySQL:
		return query.LockForUpdate
	default:
		return query.LockUnsupported
	}
}

// LockRows prepares a pessimistic-write read of table. Stores with row locks
// get their lock wait bounded once per transaction; other stores take the
// table in the in-process lock table until the unit of work ends.
func (u *UnitOfWork) LockRows(ctx context.Context, table string) error {
	if !u.active {
		return types.NewError(types.DetachedAccessKind, "UnitOfWork.LockRows", "unit of work %s is closed", u.id)
	}
	switch u.tx.Dialect().Name() {
	case dialect.PG:
		if u.timeoutOK || u.lockTimeout <= 0 {
			return nil
		}
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", u.lockTimeout.Milliseconds())
		if _, err := u.tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
		u.timeoutOK = true
	case dialect.MySQL:
		if u.timeoutOK || u.lockTimeout <= 0 {
			return nil
		}
		seconds := max(int64(1), int64(u.lockTimeout/time.Second))
		stmt := fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", seconds)
		if _, err := u.tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
		u.timeoutOK = true
	default:
		if err := u.locks.Acquire(ctx, table, u.id, u.lockTimeout); err != nil {
			return err
		}
		u.rowLocks = append(u.rowLocks, table)
		u.logger.Debug("Lock acquired", "uow", u.id, "table", table)
	}
	return nil
}

// Locks returns the in-process locks held by the unit of work.
func (u *UnitOfWork) Locks() []string {
	return append([]string(nil), u.rowLocks...)
}

// Commit flushes and commits. The unit of work stays open until Close.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if err := u.Flush(ctx); err != nil {
		return err
	}
	if err := u.tx.Commit(); err != nil {
		return TranslateError("UnitOfWork.Commit", err)
	}
	u.done = true
	return nil
}

// Close rolls back an uncommitted transaction, releases held locks and
// ends the unit of work. Records stay usable but detached.
func (u *UnitOfWork) Close() error {
	if !u.active {
		return nil
	}
	u.active = false
	var err error
	if !u.done {
		if rbErr := u.tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = rbErr
		}
		u.done = true
	}
	u.locks.ReleaseAll(u.id)
	u.rowLocks = nil
	u.logger.Debug("Unit of work closed", "uow", u.id, "records", len(u.identity))
	return err
}

// TranslateError maps store lock wait failures to LockTimeoutKind.
func TranslateError(op string, err error) error {
	if err != nil && database.IsLockTimeout(err) {
		return types.WrapError(types.LockTimeoutKind, op, err)
	}
	return err
}

func newUnitOfWork(tx bun.Tx, m *Manager) *UnitOfWork {
	return &UnitOfWork{
		id:          uuid.NewString(),
		tx:          tx,
		logger:      m.logger,
		locks:       m.locks,
		lockTimeout: m.config.LockTimeout,
		policy:      m.policy,
		identity:    make(map[identityKey]*managed),
		active:      true,
	}
}
