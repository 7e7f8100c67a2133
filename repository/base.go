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
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
	"github.com/uptrace/bun/schema"

	"github.com/jhc920403/inflearn-data-jpa/database"
	"github.com/jhc920403/inflearn-data-jpa/query"
	"github.com/jhc920403/inflearn-data-jpa/session"
	"github.com/jhc920403/inflearn-data-jpa/types"
)

// Base is the generic repository of one entity type. *T must implement
// session.Entity.
type Base[T any] struct {
	sessions *session.Manager
	registry *query.Registry
	meta     *query.EntityMeta
	table    *schema.Table
	methods  *MethodTable
	mapper   RowMapper[T]
	binder   Binder[T]
	logger   database.Logger
}

var _ Repository[struct{}] = (*Base[struct{}])(nil)

// Option configures a Base.
type Option[T any] func(*Base[T])

// WithMapper sets how entity selections are scanned.
func WithMapper[T any](mapper RowMapper[T]) Option[T] {
	return func(b *Base[T]) { b.mapper = mapper }
}

// WithBinder sets the association hook run for every loaded record.
func WithBinder[T any](binder Binder[T]) Option[T] {
	return func(b *Base[T]) { b.binder = binder }
}

// NewRepository returns a generic repository of entity. methods are
// validated here; a bad declaration fails with MalformedQueryKind.
func NewRepository[T any](sessions *session.Manager, registry *query.Registry, entity string, methods []Method, opts ...Option[T]) (*Base[T], error) {
	if _, ok := any(new(T)).(session.Entity); !ok {
		panic(fmt.Sprintf("repository: *%T does not implement session.Entity", *new(T)))
	}
	meta, ok := registry.Metamodel().Entity(entity)
	if !ok {
		return nil, types.NewError(types.MalformedQueryKind, entity, "unknown entity")
	}
	table, err := NewMethodTable(registry, entity, methods...)
	if err != nil {
		return nil, err
	}
	b := &Base[T]{
		sessions: sessions,
		registry: registry,
		meta:     meta,
		table:    sessions.DB().Table(reflect.TypeOf((*T)(nil)).Elem()),
		methods:  table,
		mapper:   ScanModels[T],
		logger:   sessions.Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (r *Base[T]) Dialect() schema.Dialect { return r.sessions.DB().Dialect() }

// IDB returns the transaction of the unit of work carried by ctx, or the
// database when there is none.
func (r *Base[T]) IDB(ctx context.Context) bun.IDB {
	if uow, ok := session.FromContext(ctx); ok {
		return uow.Tx()
	}
	return r.sessions.DB()
}

func (r *Base[T]) Meta() *query.EntityMeta { return r.meta }

func (r *Base[T]) Methods() *MethodTable { return r.methods }

func (r *Base[T]) within(ctx context.Context, fn func(ctx context.Context, uow *session.UnitOfWork) error) error {
	return r.sessions.Within(ctx, fn)
}

func (r *Base[T]) pk() bun.Ident {
	return bun.Ident(r.meta.ID.Column)
}

func asEntity[T any](rec *T) session.Entity {
	return any(rec).(session.Entity)
}

func fromEntity[T any](e session.Entity) *T {
	return any(e).(*T)
}

// manage attaches loaded records. An identifier already managed by uow
// resolves to the managed instance, whose state is kept.
func (r *Base[T]) manage(ctx context.Context, uow *session.UnitOfWork, recs []*T, fetched []Fetched, readOnly bool) []*T {
	out := make([]*T, 0, len(recs))
	for i, rec := range recs {
		managed := fromEntity[T](uow.Attach(asEntity(rec), readOnly))
		if r.binder != nil {
			var f Fetched
			if i < len(fetched) {
				f = fetched[i]
			}
			r.binder(ctx, uow, managed, f)
		}
		out = append(out, managed)
	}
	return out
}

// Save inserts a new record (zero identifier), leaves a managed one to the
// flush, and merges a detached one. The managed instance is returned.
func (r *Base[T]) Save(ctx context.Context, rec *T) (*T, error) {
	var saved *T
	err := r.within(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		var err error
		saved, err = r.save(ctx, uow, rec)
		return err
	})
	return saved, err
}

func (r *Base[T]) SaveAll(ctx context.Context, recs ...*T) ([]*T, error) {
	out := make([]*T, 0, len(recs))
	err := r.within(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		for _, rec := range recs {
			saved, err := r.save(ctx, uow, rec)
			if err != nil {
				return err
			}
			out = append(out, saved)
		}
		return nil
	})
	return out, err
}

func (r *Base[T]) save(ctx context.Context, uow *session.UnitOfWork, rec *T) (*T, error) {
	e := asEntity(rec)
	if e.PrimaryKey() == 0 {
		if _, err := uow.Tx().NewInsert().Model(rec).Exec(ctx); err != nil {
			return nil, session.TranslateError("Save", err)
		}
		r.logger.Debug("Record inserted", "uow", uow.ID(), "entity", e.EntityName(), "id", e.PrimaryKey())
		return r.manage(ctx, uow, []*T{rec}, nil, false)[0], nil
	}
	if uow.Contains(e) {
		return rec, nil
	}
	if current, ok := uow.Lookup(e.EntityName(), e.PrimaryKey()); ok {
		managed := fromEntity[T](current)
		*managed = *rec
		return managed, nil
	}
	if err := r.upsert(ctx, uow.Tx(), rec); err != nil {
		return nil, session.TranslateError("Save", err)
	}
	// reload so the managed copy carries the stored insert-only columns
	merged := new(T)
	*merged = *rec
	if err := uow.Tx().NewSelect().Model(merged).WherePK().Scan(ctx); err != nil {
		return nil, session.TranslateError("Save", err)
	}
	r.logger.Debug("Record merged", "uow", uow.ID(), "entity", e.EntityName(), "id", e.PrimaryKey())
	return r.manage(ctx, uow, []*T{merged}, nil, false)[0], nil
}

// FindByID returns the managed instance when there is one, otherwise loads
// the record.
func (r *Base[T]) FindByID(ctx context.Context, id int64) (types.Optional[T], error) {
	var found *T
	err := r.within(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		var err error
		found, err = r.findByID(ctx, uow, id)
		return err
	})
	if err != nil {
		return types.Empty[T](), err
	}
	return types.OptionalOf(found), nil
}

// GetByID is FindByID failing with NotFoundKind when the record is absent.
func (r *Base[T]) GetByID(ctx context.Context, id int64) (*T, error) {
	opt, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !opt.IsPresent() {
		return nil, types.NewError(types.NotFoundKind, "GetByID", "%s %d", r.meta.Name, id)
	}
	return opt.OrElse(nil), nil
}

func (r *Base[T]) findByID(ctx context.Context, uow *session.UnitOfWork, id int64) (*T, error) {
	if managed, ok := uow.Lookup(r.meta.Name, id); ok {
		return fromEntity[T](managed), nil
	}
	rec := new(T)
	err := uow.Tx().NewSelect().Model(rec).Where("? = ?", r.pk(), id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, session.TranslateError("FindByID", err)
	}
	return r.manage(ctx, uow, []*T{rec}, nil, false)[0], nil
}

func (r *Base[T]) FindAll(ctx context.Context) ([]*T, error) {
	return r.List(ctx, nil)
}

func (r *Base[T]) List(ctx context.Context, filter *types.QueryFilter) ([]*T, error) {
	var out []*T
	err := r.within(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		if err := uow.Flush(ctx); err != nil {
			return err
		}
		recs := make([]*T, 0)
		q := uow.Tx().NewSelect().Model(&recs)
		if filter != nil {
			q = q.Where(filter.Schema, filter.Args...)
		}
		if err := q.Scan(ctx); err != nil {
			return session.TranslateError("List", err)
		}
		out = r.manage(ctx, uow, recs, nil, false)
		return nil
	})
	return out, err
}

func (r *Base[T]) FindAllPage(ctx context.Context, page *types.PageRequest) (*types.Page[T], error) {
	if err := requirePage("FindAllPage", page); err != nil {
		return nil, err
	}
	orders, err := r.orderColumns(page)
	if err != nil {
		return nil, err
	}
	result := types.NewPage[T](page.GetPage(), page.GetPageSize())
	err = r.within(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		if err := uow.Flush(ctx); err != nil {
			return err
		}
		total, err := uow.Tx().NewSelect().Model((*T)(nil)).Count(ctx)
		if err != nil || total == 0 {
			return err
		}
		result.TotalElements = total
		recs := make([]*T, 0)
		err = uow.Tx().NewSelect().
			Model(&recs).
			Order(orders...).
			Offset(page.GetOffset()).
			Limit(page.GetPageSize()).
			Scan(ctx)
		if err != nil {
			return session.TranslateError("FindAllPage", err)
		}
		result.Content = r.manage(ctx, uow, recs, nil, false)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// orderColumns maps the page's property orders to column orders.
func (r *Base[T]) orderColumns(page *types.PageRequest) ([]string, error) {
	sort, err := page.Sort()
	if err != nil {
		return nil, types.WrapError(types.MalformedQueryKind, "FindAllPage", err)
	}
	orders := make([]string, 0, len(sort))
	for _, o := range sort {
		col, ok := r.meta.Column(o.Property)
		if !ok {
			return nil, types.NewError(types.MalformedQueryKind, "FindAllPage", "unknown sort property %s", o.Property)
		}
		orders = append(orders, types.Order{Property: col, Desc: o.Desc}.String())
	}
	return orders, nil
}

func (r *Base[T]) Count(ctx context.Context) (int, error) {
	var n int
	err := r.within(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		if err := uow.Flush(ctx); err != nil {
			return err
		}
		var err error
		n, err = uow.Tx().NewSelect().Model((*T)(nil)).Count(ctx)
		return err
	})
	return n, err
}

func (r *Base[T]) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.within(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		if _, ok := uow.Lookup(r.meta.Name, id); ok {
			exists = true
			return nil
		}
		var err error
		exists, err = uow.Tx().NewSelect().Model((*T)(nil)).Where("? = ?", r.pk(), id).Exists(ctx)
		return err
	})
	return exists, err
}

// Delete removes the record and detaches it.
func (r *Base[T]) Delete(ctx context.Context, rec *T) error {
	return r.DeleteByID(ctx, asEntity(rec).PrimaryKey())
}

// DeleteByID fails with NotFoundKind when no row has id.
func (r *Base[T]) DeleteByID(ctx context.Context, id int64) error {
	return r.within(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		if err := uow.Flush(ctx); err != nil {
			return err
		}
		res, err := uow.Tx().NewDelete().Model((*T)(nil)).Where("? = ?", r.pk(), id).Exec(ctx)
		if err != nil {
			return session.TranslateError("DeleteByID", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return types.NewError(types.NotFoundKind, "DeleteByID", "%s %d", r.meta.Name, id)
		}
		if managed, ok := uow.Lookup(r.meta.Name, id); ok {
			uow.Detach(managed)
		}
		return nil
	})
}

// upsert writes a detached record by identifier, inserting it when the row
// is gone.
func (r *Base[T]) upsert(ctx context.Context, db bun.IDB, rec *T) error {
	insertOnly := session.InsertOnlyColumns(rec)
	fields := make([]string, 0, len(r.table.DataFields))
	for _, f := range r.table.DataFields {
		if !slices.Contains(insertOnly, f.Name) {
			fields = append(fields, f.Name)
		}
	}
	keys := make([]string, 0, len(r.table.PKs))
	for _, f := range r.table.PKs {
		keys = append(keys, f.Name)
	}

	switch {
	case r.sessions.DB().HasFeature(feature.InsertOnConflict):
		return r.upsertOnConflict(ctx, db, fields, keys, rec)
	case r.sessions.DB().HasFeature(feature.InsertOnDuplicateKey):
		return r.upsertOnDuplicateKey(ctx, db, fields, rec)
	default:
		return r.upsertFallback(ctx, db, insertOnly, rec)
	}
}

func (r *Base[T]) upsertOnDuplicateKey(ctx context.Context, db bun.IDB, fields []string, rec *T) error {
	q := db.NewInsert().Model(rec).On("DUPLICATE KEY UPDATE")
	for _, field := range fields {
		q = q.Set("? = VALUES(?)", bun.Ident(field), bun.Ident(field))
	}
	_, err := q.Exec(ctx)
	return err
}

func (r *Base[T]) upsertOnConflict(ctx context.Context, db bun.IDB, fields []string, keys []string, rec *T) error {
	conflict := make([]interface{}, len(keys))
	for i, k := range keys {
		conflict[i] = bun.Ident(k)
	}
	q := db.NewInsert().Model(rec).On("CONFLICT (?) DO UPDATE", bun.In(conflict))
	for _, field := range fields {
		q = q.Set("? = EXCLUDED.?", bun.Ident(field), bun.Ident(field))
	}
	_, err := q.Exec(ctx)
	return err
}

func (r *Base[T]) upsertFallback(ctx context.Context, db bun.IDB, insertOnly []string, rec *T) error {
	q := db.NewUpdate().Model(rec).WherePK()
	if len(insertOnly) > 0 {
		q = q.ExcludeColumn(insertOnly...)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	if _, insertErr := db.NewInsert().Model(rec).Exec(ctx); insertErr != nil {
		return fmt.Errorf("upsert failed for entity: update matched no row, insert error: %w", insertErr)
	}
	return nil
}
