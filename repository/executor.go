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

	"github.com/jhc920403/inflearn-data-jpa/query"
	"github.com/jhc920403/inflearn-data-jpa/session"
	"github.com/jhc920403/inflearn-data-jpa/types"
)

func (r *Base[T]) method(name string, shapes ...Shape) (*Prepared, error) {
	p, err := r.methods.Get(name)
	if err != nil {
		return nil, err
	}
	for _, s := range shapes {
		if p.Method.Shape == s {
			return p, nil
		}
	}
	return nil, types.NewError(types.MalformedQueryKind, name, "declared with %s results", p.Method.Shape)
}

// statement compiles p, then takes the locks it needs and flushes pending
// changes so the statement sees them.
func (r *Base[T]) statement(ctx context.Context, uow *session.UnitOfWork, p *Prepared, b query.Binding, opts query.Options) (*query.Statement, error) {
	opts.Graph = p.Graph
	locking := p.Method.Lock == types.LockPessimisticWrite
	if locking {
		opts.Lock = p.Method.Lock
		opts.LockSyntax = uow.LockSyntax()
	}
	st, err := query.Compile(p.Descriptor, b, opts)
	if err != nil {
		return nil, err
	}
	if locking {
		if err := uow.LockRows(ctx, p.Descriptor.Entity.Table); err != nil {
			return nil, session.TranslateError(p.Method.Name, err)
		}
	}
	if err := uow.Flush(ctx); err != nil {
		return nil, err
	}
	r.logger.Debug("Executing repository method", "uow", uow.ID(), "method", p.Method.Name, "sql", st.SQL)
	return st, nil
}

func (r *Base[T]) entities(ctx context.Context, uow *session.UnitOfWork, p *Prepared, b query.Binding, opts query.Options) ([]*T, error) {
	st, err := r.statement(ctx, uow, p, b, opts)
	if err != nil {
		return nil, err
	}
	recs, fetched, err := r.mapper(ctx, uow.Tx(), st)
	if err != nil {
		return nil, session.TranslateError(p.Method.Name, err)
	}
	return r.manage(ctx, uow, recs, fetched, p.Method.Hints.ReadOnly), nil
}

func (r *Base[T]) count(ctx context.Context, uow *session.UnitOfWork, p *Prepared, b query.Binding) (int, error) {
	st, err := r.statement(ctx, uow, p, b, query.Options{Count: true})
	if err != nil {
		return 0, err
	}
	var n int
	if err := uow.Tx().QueryRowContext(ctx, st.SQL, st.Args...).Scan(&n); err != nil {
		return 0, session.TranslateError(p.Method.Name, err)
	}
	return n, nil
}

// QueryList runs a list method.
func (r *Base[T]) QueryList(ctx context.Context, name string, b query.Binding) ([]*T, error) {
	p, err := r.method(name, ShapeList)
	if err != nil {
		return nil, err
	}
	var out []*T
	err = r.within(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		out, err = r.entities(ctx, uow, p, b, query.Options{})
		return err
	})
	return out, err
}

// QuerySingle runs a single-result method: no row fails with NotFoundKind,
// more than one with NonUniqueResultKind.
func (r *Base[T]) QuerySingle(ctx context.Context, name string, b query.Binding) (*T, error) {
	p, err := r.method(name, ShapeSingle)
	if err != nil {
		return nil, err
	}
	var out *T
	err = r.within(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		recs, err := r.entities(ctx, uow, p, b, query.Options{Limit: 2})
		if err != nil {
			return err
		}
		out, err = single(name, recs, true)
		return err
	})
	return out, err
}

// QueryOptional runs an optional-result method; more than one row fails
// with NonUniqueResultKind.
func (r *Base[T]) QueryOptional(ctx context.Context, name string, b query.Binding) (types.Optional[T], error) {
	p, err := r.method(name, ShapeOptional)
	if err != nil {
		return types.Empty[T](), err
	}
	var out *T
	err = r.within(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		recs, err := r.entities(ctx, uow, p, b, query.Options{Limit: 2})
		if err != nil {
			return err
		}
		out, err = single(name, recs, false)
		return err
	})
	if err != nil {
		return types.Empty[T](), err
	}
	return types.OptionalOf(out), nil
}

func single[T any](name string, recs []*T, required bool) (*T, error) {
	switch {
	case len(recs) > 1:
		return nil, types.NewError(types.NonUniqueResultKind, name, "query did not return a unique result")
	case len(recs) == 1:
		return recs[0], nil
	case required:
		return nil, types.NewError(types.NotFoundKind, name, "query returned no result")
	default:
		return nil, nil
	}
}

// QueryPage runs the count query, then (when there are rows) the page query.
func (r *Base[T]) QueryPage(ctx context.Context, name string, b query.Binding, page *types.PageRequest) (*types.Page[T], error) {
	p, err := r.method(name, ShapePage)
	if err != nil {
		return nil, err
	}
	if err := requirePage(name, page); err != nil {
		return nil, err
	}
	sort, err := page.Sort()
	if err != nil {
		return nil, types.WrapError(types.MalformedQueryKind, name, err)
	}
	result := types.NewPage[T](page.GetPage(), page.GetPageSize())
	err = r.within(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		total, err := r.count(ctx, uow, p, b)
		if err != nil || total == 0 {
			return err
		}
		result.TotalElements = total
		result.Content, err = r.entities(ctx, uow, p, b, query.Options{
			Sort:   sort,
			Limit:  page.GetPageSize(),
			Offset: page.GetOffset(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// QuerySlice reads one row past the page to learn whether another page
// follows; it never counts.
func (r *Base[T]) QuerySlice(ctx context.Context, name string, b query.Binding, page *types.PageRequest) (*types.Slice[T], error) {
	p, err := r.method(name, ShapeSlice)
	if err != nil {
		return nil, err
	}
	if err := requirePage(name, page); err != nil {
		return nil, err
	}
	sort, err := page.Sort()
	if err != nil {
		return nil, types.WrapError(types.MalformedQueryKind, name, err)
	}
	size := page.GetPageSize()
	var recs []*T
	err = r.within(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		recs, err = r.entities(ctx, uow, p, b, query.Options{Sort: sort, Limit: size + 1, Offset: page.GetOffset()})
		return err
	})
	if err != nil {
		return nil, err
	}
	hasNext := len(recs) > size
	if hasNext {
		recs = recs[:size]
	}
	return types.NewSlice(page.GetPage(), size, recs, hasNext), nil
}

func requirePage(op string, page *types.PageRequest) error {
	if page == nil {
		return types.NewError(types.MalformedQueryKind, op, "page request is required")
	}
	return nil
}

func (r *Base[T]) QueryCount(ctx context.Context, name string, b query.Binding) (int, error) {
	p, err := r.method(name, ShapeCount)
	if err != nil {
		return 0, err
	}
	var n int
	err = r.within(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		n, err = r.count(ctx, uow, p, b)
		return err
	})
	return n, err
}

func (r *Base[T]) QueryExists(ctx context.Context, name string, b query.Binding) (bool, error) {
	p, err := r.method(name, ShapeExists)
	if err != nil {
		return false, err
	}
	var exists bool
	err = r.within(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		if p.Descriptor.Select.Kind != query.SelectExists {
			n, err := r.count(ctx, uow, p, b)
			exists = n > 0
			return err
		}
		st, err := r.statement(ctx, uow, p, b, query.Options{})
		if err != nil {
			return err
		}
		var one int
		err = uow.Tx().QueryRowContext(ctx, st.SQL, st.Args...).Scan(&one)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil
		case err != nil:
			return session.TranslateError(name, err)
		}
		exists = true
		return nil
	})
	return exists, err
}

// Modify runs a bulk update or delete and returns the affected row count.
// Records already loaded keep their state unless the method clears the unit
// of work.
func (r *Base[T]) Modify(ctx context.Context, name string, b query.Binding) (int, error) {
	p, err := r.method(name, ShapeModifying)
	if err != nil {
		return 0, err
	}
	var n int64
	err = r.within(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		st, err := query.Compile(p.Descriptor, b, query.Options{})
		if err != nil {
			return err
		}
		if p.Method.Modifying.FlushAutomatically || uow.HasChanges(r.meta.Name) {
			if err := uow.Flush(ctx); err != nil {
				return err
			}
		}
		r.logger.Debug("Executing modifying method", "uow", uow.ID(), "method", name, "sql", st.SQL)
		res, err := uow.Tx().ExecContext(ctx, st.SQL, st.Args...)
		if err != nil {
			return session.TranslateError(name, err)
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		if p.Method.Modifying.ClearAutomatically {
			uow.Clear("modifying method " + name)
		}
		return nil
	})
	return int(n), err
}

// QueryScalars runs a method selecting one value per row.
func QueryScalars[V any, T any](ctx context.Context, r *Base[T], name string, b query.Binding) ([]V, error) {
	p, err := r.method(name, ShapeScalars)
	if err != nil {
		return nil, err
	}
	out := make([]V, 0)
	err = r.within(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		st, err := r.statement(ctx, uow, p, b, query.Options{})
		if err != nil {
			return err
		}
		rows, err := uow.Tx().QueryContext(ctx, st.SQL, st.Args...)
		if err != nil {
			return session.TranslateError(name, err)
		}
		defer rows.Close()
		for rows.Next() {
			var v V
			if err := rows.Scan(&v); err != nil {
				return err
			}
			out = append(out, v)
		}
		return rows.Err()
	})
	return out, err
}

// QueryProjection runs a constructor-expression method, scanning rows into
// D by column name.
func QueryProjection[D any, T any](ctx context.Context, r *Base[T], name string, b query.Binding) ([]*D, error) {
	p, err := r.method(name, ShapeProjection)
	if err != nil {
		return nil, err
	}
	out := make([]*D, 0)
	err = r.within(ctx, func(ctx context.Context, uow *session.UnitOfWork) error {
		st, err := r.statement(ctx, uow, p, b, query.Options{})
		if err != nil {
			return err
		}
		if err := uow.Tx().NewRaw(st.SQL, st.Args...).Scan(ctx, &out); err != nil {
			return session.TranslateError(name, err)
		}
		return nil
	})
	return out, err
}
