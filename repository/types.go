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

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"

	"github.com/jhc920403/inflearn-data-jpa/types"
)

// CrudRepository defines basic CRUD operations for a generic entity type.
// Every operation joins the unit of work carried by the context, or runs in
// its own.
type CrudRepository[T any] interface {
	Save(ctx context.Context, entity *T) (*T, error)

	SaveAll(ctx context.Context, entities ...*T) ([]*T, error)

	FindByID(ctx context.Context, id int64) (types.Optional[T], error)

	GetByID(ctx context.Context, id int64) (*T, error)

	FindAll(ctx context.Context) ([]*T, error)

	List(ctx context.Context, filter *types.QueryFilter) ([]*T, error)

	Count(ctx context.Context) (int, error)

	ExistsByID(ctx context.Context, id int64) (bool, error)

	Delete(ctx context.Context, entity *T) error

	DeleteByID(ctx context.Context, id int64) error
}

// PageQueryRepository defines pagination functionality for listing entities.
type PageQueryRepository[T any] interface {
	FindAllPage(ctx context.Context, page *types.PageRequest) (*types.Page[T], error)
}

// Repository combines CRUD and pagination and exposes the Bun handle of the
// current unit of work for custom queries.
type Repository[T any] interface {
	CrudRepository[T]
	PageQueryRepository[T]
	Dialect() schema.Dialect
	IDB(ctx context.Context) bun.IDB
}
