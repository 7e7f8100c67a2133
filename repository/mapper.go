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

	"github.com/jhc920403/inflearn-data-jpa/query"
	"github.com/jhc920403/inflearn-data-jpa/session"
)

// Fetched holds the relation targets read along with one record, keyed by
// relation name.
type Fetched map[string]interface{}

// RowMapper scans the rows of an entity selection. The returned Fetched
// slice is nil or parallel to the records.
type RowMapper[T any] func(ctx context.Context, db bun.IDB, st *query.Statement) ([]*T, []Fetched, error)

// Binder wires the associations of a record once it is managed by uow.
type Binder[T any] func(ctx context.Context, uow *session.UnitOfWork, rec *T, fetched Fetched)

// ScanModels maps rows straight onto the bun model of T. It serves entities
// without fetched relations.
func ScanModels[T any](ctx context.Context, db bun.IDB, st *query.Statement) ([]*T, []Fetched, error) {
	recs := make([]*T, 0)
	if err := db.NewRaw(st.SQL, st.Args...).Scan(ctx, &recs); err != nil {
		return nil, nil, err
	}
	return recs, nil, nil
}
