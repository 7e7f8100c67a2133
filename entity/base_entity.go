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

package entity

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// BaseEntity carries the audit dates of an entity. They are maintained by
// the model hook on every insert and update.
type BaseEntity struct {
	CreatedDate      time.Time `bun:"created_date,nullzero" json:"createdDate"`
	LastModifiedDate time.Time `bun:"last_modified_date,nullzero" json:"lastModifiedDate"`
}

var _ bun.BeforeAppendModelHook = (*BaseEntity)(nil)

// InsertOnlyColumns keeps the creation date out of updates and merges.
func (e *BaseEntity) InsertOnlyColumns() []string {
	return []string{"created_date"}
}

func (e *BaseEntity) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	switch query.(type) {
	case *bun.InsertQuery:
		if e.CreatedDate.IsZero() {
			e.CreatedDate = now
		}
		e.LastModifiedDate = now
	case *bun.UpdateQuery:
		e.LastModifiedDate = now
	}
	return nil
}
