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

package types

import (
	"fmt"
	"strings"
)

// QueryFilter describes a WHERE clause schema and its argument values.
type QueryFilter struct {
	Schema string
	Args   []interface{}
}

// NewQueryFilter creates a new query filter with schema and args.
func NewQueryFilter(schema string, args ...interface{}) *QueryFilter {
	return &QueryFilter{schema, args}
}

// Order is one sort key of a PageRequest, expressed on an entity attribute.
type Order struct {
	Property string
	Desc     bool
}

func (o Order) String() string {
	if o.Desc {
		return o.Property + " DESC"
	}
	return o.Property + " ASC"
}

// ParseOrder parses "username DESC" / "age" / "age asc".
func ParseOrder(s string) (Order, error) {
	fields := strings.Fields(s)
	switch len(fields) {
	case 1:
		return Order{Property: fields[0]}, nil
	case 2:
		switch strings.ToUpper(fields[1]) {
		case "ASC":
			return Order{Property: fields[0]}, nil
		case "DESC":
			return Order{Property: fields[0], Desc: true}, nil
		}
	}
	return Order{}, fmt.Errorf("invalid order expression %q", s)
}

// PageRequest describes pagination (1-based page number) and ordering.
type PageRequest struct {
	page     int
	pageSize int
	orders   []string // "username DESC", "age ASC"
}

func (p *PageRequest) GetPageSize() int {
	if p.pageSize < 1 {
		p.pageSize = 10
	}
	return p.pageSize
}

func (p *PageRequest) GetPage() int {
	if p.page < 1 {
		p.page = 1
	}
	return p.page
}

func (p *PageRequest) GetOffset() int {
	return (p.GetPage() - 1) * p.GetPageSize()
}

func (p *PageRequest) GetOrders() []string {
	return p.orders
}

// Sort parses the order expressions.
func (p *PageRequest) Sort() ([]Order, error) {
	orders := make([]Order, 0, len(p.orders))
	for _, s := range p.orders {
		o, err := ParseOrder(s)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// Next returns the request for the following page.
func (p *PageRequest) Next() *PageRequest {
	return NewPageRequest(p.GetPage()+1, p.GetPageSize(), p.orders)
}

// NewPageRequest constructs a PageRequest with order settings.
func NewPageRequest(page int, pageSize int, orders []string) *PageRequest {
	return &PageRequest{page, pageSize, orders}
}

// NewDefaultPageRequest constructs a PageRequest with no ordering.
func NewDefaultPageRequest(page int, pageSize int) *PageRequest {
	return NewPageRequest(page, pageSize, make([]string, 0))
}

// Page holds one page of items plus the total element count.
type Page[T any] struct {
	Number        int
	Size          int
	TotalElements int
	Content       []*T
}

// NewPage constructs an empty page container.
func NewPage[T any](number int, size int) *Page[T] {
	return &Page[T]{Number: number, Size: size, Content: make([]*T, 0)}
}

func (p *Page[T]) TotalPages() int {
	if p.Size < 1 {
		return 1
	}
	return (p.TotalElements + p.Size - 1) / p.Size
}

func (p *Page[T]) NumberOfElements() int { return len(p.Content) }

func (p *Page[T]) IsFirst() bool { return p.Number <= 1 }

func (p *Page[T]) IsLast() bool { return !p.HasNext() }

func (p *Page[T]) HasNext() bool { return p.Number < p.TotalPages() }

// Slice holds one page of items and whether another page follows. It never
// carries a total count.
type Slice[T any] struct {
	Number  int
	Size    int
	Content []*T
	hasNext bool
}

// NewSlice constructs a slice container.
func NewSlice[T any](number int, size int, content []*T, hasNext bool) *Slice[T] {
	if content == nil {
		content = make([]*T, 0)
	}
	return &Slice[T]{Number: number, Size: size, Content: content, hasNext: hasNext}
}

func (s *Slice[T]) HasNext() bool { return s.hasNext }

func (s *Slice[T]) IsFirst() bool { return s.Number <= 1 }

func (s *Slice[T]) IsLast() bool { return !s.hasNext }

func (s *Slice[T]) NumberOfElements() int { return len(s.Content) }

// MapPage converts page content keeping the paging metadata.
func MapPage[T any, R any](p *Page[T], fn func(*T) *R) *Page[R] {
	out := &Page[R]{Number: p.Number, Size: p.Size, TotalElements: p.TotalElements, Content: make([]*R, len(p.Content))}
	for i, v := range p.Content {
		out.Content[i] = fn(v)
	}
	return out
}

// Optional is a single result that may be absent.
type Optional[T any] struct {
	value *T
}

// OptionalOf wraps v; a nil v is an empty optional.
func OptionalOf[T any](v *T) Optional[T] {
	return Optional[T]{value: v}
}

// Empty returns an absent optional.
func Empty[T any]() Optional[T] {
	return Optional[T]{}
}

func (o Optional[T]) IsPresent() bool { return o.value != nil }

// Get returns the value or ErrNotFound when absent.
func (o Optional[T]) Get() (*T, error) {
	if o.value == nil {
		return nil, ErrNotFound
	}
	return o.value, nil
}

func (o Optional[T]) OrElse(other *T) *T {
	if o.value == nil {
		return other
	}
	return o.value
}
