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

package relation

import (
	"context"
	"fmt"

	"github.com/jhc920403/inflearn-data-jpa/types"
)

// State is the resolution state of a Ref.
type State int

const (
	Unresolved State = iota
	Resolving
	Resolved
	Failed
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Resolving:
		return "resolving"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is the unit of work a lazy reference loads through.
type Session interface {
	Active() bool
}

// Loader fetches the target of a reference. A nil result means the target
// does not exist.
type Loader[T any] func(ctx context.Context, id int64) (*T, error)

// Ref is a to-one association loaded on first use. It is bound to the unit
// of work that produced it: resolving after that unit of work ended fails
// with DetachedAccessKind. A Ref is not safe for concurrent use.
type Ref[T any] struct {
	id      int64
	state   State
	value   *T
	err     error
	session Session
	loader  Loader[T]
}

// Lazy returns an unresolved reference to id that loads through loader while
// session is active.
func Lazy[T any](id int64, session Session, loader Loader[T]) *Ref[T] {
	return &Ref[T]{id: id, session: session, loader: loader}
}

// Of returns a resolved reference.
func Of[T any](id int64, value *T) *Ref[T] {
	return &Ref[T]{id: id, state: Resolved, value: value}
}

// ID returns the target identifier; known without loading.
func (r *Ref[T]) ID() int64 {
	return r.id
}

func (r *Ref[T]) State() State {
	return r.state
}

// Get returns the target if it has been resolved.
func (r *Ref[T]) Get() (*T, bool) {
	if r.state != Resolved {
		return nil, false
	}
	return r.value, true
}

// Resolve loads the target on first call and returns the same value (or
// the same failure) afterwards.
func (r *Ref[T]) Resolve(ctx context.Context) (*T, error) {
	switch r.state {
	case Resolved:
		return r.value, nil
	case Failed:
		return nil, r.err
	case Resolving:
		return nil, types.NewError(types.DetachedAccessKind, "Ref.Resolve", "reference %d is already resolving", r.id)
	}
	if r.session == nil || !r.session.Active() {
		return nil, types.NewError(types.DetachedAccessKind, "Ref.Resolve", "reference %d is not attached to an active unit of work", r.id)
	}
	if r.loader == nil {
		return nil, r.fail(types.NewError(types.NotFoundKind, "Ref.Resolve", "reference %d has no loader", r.id))
	}

	r.state = Resolving
	v, err := r.loader(ctx, r.id)
	switch {
	case err != nil:
		return nil, r.fail(err)
	case v == nil:
		return nil, r.fail(types.NewError(types.NotFoundKind, "Ref.Resolve", "target %d does not exist", r.id))
	}
	r.Fill(v)
	return v, nil
}

// Fill resolves an unresolved reference with a value loaded elsewhere, for
// example by a fetch join. It has no effect on a resolved reference.
func (r *Ref[T]) Fill(v *T) {
	if r.state == Resolved || v == nil {
		return
	}
	r.value, r.err, r.state = v, nil, Resolved
	r.loader = nil
}

func (r *Ref[T]) fail(err error) error {
	r.state, r.err = Failed, err
	return err
}

func (r *Ref[T]) String() string {
	return fmt.Sprintf("Ref(id=%d, state=%s)", r.id, r.state)
}
