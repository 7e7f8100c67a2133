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
	"errors"
	"fmt"
)

// Kind classifies failures raised by the access layer.
type Kind int

const (
	UnknownKind Kind = iota
	MalformedQueryKind
	UnboundParameterKind
	NonUniqueResultKind
	LockTimeoutKind
	DetachedAccessKind
	ReadOnlyViolationKind
	NotFoundKind
)

func (k Kind) String() string {
	switch k {
	case MalformedQueryKind:
		return "malformed query"
	case UnboundParameterKind:
		return "unbound parameter"
	case NonUniqueResultKind:
		return "non-unique result"
	case LockTimeoutKind:
		return "lock timeout"
	case DetachedAccessKind:
		return "detached access"
	case ReadOnlyViolationKind:
		return "read-only violation"
	case NotFoundKind:
		return "not found"
	default:
		return "unknown"
	}
}

// Retryable reports whether a caller may retry an operation failing with this kind.
func (k Kind) Retryable() bool {
	return k == LockTimeoutKind
}

// Sentinel errors, one per kind. errors.Is(err, ErrLockTimeout) matches any
// *Error of that kind.
var (
	ErrMalformedQuery    = errors.New("datajpa: malformed query")
	ErrUnboundParameter  = errors.New("datajpa: unbound parameter")
	ErrNonUniqueResult   = errors.New("datajpa: non-unique result")
	ErrLockTimeout       = errors.New("datajpa: lock timeout")
	ErrDetachedAccess    = errors.New("datajpa: detached access")
	ErrReadOnlyViolation = errors.New("datajpa: read-only violation")
	ErrNotFound          = errors.New("datajpa: entity not found")
)

var sentinels = map[Kind]error{
	MalformedQueryKind:    ErrMalformedQuery,
	UnboundParameterKind:  ErrUnboundParameter,
	NonUniqueResultKind:   ErrNonUniqueResult,
	LockTimeoutKind:       ErrLockTimeout,
	DetachedAccessKind:    ErrDetachedAccess,
	ReadOnlyViolationKind: ErrReadOnlyViolation,
	NotFoundKind:          ErrNotFound,
}

// Error is the typed error carried through every layer. Op names the failing
// operation (a repository method, a query name), Err keeps the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// Error returns the error string.
func (e *Error) Error() string {
	s := "datajpa: " + e.Kind.String()
	if e.Op != "" {
		s += " [" + e.Op + "]"
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the same kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && target == s
}

// NewError builds an *Error with a formatted message.
func NewError(kind Kind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// WrapError builds an *Error around a cause.
func WrapError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or UnknownKind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return UnknownKind
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}
