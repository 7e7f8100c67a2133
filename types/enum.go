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

// Common illegal/default values used by enums.
const (
	IllegalValue = -1
	IllegalName  = "unknown"
	IllegalDesc  = "unknown"
)

// BaseEnum represents a basic enum contract used by domain types.
type BaseEnum interface {
	IsValid() bool
	Number() int
	String() string
	Desc() string
	Name() string
}

// LockMode is the concurrency-control mode attached to a query.
type LockMode int

const (
	LockNone LockMode = iota
	LockPessimisticWrite
)

var _ BaseEnum = LockNone

var lockModeNames = map[LockMode][2]string{
	LockNone:             {"NONE", "no lock"},
	LockPessimisticWrite: {"PESSIMISTIC_WRITE", "exclusive row lock held until the transaction ends"},
}

func (m LockMode) IsValid() bool {
	_, ok := lockModeNames[m]
	return ok
}

func (m LockMode) Number() int {
	if !m.IsValid() {
		return IllegalValue
	}
	return int(m)
}

func (m LockMode) String() string { return m.Name() }

func (m LockMode) Name() string {
	if v, ok := lockModeNames[m]; ok {
		return v[0]
	}
	return IllegalName
}

func (m LockMode) Desc() string {
	if v, ok := lockModeNames[m]; ok {
		return v[1]
	}
	return IllegalDesc
}

// ReadOnlyPolicy decides what happens when a record loaded with the read-only
// hint is modified and then flushed.
type ReadOnlyPolicy int

const (
	// ReadOnlyIgnore drops the change and logs a warning.
	ReadOnlyIgnore ReadOnlyPolicy = iota
	// ReadOnlyReject fails the flush with ErrReadOnlyViolation.
	ReadOnlyReject
)

var _ BaseEnum = ReadOnlyIgnore

func (p ReadOnlyPolicy) IsValid() bool {
	return p == ReadOnlyIgnore || p == ReadOnlyReject
}

func (p ReadOnlyPolicy) Number() int {
	if !p.IsValid() {
		return IllegalValue
	}
	return int(p)
}

func (p ReadOnlyPolicy) String() string { return p.Name() }

func (p ReadOnlyPolicy) Name() string {
	switch p {
	case ReadOnlyIgnore:
		return "ignore"
	case ReadOnlyReject:
		return "reject"
	default:
		return IllegalName
	}
}

func (p ReadOnlyPolicy) Desc() string {
	switch p {
	case ReadOnlyIgnore:
		return "changes to read-only records are dropped at flush"
	case ReadOnlyReject:
		return "changes to read-only records fail the flush"
	default:
		return IllegalDesc
	}
}

// ParseReadOnlyPolicy maps a config string to a policy. The empty string is
// ReadOnlyIgnore; any other value must name a policy.
func ParseReadOnlyPolicy(s string) (ReadOnlyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ignore":
		return ReadOnlyIgnore, nil
	case "reject":
		return ReadOnlyReject, nil
	default:
		return ReadOnlyIgnore, fmt.Errorf("unknown read-only policy %q, want ignore or reject", s)
	}
}
