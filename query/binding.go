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

package query

import (
	"sort"

	"github.com/jhc920403/inflearn-data-jpa/types"
)

// Binding supplies the values of a descriptor's placeholders. Every
// placeholder must be bound and every supplied value must be used.
type Binding interface {
	check(op string, params []Param) error
	value(p Param) interface{}
}

// Args binds positional placeholders ?1..?n, in order.
type Args []interface{}

// NamedArgs binds named placeholders by exact name.
type NamedArgs map[string]interface{}

func (a Args) check(op string, params []Param) error {
	used := make(map[int]bool, len(params))
	for _, p := range params {
		if p.Name != "" {
			return types.NewError(types.UnboundParameterKind, op, "parameter %s needs a named binding", p)
		}
		if p.Position > len(a) {
			return types.NewError(types.UnboundParameterKind, op, "parameter %s is not bound (%d values supplied)", p, len(a))
		}
		used[p.Position] = true
	}
	for i := 1; i <= len(a); i++ {
		if !used[i] {
			return types.NewError(types.UnboundParameterKind, op, "value %d does not match any parameter", i)
		}
	}
	return nil
}

func (a Args) value(p Param) interface{} {
	return a[p.Position-1]
}

func (n NamedArgs) check(op string, params []Param) error {
	used := make(map[string]bool, len(params))
	for _, p := range params {
		if p.Name == "" {
			return types.NewError(types.UnboundParameterKind, op, "parameter %s needs a positional binding", p)
		}
		if _, ok := n[p.Name]; !ok {
			return types.NewError(types.UnboundParameterKind, op, "parameter %s is not bound", p)
		}
		used[p.Name] = true
	}
	var extra []string
	for name := range n {
		if !used[name] {
			extra = append(extra, name)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return types.NewError(types.UnboundParameterKind, op, "values %v do not match any parameter", extra)
	}
	return nil
}

func (n NamedArgs) value(p Param) interface{} {
	return n[p.Name]
}
