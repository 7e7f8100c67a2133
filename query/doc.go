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

// Package query turns method names and query text into resolved
// descriptors, and compiles descriptors with bound values into SQL.
//
// Both sources produce the same Descriptor, so
//
//	findByUsernameAndAgeGreaterThan
//
// and
//
//	select m from Member m where m.username = ?1 and m.age > ?2
//
// compile to identical statements. Values are bound either positionally
// (Args) or by name (NamedArgs); a placeholder without a value, or a value
// without a placeholder, fails with UnboundParameterKind before any SQL is
// produced.
package query
