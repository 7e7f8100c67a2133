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

import "strconv"

// StatementKind is the statement a descriptor compiles to.
type StatementKind int

const (
	SelectStatement StatementKind = iota
	UpdateStatement
	DeleteStatement
)

func (k StatementKind) String() string {
	switch k {
	case UpdateStatement:
		return "UPDATE"
	case DeleteStatement:
		return "DELETE"
	default:
		return "SELECT"
	}
}

// SelectionKind tells what a select statement returns.
type SelectionKind int

const (
	SelectEntity SelectionKind = iota
	SelectPaths
	SelectConstructor
	SelectCount
	SelectExists
)

// Descriptor is the resolved form of a query, whether it was derived from a
// method name or parsed from query text.
type Descriptor struct {
	Source   string
	Kind     StatementKind
	Entity   *EntityMeta
	Alias    string
	Distinct bool
	Select   Selection
	Joins    []*Join
	Where    Expr
	OrderBy  []OrderItem
	Limit    int
	Sets     []Assignment
	Params   []Param

	model *Metamodel
}

// Named reports whether the descriptor uses named parameters.
func (d *Descriptor) Named() bool {
	return len(d.Params) > 0 && d.Params[0].Name != ""
}

// Selection is the select list.
type Selection struct {
	Kind       SelectionKind
	Paths      []*PathExpr
	Projection *Projection
}

// Join is a join on a to-one relation, optionally fetching the target's
// columns along with the root entity.
type Join struct {
	Relation RelationMeta
	Target   *EntityMeta
	Owner    string
	Alias    string
	Left     bool
	Fetch    bool
}

// OrderItem is one ORDER BY key.
type OrderItem struct {
	Path *PathExpr
	Desc bool
}

// Assignment is one SET item of an update.
type Assignment struct {
	Path  *PathExpr
	Value Expr
}

// Param is a placeholder: named (Name set) or positional (Position >= 1).
type Param struct {
	Name     string
	Position int
}

func (p Param) String() string {
	if p.Name != "" {
		return ":" + p.Name
	}
	return "?" + strconv.Itoa(p.Position)
}

// Expr is a node of a condition or value expression.
type Expr interface {
	expr()
}

// PathExpr is alias.property after resolution. Parts holds the raw segments.
type PathExpr struct {
	Parts  []string
	Alias  string
	Column string
}

// ParamExpr references a bound value.
type ParamExpr struct {
	Param Param
}

// LiteralExpr is a constant: int64, float64, string, bool or nil.
type LiteralExpr struct {
	Value interface{}
}

// ArithExpr is left op right with op one of + - * /.
type ArithExpr struct {
	Op          string
	Left, Right Expr
}

// FuncExpr is a single-argument function: UPPER, LOWER, LENGTH or ABS.
type FuncExpr struct {
	Name string
	Arg  Expr
}

// CompareExpr is left op right with op one of = <> < <= > >=.
type CompareExpr struct {
	Op          string
	Left, Right Expr
}

// LikeWrap adds wildcards around a bound pattern.
type LikeWrap int

const (
	LikeAsIs LikeWrap = iota
	LikeStarting
	LikeEnding
	LikeContaining
)

// LikeExpr is left [NOT] LIKE pattern.
type LikeExpr struct {
	Left, Pattern Expr
	Not           bool
	Wrap          LikeWrap
}

// InExpr is left [NOT] IN, either a collection parameter or a value list.
type InExpr struct {
	Left  Expr
	Param *ParamExpr
	Items []Expr
	Not   bool
}

// BetweenExpr is left [NOT] BETWEEN low AND high.
type BetweenExpr struct {
	Left, Low, High Expr
	Not             bool
}

// NullExpr is left IS [NOT] NULL.
type NullExpr struct {
	Left Expr
	Not  bool
}

// LogicalExpr is left AND|OR right.
type LogicalExpr struct {
	Op          string
	Left, Right Expr
}

// NotExpr negates a condition.
type NotExpr struct {
	X Expr
}

func (*PathExpr) expr()    {}
func (*ParamExpr) expr()   {}
func (*LiteralExpr) expr() {}
func (*ArithExpr) expr()   {}
func (*FuncExpr) expr()    {}
func (*CompareExpr) expr() {}
func (*LikeExpr) expr()    {}
func (*InExpr) expr()      {}
func (*BetweenExpr) expr() {}
func (*NullExpr) expr()    {}
func (*LogicalExpr) expr() {}
func (*NotExpr) expr()     {}

// walk visits e and its children in source order.
func walk(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch x := e.(type) {
	case *ArithExpr:
		walk(x.Left, fn)
		walk(x.Right, fn)
	case *FuncExpr:
		walk(x.Arg, fn)
	case *CompareExpr:
		walk(x.Left, fn)
		walk(x.Right, fn)
	case *LikeExpr:
		walk(x.Left, fn)
		walk(x.Pattern, fn)
	case *InExpr:
		walk(x.Left, fn)
		if x.Param != nil {
			walk(x.Param, fn)
		}
		for _, item := range x.Items {
			walk(item, fn)
		}
	case *BetweenExpr:
		walk(x.Left, fn)
		walk(x.Low, fn)
		walk(x.High, fn)
	case *NullExpr:
		walk(x.Left, fn)
	case *LogicalExpr:
		walk(x.Left, fn)
		walk(x.Right, fn)
	case *NotExpr:
		walk(x.X, fn)
	}
}

// Hints are execution hints attached to a query.
type Hints struct {
	// ReadOnly attaches the returned records untracked: changes to them are
	// not flushed.
	ReadOnly bool
}
