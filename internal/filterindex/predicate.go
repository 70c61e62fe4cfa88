/*
Copyright (C) 2026  hsearch Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package filterindex

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/shardwave/hsearch/internal/herrors"
)

// Op is a leaf predicate operator (spec §4.5's filter expression grammar).
type Op string

const (
	OpEq          Op = "eq"
	OpNe          Op = "ne"
	OpLt          Op = "lt"
	OpLte         Op = "lte"
	OpGt          Op = "gt"
	OpGte         Op = "gte"
	OpContains    Op = "contains"
	OpContainsAny Op = "contains_any"
)

// CompositeType is the boolean combinator of a non-leaf node.
type CompositeType string

const (
	And CompositeType = "and"
	Or  CompositeType = "or"
)

// Expr is one node of a filter expression tree. A leaf has Field/Op/Value
// set and Conditions nil; a composite has Type/Conditions set and Field
// empty. Exactly one of the two shapes applies to any given Expr.
type Expr struct {
	Field string `json:"field,omitempty"`
	Op    Op     `json:"op,omitempty"`
	Value any    `json:"value,omitempty"`

	Type       CompositeType `json:"type,omitempty"`
	Conditions []Expr        `json:"conditions,omitempty"`
}

// ScanFunc is a caller-supplied fallback: it must return the bitmap of rows
// whose field satisfies (op, value) by scanning the segment's raw column
// directly, for attributes with no AttributeIndex built (spec §4.5:
// "unindexed attributes fall back to a scan of segment columns using
// zero-copy decoding of the relevant column only").
type ScanFunc func(field string, op Op, value any) (*roaring.Bitmap, error)

// Evaluate walks expr against idx, returning the bitmap of surviving rows.
// Fields with no built AttributeIndex are delegated to scan.
func Evaluate(idx *SegmentIndex, expr Expr, scan ScanFunc) (*roaring.Bitmap, error) {
	if expr.Type == And || expr.Type == Or {
		return evaluateComposite(idx, expr, scan)
	}
	return evaluateLeaf(idx, expr, scan)
}

func evaluateComposite(idx *SegmentIndex, expr Expr, scan ScanFunc) (*roaring.Bitmap, error) {
	if len(expr.Conditions) == 0 {
		return nil, herrors.New(herrors.InvalidRequest, "filterindex: composite %q has no conditions", expr.Type)
	}
	var acc *roaring.Bitmap
	for _, cond := range expr.Conditions {
		bm, err := Evaluate(idx, cond, scan)
		if err != nil {
			return nil, err
		}
		if acc == nil {
			acc = bm
			continue
		}
		switch expr.Type {
		case And:
			acc.And(bm)
		case Or:
			acc.Or(bm)
		}
	}
	return acc, nil
}

func evaluateLeaf(idx *SegmentIndex, expr Expr, scan ScanFunc) (*roaring.Bitmap, error) {
	attrIdx, indexed := idx.Attributes[expr.Field]

	switch expr.Op {
	case OpEq:
		if !indexed {
			return scan(expr.Field, expr.Op, expr.Value)
		}
		return attrIdx.Eq(expr.Value), nil
	case OpNe:
		if !indexed {
			return scan(expr.Field, expr.Op, expr.Value)
		}
		return attrIdx.Ne(expr.Value, idx.Universe()), nil
	case OpContains:
		s, ok := expr.Value.(string)
		if !ok {
			return nil, herrors.New(herrors.InvalidRequest, "filterindex: contains requires a string value")
		}
		if !indexed {
			return scan(expr.Field, expr.Op, expr.Value)
		}
		return attrIdx.Contains(s), nil
	case OpContainsAny:
		list := asStringList(expr.Value)
		if list == nil {
			return nil, herrors.New(herrors.InvalidRequest, "filterindex: contains_any requires a list-of-string value")
		}
		if !indexed {
			return scan(expr.Field, expr.Op, expr.Value)
		}
		return attrIdx.ContainsAny(list), nil
	case OpLt, OpLte, OpGt, OpGte:
		f, ok := asFloat(expr.Value)
		if !ok {
			return nil, herrors.New(herrors.InvalidRequest, "filterindex: %s requires a numeric value", expr.Op)
		}
		if !indexed {
			return scan(expr.Field, expr.Op, expr.Value)
		}
		return attrIdx.RangeQuery(CompareOp(expr.Op), f)
	default:
		return nil, herrors.New(herrors.InvalidRequest, "filterindex: unsupported op %q", expr.Op)
	}
}
