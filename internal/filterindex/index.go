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

// Package filterindex builds and evaluates per-segment attribute filter
// structures (spec §4.5): compressed bitmaps for equality/membership,
// sorted range trees for numeric comparisons. Bitmap entries are segment-
// local row positions (0..RowCount-1), not document ids, so they stay
// within roaring's native uint32 domain regardless of how ids are assigned;
// callers translate row position back to a document id via the segment
// reader's row order. Grounded on teacher storage/index.go's google/btree
// secondary index for the range half, and RoaringBitmap/roaring/v2 for the
// equality half (the teacher has no bitmap index of its own; roaring is the
// ecosystem-standard compressed bitmap library and appears in the retrieved
// pack's consistent-hashing/sharding examples).
package filterindex

import (
	"encoding/json"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/btree"

	"github.com/shardwave/hsearch/internal/herrors"
	"github.com/shardwave/hsearch/internal/model"
)

// rangeItem is one (value, row) pair kept in a numeric attribute's btree.
type rangeItem struct {
	Value float64
	Row   uint32
}

func lessRangeItem(a, b rangeItem) bool {
	if a.Value != b.Value {
		return a.Value < b.Value
	}
	return a.Row < b.Row
}

// btreeDegree matches the teacher's storage/index.go deltaBtree degree.
const btreeDegree = 8

func newBTree() *btree.BTreeG[rangeItem] {
	return btree.NewG(btreeDegree, lessRangeItem)
}

// AttributeIndex holds the structures built for one indexed attribute.
// Equality is always populated (every indexable type supports eq/ne);
// Range is only set for int64/float64 attributes.
type AttributeIndex struct {
	Type     model.AttrType
	Equality map[string]*roaring.Bitmap // canonical value -> matching rows
	Range    *btree.BTreeG[rangeItem]   // numeric types only
}

// canonical renders a value to the string key equality bitmaps are indexed
// by. Using JSON for non-string scalars keeps int64(3) and float64(3) from
// colliding under plain fmt.Sprint, while staying cheap to compute.
func canonical(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	default:
		b, _ := json.Marshal(vv)
		return string(b)
	}
}

// Build constructs an AttributeIndex from one column's per-row values.
// values[row] == nil means the attribute is absent on that row: no equality
// or range entry is added for it, so eq never matches it.
func Build(attrType model.AttrType, values []any) *AttributeIndex {
	idx := &AttributeIndex{Type: attrType, Equality: make(map[string]*roaring.Bitmap)}
	if attrType == model.AttrInt64 || attrType == model.AttrFloat64 {
		idx.Range = newBTree()
	}

	addEq := func(key string, row uint32) {
		bm, ok := idx.Equality[key]
		if !ok {
			bm = roaring.New()
			idx.Equality[key] = bm
		}
		bm.Add(row)
	}

	for row, v := range values {
		if v == nil {
			continue
		}
		switch attrType {
		case model.AttrListString:
			list := asStringList(v)
			for _, e := range list {
				addEq(canonical(e), uint32(row))
			}
		default:
			addEq(canonical(v), uint32(row))
			if idx.Range != nil {
				if f, ok := asFloat(v); ok {
					idx.Range.ReplaceOrInsert(rangeItem{Value: f, Row: uint32(row)})
				}
			}
		}
	}
	return idx
}

func asStringList(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func asFloat(v any) (float64, bool) {
	switch vv := v.(type) {
	case int64:
		return float64(vv), true
	case int:
		return float64(vv), true
	case float64:
		return vv, true
	case float32:
		return float64(vv), true
	default:
		return 0, false
	}
}

// Eq returns rows where the attribute equals value.
func (idx *AttributeIndex) Eq(value any) *roaring.Bitmap {
	if bm, ok := idx.Equality[canonical(value)]; ok {
		return bm.Clone()
	}
	return roaring.New()
}

// Ne returns the rows of universe that are not in Eq(value). Evaluate
// passes every row of the segment as universe, so rows where the attribute
// is absent are included in the result.
func (idx *AttributeIndex) Ne(value any, universe *roaring.Bitmap) *roaring.Bitmap {
	out := universe.Clone()
	out.AndNot(idx.Eq(value))
	return out
}

// Contains returns rows whose list-of-string attribute contains value.
func (idx *AttributeIndex) Contains(value string) *roaring.Bitmap {
	return idx.Eq(value)
}

// ContainsAny returns rows whose list-of-string attribute contains at least
// one of values.
func (idx *AttributeIndex) ContainsAny(values []string) *roaring.Bitmap {
	out := roaring.New()
	for _, v := range values {
		out.Or(idx.Eq(v))
	}
	return out
}

// Range performs a numeric comparison (lt/lte/gt/gte) using the btree.
func (idx *AttributeIndex) RangeQuery(op CompareOp, value float64) (*roaring.Bitmap, error) {
	if idx.Range == nil {
		return nil, herrors.New(herrors.InvalidRequest, "filterindex: range query on non-numeric attribute")
	}
	out := roaring.New()
	switch op {
	case OpLT:
		idx.Range.AscendLessThan(rangeItem{Value: value}, func(it rangeItem) bool {
			out.Add(it.Row)
			return true
		})
	case OpLTE:
		idx.Range.AscendLessThan(rangeItem{Value: value, Row: ^uint32(0)}, func(it rangeItem) bool {
			out.Add(it.Row)
			return true
		})
	case OpGT:
		idx.Range.AscendGreaterOrEqual(rangeItem{Value: value, Row: ^uint32(0)}, func(it rangeItem) bool {
			out.Add(it.Row)
			return true
		})
	case OpGTE:
		idx.Range.AscendGreaterOrEqual(rangeItem{Value: value}, func(it rangeItem) bool {
			out.Add(it.Row)
			return true
		})
	default:
		return nil, herrors.New(herrors.InvalidRequest, "filterindex: unsupported range op %q", op)
	}
	return out, nil
}

// CompareOp is a numeric comparison operator.
type CompareOp string

const (
	OpLT  CompareOp = "lt"
	OpLTE CompareOp = "lte"
	OpGT  CompareOp = "gt"
	OpGTE CompareOp = "gte"
)

// SegmentIndex is the set of AttributeIndexes built for one segment, keyed
// by attribute name.
type SegmentIndex struct {
	RowCount   int
	Attributes map[string]*AttributeIndex
}

// Universe is the bitmap of all rows in the segment, used as the starting
// set for Ne and for unindexed-attribute fallback scans.
func (s *SegmentIndex) Universe() *roaring.Bitmap {
	bm := roaring.New()
	bm.AddRange(0, uint64(s.RowCount))
	return bm
}

func (s *SegmentIndex) String() string {
	return fmt.Sprintf("SegmentIndex(rows=%d, attrs=%d)", s.RowCount, len(s.Attributes))
}
