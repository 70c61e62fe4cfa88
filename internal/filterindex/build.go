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
	"github.com/shardwave/hsearch/internal/model"
	"github.com/shardwave/hsearch/internal/segment"
)

// segmentReader is the subset of *segment.Reader the builder and fallback
// scan need; narrowed to ease testing with fixtures that don't go through a
// full segment round trip.
type segmentReader interface {
	RowCount() int
	ColumnValues(name string) ([]any, model.AttrType, bool)
}

var _ segmentReader = (*segment.Reader)(nil)

// BuildFromSegment constructs a SegmentIndex covering every schema attribute
// marked Indexed (spec §4.5: indexing is opt-in per attribute). Attributes
// present in the schema but not marked Indexed are left out of the result;
// Evaluate falls back to ScanColumn for those via the caller's ScanFunc.
func BuildFromSegment(r segmentReader, schema model.Schema) *SegmentIndex {
	idx := &SegmentIndex{RowCount: r.RowCount(), Attributes: make(map[string]*AttributeIndex)}
	for name, attr := range schema.Attributes {
		if !attr.Indexed {
			continue
		}
		values, typ, ok := r.ColumnValues(name)
		if !ok {
			continue
		}
		idx.Attributes[name] = Build(typ, values)
	}
	return idx
}

// ScanColumn evaluates (op, value) against one column's raw per-row values,
// the fallback path for attributes BuildFromSegment did not index. It takes
// the column's values rather than a field name; NewScanFunc wraps it in a
// closure that looks the column up on a reader, giving a ScanFunc.
func ScanColumn(values []any, op Op, value any) (*roaring.Bitmap, error) {
	out := roaring.New()
	switch op {
	case OpEq:
		for row, v := range values {
			if v != nil && canonical(v) == canonical(value) {
				out.Add(uint32(row))
			}
		}
	case OpNe:
		for row, v := range values {
			if v != nil && canonical(v) != canonical(value) {
				out.Add(uint32(row))
			}
		}
	case OpLt, OpLte, OpGt, OpGte:
		f, ok := asFloat(value)
		if !ok {
			return nil, herrors.New(herrors.InvalidRequest, "filterindex: %s requires a numeric value", op)
		}
		for row, v := range values {
			vf, ok := asFloat(v)
			if !ok {
				continue
			}
			if compareMatches(op, vf, f) {
				out.Add(uint32(row))
			}
		}
	case OpContains:
		target, ok := value.(string)
		if !ok {
			return nil, herrors.New(herrors.InvalidRequest, "filterindex: contains requires a string value")
		}
		for row, v := range values {
			for _, e := range asStringList(v) {
				if e == target {
					out.Add(uint32(row))
					break
				}
			}
		}
	case OpContainsAny:
		targets := asStringList(value)
		if targets == nil {
			return nil, herrors.New(herrors.InvalidRequest, "filterindex: contains_any requires a list-of-string value")
		}
		set := make(map[string]bool, len(targets))
		for _, t := range targets {
			set[t] = true
		}
		for row, v := range values {
			for _, e := range asStringList(v) {
				if set[e] {
					out.Add(uint32(row))
					break
				}
			}
		}
	default:
		return nil, herrors.New(herrors.InvalidRequest, "filterindex: unsupported op %q", op)
	}
	return out, nil
}

func compareMatches(op Op, v, pivot float64) bool {
	switch op {
	case OpLt:
		return v < pivot
	case OpLte:
		return v <= pivot
	case OpGt:
		return v > pivot
	case OpGte:
		return v >= pivot
	default:
		return false
	}
}

// NewScanFunc builds a ScanFunc that scans r's raw column for fields with no
// built AttributeIndex. Returns NotFound if the field does not exist in the
// segment at all.
func NewScanFunc(r segmentReader) ScanFunc {
	return func(field string, op Op, value any) (*roaring.Bitmap, error) {
		values, _, ok := r.ColumnValues(field)
		if !ok {
			return nil, herrors.New(herrors.NotFound, "filterindex: segment has no column %q", field)
		}
		return ScanColumn(values, op, value)
	}
}
