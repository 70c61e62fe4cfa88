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
	"encoding/binary"
	"encoding/json"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/shardwave/hsearch/internal/herrors"
	"github.com/shardwave/hsearch/internal/model"
)

// wireAttribute is one attribute's serialized equality map plus, for
// numeric types, its flattened (value, row) pairs (the btree itself is
// rebuilt on load; only its contents need to survive the round trip).
type wireAttribute struct {
	Name     string           `json:"name"`
	Type     model.AttrType   `json:"type"`
	EqKeys   []string         `json:"eq_keys"`
	EqBitmaps [][]byte        `json:"eq_bitmaps"`
	Ranged   bool             `json:"ranged"`
	Values   []float64        `json:"values,omitempty"`
	Rows     []uint32         `json:"rows,omitempty"`
}

type wireSegmentIndex struct {
	RowCount   int             `json:"row_count"`
	Attributes []wireAttribute `json:"attributes"`
}

// Serialize encodes a SegmentIndex as "filteridx.bin" (spec §4.7's "filter
// index blobs"): a JSON envelope whose equality bitmaps use roaring's own
// compact binary serialization.
func (s *SegmentIndex) Serialize() ([]byte, error) {
	w := wireSegmentIndex{RowCount: s.RowCount}
	for name, attr := range s.Attributes {
		wa := wireAttribute{Name: name, Type: attr.Type}

		keys := make([]string, 0, len(attr.Equality))
		for k := range attr.Equality {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf, err := attr.Equality[k].ToBytes()
			if err != nil {
				return nil, herrors.Wrap(herrors.Storage, err, "filterindex: serializing bitmap for %q=%q", name, k)
			}
			wa.EqKeys = append(wa.EqKeys, k)
			wa.EqBitmaps = append(wa.EqBitmaps, buf)
		}

		if attr.Range != nil {
			wa.Ranged = true
			attr.Range.Ascend(func(it rangeItem) bool {
				wa.Values = append(wa.Values, it.Value)
				wa.Rows = append(wa.Rows, it.Row)
				return true
			})
		}
		w.Attributes = append(w.Attributes, wa)
	}
	sort.Slice(w.Attributes, func(i, j int) bool { return w.Attributes[i].Name < w.Attributes[j].Name })

	body, err := json.Marshal(w)
	if err != nil {
		return nil, herrors.Wrap(herrors.Storage, err, "filterindex: encoding")
	}
	out := make([]byte, 0, 4+len(body))
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(body)))
	out = append(out, l[:]...)
	out = append(out, body...)
	return out, nil
}

// Deserialize reverses Serialize.
func Deserialize(data []byte) (*SegmentIndex, error) {
	if len(data) < 4 {
		return nil, herrors.New(herrors.Corruption, "filterindex: truncated length")
	}
	n := int(binary.LittleEndian.Uint32(data))
	if len(data) < 4+n {
		return nil, herrors.New(herrors.Corruption, "filterindex: truncated body")
	}
	var w wireSegmentIndex
	if err := json.Unmarshal(data[4:4+n], &w); err != nil {
		return nil, herrors.Wrap(herrors.Corruption, err, "filterindex: decoding")
	}

	s := &SegmentIndex{RowCount: w.RowCount, Attributes: make(map[string]*AttributeIndex, len(w.Attributes))}
	for _, wa := range w.Attributes {
		attr := &AttributeIndex{Type: wa.Type, Equality: make(map[string]*roaring.Bitmap, len(wa.EqKeys))}
		for i, k := range wa.EqKeys {
			bm := roaring.New()
			if _, err := bm.FromBuffer(wa.EqBitmaps[i]); err != nil {
				return nil, herrors.Wrap(herrors.Corruption, err, "filterindex: decoding bitmap for %q=%q", wa.Name, k)
			}
			attr.Equality[k] = bm
		}
		if wa.Ranged {
			attr.Range = newBTree()
			for i, v := range wa.Values {
				attr.Range.ReplaceOrInsert(rangeItem{Value: v, Row: wa.Rows[i]})
			}
		}
		s.Attributes[wa.Name] = attr
	}
	return s, nil
}
