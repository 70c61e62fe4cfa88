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

package segment

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"sort"

	"github.com/pierrec/lz4/v4"

	"github.com/shardwave/hsearch/internal/herrors"
	"github.com/shardwave/hsearch/internal/model"
)

// Reader provides random access into a decoded segment without re-parsing
// the header on every call.
type Reader struct {
	hdr     header
	ids     []uint64
	vectors []float32 // flat, hdr.RowCount*hdr.VectorDim
	columns map[string]decodedColumn
}

type decodedColumn struct {
	typ      model.AttrType
	presence []byte
	values   []any // values[i] is only meaningful when presence bit i is set
}

// Open parses a segment blob produced by Write.
func Open(data []byte) (*Reader, error) {
	if len(data) < len(Magic)+1+4 {
		return nil, herrors.New(herrors.Corruption, "segment: truncated header")
	}
	if string(data[:len(Magic)]) != Magic {
		return nil, herrors.New(herrors.Corruption, "segment: bad magic")
	}
	pos := len(Magic)
	version := data[pos]
	pos++
	if version != FormatVersion {
		return nil, herrors.New(herrors.Corruption, "segment: unsupported version %d", version)
	}
	hdrLen := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4
	if pos+hdrLen > len(data) {
		return nil, herrors.New(herrors.Corruption, "segment: truncated header body")
	}
	var h header
	if err := json.Unmarshal(data[pos:pos+hdrLen], &h); err != nil {
		return nil, herrors.Wrap(herrors.Corruption, err, "segment: decoding header")
	}
	pos += hdrLen

	var raw []byte
	if h.BodyLen < 0 {
		n := -h.BodyLen
		if pos+n > len(data) {
			return nil, herrors.New(herrors.Corruption, "segment: truncated uncompressed body")
		}
		raw = data[pos : pos+n]
	} else {
		if pos+h.BodyLen > len(data) {
			return nil, herrors.New(herrors.Corruption, "segment: truncated compressed body")
		}
		raw = make([]byte, h.RawBodyLen)
		n, err := lz4.UncompressBlock(data[pos:pos+h.BodyLen], raw)
		if err != nil {
			return nil, herrors.Wrap(herrors.Corruption, err, "segment: lz4 decompress")
		}
		raw = raw[:n]
	}

	r := &Reader{hdr: h, columns: make(map[string]decodedColumn, len(h.Columns))}
	off := 0

	if len(raw) < off+8*h.RowCount {
		return nil, herrors.New(herrors.Corruption, "segment: truncated id column")
	}
	r.ids = make([]uint64, h.RowCount)
	for i := 0; i < h.RowCount; i++ {
		r.ids[i] = binary.LittleEndian.Uint64(raw[off:])
		off += 8
	}

	if h.VectorDim > 0 {
		n := h.RowCount * h.VectorDim
		if len(raw) < off+4*n {
			return nil, herrors.New(herrors.Corruption, "segment: truncated vector column")
		}
		r.vectors = make([]float32, n)
		for i := 0; i < n; i++ {
			r.vectors[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
			off += 4
		}
	}

	for _, col := range h.Columns {
		presenceLen := (h.RowCount + 7) / 8
		if len(raw) < off+presenceLen {
			return nil, herrors.New(herrors.Corruption, "segment: truncated presence bitmap for %q", col.Name)
		}
		presence := raw[off : off+presenceLen]
		off += presenceLen

		values := make([]any, h.RowCount)
		for i := 0; i < h.RowCount; i++ {
			if presence[i/8]&(1<<uint(i%8)) == 0 {
				continue
			}
			v, n, err := decodeAttrValue(col.Type, raw[off:])
			if err != nil {
				return nil, herrors.Wrap(herrors.Corruption, err, "segment: decoding column %q row %d", col.Name, i)
			}
			values[i] = v
			off += n
		}
		r.columns[col.Name] = decodedColumn{typ: col.Type, presence: presence, values: values}
	}

	return r, nil
}

func decodeAttrValue(t model.AttrType, buf []byte) (any, int, error) {
	switch t {
	case model.AttrString:
		s, n, err := readString(buf)
		return s, n, err
	case model.AttrInt64:
		if len(buf) < 8 {
			return nil, 0, herrors.New(herrors.Corruption, "truncated int64")
		}
		return int64(binary.LittleEndian.Uint64(buf)), 8, nil
	case model.AttrFloat64:
		if len(buf) < 8 {
			return nil, 0, herrors.New(herrors.Corruption, "truncated float64")
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(buf)), 8, nil
	case model.AttrBool:
		if len(buf) < 1 {
			return nil, 0, herrors.New(herrors.Corruption, "truncated bool")
		}
		return buf[0] != 0, 1, nil
	case model.AttrListString:
		if len(buf) < 4 {
			return nil, 0, herrors.New(herrors.Corruption, "truncated list length")
		}
		cnt := int(binary.LittleEndian.Uint32(buf))
		off := 4
		list := make([]string, cnt)
		for i := 0; i < cnt; i++ {
			s, n, err := readString(buf[off:])
			if err != nil {
				return nil, 0, err
			}
			list[i] = s
			off += n
		}
		return list, off, nil
	default:
		return nil, 0, herrors.New(herrors.Corruption, "unknown column type %q", t)
	}
}

func readString(buf []byte) (string, int, error) {
	if len(buf) < 4 {
		return "", 0, herrors.New(herrors.Corruption, "truncated string length")
	}
	l := int(binary.LittleEndian.Uint32(buf))
	if len(buf) < 4+l {
		return "", 0, herrors.New(herrors.Corruption, "truncated string body")
	}
	return string(buf[4 : 4+l]), 4 + l, nil
}

// RowCount is the number of documents stored in the segment.
func (r *Reader) RowCount() int { return r.hdr.RowCount }

// IDRange reports the lowest and highest document id in the segment. Valid
// only when RowCount() > 0.
func (r *Reader) IDRange() (min, max uint64) {
	if len(r.ids) == 0 {
		return 0, 0
	}
	return r.ids[0], r.ids[len(r.ids)-1]
}

// AllIDs returns the sorted slice of document ids this segment holds.
func (r *Reader) AllIDs() []uint64 { return r.ids }

// vectorAt returns the row's vector, or nil if the schema carries no vector
// column. row is the position within AllIDs()/ReadByIDs order, not a
// document id.
func (r *Reader) vectorAt(row int) []float32 {
	if r.hdr.VectorDim == 0 {
		return nil
	}
	start := row * r.hdr.VectorDim
	return r.vectors[start : start+r.hdr.VectorDim]
}

func (r *Reader) docAt(row int) model.Document {
	doc := model.Document{ID: r.ids[row]}
	if v := r.vectorAt(row); v != nil {
		doc.Vector = append([]float32(nil), v...)
	}
	if len(r.columns) > 0 {
		doc.Attributes = make(map[string]any, len(r.columns))
		for name, col := range r.columns {
			if col.presence[row/8]&(1<<uint(row%8)) == 0 {
				continue
			}
			doc.Attributes[name] = col.values[row]
		}
	}
	return doc
}

// ReadByIDs returns the documents matching the requested ids, in the order
// the ids were given, skipping any id not present in this segment (the
// caller is expected to have resolved which segments own which ids via the
// manifest first).
func (r *Reader) ReadByIDs(ids []uint64) []model.Document {
	out := make([]model.Document, 0, len(ids))
	for _, id := range ids {
		i := sort.Search(len(r.ids), func(i int) bool { return r.ids[i] >= id })
		if i < len(r.ids) && r.ids[i] == id {
			out = append(out, r.docAt(i))
		}
	}
	return out
}

// ReadAll decodes every document in the segment, in ascending id order. Used
// by compaction, which needs the full row set rather than point lookups.
func (r *Reader) ReadAll() []model.Document {
	out := make([]model.Document, len(r.ids))
	for i := range r.ids {
		out[i] = r.docAt(i)
	}
	return out
}

// VectorMetric is the distance function this segment's vectors were written
// under (copied from the schema at write time).
func (r *Reader) VectorMetric() model.Metric { return r.hdr.VectorMetric }

// VectorDim is the fixed vector width, or 0 if the schema carries no vectors.
func (r *Reader) VectorDim() int { return r.hdr.VectorDim }

// VectorByID returns one document's stored vector without decoding its
// attributes, for the query executor's exact-rerank path.
func (r *Reader) VectorByID(id uint64) ([]float32, bool) {
	i := sort.Search(len(r.ids), func(i int) bool { return r.ids[i] >= id })
	if i >= len(r.ids) || r.ids[i] != id {
		return nil, false
	}
	v := r.vectorAt(i)
	if v == nil {
		return nil, false
	}
	return v, true
}

// ColumnValues returns one attribute column's per-row values in row order
// (row i corresponds to AllIDs()[i]), for building a filter index or for a
// fallback scan over an unindexed attribute. ok is false if the segment
// carries no such column.
func (r *Reader) ColumnValues(name string) (values []any, typ model.AttrType, ok bool) {
	col, ok := r.columns[name]
	if !ok {
		return nil, "", false
	}
	return col.values, col.typ, true
}
