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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardwave/hsearch/internal/model"
)

func testSchema() model.Schema {
	return model.Schema{
		VectorDim:    4,
		VectorMetric: model.MetricCosine,
		Attributes: map[string]model.AttributeDescriptor{
			"title":  {Type: model.AttrString},
			"price":  {Type: model.AttrFloat64},
			"active": {Type: model.AttrBool},
			"tags":   {Type: model.AttrListString},
		},
	}
}

func testDocs() []model.Document {
	return []model.Document{
		{ID: 5, Vector: []float32{1, 2, 3, 4}, Attributes: map[string]any{"title": "five", "price": 9.99, "active": true, "tags": []string{"a", "b"}}},
		{ID: 2, Vector: []float32{4, 3, 2, 1}, Attributes: map[string]any{"title": "two", "active": false}},
		{ID: 9, Vector: []float32{0, 0, 0, 1}, Attributes: map[string]any{"price": 1.5}},
	}
}

func TestSegmentRoundTrip(t *testing.T) {
	schema := testSchema()
	docs := testDocs()

	data, err := Write(schema, docs)
	require.NoError(t, err)

	r, err := Open(data)
	require.NoError(t, err)
	require.Equal(t, 3, r.RowCount())

	min, max := r.IDRange()
	require.Equal(t, uint64(2), min)
	require.Equal(t, uint64(9), max)

	got := r.ReadByIDs([]uint64{5, 2, 9, 1000})
	require.Len(t, got, 3) // 1000 is absent, silently dropped

	byID := make(map[uint64]model.Document, len(got))
	for _, d := range got {
		byID[d.ID] = d
	}

	require.Equal(t, []float32{1, 2, 3, 4}, byID[5].Vector)
	require.Equal(t, "five", byID[5].Attributes["title"])
	require.Equal(t, true, byID[5].Attributes["active"])
	require.Equal(t, []string{"a", "b"}, byID[5].Attributes["tags"])

	require.Equal(t, "two", byID[2].Attributes["title"])
}

func TestSegmentMissingAttributesAreAbsent(t *testing.T) {
	schema := testSchema()
	docs := testDocs()
	data, err := Write(schema, docs)
	require.NoError(t, err)
	r, err := Open(data)
	require.NoError(t, err)

	got := r.ReadByIDs([]uint64{9})
	require.Len(t, got, 1)
	_, hasTitle := got[0].Attributes["title"]
	require.False(t, hasTitle)
	require.Equal(t, 1.5, got[0].Attributes["price"])
}

func TestSegmentReadAllOrdersByID(t *testing.T) {
	schema := testSchema()
	docs := testDocs()
	data, err := Write(schema, docs)
	require.NoError(t, err)
	r, err := Open(data)
	require.NoError(t, err)

	all := r.ReadAll()
	require.Len(t, all, 3)
	require.Equal(t, uint64(2), all[0].ID)
	require.Equal(t, uint64(5), all[1].ID)
	require.Equal(t, uint64(9), all[2].ID)
}

func TestSegmentRejectsVectorDimMismatch(t *testing.T) {
	schema := testSchema()
	docs := []model.Document{{ID: 1, Vector: []float32{1, 2}}}
	_, err := Write(schema, docs)
	require.Error(t, err)
}

func TestSegmentRejectsBadMagic(t *testing.T) {
	_, err := Open([]byte("not a segment"))
	require.Error(t, err)
}
