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

package namespace

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shardwave/hsearch/internal/cache"
	"github.com/shardwave/hsearch/internal/filterindex"
	"github.com/shardwave/hsearch/internal/manifest"
	"github.com/shardwave/hsearch/internal/model"
	"github.com/shardwave/hsearch/internal/objstore"
	"github.com/shardwave/hsearch/internal/query"
	"github.com/shardwave/hsearch/internal/wal"
)

func testSchema() model.Schema {
	return model.Schema{
		VectorDim:    3,
		VectorMetric: model.MetricL2,
		Attributes: map[string]model.AttributeDescriptor{
			"color": {Type: model.AttrString, Indexed: true},
			"body":  {Type: model.AttrString, FullText: model.FullTextSimple},
		},
	}
}

func newTestNamespace(t *testing.T) *Namespace {
	t.Helper()
	store := objstore.NewLocalStore(t.TempDir())
	cacheMgr, err := cache.NewManager(1<<20, 1<<20, t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	w, err := wal.OpenLocal(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	readCache := manifest.NewReadCache(store, time.Millisecond)
	return New("ns1", store, w, readCache, cacheMgr, zerolog.Nop())
}

func testDocs() []model.Document {
	return []model.Document{
		{ID: 1, Vector: []float32{1, 0, 0}, Attributes: map[string]any{"color": "red", "body": "the quick fox"}},
		{ID: 2, Vector: []float32{0, 1, 0}, Attributes: map[string]any{"color": "blue", "body": "a lazy dog"}},
		{ID: 3, Vector: []float32{0, 0, 1}, Attributes: map[string]any{"color": "red", "body": "the lazy fox"}},
	}
}

func TestCreateRejectsInvalidSchema(t *testing.T) {
	ns := newTestNamespace(t)
	err := ns.Create(context.Background(), model.Schema{}, true)
	require.Error(t, err)
}

func TestCreateStrictRejectsExistingNamespace(t *testing.T) {
	ns := newTestNamespace(t)
	ctx := context.Background()
	require.NoError(t, ns.Create(ctx, testSchema(), true))
	err := ns.Create(ctx, testSchema(), true)
	require.Error(t, err)
}

func TestCreateNonStrictReplacesExistingNamespace(t *testing.T) {
	ns := newTestNamespace(t)
	ctx := context.Background()
	require.NoError(t, ns.Create(ctx, testSchema(), true))
	_, err := ns.Upsert(ctx, testDocs())
	require.NoError(t, err)

	require.NoError(t, ns.Create(ctx, testSchema(), false))
	schema, stats, err := ns.Metadata(ctx)
	require.NoError(t, err)
	require.Equal(t, testSchema(), schema)
	require.Zero(t, stats.SegmentCount)
}

func TestUpsertThenFilterQuery(t *testing.T) {
	ns := newTestNamespace(t)
	ctx := context.Background()
	require.NoError(t, ns.Create(ctx, testSchema(), true))

	n, err := ns.Upsert(ctx, testDocs())
	require.NoError(t, err)
	require.Equal(t, 3, n)

	res, err := ns.Query(ctx, query.Request{
		Filter: &filterindex.Expr{Field: "color", Op: filterindex.OpEq, Value: "red"},
		TopK:   10,
	})
	require.NoError(t, err)
	ids := []uint64{res.Hits[0].ID, res.Hits[1].ID}
	require.ElementsMatch(t, []uint64{1, 3}, ids)
}

func TestUpsertThenVectorQuery(t *testing.T) {
	ns := newTestNamespace(t)
	ctx := context.Background()
	require.NoError(t, ns.Create(ctx, testSchema(), true))
	_, err := ns.Upsert(ctx, testDocs())
	require.NoError(t, err)

	res, err := ns.Query(ctx, query.Request{QueryVector: []float32{1, 0, 0}, TopK: 1, Ann: query.AnnParams{RerankMode: query.RerankExact}})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	require.Equal(t, uint64(1), res.Hits[0].ID)
}

func TestUpsertThenFullTextQuery(t *testing.T) {
	ns := newTestNamespace(t)
	ctx := context.Background()
	require.NoError(t, ns.Create(ctx, testSchema(), true))
	_, err := ns.Upsert(ctx, testDocs())
	require.NoError(t, err)

	res, err := ns.Query(ctx, query.Request{FullText: &query.FullTextQuery{Query: "fox"}, TopK: 10})
	require.NoError(t, err)
	ids := make([]uint64, 0, len(res.Hits))
	for _, h := range res.Hits {
		ids = append(ids, h.ID)
	}
	require.ElementsMatch(t, []uint64{1, 3}, ids)
}

func TestDeleteTombstonesDocument(t *testing.T) {
	ns := newTestNamespace(t)
	ctx := context.Background()
	require.NoError(t, ns.Create(ctx, testSchema(), true))
	_, err := ns.Upsert(ctx, testDocs())
	require.NoError(t, err)

	n, err := ns.Delete(ctx, []uint64{1})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	res, err := ns.Query(ctx, query.Request{TopK: 10, Consistency: manifest.Strong})
	require.NoError(t, err)
	ids := make([]uint64, 0, len(res.Hits))
	for _, h := range res.Hits {
		ids = append(ids, h.ID)
	}
	require.ElementsMatch(t, []uint64{2, 3}, ids)
}

func TestExportReturnsAllNonTombstonedDocumentsSortedByID(t *testing.T) {
	ns := newTestNamespace(t)
	ctx := context.Background()
	require.NoError(t, ns.Create(ctx, testSchema(), true))
	_, err := ns.Upsert(ctx, testDocs())
	require.NoError(t, err)
	_, err = ns.Delete(ctx, []uint64{2})
	require.NoError(t, err)

	docs, err := ns.Export(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, uint64(1), docs[0].ID)
	require.Equal(t, uint64(3), docs[1].ID)
}

func TestRecoverReplaysUncommittedWALEntry(t *testing.T) {
	ns := newTestNamespace(t)
	ctx := context.Background()
	require.NoError(t, ns.Create(ctx, testSchema(), true))

	// Simulate a crash between WAL sync and manifest publish: append
	// straight to the WAL, skipping applyUpsert/Publish/Truncate entirely.
	docs := testDocs()
	seq, err := ns.WAL.Append(ctx, wal.Operation{Kind: wal.OpUpsert, Documents: docs})
	require.NoError(t, err)
	require.NoError(t, ns.WAL.Sync(ctx))
	require.Greater(t, seq, uint64(0))

	_, err = ns.Recover(ctx)
	require.NoError(t, err)

	res, err := ns.Query(ctx, query.Request{TopK: 10, Consistency: manifest.Strong})
	require.NoError(t, err)
	require.Len(t, res.Hits, 3)

	// The replay must have truncated the WAL so a second recovery is a no-op.
	entries, _, err := ns.WAL.ReadAll(ctx)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCompactMergesSmallestSegmentsPreservingIDSet(t *testing.T) {
	ns := newTestNamespace(t)
	ctx := context.Background()
	require.NoError(t, ns.Create(ctx, testSchema(), true))

	for _, d := range testDocs() {
		_, err := ns.Upsert(ctx, []model.Document{d})
		require.NoError(t, err)
	}
	_, stats, err := ns.Metadata(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.SegmentCount)

	ok, err := ns.Compact(ctx, 10)
	require.NoError(t, err)
	require.True(t, ok)

	_, stats, err = ns.Metadata(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.SegmentCount)
	require.Equal(t, 3, stats.DocumentCount)

	res, err := ns.Query(ctx, query.Request{TopK: 10, Consistency: manifest.Strong})
	require.NoError(t, err)
	ids := make([]uint64, 0, len(res.Hits))
	for _, h := range res.Hits {
		ids = append(ids, h.ID)
	}
	require.ElementsMatch(t, []uint64{1, 2, 3}, ids)
}

func TestCompactDropsTombstonedDocuments(t *testing.T) {
	ns := newTestNamespace(t)
	ctx := context.Background()
	require.NoError(t, ns.Create(ctx, testSchema(), true))
	for _, d := range testDocs() {
		_, err := ns.Upsert(ctx, []model.Document{d})
		require.NoError(t, err)
	}
	_, err := ns.Delete(ctx, []uint64{2})
	require.NoError(t, err)

	ok, err := ns.Compact(ctx, 10)
	require.NoError(t, err)
	require.True(t, ok)

	docs, err := ns.Export(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, uint64(1), docs[0].ID)
	require.Equal(t, uint64(3), docs[1].ID)
}

func TestCompactIsIdempotentOnRetry(t *testing.T) {
	ns := newTestNamespace(t)
	ctx := context.Background()
	require.NoError(t, ns.Create(ctx, testSchema(), true))
	for _, d := range testDocs() {
		_, err := ns.Upsert(ctx, []model.Document{d})
		require.NoError(t, err)
	}

	ok, err := ns.Compact(ctx, 10)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = ns.Compact(ctx, 10)
	require.NoError(t, err)
	require.False(t, ok, "retried compaction over an already-merged, unchanged manifest is a no-op")
}

func TestCompactNoopBelowTwoSegments(t *testing.T) {
	ns := newTestNamespace(t)
	ctx := context.Background()
	require.NoError(t, ns.Create(ctx, testSchema(), true))
	_, err := ns.Upsert(ctx, testDocs())
	require.NoError(t, err)

	ok, err := ns.Compact(ctx, 10)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRegistryPutGetRemove(t *testing.T) {
	reg := NewRegistry()
	ns := newTestNamespace(t)

	_, ok := reg.Get("ns1")
	require.False(t, ok)

	reg.Put(ns)
	got, ok := reg.Get("ns1")
	require.True(t, ok)
	require.Same(t, ns, got)
	require.Len(t, reg.List(), 1)

	reg.Remove("ns1")
	_, ok = reg.Get("ns1")
	require.False(t, ok)
}
