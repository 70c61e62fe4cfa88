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

package manifest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shardwave/hsearch/internal/herrors"
	"github.com/shardwave/hsearch/internal/model"
	"github.com/shardwave/hsearch/internal/objstore"
)

func testSchema() model.Schema {
	return model.Schema{VectorDim: 4, VectorMetric: model.MetricCosine}
}

func addSegment(id string, rows int) MutateFunc {
	return func(prev *Manifest) (*Manifest, error) {
		m := &Manifest{Schema: testSchema()}
		if prev != nil {
			m.Segments = append(m.Segments, prev.Segments...)
			m.WALWatermark = prev.WALWatermark
		}
		m.Segments = append(m.Segments, SegmentEntry{ID: id, PayloadKey: "ns/x/segments/" + id, RowCount: rows})
		return m, nil
	}
}

func TestReadCurrentNotFoundBeforeFirstPublish(t *testing.T) {
	store := objstore.NewLocalStore(t.TempDir())
	_, _, err := ReadCurrent(context.Background(), store, "ns1")
	require.Error(t, err)
	require.Equal(t, herrors.NotFound, herrors.KindOf(err))
}

func TestPublishBootstrapsVersionOne(t *testing.T) {
	store := objstore.NewLocalStore(t.TempDir())
	ctx := context.Background()

	m, err := Publish(ctx, store, "ns1", addSegment("seg-1", 10), zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 1, m.Version)
	require.Equal(t, 1, m.Stats.SegmentCount)
	require.Equal(t, 10, m.Stats.DocumentCount)

	got, _, err := ReadCurrent(ctx, store, "ns1")
	require.NoError(t, err)
	require.Equal(t, m.Version, got.Version)
	require.Len(t, got.Segments, 1)
}

func TestPublishAccumulatesSegmentsAcrossGenerations(t *testing.T) {
	store := objstore.NewLocalStore(t.TempDir())
	ctx := context.Background()

	_, err := Publish(ctx, store, "ns1", addSegment("seg-1", 10), zerolog.Nop())
	require.NoError(t, err)
	m2, err := Publish(ctx, store, "ns1", addSegment("seg-2", 5), zerolog.Nop())
	require.NoError(t, err)

	require.Equal(t, 2, m2.Version)
	require.Len(t, m2.Segments, 2)
	require.Equal(t, 15, m2.Stats.DocumentCount)
}

func TestPublishAccountsForTombstonesInDocumentCount(t *testing.T) {
	store := objstore.NewLocalStore(t.TempDir())
	ctx := context.Background()

	_, err := Publish(ctx, store, "ns1", addSegment("seg-1", 10), zerolog.Nop())
	require.NoError(t, err)

	m, err := Publish(ctx, store, "ns1", func(prev *Manifest) (*Manifest, error) {
		m := &Manifest{Schema: testSchema(), Segments: append([]SegmentEntry(nil), prev.Segments...)}
		m.Segments[0].Tombstones = []uint64{1, 2, 3}
		return m, nil
	}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 7, m.Stats.DocumentCount)
}

func TestListVersionsAndGC(t *testing.T) {
	store := objstore.NewLocalStore(t.TempDir())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := Publish(ctx, store, "ns1", addSegment("seg", 1), zerolog.Nop())
		require.NoError(t, err)
	}

	versions, err := ListVersions(ctx, store, "ns1")
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3, 4, 5}, versions)

	deleted, err := GC(ctx, store, "ns1", 2)
	require.NoError(t, err)
	require.ElementsMatch(t, []int{1, 2}, deleted)

	remaining, err := ListVersions(ctx, store, "ns1")
	require.NoError(t, err)
	require.Equal(t, []int{3, 4, 5}, remaining)
}

func TestReadCacheServesEventualReadsWithinTTL(t *testing.T) {
	store := objstore.NewLocalStore(t.TempDir())
	ctx := context.Background()
	_, err := Publish(ctx, store, "ns1", addSegment("seg-1", 1), zerolog.Nop())
	require.NoError(t, err)

	cache := NewReadCache(store, time.Hour)
	m1, err := cache.Resolve(ctx, "ns1", Eventual)
	require.NoError(t, err)
	require.Equal(t, 1, m1.Version)

	// Publish a new version directly; the cached eventual read should still
	// see the old version until invalidated or the TTL expires.
	_, err = Publish(ctx, store, "ns1", addSegment("seg-2", 1), zerolog.Nop())
	require.NoError(t, err)

	stale, err := cache.Resolve(ctx, "ns1", Eventual)
	require.NoError(t, err)
	require.Equal(t, 1, stale.Version)

	strong, err := cache.Resolve(ctx, "ns1", Strong)
	require.NoError(t, err)
	require.Equal(t, 2, strong.Version)

	cache.Invalidate("ns1")
	fresh, err := cache.Resolve(ctx, "ns1", Eventual)
	require.NoError(t, err)
	require.Equal(t, 2, fresh.Version)
}
