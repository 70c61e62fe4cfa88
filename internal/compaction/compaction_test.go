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

package compaction

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shardwave/hsearch/internal/cache"
	"github.com/shardwave/hsearch/internal/config"
	"github.com/shardwave/hsearch/internal/manifest"
	"github.com/shardwave/hsearch/internal/model"
	"github.com/shardwave/hsearch/internal/namespace"
	"github.com/shardwave/hsearch/internal/objstore"
	"github.com/shardwave/hsearch/internal/wal"
)

func testSchema() model.Schema {
	return model.Schema{
		VectorDim:    3,
		VectorMetric: model.MetricL2,
		Attributes: map[string]model.AttributeDescriptor{
			"color": {Type: model.AttrString, Indexed: true},
		},
	}
}

func newTestNamespace(t *testing.T, name string) *namespace.Namespace {
	t.Helper()
	store := objstore.NewLocalStore(t.TempDir())
	cacheMgr, err := cache.NewManager(1<<20, 1<<20, t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	w, err := wal.OpenLocal(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	readCache := manifest.NewReadCache(store, time.Millisecond)
	return namespace.New(name, store, w, readCache, cacheMgr, zerolog.Nop())
}

func TestSweepCompactsNamespaceOverSegmentThreshold(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamespace(t, "ns1")
	require.NoError(t, ns.Create(ctx, testSchema(), true))
	for i := uint64(1); i <= 4; i++ {
		_, err := ns.Upsert(ctx, []model.Document{{ID: i, Attributes: map[string]any{"color": "red"}}})
		require.NoError(t, err)
	}

	reg := namespace.NewRegistry()
	reg.Put(ns)

	mgr := NewManager(reg, config.CompactionConfig{Enabled: true, MaxSegments: 2, MaxTotalDocs: 1_000_000}, zerolog.Nop())
	mgr.Sweep(ctx)

	_, stats, err := ns.Metadata(ctx)
	require.NoError(t, err)
	require.LessOrEqual(t, stats.SegmentCount, 2)
	require.Equal(t, 4, stats.DocumentCount)
}

func TestSweepLeavesNamespaceUnderThresholdAlone(t *testing.T) {
	ctx := context.Background()
	ns := newTestNamespace(t, "ns1")
	require.NoError(t, ns.Create(ctx, testSchema(), true))
	_, err := ns.Upsert(ctx, []model.Document{{ID: 1, Attributes: map[string]any{"color": "red"}}})
	require.NoError(t, err)

	reg := namespace.NewRegistry()
	reg.Put(ns)

	mgr := NewManager(reg, config.CompactionConfig{Enabled: true, MaxSegments: 100, MaxTotalDocs: 1_000_000}, zerolog.Nop())
	mgr.Sweep(ctx)

	_, stats, err := ns.Metadata(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.SegmentCount)
}

func TestRunReturnsImmediatelyWhenDisabled(t *testing.T) {
	mgr := NewManager(namespace.NewRegistry(), config.CompactionConfig{Enabled: false}, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		mgr.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly for a disabled config")
	}
}
