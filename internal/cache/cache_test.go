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

package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, memBudget int64) *Manager {
	m, err := NewManager(memBudget, 10<<20, t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return m
}

func TestCachePutGet(t *testing.T) {
	m := newTestManager(t, 1<<20)
	m.Put("ns1", "k1", []byte("hello"))

	v, ok := m.Get("ns1", "k1")
	require.True(t, ok)
	require.Equal(t, "hello", string(v))
}

func TestCacheGetMissReturnsFalse(t *testing.T) {
	m := newTestManager(t, 1<<20)
	_, ok := m.Get("ns1", "missing")
	require.False(t, ok)
}

func TestCacheGetOrFetchCallsFetchOnce(t *testing.T) {
	m := newTestManager(t, 1<<20)
	var calls int64
	fetch := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt64(&calls, 1)
		return []byte("value"), nil
	}

	v1, err := m.GetOrFetch(context.Background(), "ns1", "k", fetch)
	require.NoError(t, err)
	require.Equal(t, "value", string(v1))

	v2, err := m.GetOrFetch(context.Background(), "ns1", "k", fetch)
	require.NoError(t, err)
	require.Equal(t, "value", string(v2))
	require.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestCacheEvictsOldestUnpinnedWhenOverBudget(t *testing.T) {
	m := newTestManager(t, 100) // tiny budget forces eviction
	for i := 0; i < 20; i++ {
		m.Put("ns1", fmt.Sprintf("k%d", i), make([]byte, 10))
	}
	m.mu.RLock()
	used := m.memUsed
	m.mu.RUnlock()
	require.LessOrEqual(t, used, int64(100))
}

func TestCachePinProtectsFromEviction(t *testing.T) {
	m := newTestManager(t, 50)
	m.Pin("hot")
	m.Put("hot", "pinned-key", make([]byte, 40))
	for i := 0; i < 10; i++ {
		m.Put("cold", fmt.Sprintf("k%d", i), make([]byte, 10))
	}

	_, ok := m.Get("hot", "pinned-key")
	require.True(t, ok, "pinned entry must survive eviction even over budget")
}

func TestCacheDeleteRemovesFromBothTiers(t *testing.T) {
	m := newTestManager(t, 1<<20)
	m.Put("ns1", "k", []byte("v"))
	m.Delete("k")

	_, ok := m.Get("ns1", "k")
	require.False(t, ok)
}
