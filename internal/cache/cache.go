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

// Package cache implements the two-tier (RAM + NVMe) cache manager described
// in spec §4.8: a size-budgeted RAM tier backed by a size-budgeted on-disk
// tier, with namespace pinning and singleflight-coalesced fetches. The RAM
// tier's eviction loop is a direct generalization of the teacher's
// CacheManager (storage/cache.go): a single goroutine serializes every
// add/delete over a channel and evicts oldest-by-last-use down to 75% of
// budget once the budget is exceeded, generalized here from "track external
// pointers with a caller cleanup callback" to "hold the cached bytes
// directly", since this cache is the value store, not a side index.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type memEntry struct {
	key      string
	value    []byte
	size     int64
	lastUsed time.Time
	pinned   bool
}

type memOp struct {
	add  *memEntry
	del  string
	done chan struct{}
}

// Manager is the per-process cache used by every namespace: manifests,
// centroids, partition indexes, full-text segment files, and row batches.
type Manager struct {
	memBudget int64
	logger    zerolog.Logger

	mu       sync.RWMutex
	mem      map[string]*memEntry
	memUsed  int64
	pinnedNS map[string]bool

	opChan chan memOp
	sf     singleflight.Group

	disk *diskTier
}

// NewManager creates a cache manager with the given RAM budget and an
// optional disk tier (diskPath == "" disables the disk tier entirely, e.g.
// for tests or memory-only deployments).
func NewManager(memBudget, diskBudget int64, diskPath string, logger zerolog.Logger) (*Manager, error) {
	m := &Manager{
		memBudget: memBudget,
		logger:    logger,
		mem:       make(map[string]*memEntry),
		pinnedNS:  make(map[string]bool),
		opChan:    make(chan memOp, 1024),
	}
	if diskPath != "" {
		d, err := newDiskTier(diskPath, diskBudget)
		if err != nil {
			return nil, err
		}
		m.disk = d
	}
	go m.run()
	return m, nil
}

func (m *Manager) run() {
	for op := range m.opChan {
		if op.add != nil {
			m.add(op.add)
		} else if op.del != "" {
			m.delete(op.del)
		}
		if op.done != nil {
			close(op.done)
		}
	}
}

// Pin marks ns as pinned: every entry Put for ns from then on is kept out
// of RAM-tier eviction (spec §4.8: "namespace pinning"). The pin flag is
// fixed per entry when it is Put, so entries cached for ns before Pin stay
// evictable, and Unpin does not release entries that were Put while pinned.
func (m *Manager) Pin(ns string) {
	m.mu.Lock()
	m.pinnedNS[ns] = true
	m.mu.Unlock()
}

func (m *Manager) Unpin(ns string) {
	m.mu.Lock()
	delete(m.pinnedNS, ns)
	m.mu.Unlock()
}

func (m *Manager) isPinned(ns string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pinnedNS[ns]
}

// Get returns a cached value, checking RAM then disk. A disk hit is
// promoted back into RAM.
func (m *Manager) Get(ns, key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.mem[key]
	m.mu.RUnlock()
	if ok {
		m.touch(key)
		return e.value, true
	}
	if m.disk == nil {
		return nil, false
	}
	value, ok := m.disk.get(key)
	if !ok {
		return nil, false
	}
	m.Put(ns, key, value)
	return value, true
}

func (m *Manager) touch(key string) {
	done := make(chan struct{})
	m.opChan <- memOp{add: &memEntry{key: key}, done: done} // re-add refreshes lastUsed; see add()
	<-done
}

// Put stores value under key, pinned if its namespace is currently pinned.
func (m *Manager) Put(ns, key string, value []byte) {
	if m.disk != nil {
		m.disk.put(key, value)
	}
	done := make(chan struct{})
	m.opChan <- memOp{add: &memEntry{key: key, value: value, size: int64(len(value)), pinned: m.isPinned(ns)}, done: done}
	<-done
}

// Delete removes key from both tiers immediately (used on compaction/GC of
// superseded segments and manifests).
func (m *Manager) Delete(key string) {
	if m.disk != nil {
		m.disk.delete(key)
	}
	done := make(chan struct{})
	m.opChan <- memOp{del: key, done: done}
	<-done
}

// GetOrFetch returns the cached value for key, or calls fetch exactly once
// across concurrent callers (singleflight) and caches the result (spec
// §4.8: "GetOrFetch via singleflight").
func (m *Manager) GetOrFetch(ctx context.Context, ns, key string, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok := m.Get(ns, key); ok {
		return v, nil
	}
	v, err, _ := m.sf.Do(key, func() (interface{}, error) {
		if v, ok := m.Get(ns, key); ok {
			return v, nil
		}
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		m.Put(ns, key, value)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (m *Manager) add(item *memEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.mem[item.key]
	if item.value == nil {
		// touch(): refresh lastUsed only, keep the stored value/size/pin state.
		// if the entry was evicted concurrently, there is nothing to refresh.
		if ok {
			existing.lastUsed = time.Now()
		}
		return
	}
	if ok {
		m.memUsed -= existing.size
	}
	item.lastUsed = time.Now()
	m.mem[item.key] = item
	m.memUsed += item.size

	if m.memUsed > m.memBudget {
		m.evictLocked()
	}
}

func (m *Manager) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.mem[key]
	if !ok {
		return
	}
	m.memUsed -= e.size
	delete(m.mem, key)
}

// evictLocked frees RAM down to 75% of budget, oldest-unpinned-first. Caller
// must hold m.mu.
func (m *Manager) evictLocked() {
	target := m.memBudget * 75 / 100

	candidates := make([]*memEntry, 0, len(m.mem))
	for _, e := range m.mem {
		if !e.pinned {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].lastUsed.Before(candidates[j].lastUsed) })

	for _, e := range candidates {
		if m.memUsed <= target {
			break
		}
		delete(m.mem, e.key)
		m.memUsed -= e.size
	}

	if m.memUsed > m.memBudget {
		m.logger.Warn().Int64("used", m.memUsed).Int64("budget", m.memBudget).Msg("cache: RAM tier over budget after evicting all unpinned entries")
	}
}
