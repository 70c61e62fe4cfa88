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
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shardwave/hsearch/internal/objstore"
)

// Consistency selects how stale a read of the current manifest is allowed to
// be (spec §4.7: "eventual" reads may use a short-TTL cache; "strong" reads
// always revalidate the pointer).
type Consistency string

const (
	Strong   Consistency = "strong"
	Eventual Consistency = "eventual"
)

// cacheEntry is one namespace's cached manifest plus the time it was fetched.
type cacheEntry struct {
	manifest *Manifest
	fetched  time.Time
}

// ReadCache serves "eventual" consistency reads from a short-TTL in-memory
// cache, falling back to ReadCurrent on a miss or expiry, and always calling
// through for "strong" reads. One ReadCache is shared by every query
// goroutine on a node; a plain mutex-guarded map is enough since manifest
// reads are rare relative to query execution (a Store behind it already
// provides the durability).
type ReadCache struct {
	store objstore.Store
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewReadCache builds a cache with the given TTL for eventual reads.
func NewReadCache(store objstore.Store, ttl time.Duration) *ReadCache {
	return &ReadCache{store: store, ttl: ttl, entries: make(map[string]cacheEntry)}
}

// Resolve returns the manifest for namespace at the requested consistency
// level.
func (c *ReadCache) Resolve(ctx context.Context, namespace string, consistency Consistency) (*Manifest, error) {
	if consistency == Eventual {
		c.mu.Lock()
		entry, ok := c.entries[namespace]
		c.mu.Unlock()
		if ok && time.Since(entry.fetched) < c.ttl {
			return entry.manifest, nil
		}
	}

	m, _, err := ReadCurrent(ctx, c.store, namespace)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[namespace] = cacheEntry{manifest: m, fetched: time.Now()}
	c.mu.Unlock()
	return m, nil
}

// Invalidate drops a namespace's cached entry, called by the writer right
// after a successful Publish so same-node eventual readers don't serve a
// version stale by more than the next TTL tick.
func (c *ReadCache) Invalidate(namespace string) {
	c.mu.Lock()
	delete(c.entries, namespace)
	c.mu.Unlock()
}

// ListVersions enumerates every manifest generation currently stored for a
// namespace, ascending by version.
func ListVersions(ctx context.Context, store objstore.Store, namespace string) ([]int, error) {
	infos, err := store.List(ctx, manifestPrefix(namespace))
	if err != nil {
		return nil, err
	}
	versions := make([]int, 0, len(infos))
	for _, info := range infos {
		base := info.Key[strings.LastIndex(info.Key, "/")+1:]
		base = strings.TrimSuffix(base, ".json")
		base = strings.TrimPrefix(base, "v")
		v, err := strconv.Atoi(base)
		if err != nil {
			continue // not a version file (e.g. current.txt under an overlapping prefix)
		}
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}

// GC deletes manifest generations older than the active version by more
// than retainVersions (spec §4.7: "any v{k}.json ... older than v_cur by
// more than a retention horizon may be deleted"). It does not touch segment
// payloads; those are retired by the compaction manager once no manifest
// still references them.
func GC(ctx context.Context, store objstore.Store, namespace string, retainVersions int) ([]int, error) {
	current, _, err := ReadCurrent(ctx, store, namespace)
	if err != nil {
		return nil, err
	}
	versions, err := ListVersions(ctx, store, namespace)
	if err != nil {
		return nil, err
	}

	var deleted []int
	cutoff := current.Version - retainVersions
	for _, v := range versions {
		if v >= cutoff || v == current.Version {
			continue
		}
		if err := store.Delete(ctx, manifestKey(namespace, v)); err != nil {
			return deleted, err
		}
		deleted = append(deleted, v)
	}
	return deleted, nil
}
