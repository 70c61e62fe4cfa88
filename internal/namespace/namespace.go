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

// Package namespace composes the write and read paths of one tenant's
// engine (spec §4.10): WAL, segment+index build, manifest publication, and
// the query executor, behind a single facade. Grounded on the teacher's
// database/table composition style in storage/database.go and
// storage/table.go, generalized from "mutable shard storage" to "immutable
// segments published through a versioned manifest".
package namespace

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shardwave/hsearch/internal/cache"
	"github.com/shardwave/hsearch/internal/filterindex"
	"github.com/shardwave/hsearch/internal/fulltext"
	"github.com/shardwave/hsearch/internal/herrors"
	"github.com/shardwave/hsearch/internal/manifest"
	"github.com/shardwave/hsearch/internal/model"
	"github.com/shardwave/hsearch/internal/objstore"
	"github.com/shardwave/hsearch/internal/quant"
	"github.com/shardwave/hsearch/internal/query"
	"github.com/shardwave/hsearch/internal/segment"
	"github.com/shardwave/hsearch/internal/wal"
)

// Default coarse/fine quantizer code widths for freshly built segments
// (spec §4.3's suggested starting point).
const (
	DefaultCoarseBits = 1
	DefaultFineBits   = 8
)

// Namespace is one tenant's open engine instance: the WAL, object store
// handle, manifest read cache, and block cache it needs to serve both the
// write and read path. mu is a pointer (not an embedded sync.Mutex) so
// Namespace can still satisfy NonLockingReadMap's KeyGetter constraint via
// value-receiver GetKey/ComputeSize methods without copying a lock.
type Namespace struct {
	Name string

	Store      objstore.Store
	WAL        wal.WAL
	ReadCache  *manifest.ReadCache
	Cache      *cache.Manager
	Params     quant.PartitionParams
	CoarseBits int
	FineBits   int
	Logger     zerolog.Logger

	// mu serializes writes: spec §5 "the manifest for a namespace is
	// writable only by its owning indexer" means at most one Upsert/Delete
	// runs at a time for a given Namespace.
	mu *sync.Mutex
}

// New wires a Namespace's dependencies. Callers own the WAL/Store/Cache
// lifetimes; New does not open or create anything itself.
func New(name string, store objstore.Store, w wal.WAL, readCache *manifest.ReadCache, cacheMgr *cache.Manager, logger zerolog.Logger) *Namespace {
	return &Namespace{
		Name:       name,
		Store:      store,
		WAL:        w,
		ReadCache:  readCache,
		Cache:      cacheMgr,
		Params:     quant.DefaultPartitionParams(),
		CoarseBits: DefaultCoarseBits,
		FineBits:   DefaultFineBits,
		Logger:     logger.With().Str("namespace", name).Logger(),
		mu:         &sync.Mutex{},
	}
}

// GetKey and ComputeSize satisfy NonLockingReadMap's KeyGetter[string]
// constraint for Registry (§4.10's "registry of open namespace engines").
func (n Namespace) GetKey() string    { return n.Name }
func (n Namespace) ComputeSize() uint { return uint(len(n.Name)) + 64 }

// Create bootstraps or replaces a namespace's manifest (spec §6 "create/
// replace namespace"). strict rejects an existing namespace with Conflict
// instead of replacing it.
func (n *Namespace) Create(ctx context.Context, schema model.Schema, strict bool) error {
	if err := schema.Validate(); err != nil {
		return herrors.Wrap(herrors.InvalidRequest, err, "namespace %q: invalid schema", n.Name)
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	_, err := manifest.Publish(ctx, n.Store, n.Name, func(prev *manifest.Manifest) (*manifest.Manifest, error) {
		if prev != nil && strict {
			return nil, herrors.New(herrors.Conflict, "namespace %q already exists", n.Name)
		}
		return &manifest.Manifest{Schema: schema}, nil
	}, n.Logger)
	if err != nil {
		return err
	}
	n.ReadCache.Invalidate(n.Name)
	return nil
}

// Metadata returns the namespace's current schema and coarse stats (spec §6
// "get metadata").
func (n *Namespace) Metadata(ctx context.Context) (model.Schema, manifest.Stats, error) {
	m, err := n.ReadCache.Resolve(ctx, n.Name, manifest.Eventual)
	if err != nil {
		return model.Schema{}, manifest.Stats{}, err
	}
	return m.Schema, m.Stats, nil
}

// Drop removes every object under the namespace's prefix (spec §6 "delete
// namespace: asynchronously removes all keys under its prefix" — callers
// wanting the async behavior run this in its own goroutine; Drop itself
// just performs the removal).
func (n *Namespace) Drop(ctx context.Context) error {
	infos, err := n.Store.List(ctx, namespacePrefix(n.Name))
	if err != nil {
		return err
	}
	for _, info := range infos {
		if err := n.Store.Delete(ctx, info.Key); err != nil {
			return err
		}
	}
	n.ReadCache.Invalidate(n.Name)
	return nil
}

// currentSchema resolves the namespace's schema with strong consistency,
// since write-path validation must see the latest published schema.
func (n *Namespace) currentSchema(ctx context.Context) (model.Schema, error) {
	m, err := n.ReadCache.Resolve(ctx, n.Name, manifest.Strong)
	if err != nil {
		return model.Schema{}, err
	}
	return m.Schema, nil
}

// Upsert runs the write path's validate/WAL/build/publish/truncate steps
// (spec §4.10). If a crash occurs after the WAL sync but before the
// manifest publish, the WAL entry survives and Recover replays it.
func (n *Namespace) Upsert(ctx context.Context, docs []model.Document) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	schema, err := n.currentSchema(ctx)
	if err != nil {
		return 0, err
	}

	sanitized := make([]model.Document, len(docs))
	for i, d := range docs {
		sd := schema.Sanitize(d)
		if err := schema.ValidateDocument(sd); err != nil {
			return 0, herrors.Wrap(herrors.InvalidRequest, err, "namespace %q: upsert validation failed", n.Name)
		}
		sanitized[i] = sd
	}

	seq, err := n.WAL.Append(ctx, wal.Operation{Kind: wal.OpUpsert, Documents: sanitized})
	if err != nil {
		return 0, err
	}
	if err := n.WAL.Sync(ctx); err != nil {
		return 0, err
	}

	if err := n.applyUpsert(ctx, schema, sanitized, seq); err != nil {
		return 0, err
	}
	if err := n.WAL.Truncate(ctx); err != nil {
		return 0, err
	}
	return len(sanitized), nil
}

// buildSegment encodes docs into a new immutable segment under segID,
// uploads its payload, and builds its vector/full-text/filter indexes.
// Shared by applyUpsert (fresh segment per batch) and Compact (one merged
// segment replacing the smallest M).
func (n *Namespace) buildSegment(ctx context.Context, schema model.Schema, docs []model.Document, segID string) (manifest.SegmentEntry, error) {
	payload, err := segment.Write(schema, docs)
	if err != nil {
		return manifest.SegmentEntry{}, herrors.Wrap(herrors.InvalidRequest, err, "namespace %q: encoding segment %s", n.Name, segID)
	}
	reader, err := segment.Open(payload)
	if err != nil {
		return manifest.SegmentEntry{}, err
	}

	entry := manifest.SegmentEntry{
		ID:         segID,
		PayloadKey: payloadKey(n.Name, segID),
		RowCount:   reader.RowCount(),
	}
	entry.MinID, entry.MaxID = reader.IDRange()

	if _, err := n.Store.Put(ctx, entry.PayloadKey, payload); err != nil {
		return manifest.SegmentEntry{}, err
	}

	if err := n.buildVectorIndex(ctx, schema, docs, segID, &entry); err != nil {
		return manifest.SegmentEntry{}, err
	}
	if err := n.buildFullTextIndexes(ctx, schema, docs, segID, &entry); err != nil {
		return manifest.SegmentEntry{}, err
	}
	if err := n.buildFilterIndex(ctx, schema, reader, segID, &entry); err != nil {
		return manifest.SegmentEntry{}, err
	}
	return entry, nil
}

// applyUpsert builds a new segment plus its indexes from already-validated
// documents and publishes it. Shared by Upsert and Recover's WAL replay.
func (n *Namespace) applyUpsert(ctx context.Context, schema model.Schema, docs []model.Document, watermark uint64) error {
	entry, err := n.buildSegment(ctx, schema, docs, uuid.New().String())
	if err != nil {
		return err
	}

	_, err = manifest.Publish(ctx, n.Store, n.Name, func(prev *manifest.Manifest) (*manifest.Manifest, error) {
		if prev == nil {
			return nil, herrors.New(herrors.NotFound, "namespace %q has no manifest; create it first", n.Name)
		}
		next := &manifest.Manifest{
			Schema:       prev.Schema,
			Segments:     append(append([]manifest.SegmentEntry(nil), prev.Segments...), entry),
			WALWatermark: watermark,
		}
		return next, nil
	}, n.Logger)
	if err != nil {
		return err
	}
	n.ReadCache.Invalidate(n.Name)
	return nil
}

// buildVectorIndex trains and uploads the partition index for a new
// segment, skipped entirely when no document in the batch carries a vector
// (schema attributes can be filter/full-text only — spec §3 "vector is
// optional per document").
func (n *Namespace) buildVectorIndex(ctx context.Context, schema model.Schema, docs []model.Document, segID string, entry *manifest.SegmentEntry) error {
	var ids []uint64
	var vectors [][]float32
	for _, d := range docs {
		if len(d.Vector) == schema.VectorDim {
			ids = append(ids, d.ID)
			vectors = append(vectors, d.Vector)
		}
	}
	if len(vectors) == 0 {
		return nil
	}

	idx, err := quant.BuildPartitionIndex(ids, vectors, schema.VectorDim, schema.VectorMetric, n.CoarseBits, n.FineBits, n.Params, seedFor(segID))
	if err != nil {
		return err
	}
	entry.VectorIndexKey = vectorIndexKey(n.Name, segID)
	_, err = n.Store.Put(ctx, entry.VectorIndexKey, idx.SerializeIndex())
	return err
}

// buildFullTextIndexes runs one Builder per full-text-enabled attribute
// over this batch and flushes it to its own object-store key.
func (n *Namespace) buildFullTextIndexes(ctx context.Context, schema model.Schema, docs []model.Document, segID string, entry *manifest.SegmentEntry) error {
	var fields []string
	for name, attr := range schema.Attributes {
		if attr.FullText != "" && attr.FullText != model.FullTextDisabled {
			fields = append(fields, name)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	sort.Strings(fields) // deterministic iteration, matches codec's general determinism discipline

	keys := make(map[string]string, len(fields))
	for _, name := range fields {
		builder := fulltext.NewBuilder(schema.Attributes[name].Analyzer)
		for _, d := range docs {
			text, ok := d.Attributes[name].(string)
			if !ok {
				continue
			}
			builder.Add(d.ID, text)
		}
		blob, err := builder.Flush()
		if err != nil {
			return err
		}
		if err := fulltext.Publish(ctx, n.Store, n.Name, segID, name, blob); err != nil {
			return err
		}
		keys[name] = fulltext.ObjectKey(n.Name, segID, name)
	}
	entry.FullTextKeys = keys
	return nil
}

// buildFilterIndex builds and uploads one SegmentIndex blob covering every
// schema attribute marked Indexed.
func (n *Namespace) buildFilterIndex(ctx context.Context, schema model.Schema, reader *segment.Reader, segID string, entry *manifest.SegmentEntry) error {
	idx := filterindex.BuildFromSegment(reader, schema)
	blob, err := idx.Serialize()
	if err != nil {
		return err
	}
	entry.FilterIndexKey = filterIndexKey(n.Name, segID)
	_, err = n.Store.Put(ctx, entry.FilterIndexKey, blob)
	return err
}

// seedFor derives a deterministic centroid-training seed from a segment id,
// so rebuilding the same inputs (e.g. a retried compaction) is reproducible.
func seedFor(segID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(segID))
	return h.Sum64()
}

// Delete tombstones ids across every segment whose [MinID, MaxID] range
// could contain them (spec §3/§4.10). Physical removal happens at
// compaction; until then queries must exclude tombstoned ids themselves.
func (n *Namespace) Delete(ctx context.Context, ids []uint64) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	seq, err := n.WAL.Append(ctx, wal.Operation{Kind: wal.OpDelete, IDs: ids})
	if err != nil {
		return 0, err
	}
	if err := n.WAL.Sync(ctx); err != nil {
		return 0, err
	}

	if err := n.applyDelete(ctx, ids, seq); err != nil {
		return 0, err
	}
	if err := n.WAL.Truncate(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (n *Namespace) applyDelete(ctx context.Context, ids []uint64, watermark uint64) error {
	_, err := manifest.Publish(ctx, n.Store, n.Name, func(prev *manifest.Manifest) (*manifest.Manifest, error) {
		if prev == nil {
			return nil, herrors.New(herrors.NotFound, "namespace %q has no manifest", n.Name)
		}
		segments := append([]manifest.SegmentEntry(nil), prev.Segments...)
		for i := range segments {
			seg := &segments[i]
			existing := make(map[uint64]bool, len(seg.Tombstones))
			for _, t := range seg.Tombstones {
				existing[t] = true
			}
			for _, id := range ids {
				// Over-approximation by id range: a segment not actually
				// containing id still gets a harmless tombstone entry,
				// which costs nothing since it never matches a row there.
				if id < seg.MinID || id > seg.MaxID || existing[id] {
					continue
				}
				seg.Tombstones = append(seg.Tombstones, id)
				existing[id] = true
			}
		}
		return &manifest.Manifest{Schema: prev.Schema, Segments: segments, WALWatermark: watermark}, nil
	}, n.Logger)
	if err != nil {
		return err
	}
	n.ReadCache.Invalidate(n.Name)
	return nil
}

// Recover replays WAL entries left over from a crash between the WAL sync
// and manifest publish steps (spec §4.10 step 6). A namespace should call
// this once at startup before serving writes.
func (n *Namespace) Recover(ctx context.Context) (wal.RecoveryReport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	entries, report, err := n.WAL.ReadAll(ctx)
	if err != nil {
		return report, err
	}
	if len(entries) == 0 {
		return report, nil
	}

	schema, err := n.currentSchema(ctx)
	if err != nil {
		return report, err
	}

	for _, e := range entries {
		switch e.Op.Kind {
		case wal.OpUpsert:
			if err := n.applyUpsert(ctx, schema, e.Op.Documents, e.Sequence); err != nil {
				return report, err
			}
		case wal.OpDelete:
			if err := n.applyDelete(ctx, e.Op.IDs, e.Sequence); err != nil {
				return report, err
			}
		case wal.OpCommit:
			// marker entry only; nothing to replay
		}
	}
	if err := n.WAL.Truncate(ctx); err != nil {
		return report, err
	}
	return report, nil
}

// Query runs the read path: resolve the manifest at the requested
// consistency, then hand off to the planner/executor (spec §4.10).
func (n *Namespace) Query(ctx context.Context, req query.Request) (*query.Result, error) {
	consistency := req.Consistency
	if consistency == "" {
		consistency = manifest.Eventual
	}
	m, err := n.ReadCache.Resolve(ctx, n.Name, consistency)
	if err != nil {
		return nil, err
	}
	exec := &query.Executor{Namespace: n.Name, Store: n.Store, Cache: n.Cache, Params: n.Params, CoarseBits: n.CoarseBits, FineBits: n.FineBits}
	return exec.Execute(ctx, m, req)
}

// Export dumps every non-tombstoned row across every segment, deduplicated
// by id (a later segment's occurrence wins, matching Compact's recency
// rule) and sorted ascending by id (spec SPEC_FULL.md "namespace export": a
// point-in-time read_by_ids scan over the full id range).
func (n *Namespace) Export(ctx context.Context) ([]model.Document, error) {
	m, err := n.ReadCache.Resolve(ctx, n.Name, manifest.Strong)
	if err != nil {
		return nil, err
	}
	return n.readMergedRows(ctx, m.Segments)
}
