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

package query

import (
	"context"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/shardwave/hsearch/internal/cache"
	"github.com/shardwave/hsearch/internal/filterindex"
	"github.com/shardwave/hsearch/internal/fulltext"
	"github.com/shardwave/hsearch/internal/herrors"
	"github.com/shardwave/hsearch/internal/manifest"
	"github.com/shardwave/hsearch/internal/model"
	"github.com/shardwave/hsearch/internal/objstore"
	"github.com/shardwave/hsearch/internal/quant"
	"github.com/shardwave/hsearch/internal/segment"
)

// Executor runs requests against one namespace's resolved manifest. It fans
// out per-segment work with bounded concurrency (spec §4.8), grounded on the
// teacher's storage/scan.go "one goroutine per shard, merge over a channel"
// shape, rewritten around errgroup for straightforward error propagation
// (the teacher's scanError-over-channel dance is the pre-errgroup idiom; the
// rest of the retrieved pack consistently reaches for errgroup instead).
type Executor struct {
	Namespace string
	Store     objstore.Store
	Cache     *cache.Manager
	Params    quant.PartitionParams

	// CoarseBits/FineBits are the bit widths the namespace's segments were
	// actually trained and encoded at, used to validate ann_params overrides.
	CoarseBits int
	FineBits   int

	// FilterFirstThreshold overrides DefaultFilterFirstThreshold if nonzero.
	FilterFirstThreshold int
}

// segmentOutcome is one segment's contribution before cross-segment merge.
type segmentOutcome struct {
	reader   *segment.Reader
	mode     Mode
	vector   []quant.Candidate // ascending estimate
	text     []fulltext.Hit    // descending score
	filtered []uint64          // ModeFilterOnly result, ascending id
}

// Execute runs req against m, fanning out across every segment concurrently.
func (e *Executor) Execute(ctx context.Context, m *manifest.Manifest, req Request) (*Result, error) {
	if err := validateAnnParams(req.Ann, e.CoarseBits, e.FineBits); err != nil {
		return nil, err
	}

	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}

	outcomes := make([]*segmentOutcome, len(m.Segments))
	g, gctx := errgroup.WithContext(ctx)
	for i, seg := range m.Segments {
		i, seg := i, seg
		g.Go(func() error {
			out, err := e.executeSegment(gctx, m.Schema, seg, req, topK)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids, scores := mergeOutcomes(outcomes, req, topK)
	hits := make([]Hit, 0, len(ids))
	for _, id := range ids {
		doc, ok := lookupDoc(outcomes, id)
		if !ok {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: scores[id], Document: project(doc, req.Projection)})
	}
	return &Result{Hits: hits, ManifestVersion: m.Version}, nil
}

func lookupDoc(outcomes []*segmentOutcome, id uint64) (model.Document, bool) {
	for _, o := range outcomes {
		if o == nil || o.reader == nil {
			continue
		}
		docs := o.reader.ReadByIDs([]uint64{id})
		if len(docs) == 1 {
			return docs[0], true
		}
	}
	return model.Document{}, false
}

func project(doc model.Document, fields []string) model.Document {
	if len(fields) == 0 || doc.Attributes == nil {
		return doc
	}
	out := model.Document{ID: doc.ID, Vector: doc.Vector, Attributes: make(map[string]any, len(fields))}
	for _, f := range fields {
		if v, ok := doc.Attributes[f]; ok {
			out.Attributes[f] = v
		}
	}
	return out
}

func (e *Executor) openSegment(ctx context.Context, seg manifest.SegmentEntry) (*segment.Reader, error) {
	key := cache.KeySegment(e.Namespace, seg.ID)
	data, err := e.Cache.GetOrFetch(ctx, e.Namespace, key, func(ctx context.Context) ([]byte, error) {
		blob, _, err := e.Store.Get(ctx, seg.PayloadKey)
		return blob, err
	})
	if err != nil {
		return nil, err
	}
	return segment.Open(data)
}

func (e *Executor) openPartitionIndex(ctx context.Context, seg manifest.SegmentEntry) (*quant.PartitionIndex, error) {
	if seg.VectorIndexKey == "" {
		return nil, herrors.New(herrors.NotFound, "query: segment %q has no vector index", seg.ID)
	}
	key := cache.KeyCentroids(e.Namespace, seg.ID)
	data, err := e.Cache.GetOrFetch(ctx, e.Namespace, key, func(ctx context.Context) ([]byte, error) {
		blob, _, err := e.Store.Get(ctx, seg.VectorIndexKey)
		return blob, err
	})
	if err != nil {
		return nil, err
	}
	return quant.DeserializeIndex(data)
}

func (e *Executor) openFullTextField(ctx context.Context, seg manifest.SegmentEntry, field string) (*fulltext.Reader, error) {
	objKey, ok := seg.FullTextKeys[field]
	if !ok {
		return nil, herrors.New(herrors.NotFound, "query: segment %q has no full-text field %q", seg.ID, field)
	}
	key := cache.KeyFullText(e.Namespace, seg.ID, field)
	data, err := e.Cache.GetOrFetch(ctx, e.Namespace, key, func(ctx context.Context) ([]byte, error) {
		blob, _, err := e.Store.Get(ctx, objKey)
		return blob, err
	})
	if err != nil {
		return nil, err
	}
	return fulltext.Open(data)
}

func (e *Executor) executeSegment(ctx context.Context, schema model.Schema, seg manifest.SegmentEntry, req Request, topK int) (*segmentOutcome, error) {
	reader, err := e.openSegment(ctx, seg)
	if err != nil {
		return nil, err
	}
	out := &segmentOutcome{reader: reader}

	hasVector := len(req.QueryVector) > 0
	hasText := req.FullText != nil && req.FullText.Query != ""

	var tombstones map[uint64]bool
	if len(seg.Tombstones) > 0 {
		tombstones = make(map[uint64]bool, len(seg.Tombstones))
		for _, id := range seg.Tombstones {
			tombstones[id] = true
		}
	}

	var filteredRows *roaring.Bitmap
	if req.Filter != nil {
		idx := filterindex.BuildFromSegment(reader, schema)
		bm, err := filterindex.Evaluate(idx, *req.Filter, filterindex.NewScanFunc(reader))
		if err != nil {
			return nil, err
		}
		filteredRows = bm
	}

	threshold := e.FilterFirstThreshold
	if threshold <= 0 {
		threshold = DefaultFilterFirstThreshold
	}
	filteredCount := 0
	if filteredRows != nil {
		filteredCount = int(filteredRows.GetCardinality())
	}
	out.mode = choosePlan(req.Filter != nil, hasVector || hasText, filteredCount, threshold)

	// allowedIDs restricts results to non-tombstoned rows surviving the
	// filter (if any). It is built whenever either a filter or a tombstone
	// set is in play; a segment with neither leaves it nil (no restriction).
	var allowedIDs map[uint64]bool
	if filteredRows != nil {
		allowedIDs = make(map[uint64]bool, filteredCount)
		ids := reader.AllIDs()
		it := filteredRows.Iterator()
		for it.HasNext() {
			row := it.Next()
			if int(row) >= len(ids) {
				continue
			}
			id := ids[row]
			if !tombstones[id] {
				allowedIDs[id] = true
			}
		}
	} else if tombstones != nil {
		allowedIDs = make(map[uint64]bool, reader.RowCount())
		for _, id := range reader.AllIDs() {
			if !tombstones[id] {
				allowedIDs[id] = true
			}
		}
	}

	if !hasVector && !hasText {
		var result []uint64
		if allowedIDs != nil {
			result = make([]uint64, 0, len(allowedIDs))
			for id := range allowedIDs {
				result = append(result, id)
			}
		} else {
			result = append(result, reader.AllIDs()...)
		}
		sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
		if len(result) > topK {
			result = result[:topK]
		}
		out.filtered = result
		return out, nil
	}

	if hasVector {
		var cands []quant.Candidate
		var err error
		if out.mode == ModeFilterFirst {
			// Filter is narrow enough that a full ANN probe costs more than
			// just reranking the surviving ids directly (spec §4.8).
			candidateIDs := make([]uint64, 0, len(allowedIDs))
			for id := range allowedIDs {
				candidateIDs = append(candidateIDs, id)
			}
			cands = bruteForceExact(reader, candidateIDs, req.QueryVector, reader.VectorMetric(), topK)
		} else {
			cands, err = e.searchVector(ctx, seg, reader, req, topK)
			if err != nil {
				return nil, err
			}
			if allowedIDs != nil {
				filtered := cands[:0]
				for _, c := range cands {
					if allowedIDs[c.DocID] {
						filtered = append(filtered, c)
					}
				}
				cands = filtered
			}
		}
		out.vector = cands
	}

	if hasText {
		hits, err := e.searchText(ctx, seg, schema, req)
		if err != nil {
			return nil, err
		}
		if allowedIDs != nil {
			filtered := hits[:0]
			for _, h := range hits {
				if allowedIDs[h.DocID] {
					filtered = append(filtered, h)
				}
			}
			hits = filtered
		}
		out.text = hits
	}

	return out, nil
}
