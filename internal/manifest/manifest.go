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

// Package manifest implements atomic read-view transitions (spec §4.7): a
// versioned, immutable manifest object per generation plus a small pointer
// object that names the currently active version. Grounded on the teacher's
// pointer-object pattern in persistence-s3.go (a small "latest log segment"
// marker object, conditionally overwritten), generalized from "one log
// segment" to "a full segment list plus schema and stats".
package manifest

import (
	"fmt"

	"github.com/shardwave/hsearch/internal/model"
)

// SegmentEntry describes one immutable segment belonging to a manifest
// generation: where its payload and derived indexes live in the object
// store, and enough summary stats for the planner to skip it cheaply.
type SegmentEntry struct {
	ID             string `json:"id"`
	PayloadKey     string `json:"payload_key"`
	VectorIndexKey string `json:"vector_index_key,omitempty"`
	FilterIndexKey string `json:"filter_index_key,omitempty"`
	// FullTextKeys maps a full-text-enabled attribute name to its flushed
	// field index object key.
	FullTextKeys map[string]string `json:"full_text_keys,omitempty"`

	RowCount int    `json:"row_count"`
	MinID    uint64 `json:"min_id"`
	MaxID    uint64 `json:"max_id"`

	// Tombstones lists document ids deleted after this segment was written
	// but before it was compacted away; readers must exclude them.
	Tombstones []uint64 `json:"tombstones,omitempty"`
}

// Stats summarizes a manifest generation for monitoring and compaction
// trigger evaluation (spec §4.9).
type Stats struct {
	SegmentCount int `json:"segment_count"`
	DocumentCount int `json:"document_count"`
}

// Manifest is one immutable, versioned read view of a namespace.
type Manifest struct {
	Version      int            `json:"version"`
	Namespace    string         `json:"namespace"`
	Schema       model.Schema   `json:"schema"`
	Segments     []SegmentEntry `json:"segments"`
	Stats        Stats          `json:"stats"`
	WALWatermark uint64         `json:"wal_watermark"`
}

// ComputeStats derives Stats from the current segment list.
func (m *Manifest) ComputeStats() {
	docs := 0
	for _, s := range m.Segments {
		docs += s.RowCount - len(s.Tombstones)
	}
	m.Stats = Stats{SegmentCount: len(m.Segments), DocumentCount: docs}
}

// pointer is the small object current.txt holds: just the active version.
type pointer struct {
	Version int `json:"version"`
}

// manifestKey returns the object key for one versioned manifest.
func manifestKey(namespace string, version int) string {
	return fmt.Sprintf("ns/%s/manifests/v%08d.json", namespace, version)
}

// pointerKey returns the object key for a namespace's current-version pointer.
func pointerKey(namespace string) string {
	return fmt.Sprintf("ns/%s/manifests/current.txt", namespace)
}

// manifestPrefix returns the key prefix under which every manifest version for a
// namespace lives, for listing during GC.
func manifestPrefix(namespace string) string {
	return fmt.Sprintf("ns/%s/manifests/v", namespace)
}
