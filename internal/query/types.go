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

// Package query implements the planner and executor (spec §4.8): cost-aware
// filter-first/retrieve-first plan selection, per-segment vector/full-text/
// filter execution fanned out across segments, cross-segment merge
// (Reciprocal Rank Fusion for hybrid queries), and row assembly. Grounded on
// the teacher's storage/query.go fan-out-over-shards-then-merge shape,
// generalized from "one scan kind" to "vector + full-text + filter, each
// with its own per-segment structure".
package query

import (
	"github.com/shardwave/hsearch/internal/filterindex"
	"github.com/shardwave/hsearch/internal/manifest"
	"github.com/shardwave/hsearch/internal/model"
)

// MaxTopK is the spec-suggested upper bound on requested result size.
const MaxTopK = 1200

// DefaultFilterFirstThreshold is the per-segment surviving-row count below
// which the planner prefers filter-first (brute-force exact rerank over the
// filtered set) to retrieve-first (full ANN probe then intersect).
const DefaultFilterFirstThreshold = 2000

// DefaultRRFK is Reciprocal Rank Fusion's damping constant (spec §4.8).
const DefaultRRFK = 60

// FullTextField is one field's query text source and fusion weight.
type FullTextField struct {
	Field  string
	Weight float64
}

// FullTextQuery is the full-text half of a request: one query string scored
// against one or more analyzed fields (spec §4.8: "optional full-text spec
// (single or multi-field)").
type FullTextQuery struct {
	Query  string
	Fields []FullTextField
}

// RerankMode selects how the coarse shortlist gets reranked (spec §6
// `ann_params.rerank_mode`).
type RerankMode string

const (
	RerankNone      RerankMode = "none"      // trust the coarse estimate order as-is
	RerankQuantized RerankMode = "quantized" // rerank with the namespace's trained fine codebook
	RerankExact     RerankMode = "exact"     // rerank with exact float vectors (the default)
)

// AnnParams lets a request override the vector search heuristics computed
// from segment size (spec §6's `ann_params` override). CoarseBits/RerankBits
// are validated against the namespace's trained quantizer shape, not applied
// as a live override: a segment's codes are already baked at that bit width.
type AnnParams struct {
	NProbeRatio float64    // fraction of centroids to probe; 0 uses the namespace's configured recall budget
	RerankScale int        // shortlist size = top_k * RerankScale
	CoarseBits  int        // 0 means "whatever the namespace trained with"; nonzero must match it
	RerankBits  int        // same, for the fine/rerank codebook
	RerankMode  RerankMode // "" behaves like RerankExact
}

// Request is one normalized query request.
type Request struct {
	QueryVector []float32
	FullText    *FullTextQuery
	Filter      *filterindex.Expr
	TopK        int
	Projection  []string
	Consistency manifest.Consistency
	Ann         AnnParams
}

// Hit is one scored, assembled result row.
type Hit struct {
	ID       uint64
	Score    float64
	Document model.Document
}

// Result is a completed query's ranked output.
type Result struct {
	Hits           []Hit
	ManifestVersion int
}

// Mode is the plan selected for one segment's execution (spec §4.8).
type Mode string

const (
	ModeFilterOnly     Mode = "filter_only"     // no vector, no full-text
	ModeFilterFirst    Mode = "filter_first"    // filter is narrow: brute force within it
	ModeRetrieveFirst  Mode = "retrieve_first"  // run retrieval, then intersect with filter
	ModeRetrieveNoFilter Mode = "retrieve_no_filter"
)

// choosePlan implements spec §4.8's cost-aware branch. filteredCount is the
// segment-local row count surviving the filter (ignored if hasFilter is
// false); threshold is the largest filteredCount that still picks
// ModeFilterFirst.
func choosePlan(hasFilter, hasRetrieval bool, filteredCount, threshold int) Mode {
	switch {
	case !hasFilter:
		return ModeRetrieveNoFilter
	case !hasRetrieval:
		return ModeFilterOnly
	case filteredCount <= threshold:
		return ModeFilterFirst
	default:
		return ModeRetrieveFirst
	}
}
