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

	"github.com/shardwave/hsearch/internal/fulltext"
	"github.com/shardwave/hsearch/internal/manifest"
	"github.com/shardwave/hsearch/internal/model"
	"github.com/shardwave/hsearch/internal/quant"
	"github.com/shardwave/hsearch/internal/segment"
)

// searchVector runs the ANN probe-and-rerank path (spec §4.3/§4.8): probe
// nprobe_ratio's share of centroids, shortlist top_k*rerank_scale candidates
// by coarse estimate, then rerank per ann_params.rerank_mode. ModeFilterFirst
// bypasses this entirely in favor of a brute-force scan over the (already
// narrow) filtered candidate set.
func (e *Executor) searchVector(ctx context.Context, seg manifest.SegmentEntry, reader *segment.Reader, req Request, topK int) ([]quant.Candidate, error) {
	rerankScale := req.Ann.RerankScale
	if rerankScale <= 0 {
		rerankScale = 5
	}

	idx, err := e.openPartitionIndex(ctx, seg)
	if err != nil {
		return nil, err
	}

	n := reader.RowCount()
	k := len(idx.Centroids.Vectors)
	nprobe := quant.ChooseNProbe(n, k, e.Params, req.Ann.NProbeRatio)

	switch req.Ann.RerankMode {
	case RerankNone:
		return idx.Search(req.QueryVector, topK, nprobe, rerankScale, nil, nil)
	case RerankQuantized:
		fine, err := buildFineCodes(reader, idx.Fine)
		if err != nil {
			return nil, err
		}
		return idx.Search(req.QueryVector, topK, nprobe, rerankScale, fine, nil)
	default: // RerankExact, and the unset default
		exactFn := func(id uint64) ([]float32, bool) { return reader.VectorByID(id) }
		return idx.Search(req.QueryVector, topK, nprobe, rerankScale, nil, exactFn)
	}
}

// buildFineCodes re-encodes every stored vector in reader under fine, so
// RerankQuantized can score the coarse shortlist against the namespace's
// trained fine codebook instead of the exact float vectors.
func buildFineCodes(reader *segment.Reader, fine *quant.Codebook) (*quant.FineCodes, error) {
	ids := reader.AllIDs()
	vectors := make([][]float32, 0, len(ids))
	kept := make([]uint64, 0, len(ids))
	for _, id := range ids {
		v, ok := reader.VectorByID(id)
		if !ok {
			continue
		}
		kept = append(kept, id)
		vectors = append(vectors, v)
	}
	return quant.BuildFineCodes(fine, kept, vectors)
}

// bruteForceExact computes exact distance against every id in candidates,
// used for ModeFilterFirst (a narrow filtered set makes a full index probe
// pointless).
func bruteForceExact(reader *segment.Reader, candidates []uint64, query []float32, metric model.Metric, topK int) []quant.Candidate {
	out := make([]quant.Candidate, 0, len(candidates))
	for _, id := range candidates {
		v, ok := reader.VectorByID(id)
		if !ok {
			continue
		}
		out = append(out, quant.Candidate{DocID: id, Estimate: quant.ExactDistance(metric, query, v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Estimate < out[j].Estimate })
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

// searchText runs the multi-field BM25 query for one segment (spec §4.4's
// weighted field fusion), defaulting to every full-text-enabled schema
// attribute with weight 1.0 when the request doesn't name fields.
func (e *Executor) searchText(ctx context.Context, seg manifest.SegmentEntry, schema model.Schema, req Request) ([]fulltext.Hit, error) {
	fields := req.FullText.Fields
	if len(fields) == 0 {
		for name, attr := range schema.Attributes {
			if attr.FullText != "" && attr.FullText != model.FullTextDisabled {
				fields = append(fields, FullTextField{Field: name, Weight: 1.0})
			}
		}
	}

	queries := make([]fulltext.FieldQuery, 0, len(fields))
	for _, f := range fields {
		reader, err := e.openFullTextField(ctx, seg, f.Field)
		if err != nil {
			continue // field not analyzed in this segment (e.g. schema evolved); skip rather than fail the query
		}
		weight := f.Weight
		if weight == 0 {
			weight = 1.0
		}
		opts := schema.Attributes[f.Field].Analyzer
		queries = append(queries, fulltext.FieldQuery{Field: f.Field, Reader: reader, Opts: opts, Weight: weight})
	}
	if len(queries) == 0 {
		return nil, nil
	}
	return fulltext.SearchMultiField(req.FullText.Query, queries, 0), nil
}
