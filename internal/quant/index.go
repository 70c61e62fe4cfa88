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

package quant

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/shardwave/hsearch/internal/herrors"
	"github.com/shardwave/hsearch/internal/model"
)

// PartitionIndex is one segment's complete ANN index: the coarse and fine
// codebooks, trained centroids, and per-centroid posting lists. This is the
// in-memory form of "segments/{segment_id}/vidx.bin"; SerializeIndex writes
// the centroids into that same object rather than a separate file.
type PartitionIndex struct {
	Coarse    *Codebook
	Fine      *Codebook
	Centroids *Centroids
	Postings  []PostingList // len == len(Centroids.Vectors)
}

// BuildPartitionIndex trains codebooks and centroids from a segment's
// vectors and builds the posting lists (spec §4.3's build pipeline).
func BuildPartitionIndex(docIDs []uint64, vectors [][]float32, dim int, metric model.Metric, coarseBits, fineBits int, params PartitionParams, rngSeed uint64) (*PartitionIndex, error) {
	if len(docIDs) != len(vectors) {
		return nil, herrors.New(herrors.InvalidRequest, "quant: docIDs/vectors length mismatch")
	}
	coarse, err := Train(vectors, dim, coarseBits, metric)
	if err != nil {
		return nil, err
	}
	fine, err := Train(vectors, dim, fineBits, metric)
	if err != nil {
		return nil, err
	}

	centroidVectors := vectors
	if metric == model.MetricCosine {
		centroidVectors = make([][]float32, len(vectors))
		for i, v := range vectors {
			centroidVectors[i] = normalize(v)
		}
	}
	k := ComputeK(len(vectors), dim, params)
	centroids := TrainCentroids(centroidVectors, dim, metric, k, 25, rngSeed)
	assignments := centroids.Assign(centroidVectors)

	coarseCodes := make([]Code, len(vectors))
	for i, v := range vectors {
		c, err := coarse.Encode(v)
		if err != nil {
			return nil, err
		}
		coarseCodes[i] = c
	}

	return &PartitionIndex{
		Coarse:    coarse,
		Fine:      fine,
		Centroids: centroids,
		Postings:  BuildPostingLists(len(centroids.Vectors), docIDs, coarseCodes, assignments),
	}, nil
}

// FineCodes separately encodes every document's fine (rerank) code, keyed by
// docID, for the rerank stage (the coarse posting lists only carry coarse
// codes; fine codes are not persisted, and are encoded from the segment's
// vectors at query time).
type FineCodes struct {
	Fine *Codebook
	byID map[uint64]Code
}

// BuildFineCodes encodes the fine (rerank) code set for later lookup by id.
func BuildFineCodes(fine *Codebook, docIDs []uint64, vectors [][]float32) (*FineCodes, error) {
	fc := &FineCodes{Fine: fine, byID: make(map[uint64]Code, len(docIDs))}
	for i, v := range vectors {
		code, err := fine.Encode(v)
		if err != nil {
			return nil, err
		}
		fc.byID[docIDs[i]] = code
	}
	return fc, nil
}

func (fc *FineCodes) Get(id uint64) (Code, bool) {
	c, ok := fc.byID[id]
	return c, ok
}

// Candidate is one shortlisted result from Search.
type Candidate struct {
	DocID    uint64
	Estimate float32 // lower is closer, regardless of metric
}

// Search implements spec §4.3's query-time path: probe the nprobe nearest
// centroids, scan their posting lists with the coarse code to build a
// shortlist of size topK*rerankScale, then rerank that shortlist with fine
// codes (or exact vectors, via the caller-supplied exactFn).
func (idx *PartitionIndex) Search(query []float32, topK int, nprobe int, rerankScale int, fine *FineCodes, exactFn func(id uint64) ([]float32, bool)) ([]Candidate, error) {
	coarseQS, err := idx.Coarse.PrepareQuery(query)
	if err != nil {
		return nil, err
	}

	centroidQuery := query
	if idx.Centroids.Metric == model.MetricCosine {
		centroidQuery = normalize(query)
	}
	probed := idx.Centroids.NearestCentroids(centroidQuery, nprobe)
	shortlistSize := topK * rerankScale
	if shortlistSize < topK {
		shortlistSize = topK
	}

	var shortlist []Candidate
	for _, c := range probed {
		for _, e := range idx.Postings[c].Entries {
			shortlist = append(shortlist, Candidate{DocID: e.DocID, Estimate: coarseQS.Estimate(e.Code)})
		}
	}
	sort.Slice(shortlist, func(i, j int) bool { return shortlist[i].Estimate < shortlist[j].Estimate })
	if len(shortlist) > shortlistSize {
		shortlist = shortlist[:shortlistSize]
	}

	if fine == nil && exactFn == nil {
		if len(shortlist) > topK {
			shortlist = shortlist[:topK]
		}
		return shortlist, nil
	}

	reranked := make([]Candidate, 0, len(shortlist))
	if exactFn != nil {
		for _, cand := range shortlist {
			v, ok := exactFn(cand.DocID)
			if !ok {
				continue
			}
			reranked = append(reranked, Candidate{DocID: cand.DocID, Estimate: ExactDistance(idx.Coarse.Metric, query, v)})
		}
	} else {
		fineQS, err := fine.Fine.PrepareQuery(query)
		if err != nil {
			return nil, err
		}
		for _, cand := range shortlist {
			code, ok := fine.Get(cand.DocID)
			if !ok {
				continue
			}
			reranked = append(reranked, Candidate{DocID: cand.DocID, Estimate: fineQS.Estimate(code)})
		}
	}

	sort.Slice(reranked, func(i, j int) bool { return reranked[i].Estimate < reranked[j].Estimate })
	if len(reranked) > topK {
		reranked = reranked[:topK]
	}
	return reranked, nil
}

// ExactDistance computes the true, unquantized distance between two vectors
// under metric, lower is always closer regardless of metric. Cosine divides
// out both vectors' magnitudes (dot(a,b)/(||a||*||b||)); dot is the raw,
// magnitude-sensitive inner product the spec distinguishes it from.
func ExactDistance(metric model.Metric, a, b []float32) float32 {
	switch metric {
	case model.MetricDot:
		var dot float32
		for i := range a {
			dot += a[i] * b[i]
		}
		return -dot
	case model.MetricCosine:
		return -cosineSimilarity(a, b)
	default:
		return sqDist(a, b)
	}
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// wireHeader is the JSON preamble shared by centroids.bin and vidx.bin.
type wireHeader struct {
	Dim        int          `json:"dim"`
	Metric     model.Metric `json:"metric"`
	CoarseBits int          `json:"coarse_bits"`
	FineBits   int          `json:"fine_bits"`
	K          int          `json:"k"`
}

// SerializeCentroids encodes the codebooks and centroid vectors into
// "centroids.bin": a JSON header followed by raw float32 centroid rows.
func (idx *PartitionIndex) SerializeCentroids() []byte {
	h := wireHeader{Dim: idx.Coarse.Dim, Metric: idx.Coarse.Metric, CoarseBits: idx.Coarse.Bits, FineBits: idx.Fine.Bits, K: len(idx.Centroids.Vectors)}
	hdrJSON, _ := json.Marshal(h)

	out := make([]byte, 0, len(hdrJSON)+4+len(idx.Centroids.Vectors)*idx.Coarse.Dim*4)
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(hdrJSON)))
	out = append(out, l[:]...)
	out = append(out, hdrJSON...)

	for _, v := range idx.Centroids.Vectors {
		for _, f := range v {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(f))
			out = append(out, b[:]...)
		}
	}

	out = append(out, encodeBounds(idx.Coarse.Min, idx.Coarse.Max)...)
	out = append(out, encodeBounds(idx.Fine.Min, idx.Fine.Max)...)
	return out
}

func encodeBounds(min, max []float32) []byte {
	out := make([]byte, 0, len(min)*8)
	for i := range min {
		var b [8]byte
		binary.LittleEndian.PutUint32(b[0:4], math.Float32bits(min[i]))
		binary.LittleEndian.PutUint32(b[4:8], math.Float32bits(max[i]))
		out = append(out, b[:]...)
	}
	return out
}

func decodeBounds(data []byte, dim int) (min, max []float32, consumed int, err error) {
	if len(data) < dim*8 {
		return nil, nil, 0, herrors.New(herrors.Corruption, "quant: truncated bounds table")
	}
	min = make([]float32, dim)
	max = make([]float32, dim)
	for i := 0; i < dim; i++ {
		min[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*8:]))
		max[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*8+4:]))
	}
	return min, max, dim * 8, nil
}

// DeserializeCentroids reverses SerializeCentroids, reconstructing the
// coarse and fine codebooks' bounds alongside the centroid vectors.
func DeserializeCentroids(data []byte) (*PartitionIndex, error) {
	if len(data) < 4 {
		return nil, herrors.New(herrors.Corruption, "quant: truncated centroids header length")
	}
	hdrLen := int(binary.LittleEndian.Uint32(data))
	pos := 4
	if pos+hdrLen > len(data) {
		return nil, herrors.New(herrors.Corruption, "quant: truncated centroids header")
	}
	var h wireHeader
	if err := json.Unmarshal(data[pos:pos+hdrLen], &h); err != nil {
		return nil, herrors.Wrap(herrors.Corruption, err, "quant: decoding centroids header")
	}
	pos += hdrLen

	vectors := make([][]float32, h.K)
	for i := range vectors {
		v := make([]float32, h.Dim)
		for d := 0; d < h.Dim; d++ {
			if pos+4 > len(data) {
				return nil, herrors.New(herrors.Corruption, "quant: truncated centroid vector")
			}
			v[d] = math.Float32frombits(binary.LittleEndian.Uint32(data[pos:]))
			pos += 4
		}
		vectors[i] = v
	}

	coarseMin, coarseMax, n, err := decodeBounds(data[pos:], h.Dim)
	if err != nil {
		return nil, err
	}
	pos += n
	fineMin, fineMax, n, err := decodeBounds(data[pos:], h.Dim)
	if err != nil {
		return nil, err
	}
	pos += n

	return &PartitionIndex{
		Coarse:    &Codebook{Dim: h.Dim, Bits: h.CoarseBits, Metric: h.Metric, Min: coarseMin, Max: coarseMax},
		Fine:      &Codebook{Dim: h.Dim, Bits: h.FineBits, Metric: h.Metric, Min: fineMin, Max: fineMax},
		Centroids: &Centroids{Dim: h.Dim, Metric: h.Metric, Vectors: vectors},
	}, nil
}

// SerializePostings encodes "vidx.bin": one length-prefixed block per
// centroid's posting list, in centroid order.
func (idx *PartitionIndex) SerializePostings() []byte {
	var out []byte
	for _, pl := range idx.Postings {
		enc := pl.Encode(idx.Coarse.Dim, idx.Coarse.Bits)
		var l [4]byte
		binary.LittleEndian.PutUint32(l[:], uint32(len(enc)))
		out = append(out, l[:]...)
		out = append(out, enc...)
	}
	return out
}

// DeserializePostings reverses SerializePostings. idx must already carry
// Coarse/Centroids (i.e. DeserializeCentroids has run first), since the
// posting list format needs dim/bits to decode codes and k to know how many
// blocks to expect.
func (idx *PartitionIndex) DeserializePostings(data []byte) error {
	k := len(idx.Centroids.Vectors)
	idx.Postings = make([]PostingList, k)
	pos := 0
	for c := 0; c < k; c++ {
		if pos+4 > len(data) {
			return herrors.New(herrors.Corruption, "quant: truncated posting list length for centroid %d", c)
		}
		n := int(binary.LittleEndian.Uint32(data[pos:]))
		pos += 4
		if pos+n > len(data) {
			return herrors.New(herrors.Corruption, "quant: truncated posting list body for centroid %d", c)
		}
		pl, err := DecodePostingList(data[pos:pos+n], idx.Coarse.Dim, idx.Coarse.Bits)
		if err != nil {
			return fmt.Errorf("centroid %d: %w", c, err)
		}
		idx.Postings[c] = pl
		pos += n
	}
	return nil
}
