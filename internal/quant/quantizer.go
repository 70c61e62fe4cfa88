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

// Package quant implements the two-stage vector quantizer (coarse scan code,
// finer rerank code) and the per-part centroid/posting-list partition index
// described in spec §4.3. No teacher component does approximate nearest
// neighbor search; the bit-packing technique is grounded on the teacher's
// fixed-bitwidth column encoding (storage/storage-int.go's StorageInt, which
// packs values into a bitsize derived from their observed range), generalized
// here from one bit width per column to one bit width per vector dimension.
package quant

import (
	"math"
	"math/bits"

	"github.com/shardwave/hsearch/internal/herrors"
	"github.com/shardwave/hsearch/internal/model"
)

// Codebook holds the per-dimension quantization bounds learned by Train. The
// same structure shape serves both the coarse and the fine code: only the
// bit width differs.
type Codebook struct {
	Dim    int          `json:"dim"`
	Bits   int          `json:"bits"`
	Metric model.Metric `json:"metric"`
	Min    []float32    `json:"min"`
	Max    []float32    `json:"max"`
}

// Train learns per-dimension [min,max] bounds from a representative sample.
// Training is idempotent: the same samples always produce the same bounds
// (spec §4.3's "train(...) is idempotent on the same input").
func Train(samples [][]float32, dim int, bitsPerDim int, metric model.Metric) (*Codebook, error) {
	if dim <= 0 {
		return nil, herrors.New(herrors.InvalidRequest, "quant: dim must be positive, got %d", dim)
	}
	switch metric {
	case model.MetricCosine, model.MetricL2, model.MetricDot:
	default:
		return nil, herrors.New(herrors.InvalidRequest, "quant: unsupported metric %q", metric)
	}
	if bitsPerDim < 1 || bitsPerDim > 8 {
		return nil, herrors.New(herrors.InvalidRequest, "quant: bits per dim must be in [1,8], got %d", bitsPerDim)
	}

	cb := &Codebook{Dim: dim, Bits: bitsPerDim, Metric: metric, Min: make([]float32, dim), Max: make([]float32, dim)}
	for i := range cb.Min {
		cb.Min[i] = float32(math.Inf(1))
		cb.Max[i] = float32(math.Inf(-1))
	}
	for _, v := range samples {
		if len(v) != dim {
			return nil, herrors.New(herrors.InvalidRequest, "quant: sample has dim %d, expected %d", len(v), dim)
		}
		if metric == model.MetricCosine {
			v = normalize(v)
		}
		for i, f := range v {
			if f < cb.Min[i] {
				cb.Min[i] = f
			}
			if f > cb.Max[i] {
				cb.Max[i] = f
			}
		}
	}
	// degenerate dims (all-equal or no samples) get a synthetic unit range so
	// encode/estimate never divide by zero.
	for i := range cb.Min {
		if math.IsInf(float64(cb.Min[i]), 0) {
			cb.Min[i], cb.Max[i] = 0, 1
		} else if cb.Max[i] <= cb.Min[i] {
			cb.Max[i] = cb.Min[i] + 1
		}
	}
	return cb, nil
}

// normalize returns a unit-length copy of v so that, for MetricCosine, every
// downstream dot product (quantized or exact) is a true cosine similarity
// rather than a raw, magnitude-dependent dot product. A zero vector is
// returned unchanged rather than dividing by zero.
func normalize(v []float32) []float32 {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	if sumSq == 0 {
		return append([]float32(nil), v...)
	}
	norm := float32(math.Sqrt(sumSq))
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = f / norm
	}
	return out
}

func (cb *Codebook) levels() int { return 1 << uint(cb.Bits) }

// levelOf returns the quantization bucket index in [0, levels) for value v at
// dimension i.
func (cb *Codebook) levelOf(i int, v float32) int {
	levels := cb.levels()
	span := cb.Max[i] - cb.Min[i]
	l := int((v - cb.Min[i]) / span * float32(levels-1))
	if l < 0 {
		l = 0
	}
	if l > levels-1 {
		l = levels - 1
	}
	return l
}

// levelCenter returns the value a quantization level represents:
// min + span*level/(levels-1), so level 0 maps to Min and the top level to
// Max.
func (cb *Codebook) levelCenter(i, level int) float32 {
	levels := cb.levels()
	span := cb.Max[i] - cb.Min[i]
	return cb.Min[i] + span*float32(level)/float32(levels-1)
}

// Code is a bit-packed vector encoding, cb.Bits bits per dimension, matching
// the teacher's StorageInt bit-layout (value shifted into the leftmost free
// bit position of a uint64 words array).
type Code []uint64

// Encode deterministically quantizes vector into a Code under cb (spec §4.3:
// "encode(vector) -> code: deterministic").
func (cb *Codebook) Encode(vector []float32) (Code, error) {
	if len(vector) != cb.Dim {
		return nil, herrors.New(herrors.InvalidRequest, "quant: vector dim %d != codebook dim %d", len(vector), cb.Dim)
	}
	if cb.Metric == model.MetricCosine {
		vector = normalize(vector)
	}
	code := make(Code, (cb.Dim*cb.Bits+63)/64+1)
	for i, v := range vector {
		level := cb.levelOf(i, v)
		writeBits(code, i*cb.Bits, cb.Bits, uint64(level))
	}
	return code, nil
}

func writeBits(words []uint64, bitpos, width int, value uint64) {
	v := value << uint(64-width)
	words[bitpos/64] |= v >> uint(bitpos%64)
	if bitpos%64+width > 64 {
		words[bitpos/64+1] |= v << uint(64-bitpos%64)
	}
}

func readBits(words []uint64, bitpos, width int) uint64 {
	v := words[bitpos/64] << uint(bitpos%64)
	if bitpos%64+width > 64 {
		v |= words[bitpos/64+1] >> uint(64-bitpos%64)
	}
	return v >> uint(64-width)
}

// QuerySide precomputes, for one query vector, a per-dimension lookup table
// of the squared distance (or negative dot-product contribution) from the
// query's true value to every quantization level's center. Estimating a
// candidate's distance then only costs one table lookup per dimension
// (asymmetric distance computation, the standard product-quantization
// scoring trick) instead of a multiply per dimension.
type QuerySide struct {
	cb  *Codebook
	lut [][]float32 // lut[dim][level]
}

// PrepareQuery builds the per-query lookup table used by Estimate.
func (cb *Codebook) PrepareQuery(query []float32) (*QuerySide, error) {
	if len(query) != cb.Dim {
		return nil, herrors.New(herrors.InvalidRequest, "quant: query dim %d != codebook dim %d", len(query), cb.Dim)
	}
	if cb.Metric == model.MetricCosine {
		query = normalize(query)
	}
	levels := cb.levels()
	lut := make([][]float32, cb.Dim)
	for i := 0; i < cb.Dim; i++ {
		row := make([]float32, levels)
		for l := 0; l < levels; l++ {
			c := cb.levelCenter(i, l)
			switch cb.Metric {
			case model.MetricDot, model.MetricCosine:
				row[l] = -query[i] * c // negate: smaller "distance" == larger dot product
			default: // l2
				d := query[i] - c
				row[l] = d * d
			}
		}
		lut[i] = row
	}
	return &QuerySide{cb: cb, lut: lut}, nil
}

// Estimate returns a monotone-preserving proxy of the true metric between
// the prepared query and code, lower is always closer regardless of metric
// (spec §4.3: "estimate_coarse/estimate_fine ... monotone-preserving proxies").
func (qs *QuerySide) Estimate(code Code) float32 {
	var sum float32
	for i := 0; i < qs.cb.Dim; i++ {
		level := readBits(code, i*qs.cb.Bits, qs.cb.Bits)
		sum += qs.lut[i][level]
	}
	return sum
}

// HammingPopcount is a scalar XOR+popcount distance between two codes, a
// proxy for 1-bit codes. The coarse scan in Search does not call it; it
// scores candidates with QuerySide.Estimate for every bit width.
// math/bits.OnesCount64 is the idiomatic scalar popcount in Go (no
// ecosystem SIMD-dispatch popcount library appears anywhere in the pack, and
// the spec explicitly allows "a scalar fallback" as the baseline path).
func HammingPopcount(a, b Code) int {
	n := 0
	for i := range a {
		n += bits.OnesCount64(a[i] ^ b[i])
	}
	return n
}
