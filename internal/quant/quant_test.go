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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardwave/hsearch/internal/model"
)

func randomVectors(n, dim int, seed int64) [][]float32 {
	r := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for d := range v {
			v[d] = float32(r.NormFloat64())
		}
		out[i] = v
	}
	return out
}

func TestTrainRejectsBadDim(t *testing.T) {
	_, err := Train([][]float32{{1, 2}}, 3, 8, model.MetricL2)
	require.Error(t, err)
}

func TestCodebookEncodeDeterministic(t *testing.T) {
	vecs := randomVectors(50, 8, 1)
	cb, err := Train(vecs, 8, 8, model.MetricL2)
	require.NoError(t, err)

	c1, err := cb.Encode(vecs[0])
	require.NoError(t, err)
	c2, err := cb.Encode(vecs[0])
	require.NoError(t, err)
	require.Equal(t, c1, c2)
}

func TestEstimatePrefersCloserVector(t *testing.T) {
	dim := 16
	vecs := randomVectors(200, dim, 2)
	cb, err := Train(vecs, dim, 8, model.MetricL2)
	require.NoError(t, err)

	query := vecs[0]
	near := make([]float32, dim)
	copy(near, query)
	near[0] += 0.01 // tiny perturbation: should stay "closer" than a random vector

	far := vecs[len(vecs)-1]

	nearCode, err := cb.Encode(near)
	require.NoError(t, err)
	farCode, err := cb.Encode(far)
	require.NoError(t, err)

	qs, err := cb.PrepareQuery(query)
	require.NoError(t, err)

	require.LessOrEqual(t, qs.Estimate(nearCode), qs.Estimate(farCode))
}

func TestHammingPopcountCountsDifferingBits(t *testing.T) {
	dim := 32
	vecs := randomVectors(100, dim, 3)
	cb, err := Train(vecs, dim, 1, model.MetricCosine)
	require.NoError(t, err)

	a, err := cb.Encode(vecs[0])
	require.NoError(t, err)
	require.Equal(t, 0, HammingPopcount(a, a))
}

func TestComputeKFallsBackToOneForSmallParts(t *testing.T) {
	p := DefaultPartitionParams()
	require.Equal(t, 1, ComputeK(10, 8, p)) // 10*8=80 <= 200_000
}

func TestComputeKScalesWithSqrtN(t *testing.T) {
	p := DefaultPartitionParams()
	p.KMin, p.KMax = 1, 100_000
	k := ComputeK(1_000_000, 128, p)
	require.Greater(t, k, 1)
}

func TestChooseNProbeRespectsCap(t *testing.T) {
	p := DefaultPartitionParams()
	p.NProbeCap = 5
	nprobe := ChooseNProbe(1_000_000, 1000, p, 1.0) // override=1.0 would ask for all 1000
	require.LessOrEqual(t, nprobe, 5)
}

func TestTrainCentroidsAssignsEveryVector(t *testing.T) {
	dim := 8
	vecs := randomVectors(300, dim, 4)
	centroids := TrainCentroids(vecs, dim, model.MetricL2, 5, 10, 42)
	require.Len(t, centroids.Vectors, 5)

	assignments := centroids.Assign(vecs)
	require.Len(t, assignments, len(vecs))
	for _, a := range assignments {
		require.GreaterOrEqual(t, a, 0)
		require.Less(t, a, 5)
	}
}

func TestPostingListRoundTrip(t *testing.T) {
	dim := 4
	bits := 8
	ids := []uint64{3, 1, 2, 100, 50}
	vecs := randomVectors(len(ids), dim, 5)
	cb, err := Train(vecs, dim, bits, model.MetricL2)
	require.NoError(t, err)

	codes := make([]Code, len(ids))
	for i, v := range vecs {
		codes[i], err = cb.Encode(v)
		require.NoError(t, err)
	}
	assignments := make([]int, len(ids)) // all into centroid 0
	lists := BuildPostingLists(1, ids, codes, assignments)
	require.Len(t, lists, 1)
	require.Len(t, lists[0].Entries, len(ids))

	encoded := lists[0].Encode(dim, bits)
	decoded, err := DecodePostingList(encoded, dim, bits)
	require.NoError(t, err)
	require.Len(t, decoded.Entries, len(ids))

	gotIDs := make(map[uint64]bool, len(decoded.Entries))
	for _, e := range decoded.Entries {
		gotIDs[e.DocID] = true
	}
	for _, id := range ids {
		require.True(t, gotIDs[id])
	}
}

func TestPartitionIndexBuildAndSearch(t *testing.T) {
	dim := 16
	n := 500
	vecs := randomVectors(n, dim, 6)
	ids := make([]uint64, n)
	for i := range ids {
		ids[i] = uint64(i + 1)
	}

	params := DefaultPartitionParams()
	params.KMin, params.KMax = 4, 16
	idx, err := BuildPartitionIndex(ids, vecs, dim, model.MetricL2, 1, 8, params, 7)
	require.NoError(t, err)

	fine, err := BuildFineCodes(idx.Fine, ids, vecs)
	require.NoError(t, err)

	k := len(idx.Centroids.Vectors)
	nprobe := ChooseNProbe(n, k, params, 0.5)

	query := vecs[42]
	results, err := idx.Search(query, 10, nprobe, 5, fine, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.LessOrEqual(t, len(results), 10)
}

func TestCentroidsSerializeRoundTrip(t *testing.T) {
	dim := 8
	vecs := randomVectors(100, dim, 8)
	ids := make([]uint64, len(vecs))
	for i := range ids {
		ids[i] = uint64(i)
	}
	params := DefaultPartitionParams()
	params.KMin, params.KMax = 4, 8
	idx, err := BuildPartitionIndex(ids, vecs, dim, model.MetricL2, 1, 8, params, 9)
	require.NoError(t, err)

	blob := idx.SerializeCentroids()
	restored, err := DeserializeCentroids(blob)
	require.NoError(t, err)
	require.Equal(t, len(idx.Centroids.Vectors), len(restored.Centroids.Vectors))
	require.Equal(t, idx.Coarse.Bits, restored.Coarse.Bits)
	require.Equal(t, idx.Fine.Bits, restored.Fine.Bits)

	postingsBlob := idx.SerializePostings()
	require.NoError(t, restored.DeserializePostings(postingsBlob))
	require.Len(t, restored.Postings, len(idx.Postings))
}

// TestCosineAndDotDisagreeOnNonUnitVectors uses a query and two candidates
// where a large-magnitude, poorly-aligned candidate beats a unit-ish,
// well-aligned one under raw dot product, but loses under true cosine
// similarity -- proving cosine actually divides out magnitude instead of
// collapsing to dot.
func TestCosineAndDotDisagreeOnNonUnitVectors(t *testing.T) {
	query := []float32{1, 0}
	farButBigDot := []float32{5, 4}    // dot=5, cos=5/sqrt(41)=0.78
	closeButSmallDot := []float32{1, 0.01} // dot=1, cos~0.99995

	dotFar := ExactDistance(model.MetricDot, query, farButBigDot)
	dotClose := ExactDistance(model.MetricDot, query, closeButSmallDot)
	require.Less(t, dotFar, dotClose, "raw dot product should rank the bigger-magnitude vector closer")

	cosFar := ExactDistance(model.MetricCosine, query, farButBigDot)
	cosClose := ExactDistance(model.MetricCosine, query, closeButSmallDot)
	require.Less(t, cosClose, cosFar, "cosine similarity should rank the better-aligned vector closer, regardless of magnitude")
}

// TestCosineCodebookNormalizesBeforeTraining checks the same reordering
// holds through the quantized coarse-estimate path, proving PrepareQuery and
// Encode normalize rather than quantizing raw, magnitude-sensitive values.
func TestCosineCodebookNormalizesBeforeTraining(t *testing.T) {
	dim := 2
	samples := [][]float32{{1, 0}, {5, 4}, {1, 0.01}, {0, 1}, {-1, 0}}
	cb, err := Train(samples, dim, 8, model.MetricCosine)
	require.NoError(t, err)

	qs, err := cb.PrepareQuery([]float32{1, 0})
	require.NoError(t, err)

	farCode, err := cb.Encode([]float32{5, 4})
	require.NoError(t, err)
	closeCode, err := cb.Encode([]float32{1, 0.01})
	require.NoError(t, err)

	require.Less(t, qs.Estimate(closeCode), qs.Estimate(farCode),
		"cosine codebook should quantize normalized vectors, so the well-aligned candidate estimates closer")
}
