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
	"math"
	"sort"

	"github.com/shardwave/hsearch/internal/model"
)

// PartitionParams bounds centroid count and probe count per spec §4.3.
type PartitionParams struct {
	ClusterFactor float64 // K = clamp(round(ClusterFactor*sqrt(N)), KMin, KMax)
	KMin          int
	KMax          int
	NProbeCap     int
	RecallBudget  float64 // alpha; nprobe ~= alpha * sqrt(N/K)
}

// DefaultPartitionParams mirrors the spec's suggested defaults.
func DefaultPartitionParams() PartitionParams {
	return PartitionParams{ClusterFactor: 4, KMin: 1, KMax: 4096, NProbeCap: 64, RecallBudget: 0.95}
}

// ComputeK implements spec §4.3: "K = clamp(round(cluster_factor*sqrt(N)),
// K_min, K_max)", with the small-part fallback K=1 when N*dim <= 200_000.
func ComputeK(n, dim int, p PartitionParams) int {
	if n*dim <= 200_000 {
		return 1
	}
	k := int(math.Round(p.ClusterFactor * math.Sqrt(float64(n))))
	if k < p.KMin {
		k = p.KMin
	}
	if k > p.KMax {
		k = p.KMax
	}
	if k > n {
		k = n
	}
	if k < 1 {
		k = 1
	}
	return k
}

// ChooseNProbe implements spec §4.3's query-time probe count heuristic.
func ChooseNProbe(n, k int, p PartitionParams, override float64) int {
	probeFraction := override
	if probeFraction <= 0 {
		if k > 0 {
			probeFraction = p.RecallBudget * math.Sqrt(float64(n)/float64(k)) / float64(k)
		} else {
			probeFraction = 1
		}
	}
	nprobe := int(math.Round(probeFraction * float64(k)))
	if nprobe < 1 {
		nprobe = 1
	}
	max := k
	if p.NProbeCap < max {
		max = p.NProbeCap
	}
	if nprobe > max {
		nprobe = max
	}
	return nprobe
}

// Centroids holds the trained cluster centers for one segment (or group of
// segments). Centroids are always stored as full float32 vectors: they are
// small in number (K <= KMax) so there is no need to quantize them.
type Centroids struct {
	Dim     int
	Metric  model.Metric
	Vectors [][]float32
}

// TrainCentroids runs k-means++ initialization followed by Lloyd iterations
// (spec §4.3). The small-part fallback (K==1) skips iteration entirely: a
// single centroid is just the set mean, and every vector is assigned to it.
func TrainCentroids(vectors [][]float32, dim int, metric model.Metric, k int, maxIterations int, rngSeed uint64) *Centroids {
	if k <= 1 || len(vectors) <= 1 {
		return &Centroids{Dim: dim, Metric: metric, Vectors: [][]float32{meanOf(vectors, dim)}}
	}
	if k > len(vectors) {
		k = len(vectors)
	}

	rng := newSplitMix64(rngSeed)
	centers := kmeansPlusPlusInit(vectors, dim, k, rng)

	assignments := make([]int, len(vectors))
	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, v := range vectors {
			best, bestDist := 0, float32(math.MaxFloat32)
			for c, center := range centers {
				d := sqDist(v, center)
				if d < bestDist {
					bestDist, best = d, c
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, v := range vectors {
			c := assignments[i]
			counts[c]++
			for d := 0; d < dim; d++ {
				sums[c][d] += float64(v[d])
			}
		}
		for c := range centers {
			if counts[c] == 0 {
				continue // keep previous center, an empty cluster stays put
			}
			for d := 0; d < dim; d++ {
				centers[c][d] = float32(sums[c][d] / float64(counts[c]))
			}
		}
		if !changed {
			break
		}
	}

	return &Centroids{Dim: dim, Metric: metric, Vectors: centers}
}

func meanOf(vectors [][]float32, dim int) []float32 {
	mean := make([]float32, dim)
	if len(vectors) == 0 {
		return mean
	}
	sums := make([]float64, dim)
	for _, v := range vectors {
		for i, f := range v {
			sums[i] += float64(f)
		}
	}
	for i := range mean {
		mean[i] = float32(sums[i] / float64(len(vectors)))
	}
	return mean
}

func sqDist(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func kmeansPlusPlusInit(vectors [][]float32, dim, k int, rng *splitMix64) [][]float32 {
	centers := make([][]float32, 0, k)
	first := vectors[rng.intn(len(vectors))]
	centers = append(centers, append([]float32(nil), first...))

	dists := make([]float32, len(vectors))
	for len(centers) < k {
		var total float64
		for i, v := range vectors {
			d := sqDist(v, centers[len(centers)-1])
			if len(centers) == 1 || d < dists[i] {
				dists[i] = d
			}
			total += float64(dists[i])
		}
		if total == 0 {
			// all remaining points coincide with existing centers; pick arbitrarily
			centers = append(centers, append([]float32(nil), vectors[rng.intn(len(vectors))]...))
			continue
		}
		target := rng.float64() * total
		var acc float64
		chosen := len(vectors) - 1
		for i, d := range dists {
			acc += float64(d)
			if acc >= target {
				chosen = i
				break
			}
		}
		centers = append(centers, append([]float32(nil), vectors[chosen]...))
	}
	return centers
}

// splitMix64 is a small deterministic PRNG so centroid training is
// reproducible given the same seed, samples, and K (spec §4.3's
// idempotency requirement extends naturally to cluster assignment).
type splitMix64 struct{ state uint64 }

func newSplitMix64(seed uint64) *splitMix64 { return &splitMix64{state: seed} }

func (s *splitMix64) next() uint64 {
	s.state += 0x9E3779B97F4A7C15
	z := s.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

func (s *splitMix64) intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(s.next() % uint64(n))
}

func (s *splitMix64) float64() float64 {
	return float64(s.next()>>11) / float64(1<<53)
}

// Assign returns, for each vector, the index of its nearest centroid.
func (c *Centroids) Assign(vectors [][]float32) []int {
	out := make([]int, len(vectors))
	for i, v := range vectors {
		best, bestDist := 0, float32(math.MaxFloat32)
		for ci, center := range c.Vectors {
			d := sqDist(v, center)
			if d < bestDist {
				bestDist, best = d, ci
			}
		}
		out[i] = best
	}
	return out
}

// NearestCentroids returns the indices of the nprobe centroids closest to
// query, ascending by distance.
func (c *Centroids) NearestCentroids(query []float32, nprobe int) []int {
	type scored struct {
		idx  int
		dist float32
	}
	scores := make([]scored, len(c.Vectors))
	for i, center := range c.Vectors {
		scores[i] = scored{i, sqDist(query, center)}
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].dist < scores[j].dist })
	if nprobe > len(scores) {
		nprobe = len(scores)
	}
	out := make([]int, nprobe)
	for i := 0; i < nprobe; i++ {
		out[i] = scores[i].idx
	}
	return out
}
