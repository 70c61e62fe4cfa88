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

import "sort"

// mergeOutcomes implements spec §4.8's cross-segment merge: per-modality
// global ranking, then Reciprocal Rank Fusion across modalities when both
// vector and full-text are present. Returns the final ordered id list and a
// score lookup for response assembly.
func mergeOutcomes(outcomes []*segmentOutcome, req Request, topK int) ([]uint64, map[uint64]float64) {
	hasVector := len(req.QueryVector) > 0
	hasText := req.FullText != nil && req.FullText.Query != ""

	if !hasVector && !hasText {
		return mergeFilterOnly(outcomes, topK)
	}

	var vectorRank map[uint64]int // 1-indexed global rank, ascending estimate (closer is better)
	var vectorIDs []uint64
	if hasVector {
		vectorIDs, vectorRank = rankVector(outcomes, topK)
	}

	var textRank map[uint64]int // 1-indexed global rank, descending score
	var textScore map[uint64]float64
	if hasText {
		textScore, textRank = rankText(outcomes, topK)
	}

	if hasVector && !hasText {
		scores := make(map[uint64]float64, len(vectorIDs))
		for _, o := range outcomes {
			if o == nil {
				continue
			}
			for _, c := range o.vector {
				scores[c.DocID] = -float64(c.Estimate) // higher score = closer, for a uniform "higher is better" Hit.Score
			}
		}
		if len(vectorIDs) > topK {
			vectorIDs = vectorIDs[:topK]
		}
		return vectorIDs, scores
	}
	if hasText && !hasVector {
		ids := make([]uint64, 0, len(textScore))
		for id := range textScore {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			if textScore[ids[i]] != textScore[ids[j]] {
				return textScore[ids[i]] > textScore[ids[j]]
			}
			return ids[i] < ids[j]
		})
		if len(ids) > topK {
			ids = ids[:topK]
		}
		return ids, textScore
	}

	// hybrid: Reciprocal Rank Fusion, score(d) = sum_i w_i/(k+rank_i(d)).
	const vectorWeight, textWeight = 1.0, 1.0
	rrf := make(map[uint64]float64)
	for id, rank := range vectorRank {
		rrf[id] += vectorWeight / float64(DefaultRRFK+rank)
	}
	for id, rank := range textRank {
		rrf[id] += textWeight / float64(DefaultRRFK+rank)
	}
	ids := make([]uint64, 0, len(rrf))
	for id := range rrf {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if rrf[ids[i]] != rrf[ids[j]] {
			return rrf[ids[i]] > rrf[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > topK {
		ids = ids[:topK]
	}
	return ids, rrf
}

func rankVector(outcomes []*segmentOutcome, topK int) ([]uint64, map[uint64]int) {
	type scored struct {
		id       uint64
		estimate float32
	}
	var all []scored
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		for _, c := range o.vector {
			all = append(all, scored{id: c.DocID, estimate: c.Estimate})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].estimate != all[j].estimate {
			return all[i].estimate < all[j].estimate
		}
		return all[i].id < all[j].id
	})
	ids := make([]uint64, len(all))
	rank := make(map[uint64]int, len(all))
	for i, s := range all {
		ids[i] = s.id
		rank[s.id] = i + 1
	}
	return ids, rank
}

func rankText(outcomes []*segmentOutcome, topK int) (map[uint64]float64, map[uint64]int) {
	type scored struct {
		id    uint64
		score float64
	}
	var all []scored
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		for _, h := range o.text {
			all = append(all, scored{id: h.DocID, score: h.Score})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].id < all[j].id
	})
	scoreByID := make(map[uint64]float64, len(all))
	rank := make(map[uint64]int, len(all))
	for i, s := range all {
		scoreByID[s.id] = s.score
		rank[s.id] = i + 1
	}
	return scoreByID, rank
}

func mergeFilterOnly(outcomes []*segmentOutcome, topK int) ([]uint64, map[uint64]float64) {
	var all []uint64
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		all = append(all, o.filtered...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	if len(all) > topK {
		all = all[:topK]
	}
	scores := make(map[uint64]float64, len(all))
	return all, scores
}
