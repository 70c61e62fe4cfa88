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

import "github.com/shardwave/hsearch/internal/herrors"

// validateAnnParams checks a request's ann_params overrides against the
// namespace's trained quantizer shape before use: coarse_bits/rerank_bits
// can only name the bit width the namespace's segments were actually
// trained and encoded at, since there is no way to reinterpret an already
// encoded code at a different width. Out-of-range values are InvalidRequest
// rather than silently clamped.
func validateAnnParams(ann AnnParams, coarseBits, fineBits int) error {
	if ann.NProbeRatio < 0 || ann.NProbeRatio > 1 {
		return herrors.New(herrors.InvalidRequest, "query: ann_params.nprobe_ratio must be in [0,1], got %g", ann.NProbeRatio)
	}
	if ann.RerankScale < 0 {
		return herrors.New(herrors.InvalidRequest, "query: ann_params.rerank_scale must be >= 0, got %d", ann.RerankScale)
	}
	if ann.CoarseBits != 0 && ann.CoarseBits != coarseBits {
		return herrors.New(herrors.InvalidRequest, "query: ann_params.coarse_bits %d does not match the namespace's trained coarse width %d", ann.CoarseBits, coarseBits)
	}
	if ann.RerankBits != 0 && ann.RerankBits != fineBits {
		return herrors.New(herrors.InvalidRequest, "query: ann_params.rerank_bits %d does not match the namespace's trained rerank width %d", ann.RerankBits, fineBits)
	}
	switch ann.RerankMode {
	case "", RerankNone, RerankQuantized, RerankExact:
	default:
		return herrors.New(herrors.InvalidRequest, "query: ann_params.rerank_mode must be one of none|quantized|exact, got %q", ann.RerankMode)
	}
	return nil
}
