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

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/shardwave/hsearch/internal/filterindex"
	"github.com/shardwave/hsearch/internal/herrors"
	"github.com/shardwave/hsearch/internal/manifest"
	"github.com/shardwave/hsearch/internal/model"
	"github.com/shardwave/hsearch/internal/query"
)

type upsertRequest struct {
	Documents []model.Document `json:"documents"`
}

type deleteRequest struct {
	IDs []uint64 `json:"ids"`
}

// queryRequestBody is the wire shape of a query request (spec §6): it mirrors
// query.Request field-for-field except FullText/Consistency/AnnParams, which
// take plain strings/structs over the wire and get translated by toRequest;
// Filter decodes directly into a filterindex.Expr.
type queryRequestBody struct {
	QueryVector []float32          `json:"query_vector,omitempty"`
	FullText    *fullTextQueryBody `json:"full_text,omitempty"`
	Filter      *filterindex.Expr  `json:"filter,omitempty"`
	TopK        int                `json:"top_k"`
	Projection  []string           `json:"projection,omitempty"`
	Consistency string             `json:"consistency,omitempty"`
	AnnParams   *annParamsBody     `json:"ann_params,omitempty"`
}

type fullTextQueryBody struct {
	Query  string              `json:"query"`
	Fields []fullTextFieldBody `json:"fields"`
}

type fullTextFieldBody struct {
	Field  string  `json:"field"`
	Weight float64 `json:"weight"`
}

type annParamsBody struct {
	NProbeRatio float64 `json:"nprobe_ratio"`
	RerankScale int     `json:"rerank_scale"`
	CoarseBits  int     `json:"coarse_bits"`
	RerankBits  int     `json:"rerank_bits"`
	RerankMode  string  `json:"rerank_mode"`
}

func (b queryRequestBody) toRequest() query.Request {
	req := query.Request{
		QueryVector: b.QueryVector,
		Filter:      b.Filter,
		TopK:        b.TopK,
		Projection:  b.Projection,
		Consistency: manifest.Consistency(b.Consistency),
	}
	if b.FullText != nil {
		fields := make([]query.FullTextField, len(b.FullText.Fields))
		for i, f := range b.FullText.Fields {
			fields[i] = query.FullTextField{Field: f.Field, Weight: f.Weight}
		}
		req.FullText = &query.FullTextQuery{Query: b.FullText.Query, Fields: fields}
	}
	if b.AnnParams != nil {
		req.Ann = query.AnnParams{
			NProbeRatio: b.AnnParams.NProbeRatio,
			RerankScale: b.AnnParams.RerankScale,
			CoarseBits:  b.AnnParams.CoarseBits,
			RerankBits:  b.AnnParams.RerankBits,
			RerankMode:  query.RerankMode(b.AnnParams.RerankMode),
		}
	}
	return req
}

type hitBody struct {
	ID       uint64         `json:"id"`
	Score    float64        `json:"score"`
	Document model.Document `json:"document"`
}

type resultBody struct {
	Hits            []hitBody `json:"hits"`
	ManifestVersion int       `json:"manifest_version"`
}

func resultBodyFrom(r *query.Result) resultBody {
	hits := make([]hitBody, len(r.Hits))
	for i, h := range r.Hits {
		hits[i] = hitBody{ID: h.ID, Score: h.Score, Document: h.Document}
	}
	return resultBody{Hits: hits, ManifestVersion: r.ManifestVersion}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeJSON decodes r's body into dst, writing a 400 error response and
// returning false on malformed JSON so the caller can bail out immediately.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		writeError(w, herrors.Wrap(herrors.InvalidRequest, err, "malformed request body"))
		return false
	}
	return true
}
