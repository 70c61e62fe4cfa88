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

package fulltext

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"sort"

	"github.com/shardwave/hsearch/internal/herrors"
	"github.com/shardwave/hsearch/internal/model"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Builder accumulates (docId, field, text) tuples for a single field of a
// single segment (spec §4.4: "a writable builder accepts (docId, field,
// text) tuples; flushing produces a set of immutable files"). One Builder
// per analyzed field; the namespace write path owns one per declared
// full-text attribute.
type Builder struct {
	opts model.AnalyzerOptions

	postings   map[string]map[uint64]int // term -> docId -> term frequency
	docLengths map[uint64]int
}

// NewBuilder creates a builder for one field using the field's analyzer
// options.
func NewBuilder(opts model.AnalyzerOptions) *Builder {
	return &Builder{
		opts:       opts,
		postings:   make(map[string]map[uint64]int),
		docLengths: make(map[uint64]int),
	}
}

// Add indexes one document's text for this field.
func (b *Builder) Add(docID uint64, text string) {
	tokens := Analyze(text, b.opts)
	b.docLengths[docID] += len(tokens)
	for _, tok := range tokens {
		freqs, ok := b.postings[tok]
		if !ok {
			freqs = make(map[uint64]int)
			b.postings[tok] = freqs
		}
		freqs[docID]++
	}
}

// wireEntry is one term's postings, serialized in docId order.
type wireEntry struct {
	Term     string   `json:"term"`
	DocIDs   []uint64 `json:"doc_ids"`
	TermFreq []int    `json:"term_freq"`
}

type wireIndex struct {
	Terms      []wireEntry      `json:"terms"`
	DocLengths map[uint64]int   `json:"doc_lengths"`
}

// Flush serializes the accumulated postings into an immutable byte blob a
// Reader can Open. Terms and per-term doc ids are sorted for determinism.
func (b *Builder) Flush() ([]byte, error) {
	terms := make([]string, 0, len(b.postings))
	for t := range b.postings {
		terms = append(terms, t)
	}
	sort.Strings(terms)

	wi := wireIndex{Terms: make([]wireEntry, 0, len(terms)), DocLengths: b.docLengths}
	for _, t := range terms {
		freqs := b.postings[t]
		ids := make([]uint64, 0, len(freqs))
		for id := range freqs {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		tf := make([]int, len(ids))
		for i, id := range ids {
			tf[i] = freqs[id]
		}
		wi.Terms = append(wi.Terms, wireEntry{Term: t, DocIDs: ids, TermFreq: tf})
	}

	body, err := json.Marshal(wi)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 4+len(body))
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(body)))
	out = append(out, l[:]...)
	out = append(out, body...)
	return out, nil
}

// Reader is an opened, read-only field index.
type Reader struct {
	postings   map[string][]postingEntry
	docLengths map[uint64]int
	avgDocLen  float64
}

type postingEntry struct {
	docID uint64
	tf    int
}

// Open parses a blob produced by Builder.Flush.
func Open(data []byte) (*Reader, error) {
	if len(data) < 4 {
		return nil, herrors.New(herrors.Corruption, "fulltext: truncated index length")
	}
	n := int(binary.LittleEndian.Uint32(data))
	if len(data) < 4+n {
		return nil, herrors.New(herrors.Corruption, "fulltext: truncated index body")
	}
	var wi wireIndex
	if err := json.Unmarshal(data[4:4+n], &wi); err != nil {
		return nil, herrors.Wrap(herrors.Corruption, err, "fulltext: decoding index")
	}

	r := &Reader{postings: make(map[string][]postingEntry, len(wi.Terms)), docLengths: wi.DocLengths}
	for _, e := range wi.Terms {
		if len(e.DocIDs) != len(e.TermFreq) {
			return nil, herrors.New(herrors.Corruption, "fulltext: term %q has mismatched doc_ids/term_freq", e.Term)
		}
		entries := make([]postingEntry, len(e.DocIDs))
		for i := range e.DocIDs {
			entries[i] = postingEntry{docID: e.DocIDs[i], tf: e.TermFreq[i]}
		}
		r.postings[e.Term] = entries
	}

	var total int
	for _, l := range r.docLengths {
		total += l
	}
	if len(r.docLengths) > 0 {
		r.avgDocLen = float64(total) / float64(len(r.docLengths))
	}
	return r, nil
}

// Hit is one scored document from Search.
type Hit struct {
	DocID uint64
	Score float64
}

// Search scores every document containing at least one query token against
// the classic Okapi BM25 formula and returns the top_k highest-scoring
// documents, descending by score.
func (r *Reader) Search(query string, opts model.AnalyzerOptions, topK int) []Hit {
	terms := Analyze(query, opts)
	n := len(r.docLengths)
	if n == 0 || len(terms) == 0 {
		return nil
	}

	scores := make(map[uint64]float64)
	for _, term := range terms {
		entries, ok := r.postings[term]
		if !ok {
			continue
		}
		idf := math.Log(1 + (float64(n)-float64(len(entries))+0.5)/(float64(len(entries))+0.5))
		for _, e := range entries {
			docLen := float64(r.docLengths[e.docID])
			tf := float64(e.tf)
			denom := tf + bm25K1*(1-bm25B+bm25B*docLen/r.avgDocLen)
			scores[e.docID] += idf * (tf * (bm25K1 + 1)) / denom
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, s := range scores {
		hits = append(hits, Hit{DocID: id, Score: s})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocID < hits[j].DocID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// FieldQuery is one field's text query and weight for a multi-field search
// (spec §4.4: "accept a list of fields and per-field weights").
type FieldQuery struct {
	Field  string
	Reader *Reader
	Opts   model.AnalyzerOptions
	Weight float64
}

// SearchMultiField runs Search per field and sums weighted scores per
// document (default weight 1.0).
func SearchMultiField(query string, fields []FieldQuery, topK int) []Hit {
	combined := make(map[uint64]float64)
	for _, f := range fields {
		weight := f.Weight
		if weight == 0 {
			weight = 1.0
		}
		for _, hit := range f.Reader.Search(query, f.Opts, 0) {
			combined[hit.DocID] += weight * hit.Score
		}
	}
	hits := make([]Hit, 0, len(combined))
	for id, s := range combined {
		hits = append(hits, Hit{DocID: id, Score: s})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocID < hits[j].DocID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}
