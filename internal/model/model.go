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

// Package model defines the data model shared by every component: Schema,
// Document, and the typed attribute values documents carry (spec §3).
package model

import "fmt"

// Metric is the vector distance function a namespace's schema commits to.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricL2     Metric = "l2"
	MetricDot    Metric = "dot"
)

// AttrType is one of the permitted attribute value types.
type AttrType string

const (
	AttrString       AttrType = "string"
	AttrInt64        AttrType = "int64"
	AttrFloat64      AttrType = "float64"
	AttrBool         AttrType = "bool"
	AttrListString   AttrType = "list-of-string"
)

// FullTextMode selects whether and how an attribute is analyzed for BM25.
type FullTextMode string

const (
	FullTextDisabled FullTextMode = "disabled"
	FullTextSimple   FullTextMode = "simple"
	FullTextAdvanced FullTextMode = "advanced"
)

// AnalyzerOptions configures the advanced full-text analyzer pipeline for one
// field (spec §4.4).
type AnalyzerOptions struct {
	Language          string `json:"language,omitempty"`
	Stemming          bool   `json:"stemming,omitempty"`
	RemoveStopwords   bool   `json:"remove_stopwords,omitempty"`
	CaseSensitive     bool   `json:"case_sensitive,omitempty"`
	MaxTokenLength    int    `json:"max_token_length,omitempty"`
}

// AttributeDescriptor describes one schema attribute.
type AttributeDescriptor struct {
	Type     AttrType        `json:"type"`
	Indexed  bool            `json:"indexed"`
	FullText FullTextMode    `json:"full_text"`
	Analyzer AnalyzerOptions `json:"analyzer,omitempty"`
}

// Schema is immutable after a namespace's first write unless explicitly
// replaced (spec §3).
type Schema struct {
	VectorDim    int                             `json:"vector_dim"`
	VectorMetric Metric                          `json:"vector_metric"`
	Attributes   map[string]AttributeDescriptor  `json:"attributes"`
}

// Validate checks internal schema consistency.
func (s Schema) Validate() error {
	if s.VectorDim <= 0 {
		return fmt.Errorf("schema: vector_dim must be positive, got %d", s.VectorDim)
	}
	switch s.VectorMetric {
	case MetricCosine, MetricL2, MetricDot:
	default:
		return fmt.Errorf("schema: unsupported vector_metric %q", s.VectorMetric)
	}
	for name, attr := range s.Attributes {
		switch attr.Type {
		case AttrString, AttrInt64, AttrFloat64, AttrBool, AttrListString:
		default:
			return fmt.Errorf("schema: attribute %q has unsupported type %q", name, attr.Type)
		}
		if attr.FullText != "" && attr.FullText != FullTextDisabled && attr.Type != AttrString {
			return fmt.Errorf("schema: attribute %q enables full_text but is not a string", name)
		}
	}
	return nil
}

// Document is one record: an id, an optional vector, and typed attributes.
type Document struct {
	ID         uint64           `json:"id"`
	Vector     []float32        `json:"vector,omitempty"`
	Attributes map[string]any   `json:"attributes,omitempty"`
}

// Sanitize drops attribute keys the schema does not declare (spec §3:
// "undeclared attribute keys are dropped silently on ingest") and returns a
// copy so the caller's map is never mutated in place.
func (s Schema) Sanitize(doc Document) Document {
	if len(doc.Attributes) == 0 {
		return doc
	}
	out := Document{ID: doc.ID, Vector: doc.Vector, Attributes: make(map[string]any, len(doc.Attributes))}
	for k, v := range doc.Attributes {
		if _, ok := s.Attributes[k]; ok {
			out.Attributes[k] = v
		}
	}
	return out
}

// ValidateDocument checks a document's vector dimension and attribute types
// against the schema. Dimension/type errors reject the whole batch (spec §7):
// callers are expected to validate every document before writing any of them.
func (s Schema) ValidateDocument(doc Document) error {
	if doc.Vector != nil && len(doc.Vector) != s.VectorDim {
		return fmt.Errorf("document %d: vector has dimension %d, schema expects %d", doc.ID, len(doc.Vector), s.VectorDim)
	}
	for k, v := range doc.Attributes {
		attr, ok := s.Attributes[k]
		if !ok {
			continue // dropped silently by Sanitize, not a validation error
		}
		if !typeMatches(attr.Type, v) {
			return fmt.Errorf("document %d: attribute %q has wrong type for schema type %q", doc.ID, k, attr.Type)
		}
	}
	return nil
}

func typeMatches(t AttrType, v any) bool {
	switch t {
	case AttrString:
		_, ok := v.(string)
		return ok
	case AttrInt64:
		switch v.(type) {
		case int64, int, float64: // JSON numbers decode as float64
			return true
		}
		return false
	case AttrFloat64:
		switch v.(type) {
		case float64, float32, int64, int:
			return true
		}
		return false
	case AttrBool:
		_, ok := v.(bool)
		return ok
	case AttrListString:
		switch vv := v.(type) {
		case []string:
			return true
		case []any:
			for _, e := range vv {
				if _, ok := e.(string); !ok {
					return false
				}
			}
			return true
		}
		return false
	}
	return false
}
