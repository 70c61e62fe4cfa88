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

// Package fulltext implements the per-segment BM25 inverted index and its
// analyzer pipeline (spec §4.4). No teacher component indexes text; the
// analyzer's fold/lowercase stages are grounded on golang.org/x/text, which
// is the ecosystem-idiomatic way to do Unicode case folding in Go rather
// than a hand-rolled ASCII-only lowercase.
package fulltext

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/shardwave/hsearch/internal/model"
)

const defaultMaxTokenLength = 40

// asciiFolder strips combining marks after NFD decomposition, the standard
// golang.org/x/text recipe for accent/diacritic folding ("café" -> "cafe").
var asciiFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Analyze runs the fixed pipeline from spec §4.4: tokenize, drop
// over-length tokens, optional ascii-fold, optional lowercase, optional
// stopword removal, optional stemmer.
func Analyze(text string, opts model.AnalyzerOptions) []string {
	maxLen := opts.MaxTokenLength
	if maxLen <= 0 {
		maxLen = defaultMaxTokenLength
	}

	tokens := tokenize(text)
	out := make([]string, 0, len(tokens))
	stop := stopwordSets[opts.Language]
	stem := stemmers[opts.Language]

	for _, tok := range tokens {
		if len(tok) > maxLen {
			continue
		}
		if !opts.CaseSensitive {
			folded, _, err := transform.String(asciiFolder, tok)
			if err == nil {
				tok = folded
			}
			tok = strings.ToLower(tok)
		}
		if opts.RemoveStopwords && stop != nil && stop[tok] {
			continue
		}
		if opts.Stemming && stem != nil {
			tok = stem(tok)
		}
		if tok == "" {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// tokenize splits on runs of non-letter/non-digit characters, matching the
// simple whitespace/punctuation tokenization BM25 indexes typically use.
func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// SupportedLanguages lists the minimum language set from spec §4.4. Any
// other language tag is accepted but gets a no-op stopword/stemmer stage,
// per spec: "stopword removal is a no-op when unsupported".
var SupportedLanguages = []string{
	"ar", "da", "nl", "en", "fi", "fr", "de", "el", "hu", "it",
	"no", "pt", "ro", "ru", "es", "sv", "ta", "tr",
}

// stopwordSets carries a minimal hand-picked list per language with real
// data; languages outside this subset fall back to a nil set (no-op),
// which is a deliberate scope cut (no ecosystem stopword-list dependency
// appears anywhere in the retrieved pack) rather than a silent gap.
var stopwordSets = map[string]map[string]bool{
	"en": set("a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
		"has", "he", "in", "is", "it", "its", "of", "on", "that", "the",
		"to", "was", "were", "will", "with"),
	"de": set("der", "die", "das", "und", "ist", "ein", "eine", "zu", "im",
		"mit", "auf", "nicht", "von", "den", "dem", "des"),
	"fr": set("le", "la", "les", "un", "une", "et", "est", "de", "du",
		"des", "en", "pour", "dans", "que", "qui"),
	"es": set("el", "la", "los", "las", "un", "una", "y", "es", "de",
		"en", "por", "para", "que", "con"),
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// stemmers holds a minimal suffix-stripping stemmer per language with real
// rules; unlisted languages get no entry (stemming is a no-op for them).
// These are deliberately simple (a small fixed suffix list applied once)
// rather than a full Porter/Snowball implementation, since no ecosystem
// stemmer package appears anywhere in the retrieved pack.
var stemmers = map[string]func(string) string{
	"en": stripSuffixes([]string{"ational", "tional", "ization", "fulness",
		"ousness", "iveness", "biliti", "ing", "edly", "ed", "ly", "es", "s"}),
	"de": stripSuffixes([]string{"ungen", "ung", "heit", "keit", "lich",
		"isch", "en", "er", "es", "e"}),
	"fr": stripSuffixes([]string{"issement", "ement", "ance", "ence",
		"able", "ible", "eux", "ise", "es", "e", "s"}),
	"es": stripSuffixes([]string{"amente", "imiento", "amiento", "ando",
		"iendo", "ar", "er", "ir", "os", "as", "es", "a", "o", "e", "s"}),
}

// stripSuffixes returns a stemmer that removes the first matching suffix
// (longest first) provided the remaining stem is at least 3 bytes, to avoid
// stemming very short words down to nothing.
func stripSuffixes(suffixes []string) func(string) string {
	return func(tok string) string {
		for _, suf := range suffixes {
			if strings.HasSuffix(tok, suf) && len(tok)-len(suf) >= 3 {
				return tok[:len(tok)-len(suf)]
			}
		}
		return tok
	}
}
