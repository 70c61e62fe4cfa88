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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shardwave/hsearch/internal/model"
)

func enOpts() model.AnalyzerOptions {
	return model.AnalyzerOptions{Language: "en", Stemming: true, RemoveStopwords: true}
}

func TestAnalyzeLowercasesAndFoldsAccents(t *testing.T) {
	tokens := Analyze("Café del Mar", model.AnalyzerOptions{})
	require.Contains(t, tokens, "cafe")
}

func TestAnalyzeRemovesStopwordsAndStems(t *testing.T) {
	tokens := Analyze("The running dogs are running", enOpts())
	for _, tok := range tokens {
		require.NotEqual(t, "the", tok)
		require.NotEqual(t, "are", tok)
	}
	require.Contains(t, tokens, "runn") // suffix-stripping stemmer: "running" -> "runn"
}

func TestAnalyzeDropsOverlongTokens(t *testing.T) {
	long := ""
	for i := 0; i < 60; i++ {
		long += "a"
	}
	tokens := Analyze("short "+long, model.AnalyzerOptions{MaxTokenLength: 40})
	require.Equal(t, []string{"short"}, tokens)
}

func TestBuilderFlushAndSearchRoundTrip(t *testing.T) {
	b := NewBuilder(model.AnalyzerOptions{Language: "en"})
	b.Add(1, "the quick brown fox")
	b.Add(2, "the lazy dog sleeps")
	b.Add(3, "quick quick quick fox fox")

	blob, err := b.Flush()
	require.NoError(t, err)

	r, err := Open(blob)
	require.NoError(t, err)

	hits := r.Search("quick fox", model.AnalyzerOptions{Language: "en"}, 10)
	require.NotEmpty(t, hits)
	require.Equal(t, uint64(3), hits[0].DocID) // highest term frequency for "quick"/"fox"
}

func TestSearchMultiFieldSumsWeightedScores(t *testing.T) {
	title := NewBuilder(model.AnalyzerOptions{})
	title.Add(1, "rocket ship")
	title.Add(2, "bicycle")
	titleBlob, err := title.Flush()
	require.NoError(t, err)
	titleReader, err := Open(titleBlob)
	require.NoError(t, err)

	body := NewBuilder(model.AnalyzerOptions{})
	body.Add(1, "a slow bicycle ride")
	body.Add(2, "a fast rocket launch")
	bodyBlob, err := body.Flush()
	require.NoError(t, err)
	bodyReader, err := Open(bodyBlob)
	require.NoError(t, err)

	hits := SearchMultiField("rocket", []FieldQuery{
		{Field: "title", Reader: titleReader, Weight: 3.0},
		{Field: "body", Reader: bodyReader, Weight: 1.0},
	}, 10)
	require.NotEmpty(t, hits)
	require.Equal(t, uint64(1), hits[0].DocID)
}

func TestSearchEmptyIndexReturnsNoHits(t *testing.T) {
	b := NewBuilder(model.AnalyzerOptions{})
	blob, err := b.Flush()
	require.NoError(t, err)
	r, err := Open(blob)
	require.NoError(t, err)
	require.Empty(t, r.Search("anything", model.AnalyzerOptions{}, 10))
}
