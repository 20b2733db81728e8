// Package featurize turns trimmed hypothesis sentences into a sparse
// document-term matrix of word n-gram counts.
package featurize

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/shingle"

	apperrors "github.com/hyperjump/causa/internal/errors"
	"github.com/hyperjump/causa/internal/models"
)

const (
	DefaultNGramSize      = 3
	DefaultMinTokenLength = 1
	ngramSeparator        = " "
)

// Options configures a Vectorizer.
type Options struct {
	// NGramSize is the number of contiguous tokens per feature.
	NGramSize int
	// MinTokenLength drops tokens shorter than this many runes before n-grams
	// are formed. Values above 1 join tokens that were not adjacent in the text.
	MinTokenLength int
}

// Entry is one non-zero cell of a Matrix.
type Entry struct {
	Column int `json:"column"`
	Count  int `json:"count"`
}

// Matrix is a sparse document-by-feature count matrix. Rows follow DocIDs;
// columns follow Vocabulary, which is sorted.
type Matrix struct {
	DocIDs     []string  `json:"doc_ids"`
	Vocabulary []string  `json:"vocabulary"`
	Rows       [][]Entry `json:"rows"`
}

// Shape returns the number of documents and features.
func (m *Matrix) Shape() (docs, features int) {
	return len(m.DocIDs), len(m.Vocabulary)
}

// NonZero returns the number of stored cells.
func (m *Matrix) NonZero() int {
	n := 0
	for _, r := range m.Rows {
		n += len(r)
	}
	return n
}

// Row returns the feature counts of docID keyed by n-gram, or nil if absent.
func (m *Matrix) Row(docID string) map[string]int {
	for i, id := range m.DocIDs {
		if id != docID {
			continue
		}
		out := make(map[string]int, len(m.Rows[i]))
		for _, e := range m.Rows[i] {
			out[m.Vocabulary[e.Column]] = e.Count
		}
		return out
	}
	return nil
}

// Counts flattens the matrix into one FeatureCount per stored cell, in row order.
func (m *Matrix) Counts() []models.FeatureCount {
	out := make([]models.FeatureCount, 0, m.NonZero())
	for i, row := range m.Rows {
		for _, e := range row {
			out = append(out, models.FeatureCount{HypID: m.DocIDs[i], NGram: m.Vocabulary[e.Column], Count: e.Count})
		}
	}
	return out
}

// Vectorizer counts word n-grams.
type Vectorizer struct {
	opts   Options
	vocab  []string
	column map[string]int
}

// NewVectorizer returns a Vectorizer. Zero options take the defaults; a
// negative value is an InvalidInputError.
func NewVectorizer(opts Options) (*Vectorizer, error) {
	if opts.NGramSize < 0 {
		return nil, apperrors.NewInvalidInputError("ngram_size", "must be positive")
	}
	if opts.MinTokenLength < 0 {
		return nil, apperrors.NewInvalidInputError("min_token_length", "must not be negative")
	}
	if opts.NGramSize == 0 {
		opts.NGramSize = DefaultNGramSize
	}
	if opts.MinTokenLength == 0 {
		opts.MinTokenLength = DefaultMinTokenLength
	}
	return &Vectorizer{opts: opts}, nil
}

// NGrams returns the n-grams of text in order, with repeats.
func (v *Vectorizer) NGrams(text string) []string {
	var stream analysis.TokenStream
	pos := 0
	for _, tok := range strings.Fields(text) {
		if utf8.RuneCountInString(tok) < v.opts.MinTokenLength {
			continue
		}
		pos++
		stream = append(stream, &analysis.Token{Term: []byte(tok), Position: pos, Type: analysis.AlphaNumeric})
	}
	if len(stream) < v.opts.NGramSize {
		return nil
	}
	if v.opts.NGramSize == 1 {
		out := make([]string, len(stream))
		for i, t := range stream {
			out[i] = string(t.Term)
		}
		return out
	}
	f := shingle.NewShingleFilter(v.opts.NGramSize, v.opts.NGramSize, false, ngramSeparator, "_")
	shingles := f.Filter(stream)
	out := make([]string, 0, len(shingles))
	for _, t := range shingles {
		out = append(out, string(t.Term))
	}
	return out
}

// FitTransform learns the vocabulary from recs and returns their count matrix,
// one row per record keyed by HypID.
func (v *Vectorizer) FitTransform(recs []models.TrimmedRecord) *Matrix {
	grams := make([][]string, len(recs))
	seen := make(map[string]struct{})
	for i, r := range recs {
		grams[i] = v.NGrams(r.Sentence)
		for _, g := range grams[i] {
			seen[g] = struct{}{}
		}
	}
	v.vocab = make([]string, 0, len(seen))
	for g := range seen {
		v.vocab = append(v.vocab, g)
	}
	sort.Strings(v.vocab)
	v.column = make(map[string]int, len(v.vocab))
	for i, g := range v.vocab {
		v.column[g] = i
	}

	m := &Matrix{Vocabulary: v.vocab}
	for i, r := range recs {
		m.DocIDs = append(m.DocIDs, r.HypID)
		m.Rows = append(m.Rows, v.countRow(grams[i]))
	}
	return m
}

// Transform counts the n-grams of sentences against the fitted vocabulary.
// N-grams outside the vocabulary are ignored. Document ids are the slice indices
// unless ids is given with the same length.
func (v *Vectorizer) Transform(sentences []string, ids []string) *Matrix {
	m := &Matrix{Vocabulary: v.vocab}
	for i, s := range sentences {
		id := strconv.Itoa(i)
		if len(ids) == len(sentences) {
			id = ids[i]
		}
		m.DocIDs = append(m.DocIDs, id)
		m.Rows = append(m.Rows, v.countRow(v.NGrams(s)))
	}
	return m
}

// Vocabulary returns the fitted vocabulary in column order.
func (v *Vectorizer) Vocabulary() []string {
	return v.vocab
}

func (v *Vectorizer) countRow(grams []string) []Entry {
	counts := make(map[int]int)
	for _, g := range grams {
		if col, ok := v.column[g]; ok {
			counts[col]++
		}
	}
	row := make([]Entry, 0, len(counts))
	for col, n := range counts {
		row = append(row, Entry{Column: col, Count: n})
	}
	sort.Slice(row, func(i, j int) bool { return row[i].Column < row[j].Column })
	return row
}
