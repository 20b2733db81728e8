// Package textproc provides the word tokenizer, stop-word set and lemmatizers
// used to reduce normalized sentences to their content words.
package textproc

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/registry"
)

// StopWords is an exact-match stop-word membership test.
type StopWords interface {
	IsStopWord(word string) bool
}

// Lemmatizer maps a word to its canonical form.
type Lemmatizer interface {
	Lemmatize(word string) string
}

// Stop-word set names accepted by NewStopWords.
const (
	StopWordsEnglish = "english"
	StopWordsNone    = "none"
)

// StopWordSet is a StopWords backed by a set of exact terms.
type StopWordSet map[string]struct{}

// IsStopWord reports whether word is in the set. Matching is exact (case-sensitive).
func (s StopWordSet) IsStopWord(word string) bool {
	_, ok := s[word]
	return ok
}

// Len returns the number of stop words.
func (s StopWordSet) Len() int {
	return len(s)
}

// NewStopWords returns the named stop-word set extended with extra words.
// "english" loads Bleve's English stop list; "none" starts empty.
func NewStopWords(name string, extra ...string) (StopWordSet, error) {
	set := make(StopWordSet)
	switch strings.ToLower(name) {
	case "", StopWordsEnglish:
		tm, err := registry.NewCache().TokenMapNamed(en.StopName)
		if err != nil {
			return nil, fmt.Errorf("load english stop words: %w", err)
		}
		for w := range tm {
			set[w] = struct{}{}
		}
	case StopWordsNone:
	default:
		return nil, fmt.Errorf("unknown stop word set %q", name)
	}
	for _, w := range extra {
		if w = strings.TrimSpace(w); w != "" {
			set[w] = struct{}{}
		}
	}
	return set, nil
}

// IsWord reports whether s survives Words as exactly one unchanged word.
func IsWord(s string) bool {
	w := Words(s)
	return len(w) == 1 && w[0] == s
}

// Words splits text into words using Unicode word segmentation. Punctuation
// and whitespace are dropped; "node1" stays a single word.
func Words(text string) []string {
	stream := wordTokenizer.Tokenize([]byte(text))
	words := make([]string, 0, len(stream))
	for _, tok := range stream {
		words = append(words, string(tok.Term))
	}
	return words
}

var wordTokenizer analysis.Tokenizer = unicode.NewUnicodeTokenizer()

// Analyzer reduces a sentence to its lemmatized content words.
type Analyzer struct {
	stopWords  StopWords
	lemmatizer Lemmatizer
	protected  map[string]struct{}
}

// NewAnalyzer returns an Analyzer. Protected words (the entity markers) are
// never removed or lemmatized. nil stopWords or lemmatizer disable that step.
func NewAnalyzer(stopWords StopWords, lemmatizer Lemmatizer, protected ...string) *Analyzer {
	p := make(map[string]struct{}, len(protected))
	for _, w := range protected {
		p[w] = struct{}{}
	}
	return &Analyzer{stopWords: stopWords, lemmatizer: lemmatizer, protected: p}
}

// Analyze tokenizes sentence, drops stop words and lemmatizes what remains,
// preserving word order.
func (a *Analyzer) Analyze(sentence string) []string {
	words := Words(sentence)
	out := words[:0]
	for _, w := range words {
		if _, ok := a.protected[w]; ok {
			out = append(out, w)
			continue
		}
		if a.stopWords != nil && a.stopWords.IsStopWord(w) {
			continue
		}
		if a.lemmatizer != nil {
			w = a.lemmatizer.Lemmatize(w)
		}
		if w == "" {
			continue
		}
		out = append(out, w)
	}
	return out
}
