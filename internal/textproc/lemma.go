package textproc

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/porter"
	"github.com/kljensen/snowball/english"
)

// Lemmatizer names accepted by NewLemmatizer.
const (
	LemmatizerSnowball = "snowball"
	LemmatizerPorter   = "porter"
	LemmatizerNone     = "none"
)

// NewLemmatizer returns the lemmatizer registered under name.
func NewLemmatizer(name string) (Lemmatizer, error) {
	switch strings.ToLower(name) {
	case "", LemmatizerSnowball:
		return SnowballLemmatizer{}, nil
	case LemmatizerPorter:
		return NewPorterLemmatizer(), nil
	case LemmatizerNone:
		return IdentityLemmatizer{}, nil
	default:
		return nil, fmt.Errorf("unknown lemmatizer %q", name)
	}
}

// SnowballLemmatizer reduces words with the English Snowball stemmer.
type SnowballLemmatizer struct{}

// Lemmatize returns the Snowball stem of word. Stop words are stemmed too.
func (SnowballLemmatizer) Lemmatize(word string) string {
	return english.Stem(word, true)
}

// PorterLemmatizer reduces words with Bleve's Porter stemmer.
type PorterLemmatizer struct {
	filter analysis.TokenFilter
}

// NewPorterLemmatizer returns a PorterLemmatizer.
func NewPorterLemmatizer() *PorterLemmatizer {
	return &PorterLemmatizer{filter: porter.NewPorterStemmer()}
}

// Lemmatize returns the Porter stem of word.
func (p *PorterLemmatizer) Lemmatize(word string) string {
	stream := p.filter.Filter(analysis.TokenStream{{Term: []byte(word), Position: 1, Start: 0, End: len(word)}})
	if len(stream) == 0 {
		return word
	}
	return string(stream[0].Term)
}

// IdentityLemmatizer returns words unchanged.
type IdentityLemmatizer struct{}

// Lemmatize returns word.
func (IdentityLemmatizer) Lemmatize(word string) string {
	return word
}
