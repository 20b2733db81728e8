// Package trim shortens normalized hypothesis sentences around their entity markers.
//
// Everything up to and including the first marker-2 that follows the first
// marker-1 is kept as-is. The remaining tokens are glued into a single run-on
// token so fixed-width n-gram features see the trailing context as one rare
// term instead of many.
package trim

import (
	"fmt"
	"strings"

	apperrors "github.com/hyperjump/causa/internal/errors"
	"github.com/hyperjump/causa/internal/normalize"
)

// tokenSeparator is the only boundary Trim splits on; runs of spaces yield empty tokens.
const tokenSeparator = " "

// Trimmer trims sentences using a fixed pair of marker tokens.
type Trimmer struct {
	marker1 string
	marker2 string
}

// New returns a Trimmer for the given markers. Empty markers fall back to the
// normalizer defaults. Markers containing the separator, or two identical
// markers, are rejected with an InvalidInputError.
func New(marker1, marker2 string) (*Trimmer, error) {
	if marker1 == "" {
		marker1 = normalize.DefaultMarker1
	}
	if marker2 == "" {
		marker2 = normalize.DefaultMarker2
	}
	if strings.Contains(marker1, tokenSeparator) {
		return nil, apperrors.NewInvalidInputError("marker1", "marker must be a single token")
	}
	if strings.Contains(marker2, tokenSeparator) {
		return nil, apperrors.NewInvalidInputError("marker2", "marker must be a single token")
	}
	if marker1 == marker2 {
		return nil, apperrors.NewInvalidInputError("marker2", "markers must differ")
	}
	return &Trimmer{marker1: marker1, marker2: marker2}, nil
}

// Default returns a Trimmer for the default node1/node2 markers.
func Default() *Trimmer {
	return &Trimmer{marker1: normalize.DefaultMarker1, marker2: normalize.DefaultMarker2}
}

// Markers returns the marker pair.
func (t *Trimmer) Markers() (string, string) {
	return t.marker1, t.marker2
}

// Trim returns sentence with every token after the trim point concatenated
// into one token. The sentence is returned unchanged when either marker is
// absent, when no marker-2 follows the first marker-1, or when that marker-2
// is already the last token.
func (t *Trimmer) Trim(sentence string) string {
	tokens := strings.Split(sentence, tokenSeparator)
	cut := t.cutIndex(tokens)
	if cut < 0 || cut == len(tokens)-1 {
		return sentence
	}
	kept := strings.Join(tokens[:cut+1], tokenSeparator)
	return kept + tokenSeparator + strings.Join(tokens[cut+1:], "")
}

// cutIndex returns the 0-based index of the first marker-2 strictly after the
// first marker-1, or -1 when there is none.
func (t *Trimmer) cutIndex(tokens []string) int {
	first1 := -1
	for i, tok := range tokens {
		if first1 < 0 {
			if tok == t.marker1 {
				first1 = i
			}
			continue
		}
		if tok == t.marker2 {
			return i
		}
	}
	return -1
}

// TrimAll trims each sentence independently and returns the results in order.
func (t *Trimmer) TrimAll(sentences []string) []string {
	out := make([]string, len(sentences))
	for i, s := range sentences {
		out[i] = t.Trim(s)
	}
	return out
}

// TrimValue trims v, which must be a string or a non-nil *string. Any other
// value, including nil, is a precondition violation reported as an
// InvalidInputError.
func (t *Trimmer) TrimValue(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return t.Trim(s), nil
	case *string:
		if s == nil {
			return "", apperrors.NewInvalidInputError("sentence", "nil string pointer")
		}
		return t.Trim(*s), nil
	case nil:
		return "", apperrors.NewInvalidInputError("sentence", "null value")
	default:
		return "", apperrors.NewInvalidInputError("sentence", fmt.Sprintf("expected string, got %T", v))
	}
}
