// Package normalize lower-cases hypothesis records and anonymizes their two entities.
package normalize

import (
	"strings"

	"github.com/hyperjump/causa/internal/models"
)

// Default placeholder tokens substituted for the two entities.
const (
	DefaultMarker1 = "node1"
	DefaultMarker2 = "node2"
)

// entityPunctuation is removed from entity strings (not from the sentence).
var entityPunctuation = strings.NewReplacer(".", "", "!", "", "?", "")

// Normalizer lower-cases records and replaces entity mentions with placeholders.
type Normalizer struct {
	marker1 string
	marker2 string
}

// NewNormalizer returns a Normalizer using marker1 and marker2 as placeholders.
// Empty markers fall back to the defaults.
func NewNormalizer(marker1, marker2 string) *Normalizer {
	if marker1 == "" {
		marker1 = DefaultMarker1
	}
	if marker2 == "" {
		marker2 = DefaultMarker2
	}
	return &Normalizer{marker1: marker1, marker2: marker2}
}

// Normalize returns the normalized form of rec. rec is not modified.
//
// Text fields are lower-cased and '.', '!' and '?' are stripped from both entities.
// Every literal occurrence of node_1 in the sentence becomes marker1, then every
// occurrence of node_2 becomes marker2. Matching is plain substring matching, so
// partial-word hits are replaced too. An entity spelled with trailing punctuation
// in the sentence ("acme corp.") is matched in that form first so the punctuation
// goes with it. Entities with no match leave the sentence untouched.
func (n *Normalizer) Normalize(rec models.Record) models.NormalizedRecord {
	sentence := strings.ToLower(rec.Sentence)
	raw1 := strings.ToLower(rec.Node1)
	raw2 := strings.ToLower(rec.Node2)
	node1 := StripEntityPunctuation(raw1)
	node2 := StripEntityPunctuation(raw2)

	sentence = replaceEntity(sentence, raw1, node1, n.marker1)
	sentence = replaceEntity(sentence, raw2, node2, n.marker2)

	out := rec
	out.Sentence = sentence
	out.Node1 = node1
	out.Node2 = node2
	return models.NormalizedRecord{Record: out}
}

// NormalizeAll normalizes each record in order.
func (n *Normalizer) NormalizeAll(recs []models.Record) []models.NormalizedRecord {
	out := make([]models.NormalizedRecord, len(recs))
	for i, r := range recs {
		out[i] = n.Normalize(r)
	}
	return out
}

// StripEntityPunctuation removes '.', '!' and '?' from s.
func StripEntityPunctuation(s string) string {
	return entityPunctuation.Replace(s)
}

func replaceEntity(sentence, raw, stripped, marker string) string {
	if stripped == "" {
		return sentence
	}
	if raw != stripped && strings.TrimSpace(raw) != "" {
		sentence = strings.ReplaceAll(sentence, raw, marker)
	}
	return strings.ReplaceAll(sentence, stripped, marker)
}
