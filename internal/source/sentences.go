package source

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/causa/internal/models"
	"github.com/hyperjump/causa/internal/normalize"
)

// sentenceEnd matches terminal punctuation followed by whitespace, or a blank line.
var sentenceEnd = regexp.MustCompile(`[.!?]+["')\]]*\s+|\n\s*\n`)

// hyphenBreak matches words hyphenated across a line break in extracted PDF text.
var hyphenBreak = regexp.MustCompile(`(\pL)-\n(\pL)`)

// SplitSentences splits text into sentences. Line breaks inside a sentence are
// folded into single spaces and terminal punctuation stays with its sentence.
func SplitSentences(text string) []string {
	text = hyphenBreak.ReplaceAllString(text, "$1$2")
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		out = appendSentence(out, text[last:loc[1]])
		last = loc[1]
	}
	return appendSentence(out, text[last:])
}

func appendSentence(out []string, s string) []string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return out
	}
	return append(out, s)
}

// TextSource returns the text of a paper by file name.
type TextSource interface {
	Text(fileName string) (string, error)
}

// Filler completes records that have entities but no sentence.
type Filler struct {
	docs   TextSource
	logger *zap.Logger // optional
}

// NewFiller returns a Filler reading papers from docs. logger may be nil.
func NewFiller(docs TextSource, logger *zap.Logger) *Filler {
	return &Filler{docs: docs, logger: logger}
}

// Fill returns recs with every sentence-less record replaced by one record per
// sentence of its paper that mentions both entities (case-insensitive). Records
// whose paper is unreadable or has no such sentence are kept unchanged, so the
// pipeline's missing-value filter drops them. The second result is the number
// of records added.
func (f *Filler) Fill(recs []models.Record) ([]models.Record, int) {
	out := make([]models.Record, 0, len(recs))
	added := 0
	sentences := make(map[string][]string)
	for _, r := range recs {
		if strings.TrimSpace(r.Sentence) != "" || r.FileName == "" || r.Node1 == "" || r.Node2 == "" {
			out = append(out, r)
			continue
		}
		ss, ok := sentences[r.FileName]
		if !ok {
			text, err := f.docs.Text(r.FileName)
			if err != nil && f.logger != nil {
				f.logger.Warn("source document unavailable", zap.String("file_name", r.FileName), zap.Error(err))
			}
			ss = SplitSentences(text)
			sentences[r.FileName] = ss
		}
		matches := matchingSentences(ss, r.Node1, r.Node2)
		if len(matches) == 0 {
			out = append(out, r)
			continue
		}
		for _, s := range matches {
			filled := r
			filled.Sentence = s
			out = append(out, filled)
		}
		added += len(matches)
	}
	if f.logger != nil {
		f.logger.Debug("filled sentences from documents", zap.Int("added", added))
	}
	return out, added
}

func matchingSentences(sentences []string, node1, node2 string) []string {
	n1 := strings.ToLower(normalize.StripEntityPunctuation(node1))
	n2 := strings.ToLower(normalize.StripEntityPunctuation(node2))
	if strings.TrimSpace(n1) == "" || strings.TrimSpace(n2) == "" {
		return nil
	}
	var out []string
	for _, s := range sentences {
		lower := strings.ToLower(s)
		if strings.Contains(lower, n1) && strings.Contains(lower, n2) {
			out = append(out, s)
		}
	}
	return out
}
