// Package pipeline turns raw hypothesis records into trimmed, uniquely keyed
// rows ready for vectorization.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/causa/internal/config"
	apperrors "github.com/hyperjump/causa/internal/errors"
	"github.com/hyperjump/causa/internal/models"
	"github.com/hyperjump/causa/internal/normalize"
	"github.com/hyperjump/causa/internal/textproc"
	"github.com/hyperjump/causa/internal/trim"
)

// Deduplication modes.
const (
	// DedupRows drops rows identical in file_name, hypothesis_num and sentence.
	// Regrouping already makes (file_name, hypothesis_num) unique, so after
	// Process regroups this mode never merges and Stats.Merged stays 0.
	DedupRows = "rows"
	// DedupSentence merges rows of the same file sharing a sentence and records
	// the merged hypothesis numbers on the surviving row.
	DedupSentence = "sentence"
	// DedupNone keeps every grouped row.
	DedupNone = "none"
)

// Stats counts rows through each stage of a run.
type Stats struct {
	Input   int `json:"input"`
	Dropped int `json:"dropped"`
	Groups  int `json:"groups"`
	Merged  int `json:"merged"`
	Output  int `json:"output"`
}

// Result is the output of Process.
type Result struct {
	Records []models.TrimmedRecord `json:"records"`
	Stats   Stats                  `json:"stats"`
}

// Pipeline runs normalization, word analysis, regrouping, deduplication and trimming.
type Pipeline struct {
	normalizer *normalize.Normalizer
	analyzer   *textproc.Analyzer
	trimmer    *trim.Trimmer
	dedup      string
	workers    int
	logger     *zap.Logger // optional; when set, logs stage counts
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a logger for stage counts.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithWorkers bounds the number of rows processed concurrently. Values below 1 mean 1.
func WithWorkers(n int) Option {
	return func(p *Pipeline) { p.workers = n }
}

// WithDedup selects the deduplication mode (DedupRows, DedupSentence, DedupNone).
// An empty mode keeps DedupRows.
func WithDedup(mode string) Option {
	return func(p *Pipeline) {
		if mode != "" {
			p.dedup = mode
		}
	}
}

// New creates a pipeline from its collaborators. analyzer may be nil, in which
// case sentences are split on whitespace and kept word for word. With an
// analyzer, each trim marker must come out of word segmentation unchanged
// (markers like "<e1>" lose their brackets and could never be found).
func New(normalizer *normalize.Normalizer, analyzer *textproc.Analyzer, trimmer *trim.Trimmer, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		normalizer: normalizer,
		analyzer:   analyzer,
		trimmer:    trimmer,
		dedup:      DedupRows,
		workers:    1,
	}
	for _, opt := range opts {
		opt(p)
	}
	switch p.dedup {
	case DedupRows, DedupSentence, DedupNone:
	default:
		return nil, fmt.Errorf("unknown dedup mode %q", p.dedup)
	}
	if p.workers < 1 {
		p.workers = 1
	}
	if analyzer != nil && trimmer != nil {
		m1, m2 := trimmer.Markers()
		if !textproc.IsWord(m1) {
			return nil, apperrors.NewInvalidInputError("marker1", fmt.Sprintf("%q is not a single word after tokenization", m1))
		}
		if !textproc.IsWord(m2) {
			return nil, apperrors.NewInvalidInputError("marker2", fmt.Sprintf("%q is not a single word after tokenization", m2))
		}
	}
	return p, nil
}

// NewFromConfig builds the normalizer, analyzer and trimmer described by cfg.
func NewFromConfig(cfg *config.PipelineConfig, opts ...Option) (*Pipeline, error) {
	trimmer, err := trim.New(cfg.Marker1, cfg.Marker2)
	if err != nil {
		return nil, fmt.Errorf("create trimmer: %w", err)
	}
	m1, m2 := trimmer.Markers()
	stop, err := textproc.NewStopWords(cfg.StopWords, cfg.ExtraStopWords...)
	if err != nil {
		return nil, fmt.Errorf("create stop words: %w", err)
	}
	lemma, err := textproc.NewLemmatizer(cfg.Lemmatizer)
	if err != nil {
		return nil, fmt.Errorf("create lemmatizer: %w", err)
	}
	base := []Option{WithDedup(cfg.Dedup), WithWorkers(cfg.Workers)}
	return New(
		normalize.NewNormalizer(m1, m2),
		textproc.NewAnalyzer(stop, lemma, m1, m2),
		trimmer,
		append(base, opts...)...,
	)
}

// Trimmer returns the trimmer used for the final stage.
func (p *Pipeline) Trimmer() *trim.Trimmer {
	return p.trimmer
}

// Normalizer returns the normalizer used for the first stage.
func (p *Pipeline) Normalizer() *normalize.Normalizer {
	return p.normalizer
}

type group struct {
	key      models.GroupKey
	node1    string
	node2    string
	words    []string
	sentence string
	merged   []string
}

// Process runs the full pipeline over recs. Rows with any missing field are
// dropped silently. The output has at most len(recs) rows and every HypID is
// unique. Output order follows the first appearance of each hypothesis.
func (p *Pipeline) Process(ctx context.Context, recs []models.Record) (*Result, error) {
	stats := Stats{Input: len(recs)}

	complete := make([]models.Record, 0, len(recs))
	for _, r := range recs {
		if r.Complete() {
			complete = append(complete, r)
		}
	}
	stats.Dropped = len(recs) - len(complete)

	normalized := make([]models.NormalizedRecord, len(complete))
	words := make([][]string, len(complete))
	err := p.forEach(ctx, len(complete), func(i int) {
		normalized[i] = p.normalizer.Normalize(complete[i])
		words[i] = p.analyze(normalized[i].Sentence)
	})
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}

	groups := regroup(normalized, words)
	stats.Groups = len(groups)

	groups = deduplicate(groups, p.dedup)
	stats.Merged = stats.Groups - len(groups)

	out := make([]models.TrimmedRecord, len(groups))
	err = p.forEach(ctx, len(groups), func(i int) {
		g := groups[i]
		out[i] = models.TrimmedRecord{
			HypID:            HypID(g.key.FileName, g.key.HypothesisNum, i),
			FileName:         g.key.FileName,
			HypothesisNum:    g.key.HypothesisNum,
			Node1:            g.node1,
			Node2:            g.node2,
			Sentence:         p.trimmer.Trim(g.sentence),
			MergedHypotheses: g.merged,
		}
	})
	if err != nil {
		return nil, fmt.Errorf("trim: %w", err)
	}
	stats.Output = len(out)

	if p.logger != nil {
		p.logger.Info("pipeline processed records",
			zap.Int("input", stats.Input),
			zap.Int("dropped", stats.Dropped),
			zap.Int("groups", stats.Groups),
			zap.Int("merged", stats.Merged),
			zap.Int("output", stats.Output),
		)
	}
	return &Result{Records: out, Stats: stats}, nil
}

// HypID builds the unique row key file_name_hypothesis_num_ordinal.
func HypID(fileName, hypothesisNum string, ordinal int) string {
	return fmt.Sprintf("%s_%s_%d", fileName, hypothesisNum, ordinal)
}

func (p *Pipeline) analyze(sentence string) []string {
	if p.analyzer == nil {
		return strings.Fields(sentence)
	}
	return p.analyzer.Analyze(sentence)
}

// forEach calls fn for every index in [0,n) on up to p.workers goroutines.
// fn must only write to its own index.
func (p *Pipeline) forEach(ctx context.Context, n int, fn func(i int)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := 0; i < n; i++ {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// regroup joins the words of every row of a hypothesis, in input order, into
// one sentence per (file_name, hypothesis_num).
func regroup(recs []models.NormalizedRecord, words [][]string) []*group {
	index := make(map[models.GroupKey]*group)
	var groups []*group
	for i, r := range recs {
		key := r.Key()
		g, ok := index[key]
		if !ok {
			g = &group{key: key, node1: r.Node1, node2: r.Node2}
			index[key] = g
			groups = append(groups, g)
		}
		g.words = append(g.words, words[i]...)
	}
	for _, g := range groups {
		g.sentence = strings.Join(g.words, " ")
	}
	return groups
}

func deduplicate(groups []*group, mode string) []*group {
	if mode == DedupNone {
		return groups
	}
	type rowKey struct {
		fileName string
		hypNum   string
		sentence string
	}
	seen := make(map[rowKey]*group)
	out := groups[:0]
	for _, g := range groups {
		k := rowKey{fileName: g.key.FileName, hypNum: g.key.HypothesisNum, sentence: g.sentence}
		if mode == DedupSentence {
			k.hypNum = ""
		}
		if first, ok := seen[k]; ok {
			first.merged = append(first.merged, g.key.HypothesisNum)
			continue
		}
		seen[k] = g
		out = append(out, g)
	}
	return out
}
