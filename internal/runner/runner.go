// Package runner executes a full preparation run: sentence filling, the
// processing pipeline, n-gram featurization, the train/test split and,
// optionally, persistence.
package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/causa/internal/config"
	"github.com/hyperjump/causa/internal/featurize"
	"github.com/hyperjump/causa/internal/models"
	"github.com/hyperjump/causa/internal/pipeline"
	"github.com/hyperjump/causa/internal/source"
	"github.com/hyperjump/causa/internal/split"
	"github.com/hyperjump/causa/internal/storage"
)

// Output is the result of one run.
type Output struct {
	// Run is the run summary; its ID is set only when the run was persisted.
	Run *models.Run `json:"run"`
	// Records are the processed rows in pipeline order, labelled with their partition.
	Records []models.TrimmedRecord `json:"records"`
	Matrix  *featurize.Matrix      `json:"features"`
	Stats   pipeline.Stats         `json:"stats"`
	// Filled counts records added from source documents.
	Filled int `json:"filled"`
}

// Split returns the train and test rows of the output, in pipeline order.
func (o *Output) Split() (train, test []models.TrimmedRecord) {
	for _, r := range o.Records {
		if r.Partition == models.PartitionTrain {
			train = append(train, r)
		} else {
			test = append(test, r)
		}
	}
	return train, test
}

// Runner wires the preparation stages together.
type Runner struct {
	pipeline *pipeline.Pipeline
	features featurize.Options
	ratio    float64
	seed     uint64
	reader   *source.TableReader
	filler   *source.Filler  // optional
	storage  storage.Storage // optional
	logger   *zap.Logger     // optional
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets a logger for run summaries.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithStorage persists every run to s.
func WithStorage(s storage.Storage) Option {
	return func(r *Runner) { r.storage = s }
}

// WithFiller fills sentence-less records from source documents before processing.
func WithFiller(f *source.Filler) Option {
	return func(r *Runner) { r.filler = f }
}

// WithTableReader sets the reader used by RunFiles.
func WithTableReader(tr *source.TableReader) Option {
	return func(r *Runner) { r.reader = tr }
}

// New returns a Runner. Feature options and the split ratio are validated here
// so a misconfiguration fails before any input is read.
func New(p *pipeline.Pipeline, features featurize.Options, ratio float64, seed uint64, opts ...Option) (*Runner, error) {
	if _, err := featurize.NewVectorizer(features); err != nil {
		return nil, fmt.Errorf("create vectorizer: %w", err)
	}
	if _, err := split.New(ratio, seed); err != nil {
		return nil, fmt.Errorf("create splitter: %w", err)
	}
	r := &Runner{
		pipeline: p,
		features: features,
		ratio:    ratio,
		seed:     seed,
		reader:   source.NewTableReader(""),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// NewFromConfig builds a Runner and its pipeline from cfg. A non-empty
// documents directory enables sentence filling. Storage is not opened here;
// pass WithStorage to persist runs.
func NewFromConfig(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Runner, error) {
	p, err := pipeline.NewFromConfig(&cfg.Pipeline, pipeline.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	base := []Option{WithLogger(logger), WithTableReader(source.NewTableReader(cfg.Input.Sheet))}
	if cfg.Input.DocumentsDir != "" {
		base = append(base, WithFiller(source.NewFiller(source.NewDocuments(cfg.Input.DocumentsDir), logger)))
	}
	return New(p, featurize.Options{
		NGramSize:      cfg.Features.NGramSize,
		MinTokenLength: cfg.Features.MinTokenLength,
	}, cfg.Split.Ratio, cfg.Split.Seed, append(base, opts...)...)
}

// Pipeline returns the processing pipeline.
func (r *Runner) Pipeline() *pipeline.Pipeline {
	return r.pipeline
}

// RunFiles reads every table in paths and runs the records.
func (r *Runner) RunFiles(ctx context.Context, paths []string) (*Output, error) {
	recs, err := r.reader.ReadAll(paths)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return r.RunRecords(ctx, paths, recs)
}

// RunRecords processes recs. inputs names where the records came from and is
// only recorded on the run.
func (r *Runner) RunRecords(ctx context.Context, inputs []string, recs []models.Record) (*Output, error) {
	out := &Output{}
	if r.filler != nil {
		recs, out.Filled = r.filler.Fill(recs)
	}

	res, err := r.pipeline.Process(ctx, recs)
	if err != nil {
		return nil, fmt.Errorf("process: %w", err)
	}
	out.Stats = res.Stats

	// The splitter restarts from its seed on every run.
	vec, err := featurize.NewVectorizer(r.features)
	if err != nil {
		return nil, err
	}
	splitter, err := split.New(r.ratio, r.seed)
	if err != nil {
		return nil, err
	}
	out.Records = make([]models.TrimmedRecord, len(res.Records))
	for i, in := range splitter.Mask(len(res.Records)) {
		out.Records[i] = res.Records[i]
		if in {
			out.Records[i].Partition = models.PartitionTrain
		} else {
			out.Records[i].Partition = models.PartitionTest
		}
	}
	out.Matrix = vec.FitTransform(out.Records)

	train, test := out.Split()
	_, nFeatures := out.Matrix.Shape()
	out.Run = &models.Run{
		Inputs:      inputs,
		InputRows:   res.Stats.Input,
		DroppedRows: res.Stats.Dropped,
		OutputRows:  len(out.Records),
		TrainRows:   len(train),
		TestRows:    len(test),
		Features:    nFeatures,
	}

	if r.storage != nil {
		if err := r.persist(ctx, out); err != nil {
			return nil, err
		}
	}
	if r.logger != nil {
		r.logger.Info("run complete",
			zap.String("run_id", out.Run.ID),
			zap.Int("rows", out.Run.OutputRows),
			zap.Int("train", out.Run.TrainRows),
			zap.Int("test", out.Run.TestRows),
			zap.Int("features", nFeatures),
			zap.Int("filled", out.Filled),
		)
	}
	return out, nil
}

func (r *Runner) persist(ctx context.Context, out *Output) error {
	if err := r.storage.SaveRun(ctx, out.Run, out.Records, out.Matrix.Counts()); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}
