// Package storage persists pipeline runs, their processed hypotheses and
// their n-gram features.
package storage

import (
	"context"

	"github.com/hyperjump/causa/internal/models"
)

// Storage defines run, hypothesis and feature persistence operations.
type Storage interface {
	// Run operations
	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	LatestRun(ctx context.Context) (*models.Run, error)
	ListRuns(ctx context.Context, offset, limit int) ([]*models.Run, error)
	// SaveRun stores a run, its hypotheses and its features atomically.
	SaveRun(ctx context.Context, run *models.Run, recs []models.TrimmedRecord, counts []models.FeatureCount) error

	// Hypothesis operations
	SaveHypotheses(ctx context.Context, runID string, recs []models.TrimmedRecord) error
	GetHypothesis(ctx context.Context, runID, hypID string) (*models.TrimmedRecord, error)
	ListHypotheses(ctx context.Context, runID, partition string, offset, limit int) ([]models.TrimmedRecord, error)

	// Feature operations
	SaveFeatures(ctx context.Context, runID string, counts []models.FeatureCount) error
	GetFeatures(ctx context.Context, runID, hypID string) (map[string]int, error)

	// Stats
	CountRuns(ctx context.Context) (int64, error)
	CountHypotheses(ctx context.Context, runID string) (int64, error)

	Close() error
}
