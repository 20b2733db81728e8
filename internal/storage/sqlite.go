package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/hyperjump/causa/internal/errors"
	"github.com/hyperjump/causa/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		inputs TEXT NOT NULL,
		input_rows INTEGER NOT NULL,
		dropped_rows INTEGER NOT NULL,
		output_rows INTEGER NOT NULL,
		train_rows INTEGER NOT NULL,
		test_rows INTEGER NOT NULL,
		features INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);

	CREATE TABLE IF NOT EXISTS hypotheses (
		run_id TEXT NOT NULL,
		hyp_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		file_name TEXT NOT NULL,
		hypothesis_num TEXT NOT NULL,
		node_1 TEXT NOT NULL,
		node_2 TEXT NOT NULL,
		sentence TEXT NOT NULL,
		merged_hypotheses TEXT,
		partition TEXT,
		PRIMARY KEY (run_id, hyp_id),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_hypotheses_run_position ON hypotheses(run_id, position);

	CREATE TABLE IF NOT EXISTS features (
		run_id TEXT NOT NULL,
		hyp_id TEXT NOT NULL,
		ngram TEXT NOT NULL,
		count INTEGER NOT NULL,
		PRIMARY KEY (run_id, hyp_id, ngram),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// CreateRun inserts a run. An empty ID is filled with a new UUID; CreatedAt is set.
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *models.Run) error {
	return insertRun(ctx, s.db, run)
}

func insertRun(ctx context.Context, db execer, run *models.Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	inputsJSON, err := json.Marshal(run.Inputs)
	if err != nil {
		return fmt.Errorf("failed to marshal inputs: %w", err)
	}
	run.CreatedAt = time.Now()

	_, err = db.ExecContext(ctx,
		`INSERT INTO runs (id, inputs, input_rows, dropped_rows, output_rows, train_rows, test_rows, features, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(inputsJSON), run.InputRows, run.DroppedRows, run.OutputRows,
		run.TrainRows, run.TestRows, run.Features, run.CreatedAt,
	)
	return err
}

// SaveRun inserts a run together with its hypotheses and features in one
// transaction. On failure nothing is stored and a generated run ID is cleared.
func (s *SQLiteStorage) SaveRun(ctx context.Context, run *models.Run, recs []models.TrimmedRecord, counts []models.FeatureCount) (err error) {
	if run.ID == "" {
		defer func() {
			if err != nil {
				run.ID = ""
			}
		}()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertRun(ctx, tx, run); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if err := insertHypotheses(ctx, tx, run.ID, recs); err != nil {
		return err
	}
	if err := insertFeatures(ctx, tx, run.ID, counts); err != nil {
		return err
	}
	return tx.Commit()
}

const runColumns = `id, inputs, input_rows, dropped_rows, output_rows, train_rows, test_rows, features, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var run models.Run
	var inputsJSON string
	if err := row.Scan(&run.ID, &inputsJSON, &run.InputRows, &run.DroppedRows, &run.OutputRows,
		&run.TrainRows, &run.TestRows, &run.Features, &run.CreatedAt); err != nil {
		return nil, err
	}
	if inputsJSON != "" {
		if err := json.Unmarshal([]byte(inputsJSON), &run.Inputs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal inputs: %w", err)
		}
	}
	return &run, nil
}

// GetRun returns a run by ID.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*models.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("run", id)
	}
	return run, err
}

// LatestRun returns the most recently created run.
func (s *SQLiteStorage) LatestRun(ctx context.Context) (*models.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("run", "latest")
	}
	return run, err
}

// ListRuns returns runs, newest first, with offset and limit.
func (s *SQLiteStorage) ListRuns(ctx context.Context, offset, limit int) ([]*models.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SaveHypotheses inserts the processed rows of a run in a transaction,
// preserving their order.
func (s *SQLiteStorage) SaveHypotheses(ctx context.Context, runID string, recs []models.TrimmedRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertHypotheses(ctx, tx, runID, recs); err != nil {
		return err
	}
	return tx.Commit()
}

func insertHypotheses(ctx context.Context, tx execer, runID string, recs []models.TrimmedRecord) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO hypotheses (run_id, hyp_id, position, file_name, hypothesis_num, node_1, node_2, sentence, merged_hypotheses, partition)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range recs {
		var merged any
		if len(r.MergedHypotheses) > 0 {
			b, err := json.Marshal(r.MergedHypotheses)
			if err != nil {
				return fmt.Errorf("failed to marshal merged hypotheses: %w", err)
			}
			merged = string(b)
		}
		if _, err := stmt.ExecContext(ctx, runID, r.HypID, i, r.FileName, r.HypothesisNum,
			r.Node1, r.Node2, r.Sentence, merged, r.Partition); err != nil {
			return fmt.Errorf("insert hypothesis %s: %w", r.HypID, err)
		}
	}
	return nil
}

const hypothesisColumns = `hyp_id, file_name, hypothesis_num, node_1, node_2, sentence, merged_hypotheses, partition`

func scanHypothesis(row rowScanner) (*models.TrimmedRecord, error) {
	var r models.TrimmedRecord
	var merged, partition sql.NullString
	if err := row.Scan(&r.HypID, &r.FileName, &r.HypothesisNum, &r.Node1, &r.Node2,
		&r.Sentence, &merged, &partition); err != nil {
		return nil, err
	}
	if merged.Valid && merged.String != "" {
		if err := json.Unmarshal([]byte(merged.String), &r.MergedHypotheses); err != nil {
			return nil, fmt.Errorf("failed to unmarshal merged hypotheses: %w", err)
		}
	}
	r.Partition = partition.String
	return &r, nil
}

// GetHypothesis returns one processed row of a run.
func (s *SQLiteStorage) GetHypothesis(ctx context.Context, runID, hypID string) (*models.TrimmedRecord, error) {
	r, err := scanHypothesis(s.db.QueryRowContext(ctx,
		`SELECT `+hypothesisColumns+` FROM hypotheses WHERE run_id = ? AND hyp_id = ?`, runID, hypID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("hypothesis", hypID)
	}
	return r, err
}

// ListHypotheses returns the rows of a run in their original order. A
// non-empty partition restricts the result to that partition.
func (s *SQLiteStorage) ListHypotheses(ctx context.Context, runID, partition string, offset, limit int) ([]models.TrimmedRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+hypothesisColumns+` FROM hypotheses
		 WHERE run_id = ? AND (? = '' OR partition = ?)
		 ORDER BY position LIMIT ? OFFSET ?`,
		runID, partition, partition, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TrimmedRecord
	for rows.Next() {
		r, err := scanHypothesis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// SaveFeatures inserts n-gram counts of a run in a transaction.
func (s *SQLiteStorage) SaveFeatures(ctx context.Context, runID string, counts []models.FeatureCount) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertFeatures(ctx, tx, runID, counts); err != nil {
		return err
	}
	return tx.Commit()
}

func insertFeatures(ctx context.Context, tx execer, runID string, counts []models.FeatureCount) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO features (run_id, hyp_id, ngram, count) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range counts {
		if _, err := stmt.ExecContext(ctx, runID, c.HypID, c.NGram, c.Count); err != nil {
			return fmt.Errorf("insert feature %q of %s: %w", c.NGram, c.HypID, err)
		}
	}
	return nil
}

// GetFeatures returns the n-gram counts of one hypothesis of a run. A
// hypothesis without features yields an empty map.
func (s *SQLiteStorage) GetFeatures(ctx context.Context, runID, hypID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ngram, count FROM features WHERE run_id = ? AND hyp_id = ? ORDER BY ngram`,
		runID, hypID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var ngram string
		var count int
		if err := rows.Scan(&ngram, &count); err != nil {
			return nil, err
		}
		out[ngram] = count
	}
	return out, rows.Err()
}

// CountRuns returns the total number of runs.
func (s *SQLiteStorage) CountRuns(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&count)
	return count, err
}

// CountHypotheses returns the number of rows stored for a run.
func (s *SQLiteStorage) CountHypotheses(ctx context.Context, runID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM hypotheses WHERE run_id = ?`, runID).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
