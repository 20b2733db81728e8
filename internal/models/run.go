package models

import "time"

// Run is one persisted execution of the pipeline over a set of inputs.
type Run struct {
	ID          string    `json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
	Inputs      []string  `json:"inputs"`
	InputRows   int       `json:"input_rows"`
	DroppedRows int       `json:"dropped_rows"`
	OutputRows  int       `json:"output_rows"`
	TrainRows   int       `json:"train_rows"`
	TestRows    int       `json:"test_rows"`
	Features    int       `json:"features"`
}

// FeatureCount is one non-zero n-gram count of a hypothesis.
type FeatureCount struct {
	HypID string `json:"hyp_id"`
	NGram string `json:"ngram"`
	Count int    `json:"count"`
}
