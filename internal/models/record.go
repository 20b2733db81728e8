// Package models defines the records, runs and features passed between stages.
package models

import "strings"

// Column names of the input and output tables.
const (
	ColSentence      = "sentence"
	ColNode1         = "node_1"
	ColNode2         = "node_2"
	ColFileName      = "file_name"
	ColHypothesisNum = "hypothesis_num"
	ColHypID         = "hyp_id"
)

// RequiredColumns are the input columns every source must provide.
var RequiredColumns = []string{ColSentence, ColNode1, ColNode2, ColFileName, ColHypothesisNum}

// Record is one raw input row: a sentence and the entity pair of a hypothesis.
type Record struct {
	Sentence      string `json:"sentence"`
	Node1         string `json:"node_1"`
	Node2         string `json:"node_2"`
	FileName      string `json:"file_name"`
	HypothesisNum string `json:"hypothesis_num"`
}

// Complete reports whether every field is non-empty after trimming whitespace.
// Incomplete records are treated as rows with missing values.
func (r Record) Complete() bool {
	for _, v := range []string{r.Sentence, r.Node1, r.Node2, r.FileName, r.HypothesisNum} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

// GroupKey identifies the hypothesis a record belongs to.
type GroupKey struct {
	FileName      string
	HypothesisNum string
}

// Key returns the (file_name, hypothesis_num) grouping key.
func (r Record) Key() GroupKey {
	return GroupKey{FileName: r.FileName, HypothesisNum: r.HypothesisNum}
}

// NormalizedRecord is a Record with lower-cased text and entity placeholders substituted.
type NormalizedRecord struct {
	Record
}

// TrimmedRecord is a processed hypothesis ready for vectorization.
type TrimmedRecord struct {
	HypID         string `json:"hyp_id"`
	FileName      string `json:"file_name"`
	HypothesisNum string `json:"hypothesis_num"`
	Node1         string `json:"node_1"`
	Node2         string `json:"node_2"`
	Sentence      string `json:"sentence"`
	// MergedHypotheses lists hypothesis numbers folded into this row by sentence deduplication.
	MergedHypotheses []string `json:"merged_hypotheses,omitempty"`
	Partition        string   `json:"partition,omitempty"`
}

// Partition labels assigned by the splitter.
const (
	PartitionTrain = "train"
	PartitionTest  = "test"
)
