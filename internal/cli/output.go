// Package cli provides output writers for the causa command line.
package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hyperjump/causa/internal/featurize"
	"github.com/hyperjump/causa/internal/models"
	"github.com/hyperjump/causa/internal/runner"
	"github.com/hyperjump/causa/pkg/utils"
)

// OutputFormat is the format for tables written by the CLI.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
	// OutputCSV is one row per record with a header line.
	OutputCSV OutputFormat = "csv"
)

// ParseOutputFormat validates s. Empty means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case "":
		return OutputText, nil
	case OutputText, OutputJSON, OutputCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or csv)", s)
	}
}

// Ext returns the file extension used when writing f to disk.
func (f OutputFormat) Ext() string {
	switch f {
	case OutputJSON:
		return ".json"
	case OutputCSV:
		return ".csv"
	default:
		return ".txt"
	}
}

// sentenceWidth caps sentences in text output.
const sentenceWidth = 120

var recordHeader = []string{
	models.ColHypID, models.ColFileName, models.ColHypothesisNum,
	models.ColNode1, models.ColNode2, models.ColSentence, "merged_hypotheses", "partition",
}

// WriteRecords writes processed rows to w in the given format.
func WriteRecords(w io.Writer, recs []models.TrimmedRecord, format OutputFormat) error {
	switch format {
	case OutputJSON:
		if recs == nil {
			recs = []models.TrimmedRecord{}
		}
		return writeJSON(w, recs)
	case OutputCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(recordHeader); err != nil {
			return err
		}
		for _, r := range recs {
			if err := cw.Write([]string{
				r.HypID, r.FileName, r.HypothesisNum, r.Node1, r.Node2, r.Sentence,
				strings.Join(r.MergedHypotheses, ";"), r.Partition,
			}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		for _, r := range recs {
			fmt.Fprintf(w, "%s", r.HypID)
			if r.Partition != "" {
				fmt.Fprintf(w, " [%s]", r.Partition)
			}
			if len(r.MergedHypotheses) > 0 {
				fmt.Fprintf(w, " (merged: %s)", strings.Join(r.MergedHypotheses, ", "))
			}
			fmt.Fprintf(w, "\n  %s\n", utils.Truncate(r.Sentence, sentenceWidth))
		}
		return nil
	}
}

// WriteNormalized writes normalized records to w in the given format.
func WriteNormalized(w io.Writer, recs []models.NormalizedRecord, format OutputFormat) error {
	switch format {
	case OutputJSON:
		if recs == nil {
			recs = []models.NormalizedRecord{}
		}
		return writeJSON(w, recs)
	case OutputCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(models.RequiredColumns); err != nil {
			return err
		}
		for _, r := range recs {
			if err := cw.Write([]string{r.Sentence, r.Node1, r.Node2, r.FileName, r.HypothesisNum}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		for _, r := range recs {
			fmt.Fprintf(w, "%s #%s: %s\n", r.FileName, r.HypothesisNum, utils.Truncate(r.Sentence, sentenceWidth))
		}
		return nil
	}
}

// WriteMatrix writes a feature matrix to w. CSV and text use the long form,
// one (hyp_id, ngram, count) line per non-zero cell.
func WriteMatrix(w io.Writer, m *featurize.Matrix, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, m)
	case OutputCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{models.ColHypID, "ngram", "count"}); err != nil {
			return err
		}
		for _, c := range m.Counts() {
			if err := cw.Write([]string{c.HypID, c.NGram, strconv.Itoa(c.Count)}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		docs, features := m.Shape()
		fmt.Fprintf(w, "%d documents x %d features, %d non-zero\n", docs, features, m.NonZero())
		for _, c := range m.Counts() {
			fmt.Fprintf(w, "%s\t%s\t%d\n", c.HypID, c.NGram, c.Count)
		}
		return nil
	}
}

// WriteSummary writes a one-run summary to w.
func WriteSummary(w io.Writer, out *runner.Output, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]any{"run": out.Run, "stats": out.Stats, "filled": out.Filled})
	}
	run := out.Run
	if run.ID != "" {
		fmt.Fprintf(w, "Run:       %s\n", run.ID)
	}
	fmt.Fprintf(w, "Input:     %d rows (%d dropped, %d filled from documents)\n", run.InputRows, run.DroppedRows, out.Filled)
	fmt.Fprintf(w, "Groups:    %d (%d merged by deduplication)\n", out.Stats.Groups, out.Stats.Merged)
	fmt.Fprintf(w, "Output:    %d rows (%d train, %d test)\n", run.OutputRows, run.TrainRows, run.TestRows)
	fmt.Fprintf(w, "Features:  %d n-grams\n", run.Features)
	return nil
}

// WriteOutputs writes hypotheses, train, test and features files into dir and
// returns the written paths.
func WriteOutputs(dir string, out *runner.Output, format OutputFormat) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	train, test := out.Split()
	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{"hypotheses", func(w io.Writer) error { return WriteRecords(w, out.Records, format) }},
		{"train", func(w io.Writer) error { return WriteRecords(w, train, format) }},
		{"test", func(w io.Writer) error { return WriteRecords(w, test, format) }},
		{"features", func(w io.Writer) error { return WriteMatrix(w, out.Matrix, format) }},
	}
	var paths []string
	for _, f := range files {
		path := filepath.Join(dir, f.name+format.Ext())
		if err := writeFile(path, f.write); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
