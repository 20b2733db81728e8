package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/hyperjump/causa/internal/config"
	apperrors "github.com/hyperjump/causa/internal/errors"
	"github.com/hyperjump/causa/internal/models"
	"github.com/hyperjump/causa/internal/normalize"
	"github.com/hyperjump/causa/internal/textproc"
	"github.com/hyperjump/causa/internal/trim"
)

// TestMain checks that worker goroutines do not outlive Process.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testRecords() []models.Record {
	return []models.Record{
		{Sentence: "Trust increases loyalty in the long run.", Node1: "Trust", Node2: "Loyalty", FileName: "a.pdf", HypothesisNum: "1"},
		{Sentence: "Loyalty follows trust.", Node1: "Trust", Node2: "Loyalty", FileName: "a.pdf", HypothesisNum: "1"},
		{Sentence: "Missing the second entity.", Node1: "entity", FileName: "a.pdf", HypothesisNum: "9"},
		{Sentence: "Price affects demand", Node1: "price", Node2: "demand", FileName: "b.pdf", HypothesisNum: "2"},
		{Sentence: "Price affects demand", Node1: "price", Node2: "demand", FileName: "b.pdf", HypothesisNum: "3"},
	}
}

func newTestPipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	stop := textproc.StopWordSet{"the": {}, "in": {}, "for": {}, "of": {}}
	analyzer := textproc.NewAnalyzer(stop, textproc.IdentityLemmatizer{}, "node1", "node2")
	p, err := New(normalize.NewNormalizer("", ""), analyzer, trim.Default(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestProcess(t *testing.T) {
	p := newTestPipeline(t)
	res, err := p.Process(context.Background(), testRecords())
	if err != nil {
		t.Fatal(err)
	}
	want := []models.TrimmedRecord{
		{HypID: "a.pdf_1_0", FileName: "a.pdf", HypothesisNum: "1", Node1: "trust", Node2: "loyalty",
			Sentence: "node1 increases node2 longrunnode2followsnode1"},
		{HypID: "b.pdf_2_1", FileName: "b.pdf", HypothesisNum: "2", Node1: "price", Node2: "demand",
			Sentence: "node1 affects node2"},
		{HypID: "b.pdf_3_2", FileName: "b.pdf", HypothesisNum: "3", Node1: "price", Node2: "demand",
			Sentence: "node1 affects node2"},
	}
	if diff := cmp.Diff(want, res.Records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	wantStats := Stats{Input: 5, Dropped: 1, Groups: 3, Merged: 0, Output: 3}
	if diff := cmp.Diff(wantStats, res.Stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestProcess_dedupSentenceRecordsMerges(t *testing.T) {
	p := newTestPipeline(t, WithDedup(DedupSentence))
	res, err := p.Process(context.Background(), testRecords())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(res.Records))
	}
	got := res.Records[1]
	if got.HypID != "b.pdf_2_1" {
		t.Errorf("hyp_id = %s", got.HypID)
	}
	if diff := cmp.Diff([]string{"3"}, got.MergedHypotheses); diff != "" {
		t.Errorf("merged mismatch (-want +got):\n%s", diff)
	}
	if res.Stats.Merged != 1 || res.Stats.Output != 2 {
		t.Errorf("stats: %+v", res.Stats)
	}
}

func TestProcess_dedupRowsAfterRegroup(t *testing.T) {
	same := models.Record{Sentence: "Price affects demand", Node1: "price", Node2: "demand", FileName: "b.pdf", HypothesisNum: "2"}
	res, err := newTestPipeline(t).Process(context.Background(), []models.Record{same, same, same})
	if err != nil {
		t.Fatal(err)
	}
	wantStats := Stats{Input: 3, Dropped: 0, Groups: 1, Merged: 0, Output: 1}
	if diff := cmp.Diff(wantStats, res.Stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
	if got := res.Records[0].Sentence; got != "node1 affects node2 node1affectsnode2" {
		t.Errorf("sentence = %q", got)
	}

	rows, err := newTestPipeline(t, WithDedup(DedupRows)).Process(context.Background(), testRecords())
	if err != nil {
		t.Fatal(err)
	}
	none, err := newTestPipeline(t, WithDedup(DedupNone)).Process(context.Background(), testRecords())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(none.Records, rows.Records); diff != "" {
		t.Errorf("rows mode changed regrouped output (-none +rows):\n%s", diff)
	}
	if rows.Stats.Merged != 0 {
		t.Errorf("rows mode merged %d groups", rows.Stats.Merged)
	}
}

func TestProcess_uniqueIDsAndBoundedOutput(t *testing.T) {
	p := newTestPipeline(t, WithDedup(DedupNone))
	recs := append(testRecords(), testRecords()...)
	res, err := p.Process(context.Background(), recs)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) > len(recs) {
		t.Errorf("output %d exceeds input %d", len(res.Records), len(recs))
	}
	seen := make(map[string]bool)
	for _, r := range res.Records {
		if seen[r.HypID] {
			t.Errorf("duplicate hyp_id %s", r.HypID)
		}
		seen[r.HypID] = true
	}
}

func TestProcess_workersDoNotChangeOutput(t *testing.T) {
	var recs []models.Record
	for i := 0; i < 50; i++ {
		recs = append(recs, testRecords()...)
		recs[len(recs)-1].HypothesisNum = strings.Repeat("9", i+1)
	}
	serial, err := newTestPipeline(t).Process(context.Background(), recs)
	if err != nil {
		t.Fatal(err)
	}
	parallel, err := newTestPipeline(t, WithWorkers(8), WithLogger(zap.NewNop())).Process(context.Background(), recs)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(serial, parallel); diff != "" {
		t.Errorf("parallel result differs (-serial +parallel):\n%s", diff)
	}
}

func TestProcess_cancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestPipeline(t, WithWorkers(2)).Process(ctx, testRecords()); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestProcess_empty(t *testing.T) {
	res, err := newTestPipeline(t).Process(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 0 || res.Stats.Output != 0 {
		t.Errorf("got %+v", res)
	}
}

func TestNew_unknownDedup(t *testing.T) {
	if _, err := New(normalize.NewNormalizer("", ""), nil, trim.Default(), WithDedup("fuzzy")); err == nil {
		t.Error("expected error for unknown dedup mode")
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	p, err := NewFromConfig(&cfg.Pipeline)
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Process(context.Background(), []models.Record{{
		Sentence:      "Acme Corp. reported profits in the quarter.",
		Node1:         "Acme Corp.",
		Node2:         "profits",
		FileName:      "acme.pdf",
		HypothesisNum: "4",
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("got %d records", len(res.Records))
	}
	r := res.Records[0]
	if r.HypID != "acme.pdf_4_0" {
		t.Errorf("hyp_id = %s", r.HypID)
	}
	if r.Sentence != "node1 report node2 quarter" {
		t.Errorf("sentence = %q", r.Sentence)
	}
}

func TestNewFromConfig_invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.PipelineConfig
	}{
		{"same markers", config.PipelineConfig{Marker1: "m", Marker2: "m"}},
		{"bracketed marker", config.PipelineConfig{Marker1: "<e1>", Marker2: "<e2>"}},
		{"punctuated marker", config.PipelineConfig{Marker2: "node-2"}},
		{"bad lemmatizer", config.PipelineConfig{Lemmatizer: "wordnet"}},
		{"bad stop words", config.PipelineConfig{StopWords: "klingon"}},
		{"bad dedup", config.PipelineConfig{Dedup: "fuzzy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFromConfig(&tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_markersMustSurviveTokenization(t *testing.T) {
	trimmer, err := trim.New("<e1>", "<e2>")
	if err != nil {
		t.Fatalf("trim.New accepts bracketed markers on its own: %v", err)
	}
	analyzer := textproc.NewAnalyzer(textproc.StopWordSet{}, textproc.IdentityLemmatizer{}, "<e1>", "<e2>")
	_, err = New(normalize.NewNormalizer("<e1>", "<e2>"), analyzer, trimmer)
	if !apperrors.IsInvalidInput(err) {
		t.Errorf("expected invalid input error, got %v", err)
	}

	// Without an analyzer sentences are split on whitespace, so such markers work.
	p, err := New(normalize.NewNormalizer("<e1>", "<e2>"), nil, trimmer)
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Process(context.Background(), []models.Record{
		{Sentence: "acme raised profits sharply this year", Node1: "acme", Node2: "profits", FileName: "f", HypothesisNum: "1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Records[0].Sentence; got != "<e1> raised <e2> sharplythisyear" {
		t.Errorf("sentence = %q", got)
	}
}

func TestHypID(t *testing.T) {
	if got := HypID("paper.pdf", "12", 3); got != "paper.pdf_12_3" {
		t.Errorf("got %s", got)
	}
}
