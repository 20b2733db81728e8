package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/hyperjump/causa/internal/config"
	"github.com/hyperjump/causa/internal/models"
	"github.com/hyperjump/causa/internal/runner"
	"github.com/hyperjump/causa/internal/storage"
)

func newTestServer(t *testing.T, withStorage bool) (*Server, storage.Storage) {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	logger := zap.NewNop()

	var store storage.Storage
	var opts []runner.Option
	if withStorage {
		cfg.Storage.DatabasePath = filepath.Join(t.TempDir(), "causa.db")
		s, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = s.Close() })
		store = s
		opts = append(opts, runner.WithStorage(s))
	}
	r, err := runner.NewFromConfig(cfg, logger, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return NewServer(r, store, cfg, logger), store
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t, false)
	w := do(t, srv.Handler(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleTrim(t *testing.T) {
	srv, _ := newTestServer(t, false)
	h := srv.Handler()

	w := do(t, h, http.MethodPost, "/api/v1/trim", map[string]any{
		"sentences": []string{
			"the node1 effect on node2 output increases risk significantly",
			"node2 precedes node1 here",
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", w.Code, w.Body.String())
	}
	var out struct {
		Sentences []string `json:"sentences"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"the node1 effect on node2 outputincreasesrisksignificantly",
		"node2 precedes node1 here",
	}
	if diff := cmp.Diff(want, out.Sentences); diff != "" {
		t.Errorf("trim mismatch (-want +got):\n%s", diff)
	}

	tests := []struct {
		name string
		body any
	}{
		{"null sentence", map[string]any{"sentences": []any{"ok", nil}}},
		{"number sentence", map[string]any{"sentences": []any{42}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/v1/trim", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", w.Code)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/trim", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: got %d", rec.Code)
	}
}

func TestHandleNormalize(t *testing.T) {
	srv, _ := newTestServer(t, false)
	w := do(t, srv.Handler(), http.MethodPost, "/api/v1/normalize", recordsRequest{Records: []models.Record{{
		Sentence: "Acme Corp. reported profits.", Node1: "Acme Corp.", Node2: "profits", FileName: "a", HypothesisNum: "1",
	}}})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Records []models.Record `json:"records"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Records) != 1 || out.Records[0].Sentence != "node1 reported node2." {
		t.Errorf("got %+v", out.Records)
	}
}

func TestStorageEndpointsWithoutStorage(t *testing.T) {
	srv, _ := newTestServer(t, false)
	h := srv.Handler()
	for _, path := range []string{"/api/v1/runs", "/api/v1/runs/latest/hypotheses", "/api/v1/hypotheses/x"} {
		w := do(t, h, http.MethodGet, path, nil)
		if w.Code != http.StatusNotImplemented {
			t.Errorf("%s: got %d, want 501", path, w.Code)
		}
	}
	w := do(t, h, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status without storage: got %d", w.Code)
	}
}

func TestProcessAndQuery(t *testing.T) {
	srv, store := newTestServer(t, true)
	h := srv.Handler()

	if w := do(t, h, http.MethodGet, "/api/v1/runs/latest/hypotheses", nil); w.Code != http.StatusNotFound {
		t.Errorf("latest before any run: got %d, want 404", w.Code)
	}

	w := do(t, h, http.MethodPost, "/api/v1/process", recordsRequest{Records: []models.Record{
		{Sentence: "Trust strongly increases customer loyalty over years.", Node1: "trust", Node2: "customer loyalty", FileName: "a.pdf", HypothesisNum: "1"},
		{Sentence: "Higher prices reduce demand for goods.", Node1: "prices", Node2: "demand", FileName: "b.pdf", HypothesisNum: "2"},
		{Sentence: "", Node1: "x", Node2: "y", FileName: "c.pdf", HypothesisNum: "3"},
	}})
	if w.Code != http.StatusOK {
		t.Fatalf("process: got %d body %s", w.Code, w.Body.String())
	}
	var out runner.Output
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Run == nil || out.Run.ID == "" || len(out.Records) != 2 || out.Stats.Dropped != 1 {
		t.Fatalf("unexpected output: %+v", out)
	}

	w = do(t, h, http.MethodGet, "/api/v1/runs", nil)
	var runs struct {
		Runs []models.Run `json:"runs"`
	}
	if err := json.NewDecoder(w.Body).Decode(&runs); err != nil {
		t.Fatal(err)
	}
	if len(runs.Runs) != 1 || runs.Runs[0].ID != out.Run.ID {
		t.Errorf("runs = %+v", runs.Runs)
	}

	w = do(t, h, http.MethodGet, "/api/v1/runs/latest/hypotheses?limit=1", nil)
	var hyps struct {
		RunID      string                 `json:"run_id"`
		Hypotheses []models.TrimmedRecord `json:"hypotheses"`
	}
	if err := json.NewDecoder(w.Body).Decode(&hyps); err != nil {
		t.Fatal(err)
	}
	if hyps.RunID != out.Run.ID || len(hyps.Hypotheses) != 1 || hyps.Hypotheses[0].HypID != out.Records[0].HypID {
		t.Errorf("latest hypotheses = %+v", hyps)
	}
	if w := do(t, h, http.MethodGet, "/api/v1/runs/latest/hypotheses?partition=validation", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad partition: got %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/v1/hypotheses/"+out.Records[1].HypID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get hypothesis: got %d", w.Code)
	}
	var one struct {
		Hypothesis models.TrimmedRecord `json:"hypothesis"`
		Features   map[string]int       `json:"features"`
	}
	if err := json.NewDecoder(w.Body).Decode(&one); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(out.Records[1], one.Hypothesis); diff != "" {
		t.Errorf("hypothesis mismatch (-want +got):\n%s", diff)
	}

	if w := do(t, h, http.MethodGet, "/api/v1/hypotheses/nope?run_id="+out.Run.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing hypothesis: got %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/api/v1/status", nil)
	var status map[string]any
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status["runs"] != float64(1) {
		t.Errorf("status runs = %v", status["runs"])
	}
	if n, _ := store.CountRuns(context.Background()); n != 1 {
		t.Errorf("stored runs = %d", n)
	}
}
