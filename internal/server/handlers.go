package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/hyperjump/causa/internal/errors"
	"github.com/hyperjump/causa/internal/models"
	"github.com/hyperjump/causa/internal/storage"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type trimRequest struct {
	// Sentences are decoded loosely so non-string values reach the trimmer
	// and are reported as invalid input.
	Sentences []any `json:"sentences"`
}

func (s *Server) handleTrim(w http.ResponseWriter, r *http.Request) {
	var req trimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	trimmer := s.runner.Pipeline().Trimmer()
	out := make([]string, len(req.Sentences))
	for i, v := range req.Sentences {
		trimmed, err := trimmer.TrimValue(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "sentences["+strconv.Itoa(i)+"]: "+err.Error())
			return
		}
		out[i] = trimmed
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"sentences": out})
}

type recordsRequest struct {
	Records []models.Record `json:"records"`
}

func (s *Server) handleNormalize(w http.ResponseWriter, r *http.Request) {
	var req recordsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	out := s.runner.Pipeline().Normalizer().NormalizeAll(req.Records)
	s.respondJSON(w, http.StatusOK, map[string]any{"records": out})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req recordsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("process request", zap.Int("records", len(req.Records)))
	out, err := s.runner.RunRecords(r.Context(), []string{"api"}, req.Records)
	if err != nil {
		s.logger.Error("process failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireStorage(w) {
		return
	}
	offset, limit := pageParams(r)
	runs, err := s.storage.ListRuns(r.Context(), offset, limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	if runs == nil {
		runs = []*models.Run{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleLatestHypotheses(w http.ResponseWriter, r *http.Request) {
	if !s.requireStorage(w) {
		return
	}
	ctx := r.Context()
	run, err := s.storage.LatestRun(ctx)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	partition := r.URL.Query().Get("partition")
	switch partition {
	case "", models.PartitionTrain, models.PartitionTest:
	default:
		s.respondError(w, http.StatusBadRequest, "partition must be train or test")
		return
	}
	offset, limit := pageParams(r)
	recs, err := s.storage.ListHypotheses(ctx, run.ID, partition, offset, limit)
	if err != nil {
		s.logger.Error("list hypotheses failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	if recs == nil {
		recs = []models.TrimmedRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"run_id": run.ID, "hypotheses": recs})
}

func (s *Server) handleGetHypothesis(w http.ResponseWriter, r *http.Request) {
	if !s.requireStorage(w) {
		return
	}
	ctx := r.Context()
	hypID := chi.URLParam(r, "id")
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		run, err := s.storage.LatestRun(ctx)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		runID = run.ID
	}
	rec, err := s.storage.GetHypothesis(ctx, runID, hypID)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	feats, err := s.storage.GetFeatures(ctx, runID, hypID)
	if err != nil {
		s.logger.Error("get features failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"run_id": runID, "hypothesis": rec, "features": feats})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := map[string]any{}
	configInfo := map[string]any{
		"marker1":          s.config.Pipeline.Marker1,
		"marker2":          s.config.Pipeline.Marker2,
		"stop_words":       s.config.Pipeline.StopWords,
		"lemmatizer":       s.config.Pipeline.Lemmatizer,
		"dedup":            s.config.Pipeline.Dedup,
		"ngram_size":       s.config.Features.NGramSize,
		"min_token_length": s.config.Features.MinTokenLength,
		"split_ratio":      s.config.Split.Ratio,
		"database_path":    s.config.Storage.DatabasePath,
	}
	resp["config"] = configInfo

	if s.storage != nil {
		runCount, err := s.storage.CountRuns(ctx)
		if err != nil {
			s.logger.Error("status: count runs failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["runs"] = runCount
		if latest, err := s.storage.LatestRun(ctx); err == nil {
			resp["latest_run"] = latest
		}
		if diskBytes, err := storage.DiskUsageBytes(s.config.Storage.DatabasePath); err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) requireStorage(w http.ResponseWriter) bool {
	if s.storage == nil {
		s.respondError(w, http.StatusNotImplemented, "storage not enabled")
		return false
	}
	return true
}

func pageParams(r *http.Request) (offset, limit int) {
	q := r.URL.Query()
	offset, _ = strconv.Atoi(q.Get("offset"))
	if offset < 0 {
		offset = 0
	}
	limit, _ = strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return offset, limit
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	switch {
	case apperrors.IsInvalidInput(err):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case apperrors.IsNotFound(err):
		s.respondError(w, http.StatusNotFound, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}
