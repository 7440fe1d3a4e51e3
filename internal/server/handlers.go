package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/runnerr0/vitals/internal/aggregate"
	"github.com/runnerr0/vitals/internal/audit"
	"github.com/runnerr0/vitals/internal/export"
	"github.com/runnerr0/vitals/internal/storage"
	"github.com/runnerr0/vitals/internal/validation"
)

const defaultCohortLimit = 6

type updateRequest struct {
	Fields          storage.Fields `json:"fields"`
	ExpectedVersion int64          `json:"expected_version"`
	Reason          string         `json:"reason"`
	ComplianceNote  string         `json:"compliance_note"`
}

func (u updateRequest) options() audit.UpdateOptions {
	return audit.UpdateOptions{ExpectedVersion: u.ExpectedVersion, Reason: u.Reason, ComplianceNote: u.ComplianceNote}
}

// weeklyLogRequest accepts engagement_score so clients echoing a stored row
// are not rejected. The value is discarded; the score is always derived.
type weeklyLogRequest struct {
	audit.WeeklyLogInput
	EngagementScore *json.RawMessage `json:"engagement_score"`
}

type featureRequest struct {
	audit.FeatureAdoptionInput
	SupersedesID string `json:"supersedes_id"`
	Reason       string `json:"reason"`
}

type segmentRequest struct {
	audit.UserSegmentInput
	SupersedesID string `json:"supersedes_id"`
	Reason       string `json:"reason"`
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, key)
	}
	return n, nil
}

// ── Reads ──────────────────────────────────────────────────────

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, ok, err := s.engine.Summary(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	trends, err := s.engine.Trends(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	name := r.URL.Query().Get("series")
	if name == "" {
		writeJSON(w, http.StatusOK, trends)
		return
	}
	for _, known := range aggregate.SeriesNames {
		if known == name {
			writeJSON(w, http.StatusOK, trends.Series(name))
			return
		}
	}
	s.writeError(w, r, fmt.Errorf("%w: unknown series %q", errBadRequest, name))
}

func (s *Server) handlePlatform(w http.ResponseWriter, r *http.Request) {
	split, err := s.engine.PlatformSplit(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, split)
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	segType := r.URL.Query().Get("type")
	switch segType {
	case "", storage.SegmentTier, storage.SegmentLocation, storage.SegmentDevice:
	default:
		s.writeError(w, r, fmt.Errorf("%w: unknown segment type %q", errBadRequest, segType))
		return
	}
	segs, err := s.engine.Segments(r.Context(), segType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, segs)
}

func (s *Server) handleCohorts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultCohortLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	curves, err := s.engine.Cohorts(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, curves)
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("feature"); name != "" {
		points, err := s.engine.FeatureTrend(r.Context(), name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, points)
		return
	}
	features, err := s.engine.Features(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, features)
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	snap, err := s.engine.Current(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries := snap.ChangeLog
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleDefinitions(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Current(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.MetricDefinitions)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	snap, err := s.engine.Current(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := snap.Rows(table)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if n == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var buf bytes.Buffer
	if err := snap.WriteCSV(&buf, table); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(table, s.now())))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// ── Writes ─────────────────────────────────────────────────────

func (s *Server) handleAddWeeklyLog(w http.ResponseWriter, r *http.Request) {
	var req weeklyLogRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.EngagementScore != nil {
		s.log.Debug("ignoring caller-supplied engagement_score", "week_ending", req.WeekEnding.String())
	}
	in := req.WeeklyLogInput
	if err := validation.ValidateStruct(&in); err != nil {
		s.writeError(w, r, err)
		return
	}
	row, err := s.coord.AddWeeklyLog(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

func (s *Server) handleUpdateWeeklyLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := audit.ValidateWeeklyLogUpdate(r.Context(), s.store, id, req.Fields); err != nil {
		s.writeError(w, r, err)
		return
	}
	err := s.coord.UpdateWeeklyLog(r.Context(), id, req.Fields, req.options())
	switch {
	case errors.Is(err, audit.ErrNoChanges) && req.Fields.Has("engagement_score"):
		// Only the derived score was sent; answer with the row unchanged.
	case err != nil:
		s.writeError(w, r, err)
		return
	}
	row, err := s.store.GetWeeklyLog(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleAddFeatureAdoption(w http.ResponseWriter, r *http.Request) {
	var req featureRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validation.ValidateStruct(&req.FeatureAdoptionInput); err != nil {
		s.writeError(w, r, err)
		return
	}

	var (
		row *storage.FeatureAdoption
		err error
	)
	if req.SupersedesID != "" {
		row, err = s.coord.CorrectFeatureAdoption(r.Context(), req.SupersedesID, req.FeatureAdoptionInput, req.Reason)
	} else {
		row, err = s.coord.AddFeatureAdoption(r.Context(), req.FeatureAdoptionInput)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

func (s *Server) handleAddCohort(w http.ResponseWriter, r *http.Request) {
	var in audit.CohortRetentionInput
	if err := s.decode(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validation.ValidateStruct(&in); err != nil {
		s.writeError(w, r, err)
		return
	}
	row, err := s.coord.AddCohortRetention(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

func (s *Server) handleUpdateCohort(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := audit.ValidateCohortRetentionUpdate(r.Context(), s.store, id, req.Fields); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.coord.UpdateCohortRetention(r.Context(), id, req.Fields, req.options()); err != nil {
		s.writeError(w, r, err)
		return
	}
	row, err := s.store.GetCohortRetention(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleAddSegment(w http.ResponseWriter, r *http.Request) {
	var req segmentRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validation.ValidateStruct(&req.UserSegmentInput); err != nil {
		s.writeError(w, r, err)
		return
	}

	var (
		row *storage.UserSegment
		err error
	)
	if req.SupersedesID != "" {
		row, err = s.coord.CorrectUserSegment(r.Context(), req.SupersedesID, req.UserSegmentInput, req.Reason)
	} else {
		row, err = s.coord.AddUserSegment(r.Context(), req.UserSegmentInput)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	repair := r.URL.Query().Get("repair") == "true"
	rep, err := s.recon.Run(r.Context(), repair)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
