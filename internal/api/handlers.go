package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"cptrack/internal/cpsync"
	"cptrack/internal/database"
	"cptrack/internal/export"
	"cptrack/internal/models"

	"github.com/go-chi/chi/v5"
)

const (
	defaultMaxRating = 3500
	deadLetterLimit  = 100
	streamKeepAlive  = 15 * time.Second
	xlsxContentType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]{3,24}$`)

func validHandle(h string) (string, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return "", errors.New("handle is required")
	}
	if !handlePattern.MatchString(h) {
		return "", fmt.Errorf("invalid handle %q", h)
	}
	return h, nil
}

type handleRequest struct {
	Handle string `json:"handle"`
}

type recommendationsRequest struct {
	Handle    string `json:"handle"`
	MinRating int64  `json:"min_rating"`
	MaxRating int64  `json:"max_rating"`
}

type leaderboardRequest struct {
	College string   `json:"college"`
	Handles []string `json:"handles"`
}

type verificationRequest struct {
	Handle string `json:"handle"`
	Token  string `json:"token"`
}

func accepted(w http.ResponseWriter, id string) {
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *HTTPServer) decodeHandle(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req handleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return "", false
	}
	handle, err := validHandle(req.Handle)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return handle, true
}

func (s *HTTPServer) handleSyncUserStats(w http.ResponseWriter, r *http.Request) {
	handle, ok := s.decodeHandle(w, r)
	if !ok {
		return
	}
	accepted(w, cpsync.SyncUserStats(s.queue, handle))
}

func (s *HTTPServer) handleSyncContests(w http.ResponseWriter, r *http.Request) {
	handle, ok := s.decodeHandle(w, r)
	if !ok {
		return
	}
	accepted(w, cpsync.SyncContestData(s.queue, handle))
}

func (s *HTTPServer) handleSyncRecommendations(w http.ResponseWriter, r *http.Request) {
	var req recommendationsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	handle, err := validHandle(req.Handle)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MaxRating == 0 {
		req.MaxRating = defaultMaxRating
	}
	if req.MinRating < 0 || req.MinRating > req.MaxRating {
		writeError(w, http.StatusBadRequest, "min_rating must be between 0 and max_rating")
		return
	}
	accepted(w, cpsync.SyncProblemRecommendations(s.queue, handle, req.MinRating, req.MaxRating))
}

func (s *HTTPServer) handleSyncLeaderboard(w http.ResponseWriter, r *http.Request) {
	var req leaderboardRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	college := strings.TrimSpace(req.College)
	if college == "" {
		writeError(w, http.StatusBadRequest, "college is required")
		return
	}
	if len(req.Handles) == 0 {
		writeError(w, http.StatusBadRequest, "handles is required")
		return
	}
	handles := make([]string, 0, len(req.Handles))
	for _, raw := range req.Handles {
		h, err := validHandle(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		handles = append(handles, h)
	}
	accepted(w, cpsync.SyncLeaderboard(s.queue, college, handles))
}

func (s *HTTPServer) handleSyncVerification(w http.ResponseWriter, r *http.Request) {
	var req verificationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	handle, err := validHandle(req.Handle)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	accepted(w, cpsync.SyncVerification(s.queue, handle, token))
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"sync":   s.queue.Status().Indicator(),
	})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Status())
}

// handleStatusStream sends the current snapshot and then one server-sent
// event per status change. A slow client only sees the latest snapshots.
func (s *HTTPServer) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	updates := s.queue.Watch(ctx)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, s.queue.Status()); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-s.closing:
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := writeEvent(w, snap); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}

func (s *HTTPServer) handlePending(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"operations": s.queue.PendingOperations()})
}

func (s *HTTPServer) handleFailed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"operations": s.queue.FailedOperations()})
}

func (s *HTTPServer) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if s.deadLetters == nil {
		writeJSON(w, http.StatusOK, map[string]any{"operations": []models.Operation{}})
		return
	}
	ops, err := s.deadLetters.ListDeadLetters(r.Context(), deadLetterLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list dead letters")
		writeError(w, http.StatusServiceUnavailable, "dead letter store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": ops})
}

func (s *HTTPServer) buildReport(ctx context.Context) export.Report {
	report := export.Report{
		Pending:     s.queue.PendingOperations(),
		Failed:      s.queue.FailedOperations(),
		GeneratedAt: s.now(),
	}
	if s.deadLetters != nil {
		ops, err := s.deadLetters.ListDeadLetters(ctx, deadLetterLimit)
		if err != nil {
			s.logger.Warn().Err(err).Msg("exporting without dead letters")
		}
		report.DeadLetters = ops
	}
	return report
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	report := s.buildReport(r.Context())

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="sync_queue_%s.xlsx"`, report.GeneratedAt.Format("2006-01-02_150405")))
	if err := export.WriteXLSX(w, report); err != nil {
		s.logger.Error().Err(err).Msg("failed to write export")
	}
}

func (s *HTTPServer) handleSaveExport(w http.ResponseWriter, r *http.Request) {
	if s.exportDir == "" {
		writeError(w, http.StatusNotFound, "saved exports are disabled")
		return
	}
	path, err := export.SaveXLSX(s.exportDir, s.buildReport(r.Context()))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to save export")
		writeError(w, http.StatusInternalServerError, "failed to save export")
		return
	}
	s.logger.Info().Str("path", path).Msg("export saved")
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

func (s *HTTPServer) handleRetryFailed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusAccepted, map[string]int{"requeued": s.queue.RetryFailedOperations()})
}

func (s *HTTPServer) handleClearQueue(w http.ResponseWriter, _ *http.Request) {
	s.queue.ClearQueue()
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) pathHandle(w http.ResponseWriter, r *http.Request) (string, bool) {
	handle, err := validHandle(chi.URLParam(r, "handle"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return handle, true
}

func (s *HTTPServer) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.logger.Error().Err(err).Msg("store lookup failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *HTTPServer) handleGetUser(w http.ResponseWriter, r *http.Request) {
	handle, ok := s.pathHandle(w, r)
	if !ok {
		return
	}
	user, err := s.store.GetCPUser(r.Context(), handle)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleUserContests(w http.ResponseWriter, r *http.Request) {
	handle, ok := s.pathHandle(w, r)
	if !ok {
		return
	}
	contests, err := s.store.ListUserContests(r.Context(), handle)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if contests == nil {
		contests = []models.UserContest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"contests": contests})
}

func (s *HTTPServer) handleUserRecommendations(w http.ResponseWriter, r *http.Request) {
	handle, ok := s.pathHandle(w, r)
	if !ok {
		return
	}
	recs, err := s.store.ListRecommendations(r.Context(), handle)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if recs == nil {
		recs = []models.Recommendation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"problems": recs})
}

func (s *HTTPServer) handleVerification(w http.ResponseWriter, r *http.Request) {
	handle, ok := s.pathHandle(w, r)
	if !ok {
		return
	}
	v, err := s.store.GetVerification(r.Context(), handle)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *HTTPServer) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	college := strings.TrimSpace(chi.URLParam(r, "college"))
	if college == "" {
		writeError(w, http.StatusBadRequest, "college is required")
		return
	}
	entries, err := s.store.GetLeaderboard(r.Context(), college)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if len(entries) == 0 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"college": college, "entries": entries})
}
