package api

import (
	"net/http"
	"strconv"

	"github.com/selectedu/select/internal/domain/model"
	"github.com/selectedu/select/pkg/logger"
)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	ctx := r.Context()

	users, err := s.dashboard.Users(ctx)
	if err != nil {
		s.logger.Error(ctx, "dashboard build failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	ctx := r.Context()

	stats, err := s.dashboard.Stats(ctx)
	if err != nil {
		s.logger.Error(ctx, "stats build failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", nil)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type feedbackListResponse struct {
	Feedback []feedbackResponse `json:"feedback"`
	Page     int                `json:"currentPage"`
	Pages    int                `json:"totalPages"`
	Total    int                `json:"totalFeedback"`
	HasNext  bool               `json:"hasNext"`
	HasPrev  bool               `json:"hasPrev"`
	Counts   map[string]int     `json:"statusCounts"`
}

func (s *Server) handleFeedbackList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	ctx := r.Context()

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	statusFilter := q.Get("status")
	switch statusFilter {
	case "", model.FeedbackStatusPending, model.FeedbackStatusReviewed, model.FeedbackStatusResolved:
	default:
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	items, pg, err := s.store.ListFeedback(ctx, statusFilter, page, limit)
	if err != nil {
		s.logger.Error(ctx, "feedback list failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", nil)
		return
	}

	out := make([]feedbackResponse, 0, len(items))
	for _, f := range items {
		out = append(out, toFeedbackResponse(f))
	}
	writeJSON(w, http.StatusOK, feedbackListResponse{
		Feedback: out,
		Page:     pg.CurrentPage,
		Pages:    pg.TotalPages,
		Total:    pg.Total,
		HasNext:  pg.HasNext,
		HasPrev:  pg.HasPrev,
		Counts:   pg.Counts,
	})
}
