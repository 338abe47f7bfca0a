package api

import (
	"net/http"
	"time"

	"github.com/selectedu/select/internal/domain/model"
	"github.com/selectedu/select/pkg/logger"
)

type feedbackRequest struct {
	Body      string `json:"feedback" validate:"required,min=3,max=2000"`
	Category  string `json:"category,omitempty" validate:"omitempty,oneof=general technical ui content bug"`
	SessionID string `json:"sessionId,omitempty"`
}

type feedbackResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	UserEmail string    `json:"userEmail"`
	Body      string    `json:"feedback"`
	Category  string    `json:"category"`
	Status    string    `json:"status"`
	SessionID string    `json:"sessionId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func toFeedbackResponse(f *model.Feedback) feedbackResponse {
	return feedbackResponse{
		ID:        f.ID,
		UserID:    f.UserID,
		UserName:  f.UserName,
		UserEmail: f.UserEmail,
		Body:      f.Body,
		Category:  f.Category,
		Status:    f.Status,
		SessionID: f.SessionID,
		CreatedAt: f.CreatedAt,
	}
}

func (s *Server) handleFeedbackSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	var req feedbackRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	ctx := r.Context()
	claims := claimsFrom(ctx)

	f := &model.Feedback{
		UserID:    claims.UserID,
		Body:      req.Body,
		Category:  req.Category,
		SessionID: req.SessionID,
	}
	if err := s.store.CreateFeedback(ctx, f); err != nil {
		s.logger.Error(ctx, "feedback create failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", nil)
		return
	}
	writeJSON(w, http.StatusCreated, toFeedbackResponse(f))
}
