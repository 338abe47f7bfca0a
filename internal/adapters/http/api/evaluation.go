package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/selectedu/select/internal/adapters/repository"
	"github.com/selectedu/select/internal/domain/model"
	"github.com/selectedu/select/internal/domain/scoring"
	"github.com/selectedu/select/internal/domain/status"
	"github.com/selectedu/select/pkg/logger"
)

const defaultTotalSteps = 4

type startRequest struct {
	TotalSteps int    `json:"totalSteps,omitempty" validate:"omitempty,min=1,max=50"`
	StepName   string `json:"stepName,omitempty"`
}

type stepRequest struct {
	StepNumber int    `json:"stepNumber" validate:"required,min=1"`
	StepName   string `json:"stepName" validate:"required"`
}

type completeRequest struct {
	Results json.RawMessage `json:"results" validate:"required"`
}

type exportRequest struct {
	SessionID  string `json:"sessionId,omitempty"`
	ExportType string `json:"exportType" validate:"required,oneof=pdf csv json"`
}

type sessionResponse struct {
	SessionID     string    `json:"sessionId"`
	AttemptNumber int       `json:"attemptNumber"`
	CurrentStep   int       `json:"currentStep"`
	StepName      string    `json:"stepName"`
	TotalSteps    int       `json:"totalSteps"`
	Completion    float64   `json:"completionPercentage"`
	StartedAt     time.Time `json:"startTime"`
	IsRestart     bool      `json:"isRestart"`
	IsCompleted   bool      `json:"isCompleted"`
}

func toSessionResponse(sess *model.EvaluationSession) sessionResponse {
	return sessionResponse{
		SessionID:     sess.ID,
		AttemptNumber: sess.AttemptNumber,
		CurrentStep:   sess.CurrentStep,
		StepName:      sess.CurrentStepName,
		TotalSteps:    sess.TotalSteps,
		Completion:    status.ClampPercent(sess.Completion),
		StartedAt:     sess.StartedAt,
		IsRestart:     sess.IsRestart,
		IsCompleted:   sess.IsCompleted,
	}
}

func (s *Server) handleEvaluationStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	var req startRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	ctx := r.Context()
	claims := claimsFrom(ctx)

	sess, err := s.startSession(r, claims.UserID, req, false)
	if err != nil {
		s.logger.Error(ctx, "evaluation start failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", nil)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (s *Server) startSession(r *http.Request, userID string, req startRequest, restart bool) (*model.EvaluationSession, error) {
	ctx := r.Context()

	attempt, err := s.store.NextAttemptNumber(ctx, userID)
	if err != nil {
		return nil, err
	}

	totalSteps := req.TotalSteps
	if totalSteps == 0 {
		totalSteps = defaultTotalSteps
	}
	stepName := req.StepName
	if stepName == "" {
		stepName = "Introduction"
	}

	now := time.Now()
	sess := &model.EvaluationSession{
		UserID:          userID,
		SessionToken:    bearerToken(r),
		AttemptNumber:   attempt,
		StartedAt:       now,
		CurrentStep:     1,
		CurrentStepName: stepName,
		TotalSteps:      totalSteps,
		HasStarted:      true,
		IsRestart:       restart,
	}
	if err := s.store.CreateEvaluation(ctx, sess); err != nil {
		return nil, err
	}

	if err := s.store.IncrementUserAttempts(ctx, userID); err != nil {
		s.logger.Warn(ctx, "attempt counter write failed", logger.Error(err))
	}
	evaluating := true
	if err := s.store.UpdateUserStatus(ctx, userID, model.StatusPatch{
		IsEvaluating: &evaluating, CurrentStep: &sess.CurrentStep, LastActivity: &now,
	}); err != nil {
		s.logger.Warn(ctx, "status write failed", logger.Error(err))
	}
	return sess, nil
}

func (s *Server) handleEvaluationStep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	var req stepRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	ctx := r.Context()
	claims := claimsFrom(ctx)

	sess, err := s.store.ActiveEvaluation(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no_active_session", ErrNoActiveSession)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", nil)
		return
	}

	updated, err := s.store.AdvanceStep(ctx, sess.ID, req.StepNumber, req.StepName, time.Now())
	if err != nil {
		s.logger.Error(ctx, "step advance failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", nil)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(updated))
}

type completeResponse struct {
	sessionResponse
	Duration time.Duration    `json:"totalDuration"`
	Summary  *scoring.Summary `json:"scoreSummary,omitempty"`
}

func (s *Server) handleEvaluationComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	var req completeRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	ctx := r.Context()
	claims := claimsFrom(ctx)

	sess, err := s.store.ActiveEvaluation(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no_active_session", ErrNoActiveSession)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", nil)
		return
	}

	done, err := s.store.CompleteEvaluation(ctx, sess.ID, req.Results, time.Now())
	if err != nil {
		s.logger.Error(ctx, "completion failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", nil)
		return
	}

	if err := s.store.AddUserTimeSpent(ctx, claims.UserID, done.Duration); err != nil {
		s.logger.Warn(ctx, "time accounting failed", logger.Error(err))
	}
	evaluating := false
	now := time.Now()
	if err := s.store.UpdateUserStatus(ctx, claims.UserID, model.StatusPatch{
		IsEvaluating: &evaluating, LastActivity: &now,
	}); err != nil {
		s.logger.Warn(ctx, "status write failed", logger.Error(err))
	}

	resp := completeResponse{
		sessionResponse: toSessionResponse(done),
		Duration:        done.Duration,
	}
	if summary, err := scoring.Summarize(done.Results); err == nil {
		resp.Summary = &summary
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvaluationRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	var req startRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	ctx := r.Context()
	claims := claimsFrom(ctx)

	// Abandon whatever is in flight; a restart with no active session is
	// just a fresh start.
	if active, err := s.store.ActiveEvaluation(ctx, claims.UserID); err == nil {
		if err := s.store.AbandonEvaluation(ctx, active.ID, time.Now()); err != nil {
			s.logger.Warn(ctx, "abandon failed", logger.Error(err))
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "internal", nil)
		return
	}

	sess, err := s.startSession(r, claims.UserID, req, true)
	if err != nil {
		s.logger.Error(ctx, "restart failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", nil)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (s *Server) handleEvaluationExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	var req exportRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	ctx := r.Context()
	claims := claimsFrom(ctx)

	sessionID := req.SessionID
	if sessionID == "" {
		active, err := s.store.ActiveEvaluation(ctx, claims.UserID)
		if err != nil {
			writeError(w, http.StatusNotFound, "no_active_session", ErrNoActiveSession)
			return
		}
		sessionID = active.ID
	}

	now := time.Now()
	if err := s.store.MarkExported(ctx, sessionID, req.ExportType, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", nil)
		return
	}
	if err := s.store.AppendExport(ctx, claims.UserID, sessionID, req.ExportType, now); err != nil {
		s.logger.Warn(ctx, "export ledger write failed", logger.Error(err))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"exported":   true,
		"sessionId":  sessionID,
		"exportType": req.ExportType,
	})
}

func (s *Server) handleEvaluationCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	ctx := r.Context()
	claims := claimsFrom(ctx)

	// Prefer the session opened under this login; fall back to any active
	// session so a re-login can resume older work.
	sess, err := s.store.EvaluationByToken(ctx, claims.UserID, bearerToken(r))
	if errors.Is(err, repository.ErrNotFound) {
		sess, err = s.store.ActiveEvaluation(ctx, claims.UserID)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no_active_session", ErrNoActiveSession)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", nil)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}
