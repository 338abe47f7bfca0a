package api

import (
	"errors"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/selectedu/select/internal/adapters/repository"
	"github.com/selectedu/select/internal/domain/model"
	"github.com/selectedu/select/pkg/logger"
)

type signupRequest struct {
	Name               string   `json:"name" validate:"required,min=2"`
	Email              string   `json:"email" validate:"required,email"`
	Password           string   `json:"password" validate:"required,min=6"`
	ContactNumber      string   `json:"contactNumber,omitempty"`
	SchoolName         string   `json:"schoolName,omitempty"`
	SchoolType         string   `json:"schoolType,omitempty"`
	State              string   `json:"state,omitempty"`
	ScienceGrades      []string `json:"scienceGrades,omitempty"`
	TeachingExperience string   `json:"teachingExperience,omitempty"`
	EdtechExperience   string   `json:"edtechExperience,omitempty"`
	EdtechSolutions    []string `json:"edtechSolutions,omitempty"`
}

type adminSignupRequest struct {
	Name        string `json:"name" validate:"required,min=2"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	Designation string `json:"designation" validate:"required"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

// userResponse is the externally visible shape of a user. The password
// hash never appears here.
type userResponse struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	Role          string   `json:"role"`
	SchoolName    string   `json:"schoolName,omitempty"`
	SchoolType    string   `json:"schoolType,omitempty"`
	State         string   `json:"state,omitempty"`
	ScienceGrades []string `json:"scienceGrades,omitempty"`
	Designation   string   `json:"designation,omitempty"`
	TotalAttempts int      `json:"totalAttempts"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		Role:          u.Role,
		SchoolName:    u.SchoolName,
		SchoolType:    u.SchoolType,
		State:         u.State,
		ScienceGrades: u.ScienceGrades,
		Designation:   u.Designation,
		TotalAttempts: u.TotalAttempts,
	}
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	var req signupRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", nil)
		return
	}
	u := &model.User{
		Name:               req.Name,
		Email:              req.Email,
		PasswordHash:       hash,
		ContactNumber:      req.ContactNumber,
		SchoolName:         req.SchoolName,
		SchoolType:         req.SchoolType,
		State:              req.State,
		ScienceGrades:      req.ScienceGrades,
		TeachingExperience: req.TeachingExperience,
		EdtechExperience:   req.EdtechExperience,
		EdtechSolutions:    req.EdtechSolutions,
		Role:               model.RoleUser,
	}
	s.createAndIssue(w, r, u)
}

func (s *Server) handleAdminSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	var req adminSignupRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", nil)
		return
	}
	u := &model.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Designation:  req.Designation,
		Role:         model.RoleAdmin,
	}
	s.createAndIssue(w, r, u)
}

func (s *Server) createAndIssue(w http.ResponseWriter, r *http.Request, u *model.User) {
	ctx := r.Context()
	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			writeError(w, http.StatusConflict, "duplicate_email", err)
			return
		}
		s.logger.Error(ctx, "signup failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", nil)
		return
	}

	signed, err := s.tokens.Issue(u.ID, u.Role)
	if err != nil {
		s.logger.Error(ctx, "token issue failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", nil)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Token: signed, User: toUserResponse(u)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	var req loginRequest
	if err := s.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	ctx := r.Context()

	u, err := s.store.UserByEmail(ctx, req.Email)
	if err != nil {
		// Indistinguishable from a wrong password on purpose.
		writeError(w, http.StatusUnauthorized, "invalid_credentials", ErrInvalidCredentials)
		return
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", ErrInvalidCredentials)
		return
	}

	signed, err := s.tokens.Issue(u.ID, u.Role)
	if err != nil {
		s.logger.Error(ctx, "token issue failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", nil)
		return
	}

	now := time.Now()
	if err := s.store.RecordLogin(ctx, u.ID, now); err != nil {
		s.logger.Warn(ctx, "login status write failed", logger.Error(err))
	}
	if err := s.store.OpenLedgerEntry(ctx, &model.LedgerEntry{
		UserID:       u.ID,
		SessionToken: signed,
		LoginAt:      now,
		IPAddress:    r.RemoteAddr,
		UserAgent:    r.UserAgent(),
	}); err != nil {
		s.logger.Warn(ctx, "login ledger write failed", logger.Error(err))
	}

	writeJSON(w, http.StatusOK, authResponse{Token: signed, User: toUserResponse(u)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	ctx := r.Context()
	claims := claimsFrom(ctx)
	now := time.Now()

	entry, err := s.store.CloseLedgerEntry(ctx, claims.UserID, bearerToken(r), now)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn(ctx, "logout ledger close failed", logger.Error(err))
	}
	if entry != nil && entry.Duration > 0 {
		if err := s.store.AddUserTimeSpent(ctx, claims.UserID, entry.Duration); err != nil {
			s.logger.Warn(ctx, "time accounting failed", logger.Error(err))
		}
	}

	off := false
	if err := s.store.UpdateUserStatus(ctx, claims.UserID, model.StatusPatch{
		IsOnline: &off, IsEvaluating: &off, LastActivity: &now,
	}); err != nil {
		s.logger.Warn(ctx, "logout status write failed", logger.Error(err))
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	claims := claimsFrom(r.Context())
	u, err := s.store.UserByID(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}
