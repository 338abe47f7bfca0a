// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/selectedu/select/internal/adapters/http/token"
	"github.com/selectedu/select/internal/adapters/repository"
	"github.com/selectedu/select/internal/app"
	"github.com/selectedu/select/pkg/logger"
)

// Server wires HTTP routes for the business API.
type Server struct {
	store     repository.Store
	tokens    *token.Manager
	dashboard *app.Dashboard

	corsOrigin string
	validate   *validator.Validate
	logger     logger.Logger
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithCORSOrigin sets the browser origin allowed to call the API.
func WithCORSOrigin(origin string) Option {
	return func(s *Server) {
		s.corsOrigin = origin
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(store repository.Store, tokens *token.Manager, dashboard *app.Dashboard, opts ...Option) *Server {
	s := &Server{
		store:     store,
		tokens:    tokens,
		dashboard: dashboard,
		validate:  validator.New(),
		logger:    logger.Get().Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.handleHealth, "healthz"))

	mux.HandleFunc("/api/auth/signup", s.route("auth_signup", s.handleSignup))
	mux.HandleFunc("/api/auth/login", s.route("auth_login", s.handleLogin))
	mux.HandleFunc("/api/auth/logout", s.route("auth_logout", s.requireAuth(s.handleLogout)))
	mux.HandleFunc("/api/auth/me", s.route("auth_me", s.requireAuth(s.handleMe)))

	mux.HandleFunc("/api/admin/signup", s.route("admin_signup", s.handleAdminSignup))
	mux.HandleFunc("/api/admin/login", s.route("admin_login", s.handleLogin))

	mux.HandleFunc("/api/evaluation/start", s.route("eval_start", s.requireAuth(s.handleEvaluationStart)))
	mux.HandleFunc("/api/evaluation/step", s.route("eval_step", s.requireAuth(s.handleEvaluationStep)))
	mux.HandleFunc("/api/evaluation/complete", s.route("eval_complete", s.requireAuth(s.handleEvaluationComplete)))
	mux.HandleFunc("/api/evaluation/restart", s.route("eval_restart", s.requireAuth(s.handleEvaluationRestart)))
	mux.HandleFunc("/api/evaluation/export", s.route("eval_export", s.requireAuth(s.handleEvaluationExport)))
	mux.HandleFunc("/api/evaluation/current", s.route("eval_current", s.requireAuth(s.handleEvaluationCurrent)))

	mux.HandleFunc("/api/feedback", s.route("feedback", s.requireAuth(s.handleFeedbackSubmit)))

	mux.HandleFunc("/api/admin/dashboard", s.route("admin_dashboard", s.requireAdmin(s.handleDashboard)))
	mux.HandleFunc("/api/admin/stats", s.route("admin_stats", s.requireAdmin(s.handleStats)))
	mux.HandleFunc("/api/admin/feedback", s.route("admin_feedback", s.requireAdmin(s.handleFeedbackList)))
}

// route stacks the CORS and metrics middleware around a handler.
func (s *Server) route(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return s.corsMiddleware(MetricsMiddleware(next, endpoint))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// decode parses and validates a JSON request body.
func (s *Server) decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return ErrBadRequest
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return errors.New("invalid field " + verrs[0].Field())
		}
		return ErrBadRequest
	}
	return nil
}
