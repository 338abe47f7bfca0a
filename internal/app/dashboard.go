package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/selectedu/select/internal/adapters/repository"
	"github.com/selectedu/select/internal/domain/model"
	"github.com/selectedu/select/internal/domain/presence"
	"github.com/selectedu/select/internal/domain/status"
	"github.com/selectedu/select/pkg/logger"
)

// DashboardStore is the slice of the repository the dashboard reads from.
type DashboardStore interface {
	ListUsers(ctx context.Context) ([]*model.User, error)
	CountUsers(ctx context.Context) (total, online int, err error)
	LatestLedgerEntry(ctx context.Context, userID string) (*model.LedgerEntry, error)
	ActiveEvaluation(ctx context.Context, userID string) (*model.EvaluationSession, error)
	EvaluationStats(ctx context.Context, userID string) (repository.EvalStats, error)
	RecentEvaluations(ctx context.Context, userID string, limit int) ([]repository.EvalSummary, error)
	CountActiveEvaluations(ctx context.Context) (int, error)
	GlobalEvalStats(ctx context.Context) (repository.GlobalStats, error)
}

// DashboardUser is one row of the admin dashboard.
type DashboardUser struct {
	ID             string                   `json:"id"`
	Name           string                   `json:"name"`
	Email          string                   `json:"email"`
	SchoolName     string                   `json:"schoolName,omitempty"`
	State          string                   `json:"state,omitempty"`
	Status         string                   `json:"status"`
	IsOnline       bool                     `json:"isOnline"`
	IsEvaluating   bool                     `json:"isEvaluating"`
	CurrentStep    int                      `json:"currentStep"`
	LastLoginAt    *time.Time               `json:"lastLogin,omitempty"`
	LastLogoutAt   *time.Time               `json:"lastLogout,omitempty"`
	LastActivityAt *time.Time               `json:"lastActivity,omitempty"`
	TotalTime      time.Duration            `json:"totalTimeSpent"`
	AttemptStats   repository.EvalStats     `json:"attemptStats"`
	Current        *CurrentEvaluation       `json:"currentEvaluation,omitempty"`
	Recent         []repository.EvalSummary `json:"recentEvaluations,omitempty"`
}

// CurrentEvaluation summarizes a user's in-progress session.
type CurrentEvaluation struct {
	SessionID     string    `json:"sessionId"`
	AttemptNumber int       `json:"attemptNumber"`
	CurrentStep   int       `json:"currentStep"`
	StepName      string    `json:"stepName"`
	Completion    float64   `json:"completionPercentage"`
	StartedAt     time.Time `json:"startTime"`
}

// DashboardStats is the aggregate counters panel.
type DashboardStats struct {
	TotalUsers        int `json:"totalUsers"`
	OnlineUsers       int `json:"onlineUsers"`
	EvaluatingUsers   int `json:"evaluatingUsers"`
	ActiveEvaluations int `json:"activeEvaluations"`
	repository.GlobalStats
}

// Dashboard merges live registry state with stored history for the admin
// views. The registry wins for users it currently tracks; the store is the
// fallback for everyone else.
type Dashboard struct {
	store        DashboardStore
	registry     *presence.Registry
	recency      time.Duration
	historyLimit int
	now          func() time.Time
	logger       logger.Logger
}

// DashboardOption applies a configuration option to the Dashboard.
type DashboardOption func(*Dashboard)

// WithRecencyWindow sets how long a disconnected user still shows as
// offline instead of logged out.
func WithRecencyWindow(d time.Duration) DashboardOption {
	return func(b *Dashboard) {
		if d > 0 {
			b.recency = d
		}
	}
}

// WithHistoryLimit caps the recent evaluations shown per user.
func WithHistoryLimit(n int) DashboardOption {
	return func(b *Dashboard) {
		if n > 0 {
			b.historyLimit = n
		}
	}
}

// WithDashboardClock overrides the time source. Used by tests.
func WithDashboardClock(now func() time.Time) DashboardOption {
	return func(b *Dashboard) {
		if now != nil {
			b.now = now
		}
	}
}

// NewDashboard creates the dashboard read model.
func NewDashboard(store DashboardStore, registry *presence.Registry, opts ...DashboardOption) *Dashboard {
	b := &Dashboard{
		store:        store,
		registry:     registry,
		recency:      5 * time.Minute,
		historyLimit: 10,
		now:          time.Now,
		logger:       logger.Get().Named("dashboard"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Users builds the full per-user dashboard listing.
func (b *Dashboard) Users(ctx context.Context) ([]DashboardUser, error) {
	users, err := b.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("dashboard users: %w", err)
	}

	now := b.now()
	out := make([]DashboardUser, 0, len(users))
	for _, u := range users {
		row := DashboardUser{
			ID:          u.ID,
			Name:        u.Name,
			Email:       u.Email,
			SchoolName:  u.SchoolName,
			State:       u.State,
			IsOnline:    u.IsOnline,
			CurrentStep: u.CurrentStep,
			TotalTime:   u.TotalTimeSpent,
		}
		lastActivity := u.LastActivityAt

		// Live registry state overrides the stored flags.
		if e, ok := b.registry.Get(u.ID); ok {
			row.IsOnline = e.IsOnline
			row.IsEvaluating = e.IsEvaluating
			if e.LastActivity.After(lastActivity) {
				lastActivity = e.LastActivity
			}
		}

		if !u.LastLoginAt.IsZero() {
			t := u.LastLoginAt
			row.LastLoginAt = &t
		}
		if !lastActivity.IsZero() {
			t := lastActivity
			row.LastActivityAt = &t
		}

		if entry, err := b.store.LatestLedgerEntry(ctx, u.ID); err == nil {
			if !entry.LogoutAt.IsZero() {
				t := entry.LogoutAt
				row.LastLogoutAt = &t
			}
		} else if !errors.Is(err, repository.ErrNotFound) {
			b.logger.Warn(ctx, "ledger lookup failed",
				logger.String("userID", u.ID), logger.Error(err))
		}

		stats, err := b.store.EvaluationStats(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("dashboard users: %w", err)
		}
		row.AttemptStats = stats

		active, err := b.store.ActiveEvaluation(ctx, u.ID)
		switch {
		case err == nil:
			if active.HasStarted {
				row.Current = &CurrentEvaluation{
					SessionID:     active.ID,
					AttemptNumber: active.AttemptNumber,
					CurrentStep:   active.CurrentStep,
					StepName:      active.CurrentStepName,
					Completion:    status.ClampPercent(active.Completion),
					StartedAt:     active.StartedAt,
				}
			}
		case !errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("dashboard users: %w", err)
		}

		recent, err := b.store.RecentEvaluations(ctx, u.ID, b.historyLimit)
		if err != nil {
			return nil, fmt.Errorf("dashboard users: %w", err)
		}
		row.Recent = recent

		row.Status = status.Derive(status.Input{
			HasActiveEvaluation: row.Current != nil,
			IsOnline:            row.IsOnline,
			LastActivity:        lastActivity,
		}, now, b.recency)
		row.IsEvaluating = row.IsEvaluating || row.Current != nil

		out = append(out, row)
	}
	return out, nil
}

// Stats builds the aggregate counters panel.
func (b *Dashboard) Stats(ctx context.Context) (DashboardStats, error) {
	total, storedOnline, err := b.store.CountUsers(ctx)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("dashboard stats: %w", err)
	}
	active, err := b.store.CountActiveEvaluations(ctx)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("dashboard stats: %w", err)
	}
	global, err := b.store.GlobalEvalStats(ctx)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("dashboard stats: %w", err)
	}

	online, evaluating := b.registry.Counts()
	if online < storedOnline {
		online = storedOnline
	}
	return DashboardStats{
		TotalUsers:        total,
		OnlineUsers:       online,
		EvaluatingUsers:   evaluating,
		ActiveEvaluations: active,
		GlobalStats:       global,
	}, nil
}
