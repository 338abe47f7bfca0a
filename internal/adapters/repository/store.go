// Package repository persists identity, session ledger, evaluation and
// feedback records in SQLite.
package repository

import (
	"context"
	"time"

	"github.com/selectedu/select/internal/domain/model"
)

// Store is the persistence contract consumed by the API and the tracker.
type Store interface {
	// Identity.
	CreateUser(ctx context.Context, u *model.User) error
	UserByID(ctx context.Context, id string) (*model.User, error)
	UserByEmail(ctx context.Context, email string) (*model.User, error)
	// UserDisplayName is the projection used when building broadcasts:
	// name, falling back to email, falling back to "Unknown User".
	UserDisplayName(ctx context.Context, id string) (string, error)
	UpdateUserStatus(ctx context.Context, id string, patch model.StatusPatch) error
	RecordLogin(ctx context.Context, id string, at time.Time) error
	AddUserTimeSpent(ctx context.Context, id string, d time.Duration) error
	IncrementUserAttempts(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]*model.User, error)
	CountUsers(ctx context.Context) (total, online int, err error)

	// Session ledger.
	OpenLedgerEntry(ctx context.Context, e *model.LedgerEntry) error
	CloseLedgerEntry(ctx context.Context, userID, sessionToken string, logoutAt time.Time) (*model.LedgerEntry, error)
	AppendLogout(ctx context.Context, userID string, at time.Time) error
	AppendExport(ctx context.Context, userID, sessionID, exportType string, at time.Time) error
	LatestLedgerEntry(ctx context.Context, userID string) (*model.LedgerEntry, error)

	// Evaluation sessions.
	NextAttemptNumber(ctx context.Context, userID string) (int, error)
	CreateEvaluation(ctx context.Context, s *model.EvaluationSession) error
	ActiveEvaluation(ctx context.Context, userID string) (*model.EvaluationSession, error)
	EvaluationByToken(ctx context.Context, userID, sessionToken string) (*model.EvaluationSession, error)
	AdvanceStep(ctx context.Context, sessionID string, stepNumber int, stepName string, now time.Time) (*model.EvaluationSession, error)
	CompleteEvaluation(ctx context.Context, sessionID string, results []byte, now time.Time) (*model.EvaluationSession, error)
	AbandonEvaluation(ctx context.Context, sessionID string, now time.Time) error
	MarkExported(ctx context.Context, sessionID, exportType string, now time.Time) error
	EvaluationStats(ctx context.Context, userID string) (EvalStats, error)
	RecentEvaluations(ctx context.Context, userID string, limit int) ([]EvalSummary, error)
	CountActiveEvaluations(ctx context.Context) (int, error)
	GlobalEvalStats(ctx context.Context) (GlobalStats, error)

	// Feedback.
	CreateFeedback(ctx context.Context, f *model.Feedback) error
	ListFeedback(ctx context.Context, status string, page, limit int) ([]*model.Feedback, FeedbackPage, error)
}

// EvalStats aggregates one user's evaluation history.
type EvalStats struct {
	TotalAttempts    int           `json:"totalAttempts"`
	CompletedCount   int           `json:"completedEvaluations"`
	IncompleteCount  int           `json:"incompleteEvaluations"`
	RestartCount     int           `json:"restartCount"`
	ExportCount      int           `json:"exportCount"`
	MaxAttemptNumber int           `json:"maxAttemptNumber"`
	TotalTimeSpent   time.Duration `json:"totalTimeSpent"`
}

// EvalSummary is one row of a user's evaluation history.
type EvalSummary struct {
	SessionID     string        `json:"sessionId"`
	AttemptNumber int           `json:"attemptNumber"`
	StartedAt     time.Time     `json:"startTime"`
	EndedAt       *time.Time    `json:"endTime,omitempty"`
	IsCompleted   bool          `json:"isCompleted"`
	Completion    float64       `json:"completionPercentage"`
	CurrentStep   int           `json:"currentStep"`
	TotalSteps    int           `json:"totalSteps"`
	IsRestart     bool          `json:"isRestart"`
	HasExported   bool          `json:"hasExported"`
	Duration      time.Duration `json:"totalDuration"`
}

// GlobalStats aggregates evaluation activity across all users.
type GlobalStats struct {
	TotalSessions     int           `json:"totalEvaluationSessions"`
	CompletedSessions int           `json:"completedEvaluations"`
	TotalTimeSpent    time.Duration `json:"totalPlatformTime"`
}

// FeedbackPage carries paging data and per-status counts for a feedback
// listing.
type FeedbackPage struct {
	CurrentPage int            `json:"currentPage"`
	TotalPages  int            `json:"totalPages"`
	Total       int            `json:"totalFeedback"`
	HasNext     bool           `json:"hasNext"`
	HasPrev     bool           `json:"hasPrev"`
	Counts      map[string]int `json:"-"`
}
