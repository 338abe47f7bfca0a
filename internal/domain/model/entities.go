package model

import "time"

// Roles stored on the users table.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the persisted identity record. Password hashes never leave the
// repository layer except through CheckPassword-style flows in the API.
type User struct {
	ID                 string
	Name               string
	Email              string
	PasswordHash       []byte
	ContactNumber      string
	SchoolName         string
	SchoolType         string
	State              string
	ScienceGrades      []string
	TeachingExperience string
	EdtechExperience   string
	EdtechSolutions    []string
	Designation        string // admins only
	Role               string
	IsOnline           bool
	IsEvaluating       bool
	CurrentStep        int
	LastLoginAt        time.Time
	LastActivityAt     time.Time
	TotalTimeSpent     time.Duration
	TotalAttempts      int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsAdminRole reports whether the user carries the admin role.
func (u *User) IsAdminRole() bool { return u.Role == RoleAdmin }

// StatusPatch is a partial update applied to a user's presence flags.
// Nil fields are left untouched.
type StatusPatch struct {
	IsOnline     *bool
	IsEvaluating *bool
	CurrentStep  *int
	LastActivity *time.Time
}

// LedgerEntry is a persisted login/logout record, distinct from an
// evaluation session.
type LedgerEntry struct {
	ID           string
	UserID       string
	SessionToken string
	LoginAt      time.Time
	LogoutAt     time.Time // zero until closed
	Duration     time.Duration
	IsActive     bool
	IPAddress    string
	UserAgent    string
	ActivityType string // login, logout, export_results
	CreatedAt    time.Time
}

// EvaluationSession is one attempt at the scoring workflow.
type EvaluationSession struct {
	ID              string
	UserID          string
	SessionToken    string
	AttemptNumber   int
	StartedAt       time.Time
	EndedAt         time.Time // zero until finished or abandoned
	Duration        time.Duration
	CurrentStep     int
	CurrentStepName string
	TotalSteps      int
	Completion      float64
	HasStarted      bool
	IsCompleted     bool
	IsRestart       bool
	IsAbandoned     bool
	HasExported     bool
	ExportType      string
	ExportedAt      time.Time
	Results         []byte // raw JSON payload from the client
	Steps           []EvaluationStep
	CreatedAt       time.Time
}

// EvaluationStep is an ordered step record within a session. At most one
// step per session is open (EndedAt zero) at any time.
type EvaluationStep struct {
	ID         string
	SessionID  string
	StepNumber int
	StepName   string
	StartedAt  time.Time
	EndedAt    time.Time
	TimeSpent  time.Duration
	Completed  bool
}

// Feedback categories and statuses.
const (
	FeedbackCategoryGeneral   = "general"
	FeedbackCategoryTechnical = "technical"
	FeedbackCategoryUI        = "ui"
	FeedbackCategoryContent   = "content"
	FeedbackCategoryBug       = "bug"

	FeedbackStatusPending  = "pending"
	FeedbackStatusReviewed = "reviewed"
	FeedbackStatusResolved = "resolved"
)

// Feedback is a persisted free-text submission, denormalizing the user's
// name and email at submission time.
type Feedback struct {
	ID          string
	UserID      string
	UserName    string
	UserEmail   string
	Body        string
	Category    string
	Status      string
	RespondedBy string
	SessionID   string
	CreatedAt   time.Time
}
