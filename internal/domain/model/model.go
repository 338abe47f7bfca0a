// Package model contains domain models passed between layers.
package model

import "time"

// Kind names an inbound activity event. The string values are the wire
// event names used by the browser client and must not change.
type Kind string

const (
	KindJoinAdmin         Kind = "join-admin"
	KindJoinUser          Kind = "join-user"
	KindEvaluationStarted Kind = "evaluation-started"
	KindEvaluationUpdate  Kind = "evaluation-update"
	KindUserLogout        Kind = "user-logout"
	KindStatusChange      Kind = "user-status-change"
	KindHeartbeat         Kind = "heartbeat"

	// KindDisconnect is synthesized by the transport when a user
	// connection closes without a user-logout.
	KindDisconnect Kind = "disconnect"
)

// Activity is a single inbound presence event flowing from a connection
// through the queue to the dispatcher.
type Activity struct {
	Kind          Kind
	UserID        string
	AttemptNumber int
	CurrentStep   int
	Completion    float64 // raw completion percentage, clamped downstream
	StepName      string
	Status        string // user-status-change passthrough only
	IsOnline      bool
	IsEvaluating  bool
	ReceivedAt    time.Time
}

// Outbound event names fanned out to the admin room.
const (
	EventUserStatusUpdate     = "user-status-update"
	EventUserEvaluationUpdate = "user-evaluation-update"
)

// Activity type tags carried on outbound notifications.
const (
	ActivityUserOnline         = "user_online"
	ActivityEvaluationStarted  = "evaluation_started"
	ActivityEvaluationProgress = "evaluation_progress"
	ActivityUserLogout         = "user_logout"
	ActivityUserOffline        = "user_offline"
)

// StatusUpdate is the user-status-update payload. Field names are part of
// the client compatibility surface.
type StatusUpdate struct {
	UserID        string    `json:"userId"`
	UserName      string    `json:"userName,omitempty"`
	Status        string    `json:"status"`
	IsOnline      bool      `json:"isOnline"`
	IsEvaluating  bool      `json:"isEvaluating"`
	Timestamp     time.Time `json:"timestamp"`
	ActivityType  string    `json:"activityType,omitempty"`
	AttemptNumber int       `json:"attemptNumber,omitempty"`
}

// EvaluationUpdate is the user-evaluation-update payload.
type EvaluationUpdate struct {
	UserID       string    `json:"userId"`
	CurrentStep  int       `json:"currentStep"`
	Completion   float64   `json:"completionPercentage"`
	StepName     string    `json:"stepName"`
	Timestamp    time.Time `json:"timestamp"`
	ActivityType string    `json:"activityType"`
}
