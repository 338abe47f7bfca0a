// Package status is the single home for user status derivation and
// completion percentage clamping. Every surface that shows a user's state
// goes through Derive so the admin list and detail views cannot disagree.
package status

import "time"

// Status values broadcast to admin observers and returned by dashboards.
const (
	Online     = "online"
	Evaluating = "evaluating"
	Offline    = "offline" // recently active but disconnected
	LoggedOut  = "logged_out"
)

// Input carries the facts needed to classify a user.
type Input struct {
	// HasActiveEvaluation is true when an incomplete, started evaluation
	// session exists for the user.
	HasActiveEvaluation bool

	// IsOnline is the identity store's online flag.
	IsOnline bool

	// LastActivity is the user's last recorded activity; zero means never.
	LastActivity time.Time
}

// Derive classifies a user. Precedence, most specific first: evaluating,
// online, offline within the recency window, logged_out.
func Derive(in Input, now time.Time, recencyWindow time.Duration) string {
	switch {
	case in.HasActiveEvaluation:
		return Evaluating
	case in.IsOnline:
		return Online
	case !in.LastActivity.IsZero() && now.Sub(in.LastActivity) < recencyWindow:
		return Offline
	default:
		return LoggedOut
	}
}

// ClampPercent bounds a completion percentage to [0,100]. Applied at every
// ingestion and read site.
func ClampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
