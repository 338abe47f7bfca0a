package status

import (
	"testing"
	"time"
)

func TestDerivePrecedence(t *testing.T) {
	now := time.Now()
	window := 5 * time.Minute

	tests := []struct {
		name string
		in   Input
		want string
	}{
		{
			name: "active evaluation wins over everything",
			in:   Input{HasActiveEvaluation: true, IsOnline: false, LastActivity: now},
			want: Evaluating,
		},
		{
			name: "evaluating even while online",
			in:   Input{HasActiveEvaluation: true, IsOnline: true},
			want: Evaluating,
		},
		{
			name: "online flag",
			in:   Input{IsOnline: true},
			want: Online,
		},
		{
			name: "recently active but disconnected",
			in:   Input{LastActivity: now.Add(-time.Minute)},
			want: Offline,
		},
		{
			name: "activity exactly at the window boundary",
			in:   Input{LastActivity: now.Add(-window)},
			want: LoggedOut,
		},
		{
			name: "stale activity",
			in:   Input{LastActivity: now.Add(-time.Hour)},
			want: LoggedOut,
		},
		{
			name: "never active",
			in:   Input{},
			want: LoggedOut,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Derive(tt.in, now, window); got != tt.want {
				t.Errorf("Derive() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClampPercent(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{150, 100},
		{-20, 0},
		{0, 0},
		{100, 100},
		{45, 45},
		{99.9, 99.9},
	}
	for _, tt := range tests {
		if got := ClampPercent(tt.in); got != tt.want {
			t.Errorf("ClampPercent(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
