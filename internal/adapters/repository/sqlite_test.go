package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/selectedu/select/internal/domain/model"
	"github.com/selectedu/select/pkg/logger"
)

func init() {
	_ = logger.Init()
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s *SQLiteStore, name, email string) *model.User {
	t.Helper()
	u := &model.User{
		Name:          name,
		Email:         email,
		PasswordHash:  []byte("x"),
		SchoolName:    "Springfield High",
		ScienceGrades: []string{"6", "7"},
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	seedUser(t, s, "A", "a@example.com")

	err := s.CreateUser(context.Background(), &model.User{
		Name: "B", Email: "A@Example.com", PasswordHash: []byte("y"),
	})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestUserByEmailCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	u := seedUser(t, s, "A", "Mixed@Example.com")

	got, err := s.UserByEmail(context.Background(), "mixed@EXAMPLE.com")
	if err != nil {
		t.Fatalf("UserByEmail: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("got user %s, want %s", got.ID, u.ID)
	}
	if len(got.ScienceGrades) != 2 {
		t.Errorf("science grades = %v", got.ScienceGrades)
	}
}

func TestUserDisplayNameFallbacks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "Named", "named@example.com")

	name, err := s.UserDisplayName(ctx, u.ID)
	if err != nil || name != "Named" {
		t.Errorf("display name = %q, %v", name, err)
	}
	name, err = s.UserDisplayName(ctx, "missing")
	if err != nil || name != "Unknown User" {
		t.Errorf("missing user display name = %q, %v", name, err)
	}
}

func TestUpdateUserStatusPartial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "A", "a@example.com")

	online := true
	at := time.Now().Truncate(time.Millisecond)
	if err := s.UpdateUserStatus(ctx, u.ID, model.StatusPatch{
		IsOnline: &online, LastActivity: &at,
	}); err != nil {
		t.Fatalf("UpdateUserStatus: %v", err)
	}

	got, err := s.UserByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("UserByID: %v", err)
	}
	if !got.IsOnline || got.IsEvaluating {
		t.Errorf("flags = online %v evaluating %v", got.IsOnline, got.IsEvaluating)
	}
	if !got.LastActivityAt.Equal(at) {
		t.Errorf("last activity = %v, want %v", got.LastActivityAt, at)
	}
}

func TestLedgerOpenCloseComputesDuration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "A", "a@example.com")

	loginAt := time.Now().Add(-90 * time.Second).Truncate(time.Millisecond)
	entry := &model.LedgerEntry{
		UserID: u.ID, SessionToken: "tok-1", LoginAt: loginAt,
		IPAddress: "10.0.0.1", UserAgent: "test",
	}
	if err := s.OpenLedgerEntry(ctx, entry); err != nil {
		t.Fatalf("OpenLedgerEntry: %v", err)
	}

	logoutAt := loginAt.Add(90 * time.Second)
	closed, err := s.CloseLedgerEntry(ctx, u.ID, "tok-1", logoutAt)
	if err != nil {
		t.Fatalf("CloseLedgerEntry: %v", err)
	}
	if closed.IsActive {
		t.Error("closed entry still active")
	}
	if closed.Duration != 90*time.Second {
		t.Errorf("duration = %v, want 90s", closed.Duration)
	}

	// No active entry remains.
	if _, err := s.CloseLedgerEntry(ctx, u.ID, "", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendLogoutAndLatestEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "A", "a@example.com")

	login := time.Now().Add(-time.Hour)
	if err := s.OpenLedgerEntry(ctx, &model.LedgerEntry{UserID: u.ID, LoginAt: login}); err != nil {
		t.Fatalf("OpenLedgerEntry: %v", err)
	}
	if err := s.AppendLogout(ctx, u.ID, time.Now()); err != nil {
		t.Fatalf("AppendLogout: %v", err)
	}

	latest, err := s.LatestLedgerEntry(ctx, u.ID)
	if err != nil {
		t.Fatalf("LatestLedgerEntry: %v", err)
	}
	if latest.ActivityType != "login" {
		t.Errorf("latest login-type entry is %q", latest.ActivityType)
	}
}

func TestEvaluationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "A", "a@example.com")

	n, err := s.NextAttemptNumber(ctx, u.ID)
	if err != nil || n != 1 {
		t.Fatalf("first attempt = %d, %v", n, err)
	}

	start := time.Now().Truncate(time.Millisecond)
	sess := &model.EvaluationSession{
		UserID: u.ID, SessionToken: "tok-1", AttemptNumber: n,
		StartedAt: start, CurrentStep: 1, CurrentStepName: "Introduction",
		TotalSteps: 4, HasStarted: true,
	}
	if err := s.CreateEvaluation(ctx, sess); err != nil {
		t.Fatalf("CreateEvaluation: %v", err)
	}
	if len(sess.Steps) != 1 {
		t.Fatalf("expected opening step, got %d", len(sess.Steps))
	}

	later := start.Add(2 * time.Minute)
	got, err := s.AdvanceStep(ctx, sess.ID, 2, "Video Review", later)
	if err != nil {
		t.Fatalf("AdvanceStep: %v", err)
	}
	if got.CurrentStep != 2 || got.CurrentStepName != "Video Review" {
		t.Errorf("session = step %d %q", got.CurrentStep, got.CurrentStepName)
	}
	if got.Completion != 50 {
		t.Errorf("completion = %v, want 50", got.Completion)
	}
	open := 0
	for _, st := range got.Steps {
		if st.EndedAt.IsZero() {
			open++
		}
	}
	if open != 1 {
		t.Errorf("open steps = %d, want 1", open)
	}
	if got.Steps[0].TimeSpent != 2*time.Minute {
		t.Errorf("first step time = %v", got.Steps[0].TimeSpent)
	}

	end := later.Add(3 * time.Minute)
	done, err := s.CompleteEvaluation(ctx, sess.ID, []byte(`{"videos":[]}`), end)
	if err != nil {
		t.Fatalf("CompleteEvaluation: %v", err)
	}
	if !done.IsCompleted || done.Completion != 100 {
		t.Errorf("completed = %v, completion = %v", done.IsCompleted, done.Completion)
	}
	if done.Duration != 5*time.Minute {
		t.Errorf("duration = %v, want 5m", done.Duration)
	}
	for _, st := range done.Steps {
		if st.EndedAt.IsZero() {
			t.Errorf("step %d still open after completion", st.StepNumber)
		}
	}

	// A completed session is no longer active.
	if _, err := s.ActiveEvaluation(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	n, err = s.NextAttemptNumber(ctx, u.ID)
	if err != nil || n != 2 {
		t.Errorf("next attempt = %d, %v", n, err)
	}
}

func TestRestartAbandonsAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "A", "a@example.com")

	first := &model.EvaluationSession{
		UserID: u.ID, AttemptNumber: 1, StartedAt: time.Now().Add(-time.Hour),
		CurrentStep: 1, CurrentStepName: "Introduction", TotalSteps: 4, HasStarted: true,
	}
	if err := s.CreateEvaluation(ctx, first); err != nil {
		t.Fatalf("CreateEvaluation: %v", err)
	}
	if err := s.AbandonEvaluation(ctx, first.ID, time.Now()); err != nil {
		t.Fatalf("AbandonEvaluation: %v", err)
	}

	second := &model.EvaluationSession{
		UserID: u.ID, AttemptNumber: 2, StartedAt: time.Now(),
		CurrentStep: 1, CurrentStepName: "Introduction", TotalSteps: 4,
		HasStarted: true, IsRestart: true,
	}
	if err := s.CreateEvaluation(ctx, second); err != nil {
		t.Fatalf("CreateEvaluation: %v", err)
	}

	active, err := s.ActiveEvaluation(ctx, u.ID)
	if err != nil {
		t.Fatalf("ActiveEvaluation: %v", err)
	}
	if active.ID != second.ID {
		t.Errorf("active = %s, want %s", active.ID, second.ID)
	}

	if err := s.MarkExported(ctx, second.ID, "pdf", time.Now()); err != nil {
		t.Fatalf("MarkExported: %v", err)
	}

	st, err := s.EvaluationStats(ctx, u.ID)
	if err != nil {
		t.Fatalf("EvaluationStats: %v", err)
	}
	if st.TotalAttempts != 2 || st.RestartCount != 1 || st.ExportCount != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.MaxAttemptNumber != 2 {
		t.Errorf("max attempt = %d", st.MaxAttemptNumber)
	}

	recent, err := s.RecentEvaluations(ctx, u.ID, 10)
	if err != nil {
		t.Fatalf("RecentEvaluations: %v", err)
	}
	if len(recent) != 2 || recent[0].SessionID != second.ID {
		t.Errorf("recent = %+v", recent)
	}
}

func TestFeedbackPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "A", "a@example.com")

	for i := 0; i < 5; i++ {
		f := &model.Feedback{UserID: u.ID, Body: "note"}
		if i == 0 {
			f.Status = model.FeedbackStatusResolved
		}
		if err := s.CreateFeedback(ctx, f); err != nil {
			t.Fatalf("CreateFeedback: %v", err)
		}
	}

	items, pg, err := s.ListFeedback(ctx, "", 1, 2)
	if err != nil {
		t.Fatalf("ListFeedback: %v", err)
	}
	if len(items) != 2 || pg.Total != 5 || pg.TotalPages != 3 || !pg.HasNext || pg.HasPrev {
		t.Errorf("page = %+v, items = %d", pg, len(items))
	}
	if items[0].UserName != "A" || items[0].UserEmail != "a@example.com" {
		t.Errorf("denormalized fields = %q %q", items[0].UserName, items[0].UserEmail)
	}
	if pg.Counts[model.FeedbackStatusPending] != 4 || pg.Counts[model.FeedbackStatusResolved] != 1 {
		t.Errorf("counts = %v", pg.Counts)
	}

	pending, _, err := s.ListFeedback(ctx, model.FeedbackStatusPending, 1, 10)
	if err != nil {
		t.Fatalf("ListFeedback filtered: %v", err)
	}
	if len(pending) != 4 {
		t.Errorf("pending = %d", len(pending))
	}
}

func TestCountUsersAndGlobalStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedUser(t, s, "A", "a@example.com")
	seedUser(t, s, "B", "b@example.com")

	if err := s.RecordLogin(ctx, a.ID, time.Now()); err != nil {
		t.Fatalf("RecordLogin: %v", err)
	}
	total, online, err := s.CountUsers(ctx)
	if err != nil {
		t.Fatalf("CountUsers: %v", err)
	}
	if total != 2 || online != 1 {
		t.Errorf("total %d online %d", total, online)
	}

	sess := &model.EvaluationSession{
		UserID: a.ID, AttemptNumber: 1, StartedAt: time.Now(),
		CurrentStep: 1, TotalSteps: 4, HasStarted: true,
	}
	if err := s.CreateEvaluation(ctx, sess); err != nil {
		t.Fatalf("CreateEvaluation: %v", err)
	}
	active, err := s.CountActiveEvaluations(ctx)
	if err != nil || active != 1 {
		t.Errorf("active = %d, %v", active, err)
	}

	g, err := s.GlobalEvalStats(ctx)
	if err != nil || g.TotalSessions != 1 || g.CompletedSessions != 0 {
		t.Errorf("global = %+v, %v", g, err)
	}
}
