package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/selectedu/select/internal/domain/model"
	"github.com/selectedu/select/internal/domain/status"
)

const sessionColumns = `id, user_id, session_token, attempt_number, started_ms,
	ended_ms, duration_ms, current_step, current_step_name, total_steps,
	completion_pct, has_started, is_completed, is_restart, is_abandoned,
	has_exported, export_type, exported_ms, results_json, created_ms`

// NextAttemptNumber returns max(attempt)+1 for the user. Two concurrent
// starts can observe the same value; attempt numbers are informational, not
// a uniqueness key.
func (s *SQLiteStore) NextAttemptNumber(ctx context.Context, userID string) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(attempt_number), 0) + 1
		FROM evaluation_sessions WHERE user_id = ?`, userID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next attempt number: %w", err)
	}
	return next, nil
}

// CreateEvaluation inserts a new session together with its opening step.
func (s *SQLiteStore) CreateEvaluation(ctx context.Context, sess *model.EvaluationSession) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = sess.CreatedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create evaluation: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO evaluation_sessions (`+sessionColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sess.ID, sess.UserID, sess.SessionToken, sess.AttemptNumber,
		sess.StartedAt.UnixMilli(), toMS(sess.EndedAt), sess.Duration.Milliseconds(),
		sess.CurrentStep, sess.CurrentStepName, sess.TotalSteps, sess.Completion,
		boolInt(sess.HasStarted), boolInt(sess.IsCompleted), boolInt(sess.IsRestart),
		boolInt(sess.IsAbandoned), boolInt(sess.HasExported), sess.ExportType,
		toMS(sess.ExportedAt), sess.Results, sess.CreatedAt.UnixMilli(),
	)
	if err != nil {
		s.logErr(ctx, "create_evaluation", err)
		return fmt.Errorf("create evaluation: %w", err)
	}

	if sess.CurrentStep > 0 {
		step := model.EvaluationStep{
			ID:         uuid.NewString(),
			SessionID:  sess.ID,
			StepNumber: sess.CurrentStep,
			StepName:   sess.CurrentStepName,
			StartedAt:  sess.StartedAt,
		}
		if err := insertStep(ctx, tx, step); err != nil {
			return err
		}
		sess.Steps = []model.EvaluationStep{step}
	}
	return tx.Commit()
}

// ActiveEvaluation returns the user's most recent unfinished session, with
// its steps loaded.
func (s *SQLiteStore) ActiveEvaluation(ctx context.Context, userID string) (*model.EvaluationSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM evaluation_sessions
		WHERE user_id = ? AND is_completed = 0 AND is_abandoned = 0
		ORDER BY started_ms DESC LIMIT 1`, userID)
	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadSteps(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// EvaluationByToken returns the user's unfinished session carrying the
// given session token.
func (s *SQLiteStore) EvaluationByToken(ctx context.Context, userID, sessionToken string) (*model.EvaluationSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM evaluation_sessions
		WHERE user_id = ? AND session_token = ? AND is_completed = 0 AND is_abandoned = 0
		ORDER BY started_ms DESC LIMIT 1`, userID, sessionToken)
	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadSteps(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// AdvanceStep closes the session's open step, opens the next one, and
// refreshes the session's progress columns. At most one step per session is
// open at any time.
func (s *SQLiteStore) AdvanceStep(ctx context.Context, sessionID string, stepNumber int, stepName string, now time.Time) (*model.EvaluationSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("advance step: %w", err)
	}
	defer tx.Rollback()

	if err := closeOpenStep(ctx, tx, sessionID, now); err != nil {
		return nil, err
	}
	if err := insertStep(ctx, tx, model.EvaluationStep{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		StepNumber: stepNumber,
		StepName:   stepName,
		StartedAt:  now,
	}); err != nil {
		return nil, err
	}

	var totalSteps int
	if err := tx.QueryRowContext(ctx,
		`SELECT total_steps FROM evaluation_sessions WHERE id = ?`, sessionID).Scan(&totalSteps); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("advance step: %w", err)
	}
	completion := 0.0
	if totalSteps > 0 {
		completion = status.ClampPercent(float64(stepNumber) / float64(totalSteps) * 100)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE evaluation_sessions
		SET current_step = ?, current_step_name = ?, completion_pct = ?, has_started = 1
		WHERE id = ?`,
		stepNumber, stepName, completion, sessionID)
	if err != nil {
		s.logErr(ctx, "advance_step", err)
		return nil, fmt.Errorf("advance step: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("advance step: %w", err)
	}
	return s.sessionByID(ctx, sessionID)
}

// CompleteEvaluation closes the open step, stamps the end time, stores the
// raw results payload and marks the session complete at 100 percent.
func (s *SQLiteStore) CompleteEvaluation(ctx context.Context, sessionID string, results []byte, now time.Time) (*model.EvaluationSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("complete evaluation: %w", err)
	}
	defer tx.Rollback()

	if err := closeOpenStep(ctx, tx, sessionID, now); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE evaluation_sessions
		SET ended_ms = ?, duration_ms = ? - started_ms, completion_pct = 100,
		    is_completed = 1, results_json = ?
		WHERE id = ?`,
		now.UnixMilli(), now.UnixMilli(), results, sessionID)
	if err != nil {
		s.logErr(ctx, "complete_evaluation", err)
		return nil, fmt.Errorf("complete evaluation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("complete evaluation: %w", err)
	}
	return s.sessionByID(ctx, sessionID)
}

// AbandonEvaluation ends the session without completing it.
func (s *SQLiteStore) AbandonEvaluation(ctx context.Context, sessionID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE evaluation_sessions
		SET is_abandoned = 1, ended_ms = ?, duration_ms = ? - started_ms
		WHERE id = ? AND is_completed = 0 AND is_abandoned = 0`,
		now.UnixMilli(), now.UnixMilli(), sessionID)
	if err != nil {
		s.logErr(ctx, "abandon_evaluation", err)
		return fmt.Errorf("abandon evaluation: %w", err)
	}
	return nil
}

// MarkExported flags the session as exported.
func (s *SQLiteStore) MarkExported(ctx context.Context, sessionID, exportType string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE evaluation_sessions
		SET has_exported = 1, export_type = ?, exported_ms = ?
		WHERE id = ?`,
		exportType, now.UnixMilli(), sessionID)
	if err != nil {
		s.logErr(ctx, "mark_exported", err)
		return fmt.Errorf("mark exported: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// EvaluationStats aggregates the user's session history.
func (s *SQLiteStore) EvaluationStats(ctx context.Context, userID string) (EvalStats, error) {
	var (
		st          EvalStats
		totalTimeMS int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(is_completed), 0),
		       COALESCE(SUM(CASE WHEN has_started = 1 AND is_completed = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(is_restart), 0),
		       COALESCE(SUM(has_exported), 0),
		       COALESCE(MAX(attempt_number), 0),
		       COALESCE(SUM(duration_ms), 0)
		FROM evaluation_sessions WHERE user_id = ?`, userID).Scan(
		&st.TotalAttempts, &st.CompletedCount, &st.IncompleteCount,
		&st.RestartCount, &st.ExportCount, &st.MaxAttemptNumber, &totalTimeMS)
	if err != nil {
		return EvalStats{}, fmt.Errorf("evaluation stats: %w", err)
	}
	st.TotalTimeSpent = time.Duration(totalTimeMS) * time.Millisecond
	return st, nil
}

// RecentEvaluations returns the user's latest sessions, newest first.
func (s *SQLiteStore) RecentEvaluations(ctx context.Context, userID string, limit int) ([]EvalSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, attempt_number, started_ms, ended_ms, is_completed,
		       completion_pct, current_step, total_steps, is_restart,
		       has_exported, duration_ms
		FROM evaluation_sessions
		WHERE user_id = ? ORDER BY started_ms DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent evaluations: %w", err)
	}
	defer rows.Close()

	var out []EvalSummary
	for rows.Next() {
		var (
			e           EvalSummary
			endedMS     sql.NullInt64
			isCompleted int
			isRestart   int
			hasExported int
			durationMS  int64
		)
		err := rows.Scan(&e.SessionID, &e.AttemptNumber, &startedScanner{&e.StartedAt},
			&endedMS, &isCompleted, &e.Completion, &e.CurrentStep, &e.TotalSteps,
			&isRestart, &hasExported, &durationMS)
		if err != nil {
			return nil, fmt.Errorf("recent evaluations: %w", err)
		}
		if endedMS.Valid {
			t := time.UnixMilli(endedMS.Int64)
			e.EndedAt = &t
		}
		e.IsCompleted = isCompleted != 0
		e.IsRestart = isRestart != 0
		e.HasExported = hasExported != 0
		e.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountActiveEvaluations counts sessions currently in progress.
func (s *SQLiteStore) CountActiveEvaluations(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM evaluation_sessions
		WHERE has_started = 1 AND is_completed = 0 AND is_abandoned = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active evaluations: %w", err)
	}
	return n, nil
}

// GlobalEvalStats aggregates session activity across all users.
func (s *SQLiteStore) GlobalEvalStats(ctx context.Context) (GlobalStats, error) {
	var (
		g           GlobalStats
		totalTimeMS int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(is_completed), 0), COALESCE(SUM(duration_ms), 0)
		FROM evaluation_sessions`).Scan(&g.TotalSessions, &g.CompletedSessions, &totalTimeMS)
	if err != nil {
		return GlobalStats{}, fmt.Errorf("global eval stats: %w", err)
	}
	g.TotalTimeSpent = time.Duration(totalTimeMS) * time.Millisecond
	return g, nil
}

func (s *SQLiteStore) sessionByID(ctx context.Context, id string) (*model.EvaluationSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM evaluation_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadSteps(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteStore) loadSteps(ctx context.Context, sess *model.EvaluationSession) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, step_number, step_name, started_ms, ended_ms, time_ms, completed
		FROM evaluation_steps WHERE session_id = ? ORDER BY started_ms`, sess.ID)
	if err != nil {
		return fmt.Errorf("load steps: %w", err)
	}
	defer rows.Close()

	sess.Steps = nil
	for rows.Next() {
		var (
			st        model.EvaluationStep
			startedMS int64
			endedMS   sql.NullInt64
			timeMS    int64
			completed int
		)
		if err := rows.Scan(&st.ID, &st.SessionID, &st.StepNumber, &st.StepName,
			&startedMS, &endedMS, &timeMS, &completed); err != nil {
			return fmt.Errorf("load steps: %w", err)
		}
		st.StartedAt = time.UnixMilli(startedMS)
		st.EndedAt = fromMS(endedMS)
		st.TimeSpent = time.Duration(timeMS) * time.Millisecond
		st.Completed = completed != 0
		sess.Steps = append(sess.Steps, st)
	}
	return rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertStep(ctx context.Context, tx execer, st model.EvaluationStep) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO evaluation_steps (id, session_id, step_number, step_name, started_ms, ended_ms, time_ms, completed)
		VALUES (?,?,?,?,?,?,?,?)`,
		st.ID, st.SessionID, st.StepNumber, st.StepName,
		st.StartedAt.UnixMilli(), toMS(st.EndedAt),
		st.TimeSpent.Milliseconds(), boolInt(st.Completed))
	if err != nil {
		return fmt.Errorf("insert step: %w", err)
	}
	return nil
}

func closeOpenStep(ctx context.Context, tx execer, sessionID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE evaluation_steps
		SET ended_ms = ?, time_ms = ? - started_ms, completed = 1
		WHERE session_id = ? AND ended_ms IS NULL`,
		now.UnixMilli(), now.UnixMilli(), sessionID)
	if err != nil {
		return fmt.Errorf("close open step: %w", err)
	}
	return nil
}

func scanSession(row rowScanner) (*model.EvaluationSession, error) {
	var (
		sess                model.EvaluationSession
		startedMS           int64
		endedMS, exportedMS sql.NullInt64
		durationMS          int64
		hasStarted          int
		isCompleted         int
		isRestart           int
		isAbandoned         int
		hasExported         int
		createdMS           int64
	)
	err := row.Scan(&sess.ID, &sess.UserID, &sess.SessionToken, &sess.AttemptNumber,
		&startedMS, &endedMS, &durationMS, &sess.CurrentStep, &sess.CurrentStepName,
		&sess.TotalSteps, &sess.Completion, &hasStarted, &isCompleted, &isRestart,
		&isAbandoned, &hasExported, &sess.ExportType, &exportedMS, &sess.Results,
		&createdMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.StartedAt = time.UnixMilli(startedMS)
	sess.EndedAt = fromMS(endedMS)
	sess.ExportedAt = fromMS(exportedMS)
	sess.Duration = time.Duration(durationMS) * time.Millisecond
	sess.HasStarted = hasStarted != 0
	sess.IsCompleted = isCompleted != 0
	sess.IsRestart = isRestart != 0
	sess.IsAbandoned = isAbandoned != 0
	sess.HasExported = hasExported != 0
	sess.CreatedAt = time.UnixMilli(createdMS)
	return &sess, nil
}

// startedScanner adapts a time field to a millisecond column scan.
type startedScanner struct{ t *time.Time }

func (s *startedScanner) Scan(v any) error {
	ms, ok := v.(int64)
	if !ok {
		return fmt.Errorf("started_ms: unexpected type %T", v)
	}
	*s.t = time.UnixMilli(ms)
	return nil
}
