package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/selectedu/select/internal/domain/model"
)

// CreateFeedback inserts f, denormalizing the submitting user's name and
// email when they are unset.
func (s *SQLiteStore) CreateFeedback(ctx context.Context, f *model.Feedback) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	if f.Category == "" {
		f.Category = model.FeedbackCategoryGeneral
	}
	if f.Status == "" {
		f.Status = model.FeedbackStatusPending
	}
	if f.UserName == "" || f.UserEmail == "" {
		if u, err := s.UserByID(ctx, f.UserID); err == nil {
			if f.UserName == "" {
				f.UserName = u.Name
			}
			if f.UserEmail == "" {
				f.UserEmail = u.Email
			}
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feedback (id, user_id, user_name, user_email, body, category,
			status, responded_by, session_id, created_ms)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		f.ID, f.UserID, f.UserName, f.UserEmail, f.Body, f.Category,
		f.Status, f.RespondedBy, f.SessionID, f.CreatedAt.UnixMilli())
	if err != nil {
		s.logErr(ctx, "create_feedback", err)
		return fmt.Errorf("create feedback: %w", err)
	}
	return nil
}

// ListFeedback returns one page of feedback, newest first, optionally
// filtered by status, along with paging data and per-status counts.
func (s *SQLiteStore) ListFeedback(ctx context.Context, statusFilter string, page, limit int) ([]*model.Feedback, FeedbackPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	where := ""
	args := []any{}
	if statusFilter != "" {
		where = " WHERE status = ?"
		args = append(args, statusFilter)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM feedback`+where, args...).Scan(&total); err != nil {
		return nil, FeedbackPage{}, fmt.Errorf("count feedback: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, user_name, user_email, body, category, status,
		       responded_by, session_id, created_ms
		FROM feedback`+where+` ORDER BY created_ms DESC LIMIT ? OFFSET ?`,
		append(args, limit, (page-1)*limit)...)
	if err != nil {
		return nil, FeedbackPage{}, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	var out []*model.Feedback
	for rows.Next() {
		var (
			f         model.Feedback
			createdMS int64
		)
		if err := rows.Scan(&f.ID, &f.UserID, &f.UserName, &f.UserEmail, &f.Body,
			&f.Category, &f.Status, &f.RespondedBy, &f.SessionID, &createdMS); err != nil {
			return nil, FeedbackPage{}, fmt.Errorf("scan feedback: %w", err)
		}
		f.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, FeedbackPage{}, err
	}

	counts := map[string]int{}
	crows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM feedback GROUP BY status`)
	if err != nil {
		return nil, FeedbackPage{}, fmt.Errorf("feedback counts: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var (
			st string
			n  int
		)
		if err := crows.Scan(&st, &n); err != nil {
			return nil, FeedbackPage{}, fmt.Errorf("feedback counts: %w", err)
		}
		counts[st] = n
	}
	if err := crows.Err(); err != nil {
		return nil, FeedbackPage{}, err
	}

	totalPages := (total + limit - 1) / limit
	pg := FeedbackPage{
		CurrentPage: page,
		TotalPages:  totalPages,
		Total:       total,
		HasNext:     page < totalPages,
		HasPrev:     page > 1,
		Counts:      counts,
	}
	return out, pg, nil
}
