package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/selectedu/select/internal/domain/model"
)

const userColumns = `id, name, email, password_hash, contact_number, school_name,
	school_type, state, science_grades, teaching_experience, edtech_experience,
	edtech_solutions, designation, role, is_online, is_evaluating, current_step,
	last_login_ms, last_activity_ms, total_time_ms, total_attempts, created_ms, updated_ms`

// CreateUser inserts u, assigning an ID and timestamps when unset.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.Role == "" {
		u.Role = model.RoleUser
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, u.Name, strings.ToLower(u.Email), u.PasswordHash, u.ContactNumber,
		u.SchoolName, u.SchoolType, u.State, marshalList(u.ScienceGrades),
		u.TeachingExperience, u.EdtechExperience, marshalList(u.EdtechSolutions),
		u.Designation, u.Role, boolInt(u.IsOnline), boolInt(u.IsEvaluating),
		u.CurrentStep, toMS(u.LastLoginAt), toMS(u.LastActivityAt),
		u.TotalTimeSpent.Milliseconds(), u.TotalAttempts,
		u.CreatedAt.UnixMilli(), u.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateEmail
		}
		s.logErr(ctx, "create_user", err)
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UserByID loads one user by ID.
func (s *SQLiteStore) UserByID(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return s.scanUser(row)
}

// UserByEmail loads one user by email, case-insensitively.
func (s *SQLiteStore) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, strings.ToLower(email))
	return s.scanUser(row)
}

// UserDisplayName resolves the name used on broadcasts. A missing record or
// a blank name falls back to the email, then to "Unknown User".
func (s *SQLiteStore) UserDisplayName(ctx context.Context, id string) (string, error) {
	var name, email string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, email FROM users WHERE id = ?`, id).Scan(&name, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return "Unknown User", nil
	}
	if err != nil {
		return "Unknown User", fmt.Errorf("display name: %w", err)
	}
	if name != "" {
		return name, nil
	}
	if email != "" {
		return email, nil
	}
	return "Unknown User", nil
}

// UpdateUserStatus applies the non-nil fields of patch to a user's presence
// columns. Unknown IDs are a no-op, not an error.
func (s *SQLiteStore) UpdateUserStatus(ctx context.Context, id string, patch model.StatusPatch) error {
	sets := []string{"updated_ms = ?"}
	args := []any{time.Now().UnixMilli()}

	if patch.IsOnline != nil {
		sets = append(sets, "is_online = ?")
		args = append(args, boolInt(*patch.IsOnline))
	}
	if patch.IsEvaluating != nil {
		sets = append(sets, "is_evaluating = ?")
		args = append(args, boolInt(*patch.IsEvaluating))
	}
	if patch.CurrentStep != nil {
		sets = append(sets, "current_step = ?")
		args = append(args, *patch.CurrentStep)
	}
	if patch.LastActivity != nil {
		sets = append(sets, "last_activity_ms = ?")
		args = append(args, patch.LastActivity.UnixMilli())
	}
	args = append(args, id)

	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		s.logErr(ctx, "update_user_status", err)
		return fmt.Errorf("update user status: %w", err)
	}
	return nil
}

// AddUserTimeSpent adds d to the user's cumulative time counter.
func (s *SQLiteStore) AddUserTimeSpent(ctx context.Context, id string, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET total_time_ms = total_time_ms + ?, updated_ms = ? WHERE id = ?`,
		d.Milliseconds(), time.Now().UnixMilli(), id)
	if err != nil {
		s.logErr(ctx, "add_user_time", err)
		return fmt.Errorf("add user time: %w", err)
	}
	return nil
}

// IncrementUserAttempts bumps the user's attempt counter by one.
func (s *SQLiteStore) IncrementUserAttempts(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET total_attempts = total_attempts + 1, updated_ms = ? WHERE id = ?`,
		time.Now().UnixMilli(), id)
	if err != nil {
		s.logErr(ctx, "increment_attempts", err)
		return fmt.Errorf("increment attempts: %w", err)
	}
	return nil
}

// ListUsers returns all non-admin users ordered by creation time.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE role = ? ORDER BY created_ms`, model.RoleUser)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*model.User
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CountUsers returns total and currently-online non-admin user counts.
func (s *SQLiteStore) CountUsers(ctx context.Context) (total, online int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(is_online), 0)
		FROM users WHERE role = ?`, model.RoleUser).Scan(&total, &online)
	if err != nil {
		return 0, 0, fmt.Errorf("count users: %w", err)
	}
	return total, online, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanUser(row rowScanner) (*model.User, error) {
	var (
		u                     model.User
		grades, solutions     string
		isOnline, isEval      int
		lastLogin, lastActive sql.NullInt64
		totalTimeMS           int64
		createdMS, updatedMS  int64
	)
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.ContactNumber,
		&u.SchoolName, &u.SchoolType, &u.State, &grades,
		&u.TeachingExperience, &u.EdtechExperience, &solutions,
		&u.Designation, &u.Role, &isOnline, &isEval, &u.CurrentStep,
		&lastLogin, &lastActive, &totalTimeMS, &u.TotalAttempts,
		&createdMS, &updatedMS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}

	u.ScienceGrades = unmarshalList(grades)
	u.EdtechSolutions = unmarshalList(solutions)
	u.IsOnline = isOnline != 0
	u.IsEvaluating = isEval != 0
	u.LastLoginAt = fromMS(lastLogin)
	u.LastActivityAt = fromMS(lastActive)
	u.TotalTimeSpent = time.Duration(totalTimeMS) * time.Millisecond
	u.CreatedAt = time.UnixMilli(createdMS)
	u.UpdatedAt = time.UnixMilli(updatedMS)
	return &u, nil
}
