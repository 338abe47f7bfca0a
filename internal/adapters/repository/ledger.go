package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/selectedu/select/internal/domain/model"
)

const ledgerColumns = `id, user_id, session_token, login_ms, logout_ms,
	duration_ms, is_active, ip_address, user_agent, activity_type, created_ms`

// RecordLogin marks the user online and stamps the login and activity times.
func (s *SQLiteStore) RecordLogin(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_online = 1, last_login_ms = ?, last_activity_ms = ?, updated_ms = ?
		WHERE id = ?`,
		at.UnixMilli(), at.UnixMilli(), time.Now().UnixMilli(), id)
	if err != nil {
		s.logErr(ctx, "record_login", err)
		return fmt.Errorf("record login: %w", err)
	}
	return nil
}

// OpenLedgerEntry inserts an active login entry.
func (s *SQLiteStore) OpenLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.ActivityType == "" {
		e.ActivityType = "login"
	}
	e.IsActive = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_activities (`+ledgerColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.UserID, e.SessionToken, toMS(e.LoginAt), toMS(e.LogoutAt),
		e.Duration.Milliseconds(), boolInt(e.IsActive), e.IPAddress,
		e.UserAgent, e.ActivityType, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		s.logErr(ctx, "open_ledger", err)
		return fmt.Errorf("open ledger entry: %w", err)
	}
	return nil
}

// CloseLedgerEntry closes the active entry matching the session token,
// computing its duration. Without a token match it falls back to the user's
// most recent active entry.
func (s *SQLiteStore) CloseLedgerEntry(ctx context.Context, userID, sessionToken string, logoutAt time.Time) (*model.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ledgerColumns+` FROM user_activities
		WHERE user_id = ? AND is_active = 1 AND (session_token = ? OR ? = '')
		ORDER BY created_ms DESC LIMIT 1`,
		userID, sessionToken, sessionToken)
	e, err := scanLedger(row)
	if err != nil {
		return nil, err
	}

	e.LogoutAt = logoutAt
	e.IsActive = false
	if !e.LoginAt.IsZero() && logoutAt.After(e.LoginAt) {
		e.Duration = logoutAt.Sub(e.LoginAt)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE user_activities SET logout_ms = ?, duration_ms = ?, is_active = 0
		WHERE id = ?`,
		logoutAt.UnixMilli(), e.Duration.Milliseconds(), e.ID)
	if err != nil {
		s.logErr(ctx, "close_ledger", err)
		return nil, fmt.Errorf("close ledger entry: %w", err)
	}
	return e, nil
}

// AppendLogout records a bare logout marker. Used when a socket-level logout
// arrives without a matching active entry to close.
func (s *SQLiteStore) AppendLogout(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_activities (id, user_id, logout_ms, activity_type, created_ms)
		VALUES (?,?,?,?,?)`,
		uuid.NewString(), userID, at.UnixMilli(), "logout", time.Now().UnixMilli())
	if err != nil {
		s.logErr(ctx, "append_logout", err)
		return fmt.Errorf("append logout: %w", err)
	}
	return nil
}

// AppendExport records an export_results ledger marker tied to a session.
func (s *SQLiteStore) AppendExport(ctx context.Context, userID, sessionID, exportType string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_activities (id, user_id, session_token, user_agent, activity_type, created_ms)
		VALUES (?,?,?,?,?,?)`,
		uuid.NewString(), userID, sessionID, exportType, "export_results", at.UnixMilli())
	if err != nil {
		s.logErr(ctx, "append_export", err)
		return fmt.Errorf("append export: %w", err)
	}
	return nil
}

// LatestLedgerEntry returns the user's most recent login-type entry.
func (s *SQLiteStore) LatestLedgerEntry(ctx context.Context, userID string) (*model.LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ledgerColumns+` FROM user_activities
		WHERE user_id = ? AND activity_type = 'login'
		ORDER BY created_ms DESC LIMIT 1`, userID)
	return scanLedger(row)
}

func scanLedger(row rowScanner) (*model.LedgerEntry, error) {
	var (
		e                 model.LedgerEntry
		loginMS, logoutMS sql.NullInt64
		durationMS        int64
		isActive          int
		createdMS         int64
	)
	err := row.Scan(&e.ID, &e.UserID, &e.SessionToken, &loginMS, &logoutMS,
		&durationMS, &isActive, &e.IPAddress, &e.UserAgent, &e.ActivityType, &createdMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}
	e.LoginAt = fromMS(loginMS)
	e.LogoutAt = fromMS(logoutMS)
	e.Duration = time.Duration(durationMS) * time.Millisecond
	e.IsActive = isActive != 0
	e.CreatedAt = time.UnixMilli(createdMS)
	return &e, nil
}
