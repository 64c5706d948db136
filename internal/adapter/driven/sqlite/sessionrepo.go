package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/demoforge/demoforge/internal/domain/model"
	"github.com/demoforge/demoforge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SessionStore = (*SessionRepo)(nil)

// SessionRepo is the SQLite implementation of the SessionStore port.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new SessionRepo backed by the given DB.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Create persists a new active session. Parameters are stored as a JSON object.
func (r *SessionRepo) Create(ctx context.Context, session model.Session) error {
	params, err := json.Marshal(orEmpty(session.Parameters))
	if err != nil {
		return fmt.Errorf("marshal session parameters: %w", err)
	}

	var expiresAt any
	if session.ExpiresAt != nil {
		expiresAt = formatTime(*session.ExpiresAt)
	}

	const query = `
		INSERT INTO sessions (id, email, scenario_id, status, expires_at, parameters)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err = r.db.Writer.ExecContext(ctx, query,
		session.ID, session.Email, session.ScenarioID, model.SessionStatusActive, expiresAt, string(params))
	if err != nil {
		return fmt.Errorf("create session %s: %w", session.ID, err)
	}
	return nil
}

// Get returns a session by id. Returns driven.ErrSessionNotFound if absent.
func (r *SessionRepo) Get(ctx context.Context, id string) (*model.Session, error) {
	const query = `
		SELECT id, email, scenario_id, status, created_at, expires_at, parameters
		FROM sessions WHERE id = ?`

	session, err := scanSession(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get session %s: %w", id, driven.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return session, nil
}

// ListByUser returns all sessions owned by the user, newest first.
func (r *SessionRepo) ListByUser(ctx context.Context, email string) ([]model.Session, error) {
	email = model.NormalizeEmail(email)

	const query = `
		SELECT id, email, scenario_id, status, created_at, expires_at, parameters
		FROM sessions WHERE email = ? ORDER BY created_at DESC, id DESC`
	rows, err := r.db.Reader.QueryContext(ctx, query, email)
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", email, err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// FinalizeDeleted marks every active session with no remaining active or
// delete_pending resources as deleted. A single statement so concurrent
// pipeline registrations cannot interleave with the status check.
func (r *SessionRepo) FinalizeDeleted(ctx context.Context) (int64, error) {
	const query = `
		UPDATE sessions SET status = 'deleted'
		WHERE status = 'active'
		AND NOT EXISTS (
			SELECT 1 FROM resources
			WHERE resources.session_id = sessions.id
			AND resources.status IN ('active', 'delete_pending')
		)
		AND EXISTS (SELECT 1 FROM resources WHERE resources.session_id = sessions.id)`
	result, err := r.db.Writer.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("finalize sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("finalize sessions rows affected: %w", err)
	}
	return n, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(s scanner) (*model.Session, error) {
	var (
		session   model.Session
		createdAt string
		expiresAt sql.NullString
		params    string
	)
	err := s.Scan(&session.ID, &session.Email, &session.ScenarioID, &session.Status, &createdAt, &expiresAt, &params)
	if err != nil {
		return nil, err
	}

	session.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if expiresAt.Valid {
		t, err := parseTime(expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse expires_at: %w", err)
		}
		session.ExpiresAt = &t
	}
	if err := json.Unmarshal([]byte(params), &session.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshal parameters: %w", err)
	}

	return &session, nil
}

// orEmpty guards json.Marshal against nil maps so the column always holds an object.
func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// formatTime renders a timestamp the way this package stores it: UTC RFC3339
// seconds. Lexicographic comparison in SQL then matches chronological order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// parseTime tries multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
