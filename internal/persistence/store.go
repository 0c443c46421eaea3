// Package persistence is the durable, append-only record of every
// competition run: sessions, trades, daily asset curves, holdings
// snapshots, agent narration logs, reflections and principles. It is
// written on the same callback path that updates internal/memstore but,
// unlike memstore, survives a restart and is the only source resume and
// internal/recovery read from.
package persistence

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/arena-engine/internal/database"
	"github.com/aristath/arena-engine/internal/domain"
)

// Store wraps the arena database with one repository method per table.
type Store struct {
	db *database.DB
}

// New wraps an already-open, already-migrated arena database.
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// CreateSession inserts a new session row with the status carried by sess.
func (s *Store) CreateSession(sess domain.Session, configJSON string) error {
	_, err := s.db.Exec(`
		INSERT INTO arena_sessions
			(session_id, start_date, end_date, current_date, initial_capital, status, created_at, updated_at, config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.StartDate, sess.EndDate, sess.CurrentDate, sess.InitialCapital,
		string(sess.Status), sess.CreatedAt.Format(timeFormat), sess.UpdatedAt.Format(timeFormat), configJSON,
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", sess.ID, err)
	}
	return nil
}

// UpdateSessionProgress advances current_date for an in-progress session.
func (s *Store) UpdateSessionProgress(sessionID, currentDate, updatedAt string) error {
	_, err := s.db.Exec(`UPDATE arena_sessions SET current_date = ?, updated_at = ? WHERE session_id = ?`,
		currentDate, updatedAt, sessionID)
	if err != nil {
		return fmt.Errorf("update session progress %s: %w", sessionID, err)
	}
	return nil
}

// CompleteSession marks a session finished.
func (s *Store) CompleteSession(sessionID, updatedAt string) error {
	_, err := s.db.Exec(`UPDATE arena_sessions SET status = ?, updated_at = ? WHERE session_id = ?`,
		string(domain.SessionCompleted), updatedAt, sessionID)
	if err != nil {
		return fmt.Errorf("complete session %s: %w", sessionID, err)
	}
	return nil
}

// AbortSession marks a session aborted, e.g. after an unrecoverable node failure.
func (s *Store) AbortSession(sessionID, updatedAt string) error {
	_, err := s.db.Exec(`UPDATE arena_sessions SET status = ?, updated_at = ? WHERE session_id = ?`,
		string(domain.SessionAborted), updatedAt, sessionID)
	if err != nil {
		return fmt.Errorf("abort session %s: %w", sessionID, err)
	}
	return nil
}

// sessionRow mirrors the arena_sessions columns for scanning.
type sessionRow struct {
	SessionID      string
	StartDate      string
	EndDate        string
	CurrentDate    sql.NullString
	InitialCapital float64
	Status         string
	CreatedAt      string
	UpdatedAt      string
}

func scanSession(row interface{ Scan(...interface{}) error }) (domain.Session, error) {
	var r sessionRow
	if err := row.Scan(&r.SessionID, &r.StartDate, &r.EndDate, &r.CurrentDate, &r.InitialCapital,
		&r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return domain.Session{}, err
	}
	return sessionRowToDomain(r), nil
}

func sessionRowToDomain(r sessionRow) domain.Session {
	sess := domain.Session{
		ID:             r.SessionID,
		StartDate:      r.StartDate,
		EndDate:        r.EndDate,
		CurrentDate:    r.CurrentDate.String,
		InitialCapital: r.InitialCapital,
		Status:         domain.SessionStatus(r.Status),
	}
	sess.CreatedAt = parseTime(r.CreatedAt)
	sess.UpdatedAt = parseTime(r.UpdatedAt)
	return sess
}

// LatestUnfinishedSession returns the most recent running session, or the
// most recent completed session if its daily asset data shows it actually
// stopped short of end_date (a forced shutdown mid-run).
func (s *Store) LatestUnfinishedSession() (*domain.Session, error) {
	row := s.db.QueryRow(`
		SELECT session_id, start_date, end_date, current_date, initial_capital, status, created_at, updated_at
		FROM arena_sessions WHERE status = ? ORDER BY created_at DESC LIMIT 1`, string(domain.SessionRunning))
	sess, err := scanSession(row)
	if err == nil {
		return &sess, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("query running session: %w", err)
	}

	row = s.db.QueryRow(`
		SELECT session_id, start_date, end_date, current_date, initial_capital, status, created_at, updated_at
		FROM arena_sessions WHERE status = ? ORDER BY created_at DESC LIMIT 1`, string(domain.SessionCompleted))
	sess, err = scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query completed session: %w", err)
	}

	latest, err := s.LatestTradeDate(sess.ID)
	if err != nil {
		return nil, err
	}
	if latest != "" && latest < sess.EndDate {
		sess.Status = domain.SessionRunning
		sess.CurrentDate = latest
		if _, err := s.db.Exec(`UPDATE arena_sessions SET status = ?, current_date = ? WHERE session_id = ?`,
			string(domain.SessionRunning), latest, sess.ID); err != nil {
			return nil, fmt.Errorf("reopen session %s: %w", sess.ID, err)
		}
		return &sess, nil
	}
	return nil, nil
}

// GetSession loads one session by ID.
func (s *Store) GetSession(sessionID string) (*domain.Session, error) {
	row := s.db.QueryRow(`
		SELECT session_id, start_date, end_date, current_date, initial_capital, status, created_at, updated_at
		FROM arena_sessions WHERE session_id = ?`, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *Store) ListSessions(limit int) ([]domain.Session, error) {
	rows, err := s.db.Query(`
		SELECT session_id, start_date, end_date, current_date, initial_capital, status, created_at, updated_at
		FROM arena_sessions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// LatestTradeDate returns the most recent trade_date recorded in the daily
// asset curve for a session, or "" if none.
func (s *Store) LatestTradeDate(sessionID string) (string, error) {
	var latest sql.NullString
	err := s.db.QueryRow(`SELECT MAX(trade_date) FROM arena_daily_assets WHERE session_id = ?`, sessionID).Scan(&latest)
	if err != nil {
		return "", fmt.Errorf("latest trade date %s: %w", sessionID, err)
	}
	return latest.String, nil
}

const timeFormat = time.RFC3339Nano

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}
