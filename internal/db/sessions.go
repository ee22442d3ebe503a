package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is one run of the acquisition loop against a port.
type Session struct {
	ID        string     `json:"id"`
	Port      string     `json:"port"`
	Firmware  string     `json:"firmware,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}

// StartSession records a new session and returns it with a fresh ID.
func (db *DB) StartSession(port, firmware string, at time.Time) (Session, error) {
	s := Session{
		ID:        uuid.NewString(),
		Port:      port,
		Firmware:  firmware,
		StartedAt: at.UTC(),
	}
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, port, firmware, started_unix_nanos) VALUES (?, ?, ?, ?)`,
		s.ID, s.Port, s.Firmware, at.UnixNano(),
	)
	if err != nil {
		return Session{}, fmt.Errorf("failed to start session: %w", err)
	}
	return s, nil
}

// EndSession marks the session stopped at the given time.
func (db *DB) EndSession(id string, at time.Time) error {
	res, err := db.Exec(
		`UPDATE sessions SET stopped_unix_nanos = ? WHERE session_id = ?`,
		at.UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to end session %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// GetSession returns the session with the given ID.
func (db *DB) GetSession(id string) (Session, error) {
	row := db.QueryRow(
		`SELECT session_id, port, firmware, started_unix_nanos, stopped_unix_nanos
		FROM sessions WHERE session_id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, err
}

// ListSessions returns up to limit sessions, newest first.
func (db *DB) ListSessions(limit int) ([]Session, error) {
	rows, err := db.Query(
		`SELECT session_id, port, firmware, started_unix_nanos, stopped_unix_nanos
		FROM sessions ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	var started int64
	var stopped sql.NullInt64
	if err := row.Scan(&s.ID, &s.Port, &s.Firmware, &started, &stopped); err != nil {
		return Session{}, err
	}
	s.StartedAt = time.Unix(0, started).UTC()
	if stopped.Valid {
		t := time.Unix(0, stopped.Int64).UTC()
		s.StoppedAt = &t
	}
	return s, nil
}
