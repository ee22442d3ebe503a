package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/cyton.report/internal/cyton"
)

// StoredReading is a reading as persisted, with its session and arrival time.
type StoredReading struct {
	ID         int64         `json:"id"`
	SessionID  string        `json:"session_id"`
	RecordedAt time.Time     `json:"recorded_at"`
	Reading    cyton.Reading `json:"reading"`
}

// TimedReading pairs a reading with the time it was received.
type TimedReading struct {
	At      time.Time
	Reading cyton.Reading
}

var readingColumns = func() string {
	cols := []string{"sample_odd", "sample_even"}
	for i := 1; i <= cyton.ChannelCount; i++ {
		cols = append(cols, fmt.Sprintf("chan_%d", i))
	}
	cols = append(cols, "acc_x", "acc_y", "acc_z")
	return strings.Join(cols, ", ")
}()

var insertReadingSQL = fmt.Sprintf(
	`INSERT INTO readings (session_id, recorded_unix_nanos, %s) VALUES (?, ?%s)`,
	readingColumns, strings.Repeat(", ?", 2+cyton.ChannelCount+3),
)

func readingArgs(sessionID string, at time.Time, r cyton.Reading) []any {
	args := make([]any, 0, 4+cyton.ChannelCount+3)
	args = append(args, sessionID, at.UnixNano(), r.SampleNumbers[0], r.SampleNumbers[1])
	for _, v := range r.Channels {
		args = append(args, v)
	}
	return append(args, r.AccX, r.AccY, r.AccZ)
}

// RecordReading stores a single reading.
func (db *DB) RecordReading(sessionID string, at time.Time, r cyton.Reading) error {
	if _, err := db.Exec(insertReadingSQL, readingArgs(sessionID, at, r)...); err != nil {
		return fmt.Errorf("failed to record reading: %w", err)
	}
	return nil
}

// RecordReadings stores a batch of readings in one transaction.
func (db *DB) RecordReadings(sessionID string, batch []TimedReading) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertReadingSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, tr := range batch {
		if _, err := stmt.Exec(readingArgs(sessionID, tr.At, tr.Reading)...); err != nil {
			return fmt.Errorf("failed to record reading: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit readings: %w", err)
	}
	return nil
}

// RecentReadings returns up to limit of the newest readings across all
// sessions, oldest first. A sessionID narrows the query to one session.
func (db *DB) RecentReadings(sessionID string, limit int) ([]StoredReading, error) {
	query := fmt.Sprintf(`SELECT reading_id, session_id, recorded_unix_nanos, %s FROM readings`, readingColumns)
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY reading_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var out []StoredReading
	for rows.Next() {
		var sr StoredReading
		var at int64
		r := &sr.Reading
		dest := []any{&sr.ID, &sr.SessionID, &at, &r.SampleNumbers[0], &r.SampleNumbers[1]}
		for i := range r.Channels {
			dest = append(dest, &r.Channels[i])
		}
		dest = append(dest, &r.AccX, &r.AccY, &r.AccZ)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		sr.RecordedAt = time.Unix(0, at).UTC()
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ReadingCount returns the number of readings stored for a session, or for
// all sessions when sessionID is empty.
func (db *DB) ReadingCount(sessionID string) (int64, error) {
	var n int64
	var err error
	if sessionID == "" {
		err = db.QueryRow(`SELECT COUNT(*) FROM readings`).Scan(&n)
	} else {
		err = db.QueryRow(`SELECT COUNT(*) FROM readings WHERE session_id = ?`, sessionID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count readings: %w", err)
	}
	return n, nil
}
