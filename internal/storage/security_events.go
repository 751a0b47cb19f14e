package storage

import (
	"fmt"
	"time"
)

// SecurityEvent is a durable record of a rejected or dispatched command.
// Code is empty for commands that were dispatched successfully.
type SecurityEvent struct {
	ID         int64
	Transport  string
	RemoteAddr string
	Command    string
	Nonce      string
	Code       string
	Detail     string
	At         time.Time
}

// SaveAndPruneSecurityEvent inserts an event and prunes the oldest beyond
// maxRows in a single transaction. maxRows <= 0 disables pruning.
func (s *SQLiteStore) SaveAndPruneSecurityEvent(e *SecurityEvent, maxRows int) error {
	if e == nil {
		return fmt.Errorf("security event cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	const insertQuery = `
		INSERT INTO security_events (transport, remote_addr, command, nonce, code, detail, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	res, err := tx.Exec(insertQuery,
		e.Transport,
		e.RemoteAddr,
		e.Command,
		e.Nonce,
		e.Code,
		e.Detail,
		e.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}

	if maxRows > 0 {
		const pruneQuery = `
			DELETE FROM security_events
			WHERE id NOT IN (SELECT id FROM security_events ORDER BY id DESC LIMIT ?)
		`
		if _, err := tx.Exec(pruneQuery, maxRows); err != nil {
			return fmt.Errorf("prune security events: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit security event: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// EventFilter narrows ListSecurityEvents.
type EventFilter struct {
	// Limit caps the number of events returned. <= 0 returns all.
	Limit int

	// Code selects events with this code. "ok" selects successful dispatches.
	Code string
}

// ListSecurityEvents returns events newest first.
func (s *SQLiteStore) ListSecurityEvents(filter EventFilter) ([]*SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, transport, remote_addr, command, nonce, code, detail, at
		FROM security_events
	`
	var args []any
	switch filter.Code {
	case "":
	case "ok":
		query += " WHERE code = ''"
	default:
		query += " WHERE code = ?"
		args = append(args, filter.Code)
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	var events []*SecurityEvent
	for rows.Next() {
		var (
			e     SecurityEvent
			atStr string
		)
		if err := rows.Scan(&e.ID, &e.Transport, &e.RemoteAddr, &e.Command, &e.Nonce, &e.Code, &e.Detail, &atStr); err != nil {
			return nil, fmt.Errorf("scan security event row: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, atStr)
		if err != nil {
			return nil, fmt.Errorf("parse security event at: %w", err)
		}
		e.At = t
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security event rows: %w", err)
	}

	return events, nil
}

// CountSecurityEventsByCode returns event totals keyed by code.
// Successful dispatches are counted under "ok".
func (s *SQLiteStore) CountSecurityEventsByCode() (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT code, COUNT(*) FROM security_events GROUP BY code`)
	if err != nil {
		return nil, fmt.Errorf("count security events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			code string
			n    int
		)
		if err := rows.Scan(&code, &n); err != nil {
			return nil, fmt.Errorf("scan security event count: %w", err)
		}
		if code == "" {
			code = "ok"
		}
		counts[code] = n
	}
	return counts, rows.Err()
}
