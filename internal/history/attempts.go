package history

import (
	"context"
	"fmt"
	"time"

	"github.com/nexuslearn/nexuslink/internal/popup"
)

// Entry is one recorded attempt.
type Entry struct {
	ID        int64         `json:"id"`
	AttemptID string        `json:"attempt_id,omitempty"`
	Status    popup.Status  `json:"-"`
	Reason    string        `json:"reason"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"-"`

	StatusName string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
}

// Stats summarizes recorded attempts.
type Stats struct {
	Total       int
	ByStatus    map[popup.Status]int
	LastSuccess time.Time
}

// Record stores a terminal result.
func (s *Store) Record(ctx context.Context, res popup.Result) error {
	if s == nil || s.conn == nil {
		return fmt.Errorf("history store is closed")
	}
	if !res.Status.Terminal() {
		return fmt.Errorf("record %s result: not terminal", res.Status)
	}

	_, err := s.conn.ExecContext(ctx, `
INSERT INTO link_attempts (attempt_id, status, reason, started_at, ended_at, duration_ms)
VALUES (?, ?, ?, ?, ?, ?)`,
		res.AttemptID,
		res.Status.String(),
		res.Reason,
		res.StartedAt.UnixMilli(),
		res.EndedAt.UnixMilli(),
		res.Duration().Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// List returns up to limit entries, most recent first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil || s.conn == nil {
		return nil, fmt.Errorf("history store is closed")
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.conn.QueryContext(ctx, `
SELECT id, attempt_id, status, reason, started_at, ended_at, duration_ms
FROM link_attempts
ORDER BY ended_at DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                  Entry
			startedMS, endedMS int64
		)
		if err := rows.Scan(&e.ID, &e.AttemptID, &e.StatusName, &e.Reason, &startedMS, &endedMS, &e.DurationMS); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		e.Status, _ = popup.ParseStatus(e.StatusName)
		e.StartedAt = time.UnixMilli(startedMS).UTC()
		e.EndedAt = time.UnixMilli(endedMS).UTC()
		e.Duration = time.Duration(e.DurationMS) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return entries, nil
}

// Stats counts recorded attempts per status.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByStatus: make(map[popup.Status]int)}
	if s == nil || s.conn == nil {
		return stats, fmt.Errorf("history store is closed")
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM link_attempts GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name  string
			count int
		)
		if err := rows.Scan(&name, &count); err != nil {
			return stats, fmt.Errorf("scan stats: %w", err)
		}
		status, ok := popup.ParseStatus(name)
		if !ok {
			continue
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("iterate stats: %w", err)
	}

	var lastMS *int64
	if err := s.conn.QueryRowContext(ctx,
		`SELECT MAX(ended_at) FROM link_attempts WHERE status = ?`,
		popup.StatusSucceeded.String(),
	).Scan(&lastMS); err != nil {
		return stats, fmt.Errorf("query last success: %w", err)
	}
	if lastMS != nil {
		stats.LastSuccess = time.UnixMilli(*lastMS).UTC()
	}
	return stats, nil
}
