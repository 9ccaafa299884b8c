package store

import (
	"context"
	"fmt"
)

// AppendLog records one admin action.
func (s *Store) AppendLog(ctx context.Context, entry LogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO log (user_host, host_affected, key, time, new_value)
		VALUES (?, ?, ?, ?, ?)`,
		entry.UserHost, entry.HostAffected, entry.Key, entry.Time, entry.NewValue)
	if err != nil {
		return fmt.Errorf("appending log entry: %w", err)
	}
	return nil
}

// LogsSince returns all audit entries with time >= since, newest first.
func (s *Store) LogsSince(ctx context.Context, since int64) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_host, host_affected, key, time, new_value
		FROM log
		WHERE time >= ?
		ORDER BY time DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("querying logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.UserHost, &e.HostAffected, &e.Key, &e.Time, &e.NewValue); err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
