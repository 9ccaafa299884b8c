package store

import (
	"context"
	"fmt"
)

// CleanupCheckErrors deletes, per host, every check error older than the
// retention most recent ones. Returns the number of deleted rows.
func (s *Store) CleanupCheckErrors(ctx context.Context, retention int) (int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM host`)
	if err != nil {
		return 0, fmt.Errorf("querying hosts for cleanup: %w", err)
	}
	var hosts []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning host id: %w", err)
		}
		hosts = append(hosts, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var deleted int64
	for _, host := range hosts {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM check_errors
			WHERE host = ? AND time NOT IN (
				SELECT time FROM check_errors
				WHERE host = ?
				ORDER BY time DESC
				LIMIT ?
			)`, host, host, retention)
		if err != nil {
			return deleted, fmt.Errorf("cleaning errors for host %d: %w", host, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	return deleted, nil
}
