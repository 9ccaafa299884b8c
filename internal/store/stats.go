package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// InsertInstanceStats bulk-inserts one sweep's samples in a transaction.
func (s *Store) InsertInstanceStats(ctx context.Context, stats []InstanceStats) error {
	if len(stats) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting stats transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO instance_stats (host, time, limited_accs, total_accs, total_requests)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing stats insert: %w", err)
	}
	defer stmt.Close()

	for _, st := range stats {
		if _, err := stmt.ExecContext(ctx, st.Host, st.Time, st.LimitedAccs,
			st.TotalAccs, st.TotalRequests); err != nil {
			return fmt.Errorf("inserting stats for host %d: %w", st.Host, err)
		}
	}
	return tx.Commit()
}

// StatsAt returns the stats sample of a host at an exact timestamp.
func (s *Store) StatsAt(ctx context.Context, host, time int64) (*InstanceStats, error) {
	var st InstanceStats
	err := s.db.QueryRowContext(ctx, `
		SELECT host, time, limited_accs, total_accs, total_requests
		FROM instance_stats
		WHERE host = ? AND time = ?`, host, time).
		Scan(&st.Host, &st.Time, &st.LimitedAccs, &st.TotalAccs, &st.TotalRequests)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying stats for host %d: %w", host, err)
	}
	return &st, nil
}

// StatsGraphPoint is one sample of the stats CSV graph, int-averaged across
// hosts per sweep timestamp.
type StatsGraphPoint struct {
	Time        int64
	TokensAvg   int64
	LimitedAvg  int64
	RequestsAvg int64
}

// StatsGraph averages token and request counts across hosts per timestamp.
func (s *Store) StatsGraph(ctx context.Context) ([]StatsGraphPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT time,
		       CAST(AVG(total_accs) AS INT),
		       CAST(AVG(limited_accs) AS INT),
		       CAST(AVG(total_requests) AS INT)
		FROM instance_stats
		GROUP BY time
		ORDER BY time ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying stats graph: %w", err)
	}
	defer rows.Close()

	var points []StatsGraphPoint
	for rows.Next() {
		var p StatsGraphPoint
		if err := rows.Scan(&p.Time, &p.TokensAvg, &p.LimitedAvg, &p.RequestsAvg); err != nil {
			return nil, fmt.Errorf("scanning stats graph point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
