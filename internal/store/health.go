package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const recentCheckTimeFormat = "2006.01.02 15:04"

// InsertHealthCheck appends one probe result.
func (s *Store) InsertHealthCheck(ctx context.Context, hc HealthCheck) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO health_check (host, time, resp_time, healthy, response_code)
		VALUES (?, ?, ?, ?, ?)`,
		hc.Host, hc.Time, hc.RespTime, hc.Healthy, hc.ResponseCode)
	if err != nil {
		return fmt.Errorf("inserting health check for host %d: %w", hc.Host, err)
	}
	return nil
}

// InsertCheckError appends one probe error.
func (s *Store) InsertCheckError(ctx context.Context, ce CheckError) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO check_errors (host, time, message, http_body, http_status)
		VALUES (?, ?, ?, ?, ?)`,
		ce.Host, ce.Time, ce.Message, ce.HTTPBody, ce.HTTPStatus)
	if err != nil {
		return fmt.Errorf("inserting check error for host %d: %w", ce.Host, err)
	}
	return nil
}

// LatestCheckPerHost returns the newest health row for every enabled host.
func (s *Store) LatestCheckPerHost(ctx context.Context) ([]LatestCheck, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH latest AS (
			SELECT u.host, MAX(u.time) AS time FROM health_check u
			GROUP BY u.host
		)
		SELECT u.host, u.healthy, h.domain FROM health_check u
		JOIN host h ON h.id = u.host
		JOIN latest l ON l.host = u.host AND l.time = u.time
		WHERE h.enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("querying latest checks: %w", err)
	}
	defer rows.Close()

	var checks []LatestCheck
	for rows.Next() {
		var c LatestCheck
		if err := rows.Scan(&c.Host, &c.Healthy, &c.Domain); err != nil {
			return nil, fmt.Errorf("scanning latest check: %w", err)
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// LastEntryTime returns MAX(time) of the given table, zero on an empty table.
func (s *Store) LastEntryTime(ctx context.Context, table string) (int64, error) {
	switch table {
	case "health_check", "instance_stats":
	default:
		return 0, fmt.Errorf("unsupported table %q", table)
	}
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT MAX(time) FROM %s", table)).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("querying last entry time of %s: %w", table, err)
	}
	return max.Int64, nil
}

// WindowStatsRange returns healthy/total counts per enabled host for health
// checks with time in [from, to].
func (s *Store) WindowStatsRange(ctx context.Context, from, to int64) (map[int64]WindowStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.host,
		       COUNT(CASE WHEN u.healthy = 1 THEN 1 END) AS good,
		       COUNT(*) AS total
		FROM health_check u
		JOIN host h ON h.id = u.host
		WHERE h.enabled = 1 AND u.time BETWEEN ? AND ?
		GROUP BY u.host`, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying window stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[int64]WindowStats)
	for rows.Next() {
		var (
			host int64
			ws   WindowStats
		)
		if err := rows.Scan(&host, &ws.Good, &ws.Total); err != nil {
			return nil, fmt.Errorf("scanning window stats: %w", err)
		}
		stats[host] = ws
	}
	return stats, rows.Err()
}

// LastHealthy returns the newest healthy check time per enabled host.
func (s *Store) LastHealthy(ctx context.Context) (map[int64]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.host, MAX(u.time) AS time FROM health_check u
		JOIN host h ON h.id = u.host
		WHERE h.enabled = 1 AND u.healthy = 1
		GROUP BY u.host`)
	if err != nil {
		return nil, fmt.Errorf("querying last healthy times: %w", err)
	}
	defer rows.Close()

	times := make(map[int64]int64)
	for rows.Next() {
		var host, t int64
		if err := rows.Scan(&host, &t); err != nil {
			return nil, fmt.Errorf("scanning last healthy time: %w", err)
		}
		times[host] = t
	}
	return times, rows.Err()
}

// HealthyPercentages returns round(100*avg(healthy)) per enabled host over
// all history.
func (s *Store) HealthyPercentages(ctx context.Context) (map[int64]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.host, CAST(ROUND(AVG(u.healthy) * 100) AS INT) AS healthy
		FROM health_check u
		JOIN host h ON h.id = u.host
		WHERE h.enabled = 1
		GROUP BY u.host`)
	if err != nil {
		return nil, fmt.Errorf("querying healthy percentages: %w", err)
	}
	defer rows.Close()

	percentages := make(map[int64]int)
	for rows.Next() {
		var (
			host    int64
			percent int
		)
		if err := rows.Scan(&host, &percent); err != nil {
			return nil, fmt.Errorf("scanning healthy percentage: %w", err)
		}
		percentages[host] = percent
	}
	return percentages, rows.Err()
}

// VersionPoints ranks all versions observed in health checks since the given
// time, 1-based ascending, normalized to (0, 1].
func (s *Store) VersionPoints(ctx context.Context, since int64) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version FROM host h
		JOIN health_check u ON u.host = h.id
		WHERE h.enabled = 1 AND u.time >= ? AND version IS NOT NULL
		GROUP BY version
		ORDER BY version ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("querying versions: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	points := make(map[string]float64, len(versions))
	perLevel := 1.0 / float64(len(versions))
	for i, v := range versions {
		points[v] = float64(i+1) * perLevel
	}
	return points, nil
}

// Pings builds the per-host ping rollup for all checks since the given time
// in a single pass over one (host, time) ordered query. Unhealthy checks
// contribute a null ping.
func (s *Store) Pings(ctx context.Context, since int64) (map[int64]PingSeries, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.host, (CASE u.healthy WHEN 1 THEN u.resp_time ELSE NULL END) AS ping
		FROM health_check u
		JOIN host h ON h.id = u.host
		WHERE h.enabled = 1 AND u.time >= ?
		ORDER BY u.host, u.time ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("querying pings: %w", err)
	}
	defer rows.Close()

	series := make(map[int64]PingSeries)
	var (
		current  PingSeries
		lastHost int64
		nonNull  int64
		sum      int64
		started  bool
	)
	flush := func() {
		if nonNull > 0 {
			avg := sum / nonNull
			current.Avg = &avg
		}
		series[lastHost] = current
	}
	for rows.Next() {
		var (
			host int64
			ping *int64
		)
		if err := rows.Scan(&host, &ping); err != nil {
			return nil, fmt.Errorf("scanning ping: %w", err)
		}
		if started && host != lastHost {
			flush()
			current = PingSeries{}
			nonNull, sum = 0, 0
		}
		started = true
		lastHost = host
		if ping != nil {
			sum += *ping
			nonNull++
			if current.Min == nil || *ping < *current.Min {
				v := *ping
				current.Min = &v
			}
			if current.Max == nil || *ping > *current.Max {
				v := *ping
				current.Max = &v
			}
		}
		current.Pings = append(current.Pings, ping)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if started {
		flush()
	}
	return series, nil
}

// RecentChecks returns the latest amount health rows of a host, ascending in
// time, with formatted timestamps.
func (s *Store) RecentChecks(ctx context.Context, host int64, amount int) ([]RecentCheck, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.healthy, u.time FROM health_check u
		JOIN host h ON h.id = u.host
		WHERE h.enabled = 1 AND u.host = ?
		ORDER BY u.time DESC
		LIMIT ?`, host, amount)
	if err != nil {
		return nil, fmt.Errorf("querying recent checks: %w", err)
	}
	defer rows.Close()

	var checks []RecentCheck
	for rows.Next() {
		var (
			healthy bool
			t       int64
		)
		if err := rows.Scan(&healthy, &t); err != nil {
			return nil, fmt.Errorf("scanning recent check: %w", err)
		}
		checks = append(checks, RecentCheck{
			Time:    time.Unix(t, 0).UTC().Format(recentCheckTimeFormat),
			Healthy: healthy,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// query runs newest first, the strip renders oldest first
	for i, j := 0, len(checks)-1; i < j; i, j = i+1, j-1 {
		checks[i], checks[j] = checks[j], checks[i]
	}
	return checks, nil
}

// LatestHealthRows returns the newest amount health rows for one host,
// newest first. Used by the down-streak alert rule.
func (s *Store) LatestHealthRows(ctx context.Context, host int64, amount int) ([]HealthCheck, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT host, time, resp_time, healthy, response_code
		FROM health_check
		WHERE host = ?
		ORDER BY time DESC
		LIMIT ?`, host, amount)
	if err != nil {
		return nil, fmt.Errorf("querying latest health rows: %w", err)
	}
	defer rows.Close()

	var checks []HealthCheck
	for rows.Next() {
		var hc HealthCheck
		if err := rows.Scan(&hc.Host, &hc.Time, &hc.RespTime, &hc.Healthy, &hc.ResponseCode); err != nil {
			return nil, fmt.Errorf("scanning health row: %w", err)
		}
		checks = append(checks, hc)
	}
	return checks, rows.Err()
}

// HealthGraphPoint is one sample of the health CSV graph.
type HealthGraphPoint struct {
	Time    int64
	Healthy int64
	Dead    int64
}

// HealthGraph counts healthy and dead checks per probe timestamp.
func (s *Store) HealthGraph(ctx context.Context) ([]HealthGraphPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT time,
		       COUNT(CASE WHEN healthy = 1 THEN 1 END) AS healthy,
		       COUNT(CASE WHEN healthy = 0 THEN 1 END) AS dead
		FROM health_check
		GROUP BY time
		ORDER BY time ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying health graph: %w", err)
	}
	defer rows.Close()

	var points []HealthGraphPoint
	for rows.Next() {
		var p HealthGraphPoint
		if err := rows.Scan(&p.Time, &p.Healthy, &p.Dead); err != nil {
			return nil, fmt.Errorf("scanning health graph point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
