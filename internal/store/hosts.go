package store

import (
	"context"
	"database/sql"
	"fmt"
)

// EnabledHosts returns all enabled hosts ordered by id.
func (s *Store) EnabledHosts(ctx context.Context) ([]Host, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain, url, enabled, rss, version, version_url, country,
		       connectivity, updated, account_age_average
		FROM host
		WHERE enabled = 1
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying enabled hosts: %w", err)
	}
	defer rows.Close()

	var hosts []Host
	for rows.Next() {
		h, err := scanHost(rows)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, rows.Err()
}

// HostByID returns a single host.
func (s *Store) HostByID(ctx context.Context, id int64) (Host, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, domain, url, enabled, rss, version, version_url, country,
		       connectivity, updated, account_age_average
		FROM host
		WHERE id = ?`, id)
	return scanHost(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHost(row rowScanner) (Host, error) {
	var (
		h            Host
		connectivity sql.NullInt64
	)
	err := row.Scan(&h.ID, &h.Domain, &h.URL, &h.Enabled, &h.RSS, &h.Version,
		&h.VersionURL, &h.Country, &connectivity, &h.Updated, &h.AccountAgeAverage)
	if err != nil {
		return Host{}, fmt.Errorf("scanning host row: %w", err)
	}
	if connectivity.Valid {
		c := Connectivity(connectivity.Int64)
		h.Connectivity = &c
	}
	return h, nil
}

// ReplaceInstanceList applies a list refresh in one transaction: enabled
// hosts missing from updates are disabled, every update is upserted on its
// domain. Returns the number of disabled hosts.
func (s *Store) ReplaceInstanceList(ctx context.Context, updates []HostUpdate, now int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting list refresh transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id, domain FROM host WHERE enabled = 1`)
	if err != nil {
		return 0, fmt.Errorf("querying enabled hosts: %w", err)
	}
	known := make(map[string]int64)
	for rows.Next() {
		var (
			id     int64
			domain string
		)
		if err := rows.Scan(&id, &domain); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning host row: %w", err)
		}
		known[domain] = id
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	present := make(map[string]struct{}, len(updates))
	for _, u := range updates {
		present[u.Domain] = struct{}{}
	}
	disabled := 0
	for domain, id := range known {
		if _, ok := present[domain]; ok {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE host SET enabled = 0, updated = ? WHERE id = ?`, now, id)
		if err != nil {
			return 0, fmt.Errorf("disabling host %s: %w", domain, err)
		}
		disabled++
	}

	for _, u := range updates {
		var connectivity *int64
		if u.Connectivity != nil {
			v := int64(*u.Connectivity)
			connectivity = &v
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO host (domain, url, enabled, rss, version, version_url,
			                  country, connectivity, updated)
			VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (domain) DO UPDATE SET
				enabled = 1,
				url = excluded.url,
				rss = excluded.rss,
				version = excluded.version,
				version_url = excluded.version_url,
				country = excluded.country,
				connectivity = excluded.connectivity,
				updated = excluded.updated`,
			u.Domain, u.URL, u.RSS, u.Version, u.VersionURL, u.Country,
			connectivity, now)
		if err != nil {
			return 0, fmt.Errorf("upserting host %s: %w", u.Domain, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing list refresh: %w", err)
	}
	return disabled, nil
}

// SetAccountAgeAverage stores the computed average account age timestamp.
func (s *Store) SetAccountAgeAverage(ctx context.Context, host int64, avg *int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE host SET account_age_average = ? WHERE id = ?`, avg, host)
	if err != nil {
		return fmt.Errorf("updating account age average: %w", err)
	}
	return nil
}
