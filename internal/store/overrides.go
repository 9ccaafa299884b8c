package store

import (
	"context"
	"fmt"
)

// Overrides loads all host overrides keyed by host id.
func (s *Store) Overrides(ctx context.Context) (map[int64]map[string]Override, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT host, key, locked, value FROM host_overrides`)
	if err != nil {
		return nil, fmt.Errorf("querying host overrides: %w", err)
	}
	defer rows.Close()

	overrides := make(map[int64]map[string]Override)
	for rows.Next() {
		var (
			host int64
			key  string
			o    Override
		)
		if err := rows.Scan(&host, &key, &o.Locked, &o.Value); err != nil {
			return nil, fmt.Errorf("scanning override: %w", err)
		}
		if overrides[host] == nil {
			overrides[host] = make(map[string]Override)
		}
		overrides[host][key] = o
	}
	return overrides, rows.Err()
}

// BadHosts returns the ids of hosts flagged with the bad_host override.
func (s *Store) BadHosts(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT host FROM host_overrides WHERE key = ? AND value = ?`,
		KeyBadHost, ValBoolTrue)
	if err != nil {
		return nil, fmt.Errorf("querying bad hosts: %w", err)
	}
	defer rows.Close()

	bad := make(map[int64]struct{})
	for rows.Next() {
		var host int64
		if err := rows.Scan(&host); err != nil {
			return nil, fmt.Errorf("scanning bad host: %w", err)
		}
		bad[host] = struct{}{}
	}
	return bad, rows.Err()
}

// SetOverride upserts one override value unless the existing row is locked.
func (s *Store) SetOverride(ctx context.Context, host int64, key string, value *string, locked bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO host_overrides (host, key, locked, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (host, key) DO UPDATE SET
			value = excluded.value,
			locked = excluded.locked
		WHERE host_overrides.locked = 0`,
		host, key, locked, value)
	if err != nil {
		return fmt.Errorf("setting override %s for host %d: %w", key, host, err)
	}
	return nil
}
