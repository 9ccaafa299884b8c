package store

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
)

// Alert rule bounds enforced on config mutation.
var ErrAlertConfigBounds = errors.New("alert config value out of bounds")

// Validate enforces the form-validation bounds on every set rule value.
func (c AlertConfig) Validate() error {
	if c.AliveAccsMinPercent != nil &&
		(*c.AliveAccsMinPercent < 0 || *c.AliveAccsMinPercent > 50) {
		return fmt.Errorf("%w: alive_accs_min_percent must be within [0, 50]", ErrAlertConfigBounds)
	}
	if c.AliveAccsMinThreshold != nil && *c.AliveAccsMinThreshold > 10000 {
		return fmt.Errorf("%w: alive_accs_min_threshold must be at most 10000", ErrAlertConfigBounds)
	}
	if c.AvgAccountAgeDays != nil && *c.AvgAccountAgeDays < 20 {
		return fmt.Errorf("%w: avg_account_age_days must be at least 20", ErrAlertConfigBounds)
	}
	if c.HostDownAmount != nil && *c.HostDownAmount < 3 {
		return fmt.Errorf("%w: host_down_amount must be at least 3", ErrAlertConfigBounds)
	}
	return nil
}

// MailBindings returns all host mail bindings.
func (s *Store) MailBindings(ctx context.Context) ([]InstanceMail, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT host, mail, verified FROM instance_mail`)
	if err != nil {
		return nil, fmt.Errorf("querying mail bindings: %w", err)
	}
	defer rows.Close()

	var bindings []InstanceMail
	for rows.Next() {
		var b InstanceMail
		if err := rows.Scan(&b.Host, &b.Mail, &b.Verified); err != nil {
			return nil, fmt.Errorf("scanning mail binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

// AlertConfigs returns all per-host alert rule configurations keyed by host.
func (s *Store) AlertConfigs(ctx context.Context) (map[int64]AlertConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT host, host_down_amount, host_down_amount_enable,
		       alive_accs_min_threshold, alive_accs_min_threshold_enable,
		       alive_accs_min_percent, alive_accs_min_percent_enable,
		       avg_account_age_days, avg_account_age_days_enable
		FROM instance_alerts`)
	if err != nil {
		return nil, fmt.Errorf("querying alert configs: %w", err)
	}
	defer rows.Close()

	configs := make(map[int64]AlertConfig)
	for rows.Next() {
		var (
			c                                                  AlertConfig
			downEnable, thresholdEnable, pctEnable, ageEnable sql.NullBool
		)
		err := rows.Scan(&c.Host, &c.HostDownAmount, &downEnable,
			&c.AliveAccsMinThreshold, &thresholdEnable,
			&c.AliveAccsMinPercent, &pctEnable,
			&c.AvgAccountAgeDays, &ageEnable)
		if err != nil {
			return nil, fmt.Errorf("scanning alert config: %w", err)
		}
		c.HostDownAmountEnable = downEnable.Valid && downEnable.Bool
		c.AliveAccsMinThresholdEnable = thresholdEnable.Valid && thresholdEnable.Bool
		c.AliveAccsMinPercentEnable = pctEnable.Valid && pctEnable.Bool
		c.AvgAccountAgeDaysEnable = ageEnable.Valid && ageEnable.Bool
		configs[c.Host] = c
	}
	return configs, rows.Err()
}

// UpsertAlertConfig validates and stores a host's alert rules.
func (s *Store) UpsertAlertConfig(ctx context.Context, c AlertConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instance_alerts (host, host_down_amount, host_down_amount_enable,
			alive_accs_min_threshold, alive_accs_min_threshold_enable,
			alive_accs_min_percent, alive_accs_min_percent_enable,
			avg_account_age_days, avg_account_age_days_enable)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (host) DO UPDATE SET
			host_down_amount = excluded.host_down_amount,
			host_down_amount_enable = excluded.host_down_amount_enable,
			alive_accs_min_threshold = excluded.alive_accs_min_threshold,
			alive_accs_min_threshold_enable = excluded.alive_accs_min_threshold_enable,
			alive_accs_min_percent = excluded.alive_accs_min_percent,
			alive_accs_min_percent_enable = excluded.alive_accs_min_percent_enable,
			avg_account_age_days = excluded.avg_account_age_days,
			avg_account_age_days_enable = excluded.avg_account_age_days_enable`,
		c.Host, c.HostDownAmount, c.HostDownAmountEnable,
		c.AliveAccsMinThreshold, c.AliveAccsMinThresholdEnable,
		c.AliveAccsMinPercent, c.AliveAccsMinPercentEnable,
		c.AvgAccountAgeDays, c.AvgAccountAgeDaysEnable)
	if err != nil {
		return fmt.Errorf("upserting alert config for host %d: %w", c.Host, err)
	}
	return nil
}

// LastMailSend returns the time the last mail of the given kind went to the
// address, or false when none was ever sent.
func (s *Store) LastMailSend(ctx context.Context, mail string, kind int) (int64, bool, error) {
	var t int64
	err := s.db.QueryRowContext(ctx,
		`SELECT time FROM last_mail_send WHERE mail = ? AND kind = ?`,
		mail, kind).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("querying last mail send: %w", err)
	}
	return t, true, nil
}

// SetLastMailSend upserts the send time for (mail, kind).
func (s *Store) SetLastMailSend(ctx context.Context, mail string, kind int, time int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO last_mail_send (mail, kind, time)
		VALUES (?, ?, ?)
		ON CONFLICT (mail, kind) DO UPDATE SET time = excluded.time`,
		mail, kind, time)
	if err != nil {
		return fmt.Errorf("updating last mail send: %w", err)
	}
	return nil
}

// hashSecret derives the stored form of a verification secret.
func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return fmt.Sprintf("%x", sum)
}

// IssueVerificationToken stores a new verification token for a host,
// replacing any previous one. secret is stored hashed.
func (s *Store) IssueVerificationToken(ctx context.Context, host int64, publicID, secret, mail string, eol int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mail_verification_tokens (host, public_part, secret_part, mail, eol_date)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (host) DO UPDATE SET
			public_part = excluded.public_part,
			secret_part = excluded.secret_part,
			mail = excluded.mail,
			eol_date = excluded.eol_date`,
		host, publicID, hashSecret(secret), mail, eol)
	if err != nil {
		return fmt.Errorf("issuing verification token for host %d: %w", host, err)
	}
	return nil
}

// ConsumeVerificationToken verifies a (publicID, secret) pair against an
// unexpired token. On success the token is deleted and the mail binding is
// created as verified. Returns false for unknown, expired or mismatching
// tokens.
func (s *Store) ConsumeVerificationToken(ctx context.Context, publicID, secret string, now int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("starting verification transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		host       int64
		secretHash string
		mail       string
		eol        int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT host, secret_part, mail, eol_date
		FROM mail_verification_tokens
		WHERE public_part = ?`, publicID).
		Scan(&host, &secretHash, &mail, &eol)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying verification token: %w", err)
	}
	if eol < now {
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(secretHash), []byte(hashSecret(secret))) != 1 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM mail_verification_tokens WHERE host = ?`, host); err != nil {
		return false, fmt.Errorf("deleting consumed token: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO instance_mail (host, mail, verified)
		VALUES (?, ?, 1)
		ON CONFLICT (host) DO UPDATE SET
			mail = excluded.mail,
			verified = 1`, host, mail)
	if err != nil {
		return false, fmt.Errorf("binding verified mail: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing verification: %w", err)
	}
	return true, nil
}

// SweepExpiredTokens deletes all verification tokens past their eol.
func (s *Store) SweepExpiredTokens(ctx context.Context, now int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM mail_verification_tokens WHERE eol_date < ?`, now)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired tokens: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
