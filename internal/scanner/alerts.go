package scanner

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nitter-community/nitter-status/internal/store"
)

// EvaluateAlerts checks every verified mail binding against its host's alert
// rules and sends one combined mail per binding, throttled per address.
func (s *Scanner) EvaluateAlerts(ctx context.Context) error {
	bindings, err := s.store.MailBindings(ctx)
	if err != nil {
		return err
	}
	if len(bindings) == 0 {
		s.markAlertCheck(time.Now())
		return nil
	}
	configs, err := s.store.AlertConfigs(ctx)
	if err != nil {
		return err
	}
	lastStats, err := s.store.LastEntryTime(ctx, "instance_stats")
	if err != nil {
		return err
	}

	now := time.Now()
	for _, binding := range bindings {
		if !binding.Verified {
			continue
		}
		cfg, ok := configs[binding.Host]
		if !ok {
			continue
		}
		messages, err := s.alertMessages(ctx, binding.Host, cfg, lastStats, now)
		if err != nil {
			log.Printf("[Alerts] evaluating rules for host %d failed: %v", binding.Host, err)
			continue
		}
		if len(messages) == 0 {
			continue
		}

		sentAt, sent, err := s.store.LastMailSend(ctx, binding.Mail, store.MailKindAlert)
		if err != nil {
			log.Printf("[Alerts] reading mail throttle for host %d failed: %v", binding.Host, err)
			continue
		}
		if sent && now.Sub(time.Unix(sentAt, 0)) < s.cfg.Mail.AlertTimeout() {
			continue
		}

		host, err := s.store.HostByID(ctx, binding.Host)
		if err != nil {
			log.Printf("[Alerts] loading host %d failed: %v", binding.Host, err)
			continue
		}
		subject := fmt.Sprintf("Alert for instance %s", host.Domain)
		if err := s.mail.Send(ctx, binding.Mail, subject, strings.Join(messages, "\n")); err != nil {
			log.Printf("[Alerts] sending alert mail for host %d failed: %v", binding.Host, err)
			continue
		}
		if err := s.store.SetLastMailSend(ctx, binding.Mail, store.MailKindAlert, now.Unix()); err != nil {
			log.Printf("[Alerts] recording mail send for host %d failed: %v", binding.Host, err)
		}
	}

	s.markAlertCheck(now)
	return nil
}

// alertMessages evaluates all four rules for one host and returns the alert
// lines of every triggered rule.
func (s *Scanner) alertMessages(ctx context.Context, hostID int64, cfg store.AlertConfig, lastStats int64, now time.Time) ([]string, error) {
	var messages []string

	if cfg.HostDownAmountEnable && cfg.HostDownAmount != nil {
		checks, err := s.store.LatestHealthRows(ctx, hostID, int(*cfg.HostDownAmount))
		if err != nil {
			return nil, err
		}
		down := 0
		for _, check := range checks {
			if !check.Healthy {
				down++
			}
		}
		if int64(len(checks)) >= *cfg.HostDownAmount && int64(down) >= *cfg.HostDownAmount {
			messages = append(messages, fmt.Sprintf(
				"Instance was detected as DOWN for the last %d checks.", *cfg.HostDownAmount))
		}
	}

	needsStats := (cfg.AliveAccsMinThresholdEnable && cfg.AliveAccsMinThreshold != nil) ||
		(cfg.AliveAccsMinPercentEnable && cfg.AliveAccsMinPercent != nil)
	if needsStats && lastStats > 0 {
		stats, err := s.store.StatsAt(ctx, hostID, lastStats)
		if err != nil {
			return nil, err
		}
		if stats != nil {
			alive := stats.TotalAccs - stats.LimitedAccs
			if cfg.AliveAccsMinThresholdEnable && cfg.AliveAccsMinThreshold != nil &&
				alive < *cfg.AliveAccsMinThreshold {
				messages = append(messages, fmt.Sprintf(
					"Usable accounts at %d from %d total. Threshold at %d unlimited accounts.",
					alive, stats.TotalAccs, *cfg.AliveAccsMinThreshold))
			}
			// percent rule is meaningless without any accounts
			if cfg.AliveAccsMinPercentEnable && cfg.AliveAccsMinPercent != nil &&
				stats.TotalAccs > 0 {
				limitedPct := stats.LimitedAccs * 100 / stats.TotalAccs
				if limitedPct < *cfg.AliveAccsMinPercent {
					messages = append(messages, fmt.Sprintf(
						"Limited accounts at %d%% from %d total. Alert threshold at %d%%.",
						limitedPct, stats.TotalAccs, *cfg.AliveAccsMinPercent))
				}
			}
		}
	}

	if cfg.AvgAccountAgeDaysEnable && cfg.AvgAccountAgeDays != nil {
		host, err := s.store.HostByID(ctx, hostID)
		if err != nil {
			return nil, err
		}
		if host.AccountAgeAverage != nil {
			age := now.Unix() - *host.AccountAgeAverage
			if age < 0 {
				age = -age
			}
			if age >= *cfg.AvgAccountAgeDays*86400 {
				messages = append(messages, fmt.Sprintf(
					"Average account age reached %d days! Alert threshold at %d days.",
					age/86400, *cfg.AvgAccountAgeDays))
			}
		}
	}

	return messages, nil
}
