// Package scanner drives the periodic probing of all tracked instances:
// instance list refreshes, health sweeps, stats sweeps, ranked snapshot
// publication, alert evaluation and data retention.
package scanner

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"sync"
	"time"

	"github.com/nitter-community/nitter-status/internal/config"
	"github.com/nitter-community/nitter-status/internal/fetcher"
	"github.com/nitter-community/nitter-status/internal/gitversion"
	"github.com/nitter-community/nitter-status/internal/mailer"
	"github.com/nitter-community/nitter-status/internal/store"
)

// Scanner owns the probe clients, the upstream version engine and the shared
// ranked snapshot.
type Scanner struct {
	cfg   *config.Config
	store *store.Store
	mail  mailer.Mailer

	client   *fetcher.Client
	clientV4 *fetcher.Client
	clientV6 *fetcher.Client

	rssRe *regexp.Regexp

	// versionMu guards the engine, it is not safe for concurrent use.
	versionMu sync.Mutex
	version   *gitversion.Engine

	deadlineMu     sync.Mutex
	lastListFetch  time.Time
	lastUptime     time.Time
	lastStatsFetch time.Time
	lastAlertCheck time.Time

	snapMu   sync.RWMutex
	snapshot *Snapshot
}

// New builds a scanner, restores its deadlines from the database and
// publishes an initial snapshot.
func New(ctx context.Context, cfg *config.Config, st *store.Store, mail mailer.Mailer) (*Scanner, error) {
	client, err := fetcher.New(cfg.Server.WebsiteURL, "")
	if err != nil {
		return nil, fmt.Errorf("creating probe client: %w", err)
	}
	clientV4, err := fetcher.New(cfg.Server.WebsiteURL, "0.0.0.0")
	if err != nil {
		return nil, fmt.Errorf("creating IPv4 probe client: %w", err)
	}
	clientV6, err := fetcher.New(cfg.Server.WebsiteURL, "::")
	if err != nil {
		return nil, fmt.Errorf("creating IPv6 probe client: %w", err)
	}

	rssRe, err := regexp.Compile("(?i)" + cfg.Scanner.RSSContent)
	if err != nil {
		return nil, fmt.Errorf("invalid rss content regex: %w", err)
	}

	s := &Scanner{
		cfg:      cfg,
		store:    st,
		mail:     mail,
		client:   client,
		clientV4: clientV4,
		clientV6: clientV6,
		rssRe:    rssRe,
		snapshot: emptySnapshot(),
	}

	// version engine failures degrade version states, they never block
	// startup
	engine, err := gitversion.New(cfg.Git.ScratchFolder, cfg.Git.SourceURL, cfg.Git.SourceBranch)
	if err != nil {
		log.Printf("[Scanner] version engine unavailable: %v", err)
	} else {
		s.version = engine
	}

	lastUptime, err := st.LastEntryTime(ctx, "health_check")
	if err != nil {
		return nil, fmt.Errorf("restoring last uptime check: %w", err)
	}
	lastStats, err := st.LastEntryTime(ctx, "instance_stats")
	if err != nil {
		return nil, fmt.Errorf("restoring last stats check: %w", err)
	}
	s.lastUptime = time.Unix(lastUptime, 0)
	s.lastListFetch = time.Unix(lastUptime, 0)
	s.lastStatsFetch = time.Unix(lastStats, 0)

	if err := s.UpdateSnapshot(ctx); err != nil {
		return nil, fmt.Errorf("initial snapshot update failed: %w", err)
	}
	return s, nil
}

// Run executes the main scan loop until the context is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	log.Printf("[Scanner] starting main loop")
	for {
		if s.listRefreshDue() {
			if err := s.RefreshInstanceList(ctx); err != nil {
				log.Printf("[Scanner] failed updating instance list: %v", err)
			}
		}
		if s.healthSweepDue() {
			if err := s.HealthSweep(ctx); err != nil {
				log.Printf("[Scanner] failed checking instances for health: %v", err)
			}
			// stats always follow health checks, give the hosts a breather
			if s.statsSweepDue() {
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				log.Printf("[Scanner] checking instance stats")
				if err := s.StatsSweep(ctx); err != nil {
					log.Printf("[Scanner] failed checking instances for stats: %v", err)
				}
			}
			if err := s.EvaluateAlerts(ctx); err != nil {
				log.Printf("[Scanner] alert evaluation failed: %v", err)
			}
		}
		if err := s.UpdateSnapshot(ctx); err != nil {
			log.Printf("[Scanner] failed to update snapshot: %v", err)
		}
		if !s.sleepUntilDeadline(ctx) {
			return
		}
	}
}

// RunCleanup drives the retention sweep on its own cadence until the context
// is cancelled.
func (s *Scanner) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Scanner.CleanupInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.store.CleanupCheckErrors(ctx, s.cfg.Scanner.ErrorRetentionPerHost)
			if err != nil {
				log.Printf("[Cleanup] error retention sweep failed: %v", err)
			} else {
				log.Printf("[Cleanup] deleted %d old check errors", deleted)
			}
			if _, err := s.store.SweepExpiredTokens(ctx, time.Now().Unix()); err != nil {
				log.Printf("[Cleanup] token sweep failed: %v", err)
			}
		}
	}
}

// sleepUntilDeadline blocks until the next sweep is due or the context ends.
// Returns false when the context was cancelled.
func (s *Scanner) sleepUntilDeadline(ctx context.Context) bool {
	s.deadlineMu.Lock()
	nextList := s.lastListFetch.Add(s.cfg.Scanner.ListFetchInterval())
	nextHealth := s.lastUptime.Add(s.cfg.Scanner.InstanceCheckInterval())
	nextStats := s.lastStatsFetch.Add(s.cfg.Scanner.InstanceStatsInterval())
	s.deadlineMu.Unlock()

	next := nextList
	if nextHealth.Before(next) {
		next = nextHealth
	}
	if nextStats.Before(next) {
		next = nextStats
	}
	wait := time.Until(next)
	if wait <= 0 {
		// overdue, reschedule immediately but stay cancellable
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(wait):
		return true
	}
}

func (s *Scanner) listRefreshDue() bool {
	s.deadlineMu.Lock()
	defer s.deadlineMu.Unlock()
	return time.Since(s.lastListFetch) >= s.cfg.Scanner.ListFetchInterval()
}

func (s *Scanner) healthSweepDue() bool {
	s.deadlineMu.Lock()
	defer s.deadlineMu.Unlock()
	return time.Since(s.lastUptime) >= s.cfg.Scanner.InstanceCheckInterval()
}

func (s *Scanner) statsSweepDue() bool {
	s.deadlineMu.Lock()
	defer s.deadlineMu.Unlock()
	return time.Since(s.lastStatsFetch) >= s.cfg.Scanner.InstanceStatsInterval()
}

func (s *Scanner) markListFetch(t time.Time) {
	s.deadlineMu.Lock()
	s.lastListFetch = t
	s.deadlineMu.Unlock()
}

func (s *Scanner) markUptimeCheck(t time.Time) {
	s.deadlineMu.Lock()
	s.lastUptime = t
	s.deadlineMu.Unlock()
}

func (s *Scanner) markStatsFetch(t time.Time) {
	s.deadlineMu.Lock()
	s.lastStatsFetch = t
	s.deadlineMu.Unlock()
}

func (s *Scanner) markAlertCheck(t time.Time) {
	s.deadlineMu.Lock()
	s.lastAlertCheck = t
	s.deadlineMu.Unlock()
}

// mutedHosts maps host ids whose latest check was unhealthy. Used to avoid
// log spam for hosts that are already known dead.
func (s *Scanner) mutedHosts(ctx context.Context) (map[int64]bool, error) {
	latest, err := s.store.LatestCheckPerHost(ctx)
	if err != nil {
		return nil, err
	}
	muted := make(map[int64]bool, len(latest))
	for _, check := range latest {
		muted[check.Host] = !check.Healthy
	}
	return muted, nil
}
