package scanner

import (
	"context"
	"log"
	"math"
	"sort"
	"time"

	"github.com/nitter-community/nitter-status/internal/gitversion"
	"github.com/nitter-community/nitter-status/internal/store"
)

const recentChecksAmount = 22

// Snapshot is the ranked view of all enabled hosts served by the read API.
type Snapshot struct {
	Hosts        []RankedHost `json:"hosts"`
	LastUpdate   time.Time    `json:"last_update"`
	LatestCommit string       `json:"latest_commit"`
}

// RankedHost is one host of the snapshot with all derived statistics.
type RankedHost struct {
	URL                      string                `json:"url"`
	Domain                   string                `json:"domain"`
	Points                   int                   `json:"points"`
	RSS                      bool                  `json:"rss"`
	RecentPings              []*int64              `json:"recent_pings"`
	PingMax                  *int64                `json:"ping_max"`
	PingMin                  *int64                `json:"ping_min"`
	PingAvg                  *int64                `json:"ping_avg"`
	Version                  *string               `json:"version"`
	VersionURL               *string               `json:"version_url"`
	VersionState             gitversion.CommitInfo `json:"version_state"`
	Healthy                  bool                  `json:"healthy"`
	LastHealthy              *time.Time            `json:"last_healthy"`
	IsUpstream               bool                  `json:"is_upstream"`
	IsLatestVersion          bool                  `json:"is_latest_version"`
	IsBadHost                bool                  `json:"is_bad_host"`
	Country                  string                `json:"country"`
	Connectivity             *store.Connectivity   `json:"connectivity"`
	HealthyPercentageOverall int                   `json:"healthy_percentage_overall"`
	RecentChecks             []store.RecentCheck   `json:"recent_checks"`
	// ShowLastSeen drives whether the UI renders a "last seen" hint for
	// hosts that have been gone for a while.
	ShowLastSeen bool `json:"__show_last_seen"`
}

func emptySnapshot() *Snapshot {
	return &Snapshot{Hosts: []RankedHost{}, LastUpdate: time.Now().UTC()}
}

// Snapshot returns the currently published snapshot.
func (s *Scanner) Snapshot() *Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snapshot
}

// UpdateSnapshot recomputes all host statistics and atomically replaces the
// shared snapshot.
func (s *Scanner) UpdateSnapshot(ctx context.Context) error {
	snapshot, err := s.buildSnapshot(ctx)
	if err != nil {
		return err
	}
	s.snapMu.Lock()
	s.snapshot = snapshot
	s.snapMu.Unlock()
	return nil
}

func (s *Scanner) buildSnapshot(ctx context.Context) (*Snapshot, error) {
	hosts, err := s.store.EnabledHosts(ctx)
	if err != nil {
		return nil, err
	}

	latestCommit, versionStates := s.classifyVersions(hosts)

	now := time.Now().UTC()
	if len(hosts) == 0 {
		return &Snapshot{
			Hosts:        []RankedHost{},
			LastUpdate:   now,
			LatestCommit: latestCommit,
		}, nil
	}

	t3h := now.Add(-3 * time.Hour).Unix()
	t30d := now.AddDate(0, 0, -30).Unix()
	t120d := now.AddDate(0, 0, -120).Unix()

	stats3h, err := s.store.WindowStatsRange(ctx, t3h, now.Unix())
	if err != nil {
		return nil, err
	}
	stats30d, err := s.store.WindowStatsRange(ctx, t30d, now.Unix())
	if err != nil {
		return nil, err
	}
	stats120d, err := s.store.WindowStatsRange(ctx, t120d, t30d)
	if err != nil {
		return nil, err
	}
	lastHealthy, err := s.store.LastHealthy(ctx)
	if err != nil {
		return nil, err
	}
	versionPoints, err := s.store.VersionPoints(ctx, t30d)
	if err != nil {
		return nil, err
	}
	latestChecks, err := s.store.LatestCheckPerHost(ctx)
	if err != nil {
		return nil, err
	}
	healthyByHost := make(map[int64]bool, len(latestChecks))
	for _, check := range latestChecks {
		healthyByHost[check.Host] = check.Healthy
	}
	pings, err := s.store.Pings(ctx, now.Add(-s.cfg.Scanner.PingRange()).Unix())
	if err != nil {
		return nil, err
	}
	percentages, err := s.store.HealthyPercentages(ctx)
	if err != nil {
		return nil, err
	}
	badHosts, err := s.store.BadHosts(ctx)
	if err != nil {
		return nil, err
	}

	ranked := make([]RankedHost, 0, len(hosts))
	for _, host := range hosts {
		ratio := func(stats map[int64]store.WindowStats) float64 {
			ws, ok := stats[host.ID]
			if !ok || ws.Total == 0 {
				return 0
			}
			return float64(ws.Good) / float64(ws.Total)
		}
		r3h := ratio(stats3h)
		pv := 0.0
		if host.Version != nil {
			pv = versionPoints[*host.Version]
		}
		base := 0.3*r3h + 0.2*ratio(stats30d) + 0.2*ratio(stats120d) + 0.1*pv
		points := int(math.Round(100 * r3h * base))

		var lastHealthyAt *time.Time
		showLastSeen := true
		if at, ok := lastHealthy[host.ID]; ok {
			t := time.Unix(at, 0).UTC()
			lastHealthyAt = &t
			showLastSeen = now.Sub(t) > 12*time.Hour
		}

		ping := pings[host.ID]
		recent, err := s.store.RecentChecks(ctx, host.ID, recentChecksAmount)
		if err != nil {
			return nil, err
		}

		state := versionStates[host.ID]
		_, bad := badHosts[host.ID]
		ranked = append(ranked, RankedHost{
			URL:                      host.URL,
			Domain:                   host.Domain,
			Points:                   points,
			RSS:                      host.RSS,
			RecentPings:              ping.Pings,
			PingMax:                  ping.Max,
			PingMin:                  ping.Min,
			PingAvg:                  ping.Avg,
			Version:                  host.Version,
			VersionURL:               host.VersionURL,
			VersionState:             state,
			Healthy:                  healthyByHost[host.ID],
			LastHealthy:              lastHealthyAt,
			IsUpstream:               state.IsUpstream(),
			IsLatestVersion:          state.IsLatestVersion(),
			IsBadHost:                bad,
			Country:                  host.Country,
			Connectivity:             host.Connectivity,
			HealthyPercentageOverall: percentages[host.ID],
			RecentChecks:             recent,
			ShowLastSeen:             showLastSeen,
		})
	}

	rankHosts(ranked)
	return &Snapshot{
		Hosts:        ranked,
		LastUpdate:   now,
		LatestCommit: latestCommit,
	}, nil
}

// classifyVersions refreshes the upstream clone and classifies every host's
// reported commit. Engine failures degrade all states to Missing.
func (s *Scanner) classifyVersions(hosts []store.Host) (string, map[int64]gitversion.CommitInfo) {
	states := make(map[int64]gitversion.CommitInfo, len(hosts))
	for _, host := range hosts {
		states[host.ID] = gitversion.Missing
	}

	s.versionMu.Lock()
	defer s.versionMu.Unlock()

	if s.version == nil {
		engine, err := gitversion.New(s.cfg.Git.ScratchFolder, s.cfg.Git.SourceURL, s.cfg.Git.SourceBranch)
		if err != nil {
			log.Printf("[Scanner] version engine still unavailable: %v", err)
			return "", states
		}
		s.version = engine
	}
	if err := s.version.UpdateRemote(); err != nil {
		log.Printf("[Scanner] fetching upstream failed: %v", err)
		return "", states
	}
	latestCommit, err := s.version.LatestCommit()
	if err != nil {
		log.Printf("[Scanner] resolving upstream branch failed: %v", err)
		return "", states
	}

	for _, host := range hosts {
		if host.VersionURL == nil {
			continue
		}
		state, err := s.version.CheckURL(*host.VersionURL)
		if err != nil {
			log.Printf("[Scanner] classifying version of host %d failed: %v", host.ID, err)
			continue
		}
		states[host.ID] = state
	}
	return latestCommit, states
}

// rankHosts sorts hosts best first: positive scores by points then overall
// uptime, dead hosts below them ordered by how recently they were seen.
func rankHosts(hosts []RankedHost) {
	sort.SliceStable(hosts, func(i, j int) bool {
		a, b := hosts[i], hosts[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if a.Points > 0 {
			return a.HealthyPercentageOverall > b.HealthyPercentageOverall
		}
		if a.ShowLastSeen != b.ShowLastSeen {
			return !a.ShowLastSeen
		}
		switch {
		case a.LastHealthy != nil && b.LastHealthy == nil:
			return true
		case a.LastHealthy == nil:
			return false
		default:
			return a.LastHealthy.After(*b.LastHealthy)
		}
	})
}
