package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/nitter-community/nitter-status/internal/store"
)

// healthStats is the minimum shape of the .health endpoint payload. Older
// nitter versions name the accounts object "sessions".
type healthStats struct {
	Accounts *healthAccounts `json:"accounts"`
	Sessions *healthAccounts `json:"sessions"`
	Requests healthRequests  `json:"requests"`
}

type healthAccounts struct {
	Total   int64 `json:"total"`
	Limited int64 `json:"limited"`
}

type healthRequests struct {
	Total int64 `json:"total"`
}

func (h healthStats) accounts() (*healthAccounts, error) {
	if h.Accounts != nil {
		return h.Accounts, nil
	}
	if h.Sessions != nil {
		return h.Sessions, nil
	}
	return nil, fmt.Errorf("payload has neither accounts nor sessions")
}

// StatsSweep samples the .health endpoint of every enabled host and
// bulk-inserts the results under one shared timestamp.
func (s *Scanner) StatsSweep(ctx context.Context) error {
	start := time.Now()

	hosts, err := s.store.EnabledHosts(ctx)
	if err != nil {
		return err
	}
	overrides, err := s.store.Overrides(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		samples = make([]store.InstanceStats, 0, len(hosts))
	)
	for _, host := range hosts {
		wg.Add(1)
		go func(host store.Host) {
			defer wg.Done()
			sample, err := s.fetchInstanceStats(ctx, now.Unix(), host, overrides[host.ID])
			if err != nil {
				log.Printf("[Scanner] failed to fetch instance stats for host %d: %v", host.ID, err)
				return
			}
			mu.Lock()
			samples = append(samples, sample)
			mu.Unlock()
		}(host)
	}
	wg.Wait()

	if err := s.store.InsertInstanceStats(ctx, samples); err != nil {
		return err
	}

	s.markStatsFetch(now)
	log.Printf("[Scanner] stats check finished: entries=%d took=%dms",
		len(samples), time.Since(start).Milliseconds())
	return nil
}

func (s *Scanner) fetchInstanceStats(ctx context.Context, now int64, host store.Host, overrides map[string]store.Override) (store.InstanceStats, error) {
	base, err := url.Parse(host.URL)
	if err != nil {
		return store.InstanceStats{}, fmt.Errorf("parsing instance URL: %w", err)
	}
	base.Path = ".health"
	if o, ok := overrides[store.KeyHealthPath]; ok && o.Value != nil {
		base.Path = *o.Value
	}
	if o, ok := overrides[store.KeyHealthQuery]; ok && o.Value != nil {
		base.RawQuery = *o.Value
	}
	bearer := ""
	if o, ok := overrides[store.KeyHealthBearer]; ok && o.Value != nil {
		bearer = *o.Value
	}

	_, body, err := s.client.Fetch(ctx, base.String(), bearer)
	if err != nil {
		return store.InstanceStats{}, err
	}

	var stats healthStats
	if err := json.Unmarshal([]byte(body), &stats); err != nil {
		return store.InstanceStats{}, fmt.Errorf("parsing .health payload: %w (body %q)", err, body)
	}
	accounts, err := stats.accounts()
	if err != nil {
		return store.InstanceStats{}, err
	}

	return store.InstanceStats{
		Host:          host.ID,
		Time:          now,
		LimitedAccs:   accounts.Limited,
		TotalAccs:     accounts.Total,
		TotalRequests: stats.Requests.Total,
	}, nil
}
