package scanner

import (
	"context"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/nitter-community/nitter-status/internal/parser"
	"github.com/nitter-community/nitter-status/internal/store"
)

// HealthSweep probes the profile page of every enabled host concurrently and
// records a health check row per host, plus a check error for failures.
func (s *Scanner) HealthSweep(ctx context.Context) error {
	start := time.Now()

	hosts, err := s.store.EnabledHosts(ctx)
	if err != nil {
		return err
	}
	muted, err := s.mutedHosts(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, host := range hosts {
		wg.Add(1)
		go func(host store.Host) {
			defer wg.Done()
			s.healthCheckHost(ctx, host, muted[host.ID])
		}(host)
	}
	wg.Wait()

	s.markUptimeCheck(time.Now())
	log.Printf("[Scanner] checked uptime: hosts=%d took=%dms",
		len(hosts), time.Since(start).Milliseconds())
	return nil
}

func (s *Scanner) healthCheckHost(ctx context.Context, host store.Host, muted bool) {
	now := time.Now().Unix()

	base, err := url.Parse(host.URL)
	if err != nil {
		if !muted {
			log.Printf("[Scanner] failed to parse instance URL %s: %v", host.URL, err)
		}
		s.insertFailedHealthCheck(ctx, host.ID, now, newHostError("Not a valid URL"), nil)
		return
	}
	base.Path = s.cfg.Scanner.ProfilePath

	start := time.Now()
	code, body, err := s.client.Fetch(ctx, base.String(), "")
	took := time.Since(start).Milliseconds()

	if err != nil {
		if !muted {
			log.Printf("[Scanner] couldn't ping host %s: %v, marking as dead", host.URL, err)
		}
		s.insertFailedHealthCheck(ctx, host.ID, now, fromFetchError(err), &took)
		return
	}

	profile, err := parser.ParseProfile(body)
	if err != nil {
		if !muted {
			log.Printf("[Scanner] host %s doesn't contain a valid profile: %v", host.URL, err)
		}
		s.insertFailedHealthCheck(ctx, host.ID, now,
			newHostErrorBody(err.Error(), body, code), &took)
		return
	}
	if !profile.Valid(s.cfg.Scanner.ProfileName, s.cfg.Scanner.ProfilePostsMin) {
		if !muted {
			log.Printf("[Scanner] host %s doesn't contain expected profile content: name=%q posts=%d",
				host.URL, profile.Name, profile.PostCount)
		}
		s.insertFailedHealthCheck(ctx, host.ID, now,
			newHostErrorBody("profile content mismatch", body, code), &took)
		return
	}

	err = s.store.InsertHealthCheck(ctx, store.HealthCheck{
		Host:         host.ID,
		Time:         now,
		RespTime:     &took,
		Healthy:      true,
		ResponseCode: &code,
	})
	if err != nil {
		log.Printf("[Scanner] failed to insert health check for host %d: %v", host.ID, err)
	}
}

func (s *Scanner) insertFailedHealthCheck(ctx context.Context, host, now int64, herr hostError, respTime *int64) {
	err := s.store.InsertHealthCheck(ctx, store.HealthCheck{
		Host:         host,
		Time:         now,
		RespTime:     respTime,
		Healthy:      false,
		ResponseCode: herr.HTTPStatus,
	})
	if err != nil {
		log.Printf("[Scanner] failed to insert health check for host %d: %v", host, err)
	}
	if err := s.store.InsertCheckError(ctx, herr.checkError(host, now)); err != nil {
		log.Printf("[Scanner] failed to insert error for host %d: %v", host, err)
	}
}
