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

// RefreshInstanceList fetches the wiki instance list and resynchronizes the
// host table: hosts that vanished are disabled, every listed host is probed
// for connectivity, rss and version and upserted.
func (s *Scanner) RefreshInstanceList(ctx context.Context) error {
	start := time.Now()

	_, html, err := s.client.Fetch(ctx, s.cfg.Scanner.InstanceListURL, "")
	if err != nil {
		return err
	}
	parsed, err := parser.ParseInstanceList(html,
		s.cfg.Scanner.AdditionalHosts, s.cfg.Scanner.AdditionalHostCountry, false)
	if err != nil {
		return err
	}

	domainMuted := make(map[string]bool)
	if s.cfg.Scanner.AutoMute {
		latest, err := s.store.LatestCheckPerHost(ctx)
		if err != nil {
			return err
		}
		for _, check := range latest {
			domainMuted[check.Domain] = !check.Healthy
		}
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		updates = make([]store.HostUpdate, 0, len(parsed))
	)
	for _, instance := range parsed {
		wg.Add(1)
		go func(instance parser.Instance) {
			defer wg.Done()
			update := s.probeInstance(ctx, instance, domainMuted[instance.Domain])
			mu.Lock()
			updates = append(updates, update)
			mu.Unlock()
		}(instance)
	}
	wg.Wait()

	now := time.Now()
	disabled, err := s.store.ReplaceInstanceList(ctx, updates, now.Unix())
	if err != nil {
		return err
	}

	s.markListFetch(now)
	log.Printf("[Scanner] instance list refreshed: found=%d removed=%d took=%dms",
		len(parsed), disabled, time.Since(start).Milliseconds())
	return nil
}

// probeInstance gathers connectivity, rss and version for one listed
// instance, separated by short sleeps to avoid hammering the host.
func (s *Scanner) probeInstance(ctx context.Context, instance parser.Instance, muted bool) store.HostUpdate {
	update := store.HostUpdate{
		Domain:  instance.Domain,
		URL:     instance.URL,
		Country: instance.Country,
	}

	base, err := url.Parse(instance.URL)
	if err != nil {
		if !muted {
			log.Printf("[Scanner] instance URL invalid: %s", instance.URL)
		}
		return update
	}

	update.Connectivity = s.checkConnectivity(ctx, *base)
	sleepCtx(ctx, time.Second)
	update.RSS = s.hasRSS(ctx, *base, muted)
	sleepCtx(ctx, time.Second)
	if about := s.nitterVersion(ctx, *base, muted); about != nil {
		update.Version = &about.Version
		update.VersionURL = &about.URL
	}
	return update
}

// checkConnectivity probes the host over IPv4 and IPv6.
func (s *Scanner) checkConnectivity(ctx context.Context, base url.URL) *store.Connectivity {
	base.Path = s.cfg.Scanner.ConnectivityPath
	target := base.String()

	ipv4 := s.clientV4.Reachable(ctx, target)
	sleepCtx(ctx, time.Second)
	ipv6 := s.clientV6.Reachable(ctx, target)

	var c store.Connectivity
	switch {
	case ipv4 && ipv6:
		c = store.ConnectivityAll
	case ipv4:
		c = store.ConnectivityIPv4
	case ipv6:
		c = store.ConnectivityIPv6
	default:
		return nil
	}
	return &c
}

// hasRSS reports whether the host serves a working rss feed.
func (s *Scanner) hasRSS(ctx context.Context, base url.URL, muted bool) bool {
	base.Path = s.cfg.Scanner.RSSPath
	target := base.String()

	code, body, err := s.client.Fetch(ctx, target, "")
	if err != nil {
		if !muted && !isNotFound(err) {
			log.Printf("[Scanner] fetching rss feed failed: %s: %v", target, err)
		}
		return false
	}
	if !s.rssRe.MatchString(body) {
		if !muted {
			// 404 body means the instance has rss disabled
			log.Printf("[Scanner] rss content not found: %s code=%d", target, code)
		}
		return false
	}
	return true
}

// nitterVersion reads the running version from the host's about page.
func (s *Scanner) nitterVersion(ctx context.Context, base url.URL, muted bool) *parser.About {
	base.Path = s.cfg.Scanner.AboutPath
	target := base.String()

	_, body, err := s.client.Fetch(ctx, target, "")
	if err != nil {
		if !muted {
			log.Printf("[Scanner] failed fetching about page: %s: %v", target, err)
		}
		return nil
	}
	about, err := parser.ParseAbout(body)
	if err != nil {
		if !muted {
			log.Printf("[Scanner] failed parsing version from about page: %s: %v", target, err)
		}
		return nil
	}
	return &about
}

func isNotFound(err error) bool {
	code, ok := fetchStatusCode(err)
	return ok && code == 404
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
