// Package fetcher performs outbound instance probes with a fixed browser-like
// header profile and classifies responses into a typed error taxonomy.
package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

const (
	connectTimeout = 5 * time.Second
	totalTimeout   = 10 * time.Second

	captchaStatus = 403
	captchaText   = "Enable JavaScript and cookies to continue"

	headerAccept   = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	headerLanguage = "de,en-US;q=0.7,en;q=0.3"
)

// The full request header profile, reproduced bit-for-bit on every probe.
var defaultHeaders = [][2]string{
	{"Accept", headerAccept},
	{"Accept-Language", headerLanguage},
	{"Accept-Encoding", "gzip, br, deflate"},
	{"Sec-Fetch-Dest", "document"},
	{"Sec-Fetch-Mode", "navigate"},
	{"Sec-Fetch-Site", "none"},
	{"Sec-Fetch-User", "?1"},
	{"TE", "trailers"},
}

// Client wraps an http.Client configured with the probe header set,
// cookie jar and timeouts.
type Client struct {
	hc        *http.Client
	userAgent string
}

// New creates a probe client. localAddr forces the local address family for
// connectivity probes ("0.0.0.0" for IPv4, "::" for IPv6); empty means the
// OS default. websiteURL feeds the User-Agent.
func New(websiteURL, localAddr string) (*Client, error) {
	dialer := &net.Dialer{Timeout: connectTimeout}
	if localAddr != "" {
		ip := net.ParseIP(localAddr)
		if ip == nil {
			return nil, fmt.Errorf("invalid local address %q", localAddr)
		}
		dialer.LocalAddr = &net.TCPAddr{IP: ip}
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	transport := &http.Transport{
		DialContext: dialer.DialContext,
		// we negotiate compression ourselves to also accept brotli
		DisableCompression: true,
	}

	return &Client{
		hc: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   totalTimeout,
		},
		userAgent: fmt.Sprintf("nitter-status (+%s/about)", websiteURL),
	}, nil
}

// Fetch performs a GET and classifies the result. A non-empty bearer token is
// attached as Authorization header. On success the status code and the
// decompressed body are returned; every failure is a *Error.
func (c *Client) Fetch(ctx context.Context, url, bearer string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", &Error{Kind: KindTransport, URL: url, Err: err}
	}
	for _, h := range defaultHeaders {
		req.Header.Set(h[0], h[1])
	}
	req.Header.Set("User-Agent", c.userAgent)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, "", &Error{Kind: KindTransport, URL: url, Err: err}
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	if code < 200 || code > 299 {
		return 0, "", c.classifyBadStatus(resp)
	}

	body, err := readBody(resp)
	if err != nil {
		return 0, "", &Error{Kind: KindBodyRead, URL: url, Err: err}
	}
	return code, body, nil
}

// Reachable reports whether a plain GET yields a 2xx status. Used by the
// connectivity probe; the body is discarded.
func (c *Client) Reachable(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	for _, h := range defaultHeaders {
		req.Header.Set(h[0], h[1])
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.hc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

func (c *Client) classifyBadStatus(resp *http.Response) *Error {
	code := resp.StatusCode
	statusText := http.StatusText(code)
	body, err := readBody(resp)
	if err != nil {
		body = fmt.Sprintf("Additionally failed reading response body: %v", err)
	}

	if code == captchaStatus && strings.Contains(body, captchaText) {
		return &Error{Kind: KindCaptcha, URL: resp.Request.URL.String()}
	}
	known := false
	switch {
	case code == 403 && strings.Contains(body, "You have been blocked"):
		// cloudflare block
		known = true
	case code == 429 && strings.Contains(body, "Instance has been rate limited"):
		// out of non-limited accounts
		known = true
	case code == 404:
		// don't spam the body on 404s
		known = true
	case code >= 502 && code <= 504:
		// Bad Gateway/Service Unavailable/Gateway Timeout
		known = true
	case code >= 520 && code <= 527:
		// cloudflare edge errors
		known = true
	}
	kind := KindHTTPStatus
	if known {
		kind = KindKnownHTTPStatus
	}
	return &Error{
		Kind:       kind,
		URL:        resp.Request.URL.String(),
		Status:     code,
		StatusText: statusText,
		Body:       body,
	}
}

// readBody decompresses the response according to Content-Encoding.
func readBody(resp *http.Response) (string, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return "", err
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		reader = fl
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
