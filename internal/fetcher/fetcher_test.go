package fetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New("https://status.example.org", "")
	require.NoError(t, err)
	return c
}

func TestFetchSuccess(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := newTestClient(t)
	code, body, err := c.Fetch(context.Background(), srv.URL, "")
	require.NoError(t, err)
	assert.Equal(t, 200, code)
	assert.Equal(t, "hello", body)

	assert.Equal(t, "nitter-status (+https://status.example.org/about)", gotHeaders.Get("User-Agent"))
	assert.Equal(t, headerAccept, gotHeaders.Get("Accept"))
	assert.Equal(t, headerLanguage, gotHeaders.Get("Accept-Language"))
	assert.Equal(t, "document", gotHeaders.Get("Sec-Fetch-Dest"))
	assert.Equal(t, "navigate", gotHeaders.Get("Sec-Fetch-Mode"))
	assert.Equal(t, "none", gotHeaders.Get("Sec-Fetch-Site"))
	assert.Equal(t, "?1", gotHeaders.Get("Sec-Fetch-User"))
	assert.Equal(t, "trailers", gotHeaders.Get("TE"))
	assert.Contains(t, gotHeaders.Get("Accept-Encoding"), "br")
	assert.Empty(t, gotHeaders.Get("Authorization"))
}

func TestFetchBearer(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := newTestClient(t)
	_, _, err := c.Fetch(context.Background(), srv.URL, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cret", auth)
}

func TestFetchGzipBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		gz.Write([]byte("compressed content"))
		gz.Close()
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	c := newTestClient(t)
	_, body, err := c.Fetch(context.Background(), srv.URL, "")
	require.NoError(t, err)
	assert.Equal(t, "compressed content", body)
}

func TestFetchBrotliBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		br := brotli.NewWriter(&buf)
		br.Write([]byte("brotli content"))
		br.Close()
		w.Header().Set("Content-Encoding", "br")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	c := newTestClient(t)
	_, body, err := c.Fetch(context.Background(), srv.URL, "")
	require.NoError(t, err)
	assert.Equal(t, "brotli content", body)
}

func TestFetchCaptcha(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("<html>Enable JavaScript and cookies to continue</html>"))
	}))
	defer srv.Close()

	c := newTestClient(t)
	_, _, err := c.Fetch(context.Background(), srv.URL, "")
	require.Error(t, err)
	fe, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindCaptcha, fe.Kind)
	_, hasCode := fe.StatusCode()
	assert.False(t, hasCode)
}

func TestFetchKnownStatuses(t *testing.T) {
	cases := []struct {
		name string
		code int
		body string
		want ErrorKind
	}{
		{"cloudflare block", 403, "You have been blocked", KindKnownHTTPStatus},
		{"rate limited", 429, "Instance has been rate limited", KindKnownHTTPStatus},
		{"not found", 404, "nothing here", KindKnownHTTPStatus},
		{"bad gateway", 502, "bad gateway", KindKnownHTTPStatus},
		{"gateway timeout", 504, "timeout", KindKnownHTTPStatus},
		{"cloudflare 521", 521, "web server is down", KindKnownHTTPStatus},
		{"cloudflare 527", 527, "railgun", KindKnownHTTPStatus},
		{"plain 403", 403, "go away", KindHTTPStatus},
		{"plain 429", 429, "slow down", KindHTTPStatus},
		{"server error", 500, "ouch", KindHTTPStatus},
		{"teapot", 418, "short and stout", KindHTTPStatus},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := newTestClient(t)
			_, _, err := c.Fetch(context.Background(), srv.URL, "")
			require.Error(t, err)
			fe, ok := err.(*Error)
			require.True(t, ok)
			assert.Equal(t, tc.want, fe.Kind)
			code, hasCode := fe.StatusCode()
			require.True(t, hasCode)
			assert.Equal(t, tc.code, code)
			assert.Equal(t, tc.body, fe.Body)
		})
	}
}

func TestFetchTransportError(t *testing.T) {
	c := newTestClient(t)
	// nothing listens here
	_, _, err := c.Fetch(context.Background(), "http://127.0.0.1:1", "")
	require.Error(t, err)
	fe, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindTransport, fe.Kind)
	_, hasCode := fe.StatusCode()
	assert.False(t, hasCode)
}

func TestReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t)
	assert.True(t, c.Reachable(context.Background(), srv.URL+"/"))
	assert.False(t, c.Reachable(context.Background(), srv.URL+"/down"))
	assert.False(t, c.Reachable(context.Background(), "http://127.0.0.1:1/"))
}
