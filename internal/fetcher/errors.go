package fetcher

import "fmt"

// ErrorKind discriminates the fetch error taxonomy. Each kind maps
// deterministically onto a stored check error.
type ErrorKind int

const (
	// KindTransport covers connection, TLS and timeout failures.
	KindTransport ErrorKind = iota
	// KindHTTPStatus is an unexpected non-2xx response; the body is kept.
	KindHTTPStatus
	// KindKnownHTTPStatus is a recognized bad response (cloudflare block,
	// rate limit, 404, gateway errors); the body is not worth logging.
	KindKnownHTTPStatus
	// KindBodyRead means the status was fine but reading the body failed.
	KindBodyRead
	// KindCaptcha is a 403 challenge page.
	KindCaptcha
)

// Error is a typed fetch failure carrying the originating URL and, where
// applicable, the response status and body.
type Error struct {
	Kind       ErrorKind
	URL        string
	Status     int
	StatusText string
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTransport:
		return fmt.Sprintf("http fetch error for %s: %v", e.URL, e.Err)
	case KindHTTPStatus:
		return fmt.Sprintf("url fetching failed, host responded with status %d %q. Response body: %q", e.Status, e.StatusText, e.Body)
	case KindKnownHTTPStatus:
		return fmt.Sprintf("url fetching failed, host responded with status %d %q", e.Status, e.StatusText)
	case KindBodyRead:
		return fmt.Sprintf("reading response body failed for %s: %v", e.URL, e.Err)
	case KindCaptcha:
		return "host responded with captcha"
	}
	return "unknown fetch error"
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status code if the error carries one.
func (e *Error) StatusCode() (int, bool) {
	switch e.Kind {
	case KindHTTPStatus, KindKnownHTTPStatus:
		return e.Status, true
	}
	return 0, false
}
