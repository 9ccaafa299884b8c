package scanner

import (
	"errors"
	"fmt"

	"github.com/nitter-community/nitter-status/internal/fetcher"
	"github.com/nitter-community/nitter-status/internal/store"
)

// hostError is the persisted form of a failed probe.
type hostError struct {
	Message    string
	HTTPBody   *string
	HTTPStatus *int
}

func newHostError(message string) hostError {
	return hostError{Message: message}
}

func newHostErrorBody(message, body string, status int) hostError {
	return hostError{Message: message, HTTPBody: &body, HTTPStatus: &status}
}

// fromFetchError maps the fetch error taxonomy onto the stored messages.
func fromFetchError(err error) hostError {
	var fe *fetcher.Error
	if !errors.As(err, &fe) {
		return newHostError(err.Error())
	}
	switch fe.Kind {
	case fetcher.KindCaptcha:
		return newHostError("Captcha detected")
	case fetcher.KindKnownHTTPStatus:
		// known failure modes don't need the body spammed into the log
		return newHostErrorBody(
			fmt.Sprintf("Known bad response on status %s", fe.StatusText),
			fe.Body, fe.Status)
	case fetcher.KindHTTPStatus:
		return newHostErrorBody("failed to fetch", fe.Body, fe.Status)
	default:
		return newHostError(fe.Error())
	}
}

// fetchStatusCode extracts the http status of a fetch error, if it has one.
func fetchStatusCode(err error) (int, bool) {
	var fe *fetcher.Error
	if !errors.As(err, &fe) {
		return 0, false
	}
	return fe.StatusCode()
}

func (e hostError) checkError(host, time int64) store.CheckError {
	return store.CheckError{
		Host:       host,
		Time:       time,
		Message:    e.Message,
		HTTPBody:   e.HTTPBody,
		HTTPStatus: e.HTTPStatus,
	}
}
