package httpx

import (
	"io"
	"net/http"
	"time"
)

// RetryingTransport is the transport-level variant of the retry policy,
// plugged under the discovery collector so its page fetches get the same
// bounded backoff as direct client calls. Only safe for body-less requests
// (GET/HEAD), which is all the collector issues.
type RetryingTransport struct {
	Base           http.RoundTripper
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffFactor  float64
	BackoffMax     time.Duration
}

// RoundTrip implements http.RoundTripper.
func (t *RetryingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	retries := t.MaxRetries
	if retries < 0 {
		retries = 0
	}

	bo := newBackoff(t.BackoffInitial, t.BackoffFactor, t.BackoffMax)
	var resp *http.Response
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if perr := pause(req.Context(), bo.Next()); perr != nil {
				return nil, perr
			}
		}
		resp, err = base.RoundTrip(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			continue
		}
		if resp.StatusCode >= 500 && attempt < retries {
			io.Copy(io.Discard, resp.Body) //nolint:errcheck
			resp.Body.Close()              //nolint:errcheck
			continue
		}
		return resp, nil
	}
	return resp, err
}
