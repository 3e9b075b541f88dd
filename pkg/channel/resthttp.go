package channel

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/harborstay/channelcore/pkg/coreerr"
)

// NewHTTPClient builds the shared outbound client every REST adapter
// uses to call its platform, a fixed 15-second timeout matching the
// dispatcher's per-delivery attempt budget.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

// ClassifyHTTPStatus turns a platform response's status code into the
// coreerr taxonomy spec §4.7 requires adapters to return. 429 carries a
// RetryAfter parsed from the response header when present.
func ClassifyHTTPStatus(resp *http.Response, platform string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := parseRetryAfter(resp.Header.Get("Retry-After"))
		return coreerr.New(coreerr.CodeRateLimited, platform+": rate limited").
			WithField("retry_after_seconds", wait.Seconds())
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return coreerr.New(coreerr.CodeAuthFailed, platform+": authentication failed")
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return coreerr.New(coreerr.CodeAdapterPermanent, platform+": request rejected as invalid").
			WithField("status", resp.StatusCode)
	case resp.StatusCode >= 500:
		return coreerr.New(coreerr.CodeAdapterTransient, platform+": server error").
			WithField("status", resp.StatusCode)
	default:
		return coreerr.New(coreerr.CodeAdapterTransient, platform+": unexpected status").
			WithField("status", resp.StatusCode)
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 60 * time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 60 * time.Second
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
