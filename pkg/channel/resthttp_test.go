package channel

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/harborstay/channelcore/pkg/coreerr"
)

func newResponse(status int, headers map[string]string) *http.Response {
	rec := httptest.NewRecorder()
	for k, v := range headers {
		rec.Header().Set(k, v)
	}
	rec.WriteHeader(status)
	return rec.Result()
}

func TestClassifyHTTPStatusSuccess(t *testing.T) {
	if err := ClassifyHTTPStatus(newResponse(http.StatusOK, nil), "test"); err != nil {
		t.Fatalf("expected no error for 200, got %v", err)
	}
}

func TestClassifyHTTPStatusRateLimited(t *testing.T) {
	err := ClassifyHTTPStatus(newResponse(http.StatusTooManyRequests, map[string]string{"Retry-After": "30"}), "test")
	if coreerr.CodeOf(err) != coreerr.CodeRateLimited {
		t.Fatalf("expected CodeRateLimited, got %v", coreerr.CodeOf(err))
	}
}

func TestClassifyHTTPStatusAuthFailed(t *testing.T) {
	err := ClassifyHTTPStatus(newResponse(http.StatusUnauthorized, nil), "test")
	if coreerr.CodeOf(err) != coreerr.CodeAuthFailed {
		t.Fatalf("expected CodeAuthFailed, got %v", coreerr.CodeOf(err))
	}
}

func TestClassifyHTTPStatusPermanentValidation(t *testing.T) {
	err := ClassifyHTTPStatus(newResponse(http.StatusUnprocessableEntity, nil), "test")
	if coreerr.CodeOf(err) != coreerr.CodeAdapterPermanent {
		t.Fatalf("expected CodeAdapterPermanent, got %v", coreerr.CodeOf(err))
	}
}

func TestClassifyHTTPStatusTransientOnServerError(t *testing.T) {
	err := ClassifyHTTPStatus(newResponse(http.StatusBadGateway, nil), "test")
	if coreerr.CodeOf(err) != coreerr.CodeAdapterTransient {
		t.Fatalf("expected CodeAdapterTransient, got %v", coreerr.CodeOf(err))
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	d := parseRetryAfter("45")
	if d.Seconds() != 45 {
		t.Fatalf("expected 45s, got %v", d)
	}
}

func TestParseRetryAfterDefaultsWhenEmpty(t *testing.T) {
	d := parseRetryAfter("")
	if d.Seconds() != 60 {
		t.Fatalf("expected default 60s, got %v", d)
	}
}
