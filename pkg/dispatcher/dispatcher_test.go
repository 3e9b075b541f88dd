package dispatcher

import (
	"testing"
	"time"

	"github.com/harborstay/channelcore/pkg/coreerr"
)

func TestRetryAfterOfExtractsSecondsField(t *testing.T) {
	err := coreerr.New(coreerr.CodeRateLimited, "rate limited").WithField("retry_after_seconds", float64(90))

	got := retryAfterOf(err)
	if got != 90*time.Second {
		t.Fatalf("expected 90s, got %v", got)
	}
}

func TestRetryAfterOfReturnsZeroWithoutField(t *testing.T) {
	err := coreerr.New(coreerr.CodeRateLimited, "rate limited")
	if got := retryAfterOf(err); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestRetryAfterOfReturnsZeroForUnrelatedError(t *testing.T) {
	if got := retryAfterOf(errPlain("boom")); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
