package coreerr

import (
	"errors"
	"testing"
)

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeStoreUnavailable, "acquiring connection", cause)

	if !errors.Is(err, err) {
		t.Fatalf("expected errors.Is to match itself")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Fatalf("expected unwrap to expose cause")
	}
}

func TestCodeOfDefaultsToInternal(t *testing.T) {
	if got := CodeOf(errors.New("plain")); got != CodeInternal {
		t.Fatalf("expected CodeInternal for unclassified error, got %s", got)
	}
}

func TestClassification(t *testing.T) {
	cases := []struct {
		code            Code
		conflict        bool
		integration     bool
		infrastructure  bool
	}{
		{CodeConcurrentBooking, true, false, false},
		{CodeDatesUnavailable, true, false, false},
		{CodeRateLimited, false, true, false},
		{CodeCircuitOpen, false, true, false},
		{CodeAuthFailed, false, true, false},
		{CodeStoreUnavailable, false, false, true},
		{CodeInternal, false, false, true},
		{CodeInvalidState, false, false, false},
	}

	for _, c := range cases {
		err := New(c.code, "x")
		if got := IsConflict(err); got != c.conflict {
			t.Errorf("%s: IsConflict = %v, want %v", c.code, got, c.conflict)
		}
		if got := IsIntegration(err); got != c.integration {
			t.Errorf("%s: IsIntegration = %v, want %v", c.code, got, c.integration)
		}
		if got := IsInfrastructure(err); got != c.infrastructure {
			t.Errorf("%s: IsInfrastructure = %v, want %v", c.code, got, c.infrastructure)
		}
	}
}

func TestPublicRedactsDetail(t *testing.T) {
	err := Wrap(CodeInternal, "db exploded with secret details", errors.New("password=hunter2")).
		WithCorrelationID("corr-1").
		WithField("booking_id", "abc")

	pub := err.Public()
	if pub["code"] != string(CodeInternal) {
		t.Fatalf("expected code in public view")
	}
	if pub["correlation_id"] != "corr-1" {
		t.Fatalf("expected correlation id in public view")
	}
	for _, v := range pub {
		if v == "db exploded with secret details" {
			t.Fatalf("public view leaked internal message")
		}
	}
}
