package idempotency

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolationDetectsPgCode23505(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", Message: "duplicate key"}
	if !isUniqueViolation(err) {
		t.Fatal("expected 23505 to be detected as a unique violation")
	}
}

func TestIsUniqueViolationIgnoresOtherErrors(t *testing.T) {
	if isUniqueViolation(errors.New("boom")) {
		t.Fatal("expected a plain error to not be classified as a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("expected a foreign-key violation to not be classified as a unique violation")
	}
}
