package airbnb

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/harborstay/channelcore/pkg/channel"
	"github.com/harborstay/channelcore/pkg/inventory"
)

func TestStatusRoundTripsThroughAirbnbVocabulary(t *testing.T) {
	cases := []inventory.Status{
		inventory.StatusConfirmed, inventory.StatusCancelled,
		inventory.StatusCheckedIn, inventory.StatusCheckedOut,
	}
	for _, st := range cases {
		got := fromAirbnbStatus(toAirbnbStatus(st))
		if got != st {
			t.Errorf("status %s round-tripped to %s", st, got)
		}
	}
}

func TestFromAirbnbStatusUnknownDefaultsToReserved(t *testing.T) {
	if got := fromAirbnbStatus("something_new"); got != inventory.StatusReserved {
		t.Fatalf("expected StatusReserved for unknown status, got %s", got)
	}
}

func TestVerifySignatureRejectsWrongSecret(t *testing.T) {
	body := []byte(`{"event_type":"reservation.created"}`)
	sig := "0000000000000000000000000000000000000000000000000000000000000000"

	creds, _ := json.Marshal(Credentials{WebhookSecret: "secret"})
	conn := channel.Connection{Credentials: creds}

	headers := http.Header{}
	headers.Set("X-Airbnb-Signature", sig)

	a := New()
	if err := a.VerifySignature(conn, headers, body); err == nil {
		t.Fatal("expected mismatched signature to fail verification")
	}
}

func TestVerifySignatureAcceptsMatchingSecret(t *testing.T) {
	body := []byte(`{"event_type":"reservation.created"}`)
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	creds, _ := json.Marshal(Credentials{WebhookSecret: "secret"})
	conn := channel.Connection{Credentials: creds}

	headers := http.Header{}
	headers.Set("X-Airbnb-Signature", sig)

	a := New()
	if err := a.VerifySignature(conn, headers, body); err != nil {
		t.Fatalf("expected matching signature to verify, got %v", err)
	}
}
