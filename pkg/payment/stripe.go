// Package payment adapts the external payment processor the Booking Core
// depends on (spec §4.6.1 "orchestrates ... never trusts client-supplied
// totals") behind the small interface pkg/booking defines. Stripe is the
// concrete processor; nothing in pkg/booking imports this package
// directly, only the interface it satisfies.
package payment

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// StripeProcessor implements booking.PaymentProcessor against the Stripe
// PaymentIntents API.
type StripeProcessor struct {
	sc *client.API
}

// NewStripeProcessor creates a processor authenticated with secretKey.
func NewStripeProcessor(secretKey string) *StripeProcessor {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeProcessor{sc: sc}
}

// CreateIntent opens a payment intent for amountMinor in currency and
// returns its id, to be persisted on the booking (spec §4.6.3).
func (p *StripeProcessor) CreateIntent(ctx context.Context, amountMinor int64, currency string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountMinor),
		Currency: stripe.String(currency),
	}
	params.Context = ctx

	pi, err := p.sc.PaymentIntents.New(params)
	if err != nil {
		return "", fmt.Errorf("payment: creating intent: %w", err)
	}
	return pi.ID, nil
}

// CancelIntent cancels an open intent, used when a reservation is
// abandoned or swept by the checkout timeout.
func (p *StripeProcessor) CancelIntent(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx

	if _, err := p.sc.PaymentIntents.Cancel(intentID, params); err != nil {
		return fmt.Errorf("payment: cancelling intent %s: %w", intentID, err)
	}
	return nil
}

// VerifyProof reports whether intentID has actually succeeded on the
// processor's side. The client-supplied proof is never trusted on its
// own — it only identifies which intent to re-check (spec §4.6.1).
func (p *StripeProcessor) VerifyProof(ctx context.Context, intentID, proof string) (bool, error) {
	return p.IsSucceeded(ctx, intentID)
}

// IsSucceeded reports whether intentID is currently in a succeeded state,
// used by the checkout timeout sweeper to avoid cancelling a booking that
// was in fact paid (spec §4.6.3).
func (p *StripeProcessor) IsSucceeded(ctx context.Context, intentID string) (bool, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := p.sc.PaymentIntents.Get(intentID, params)
	if err != nil {
		return false, fmt.Errorf("payment: checking intent %s: %w", intentID, err)
	}
	return pi.Status == stripe.PaymentIntentStatusSucceeded, nil
}
