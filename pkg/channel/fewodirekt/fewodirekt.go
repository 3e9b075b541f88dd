// Package fewodirekt implements channel.Adapter against FeWo-direkt's
// JSON reservation API (spec §6: REST/JSON platforms).
package fewodirekt

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/harborstay/channelcore/pkg/channel"
	"github.com/harborstay/channelcore/pkg/coreerr"
	"github.com/harborstay/channelcore/pkg/inventory"
)

const channelName = "fewodirekt"

// Credentials is the shape stored, encrypted, in Connection.Credentials.
type Credentials struct {
	APIToken      string `json:"api_token"`
	BaseURL       string `json:"base_url"`
	WebhookSecret string `json:"webhook_secret"`
}

// Adapter calls FeWo-direkt's partner API.
type Adapter struct {
	httpClient *http.Client
}

// New builds a FeWo-direkt Adapter.
func New() *Adapter {
	return &Adapter{httpClient: channel.NewHTTPClient()}
}

func (a *Adapter) Name() string { return channelName }

func credentialsOf(conn channel.Connection) (Credentials, error) {
	var c Credentials
	if err := json.Unmarshal(conn.Credentials, &c); err != nil {
		return Credentials{}, coreerr.Wrap(coreerr.CodeAdapterPermanent, channelName+": malformed credentials", err)
	}
	return c, nil
}

type bookingPayload struct {
	UnitID     string `json:"unit_id"`
	BookingRef string `json:"booking_ref,omitempty"`
	Arrival    string `json:"arrival"`
	Departure  string `json:"departure"`
	Persons    int    `json:"persons"`
	State      string `json:"state"`
	PriceMinor int64  `json:"price_minor"`
	Currency   string `json:"currency"`
	GuestName  string `json:"guest_name"`
	GuestEmail string `json:"guest_email"`
}

type bookingResponse struct {
	BookingRef string `json:"booking_ref"`
}

func (a *Adapter) UpsertBooking(ctx context.Context, conn channel.Connection, snapshot channel.BookingSnapshot) (string, error) {
	creds, err := credentialsOf(conn)
	if err != nil {
		return "", err
	}
	payload := bookingPayload{
		UnitID:     conn.ExternalPropertyID,
		BookingRef: snapshot.ExternalID,
		Arrival:    snapshot.CheckIn.Format("2006-01-02"),
		Departure:  snapshot.CheckOut.Format("2006-01-02"),
		Persons:    snapshot.Guests,
		State:      toFewoStatus(snapshot.Status),
		PriceMinor: snapshot.TotalMinor,
		Currency:   snapshot.Currency,
		GuestName:  snapshot.GuestName,
		GuestEmail: snapshot.GuestEmail,
	}

	var result bookingResponse
	if err := a.do(ctx, creds, http.MethodPost, creds.BaseURL+"/partner/v1/bookings", payload, &result); err != nil {
		return "", err
	}
	if result.BookingRef == "" {
		return snapshot.ExternalID, nil
	}
	return result.BookingRef, nil
}

func (a *Adapter) CancelBooking(ctx context.Context, conn channel.Connection, externalID string) error {
	creds, err := credentialsOf(conn)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/partner/v1/bookings/%s/cancel", creds.BaseURL, externalID)
	return a.do(ctx, creds, http.MethodPost, url, struct{}{}, nil)
}

type blockedPayload struct {
	UnitID  string      `json:"unit_id"`
	Periods []dateRange `json:"blocked_periods"`
}

type dateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (a *Adapter) PushAvailability(ctx context.Context, conn channel.Connection, blocks []inventory.AvailabilityBlock) error {
	creds, err := credentialsOf(conn)
	if err != nil {
		return err
	}
	payload := blockedPayload{UnitID: conn.ExternalPropertyID}
	for _, b := range blocks {
		payload.Periods = append(payload.Periods, dateRange{From: b.StartDate.Format("2006-01-02"), To: b.EndDate.Format("2006-01-02")})
	}
	url := creds.BaseURL + "/partner/v1/units/" + conn.ExternalPropertyID + "/availability"
	return a.do(ctx, creds, http.MethodPut, url, payload, nil)
}

type pricingPayload struct {
	UnitID      string           `json:"unit_id"`
	PricesMinor map[string]int64 `json:"prices_minor"`
}

func (a *Adapter) PushPricing(ctx context.Context, conn channel.Connection, perDatePrices map[string]int64) error {
	creds, err := credentialsOf(conn)
	if err != nil {
		return err
	}
	payload := pricingPayload{UnitID: conn.ExternalPropertyID, PricesMinor: perDatePrices}
	url := creds.BaseURL + "/partner/v1/units/" + conn.ExternalPropertyID + "/pricing"
	return a.do(ctx, creds, http.MethodPut, url, payload, nil)
}

type listBookingsResponse struct {
	Bookings []struct {
		BookingRef string `json:"booking_ref"`
		Arrival    string `json:"arrival"`
		Departure  string `json:"departure"`
		Persons    int    `json:"persons"`
		State      string `json:"state"`
		PriceMinor int64  `json:"price_minor"`
		Currency   string `json:"currency"`
	} `json:"bookings"`
}

func (a *Adapter) ListBookings(ctx context.Context, conn channel.Connection, w inventory.Interval) ([]channel.ExternalBookingSnapshot, error) {
	creds, err := credentialsOf(conn)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/partner/v1/units/%s/bookings?from=%s&to=%s",
		creds.BaseURL, conn.ExternalPropertyID, w.From.Format("2006-01-02"), w.To.Format("2006-01-02"))

	var result listBookingsResponse
	if err := a.do(ctx, creds, http.MethodGet, url, nil, &result); err != nil {
		return nil, err
	}

	out := make([]channel.ExternalBookingSnapshot, 0, len(result.Bookings))
	for _, b := range result.Bookings {
		checkIn, _ := time.Parse("2006-01-02", b.Arrival)
		checkOut, _ := time.Parse("2006-01-02", b.Departure)
		out = append(out, channel.ExternalBookingSnapshot{
			ExternalID: b.BookingRef,
			CheckIn:    checkIn,
			CheckOut:   checkOut,
			Guests:     b.Persons,
			Status:     fromFewoStatus(b.State),
			TotalMinor: b.PriceMinor,
			Currency:   b.Currency,
		})
	}
	return out, nil
}

type listAvailabilityResponse struct {
	Periods []dateRange `json:"blocked_periods"`
}

func (a *Adapter) ListAvailability(ctx context.Context, conn channel.Connection, w inventory.Interval) ([]inventory.Interval, error) {
	creds, err := credentialsOf(conn)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/partner/v1/units/%s/availability?from=%s&to=%s",
		creds.BaseURL, conn.ExternalPropertyID, w.From.Format("2006-01-02"), w.To.Format("2006-01-02"))

	var result listAvailabilityResponse
	if err := a.do(ctx, creds, http.MethodGet, url, nil, &result); err != nil {
		return nil, err
	}

	out := make([]inventory.Interval, 0, len(result.Periods))
	for _, dr := range result.Periods {
		from, _ := time.Parse("2006-01-02", dr.From)
		to, _ := time.Parse("2006-01-02", dr.To)
		out = append(out, inventory.Interval{From: from, To: to})
	}
	return out, nil
}

type webhookEnvelope struct {
	EventID string `json:"event_id"`
	UnitID  string `json:"unit_id"`
	Type    string `json:"type"`
	Booking struct {
		BookingRef string `json:"booking_ref"`
		Arrival    string `json:"arrival"`
		Departure  string `json:"departure"`
		Persons    int    `json:"persons"`
		State      string `json:"state"`
		PriceMinor int64  `json:"price_minor"`
		Currency   string `json:"currency"`
	} `json:"booking"`
}

func (a *Adapter) ParseWebhook(headers http.Header, body []byte) (channel.ParsedInboundEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return channel.ParsedInboundEvent{}, coreerr.Wrap(coreerr.CodeAdapterPermanent, channelName+": malformed webhook body", err)
	}

	checkIn, _ := time.Parse("2006-01-02", env.Booking.Arrival)
	checkOut, _ := time.Parse("2006-01-02", env.Booking.Departure)

	kind := channel.InboundBookingUpdated
	switch env.Type {
	case "booking.created":
		kind = channel.InboundBookingCreated
	case "booking.cancelled":
		kind = channel.InboundBookingCancelled
	}

	return channel.ParsedInboundEvent{
		Kind:               kind,
		ExternalMessageID:  env.EventID,
		ExternalPropertyID: env.UnitID,
		Booking: channel.ExternalBookingSnapshot{
			ExternalID: env.Booking.BookingRef,
			CheckIn:    checkIn,
			CheckOut:   checkOut,
			Guests:     env.Booking.Persons,
			Status:     fromFewoStatus(env.Booking.State),
			TotalMinor: env.Booking.PriceMinor,
			Currency:   env.Booking.Currency,
		},
	}, nil
}

// VerifySignature checks the X-Fewo-Token header against the
// connection's shared webhook token; FeWo-direkt's partner webhooks
// carry a static per-partner token rather than a per-request HMAC.
func (a *Adapter) VerifySignature(conn channel.Connection, headers http.Header, body []byte) error {
	creds, err := credentialsOf(conn)
	if err != nil {
		return err
	}
	token := headers.Get("X-Fewo-Token")
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(creds.WebhookSecret)) != 1 {
		return &channel.ErrInvalidSignature{Channel: channelName}
	}
	return nil
}

func (a *Adapter) RefreshCredentials(ctx context.Context, conn channel.Connection) (channel.Connection, error) {
	// FeWo-direkt partner tokens are static; nothing to rotate.
	return conn, nil
}

func (a *Adapter) do(ctx context.Context, creds Credentials, method, url string, payload, out any) error {
	var bodyReader *bytes.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return coreerr.Wrap(coreerr.CodeAdapterPermanent, channelName+": marshalling request", err)
		}
		bodyReader = bytes.NewReader(body)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return coreerr.Wrap(coreerr.CodeAdapterPermanent, channelName+": building request", err)
	}
	req.Header.Set("Authorization", "Token "+creds.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return coreerr.Wrap(coreerr.CodeAdapterTransient, channelName+": calling API", err)
	}
	defer resp.Body.Close()

	if err := channel.ClassifyHTTPStatus(resp, channelName); err != nil {
		return err
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return coreerr.Wrap(coreerr.CodeAdapterTransient, channelName+": decoding response", err)
		}
	}
	return nil
}

func toFewoStatus(s inventory.Status) string {
	switch s {
	case inventory.StatusConfirmed:
		return "confirmed"
	case inventory.StatusCancelled:
		return "cancelled"
	case inventory.StatusCheckedIn:
		return "checked_in"
	case inventory.StatusCheckedOut:
		return "checked_out"
	default:
		return "requested"
	}
}

func fromFewoStatus(s string) inventory.Status {
	switch s {
	case "confirmed":
		return inventory.StatusConfirmed
	case "cancelled", "declined":
		return inventory.StatusCancelled
	case "checked_in":
		return inventory.StatusCheckedIn
	case "checked_out":
		return inventory.StatusCheckedOut
	default:
		return inventory.StatusReserved
	}
}
