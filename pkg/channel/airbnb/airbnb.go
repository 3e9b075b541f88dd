// Package airbnb implements channel.Adapter against Airbnb's JSON
// reservation API (spec §6: "Airbnb, Expedia, FeWo-direkt, Google
// Vacation Rentals: REST/JSON").
package airbnb

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/harborstay/channelcore/pkg/channel"
	"github.com/harborstay/channelcore/pkg/coreerr"
	"github.com/harborstay/channelcore/pkg/inventory"
)

const channelName = "airbnb"

// Credentials is the shape stored, encrypted, in Connection.Credentials.
type Credentials struct {
	APIKey        string `json:"api_key"`
	BaseURL       string `json:"base_url"`
	WebhookSecret string `json:"webhook_secret"`
}

// Adapter calls Airbnb's integration API.
type Adapter struct {
	httpClient *http.Client
}

// New builds an Airbnb Adapter.
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
	ListingID  string `json:"listing_id"`
	LocalID    string `json:"local_reservation_id"`
	CheckIn    string `json:"check_in"`
	CheckOut   string `json:"check_out"`
	Guests     int    `json:"guests"`
	Status     string `json:"status"`
	TotalMinor int64  `json:"total_minor"`
	Currency   string `json:"currency"`
	GuestName  string `json:"guest_name"`
	GuestEmail string `json:"guest_email"`
}

type bookingResponse struct {
	ReservationID string `json:"reservation_id"`
}

func (a *Adapter) UpsertBooking(ctx context.Context, conn channel.Connection, snapshot channel.BookingSnapshot) (string, error) {
	creds, err := credentialsOf(conn)
	if err != nil {
		return "", err
	}

	payload := bookingPayload{
		ListingID:  conn.ExternalPropertyID,
		LocalID:    snapshot.LocalID.String(),
		CheckIn:    snapshot.CheckIn.Format("2006-01-02"),
		CheckOut:   snapshot.CheckOut.Format("2006-01-02"),
		Guests:     snapshot.Guests,
		Status:     toAirbnbStatus(snapshot.Status),
		TotalMinor: snapshot.TotalMinor,
		Currency:   snapshot.Currency,
		GuestName:  snapshot.GuestName,
		GuestEmail: snapshot.GuestEmail,
	}

	method, url := http.MethodPost, creds.BaseURL+"/v2/reservations"
	if snapshot.ExternalID != "" {
		method, url = http.MethodPut, creds.BaseURL+"/v2/reservations/"+snapshot.ExternalID
	}

	var result bookingResponse
	if err := a.do(ctx, creds, method, url, payload, &result); err != nil {
		return "", err
	}
	if result.ReservationID == "" {
		return snapshot.ExternalID, nil
	}
	return result.ReservationID, nil
}

func (a *Adapter) CancelBooking(ctx context.Context, conn channel.Connection, externalID string) error {
	creds, err := credentialsOf(conn)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/v2/reservations/%s/cancel", creds.BaseURL, externalID)
	return a.do(ctx, creds, http.MethodPost, url, struct{}{}, nil)
}

type availabilityPayload struct {
	ListingID string   `json:"listing_id"`
	Blocked   []window `json:"blocked_dates"`
}

type window struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (a *Adapter) PushAvailability(ctx context.Context, conn channel.Connection, blocks []inventory.AvailabilityBlock) error {
	creds, err := credentialsOf(conn)
	if err != nil {
		return err
	}
	payload := availabilityPayload{ListingID: conn.ExternalPropertyID}
	for _, b := range blocks {
		payload.Blocked = append(payload.Blocked, window{
			From: b.StartDate.Format("2006-01-02"),
			To:   b.EndDate.Format("2006-01-02"),
		})
	}
	url := creds.BaseURL + "/v2/listings/" + conn.ExternalPropertyID + "/calendar"
	return a.do(ctx, creds, http.MethodPut, url, payload, nil)
}

type pricingPayload struct {
	ListingID string           `json:"listing_id"`
	Prices    map[string]int64 `json:"prices_minor"`
}

func (a *Adapter) PushPricing(ctx context.Context, conn channel.Connection, perDatePrices map[string]int64) error {
	creds, err := credentialsOf(conn)
	if err != nil {
		return err
	}
	payload := pricingPayload{ListingID: conn.ExternalPropertyID, Prices: perDatePrices}
	url := creds.BaseURL + "/v2/listings/" + conn.ExternalPropertyID + "/pricing"
	return a.do(ctx, creds, http.MethodPut, url, payload, nil)
}

type listBookingsResponse struct {
	Reservations []struct {
		ReservationID string `json:"reservation_id"`
		CheckIn       string `json:"check_in"`
		CheckOut      string `json:"check_out"`
		Guests        int    `json:"guests"`
		Status        string `json:"status"`
		TotalMinor    int64  `json:"total_minor"`
		Currency      string `json:"currency"`
	} `json:"reservations"`
}

func (a *Adapter) ListBookings(ctx context.Context, conn channel.Connection, w inventory.Interval) ([]channel.ExternalBookingSnapshot, error) {
	creds, err := credentialsOf(conn)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v2/listings/%s/reservations?from=%s&to=%s",
		creds.BaseURL, conn.ExternalPropertyID, w.From.Format("2006-01-02"), w.To.Format("2006-01-02"))

	var result listBookingsResponse
	if err := a.do(ctx, creds, http.MethodGet, url, nil, &result); err != nil {
		return nil, err
	}

	out := make([]channel.ExternalBookingSnapshot, 0, len(result.Reservations))
	for _, r := range result.Reservations {
		checkIn, _ := time.Parse("2006-01-02", r.CheckIn)
		checkOut, _ := time.Parse("2006-01-02", r.CheckOut)
		out = append(out, channel.ExternalBookingSnapshot{
			ExternalID: r.ReservationID,
			CheckIn:    checkIn,
			CheckOut:   checkOut,
			Guests:     r.Guests,
			Status:     fromAirbnbStatus(r.Status),
			TotalMinor: r.TotalMinor,
			Currency:   r.Currency,
		})
	}
	return out, nil
}

type listAvailabilityResponse struct {
	Blocked []window `json:"blocked_dates"`
}

func (a *Adapter) ListAvailability(ctx context.Context, conn channel.Connection, w inventory.Interval) ([]inventory.Interval, error) {
	creds, err := credentialsOf(conn)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v2/listings/%s/calendar?from=%s&to=%s",
		creds.BaseURL, conn.ExternalPropertyID, w.From.Format("2006-01-02"), w.To.Format("2006-01-02"))

	var result listAvailabilityResponse
	if err := a.do(ctx, creds, http.MethodGet, url, nil, &result); err != nil {
		return nil, err
	}

	out := make([]inventory.Interval, 0, len(result.Blocked))
	for _, win := range result.Blocked {
		from, _ := time.Parse("2006-01-02", win.From)
		to, _ := time.Parse("2006-01-02", win.To)
		out = append(out, inventory.Interval{From: from, To: to})
	}
	return out, nil
}

type webhookEnvelope struct {
	MessageID  string `json:"message_id"`
	ListingID  string `json:"listing_id"`
	EventType  string `json:"event_type"`
	Reservation struct {
		ReservationID string `json:"reservation_id"`
		CheckIn       string `json:"check_in"`
		CheckOut      string `json:"check_out"`
		Guests        int    `json:"guests"`
		Status        string `json:"status"`
		TotalMinor    int64  `json:"total_minor"`
		Currency      string `json:"currency"`
	} `json:"reservation"`
}

func (a *Adapter) ParseWebhook(headers http.Header, body []byte) (channel.ParsedInboundEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return channel.ParsedInboundEvent{}, coreerr.Wrap(coreerr.CodeAdapterPermanent, channelName+": malformed webhook body", err)
	}

	checkIn, _ := time.Parse("2006-01-02", env.Reservation.CheckIn)
	checkOut, _ := time.Parse("2006-01-02", env.Reservation.CheckOut)

	kind := channel.InboundBookingUpdated
	switch env.EventType {
	case "reservation.created":
		kind = channel.InboundBookingCreated
	case "reservation.cancelled":
		kind = channel.InboundBookingCancelled
	}

	return channel.ParsedInboundEvent{
		Kind:               kind,
		ExternalMessageID:  env.MessageID,
		ExternalPropertyID: env.ListingID,
		Booking: channel.ExternalBookingSnapshot{
			ExternalID: env.Reservation.ReservationID,
			CheckIn:    checkIn,
			CheckOut:   checkOut,
			Guests:     env.Reservation.Guests,
			Status:     fromAirbnbStatus(env.Reservation.Status),
			TotalMinor: env.Reservation.TotalMinor,
			Currency:   env.Reservation.Currency,
		},
	}, nil
}

// VerifySignature checks the X-Airbnb-Signature header: an HMAC-SHA256
// of the raw body, hex-encoded, keyed by the connection's webhook secret.
func (a *Adapter) VerifySignature(conn channel.Connection, headers http.Header, body []byte) error {
	creds, err := credentialsOf(conn)
	if err != nil {
		return err
	}
	sig := headers.Get("X-Airbnb-Signature")
	if sig == "" || !verifyHMACHex(creds.WebhookSecret, sig, body) {
		return &channel.ErrInvalidSignature{Channel: channelName}
	}
	return nil
}

func verifyHMACHex(secret, signatureHeader string, body []byte) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signatureHeader)) == 1
}

func (a *Adapter) RefreshCredentials(ctx context.Context, conn channel.Connection) (channel.Connection, error) {
	// Airbnb API keys are long-lived and do not rotate; nothing to refresh.
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
	req.Header.Set("Authorization", "Bearer "+creds.APIKey)
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

func toAirbnbStatus(s inventory.Status) string {
	switch s {
	case inventory.StatusConfirmed:
		return "accepted"
	case inventory.StatusCancelled:
		return "cancelled"
	case inventory.StatusCheckedIn:
		return "checked_in"
	case inventory.StatusCheckedOut:
		return "checked_out"
	default:
		return "pending"
	}
}

func fromAirbnbStatus(s string) inventory.Status {
	switch s {
	case "accepted":
		return inventory.StatusConfirmed
	case "cancelled", "denied":
		return inventory.StatusCancelled
	case "checked_in":
		return inventory.StatusCheckedIn
	case "checked_out":
		return inventory.StatusCheckedOut
	default:
		return inventory.StatusReserved
	}
}
