// Package expedia implements channel.Adapter against Expedia Partner
// Central's JSON reservation API (spec §6: REST/JSON platforms).
package expedia

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

const channelName = "expedia"

// Credentials is the shape stored, encrypted, in Connection.Credentials.
type Credentials struct {
	APIKey        string `json:"api_key"`
	APISecret     string `json:"api_secret"`
	BaseURL       string `json:"base_url"`
	WebhookSecret string `json:"webhook_secret"`
}

// Adapter calls Expedia Partner Central's integration API.
type Adapter struct {
	httpClient *http.Client
}

// New builds an Expedia Adapter.
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
	PropertyID string `json:"property_id"`
	ItineraryID string `json:"itinerary_id,omitempty"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Occupancy  int    `json:"occupancy"`
	Status     string `json:"status"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	GuestName   string `json:"guest_name"`
	GuestEmail  string `json:"guest_email"`
}

type bookingResponse struct {
	ItineraryID string `json:"itinerary_id"`
}

func (a *Adapter) UpsertBooking(ctx context.Context, conn channel.Connection, snapshot channel.BookingSnapshot) (string, error) {
	creds, err := credentialsOf(conn)
	if err != nil {
		return "", err
	}
	payload := bookingPayload{
		PropertyID:  conn.ExternalPropertyID,
		ItineraryID: snapshot.ExternalID,
		StartDate:   snapshot.CheckIn.Format("2006-01-02"),
		EndDate:     snapshot.CheckOut.Format("2006-01-02"),
		Occupancy:   snapshot.Guests,
		Status:      toExpediaStatus(snapshot.Status),
		AmountMinor: snapshot.TotalMinor,
		Currency:    snapshot.Currency,
		GuestName:   snapshot.GuestName,
		GuestEmail:  snapshot.GuestEmail,
	}

	var result bookingResponse
	if err := a.do(ctx, creds, http.MethodPost, creds.BaseURL+"/eps/v3/itineraries", payload, &result); err != nil {
		return "", err
	}
	if result.ItineraryID == "" {
		return snapshot.ExternalID, nil
	}
	return result.ItineraryID, nil
}

func (a *Adapter) CancelBooking(ctx context.Context, conn channel.Connection, externalID string) error {
	creds, err := credentialsOf(conn)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/eps/v3/itineraries/%s/cancel", creds.BaseURL, externalID)
	return a.do(ctx, creds, http.MethodPost, url, struct{}{}, nil)
}

type ratePlanPayload struct {
	PropertyID string          `json:"property_id"`
	Closed     []dateRange     `json:"closed_dates"`
}

type dateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func (a *Adapter) PushAvailability(ctx context.Context, conn channel.Connection, blocks []inventory.AvailabilityBlock) error {
	creds, err := credentialsOf(conn)
	if err != nil {
		return err
	}
	payload := ratePlanPayload{PropertyID: conn.ExternalPropertyID}
	for _, b := range blocks {
		payload.Closed = append(payload.Closed, dateRange{Start: b.StartDate.Format("2006-01-02"), End: b.EndDate.Format("2006-01-02")})
	}
	url := creds.BaseURL + "/eps/v3/properties/" + conn.ExternalPropertyID + "/availability"
	return a.do(ctx, creds, http.MethodPut, url, payload, nil)
}

type pricingPayload struct {
	PropertyID string           `json:"property_id"`
	RatesMinor map[string]int64 `json:"rates_minor"`
}

func (a *Adapter) PushPricing(ctx context.Context, conn channel.Connection, perDatePrices map[string]int64) error {
	creds, err := credentialsOf(conn)
	if err != nil {
		return err
	}
	payload := pricingPayload{PropertyID: conn.ExternalPropertyID, RatesMinor: perDatePrices}
	url := creds.BaseURL + "/eps/v3/properties/" + conn.ExternalPropertyID + "/rates"
	return a.do(ctx, creds, http.MethodPut, url, payload, nil)
}

type listBookingsResponse struct {
	Itineraries []struct {
		ItineraryID string `json:"itinerary_id"`
		StartDate   string `json:"start_date"`
		EndDate     string `json:"end_date"`
		Occupancy   int    `json:"occupancy"`
		Status      string `json:"status"`
		AmountMinor int64  `json:"amount_minor"`
		Currency    string `json:"currency"`
	} `json:"itineraries"`
}

func (a *Adapter) ListBookings(ctx context.Context, conn channel.Connection, w inventory.Interval) ([]channel.ExternalBookingSnapshot, error) {
	creds, err := credentialsOf(conn)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/eps/v3/properties/%s/itineraries?start=%s&end=%s",
		creds.BaseURL, conn.ExternalPropertyID, w.From.Format("2006-01-02"), w.To.Format("2006-01-02"))

	var result listBookingsResponse
	if err := a.do(ctx, creds, http.MethodGet, url, nil, &result); err != nil {
		return nil, err
	}

	out := make([]channel.ExternalBookingSnapshot, 0, len(result.Itineraries))
	for _, it := range result.Itineraries {
		checkIn, _ := time.Parse("2006-01-02", it.StartDate)
		checkOut, _ := time.Parse("2006-01-02", it.EndDate)
		out = append(out, channel.ExternalBookingSnapshot{
			ExternalID: it.ItineraryID,
			CheckIn:    checkIn,
			CheckOut:   checkOut,
			Guests:     it.Occupancy,
			Status:     fromExpediaStatus(it.Status),
			TotalMinor: it.AmountMinor,
			Currency:   it.Currency,
		})
	}
	return out, nil
}

type listAvailabilityResponse struct {
	Closed []dateRange `json:"closed_dates"`
}

func (a *Adapter) ListAvailability(ctx context.Context, conn channel.Connection, w inventory.Interval) ([]inventory.Interval, error) {
	creds, err := credentialsOf(conn)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/eps/v3/properties/%s/availability?start=%s&end=%s",
		creds.BaseURL, conn.ExternalPropertyID, w.From.Format("2006-01-02"), w.To.Format("2006-01-02"))

	var result listAvailabilityResponse
	if err := a.do(ctx, creds, http.MethodGet, url, nil, &result); err != nil {
		return nil, err
	}

	out := make([]inventory.Interval, 0, len(result.Closed))
	for _, dr := range result.Closed {
		from, _ := time.Parse("2006-01-02", dr.Start)
		to, _ := time.Parse("2006-01-02", dr.End)
		out = append(out, inventory.Interval{From: from, To: to})
	}
	return out, nil
}

type webhookEnvelope struct {
	EventID    string `json:"event_id"`
	PropertyID string `json:"property_id"`
	EventType  string `json:"event_type"`
	Itinerary  struct {
		ItineraryID string `json:"itinerary_id"`
		StartDate   string `json:"start_date"`
		EndDate     string `json:"end_date"`
		Occupancy   int    `json:"occupancy"`
		Status      string `json:"status"`
		AmountMinor int64  `json:"amount_minor"`
		Currency    string `json:"currency"`
	} `json:"itinerary"`
}

func (a *Adapter) ParseWebhook(headers http.Header, body []byte) (channel.ParsedInboundEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return channel.ParsedInboundEvent{}, coreerr.Wrap(coreerr.CodeAdapterPermanent, channelName+": malformed webhook body", err)
	}

	checkIn, _ := time.Parse("2006-01-02", env.Itinerary.StartDate)
	checkOut, _ := time.Parse("2006-01-02", env.Itinerary.EndDate)

	kind := channel.InboundBookingUpdated
	switch env.EventType {
	case "itinerary.created":
		kind = channel.InboundBookingCreated
	case "itinerary.cancelled":
		kind = channel.InboundBookingCancelled
	}

	return channel.ParsedInboundEvent{
		Kind:               kind,
		ExternalMessageID:  env.EventID,
		ExternalPropertyID: env.PropertyID,
		Booking: channel.ExternalBookingSnapshot{
			ExternalID: env.Itinerary.ItineraryID,
			CheckIn:    checkIn,
			CheckOut:   checkOut,
			Guests:     env.Itinerary.Occupancy,
			Status:     fromExpediaStatus(env.Itinerary.Status),
			TotalMinor: env.Itinerary.AmountMinor,
			Currency:   env.Itinerary.Currency,
		},
	}, nil
}

// VerifySignature checks the Expedia-Signature header: an HMAC-SHA256 of
// the raw body, hex-encoded, keyed by the connection's webhook secret.
func (a *Adapter) VerifySignature(conn channel.Connection, headers http.Header, body []byte) error {
	creds, err := credentialsOf(conn)
	if err != nil {
		return err
	}
	sig := headers.Get("Expedia-Signature")
	mac := hmac.New(sha256.New, []byte(creds.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if sig == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) != 1 {
		return &channel.ErrInvalidSignature{Channel: channelName}
	}
	return nil
}

func (a *Adapter) RefreshCredentials(ctx context.Context, conn channel.Connection) (channel.Connection, error) {
	// Expedia EPS keys are static per partner agreement; nothing to rotate.
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
	req.Header.Set("Expedia-API-Key", creds.APIKey)
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

func toExpediaStatus(s inventory.Status) string {
	switch s {
	case inventory.StatusConfirmed:
		return "Booked"
	case inventory.StatusCancelled:
		return "Cancelled"
	case inventory.StatusCheckedIn:
		return "CheckedIn"
	case inventory.StatusCheckedOut:
		return "CheckedOut"
	default:
		return "Pending"
	}
}

func fromExpediaStatus(s string) inventory.Status {
	switch s {
	case "Booked":
		return inventory.StatusConfirmed
	case "Cancelled":
		return inventory.StatusCancelled
	case "CheckedIn":
		return inventory.StatusCheckedIn
	case "CheckedOut":
		return inventory.StatusCheckedOut
	default:
		return inventory.StatusReserved
	}
}
