// Package googlevr implements channel.Adapter against Google Vacation
// Rentals' JSON reservation API, authenticated via OAuth2 (spec §6:
// REST/JSON platforms).
package googlevr

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
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/harborstay/channelcore/pkg/channel"
	"github.com/harborstay/channelcore/pkg/coreerr"
	"github.com/harborstay/channelcore/pkg/inventory"
)

const channelName = "google_vr"

// Credentials is the shape stored, encrypted, in Connection.Credentials.
type Credentials struct {
	ClientID      string    `json:"client_id"`
	ClientSecret  string    `json:"client_secret"`
	RefreshToken  string    `json:"refresh_token"`
	AccessToken   string    `json:"access_token"`
	Expiry        time.Time `json:"expiry"`
	BaseURL       string    `json:"base_url"`
	TokenURL      string    `json:"token_url"`
	WebhookSecret string    `json:"webhook_secret"`
}

// Adapter calls Google Vacation Rentals' partner API.
type Adapter struct {
	httpClient *http.Client
}

// New builds a Google VR Adapter.
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

// oauthConfig builds the client-credentials-style config used to refresh
// an expired access token via the stored refresh token.
func oauthConfig(creds Credentials) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: creds.TokenURL,
		},
	}
}

// RefreshCredentials exchanges the stored refresh token for a new access
// token when the cached one is expired or the platform returns a 401.
func (a *Adapter) RefreshCredentials(ctx context.Context, conn channel.Connection) (channel.Connection, error) {
	creds, err := credentialsOf(conn)
	if err != nil {
		return conn, err
	}

	cfg := oauthConfig(creds)
	token := &oauth2.Token{RefreshToken: creds.RefreshToken}
	src := cfg.TokenSource(ctx, token)

	fresh, err := src.Token()
	if err != nil {
		return conn, coreerr.Wrap(coreerr.CodeAuthFailed, channelName+": refreshing access token", err)
	}

	creds.AccessToken = fresh.AccessToken
	creds.Expiry = fresh.Expiry
	if fresh.RefreshToken != "" {
		creds.RefreshToken = fresh.RefreshToken
	}

	updated, err := json.Marshal(creds)
	if err != nil {
		return conn, coreerr.Wrap(coreerr.CodeInternal, channelName+": marshalling refreshed credentials", err)
	}
	conn.Credentials = updated
	return conn, nil
}

func (a *Adapter) accessToken(ctx context.Context, conn channel.Connection) (Credentials, string, error) {
	creds, err := credentialsOf(conn)
	if err != nil {
		return creds, "", err
	}
	if creds.AccessToken == "" || time.Now().After(creds.Expiry) {
		refreshed, err := a.RefreshCredentials(ctx, conn)
		if err != nil {
			return creds, "", err
		}
		creds, err = credentialsOf(refreshed)
		if err != nil {
			return creds, "", err
		}
	}
	return creds, creds.AccessToken, nil
}

type bookingPayload struct {
	MerchantPropertyID string `json:"merchant_property_id"`
	ReservationID      string `json:"reservation_id,omitempty"`
	CheckInDate        string `json:"check_in_date"`
	CheckOutDate       string `json:"check_out_date"`
	NumberOfGuests     int    `json:"number_of_guests"`
	Status             string `json:"status"`
	TotalPriceMinor    int64  `json:"total_price_minor"`
	CurrencyCode       string `json:"currency_code"`
	GuestName          string `json:"guest_name"`
	GuestEmail         string `json:"guest_email"`
}

type bookingResponse struct {
	ReservationID string `json:"reservation_id"`
}

func (a *Adapter) UpsertBooking(ctx context.Context, conn channel.Connection, snapshot channel.BookingSnapshot) (string, error) {
	creds, token, err := a.accessToken(ctx, conn)
	if err != nil {
		return "", err
	}
	payload := bookingPayload{
		MerchantPropertyID: conn.ExternalPropertyID,
		ReservationID:      snapshot.ExternalID,
		CheckInDate:        snapshot.CheckIn.Format("2006-01-02"),
		CheckOutDate:       snapshot.CheckOut.Format("2006-01-02"),
		NumberOfGuests:     snapshot.Guests,
		Status:             toGoogleStatus(snapshot.Status),
		TotalPriceMinor:    snapshot.TotalMinor,
		CurrencyCode:       snapshot.Currency,
		GuestName:          snapshot.GuestName,
		GuestEmail:         snapshot.GuestEmail,
	}

	var result bookingResponse
	if err := a.do(ctx, creds.BaseURL+"/v1/reservations", http.MethodPost, token, payload, &result); err != nil {
		return "", err
	}
	if result.ReservationID == "" {
		return snapshot.ExternalID, nil
	}
	return result.ReservationID, nil
}

func (a *Adapter) CancelBooking(ctx context.Context, conn channel.Connection, externalID string) error {
	creds, token, err := a.accessToken(ctx, conn)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/v1/reservations/%s:cancel", creds.BaseURL, externalID)
	return a.do(ctx, url, http.MethodPost, token, struct{}{}, nil)
}

type availabilityPayload struct {
	MerchantPropertyID string      `json:"merchant_property_id"`
	UnavailableDates   []dateRange `json:"unavailable_dates"`
}

type dateRange struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func (a *Adapter) PushAvailability(ctx context.Context, conn channel.Connection, blocks []inventory.AvailabilityBlock) error {
	creds, token, err := a.accessToken(ctx, conn)
	if err != nil {
		return err
	}
	payload := availabilityPayload{MerchantPropertyID: conn.ExternalPropertyID}
	for _, b := range blocks {
		payload.UnavailableDates = append(payload.UnavailableDates, dateRange{
			StartDate: b.StartDate.Format("2006-01-02"),
			EndDate:   b.EndDate.Format("2006-01-02"),
		})
	}
	url := creds.BaseURL + "/v1/properties/" + conn.ExternalPropertyID + "/availability"
	return a.do(ctx, url, http.MethodPut, token, payload, nil)
}

type pricingPayload struct {
	MerchantPropertyID string           `json:"merchant_property_id"`
	PricesMinor        map[string]int64 `json:"prices_minor"`
}

func (a *Adapter) PushPricing(ctx context.Context, conn channel.Connection, perDatePrices map[string]int64) error {
	creds, token, err := a.accessToken(ctx, conn)
	if err != nil {
		return err
	}
	payload := pricingPayload{MerchantPropertyID: conn.ExternalPropertyID, PricesMinor: perDatePrices}
	url := creds.BaseURL + "/v1/properties/" + conn.ExternalPropertyID + "/rates"
	return a.do(ctx, url, http.MethodPut, token, payload, nil)
}

type listBookingsResponse struct {
	Reservations []struct {
		ReservationID   string `json:"reservation_id"`
		CheckInDate     string `json:"check_in_date"`
		CheckOutDate    string `json:"check_out_date"`
		NumberOfGuests  int    `json:"number_of_guests"`
		Status          string `json:"status"`
		TotalPriceMinor int64  `json:"total_price_minor"`
		CurrencyCode    string `json:"currency_code"`
	} `json:"reservations"`
}

func (a *Adapter) ListBookings(ctx context.Context, conn channel.Connection, w inventory.Interval) ([]channel.ExternalBookingSnapshot, error) {
	creds, token, err := a.accessToken(ctx, conn)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/properties/%s/reservations?start=%s&end=%s",
		creds.BaseURL, conn.ExternalPropertyID, w.From.Format("2006-01-02"), w.To.Format("2006-01-02"))

	var result listBookingsResponse
	if err := a.do(ctx, url, http.MethodGet, token, nil, &result); err != nil {
		return nil, err
	}

	out := make([]channel.ExternalBookingSnapshot, 0, len(result.Reservations))
	for _, r := range result.Reservations {
		checkIn, _ := time.Parse("2006-01-02", r.CheckInDate)
		checkOut, _ := time.Parse("2006-01-02", r.CheckOutDate)
		out = append(out, channel.ExternalBookingSnapshot{
			ExternalID: r.ReservationID,
			CheckIn:    checkIn,
			CheckOut:   checkOut,
			Guests:     r.NumberOfGuests,
			Status:     fromGoogleStatus(r.Status),
			TotalMinor: r.TotalPriceMinor,
			Currency:   r.CurrencyCode,
		})
	}
	return out, nil
}

type listAvailabilityResponse struct {
	UnavailableDates []dateRange `json:"unavailable_dates"`
}

func (a *Adapter) ListAvailability(ctx context.Context, conn channel.Connection, w inventory.Interval) ([]inventory.Interval, error) {
	creds, token, err := a.accessToken(ctx, conn)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/properties/%s/availability?start=%s&end=%s",
		creds.BaseURL, conn.ExternalPropertyID, w.From.Format("2006-01-02"), w.To.Format("2006-01-02"))

	var result listAvailabilityResponse
	if err := a.do(ctx, url, http.MethodGet, token, nil, &result); err != nil {
		return nil, err
	}

	out := make([]inventory.Interval, 0, len(result.UnavailableDates))
	for _, dr := range result.UnavailableDates {
		from, _ := time.Parse("2006-01-02", dr.StartDate)
		to, _ := time.Parse("2006-01-02", dr.EndDate)
		out = append(out, inventory.Interval{From: from, To: to})
	}
	return out, nil
}

type webhookEnvelope struct {
	NotificationID     string `json:"notification_id"`
	MerchantPropertyID string `json:"merchant_property_id"`
	NotificationType   string `json:"notification_type"`
	Reservation        struct {
		ReservationID   string `json:"reservation_id"`
		CheckInDate     string `json:"check_in_date"`
		CheckOutDate    string `json:"check_out_date"`
		NumberOfGuests  int    `json:"number_of_guests"`
		Status          string `json:"status"`
		TotalPriceMinor int64  `json:"total_price_minor"`
		CurrencyCode    string `json:"currency_code"`
	} `json:"reservation"`
}

func (a *Adapter) ParseWebhook(headers http.Header, body []byte) (channel.ParsedInboundEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return channel.ParsedInboundEvent{}, coreerr.Wrap(coreerr.CodeAdapterPermanent, channelName+": malformed webhook body", err)
	}

	checkIn, _ := time.Parse("2006-01-02", env.Reservation.CheckInDate)
	checkOut, _ := time.Parse("2006-01-02", env.Reservation.CheckOutDate)

	kind := channel.InboundBookingUpdated
	switch env.NotificationType {
	case "RESERVATION_CREATED":
		kind = channel.InboundBookingCreated
	case "RESERVATION_CANCELLED":
		kind = channel.InboundBookingCancelled
	}

	return channel.ParsedInboundEvent{
		Kind:               kind,
		ExternalMessageID:  env.NotificationID,
		ExternalPropertyID: env.MerchantPropertyID,
		Booking: channel.ExternalBookingSnapshot{
			ExternalID: env.Reservation.ReservationID,
			CheckIn:    checkIn,
			CheckOut:   checkOut,
			Guests:     env.Reservation.NumberOfGuests,
			Status:     fromGoogleStatus(env.Reservation.Status),
			TotalMinor: env.Reservation.TotalPriceMinor,
			Currency:   env.Reservation.CurrencyCode,
		},
	}, nil
}

// VerifySignature checks the Authorization header's "Bearer <hex>" token:
// an HMAC-SHA256 of the raw body, keyed by the connection's webhook
// secret.
func (a *Adapter) VerifySignature(conn channel.Connection, headers http.Header, body []byte) error {
	creds, err := credentialsOf(conn)
	if err != nil {
		return err
	}
	sig := strings.TrimPrefix(headers.Get("Authorization"), "Bearer ")
	mac := hmac.New(sha256.New, []byte(creds.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if sig == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) != 1 {
		return &channel.ErrInvalidSignature{Channel: channelName}
	}
	return nil
}

func (a *Adapter) do(ctx context.Context, url, method, accessToken string, payload, out any) error {
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
	req.Header.Set("Authorization", "Bearer "+accessToken)
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

func toGoogleStatus(s inventory.Status) string {
	switch s {
	case inventory.StatusConfirmed:
		return "CONFIRMED"
	case inventory.StatusCancelled:
		return "CANCELLED"
	case inventory.StatusCheckedIn:
		return "CHECKED_IN"
	case inventory.StatusCheckedOut:
		return "CHECKED_OUT"
	default:
		return "PENDING"
	}
}

func fromGoogleStatus(s string) inventory.Status {
	switch s {
	case "CONFIRMED":
		return inventory.StatusConfirmed
	case "CANCELLED", "DECLINED":
		return inventory.StatusCancelled
	case "CHECKED_IN":
		return inventory.StatusCheckedIn
	case "CHECKED_OUT":
		return inventory.StatusCheckedOut
	default:
		return inventory.StatusReserved
	}
}
