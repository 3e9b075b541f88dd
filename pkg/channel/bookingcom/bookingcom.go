// Package bookingcom implements channel.Adapter against Booking.com's
// XML-based OTA reservation interface (spec §6: "Booking.com: XML").
package bookingcom

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"encoding/xml"
	"net/http"
	"time"

	"github.com/harborstay/channelcore/pkg/channel"
	"github.com/harborstay/channelcore/pkg/coreerr"
	"github.com/harborstay/channelcore/pkg/inventory"
)

const channelName = "booking_com"

// Credentials is the shape stored, encrypted, in Connection.Credentials.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	BaseURL  string `json:"base_url"`
}

// Adapter calls Booking.com's XML OTA gateway.
type Adapter struct {
	httpClient *http.Client
}

// New builds a Booking.com Adapter.
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

// otaReservation mirrors the subset of the OTA_HotelResNotifRQ reservation
// element this adapter round-trips.
type otaReservation struct {
	XMLName    xml.Name `xml:"Reservation"`
	HotelCode  string   `xml:"HotelCode,attr"`
	ResID      string   `xml:"ResID,omitempty"`
	ArrivalDate string  `xml:"ArrivalDate"`
	DepartureDate string `xml:"DepartureDate"`
	Adults     int      `xml:"GuestCounts>Adults"`
	Status     string   `xml:"ResStatus"`
	TotalMinor int64    `xml:"Total>AmountMinor"`
	Currency   string   `xml:"Total>CurrencyCode"`
	GuestName  string   `xml:"GuestName"`
	GuestEmail string   `xml:"GuestEmail"`
}

type otaResponse struct {
	XMLName xml.Name `xml:"OTA_HotelResNotifRS"`
	Success *struct{} `xml:"Success"`
	Errors  []struct {
		ShortText string `xml:"ShortText,attr"`
	} `xml:"Errors>Error"`
	ResID string `xml:"ResID"`
}

func (a *Adapter) UpsertBooking(ctx context.Context, conn channel.Connection, snapshot channel.BookingSnapshot) (string, error) {
	creds, err := credentialsOf(conn)
	if err != nil {
		return "", err
	}

	res := otaReservation{
		HotelCode:     conn.ExternalPropertyID,
		ResID:         snapshot.ExternalID,
		ArrivalDate:   snapshot.CheckIn.Format("2006-01-02"),
		DepartureDate: snapshot.CheckOut.Format("2006-01-02"),
		Adults:        snapshot.Guests,
		Status:        toBookingComStatus(snapshot.Status),
		TotalMinor:    snapshot.TotalMinor,
		Currency:      snapshot.Currency,
		GuestName:     snapshot.GuestName,
		GuestEmail:    snapshot.GuestEmail,
	}

	var result otaResponse
	if err := a.do(ctx, creds, creds.BaseURL+"/ota/hotelResNotif", res, &result); err != nil {
		return "", err
	}
	if len(result.Errors) > 0 {
		return "", coreerr.New(coreerr.CodeAdapterPermanent, channelName+": "+result.Errors[0].ShortText)
	}
	if result.ResID == "" {
		return snapshot.ExternalID, nil
	}
	return result.ResID, nil
}

func (a *Adapter) CancelBooking(ctx context.Context, conn channel.Connection, externalID string) error {
	creds, err := credentialsOf(conn)
	if err != nil {
		return err
	}
	res := otaReservation{
		HotelCode: conn.ExternalPropertyID,
		ResID:     externalID,
		Status:    "Cancel",
	}
	var result otaResponse
	if err := a.do(ctx, creds, creds.BaseURL+"/ota/hotelResNotif", res, &result); err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		return coreerr.New(coreerr.CodeAdapterPermanent, channelName+": "+result.Errors[0].ShortText)
	}
	return nil
}

type otaAvailNotif struct {
	XMLName   xml.Name `xml:"OTA_HotelAvailNotifRQ"`
	HotelCode string   `xml:"HotelCode,attr"`
	Closed    []struct {
		Start string `xml:"Start,attr"`
		End   string `xml:"End,attr"`
	} `xml:"AvailStatusMessages>AvailStatusMessage>StatusApplicationControl"`
}

func (a *Adapter) PushAvailability(ctx context.Context, conn channel.Connection, blocks []inventory.AvailabilityBlock) error {
	creds, err := credentialsOf(conn)
	if err != nil {
		return err
	}
	notif := otaAvailNotif{HotelCode: conn.ExternalPropertyID}
	for _, b := range blocks {
		notif.Closed = append(notif.Closed, struct {
			Start string `xml:"Start,attr"`
			End   string `xml:"End,attr"`
		}{Start: b.StartDate.Format("2006-01-02"), End: b.EndDate.Format("2006-01-02")})
	}
	var result otaResponse
	return a.do(ctx, creds, creds.BaseURL+"/ota/hotelAvailNotif", notif, &result)
}

type otaRateNotif struct {
	XMLName   xml.Name `xml:"OTA_HotelRateAmountNotifRQ"`
	HotelCode string   `xml:"HotelCode,attr"`
	Rates     []struct {
		Date        string `xml:"Date,attr"`
		AmountMinor int64  `xml:"AmountMinor,attr"`
	} `xml:"RateAmountMessages>RateAmountMessage"`
}

func (a *Adapter) PushPricing(ctx context.Context, conn channel.Connection, perDatePrices map[string]int64) error {
	creds, err := credentialsOf(conn)
	if err != nil {
		return err
	}
	notif := otaRateNotif{HotelCode: conn.ExternalPropertyID}
	for date, price := range perDatePrices {
		notif.Rates = append(notif.Rates, struct {
			Date        string `xml:"Date,attr"`
			AmountMinor int64  `xml:"AmountMinor,attr"`
		}{Date: date, AmountMinor: price})
	}
	var result otaResponse
	return a.do(ctx, creds, creds.BaseURL+"/ota/hotelRateAmountNotif", notif, &result)
}

type otaResRequest struct {
	XMLName   xml.Name `xml:"OTA_HotelResRQ"`
	HotelCode string   `xml:"HotelCode,attr"`
	Start     string   `xml:"StartDate,attr"`
	End       string   `xml:"EndDate,attr"`
}

type otaResListResponse struct {
	XMLName      xml.Name         `xml:"OTA_HotelResRS"`
	Reservations []otaReservation `xml:"Reservations>Reservation"`
}

func (a *Adapter) ListBookings(ctx context.Context, conn channel.Connection, w inventory.Interval) ([]channel.ExternalBookingSnapshot, error) {
	creds, err := credentialsOf(conn)
	if err != nil {
		return nil, err
	}
	req := otaResRequest{HotelCode: conn.ExternalPropertyID, Start: w.From.Format("2006-01-02"), End: w.To.Format("2006-01-02")}

	var result otaResListResponse
	if err := a.do(ctx, creds, creds.BaseURL+"/ota/hotelResQuery", req, &result); err != nil {
		return nil, err
	}

	out := make([]channel.ExternalBookingSnapshot, 0, len(result.Reservations))
	for _, r := range result.Reservations {
		checkIn, _ := time.Parse("2006-01-02", r.ArrivalDate)
		checkOut, _ := time.Parse("2006-01-02", r.DepartureDate)
		out = append(out, channel.ExternalBookingSnapshot{
			ExternalID: r.ResID,
			CheckIn:    checkIn,
			CheckOut:   checkOut,
			Guests:     r.Adults,
			Status:     fromBookingComStatus(r.Status),
			TotalMinor: r.TotalMinor,
			Currency:   r.Currency,
		})
	}
	return out, nil
}

type otaAvailRequest struct {
	XMLName   xml.Name `xml:"OTA_HotelAvailRQ"`
	HotelCode string   `xml:"HotelCode,attr"`
	Start     string   `xml:"StartDate,attr"`
	End       string   `xml:"EndDate,attr"`
}

type otaAvailResponse struct {
	XMLName xml.Name `xml:"OTA_HotelAvailRS"`
	Closed  []struct {
		Start string `xml:"Start,attr"`
		End   string `xml:"End,attr"`
	} `xml:"AvailStatusMessages>AvailStatusMessage>StatusApplicationControl"`
}

func (a *Adapter) ListAvailability(ctx context.Context, conn channel.Connection, w inventory.Interval) ([]inventory.Interval, error) {
	creds, err := credentialsOf(conn)
	if err != nil {
		return nil, err
	}
	req := otaAvailRequest{HotelCode: conn.ExternalPropertyID, Start: w.From.Format("2006-01-02"), End: w.To.Format("2006-01-02")}

	var result otaAvailResponse
	if err := a.do(ctx, creds, creds.BaseURL+"/ota/hotelAvailQuery", req, &result); err != nil {
		return nil, err
	}

	out := make([]inventory.Interval, 0, len(result.Closed))
	for _, c := range result.Closed {
		from, _ := time.Parse("2006-01-02", c.Start)
		to, _ := time.Parse("2006-01-02", c.End)
		out = append(out, inventory.Interval{From: from, To: to})
	}
	return out, nil
}

type otaResNotifRQ struct {
	XMLName         xml.Name       `xml:"OTA_HotelResNotifRQ"`
	UniqueID        string         `xml:"UniqueID>ID,attr"`
	ResStatusType   string         `xml:"ResStatusType,attr"`
	Reservation     otaReservation `xml:"Reservation"`
}

func (a *Adapter) ParseWebhook(headers http.Header, body []byte) (channel.ParsedInboundEvent, error) {
	var env otaResNotifRQ
	if err := xml.Unmarshal(body, &env); err != nil {
		return channel.ParsedInboundEvent{}, coreerr.Wrap(coreerr.CodeAdapterPermanent, channelName+": malformed webhook body", err)
	}

	checkIn, _ := time.Parse("2006-01-02", env.Reservation.ArrivalDate)
	checkOut, _ := time.Parse("2006-01-02", env.Reservation.DepartureDate)

	kind := channel.InboundBookingUpdated
	switch env.ResStatusType {
	case "Commit":
		kind = channel.InboundBookingCreated
	case "Cancel":
		kind = channel.InboundBookingCancelled
	}

	return channel.ParsedInboundEvent{
		Kind:               kind,
		ExternalMessageID:  env.UniqueID,
		ExternalPropertyID: env.Reservation.HotelCode,
		Booking: channel.ExternalBookingSnapshot{
			ExternalID: env.Reservation.ResID,
			CheckIn:    checkIn,
			CheckOut:   checkOut,
			Guests:     env.Reservation.Adults,
			Status:     fromBookingComStatus(env.Reservation.Status),
			TotalMinor: env.Reservation.TotalMinor,
			Currency:   env.Reservation.Currency,
		},
	}, nil
}

// VerifySignature checks the inbound push's HTTP Basic Auth credentials
// against the connection's own OTA username/password, matching how
// Booking.com's supply XML gateway authenticates outbound pushes.
func (a *Adapter) VerifySignature(conn channel.Connection, headers http.Header, body []byte) error {
	creds, err := credentialsOf(conn)
	if err != nil {
		return err
	}
	user, pass, ok := (&http.Request{Header: headers}).BasicAuth()
	if !ok ||
		subtle.ConstantTimeCompare([]byte(user), []byte(creds.Username)) != 1 ||
		subtle.ConstantTimeCompare([]byte(pass), []byte(creds.Password)) != 1 {
		return &channel.ErrInvalidSignature{Channel: channelName}
	}
	return nil
}

func (a *Adapter) RefreshCredentials(ctx context.Context, conn channel.Connection) (channel.Connection, error) {
	// Booking.com's OTA gateway authenticates on basic auth per request;
	// nothing to refresh.
	return conn, nil
}

func (a *Adapter) do(ctx context.Context, creds Credentials, url string, payload, out any) error {
	body, err := xml.Marshal(payload)
	if err != nil {
		return coreerr.Wrap(coreerr.CodeAdapterPermanent, channelName+": marshalling XML request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return coreerr.Wrap(coreerr.CodeAdapterPermanent, channelName+": building request", err)
	}
	req.SetBasicAuth(creds.Username, creds.Password)
	req.Header.Set("Content-Type", "application/xml")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return coreerr.Wrap(coreerr.CodeAdapterTransient, channelName+": calling API", err)
	}
	defer resp.Body.Close()

	if err := channel.ClassifyHTTPStatus(resp, channelName); err != nil {
		return err
	}

	if out != nil {
		if err := xml.NewDecoder(resp.Body).Decode(out); err != nil {
			return coreerr.Wrap(coreerr.CodeAdapterTransient, channelName+": decoding XML response", err)
		}
	}
	return nil
}

func toBookingComStatus(s inventory.Status) string {
	switch s {
	case inventory.StatusConfirmed:
		return "Commit"
	case inventory.StatusCancelled:
		return "Cancel"
	case inventory.StatusCheckedIn:
		return "CheckedIn"
	case inventory.StatusCheckedOut:
		return "CheckedOut"
	default:
		return "Request"
	}
}

func fromBookingComStatus(s string) inventory.Status {
	switch s {
	case "Commit":
		return inventory.StatusConfirmed
	case "Cancel":
		return inventory.StatusCancelled
	case "CheckedIn":
		return inventory.StatusCheckedIn
	case "CheckedOut":
		return inventory.StatusCheckedOut
	default:
		return inventory.StatusReserved
	}
}
