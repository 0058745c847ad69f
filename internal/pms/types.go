package pms

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"staysync/internal/model"
)

// Reservation statuses used by the remote API.
const (
	StatusConfirmed = "confirmed"
	StatusRequest   = "request"
	StatusNew       = "new"
	StatusInquiry   = "inquiry"
	StatusBlack     = "black"
	StatusCancelled = "cancelled"
)

// Booking is a reservation as returned by GET /bookings.
type Booking struct {
	ID           int64           `json:"id"`
	PropertyID   int64           `json:"propertyId"`
	RoomID       int64           `json:"roomId"`
	Status       string          `json:"status"`
	Arrival      string          `json:"arrival"`
	Departure    string          `json:"departure"`
	FirstName    string          `json:"firstName,omitempty"`
	LastName     string          `json:"lastName,omitempty"`
	Email        string          `json:"email,omitempty"`
	Price        decimal.Decimal `json:"price"`
	APIReference string          `json:"apiReference,omitempty"`
	Referer      string          `json:"referer,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	ModifiedTime string          `json:"modifiedTime,omitempty"`
}

func (b Booking) ExternalID() string  { return strconv.FormatInt(b.ID, 10) }
func (b Booking) PropertyKey() string { return strconv.FormatInt(b.PropertyID, 10) }
func (b Booking) RoomKey() string     { return strconv.FormatInt(b.RoomID, 10) }

// Ref is the local key this reservation is stored under.
func (b Booking) Ref() string {
	return model.ExternalRef(model.SystemBeds24, b.ExternalID())
}

func (b Booking) IsCancelled() bool {
	return strings.EqualFold(b.Status, StatusCancelled)
}

// GuestName joins first and last name.
func (b Booking) GuestName() string {
	return strings.TrimSpace(b.FirstName + " " + b.LastName)
}

// Dates parses arrival and departure. Departure is the checkout date.
func (b Booking) Dates() (time.Time, time.Time, error) {
	in, err := model.ParseDate(b.Arrival)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	out, err := model.ParseDate(b.Departure)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return in, out, nil
}

// LocalStatus maps a remote status to the local booking status an imported
// reservation should carry.
func LocalStatus(remote string) model.BookingStatus {
	switch strings.ToLower(remote) {
	case StatusCancelled:
		return model.BookingCancelled
	case StatusRequest, StatusInquiry:
		return model.BookingPending
	default:
		return model.BookingConfirmed
	}
}

// BookingQuery filters GET /bookings.
type BookingQuery struct {
	PropertyIDs   []string
	ModifiedFrom  *time.Time
	ArrivalTo     *time.Time
	DepartureFrom *time.Time
	// IncludeCancelled adds status=cancelled alongside the live statuses.
	IncludeCancelled bool
}

// NewBooking is the payload for a blocking reservation pushed outbound.
type NewBooking struct {
	RoomID       int64  `json:"roomId"`
	PropertyID   int64  `json:"propertyId,omitempty"`
	Status       string `json:"status"`
	Arrival      string `json:"arrival"`
	Departure    string `json:"departure"`
	FirstName    string `json:"firstName,omitempty"`
	LastName     string `json:"lastName,omitempty"`
	APIReference string `json:"apiReference"`
	Notes        string `json:"notes,omitempty"`
}

type bookingsPage struct {
	Success bool      `json:"success"`
	Count   int       `json:"count"`
	Data    []Booking `json:"data"`
	Pages   struct {
		NextPageExists bool `json:"nextPageExists"`
	} `json:"pages"`
}

type writeResult struct {
	Success bool `json:"success"`
	New     *struct {
		ID int64 `json:"id"`
	} `json:"new,omitempty"`
	Modified *struct {
		ID int64 `json:"id"`
	} `json:"modified,omitempty"`
	Errors []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expiresIn"`
}
