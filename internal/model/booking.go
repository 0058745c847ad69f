package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingActive    BookingStatus = "active"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

// Occupies reports whether a booking in this status holds the unit.
func (s BookingStatus) Occupies() bool {
	return s == BookingConfirmed || s == BookingActive
}

type BookingSource string

const (
	BookingSourceLocal    BookingSource = "LOCAL"
	BookingSourceExternal BookingSource = "EXTERNAL"
)

// Booking is the local projection of a stay. MoveOut is the checkout date.
type Booking struct {
	Base
	UnitID      string          `gorm:"type:varchar(36);not null;index" json:"unitId"`
	PropertyID  string          `gorm:"type:varchar(36);index" json:"propertyId,omitempty"`
	GuestID     string          `gorm:"type:varchar(36);index" json:"guestId"`
	MoveIn      time.Time       `gorm:"not null;index" json:"moveIn"`
	MoveOut     time.Time       `gorm:"not null;index" json:"moveOut"`
	Status      BookingStatus   `gorm:"size:20;not null;index" json:"status"`
	Source      BookingSource   `gorm:"size:20;not null" json:"source"`
	ExternalRef *string         `gorm:"size:128;uniqueIndex" json:"externalRef,omitempty"`
	ExternalID  string          `gorm:"size:64;index" json:"externalId,omitempty"`
	Amount      decimal.Decimal `gorm:"type:decimal(12,2)" json:"amount"`
	Notes       string          `gorm:"type:text" json:"notes,omitempty"`
}

// Guest is the minimal identity an imported booking is attached to.
type Guest struct {
	Base
	Name  string `gorm:"size:200" json:"name"`
	Email string `gorm:"size:255;index" json:"email,omitempty"`
}

// DefaultGuestEmail identifies the placeholder guest used for imported
// reservations that carry no usable identity.
const DefaultGuestEmail = "external-guest@staysync.invalid"
