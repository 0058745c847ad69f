package model

import "time"

type BlockType string

const (
	BlockBooking        BlockType = "BOOKING"
	BlockMaintenance    BlockType = "MAINTENANCE"
	BlockExternalImport BlockType = "EXTERNAL_IMPORT"
	BlockManual         BlockType = "MANUAL"
)

type BlockStatus string

const (
	BlockActive    BlockStatus = "ACTIVE"
	BlockCancelled BlockStatus = "CANCELLED"
	BlockExpired   BlockStatus = "EXPIRED"
)

type BlockSource string

const (
	SourceLocal        BlockSource = "LOCAL"
	SourceExternalAPI  BlockSource = "EXTERNAL_API"
	SourceExternalICal BlockSource = "EXTERNAL_ICAL"
	SourceAdmin        BlockSource = "ADMIN"
)

// AvailabilityBlock marks a unit unavailable over [StartDate, EndDate).
type AvailabilityBlock struct {
	Base
	UnitID     string      `gorm:"type:varchar(36);not null;index" json:"unitId"`
	PropertyID string      `gorm:"type:varchar(36);index" json:"propertyId,omitempty"`
	BookingID  *string     `gorm:"type:varchar(36);index" json:"bookingId,omitempty"`
	BlockType  BlockType   `gorm:"size:20;not null" json:"blockType"`
	Status     BlockStatus `gorm:"size:20;not null;index" json:"status"`
	StartDate  time.Time   `gorm:"not null;index" json:"startDate"`
	EndDate    time.Time   `gorm:"not null;index" json:"endDate"`
	Source     BlockSource `gorm:"size:20;not null" json:"source"`
	SourceRef  string      `gorm:"size:255;index" json:"sourceRef,omitempty"`
	Notes      string      `gorm:"type:text" json:"notes,omitempty"`
}

func (AvailabilityBlock) TableName() string { return "availability_blocks" }

// Overlaps reports whether the block's half-open interval intersects
// [start, end).
func (b AvailabilityBlock) Overlaps(start, end time.Time) bool {
	return b.StartDate.Before(end) && b.EndDate.After(start)
}

// Covers reports whether date falls inside [StartDate, EndDate).
func (b AvailabilityBlock) Covers(date time.Time) bool {
	d := DateOf(date)
	return !d.Before(b.StartDate) && d.Before(b.EndDate)
}
