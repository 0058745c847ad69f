package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SnapshotSource string

const (
	SnapshotExternal SnapshotSource = "EXTERNAL"
	SnapshotLocal    SnapshotSource = "LOCAL"
	SnapshotUnknown  SnapshotSource = "UNKNOWN"
)

// DailyOccupancySnapshot is one row per (date, unit).
type DailyOccupancySnapshot struct {
	ID         string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Date       time.Time      `gorm:"not null;uniqueIndex:idx_snapshot_date_unit" json:"date"`
	UnitID     string         `gorm:"type:varchar(36);not null;uniqueIndex:idx_snapshot_date_unit;index" json:"unitId"`
	BuildingID string         `gorm:"type:varchar(36);index" json:"buildingId"`
	Occupied   bool           `gorm:"not null" json:"occupied"`
	Available  bool           `gorm:"not null" json:"available"`
	Source     SnapshotSource `gorm:"size:20;not null" json:"source"`
	BookingRef string         `gorm:"size:128" json:"bookingRef,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

func (DailyOccupancySnapshot) TableName() string { return "daily_occupancy_snapshots" }

func (s *DailyOccupancySnapshot) BeforeCreate(_ *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}
