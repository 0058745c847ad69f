package model

type UnitStatus string

const (
	UnitAvailable   UnitStatus = "AVAILABLE"
	UnitOccupied    UnitStatus = "OCCUPIED"
	UnitBlocked     UnitStatus = "BLOCKED"
	UnitMaintenance UnitStatus = "MAINTENANCE"
)

// Unit is a rentable space inside a building. PropertyID is the bookable
// listing the unit is sold under, if any.
type Unit struct {
	Base
	BuildingID string     `gorm:"type:varchar(36);index" json:"buildingId"`
	PropertyID string     `gorm:"type:varchar(36);index" json:"propertyId,omitempty"`
	Name       string     `gorm:"size:200" json:"name"`
	Status     UnitStatus `gorm:"size:20;not null" json:"status"`
}

// Rentable reports whether the unit counts towards the available
// denominator of occupancy figures.
func (u Unit) Rentable() bool {
	return u.Status != UnitBlocked && u.Status != UnitMaintenance
}
