package model

import (
	"errors"
	"time"
)

type SourceOfTruth string

const (
	TruthExternal SourceOfTruth = "EXTERNAL"
	TruthLocal    SourceOfTruth = "LOCAL"
)

type ConnectionType string

const (
	ConnectionAPI  ConnectionType = "API"
	ConnectionICal ConnectionType = "ICAL"
)

type SyncStatus string

const (
	SyncSuccess SyncStatus = "SUCCESS"
	SyncFailed  SyncStatus = "FAILED"
	SyncPending SyncStatus = "PENDING"
)

// Mapping declares which remote system, if any, governs a unit. At most one
// active mapping exists per unit.
type Mapping struct {
	Base
	UnitID             string         `gorm:"type:varchar(36);not null;index" json:"unitId"`
	Active             bool           `gorm:"not null;index" json:"active"`
	SourceOfTruth      SourceOfTruth  `gorm:"size:20;not null" json:"sourceOfTruth"`
	ConnectionType     ConnectionType `gorm:"size:20" json:"connectionType,omitempty"`
	ICalImportURL      string         `gorm:"type:text" json:"icalImportUrl,omitempty"`
	ExternalPropertyID string         `gorm:"size:64;index" json:"externalPropertyId,omitempty"`
	ExternalRoomID     string         `gorm:"size:64;index" json:"externalRoomId,omitempty"`
	LastSyncedAt       *time.Time     `json:"lastSyncedAt,omitempty"`
	LastSyncStatus     SyncStatus     `gorm:"size:20" json:"lastSyncStatus,omitempty"`
	LastSyncError      string         `gorm:"type:text" json:"lastSyncError,omitempty"`
}

func (Mapping) TableName() string { return "unit_mappings" }

var (
	ErrMappingMissingIDs = errors.New("mapping: external API authority requires property and room ids")
	ErrMappingMissingURL = errors.New("mapping: external iCal authority requires an import url")
	ErrMappingConnection = errors.New("mapping: unknown connection type")
)

// Validate enforces the per-connection requirements of an EXTERNAL mapping.
func (m Mapping) Validate() error {
	if m.SourceOfTruth != TruthExternal {
		return nil
	}
	switch m.ConnectionType {
	case ConnectionAPI:
		if m.ExternalPropertyID == "" || m.ExternalRoomID == "" {
			return ErrMappingMissingIDs
		}
	case ConnectionICal:
		if m.ICalImportURL == "" {
			return ErrMappingMissingURL
		}
	default:
		return ErrMappingConnection
	}
	return nil
}

// PullsFromAPI reports whether the inbound synchronizer owns this unit.
func (m Mapping) PullsFromAPI() bool {
	return m.SourceOfTruth == TruthExternal && m.ConnectionType == ConnectionAPI
}

// PushesToAPI reports whether local bookings must be mirrored outbound.
func (m Mapping) PushesToAPI() bool {
	return m.SourceOfTruth == TruthLocal && m.ConnectionType == ConnectionAPI &&
		m.ExternalPropertyID != "" && m.ExternalRoomID != ""
}
