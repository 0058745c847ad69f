package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Direction string

const (
	DirectionOutbound Direction = "OUTBOUND"
	DirectionInbound  Direction = "INBOUND"
	DirectionInternal Direction = "INTERNAL"
)

type LogStatus string

const (
	LogSuccess LogStatus = "SUCCESS"
	LogFailed  LogStatus = "FAILED"
	LogSkipped LogStatus = "SKIPPED"
)

// IntegrationLogEntry is an append-only audit record. Rows are never updated.
type IntegrationLogEntry struct {
	ID              string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	RunID           string         `gorm:"type:varchar(36);index" json:"runId,omitempty"`
	Direction       Direction      `gorm:"size:20;not null" json:"direction"`
	Action          string         `gorm:"size:64;not null;index" json:"action"`
	EntityType      string         `gorm:"size:64" json:"entityType,omitempty"`
	EntityID        string         `gorm:"size:128;index" json:"entityId,omitempty"`
	Method          string         `gorm:"size:10" json:"method,omitempty"`
	Path            string         `gorm:"type:text" json:"path,omitempty"`
	RequestPayload  datatypes.JSON `json:"requestPayload,omitempty"`
	ResponsePayload datatypes.JSON `json:"responsePayload,omitempty"`
	StatusCode      int            `json:"statusCode,omitempty"`
	Status          LogStatus      `gorm:"size:20;not null;index" json:"status"`
	Error           string         `gorm:"type:text" json:"error,omitempty"`
	DurationMs      int64          `json:"durationMs"`
	CreatedAt       time.Time      `gorm:"index" json:"createdAt"`
}

func (IntegrationLogEntry) TableName() string { return "integration_logs" }

func (e *IntegrationLogEntry) BeforeCreate(_ *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
