// Package syncer keeps local bookings and availability blocks consistent
// with the external channel manager in both directions.
package syncer

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	appLog "staysync/internal/log"
	"staysync/internal/model"
)

// LogWriter is the append-only integration log.
type LogWriter interface {
	AppendLog(ctx context.Context, e *model.IntegrationLogEntry) error
}

// writeRunLog records one batch run. summary is stored as the response
// payload so the admin surface can show the counts.
func writeRunLog(ctx context.Context, w LogWriter, e model.IntegrationLogEntry, started time.Time, summary any, runErr error) {
	if w == nil {
		return
	}
	e.DurationMs = time.Since(started).Milliseconds()
	if e.Status == "" {
		e.Status = model.LogSuccess
	}
	if runErr != nil {
		e.Status = model.LogFailed
		e.Error = runErr.Error()
	}
	if summary != nil {
		if raw, err := json.Marshal(summary); err == nil {
			e.ResponsePayload = datatypes.JSON(raw)
		}
	}
	// A cancelled run context must not prevent the audit row.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.AppendLog(ctx, &e); err != nil {
		appLog.Error("integration log write failed", err, "action", e.Action)
	}
}
