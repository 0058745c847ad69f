package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	appLog "staysync/internal/log"
	"staysync/internal/model"
)

// writeLog records the run. The report body is kept so an operator can
// revisit it; the integration log is the only thing a run writes.
func (r *Reconciler) writeLog(ctx context.Context, rep Report, started time.Time) {
	e := model.IntegrationLogEntry{
		RunID:      rep.RunID,
		Direction:  model.DirectionInternal,
		Action:     "reconcile",
		DurationMs: time.Since(started).Milliseconds(),
		Status:     model.LogSuccess,
	}
	if len(rep.Errors) > 0 && len(rep.Errors) == rep.Properties {
		e.Status = model.LogFailed
		e.Error = rep.Errors[0]
	}
	if raw, err := json.Marshal(rep); err == nil {
		e.ResponsePayload = datatypes.JSON(raw)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.AppendLog(ctx, &e); err != nil {
		appLog.Error("reconcile: integration log write failed", err)
	}
}
