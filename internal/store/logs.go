package store

import (
	"context"

	"staysync/internal/model"
)

// AppendLog inserts an integration log entry. Entries are never updated.
func (s *Store) AppendLog(ctx context.Context, e *model.IntegrationLogEntry) error {
	return s.with(ctx).Create(e).Error
}

// LogFilter narrows ListLogs.
type LogFilter struct {
	Action   string
	EntityID string
	Status   model.LogStatus
	Limit    int
}

// ListLogs returns the newest entries first.
func (s *Store) ListLogs(ctx context.Context, f LogFilter) ([]model.IntegrationLogEntry, error) {
	q := s.with(ctx).Model(&model.IntegrationLogEntry{})
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []model.IntegrationLogEntry
	err := q.Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}
