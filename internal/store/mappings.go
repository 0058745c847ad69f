package store

import (
	"context"
	"time"

	"staysync/internal/model"
)

func (s *Store) SaveMapping(ctx context.Context, m *model.Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return s.with(ctx).Save(m).Error
}

// ActiveMapping returns the unit's active mapping, or ErrNotFound.
func (s *Store) ActiveMapping(ctx context.Context, unitID string) (*model.Mapping, error) {
	var m model.Mapping
	err := s.with(ctx).
		Where("unit_id = ? AND active = ?", unitID, true).
		Order("updated_at DESC").
		First(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// ListActiveMappings returns active mappings with the given authority and
// connection.
func (s *Store) ListActiveMappings(ctx context.Context, truth model.SourceOfTruth, conn model.ConnectionType) ([]model.Mapping, error) {
	var out []model.Mapping
	err := s.with(ctx).
		Where("active = ? AND source_of_truth = ? AND connection_type = ?", true, truth, conn).
		Order("external_property_id, unit_id").
		Find(&out).Error
	return out, err
}

// RecordSync stamps the outcome of a sync attempt on the given mappings.
// last_synced_at only moves on success.
func (s *Store) RecordSync(ctx context.Context, ids []string, status model.SyncStatus, syncErr string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	fields := map[string]any{
		"last_sync_status": status,
		"last_sync_error":  syncErr,
	}
	if status == model.SyncSuccess {
		fields["last_synced_at"] = at.UTC()
	}
	return s.with(ctx).Model(&model.Mapping{}).
		Where("id IN ?", ids).
		Updates(fields).Error
}
