package store

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"staysync/internal/model"
)

// UpsertSnapshots writes rows idempotently on (date, unit_id).
func (s *Store) UpsertSnapshots(ctx context.Context, rows []model.DailyOccupancySnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	for i := range rows {
		rows[i].Date = model.DateOf(rows[i].Date)
	}
	return s.with(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}, {Name: "unit_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"building_id", "occupied", "available", "source", "booking_ref", "updated_at",
		}),
	}).Create(&rows).Error
}

// GetSnapshot returns the (unit, date) row tagged with source, or ErrNotFound.
func (s *Store) GetSnapshot(ctx context.Context, unitID string, date time.Time, source model.SnapshotSource) (*model.DailyOccupancySnapshot, error) {
	var row model.DailyOccupancySnapshot
	err := s.with(ctx).
		Where("unit_id = ? AND date = ? AND source = ?", unitID, model.DateOf(date), source).
		First(&row).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

// ListSnapshots returns a building's rows for dates in [from, to].
func (s *Store) ListSnapshots(ctx context.Context, buildingID string, from, to time.Time) ([]model.DailyOccupancySnapshot, error) {
	var out []model.DailyOccupancySnapshot
	err := s.with(ctx).
		Where("building_id = ? AND date >= ? AND date <= ?", buildingID, model.DateOf(from), model.DateOf(to)).
		Order("date, unit_id").
		Find(&out).Error
	return out, err
}
