package store

import (
	"context"

	"staysync/internal/model"
)

func (s *Store) CreateUnit(ctx context.Context, u *model.Unit) error {
	return s.with(ctx).Create(u).Error
}

func (s *Store) GetUnit(ctx context.Context, id string) (*model.Unit, error) {
	var u model.Unit
	if err := s.with(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *Store) ListUnits(ctx context.Context) ([]model.Unit, error) {
	var units []model.Unit
	err := s.with(ctx).Order("id").Find(&units).Error
	return units, err
}

func (s *Store) ListUnitsByBuilding(ctx context.Context, buildingID string) ([]model.Unit, error) {
	var units []model.Unit
	err := s.with(ctx).Where("building_id = ?", buildingID).Order("id").Find(&units).Error
	return units, err
}

// RentablePropertyUnitIDs lists units sold under a listing that are not
// BLOCKED or MAINTENANCE; used as the property-day denominator of occupancy
// stats.
func (s *Store) RentablePropertyUnitIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.with(ctx).Model(&model.Unit{}).
		Where("property_id <> ''").
		Where("status NOT IN ?", []model.UnitStatus{model.UnitBlocked, model.UnitMaintenance}).
		Order("id").
		Pluck("id", &ids).Error
	return ids, err
}
