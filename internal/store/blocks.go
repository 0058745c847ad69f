package store

import (
	"context"
	"time"

	"staysync/internal/model"
)

func (s *Store) CreateBlock(ctx context.Context, b *model.AvailabilityBlock) error {
	return s.with(ctx).Create(b).Error
}

func (s *Store) SaveBlock(ctx context.Context, b *model.AvailabilityBlock) error {
	return s.with(ctx).Save(b).Error
}

func (s *Store) GetBlock(ctx context.Context, id string) (*model.AvailabilityBlock, error) {
	var b model.AvailabilityBlock
	if err := s.with(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// BookingBlocks returns every block owned by bookingID, ACTIVE first, then
// most recently updated.
func (s *Store) BookingBlocks(ctx context.Context, bookingID string) ([]model.AvailabilityBlock, error) {
	var out []model.AvailabilityBlock
	err := s.with(ctx).
		Where("booking_id = ?", bookingID).
		Order("CASE WHEN status = 'ACTIVE' THEN 0 ELSE 1 END, updated_at DESC").
		Find(&out).Error
	return out, err
}

// ActiveBlocksOverlapping returns ACTIVE blocks of a property that intersect
// [start, end).
func (s *Store) ActiveBlocksOverlapping(ctx context.Context, propertyID string, start, end time.Time) ([]model.AvailabilityBlock, error) {
	var out []model.AvailabilityBlock
	err := s.with(ctx).
		Where("property_id = ? AND status = ? AND start_date < ? AND end_date > ?",
			propertyID, model.BlockActive, model.DateOf(end), model.DateOf(start)).
		Find(&out).Error
	return out, err
}

// ActiveUnitBlocks returns ACTIVE blocks of a unit intersecting [from, to).
func (s *Store) ActiveUnitBlocks(ctx context.Context, unitID string, from, to time.Time) ([]model.AvailabilityBlock, error) {
	var out []model.AvailabilityBlock
	err := s.with(ctx).
		Where("unit_id = ? AND status = ? AND start_date < ? AND end_date > ?",
			unitID, model.BlockActive, model.DateOf(to), model.DateOf(from)).
		Order("start_date").
		Find(&out).Error
	return out, err
}

// BlocksInWindow returns blocks with one of the given statuses intersecting
// [from, to).
func (s *Store) BlocksInWindow(ctx context.Context, statuses []model.BlockStatus, from, to time.Time) ([]model.AvailabilityBlock, error) {
	var out []model.AvailabilityBlock
	err := s.with(ctx).
		Where("status IN ? AND start_date < ? AND end_date > ?",
			statuses, model.DateOf(to), model.DateOf(from)).
		Find(&out).Error
	return out, err
}

// UnitSourceBlocks returns ACTIVE blocks of a unit created by source.
func (s *Store) UnitSourceBlocks(ctx context.Context, unitID string, source model.BlockSource) ([]model.AvailabilityBlock, error) {
	var out []model.AvailabilityBlock
	err := s.with(ctx).
		Where("unit_id = ? AND source = ? AND status = ?", unitID, source, model.BlockActive).
		Find(&out).Error
	return out, err
}

// ExpireBlocks flips ACTIVE blocks that ended on or before today to EXPIRED.
func (s *Store) ExpireBlocks(ctx context.Context, today time.Time) (int64, error) {
	res := s.with(ctx).Model(&model.AvailabilityBlock{}).
		Where("status = ? AND end_date <= ?", model.BlockActive, model.DateOf(today)).
		Update("status", model.BlockExpired)
	return res.RowsAffected, res.Error
}

// CountBlocks counts rows, optionally restricted to one booking.
func (s *Store) CountBlocks(ctx context.Context, bookingID string) (int64, error) {
	q := s.with(ctx).Model(&model.AvailabilityBlock{})
	if bookingID != "" {
		q = q.Where("booking_id = ?", bookingID)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}
