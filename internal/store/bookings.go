package store

import (
	"context"
	"time"

	"staysync/internal/model"
)

func (s *Store) CreateBooking(ctx context.Context, b *model.Booking) error {
	return s.with(ctx).Create(b).Error
}

func (s *Store) SaveBooking(ctx context.Context, b *model.Booking) error {
	return s.with(ctx).Save(b).Error
}

func (s *Store) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	var b model.Booking
	if err := s.with(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// FindBookingByExternalRef looks a booking up by the key produced by
// model.ExternalRef.
func (s *Store) FindBookingByExternalRef(ctx context.Context, ref string) (*model.Booking, error) {
	var b model.Booking
	if err := s.with(ctx).Where("external_ref = ?", ref).First(&b).Error; err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// OccupyingBookingOn returns the occupying booking of unitID whose
// [MoveIn, MoveOut] range includes date.
func (s *Store) OccupyingBookingOn(ctx context.Context, unitID string, date time.Time) (*model.Booking, error) {
	d := model.DateOf(date)
	var b model.Booking
	err := s.with(ctx).
		Where("unit_id = ? AND status IN ? AND move_in <= ? AND move_out >= ?",
			unitID, occupyingStatuses(), d, d).
		Order("move_in DESC").
		First(&b).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &b, nil
}

// ListOccupyingBookings returns every confirmed or active booking.
func (s *Store) ListOccupyingBookings(ctx context.Context) ([]model.Booking, error) {
	var out []model.Booking
	err := s.with(ctx).Where("status IN ?", occupyingStatuses()).Order("move_in").Find(&out).Error
	return out, err
}

// ListLinkedBookings returns bookings on the given units that carry an
// external reference or id and overlap [from, to].
func (s *Store) ListLinkedBookings(ctx context.Context, unitIDs []string, from, to time.Time) ([]model.Booking, error) {
	var out []model.Booking
	if len(unitIDs) == 0 {
		return out, nil
	}
	err := s.with(ctx).
		Where("unit_id IN ?", unitIDs).
		Where("(external_ref IS NOT NULL OR external_id <> '')").
		Where("move_in <= ? AND move_out >= ?", model.DateOf(to), model.DateOf(from)).
		Order("move_in").
		Find(&out).Error
	return out, err
}

func occupyingStatuses() []model.BookingStatus {
	return []model.BookingStatus{model.BookingConfirmed, model.BookingActive}
}
