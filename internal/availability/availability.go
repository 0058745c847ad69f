// Package availability is the ledger of date ranges that make a unit
// unavailable. Every writer (booking lifecycle, inbound import, outbound
// push-back, admin maintenance) goes through the upsert-by-owner contract
// implemented here; there is no other locking.
package availability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	appLog "staysync/internal/log"
	"staysync/internal/model"
	"staysync/internal/store"
)

var (
	ErrInvalidRange   = errors.New("availability: end date must be after start date")
	ErrMissingOwner   = errors.New("availability: unit and booking ids are required")
	ErrNotAdminBlock  = errors.New("availability: block is not a maintenance or manual block")
	ErrUnknownBlockID = errors.New("availability: block not found")
)

// Service implements the block store operations.
type Service struct {
	store *store.Store
	clock model.Clock
}

func New(st *store.Store, clock model.Clock) *Service {
	return &Service{store: st, clock: clock}
}

// BookingBlockInput describes the block a booking owns.
type BookingBlockInput struct {
	UnitID    string
	BookingID string
	StartDate time.Time
	EndDate   time.Time
	Source    model.BlockSource
	SourceRef string
}

// CreateBookingBlock upserts the block owned by in.BookingID: an ACTIVE block
// gets the new dates, a CANCELLED or EXPIRED one is reactivated, otherwise a
// new ACTIVE block is inserted. Calling it repeatedly with the same input
// leaves exactly one ACTIVE block for the booking.
func (s *Service) CreateBookingBlock(ctx context.Context, in BookingBlockInput) (string, error) {
	if in.UnitID == "" || in.BookingID == "" {
		return "", ErrMissingOwner
	}
	start, end := model.DateOf(in.StartDate), model.DateOf(in.EndDate)
	if !end.After(start) {
		return "", ErrInvalidRange
	}
	if in.Source == "" {
		in.Source = model.SourceLocal
	}

	unit, err := s.store.GetUnit(ctx, in.UnitID)
	if err != nil {
		return "", fmt.Errorf("availability: load unit %s: %w", in.UnitID, err)
	}

	existing, err := s.store.BookingBlocks(ctx, in.BookingID)
	if err != nil {
		return "", err
	}

	if len(existing) == 0 {
		bookingID := in.BookingID
		b := model.AvailabilityBlock{
			UnitID:     unit.ID,
			PropertyID: unit.PropertyID,
			BookingID:  &bookingID,
			BlockType:  blockTypeFor(in.Source),
			Status:     model.BlockActive,
			StartDate:  start,
			EndDate:    end,
			Source:     in.Source,
			SourceRef:  in.SourceRef,
		}
		if err := s.store.CreateBlock(ctx, &b); err != nil {
			return "", err
		}
		appLog.Debug("booking block created", "block_id", b.ID, "booking_id", in.BookingID, "unit_id", in.UnitID)
		return b.ID, nil
	}

	b := existing[0]
	reactivated := b.Status != model.BlockActive
	b.UnitID = unit.ID
	b.PropertyID = unit.PropertyID
	b.BlockType = blockTypeFor(in.Source)
	b.Status = model.BlockActive
	b.StartDate = start
	b.EndDate = end
	b.Source = in.Source
	if in.SourceRef != "" {
		b.SourceRef = in.SourceRef
	}
	if reactivated {
		b.Notes = appendNote(b.Notes, "reactivated")
	}
	if err := s.store.SaveBlock(ctx, &b); err != nil {
		return "", err
	}

	// Rows left over from earlier races must not stay ACTIVE next to b.
	for _, dup := range existing[1:] {
		if dup.Status != model.BlockActive {
			continue
		}
		dup.Status = model.BlockCancelled
		dup.Notes = appendNote(dup.Notes, "superseded by "+b.ID)
		if err := s.store.SaveBlock(ctx, &dup); err != nil {
			return "", err
		}
	}
	return b.ID, nil
}

// CancelBookingBlock cancels the ACTIVE block owned by bookingID. It reports
// whether anything changed; no ACTIVE block is not an error.
func (s *Service) CancelBookingBlock(ctx context.Context, bookingID, reason string) (bool, error) {
	if bookingID == "" {
		return false, ErrMissingOwner
	}
	blocks, err := s.store.BookingBlocks(ctx, bookingID)
	if err != nil {
		return false, err
	}

	changed := false
	for _, b := range blocks {
		if b.Status != model.BlockActive {
			continue
		}
		b.Status = model.BlockCancelled
		if reason != "" {
			b.Notes = appendNote(b.Notes, "cancelled: "+reason)
		}
		if err := s.store.SaveBlock(ctx, &b); err != nil {
			return changed, err
		}
		changed = true
	}
	return changed, nil
}

// AdminBlockInput describes a maintenance or manual block.
type AdminBlockInput struct {
	UnitID    string          `json:"unitId" validate:"required"`
	StartDate time.Time       `json:"startDate" validate:"required"`
	EndDate   time.Time       `json:"endDate" validate:"required"`
	Type      model.BlockType `json:"type" validate:"omitempty,oneof=MAINTENANCE MANUAL"`
	Notes     string          `json:"notes" validate:"max=2000"`
}

// CreateMaintenanceBlock inserts an ACTIVE admin block. Type defaults to
// MAINTENANCE.
func (s *Service) CreateMaintenanceBlock(ctx context.Context, in AdminBlockInput) (*model.AvailabilityBlock, error) {
	start, end := model.DateOf(in.StartDate), model.DateOf(in.EndDate)
	if !end.After(start) {
		return nil, ErrInvalidRange
	}
	if in.Type == "" {
		in.Type = model.BlockMaintenance
	}
	if in.Type != model.BlockMaintenance && in.Type != model.BlockManual {
		return nil, ErrNotAdminBlock
	}

	unit, err := s.store.GetUnit(ctx, in.UnitID)
	if err != nil {
		return nil, fmt.Errorf("availability: load unit %s: %w", in.UnitID, err)
	}

	b := model.AvailabilityBlock{
		UnitID:     unit.ID,
		PropertyID: unit.PropertyID,
		BlockType:  in.Type,
		Status:     model.BlockActive,
		StartDate:  start,
		EndDate:    end,
		Source:     model.SourceAdmin,
		Notes:      strings.TrimSpace(in.Notes),
	}
	if err := s.store.CreateBlock(ctx, &b); err != nil {
		return nil, err
	}
	appLog.Info("admin block created", "block_id", b.ID, "unit_id", b.UnitID, "type", b.BlockType,
		"start", model.FormatDate(start), "end", model.FormatDate(end))
	return &b, nil
}

// RemoveMaintenanceBlock cancels an admin block. Removing an already
// inactive block is a no-op.
func (s *Service) RemoveMaintenanceBlock(ctx context.Context, blockID, reason string) (*model.AvailabilityBlock, error) {
	b, err := s.store.GetBlock(ctx, blockID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownBlockID
		}
		return nil, err
	}
	if b.BlockType != model.BlockMaintenance && b.BlockType != model.BlockManual {
		return nil, ErrNotAdminBlock
	}
	if b.Status != model.BlockActive {
		return b, nil
	}
	b.Status = model.BlockCancelled
	b.Notes = appendNote(b.Notes, "removed: "+reason)
	if err := s.store.SaveBlock(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// IsPropertyAvailable reports whether no ACTIVE block of the property
// intersects [start, end). It is an advisory pre-check, not a lock.
func (s *Service) IsPropertyAvailable(ctx context.Context, propertyID string, start, end time.Time) (bool, error) {
	start, end = model.DateOf(start), model.DateOf(end)
	if !end.After(start) {
		return false, ErrInvalidRange
	}
	blocks, err := s.store.ActiveBlocksOverlapping(ctx, propertyID, start, end)
	if err != nil {
		return false, err
	}
	return len(blocks) == 0, nil
}

// ListUnitBlocks returns the ACTIVE blocks of a unit intersecting [from, to).
func (s *Service) ListUnitBlocks(ctx context.Context, unitID string, from, to time.Time) ([]model.AvailabilityBlock, error) {
	return s.store.ActiveUnitBlocks(ctx, unitID, from, to)
}

// ExpireSweep flips ACTIVE blocks whose end date has passed to EXPIRED.
func (s *Service) ExpireSweep(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireBlocks(ctx, s.clock.Today())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		appLog.Info("availability blocks expired", "count", n)
	}
	return n, nil
}

// BackfillResult summarizes BackfillFromBookings.
type BackfillResult struct {
	Scanned  int      `json:"scanned"`
	Upserted int      `json:"upserted"`
	Errors   []string `json:"errors"`
}

// BackfillFromBookings re-derives blocks for every confirmed or active
// booking through CreateBookingBlock, so repeated runs converge.
func (s *Service) BackfillFromBookings(ctx context.Context) (BackfillResult, error) {
	res := BackfillResult{Errors: []string{}}

	bookings, err := s.store.ListOccupyingBookings(ctx)
	if err != nil {
		return res, err
	}

	for _, bk := range bookings {
		res.Scanned++
		in := BookingBlockInput{
			UnitID:    bk.UnitID,
			BookingID: bk.ID,
			StartDate: bk.MoveIn,
			EndDate:   bk.MoveOut,
			Source:    model.SourceLocal,
		}
		if bk.Source == model.BookingSourceExternal {
			in.Source = model.SourceExternalAPI
			if bk.ExternalRef != nil {
				in.SourceRef = *bk.ExternalRef
			}
		}
		if _, err := s.CreateBookingBlock(ctx, in); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("booking %s: %v", bk.ID, err))
			continue
		}
		res.Upserted++
	}

	appLog.Info("availability backfill finished", "scanned", res.Scanned, "upserted", res.Upserted, "errors", len(res.Errors))
	return res, nil
}

func blockTypeFor(src model.BlockSource) model.BlockType {
	switch src {
	case model.SourceExternalAPI, model.SourceExternalICal:
		return model.BlockExternalImport
	default:
		return model.BlockBooking
	}
}

func appendNote(notes, line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return notes
	}
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}
