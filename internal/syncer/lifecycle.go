package syncer

import (
	"context"
	"errors"
	"fmt"

	"staysync/internal/availability"
	"staysync/internal/model"
	"staysync/internal/store"
)

// ErrBookingNotLive is returned when an activation hook names a booking that
// does not hold its unit.
var ErrBookingNotLive = errors.New("syncer: booking is not confirmed or active")

// Lifecycle reacts to booking state changes made by the booking owner.
type Lifecycle struct {
	store    *store.Store
	blocks   *availability.Service
	outbound *Outbound
}

func NewLifecycle(st *store.Store, blocks *availability.Service, outbound *Outbound) *Lifecycle {
	return &Lifecycle{store: st, blocks: blocks, outbound: outbound}
}

// LifecycleResult is returned by the booking hooks.
type LifecycleResult struct {
	BookingID string         `json:"bookingId"`
	BlockID   string         `json:"blockId,omitempty"`
	Changed   bool           `json:"changed"`
	Outbound  OutboundResult `json:"outbound"`
}

// OnBookingActivated upserts the booking's block and then pushes it
// outbound. A failed push does not fail the hook.
func (l *Lifecycle) OnBookingActivated(ctx context.Context, bookingID string) (LifecycleResult, error) {
	res := LifecycleResult{BookingID: bookingID}
	bk, err := l.store.GetBooking(ctx, bookingID)
	if err != nil {
		return res, err
	}
	if !bk.Status.Occupies() {
		return res, fmt.Errorf("%w: %s", ErrBookingNotLive, bk.Status)
	}

	src := model.SourceLocal
	if bk.Source == model.BookingSourceExternal {
		src = model.SourceExternalAPI
	}
	in := availability.BookingBlockInput{
		UnitID:    bk.UnitID,
		BookingID: bk.ID,
		StartDate: bk.MoveIn,
		EndDate:   bk.MoveOut,
		Source:    src,
	}
	if bk.ExternalRef != nil {
		in.SourceRef = *bk.ExternalRef
	}
	res.BlockID, err = l.blocks.CreateBookingBlock(ctx, in)
	if err != nil {
		return res, err
	}
	res.Changed = true

	res.Outbound, err = l.outbound.PushBooking(ctx, bk.ID)
	return res, err
}

// OnBookingCancelled releases the booking's block and cancels any pushed
// reservation.
func (l *Lifecycle) OnBookingCancelled(ctx context.Context, bookingID, reason string) (LifecycleResult, error) {
	res := LifecycleResult{BookingID: bookingID}
	if _, err := l.store.GetBooking(ctx, bookingID); err != nil {
		return res, err
	}
	if reason == "" {
		reason = "booking cancelled"
	}

	changed, err := l.blocks.CancelBookingBlock(ctx, bookingID, reason)
	if err != nil {
		return res, err
	}
	res.Changed = changed

	res.Outbound, err = l.outbound.CancelBooking(ctx, bookingID)
	return res, err
}
