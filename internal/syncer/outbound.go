package syncer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	appLog "staysync/internal/log"
	"staysync/internal/model"
	"staysync/internal/pms"
	"staysync/internal/store"
)

// Outbound results.
const (
	OutboundPushed    = "pushed"
	OutboundCancelled = "cancelled"
	OutboundSkipped   = "skipped"
	OutboundFailed    = "failed"
)

// OutboundResult describes what a push or cancel did. Remote failures are
// reported here, not as errors: the local operation that triggered the push
// has already succeeded.
type OutboundResult struct {
	BookingID  string `json:"bookingId"`
	Action     string `json:"action"`
	Result     string `json:"result"`
	ExternalID string `json:"externalId,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Outbound mirrors local bookings of LOCAL-authoritative, API-connected
// units to the external system so they cannot be double-sold there.
type Outbound struct {
	store *store.Store
	api   pms.BookingAPI
}

func NewOutbound(st *store.Store, api pms.BookingAPI) *Outbound {
	return &Outbound{store: st, api: api}
}

// PushBooking creates a blocking reservation for bookingID. It is a no-op for
// bookings that came from the external system, for bookings already pushed,
// and for units with no outbound target.
func (o *Outbound) PushBooking(ctx context.Context, bookingID string) (OutboundResult, error) {
	res := OutboundResult{BookingID: bookingID, Action: "push_booking"}

	bk, err := o.store.GetBooking(ctx, bookingID)
	if err != nil {
		return res, err
	}
	if bk.Source == model.BookingSourceExternal {
		res.Result, res.Reason = OutboundSkipped, "booking originated externally"
		return res, nil
	}
	if bk.ExternalID != "" {
		res.Result, res.Reason, res.ExternalID = OutboundSkipped, "already pushed", bk.ExternalID
		return res, nil
	}
	if !bk.Status.Occupies() {
		res.Result, res.Reason = OutboundSkipped, fmt.Sprintf("booking status %s does not hold the unit", bk.Status)
		return res, nil
	}

	m, err := o.target(ctx, bk.UnitID)
	if err != nil {
		return res, err
	}
	if m == nil {
		res.Result, res.Reason = OutboundSkipped, "no outbound target"
		o.logSkip(ctx, res, bk.UnitID)
		return res, nil
	}

	nb, err := blockingReservation(bk, m)
	if err != nil {
		o.logFailure(ctx, &res, err, bk.UnitID)
		return res, nil
	}

	extID, err := o.api.CreateBooking(ctx, nb)
	if err != nil {
		o.logFailure(ctx, &res, err, bk.UnitID)
		return res, nil
	}

	ref := model.ExternalRef(model.SystemBeds24, extID)
	bk.ExternalID = extID
	bk.ExternalRef = &ref
	if err := o.store.SaveBooking(ctx, bk); err != nil {
		// The remote reservation exists but is unlinked; reconciliation
		// reports it as missing locally.
		appLog.Error("outbound: storing external id failed", err, "booking_id", bk.ID, "external_id", extID)
		return res, err
	}

	res.Result, res.ExternalID = OutboundPushed, extID
	appLog.Info("outbound booking pushed", "booking_id", bk.ID, "external_id", extID)
	return res, nil
}

// CancelBooking cancels the reservation previously pushed for bookingID.
// The stored external id is used even if the unit's mapping changed since.
func (o *Outbound) CancelBooking(ctx context.Context, bookingID string) (OutboundResult, error) {
	res := OutboundResult{BookingID: bookingID, Action: "cancel_booking"}

	bk, err := o.store.GetBooking(ctx, bookingID)
	if err != nil {
		return res, err
	}
	if bk.Source == model.BookingSourceExternal {
		res.Result, res.Reason = OutboundSkipped, "booking originated externally"
		return res, nil
	}
	if bk.ExternalID == "" {
		res.Result, res.Reason = OutboundSkipped, "no outbound target"
		o.logSkip(ctx, res, bk.UnitID)
		return res, nil
	}

	res.ExternalID = bk.ExternalID
	if err := o.api.CancelBooking(ctx, bk.ExternalID); err != nil {
		o.logFailure(ctx, &res, err, bk.UnitID)
		return res, nil
	}
	res.Result = OutboundCancelled
	appLog.Info("outbound booking cancelled", "booking_id", bk.ID, "external_id", bk.ExternalID)
	return res, nil
}

func (o *Outbound) target(ctx context.Context, unitID string) (*model.Mapping, error) {
	m, err := o.store.ActiveMapping(ctx, unitID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !m.PushesToAPI() {
		return nil, nil
	}
	return m, nil
}

// logSkip leaves an audit row so operators can tell "nothing to push" from
// "push never attempted".
func (o *Outbound) logSkip(ctx context.Context, res OutboundResult, unitID string) {
	appLog.Debug("outbound skipped", "booking_id", res.BookingID, "unit_id", unitID, "reason", res.Reason)
	writeRunLog(ctx, o.store, model.IntegrationLogEntry{
		RunID:      pms.RunID(ctx),
		Direction:  model.DirectionOutbound,
		Action:     res.Action,
		EntityType: "booking",
		EntityID:   res.BookingID,
		Status:     model.LogSkipped,
		Error:      res.Reason,
	}, time.Now(), nil, nil)
}

// logFailure marks res failed and writes a FAILED audit row, unless the
// client already logged the failing call.
func (o *Outbound) logFailure(ctx context.Context, res *OutboundResult, err error, unitID string) {
	res.Result, res.Reason = OutboundFailed, err.Error()
	appLog.Error("outbound "+res.Action+" failed", err, "booking_id", res.BookingID, "unit_id", unitID,
		"external_id", res.ExternalID)
	if pms.Logged(err) {
		return
	}
	writeRunLog(ctx, o.store, model.IntegrationLogEntry{
		RunID:      pms.RunID(ctx),
		Direction:  model.DirectionOutbound,
		Action:     res.Action,
		EntityType: "booking",
		EntityID:   res.BookingID,
		Status:     model.LogFailed,
		Error:      res.Reason,
	}, time.Now(), nil, nil)
}

func blockingReservation(bk *model.Booking, m *model.Mapping) (pms.NewBooking, error) {
	room, err := strconv.ParseInt(m.ExternalRoomID, 10, 64)
	if err != nil {
		return pms.NewBooking{}, fmt.Errorf("mapping room id %q: %w", m.ExternalRoomID, err)
	}
	prop, err := strconv.ParseInt(m.ExternalPropertyID, 10, 64)
	if err != nil {
		return pms.NewBooking{}, fmt.Errorf("mapping property id %q: %w", m.ExternalPropertyID, err)
	}
	return pms.NewBooking{
		RoomID:       room,
		PropertyID:   prop,
		Status:       pms.StatusBlack,
		Arrival:      model.FormatDate(bk.MoveIn),
		Departure:    model.FormatDate(bk.MoveOut),
		LastName:     "staysync",
		APIReference: model.LocalRef(bk.ID),
		Notes:        "Blocked by staysync booking " + bk.ID,
	}, nil
}
