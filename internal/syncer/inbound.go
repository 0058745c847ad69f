package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"staysync/internal/availability"
	appLog "staysync/internal/log"
	"staysync/internal/model"
	"staysync/internal/pms"
	"staysync/internal/store"
)

// ErrRemoteUnavailable is returned when no property group could be fetched.
var ErrRemoteUnavailable = errors.New("syncer: external system unavailable")

// SnapshotRefresher rewrites EXTERNAL snapshot rows after a successful sync.
type SnapshotRefresher interface {
	RefreshExternalSnapshots(ctx context.Context, units []model.Unit, day time.Time) error
}

// Inbound imports reservations for units whose mapping declares the
// external API authoritative.
type Inbound struct {
	store     *store.Store
	api       pms.BookingAPI
	blocks    *availability.Service
	snapshots SnapshotRefresher
	clock     model.Clock
	window    time.Duration
}

func NewInbound(st *store.Store, api pms.BookingAPI, blocks *availability.Service, snapshots SnapshotRefresher, clock model.Clock, window time.Duration) *Inbound {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Inbound{store: st, api: api, blocks: blocks, snapshots: snapshots, clock: clock, window: window}
}

// InboundOptions controls one run. FullResync ignores the watermark.
type InboundOptions struct {
	FullResync   bool       `json:"fullResync"`
	ModifiedFrom *time.Time `json:"modifiedFrom,omitempty"`
}

// InboundResult aggregates a run. Per-reservation failures land in Errors.
type InboundResult struct {
	RunID        string     `json:"runId"`
	ModifiedFrom *time.Time `json:"modifiedFrom,omitempty"`
	Groups       int        `json:"groups"`
	FailedGroups []string   `json:"failedGroups"`
	Fetched      int        `json:"fetched"`
	Created      int        `json:"created"`
	Updated      int        `json:"updated"`
	Cancelled    int        `json:"cancelled"`
	Unchanged    int        `json:"unchanged"`
	Skipped      int        `json:"skipped"`
	Unmapped     int        `json:"unmapped"`
	Errors       []string   `json:"errors"`
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeCreated
	outcomeUpdated
	outcomeCancelled
	outcomeSkipped
)

func (r *InboundResult) count(o outcome) {
	switch o {
	case outcomeCreated:
		r.Created++
	case outcomeUpdated:
		r.Updated++
	case outcomeCancelled:
		r.Cancelled++
	case outcomeSkipped:
		r.Skipped++
	default:
		r.Unchanged++
	}
}

type propertyGroup struct {
	propertyID string
	mappings   []model.Mapping
	byRoom     map[string]model.Mapping
}

// SyncInbound pulls reservations per external property. A failing property
// group is recorded and skipped; an error is returned only when the remote
// system is not usable at all.
func (s *Inbound) SyncInbound(ctx context.Context, opts InboundOptions) (InboundResult, error) {
	started := time.Now()
	res := InboundResult{RunID: uuid.NewString(), FailedGroups: []string{}, Errors: []string{}}
	ctx = pms.WithRunID(ctx, res.RunID)

	runErr := s.run(ctx, opts, &res)

	writeRunLog(ctx, s.store, model.IntegrationLogEntry{
		RunID:     res.RunID,
		Direction: model.DirectionInbound,
		Action:    "sync_inbound",
	}, started, res, runErr)

	appLog.Info("inbound sync finished", "run_id", res.RunID, "groups", res.Groups,
		"created", res.Created, "updated", res.Updated, "cancelled", res.Cancelled,
		"skipped", res.Skipped, "errors", len(res.Errors), "failed_groups", len(res.FailedGroups))
	return res, runErr
}

func (s *Inbound) run(ctx context.Context, opts InboundOptions, res *InboundResult) error {
	mappings, err := s.store.ListActiveMappings(ctx, model.TruthExternal, model.ConnectionAPI)
	if err != nil {
		return err
	}
	groups := groupByProperty(mappings)
	res.Groups = len(groups)
	if len(groups) == 0 {
		return nil
	}

	if !opts.FullResync {
		from := s.clock.Time().Add(-s.window)
		if opts.ModifiedFrom != nil {
			from = *opts.ModifiedFrom
		}
		res.ModifiedFrom = &from
	}

	for _, g := range groups {
		err := s.syncGroup(ctx, g, res)
		if err == nil {
			continue
		}
		res.FailedGroups = append(res.FailedGroups, g.propertyID)
		res.Errors = append(res.Errors, fmt.Sprintf("property %s: %v", g.propertyID, err))
		if errors.Is(err, pms.ErrNotConfigured) || errors.Is(err, pms.ErrAuthFailed) {
			// Every further group would fail the same way.
			for _, rest := range groups {
				if rest.propertyID != g.propertyID {
					s.markGroup(ctx, rest, model.SyncFailed, err.Error())
				}
			}
			return err
		}
	}

	if len(res.FailedGroups) == len(groups) {
		return ErrRemoteUnavailable
	}
	return nil
}

func (s *Inbound) syncGroup(ctx context.Context, g propertyGroup, res *InboundResult) error {
	bookings, err := s.api.ListBookings(ctx, pms.BookingQuery{
		PropertyIDs:      []string{g.propertyID},
		ModifiedFrom:     res.ModifiedFrom,
		IncludeCancelled: true,
	})
	if err != nil {
		s.markGroup(ctx, g, model.SyncFailed, err.Error())
		return err
	}
	res.Fetched += len(bookings)

	failures := 0
	for _, b := range bookings {
		m, ok := g.byRoom[b.RoomKey()]
		if !ok {
			res.Skipped++
			res.Unmapped++
			continue
		}
		o, err := s.applyReservation(ctx, b, m)
		if err != nil {
			failures++
			res.Errors = append(res.Errors, fmt.Sprintf("reservation %d: %v", b.ID, err))
			appLog.Error("inbound reservation failed", err, "external_id", b.ID, "unit_id", m.UnitID)
			continue
		}
		res.count(o)
	}

	if failures > 0 {
		s.markGroup(ctx, g, model.SyncFailed, fmt.Sprintf("%d reservation(s) failed", failures))
		return nil
	}
	s.markGroup(ctx, g, model.SyncSuccess, "")

	if s.snapshots != nil {
		units := make([]model.Unit, 0, len(g.mappings))
		for _, m := range g.mappings {
			u, err := s.store.GetUnit(ctx, m.UnitID)
			if err != nil {
				appLog.Error("inbound: load unit for snapshot failed", err, "unit_id", m.UnitID)
				continue
			}
			units = append(units, *u)
		}
		if err := s.snapshots.RefreshExternalSnapshots(ctx, units, s.clock.Today()); err != nil {
			appLog.Error("inbound: snapshot refresh failed", err, "property_id", g.propertyID)
		}
	}
	return nil
}

func (s *Inbound) markGroup(ctx context.Context, g propertyGroup, status model.SyncStatus, msg string) {
	ids := make([]string, 0, len(g.mappings))
	for _, m := range g.mappings {
		ids = append(ids, m.ID)
	}
	if err := s.store.RecordSync(ctx, ids, status, msg, s.clock.Time()); err != nil {
		appLog.Error("inbound: record sync status failed", err, "property_id", g.propertyID)
	}
}

// applyReservation converges local state onto one remote reservation. It
// is keyed by the reservation's external reference, so applying the same
// reservation twice changes nothing the second time.
func (s *Inbound) applyReservation(ctx context.Context, b pms.Booking, m model.Mapping) (outcome, error) {
	// Reservations this service pushed itself mirror a local booking and
	// are never imported back.
	if _, ok := model.ParseLocalRef(b.APIReference); ok {
		return outcomeSkipped, nil
	}

	ref := b.Ref()
	existing, err := s.store.FindBookingByExternalRef(ctx, ref)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return 0, err
	}

	if b.IsCancelled() {
		return s.applyCancellation(ctx, existing)
	}

	in, out, err := b.Dates()
	if err != nil {
		return 0, fmt.Errorf("bad dates: %w", err)
	}
	if !out.After(in) {
		return 0, fmt.Errorf("departure %s not after arrival %s", b.Departure, b.Arrival)
	}
	status := importedStatus(b.Status, in, out, s.clock.Today())

	var o outcome
	if existing == nil {
		existing, o, err = s.createImported(ctx, b, m, ref, in, out, status)
	} else {
		o, err = s.updateImported(ctx, existing, b, m, in, out, status)
	}
	if err != nil {
		return 0, err
	}

	_, err = s.blocks.CreateBookingBlock(ctx, availability.BookingBlockInput{
		UnitID:    existing.UnitID,
		BookingID: existing.ID,
		StartDate: in,
		EndDate:   out,
		Source:    model.SourceExternalAPI,
		SourceRef: ref,
	})
	return o, err
}

func (s *Inbound) applyCancellation(ctx context.Context, existing *model.Booking) (outcome, error) {
	// A cancellation for a reservation never imported has nothing to undo.
	if existing == nil {
		return outcomeSkipped, nil
	}

	o := outcomeUnchanged
	if existing.Status != model.BookingCancelled {
		existing.Status = model.BookingCancelled
		if err := s.store.SaveBooking(ctx, existing); err != nil {
			return 0, err
		}
		o = outcomeCancelled
	}
	if _, err := s.blocks.CancelBookingBlock(ctx, existing.ID, "cancelled in external system"); err != nil {
		return 0, err
	}
	return o, nil
}

func (s *Inbound) createImported(ctx context.Context, b pms.Booking, m model.Mapping, ref string, in, out time.Time, status model.BookingStatus) (*model.Booking, outcome, error) {
	unit, err := s.store.GetUnit(ctx, m.UnitID)
	if err != nil {
		return nil, 0, fmt.Errorf("load unit %s: %w", m.UnitID, err)
	}
	guest, err := s.store.ResolveGuest(ctx, b.GuestName(), b.Email)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve guest: %w", err)
	}

	refCopy := ref
	bk := &model.Booking{
		UnitID:      unit.ID,
		PropertyID:  unit.PropertyID,
		GuestID:     guest.ID,
		MoveIn:      in,
		MoveOut:     out,
		Status:      status,
		Source:      model.BookingSourceExternal,
		ExternalRef: &refCopy,
		ExternalID:  b.ExternalID(),
		Amount:      b.Price,
		Notes:       b.Notes,
	}
	if err := s.store.CreateBooking(ctx, bk); err != nil {
		// A concurrent run may have inserted the same reference first.
		if other, lookupErr := s.store.FindBookingByExternalRef(ctx, ref); lookupErr == nil {
			o, err := s.updateImported(ctx, other, b, m, in, out, status)
			return other, o, err
		}
		return nil, 0, err
	}
	return bk, outcomeCreated, nil
}

func (s *Inbound) updateImported(ctx context.Context, bk *model.Booking, b pms.Booking, m model.Mapping, in, out time.Time, status model.BookingStatus) (outcome, error) {
	changed := !bk.MoveIn.Equal(in) || !bk.MoveOut.Equal(out) ||
		bk.Status != status || !bk.Amount.Equal(b.Price) || bk.UnitID != m.UnitID
	if !changed {
		return outcomeUnchanged, nil
	}

	if bk.UnitID != m.UnitID {
		unit, err := s.store.GetUnit(ctx, m.UnitID)
		if err != nil {
			return 0, fmt.Errorf("load unit %s: %w", m.UnitID, err)
		}
		bk.UnitID = unit.ID
		bk.PropertyID = unit.PropertyID
	}
	bk.MoveIn = in
	bk.MoveOut = out
	bk.Status = status
	bk.Amount = b.Price
	bk.ExternalID = b.ExternalID()
	if err := s.store.SaveBooking(ctx, bk); err != nil {
		return 0, err
	}
	return outcomeUpdated, nil
}

// importedStatus maps the remote status onto the local lifecycle: a live
// reservation is active while the guest is in, completed after checkout.
func importedStatus(remote string, in, out, today time.Time) model.BookingStatus {
	st := pms.LocalStatus(remote)
	if st != model.BookingConfirmed {
		return st
	}
	switch {
	case !today.Before(out):
		return model.BookingCompleted
	case !today.Before(in):
		return model.BookingActive
	default:
		return model.BookingConfirmed
	}
}

func groupByProperty(mappings []model.Mapping) []propertyGroup {
	byProp := make(map[string]*propertyGroup)
	for _, m := range mappings {
		if !m.PullsFromAPI() || m.Validate() != nil {
			continue
		}
		g, ok := byProp[m.ExternalPropertyID]
		if !ok {
			g = &propertyGroup{propertyID: m.ExternalPropertyID, byRoom: make(map[string]model.Mapping)}
			byProp[m.ExternalPropertyID] = g
		}
		g.mappings = append(g.mappings, m)
		g.byRoom[m.ExternalRoomID] = m
	}

	out := make([]propertyGroup, 0, len(byProp))
	for _, g := range byProp {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].propertyID < out[j].propertyID })
	return out
}
