package occupancy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"staysync/internal/ics"
	appLog "staysync/internal/log"
	"staysync/internal/model"
	"staysync/internal/store"
)

// FeedFetcher fetches and parses an iCal feed.
type FeedFetcher interface {
	FetchEvents(ctx context.Context, url string) ([]ics.Event, error)
}

// Result is the answer to "is this unit occupied on this date".
type Result struct {
	UnitID     string               `json:"unitId"`
	Date       time.Time            `json:"date"`
	Occupied   bool                 `json:"occupied"`
	Source     model.SnapshotSource `json:"source"`
	IsUnknown  bool                 `json:"isUnknown"`
	BookingRef string               `json:"bookingRef,omitempty"`
	Reason     string               `json:"reason,omitempty"`
}

func unknown(unitID string, date time.Time, reason string) Result {
	return Result{UnitID: unitID, Date: date, Source: model.SnapshotUnknown, IsUnknown: true, Reason: reason}
}

// Resolver evaluates a unit's source on every query. Nothing is cached
// between queries.
type Resolver struct {
	store *store.Store
	feeds FeedFetcher
	clock model.Clock
}

func NewResolver(st *store.Store, feeds FeedFetcher, clock model.Clock) *Resolver {
	return &Resolver{store: st, feeds: feeds, clock: clock}
}

// IsUnitOccupied resolves occupancy for unitID on date (today when nil).
// Missing configuration and unreachable feeds yield an UNKNOWN result; an
// error is returned only when the store itself fails.
func (r *Resolver) IsUnitOccupied(ctx context.Context, unitID string, date *time.Time) (Result, error) {
	day := r.clock.Today()
	if date != nil {
		day = model.DateOf(*date)
	}

	m, err := r.store.ActiveMapping(ctx, unitID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Result{}, err
	}
	return r.resolve(ctx, unitID, day, SourceFor(m), nil)
}

// feedMemo shares fetched feeds across the units of one batch run.
type feedMemo map[string]feedOutcome

type feedOutcome struct {
	events []ics.Event
	err    error
}

func (r *Resolver) resolve(ctx context.Context, unitID string, day time.Time, src Source, memo feedMemo) (Result, error) {
	switch s := src.(type) {
	case LocalSource:
		return r.resolveLocal(ctx, unitID, day)
	case ICalSource:
		return r.resolveICal(ctx, unitID, day, s.Mapping, memo)
	case APISource:
		return r.resolveAPI(ctx, unitID, day)
	case UnknownSource:
		return unknown(unitID, day, s.Reason), nil
	default:
		return Result{}, fmt.Errorf("occupancy: unhandled source %T", src)
	}
}

func (r *Resolver) resolveLocal(ctx context.Context, unitID string, day time.Time) (Result, error) {
	res := Result{UnitID: unitID, Date: day, Source: model.SnapshotLocal}
	b, err := r.store.OccupyingBookingOn(ctx, unitID, day)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return res, nil
	case err != nil:
		return Result{}, err
	}
	res.Occupied = true
	res.BookingRef = b.ID
	return res, nil
}

func (r *Resolver) resolveICal(ctx context.Context, unitID string, day time.Time, m model.Mapping, memo feedMemo) (Result, error) {
	var out feedOutcome
	if cached, ok := memo[m.ICalImportURL]; ok {
		out = cached
	} else {
		out.events, out.err = r.feeds.FetchEvents(ctx, m.ICalImportURL)
		if memo != nil {
			memo[m.ICalImportURL] = out
		}
		r.recordFeedStatus(ctx, m, out.err)
	}

	if out.err != nil {
		return unknown(unitID, day, "ical feed unavailable: "+out.err.Error()), nil
	}

	res := Result{UnitID: unitID, Date: day, Source: model.SnapshotExternal}
	if inst, ok := ics.OccupiedOn(out.events, day); ok {
		res.Occupied = true
		res.BookingRef = inst.UID
	}
	return res, nil
}

// recordFeedStatus writes only on a state change: a failure, or the first
// success after a failure. Queries against a healthy feed leave the mapping
// untouched.
func (r *Resolver) recordFeedStatus(ctx context.Context, m model.Mapping, fetchErr error) {
	status, msg := model.SyncSuccess, ""
	if fetchErr != nil {
		status, msg = model.SyncFailed, fetchErr.Error()
	} else if m.LastSyncStatus == model.SyncSuccess {
		return
	}
	if err := r.store.RecordSync(ctx, []string{m.ID}, status, msg, r.clock.Time()); err != nil {
		appLog.Error("occupancy: record feed status failed", err, "mapping_id", m.ID)
	}
}

// resolveAPI never calls the remote API; it reads what the last sync wrote.
func (r *Resolver) resolveAPI(ctx context.Context, unitID string, day time.Time) (Result, error) {
	row, err := r.store.GetSnapshot(ctx, unitID, day, model.SnapshotExternal)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return unknown(unitID, day, "no external snapshot for date"), nil
	case err != nil:
		return Result{}, err
	}
	return Result{
		UnitID:     unitID,
		Date:       day,
		Occupied:   row.Occupied,
		Source:     model.SnapshotExternal,
		BookingRef: row.BookingRef,
	}, nil
}
