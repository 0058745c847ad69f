// Package reconcile diffs local bookings against the external system. It
// only reads; every discrepancy is reported for an operator to act on.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	appLog "staysync/internal/log"
	"staysync/internal/model"
	"staysync/internal/pms"
	"staysync/internal/store"
)

type MismatchType string

const (
	MissingInLocal    MismatchType = "MISSING_IN_LOCAL"
	MissingInExternal MismatchType = "MISSING_IN_EXTERNAL"
	StatusMismatch    MismatchType = "STATUS_MISMATCH"
	DateMismatch      MismatchType = "DATE_MISMATCH"
)

// Mismatch carries enough identifiers and dates for an operator to act.
type Mismatch struct {
	Type           MismatchType `json:"type"`
	UnitID         string       `json:"unitId,omitempty"`
	BookingID      string       `json:"bookingId,omitempty"`
	ExternalID     string       `json:"externalId,omitempty"`
	ExternalRef    string       `json:"externalRef,omitempty"`
	PropertyID     string       `json:"externalPropertyId,omitempty"`
	RoomID         string       `json:"externalRoomId,omitempty"`
	LocalStatus    string       `json:"localStatus,omitempty"`
	ExternalStatus string       `json:"externalStatus,omitempty"`
	ExpectedStatus string       `json:"expectedStatus,omitempty"`
	LocalDates     string       `json:"localDates,omitempty"`
	ExternalDates  string       `json:"externalDates,omitempty"`
}

// Report is the result of one run. It is not persisted.
type Report struct {
	RunID         string     `json:"runId"`
	From          time.Time  `json:"from"`
	To            time.Time  `json:"to"`
	Properties    int        `json:"properties"`
	ExternalCount int        `json:"externalCount"`
	LocalCount    int        `json:"localCount"`
	Mismatches    []Mismatch `json:"mismatches"`
	Errors        []string   `json:"errors"`
}

// Options controls a run. Days defaults to 90.
type Options struct {
	Days int `json:"days"`
}

type Reconciler struct {
	store       *store.Store
	api         pms.BookingAPI
	clock       model.Clock
	defaultDays int
}

func New(st *store.Store, api pms.BookingAPI, clock model.Clock, defaultDays int) *Reconciler {
	if defaultDays <= 0 {
		defaultDays = 90
	}
	return &Reconciler{store: st, api: api, clock: clock, defaultDays: defaultDays}
}

type property struct {
	id      string
	rooms   map[string]string // external room id -> unit id
	unitIDs []string
}

// Reconcile compares the window [today, today+days) for every property that
// has an API-connected mapping, whichever side is authoritative.
func (r *Reconciler) Reconcile(ctx context.Context, opts Options) (Report, error) {
	started := time.Now()
	days := opts.Days
	if days <= 0 {
		days = r.defaultDays
	}
	from := r.clock.Today()
	to := from.AddDate(0, 0, days)
	rep := Report{RunID: uuid.NewString(), From: from, To: to, Mismatches: []Mismatch{}, Errors: []string{}}
	ctx = pms.WithRunID(ctx, rep.RunID)

	props, err := r.properties(ctx)
	if err != nil {
		return rep, err
	}
	rep.Properties = len(props)

	for _, p := range props {
		if err := r.reconcileProperty(ctx, p, &rep); err != nil {
			rep.Errors = append(rep.Errors, fmt.Sprintf("property %s: %v", p.id, err))
			appLog.Warn("reconcile: property skipped", "property_id", p.id, "err", err.Error())
		}
	}

	sort.SliceStable(rep.Mismatches, func(i, j int) bool {
		return rep.Mismatches[i].Type < rep.Mismatches[j].Type
	})

	r.writeLog(ctx, rep, started)
	appLog.Info("reconcile finished", "run_id", rep.RunID, "properties", rep.Properties,
		"external", rep.ExternalCount, "local", rep.LocalCount, "mismatches", len(rep.Mismatches))
	return rep, nil
}

func (r *Reconciler) properties(ctx context.Context) ([]property, error) {
	var mappings []model.Mapping
	for _, truth := range []model.SourceOfTruth{model.TruthExternal, model.TruthLocal} {
		ms, err := r.store.ListActiveMappings(ctx, truth, model.ConnectionAPI)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, ms...)
	}

	byID := make(map[string]*property)
	for _, m := range mappings {
		if m.ExternalPropertyID == "" || m.ExternalRoomID == "" {
			continue
		}
		p, ok := byID[m.ExternalPropertyID]
		if !ok {
			p = &property{id: m.ExternalPropertyID, rooms: make(map[string]string)}
			byID[m.ExternalPropertyID] = p
		}
		p.rooms[m.ExternalRoomID] = m.UnitID
		p.unitIDs = append(p.unitIDs, m.UnitID)
	}

	out := make([]property, 0, len(byID))
	for _, p := range byID {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out, nil
}

func (r *Reconciler) reconcileProperty(ctx context.Context, p property, rep *Report) error {
	lastNight := rep.To.AddDate(0, 0, -1)
	remote, err := r.api.ListBookings(ctx, pms.BookingQuery{
		PropertyIDs:      []string{p.id},
		ArrivalTo:        &lastNight,
		DepartureFrom:    &rep.From,
		IncludeCancelled: true,
	})
	if err != nil {
		return err
	}
	local, err := r.store.ListLinkedBookings(ctx, p.unitIDs, rep.From, lastNight)
	if err != nil {
		return err
	}

	byRef := make(map[string]*model.Booking, len(local))
	byExtID := make(map[string]*model.Booking, len(local))
	byID := make(map[string]*model.Booking, len(local))
	for i := range local {
		b := &local[i]
		byID[b.ID] = b
		if b.ExternalRef != nil {
			byRef[*b.ExternalRef] = b
		}
		if b.ExternalID != "" {
			byExtID[b.ExternalID] = b
		}
	}

	matched := make(map[string]bool, len(local))
	for _, rb := range remote {
		unitID, mapped := p.rooms[rb.RoomKey()]
		if !mapped {
			continue
		}
		rep.ExternalCount++

		lb, pushed := match(rb, byRef, byExtID, byID)
		if lb == nil {
			if !rb.IsCancelled() {
				rep.Mismatches = append(rep.Mismatches, remoteMismatch(MissingInLocal, rb, unitID))
			}
			continue
		}
		matched[lb.ID] = true

		expected := expectedStatus(rb, pushed)
		if statusGroup(expected) != statusGroup(lb.Status) {
			m := pairMismatch(StatusMismatch, rb, lb)
			m.ExpectedStatus = string(expected)
			rep.Mismatches = append(rep.Mismatches, m)
			continue
		}
		if rb.IsCancelled() {
			continue
		}
		in, out, err := rb.Dates()
		if err != nil || !in.Equal(lb.MoveIn) || !out.Equal(lb.MoveOut) {
			rep.Mismatches = append(rep.Mismatches, pairMismatch(DateMismatch, rb, lb))
		}
	}

	for i := range local {
		lb := &local[i]
		rep.LocalCount++
		if matched[lb.ID] || lb.ExternalID == "" || lb.Status == model.BookingCancelled {
			continue
		}
		rep.Mismatches = append(rep.Mismatches, Mismatch{
			Type:        MissingInExternal,
			UnitID:      lb.UnitID,
			BookingID:   lb.ID,
			ExternalID:  lb.ExternalID,
			ExternalRef: deref(lb.ExternalRef),
			PropertyID:  p.id,
			LocalStatus: string(lb.Status),
			LocalDates:  dateRange(lb.MoveIn, lb.MoveOut),
		})
	}
	return nil
}

// match finds the local counterpart of rb. pushed reports that rb is a
// reservation this service created to mirror a local booking.
func match(rb pms.Booking, byRef, byExtID, byID map[string]*model.Booking) (*model.Booking, bool) {
	localID, pushed := model.ParseLocalRef(rb.APIReference)
	if b, ok := byRef[rb.Ref()]; ok {
		return b, pushed
	}
	if b, ok := byExtID[rb.ExternalID()]; ok {
		return b, pushed
	}
	if pushed {
		if b, ok := byID[localID]; ok {
			return b, true
		}
	}
	return nil, pushed
}

// expectedStatus is the local status rb implies. A pushed blocking
// reservation only says whether the local booking is still live.
func expectedStatus(rb pms.Booking, pushed bool) model.BookingStatus {
	if pushed && !rb.IsCancelled() {
		return model.BookingConfirmed
	}
	return pms.LocalStatus(rb.Status)
}

// statusGroup collapses lifecycle progress that the remote side does not
// track: confirmed, active and completed are the same remote state.
func statusGroup(s model.BookingStatus) string {
	switch s {
	case model.BookingConfirmed, model.BookingActive, model.BookingCompleted:
		return "live"
	default:
		return string(s)
	}
}

func remoteMismatch(t MismatchType, rb pms.Booking, unitID string) Mismatch {
	return Mismatch{
		Type:           t,
		UnitID:         unitID,
		ExternalID:     rb.ExternalID(),
		ExternalRef:    rb.Ref(),
		PropertyID:     rb.PropertyKey(),
		RoomID:         rb.RoomKey(),
		ExternalStatus: rb.Status,
		ExternalDates:  rb.Arrival + "/" + rb.Departure,
	}
}

func pairMismatch(t MismatchType, rb pms.Booking, lb *model.Booking) Mismatch {
	m := remoteMismatch(t, rb, lb.UnitID)
	m.BookingID = lb.ID
	m.LocalStatus = string(lb.Status)
	m.LocalDates = dateRange(lb.MoveIn, lb.MoveOut)
	return m
}

func dateRange(in, out time.Time) string {
	return model.FormatDate(in) + "/" + model.FormatDate(out)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
