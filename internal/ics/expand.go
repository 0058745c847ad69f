package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "staysync/internal/log"
)

const defaultMaxOccurrencesPerEvent = 1000

// Instance is a concrete occurrence of an event. Key is stable across
// fetches and identifies the occurrence among all instances of the feed.
type Instance struct {
	Event
	Key string
}

// Expand returns the non-cancelled instances intersecting [from, to).
// Recurring events are expanded with RRULE/EXDATE and RECURRENCE-ID
// overrides applied; a single event is capped at a fixed number of
// occurrences.
func Expand(events []Event, from, to time.Time) ([]Instance, error) {
	if !to.After(from) {
		return nil, errors.New("expand: range end is not after range start")
	}

	base := make([]Event, 0, len(events))
	overrides := make(map[string][]Event)
	for _, ev := range events {
		if ev.RecurrenceID != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		base = append(base, ev)
	}

	out := make([]Instance, 0, len(base))
	for _, ev := range base {
		if ev.RawRRule == "" {
			if ev.Cancelled() || !overlaps(ev.Start, ev.End, from, to) {
				continue
			}
			out = append(out, Instance{Event: ev, Key: ev.UID})
			continue
		}
		out = append(out, expandRecurring(ev, overrides[ev.UID], from, to)...)
	}
	return out, nil
}

func expandRecurring(ev Event, overrides []Event, from, to time.Time) []Instance {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex)
	}

	dur := ev.End.Sub(ev.Start)
	// Widen the lower bound so occurrences that began before from but are
	// still running are included.
	starts := set.Between(from.Add(-dur), to, true)
	if len(starts) > defaultMaxOccurrencesPerEvent {
		appLog.Warn("expand: occurrence cap reached", "uid", ev.UID, "cap", defaultMaxOccurrencesPerEvent)
		starts = starts[:defaultMaxOccurrencesPerEvent]
	}

	out := make([]Instance, 0, len(starts))
	for _, s := range starts {
		inst := ev
		inst.RawRRule = ""
		inst.ExDates = nil
		inst.Start = s.UTC()
		inst.End = s.Add(dur).UTC()

		if o, ok := findOverride(overrides, s); ok {
			inst = o
			inst.RecurrenceID = nil
		}
		if inst.Cancelled() || !overlaps(inst.Start, inst.End, from, to) {
			continue
		}
		out = append(out, Instance{
			Event: inst,
			Key:   ev.UID + "@" + s.UTC().Format("20060102T150405Z"),
		})
	}
	return out
}

func findOverride(overrides []Event, start time.Time) (Event, bool) {
	for _, ov := range overrides {
		if ov.RecurrenceID != nil && ov.RecurrenceID.Equal(start) {
			return ov, true
		}
	}
	return Event{}, false
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// OccupiedOn returns the first non-cancelled instance covering date.
func OccupiedOn(events []Event, date time.Time) (Instance, bool) {
	y, m, d := date.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	// Stays rarely exceed a year; a recurring series is searched that far back.
	insts, err := Expand(events, day.AddDate(-1, 0, 0), day.AddDate(0, 0, 1))
	if err != nil {
		return Instance{}, false
	}
	for _, in := range insts {
		if in.Covers(day) {
			return in, true
		}
	}
	return Instance{}, false
}
