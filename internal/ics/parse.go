// Package ics fetches and interprets the iCalendar feeds external channel
// managers export for a unit. Only the subset needed to decide whether a
// date is taken is read: UID, DTSTART, DTEND, STATUS, SUMMARY and
// recurrence data.
package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "staysync/internal/log"
)

// Event is one VEVENT reduced to the interval it blocks.
type Event struct {
	UID     string
	Summary string
	Status  string // upper-cased STATUS, empty when absent

	// [Start, End) in UTC.
	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule     string
	ExDates      []time.Time
	RecurrenceID *time.Time
}

// Cancelled reports STATUS:CANCELLED.
func (e Event) Cancelled() bool {
	return e.Status == "CANCELLED"
}

// Covers reports whether date is inside the event. The date is probed at
// 12:00 UTC so all-day and timed events compare the same way; an event
// ending exactly on the date (checkout day) does not cover it.
func (e Event) Covers(date time.Time) bool {
	y, m, d := date.Date()
	noon := time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
	return !noon.Before(e.Start) && noon.Before(e.End)
}

// Parse extracts VEVENTs from a feed body. Events that lack a UID or a
// parsable DTSTART are skipped and logged; the rest are returned.
func Parse(body []byte) ([]Event, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			appLog.Debug("ics vevent skipped", "reason", perr.Error())
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (Event, error) {
	var out Event

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || strings.TrimSpace(uidProp.Value) == "" {
		return out, errors.New("missing UID")
	}
	out.UID = strings.TrimSpace(uidProp.Value)

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.Status = strings.ToUpper(strings.TrimSpace(p.Value))
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	start, err := parseICSTime(dtStart.Value, tzidOf(dtStart))
	if err != nil {
		return out, err
	}
	out.Start = start
	out.AllDay = isDateOnly(dtStart)

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		end, err := parseICSTime(dtEnd.Value, tzidOf(dtEnd))
		if err != nil {
			return out, err
		}
		out.End = end
	}
	if out.End.IsZero() || !out.End.After(out.Start) {
		// An all-day event without DTEND lasts one day; a timed one is
		// treated the same so that it still blocks its own date.
		out.End = out.Start.AddDate(0, 0, 1)
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(part, tzidOf(p)); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}
	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, err := parseICSTime(p.Value, tzidOf(p)); err == nil {
			out.RecurrenceID = &t
		}
	}

	return out, nil
}

func tzidOf(p *ical.IANAProperty) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if v, ok := p.ICalParameters["TZID"]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

func isDateOnly(p *ical.IANAProperty) bool {
	if params := p.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			return true
		}
	}
	return !strings.Contains(p.Value, "T")
}

// ParseDate parses the two value forms feeds use: YYYYMMDD (midnight UTC)
// and YYYYMMDDTHHMMSSZ.
func ParseDate(v string) (time.Time, error) {
	return parseICSTime(v, "")
}

// parseICSTime parses DATE and DATE-TIME values. Floating date-times are
// read in tzid when it names a known zone, UTC otherwise. Results are UTC.
func parseICSTime(v, tzid string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t.UTC(), err
	}

	if strings.Contains(v, "T") {
		loc := time.UTC
		if tzid != "" {
			if l, err := time.LoadLocation(tzid); err == nil {
				loc = l
			}
		}
		t, err := time.ParseInLocation("20060102T150405", v, loc)
		return t.UTC(), err
	}

	return time.ParseInLocation("20060102", v, time.UTC)
}
