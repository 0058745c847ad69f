package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"staysync/internal/ics"
	appLog "staysync/internal/log"
	"staysync/internal/model"
	"staysync/internal/store"
)

// FeedFetcher fetches and parses an iCal feed.
type FeedFetcher interface {
	FetchEvents(ctx context.Context, url string) ([]ics.Event, error)
}

// ICalSync mirrors iCal feeds into EXTERNAL_IMPORT blocks so that property
// availability sees iCal-governed units without fetching feeds per query.
type ICalSync struct {
	store   *store.Store
	feeds   FeedFetcher
	clock   model.Clock
	horizon int
}

func NewICalSync(st *store.Store, feeds FeedFetcher, clock model.Clock) *ICalSync {
	return &ICalSync{store: st, feeds: feeds, clock: clock, horizon: 365}
}

// ICalUnitResult is the outcome for one mapping.
type ICalUnitResult struct {
	UnitID    string `json:"unitId"`
	Events    int    `json:"events"`
	Created   int    `json:"created"`
	Updated   int    `json:"updated"`
	Cancelled int    `json:"cancelled"`
	Error     string `json:"error,omitempty"`
}

// ICalSyncResult aggregates a run over every ICAL mapping.
type ICalSyncResult struct {
	RunID  string           `json:"runId"`
	Units  []ICalUnitResult `json:"units"`
	Failed int              `json:"failed"`
}

// SyncAll re-reads every EXTERNAL+ICAL feed. A feed that cannot be fetched
// leaves its existing blocks untouched and marks the mapping FAILED.
func (s *ICalSync) SyncAll(ctx context.Context) (ICalSyncResult, error) {
	started := time.Now()
	res := ICalSyncResult{RunID: uuid.NewString(), Units: []ICalUnitResult{}}

	mappings, err := s.store.ListActiveMappings(ctx, model.TruthExternal, model.ConnectionICal)
	if err != nil {
		return res, err
	}

	for _, m := range mappings {
		ur, err := s.syncUnit(ctx, m)
		status, msg := model.SyncSuccess, ""
		if err != nil {
			status, msg = model.SyncFailed, err.Error()
			ur.Error = msg
			res.Failed++
			appLog.Warn("ical sync failed", "unit_id", m.UnitID, "url", ics.RedactURL(m.ICalImportURL), "err", msg)
		}
		if err := s.store.RecordSync(ctx, []string{m.ID}, status, msg, s.clock.Time()); err != nil {
			appLog.Error("ical sync: record status failed", err, "unit_id", m.UnitID)
		}
		res.Units = append(res.Units, ur)
	}

	writeRunLog(ctx, s.store, model.IntegrationLogEntry{
		RunID:     res.RunID,
		Direction: model.DirectionInbound,
		Action:    "sync_ical",
	}, started, res, nil)
	appLog.Info("ical sync finished", "run_id", res.RunID, "units", len(res.Units), "failed", res.Failed)
	return res, nil
}

func (s *ICalSync) syncUnit(ctx context.Context, m model.Mapping) (ICalUnitResult, error) {
	ur := ICalUnitResult{UnitID: m.UnitID}
	if err := m.Validate(); err != nil {
		return ur, err
	}
	unit, err := s.store.GetUnit(ctx, m.UnitID)
	if err != nil {
		return ur, fmt.Errorf("load unit: %w", err)
	}

	events, err := s.feeds.FetchEvents(ctx, m.ICalImportURL)
	if err != nil {
		return ur, err
	}
	ur.Events = len(events)

	today := s.clock.Today()
	instances, err := ics.Expand(events, today, today.AddDate(0, 0, s.horizon))
	if err != nil {
		return ur, err
	}

	existing, err := s.store.UnitSourceBlocks(ctx, unit.ID, model.SourceExternalICal)
	if err != nil {
		return ur, err
	}
	byRef := make(map[string]model.AvailabilityBlock, len(existing))
	for _, b := range existing {
		byRef[b.SourceRef] = b
	}

	seen := make(map[string]bool, len(instances))
	for _, inst := range instances {
		start, end := model.DateOf(inst.Start), model.DateOf(inst.End)
		if !end.After(start) {
			end = start.AddDate(0, 0, 1)
		}
		seen[inst.Key] = true

		b, ok := byRef[inst.Key]
		if !ok {
			nb := model.AvailabilityBlock{
				UnitID:     unit.ID,
				PropertyID: unit.PropertyID,
				BlockType:  model.BlockExternalImport,
				Status:     model.BlockActive,
				StartDate:  start,
				EndDate:    end,
				Source:     model.SourceExternalICal,
				SourceRef:  inst.Key,
				Notes:      inst.Summary,
			}
			if err := s.store.CreateBlock(ctx, &nb); err != nil {
				return ur, err
			}
			ur.Created++
			continue
		}
		if b.Status == model.BlockActive && b.StartDate.Equal(start) && b.EndDate.Equal(end) {
			continue
		}
		b.Status = model.BlockActive
		b.StartDate = start
		b.EndDate = end
		if err := s.store.SaveBlock(ctx, &b); err != nil {
			return ur, err
		}
		ur.Updated++
	}

	for _, b := range existing {
		if seen[b.SourceRef] || b.Status != model.BlockActive || !b.EndDate.After(today) {
			continue
		}
		b.Status = model.BlockCancelled
		b.Notes = appendLine(b.Notes, "removed from feed")
		if err := s.store.SaveBlock(ctx, &b); err != nil {
			return ur, err
		}
		ur.Cancelled++
	}
	return ur, nil
}

func appendLine(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}
