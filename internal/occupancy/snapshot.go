package occupancy

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "staysync/internal/log"
	"staysync/internal/model"
	"staysync/internal/store"
)

// apiFreshness bounds how old a successful API sync may be for the daily
// job to derive an EXTERNAL row from imported blocks.
const apiFreshness = 48 * time.Hour

// SnapshotResult summarizes one GenerateDailySnapshot run.
type SnapshotResult struct {
	Date        time.Time `json:"date"`
	Units       int       `json:"units"`
	Occupied    int       `json:"occupied"`
	Vacant      int       `json:"vacant"`
	Unknown     int       `json:"unknown"`
	Unavailable int       `json:"unavailable"`
	Errors      []string  `json:"errors"`
}

// GenerateDailySnapshot writes one row per unit for date (today when nil).
// Re-running it for the same date overwrites the same rows.
func (r *Resolver) GenerateDailySnapshot(ctx context.Context, date *time.Time) (SnapshotResult, error) {
	day := r.clock.Today()
	if date != nil {
		day = model.DateOf(*date)
	}
	res := SnapshotResult{Date: day, Errors: []string{}}

	units, err := r.store.ListUnits(ctx)
	if err != nil {
		return res, err
	}

	memo := make(feedMemo)
	rows := make([]model.DailyOccupancySnapshot, 0, len(units))
	for _, u := range units {
		row, err := r.snapshotRow(ctx, u, day, memo)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("unit %s: %v", u.ID, err))
			continue
		}
		rows = append(rows, row)
		res.Units++
		switch {
		case !row.Available:
			res.Unavailable++
		case row.Source == model.SnapshotUnknown:
			res.Unknown++
		case row.Occupied:
			res.Occupied++
		default:
			res.Vacant++
		}
	}

	if err := r.store.UpsertSnapshots(ctx, rows); err != nil {
		return res, err
	}
	appLog.Info("daily snapshot written", "date", model.FormatDate(day), "units", res.Units,
		"occupied", res.Occupied, "unknown", res.Unknown, "errors", len(res.Errors))
	return res, nil
}

func (r *Resolver) snapshotRow(ctx context.Context, u model.Unit, day time.Time, memo feedMemo) (model.DailyOccupancySnapshot, error) {
	row := model.DailyOccupancySnapshot{Date: day, UnitID: u.ID, BuildingID: u.BuildingID}

	available, err := r.availableOn(ctx, u, day)
	if err != nil {
		return row, err
	}
	row.Available = available

	m, err := r.store.ActiveMapping(ctx, u.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return row, err
	}

	var res Result
	switch s := SourceFor(m).(type) {
	case APISource:
		res, err = r.apiSnapshot(ctx, u, day, s.Mapping)
	default:
		res, err = r.resolve(ctx, u.ID, day, s, memo)
	}
	if err != nil {
		return row, err
	}

	row.Occupied = res.Occupied
	row.Source = res.Source
	row.BookingRef = res.BookingRef
	return row, nil
}

// apiSnapshot keeps an EXTERNAL row already written by the inbound sync,
// otherwise derives one from imported blocks when the last sync is fresh.
func (r *Resolver) apiSnapshot(ctx context.Context, u model.Unit, day time.Time, m model.Mapping) (Result, error) {
	existing, err := r.resolveAPI(ctx, u.ID, day)
	if err != nil || !existing.IsUnknown {
		return existing, err
	}

	fresh := m.LastSyncStatus == model.SyncSuccess && m.LastSyncedAt != nil &&
		r.clock.Time().Sub(*m.LastSyncedAt) <= apiFreshness
	if !fresh {
		return unknown(u.ID, day, "external sync stale or never succeeded"), nil
	}
	return r.externalFromBlocks(ctx, u.ID, day)
}

func (r *Resolver) externalFromBlocks(ctx context.Context, unitID string, day time.Time) (Result, error) {
	res := Result{UnitID: unitID, Date: day, Source: model.SnapshotExternal}
	blocks, err := r.store.ActiveUnitBlocks(ctx, unitID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return Result{}, err
	}
	for _, b := range blocks {
		if b.Source == model.SourceExternalAPI && b.Covers(day) {
			res.Occupied = true
			res.BookingRef = b.SourceRef
			break
		}
	}
	return res, nil
}

// RefreshExternalSnapshots rewrites the EXTERNAL rows of the given units for
// day from their imported blocks. The inbound synchronizer calls it after a
// property group synced successfully.
func (r *Resolver) RefreshExternalSnapshots(ctx context.Context, units []model.Unit, day time.Time) error {
	day = model.DateOf(day)
	rows := make([]model.DailyOccupancySnapshot, 0, len(units))
	for _, u := range units {
		res, err := r.externalFromBlocks(ctx, u.ID, day)
		if err != nil {
			return err
		}
		available, err := r.availableOn(ctx, u, day)
		if err != nil {
			return err
		}
		rows = append(rows, model.DailyOccupancySnapshot{
			Date:       day,
			UnitID:     u.ID,
			BuildingID: u.BuildingID,
			Occupied:   res.Occupied,
			Available:  available,
			Source:     model.SnapshotExternal,
			BookingRef: res.BookingRef,
		})
	}
	return r.store.UpsertSnapshots(ctx, rows)
}

// availableOn is false for BLOCKED/MAINTENANCE units and for units under an
// active maintenance block that day.
func (r *Resolver) availableOn(ctx context.Context, u model.Unit, day time.Time) (bool, error) {
	if !u.Rentable() {
		return false, nil
	}
	blocks, err := r.store.ActiveUnitBlocks(ctx, u.ID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return false, err
	}
	for _, b := range blocks {
		if b.BlockType == model.BlockMaintenance && b.Covers(day) {
			return false, nil
		}
	}
	return true, nil
}
