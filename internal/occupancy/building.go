package occupancy

import (
	"context"
	"time"

	"staysync/internal/model"
)

// BuildingOccupancy is a building's occupancy on one date. Unknown units are
// neither occupied nor vacant and are left out of the rate; unavailable
// units are left out of everything.
type BuildingOccupancy struct {
	BuildingID    string    `json:"buildingId"`
	Date          time.Time `json:"date"`
	TotalUnits    int       `json:"totalUnits"`
	Unavailable   int       `json:"unavailableUnits"`
	Unknown       int       `json:"unknownUnits"`
	Occupied      int       `json:"occupiedUnits"`
	Vacant        int       `json:"vacantUnits"`
	OccupancyRate float64   `json:"occupancyRate"`
}

func (b *BuildingOccupancy) add(row model.DailyOccupancySnapshot) {
	b.TotalUnits++
	switch {
	case !row.Available:
		b.Unavailable++
	case row.Source == model.SnapshotUnknown:
		b.Unknown++
	case row.Occupied:
		b.Occupied++
	default:
		b.Vacant++
	}
}

// GetBuildingOccupancyToday aggregates today's snapshot rows. Units without
// a row yet are resolved live.
func (r *Resolver) GetBuildingOccupancyToday(ctx context.Context, buildingID string) (BuildingOccupancy, error) {
	day := r.clock.Today()
	out := BuildingOccupancy{BuildingID: buildingID, Date: day}

	units, err := r.store.ListUnitsByBuilding(ctx, buildingID)
	if err != nil {
		return out, err
	}
	rows, err := r.store.ListSnapshots(ctx, buildingID, day, day)
	if err != nil {
		return out, err
	}
	byUnit := make(map[string]model.DailyOccupancySnapshot, len(rows))
	for _, row := range rows {
		byUnit[row.UnitID] = row
	}

	memo := make(feedMemo)
	for _, u := range units {
		row, ok := byUnit[u.ID]
		if !ok {
			row, err = r.snapshotRow(ctx, u, day, memo)
			if err != nil {
				return out, err
			}
		}
		out.add(row)
	}
	out.OccupancyRate = model.OccupancyRate(out.Occupied, out.Occupied+out.Vacant)
	return out, nil
}

// RateReport is a building's occupancy over a date range from snapshots.
type RateReport struct {
	BuildingID       string    `json:"buildingId"`
	From             time.Time `json:"from"`
	To               time.Time `json:"to"`
	OccupiedUnitDays int       `json:"occupiedUnitDays"`
	KnownUnitDays    int       `json:"knownUnitDays"`
	UnknownUnitDays  int       `json:"unknownUnitDays"`
	UnavailableDays  int       `json:"unavailableUnitDays"`
	OccupancyRate    float64   `json:"occupancyRate"`
}

// GetBuildingOccupancyRate computes occupied unit-days over known,
// available unit-days for dates in [from, to].
func (r *Resolver) GetBuildingOccupancyRate(ctx context.Context, buildingID string, from, to time.Time) (RateReport, error) {
	from, to = model.DateOf(from), model.DateOf(to)
	if to.Before(from) {
		from, to = to, from
	}
	rep := RateReport{BuildingID: buildingID, From: from, To: to}

	rows, err := r.store.ListSnapshots(ctx, buildingID, from, to)
	if err != nil {
		return rep, err
	}
	for _, row := range rows {
		switch {
		case !row.Available:
			rep.UnavailableDays++
		case row.Source == model.SnapshotUnknown:
			rep.UnknownUnitDays++
		default:
			rep.KnownUnitDays++
			if row.Occupied {
				rep.OccupiedUnitDays++
			}
		}
	}
	rep.OccupancyRate = model.OccupancyRate(rep.OccupiedUnitDays, rep.KnownUnitDays)
	return rep, nil
}
