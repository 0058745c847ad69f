package availability

import (
	"context"
	"time"

	"staysync/internal/model"
)

const maxStatsDays = 730

// Stats aggregates property-days over a trailing window ending today.
type Stats struct {
	Days            int       `json:"days"`
	From            time.Time `json:"from"`
	To              time.Time `json:"to"`
	TotalDays       int       `json:"totalPropertyDays"`
	BookedDays      int       `json:"bookedDays"`
	MaintenanceDays int       `json:"maintenanceDays"`
	AvailableDays   int       `json:"availableDays"`
	OccupancyRate   float64   `json:"occupancyRate"`
}

type dayKind uint8

const (
	dayFree dayKind = iota
	dayMaintenance
	dayBooked
)

// GetOccupancyStats counts booked, maintenance and free property-days over
// the last days days including today. Overlapping blocks on one unit count a
// day once; booked wins over maintenance.
func (s *Service) GetOccupancyStats(ctx context.Context, days int) (Stats, error) {
	if days <= 0 {
		days = 30
	}
	if days > maxStatsDays {
		days = maxStatsDays
	}

	to := s.clock.Today().AddDate(0, 0, 1)
	from := to.AddDate(0, 0, -days)
	st := Stats{Days: days, From: from, To: to}

	// Same denominator rule as the snapshot aggregates: BLOCKED and
	// MAINTENANCE units are not available inventory.
	unitIDs, err := s.store.RentablePropertyUnitIDs(ctx)
	if err != nil {
		return st, err
	}
	rentable := make(map[string]bool, len(unitIDs))
	for _, id := range unitIDs {
		rentable[id] = true
	}
	st.TotalDays = len(unitIDs) * days

	blocks, err := s.store.BlocksInWindow(ctx,
		[]model.BlockStatus{model.BlockActive, model.BlockExpired}, from, to)
	if err != nil {
		return st, err
	}

	perUnit := make(map[string][]dayKind)
	for _, b := range blocks {
		if b.PropertyID == "" || !rentable[b.UnitID] {
			continue
		}
		kind := dayBooked
		if b.BlockType == model.BlockMaintenance || b.BlockType == model.BlockManual {
			kind = dayMaintenance
		}
		grid, ok := perUnit[b.UnitID]
		if !ok {
			grid = make([]dayKind, days)
			perUnit[b.UnitID] = grid
		}
		for i := range days {
			day := from.AddDate(0, 0, i)
			if b.Covers(day) && grid[i] < kind {
				grid[i] = kind
			}
		}
	}

	for _, grid := range perUnit {
		for _, k := range grid {
			switch k {
			case dayBooked:
				st.BookedDays++
			case dayMaintenance:
				st.MaintenanceDays++
			}
		}
	}

	st.AvailableDays = st.TotalDays - st.BookedDays - st.MaintenanceDays
	if st.AvailableDays < 0 {
		st.AvailableDays = 0
	}
	st.OccupancyRate = model.OccupancyRate(st.BookedDays, st.TotalDays)
	return st, nil
}
