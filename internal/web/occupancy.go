package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"staysync/internal/model"
)

// handleUnitOccupancy answers GET /api/units/:id/occupancy?date=YYYY-MM-DD.
// Misconfigured or unreachable sources yield an UNKNOWN body, not an error.
func (s *Server) handleUnitOccupancy(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ctx := r.Context()
	unitID := ps.ByName("id")

	if _, err := s.svc.Store.GetUnit(ctx, unitID); err != nil {
		writeServiceError(w, err, "load unit")
		return
	}

	var date *time.Time
	d, ok, err := parseDateParam(r, "date")
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	if ok {
		date = &d
	}

	res, err := s.svc.Occupancy.IsUnitOccupied(ctx, unitID, date)
	if err != nil {
		writeServiceError(w, err, "resolve occupancy")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleUnitBlocks lists ACTIVE blocks of a unit; the window defaults to the
// next 90 days.
func (s *Server) handleUnitBlocks(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	from, to, err := dateWindow(r, "from", "to", 90, s.svc.Clock.Today())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	blocks, err := s.svc.Availability.ListUnitBlocks(r.Context(), ps.ByName("id"), from, to)
	if err != nil {
		writeServiceError(w, err, "list blocks")
		return
	}
	if blocks == nil {
		blocks = []model.AvailabilityBlock{}
	}
	writeJSON(w, http.StatusOK, blocks)
}

type availabilityResponse struct {
	PropertyID string    `json:"propertyId"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Available  bool      `json:"available"`
}

// handlePropertyAvailability answers GET
// /api/properties/:id/availability?start=...&end=... over [start, end).
func (s *Server) handlePropertyAvailability(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	start, okStart, err1 := parseDateParam(r, "start")
	end, okEnd, err2 := parseDateParam(r, "end")
	if err1 != nil || err2 != nil || !okStart || !okEnd {
		writeError(w, http.StatusBadRequest, "start and end are required as YYYY-MM-DD")
		return
	}

	ok, err := s.svc.Availability.IsPropertyAvailable(r.Context(), ps.ByName("id"), start, end)
	if err != nil {
		writeServiceError(w, err, "check availability")
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{
		PropertyID: ps.ByName("id"),
		Start:      start,
		End:        end,
		Available:  ok,
	})
}

func (s *Server) handleOccupancyStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	days := parseIntDefault(r.URL.Query().Get("days"), 30)
	stats, err := s.svc.Availability.GetOccupancyStats(r.Context(), days)
	if err != nil {
		writeServiceError(w, err, "occupancy stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleBuildingToday(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	out, err := s.svc.Occupancy.GetBuildingOccupancyToday(r.Context(), ps.ByName("id"))
	if err != nil {
		writeServiceError(w, err, "building occupancy")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleBuildingRate reports over [from, to]; the default is the trailing
// 30 days.
func (s *Server) handleBuildingRate(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	from, fromOK, err1 := parseDateParam(r, "from")
	to, toOK, err2 := parseDateParam(r, "to")
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "from and to must be YYYY-MM-DD")
		return
	}
	today := s.svc.Clock.Today()
	if !toOK {
		to = today
	}
	if !fromOK {
		from = to.AddDate(0, 0, -29)
	}

	rep, err := s.svc.Occupancy.GetBuildingOccupancyRate(r.Context(), ps.ByName("id"), from, to)
	if err != nil {
		writeServiceError(w, err, "building occupancy rate")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// dateWindow parses an optional half-open window; a missing start is today
// and a missing end is start+defDays.
func dateWindow(r *http.Request, fromKey, toKey string, defDays int, today time.Time) (time.Time, time.Time, error) {
	from, fromOK, err := parseDateParam(r, fromKey)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New(fromKey + " must be YYYY-MM-DD")
	}
	to, toOK, err := parseDateParam(r, toKey)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New(toKey + " must be YYYY-MM-DD")
	}
	if !fromOK {
		from = today
	}
	if !toOK {
		to = from.AddDate(0, 0, defDays)
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.New(toKey + " must be after " + fromKey)
	}
	return from, to, nil
}

