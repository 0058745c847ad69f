package web

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// handleBookingActivated is called by the booking owner after a booking
// became confirmed or active.
func (s *Server) handleBookingActivated(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	res, err := s.svc.Lifecycle.OnBookingActivated(r.Context(), ps.ByName("id"))
	if err != nil {
		writeServiceError(w, err, "booking activated")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (s *Server) handleBookingCancelled(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req cancelRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.svc.Lifecycle.OnBookingCancelled(r.Context(), ps.ByName("id"), req.Reason)
	if err != nil {
		writeServiceError(w, err, "booking cancelled")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
