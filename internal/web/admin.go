package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"staysync/internal/availability"
	"staysync/internal/model"
	"staysync/internal/reconcile"
	"staysync/internal/store"
	"staysync/internal/syncer"
)

type inboundRequest struct {
	FullResync   bool   `json:"fullResync"`
	ModifiedFrom string `json:"modifiedFrom" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// handleSyncInbound runs an inbound sync. Partial failures are reported in
// the body with 200; only total unavailability yields 502.
func (s *Server) handleSyncInbound(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req inboundRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := syncer.InboundOptions{FullResync: req.FullResync}
	if req.ModifiedFrom != "" {
		t, _ := time.Parse(time.RFC3339, req.ModifiedFrom)
		opts.ModifiedFrom = &t
	}

	res, err := s.svc.Inbound.SyncInbound(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, struct {
			syncer.InboundResult
			Error string `json:"error"`
		}{res, err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSyncICal(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	res, err := s.svc.ICal.SyncAll(r.Context())
	if err != nil {
		writeServiceError(w, err, "ical sync")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var opts reconcile.Options
	if err := decodeBody(w, r, &opts); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if opts.Days < 0 || opts.Days > 730 {
		writeError(w, http.StatusBadRequest, "days must be between 0 and 730")
		return
	}
	rep, err := s.svc.Reconciler.Reconcile(r.Context(), opts)
	if err != nil {
		writeServiceError(w, err, "reconcile")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type snapshotRequest struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req snapshotRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var date *time.Time
	if req.Date != "" {
		d, _ := model.ParseDate(req.Date)
		date = &d
	}
	res, err := s.svc.Occupancy.GenerateDailySnapshot(r.Context(), date)
	if err != nil {
		writeServiceError(w, err, "snapshot")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type blockRequest struct {
	UnitID    string `json:"unitId" validate:"required"`
	StartDate string `json:"startDate" validate:"required,datetime=2006-01-02"`
	EndDate   string `json:"endDate" validate:"required,datetime=2006-01-02"`
	Type      string `json:"type" validate:"omitempty,oneof=MAINTENANCE MANUAL"`
	Notes     string `json:"notes" validate:"max=2000"`
}

func (s *Server) handleCreateBlock(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req blockRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start, _ := model.ParseDate(req.StartDate)
	end, _ := model.ParseDate(req.EndDate)
	b, err := s.svc.Availability.CreateMaintenanceBlock(r.Context(), availability.AdminBlockInput{
		UnitID:    req.UnitID,
		StartDate: start,
		EndDate:   end,
		Type:      model.BlockType(req.Type),
		Notes:     req.Notes,
	})
	if err != nil {
		writeServiceError(w, err, "create block")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleRemoveBlock(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	reason := strings.TrimSpace(r.URL.Query().Get("reason"))
	if reason == "" {
		reason = "removed by admin"
	}
	b, err := s.svc.Availability.RemoveMaintenanceBlock(r.Context(), ps.ByName("id"), reason)
	if err != nil {
		writeServiceError(w, err, "remove block")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	res, err := s.svc.Availability.BackfillFromBookings(r.Context())
	if err != nil {
		writeServiceError(w, err, "backfill")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	n, err := s.svc.Availability.ExpireSweep(r.Context())
	if err != nil {
		writeServiceError(w, err, "expire sweep")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"expired": n})
}

// handleLogs lists integration log entries, newest first.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	entries, err := s.svc.Store.ListLogs(r.Context(), store.LogFilter{
		Action:   q.Get("action"),
		EntityID: q.Get("entity"),
		Status:   model.LogStatus(strings.ToUpper(q.Get("status"))),
		Limit:    parseIntDefault(q.Get("limit"), 100),
	})
	if err != nil {
		writeServiceError(w, err, "list logs")
		return
	}
	if entries == nil {
		entries = []model.IntegrationLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
