package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"staysync/internal/availability"
	"staysync/internal/config"
	"staysync/internal/ics"
	"staysync/internal/model"
	"staysync/internal/occupancy"
	"staysync/internal/pms/pmstest"
	"staysync/internal/reconcile"
	"staysync/internal/store"
	"staysync/internal/syncer"
)

var testNow = time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	st      *store.Store
	srv     *pmstest.Server
	handler http.Handler
	unit    model.Unit
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	st, err := store.OpenMemory(t.Name())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	srv := pmstest.NewServer()
	t.Cleanup(srv.Close)

	clock := model.FixedClock(testNow)
	api := srv.Client(st)
	feeds := ics.NewFetcher(time.Second)
	blocks := availability.New(st, clock)
	resolver := occupancy.NewResolver(st, feeds, clock)

	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	s := NewServer(cfg, Services{
		Store:        st,
		Availability: blocks,
		Occupancy:    resolver,
		Inbound:      syncer.NewInbound(st, api, blocks, resolver, clock, 0),
		ICal:         syncer.NewICalSync(st, feeds, clock),
		Lifecycle:    syncer.NewLifecycle(st, blocks, syncer.NewOutbound(st, api)),
		Reconciler:   reconcile.New(st, api, clock, 90),
		Clock:        clock,
	})

	u := model.Unit{BuildingID: "b1", PropertyID: "prop-1", Name: "101", Status: model.UnitAvailable}
	if err := st.CreateUnit(context.Background(), &u); err != nil {
		t.Fatalf("CreateUnit: %v", err)
	}
	return &testEnv{st: st, srv: srv, handler: s.Handler(), unit: u}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func (e *testEnv) booking(t *testing.T, status model.BookingStatus) model.Booking {
	t.Helper()
	b := model.Booking{UnitID: e.unit.ID, GuestID: "g1", MoveIn: testNow.AddDate(0, 0, -1),
		MoveOut: testNow.AddDate(0, 0, 2), Status: status, Source: model.BookingSourceLocal}
	b.MoveIn, b.MoveOut = model.DateOf(b.MoveIn), model.DateOf(b.MoveOut)
	if err := e.st.CreateBooking(context.Background(), &b); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	return b
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestBasicAuth(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "pw"}
	})

	if rec := env.do(t, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health must stay open, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/stats/occupancy", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stats/occupancy", nil)
	req.SetBasicAuth("admin", "pw")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated = %d", rec.Code)
	}
}

func TestUnitOccupancy(t *testing.T) {
	env := newTestEnv(t, nil)
	bk := env.booking(t, model.BookingConfirmed)

	rec := env.do(t, http.MethodGet, "/api/units/"+env.unit.ID+"/occupancy", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[occupancy.Result](t, rec)
	if !res.Occupied || res.Source != model.SnapshotLocal || res.BookingRef != bk.ID {
		t.Fatalf("result = %+v", res)
	}

	rec = env.do(t, http.MethodGet, "/api/units/"+env.unit.ID+"/occupancy?date=2024-04-01", "")
	if res := decode[occupancy.Result](t, rec); res.Occupied {
		t.Fatalf("2024-04-01 = %+v", res)
	}

	if rec := env.do(t, http.MethodGet, "/api/units/nope/occupancy", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown unit = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/units/"+env.unit.ID+"/occupancy?date=10-03-2024", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date = %d", rec.Code)
	}
}

func TestPropertyAvailability(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		query string
		code  int
	}{
		{"", http.StatusBadRequest},
		{"?start=2024-03-12", http.StatusBadRequest},
		{"?start=2024-03-12&end=2024-03-12", http.StatusBadRequest},
		{"?start=2024-03-12&end=2024-03-15", http.StatusOK},
	}
	for _, tt := range tests {
		rec := env.do(t, http.MethodGet, "/api/properties/prop-1/availability"+tt.query, "")
		if rec.Code != tt.code {
			t.Errorf("%q: status = %d, want %d", tt.query, rec.Code, tt.code)
		}
	}
}

func TestAdminBlockLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	body := `{"unitId":"` + env.unit.ID + `","startDate":"2024-03-12","endDate":"2024-03-15","notes":"boiler"}`
	rec := env.do(t, http.MethodPost, "/api/admin/blocks", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}
	blk := decode[model.AvailabilityBlock](t, rec)
	if blk.BlockType != model.BlockMaintenance || blk.Source != model.SourceAdmin {
		t.Fatalf("block = %+v", blk)
	}

	rec = env.do(t, http.MethodGet, "/api/properties/prop-1/availability?start=2024-03-14&end=2024-03-16", "")
	if avail := decode[availabilityResponse](t, rec); avail.Available {
		t.Fatal("property should be blocked")
	}
	rec = env.do(t, http.MethodGet, "/api/properties/prop-1/availability?start=2024-03-15&end=2024-03-16", "")
	if avail := decode[availabilityResponse](t, rec); !avail.Available {
		t.Fatal("end date is exclusive")
	}

	rec = env.do(t, http.MethodGet, "/api/units/"+env.unit.ID+"/blocks", "")
	if got := decode[[]model.AvailabilityBlock](t, rec); len(got) != 1 {
		t.Fatalf("unit blocks = %+v", got)
	}

	rec = env.do(t, http.MethodDelete, "/api/admin/blocks/"+blk.ID+"?reason=fixed", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[model.AvailabilityBlock](t, rec); got.Status != model.BlockCancelled {
		t.Fatalf("removed block = %+v", got)
	}
	if rec := env.do(t, http.MethodDelete, "/api/admin/blocks/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown block = %d", rec.Code)
	}
}

func TestAdminBlockValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	tests := map[string]string{
		"missing unit":   `{"startDate":"2024-03-12","endDate":"2024-03-15"}`,
		"bad date":       `{"unitId":"` + env.unit.ID + `","startDate":"12/03/2024","endDate":"2024-03-15"}`,
		"booking type":   `{"unitId":"` + env.unit.ID + `","startDate":"2024-03-12","endDate":"2024-03-15","type":"BOOKING"}`,
		"reversed range": `{"unitId":"` + env.unit.ID + `","startDate":"2024-03-15","endDate":"2024-03-12"}`,
		"unknown field":  `{"unitId":"` + env.unit.ID + `","startDate":"2024-03-12","endDate":"2024-03-15","x":1}`,
	}
	for name, body := range tests {
		if rec := env.do(t, http.MethodPost, "/api/admin/blocks", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
	}
}

func TestBookingHooks(t *testing.T) {
	env := newTestEnv(t, nil)
	bk := env.booking(t, model.BookingConfirmed)

	rec := env.do(t, http.MethodPost, "/api/hooks/bookings/"+bk.ID+"/activated", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("activated = %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[syncer.LifecycleResult](t, rec)
	if res.BlockID == "" || res.Outbound.Result != syncer.OutboundSkipped {
		t.Fatalf("activated result = %+v", res)
	}

	rec = env.do(t, http.MethodPost, "/api/hooks/bookings/"+bk.ID+"/cancelled", `{"reason":"guest left"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancelled = %d: %s", rec.Code, rec.Body.String())
	}
	if res := decode[syncer.LifecycleResult](t, rec); !res.Changed {
		t.Fatalf("cancelled result = %+v", res)
	}

	pending := env.booking(t, model.BookingPending)
	if rec := env.do(t, http.MethodPost, "/api/hooks/bookings/"+pending.ID+"/activated", ""); rec.Code != http.StatusConflict {
		t.Fatalf("pending activation = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/hooks/bookings/nope/cancelled", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown booking = %d", rec.Code)
	}
}

func TestAdminSyncInboundReportsRemoteFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	m := model.Mapping{UnitID: env.unit.ID, Active: true, SourceOfTruth: model.TruthExternal,
		ConnectionType: model.ConnectionAPI, ExternalPropertyID: "10", ExternalRoomID: "100"}
	if err := env.st.SaveMapping(context.Background(), &m); err != nil {
		t.Fatalf("SaveMapping: %v", err)
	}

	if rec := env.do(t, http.MethodPost, "/api/admin/sync/inbound", `{"modifiedFrom":"yesterday"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad modifiedFrom = %d", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/admin/sync/inbound", `{"modifiedFrom":"2024-03-09T00:00:00Z"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync = %d: %s", rec.Code, rec.Body.String())
	}

	env.srv.FailLists(http.StatusInternalServerError)
	rec = env.do(t, http.MethodPost, "/api/admin/sync/inbound", "")
	if rec.Code != http.StatusBadGateway || !strings.Contains(rec.Body.String(), `"error"`) {
		t.Fatalf("failed sync = %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/admin/logs?action=sync_inbound&status=failed", "")
	if logs := decode[[]model.IntegrationLogEntry](t, rec); len(logs) != 1 {
		t.Fatalf("failed run logs = %d", len(logs))
	}
}

func TestAdminReconcileAndSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)

	if rec := env.do(t, http.MethodPost, "/api/admin/reconcile", `{"days":1000}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("reconcile days = %d", rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/api/admin/reconcile", `{"days":30}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("reconcile = %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/admin/snapshots", `{"date":"2024-03-10"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot = %d: %s", rec.Code, rec.Body.String())
	}
	if res := decode[occupancy.SnapshotResult](t, rec); res.Units != 1 || res.Vacant != 1 {
		t.Fatalf("snapshot result = %+v", res)
	}

	rec = env.do(t, http.MethodGet, "/api/buildings/b1/occupancy/rate?from=2024-03-01&to=2024-03-10", "")
	if rep := decode[occupancy.RateReport](t, rec); rep.KnownUnitDays != 1 || rep.OccupancyRate != 0 {
		t.Fatalf("rate = %+v", rep)
	}
	rec = env.do(t, http.MethodGet, "/api/buildings/b1/occupancy/today", "")
	if got := decode[occupancy.BuildingOccupancy](t, rec); got.TotalUnits != 1 || got.Vacant != 1 {
		t.Fatalf("today = %+v", got)
	}
}

func TestAdminRateLimit(t *testing.T) {
	env := newTestEnv(t, nil)
	for i := 0; i < 10; i++ {
		if rec := env.do(t, http.MethodPost, "/api/admin/expire", ""); rec.Code != http.StatusOK {
			t.Fatalf("call %d = %d", i, rec.Code)
		}
	}
	if rec := env.do(t, http.MethodPost, "/api/admin/expire", ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("11th call = %d, want 429", rec.Code)
	}
	// Read-only endpoints are not throttled.
	if rec := env.do(t, http.MethodGet, "/api/admin/logs", ""); rec.Code != http.StatusOK {
		t.Fatalf("logs = %d", rec.Code)
	}
}
