package syncer

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"

	"staysync/internal/availability"
	"staysync/internal/model"
	"staysync/internal/occupancy"
	"staysync/internal/pms"
	"staysync/internal/pms/pmstest"
	"staysync/internal/store"
)

type inboundFixture struct {
	st   *store.Store
	srv  *pmstest.Server
	sync *Inbound
	unit model.Unit
}

func newInboundFixture(t *testing.T) *inboundFixture {
	t.Helper()
	st := newTestStore(t)
	srv := pmstest.NewServer()
	t.Cleanup(srv.Close)

	clock := model.FixedClock(testNow)
	u := addUnit(t, st, "prop-1")
	addAPIMapping(t, st, u.ID, model.TruthExternal, "10", "100")

	sync := NewInbound(st, srv.Client(st), availability.New(st, clock),
		occupancy.NewResolver(st, nil, clock), clock, 0)
	return &inboundFixture{st: st, srv: srv, sync: sync, unit: u}
}

func remoteBooking(id int64, arrival, departure string) pms.Booking {
	return pms.Booking{
		ID: id, PropertyID: 10, RoomID: 100, Status: pms.StatusConfirmed,
		Arrival: arrival, Departure: departure,
		FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com",
		Price: decimal.RequireFromString("300"),
	}
}

func TestInboundImportsOnceAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newInboundFixture(t)
	f.srv.Put(remoteBooking(1, "2024-03-09", "2024-03-12"))

	res, err := f.sync.SyncInbound(ctx, InboundOptions{})
	if err != nil {
		t.Fatalf("SyncInbound: %v", err)
	}
	if res.Created != 1 || res.Fetched != 1 || len(res.Errors) != 0 {
		t.Fatalf("first run = %+v", res)
	}

	bk, err := f.st.FindBookingByExternalRef(ctx, "beds24:1")
	if err != nil {
		t.Fatalf("FindBookingByExternalRef: %v", err)
	}
	if bk.Source != model.BookingSourceExternal || bk.Status != model.BookingActive || bk.UnitID != f.unit.ID {
		t.Fatalf("imported booking = %+v", bk)
	}
	if bk.ExternalID != "1" || !bk.MoveIn.Equal(d(3, 9)) || !bk.MoveOut.Equal(d(3, 12)) {
		t.Fatalf("imported booking fields = %+v", bk)
	}

	res, err = f.sync.SyncInbound(ctx, InboundOptions{FullResync: true})
	if err != nil {
		t.Fatalf("second SyncInbound: %v", err)
	}
	if res.Created != 0 || res.Updated != 0 || res.Unchanged != 1 {
		t.Fatalf("second run = %+v", res)
	}
	if n := countRows(t, f.st, &model.Booking{}); n != 1 {
		t.Fatalf("bookings = %d, want 1", n)
	}

	blocks, err := f.st.BookingBlocks(ctx, bk.ID)
	if err != nil {
		t.Fatalf("BookingBlocks: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(blocks))
	}
	b := blocks[0]
	if b.Status != model.BlockActive || b.BlockType != model.BlockExternalImport ||
		b.Source != model.SourceExternalAPI || b.SourceRef != "beds24:1" {
		t.Fatalf("block = %+v", b)
	}

	if m := mappingOf(t, f.st, f.unit.ID); m.LastSyncStatus != model.SyncSuccess || m.LastSyncedAt == nil {
		t.Fatalf("mapping = %+v", m)
	}

	row, err := f.st.GetSnapshot(ctx, f.unit.ID, d(3, 10), model.SnapshotExternal)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if !row.Occupied || row.BookingRef != "beds24:1" {
		t.Fatalf("snapshot = %+v", row)
	}

	logs, err := f.st.ListLogs(ctx, store.LogFilter{Action: "sync_inbound"})
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(logs) != 2 || logs[0].Status != model.LogSuccess {
		t.Fatalf("run logs = %+v", logs)
	}
}

func TestInboundAppliesDateChange(t *testing.T) {
	ctx := context.Background()
	f := newInboundFixture(t)
	f.srv.Put(remoteBooking(2, "2024-04-01", "2024-04-05"))
	if _, err := f.sync.SyncInbound(ctx, InboundOptions{}); err != nil {
		t.Fatalf("SyncInbound: %v", err)
	}

	f.srv.Put(remoteBooking(2, "2024-04-02", "2024-04-06"))
	res, err := f.sync.SyncInbound(ctx, InboundOptions{})
	if err != nil {
		t.Fatalf("SyncInbound: %v", err)
	}
	if res.Updated != 1 {
		t.Fatalf("run = %+v", res)
	}

	bk, _ := f.st.FindBookingByExternalRef(ctx, "beds24:2")
	if bk.Status != model.BookingConfirmed || !bk.MoveIn.Equal(d(4, 2)) {
		t.Fatalf("booking = %+v", bk)
	}
	blocks, _ := f.st.BookingBlocks(ctx, bk.ID)
	if len(blocks) != 1 || !blocks[0].StartDate.Equal(d(4, 2)) || !blocks[0].EndDate.Equal(d(4, 6)) {
		t.Fatalf("blocks = %+v", blocks)
	}
}

func TestInboundCancellationReleasesBlock(t *testing.T) {
	ctx := context.Background()
	f := newInboundFixture(t)
	rb := remoteBooking(3, "2024-03-20", "2024-03-25")
	f.srv.Put(rb)
	if _, err := f.sync.SyncInbound(ctx, InboundOptions{}); err != nil {
		t.Fatalf("SyncInbound: %v", err)
	}

	rb.Status = pms.StatusCancelled
	f.srv.Put(rb)
	res, err := f.sync.SyncInbound(ctx, InboundOptions{})
	if err != nil {
		t.Fatalf("SyncInbound: %v", err)
	}
	if res.Cancelled != 1 {
		t.Fatalf("run = %+v", res)
	}

	bk, _ := f.st.FindBookingByExternalRef(ctx, "beds24:3")
	if bk.Status != model.BookingCancelled {
		t.Fatalf("booking status = %s", bk.Status)
	}
	active, err := f.st.ActiveUnitBlocks(ctx, f.unit.ID, d(3, 1), d(4, 1))
	if err != nil {
		t.Fatalf("ActiveUnitBlocks: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active blocks = %+v", active)
	}

	// Cancelling again is a no-op.
	res, err = f.sync.SyncInbound(ctx, InboundOptions{})
	if err != nil {
		t.Fatalf("SyncInbound: %v", err)
	}
	if res.Cancelled != 0 || res.Unchanged != 1 {
		t.Fatalf("repeat run = %+v", res)
	}
}

func TestInboundSkipsOwnPushesAndUnmappedRooms(t *testing.T) {
	ctx := context.Background()
	f := newInboundFixture(t)

	own := remoteBooking(4, "2024-03-20", "2024-03-22")
	own.Status = pms.StatusBlack
	own.APIReference = model.LocalRef("local-booking")
	f.srv.Put(own)

	stranger := remoteBooking(5, "2024-03-20", "2024-03-22")
	stranger.RoomID = 999
	f.srv.Put(stranger)

	// Never imported, so nothing to cancel.
	gone := remoteBooking(6, "2024-03-20", "2024-03-22")
	gone.Status = pms.StatusCancelled
	f.srv.Put(gone)

	res, err := f.sync.SyncInbound(ctx, InboundOptions{})
	if err != nil {
		t.Fatalf("SyncInbound: %v", err)
	}
	if res.Skipped != 3 || res.Unmapped != 1 || res.Created != 0 {
		t.Fatalf("run = %+v", res)
	}
	if n := countRows(t, f.st, &model.Booking{}); n != 0 {
		t.Fatalf("bookings = %d, want 0", n)
	}
}

func TestInboundRemoteFailureMarksMappingFailed(t *testing.T) {
	ctx := context.Background()
	f := newInboundFixture(t)
	f.srv.FailLists(http.StatusInternalServerError)

	res, err := f.sync.SyncInbound(ctx, InboundOptions{})
	if !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("got %v, want ErrRemoteUnavailable", err)
	}
	if len(res.FailedGroups) != 1 || res.FailedGroups[0] != "10" {
		t.Fatalf("failed groups = %v", res.FailedGroups)
	}
	if m := mappingOf(t, f.st, f.unit.ID); m.LastSyncStatus != model.SyncFailed || m.LastSyncError == "" {
		t.Fatalf("mapping = %+v", m)
	}

	logs, _ := f.st.ListLogs(ctx, store.LogFilter{Action: "sync_inbound"})
	if len(logs) != 1 || logs[0].Status != model.LogFailed {
		t.Fatalf("run logs = %+v", logs)
	}
}

func TestInboundAuthFailureStopsRun(t *testing.T) {
	ctx := context.Background()
	f := newInboundFixture(t)
	clock := model.FixedClock(testNow)
	bad := pms.New(pms.Config{BaseURL: f.srv.URL, RefreshToken: "wrong", RequestsPerSecond: 100, Burst: 10}, nil, nil)
	sync := NewInbound(f.st, bad, availability.New(f.st, clock), nil, clock, 0)

	_, err := sync.SyncInbound(ctx, InboundOptions{})
	if !errors.Is(err, pms.ErrAuthFailed) {
		t.Fatalf("got %v, want ErrAuthFailed", err)
	}
	if _, list, _ := f.srv.Calls(); list != 0 {
		t.Fatalf("list calls = %d", list)
	}
}

func TestInboundWithoutMappingsDoesNothing(t *testing.T) {
	st := newTestStore(t)
	srv := pmstest.NewServer()
	defer srv.Close()
	clock := model.FixedClock(testNow)

	res, err := NewInbound(st, srv.Client(nil), availability.New(st, clock), nil, clock, 0).
		SyncInbound(context.Background(), InboundOptions{})
	if err != nil || res.Groups != 0 {
		t.Fatalf("got %+v, %v", res, err)
	}
	if token, _, _ := srv.Calls(); token != 0 {
		t.Fatal("no remote call expected without mappings")
	}
}

func TestImportedStatus(t *testing.T) {
	tests := []struct {
		remote string
		today  int
		want   model.BookingStatus
	}{
		{pms.StatusConfirmed, 5, model.BookingConfirmed},
		{pms.StatusConfirmed, 10, model.BookingActive},
		{pms.StatusConfirmed, 14, model.BookingActive},
		{pms.StatusConfirmed, 15, model.BookingCompleted},
		{pms.StatusRequest, 12, model.BookingPending},
	}
	for _, tt := range tests {
		got := importedStatus(tt.remote, d(3, 10), d(3, 15), d(3, tt.today))
		if got != tt.want {
			t.Errorf("%s on day %d = %s, want %s", tt.remote, tt.today, got, tt.want)
		}
	}
}
