package syncer

import (
	"context"
	"net/http"
	"strconv"
	"testing"

	"staysync/internal/model"
	"staysync/internal/pms"
	"staysync/internal/pms/pmstest"
	"staysync/internal/store"
)

func TestPushBookingCreatesBlockingReservation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	srv := pmstest.NewServer()
	defer srv.Close()
	u := addUnit(t, st, "prop-1")
	addAPIMapping(t, st, u.ID, model.TruthLocal, "10", "100")
	bk := addLocalBooking(t, st, u.ID, d(4, 1), d(4, 5), model.BookingConfirmed)

	out := NewOutbound(st, srv.Client(st))
	res, err := out.PushBooking(ctx, bk.ID)
	if err != nil {
		t.Fatalf("PushBooking: %v", err)
	}
	if res.Result != OutboundPushed || res.ExternalID == "" {
		t.Fatalf("result = %+v", res)
	}

	remote := srv.Bookings()
	if len(remote) != 1 {
		t.Fatalf("remote bookings = %d", len(remote))
	}
	rb := remote[0]
	if rb.APIReference != model.LocalRef(bk.ID) || rb.Status != pms.StatusBlack ||
		rb.RoomID != 100 || rb.Arrival != "2024-04-01" || rb.Departure != "2024-04-05" {
		t.Fatalf("remote booking = %+v", rb)
	}

	got, _ := st.GetBooking(ctx, bk.ID)
	if got.ExternalID != strconv.FormatInt(rb.ID, 10) || got.ExternalRef == nil || *got.ExternalRef != rb.Ref() {
		t.Fatalf("local booking not linked: %+v", got)
	}

	again, err := out.PushBooking(ctx, bk.ID)
	if err != nil || again.Result != OutboundSkipped {
		t.Fatalf("second push = %+v, %v", again, err)
	}
	if len(srv.Bookings()) != 1 {
		t.Fatal("second push must not create another reservation")
	}

	cancelled, err := out.CancelBooking(ctx, bk.ID)
	if err != nil || cancelled.Result != OutboundCancelled {
		t.Fatalf("cancel = %+v, %v", cancelled, err)
	}
	if rb, _ := srv.Booking(rb.ID); rb.Status != pms.StatusCancelled {
		t.Fatalf("remote status = %s", rb.Status)
	}
}

func TestPushBookingSkips(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	srv := pmstest.NewServer()
	defer srv.Close()
	out := NewOutbound(st, srv.Client(nil))

	unmapped := addUnit(t, st, "prop-1")
	noTarget := addLocalBooking(t, st, unmapped.ID, d(4, 1), d(4, 5), model.BookingConfirmed)

	mapped := addUnit(t, st, "prop-2")
	addAPIMapping(t, st, mapped.ID, model.TruthLocal, "10", "100")
	pending := addLocalBooking(t, st, mapped.ID, d(4, 1), d(4, 5), model.BookingPending)
	external := addLocalBooking(t, st, mapped.ID, d(5, 1), d(5, 5), model.BookingConfirmed)
	external.Source = model.BookingSourceExternal
	if err := st.SaveBooking(ctx, &external); err != nil {
		t.Fatalf("SaveBooking: %v", err)
	}

	governed := addUnit(t, st, "prop-3")
	addAPIMapping(t, st, governed.ID, model.TruthExternal, "10", "101")
	inbound := addLocalBooking(t, st, governed.ID, d(4, 1), d(4, 5), model.BookingConfirmed)

	for _, id := range []string{noTarget.ID, pending.ID, external.ID, inbound.ID} {
		res, err := out.PushBooking(ctx, id)
		if err != nil {
			t.Fatalf("PushBooking(%s): %v", id, err)
		}
		if res.Result != OutboundSkipped || res.Reason == "" {
			t.Fatalf("PushBooking(%s) = %+v", id, res)
		}
	}
	if _, _, writes := srv.Calls(); writes != 0 {
		t.Fatalf("write calls = %d, want 0", writes)
	}

	logs, err := st.ListLogs(ctx, store.LogFilter{EntityID: noTarget.ID, Status: model.LogSkipped})
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != "push_booking" || logs[0].Error != "no outbound target" {
		t.Fatalf("skip log = %+v", logs)
	}

	res, err := out.CancelBooking(ctx, noTarget.ID)
	if err != nil || res.Result != OutboundSkipped {
		t.Fatalf("CancelBooking = %+v, %v", res, err)
	}
}

func TestPushBookingRemoteFailureIsReported(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	srv := pmstest.NewServer()
	u := addUnit(t, st, "prop-1")
	addAPIMapping(t, st, u.ID, model.TruthLocal, "10", "100")
	bk := addLocalBooking(t, st, u.ID, d(4, 1), d(4, 5), model.BookingConfirmed)

	client := srv.Client(st)
	srv.Close()

	res, err := NewOutbound(st, client).PushBooking(ctx, bk.ID)
	if err != nil {
		t.Fatalf("remote failure must not be an error: %v", err)
	}
	if res.Result != OutboundFailed || res.Reason == "" {
		t.Fatalf("result = %+v", res)
	}
	got, _ := st.GetBooking(ctx, bk.ID)
	if got.ExternalID != "" || got.ExternalRef != nil {
		t.Fatalf("failed push must not link the booking: %+v", got)
	}

	logs, err := st.ListLogs(ctx, store.LogFilter{EntityID: bk.ID, Status: model.LogFailed})
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != "push_booking" || logs[0].Error != res.Reason {
		t.Fatalf("failure log = %+v", logs)
	}
}

func TestOutboundFailureBeforeAnyRequestIsLogged(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	configured := addUnit(t, st, "prop-1")
	addAPIMapping(t, st, configured.ID, model.TruthLocal, "10", "100")
	noCreds := addLocalBooking(t, st, configured.ID, d(4, 1), d(4, 5), model.BookingConfirmed)

	badRoom := addUnit(t, st, "prop-2")
	addAPIMapping(t, st, badRoom.ID, model.TruthLocal, "10", "room-a")
	badIDs := addLocalBooking(t, st, badRoom.ID, d(4, 1), d(4, 5), model.BookingConfirmed)

	out := NewOutbound(st, pms.New(pms.Config{}, nil, st))
	for _, id := range []string{noCreds.ID, badIDs.ID} {
		res, err := out.PushBooking(ctx, id)
		if err != nil {
			t.Fatalf("PushBooking(%s): %v", id, err)
		}
		if res.Result != OutboundFailed {
			t.Fatalf("PushBooking(%s) = %+v", id, res)
		}
		logs, err := st.ListLogs(ctx, store.LogFilter{EntityID: id, Status: model.LogFailed})
		if err != nil {
			t.Fatalf("ListLogs: %v", err)
		}
		if len(logs) != 1 || logs[0].Action != "push_booking" || logs[0].Direction != model.DirectionOutbound {
			t.Fatalf("failure log for %s = %+v", id, logs)
		}
	}
	if n := countRows(t, st, &model.IntegrationLogEntry{}); n != 2 {
		t.Fatalf("integration log rows = %d, want 2", n)
	}
}

func TestOutboundRequestFailureIsLoggedOnce(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	srv := pmstest.NewServer()
	defer srv.Close()
	u := addUnit(t, st, "prop-1")
	addAPIMapping(t, st, u.ID, model.TruthLocal, "10", "100")
	bk := addLocalBooking(t, st, u.ID, d(4, 1), d(4, 5), model.BookingConfirmed)

	srv.FailWrites(http.StatusInternalServerError)
	res, err := NewOutbound(st, srv.Client(st)).PushBooking(ctx, bk.ID)
	if err != nil || res.Result != OutboundFailed {
		t.Fatalf("PushBooking = %+v, %v", res, err)
	}

	failed, err := st.ListLogs(ctx, store.LogFilter{Status: model.LogFailed})
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(failed) != 1 || failed[0].Action != "create_booking" || failed[0].EntityID != model.LocalRef(bk.ID) {
		t.Fatalf("failed rows = %+v", failed)
	}
}
