package syncer

import (
	"context"
	"errors"
	"testing"

	"staysync/internal/availability"
	"staysync/internal/model"
	"staysync/internal/pms"
	"staysync/internal/pms/pmstest"
	"staysync/internal/store"
)

func TestLifecycleActivateThenCancel(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	srv := pmstest.NewServer()
	defer srv.Close()
	u := addUnit(t, st, "prop-1")
	addAPIMapping(t, st, u.ID, model.TruthLocal, "10", "100")
	bk := addLocalBooking(t, st, u.ID, d(4, 1), d(4, 5), model.BookingConfirmed)

	blocks := availability.New(st, model.FixedClock(testNow))
	lc := NewLifecycle(st, blocks, NewOutbound(st, srv.Client(nil)))

	res, err := lc.OnBookingActivated(ctx, bk.ID)
	if err != nil {
		t.Fatalf("OnBookingActivated: %v", err)
	}
	if res.BlockID == "" || res.Outbound.Result != OutboundPushed {
		t.Fatalf("activate = %+v", res)
	}
	ok, err := blocks.IsPropertyAvailable(ctx, "prop-1", d(4, 2), d(4, 3))
	if err != nil || ok {
		t.Fatalf("property should be blocked: %v, %v", ok, err)
	}

	// Activating again keeps a single block and does not push twice.
	again, err := lc.OnBookingActivated(ctx, bk.ID)
	if err != nil || again.BlockID != res.BlockID || again.Outbound.Result != OutboundSkipped {
		t.Fatalf("second activate = %+v, %v", again, err)
	}

	cancelled, err := lc.OnBookingCancelled(ctx, bk.ID, "")
	if err != nil {
		t.Fatalf("OnBookingCancelled: %v", err)
	}
	if !cancelled.Changed || cancelled.Outbound.Result != OutboundCancelled {
		t.Fatalf("cancel = %+v", cancelled)
	}
	ok, err = blocks.IsPropertyAvailable(ctx, "prop-1", d(4, 2), d(4, 3))
	if err != nil || !ok {
		t.Fatalf("property should be free: %v, %v", ok, err)
	}
	if rb := srv.Bookings(); len(rb) != 1 || rb[0].Status != pms.StatusCancelled {
		t.Fatalf("remote = %+v", rb)
	}

	b, _ := st.GetBlock(ctx, res.BlockID)
	if b.Status != model.BlockCancelled || b.Notes == "" {
		t.Fatalf("block = %+v", b)
	}
}

func TestLifecycleRejectsNonLiveBooking(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := addUnit(t, st, "prop-1")
	bk := addLocalBooking(t, st, u.ID, d(4, 1), d(4, 5), model.BookingPending)
	lc := NewLifecycle(st, availability.New(st, model.FixedClock(testNow)), NewOutbound(st, nil))

	if _, err := lc.OnBookingActivated(ctx, bk.ID); !errors.Is(err, ErrBookingNotLive) {
		t.Fatalf("got %v, want ErrBookingNotLive", err)
	}
	if _, err := lc.OnBookingActivated(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if _, err := lc.OnBookingCancelled(ctx, "missing", ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestLifecycleWithoutTargetStillBlocks(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := addUnit(t, st, "prop-1")
	bk := addLocalBooking(t, st, u.ID, d(4, 1), d(4, 5), model.BookingActive)
	lc := NewLifecycle(st, availability.New(st, model.FixedClock(testNow)), NewOutbound(st, nil))

	res, err := lc.OnBookingActivated(ctx, bk.ID)
	if err != nil {
		t.Fatalf("OnBookingActivated: %v", err)
	}
	if res.BlockID == "" || res.Outbound.Result != OutboundSkipped {
		t.Fatalf("activate = %+v", res)
	}
}
