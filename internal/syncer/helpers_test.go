package syncer

import (
	"context"
	"testing"
	"time"

	"staysync/internal/model"
	"staysync/internal/store"
)

var testNow = time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)

func d(month time.Month, day int) time.Time {
	return time.Date(2024, month, day, 0, 0, 0, 0, time.UTC)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenMemory(t.Name())
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func addUnit(t *testing.T, st *store.Store, propertyID string) model.Unit {
	t.Helper()
	u := model.Unit{BuildingID: "b1", PropertyID: propertyID, Name: "Unit", Status: model.UnitAvailable}
	if err := st.CreateUnit(context.Background(), &u); err != nil {
		t.Fatalf("CreateUnit: %v", err)
	}
	return u
}

func addAPIMapping(t *testing.T, st *store.Store, unitID string, truth model.SourceOfTruth, prop, room string) model.Mapping {
	t.Helper()
	m := model.Mapping{UnitID: unitID, Active: true, SourceOfTruth: truth,
		ConnectionType: model.ConnectionAPI, ExternalPropertyID: prop, ExternalRoomID: room}
	if err := st.SaveMapping(context.Background(), &m); err != nil {
		t.Fatalf("SaveMapping: %v", err)
	}
	return m
}

func addLocalBooking(t *testing.T, st *store.Store, unitID string, in, out time.Time, status model.BookingStatus) model.Booking {
	t.Helper()
	b := model.Booking{UnitID: unitID, GuestID: "guest-1", MoveIn: in, MoveOut: out,
		Status: status, Source: model.BookingSourceLocal}
	if err := st.CreateBooking(context.Background(), &b); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	return b
}

func countRows(t *testing.T, st *store.Store, v any) int64 {
	t.Helper()
	var n int64
	if err := st.DB().Model(v).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func mappingOf(t *testing.T, st *store.Store, unitID string) *model.Mapping {
	t.Helper()
	m, err := st.ActiveMapping(context.Background(), unitID)
	if err != nil {
		t.Fatalf("ActiveMapping: %v", err)
	}
	return m
}
