package occupancy

import (
	"context"
	"testing"
	"time"

	"staysync/internal/model"
)

func TestGenerateDailySnapshotIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r, st := newTestResolver(t)
	busy := addUnit(t, st, "b1")
	addUnit(t, st, "b1")
	addBooking(t, st, busy.ID, d(3, 9), d(3, 12), model.BookingActive)

	for i := 0; i < 2; i++ {
		res, err := r.GenerateDailySnapshot(ctx, nil)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if res.Units != 2 || res.Occupied != 1 || res.Vacant != 1 || len(res.Errors) != 0 {
			t.Fatalf("run %d: %+v", i, res)
		}
	}

	rows, err := st.ListSnapshots(ctx, "b1", d(3, 10), d(3, 10))
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
}

func TestSnapshotMarksMaintenanceUnavailable(t *testing.T) {
	ctx := context.Background()
	r, st := newTestResolver(t)
	u := addUnit(t, st, "b1")
	blk := model.AvailabilityBlock{UnitID: u.ID, BlockType: model.BlockMaintenance, Status: model.BlockActive,
		StartDate: d(3, 9), EndDate: d(3, 11), Source: model.SourceAdmin}
	if err := st.CreateBlock(ctx, &blk); err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}

	res, err := r.GenerateDailySnapshot(ctx, nil)
	if err != nil {
		t.Fatalf("GenerateDailySnapshot: %v", err)
	}
	if res.Unavailable != 1 {
		t.Fatalf("got %+v, want one unavailable unit", res)
	}
}

func TestAPISnapshotDerivedFromFreshSync(t *testing.T) {
	ctx := context.Background()
	r, st := newTestResolver(t)
	u := addUnit(t, st, "b1")
	synced := testNow.Add(-time.Hour)
	addMapping(t, st, model.Mapping{UnitID: u.ID, SourceOfTruth: model.TruthExternal,
		ConnectionType: model.ConnectionAPI, ExternalPropertyID: "10", ExternalRoomID: "100",
		LastSyncStatus: model.SyncSuccess, LastSyncedAt: &synced})
	blk := model.AvailabilityBlock{UnitID: u.ID, BlockType: model.BlockExternalImport, Status: model.BlockActive,
		StartDate: d(3, 8), EndDate: d(3, 14), Source: model.SourceExternalAPI, SourceRef: "beds24:55"}
	if err := st.CreateBlock(ctx, &blk); err != nil {
		t.Fatalf("CreateBlock: %v", err)
	}

	if _, err := r.GenerateDailySnapshot(ctx, nil); err != nil {
		t.Fatalf("GenerateDailySnapshot: %v", err)
	}
	row, err := st.GetSnapshot(ctx, u.ID, d(3, 10), model.SnapshotExternal)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if !row.Occupied || row.BookingRef != "beds24:55" {
		t.Fatalf("row = %+v", row)
	}
}

func TestAPISnapshotStaleSyncIsUnknown(t *testing.T) {
	ctx := context.Background()
	r, st := newTestResolver(t)
	u := addUnit(t, st, "b1")
	synced := testNow.Add(-72 * time.Hour)
	addMapping(t, st, model.Mapping{UnitID: u.ID, SourceOfTruth: model.TruthExternal,
		ConnectionType: model.ConnectionAPI, ExternalPropertyID: "10", ExternalRoomID: "100",
		LastSyncStatus: model.SyncSuccess, LastSyncedAt: &synced})

	res, err := r.GenerateDailySnapshot(ctx, nil)
	if err != nil {
		t.Fatalf("GenerateDailySnapshot: %v", err)
	}
	if res.Unknown != 1 {
		t.Fatalf("got %+v, want one unknown unit", res)
	}
}

func TestBuildingOccupancyTodayExcludesUnknown(t *testing.T) {
	ctx := context.Background()
	r, st := newTestResolver(t)
	busy := addUnit(t, st, "b1")
	addUnit(t, st, "b1")
	remote := addUnit(t, st, "b1")
	addUnit(t, st, "b2")
	addBooking(t, st, busy.ID, d(3, 10), d(3, 10), model.BookingConfirmed)
	addMapping(t, st, model.Mapping{UnitID: remote.ID, SourceOfTruth: model.TruthExternal,
		ConnectionType: model.ConnectionAPI, ExternalPropertyID: "10", ExternalRoomID: "100"})

	got, err := r.GetBuildingOccupancyToday(ctx, "b1")
	if err != nil {
		t.Fatalf("GetBuildingOccupancyToday: %v", err)
	}
	if got.TotalUnits != 3 || got.Occupied != 1 || got.Vacant != 1 || got.Unknown != 1 {
		t.Fatalf("got %+v", got)
	}
	if got.OccupancyRate != 50 {
		t.Fatalf("rate = %v, want 50", got.OccupancyRate)
	}
}

func TestBuildingOccupancyRate(t *testing.T) {
	ctx := context.Background()
	r, st := newTestResolver(t)
	rows := []model.DailyOccupancySnapshot{
		{Date: d(3, 1), UnitID: "u1", BuildingID: "b1", Occupied: true, Available: true, Source: model.SnapshotLocal},
		{Date: d(3, 1), UnitID: "u2", BuildingID: "b1", Occupied: false, Available: true, Source: model.SnapshotLocal},
		{Date: d(3, 2), UnitID: "u1", BuildingID: "b1", Occupied: true, Available: true, Source: model.SnapshotLocal},
		{Date: d(3, 2), UnitID: "u2", BuildingID: "b1", Available: true, Source: model.SnapshotUnknown},
		{Date: d(3, 3), UnitID: "u1", BuildingID: "b1", Available: false, Source: model.SnapshotLocal},
		{Date: d(3, 1), UnitID: "u9", BuildingID: "b2", Occupied: true, Available: true, Source: model.SnapshotLocal},
	}
	if err := st.UpsertSnapshots(ctx, rows); err != nil {
		t.Fatalf("UpsertSnapshots: %v", err)
	}

	// Reversed bounds are swapped.
	rep, err := r.GetBuildingOccupancyRate(ctx, "b1", d(3, 3), d(3, 1))
	if err != nil {
		t.Fatalf("GetBuildingOccupancyRate: %v", err)
	}
	if rep.KnownUnitDays != 3 || rep.OccupiedUnitDays != 2 || rep.UnknownUnitDays != 1 || rep.UnavailableDays != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.OccupancyRate != 66.67 {
		t.Fatalf("rate = %v, want 66.67", rep.OccupancyRate)
	}
}
