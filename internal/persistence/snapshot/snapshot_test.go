package snapshot

import (
	"path/filepath"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	p := filepath.Join(t.TempDir(), "saves", "world_120.snap.zst")
	in := SnapshotV1{
		Header:   Header{Version: 1, WorldID: "FIELD", Tick: 120},
		Seed:     1337,
		TickRate: 10,
		GridW:    32, GridH: 24, CellSize: 64,
		Blocked: []CellV1{{5, 5}, {5, 6}},
		Units: []UnitV1{{
			ID: 3, Kind: "tank", Faction: 1,
			X: 352, Y: 416, Facing: 90, Cell: CellV1{5, 6},
			State: "WAITING", Shelved: []CellV1{{6, 6}, {7, 6}},
			HasDest: true, Dest: CellV1{7, 6},
			WaitRemainingS: 0.4, HP: 400, Fuel: 151.5, TurretFacing: 88,
			Group: 2,
		}},
		Groups: []GroupV1{{ID: 2, Units: []uint64{3}}},
		Events: []EventV1{{
			Owner: 3, DelayS: 10, RemainingS: 7,
			Action: "unit.move", Args: []byte(`{"unit":3,"to":{"x":7,"y":6}}`),
			Repeats: 0,
		}},
		Stats:    StatsV1{Shelves: 1, MovesIssued: 4},
		Counters: CountersV1{NextUnit: 4},
	}
	if err := WriteSnapshot(p, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := ReadSnapshot(p)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Header != in.Header || out.Seed != in.Seed || out.GridW != in.GridW {
		t.Fatalf("header mismatch: %+v", out.Header)
	}
	if len(out.Units) != 1 || out.Units[0].WaitRemainingS != 0.4 || out.Units[0].State != "WAITING" {
		t.Fatalf("unit did not survive: %+v", out.Units)
	}
	if len(out.Events) != 1 || out.Events[0].RemainingS != 7 || string(out.Events[0].Args) != string(in.Events[0].Args) {
		t.Fatalf("event did not survive: %+v", out.Events)
	}
	if _, err := ReadSnapshot(filepath.Join(t.TempDir(), "missing.snap.zst")); err == nil {
		t.Fatalf("reading a missing snapshot should fail")
	}
}
