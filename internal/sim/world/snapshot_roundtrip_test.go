package world

import (
	"encoding/json"
	"testing"
	"time"

	"fieldcraft.ai/internal/persistence/snapshot"
	"fieldcraft.ai/internal/sim/grid"
)

// buildBusyWorld sets up units in every movement state: one mid-flight,
// one parked behind a hostile, one with a delayed order and a turret
// aim. Stepped seven ticks so positions and timers sit between
// boundaries.
func buildBusyWorld(t *testing.T) (*World, []UnitID) {
	t.Helper()
	w := newTestWorld(t)

	s := spawnAt(t, w, "soldier", 1, grid.Pos{X: 2, Y: 2})
	s.HP = 50
	j := spawnAt(t, w, "jeep", 1, grid.Pos{X: 2, Y: 5})
	z := spawnAt(t, w, "soldier", 2, grid.Pos{X: 3, Y: 5})
	k := spawnAt(t, w, "tank", 1, grid.Pos{X: 8, Y: 8})

	if err := w.AssignGroup([]UnitID{s.ID, j.ID}, 3); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := w.IssueMove(s.ID, grid.Pos{X: 8, Y: 2}); err != nil {
		t.Fatalf("move s: %v", err)
	}
	if err := w.IssueMove(j.ID, grid.Pos{X: 6, Y: 5}); err != nil {
		t.Fatalf("move j: %v", err)
	}
	if err := w.IssueMoveAfter(k.ID, grid.Pos{X: 9, Y: 9}, 3*time.Second); err != nil {
		t.Fatalf("move after k: %v", err)
	}
	if err := w.AimAt(k.ID, s.ID); err != nil {
		t.Fatalf("aim k: %v", err)
	}

	stepN(w, 7)
	if j.State != StateWaiting {
		t.Fatalf("j state=%s want WAITING behind the hostile", j.State)
	}
	if s.State != StateFollowing {
		t.Fatalf("s state=%s want FOLLOWING mid flight", s.State)
	}
	return w, []UnitID{s.ID, j.ID, z.ID, k.ID}
}

func TestSnapshot_RoundtripRunsLockstep(t *testing.T) {
	w1, ids := buildBusyWorld(t)

	// Export the last completed tick, then hand the codec a full trip
	// through JSON like the persistence layer does.
	exported := w1.ExportSnapshot(w1.CurrentTick() - 1)
	raw, err := json.Marshal(exported)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var snap snapshot.SnapshotV1
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(snap.Units) != 4 {
		t.Fatalf("snapshot units=%d want 4", len(snap.Units))
	}
	if len(snap.Events) != 3 {
		t.Fatalf("snapshot events=%d want heal x2 and one delayed move", len(snap.Events))
	}

	w2 := newTestWorld(t)
	if err := w2.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if w2.CurrentTick() != w1.CurrentTick() {
		t.Fatalf("tick=%d want %d", w2.CurrentTick(), w1.CurrentTick())
	}
	if got := w2.GroupUnits(3); len(got) != 2 {
		t.Fatalf("group 3=%v want 2 members", got)
	}

	compare := func(tick int) {
		t.Helper()
		for _, id := range ids {
			u1, u2 := w1.UnitByID(id), w2.UnitByID(id)
			if u2 == nil {
				t.Fatalf("tick %d: unit %d missing after restore", tick, id)
			}
			if u1.X != u2.X || u1.Y != u2.Y || u1.Facing != u2.Facing {
				t.Fatalf("tick %d unit %d: pose (%g,%g,%g) vs (%g,%g,%g)",
					tick, id, u1.X, u1.Y, u1.Facing, u2.X, u2.Y, u2.Facing)
			}
			if u1.Cell != u2.Cell || u1.State != u2.State {
				t.Fatalf("tick %d unit %d: %+v/%s vs %+v/%s", tick, id, u1.Cell, u1.State, u2.Cell, u2.State)
			}
			if len(u1.Queue) != len(u2.Queue) || len(u1.Shelved) != len(u2.Shelved) {
				t.Fatalf("tick %d unit %d: queue %d/%d shelved %d/%d",
					tick, id, len(u1.Queue), len(u2.Queue), len(u1.Shelved), len(u2.Shelved))
			}
			if u1.HP != u2.HP || u1.Fuel != u2.Fuel {
				t.Fatalf("tick %d unit %d: hp %g/%g fuel %g/%g", tick, id, u1.HP, u2.HP, u1.Fuel, u2.Fuel)
			}
			if u1.TurretFacing != u2.TurretFacing || u1.HasAim != u2.HasAim {
				t.Fatalf("tick %d unit %d: turret %g/%g aim %v/%v",
					tick, id, u1.TurretFacing, u2.TurretFacing, u1.HasAim, u2.HasAim)
			}
			if u1.HasDest != u2.HasDest || u1.Dest != u2.Dest || u1.Group != u2.Group {
				t.Fatalf("tick %d unit %d: dest/group diverged", tick, id)
			}
		}
	}

	// The restored world replays the original run tick for tick: the
	// parked jeep retries, the delayed order fires, heal pulses land,
	// the turret tracks.
	compare(0)
	for i := 1; i <= 40; i++ {
		w1.StepOnce(nil, nil, nil)
		w2.StepOnce(nil, nil, nil)
		compare(i)
	}

	s1 := w1.Stats()
	s2 := w2.Stats()
	if s1.Shelves != s2.Shelves || s1.Yields != s2.Yields || s1.Detours != s2.Detours || s1.MovesIssued != s2.MovesIssued {
		t.Fatalf("counters diverged: %+v vs %+v", s1, s2)
	}

	// Id allocation continues where the original left off.
	n1, err := w1.Spawn("soldier", 0, grid.Pos{X: 12, Y: 12})
	if err != nil {
		t.Fatalf("spawn w1: %v", err)
	}
	n2, err := w2.Spawn("soldier", 0, grid.Pos{X: 12, Y: 12})
	if err != nil {
		t.Fatalf("spawn w2: %v", err)
	}
	if n1.ID != 5 || n2.ID != 5 {
		t.Fatalf("new ids %d/%d want 5/5", n1.ID, n2.ID)
	}
}

func TestSnapshot_ImportValidation(t *testing.T) {
	w1, _ := buildBusyWorld(t)
	snap := w1.ExportSnapshot(w1.CurrentTick() - 1)

	// Only an empty world accepts a restore.
	if err := w1.ImportSnapshot(snap); err == nil {
		t.Fatalf("import into a populated world succeeded")
	}

	bad := snap
	bad.Header.Version = 2
	if err := newTestWorld(t).ImportSnapshot(bad); err == nil {
		t.Fatalf("unsupported version accepted")
	}

	bad = snap
	bad.Seed = 7
	if err := newTestWorld(t).ImportSnapshot(bad); err == nil {
		t.Fatalf("seed mismatch accepted")
	}

	bad = snap
	bad.TickRate = 30
	if err := newTestWorld(t).ImportSnapshot(bad); err == nil {
		t.Fatalf("tick rate mismatch accepted")
	}

	bad = snap
	bad.GridW = 8
	if err := newTestWorld(t).ImportSnapshot(bad); err == nil {
		t.Fatalf("grid mismatch accepted")
	}

	// Two units on one cell is a corrupt file.
	bad = snap
	bad.Units = append([]snapshot.UnitV1(nil), snap.Units...)
	bad.Units[1].Cell = bad.Units[0].Cell
	if err := newTestWorld(t).ImportSnapshot(bad); err == nil {
		t.Fatalf("duplicate cell claim accepted")
	}
}

func TestSnapshot_UnknownKindIsSkipped(t *testing.T) {
	w1, ids := buildBusyWorld(t)
	snap := w1.ExportSnapshot(w1.CurrentTick() - 1)

	// A kind retired from the catalog drops the unit and its timers but
	// keeps the rest of the save usable.
	mut := snap
	mut.Units = append([]snapshot.UnitV1(nil), snap.Units...)
	for i := range mut.Units {
		if mut.Units[i].ID == uint64(ids[2]) {
			mut.Units[i].Kind = "zeppelin"
		}
	}

	w2 := newTestWorld(t)
	if err := w2.ImportSnapshot(mut); err != nil {
		t.Fatalf("import: %v", err)
	}
	if w2.UnitByID(ids[2]) != nil {
		t.Fatalf("retired kind restored anyway")
	}
	if len(w2.Units()) != 3 {
		t.Fatalf("units=%d want 3", len(w2.Units()))
	}
	for _, id := range []UnitID{ids[0], ids[1], ids[3]} {
		if w2.UnitByID(id) == nil {
			t.Fatalf("unit %d lost", id)
		}
	}
}
