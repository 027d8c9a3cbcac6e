package world

import (
	"errors"
	"math"
	"testing"

	"fieldcraft.ai/internal/sim/grid"
)

func TestMove_ArrivalAndReservationInvariant(t *testing.T) {
	w := newTestWorld(t)
	u := spawnAt(t, w, "soldier", 0, grid.Pos{X: 2, Y: 2})

	dest := grid.Pos{X: 5, Y: 2}
	if err := w.IssueMove(u.ID, dest); err != nil {
		t.Fatalf("issue move: %v", err)
	}
	if u.State != StateFollowing {
		t.Fatalf("state=%s want FOLLOWING", u.State)
	}
	if len(u.Queue) != 3 {
		t.Fatalf("queue len=%d want 3", len(u.Queue))
	}
	if !u.HasDest || u.Dest != dest {
		t.Fatalf("dest=%+v hasDest=%v want %+v", u.Dest, u.HasDest, dest)
	}

	for i := 0; i < 60 && u.State != StateIdle; i++ {
		w.StepOnce(nil, nil, nil)

		// The lookahead claim exists iff more than one waypoint remains,
		// and always points at the front one.
		wantReserved := len(u.Queue) > 1
		if u.hasReserved != wantReserved {
			t.Fatalf("tick %d: hasReserved=%v with queue len %d", i, u.hasReserved, len(u.Queue))
		}
		if u.hasReserved {
			if u.Reserved != u.Queue[0] {
				t.Fatalf("tick %d: reserved %+v, front %+v", i, u.Reserved, u.Queue[0])
			}
			if id, ok := w.Grid().ReservedBy(u.Reserved); !ok || id != u.ID {
				t.Fatalf("tick %d: grid reservation holder %d, want %d", i, id, u.ID)
			}
		}
	}

	if u.State != StateIdle {
		t.Fatalf("did not arrive: state=%s cell=%+v", u.State, u.Cell)
	}
	if u.Cell != dest {
		t.Fatalf("cell=%+v want %+v", u.Cell, dest)
	}
	cx, cy := w.Grid().Center(dest)
	if u.X != cx || u.Y != cy {
		t.Fatalf("pos=(%g,%g) want cell centre (%g,%g)", u.X, u.Y, cx, cy)
	}
	if id, ok := w.Grid().OccupantOf(dest); !ok || id != u.ID {
		t.Fatalf("dest occupant=%d want %d", id, u.ID)
	}
	if _, ok := w.Grid().OccupantOf(grid.Pos{X: 2, Y: 2}); ok {
		t.Fatalf("start cell still occupied")
	}
	if u.hasReserved || len(u.Queue) != 0 || u.HasDest {
		t.Fatalf("arrival left state behind: reserved=%v queue=%d hasDest=%v", u.hasReserved, len(u.Queue), u.HasDest)
	}
	if got := w.Stats().MovesIssued; got != 1 {
		t.Fatalf("moves issued=%d want 1", got)
	}
}

func TestMove_RotationGateBeforeAdvance(t *testing.T) {
	w := newTestWorld(t)
	u := spawnAt(t, w, "soldier", 0, grid.Pos{X: 2, Y: 2})
	startX, startY := u.X, u.Y

	if err := w.IssueMove(u.ID, grid.Pos{X: 5, Y: 2}); err != nil {
		t.Fatalf("issue move: %v", err)
	}

	w.StepOnce(nil, nil, nil)
	if u.State != StateRotating {
		t.Fatalf("state=%s want ROTATING", u.State)
	}
	if u.X != startX || u.Y != startY {
		t.Fatalf("advanced while rotating: (%g,%g)", u.X, u.Y)
	}
	if u.Facing == 0 {
		t.Fatalf("hull did not turn")
	}

	// 90 degrees at 72 per tick: one partial step, one snap, then the
	// first advance.
	more := stepUntil(t, w, 10, "hull aligned", func() bool { return u.State == StateFollowing })
	if more != 2 {
		t.Fatalf("alignment took %d extra ticks, want 2", more)
	}
	if u.X <= startX {
		t.Fatalf("no advance after aligning: x=%g", u.X)
	}
	if math.Abs(u.Y-startY) > 1e-9 {
		t.Fatalf("drifted off the row: y=%g", u.Y)
	}
}

func TestMove_NonWalkableDestinationSnapsToNearest(t *testing.T) {
	w := newTestWorld(t)
	u := spawnAt(t, w, "soldier", 0, grid.Pos{X: 2, Y: 2})
	block(w, grid.Pos{X: 5, Y: 2})

	if err := w.IssueMove(u.ID, grid.Pos{X: 5, Y: 2}); err != nil {
		t.Fatalf("issue move: %v", err)
	}
	want := grid.Pos{X: 5, Y: 1} // first neighbour in the fixed scan order
	if u.Dest != want {
		t.Fatalf("dest=%+v want %+v", u.Dest, want)
	}

	stepUntil(t, w, 120, "arrival", func() bool { return u.State == StateIdle })
	if u.Cell != want {
		t.Fatalf("cell=%+v want %+v", u.Cell, want)
	}
}

func TestMove_UnreachableDestination(t *testing.T) {
	w := newTestWorld(t)
	u := spawnAt(t, w, "soldier", 0, grid.Pos{X: 2, Y: 2})

	// Seal (10,10) behind its own ring; the cell itself stays walkable so
	// the order is not redirected first.
	pocket := grid.Pos{X: 10, Y: 10}
	block(w, w.Grid().Adjacent(pocket)...)

	err := w.IssueMove(u.ID, pocket)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err=%v want ErrUnreachable", err)
	}
	if u.State != StateIdle || len(u.Queue) != 0 || u.HasDest {
		t.Fatalf("failed move left state: %s queue=%d hasDest=%v", u.State, len(u.Queue), u.HasDest)
	}
	if got := w.Stats().PathsFailed; got != 1 {
		t.Fatalf("paths failed=%d want 1", got)
	}
}

func TestMove_FuelExhaustionHalts(t *testing.T) {
	w := newTestWorld(t)
	rec := &auditRecorder{}
	w.SetAuditLogger(rec)

	u := spawnAt(t, w, "jeep", 0, grid.Pos{X: 2, Y: 2})
	u.Fuel = 0.08 // two ticks of burn at 0.5/s

	if err := w.IssueMove(u.ID, grid.Pos{X: 8, Y: 2}); err != nil {
		t.Fatalf("issue move: %v", err)
	}
	stepN(w, 2)

	if u.State != StateIdle {
		t.Fatalf("state=%s want IDLE after running dry", u.State)
	}
	if u.Fuel != 0 {
		t.Fatalf("fuel=%g want 0", u.Fuel)
	}
	if u.Cell != (grid.Pos{X: 2, Y: 2}) {
		t.Fatalf("moved while rotating on fumes: %+v", u.Cell)
	}
	if got := rec.count("fuel_empty"); got != 1 {
		t.Fatalf("fuel_empty audits=%d want 1", got)
	}

	// A fresh order on an empty tank halts on the first tick.
	if err := w.IssueMove(u.ID, grid.Pos{X: 8, Y: 2}); err != nil {
		t.Fatalf("second move: %v", err)
	}
	w.StepOnce(nil, nil, nil)
	if u.State != StateIdle {
		t.Fatalf("state=%s want IDLE", u.State)
	}
	if got := rec.count("fuel_empty"); got != 2 {
		t.Fatalf("fuel_empty audits=%d want 2", got)
	}
}

func TestMove_SupersedesPreviousOrder(t *testing.T) {
	w := newTestWorld(t)
	u := spawnAt(t, w, "soldier", 0, grid.Pos{X: 2, Y: 2})

	if err := w.IssueMove(u.ID, grid.Pos{X: 9, Y: 2}); err != nil {
		t.Fatalf("first move: %v", err)
	}
	stepN(w, 5)

	if err := w.IssueMove(u.ID, grid.Pos{X: 2, Y: 6}); err != nil {
		t.Fatalf("second move: %v", err)
	}
	if u.Dest != (grid.Pos{X: 2, Y: 6}) {
		t.Fatalf("dest=%+v want (2,6)", u.Dest)
	}

	stepUntil(t, w, 120, "arrival", func() bool { return u.State == StateIdle })
	if u.Cell != (grid.Pos{X: 2, Y: 6}) {
		t.Fatalf("cell=%+v want (2,6)", u.Cell)
	}
	if got := w.Stats().MovesIssued; got != 2 {
		t.Fatalf("moves issued=%d want 2", got)
	}
}

func TestHalt_ClearsEverything(t *testing.T) {
	w := newTestWorld(t)
	u := spawnAt(t, w, "soldier", 0, grid.Pos{X: 2, Y: 2})

	if err := w.IssueMove(u.ID, grid.Pos{X: 9, Y: 2}); err != nil {
		t.Fatalf("issue move: %v", err)
	}
	stepN(w, 4)
	if err := w.Halt(u.ID); err != nil {
		t.Fatalf("halt: %v", err)
	}

	if u.State != StateIdle || len(u.Queue) != 0 || len(u.Shelved) != 0 || u.HasDest || u.hasReserved {
		t.Fatalf("halt left state: %s queue=%d shelved=%d hasDest=%v reserved=%v",
			u.State, len(u.Queue), len(u.Shelved), u.HasDest, u.hasReserved)
	}

	// Halted in place, with the cell claim intact.
	if id, ok := w.Grid().OccupantOf(u.Cell); !ok || id != u.ID {
		t.Fatalf("cell claim lost after halt")
	}
	before := u.X
	stepN(w, 5)
	if u.X != before {
		t.Fatalf("kept moving after halt")
	}
}

func TestTurret_TracksAimAndReturns(t *testing.T) {
	w := newTestWorld(t)
	k := spawnAt(t, w, "tank", 1, grid.Pos{X: 4, Y: 4})
	s := spawnAt(t, w, "soldier", 1, grid.Pos{X: 8, Y: 4})

	if err := w.AimAt(k.ID, s.ID); err != nil {
		t.Fatalf("aim: %v", err)
	}
	// Target due east is bearing 270; 180 deg/s covers the 90 deg swing
	// in 5 ticks at 10 Hz.
	stepN(w, 5)
	if k.TurretFacing != 270 {
		t.Fatalf("turret=%v want 270", k.TurretFacing)
	}
	if k.Facing != 0 {
		t.Fatalf("hull turned: facing=%v", k.Facing)
	}

	if err := w.ClearAim(k.ID); err != nil {
		t.Fatalf("clear aim: %v", err)
	}
	// Easing back runs at the return rate, 90 deg/s: 10 ticks.
	stepN(w, 10)
	if k.TurretFacing != 0 {
		t.Fatalf("turret=%v want 0 after return", k.TurretFacing)
	}

	if err := w.AimAt(k.ID, s.ID); err != nil {
		t.Fatalf("re-aim: %v", err)
	}
	if err := w.Destroy(s.ID); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	stepN(w, 1)
	if k.HasAim || k.AimTarget != 0 {
		t.Fatalf("aim survived target destruction: hasAim=%v target=%d", k.HasAim, k.AimTarget)
	}
}
