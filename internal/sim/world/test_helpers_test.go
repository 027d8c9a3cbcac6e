package world

import (
	"io"
	"log"
	"testing"

	"fieldcraft.ai/internal/sim/catalogs"
	"fieldcraft.ai/internal/sim/grid"
	"fieldcraft.ai/internal/sim/tuning"
)

// testTuning is a small open arena: 10 Hz, 16x16, cell size 1 so speeds
// read directly in cells per second.
func testTuning() tuning.Tuning {
	tn := tuning.Defaults()
	tn.TickRateHz = 10
	tn.GridW = 16
	tn.GridH = 16
	tn.CellSize = 1
	tn.ObsEveryTicks = 1
	tn.AutosaveEverySec = 0
	return tn
}

func newTestWorld(t *testing.T) *World {
	t.Helper()
	return newTestWorldTuned(t, testTuning())
}

func newTestWorldTuned(t *testing.T, tn tuning.Tuning) *World {
	t.Helper()
	cats, err := catalogs.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	w, err := New(WorldConfig{ID: "test", Seed: 0, Tuning: tn}, cats, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	return w
}

func spawnAt(t *testing.T, w *World, kind string, faction int, p grid.Pos) *Unit {
	t.Helper()
	u, err := w.Spawn(kind, faction, p)
	if err != nil {
		t.Fatalf("spawn %s at (%d,%d): %v", kind, p.X, p.Y, err)
	}
	if u.Cell != p {
		t.Fatalf("spawn %s landed at (%d,%d), want (%d,%d)", kind, u.Cell.X, u.Cell.Y, p.X, p.Y)
	}
	return u
}

func stepN(w *World, n int) {
	for i := 0; i < n; i++ {
		w.StepOnce(nil, nil, nil)
	}
}

func stepUntil(t *testing.T, w *World, max int, what string, cond func() bool) int {
	t.Helper()
	for i := 0; i < max; i++ {
		if cond() {
			return i
		}
		w.StepOnce(nil, nil, nil)
	}
	if !cond() {
		t.Fatalf("%s: not reached within %d ticks", what, max)
	}
	return max
}

func block(w *World, cells ...grid.Pos) {
	for _, c := range cells {
		w.Grid().SetPathable(c, false)
	}
}

// wallRows blocks y=y1 and y=y2 for x in [x1,x2], carving a one cell
// wide corridor between them.
func wallRows(w *World, x1, x2, y1, y2 int) {
	for x := x1; x <= x2; x++ {
		block(w, grid.Pos{X: x, Y: y1}, grid.Pos{X: x, Y: y2})
	}
}

type auditRecorder struct {
	entries []AuditEntry
}

func (r *auditRecorder) WriteAudit(e AuditEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

func (r *auditRecorder) count(kind string) int {
	n := 0
	for _, e := range r.entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
