package grid

import "testing"

func TestOccupyConflict(t *testing.T) {
	g := New(8, 8, 1)
	p := Pos{3, 3}
	if err := g.Occupy(1, p); err != nil {
		t.Fatalf("occupy: %v", err)
	}
	if err := g.Occupy(1, p); err != nil {
		t.Fatalf("re-occupy by same unit should be a no-op, got %v", err)
	}
	if err := g.Occupy(2, p); err != ErrReservationConflict {
		t.Fatalf("expected ErrReservationConflict, got %v", err)
	}
	if id, ok := g.OccupantOf(p); !ok || id != 1 {
		t.Fatalf("occupant = %d,%v, want 1,true", id, ok)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	g := New(8, 8, 1)
	p := Pos{2, 2}
	if err := g.Occupy(7, p); err != nil {
		t.Fatalf("occupy: %v", err)
	}
	g.Release(9, p) // someone else's release must not free it
	if id, ok := g.OccupantOf(p); !ok || id != 7 {
		t.Fatalf("occupant after foreign release = %d,%v", id, ok)
	}
	g.Release(7, p)
	g.Release(7, p)
	if _, ok := g.OccupantOf(p); ok {
		t.Fatalf("cell still occupied after release")
	}
}

func TestReserveMirrorsOccupy(t *testing.T) {
	g := New(8, 8, 1)
	p := Pos{1, 5}
	if err := g.Reserve(3, p); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := g.Reserve(4, p); err != ErrReservationConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if g.Free(p) {
		t.Fatalf("reserved cell reported free")
	}
	if !g.Walkable(p) {
		t.Fatalf("reservation must not make a cell unwalkable")
	}
	g.Unreserve(4, p)
	if _, ok := g.ReservedBy(p); !ok {
		t.Fatalf("foreign unreserve cleared the claim")
	}
	g.Unreserve(3, p)
	if !g.Free(p) {
		t.Fatalf("cell not free after unreserve")
	}
}

func TestWalkableRespectsTerrainAndBounds(t *testing.T) {
	g := New(4, 4, 1)
	g.SetPathable(Pos{1, 1}, false)
	if g.Walkable(Pos{1, 1}) {
		t.Fatalf("unpathable cell walkable")
	}
	if g.Walkable(Pos{-1, 0}) || g.Walkable(Pos{4, 0}) {
		t.Fatalf("out of bounds walkable")
	}
}

func TestAdjacentOrderFixed(t *testing.T) {
	g := New(5, 5, 1)
	got := g.Adjacent(Pos{2, 2})
	want := []Pos{{2, 1}, {3, 1}, {3, 2}, {3, 3}, {2, 3}, {1, 3}, {1, 2}, {1, 1}}
	if len(got) != len(want) {
		t.Fatalf("adjacent len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("adjacent[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if n := len(g.Adjacent(Pos{0, 0})); n != 3 {
		t.Fatalf("corner adjacency = %d, want 3", n)
	}
}

func TestClosestWalkable(t *testing.T) {
	g := New(5, 5, 1)
	p := Pos{2, 2}
	if got, ok := g.ClosestWalkable(p); !ok || got != p {
		t.Fatalf("walkable cell should map to itself, got %v,%v", got, ok)
	}
	if err := g.Occupy(1, p); err != nil {
		t.Fatalf("occupy: %v", err)
	}
	got, ok := g.ClosestWalkable(p)
	if !ok {
		t.Fatalf("no walkable cell found")
	}
	if got != (Pos{2, 1}) { // first neighbour in the fixed order
		t.Fatalf("closest walkable = %v, want {2 1}", got)
	}
	out, ok := g.ClosestWalkable(Pos{40, -3})
	if !ok || !g.InBounds(out) {
		t.Fatalf("out-of-bounds target not normalised: %v %v", out, ok)
	}
}

func TestCellCenterRoundTrip(t *testing.T) {
	g := New(10, 10, 64)
	p := Pos{7, 2}
	x, y := g.Center(p)
	if got := g.CellAt(x, y); got != p {
		t.Fatalf("CellAt(Center(%v)) = %v", p, got)
	}
}
