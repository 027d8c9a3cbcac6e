// Package grid holds the terrain map and the per-cell occupancy and
// reservation claims units use to keep out of each other's way.
package grid

import (
	"errors"
	"math"
)

// UnitID identifies a claim holder. Zero means no claim.
type UnitID uint64

// Pos is a cell coordinate. X grows east, Y grows south.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// AdjacentTo reports whether q is one of p's 8 neighbours.
func (p Pos) AdjacentTo(q Pos) bool {
	if p == q {
		return false
	}
	dx, dy := p.X-q.X, p.Y-q.Y
	return dx >= -1 && dx <= 1 && dy >= -1 && dy <= 1
}

// adjOffsets is the fixed neighbour order: N, NE, E, SE, S, SW, W, NW.
// Everything that picks "some free neighbour" walks this order so the
// outcome is reproducible.
var adjOffsets = [8]Pos{
	{0, -1}, {1, -1}, {1, 0}, {1, 1},
	{0, 1}, {-1, 1}, {-1, 0}, {-1, -1},
}

type cell struct {
	pathable bool
	occupant UnitID
	reserved UnitID
}

// Grid is a bounded row-major cell map. It is not safe for concurrent
// use; the world loop goroutine owns it.
type Grid struct {
	W, H     int
	CellSize float64

	cells []cell
}

var ErrReservationConflict = errors.New("grid: cell claimed by another unit")

func New(w, h int, cellSize float64) *Grid {
	g := &Grid{W: w, H: h, CellSize: cellSize, cells: make([]cell, w*h)}
	for i := range g.cells {
		g.cells[i].pathable = true
	}
	return g
}

func (g *Grid) idx(p Pos) int { return p.Y*g.W + p.X }

func (g *Grid) InBounds(p Pos) bool {
	return p.X >= 0 && p.X < g.W && p.Y >= 0 && p.Y < g.H
}

// SetPathable flips the terrain flag, e.g. when an obstacle is placed or
// destroyed. Claims on the cell are untouched.
func (g *Grid) SetPathable(p Pos, v bool) {
	if g.InBounds(p) {
		g.cells[g.idx(p)].pathable = v
	}
}

func (g *Grid) Pathable(p Pos) bool {
	return g.InBounds(p) && g.cells[g.idx(p)].pathable
}

// Walkable reports whether a unit could stand on p right now: in bounds,
// pathable terrain, nobody standing there.
func (g *Grid) Walkable(p Pos) bool {
	return g.InBounds(p) && g.cells[g.idx(p)].pathable && g.cells[g.idx(p)].occupant == 0
}

// Free is Walkable with no reservation either. Detour and yield targets
// come from here so two units never pick the same escape cell.
func (g *Grid) Free(p Pos) bool {
	return g.Walkable(p) && g.cells[g.idx(p)].reserved == 0
}

// Occupy claims p for id. Claiming a cell the unit already occupies is a
// no-op. A different occupant is a reservation conflict; callers treat
// that as an invariant violation, not a recoverable condition.
func (g *Grid) Occupy(id UnitID, p Pos) error {
	if !g.InBounds(p) {
		return ErrReservationConflict
	}
	c := &g.cells[g.idx(p)]
	if c.occupant != 0 && c.occupant != id {
		return ErrReservationConflict
	}
	c.occupant = id
	return nil
}

// Release drops id's occupancy of p. Releasing a cell the unit does not
// occupy is a no-op.
func (g *Grid) Release(id UnitID, p Pos) {
	if !g.InBounds(p) {
		return
	}
	c := &g.cells[g.idx(p)]
	if c.occupant == id {
		c.occupant = 0
	}
}

// Reserve marks p as id's next cell. Mirrors Occupy.
func (g *Grid) Reserve(id UnitID, p Pos) error {
	if !g.InBounds(p) {
		return ErrReservationConflict
	}
	c := &g.cells[g.idx(p)]
	if c.reserved != 0 && c.reserved != id {
		return ErrReservationConflict
	}
	c.reserved = id
	return nil
}

// Unreserve mirrors Release.
func (g *Grid) Unreserve(id UnitID, p Pos) {
	if !g.InBounds(p) {
		return
	}
	c := &g.cells[g.idx(p)]
	if c.reserved == id {
		c.reserved = 0
	}
}

func (g *Grid) OccupantOf(p Pos) (UnitID, bool) {
	if !g.InBounds(p) {
		return 0, false
	}
	id := g.cells[g.idx(p)].occupant
	return id, id != 0
}

func (g *Grid) ReservedBy(p Pos) (UnitID, bool) {
	if !g.InBounds(p) {
		return 0, false
	}
	id := g.cells[g.idx(p)].reserved
	return id, id != 0
}

// Adjacent returns p's in-bounds neighbours in the fixed order.
func (g *Grid) Adjacent(p Pos) []Pos {
	out := make([]Pos, 0, 8)
	for _, d := range adjOffsets {
		q := Pos{p.X + d.X, p.Y + d.Y}
		if g.InBounds(q) {
			out = append(out, q)
		}
	}
	return out
}

// Center maps a cell to its centre point in world units.
func (g *Grid) Center(p Pos) (x, y float64) {
	return (float64(p.X) + 0.5) * g.CellSize, (float64(p.Y) + 0.5) * g.CellSize
}

// CellAt maps a world point to the cell containing it.
func (g *Grid) CellAt(x, y float64) Pos {
	return Pos{int(math.Floor(x / g.CellSize)), int(math.Floor(y / g.CellSize))}
}

// ClosestWalkable finds the walkable cell nearest to p, breadth-first in
// the fixed neighbour order, so move targets on rubble or on another unit
// land somewhere sensible and reproducible. Returns false only when the
// whole grid is blocked.
func (g *Grid) ClosestWalkable(p Pos) (Pos, bool) {
	if g.Walkable(p) {
		return p, true
	}
	if !g.InBounds(p) {
		p.X = clampInt(p.X, 0, g.W-1)
		p.Y = clampInt(p.Y, 0, g.H-1)
		if g.Walkable(p) {
			return p, true
		}
	}
	visited := make(map[Pos]bool, 64)
	visited[p] = true
	queue := []Pos{p}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, q := range g.Adjacent(cur) {
			if visited[q] {
				continue
			}
			if g.Walkable(q) {
				return q, true
			}
			visited[q] = true
			queue = append(queue, q)
		}
	}
	return p, false
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
