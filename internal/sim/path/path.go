// Package path is the stock pathfinder. The world treats path search as
// an injected service; this implementation is a plain A* over the grid's
// 8-neighbourhood, good enough for servers, tools, and tests. It searches
// terrain pathability only: units and reservations move every tick, so
// dodging them is the collision resolver's job, not the planner's.
package path

import (
	"container/heap"
	"math"

	"fieldcraft.ai/internal/sim/grid"
)

const sqrt2 = math.Sqrt2

type Finder struct {
	g *grid.Grid
}

func NewFinder(g *grid.Grid) *Finder { return &Finder{g: g} }

// RequestPath returns the cheapest pathable route from one cell to
// another, both inclusive. False when no route exists. Ties are broken
// by insertion order so equal-cost maps always produce the same path.
func (f *Finder) RequestPath(id grid.UnitID, from, to grid.Pos) ([]grid.Pos, bool) {
	_ = id // the stock finder is synchronous; nothing to track per unit
	if !f.g.Pathable(to) || !f.g.Pathable(from) {
		return nil, false
	}
	if from == to {
		return []grid.Pos{from}, true
	}

	open := &openHeap{}
	heap.Init(open)
	gScore := map[grid.Pos]float64{from: 0}
	parent := map[grid.Pos]grid.Pos{}
	closed := map[grid.Pos]bool{}
	order := 0
	heap.Push(open, &node{p: from, f: octile(from, to), order: order})

	for open.Len() > 0 {
		cur := heap.Pop(open).(*node)
		if closed[cur.p] {
			continue
		}
		if cur.p == to {
			return rebuild(parent, from, to), true
		}
		closed[cur.p] = true
		for _, q := range f.g.Adjacent(cur.p) {
			if closed[q] || !f.g.Pathable(q) {
				continue
			}
			step := 1.0
			if q.X != cur.p.X && q.Y != cur.p.Y {
				step = sqrt2
			}
			tentative := gScore[cur.p] + step
			if old, seen := gScore[q]; seen && tentative >= old {
				continue
			}
			gScore[q] = tentative
			parent[q] = cur.p
			order++
			heap.Push(open, &node{p: q, f: tentative + octile(q, to), order: order})
		}
	}
	return nil, false
}

// ClosestWalkable delegates to the grid's deterministic ring search.
func (f *Finder) ClosestWalkable(p grid.Pos) grid.Pos {
	q, _ := f.g.ClosestWalkable(p)
	return q
}

// CancelUnitRequests exists for asynchronous implementations that queue
// search work across ticks; the stock finder answers inline and has
// nothing to cancel.
func (f *Finder) CancelUnitRequests(id grid.UnitID) {}

// RemoveUnitFromQueue drops the unit's queued follow-up waypoints.
// The stock finder keeps no such queue.
func (f *Finder) RemoveUnitFromQueue(id grid.UnitID) {}

func octile(a, b grid.Pos) float64 {
	dx := math.Abs(float64(a.X - b.X))
	dy := math.Abs(float64(a.Y - b.Y))
	if dx < dy {
		dx, dy = dy, dx
	}
	return dx + (sqrt2-1)*dy
}

func rebuild(parent map[grid.Pos]grid.Pos, from, to grid.Pos) []grid.Pos {
	out := []grid.Pos{to}
	for p := to; p != from; {
		p = parent[p]
		out = append(out, p)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

type node struct {
	p     grid.Pos
	f     float64
	order int
}

type openHeap []*node

func (h openHeap) Len() int { return len(h) }
func (h openHeap) Less(i, j int) bool {
	if h[i].f != h[j].f {
		return h[i].f < h[j].f
	}
	return h[i].order < h[j].order
}
func (h openHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *openHeap) Push(x any)   { *h = append(*h, x.(*node)) }
func (h *openHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
