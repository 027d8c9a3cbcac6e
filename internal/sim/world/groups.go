package world

import (
	"sort"

	"fieldcraft.ai/internal/sim/grid"
)

// AssignGroup makes n the permanent group of every listed unit. A unit
// leaves its previous group; emptied groups disappear. The order is
// atomic: an unknown unit or group number changes nothing.
func (w *World) AssignGroup(ids []UnitID, n int) error {
	if n < 1 || n > 9 {
		return ErrUnknownGroup
	}
	for _, id := range ids {
		if w.units[id] == nil {
			return ErrUnknownUnit
		}
	}
	for _, id := range ids {
		u := w.units[id]
		if u.Group == n {
			continue
		}
		w.removeFromGroup(u)
		u.Group = n
		w.groups[n] = append(w.groups[n], id)
	}
	sortIDs(w.groups[n])
	return nil
}

// GroupUnits returns the group's members in ascending id order.
func (w *World) GroupUnits(n int) []UnitID {
	ids := w.groups[n]
	out := make([]UnitID, len(ids))
	copy(out, ids)
	return out
}

// GroupMove issues one move per member in id order, fanning destinations
// out so the group does not stack on a single cell. Individual path
// failures are logged and counted, not fatal to the order.
func (w *World) GroupMove(n int, dest grid.Pos) error {
	ids := w.GroupUnits(n)
	if len(ids) == 0 {
		return ErrUnknownGroup
	}
	if !w.grid.InBounds(dest) {
		return ErrOutOfBounds
	}
	claimed := make(map[grid.Pos]bool, len(ids))
	for _, id := range ids {
		t := w.spreadTarget(dest, claimed)
		claimed[t] = true
		if err := w.IssueMove(id, t); err != nil {
			w.log.Printf("group %d move: unit %d: %v", n, id, err)
		}
	}
	return nil
}

func (w *World) removeFromGroup(u *Unit) {
	if u.Group == 0 {
		return
	}
	ids := w.groups[u.Group]
	for i, id := range ids {
		if id == u.ID {
			w.groups[u.Group] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(w.groups[u.Group]) == 0 {
		delete(w.groups, u.Group)
	}
	u.Group = 0
}

// spreadTarget picks a walkable cell near dest not already handed to an
// earlier unit of the same order. Same ring walk as the grid's closest
// lookup, with the order's own claims excluded.
func (w *World) spreadTarget(dest grid.Pos, claimed map[grid.Pos]bool) grid.Pos {
	if w.grid.Walkable(dest) && !claimed[dest] {
		return dest
	}
	visited := map[grid.Pos]bool{dest: true}
	queue := []grid.Pos{dest}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, q := range w.grid.Adjacent(cur) {
			if visited[q] {
				continue
			}
			visited[q] = true
			if w.grid.Walkable(q) && !claimed[q] {
				return q
			}
			queue = append(queue, q)
		}
	}
	return dest
}

func sortIDs(ids []UnitID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
