package world

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fieldcraft.ai/internal/sim/grid"
	"fieldcraft.ai/internal/sim/sched"
)

var (
	ErrUnknownUnit  = errors.New("world: unknown unit")
	ErrUnknownKind  = errors.New("world: unknown kind")
	ErrUnknownGroup = errors.New("world: unknown group")
	ErrOutOfBounds  = errors.New("world: cell out of bounds")
	ErrUnreachable  = errors.New("world: destination unreachable")
)

// Spawn places a new unit of the given kind as close to at as the
// terrain allows and starts its capability events.
func (w *World) Spawn(kind string, faction int, at grid.Pos) (*Unit, error) {
	def, ok := w.cats.Units.ByID[kind]
	if !ok {
		return nil, ErrUnknownKind
	}
	if !w.grid.InBounds(at) {
		return nil, ErrOutOfBounds
	}
	cell, ok := w.grid.ClosestWalkable(at)
	if !ok {
		return nil, ErrUnreachable
	}

	id := UnitID(w.nextUnitNum.Add(1))
	x, y := w.grid.Center(cell)
	u := &Unit{
		ID:      id,
		Kind:    def.ID,
		Name:    fmt.Sprintf("%s-%d", def.ID, id),
		Faction: faction,

		X: x, Y: y,
		Cell: cell,

		Speed:    def.Speed,
		TurnRate: def.TurnRate,

		State: StateIdle,

		HP:    def.HP,
		MaxHP: def.HP,
		Regen: def.Regen,

		Fuel:     def.Fuel,
		FuelBurn: def.FuelBurn,

		HasTurret:  def.Turret,
		TurretRate: def.TurretRate,

		Events: sched.NewSource(w.sched, sched.OwnerID(id)),
	}
	u.TurretFacing = u.Facing

	// cell came from ClosestWalkable, so the claim cannot fail.
	_ = w.grid.Occupy(id, cell)
	w.units[id] = u
	w.startCapabilityEvents(u)
	return u, nil
}

// Destroy removes the unit, its cell claims, and every event it owns.
func (w *World) Destroy(id UnitID) error {
	u := w.units[id]
	if u == nil {
		return ErrUnknownUnit
	}
	w.halt(u)
	u.Events.CancelAll()
	w.grid.Release(id, u.Cell)
	w.removeFromGroup(u)
	// Turrets aiming at this unit drop their aim on the next pass.
	delete(w.units, id)
	return nil
}

// IssueMove starts a fresh move order. A fresh order supersedes queued
// retries, any parked wait state, and outstanding path work.
func (w *World) IssueMove(id UnitID, dest grid.Pos) error {
	u := w.units[id]
	if u == nil {
		return ErrUnknownUnit
	}
	if !w.grid.InBounds(dest) {
		return ErrOutOfBounds
	}
	w.stats.MovesIssued++

	u.Events.CancelAction(actionUnitMove)
	w.finder.CancelUnitRequests(id)
	w.clearWait(u)
	w.clearPath(u)

	if !w.grid.Walkable(dest) {
		dest = w.finder.ClosestWalkable(dest)
	}
	if dest == u.Cell {
		u.State = StateIdle
		u.HasDest = false
		return nil
	}

	cells, ok := w.finder.RequestPath(id, u.Cell, dest)
	if !ok {
		w.stats.PathsFailed++
		u.State = StateIdle
		u.HasDest = false
		return ErrUnreachable
	}
	if len(cells) > 0 && cells[0] == u.Cell {
		cells = cells[1:]
	}
	if len(cells) == 0 {
		u.State = StateIdle
		u.HasDest = false
		return nil
	}

	u.Queue = append(u.Queue[:0], cells...)
	u.Dest = dest
	u.HasDest = true
	u.State = StateFollowing
	w.syncReservation(u)
	return nil
}

type moveArgs struct {
	Unit uint64 `json:"unit"`
	To   [2]int `json:"to"`
}

// IssueMoveAfter schedules the move as a deferred event, so delayed
// orders survive a save/restore cycle like any other timer.
func (w *World) IssueMoveAfter(id UnitID, dest grid.Pos, delay time.Duration) error {
	u := w.units[id]
	if u == nil {
		return ErrUnknownUnit
	}
	if !w.grid.InBounds(dest) {
		return ErrOutOfBounds
	}
	fn, _ := w.actions.Resolve(actionUnitMove)
	args, _ := json.Marshal(moveArgs{Unit: uint64(id), To: [2]int{dest.X, dest.Y}})
	u.Events.Schedule(sched.NewEvent(0, delay, actionUnitMove, args, 0, fn))
	return nil
}

// Halt cancels the unit's movement and queued move orders.
func (w *World) Halt(id UnitID) error {
	u := w.units[id]
	if u == nil {
		return ErrUnknownUnit
	}
	w.halt(u)
	return nil
}

// AimAt locks the unit's turret onto a target unit.
func (w *World) AimAt(id, target UnitID) error {
	u := w.units[id]
	if u == nil {
		return ErrUnknownUnit
	}
	if !u.HasTurret || w.units[target] == nil {
		return ErrUnknownUnit
	}
	u.HasAim = true
	u.AimTarget = target
	return nil
}

func (w *World) ClearAim(id UnitID) error {
	u := w.units[id]
	if u == nil {
		return ErrUnknownUnit
	}
	u.HasAim = false
	u.AimTarget = 0
	return nil
}

// halt drops every movement intention and parks the unit Idle in place.
func (w *World) halt(u *Unit) {
	w.finder.CancelUnitRequests(u.ID)
	w.finder.RemoveUnitFromQueue(u.ID)
	u.Events.CancelAction(actionUnitMove)
	w.clearWait(u)
	w.clearPath(u)
	u.State = StateIdle
	u.HasDest = false
}

// clearPath drops the live queue and the lookahead claim. Occupancy of
// the current cell is untouched.
func (w *World) clearPath(u *Unit) {
	if u.hasReserved {
		w.grid.Unreserve(u.ID, u.Reserved)
		u.hasReserved = false
	}
	u.Queue = u.Queue[:0]
}

// clearWait drops the parked path and the wait clock.
func (w *World) clearWait(u *Unit) {
	u.Shelved = u.Shelved[:0]
	u.WaitUntil = 0
	u.waitStart = 0
	u.starved = false
}

// syncReservation re-points the lookahead claim at the front waypoint:
// held iff more than one waypoint remains. A claim already held by
// another unit is skipped; actual contention resolves when the units
// close in.
func (w *World) syncReservation(u *Unit) {
	if u.hasReserved && (len(u.Queue) <= 1 || u.Reserved != u.Queue[0]) {
		w.grid.Unreserve(u.ID, u.Reserved)
		u.hasReserved = false
	}
	if len(u.Queue) > 1 && !u.hasReserved {
		if err := w.grid.Reserve(u.ID, u.Queue[0]); err == nil {
			u.Reserved = u.Queue[0]
			u.hasReserved = true
		}
	}
}
