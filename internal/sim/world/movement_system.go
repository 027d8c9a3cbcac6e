package world

import (
	"fmt"
	"time"

	"fieldcraft.ai/internal/protocol"
	"fieldcraft.ai/internal/sim/grid"
	"fieldcraft.ai/internal/sim/world/logic/geom"
)

func (w *World) systemMovement(nowTick uint64) {
	dt := w.dtSec()
	now := w.sched.Now()
	for _, u := range w.sortedUnits() {
		switch u.State {
		case StateWaiting:
			if now >= u.WaitUntil {
				w.tryResume(u, now, nowTick)
			}
		case StateFollowing, StateRotating:
			w.stepFollowing(u, now, dt, nowTick)
		}
	}
}

func (w *World) stepFollowing(u *Unit, now time.Duration, dt float64, nowTick uint64) {
	if len(u.Queue) == 0 {
		u.State = StateIdle
		u.HasDest = false
		return
	}

	next := u.Queue[0]

	// Somebody on the next cell: resolve before moving at all this tick.
	if occ, ok := w.grid.OccupantOf(next); ok && occ != u.ID {
		w.resolveBlocked(u, w.units[occ], now, nowTick)
		return
	}

	// An empty tank stops the unit completely.
	if u.FuelBurn > 0 && u.Fuel <= 0 {
		w.audit(nowTick, u.ID, "fuel_empty", "")
		w.halt(u)
		return
	}

	cx, cy := w.grid.Center(next)
	bearing := geom.Bearing(u.X, u.Y, cx, cy)

	// Rotation gate: align the hull before advancing.
	if u.Facing != bearing {
		u.State = StateRotating
		u.Facing = geom.Step(u.Facing, bearing, u.TurnRate*dt)
		if u.burnFuel(dt) {
			w.audit(nowTick, u.ID, "fuel_empty", "")
			w.halt(u)
		}
		return
	}
	u.State = StateFollowing

	travel := u.Speed * w.grid.CellSize * dt
	if geom.Dist(u.X, u.Y, cx, cy) <= travel {
		w.popWaypoint(u, next, cx, cy, nowTick)
	} else {
		dx, dy := geom.Vector(bearing, travel)
		u.X += dx
		u.Y += dy
	}
	if u.burnFuel(dt) {
		w.audit(nowTick, u.ID, "fuel_empty", "")
		w.halt(u)
	}
}

// popWaypoint steps the unit onto the front waypoint: claim the new
// cell, release the old, snap to the centre, and re-point the lookahead.
func (w *World) popWaypoint(u *Unit, next grid.Pos, cx, cy float64, nowTick uint64) {
	old := u.Cell
	if err := w.grid.Occupy(u.ID, next); err != nil {
		// The scan above saw the cell clear; a same-tick claim means the
		// one-unit-per-cell invariant is at risk. Abort the move loudly.
		w.stats.Conflicts++
		w.audit(nowTick, u.ID, "conflict", fmt.Sprintf("cell=%d,%d", next.X, next.Y))
		w.log.Printf("unit %d occupy (%d,%d): %v [%s]", u.ID, next.X, next.Y, err, protocol.ErrReservationConflict)
		w.halt(u)
		return
	}
	w.grid.Release(u.ID, old)
	u.Cell = next
	u.X, u.Y = cx, cy
	u.Queue = u.Queue[1:]
	w.syncReservation(u)
	if len(u.Queue) == 0 {
		u.State = StateIdle
		u.HasDest = false
	}
}

// systemTurrets eases every turret toward its aim bearing, or back onto
// the hull when no aim is set.
func (w *World) systemTurrets(nowTick uint64) {
	dt := w.dtSec()
	for _, u := range w.sortedUnits() {
		if !u.HasTurret {
			continue
		}
		want := u.Facing
		rate := u.TurretRate
		if u.HasAim {
			if t := w.units[u.AimTarget]; t != nil {
				want = geom.Bearing(u.X, u.Y, t.X, t.Y)
			} else {
				u.HasAim = false
				u.AimTarget = 0
				rate = w.cfg.Tuning.Movement.TurretReturnRate
			}
		} else {
			rate = w.cfg.Tuning.Movement.TurretReturnRate
		}
		u.TurretFacing = geom.Step(u.TurretFacing, want, rate*dt)
	}
}
