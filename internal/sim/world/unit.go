package world

import (
	"time"

	"fieldcraft.ai/internal/sim/grid"
	"fieldcraft.ai/internal/sim/sched"
)

// UnitID aliases the grid's claim-holder id so arena keys and cell
// claims are the same value.
type UnitID = grid.UnitID

type UnitState string

const (
	StateIdle      UnitState = "IDLE"
	StateFollowing UnitState = "FOLLOWING"
	StateRotating  UnitState = "ROTATING"
	StateWaiting   UnitState = "WAITING"
)

// Unit is one flat record: identity, pose, the movement state machine,
// and capability fields that are simply zero for kinds without them.
// Units refer to cells by position and to each other by id, never by
// pointer.
type Unit struct {
	ID      UnitID
	Kind    string
	Name    string
	Faction int

	X, Y   float64 // world units
	Facing float64 // degrees
	Cell   grid.Pos

	Speed    float64 // cells per second
	TurnRate float64 // degrees per second

	State UnitState

	// Queue is the live waypoint path, front first. Shelved is the same
	// path parked while Waiting; the two are never both non-empty.
	Queue   []grid.Pos
	Shelved []grid.Pos

	Dest    grid.Pos
	HasDest bool

	// Reserved is the lookahead claim on the front waypoint. Held iff
	// more than one waypoint remains.
	Reserved    grid.Pos
	hasReserved bool

	WaitUntil time.Duration
	waitStart time.Duration
	starved   bool

	HP    float64
	MaxHP float64
	Regen float64 // hp per heal pulse; zero means no self-heal

	Fuel     float64
	FuelBurn float64 // per second while moving; zero means no tank

	HasTurret    bool
	TurretFacing float64
	TurretRate   float64
	HasAim       bool
	AimTarget    UnitID

	Group int // permanent group 1..9, zero means none

	Events sched.Source
}

func (u *Unit) hostileTo(o *Unit) bool {
	return u.Faction != 0 && o.Faction != 0 && u.Faction != o.Faction
}

// hasOrders reports whether the unit is actively going somewhere: a live
// queue, a parked path, or a queued move event still to fire.
func (u *Unit) hasOrders() bool {
	if len(u.Queue) > 0 || len(u.Shelved) > 0 {
		return true
	}
	for _, e := range u.Events.Events() {
		if e.Action == actionUnitMove {
			return true
		}
	}
	return false
}

// burnFuel charges one tick of movement. Reports whether the tank just
// ran dry.
func (u *Unit) burnFuel(dt float64) bool {
	if u.FuelBurn <= 0 || u.Fuel <= 0 {
		return false
	}
	u.Fuel -= u.FuelBurn * dt
	if u.Fuel <= 0 {
		u.Fuel = 0
		return true
	}
	return false
}
