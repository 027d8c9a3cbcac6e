package world

import (
	"fmt"
	"time"

	"fieldcraft.ai/internal/persistence/snapshot"
	"fieldcraft.ai/internal/sim/grid"
	"fieldcraft.ai/internal/sim/sched"
)

// ImportSnapshot restores a previously exported state into a freshly
// constructed world. The receiver must be empty and built with the same
// seed, grid and tick rate the snapshot was taken with; catalogs stay
// authoritative for per-kind capabilities so tuning a kind between runs
// carries into restored units.
func (w *World) ImportSnapshot(s snapshot.SnapshotV1) error {
	if s.Header.Version != 1 {
		return fmt.Errorf("snapshot version %d not supported", s.Header.Version)
	}
	if s.TickRate != w.cfg.Tuning.TickRateHz {
		return fmt.Errorf("snapshot tick rate %d, world has %d", s.TickRate, w.cfg.Tuning.TickRateHz)
	}
	if s.GridW != w.grid.W || s.GridH != w.grid.H {
		return fmt.Errorf("snapshot grid %dx%d, world has %dx%d", s.GridW, s.GridH, w.grid.W, w.grid.H)
	}
	if s.CellSize != w.grid.CellSize {
		return fmt.Errorf("snapshot cell size %g, world has %g", s.CellSize, w.grid.CellSize)
	}
	if s.Seed != w.cfg.Seed {
		return fmt.Errorf("snapshot seed %d, world has %d", s.Seed, w.cfg.Seed)
	}
	if len(w.units) > 0 {
		return fmt.Errorf("world %s already has %d units, restore needs an empty world", w.cfg.ID, len(w.units))
	}

	// Drop the timers New installed; the snapshot carries its own.
	w.worldEvents.CancelAll()
	w.tick.Store(s.Header.Tick + 1)

	for _, c := range s.Blocked {
		w.grid.SetPathable(grid.Pos{X: c.X, Y: c.Y}, false)
	}

	now := w.sched.Now()
	for _, su := range s.Units {
		def, ok := w.cats.Units.ByID[su.Kind]
		if !ok {
			w.log.Printf("restore: unit %d has unknown kind %q, skipping", su.ID, su.Kind)
			continue
		}
		id := UnitID(su.ID)
		u := &Unit{
			ID:      id,
			Kind:    def.ID,
			Name:    su.Name,
			Faction: su.Faction,

			X:      su.X,
			Y:      su.Y,
			Facing: su.Facing,
			Cell:   grid.Pos{X: su.Cell.X, Y: su.Cell.Y},

			Speed:    def.Speed,
			TurnRate: def.TurnRate,

			HP:    su.HP,
			MaxHP: def.HP,
			Regen: def.Regen,

			Fuel:     su.Fuel,
			FuelBurn: def.FuelBurn,

			HasTurret:    def.Turret,
			TurretRate:   def.TurretRate,
			TurretFacing: su.TurretFacing,

			Group:  su.Group,
			Events: sched.NewSource(w.sched, sched.OwnerID(su.ID)),
		}
		if u.HP > u.MaxHP {
			u.HP = u.MaxHP
		}
		switch UnitState(su.State) {
		case StateIdle, StateFollowing, StateRotating, StateWaiting:
			u.State = UnitState(su.State)
		default:
			u.State = StateIdle
		}
		u.Queue = v1ToCells(su.Queue)
		u.Shelved = v1ToCells(su.Shelved)
		u.HasDest = su.HasDest
		if su.HasDest {
			u.Dest = grid.Pos{X: su.Dest.X, Y: su.Dest.Y}
		}
		if u.State == StateWaiting && su.WaitRemainingS > 0 {
			u.WaitUntil = now + secsToDur(su.WaitRemainingS)
			u.waitStart = now
		}
		if u.HasTurret {
			u.HasAim = su.HasAim
			u.AimTarget = UnitID(su.AimTarget)
		}
		if err := w.grid.Occupy(id, u.Cell); err != nil {
			return fmt.Errorf("restore unit %d at (%d,%d): %w", su.ID, u.Cell.X, u.Cell.Y, err)
		}
		w.units[id] = u
		w.syncReservation(u)
	}
	if s.Counters.NextUnit > 0 {
		w.nextUnitNum.Store(s.Counters.NextUnit)
	}

	for _, g := range s.Groups {
		for _, raw := range g.Units {
			id := UnitID(raw)
			u := w.units[id]
			if u == nil {
				continue
			}
			u.Group = g.ID
			w.groups[g.ID] = append(w.groups[g.ID], id)
		}
		sortIDs(w.groups[g.ID])
	}

	for _, se := range s.Events {
		fn, ok := w.actions.Resolve(se.Action)
		if !ok {
			w.log.Printf("restore: dropping event with unknown action %q", se.Action)
			continue
		}
		e := sched.NewEvent(sched.OwnerID(se.Owner), secsToDur(se.DelayS), se.Action,
			append([]byte(nil), se.Args...), se.Repeats, fn)
		e.SetRemaining(secsToDur(se.RemainingS))
		if se.Owner == 0 {
			w.worldEvents.Schedule(e)
			continue
		}
		u := w.units[UnitID(se.Owner)]
		if u == nil {
			w.log.Printf("restore: dropping %s event for missing unit %d", se.Action, se.Owner)
			continue
		}
		u.Events.Schedule(e)
	}

	w.stats = WorldStats{
		MovesIssued: s.Stats.MovesIssued,
		PathsFailed: s.Stats.PathsFailed,
		Shelves:     s.Stats.Shelves,
		Detours:     s.Stats.Detours,
		Yields:      s.Stats.Yields,
		Reroutes:    s.Stats.Reroutes,
		Starved:     s.Stats.Starved,
		Conflicts:   s.Stats.Conflicts,
	}

	// Snapshots taken while autosave was armed carry the timer; only
	// re-arm when this one did not.
	armed := false
	for _, e := range w.worldEvents.Events() {
		if e.Action == actionWorldAutosave {
			armed = true
			break
		}
	}
	if !armed {
		w.scheduleAutosave()
	}
	w.log.Printf("restored world %s at tick %d: %d units, %d groups, %d events",
		w.cfg.ID, s.Header.Tick, len(w.units), len(w.groups), w.sched.Len())
	return nil
}

func v1ToCells(cells []snapshot.CellV1) []grid.Pos {
	if len(cells) == 0 {
		return nil
	}
	out := make([]grid.Pos, len(cells))
	for i, c := range cells {
		out[i] = grid.Pos{X: c.X, Y: c.Y}
	}
	return out
}

func secsToDur(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
