package world

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"fieldcraft.ai/internal/sim/grid"
	"fieldcraft.ai/internal/sim/sched"
)

// Action identifiers are the stable names snapshots persist; restores
// re-bind them through the registry.
const (
	actionUnitMove      = "unit.move"
	actionUnitHeal      = "unit.heal"
	actionWorldAutosave = "world.autosave"
)

func (w *World) registerActions() {
	w.actions.Register(actionUnitMove, w.actUnitMove)
	w.actions.Register(actionUnitHeal, w.actUnitHeal)
	w.actions.Register(actionWorldAutosave, w.actAutosave)
}

func (w *World) actUnitMove(raw json.RawMessage) error {
	var a moveArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return fmt.Errorf("unit.move args: %w", err)
	}
	return w.IssueMove(UnitID(a.Unit), grid.Pos{X: a.To[0], Y: a.To[1]})
}

type healArgs struct {
	Unit uint64 `json:"unit"`
}

func (w *World) actUnitHeal(raw json.RawMessage) error {
	var a healArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return fmt.Errorf("unit.heal args: %w", err)
	}
	u := w.units[UnitID(a.Unit)]
	if u == nil {
		return fmt.Errorf("unit.heal: unknown unit %d", a.Unit)
	}
	if u.Regen <= 0 {
		return nil
	}
	u.HP = math.Min(u.HP+u.Regen, u.MaxHP)
	return nil
}

func (w *World) actAutosave(json.RawMessage) error {
	if w.snapshotSink == nil {
		return nil
	}
	snap := w.ExportSnapshot(w.tick.Load())
	select {
	case w.snapshotSink <- snap:
	default:
		// Sink backed up; the next pulse retries.
	}
	return nil
}

// startCapabilityEvents wires the repeating timers a kind's capabilities
// imply. Regen pulses once per second until the unit dies.
func (w *World) startCapabilityEvents(u *Unit) {
	if u.Regen > 0 {
		fn, _ := w.actions.Resolve(actionUnitHeal)
		args, _ := json.Marshal(healArgs{Unit: uint64(u.ID)})
		u.Events.Schedule(sched.NewEvent(0, time.Second, actionUnitHeal, args, sched.RepeatForever, fn))
	}
}

func (w *World) scheduleAutosave() {
	secs := w.cfg.Tuning.AutosaveEverySec
	if secs <= 0 {
		return
	}
	fn, _ := w.actions.Resolve(actionWorldAutosave)
	d := time.Duration(secs * float64(time.Second))
	w.worldEvents.Schedule(sched.NewEvent(0, d, actionWorldAutosave, nil, sched.RepeatForever, fn))
}
