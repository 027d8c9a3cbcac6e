package world

import (
	"sort"

	"fieldcraft.ai/internal/persistence/snapshot"
	"fieldcraft.ai/internal/sim/grid"
	"fieldcraft.ai/internal/sim/sched"
)

// ExportSnapshot captures the complete world state. Must be called from
// the loop goroutine.
func (w *World) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	t := w.cfg.Tuning
	snap := snapshot.SnapshotV1{
		Header:   snapshot.Header{Version: 1, WorldID: w.cfg.ID, Tick: nowTick},
		Seed:     w.cfg.Seed,
		TickRate: t.TickRateHz,
		GridW:    w.grid.W,
		GridH:    w.grid.H,
		CellSize: w.grid.CellSize,
	}

	for y := 0; y < w.grid.H; y++ {
		for x := 0; x < w.grid.W; x++ {
			if !w.grid.Pathable(grid.Pos{X: x, Y: y}) {
				snap.Blocked = append(snap.Blocked, snapshot.CellV1{X: x, Y: y})
			}
		}
	}

	now := w.sched.Now()
	for _, u := range w.sortedUnits() {
		su := snapshot.UnitV1{
			ID:      uint64(u.ID),
			Kind:    u.Kind,
			Name:    u.Name,
			Faction: u.Faction,

			X:      u.X,
			Y:      u.Y,
			Facing: u.Facing,
			Cell:   snapshot.CellV1{X: u.Cell.X, Y: u.Cell.Y},

			State:   string(u.State),
			Queue:   cellsToV1(u.Queue),
			Shelved: cellsToV1(u.Shelved),
			HasDest: u.HasDest,

			HP:           u.HP,
			Fuel:         u.Fuel,
			TurretFacing: u.TurretFacing,
			HasAim:       u.HasAim,
			AimTarget:    uint64(u.AimTarget),

			Group: u.Group,
		}
		if u.HasDest {
			su.Dest = snapshot.CellV1{X: u.Dest.X, Y: u.Dest.Y}
		}
		if u.State == StateWaiting && u.WaitUntil > now {
			su.WaitRemainingS = (u.WaitUntil - now).Seconds()
		}
		snap.Units = append(snap.Units, su)
	}

	groupIDs := make([]int, 0, len(w.groups))
	for n := range w.groups {
		groupIDs = append(groupIDs, n)
	}
	sort.Ints(groupIDs)
	for _, n := range groupIDs {
		ids := make([]uint64, 0, len(w.groups[n]))
		for _, id := range w.groups[n] {
			ids = append(ids, uint64(id))
		}
		snap.Groups = append(snap.Groups, snapshot.GroupV1{ID: n, Units: ids})
	}

	w.exportEvents(&snap)

	snap.Stats = snapshot.StatsV1{
		MovesIssued: w.stats.MovesIssued,
		PathsFailed: w.stats.PathsFailed,
		Shelves:     w.stats.Shelves,
		Detours:     w.stats.Detours,
		Yields:      w.stats.Yields,
		Reroutes:    w.stats.Reroutes,
		Starved:     w.stats.Starved,
		Conflicts:   w.stats.Conflicts,
	}
	snap.Counters = snapshot.CountersV1{NextUnit: w.nextUnitNum.Load()}
	return snap
}

// exportEvents flattens every pending timer: world-owned first, then
// unit-owned in ascending unit id, insertion order within each owner.
func (w *World) exportEvents(snap *snapshot.SnapshotV1) {
	add := func(owner uint64, events []*sched.Event) {
		for _, e := range events {
			left, ok := w.sched.TimeLeft(e)
			if !ok {
				continue
			}
			if left < 0 {
				left = 0
			}
			snap.Events = append(snap.Events, snapshot.EventV1{
				Owner:      owner,
				DelayS:     e.Delay.Seconds(),
				RemainingS: left.Seconds(),
				Action:     e.Action,
				Args:       append([]byte(nil), e.Args...),
				Repeats:    e.Repeats,
			})
		}
	}
	add(0, w.worldEvents.Events())
	for _, u := range w.sortedUnits() {
		add(uint64(u.ID), u.Events.Events())
	}
}

func cellsToV1(cells []grid.Pos) []snapshot.CellV1 {
	if len(cells) == 0 {
		return nil
	}
	out := make([]snapshot.CellV1, len(cells))
	for i, c := range cells {
		out[i] = snapshot.CellV1{X: c.X, Y: c.Y}
	}
	return out
}
