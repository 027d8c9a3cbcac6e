package world

import (
	"encoding/json"

	"fieldcraft.ai/internal/protocol"
)

// buildObs assembles the full world view every client receives. Units in
// ascending id order, so diffs between frames are stable.
func (w *World) buildObs(nowTick uint64) protocol.ObsMsg {
	units := make([]protocol.UnitView, 0, len(w.units))
	for _, u := range w.sortedUnits() {
		v := protocol.UnitView{
			ID:      uint64(u.ID),
			Kind:    u.Kind,
			Faction: u.Faction,
			Pos:     [2]float64{u.X, u.Y},
			Cell:    [2]int{u.Cell.X, u.Cell.Y},
			Facing:  u.Facing,
			State:   string(u.State),
			Queue:   len(u.Queue),
			HP:      u.HP,
			Group:   u.Group,
			Fuel:    u.Fuel,
		}
		if u.HasTurret {
			v.Turret = u.TurretFacing
		}
		units = append(units, v)
	}
	fired, failed := w.sched.Counts()
	return protocol.ObsMsg{
		Type:            protocol.TypeObs,
		ProtocolVersion: protocol.Version,
		Tick:            nowTick,
		ClockSec:        w.sched.Now().Seconds(),
		Units:           units,
		Stats:           w.stats.View(len(w.units), fired, failed),
	}
}

func (w *World) broadcastObs(nowTick uint64) {
	if len(w.clients) == 0 {
		return
	}
	b, err := json.Marshal(w.buildObs(nowTick))
	if err != nil {
		return
	}
	for _, c := range w.clients {
		sendLatest(c.Out, b)
	}
}
