package worldtest

import (
	"testing"

	"fieldcraft.ai/internal/protocol"
)

func TestDelayedOrders_MoveAfterFiresOnSchedule(t *testing.T) {
	h := NewArenaHarness(t)
	id := h.SpawnUnit("soldier", 1, 2, 2)

	to := [2]int{6, 2}
	ack := h.Cmd(protocol.Order{Op: protocol.OpMoveAfter, Units: []uint64{id}, To: &to, DelaySec: 0.5})
	if !ack.Accepted {
		t.Fatalf("move_after rejected: %+v", ack.Results)
	}

	// Scheduled, not moving: a 0.5s delay issued on tick 2 fires on
	// tick 7, so five observations stay parked.
	for i := 0; i < 5; i++ {
		if v := h.UnitView(id); v.State != "IDLE" {
			t.Fatalf("moved %d ticks before the delay elapsed: %+v", i, v)
		}
		h.StepNoop()
	}
	if v := h.UnitView(id); v.State == "IDLE" {
		t.Fatalf("delay elapsed but the unit never started: %+v", v)
	}
	h.StepUntilIdleAt(id, 6, 2, 120)
}

func TestDelayedOrders_StopCancelsPending(t *testing.T) {
	h := NewArenaHarness(t)
	id := h.SpawnUnit("soldier", 1, 2, 2)

	to := [2]int{6, 2}
	h.MustCmd(protocol.Order{Op: protocol.OpMoveAfter, Units: []uint64{id}, To: &to, DelaySec: 0.5})
	h.MustCmd(protocol.Order{Op: protocol.OpStop, Units: []uint64{id}})

	obs := h.StepN(15)
	if v := h.UnitView(id); v.State != "IDLE" || v.Cell != [2]int{2, 2} {
		t.Fatalf("cancelled order still fired: %+v", v)
	}
	if obs.Stats.MovesIssued != 0 {
		t.Fatalf("moves issued=%d after cancel", obs.Stats.MovesIssued)
	}
}

func TestDelayedOrders_NegativeDelayRejected(t *testing.T) {
	h := NewArenaHarness(t)
	id := h.SpawnUnit("soldier", 1, 2, 2)

	to := [2]int{6, 2}
	ack := h.Cmd(protocol.Order{Op: protocol.OpMoveAfter, Units: []uint64{id}, To: &to, DelaySec: -1})
	if ack.Accepted || ack.Results[0].Code != protocol.ErrBadCmd {
		t.Fatalf("negative delay: %+v", ack)
	}
}
