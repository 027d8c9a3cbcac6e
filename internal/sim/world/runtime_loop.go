package world

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fieldcraft.ai/internal/protocol"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.Tuning.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingCmds []CmdEnvelope
	var pendingJoins []JoinRequest
	var pendingLeaves []string

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-w.inbox:
			pendingCmds = append(pendingCmds, env)
		case req := <-w.saveReq:
			w.handleSaveRequest(req)
		case <-ticker.C:
			w.step(pendingJoins, pendingLeaves, pendingCmds)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingCmds = pendingCmds[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances the world by a single tick with the same ordering
// semantics as the server loop. Tests and replay tooling drive the world
// with it.
func (w *World) StepOnce(joins []JoinRequest, leaves []string, cmds []CmdEnvelope) uint64 {
	tick := w.tick.Load()
	w.step(joins, leaves, cmds)
	return tick
}

func (w *World) step(joins []JoinRequest, leaves []string, cmds []CmdEnvelope) {
	stepStart := time.Now()
	nowTick := w.tick.Load()

	// Leaves and joins apply at the tick boundary.
	for _, id := range leaves {
		delete(w.clients, id)
	}
	for _, req := range joins {
		w.handleJoin(req)
	}

	// Commands apply in receive order before any system runs.
	for _, env := range cmds {
		ack := w.applyCmd(env, nowTick)
		if c := w.clients[env.ClientID]; c != nil {
			if b, err := json.Marshal(ack); err == nil {
				sendLatest(c.Out, b)
			}
		}
	}

	// Fire due timers: delayed orders, heal pulses, the autosave pulse.
	w.sched.Update()

	w.systemMovement(nowTick)
	w.systemTurrets(nowTick)

	if every := w.cfg.Tuning.ObsEveryTicks; every > 0 && nowTick%uint64(every) == 0 {
		w.broadcastObs(nowTick)
	}

	nextTick := w.tick.Add(1)

	fired, failed := w.sched.Counts()
	w.metrics.Store(WorldMetrics{
		Tick:    nextTick,
		Units:   len(w.units),
		Clients: len(w.clients),
		QueueDepths: QueueDepths{
			Inbox: len(w.inbox),
			Join:  len(w.join),
			Leave: len(w.leave),
		},
		StepMS: float64(time.Since(stepStart).Microseconds()) / 1000.0,
		Stats:  w.stats.View(len(w.units), fired, failed),
	})
}

func (w *World) handleJoin(req JoinRequest) {
	n := w.nextClientNum.Add(1)
	clientID := fmt.Sprintf("C%d", n)
	if req.Out != nil {
		w.clients[clientID] = &clientState{ID: clientID, Out: req.Out}
	}
	resp := JoinResponse{Welcome: protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ClientID:        clientID,
		WorldParams: protocol.WorldParams{
			TickRateHz: w.cfg.Tuning.TickRateHz,
			GridSize:   [2]int{w.grid.W, w.grid.H},
			CellSize:   w.grid.CellSize,
			Seed:       w.cfg.Seed,
		},
		Catalogs: protocol.CatalogDigests{
			Units: protocol.DigestRef{
				Digest: w.cats.Units.Digest,
				Count:  len(w.cats.Units.Palette),
			},
		},
	}}
	if req.Resp != nil {
		req.Resp <- resp
	}
}

// sendLatest drops the oldest queued message when the client cannot keep
// up, so a slow reader never stalls the loop.
func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
