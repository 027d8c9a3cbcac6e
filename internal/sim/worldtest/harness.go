// Package worldtest drives a world black-box through the client
// protocol: joins through JoinRequest, orders through CMD batches, state
// read back from OBS and ACK frames. Nothing here touches world
// internals, so these tests double as protocol conformance checks.
package worldtest

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"testing"

	"fieldcraft.ai/internal/persistence/snapshot"
	"fieldcraft.ai/internal/protocol"
	"fieldcraft.ai/internal/sim/catalogs"
	"fieldcraft.ai/internal/sim/tuning"
	world "fieldcraft.ai/internal/sim/world"
)

// Harness owns one world and any number of client sessions on it.
// Step helpers submit envelopes via StepOnce and then drain every
// session's Out channel, routing frames by type.
type Harness struct {
	T    *testing.T
	Cats *catalogs.Catalogs
	W    *world.World

	DefaultClientID string

	sessions map[string]*session
	nextCmd  int
}

type session struct {
	ClientID   string
	Out        chan []byte
	welcome    protocol.WelcomeMsg
	lastObs    protocol.ObsMsg
	lastObsRaw []byte
	hasObs     bool
	acks       []protocol.AckMsg
}

// arenaTuning is the scripted-scenario arena: small, open, observed
// every tick so assertions never race the obs cadence.
func arenaTuning() tuning.Tuning {
	tn := tuning.Defaults()
	tn.TickRateHz = 10
	tn.GridW = 16
	tn.GridH = 16
	tn.CellSize = 1
	tn.ObsEveryTicks = 1
	tn.AutosaveEverySec = 0
	return tn
}

func loadCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return cats
}

func NewHarness(t *testing.T, cfg world.WorldConfig, clientName string) *Harness {
	t.Helper()
	cats := loadCatalogs(t)
	w, err := world.New(cfg, cats, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	return NewHarnessWithWorld(t, w, cats, clientName)
}

// NewHarnessWithWorld wraps an already-built world. Snapshot round-trip
// tests use it to import before the first join.
func NewHarnessWithWorld(t *testing.T, w *world.World, cats *catalogs.Catalogs, clientName string) *Harness {
	t.Helper()
	h := &Harness{
		T:        t,
		Cats:     cats,
		W:        w,
		sessions: map[string]*session{},
	}
	h.DefaultClientID = h.Join(clientName)
	return h
}

// NewArenaHarness is the common case: open 16x16 grid, one client.
func NewArenaHarness(t *testing.T) *Harness {
	t.Helper()
	return NewHarness(t, world.WorldConfig{ID: "test", Seed: 0, Tuning: arenaTuning()}, "bot")
}

func (h *Harness) Join(clientName string) string {
	h.T.Helper()
	out := make(chan []byte, 32)
	resp := make(chan world.JoinResponse, 1)
	h.W.StepOnce([]world.JoinRequest{{Name: clientName, Out: out, Resp: resp}}, nil, nil)
	jr := <-resp
	if jr.Welcome.ClientID == "" {
		h.T.Fatalf("join returned empty client id")
	}
	s := &session{ClientID: jr.Welcome.ClientID, Out: out, welcome: jr.Welcome}
	h.sessions[s.ClientID] = s
	h.drainAll()
	return s.ClientID
}

// Welcome returns the handshake frame the default client received.
func (h *Harness) Welcome() protocol.WelcomeMsg {
	return h.sessions[h.DefaultClientID].welcome
}

// Cmd submits one order batch for the default client and returns its
// ACK. The batch id is generated so the ack can be matched.
func (h *Harness) Cmd(orders ...protocol.Order) protocol.AckMsg {
	return h.CmdFor(h.DefaultClientID, orders...)
}

func (h *Harness) CmdFor(clientID string, orders ...protocol.Order) protocol.AckMsg {
	h.T.Helper()
	h.nextCmd++
	id := fmt.Sprintf("c%d", h.nextCmd)
	h.W.StepOnce(nil, nil, []world.CmdEnvelope{{
		ClientID: clientID,
		Cmd: protocol.CmdMsg{
			Type:            protocol.TypeCmd,
			ProtocolVersion: protocol.Version,
			ID:              id,
			Orders:          orders,
		},
	}})
	h.drainAll()
	s := h.sessions[clientID]
	for i := len(s.acks) - 1; i >= 0; i-- {
		if s.acks[i].AckFor == id {
			return s.acks[i]
		}
	}
	h.T.Fatalf("no ack for batch %s", id)
	return protocol.AckMsg{}
}

// MustCmd fails the test unless every order in the batch was accepted.
func (h *Harness) MustCmd(orders ...protocol.Order) protocol.AckMsg {
	h.T.Helper()
	ack := h.Cmd(orders...)
	if !ack.Accepted {
		h.T.Fatalf("batch rejected: %+v", ack.Results)
	}
	return ack
}

// SpawnUnit places one unit through the protocol and returns its id.
func (h *Harness) SpawnUnit(kind string, faction int, x, y int) uint64 {
	h.T.Helper()
	to := [2]int{x, y}
	ack := h.MustCmd(protocol.Order{Op: protocol.OpSpawn, Kind: kind, Faction: faction, To: &to})
	id := ack.Results[0].Unit
	if id == 0 {
		h.T.Fatalf("spawn ack carried no unit id")
	}
	return id
}

// Move issues MOVE for one unit and returns the ack.
func (h *Harness) Move(unit uint64, x, y int) protocol.AckMsg {
	h.T.Helper()
	to := [2]int{x, y}
	return h.Cmd(protocol.Order{Op: protocol.OpMove, Units: []uint64{unit}, To: &to})
}

func (h *Harness) StepNoop() protocol.ObsMsg {
	h.T.Helper()
	h.W.StepOnce(nil, nil, nil)
	h.drainAll()
	return h.LastObs()
}

func (h *Harness) StepN(n int) protocol.ObsMsg {
	h.T.Helper()
	for i := 0; i < n; i++ {
		h.W.StepOnce(nil, nil, nil)
	}
	h.drainAll()
	return h.LastObs()
}

func (h *Harness) LastObs() protocol.ObsMsg {
	return h.LastObsFor(h.DefaultClientID)
}

func (h *Harness) LastObsFor(clientID string) protocol.ObsMsg {
	h.T.Helper()
	s := h.sessions[clientID]
	if s == nil {
		h.T.Fatalf("unknown client id: %q", clientID)
	}
	if !s.hasObs {
		h.T.Fatalf("client %s has no observation yet", clientID)
	}
	return s.lastObs
}

// LastObsRaw returns the latest observation frame byte for byte, for
// stream-equality checks.
func (h *Harness) LastObsRaw() []byte {
	h.T.Helper()
	s := h.sessions[h.DefaultClientID]
	if !s.hasObs {
		h.T.Fatalf("client %s has no observation yet", s.ClientID)
	}
	return s.lastObsRaw
}

// UnitView finds one unit in the latest observation.
func (h *Harness) UnitView(id uint64) protocol.UnitView {
	h.T.Helper()
	obs := h.LastObs()
	for _, v := range obs.Units {
		if v.ID == id {
			return v
		}
	}
	h.T.Fatalf("unit %d not in observation at tick %d", id, obs.Tick)
	return protocol.UnitView{}
}

// StepUntilState advances until the unit reports the wanted state.
func (h *Harness) StepUntilState(id uint64, state string, max int) int {
	h.T.Helper()
	for i := 0; i < max; i++ {
		if h.UnitView(id).State == state {
			return i
		}
		h.StepNoop()
	}
	if h.UnitView(id).State != state {
		h.T.Fatalf("unit %d never reached %s within %d ticks, last %s",
			id, state, max, h.UnitView(id).State)
	}
	return max
}

// StepUntilIdleAt advances until the unit parks on the wanted cell.
func (h *Harness) StepUntilIdleAt(id uint64, x, y int, max int) {
	h.T.Helper()
	for i := 0; i < max; i++ {
		v := h.UnitView(id)
		if v.State == "IDLE" && v.Cell == [2]int{x, y} {
			return
		}
		h.StepNoop()
	}
	v := h.UnitView(id)
	h.T.Fatalf("unit %d never parked at (%d,%d) within %d ticks, at %v state %s",
		id, x, y, max, v.Cell, v.State)
}

// Snapshot exports the last completed tick, so an import resumes at
// exactly the current one.
func (h *Harness) Snapshot() snapshot.SnapshotV1 {
	h.T.Helper()
	cur := h.W.CurrentTick()
	if cur == 0 {
		return h.W.ExportSnapshot(0)
	}
	return h.W.ExportSnapshot(cur - 1)
}

func (h *Harness) drainAll() {
	h.T.Helper()
	for _, s := range h.sessions {
		h.drainOne(s)
	}
}

func (h *Harness) drainOne(s *session) {
	h.T.Helper()
	for {
		var b []byte
		select {
		case b = <-s.Out:
		default:
			return
		}
		base, err := protocol.DecodeBase(b)
		if err != nil {
			h.T.Fatalf("decode frame: %v", err)
		}
		switch base.Type {
		case protocol.TypeObs:
			var obs protocol.ObsMsg
			if err := json.Unmarshal(b, &obs); err != nil {
				h.T.Fatalf("unmarshal OBS: %v", err)
			}
			s.lastObs = obs
			s.lastObsRaw = b
			s.hasObs = true
		case protocol.TypeAck:
			var ack protocol.AckMsg
			if err := json.Unmarshal(b, &ack); err != nil {
				h.T.Fatalf("unmarshal ACK: %v", err)
			}
			s.acks = append(s.acks, ack)
		default:
			h.T.Fatalf("unexpected frame type %q", base.Type)
		}
	}
}
