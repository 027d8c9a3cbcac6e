package world

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"fieldcraft.ai/internal/protocol"
)

func joinClient(t *testing.T, w *World, name string) (string, chan []byte) {
	t.Helper()
	out := make(chan []byte, 32)
	resp := make(chan JoinResponse, 1)
	w.StepOnce([]JoinRequest{{Name: name, Out: out, Resp: resp}}, nil, nil)
	jr := <-resp
	if jr.Welcome.Type != protocol.TypeWelcome {
		t.Fatalf("welcome type=%q", jr.Welcome.Type)
	}
	return jr.Welcome.ClientID, out
}

func drain(ch chan []byte) [][]byte {
	var out [][]byte
	for {
		select {
		case b := <-ch:
			out = append(out, b)
		default:
			return out
		}
	}
}

func TestJoin_WelcomeCarriesWorldParams(t *testing.T) {
	w := newTestWorld(t)
	out := make(chan []byte, 32)
	resp := make(chan JoinResponse, 1)
	w.StepOnce([]JoinRequest{{Name: "viewer", Out: out, Resp: resp}}, nil, nil)
	jr := <-resp

	wm := jr.Welcome
	if wm.ClientID != "C1" {
		t.Fatalf("client id=%q want C1", wm.ClientID)
	}
	if wm.ProtocolVersion != protocol.Version {
		t.Fatalf("protocol version=%q", wm.ProtocolVersion)
	}
	if wm.WorldParams.TickRateHz != 10 || wm.WorldParams.GridSize != [2]int{16, 16} ||
		wm.WorldParams.CellSize != 1 || wm.WorldParams.Seed != 0 {
		t.Fatalf("world params=%+v", wm.WorldParams)
	}
	if wm.Catalogs.Units.Count != 5 || len(wm.Catalogs.Units.Digest) != 64 {
		t.Fatalf("catalog digest=%+v", wm.Catalogs.Units)
	}

	// The join tick already streams an observation.
	msgs := drain(out)
	if len(msgs) != 1 {
		t.Fatalf("messages=%d want 1 obs", len(msgs))
	}
	base, err := protocol.DecodeBase(msgs[0])
	if err != nil || base.Type != protocol.TypeObs {
		t.Fatalf("first message type=%q err=%v", base.Type, err)
	}
}

func TestCmdBatch_AckResultsPerOrder(t *testing.T) {
	w := newTestWorld(t)
	clientID, out := joinClient(t, w, "bot")
	drain(out)

	to := [2]int{3, 3}
	moveTo := [2]int{6, 3}
	pre := w.StepOnce(nil, nil, []CmdEnvelope{{ClientID: clientID, Cmd: protocol.CmdMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		ID:              "c1",
		Orders: []protocol.Order{
			{Op: protocol.OpSpawn, Kind: "soldier", To: &to},
			{Op: protocol.OpMove, Units: []uint64{1}, To: &moveTo},
			{Op: "LAUNCH", Units: []uint64{1}},
		},
	}}})
	if pre != 1 {
		t.Fatalf("step tick=%d want 1", pre)
	}

	var ack protocol.AckMsg
	var obs protocol.ObsMsg
	for _, b := range drain(out) {
		base, err := protocol.DecodeBase(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		switch base.Type {
		case protocol.TypeAck:
			if err := json.Unmarshal(b, &ack); err != nil {
				t.Fatalf("ack: %v", err)
			}
		case protocol.TypeObs:
			if err := json.Unmarshal(b, &obs); err != nil {
				t.Fatalf("obs: %v", err)
			}
		}
	}

	if ack.AckFor != "c1" || ack.Accepted {
		t.Fatalf("ack=%+v want rejected c1", ack)
	}
	if ack.ServerTick != 1 {
		t.Fatalf("server tick=%d want 1", ack.ServerTick)
	}
	if len(ack.Results) != 3 {
		t.Fatalf("results=%d want 3", len(ack.Results))
	}
	if r := ack.Results[0]; r.Code != "" || r.Unit != 1 {
		t.Fatalf("spawn result=%+v want unit 1", r)
	}
	if r := ack.Results[1]; r.Code != "" {
		t.Fatalf("move result=%+v want ok", r)
	}
	if r := ack.Results[2]; r.Code != protocol.ErrBadCmd {
		t.Fatalf("bogus op result=%+v want %s", r, protocol.ErrBadCmd)
	}

	// Same-tick effects are visible in the trailing observation.
	if obs.Tick != 1 || len(obs.Units) != 1 {
		t.Fatalf("obs tick=%d units=%d", obs.Tick, len(obs.Units))
	}
	v := obs.Units[0]
	if v.ID != 1 || v.Kind != "soldier" || v.Cell != [2]int{3, 3} {
		t.Fatalf("unit view=%+v", v)
	}
	if v.State != string(StateRotating) && v.State != string(StateFollowing) {
		t.Fatalf("unit state=%q want moving", v.State)
	}
	if obs.Stats.Units != 1 || obs.Stats.MovesIssued != 1 {
		t.Fatalf("stats=%+v", obs.Stats)
	}

	u := w.UnitByID(1)
	if u == nil || !u.HasDest || u.Dest.X != 6 || u.Dest.Y != 3 {
		t.Fatalf("spawned unit not moving: %+v", u)
	}
}

func TestCmdBatch_ErrorCodes(t *testing.T) {
	w := newTestWorld(t)
	clientID, out := joinClient(t, w, "bot")
	drain(out)

	to := [2]int{4, 4}
	w.StepOnce(nil, nil, []CmdEnvelope{{ClientID: clientID, Cmd: protocol.CmdMsg{
		Type: protocol.TypeCmd, ProtocolVersion: protocol.Version, ID: "c2",
		Orders: []protocol.Order{
			{Op: protocol.OpMove, Units: []uint64{99}, To: &to},
			{Op: protocol.OpSpawn, Kind: "zeppelin", To: &to},
			{Op: protocol.OpSpawn, Kind: "soldier"},
			{Op: protocol.OpGroupMove, Group: 4, To: &to},
			{Op: protocol.OpMoveAfter, Units: []uint64{99}, To: &to, DelaySec: -1},
		},
	}}})

	var ack protocol.AckMsg
	for _, b := range drain(out) {
		if base, _ := protocol.DecodeBase(b); base.Type == protocol.TypeAck {
			if err := json.Unmarshal(b, &ack); err != nil {
				t.Fatalf("ack: %v", err)
			}
		}
	}
	if ack.Accepted {
		t.Fatalf("batch of errors accepted")
	}
	want := []string{
		protocol.ErrUnknownUnit,
		protocol.ErrUnknownKind,
		protocol.ErrBadCmd,
		protocol.ErrUnknownGroup,
		protocol.ErrBadCmd,
	}
	if len(ack.Results) != len(want) {
		t.Fatalf("results=%d want %d", len(ack.Results), len(want))
	}
	for i, code := range want {
		if ack.Results[i].Code != code {
			t.Fatalf("result %d code=%q want %q", i, ack.Results[i].Code, code)
		}
		if ack.Results[i].Index != i {
			t.Fatalf("result %d index=%d", i, ack.Results[i].Index)
		}
	}
	if ack.Results[0].Unit != 99 {
		t.Fatalf("unknown unit result carries unit=%d want 99", ack.Results[0].Unit)
	}

	// A command from a client that never joined is applied but has
	// nowhere to ack.
	w.StepOnce(nil, nil, []CmdEnvelope{{ClientID: "ghost", Cmd: protocol.CmdMsg{
		Type: protocol.TypeCmd, ID: "c3",
		Orders: []protocol.Order{{Op: protocol.OpSpawn, Kind: "soldier", To: &to}},
	}}})
	if w.UnitByID(1) == nil {
		t.Fatalf("ghost spawn not applied")
	}
}

func TestLeave_StopsObsDelivery(t *testing.T) {
	w := newTestWorld(t)
	clientID, out := joinClient(t, w, "bot")

	stepN(w, 2)
	if len(drain(out)) == 0 {
		t.Fatalf("no obs while joined")
	}

	w.StepOnce(nil, []string{clientID}, nil)
	drain(out)
	stepN(w, 3)
	if got := len(drain(out)); got != 0 {
		t.Fatalf("messages=%d after leave, want 0", got)
	}
}

func TestObs_CadenceFollowsTuning(t *testing.T) {
	tn := testTuning()
	tn.ObsEveryTicks = 2
	w := newTestWorldTuned(t, tn)
	_, out := joinClient(t, w, "viewer")

	stepN(w, 4)

	// Join landed on tick 0; broadcasts land on ticks 0, 2 and 4.
	obs := 0
	for _, b := range drain(out) {
		if base, _ := protocol.DecodeBase(b); base.Type == protocol.TypeObs {
			obs++
		}
	}
	if obs != 3 {
		t.Fatalf("obs count=%d want 3", obs)
	}
}

func TestRun_StopReturnsCleanly(t *testing.T) {
	w := newTestWorld(t)
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	// Let the ticker fire at least once so Stop races a live loop.
	time.Sleep(150 * time.Millisecond)
	w.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	if w.CurrentTick() == 0 {
		t.Fatal("loop never ticked")
	}
}
