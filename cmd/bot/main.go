// Command bot is a throwaway load client: it joins a server, spawns a
// squad, and keeps it marching to random cells until interrupted.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"fieldcraft.ai/internal/protocol"
)

func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name  = flag.String("name", "bot", "client name")
		units = flag.Int("units", 6, "units to spawn")
		kind  = flag.String("kind", "soldier", "unit kind to spawn")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 16},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	b := &bot{
		conn:   conn,
		log:    logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		spawnN: *units,
		kind:   *kind,
	}

	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			b.handleWelcome(&w)

		case protocol.TypeAck:
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &ack); err != nil {
				continue
			}
			b.handleAck(&ack)

		case protocol.TypeObs:
			var obs protocol.ObsMsg
			if err := json.Unmarshal(msg, &obs); err != nil {
				continue
			}
			b.handleObs(&obs)
		}
	}
}

type bot struct {
	conn   *websocket.Conn
	log    *log.Logger
	rng    *rand.Rand
	grid   [2]int
	spawnN int
	kind   string

	spawnCmd string   // CMD id of the in-flight SPAWN batch
	units    []uint64 // ids we own, filled in from the spawn ACK
}

func (b *bot) handleWelcome(w *protocol.WelcomeMsg) {
	b.grid = w.WorldParams.GridSize
	b.log.Printf("WELCOME client_id=%s tick_rate=%d grid=%dx%d seed=%d",
		w.ClientID, w.WorldParams.TickRateHz, b.grid[0], b.grid[1], w.WorldParams.Seed)

	cmd := protocol.CmdMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		ID:              fmt.Sprintf("spawn_%d", time.Now().UnixNano()),
	}
	for i := 0; i < b.spawnN; i++ {
		to := b.randomCell()
		cmd.Orders = append(cmd.Orders, protocol.Order{
			Op:      protocol.OpSpawn,
			Kind:    b.kind,
			Faction: 1,
			To:      &to,
		})
	}
	b.spawnCmd = cmd.ID
	_ = b.conn.WriteJSON(cmd)
}

func (b *bot) handleAck(ack *protocol.AckMsg) {
	if ack.AckFor == b.spawnCmd {
		for _, r := range ack.Results {
			if r.Code == "" && r.Unit != 0 {
				b.units = append(b.units, r.Unit)
			}
		}
		b.log.Printf("spawned %d/%d units", len(b.units), b.spawnN)
		return
	}
	for _, r := range ack.Results {
		if r.Code != "" {
			b.log.Printf("order %d rejected: %s (cmd %s)", r.Index, r.Code, ack.AckFor)
		}
	}
}

func (b *bot) handleObs(obs *protocol.ObsMsg) {
	if len(b.units) == 0 {
		return
	}

	// March one unit every few seconds.
	if obs.Tick%40 == 0 {
		u := b.units[b.rng.Intn(len(b.units))]
		to := b.randomCell()
		b.order(protocol.Order{Op: protocol.OpMove, Units: []uint64{u}, To: &to})
	}

	// Regroup the whole squad once a minute.
	if obs.Tick%600 == 20 {
		to := b.randomCell()
		b.order(
			protocol.Order{Op: protocol.OpGroupAssign, Units: b.units, Group: 1},
			protocol.Order{Op: protocol.OpGroupMove, Group: 1, To: &to},
		)
	}
}

func (b *bot) order(orders ...protocol.Order) {
	cmd := protocol.CmdMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		ID:              fmt.Sprintf("c_%d", time.Now().UnixNano()),
		Orders:          orders,
	}
	_ = b.conn.WriteJSON(cmd)
}

func (b *bot) randomCell() [2]int {
	return [2]int{b.rng.Intn(b.grid[0]), b.rng.Intn(b.grid[1])}
}
