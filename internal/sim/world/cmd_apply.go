package world

import (
	"errors"
	"time"

	"fieldcraft.ai/internal/protocol"
	"fieldcraft.ai/internal/sim/grid"
)

func codeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownUnit):
		return protocol.ErrUnknownUnit
	case errors.Is(err, ErrUnknownKind):
		return protocol.ErrUnknownKind
	case errors.Is(err, ErrUnknownGroup):
		return protocol.ErrUnknownGroup
	case errors.Is(err, ErrOutOfBounds):
		return protocol.ErrOutOfBounds
	case errors.Is(err, ErrUnreachable):
		return protocol.ErrUnreachable
	default:
		return protocol.ErrInternal
	}
}

// applyCmd runs one command batch and builds its ACK. Orders apply in
// listed order; a failed order is reported in its result slot and does
// not stop the rest of the batch.
func (w *World) applyCmd(env CmdEnvelope, nowTick uint64) protocol.AckMsg {
	ack := protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          env.Cmd.ID,
		Accepted:        true,
		ServerTick:      nowTick,
	}
	for i, ord := range env.Cmd.Orders {
		res := w.applyOrder(ord)
		res.Index = i
		if res.Code != "" {
			ack.Accepted = false
		}
		ack.Results = append(ack.Results, res)
	}
	return ack
}

func (w *World) applyOrder(ord protocol.Order) protocol.OrderResult {
	var res protocol.OrderResult
	switch ord.Op {
	case protocol.OpSpawn:
		if ord.Kind == "" || ord.To == nil {
			res.Code = protocol.ErrBadCmd
			return res
		}
		u, err := w.Spawn(ord.Kind, ord.Faction, grid.Pos{X: ord.To[0], Y: ord.To[1]})
		if err != nil {
			res.Code = codeFor(err)
			return res
		}
		res.Unit = uint64(u.ID)

	case protocol.OpMove:
		if ord.To == nil || len(ord.Units) == 0 {
			res.Code = protocol.ErrBadCmd
			return res
		}
		dest := grid.Pos{X: ord.To[0], Y: ord.To[1]}
		for _, id := range ord.Units {
			if err := w.IssueMove(UnitID(id), dest); err != nil && res.Code == "" {
				res.Code = codeFor(err)
				res.Unit = id
			}
		}

	case protocol.OpMoveAfter:
		if ord.To == nil || len(ord.Units) == 0 || ord.DelaySec < 0 {
			res.Code = protocol.ErrBadCmd
			return res
		}
		dest := grid.Pos{X: ord.To[0], Y: ord.To[1]}
		delay := time.Duration(ord.DelaySec * float64(time.Second))
		for _, id := range ord.Units {
			if err := w.IssueMoveAfter(UnitID(id), dest, delay); err != nil && res.Code == "" {
				res.Code = codeFor(err)
				res.Unit = id
			}
		}

	case protocol.OpStop:
		if len(ord.Units) == 0 {
			res.Code = protocol.ErrBadCmd
			return res
		}
		for _, id := range ord.Units {
			if err := w.Halt(UnitID(id)); err != nil && res.Code == "" {
				res.Code = codeFor(err)
				res.Unit = id
			}
		}

	case protocol.OpGroupAssign:
		if len(ord.Units) == 0 {
			res.Code = protocol.ErrBadCmd
			return res
		}
		ids := make([]UnitID, len(ord.Units))
		for i, id := range ord.Units {
			ids[i] = UnitID(id)
		}
		if err := w.AssignGroup(ids, ord.Group); err != nil {
			res.Code = codeFor(err)
		}

	case protocol.OpGroupMove:
		if ord.To == nil {
			res.Code = protocol.ErrBadCmd
			return res
		}
		if err := w.GroupMove(ord.Group, grid.Pos{X: ord.To[0], Y: ord.To[1]}); err != nil {
			res.Code = codeFor(err)
		}

	default:
		res.Code = protocol.ErrBadCmd
	}
	return res
}
