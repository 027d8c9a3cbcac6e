package world

import (
	"context"
	"errors"
)

type saveRequest struct {
	Resp chan saveResult
}

type saveResult struct {
	Tick uint64
	Err  string
}

// RequestSnapshot asks the world loop to export the last completed tick
// into the snapshot sink. Safe to call from other goroutines (HTTP
// handlers); blocks until the loop answers or ctx is done.
func (w *World) RequestSnapshot(ctx context.Context) (tick uint64, err error) {
	resp := make(chan saveResult, 1)
	select {
	case w.saveReq <- saveRequest{Resp: resp}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case r := <-resp:
		if r.Err != "" {
			return r.Tick, errors.New(r.Err)
		}
		return r.Tick, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// handleSaveRequest runs on the loop goroutine between ticks, so the
// exported state is a clean tick boundary.
func (w *World) handleSaveRequest(req saveRequest) {
	if req.Resp == nil {
		return
	}
	cur := w.tick.Load()
	if cur == 0 {
		req.Resp <- saveResult{Err: "no completed tick yet"}
		return
	}
	if w.snapshotSink == nil {
		req.Resp <- saveResult{Err: "snapshot sink not configured"}
		return
	}

	snap := w.ExportSnapshot(cur - 1)
	select {
	case w.snapshotSink <- snap:
		req.Resp <- saveResult{Tick: snap.Header.Tick}
	default:
		req.Resp <- saveResult{Err: "snapshot sink backpressure"}
	}
}
