package world

import (
	"fmt"
	"time"
)

// resolveBlocked decides what a unit does about another unit standing on
// its front waypoint. Three steps, in order: park behind a blocker that
// will clear the cell itself (or never will, if hostile), detour one
// cell around an idle blocker, or ask the blocker to step aside.
func (w *World) resolveBlocked(a, b *Unit, now time.Duration, nowTick uint64) {
	if b == nil {
		// Occupant vanished this tick; the next scan re-checks.
		return
	}

	// A blocker with somewhere to go vacates on its own. A hostile one
	// will not cooperate, so parking is all that is safe.
	if b.hasOrders() || a.hostileTo(b) {
		w.audit(nowTick, a.ID, "shelve", fmt.Sprintf("blocker=%d", b.ID))
		w.shelve(a, now)
		return
	}

	// Local detour: swap the blocked waypoint for a free cell touching
	// both the current cell and the waypoint after the blocked one. No
	// pathfinder call.
	if len(a.Queue) >= 2 {
		after := a.Queue[1]
		for _, c := range w.grid.Adjacent(a.Cell) {
			if !w.grid.Free(c) || !c.AdjacentTo(after) {
				continue
			}
			w.stats.Detours++
			w.audit(nowTick, a.ID, "detour", fmt.Sprintf("via=%d,%d", c.X, c.Y))
			a.Queue[0] = c
			w.syncReservation(a)
			return
		}
	}

	// Ask the idle blocker to step onto its first free neighbour and
	// park until it has.
	for _, c := range w.grid.Adjacent(b.Cell) {
		if !w.grid.Free(c) {
			continue
		}
		w.stats.Yields++
		w.audit(nowTick, b.ID, "yield", fmt.Sprintf("for=%d to=%d,%d", a.ID, c.X, c.Y))
		_ = w.IssueMove(b.ID, c)
		w.shelve(a, now)
		return
	}

	// The blocker is boxed in; throw this leg away and route fresh to
	// the original destination.
	if a.HasDest {
		dest := a.Dest
		w.stats.Reroutes++
		w.audit(nowTick, a.ID, "reroute", fmt.Sprintf("to=%d,%d", dest.X, dest.Y))
		_ = w.IssueMove(a.ID, dest)
		return
	}
	w.audit(nowTick, a.ID, "shelve", fmt.Sprintf("blocker=%d", b.ID))
	w.shelve(a, now)
}

// shelve parks the live path and starts the wait clock.
func (w *World) shelve(u *Unit, now time.Duration) {
	w.stats.Shelves++
	u.Shelved = append(u.Shelved[:0], u.Queue...)
	w.clearPath(u)
	u.State = StateWaiting
	u.WaitUntil = now + w.waitRetry()
	u.waitStart = now
	u.starved = false
}

// tryResume re-checks a parked path once the wait deadline passes. The
// path restores when the blocked cell cleared or when it is short enough
// to push through; otherwise the wait extends, unbounded but observable.
func (w *World) tryResume(u *Unit, now time.Duration, nowTick uint64) {
	if len(u.Shelved) == 0 {
		u.State = StateIdle
		u.HasDest = false
		w.clearWait(u)
		return
	}

	waited := now - u.waitStart
	w.stats.noteWait(waited)

	blocked := u.Shelved[0]
	if w.grid.Walkable(blocked) || len(u.Shelved) < w.cfg.Tuning.Movement.PushThroughLen {
		u.Queue = append(u.Queue[:0], u.Shelved...)
		u.Shelved = u.Shelved[:0]
		u.WaitUntil = 0
		u.waitStart = 0
		u.starved = false
		u.State = StateFollowing
		w.syncReservation(u)
		return
	}

	if !u.starved && waited >= w.starveWarn() {
		u.starved = true
		w.stats.Starved++
		w.audit(nowTick, u.ID, "starved", fmt.Sprintf("waited=%.1fs", waited.Seconds()))
	}
	u.WaitUntil = now + w.waitRetry()
}
