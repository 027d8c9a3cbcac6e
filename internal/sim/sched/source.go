package sched

import "time"

// Source is the event set of one owner. Creating through a Source keeps
// the owner's bookkeeping and the scheduler in step, and lets owner
// destruction cancel everything in one call so the scheduler never
// retains an event bound to a dead owner.
//
// One-shot events leave the scheduler when they fire; the Source prunes
// them lazily on its next access.
type Source struct {
	sched  *Scheduler
	owner  OwnerID
	events []*Event
}

func NewSource(s *Scheduler, owner OwnerID) Source {
	return Source{sched: s, owner: owner}
}

// Schedule creates and registers the event in both the owner set and the
// scheduler.
func (src *Source) Schedule(e *Event) {
	e.Owner = src.owner
	src.events = append(src.events, e)
	src.sched.Schedule(e)
}

// Cancel removes the event from both sides. Idempotent.
func (src *Source) Cancel(e *Event) {
	src.sched.Unschedule(e)
	for i, x := range src.events {
		if x == e {
			src.events = append(src.events[:i], src.events[i+1:]...)
			break
		}
	}
}

// CancelAction cancels every pending event with the given action
// identifier and returns how many were dropped.
func (src *Source) CancelAction(action string) int {
	n := 0
	for _, e := range src.live() {
		if e.Action == action {
			src.Cancel(e)
			n++
		}
	}
	return n
}

// CancelAll empties the set. Called when the owner is destroyed.
func (src *Source) CancelAll() {
	for _, e := range src.live() {
		src.sched.Unschedule(e)
	}
	src.events = nil
}

// Events returns the owner's still-pending events, insertion ordered.
func (src *Source) Events() []*Event {
	return src.live()
}

// TimeLeft is a convenience passthrough to the scheduler.
func (src *Source) TimeLeft(e *Event) (time.Duration, bool) {
	return src.sched.TimeLeft(e)
}

// live drops events the scheduler no longer knows (fired one-shots) and
// returns a copy safe to mutate the set under.
func (src *Source) live() []*Event {
	kept := src.events[:0]
	for _, e := range src.events {
		if src.sched.Scheduled(e) {
			kept = append(kept, e)
		}
	}
	src.events = kept
	out := make([]*Event, len(kept))
	copy(out, kept)
	return out
}
