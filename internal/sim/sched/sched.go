// Package sched is a deferred-execution scheduler for simulation events.
// Delays run on an injected simulation clock, actions are bound through a
// registry of stable identifiers, and in-flight timers serialize with
// their remaining delay so they survive a save/restore cycle.
package sched

import (
	"encoding/json"
	"io"
	"log"
	"time"
)

// OwnerID identifies the object an event belongs to. Zero is the world
// itself.
type OwnerID uint64

// RepeatForever makes an event re-fire until it is cancelled.
const RepeatForever = -1

// ActionFunc is a deferred action. Args is the payload the event was
// created with; implementations decode their own argument struct.
type ActionFunc func(args json.RawMessage) error

// Event is one deferred call. Delay is the nominal full delay; a restored
// event additionally carries the remaining slice of it, which is consumed
// by the first Schedule after restore.
type Event struct {
	Owner   OwnerID
	Delay   time.Duration
	Action  string
	Args    json.RawMessage
	Repeats int

	remaining    time.Duration
	hasRemaining bool
	fn           ActionFunc
}

func NewEvent(owner OwnerID, delay time.Duration, action string, args json.RawMessage, repeats int, fn ActionFunc) *Event {
	return &Event{Owner: owner, Delay: delay, Action: action, Args: args, Repeats: repeats, fn: fn}
}

// SetRemaining primes the next Schedule with a partial delay. Used when
// restoring events from a snapshot.
func (e *Event) SetRemaining(d time.Duration) {
	if d < 0 {
		d = 0
	}
	e.remaining = d
	e.hasRemaining = true
}

// Scheduler holds pending events in two parallel slices, insertion
// ordered. It is owned by the simulation loop goroutine and does no
// locking. Lookup is linear; event counts stay small enough that this
// beats a heap in practice and keeps FIFO semantics trivial.
type Scheduler struct {
	clock Clock
	log   *log.Logger

	events []*Event
	fireAt []time.Duration

	fired  uint64
	failed uint64
}

func NewScheduler(clock Clock, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Scheduler{clock: clock, log: logger}
}

func (s *Scheduler) Now() time.Duration { return s.clock.Now() }

// Len returns the number of pending events.
func (s *Scheduler) Len() int { return len(s.events) }

// Counts reports how many actions have run and how many of those failed
// or panicked.
func (s *Scheduler) Counts() (fired, failed uint64) { return s.fired, s.failed }

// Schedule inserts the event. Its fire time is now plus the remaining
// delay if one is primed, else the full delay.
func (s *Scheduler) Schedule(e *Event) {
	d := e.Delay
	if e.hasRemaining {
		d = e.remaining
		e.remaining = 0
		e.hasRemaining = false
	}
	s.events = append(s.events, e)
	s.fireAt = append(s.fireAt, s.clock.Now()+d)
}

// Unschedule removes the event by identity. Unscheduling an event that is
// not pending is a no-op, so double cancellation is always safe.
func (s *Scheduler) Unschedule(e *Event) {
	i := s.indexOf(e)
	if i < 0 {
		return
	}
	s.events = append(s.events[:i], s.events[i+1:]...)
	s.fireAt = append(s.fireAt[:i], s.fireAt[i+1:]...)
}

// TimeLeft reports how long until the event fires. False if the event is
// not pending.
func (s *Scheduler) TimeLeft(e *Event) (time.Duration, bool) {
	i := s.indexOf(e)
	if i < 0 {
		return 0, false
	}
	return s.fireAt[i] - s.clock.Now(), true
}

// Scheduled reports whether the event is currently pending.
func (s *Scheduler) Scheduled(e *Event) bool { return s.indexOf(e) >= 0 }

// EventsOwnedBy returns the pending events of one owner, insertion
// ordered.
func (s *Scheduler) EventsOwnedBy(owner OwnerID) []*Event {
	var out []*Event
	for _, e := range s.events {
		if e.Owner == owner {
			out = append(out, e)
		}
	}
	return out
}

// Update fires every event that is due, in insertion order. Action
// failures and panics are logged and never propagate. A fired event with
// repeats left is re-inserted with a fresh full delay, so nothing
// scheduled during this call (re-inserts included) fires before the next
// Update.
func (s *Scheduler) Update() {
	now := s.clock.Now()
	var due []*Event
	for i, e := range s.events {
		if s.fireAt[i] <= now {
			due = append(due, e)
		}
	}
	for _, e := range due {
		if s.indexOf(e) < 0 {
			continue // cancelled by an earlier action this pass
		}
		s.run(e)
		if s.indexOf(e) < 0 {
			// The action cancelled its own event; cancellation wins
			// over the repeat policy.
			continue
		}
		s.Unschedule(e)
		if e.Repeats == 0 {
			continue
		}
		if e.Repeats > 0 {
			e.Repeats--
		}
		s.Schedule(e)
	}
}

func (s *Scheduler) run(e *Event) {
	defer func() {
		if r := recover(); r != nil {
			s.failed++
			s.log.Printf("event %q owner=%d panic: %v", e.Action, e.Owner, r)
		}
	}()
	s.fired++
	if e.fn == nil {
		s.failed++
		s.log.Printf("event %q owner=%d has no bound action", e.Action, e.Owner)
		return
	}
	if err := e.fn(e.Args); err != nil {
		s.failed++
		s.log.Printf("event %q owner=%d: %v", e.Action, e.Owner, err)
	}
}

func (s *Scheduler) indexOf(e *Event) int {
	for i, x := range s.events {
		if x == e {
			return i
		}
	}
	return -1
}
