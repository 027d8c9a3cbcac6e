package world

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"fieldcraft.ai/internal/persistence/snapshot"
	"fieldcraft.ai/internal/protocol"
	"fieldcraft.ai/internal/sim/catalogs"
	"fieldcraft.ai/internal/sim/grid"
	"fieldcraft.ai/internal/sim/path"
	"fieldcraft.ai/internal/sim/sched"
	"fieldcraft.ai/internal/sim/tuning"
)

type WorldConfig struct {
	ID     string
	Seed   int64
	Tuning tuning.Tuning
}

// Pathfinder supplies routes. The world calls it from the loop
// goroutine; implementations that farm the search out elsewhere use the
// cancel hooks to drop work for units that changed their minds. Returned
// paths start at from; the world installs the tail.
type Pathfinder interface {
	RequestPath(id UnitID, from, to grid.Pos) ([]grid.Pos, bool)
	ClosestWalkable(p grid.Pos) grid.Pos
	CancelUnitRequests(id UnitID)
	RemoveUnitFromQueue(id UnitID)
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

// AuditEntry is one incident worth keeping: collision policy decisions,
// starvation, fuel exhaustion, invariant violations.
type AuditEntry struct {
	Tick   uint64 `json:"tick"`
	Unit   uint64 `json:"unit"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

type JoinRequest struct {
	Name string
	Out  chan []byte
	Resp chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
}

// CmdEnvelope routes one client command batch into the world loop.
type CmdEnvelope struct {
	ClientID string
	Cmd      protocol.CmdMsg
}

type clientState struct {
	ID  string
	Out chan []byte
}

// World is a single-threaded authoritative simulation. All state must be
// accessed only from the world loop goroutine.
type World struct {
	cfg  WorldConfig
	cats *catalogs.Catalogs
	log  *log.Logger

	tick atomic.Uint64

	grid    *grid.Grid
	finder  Pathfinder
	clock   *tickClock
	sched   *sched.Scheduler
	actions *sched.Registry

	units   map[UnitID]*Unit
	groups  map[int][]UnitID
	clients map[string]*clientState

	inbox   chan CmdEnvelope
	join    chan JoinRequest
	leave   chan string
	saveReq chan saveRequest
	stop    chan struct{}

	nextUnitNum   atomic.Uint64
	nextClientNum atomic.Uint64

	// Optional collaborators (may be nil). Implemented in
	// internal/persistence/*.
	auditLogger  AuditLogger
	snapshotSink chan<- snapshot.SnapshotV1

	stats WorldStats

	// metrics holds the last published WorldMetrics; readable from any
	// goroutine.
	metrics atomic.Value

	// worldEvents owns timers not bound to any unit, like the autosave
	// pulse. Owner id zero.
	worldEvents sched.Source
}

func New(cfg WorldConfig, cats *catalogs.Catalogs, logger *log.Logger) (*World, error) {
	if cfg.ID == "" {
		cfg.ID = "world_1"
	}
	if cfg.Tuning.TickRateHz <= 0 {
		cfg.Tuning = tuning.Defaults()
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds)
	}
	if cats == nil || len(cats.Units.ByID) == 0 {
		return nil, fmt.Errorf("world: empty unit catalog")
	}

	t := cfg.Tuning
	w := &World{
		cfg:     cfg,
		cats:    cats,
		log:     logger,
		grid:    grid.New(t.GridW, t.GridH, t.CellSize),
		units:   map[UnitID]*Unit{},
		groups:  map[int][]UnitID{},
		clients: map[string]*clientState{},
		inbox:   make(chan CmdEnvelope, 1024),
		join:    make(chan JoinRequest, 64),
		leave:   make(chan string, 64),
		saveReq: make(chan saveRequest, 4),
		stop:    make(chan struct{}),
	}
	w.clock = &tickClock{tick: &w.tick, dt: time.Second / time.Duration(t.TickRateHz)}
	w.sched = sched.NewScheduler(w.clock, logger)
	w.actions = sched.NewRegistry()
	w.registerActions()
	w.finder = path.NewFinder(w.grid)
	w.worldEvents = sched.NewSource(w.sched, 0)

	generateTerrain(w.grid, cfg.Seed)
	w.scheduleAutosave()
	return w, nil
}

// tickClock derives simulation time from the tick counter, so event
// delays freeze when the loop does.
type tickClock struct {
	tick *atomic.Uint64
	dt   time.Duration
}

func (c *tickClock) Now() time.Duration { return time.Duration(c.tick.Load()) * c.dt }

// SetPathfinder swaps the route supplier. Call before Run.
func (w *World) SetPathfinder(p Pathfinder) {
	if p != nil {
		w.finder = p
	}
}

func (w *World) SetAuditLogger(l AuditLogger)                  { w.auditLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) Inbox() chan<- CmdEnvelope { return w.inbox }
func (w *World) Join() chan<- JoinRequest  { return w.join }
func (w *World) Leave() chan<- string      { return w.leave }

func (w *World) ID() string          { return w.cfg.ID }
func (w *World) Seed() int64         { return w.cfg.Seed }
func (w *World) TickRateHz() int     { return w.cfg.Tuning.TickRateHz }
func (w *World) CurrentTick() uint64 { return w.tick.Load() }

// Grid exposes the terrain map. Loop goroutine only; tests that drive
// ticks synchronously may shape terrain through it.
func (w *World) Grid() *grid.Grid { return w.grid }

// UnitByID returns nil for a dead or never-issued id. Loop goroutine
// only.
func (w *World) UnitByID(id UnitID) *Unit { return w.units[id] }

// Units returns every live unit in ascending id order.
func (w *World) Units() []*Unit { return w.sortedUnits() }

// Stats returns the counters accumulated since world start.
func (w *World) Stats() WorldStats { return w.stats }

// sortedUnits is the fixed iteration order for every per-unit system.
// Ascending id keeps collision resolution and event interleaving
// reproducible run to run.
func (w *World) sortedUnits() []*Unit {
	out := make([]*Unit, 0, len(w.units))
	for _, u := range w.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *World) dtSec() float64 { return 1.0 / float64(w.cfg.Tuning.TickRateHz) }

func (w *World) waitRetry() time.Duration {
	return time.Duration(w.cfg.Tuning.Movement.WaitRetrySec * float64(time.Second))
}

func (w *World) starveWarn() time.Duration {
	return time.Duration(w.cfg.Tuning.Movement.StarveWarnSec * float64(time.Second))
}

func (w *World) audit(tick uint64, unit UnitID, kind, detail string) {
	if w.auditLogger == nil {
		return
	}
	_ = w.auditLogger.WriteAudit(AuditEntry{Tick: tick, Unit: uint64(unit), Kind: kind, Detail: detail})
}
