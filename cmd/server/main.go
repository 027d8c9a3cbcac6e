package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"fieldcraft.ai/internal/persistence/indexdb"
	persistlog "fieldcraft.ai/internal/persistence/log"
	"fieldcraft.ai/internal/persistence/snapshot"
	"fieldcraft.ai/internal/sim/catalogs"
	"fieldcraft.ai/internal/sim/encoding"
	"fieldcraft.ai/internal/sim/tuning"
	"fieldcraft.ai/internal/sim/world"
	"fieldcraft.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		seed       = flag.Int64("seed", 1337, "world seed (used only when starting a fresh world)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite save index and audit trail")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "resume from the newest save if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(worldDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index db: %v", err)
		}
		defer idx.Close()
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSavePath(idx, worldDir)
	}

	worldLog := log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds)

	var w *world.World
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.WorldID != "" && snap.Header.WorldID != *worldID {
			logger.Fatalf("snapshot world id mismatch: flag=%s snap=%s", *worldID, snap.Header.WorldID)
		}
		// The snapshot pins the sim-shaping parameters; tuning supplies
		// the rest.
		tune.TickRateHz = snap.TickRate
		tune.GridW = snap.GridW
		tune.GridH = snap.GridH
		tune.CellSize = snap.CellSize
		w, err = world.New(world.WorldConfig{ID: *worldID, Seed: snap.Seed, Tuning: tune}, cats, worldLog)
		if err != nil {
			logger.Fatalf("world: %v", err)
		}
		if err := w.ImportSnapshot(snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from %s tick=%d units=%d", filepath.Base(snapshotToLoad), w.CurrentTick(), len(snap.Units))
	} else {
		w, err = world.New(world.WorldConfig{ID: *worldID, Seed: *seed, Tuning: tune}, cats, worldLog)
		if err != nil {
			logger.Fatalf("world: %v", err)
		}
	}

	if idx != nil {
		if err := idx.UpsertCatalogs(cats, tune); err != nil {
			logger.Printf("index: upsert catalogs: %v", err)
		}
	}

	auditFile := persistlog.NewAuditLogger(worldDir)
	defer auditFile.Close()
	audit := multiAuditLogger{file: auditFile}
	if idx != nil {
		audit.db = idx
	}
	w.SetAuditLogger(audit)

	ctx, cancel := signalContext()
	defer cancel()

	// Snapshot writer. The world loop pushes exports here (autosave and
	// manual requests); the file write and index row happen off-loop.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				writeSave(idx, worldDir, snap, fmt.Sprintf("auto-%d", snap.Header.Tick), logger)
			}
		}
	}()

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := w.Metrics()
		tick := w.CurrentTick()
		if m.Tick != 0 {
			tick = m.Tick
		}

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP fieldcraft_world_tick Current world tick.\n")
		fmt.Fprintf(rw, "# TYPE fieldcraft_world_tick gauge\n")
		fmt.Fprintf(rw, "fieldcraft_world_tick{world=%q} %d\n", *worldID, tick)

		fmt.Fprintf(rw, "# HELP fieldcraft_world_units Current number of live units.\n")
		fmt.Fprintf(rw, "# TYPE fieldcraft_world_units gauge\n")
		fmt.Fprintf(rw, "fieldcraft_world_units{world=%q} %d\n", *worldID, m.Units)

		fmt.Fprintf(rw, "# HELP fieldcraft_world_clients Current number of connected clients.\n")
		fmt.Fprintf(rw, "# TYPE fieldcraft_world_clients gauge\n")
		fmt.Fprintf(rw, "fieldcraft_world_clients{world=%q} %d\n", *worldID, m.Clients)

		fmt.Fprintf(rw, "# HELP fieldcraft_world_queue_depth Channel backlog depth.\n")
		fmt.Fprintf(rw, "# TYPE fieldcraft_world_queue_depth gauge\n")
		fmt.Fprintf(rw, "fieldcraft_world_queue_depth{world=%q,queue=%q} %d\n", *worldID, "inbox", m.QueueDepths.Inbox)
		fmt.Fprintf(rw, "fieldcraft_world_queue_depth{world=%q,queue=%q} %d\n", *worldID, "join", m.QueueDepths.Join)
		fmt.Fprintf(rw, "fieldcraft_world_queue_depth{world=%q,queue=%q} %d\n", *worldID, "leave", m.QueueDepths.Leave)

		fmt.Fprintf(rw, "# HELP fieldcraft_world_step_ms Last tick step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE fieldcraft_world_step_ms gauge\n")
		fmt.Fprintf(rw, "fieldcraft_world_step_ms{world=%q} %.3f\n", *worldID, m.StepMS)

		fmt.Fprintf(rw, "# HELP fieldcraft_movement_total Cumulative movement policy outcomes.\n")
		fmt.Fprintf(rw, "# TYPE fieldcraft_movement_total counter\n")
		fmt.Fprintf(rw, "fieldcraft_movement_total{world=%q,outcome=%q} %d\n", *worldID, "moves_issued", m.Stats.MovesIssued)
		fmt.Fprintf(rw, "fieldcraft_movement_total{world=%q,outcome=%q} %d\n", *worldID, "paths_failed", m.Stats.PathsFailed)
		fmt.Fprintf(rw, "fieldcraft_movement_total{world=%q,outcome=%q} %d\n", *worldID, "shelves", m.Stats.Shelves)
		fmt.Fprintf(rw, "fieldcraft_movement_total{world=%q,outcome=%q} %d\n", *worldID, "detours", m.Stats.Detours)
		fmt.Fprintf(rw, "fieldcraft_movement_total{world=%q,outcome=%q} %d\n", *worldID, "yields", m.Stats.Yields)
		fmt.Fprintf(rw, "fieldcraft_movement_total{world=%q,outcome=%q} %d\n", *worldID, "reroutes", m.Stats.Reroutes)
		fmt.Fprintf(rw, "fieldcraft_movement_total{world=%q,outcome=%q} %d\n", *worldID, "starved", m.Stats.Starved)
		fmt.Fprintf(rw, "fieldcraft_movement_total{world=%q,outcome=%q} %d\n", *worldID, "conflicts", m.Stats.Conflicts)

		fmt.Fprintf(rw, "# HELP fieldcraft_events_total Cumulative scheduler event outcomes.\n")
		fmt.Fprintf(rw, "# TYPE fieldcraft_events_total counter\n")
		fmt.Fprintf(rw, "fieldcraft_events_total{world=%q,outcome=%q} %d\n", *worldID, "fired", m.Stats.EventsFired)
		fmt.Fprintf(rw, "fieldcraft_events_total{world=%q,outcome=%q} %d\n", *worldID, "failed", m.Stats.EventsFailed)

		fmt.Fprintf(rw, "# HELP fieldcraft_longest_wait_seconds Longest single blocked wait observed.\n")
		fmt.Fprintf(rw, "# TYPE fieldcraft_longest_wait_seconds gauge\n")
		fmt.Fprintf(rw, "fieldcraft_longest_wait_seconds{world=%q} %.3f\n", *worldID, m.Stats.LongestWaitS)
	})

	// Local-only admin endpoints (do not affect simulation determinism).
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			WorldID string             `json:"world_id"`
			Tick    uint64             `json:"tick"`
			Metrics world.WorldMetrics `json:"metrics"`
		}{
			WorldID: *worldID,
			Tick:    w.CurrentTick(),
			Metrics: w.Metrics(),
		}
		_ = json.NewEncoder(rw).Encode(resp)
	})
	mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel2()
		tick, err := w.RequestSnapshot(ctx2)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": tick, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "tick": tick})
	})
	mux.HandleFunc("/admin/v1/terrain", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		gw, gh, cells := w.TerrainMap()
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(struct {
			W        int    `json:"w"`
			H        int    `json:"h"`
			CellsRLE string `json:"cells_rle"`
		}{gw, gh, encoding.EncodeRLE(cells)})
	})

	mux.HandleFunc("/v1/ws", ws.NewServer(w, logger).Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("world %s listening on %s", *worldID, *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	<-worldDone

	// Final save at the stopped tick boundary, so a restart resumes
	// exactly where this run ended.
	if cur := w.CurrentTick(); cur > 0 {
		snap := w.ExportSnapshot(cur - 1)
		writeSave(idx, worldDir, snap, fmt.Sprintf("shutdown-%d", snap.Header.Tick), logger)
		if idx != nil {
			idx.Flush()
		}
	}
}

func writeSave(idx *indexdb.SQLiteIndex, worldDir string, snap snapshot.SnapshotV1, name string, logger *log.Logger) {
	path := filepath.Join(worldDir, "saves", name+".snap.zst")
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		logger.Printf("snapshot write: %v", err)
		return
	}
	idx.RecordSnapshot(uuid.NewString(), name, path, snap)
	logger.Printf("saved %s tick=%d units=%d", name, snap.Header.Tick, len(snap.Units))
}

// latestSavePath prefers the index, then falls back to scanning the
// saves directory for the highest embedded tick.
func latestSavePath(idx *indexdb.SQLiteIndex, worldDir string) string {
	if idx != nil {
		if info, ok, err := idx.LatestSave(); err == nil && ok {
			if _, statErr := os.Stat(info.Path); statErr == nil {
				return info.Path
			}
		}
	}

	dir := filepath.Join(worldDir, "saves")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		base := strings.TrimSuffix(name, ".snap.zst")
		if i := strings.LastIndexByte(base, '-'); i >= 0 {
			base = base[i+1:]
		}
		tick, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick >= bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

type multiAuditLogger struct {
	file world.AuditLogger
	db   world.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry world.AuditEntry) error {
	if m.file != nil {
		_ = m.file.WriteAudit(entry)
	}
	if m.db != nil {
		_ = m.db.WriteAudit(entry)
	}
	return nil
}
