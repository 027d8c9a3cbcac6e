// Package indexdb keeps the save index and the collision audit trail in
// an embedded sqlite database. Writes go through a single background
// goroutine so the sim loop never blocks on disk.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"fieldcraft.ai/internal/persistence/snapshot"
	"fieldcraft.ai/internal/sim/catalogs"
	"fieldcraft.ai/internal/sim/tuning"
	"fieldcraft.ai/internal/sim/world"
)

// SaveInfo is one row of the save index.
type SaveInfo struct {
	SaveID    string
	Name      string
	Tick      uint64
	Path      string
	Seed      int64
	Units     int
	Groups    int
	Events    int
	CreatedAt string
}

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqAudit reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind     reqKind
	audit    world.AuditEntry
	snapshot snapshotRow
	flush    chan struct{}
}

type snapshotRow struct {
	SaveID    string
	Name      string
	Tick      uint64
	Path      string
	Seed      int64
	Units     int
	Groups    int
	Events    int
	CreatedAt string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// High buffer: a pile-up of units can audit in bursts without
		// stalling the sim.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			save_id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			tick INTEGER NOT NULL,
			path TEXT NOT NULL,
			seed INTEGER NOT NULL,
			units INTEGER NOT NULL,
			groups INTEGER NOT NULL,
			events INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_tick ON snapshots(tick);`,
		`CREATE TABLE IF NOT EXISTS audits (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			unit INTEGER NOT NULL,
			kind TEXT NOT NULL,
			detail TEXT,
			created_at TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_unit_tick ON audits(unit, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_kind_tick ON audits(kind, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteAudit queues one audit row. Drops on a full queue: the audit
// trail is diagnostics, never worth stalling the sim for.
func (s *SQLiteIndex) WriteAudit(entry world.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAudit, audit: entry}:
	default:
	}
	return nil
}

// RecordSnapshot queues a save-index row for a snapshot already written
// to path.
func (s *SQLiteIndex) RecordSnapshot(saveID, name, path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		SaveID:    saveID,
		Name:      name,
		Tick:      snap.Header.Tick,
		Path:      path,
		Seed:      snap.Seed,
		Units:     len(snap.Units),
		Groups:    len(snap.Groups),
		Events:    len(snap.Events),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
	}
}

// Flush blocks until everything queued so far has been committed. Used
// before queries that must observe prior writes.
func (s *SQLiteIndex) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{flush: done}:
		<-done
	default:
		// Queue full of pending work; give the writer a moment.
		time.Sleep(100 * time.Millisecond)
	}
}

// ListSaves returns the newest saves first.
func (s *SQLiteIndex) ListSaves(limit int) ([]SaveInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT save_id,name,tick,path,seed,units,groups,events,created_at
		FROM snapshots ORDER BY tick DESC, created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SaveInfo
	for rows.Next() {
		var r SaveInfo
		if err := rows.Scan(&r.SaveID, &r.Name, &r.Tick, &r.Path, &r.Seed, &r.Units, &r.Groups, &r.Events, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestSave returns the newest save, if any.
func (s *SQLiteIndex) LatestSave() (SaveInfo, bool, error) {
	saves, err := s.ListSaves(1)
	if err != nil || len(saves) == 0 {
		return SaveInfo{}, false, err
	}
	return saves[0], true, nil
}

// RenameSave gives an existing save a new unique name.
func (s *SQLiteIndex) RenameSave(name, newName string) error {
	if newName == "" {
		return fmt.Errorf("empty new name")
	}
	res, err := s.db.Exec(`UPDATE snapshots SET name=? WHERE name=?`, newName, name)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("no save named %q", name)
	}
	return nil
}

// DeleteSave removes the index row and returns the snapshot file path so
// the caller can unlink it.
func (s *SQLiteIndex) DeleteSave(name string) (string, error) {
	var path string
	err := s.db.QueryRow(`SELECT path FROM snapshots WHERE name=?`, name).Scan(&path)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("no save named %q", name)
	}
	if err != nil {
		return "", err
	}
	if _, err := s.db.Exec(`DELETE FROM snapshots WHERE name=?`, name); err != nil {
		return "", err
	}
	return path, nil
}

// AuditsTail returns the most recent audit rows, newest first.
func (s *SQLiteIndex) AuditsTail(limit int) ([]world.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT tick,unit,kind,COALESCE(detail,'')
		FROM audits ORDER BY tick DESC, seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []world.AuditEntry
	for rows.Next() {
		var a world.AuditEntry
		if err := rows.Scan(&a.Tick, &a.Unit, &a.Kind, &a.Detail); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertCatalogs stores the effective catalog and tuning payloads so an
// operator can see exactly what a running world was parameterised with.
func (s *SQLiteIndex) UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if b, _ := json.Marshal(cats.Units.ByID); len(b) > 0 {
		rows = append(rows, kv{name: "units", digest: cats.Units.Digest, json: b})
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertAudit, _ := s.db.Prepare(`INSERT OR REPLACE INTO audits(tick,seq,unit,kind,detail,created_at) VALUES(?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(save_id,name,tick,path,seed,units,groups,events,created_at) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertAudit != nil {
			_ = insertAudit.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastAuditTick uint64
		auditSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	// An open tx pins the pool's single connection, so never leave one
	// idle: commit whenever the queue drains.
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}

	for r := range s.ch {
		if r.flush != nil {
			commit()
			close(r.flush)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqAudit:
			a := r.audit
			if a.Tick != lastAuditTick {
				lastAuditTick = a.Tick
				auditSeq = 0
			}
			seq := auditSeq
			auditSeq++
			now := time.Now().UTC().Format(time.RFC3339Nano)
			if insertAudit != nil {
				if _, err := tx.Stmt(insertAudit).Exec(
					int64(a.Tick), seq, int64(a.Unit), a.Kind, a.Detail, now,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					sn.SaveID, sn.Name, int64(sn.Tick), sn.Path, sn.Seed,
					sn.Units, sn.Groups, sn.Events, sn.CreatedAt,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
