package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

// SnapshotV1 is the complete persisted state of one world: enough to
// resume the sim with identical behaviour, including in-flight deferred
// events and units frozen mid-wait.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed     int64   `json:"seed"`
	TickRate int     `json:"tick_rate_hz"`
	GridW    int     `json:"grid_w"`
	GridH    int     `json:"grid_h"`
	CellSize float64 `json:"cell_size"`

	// Blocked lists unpathable terrain cells; everything else is open.
	Blocked []CellV1 `json:"blocked,omitempty"`

	Units  []UnitV1  `json:"units"`
	Groups []GroupV1 `json:"groups,omitempty"`

	// Events is the flat in-flight timer list, owner-id keyed. Owner 0
	// is the world itself.
	Events []EventV1 `json:"events,omitempty"`

	Stats    StatsV1    `json:"stats"`
	Counters CountersV1 `json:"counters"`
}

type CellV1 struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type UnitV1 struct {
	ID      uint64 `json:"id"`
	Kind    string `json:"kind"`
	Name    string `json:"name,omitempty"`
	Faction int    `json:"faction"`

	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Facing float64 `json:"facing"`
	Cell   CellV1  `json:"cell"`

	State   string   `json:"state"`
	Queue   []CellV1 `json:"queue,omitempty"`
	Shelved []CellV1 `json:"shelved,omitempty"`
	HasDest bool     `json:"has_dest,omitempty"`
	Dest    CellV1   `json:"dest,omitempty"`

	// WaitRemainingS is relative so restores into a fresh clock epoch
	// keep the same residual wait.
	WaitRemainingS float64 `json:"wait_remaining_s,omitempty"`

	HP           float64 `json:"hp"`
	Fuel         float64 `json:"fuel,omitempty"`
	TurretFacing float64 `json:"turret_facing,omitempty"`
	HasAim       bool    `json:"has_aim,omitempty"`
	AimTarget    uint64  `json:"aim_target,omitempty"`

	Group int `json:"group,omitempty"`
}

type GroupV1 struct {
	ID    int      `json:"id"`
	Units []uint64 `json:"units"`
}

// EventV1 carries one deferred event the way the scheduler persists it:
// the action identifier and raw args instead of any function reference,
// and the remaining slice of the delay clamped non-negative.
type EventV1 struct {
	Owner      uint64  `json:"owner"`
	DelayS     float64 `json:"delay_s"`
	RemainingS float64 `json:"remaining_s"`
	Action     string  `json:"action"`
	Args       []byte  `json:"args,omitempty"`
	Repeats    int     `json:"repeats"`
}

type StatsV1 struct {
	MovesIssued uint64 `json:"moves_issued"`
	PathsFailed uint64 `json:"paths_failed"`
	Shelves     uint64 `json:"shelves"`
	Detours     uint64 `json:"detours"`
	Yields      uint64 `json:"yields"`
	Reroutes    uint64 `json:"reroutes"`
	Starved     uint64 `json:"starved"`
	Conflicts   uint64 `json:"conflicts"`
}

type CountersV1 struct {
	NextUnit uint64 `json:"next_unit"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}

	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Read header line (ignore it for now, gob also contains header).
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}
