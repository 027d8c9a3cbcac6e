package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name"`
	Capabilities    HelloCapabilities `json:"capabilities,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	ClientID        string         `json:"client_id"`
	WorldParams     WorldParams    `json:"world_params"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type WorldParams struct {
	TickRateHz int     `json:"tick_rate_hz"`
	GridSize   [2]int  `json:"grid_size"`
	CellSize   float64 `json:"cell_size"`
	Seed       int64   `json:"seed"`
}

type CatalogDigests struct {
	Units DigestRef `json:"units"`
}

type DigestRef struct {
	Digest string `json:"digest"`
	Count  int    `json:"count"`
}

// OBS (server -> every client, periodic)
type ObsMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Tick            uint64     `json:"tick"`
	ClockSec        float64    `json:"clock_sec"`
	Units           []UnitView `json:"units"`
	Stats           StatsView  `json:"stats"`
}

// UnitView is the read-only render/decision view of one unit.
type UnitView struct {
	ID      uint64     `json:"id"`
	Kind    string     `json:"kind"`
	Faction int        `json:"faction"`
	Pos     [2]float64 `json:"pos"`
	Cell    [2]int     `json:"cell"`
	Facing  float64    `json:"facing"`
	State   string     `json:"state"` // IDLE, FOLLOWING, ROTATING, WAITING
	Queue   int        `json:"queue"`
	HP      float64    `json:"hp"`
	Group   int        `json:"group,omitempty"`
	Fuel    float64    `json:"fuel,omitempty"`
	Turret  float64    `json:"turret,omitempty"`
}

type StatsView struct {
	Units        int     `json:"units"`
	MovesIssued  uint64  `json:"moves_issued"`
	PathsFailed  uint64  `json:"paths_failed"`
	Shelves      uint64  `json:"shelves"`
	Detours      uint64  `json:"detours"`
	Yields       uint64  `json:"yields"`
	Reroutes     uint64  `json:"reroutes"`
	Starved      uint64  `json:"starved"`
	Conflicts    uint64  `json:"conflicts"`
	EventsFired  uint64  `json:"events_fired"`
	EventsFailed uint64  `json:"events_failed"`
	LongestWaitS float64 `json:"longest_wait_s"`
}

// CMD (client -> server)
type CmdMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ID              string  `json:"id"` // echoed in the ACK
	Orders          []Order `json:"orders"`
}

// Order is one operation inside a CMD. Fields are op-specific: SPAWN uses
// kind/faction/to, MOVE uses units/to, MOVE_AFTER adds delay_sec, STOP
// uses units, GROUP_ASSIGN uses units/group, GROUP_MOVE uses group/to.
type Order struct {
	Op       string   `json:"op"`
	Units    []uint64 `json:"units,omitempty"`
	Kind     string   `json:"kind,omitempty"`
	Faction  int      `json:"faction,omitempty"`
	To       *[2]int  `json:"to,omitempty"`
	DelaySec float64  `json:"delay_sec,omitempty"`
	Group    int      `json:"group,omitempty"`
}

// ACK (server -> client). One result per order, same indexing.
type AckMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	AckFor          string        `json:"ack_for"`
	Accepted        bool          `json:"accepted"`
	Results         []OrderResult `json:"results,omitempty"`
	ServerTick      uint64        `json:"server_tick"`
}

type OrderResult struct {
	Index int    `json:"index"`
	Code  string `json:"code,omitempty"` // empty means OK
	Unit  uint64 `json:"unit,omitempty"` // SPAWN: the new unit id
}
