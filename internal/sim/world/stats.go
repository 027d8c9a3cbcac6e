package world

import (
	"time"

	"fieldcraft.ai/internal/protocol"
)

// WorldStats counts collision-policy outcomes and order traffic since
// world start. The loop goroutine owns it; no locking.
type WorldStats struct {
	MovesIssued uint64
	PathsFailed uint64
	Shelves     uint64
	Detours     uint64
	Yields      uint64
	Reroutes    uint64
	Starved     uint64
	Conflicts   uint64

	LongestWait time.Duration
}

func (s *WorldStats) noteWait(d time.Duration) {
	if d > s.LongestWait {
		s.LongestWait = d
	}
}

func (s *WorldStats) View(units int, fired, failed uint64) protocol.StatsView {
	return protocol.StatsView{
		Units:        units,
		MovesIssued:  s.MovesIssued,
		PathsFailed:  s.PathsFailed,
		Shelves:      s.Shelves,
		Detours:      s.Detours,
		Yields:       s.Yields,
		Reroutes:     s.Reroutes,
		Starved:      s.Starved,
		Conflicts:    s.Conflicts,
		EventsFired:  fired,
		EventsFailed: failed,
		LongestWaitS: s.LongestWait.Seconds(),
	}
}
