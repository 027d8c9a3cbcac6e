package world

import (
	"fieldcraft.ai/internal/sim/grid"
	"fieldcraft.ai/internal/sim/world/logic/mathx"
)

const (
	rubbleGrid         = 12
	rubbleRadius       = 2
	rubbleProbPermille = 300
)

// generateTerrain scatters impassable rubble in seeded clusters. Seed
// zero leaves the grid open; scripted scenarios and tests rely on that.
func generateTerrain(g *grid.Grid, seed int64) {
	if seed == 0 {
		return
	}
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			if inRubble(seed, x, y) {
				g.SetPathable(grid.Pos{X: x, Y: y}, false)
			}
		}
	}
}

// TerrainMap returns the row-major passability map, 0 open and 1
// blocked. Terrain never changes once the world is constructed, so this
// is safe to call from any goroutine.
func (w *World) TerrainMap() (width, height int, cells []uint16) {
	g := w.grid
	cells = make([]uint16, g.W*g.H)
	for y := 0; y < g.H; y++ {
		for x := 0; x < g.W; x++ {
			if !g.Pathable(grid.Pos{X: x, Y: y}) {
				cells[y*g.W+x] = 1
			}
		}
	}
	return g.W, g.H, cells
}

// inRubble reports whether seeded rubble covers the cell. Each coarse
// grid cell rolls for a cluster centre; cells within the cluster radius
// of a centre are blocked.
func inRubble(seed int64, x, y int) bool {
	gx := mathx.FloorDiv(x, rubbleGrid)
	gy := mathx.FloorDiv(y, rubbleGrid)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			cgx := gx + dx
			cgy := gy + dy
			h := mathx.Hash2(seed, cgx, cgy)
			if h%1000 >= rubbleProbPermille {
				continue
			}
			cx := cgx*rubbleGrid + int((h>>10)%uint64(rubbleGrid))
			cy := cgy*rubbleGrid + int((h>>20)%uint64(rubbleGrid))
			ddx := x - cx
			ddy := y - cy
			if ddx*ddx+ddy*ddy <= rubbleRadius*rubbleRadius {
				return true
			}
		}
	}
	return false
}
