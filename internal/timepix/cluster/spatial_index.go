package cluster

// pixelGrid indexes active arena slots by coarse pixel cell. The cell size
// matches the spatial radius, so every neighbour of a pixel lies in the
// 3x3 block of cells around it and a lookup costs the local hit density,
// not the size of the active window.
type pixelGrid struct {
	cellSize int
	cells    map[uint64][]int32 // Cell ID → slots
}

func newPixelGrid(radius int) *pixelGrid {
	cellSize := radius
	if cellSize < 1 {
		cellSize = 1
	}
	return &pixelGrid{
		cellSize: cellSize,
		cells:    make(map[uint64][]int32),
	}
}

// cellCoords maps a pixel to its cell.
func (g *pixelGrid) cellCoords(x, y uint16) (int64, int64) {
	return int64(x) / int64(g.cellSize), int64(y) / int64(g.cellSize)
}

// cellID computes a unique cell identifier using Szudzik's pairing
// function. Cell coordinates are never negative here; -1 neighbours of the
// first row/column are skipped by the caller.
func cellID(cx, cy int64) uint64 {
	a, b := uint64(cx), uint64(cy)
	if a >= b {
		return a*a + a + b
	}
	return a + b*b
}

func (g *pixelGrid) insert(x, y uint16, slot int32) {
	id := cellID(g.cellCoords(x, y))
	g.cells[id] = append(g.cells[id], slot)
}

func (g *pixelGrid) remove(x, y uint16, slot int32) {
	id := cellID(g.cellCoords(x, y))
	cell := g.cells[id]
	for i, s := range cell {
		if s == slot {
			last := len(cell) - 1
			cell[i] = cell[last]
			cell = cell[:last]
			break
		}
	}
	if len(cell) == 0 {
		delete(g.cells, id)
		return
	}
	g.cells[id] = cell
}

// forEachNear calls fn for every indexed slot in the 3x3 cell block around
// (x, y). Filtering by the exact adjacency rule is left to fn.
func (g *pixelGrid) forEachNear(x, y uint16, fn func(slot int32)) {
	cx, cy := g.cellCoords(x, y)
	for dx := int64(-1); dx <= 1; dx++ {
		nx := cx + dx
		if nx < 0 {
			continue
		}
		for dy := int64(-1); dy <= 1; dy++ {
			ny := cy + dy
			if ny < 0 {
				continue
			}
			for _, s := range g.cells[cellID(nx, ny)] {
				fn(s)
			}
		}
	}
}

func (g *pixelGrid) len() int {
	n := 0
	for _, c := range g.cells {
		n += len(c)
	}
	return n
}
