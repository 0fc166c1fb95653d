package game

import "fmt"

// Grid is the shared claim board. Cells hold the owning player's room-local
// id; zero means unclaimed. Ownership is write-once until the grid resets.
type Grid struct {
	n     int
	cells []uint8
	free  int
}

// NewGrid allocates an n-by-n grid with every cell unclaimed.
func NewGrid(n int) *Grid {
	if n <= 0 {
		panic(fmt.Sprintf("grid size must be positive, got %d", n))
	}
	return &Grid{n: n, cells: make([]uint8, n*n), free: n * n}
}

// Size returns the side length.
func (g *Grid) Size() int { return g.n }

// Cells returns the total cell count.
func (g *Grid) Cells() int { return len(g.cells) }

// Owner returns the owner of a cell, zero when unclaimed or out of range.
func (g *Grid) Owner(cell int) uint8 {
	if cell < 0 || cell >= len(g.cells) {
		return 0
	}
	return g.cells[cell]
}

// Claim assigns a cell to owner. It reports false when the index is out of
// range, the owner id is zero, or the cell is already taken.
func (g *Grid) Claim(cell int, owner uint8) bool {
	if cell < 0 || cell >= len(g.cells) || owner == 0 {
		return false
	}
	if g.cells[cell] != 0 {
		return false
	}
	g.cells[cell] = owner
	g.free--
	return true
}

// Full reports whether no unclaimed cell remains.
func (g *Grid) Full() bool { return g.free == 0 }

// Free returns the number of unclaimed cells.
func (g *Grid) Free() int { return g.free }

// Bytes copies the board into a fresh slice, one byte per cell.
func (g *Grid) Bytes() []byte {
	out := make([]byte, len(g.cells))
	copy(out, g.cells)
	return out
}

// Reset clears every claim.
func (g *Grid) Reset() {
	for i := range g.cells {
		g.cells[i] = 0
	}
	g.free = len(g.cells)
}
