// Package world provides the square lattice the agents live on.
// Cells are addressed by (x, y) and stored row-major; neighbourhoods use the
// Manhattan metric with hard (non-wrapping) edges.
package world

import "fmt"

// Coord is a cell position. X is the column, Y the row.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Manhattan returns |dx| + |dy|.
func Manhattan(a, b Coord) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y)
}

// Lattice is an n×n grid of cells.
type Lattice struct {
	Size int `json:"size"`
}

// NewLattice creates an n×n lattice.
func NewLattice(size int) Lattice {
	return Lattice{Size: size}
}

// Len returns the number of cells.
func (l Lattice) Len() int {
	return l.Size * l.Size
}

// InBounds reports whether c lies on the lattice.
func (l Lattice) InBounds(c Coord) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < l.Size && c.Y < l.Size
}

// Index maps a coordinate to its row-major slot.
func (l Lattice) Index(c Coord) int {
	return c.Y*l.Size + c.X
}

// CoordOf is the inverse of Index.
func (l Lattice) CoordOf(i int) Coord {
	return Coord{X: i % l.Size, Y: i / l.Size}
}

// NeighborsWithin returns every cell at Manhattan distance 1..k from c, in
// row-major order. Cells near an edge simply have fewer neighbours.
func (l Lattice) NeighborsWithin(c Coord, k int) []Coord {
	if k <= 0 || !l.InBounds(c) {
		return nil
	}
	var out []Coord
	for y := max(0, c.Y-k); y <= min(l.Size-1, c.Y+k); y++ {
		span := k - abs(y-c.Y)
		for x := max(0, c.X-span); x <= min(l.Size-1, c.X+span); x++ {
			if x == c.X && y == c.Y {
				continue
			}
			out = append(out, Coord{X: x, Y: y})
		}
	}
	return out
}

// NeighborIndices is NeighborsWithin expressed as row-major indices.
func (l Lattice) NeighborIndices(i, k int) []int {
	coords := l.NeighborsWithin(l.CoordOf(i), k)
	out := make([]int, len(coords))
	for j, c := range coords {
		out[j] = l.Index(c)
	}
	return out
}

// String returns a summary of the lattice.
func (l Lattice) String() string {
	return fmt.Sprintf("Lattice(%dx%d, cells=%d)", l.Size, l.Size, l.Len())
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
