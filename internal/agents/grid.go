// Grid population: the agent arena and its neighbourhood index.
package agents

import (
	"fmt"

	"github.com/talgya/elfarol/internal/policy"
	"github.com/talgya/elfarol/internal/world"
)

// Grid owns every agent of a run in row-major order. Its shape and the
// neighbourhood lists for the configured radius never change.
type Grid struct {
	Lattice world.Lattice
	Radius  int
	Agents  []Agent

	neighbors [][]int
}

// NewGrid places one agent per cell. assignment holds, per cell, an index
// into policies; memory is the capacity of each agent's outcome ring.
func NewGrid(lat world.Lattice, radius int, policies []policy.Policy, assignment []int, memory int) (*Grid, error) {
	if len(assignment) != lat.Len() {
		return nil, fmt.Errorf("assignment covers %d cells, lattice has %d", len(assignment), lat.Len())
	}

	g := &Grid{
		Lattice:   lat,
		Radius:    radius,
		Agents:    make([]Agent, lat.Len()),
		neighbors: make([][]int, lat.Len()),
	}
	for i, p := range assignment {
		if p < 0 || p >= len(policies) {
			return nil, fmt.Errorf("cell %d assigned policy %d of %d", i, p, len(policies))
		}
		g.Agents[i] = NewAgent(lat.CoordOf(i), policies[p], memory)
		g.neighbors[i] = lat.NeighborIndices(i, radius)
	}
	return g, nil
}

// Len returns the number of agents.
func (g *Grid) Len() int {
	return len(g.Agents)
}

// At returns the agent at c, or nil when c is off the grid.
func (g *Grid) At(c world.Coord) *Agent {
	if !g.Lattice.InBounds(c) {
		return nil
	}
	return &g.Agents[g.Lattice.Index(c)]
}

// Neighbors returns the indices of agent i's neighbours at the grid radius.
// The slice is shared; callers must not modify it.
func (g *Grid) Neighbors(i int) []int {
	return g.neighbors[i]
}

// NeighborAgents returns pointers to agent i's neighbours at the grid radius.
func (g *Grid) NeighborAgents(i int) []*Agent {
	idx := g.neighbors[i]
	out := make([]*Agent, len(idx))
	for j, n := range idx {
		out[j] = &g.Agents[n]
	}
	return out
}

// NeighborsWithin returns the agents at Manhattan distance 1..k from c in
// row-major order.
func (g *Grid) NeighborsWithin(c world.Coord, k int) []*Agent {
	coords := g.Lattice.NeighborsWithin(c, k)
	out := make([]*Agent, len(coords))
	for i, nc := range coords {
		out[i] = &g.Agents[g.Lattice.Index(nc)]
	}
	return out
}

// PolicyCounts tallies agents per policy.
func (g *Grid) PolicyCounts() map[policy.Policy]int {
	counts := make(map[policy.Policy]int)
	for i := range g.Agents {
		counts[g.Agents[i].Policy]++
	}
	return counts
}
