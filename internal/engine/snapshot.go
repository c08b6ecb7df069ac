package engine

// CellState is the read-only view of one agent.
type CellState struct {
	PolicyID    int     `json:"policy_id"`
	Performance float64 `json:"performance"`
	Attended    bool    `json:"attended"`
	Prediction  float64 `json:"prediction"`
	Score       int     `json:"score"`
}

// GridSnapshot is a copy of the grid taken between rounds. Cells are in
// row-major order.
type GridSnapshot struct {
	Size      int         `json:"size"`
	Iteration int         `json:"iteration"`
	Capacity  int         `json:"capacity"`
	Policies  []string    `json:"policies"`
	Cells     []CellState `json:"cells"`
}

// At returns the cell at (x, y).
func (g GridSnapshot) At(x, y int) CellState {
	return g.Cells[y*g.Size+x]
}

// Series is the per-round aggregate history of a run.
type Series struct {
	Policies     []string  `json:"policies"`
	Attendance   []int     `json:"attendance"`
	Ratio        []float64 `json:"ratio"`
	PolicyCounts [][]int   `json:"policy_counts"` // [round][policy id]
}

// Snapshot copies the current grid state.
func (s *Simulation) Snapshot() GridSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := GridSnapshot{
		Size:      s.cfg.GridSize,
		Iteration: s.iteration,
		Capacity:  s.capacity,
		Policies:  append([]string(nil), s.series.Policies...),
		Cells:     make([]CellState, s.grid.Len()),
	}
	for i := range s.grid.Agents {
		a := &s.grid.Agents[i]
		snap.Cells[i] = CellState{
			PolicyID:    s.PolicyID(a.Policy),
			Performance: a.Performance(s.cfg.Metric),
			Attended:    a.Decision,
			Prediction:  a.Prediction,
			Score:       a.Score,
		}
	}
	return snap
}

// Rounds returns a copy of the round history.
func (s *Simulation) Rounds() []RoundRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]RoundRecord(nil), s.rounds...)
}

// RoundsSince returns the records with Iteration >= from.
func (s *Simulation) RoundsSince(from int) []RoundRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if from < 0 {
		from = 0
	}
	if from >= len(s.rounds) {
		return nil
	}
	return append([]RoundRecord(nil), s.rounds[from:]...)
}

// Series returns a copy of the aggregate history.
func (s *Simulation) Series() Series {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Series{
		Policies:     append([]string(nil), s.series.Policies...),
		Attendance:   append([]int(nil), s.series.Attendance...),
		Ratio:        append([]float64(nil), s.series.Ratio...),
		PolicyCounts: make([][]int, len(s.series.PolicyCounts)),
	}
	for i, c := range s.series.PolicyCounts {
		out.PolicyCounts[i] = append([]int(nil), c...)
	}
	return out
}
