package agents

// OutcomeMemory is a fixed-capacity ring of per-round results (true = the
// agent made the beneficial choice). It also tracks how many of the retained
// entries were recorded since the agent last switched policy.
type OutcomeMemory struct {
	bits        []bool
	next        int
	count       int
	sinceSwitch int
}

// NewOutcomeMemory creates a ring holding the last capacity results.
func NewOutcomeMemory(capacity int) OutcomeMemory {
	if capacity < 1 {
		capacity = 1
	}
	return OutcomeMemory{bits: make([]bool, capacity)}
}

// Push records one result, evicting the oldest when full.
func (m *OutcomeMemory) Push(win bool) {
	m.bits[m.next] = win
	m.next = (m.next + 1) % len(m.bits)
	if m.count < len(m.bits) {
		m.count++
	}
	if m.sinceSwitch < len(m.bits) {
		m.sinceSwitch++
	}
}

// Len returns the number of retained results.
func (m *OutcomeMemory) Len() int {
	return m.count
}

// Cap returns the ring capacity.
func (m *OutcomeMemory) Cap() int {
	return len(m.bits)
}

// SinceSwitch returns how many retained results were recorded under the
// current policy.
func (m *OutcomeMemory) SinceSwitch() int {
	return m.sinceSwitch
}

// MarkSwitch starts a new since-switch span without dropping results.
func (m *OutcomeMemory) MarkSwitch() {
	m.sinceSwitch = 0
}

// Clear drops every retained result.
func (m *OutcomeMemory) Clear() {
	m.next = 0
	m.count = 0
	m.sinceSwitch = 0
}

// Mean returns the win rate over the newest n results (n clipped to Len).
// An empty span scores 0.
func (m *OutcomeMemory) Mean(n int) float64 {
	if n > m.count {
		n = m.count
	}
	if n <= 0 {
		return 0
	}
	wins := 0
	for i := 1; i <= n; i++ {
		idx := (m.next - i + len(m.bits)) % len(m.bits)
		if m.bits[idx] {
			wins++
		}
	}
	return float64(wins) / float64(n)
}

// Recent returns up to n newest results, oldest first.
func (m *OutcomeMemory) Recent(n int) []bool {
	if n > m.count {
		n = m.count
	}
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		idx := (m.next - n + i + len(m.bits)) % len(m.bits)
		out[i] = m.bits[idx]
	}
	return out
}
