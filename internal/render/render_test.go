package render

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/talgya/elfarol/internal/engine"
)

func snapshot() engine.GridSnapshot {
	return engine.GridSnapshot{
		Size:      2,
		Iteration: 3,
		Capacity:  1,
		Policies:  []string{"Always Go", "Never Go"},
		Cells: []engine.CellState{
			{PolicyID: 0, Attended: true},
			{PolicyID: 1},
			{PolicyID: 1},
			{PolicyID: 0, Attended: true},
		},
	}
}

func TestGridGlyphs(t *testing.T) {
	out := Grid(snapshot())
	if strings.Count(out, "●") != 2 || strings.Count(out, "○") != 2 {
		t.Errorf("unexpected glyphs:\n%s", out)
	}
	if !strings.Contains(out, "● ○") || !strings.Contains(out, "○ ●") {
		t.Errorf("rows out of order:\n%s", out)
	}
}

func TestLegendCounts(t *testing.T) {
	out := Legend(snapshot())
	if !strings.Contains(out, "Always Go") || !strings.Contains(out, "Never Go") {
		t.Fatalf("legend missing policies:\n%s", out)
	}
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasSuffix(strings.TrimSpace(line), "2") {
			t.Errorf("expected count 2 in %q", line)
		}
	}
}

func TestRoundLine(t *testing.T) {
	crowded := RoundLine(engine.RoundRecord{Iteration: 1, Attendance: 5, Capacity: 4, Crowded: true})
	if !strings.Contains(crowded, "crowded") || strings.Contains(crowded, "not crowded") {
		t.Errorf("crowded round rendered as %q", crowded)
	}
	calm := RoundLine(engine.RoundRecord{Attendance: 4, Capacity: 4, Adapted: true, Switches: 3})
	if !strings.Contains(calm, "not crowded") || !strings.Contains(calm, "3 switched") {
		t.Errorf("calm round rendered as %q", calm)
	}
}

func TestSparkline(t *testing.T) {
	tests := []struct {
		values []float64
		width  int
		want   string
	}{
		{nil, 10, ""},
		{[]float64{0, 1}, 10, "▁█"},
		{[]float64{0, 0, 1, 1}, 2, "▁█"},
		{[]float64{2, -1}, 2, "█▁"},
	}
	for _, tt := range tests {
		if got := Sparkline(tt.values, tt.width); got != tt.want {
			t.Errorf("Sparkline(%v, %d) = %q, want %q", tt.values, tt.width, got, tt.want)
		}
	}
	if got := Sparkline(make([]float64, 500), 60); utf8.RuneCountInString(got) != 60 {
		t.Errorf("width not respected: %d runes", utf8.RuneCountInString(got))
	}
}

func TestFrameAndSummary(t *testing.T) {
	snap := snapshot()
	frame := Frame(snap, nil)
	if !strings.Contains(frame, "round 3") || !strings.Contains(frame, "no rounds played") {
		t.Errorf("frame missing header or status:\n%s", frame)
	}

	sum := engine.Summary{Rounds: 10, MeanRatio: 0.5, Updates: 2, Switches: 4, Population: []int{0, 4}}
	out := Summary("test", sum, engine.Series{Policies: snap.Policies, Ratio: []float64{0.5, 0.5}})
	if !strings.Contains(out, "Never Go") || strings.Contains(out, "Always Go") {
		t.Errorf("summary should list only surviving policies:\n%s", out)
	}
}
