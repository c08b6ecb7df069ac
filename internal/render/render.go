// Package render draws grid snapshots and run summaries for the terminal.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/talgya/elfarol/internal/engine"
)

// palette holds one ANSI-256 colour per policy id, cycling when there are
// more policies than colours.
var palette = []string{"9", "10", "12", "11", "13", "14", "208", "141", "33", "118", "203", "229", "45", "250"}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("241")).Padding(0, 1)
)

func policyStyle(id int) lipgloss.Style {
	if id < 0 {
		return dimStyle
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(palette[id%len(palette)]))
}

// Grid draws one cell per agent. Attending agents are drawn solid, absent
// agents hollow; the colour is the agent's policy.
func Grid(snap engine.GridSnapshot) string {
	var b strings.Builder
	for y := 0; y < snap.Size; y++ {
		for x := 0; x < snap.Size; x++ {
			c := snap.At(x, y)
			glyph := "○"
			if c.Attended {
				glyph = "●"
			}
			b.WriteString(policyStyle(c.PolicyID).Render(glyph))
			if x < snap.Size-1 {
				b.WriteByte(' ')
			}
		}
		if y < snap.Size-1 {
			b.WriteByte('\n')
		}
	}
	return boxStyle.Render(b.String())
}

// Legend lists each policy with its colour and current population.
func Legend(snap engine.GridSnapshot) string {
	counts := make([]int, len(snap.Policies))
	for _, c := range snap.Cells {
		if c.PolicyID >= 0 && c.PolicyID < len(counts) {
			counts[c.PolicyID]++
		}
	}

	var lines []string
	for id, name := range snap.Policies {
		if counts[id] == 0 {
			lines = append(lines, dimStyle.Render(fmt.Sprintf("● %-34s %5d", name, 0)))
			continue
		}
		lines = append(lines, policyStyle(id).Render("●")+fmt.Sprintf(" %-34s %5d", name, counts[id]))
	}
	return strings.Join(lines, "\n")
}

// Frame combines grid, legend, and the latest round into one view.
func Frame(snap engine.GridSnapshot, last *engine.RoundRecord) string {
	status := dimStyle.Render("no rounds played")
	if last != nil {
		status = RoundLine(*last)
	}
	header := titleStyle.Render(fmt.Sprintf("El Farol  %d×%d  round %d", snap.Size, snap.Size, snap.Iteration))
	body := lipgloss.JoinHorizontal(lipgloss.Top, Grid(snap), "  ", Legend(snap))
	return lipgloss.JoinVertical(lipgloss.Left, header, body, status)
}

// RoundLine is a one-line description of a round.
func RoundLine(r engine.RoundRecord) string {
	outcome := okStyle.Render("not crowded")
	if r.Crowded {
		outcome = warnStyle.Render("crowded")
	}
	line := fmt.Sprintf("round %4d  attendance %5d / capacity %5d  %s", r.Iteration, r.Attendance, r.Capacity, outcome)
	if r.Adapted {
		line += dimStyle.Render(fmt.Sprintf("  (%d switched)", r.Switches))
	}
	return line
}

// sparkRunes are the eight block heights of a sparkline.
var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// Sparkline draws values in [0, 1], compressing to width columns by
// averaging consecutive values.
func Sparkline(values []float64, width int) string {
	if len(values) == 0 || width <= 0 {
		return ""
	}
	if width > len(values) {
		width = len(values)
	}
	var b strings.Builder
	for col := 0; col < width; col++ {
		lo := col * len(values) / width
		hi := (col + 1) * len(values) / width
		sum := 0.0
		for _, v := range values[lo:hi] {
			sum += v
		}
		v := sum / float64(hi-lo)
		idx := int(v * float64(len(sparkRunes)-1))
		idx = min(max(idx, 0), len(sparkRunes)-1)
		b.WriteRune(sparkRunes[idx])
	}
	return b.String()
}

// Summary renders the end-of-run report.
func Summary(name string, sum engine.Summary, series engine.Series) string {
	lines := []string{
		headerStyle.Render("Run " + name),
		fmt.Sprintf("rounds          %d", sum.Rounds),
		fmt.Sprintf("mean attendance %.3f ± %.3f", sum.MeanRatio, sum.StdDevRatio),
		fmt.Sprintf("crowded rounds  %.1f%%", 100*sum.CrowdedShare),
		fmt.Sprintf("adaptations     %d (%d switches)", sum.Updates, sum.Switches),
		"attendance      " + Sparkline(series.Ratio, 60),
	}
	if len(sum.Population) > 0 {
		lines = append(lines, "", titleStyle.Render("Final population"))
		for id, n := range sum.Population {
			if n == 0 {
				continue
			}
			name := fmt.Sprintf("policy %d", id)
			if id < len(series.Policies) {
				name = series.Policies[id]
			}
			lines = append(lines, policyStyle(id).Render("●")+fmt.Sprintf(" %-34s %5d", name, n))
		}
	}
	return strings.Join(lines, "\n")
}
