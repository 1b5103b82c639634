package main

import (
	"maps"
	"slices"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/go-xform/pkg/transform"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
)

func newPlainTable(withHeader bool, alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col < len(alignments) {
				s = s.Align(alignments[col])
			}
			return
		})
}

// statsTable lists the statements executed, followed by the totals of the execution.
func statsTable(stats *transform.Stats) *lgtable.Table {
	table := newPlainTable(true, lipgloss.Left, lipgloss.Right)
	table.Headers("Statement", "Count")
	for _, name := range slices.Sorted(maps.Keys(stats.ByStatement)) {
		table.Row(name, humanize.Comma(int64(stats.ByStatement[name])))
	}
	for _, total := range []struct {
		name  string
		value int
	}{
		{"executed", stats.Executed},
		{"suppressed", stats.Suppressed},
		{"pattern rewrites", stats.Rewrites},
		{"fused ops", stats.Fused},
		{"vectorized ops", stats.Vectorized},
		{"hoisted ops", stats.Hoisted},
		{"allocations", stats.Allocs},
		{"copies", stats.Copies},
		{"buffer rewrites", stats.BufferRewrites},
	} {
		table.Row("total "+total.name, humanize.Comma(int64(total.value)))
	}
	return table
}
