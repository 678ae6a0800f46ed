package cli

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const tablePadding = 2

// writeTable prints left-aligned columns. Widths are measured with lipgloss
// so styled cells line up.
func writeTable(out io.Writer, headers []string, rows [][]string) error {
	all := make([][]string, 0, len(rows)+1)
	if len(headers) > 0 {
		styled := make([]string, len(headers))
		for i, h := range headers {
			styled[i] = render(styleTitle, h)
		}
		all = append(all, styled)
	}
	all = append(all, rows...)

	var widths []int
	for _, row := range all {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var b strings.Builder
	for _, row := range all {
		for i, cell := range row {
			b.WriteString(cell)
			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+tablePadding))
			}
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(out, b.String())
	return err
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
