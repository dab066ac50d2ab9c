package cli

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/alanmeadows/relay/internal/transcript"
)

const previewWidth = 60

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	noteStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// entriesTable renders history entries one per row with a short preview
// of input and output.
func entriesTable(entries []transcript.Entry) *table.Table {
	rows := make([][]string, 0, len(entries))
	for i, e := range entries {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			preview(e.InputText()),
			preview(e.OutputText()),
			entryStatus(e),
		})
	}
	return newTable("#", "INPUT", "OUTPUT", "STATUS").Rows(rows...)
}

func entryStatus(e transcript.Entry) string {
	switch {
	case e.Interrupted && e.Failed:
		return "interrupted (failed)"
	case e.Interrupted:
		return "interrupted"
	case e.Failed:
		return "failed"
	case e.Input == nil:
		return "echo"
	default:
		return "ok"
	}
}

// preview collapses whitespace and truncates s for a table cell.
func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > previewWidth {
		return string(r[:previewWidth-3]) + "..."
	}
	return s
}
