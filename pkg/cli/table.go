package cli

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Theme defines the table colors.
type Theme struct {
	Primary lipgloss.Color // headers and borders
	Dim     lipgloss.Color // alternate rows
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Tabler is implemented by results that have a tabular form.
type Tabler interface {
	Table() *Table
}

// Table is a titled grid of cells.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
	Theme   *Theme
}

// Render draws the table with a rounded border.
func (t *Table) Render() string {
	theme := DefaultTheme
	if t.Theme != nil {
		theme = *t.Theme
	}
	header := lipgloss.NewStyle().Bold(true).Foreground(theme.Primary).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	dim := cell.Foreground(theme.Dim)

	tbl := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(theme.Primary)).
		Headers(t.Headers...).
		Rows(t.Rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return header
			case row%2 == 1:
				return dim
			default:
				return cell
			}
		})
	if t.Title == "" {
		return tbl.Render()
	}
	title := lipgloss.NewStyle().Bold(true).Foreground(theme.Primary).Render(t.Title)
	return lipgloss.JoinVertical(lipgloss.Left, title, tbl.Render())
}
