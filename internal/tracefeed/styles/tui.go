package styles

import (
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/exp/charmtone"
)

// Listing styles for the trace viewer.
var (
	Address  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	Mnemonic = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	Note     = lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Guac.Hex()))
	Taken    = lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Coral.Hex())).Bold(true)
	Bad      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	Spinner  = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
)

// MenuBar renders the bottom status bar across width cells.
func MenuBar(text string, width int) string {
	return lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("252")).
		Padding(0, 1).
		Width(width).
		Render(text)
}
