package styles

import (
	"github.com/charmbracelet/lipgloss/v2"
)

var (
	ListTitle    = lipgloss.NewStyle().Foreground(lipgloss.Color("99")).MarginLeft(2)
	AddrSelected = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
	AddrNormal   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	Symbol       = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	Spinner      = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
	MenuBar      = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)
)
