package tui

import "github.com/charmbracelet/lipgloss"

// Catppuccin Mocha palette
const (
	colorRed      lipgloss.Color = "#f38ba8"
	colorPeach    lipgloss.Color = "#fab387"
	colorYellow   lipgloss.Color = "#f9e2af"
	colorGreen    lipgloss.Color = "#a6e3a1"
	colorTeal     lipgloss.Color = "#94e2d5"
	colorBlue     lipgloss.Color = "#89b4fa"
	colorLavender lipgloss.Color = "#b4befe"
	colorText     lipgloss.Color = "#cdd6f4"
	colorOverlay0 lipgloss.Color = "#6c7086"
	colorSurface1 lipgloss.Color = "#45475a"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorLavender)
	labelStyle    = lipgloss.NewStyle().Foreground(colorOverlay0).Width(10)
	valueStyle    = lipgloss.NewStyle().Foreground(colorText)
	routeStyle    = lipgloss.NewStyle().Padding(0, 1).Border(lipgloss.RoundedBorder()).BorderForeground(colorSurface1)
	cursorStyle   = routeStyle.BorderForeground(colorBlue)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorGreen)
	impossible    = lipgloss.NewStyle().Foreground(colorOverlay0).Strikethrough(true)
	statusStyle   = lipgloss.NewStyle().Foreground(colorTeal)
	errorStyle    = lipgloss.NewStyle().Foreground(colorRed)
	warnStyle     = lipgloss.NewStyle().Foreground(colorYellow)
	helpStyle     = lipgloss.NewStyle().Foreground(colorOverlay0)
	legStyle      = lipgloss.NewStyle().Foreground(colorPeach).PaddingLeft(2)
)
