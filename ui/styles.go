package ui

import "github.com/charmbracelet/lipgloss"

var (
	mintGreen = lipgloss.AdaptiveColor{Light: "#89F0CB", Dark: "#89F0CB"}
	darkGreen = lipgloss.AdaptiveColor{Light: "#1C8760", Dark: "#1C8760"}
	fuchsia   = lipgloss.Color("#EE6FF8")
	red       = lipgloss.AdaptiveColor{Light: "#FF4672", Dark: "#ED567A"}
	yellow    = lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#ECFD65"}
	gray      = lipgloss.AdaptiveColor{Light: "#909090", Dark: "#626262"}

	statusBarNoteFg = lipgloss.AdaptiveColor{Light: "#656565", Dark: "#7D7D7D"}
	statusBarBg     = lipgloss.AdaptiveColor{Light: "#E6E6E6", Dark: "#242424"}

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(fuchsia).
			Padding(0, 1)

	pathStyle = lipgloss.NewStyle().
			Foreground(gray)

	paragraphStyle = lipgloss.NewStyle().
			PaddingLeft(2)

	activeParagraphStyle = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), false, false, false, true).
				BorderForeground(fuchsia).
				PaddingLeft(1)

	failedParagraphStyle = activeParagraphStyle.
				BorderForeground(red)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(statusBarNoteFg).
			Background(statusBarBg)

	statusBarMessageStyle = lipgloss.NewStyle().
				Foreground(mintGreen).
				Background(darkGreen)

	errorStyle = lipgloss.NewStyle().
			Foreground(red)

	promptStyle = lipgloss.NewStyle().
			Foreground(yellow)
)
