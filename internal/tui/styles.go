package tui

import "github.com/charmbracelet/lipgloss"

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("141"))

	questionStyle = lipgloss.NewStyle().Bold(true)

	answerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))

	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	pictureStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	scoreStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))

	selectedScoreStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("232")).
				Background(lipgloss.Color("141"))
)
