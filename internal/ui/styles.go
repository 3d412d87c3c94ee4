package ui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	primaryColor   = lipgloss.Color("30")
	successColor   = lipgloss.Color("42")
	errorColor     = lipgloss.Color("196")
	warningColor   = lipgloss.Color("214")
	mutedColor     = lipgloss.Color("240")
	highlightColor = lipgloss.Color("86")
	refreshColor   = lipgloss.Color("111")

	// Title style
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")).
			Background(primaryColor).
			Padding(0, 2)

	// Fatal banner: white on red
	FatalBannerStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("1")).
				Padding(0, 1)

	// Success style
	SuccessStyle = lipgloss.NewStyle().
			Foreground(successColor)

	// Error style
	ErrorStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	// Warning style
	WarningStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	// Muted style
	MutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	// Highlight style
	HighlightStyle = lipgloss.NewStyle().
			Foreground(highlightColor).
			Bold(true)

	// Token refresh indicator
	RefreshStyle = lipgloss.NewStyle().
			Foreground(refreshColor)

	// Footer style
	FooterStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	// Worker idle style
	WorkerIdleStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	// Worker working style
	WorkerWorkingStyle = lipgloss.NewStyle().
				Foreground(highlightColor)

	// Worker backing off style
	WorkerBackoffStyle = lipgloss.NewStyle().
				Foreground(warningColor)

	// Worker writing style
	WorkerWritingStyle = lipgloss.NewStyle().
				Foreground(successColor)

	// Progress bar colors
	ProgressGradientStart = "#2E8B86"
	ProgressGradientEnd   = "#A6E3A1"
)
