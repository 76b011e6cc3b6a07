package ui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	// Color scheme
	PrimaryColor   = lipgloss.Color("39")  // Blue
	SecondaryColor = lipgloss.Color("213") // Pink
	SuccessColor   = lipgloss.Color("42")  // Green
	ErrorColor     = lipgloss.Color("196") // Red
	WarningColor   = lipgloss.Color("214") // Orange
	MutedColor     = lipgloss.Color("243") // Gray
	BorderColor    = lipgloss.Color("238") // Dark gray

	BaseStyle = lipgloss.NewStyle()

	HeaderStyle = BaseStyle.
			Bold(true).
			Foreground(PrimaryColor).
			Padding(0, 1)

	StatusStyle = BaseStyle.
			Foreground(MutedColor).
			Padding(0, 1)

	FooterStyle = BaseStyle.
			Foreground(MutedColor).
			Padding(0, 1)

	FeedStyle = BaseStyle.
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor)

	// Feed line styles
	AuthorStyle = BaseStyle.
			Foreground(SecondaryColor)

	SelfStyle = BaseStyle.
			Foreground(SuccessColor)

	PrivateStyle = BaseStyle.
			Foreground(WarningColor)

	HeartbeatStyle = BaseStyle.
			Foreground(MutedColor).
			Italic(true)

	TimestampStyle = BaseStyle.
			Foreground(MutedColor)

	ErrorStyle = BaseStyle.
			Foreground(ErrorColor).
			Bold(true)

	SuccessStyle = BaseStyle.
			Foreground(SuccessColor)

	PromptStyle = BaseStyle.
			Foreground(PrimaryColor).
			Bold(true)
)
