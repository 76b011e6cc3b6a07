package ui

import (
	"fmt"
	"strings"

	"github.com/aeolun/chirp/pkg/client"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ConfigErrorModel explains a broken config file and offers to reset it
type ConfigErrorModel struct {
	err   *client.ConfigError
	reset func(path string, backup bool) error

	width  int
	height int

	done     bool
	resetOK  bool
	resetErr error
}

type configResetMsg struct{ err error }

// NewConfigErrorModel creates the prompt for err
func NewConfigErrorModel(err *client.ConfigError) *ConfigErrorModel {
	return &ConfigErrorModel{
		err:    err,
		reset:  client.ResetConfigToDefault,
		width:  80,
		height: 24,
	}
}

// Reset reports whether the config was rewritten, and the error if rewriting failed
func (m *ConfigErrorModel) Reset() (bool, error) {
	return m.resetOK, m.resetErr
}

func (m *ConfigErrorModel) Init() tea.Cmd {
	return nil
}

func (m *ConfigErrorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if m.done {
			return m, nil
		}
		switch msg.String() {
		case "b", "B":
			return m, m.resetCmd(true)
		case "r", "R":
			return m, m.resetCmd(false)
		case "q", "Q", "esc", "ctrl+c":
			m.done = true
			return m, tea.Quit
		}
		return m, nil

	case configResetMsg:
		m.done = true
		m.resetOK = msg.err == nil
		m.resetErr = msg.err
		return m, tea.Quit
	}

	return m, nil
}

func (m *ConfigErrorModel) resetCmd(backup bool) tea.Cmd {
	path := m.err.Path
	reset := m.reset
	return func() tea.Msg {
		return configResetMsg{err: reset(path, backup)}
	}
}

func (m *ConfigErrorModel) View() string {
	if m.done {
		return ""
	}

	var b strings.Builder
	b.WriteString(ErrorStyle.Render("Configuration error"))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "File:  %s\n", m.err.Path)
	if m.err.LineNumber > 0 {
		fmt.Fprintf(&b, "Line:  %d\n", m.err.LineNumber)
	}
	fmt.Fprintf(&b, "Error: %s\n\n", m.err.Message)
	b.WriteString("[b] reset to defaults, keeping a backup\n")
	b.WriteString("[r] reset to defaults\n")
	b.WriteString("[q] quit")

	box := BaseStyle.Padding(1, 2).Render(b.String())
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}
