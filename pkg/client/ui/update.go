package ui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// chromeHeight is the header, input and footer rows plus the feed border
const chromeHeight = 5

type commandKind int

const (
	commandNone commandKind = iota
	commandBroadcast
	commandPrivate
	commandList
	commandWho
	commandHelp
	commandQuit
)

type command struct {
	kind        commandKind
	destination uint32
	text        string
}

var errMsgUsage = errors.New("usage: /msg <id> <text>")

// parseInput turns an input line into a command. Lines not starting with a
// slash are broadcasts.
func parseInput(line string) (command, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return command{kind: commandNone}, nil
	}
	if !strings.HasPrefix(trimmed, "/") {
		return command{kind: commandBroadcast, text: trimmed}, nil
	}

	name, rest, _ := strings.Cut(trimmed, " ")
	switch strings.ToLower(name) {
	case "/msg", "/w":
		idText, text, _ := strings.Cut(strings.TrimSpace(rest), " ")
		text = strings.TrimSpace(text)
		if idText == "" || text == "" {
			return command{}, errMsgUsage
		}
		id, err := strconv.ParseUint(idText, 10, 32)
		if err != nil || id == 0 {
			return command{}, fmt.Errorf("invalid recipient id %q", idText)
		}
		return command{kind: commandPrivate, destination: uint32(id), text: text}, nil
	case "/list":
		return command{kind: commandList}, nil
	case "/who":
		return command{kind: commandWho}, nil
	case "/help", "/?":
		return command{kind: commandHelp}, nil
	case "/quit", "/exit":
		return command{kind: commandQuit}, nil
	default:
		return command{}, fmt.Errorf("unknown command %s", name)
	}
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.feed.Width = max(msg.Width-2, 10)
		m.feed.Height = max(msg.Height-chromeHeight, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.refreshFeed()
		return m, nil

	case IncomingMsg:
		if msg.Message != nil && !m.isEcho(msg.Message) {
			m.appendLine(formatMessage(msg.Message, m.session.ID()))
		}
		return m, waitForMessage(m.ctx, m.incoming)

	case ListenStoppedMsg:
		m.connected = false
		if msg.Err != nil {
			m.errorMessage = msg.Err.Error()
			m.appendLine(ErrorStyle.Render("[error] connection lost: " + msg.Err.Error()))
		} else if !m.quitting {
			m.appendLine(StatusStyle.Render("[disconnected]"))
		}
		return m, nil

	case ErrorMsg:
		m.errorMessage = msg.Err.Error()
		m.appendLine(ErrorStyle.Render("[error] " + msg.Err.Error()))
		return m, nil
	}

	return m, nil
}

// handleKeyPress handles keyboard input
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "ctrl+d":
		return m.quit()
	case "esc":
		if m.showHelp {
			m.showHelp = false
			return m, nil
		}
		return m.quit()
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.feed, cmd = m.feed.Update(msg)
		return m, cmd
	case "enter":
		line := m.input.Value()
		m.input.Reset()
		return m.submit(line)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit executes one input line
func (m Model) submit(line string) (tea.Model, tea.Cmd) {
	cmd, err := parseInput(line)
	if err != nil {
		m.errorMessage = err.Error()
		return m, nil
	}
	m.errorMessage = ""

	switch cmd.kind {
	case commandBroadcast:
		if !m.connected {
			m.errorMessage = "not connected"
			return m, nil
		}
		m.appendLine(SelfStyle.Render("you") + ": " + cmd.text)
		m.expectEcho(cmd.text)
		return m, m.post(cmd.text, 0)

	case commandPrivate:
		if !m.connected {
			m.errorMessage = "not connected"
			return m, nil
		}
		m.appendLine(SelfStyle.Render("you") + PrivateStyle.Render(fmt.Sprintf(" -> #%d", cmd.destination)) + ": " + cmd.text)
		return m, m.post(cmd.text, cmd.destination)

	case commandList:
		return m, m.refreshDirectory()

	case commandWho:
		m.appendLine(formatPeers(m.session.Peers()))
		return m, nil

	case commandHelp:
		m.showHelp = !m.showHelp
		return m, nil

	case commandQuit:
		return m.quit()
	}

	return m, nil
}

// quit stops the background loops, sends Bye and exits the program
func (m Model) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	m.cancel()
	if err := m.session.Disconnect(); err != nil {
		m.errorMessage = err.Error()
	}
	return m, tea.Quit
}
