package ui

import (
	"fmt"
	"strings"

	"github.com/aeolun/chirp/pkg/protocol"
	"github.com/charmbracelet/lipgloss"
)

const helpText = `Commands:
  <text>             broadcast to everyone
  /msg <id> <text>   private post to one peer
  /list              refresh the peer directory
  /who               show the cached peer directory
  /help              toggle this help
  /quit              disconnect and exit
PgUp/PgDn scroll, Esc or Ctrl+C quits.`

// View renders the UI
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	sections := []string{
		m.renderHeader(),
		FeedStyle.Render(m.feed.View()),
		m.input.View(),
		m.renderFooter(),
	}
	if m.showHelp {
		sections[1] = FeedStyle.Render(lipgloss.NewStyle().
			Width(m.feed.Width).
			Height(m.feed.Height).
			Render(helpText))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	title := HeaderStyle.Render("chirp")

	state := ErrorStyle.Render("disconnected")
	if m.connected {
		state = SuccessStyle.Render("connected")
	}

	who := fmt.Sprintf("%s#%d", m.session.Username(), m.session.ID())
	peers := fmt.Sprintf("%d peers", len(m.session.Peers()))
	return title + StatusStyle.Render(who+" | "+peers+" | ") + state
}

func (m Model) renderFooter() string {
	if m.errorMessage != "" {
		return ErrorStyle.Padding(0, 1).Render(m.errorMessage)
	}
	return FooterStyle.Render("/help for commands")
}

// formatMessage renders one received message as a feed line
func formatMessage(msg *protocol.Message, selfID uint32) string {
	switch msg.Kind {
	case protocol.KindPost:
		if msg.IsStatus() {
			return HeartbeatStyle.Render("[status] " + msg.Text)
		}
		author := AuthorStyle.Render(fmt.Sprintf("%s#%d", msg.SenderName, msg.OriginID))
		if msg.DestinationID != 0 {
			return author + PrivateStyle.Render(" -> you") + ": " + msg.Text
		}
		if msg.OriginID == selfID {
			return SelfStyle.Render("you") + ": " + msg.Text
		}
		return author + ": " + msg.Text

	case protocol.KindError:
		return ErrorStyle.Render("[error] " + msg.Text)

	case protocol.KindList:
		return formatPeers(protocol.ParseDirectory(msg.Text))

	case protocol.KindHello:
		return StatusStyle.Render(fmt.Sprintf("[connected as #%d]", msg.DestinationID))

	default:
		return StatusStyle.Render(fmt.Sprintf("[%s] %s", strings.ToLower(msg.Kind.String()), msg.Text))
	}
}

// formatPeers renders a directory listing on one line
func formatPeers(peers []protocol.Entry) string {
	if len(peers) == 0 {
		return StatusStyle.Render("[peers] nobody else is here")
	}
	names := make([]string, len(peers))
	for i, p := range peers {
		names[i] = fmt.Sprintf("%s#%d", p.Name, p.ID)
	}
	return StatusStyle.Render("[peers] " + strings.Join(names, ", "))
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}
