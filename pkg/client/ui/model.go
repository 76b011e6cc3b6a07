package ui

import (
	"context"
	"time"

	"github.com/aeolun/chirp/pkg/client"
	"github.com/aeolun/chirp/pkg/protocol"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	maxFeedLines   = 500
	incomingBuffer = 64
	maxPendingEcho = 32
)

// Model represents the application state
type Model struct {
	session client.Session
	ctx     context.Context
	cancel  context.CancelFunc

	// Fed by Session.Listen, drained by waitForMessage
	incoming chan *protocol.Message

	// UI state
	width    int
	height   int
	feed     viewport.Model
	input    textinput.Model
	lines    []string
	showHelp bool

	// Broadcasts already shown locally; a server echo of one is not shown again
	pendingEcho []string

	// Connection state
	connected    bool
	errorMessage string
	quitting     bool

	now func() time.Time
}

// IncomingMsg carries one message received from the relay
type IncomingMsg struct {
	Message *protocol.Message
}

// ListenStoppedMsg is sent when the receive loop exits
type ListenStoppedMsg struct {
	Err error
}

// ErrorMsg reports a failed send
type ErrorMsg struct {
	Err error
}

// NewModel creates a model for an already connected session
func NewModel(session client.Session) Model {
	ctx, cancel := context.WithCancel(context.Background())

	input := textinput.New()
	input.Placeholder = "say something, or /help"
	input.Prompt = PromptStyle.Render("> ")
	input.CharLimit = protocol.MaxTextLength
	input.Focus()

	return Model{
		session:   session,
		ctx:       ctx,
		cancel:    cancel,
		incoming:  make(chan *protocol.Message, incomingBuffer),
		width:     80,
		height:    24,
		feed:      viewport.New(80, 24-chromeHeight),
		input:     input,
		connected: session.IsConnected(),
		now:       time.Now,
	}
}

// Init starts the receive loop, the directory refresher and the first List request
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		listen(m.ctx, m.session, m.incoming),
		waitForMessage(m.ctx, m.incoming),
		runRefresh(m.ctx, m.session),
		m.refreshDirectory(),
	)
}

// listen runs Session.Listen until ctx is cancelled or the session drops
func listen(ctx context.Context, session client.Session, incoming chan<- *protocol.Message) tea.Cmd {
	return func() tea.Msg {
		err := session.Listen(ctx, func(msg *protocol.Message) {
			select {
			case incoming <- msg:
			case <-ctx.Done():
			}
		})
		return ListenStoppedMsg{Err: err}
	}
}

// waitForMessage blocks for the next received message; Update re-arms it
func waitForMessage(ctx context.Context, incoming <-chan *protocol.Message) tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-incoming:
			return IncomingMsg{Message: msg}
		case <-ctx.Done():
			return nil
		}
	}
}

func runRefresh(ctx context.Context, session client.Session) tea.Cmd {
	return func() tea.Msg {
		_ = session.RunRefresh(ctx)
		return nil
	}
}

func (m *Model) expectEcho(text string) {
	m.pendingEcho = append(m.pendingEcho, protocol.TruncateText(text))
	if n := len(m.pendingEcho); n > maxPendingEcho {
		m.pendingEcho = append([]string(nil), m.pendingEcho[n-maxPendingEcho:]...)
	}
}

// isEcho consumes the pending local line matching an own broadcast
func (m *Model) isEcho(msg *protocol.Message) bool {
	if msg.Kind != protocol.KindPost || msg.DestinationID != 0 || msg.OriginID != m.session.ID() {
		return false
	}
	for i, text := range m.pendingEcho {
		if text == msg.Text {
			m.pendingEcho = append(m.pendingEcho[:i:i], m.pendingEcho[i+1:]...)
			return true
		}
	}
	return false
}

func (m Model) post(text string, destinationID uint32) tea.Cmd {
	session := m.session
	return func() tea.Msg {
		if err := session.Post(text, destinationID); err != nil {
			return ErrorMsg{Err: err}
		}
		return nil
	}
}

func (m Model) refreshDirectory() tea.Cmd {
	session := m.session
	return func() tea.Msg {
		if err := session.RefreshDirectory(); err != nil {
			return ErrorMsg{Err: err}
		}
		return nil
	}
}

// appendLine adds a timestamped line to the feed and scrolls to it
func (m *Model) appendLine(line string) {
	stamp := TimestampStyle.Render(m.now().Format("15:04:05"))
	m.lines = append(m.lines, stamp+" "+line)
	if len(m.lines) > maxFeedLines {
		m.lines = m.lines[len(m.lines)-maxFeedLines:]
	}
	m.refreshFeed()
}

func (m *Model) refreshFeed() {
	m.feed.SetContent(joinLines(m.lines))
	m.feed.GotoBottom()
}

// Lines returns the feed contents, oldest first
func (m Model) Lines() []string {
	return append([]string(nil), m.lines...)
}
