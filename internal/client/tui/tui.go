// Package tui is the terminal front-end for a chat session: a scrollback
// viewport above a single input line.
package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/danmuck/relaychat/internal/protocol"
)

// Chat is the slice of client.Session the UI drives.
type Chat interface {
	Name() string
	Send(text string) error
	Leave() error
	Receive() (protocol.ReceivedMessage, error)
}

const (
	selfLabel     = "You"
	headerHeight  = 1
	footerHeight  = 2
	clockLayout   = "15:04:05"
	defaultWidth  = 80
	defaultHeight = 24
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	timeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	selfStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	peerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	statusStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("9"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

type receivedMsg struct {
	message protocol.ReceivedMessage
}

type connectionLostMsg struct {
	err error
}

type entry struct {
	at     string
	author string
	text   string
	self   bool
	status bool
}

type Model struct {
	chat     Chat
	title    string
	input    textinput.Model
	viewport viewport.Model
	entries  []entry
	lost     error
	leaving  bool
	now      func() time.Time
}

// New builds the model; title is shown in the header, usually the relay
// address.
func New(chat Chat, title string) Model {
	input := textinput.New()
	input.Placeholder = "Say something... (Enter to send, Esc to leave)"
	input.Prompt = "> "
	input.Focus()

	m := Model{
		chat:     chat,
		title:    title,
		input:    input,
		viewport: viewport.New(defaultWidth, defaultHeight-headerHeight-footerHeight),
		now:      time.Now,
	}
	m.resize(defaultWidth, defaultHeight)
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForMessage(m.chat))
}

func waitForMessage(chat Chat) tea.Cmd {
	return func() tea.Msg {
		msg, err := chat.Receive()
		if err != nil {
			return connectionLostMsg{err: err}
		}
		return receivedMsg{message: msg}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		inputCmd tea.Cmd
		viewCmd  tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.leaving = true
			if m.lost == nil {
				_ = m.chat.Leave()
			}
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		}
		m.input, inputCmd = m.input.Update(msg)
		return m, inputCmd

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.refresh()
		return m, nil

	case receivedMsg:
		m.entries = append(m.entries, entry{
			at:     displayTime(msg.message.Timestamp),
			author: msg.message.Author,
			text:   msg.message.Text,
		})
		m.refresh()
		return m, waitForMessage(m.chat)

	case connectionLostMsg:
		if m.leaving {
			return m, nil
		}
		m.markLost(msg.err)
		return m, nil
	}

	m.input, inputCmd = m.input.Update(msg)
	m.viewport, viewCmd = m.viewport.Update(msg)
	return m, tea.Batch(inputCmd, viewCmd)
}

// submit sends the input line. The relay does not echo a sender's own
// messages, so they are added to the scrollback here.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	if strings.TrimSpace(text) == "" || m.lost != nil {
		return m, nil
	}
	if err := m.chat.Send(text); err != nil {
		m.markLost(err)
		return m, nil
	}
	m.entries = append(m.entries, entry{
		at:     m.now().Format(clockLayout),
		author: selfLabel,
		text:   text,
		self:   true,
	})
	m.input.Reset()
	m.refresh()
	return m, nil
}

func (m *Model) markLost(err error) {
	m.lost = err
	m.input.Blur()
	m.entries = append(m.entries, entry{
		at:     m.now().Format(clockLayout),
		text:   "connection lost: " + err.Error(),
		status: true,
	})
	m.refresh()
}

func (m *Model) resize(width, height int) {
	m.viewport.Width = width
	m.viewport.Height = max(height-headerHeight-footerHeight, 1)
	m.input.Width = max(width-len(m.input.Prompt)-1, 1)
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderEntries())
	m.viewport.GotoBottom()
}

func (m Model) renderEntries() string {
	var b strings.Builder
	for i, e := range m.entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		if e.status {
			b.WriteString(statusStyle.Render(e.text))
			continue
		}
		style := peerStyle
		if e.self {
			style = selfStyle
		}
		if e.at != "" {
			b.WriteString(timeStyle.Render(e.at))
			b.WriteByte(' ')
		}
		b.WriteString(style.Render(e.author + ":"))
		b.WriteByte(' ')
		b.WriteString(e.text)
	}
	return b.String()
}

func (m Model) View() string {
	header := headerStyle.Render("relaychat " + m.title + " as " + m.chat.Name())
	footer := m.input.View() + "\n" + helpStyle.Render("enter send | esc leave")
	if m.lost != nil {
		footer = statusStyle.Render("disconnected from relay") + "\n" + helpStyle.Render("esc quit")
	}
	return header + "\n" + m.viewport.View() + "\n" + footer
}

// Lost reports the error that ended the connection, if any.
func (m Model) Lost() error {
	return m.lost
}

// Run drives the UI on the alternate screen until the user leaves.
func Run(chat Chat, title string) error {
	_, err := tea.NewProgram(New(chat, title), tea.WithAltScreen()).Run()
	return err
}

// displayTime renders an RFC 3339 relay timestamp as local wall time. An
// unparsable or empty timestamp is shown as-is.
func displayTime(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format(clockLayout)
}
