package internal

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"roomrelay/internal/history"
)

const maxInlineFileSize = 512 * 1024

// ChatModel holds the bubbletea state for the terminal client: the input, the
// rendered event log, the roster, and the websocket connection.
type ChatModel struct {
	textInput textinput.Model

	serverURL string
	room      string
	name      string
	avatar    string

	conn    *websocket.Conn
	writeMu sync.Mutex

	connected bool
	connErr   error

	lines  []string
	online map[string]string // user id -> display name
	typing map[string]string

	typingSent bool
	width      int
}

// async events driving the model.
type (
	connectedMsg     struct{ conn *websocket.Conn }
	connectFailedMsg struct{ err error }
	disconnectedMsg  struct{ err error }
	serverEventMsg   serverEvent
	rosterFetchedMsg struct {
		users []RosterUser
		err   error
	}
)

// serverEvent is the union of everything the relay can push at us; only the
// fields matching the type tag are populated.
type serverEvent struct {
	Type     string            `json:"type"`
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Avatar   string            `json:"avatar"`
	RoomID   string            `json:"roomId"`
	UserID   string            `json:"userId"`
	UserName string            `json:"userName"`
	LastSeen time.Time         `json:"lastSeen"`
	Users    []RosterUser      `json:"users"`
	Messages []history.Message `json:"messages"`

	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	MsgType    string    `json:"msgType"`
	Text       string    `json:"text"`
	FileName   string    `json:"fileName"`
	FileSize   int64     `json:"fileSize"`
	Timestamp  time.Time `json:"timestamp"`
}

var (
	chatHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).
			BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).
			BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("109"))
	connectedStyle  = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	errorStyle      = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	messageBoxStyle = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	inputBoxStyle = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81"))
	systemStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	typingStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
)

// NewChatModel builds the client model; the connection is dialed from Init.
func NewChatModel(serverURL, name, avatar, room string) *ChatModel {
	input := textinput.New()
	input.Placeholder = "Type a message… (/file <path> to share, /who for roster)"
	input.CharLimit = 0
	input.Prompt = "> "
	input.Focus()

	return &ChatModel{
		textInput: input,
		serverURL: serverURL,
		room:      room,
		name:      name,
		avatar:    avatar,
		lines:     make([]string, 0, 64),
		online:    make(map[string]string),
		typing:    make(map[string]string),
		width:     80,
	}
}

func (m *ChatModel) Init() tea.Cmd {
	return m.connectCmd()
}

// connectCmd dials the relay, identifies, and joins the configured room.
func (m *ChatModel) connectCmd() tea.Cmd {
	return func() tea.Msg {
		conn, _, err := websocket.DefaultDialer.Dial(m.serverURL, nil)
		if err != nil {
			return connectFailedMsg{err: err}
		}
		identify := ClientEvent{Type: EventIdentify, Name: m.name, Avatar: m.avatar}
		if err := conn.WriteJSON(identify); err != nil {
			_ = conn.Close()
			return connectFailedMsg{err: err}
		}
		join := ClientEvent{Type: EventJoinRoom, RoomID: m.room}
		if err := conn.WriteJSON(join); err != nil {
			_ = conn.Close()
			return connectFailedMsg{err: err}
		}
		return connectedMsg{conn: conn}
	}
}

// listenCmd waits for the next server event.
func (m *ChatModel) listenCmd() tea.Cmd {
	return func() tea.Msg {
		var ev serverEvent
		if err := m.conn.ReadJSON(&ev); err != nil {
			return disconnectedMsg{err: err}
		}
		return serverEventMsg(ev)
	}
}

func (m *ChatModel) writeEvent(ev ClientEvent) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.conn.WriteJSON(ev)
}

func (m *ChatModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyEsc {
			if m.conn != nil {
				_ = m.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = m.conn.Close()
			}
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter {
			return m, m.submitInput()
		}
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		return m, tea.Batch(cmd, m.notifyTyping())

	case connectedMsg:
		m.conn = msg.conn
		m.connected = true
		m.connErr = nil
		m.appendSystem(fmt.Sprintf("connected to %s, room %q", m.serverURL, m.room))
		return m, m.listenCmd()

	case connectFailedMsg:
		m.connErr = msg.err
		return m, nil

	case disconnectedMsg:
		m.connected = false
		m.connErr = msg.err
		m.appendSystem("connection lost")
		return m, nil

	case serverEventMsg:
		m.applyServerEvent(serverEvent(msg))
		return m, m.listenCmd()

	case rosterFetchedMsg:
		if msg.err != nil {
			m.appendSystem(fmt.Sprintf("roster fetch failed: %v", msg.err))
			return m, nil
		}
		names := make([]string, 0, len(msg.users))
		for _, u := range msg.users {
			names = append(names, u.Name)
		}
		m.appendSystem("online: " + strings.Join(names, ", "))
		return m, nil
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(message)
	return m, cmd
}

func (m *ChatModel) submitInput() tea.Cmd {
	text := strings.TrimSpace(m.textInput.Value())
	m.textInput.SetValue("")
	if text == "" || m.conn == nil {
		return nil
	}

	if text == "/who" {
		return fetchRosterCmd(m.serverURL)
	}
	if path, ok := strings.CutPrefix(text, "/file "); ok {
		return m.sendFile(strings.TrimSpace(path))
	}

	if err := m.writeEvent(ClientEvent{Type: EventSendMessage, RoomID: m.room, Text: text}); err != nil {
		m.appendSystem(fmt.Sprintf("send failed: %v", err))
	}
	m.stopTyping()
	return nil
}

func (m *ChatModel) sendFile(path string) tea.Cmd {
	data, err := os.ReadFile(path)
	if err != nil {
		m.appendSystem(fmt.Sprintf("cannot read %s: %v", path, err))
		return nil
	}
	if len(data) > maxInlineFileSize {
		m.appendSystem(fmt.Sprintf("%s is too large to share inline (limit %d bytes)", path, maxInlineFileSize))
		return nil
	}
	ev := ClientEvent{
		Type:     EventSendFile,
		RoomID:   m.room,
		FileName: filepath.Base(path),
		FileData: base64.StdEncoding.EncodeToString(data),
		FileSize: int64(len(data)),
	}
	if err := m.writeEvent(ev); err != nil {
		m.appendSystem(fmt.Sprintf("file send failed: %v", err))
	}
	m.stopTyping()
	return nil
}

// notifyTyping tells the room once per draft that we started typing.
func (m *ChatModel) notifyTyping() tea.Cmd {
	if m.conn == nil || m.typingSent {
		return nil
	}
	if strings.TrimSpace(m.textInput.Value()) == "" {
		return nil
	}
	m.typingSent = true
	_ = m.writeEvent(ClientEvent{Type: EventTypingStart, RoomID: m.room})
	return nil
}

func (m *ChatModel) stopTyping() {
	if m.conn == nil || !m.typingSent {
		return
	}
	m.typingSent = false
	_ = m.writeEvent(ClientEvent{Type: EventTypingStop, RoomID: m.room})
}

func (m *ChatModel) applyServerEvent(ev serverEvent) {
	switch ev.Type {
	case EventRoster:
		m.online = make(map[string]string, len(ev.Users))
		for _, u := range ev.Users {
			m.online[u.ID] = u.Name
		}
	case EventPresenceOnline:
		m.online[ev.ID] = ev.Name
		m.appendSystem(displayName(ev.Name, ev.ID) + " is online")
	case EventPresenceOffline:
		name := displayName(m.online[ev.ID], ev.ID)
		delete(m.online, ev.ID)
		delete(m.typing, ev.ID)
		m.appendSystem(name + " went offline")
	case EventHistory:
		for _, msg := range ev.Messages {
			m.appendMessage(msg.SenderName, msg.SenderID, msg.MsgType, msg.Text, msg.FileName, msg.FileSize, msg.Timestamp)
		}
	case EventMessage:
		delete(m.typing, ev.SenderID)
		m.appendMessage(ev.SenderName, ev.SenderID, ev.MsgType, ev.Text, ev.FileName, ev.FileSize, ev.Timestamp)
	case EventTypingStart:
		m.typing[ev.UserID] = displayName(ev.UserName, ev.UserID)
	case EventTypingStop:
		delete(m.typing, ev.UserID)
	}
}

func (m *ChatModel) appendMessage(senderName, senderID, msgType, text, fileName string, fileSize int64, ts time.Time) {
	body := text
	if msgType == history.KindFile {
		body = fmt.Sprintf("shared file %s (%d bytes)", fileName, fileSize)
	}
	line := fmt.Sprintf("%s %s %s",
		timestampStyle.Render(ts.Local().Format("15:04")),
		usernameStyle.Render(displayName(senderName, senderID)+":"),
		body)
	m.appendLine(line)
}

func (m *ChatModel) appendSystem(text string) {
	m.appendLine(systemStyle.Render("· " + text))
}

func (m *ChatModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > 200 {
		m.lines = m.lines[len(m.lines)-200:]
	}
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}

func (m *ChatModel) View() string {
	header := chatHeaderStyle.Render(fmt.Sprintf("roomrelay · %s · %d online", m.room, len(m.online)))

	var status string
	switch {
	case m.connErr != nil && !m.connected:
		status = errorStyle.Render(fmt.Sprintf("✗ %v", m.connErr))
	case m.connected:
		status = connectedStyle.Render("● connected as " + m.name)
	default:
		status = connectingStyle.Render("… connecting")
	}

	body := "no messages yet"
	if len(m.lines) > 0 {
		start := 0
		if len(m.lines) > 20 {
			start = len(m.lines) - 20
		}
		body = strings.Join(m.lines[start:], "\n")
	}

	typingLine := ""
	if len(m.typing) > 0 {
		names := make([]string, 0, len(m.typing))
		for _, name := range m.typing {
			names = append(names, name)
		}
		typingLine = typingStyle.Render(strings.Join(names, ", ") + " typing…")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		status,
		messageBoxStyle.Width(m.width-4).Render(body),
		typingLine,
		inputBoxStyle.Width(m.width-4).Render(m.textInput.View()),
	)
}
