package cli

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/casaline/casachat/internal/outbox"
	"github.com/casaline/casachat/internal/session"
	"github.com/casaline/casachat/internal/store"
	"github.com/casaline/casachat/internal/typing"
)

// --- message types ---

type refreshMsg struct{}

type noticeMsg session.Notice

// --- chat config ---

// RoomCloser deletes a conversation server-side.
type RoomCloser interface {
	DeleteRoom(ctx context.Context, roomID string) error
}

// ChatConfig wires the TUI to the running session.
type ChatConfig struct {
	Session *session.Session
	Outbox  *outbox.Controller
	Store   *store.Store
	Typing  *typing.Local
	Closer  RoomCloser

	// Updates and Notices carry session callbacks into the program.
	Updates <-chan struct{}
	Notices <-chan session.Notice

	Title string
}

// --- interactive chat model ---

type chatModel struct {
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	sess   *session.Session
	box    *outbox.Controller
	store  *store.Store
	local  *typing.Local
	closer RoomCloser

	updates <-chan struct{}
	notices <-chan session.Notice

	replyTo   string
	notice    string
	noticeErr bool

	ctx    context.Context
	ready  bool
	width  int
	height int
	title  string
}

func newChatModel(ctx context.Context, cfg ChatConfig) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Type a message, /help for commands..."
	ti.Focus()
	ti.CharLimit = 0
	ti.Prompt = "❯ "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(Accent)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(Accent)

	return chatModel{
		input:   ti,
		spinner: sp,
		sess:    cfg.Session,
		box:     cfg.Outbox,
		store:   cfg.Store,
		local:   cfg.Typing,
		closer:  cfg.Closer,
		updates: cfg.Updates,
		notices: cfg.Notices,
		ctx:     ctx,
		title:   cfg.Title,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitUpdate(), m.waitNotice())
}

func (m chatModel) waitUpdate() tea.Cmd {
	return func() tea.Msg {
		<-m.updates
		return refreshMsg{}
	}
}

func (m chatModel) waitNotice() tea.Cmd {
	return func() tea.Msg {
		return noticeMsg(<-m.notices)
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		// Layout: header(1) + divider(1) + viewport + divider(1) + input(1) + status(1) = 5 fixed
		vpHeight := msg.Height - 5
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.input.Width = msg.Width - 4
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			m.local.Cancel()
			return m, tea.Quit
		case tea.KeyEnter:
			input := strings.TrimSpace(m.input.Value())
			if input == "" {
				return m, nil
			}
			if isExitCmd(input) {
				m.local.Cancel()
				return m, tea.Quit
			}
			m.input.SetValue("")
			return m.submit(input), nil
		case tea.KeyEsc:
			m.replyTo = ""
			m.notice = ""
			return m, nil
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		case tea.KeyRunes, tea.KeySpace, tea.KeyBackspace:
			if !strings.HasPrefix(m.input.Value(), "/") {
				m.local.Ping()
			}
		}

	case refreshMsg:
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()
		return m, m.waitUpdate()

	case noticeMsg:
		m.notice = msg.Text
		m.noticeErr = msg.Err
		return m, m.waitNotice()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit handles one line of input: a slash command or message text.
func (m chatModel) submit(input string) chatModel {
	if strings.HasPrefix(input, "/") {
		return m.runCommand(input)
	}

	m.local.Flush()
	_, err := m.box.Send(m.ctx, input, m.replyTo)
	if err != nil {
		return m.fail(err)
	}
	m.replyTo = ""
	m.notice = ""
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
	return m
}

func (m chatModel) runCommand(input string) chatModel {
	fields := strings.Fields(input)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "/help":
		m.notice = "commands: /reply N · /edit N text · /delete N · /react N emoji · /retry N · /file path · /close · /quit"
		m.noticeErr = false
		return m

	case "/reply":
		if len(args) < 1 {
			return m.usage("/reply N")
		}
		id, ok := m.resolveTarget(args[0])
		if !ok {
			return m.unknownTarget(args[0])
		}
		m.replyTo = id
		m.notice = "replying, Esc to cancel"
		m.noticeErr = false
		return m

	case "/edit":
		if len(args) < 2 {
			return m.usage("/edit N new text")
		}
		id, ok := m.resolveTarget(args[0])
		if !ok {
			return m.unknownTarget(args[0])
		}
		if err := m.box.Edit(id, strings.Join(args[1:], " ")); err != nil {
			return m.fail(err)
		}

	case "/delete":
		if len(args) < 1 {
			return m.usage("/delete N")
		}
		id, ok := m.resolveTarget(args[0])
		if !ok {
			return m.unknownTarget(args[0])
		}
		if err := m.box.Delete(m.ctx, id); err != nil {
			return m.fail(err)
		}

	case "/react":
		if len(args) < 2 {
			return m.usage("/react N emoji")
		}
		id, ok := m.resolveTarget(args[0])
		if !ok {
			return m.unknownTarget(args[0])
		}
		if err := m.box.React(id, args[1]); err != nil {
			return m.fail(err)
		}

	case "/retry":
		if len(args) < 1 {
			return m.usage("/retry N")
		}
		id, ok := m.resolveTarget(args[0])
		if !ok {
			return m.unknownTarget(args[0])
		}
		if _, err := m.box.Retry(m.ctx, id); err != nil {
			return m.fail(err)
		}

	case "/file":
		if len(args) < 1 {
			return m.usage("/file path")
		}
		return m.sendFile(strings.Join(args, " "))

	case "/close":
		room := m.sess.Room()
		if room == "" {
			m.notice = "no open conversation"
			m.noticeErr = true
			return m
		}
		if err := m.closer.DeleteRoom(m.ctx, room); err != nil {
			return m.fail(err)
		}
		// The server confirms with a room-deleted broadcast.
		m.notice = "closing conversation..."
		m.noticeErr = false
		return m

	default:
		m.notice = "unknown command " + cmd + ", try /help"
		m.noticeErr = true
		return m
	}

	m.notice = ""
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
	return m
}

func (m chatModel) sendFile(path string) chatModel {
	f, err := os.Open(path)
	if err != nil {
		return m.fail(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return m.fail(err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	if _, err := m.box.UploadAttachment(m.ctx, filepath.Base(path), mimeType, f, info.Size()); err != nil {
		return m.fail(err)
	}
	m.notice = ""
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
	return m
}

// resolveTarget accepts either a full message id or a position counted
// back from the newest visible message, 1 being the newest.
func (m chatModel) resolveTarget(arg string) (string, bool) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		_, ok := m.store.Get(arg)
		return arg, ok
	}

	var flat []store.Message
	for _, sec := range m.store.View() {
		flat = append(flat, sec.Messages...)
	}
	if n < 1 || n > len(flat) {
		return "", false
	}
	return flat[len(flat)-n].ID, true
}

func (m chatModel) usage(text string) chatModel {
	m.notice = "usage: " + text
	m.noticeErr = true
	return m
}

func (m chatModel) unknownTarget(arg string) chatModel {
	m.notice = "no message " + arg
	m.noticeErr = true
	return m
}

func (m chatModel) fail(err error) chatModel {
	m.notice = err.Error()
	m.noticeErr = true
	return m
}

func (m chatModel) View() string {
	if !m.ready {
		return "\n  Connecting..."
	}

	header := TitleStyle.Render(fmt.Sprintf(" %s %s", Logo, m.title))
	divider := DimStyle.Render(strings.Repeat("─", m.width))

	inputLine := " " + m.input.View()
	statusBar := m.renderStatusBar()

	return header + "\n" +
		divider + "\n" +
		m.viewport.View() + "\n" +
		divider + "\n" +
		inputLine + "\n" +
		statusBar
}

func (m chatModel) renderHistory() string {
	sections := m.store.View()
	if len(sections) == 0 {
		return m.renderWelcome()
	}

	var sb strings.Builder
	for _, sec := range sections {
		sb.WriteString("\n  " + DimStyle.Render("── "+dayLabel(sec.Date)+" ──") + "\n")
		for _, msg := range sec.Messages {
			sb.WriteString(m.renderMessage(msg))
		}
	}
	return sb.String()
}

func (m chatModel) renderMessage(msg store.Message) string {
	var sb strings.Builder
	sb.WriteString("\n")

	ts := DimStyle.Render(msg.Timestamp.Local().Format("15:04"))
	label := OtherLabel.Render(senderName(msg))
	if msg.Sender == store.SenderSelf {
		label = SelfLabel.Render("You")
	}
	sb.WriteString("  " + ts + " " + label + statusMark(msg) + "\n")

	if msg.Reply != nil {
		sb.WriteString("  " + DimStyle.Render("┌ "+msg.Reply.Snippet) + "\n")
	}

	switch {
	case msg.Deleted:
		sb.WriteString("  " + FadeStyle.Render("message deleted") + "\n")
	case msg.Attachment != nil:
		glyph := "📎"
		if msg.Attachment.IsImage() {
			glyph = "🖼"
		}
		sb.WriteString(fmt.Sprintf("  %s %s %s\n", glyph, msg.Attachment.Name, DimStyle.Render(msg.Attachment.URL)))
	default:
		for _, line := range strings.Split(msg.Content, "\n") {
			sb.WriteString("  " + line + "\n")
		}
	}

	if msg.Edited && !msg.Deleted {
		sb.WriteString("  " + FadeStyle.Render("(edited)") + "\n")
	}
	if line := reactionLine(msg); line != "" {
		sb.WriteString("  " + line + "\n")
	}
	return sb.String()
}

func (m chatModel) renderWelcome() string {
	var sb strings.Builder
	sb.WriteString("\n\n")
	sb.WriteString("  " + BoldStyle.Render("No messages yet.") + "\n")
	sb.WriteString(DimStyle.Render("  Say hello, or /help for commands.") + "\n")
	return sb.String()
}

func (m chatModel) renderStatusBar() string {
	left := " " + m.connectionLabel()
	if m.notice != "" {
		style := DimStyle
		if m.noticeErr {
			style = ErrStyle
		}
		left += "  " + style.Render(m.notice)
	} else if m.replyTo != "" {
		left += "  " + DimStyle.Render("replying...")
	}

	right := ""
	if name := m.sess.RemoteTyping(); name != "" {
		right = FadeStyle.Render(name+" is typing...") + " "
	}

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func (m chatModel) connectionLabel() string {
	if !m.sess.Connected() {
		return m.spinner.View() + DimStyle.Render(" reconnecting")
	}
	switch m.sess.State() {
	case session.StateJoined:
		return OkStyle.Render("●") + DimStyle.Render(" connected")
	case session.StateLeft:
		return ErrStyle.Render("●") + DimStyle.Render(" conversation closed")
	default:
		return m.spinner.View() + DimStyle.Render(" joining")
	}
}

func senderName(msg store.Message) string {
	if msg.SenderName != "" {
		return msg.SenderName
	}
	return "Them"
}

func statusMark(msg store.Message) string {
	if msg.Sender != store.SenderSelf {
		return ""
	}
	switch msg.Status {
	case store.StatusPending:
		return DimStyle.Render(" …")
	case store.StatusFailed:
		return ErrStyle.Render(" ✗ failed, /retry")
	case store.StatusRead:
		return OkStyle.Render(" ✓✓")
	default:
		return DimStyle.Render(" ✓")
	}
}

func reactionLine(msg store.Message) string {
	if len(msg.Reactions) == 0 {
		return ""
	}
	var parts []string
	for emoji, who := range msg.Reactions {
		if len(who) == 0 {
			continue
		}
		if len(who) > 1 {
			parts = append(parts, fmt.Sprintf("%s×%d", emoji, len(who)))
		} else {
			parts = append(parts, emoji)
		}
	}
	return strings.Join(parts, " ")
}

func isExitCmd(s string) bool {
	s = strings.ToLower(s)
	return s == "/exit" || s == "/quit" || s == ":q"
}

func dayLabel(day time.Time) string {
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return day.Format("Mon, Jan 2 2006")
	}
}

// RunChat starts the interactive chat TUI.
func RunChat(ctx context.Context, cfg ChatConfig) error {
	m := newChatModel(ctx, cfg)
	p := tea.NewProgram(m, tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	_, err := p.Run()
	return err
}
