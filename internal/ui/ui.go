// Package ui renders the room multiplexer and call state in a terminal
// interface built on gocui: a rooms pane with unread badges, the active
// room's roster and history, a status bar and a command input line.
package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jroimartin/gocui"
	"github.com/rs/zerolog"

	"github.com/jensenmasan/NodeCrypt/internal/call"
	"github.com/jensenmasan/NodeCrypt/internal/protocol"
	"github.com/jensenmasan/NodeCrypt/internal/room"
)

const (
	msgView    = "messages"
	inputView  = "input"
	statusView = "status"
	userView   = "users"
	roomView   = "rooms"
	helpView   = "help"
)

// ChatUI drives the terminal interface. All rendering goes through
// gui.Update, which is safe to call from channel delivery goroutines and
// call coordinator callbacks.
type ChatUI struct {
	gui      *gocui.Gui
	store    *room.Store
	calls    *call.Coordinator
	logger   zerolog.Logger
	userName string

	showHelp bool
}

// New creates the UI shell. The room store and call coordinator are wired
// afterwards via Bind, because they need the UI as a sink themselves.
func New(userName string, logger zerolog.Logger) (*ChatUI, error) {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return nil, err
	}

	ui := &ChatUI{
		gui:      g,
		logger:   logger.With().Str("component", "ui").Logger(),
		userName: userName,
	}
	g.SetManagerFunc(ui.layout)
	return ui, nil
}

// Bind attaches the room store and call coordinator the UI issues commands
// against. Must be called before Run.
func (ui *ChatUI) Bind(store *room.Store, calls *call.Coordinator) {
	ui.store = store
	ui.calls = calls
}

func (ui *ChatUI) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()

	sidebarWidth := 24
	msgWidth := maxX - sidebarWidth - 1
	msgHeight := maxY - 5
	roomHeight := 8

	if v, err := g.SetView(msgView, 0, 0, msgWidth, msgHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Messages"
		v.Wrap = true
		v.Autoscroll = true
	}

	if v, err := g.SetView(roomView, msgWidth+1, 0, maxX-1, roomHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Rooms"
		v.Wrap = true
	}

	if v, err := g.SetView(userView, msgWidth+1, roomHeight+1, maxX-1, msgHeight); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Participants"
		v.Wrap = true
	}

	if v, err := g.SetView(statusView, 0, msgHeight+1, maxX-1, msgHeight+3); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Status"
		v.Wrap = true
	}

	if v, err := g.SetView(inputView, 0, msgHeight+3, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Input"
		v.Editable = true
		v.Wrap = true

		if _, err := g.SetCurrentView(inputView); err != nil {
			return err
		}
	}

	if ui.showHelp {
		if v, err := g.SetView(helpView, maxX/6, maxY/6, maxX*5/6, maxY*5/6); err != nil {
			if err != gocui.ErrUnknownView {
				return err
			}
			v.Title = "Help"
			fmt.Fprintln(v, `Commands:
/join <room> [password]   - Join (or create) a room
/switch <n>               - Make room n active
/exit                     - Leave the active room
/pm <user>                - Pin/unpin a private target
/call <user> [video]      - Call a user
/accept  /reject          - Answer an incoming call
/hangup                   - End the current call
/send <path>              - Send a file to the room
/effect <name>            - Trigger a room effect
/quit                     - Exit

Keybindings:
Ctrl-C  - Quit            Ctrl-H  - Toggle help
Ctrl-N  - Next room       Enter   - Send`)
		}
	} else {
		_ = g.DeleteView(helpView)
	}

	return nil
}

// ── room.UI ──────────────────────────────────────────────────────────────

func (ui *ChatUI) RoomsChanged() {
	ui.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(roomView)
		if err != nil {
			return err
		}
		v.Clear()
		active, _ := ui.store.Active()
		for i, s := range ui.store.Sessions() {
			prefix := "  "
			if s == active {
				prefix = "* "
			}
			badge := ""
			if n := s.UnreadCount(); n > 0 {
				badge = fmt.Sprintf(" (%d)", n)
			}
			fmt.Fprintf(v, "%s%d %s%s\n", prefix, i+1, s.RoomName, badge)
		}
		return nil
	})
}

func (ui *ChatUI) ActiveRoomChanged(s *room.Session) {
	ui.RoomsChanged()
	ui.RosterChanged(s)
	ui.redrawMessages(s)
	ui.redrawStatus()
}

func (ui *ChatUI) RosterChanged(s *room.Session) {
	ui.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(userView)
		if err != nil {
			return err
		}
		v.Clear()
		pinID, _ := s.PrivateTarget()
		for _, u := range s.Users() {
			mark := " "
			if u.ClientID == pinID {
				mark = ">"
			}
			lock := ""
			if u.SharedSecretPresent {
				lock = " *"
			}
			fmt.Fprintf(v, "%s %s%s\n", mark, u.UserName, lock)
		}
		return nil
	})
	ui.redrawStatus()
}

func (ui *ChatUI) MessageAppended(_ *room.Session, m *room.Message) {
	ui.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(msgView)
		if err != nil {
			return err
		}
		fmt.Fprintln(v, formatMessage(m))
		return nil
	})
}

func (ui *ChatUI) TransientNotice(_ *room.Session, text string) {
	ui.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(msgView)
		if err != nil {
			return err
		}
		fmt.Fprintf(v, "  ~ %s\n", text)
		return nil
	})
}

func (ui *ChatUI) TransferUpdated(_ *room.Session, t room.Transfer) {
	label := t.FileName
	if t.Done {
		ui.flash(fmt.Sprintf("file %s complete", label))
		return
	}
	ui.flash(fmt.Sprintf("file %s: %d/%d chunks", label, t.ReceivedChunks, t.TotalChunks))
}

func (ui *ChatUI) Notify(roomName, kind, text, sender string) {
	ui.flash(fmt.Sprintf("[%s] %s from %s: %s", roomName, kind, sender, text))
}

// ── call events ──────────────────────────────────────────────────────────

// CallEvents builds the coordinator event sink for this UI.
func (ui *ChatUI) CallEvents() call.Events {
	return call.Events{
		OnIncoming: func(_, peerName string, video bool) {
			kind := "voice"
			if video {
				kind = "video"
			}
			ui.appendLine(fmt.Sprintf("** incoming %s call from %s — /accept or /reject", kind, peerName))
		},
		OnStateChange: func(call.State, string) {
			ui.redrawStatus()
		},
		OnEnded: func(reason string) {
			ui.appendLine("** call ended: " + reason)
		},
	}
}

// ── commands ─────────────────────────────────────────────────────────────

func (ui *ChatUI) keybindings() error {
	if err := ui.gui.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone,
		func(*gocui.Gui, *gocui.View) error { return gocui.ErrQuit }); err != nil {
		return err
	}
	if err := ui.gui.SetKeybinding("", gocui.KeyCtrlH, gocui.ModNone,
		func(*gocui.Gui, *gocui.View) error {
			ui.showHelp = !ui.showHelp
			return nil
		}); err != nil {
		return err
	}
	if err := ui.gui.SetKeybinding("", gocui.KeyCtrlN, gocui.ModNone,
		func(*gocui.Gui, *gocui.View) error {
			ui.cycleRoom()
			return nil
		}); err != nil {
		return err
	}
	return ui.gui.SetKeybinding(inputView, gocui.KeyEnter, gocui.ModNone, ui.handleInput)
}

func (ui *ChatUI) handleInput(_ *gocui.Gui, v *gocui.View) error {
	input := strings.TrimSpace(v.Buffer())
	v.Clear()
	_ = v.SetCursor(0, 0)
	if input == "" {
		return nil
	}

	if strings.HasPrefix(input, "/") {
		ui.handleCommand(input)
		return nil
	}

	active, _ := ui.store.Active()
	if active == nil {
		ui.flash("no active room — /join first")
		return nil
	}
	if err := ui.store.SendUserAction(active, protocol.TypeText, input); err != nil {
		ui.flash(err.Error())
	}
	return nil
}

func (ui *ChatUI) handleCommand(input string) {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help":
		ui.showHelp = !ui.showHelp

	case "/quit":
		ui.gui.Update(func(*gocui.Gui) error { return gocui.ErrQuit })

	case "/join":
		if len(args) < 1 {
			ui.flash("usage: /join <room> [password]")
			return
		}
		password := ""
		if len(args) > 1 {
			password = args[1]
		}
		if _, err := ui.store.CreateRoom(ui.userName, args[0], password); err != nil {
			ui.flash(err.Error())
		}

	case "/switch":
		if len(args) != 1 {
			ui.flash("usage: /switch <n>")
			return
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			ui.flash("usage: /switch <n>")
			return
		}
		if err := ui.store.SwitchActive(n - 1); err != nil {
			ui.flash(err.Error())
		}

	case "/exit":
		if !ui.store.ExitActive() {
			ui.appendLine("** left the last room")
		}

	case "/pm":
		if len(args) != 1 {
			ui.flash("usage: /pm <user>")
			return
		}
		active, _ := ui.store.Active()
		if active == nil {
			ui.flash("no active room")
			return
		}
		u, ok := ui.findUser(active, args[0])
		if !ok {
			ui.flash("no such user: " + args[0])
			return
		}
		if err := ui.store.TogglePrivateTarget(active, u.ClientID); err != nil {
			ui.flash(err.Error())
		}
		ui.RosterChanged(active)

	case "/call":
		if len(args) < 1 {
			ui.flash("usage: /call <user> [video]")
			return
		}
		active, _ := ui.store.Active()
		if active == nil {
			ui.flash("no active room")
			return
		}
		u, ok := ui.findUser(active, args[0])
		if !ok {
			ui.flash("no such user: " + args[0])
			return
		}
		video := len(args) > 1 && args[1] == "video"
		go func() {
			if err := ui.calls.StartCall(u.ClientID, u.UserName, video); err != nil {
				ui.flash(err.Error())
			}
		}()

	case "/accept":
		go func() {
			if err := ui.calls.Accept(); err != nil {
				ui.flash(err.Error())
			}
		}()

	case "/reject":
		if err := ui.calls.Reject(); err != nil {
			ui.flash(err.Error())
		}

	case "/hangup":
		ui.calls.HangUp()

	case "/send":
		if len(args) != 1 {
			ui.flash("usage: /send <path>")
			return
		}
		active, _ := ui.store.Active()
		if active == nil {
			ui.flash("no active room")
			return
		}
		go func() {
			if err := ui.store.SendFile(active, args[0]); err != nil {
				ui.flash(err.Error())
			}
		}()

	case "/effect":
		if len(args) != 1 {
			ui.flash("usage: /effect <name>")
			return
		}
		active, _ := ui.store.Active()
		if active == nil {
			ui.flash("no active room")
			return
		}
		if err := ui.store.TriggerEffect(active, args[0]); err != nil {
			ui.flash(err.Error())
		}

	default:
		ui.flash("unknown command " + cmd)
	}
}

func (ui *ChatUI) findUser(s *room.Session, name string) (room.UserRecord, bool) {
	for _, u := range s.Users() {
		if u.UserName == name && u.ClientID != s.MyUserID() {
			return u, true
		}
	}
	return room.UserRecord{}, false
}

func (ui *ChatUI) cycleRoom() {
	sessions := ui.store.Sessions()
	if len(sessions) < 2 {
		return
	}
	_, idx := ui.store.Active()
	_ = ui.store.SwitchActive((idx + 1) % len(sessions))
}

// ── rendering ────────────────────────────────────────────────────────────

func (ui *ChatUI) redrawMessages(s *room.Session) {
	ui.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(msgView)
		if err != nil {
			return err
		}
		v.Clear()
		for _, m := range s.Messages() {
			fmt.Fprintln(v, formatMessage(m))
		}
		return nil
	})
}

func (ui *ChatUI) redrawStatus() {
	ui.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(statusView)
		if err != nil {
			return err
		}
		v.Clear()
		fmt.Fprint(v, ui.statusLine())
		return nil
	})
}

func (ui *ChatUI) statusLine() string {
	var parts []string
	active, _ := ui.store.Active()
	if active == nil {
		parts = append(parts, "no room")
	} else {
		state := "connecting"
		if active.Secured() {
			state = "secured"
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", active.RoomName, state))
		if _, name := active.PrivateTarget(); name != "" {
			parts = append(parts, "pm: "+name)
		}
	}
	if st := ui.calls.State(); st != call.StateIdle {
		parts = append(parts, "call: "+st.String())
	}
	parts = append(parts, "Ctrl-H: help")
	return strings.Join(parts, " | ")
}

// flash replaces the status bar content with a one-off message.
func (ui *ChatUI) flash(text string) {
	ui.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(statusView)
		if err != nil {
			return err
		}
		v.Clear()
		fmt.Fprint(v, text)
		return nil
	})
}

// appendLine writes a line into the message pane outside room history.
func (ui *ChatUI) appendLine(text string) {
	ui.gui.Update(func(g *gocui.Gui) error {
		v, err := g.View(msgView)
		if err != nil {
			return err
		}
		fmt.Fprintln(v, text)
		return nil
	})
}

func formatMessage(m *room.Message) string {
	stamp := m.Timestamp.Format("15:04")
	if m.Kind == room.KindSystem {
		text, _ := m.Data.(string)
		return fmt.Sprintf("[%s] -- %s", stamp, text)
	}

	base := protocol.BaseType(m.Type)
	tag := ""
	if protocol.IsPrivate(m.Type) {
		tag = " (private)"
	}
	switch base {
	case protocol.TypeText:
		text, _ := m.Data.(string)
		return fmt.Sprintf("[%s] %s%s: %s", stamp, m.Sender, tag, text)
	case protocol.TypeImage:
		return fmt.Sprintf("[%s] %s%s sent an image", stamp, m.Sender, tag)
	case protocol.TypeVoice:
		return fmt.Sprintf("[%s] %s%s sent a voice message", stamp, m.Sender, tag)
	case protocol.TypeFileStart, "file":
		name := "a file"
		if meta, ok := m.Data.(protocol.FileMeta); ok && meta.FileName != "" {
			name = meta.FileName
		}
		return fmt.Sprintf("[%s] %s%s is sending %s", stamp, m.Sender, tag, name)
	default:
		return fmt.Sprintf("[%s] %s%s: [%s]", stamp, m.Sender, tag, base)
	}
}

// Run enters the main loop and blocks until quit.
func (ui *ChatUI) Run() error {
	if err := ui.keybindings(); err != nil {
		return err
	}
	if err := ui.gui.MainLoop(); err != nil && err != gocui.ErrQuit {
		return err
	}
	return nil
}

func (ui *ChatUI) Close() {
	ui.gui.Close()
}
