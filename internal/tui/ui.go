package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/exelr/roomcast"
	"github.com/jroimartin/gocui"
	"go.uber.org/zap"
)

// Controller is the part of a session the terminal drives.
type Controller interface {
	SendChat(text string, roomID int) error
	SelectRoom(id int) error
	JoinRoom(id int) error
	LeaveRoom(id int) error
	AvailableRooms() []roomcast.Room
}

var _ Controller = (*roomcast.Session)(nil)

const (
	tabsView     = "tabs"
	messagesView = "messages"
	roomsView    = "rooms"
	statusView   = "status"
	inputView    = "input"
	helpView     = "help"
)

const helpText = `Commands:
/join <id>        - Join an advertised room
/leave [id]       - Leave a room (default: current tab)
/select <header>  - Switch to the tab with that header
/rooms            - List advertised rooms
/help             - Toggle this help
/quit             - Log off and exit

Keybindings:
Tab               - Next room
Enter             - Send to the current room
Ctrl-C            - Quit`

// ChatUI is the terminal presenter. Session events update the Board and
// schedule a redraw; input lines become chat or commands.
type ChatUI struct {
	gui      *gocui.Gui
	board    *Board
	username string
	server   string
	logger   *zap.Logger

	ctrlMx sync.RWMutex
	ctrl   Controller

	helpMx   sync.Mutex
	showHelp bool
}

var (
	_ roomcast.Presenter           = (*ChatUI)(nil)
	_ roomcast.ChannelLostObserver = (*ChatUI)(nil)
	_ roomcast.ErrorObserver       = (*ChatUI)(nil)
)

func newChatUI(username, server string, logger *zap.Logger) *ChatUI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatUI{
		board:    NewBoard(DefaultHistory),
		username: username,
		server:   server,
		logger:   logger,
	}
}

// New takes over the terminal. Close must be called to restore it.
func New(username, server string, logger *zap.Logger) (*ChatUI, error) {
	g, err := gocui.NewGui(gocui.OutputNormal)
	if err != nil {
		return nil, err
	}
	var ui = newChatUI(username, server, logger)
	ui.gui = g
	g.Cursor = true
	g.SetManagerFunc(ui.layout)
	if err := ui.keybindings(); err != nil {
		g.Close()
		return nil, err
	}
	ui.board.SetStatus(fmt.Sprintf("%s @ %s | Tab: next room | /help", username, server))
	return ui, nil
}

func (ui *ChatUI) Bind(ctrl Controller) {
	ui.ctrlMx.Lock()
	defer ui.ctrlMx.Unlock()
	ui.ctrl = ctrl
}

func (ui *ChatUI) controller() (Controller, error) {
	ui.ctrlMx.RLock()
	defer ui.ctrlMx.RUnlock()
	if ui.ctrl == nil {
		return nil, errors.New("not connected")
	}
	return ui.ctrl, nil
}

func (ui *ChatUI) Board() *Board {
	return ui.board
}

// Run blocks until the user quits.
func (ui *ChatUI) Run() error {
	if err := ui.gui.MainLoop(); err != nil && !errors.Is(err, gocui.ErrQuit) {
		return err
	}
	return nil
}

// Stop makes a running Run return. Close must still be called afterwards.
func (ui *ChatUI) Stop() {
	if ui.gui != nil {
		ui.gui.Update(func(*gocui.Gui) error {
			return gocui.ErrQuit
		})
	}
}

func (ui *ChatUI) Close() {
	ui.gui.Close()
}

func (ui *ChatUI) refresh() {
	if ui.gui != nil {
		ui.gui.Update(ui.render)
	}
}

func (ui *ChatUI) ChatLine(text string, roomID int) {
	ui.board.AddLine(roomID, text)
	ui.refresh()
}

func (ui *ChatUI) RoomAdded(header string, roomID int) {
	ui.board.AddTab(roomcast.Room{ID: roomID, Header: header})
	ui.refresh()
}

func (ui *ChatUI) RoomRemoved(header string, roomID int) {
	ui.board.RemoveTab(roomID)
	ui.board.SetStatus(fmt.Sprintf("room %s closed", header))
	ui.refresh()
}

func (ui *ChatUI) RoomsSynced(available []roomcast.Room) {
	ui.board.SetAvailable(available)
	ui.refresh()
}

func (ui *ChatUI) ChannelLost(err error) {
	ui.board.SetStatus("connection lost: " + err.Error())
	ui.refresh()
}

func (ui *ChatUI) ErrorReported(err error) {
	ui.board.SetStatus("error: " + err.Error())
	ui.refresh()
}

// execute handles one input line. It returns gocui.ErrQuit for /quit.
func (ui *ChatUI) execute(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	ctrl, err := ui.controller()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(line, "/") {
		room, ok := ui.board.Current()
		if !ok {
			return roomcast.ErrNoRoomSelected
		}
		return ctrl.SendChat(line, room.ID)
	}

	var name, arg, _ = strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "quit", "exit":
		return gocui.ErrQuit
	case "help":
		ui.helpMx.Lock()
		ui.showHelp = !ui.showHelp
		ui.helpMx.Unlock()
		return nil
	case "rooms":
		var names []string
		for _, r := range ctrl.AvailableRooms() {
			names = append(names, r.String())
		}
		ui.board.SetStatus("rooms: " + strings.Join(names, ", "))
		return nil
	case "join":
		id, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("usage: /join <id>")
		}
		if err := ctrl.JoinRoom(id); err != nil {
			return err
		}
		ui.board.Focus(id)
		return ctrl.SelectRoom(id)
	case "leave":
		var id int
		if arg == "" {
			room, ok := ui.board.Current()
			if !ok {
				return roomcast.ErrNoRoomSelected
			}
			id = room.ID
		} else if id, err = strconv.Atoi(arg); err != nil {
			return fmt.Errorf("usage: /leave [id]")
		}
		return ctrl.LeaveRoom(id)
	case "select":
		for _, r := range ui.board.Tabs() {
			if r.Header == arg {
				ui.board.Focus(r.ID)
				return ctrl.SelectRoom(r.ID)
			}
		}
		return fmt.Errorf("%w: %q", roomcast.ErrRoomNotFound, arg)
	default:
		return fmt.Errorf("unknown command /%s", name)
	}
}

// nextRoom cycles the current tab and keeps the session selection in step.
func (ui *ChatUI) nextRoom() error {
	room, ok := ui.board.Next()
	if !ok {
		return nil
	}
	ctrl, err := ui.controller()
	if err != nil {
		return err
	}
	return ctrl.SelectRoom(room.ID)
}

func (ui *ChatUI) keybindings() error {
	if err := ui.gui.SetKeybinding("", gocui.KeyCtrlC, gocui.ModNone,
		func(_ *gocui.Gui, _ *gocui.View) error {
			return gocui.ErrQuit
		}); err != nil {
		return err
	}
	if err := ui.gui.SetKeybinding("", gocui.KeyTab, gocui.ModNone,
		func(g *gocui.Gui, _ *gocui.View) error {
			if err := ui.nextRoom(); err != nil {
				ui.board.SetStatus("error: " + err.Error())
			}
			return ui.render(g)
		}); err != nil {
		return err
	}
	return ui.gui.SetKeybinding(inputView, gocui.KeyEnter, gocui.ModNone, ui.handleInput)
}

func (ui *ChatUI) handleInput(g *gocui.Gui, v *gocui.View) error {
	var line = v.Buffer()
	v.Clear()
	_ = v.SetCursor(0, 0)
	_ = v.SetOrigin(0, 0)
	if err := ui.execute(line); err != nil {
		if errors.Is(err, gocui.ErrQuit) {
			return err
		}
		ui.logger.Debug("input rejected", zap.Error(err))
		ui.board.SetStatus("error: " + err.Error())
	}
	return ui.render(g)
}

func (ui *ChatUI) layout(g *gocui.Gui) error {
	maxX, maxY := g.Size()
	var sidebar = 24
	var msgRight = maxX - sidebar - 1
	var msgBottom = maxY - 7

	if v, err := g.SetView(tabsView, 0, 0, msgRight, 2); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Rooms"
		v.Frame = true
	}
	if v, err := g.SetView(messagesView, 0, 3, msgRight, msgBottom); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Wrap = true
		v.Autoscroll = true
	}
	if v, err := g.SetView(roomsView, msgRight+1, 0, maxX-1, msgBottom); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Advertised"
	}
	if v, err := g.SetView(statusView, 0, msgBottom+1, maxX-1, msgBottom+3); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = "Status"
	}
	if v, err := g.SetView(inputView, 0, msgBottom+4, maxX-1, maxY-1); err != nil {
		if err != gocui.ErrUnknownView {
			return err
		}
		v.Title = ui.username
		v.Editable = true
		v.Wrap = true
		if _, err := g.SetCurrentView(inputView); err != nil {
			return err
		}
	}

	ui.helpMx.Lock()
	var showHelp = ui.showHelp
	ui.helpMx.Unlock()
	if showHelp {
		if v, err := g.SetView(helpView, maxX/6, maxY/6, maxX*5/6, maxY*5/6); err != nil {
			if err != gocui.ErrUnknownView {
				return err
			}
			v.Title = "Help"
			fmt.Fprintln(v, helpText)
		}
	} else if err := g.DeleteView(helpView); err != nil && err != gocui.ErrUnknownView {
		return err
	}
	return ui.render(g)
}

// render redraws every view from the board. It runs on the gocui loop.
func (ui *ChatUI) render(g *gocui.Gui) error {
	var current, hasCurrent = ui.board.Current()

	if v, err := g.View(tabsView); err == nil {
		v.Clear()
		for _, r := range ui.board.Tabs() {
			if hasCurrent && r.ID == current.ID {
				fmt.Fprintf(v, "[%s] ", r.Header)
			} else {
				fmt.Fprintf(v, " %s  ", r.Header)
			}
		}
	}
	if v, err := g.View(messagesView); err == nil {
		v.Clear()
		if hasCurrent {
			v.Title = current.Header
			for _, line := range ui.board.Lines(current.ID) {
				fmt.Fprintln(v, line)
			}
		} else {
			v.Title = "no room"
		}
	}
	if v, err := g.View(roomsView); err == nil {
		v.Clear()
		var active = make(map[int]bool)
		for _, r := range ui.board.Tabs() {
			active[r.ID] = true
		}
		for _, r := range ui.board.Available() {
			var mark = " "
			if active[r.ID] {
				mark = "*"
			}
			fmt.Fprintf(v, "%s %d %s\n", mark, r.ID, r.Header)
		}
	}
	if v, err := g.View(statusView); err == nil {
		v.Clear()
		fmt.Fprint(v, ui.board.Status())
	}
	return nil
}
