// Package tui is the interactive list view: keyboard CRUD plus mouse-drag
// reorder/reparent. Dragging horizontally past the nesting threshold nests
// the dragged item under the row above it, mirroring the touch app this
// interface descends from.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"koinonia/internal/drag"
	"koinonia/internal/list"
	"koinonia/internal/model"
	"koinonia/internal/sync"
)

// cellsPerLevel maps terminal columns to the interpreter's pixel-based
// nesting threshold: dragging four cells sideways is one nesting level.
const cellsPerLevel = 4

// headerRows is the number of lines above the first item row in View.
const headerRows = 2

type mode int

const (
	modeBrowse mode = iota
	modeAdd
	modeEdit
)

type itemsMsg []model.Item
type connMsg bool
type peersChangedMsg int

// Options configures Run.
type Options struct {
	RoomID   string
	Store    *list.Store
	Provider *sync.Provider // nil when offline
	// OnExit runs after the program stops, before Run returns (snapshot
	// persistence lives here).
	OnExit func()
}

type appModel struct {
	roomID    string
	store     *list.Store
	interp    *drag.Interpreter
	items     []model.Item
	collapsed map[string]bool

	cursor int
	mode   mode
	input  textinput.Model
	editID string

	connected bool
	peers     int

	dragStartX int
	dragRow    int
	dragMoved  bool

	width  int
	height int
}

func newAppModel(opts Options) *appModel {
	m := &appModel{
		roomID:    opts.RoomID,
		store:     opts.Store,
		collapsed: map[string]bool{},
		items:     opts.Store.Items(),
	}
	if opts.Provider != nil {
		m.connected = opts.Provider.Connected()
		m.peers = opts.Provider.PeerCount()
	}
	m.input = textinput.New()
	m.input.Placeholder = "item name"
	m.input.CharLimit = 200
	m.interp = drag.New(
		opts.Store,
		func() []model.FlatItem { return list.Flatten(m.items, m.collapsed) },
		func(id string) { m.collapsed[id] = true },
	)
	return m
}

func (m *appModel) rows() []model.FlatItem {
	return list.Flatten(m.items, m.collapsed)
}

func (m *appModel) Init() tea.Cmd { return nil }

func (m *appModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case itemsMsg:
		m.items = msg
		m.clampCursor()
		return m, nil

	case connMsg:
		m.connected = bool(msg)
		return m, nil

	case peersChangedMsg:
		m.peers = int(msg)
		return m, nil

	case tea.MouseMsg:
		return m.updateMouse(msg)

	case tea.KeyMsg:
		if m.mode != modeBrowse {
			return m.updateInput(msg)
		}
		return m.updateBrowse(msg)
	}
	return m, nil
}

func (m *appModel) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	rows := m.rows()
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(rows)-1 {
			m.cursor++
		}
	case "a":
		m.mode = modeAdd
		m.input.SetValue("")
		m.input.Focus()
		return m, textinput.Blink
	case "e":
		if r, ok := m.cursorRow(rows); ok {
			m.mode = modeEdit
			m.editID = r.Item.ID
			m.input.SetValue(r.Item.Name)
			m.input.Focus()
			return m, textinput.Blink
		}
	case " ", "x":
		if r, ok := m.cursorRow(rows); ok {
			m.store.Toggle(r.Item.ID)
		}
	case "d", "backspace":
		if r, ok := m.cursorRow(rows); ok {
			m.store.Remove(r.Item.ID)
		}
	case "tab", "c":
		if r, ok := m.cursorRow(rows); ok && r.HasChildren {
			if m.collapsed[r.Item.ID] {
				delete(m.collapsed, r.Item.ID)
			} else {
				m.collapsed[r.Item.ID] = true
			}
		}
	}
	return m, nil
}

func (m *appModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeBrowse
		m.input.Blur()
		return m, nil
	case "enter":
		name := strings.TrimSpace(m.input.Value())
		switch {
		case name == "":
		case m.mode == modeAdd:
			m.store.Add(name, false, nil)
		case m.mode == modeEdit:
			m.store.Update(m.editID, list.Updates{Name: &name})
		}
		m.mode = modeBrowse
		m.editID = ""
		m.input.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// updateMouse drives the drag interpreter: press starts a drag on the hit
// row, motion feeds horizontal offset plus the hovered row, release
// commits. Everything between press and release stays store-free.
func (m *appModel) updateMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	rows := m.rows()
	row := msg.Y - headerRows

	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button != tea.MouseButtonLeft {
			return m, nil
		}
		if row < 0 || row >= len(rows) {
			return m, nil
		}
		m.cursor = row
		m.dragStartX = msg.X
		m.dragRow = row
		m.dragMoved = false
		m.interp.Start(rows[row].Item.ID)

	case tea.MouseActionMotion:
		if !m.interp.Dragging() {
			return m, nil
		}
		overID := ""
		if row >= 0 && row < len(rows) {
			if row != m.dragRow {
				m.dragMoved = true
			}
			overID = rows[row].Item.ID
			m.dragRow = row
			m.cursor = row
		}
		if msg.X != m.dragStartX {
			m.dragMoved = true
		}
		offsetX := float64(msg.X-m.dragStartX) * (drag.NestThreshold / cellsPerLevel)
		m.interp.Move(offsetX, overID)

	case tea.MouseActionRelease:
		if !m.interp.Dragging() {
			return m, nil
		}
		if !m.dragMoved {
			// A click, not a drag.
			m.interp.Cancel()
			return m, nil
		}
		m.interp.End()
	}
	return m, nil
}

func (m *appModel) cursorRow(rows []model.FlatItem) (model.FlatItem, bool) {
	if m.cursor < 0 || m.cursor >= len(rows) {
		return model.FlatItem{}, false
	}
	return rows[m.cursor], true
}

func (m *appModel) clampCursor() {
	n := len(m.rows())
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *appModel) View() string {
	var b strings.Builder

	status := disconnectedStyle.Render("offline")
	if m.connected {
		status = connectedStyle.Render(fmt.Sprintf("connected · %d peer(s)", m.peers))
	}
	b.WriteString(titleStyle.Render("koinonia") + "  " + headerStyle.Render(m.roomID) + "  " + status + "\n")
	b.WriteString(headerStyle.Render(strings.Repeat("─", maxInt(20, m.width))) + "\n")

	rows := m.rows()
	if len(rows) == 0 {
		b.WriteString(helpStyle.Render("No items yet. Press 'a' to add the first one.") + "\n")
	}
	for i, r := range rows {
		b.WriteString(m.renderRow(i, r) + "\n")
	}

	switch m.mode {
	case modeAdd:
		b.WriteString("\nadd: " + m.input.View() + "\n")
	case modeEdit:
		b.WriteString("\nedit: " + m.input.View() + "\n")
	default:
		b.WriteString("\n" + helpStyle.Render("a add · space toggle · e edit · d delete · tab fold · drag to move · q quit") + "\n")
	}
	return b.String()
}

func (m *appModel) renderRow(i int, r model.FlatItem) string {
	var b strings.Builder

	if i == m.cursor {
		b.WriteString(cursorStyle.Render("> "))
	} else {
		b.WriteString("  ")
	}
	if r.Depth == 1 {
		b.WriteString("    ")
	}

	switch {
	case r.HasChildren && m.collapsed[r.Item.ID]:
		b.WriteString("▸ ")
	case r.HasChildren:
		b.WriteString("▾ ")
	default:
		b.WriteString("  ")
	}

	if r.Item.Checked {
		b.WriteString("[x] ")
	} else {
		b.WriteString("[ ] ")
	}

	name := r.Item.Name
	switch {
	case m.interp.ActiveID() == r.Item.ID:
		name = draggedStyle.Render(name)
	case r.Item.Checked:
		name = checkedStyle.Render(name)
	}
	b.WriteString(name)

	if r.Item.AddedBy != nil && *r.Item.AddedBy != "" {
		b.WriteString(headerStyle.Render("  · " + *r.Item.AddedBy))
	}
	return b.String()
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Run starts the TUI and blocks until the user quits.
func Run(ctx context.Context, opts Options) error {
	applyColorProfile()
	m := newAppModel(opts)
	p := tea.NewProgram(m, tea.WithContext(ctx), tea.WithAltScreen(), tea.WithMouseCellMotion())

	unsubscribeItems := opts.Store.OnChange(func(items []model.Item) {
		p.Send(itemsMsg(items))
	})
	defer unsubscribeItems()

	if opts.Provider != nil {
		unConn := opts.Provider.OnConnectionChange(func(c bool) { p.Send(connMsg(c)) })
		defer unConn()
		unPeers := opts.Provider.OnPeersChange(func(n int) { p.Send(peersChangedMsg(n)) })
		defer unPeers()
	}

	_, err := p.Run()
	if opts.OnExit != nil {
		opts.OnExit()
	}
	return err
}
