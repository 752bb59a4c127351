// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package watchui

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fleetglass/fleetglass/discovery"
	"github.com/fleetglass/fleetglass/lib/clock"
	"github.com/fleetglass/fleetglass/world"
)

// Tab selects the main list view.
type Tab int

const (
	TabSessions Tab = iota
	TabInstances
)

// FocusRegion is which part of the UI receives navigation keys.
type FocusRegion int

const (
	// FocusList routes keys to the active tab's list.
	FocusList FocusRegion = iota

	// FocusDetail routes keys to the transcript viewport.
	FocusDetail

	// FocusFilter routes keys to the filter input.
	FocusFilter
)

// Layout constants. The chrome is one header line on top and a
// separator plus help line on the bottom; everything between belongs
// to the active tab.
const (
	chromeLines = 3

	// minPaneWidth keeps both panes of the session split usable.
	minPaneWidth = 28

	splitStep = 0.05
	splitMin  = 0.25
	splitMax  = 0.75
)

// logFadeDelay is how long a log line stays in the status bar.
const logFadeDelay = 5 * time.Second

// worldMsg delivers a new world snapshot to the model.
type worldMsg struct {
	state world.WorldState
}

// Model is the bubbletea model for the watch TUI: a sessions tab with
// a list/transcript split, an instances tab with stream diagnostics,
// and a fuzzy filter over the session list. All rendering works off
// the most recent world snapshot; the model holds no connection state
// of its own.
type Model struct {
	source Source
	theme  Theme
	keys   KeyMap
	clock  clock.Clock

	width  int
	height int
	ready  bool

	tab    Tab
	focus  FocusRegion
	filter FilterModel

	state        world.WorldState
	rows         []SessionRow
	scored       []ScoredRow
	instanceRows []InstanceRow

	// Session list cursor. selectedID keeps the selection stable when
	// rows reorder under a refresh.
	cursor       int
	scrollOffset int
	selectedID   string

	// Instances tab cursor.
	instanceCursor   int
	instanceScroll   int
	selectedInstance discovery.InstanceKey

	detail     DetailPane
	splitRatio float64

	// paused is set while the terminal is unfocused and discovery is
	// suspended.
	paused bool

	logLine  string
	logLevel slog.Level
	logSeq   uint64

	// updates carries snapshots from the subscription callback into
	// the bubbletea loop. Capacity 1 with drop-oldest: only the newest
	// snapshot matters to a renderer.
	updates     chan world.WorldState
	unsubscribe func()
}

// NewModel builds the watch model over a source. The subscription
// starts immediately; Close releases it.
func NewModel(source Source) *Model {
	updates := make(chan world.WorldState, 1)
	model := &Model{
		source:     source,
		theme:      DefaultTheme,
		keys:       DefaultKeyMap,
		clock:      clock.Real(),
		detail:     NewDetailPane(DefaultTheme),
		splitRatio: 0.5,
		updates:    updates,
	}
	model.unsubscribe = source.Subscribe(func(state world.WorldState) {
		for {
			select {
			case updates <- state:
				return
			default:
				// Full: evict the stale snapshot and retry.
				select {
				case <-updates:
				default:
				}
			}
		}
	})
	return model
}

// Close cancels the source subscription. Safe to call more than once.
func (model *Model) Close() {
	if model.unsubscribe != nil {
		model.unsubscribe()
		model.unsubscribe = nil
	}
}

func (model *Model) Init() tea.Cmd {
	return tea.Batch(
		func() tea.Msg { return worldMsg{state: model.source.Snapshot()} },
		model.listenForWorld(),
	)
}

// listenForWorld blocks on the update channel and delivers the next
// snapshot. The handler for worldMsg re-queues it, so exactly one
// listener is outstanding at a time.
func (model *Model) listenForWorld() tea.Cmd {
	return func() tea.Msg {
		state, ok := <-model.updates
		if !ok {
			return nil
		}
		return worldMsg{state: state}
	}
}

func (model *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		model.width = msg.Width
		model.height = msg.Height
		model.ready = true
		model.layout()
		return model, nil

	case tea.KeyMsg:
		return model.handleKey(msg)

	case tea.FocusMsg:
		model.paused = false
		model.source.Resume()
		return model, nil

	case tea.BlurMsg:
		model.paused = true
		model.source.Pause()
		return model, nil

	case worldMsg:
		model.applySnapshot(msg.state)
		return model, model.listenForWorld()

	case logRecordMsg:
		model.logLine = msg.Summary
		model.logLevel = msg.Level
		model.logSeq = msg.Seq
		return model, tea.Tick(logFadeDelay, func(time.Time) tea.Msg {
			return logRecordFadeMsg{Seq: msg.Seq}
		})

	case logRecordFadeMsg:
		// Only the fade for the currently shown record clears it; a
		// newer record keeps its own timer.
		if msg.Seq == model.logSeq {
			model.logLine = ""
		}
		return model, nil
	}

	return model, nil
}

// applySnapshot installs a new world state and rebuilds everything
// derived from it, keeping the current selection where possible.
func (model *Model) applySnapshot(state world.WorldState) {
	model.state = state
	model.rows = buildSessionRows(state)
	model.instanceRows = buildInstanceRows(state, model.source.StreamStatuses())
	if model.filter.Input != "" {
		model.scored = model.filter.ApplyFuzzy(model.rows)
	} else {
		model.scored = nil
	}
	model.restoreSelection()
	model.restoreInstanceSelection()
	model.refreshDetail()
}

func (model *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if model.focus == FocusFilter {
		return model.handleFilterKey(msg)
	}

	switch {
	case key.Matches(msg, model.keys.Quit):
		return model, tea.Quit

	case key.Matches(msg, model.keys.FilterActivate):
		if model.tab == TabSessions {
			model.focus = FocusFilter
			model.filter.Active = true
			model.detail.SetFocused(false)
		}
		return model, nil

	case key.Matches(msg, model.keys.FilterClear):
		if model.filter.Input != "" {
			model.filter.Clear()
			model.reapplyFilter()
		} else if model.focus == FocusDetail {
			model.setFocus(FocusList)
		}
		return model, nil

	case key.Matches(msg, model.keys.TabSessions):
		model.tab = TabSessions
		model.setFocus(FocusList)
		return model, nil

	case key.Matches(msg, model.keys.TabInstances):
		model.tab = TabInstances
		model.setFocus(FocusList)
		return model, nil

	case key.Matches(msg, model.keys.FocusToggle):
		if model.tab == TabSessions {
			if model.focus == FocusList {
				model.setFocus(FocusDetail)
			} else {
				model.setFocus(FocusList)
			}
		}
		return model, nil

	case key.Matches(msg, model.keys.SplitGrow):
		model.adjustSplit(splitStep)
		return model, nil

	case key.Matches(msg, model.keys.SplitShrink):
		model.adjustSplit(-splitStep)
		return model, nil
	}

	// Navigation keys go to the transcript viewport while it has
	// focus, to the active tab's list otherwise.
	if model.tab == TabSessions && model.focus == FocusDetail {
		return model, model.detail.Update(msg)
	}

	switch {
	case key.Matches(msg, model.keys.Up):
		model.moveCursor(-1)
	case key.Matches(msg, model.keys.Down):
		model.moveCursor(1)
	case key.Matches(msg, model.keys.PageUp):
		model.moveCursor(-model.pageSize())
	case key.Matches(msg, model.keys.PageDown):
		model.moveCursor(model.pageSize())
	case key.Matches(msg, model.keys.Home):
		model.moveCursorTo(0)
	case key.Matches(msg, model.keys.End):
		model.moveCursorTo(model.activeRowCount() - 1)
	}
	return model, nil
}

// handleFilterKey routes keys while the filter input has focus. Typed
// runes edit the query; arrows still move the list cursor so match
// selection works without leaving the filter.
func (model *Model) handleFilterKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return model, tea.Quit

	case tea.KeyEsc:
		model.filter.Clear()
		model.setFocus(FocusList)
		model.reapplyFilter()
		return model, nil

	case tea.KeyEnter, tea.KeyTab:
		// Keep the query, return keys to the list.
		model.setFocus(FocusList)
		return model, nil

	case tea.KeyBackspace:
		if model.filter.HandleBackspace() {
			model.reapplyFilter()
		}
		return model, nil

	case tea.KeyUp:
		model.moveCursor(-1)
		return model, nil

	case tea.KeyDown:
		model.moveCursor(1)
		return model, nil

	case tea.KeyCtrlU:
		model.moveCursor(-model.pageSize())
		return model, nil

	case tea.KeyCtrlD:
		model.moveCursor(model.pageSize())
		return model, nil

	case tea.KeySpace:
		if model.filter.HandleRune(' ') {
			model.reapplyFilter()
		}
		return model, nil

	case tea.KeyRunes:
		changed := false
		for _, character := range msg.Runes {
			if model.filter.HandleRune(character) {
				changed = true
			}
		}
		if changed {
			model.reapplyFilter()
		}
		return model, nil
	}
	return model, nil
}

func (model *Model) setFocus(focus FocusRegion) {
	model.focus = focus
	model.filter.Active = focus == FocusFilter
	model.detail.SetFocused(focus == FocusDetail)
}

func (model *Model) adjustSplit(delta float64) {
	model.splitRatio += delta
	if model.splitRatio < splitMin {
		model.splitRatio = splitMin
	}
	if model.splitRatio > splitMax {
		model.splitRatio = splitMax
	}
	model.layout()
}

// reapplyFilter recomputes the match set after the query changed and
// resets the cursor to the best match.
func (model *Model) reapplyFilter() {
	if model.filter.Input != "" {
		model.scored = model.filter.ApplyFuzzy(model.rows)
	} else {
		model.scored = nil
	}
	model.cursor = 0
	model.scrollOffset = 0
	model.syncSelection()
	model.refreshDetail()
}

// Session list access. With a non-empty filter the visible rows are
// the scored matches; otherwise the full tree.

func (model *Model) filtering() bool {
	return model.filter.Input != ""
}

func (model *Model) sessionRowCount() int {
	if model.filtering() {
		return len(model.scored)
	}
	return len(model.rows)
}

func (model *Model) sessionRowAt(index int) (SessionRow, []int) {
	if model.filtering() {
		scored := model.scored[index]
		return scored.Row, scored.TitlePositions
	}
	return model.rows[index], nil
}

func (model *Model) activeRowCount() int {
	if model.tab == TabInstances {
		return len(model.instanceRows)
	}
	return model.sessionRowCount()
}

// moveCursor moves the active tab's cursor by delta rows.
func (model *Model) moveCursor(delta int) {
	if model.tab == TabInstances {
		model.instanceCursor = clampIndex(model.instanceCursor+delta, len(model.instanceRows))
		model.ensureCursorVisible()
		model.syncInstanceSelection()
		return
	}
	model.cursor = clampIndex(model.cursor+delta, model.sessionRowCount())
	model.ensureCursorVisible()
	model.syncSelection()
	model.refreshDetail()
}

func (model *Model) moveCursorTo(index int) {
	if model.tab == TabInstances {
		model.moveCursor(index - model.instanceCursor)
		return
	}
	model.moveCursor(index - model.cursor)
}

func (model *Model) pageSize() int {
	size := model.listHeight()
	if size < 1 {
		size = 1
	}
	return size
}

// syncSelection records which session the cursor is on, so a later
// snapshot can put the cursor back on it.
func (model *Model) syncSelection() {
	if count := model.sessionRowCount(); count > 0 && model.cursor < count {
		row, _ := model.sessionRowAt(model.cursor)
		model.selectedID = row.Session.Info.ID
	} else {
		model.selectedID = ""
	}
}

func (model *Model) syncInstanceSelection() {
	if count := len(model.instanceRows); count > 0 && model.instanceCursor < count {
		model.selectedInstance = model.instanceRows[model.instanceCursor].Instance.Key
	} else {
		model.selectedInstance = ""
	}
}

// restoreSelection re-finds the selected session after the rows
// changed. A vanished selection leaves the cursor at its clamped
// position rather than jumping to the top.
func (model *Model) restoreSelection() {
	if model.selectedID != "" {
		for index := 0; index < model.sessionRowCount(); index++ {
			row, _ := model.sessionRowAt(index)
			if row.Session.Info.ID == model.selectedID {
				model.cursor = index
				model.ensureCursorVisible()
				return
			}
		}
	}
	model.cursor = clampIndex(model.cursor, model.sessionRowCount())
	model.ensureCursorVisible()
	model.syncSelection()
}

func (model *Model) restoreInstanceSelection() {
	if model.selectedInstance != "" {
		for index, row := range model.instanceRows {
			if row.Instance.Key == model.selectedInstance {
				model.instanceCursor = index
				model.ensureCursorVisible()
				return
			}
		}
	}
	model.instanceCursor = clampIndex(model.instanceCursor, len(model.instanceRows))
	model.ensureCursorVisible()
	model.syncInstanceSelection()
}

// refreshDetail points the detail pane at the currently selected
// session.
func (model *Model) refreshDetail() {
	now := model.clock.Now()
	count := model.sessionRowCount()
	if count == 0 || model.cursor >= count {
		model.detail.ShowSession(nil, nil, now)
		return
	}
	row, _ := model.sessionRowAt(model.cursor)
	session := row.Session
	var instance *world.Instance
	if found, ok := model.state.Instance(row.Instance); ok {
		instance = &found
	}
	model.detail.ShowSession(&session, instance, now)
}

// Layout.

func (model *Model) listHeight() int {
	height := model.height - chromeLines
	if height < 1 {
		height = 1
	}
	return height
}

func (model *Model) instanceListHeight() int {
	height := model.listHeight()
	if height >= 2 {
		height--
	}
	return height
}

func (model *Model) listPaneWidth() int {
	width := int(float64(model.width) * model.splitRatio)
	if width < minPaneWidth {
		width = minPaneWidth
	}
	if maxWidth := model.width - minPaneWidth - 1; width > maxWidth {
		width = maxWidth
	}
	if width < 1 {
		width = 1
	}
	return width
}

func (model *Model) detailPaneWidth() int {
	width := model.width - model.listPaneWidth() - 1
	if width < 3 {
		width = 3
	}
	return width
}

func (model *Model) layout() {
	model.detail.SetSize(model.detailPaneWidth(), model.listHeight())
	model.ensureCursorVisible()
}

func (model *Model) ensureCursorVisible() {
	model.cursor = clampIndex(model.cursor, model.sessionRowCount())
	model.scrollOffset = clampOffset(model.scrollOffset, model.cursor,
		model.sessionRowCount(), model.listHeight())

	model.instanceCursor = clampIndex(model.instanceCursor, len(model.instanceRows))
	model.instanceScroll = clampOffset(model.instanceScroll, model.instanceCursor,
		len(model.instanceRows), model.instanceListHeight())
}

func clampIndex(index, count int) int {
	if count <= 0 {
		return 0
	}
	if index < 0 {
		return 0
	}
	if index >= count {
		return count - 1
	}
	return index
}

// clampOffset keeps the scroll window valid and the cursor inside it.
func clampOffset(offset, cursor, count, height int) int {
	if height <= 0 {
		return 0
	}
	maxOffset := count - height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if offset > maxOffset {
		offset = maxOffset
	}
	if offset < 0 {
		offset = 0
	}
	if cursor < offset {
		offset = cursor
	}
	if cursor >= offset+height {
		offset = cursor - height + 1
	}
	return offset
}

// Rendering.

func (model *Model) View() string {
	if !model.ready {
		return "starting…"
	}

	var body string
	if model.tab == TabInstances {
		body = model.renderInstancesBody()
	} else {
		body = lipgloss.JoinHorizontal(lipgloss.Top,
			model.renderSessionList(model.listPaneWidth(), model.listHeight()),
			renderDivider(model.theme, model.listHeight()),
			model.detail.View(),
		)
	}

	border := lipgloss.NewStyle().Foreground(model.theme.BorderColor)
	separator := border.Render(strings.Repeat("─", model.width))

	return model.renderChromeLine() + "\n" +
		body + "\n" +
		separator + "\n" +
		model.renderBottomLine()
}

// renderChromeLine draws the top line: the filter bar while a query is
// active, the tab header otherwise.
func (model *Model) renderChromeLine() string {
	if model.focus == FocusFilter || model.filter.Input != "" {
		return padLine(model.filter.View(model.theme, model.width), model.width)
	}

	border := lipgloss.NewStyle().Foreground(model.theme.BorderColor)
	faint := lipgloss.NewStyle().Foreground(model.theme.FaintText)
	active := lipgloss.NewStyle().Bold(true).Foreground(model.theme.HeaderForeground)

	var left strings.Builder
	for index, name := range []string{"Sessions", "Instances"} {
		style := faint
		if Tab(index) == model.tab {
			style = active
		}
		left.WriteString(border.Render("─── "))
		left.WriteString(style.Render(fmt.Sprintf("%d:%s", index+1, name)))
		left.WriteString(" ")
	}

	right := model.renderStatusSummary()
	fill := model.width - lipgloss.Width(left.String()) - lipgloss.Width(right)
	if fill < 0 {
		fill = 0
	}
	return left.String() + border.Render(strings.Repeat("─", fill)) + right
}

// renderStatusSummary is the right side of the tab header: aggregate
// connection state and counts.
func (model *Model) renderStatusSummary() string {
	stats := model.state.Stats
	faint := lipgloss.NewStyle().Foreground(model.theme.FaintText)

	connColor := model.theme.ConnDisconnected
	switch model.state.Connection {
	case world.StatusConnected:
		connColor = model.theme.ConnConnected
	case world.StatusConnecting, world.StatusDiscovering:
		connColor = model.theme.ConnConnecting
	}
	connStyle := lipgloss.NewStyle().Foreground(connColor)

	return connStyle.Render(" "+string(model.state.Connection)) +
		faint.Render(fmt.Sprintf(" · %d/%d inst · %d ses · %d run ",
			stats.ConnectedInstances, stats.Instances,
			stats.Sessions, stats.ActiveSessions))
}

func (model *Model) renderSessionList(paneWidth, height int) string {
	faint := lipgloss.NewStyle().Foreground(model.theme.FaintText)
	count := model.sessionRowCount()
	if count == 0 {
		empty := "no sessions"
		if model.filtering() {
			empty = "no matching sessions"
		}
		return lipgloss.Place(paneWidth, height, lipgloss.Center, lipgloss.Center, faint.Render(empty))
	}

	rowWidth := paneWidth - 1
	if rowWidth < 1 {
		rowWidth = 1
	}
	renderer := NewListRenderer(model.theme, rowWidth)
	now := model.clock.Now()
	focused := model.focus == FocusList || model.focus == FocusFilter
	scrollbar := strings.Split(renderScrollbar(model.theme, height, count, height,
		model.scrollOffset, focused), "\n")

	lines := make([]string, 0, height)
	for row := 0; row < height; row++ {
		index := model.scrollOffset + row
		var content string
		if index < count {
			rowData, positions := model.sessionRowAt(index)
			content = renderer.RenderRow(rowData, index == model.cursor, now, positions)
		} else {
			content = strings.Repeat(" ", rowWidth)
		}
		cell := " "
		if row < len(scrollbar) {
			cell = scrollbar[row]
		}
		lines = append(lines, content+cell)
	}
	return strings.Join(lines, "\n")
}

// renderInstancesBody draws the instances tab: the full-width instance
// list with a one-line stream diagnostics strip for the selected
// instance underneath.
func (model *Model) renderInstancesBody() string {
	faint := lipgloss.NewStyle().Foreground(model.theme.FaintText)
	totalHeight := model.listHeight()
	listHeight := model.instanceListHeight()
	count := len(model.instanceRows)

	if count == 0 {
		return lipgloss.Place(model.width, totalHeight, lipgloss.Center, lipgloss.Center,
			faint.Render("no instances discovered"))
	}

	rowWidth := model.width - 1
	if rowWidth < 1 {
		rowWidth = 1
	}
	renderer := NewInstanceRenderer(model.theme, rowWidth)
	now := model.clock.Now()
	scrollbar := strings.Split(renderScrollbar(model.theme, listHeight, count, listHeight,
		model.instanceScroll, true), "\n")

	lines := make([]string, 0, totalHeight)
	for row := 0; row < listHeight; row++ {
		index := model.instanceScroll + row
		var content string
		if index < count {
			content = renderer.RenderRow(model.instanceRows[index], index == model.instanceCursor, now)
		} else {
			content = strings.Repeat(" ", rowWidth)
		}
		cell := " "
		if row < len(scrollbar) {
			cell = scrollbar[row]
		}
		lines = append(lines, content+cell)
	}

	if listHeight < totalHeight {
		strip := ""
		if model.instanceCursor < count {
			strip = renderer.RenderRecent(model.instanceRows[model.instanceCursor], now)
		}
		lines = append(lines, padLine(strip, model.width))
	}
	return strings.Join(lines, "\n")
}

// renderBottomLine draws the help line, replaced by the most recent
// log record until it fades.
func (model *Model) renderBottomLine() string {
	if model.logLine != "" {
		color := model.theme.FaintText
		switch {
		case model.logLevel >= slog.LevelError:
			color = model.theme.SessionError
		case model.logLevel >= slog.LevelWarn:
			color = model.theme.ConnConnecting
		}
		style := lipgloss.NewStyle().Foreground(color)
		return padLine(" "+style.Render(model.logLine), model.width)
	}

	faint := lipgloss.NewStyle().Foreground(model.theme.FaintText)
	keyStyle := lipgloss.NewStyle().Foreground(model.theme.HelpText)

	bindings := []key.Binding{
		model.keys.Down,
		model.keys.FocusToggle,
		model.keys.FilterActivate,
		model.keys.TabInstances,
		model.keys.SplitGrow,
		model.keys.Quit,
	}
	parts := make([]string, 0, len(bindings)+1)
	for _, binding := range bindings {
		help := binding.Help()
		parts = append(parts, keyStyle.Render(help.Key)+" "+faint.Render(help.Desc))
	}
	if model.paused {
		parts = append(parts, lipgloss.NewStyle().
			Foreground(model.theme.ConnConnecting).Render("paused"))
	}
	return padLine(" "+strings.Join(parts, "  "), model.width)
}

func renderDivider(theme Theme, height int) string {
	cell := lipgloss.NewStyle().Foreground(theme.BorderColor).Render("│")
	rows := make([]string, height)
	for index := range rows {
		rows[index] = cell
	}
	return strings.Join(rows, "\n")
}
