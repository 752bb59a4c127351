// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package watchui

import (
	"log/slog"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
)

// newTestModel builds a model over a two-session snapshot and delivers
// an initial window size, leaving it ready to render.
func newTestModel(t *testing.T) (*Model, *stubSource) {
	t.Helper()
	engine := newWorldEngine(t)
	injectSession(engine, "ses_alpha", "", "alpha work", 3000)
	injectSession(engine, "ses_beta", "", "beta work", 2000)

	stub := &stubSource{state: engine.Snapshot()}
	model := NewModel(stub)
	t.Cleanup(model.Close)

	model.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	model.Update(worldMsg{state: stub.state})
	return model, stub
}

func keyMsg(keys string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(keys)}
}

func stripView(model *Model) string {
	return ansi.Strip(model.View())
}

func TestModelViewBeforeReady(t *testing.T) {
	t.Parallel()

	model := NewModel(&stubSource{})
	t.Cleanup(model.Close)
	if got := model.View(); !strings.Contains(got, "starting") {
		t.Errorf("View before first WindowSizeMsg = %q, want starting placeholder", got)
	}
}

func TestModelShowsSessions(t *testing.T) {
	t.Parallel()

	model, stub := newTestModel(t)

	_, cmd := model.Update(worldMsg{state: stub.state})
	if cmd == nil {
		t.Error("worldMsg handler returned nil cmd, want a re-queued listener")
	}

	view := stripView(model)
	for _, want := range []string{"alpha work", "beta work", "ses_alpha", "1:Sessions", "2:Instances"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModelCursorNavigation(t *testing.T) {
	t.Parallel()

	model, _ := newTestModel(t)
	if model.selectedID != "ses_alpha" {
		t.Fatalf("initial selection = %q, want ses_alpha", model.selectedID)
	}

	model.Update(keyMsg("j"))
	if model.cursor != 1 || model.selectedID != "ses_beta" {
		t.Errorf("after j: cursor %d selection %q, want 1 ses_beta", model.cursor, model.selectedID)
	}

	model.Update(keyMsg("j"))
	if model.cursor != 1 {
		t.Errorf("cursor past end = %d, want clamped to 1", model.cursor)
	}

	model.Update(keyMsg("k"))
	if model.cursor != 0 || model.selectedID != "ses_alpha" {
		t.Errorf("after k: cursor %d selection %q, want 0 ses_alpha", model.cursor, model.selectedID)
	}

	model.Update(keyMsg("G"))
	if model.cursor != 1 {
		t.Errorf("after G: cursor = %d, want 1", model.cursor)
	}
	model.Update(keyMsg("g"))
	if model.cursor != 0 {
		t.Errorf("after g: cursor = %d, want 0", model.cursor)
	}
}

func TestModelSelectionStableAcrossRefresh(t *testing.T) {
	t.Parallel()

	engine := newWorldEngine(t)
	injectSession(engine, "ses_alpha", "", "alpha work", 3000)
	injectSession(engine, "ses_beta", "", "beta work", 2000)

	stub := &stubSource{state: engine.Snapshot()}
	model := NewModel(stub)
	t.Cleanup(model.Close)
	model.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	model.Update(worldMsg{state: stub.state})

	model.Update(keyMsg("j"))
	if model.selectedID != "ses_beta" {
		t.Fatalf("selection = %q, want ses_beta", model.selectedID)
	}

	// Fresh activity reorders beta to the top; the cursor must follow
	// it instead of staying on row 1.
	injectSession(engine, "ses_beta", "", "beta work", 9000)
	model.Update(worldMsg{state: engine.Snapshot()})

	if model.selectedID != "ses_beta" {
		t.Errorf("selection after refresh = %q, want ses_beta", model.selectedID)
	}
	if model.cursor != 0 {
		t.Errorf("cursor after refresh = %d, want 0 (beta moved up)", model.cursor)
	}
}

func TestModelFilterFlow(t *testing.T) {
	t.Parallel()

	model, _ := newTestModel(t)

	model.Update(keyMsg("/"))
	if model.focus != FocusFilter || !model.filter.Active {
		t.Fatalf("after /: focus %v active %v, want filter focus", model.focus, model.filter.Active)
	}

	model.Update(keyMsg("alpha"))
	if model.filter.Input != "alpha" {
		t.Fatalf("filter input = %q, want alpha", model.filter.Input)
	}
	if got := model.sessionRowCount(); got != 1 {
		t.Errorf("filtered row count = %d, want 1", got)
	}
	if view := stripView(model); !strings.Contains(view, "/ alpha") {
		t.Errorf("view missing filter bar:\n%s", view)
	}

	// Enter keeps the narrowed list but returns keys to it.
	model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if model.focus != FocusList || model.filter.Input != "alpha" {
		t.Errorf("after enter: focus %v input %q, want list focus with query kept",
			model.focus, model.filter.Input)
	}

	// Esc from the list clears the query entirely.
	model.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if model.filter.Input != "" {
		t.Errorf("filter input after esc = %q, want empty", model.filter.Input)
	}
	if got := model.sessionRowCount(); got != 2 {
		t.Errorf("row count after clearing filter = %d, want 2", got)
	}
}

func TestModelFilterEscWhileTyping(t *testing.T) {
	t.Parallel()

	model, _ := newTestModel(t)
	model.Update(keyMsg("/"))
	model.Update(keyMsg("beta"))
	model.Update(tea.KeyMsg{Type: tea.KeyEsc})

	if model.focus != FocusList || model.filter.Input != "" || model.filter.Active {
		t.Errorf("after esc in filter mode: focus %v input %q active %v, want cleared list focus",
			model.focus, model.filter.Input, model.filter.Active)
	}
}

func TestModelTabSwitch(t *testing.T) {
	t.Parallel()

	model, _ := newTestModel(t)

	model.Update(keyMsg("2"))
	if model.tab != TabInstances {
		t.Fatalf("tab after 2 = %v, want instances", model.tab)
	}
	if view := stripView(model); !strings.Contains(view, "no instances discovered") {
		t.Errorf("instances view missing empty state:\n%s", view)
	}

	model.Update(keyMsg("1"))
	if model.tab != TabSessions {
		t.Errorf("tab after 1 = %v, want sessions", model.tab)
	}
}

func TestModelFocusToggle(t *testing.T) {
	t.Parallel()

	model, _ := newTestModel(t)

	model.Update(tea.KeyMsg{Type: tea.KeyTab})
	if model.focus != FocusDetail {
		t.Fatalf("focus after tab = %v, want detail", model.focus)
	}
	model.Update(tea.KeyMsg{Type: tea.KeyTab})
	if model.focus != FocusList {
		t.Errorf("focus after second tab = %v, want list", model.focus)
	}
}

func TestModelPauseResume(t *testing.T) {
	t.Parallel()

	model, stub := newTestModel(t)

	model.Update(tea.BlurMsg{})
	if stub.pauses != 1 || !model.paused {
		t.Errorf("after blur: pauses %d paused %v, want 1 true", stub.pauses, model.paused)
	}
	if view := stripView(model); !strings.Contains(view, "paused") {
		t.Errorf("paused indicator missing:\n%s", view)
	}

	model.Update(tea.FocusMsg{})
	if stub.resumes != 1 || model.paused {
		t.Errorf("after focus: resumes %d paused %v, want 1 false", stub.resumes, model.paused)
	}
}

func TestModelQuit(t *testing.T) {
	t.Parallel()

	model, _ := newTestModel(t)
	_, cmd := model.Update(keyMsg("q"))
	if cmd == nil {
		t.Fatal("q returned nil cmd, want quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("q cmd produced %T, want tea.QuitMsg", cmd())
	}
}

func TestModelSplitAdjust(t *testing.T) {
	t.Parallel()

	model, _ := newTestModel(t)
	base := model.listPaneWidth()

	model.Update(keyMsg("]"))
	if got := model.listPaneWidth(); got <= base {
		t.Errorf("list pane after ] = %d, want wider than %d", got, base)
	}

	for range 20 {
		model.Update(keyMsg("["))
	}
	if got := model.listPaneWidth(); got < minPaneWidth {
		t.Errorf("list pane after repeated [ = %d, want at least %d", got, minPaneWidth)
	}
	if got := model.detailPaneWidth(); got < minPaneWidth {
		t.Errorf("detail pane = %d, want at least %d", got, minPaneWidth)
	}
}

func TestModelLatestSnapshotWins(t *testing.T) {
	t.Parallel()

	engine := newWorldEngine(t)
	injectSession(engine, "ses_one", "", "first", 1000)
	older := engine.Snapshot()
	injectSession(engine, "ses_two", "", "second", 2000)
	newer := engine.Snapshot()

	stub := &stubSource{state: older}
	model := NewModel(stub)
	t.Cleanup(model.Close)
	if stub.callback == nil {
		t.Fatal("NewModel did not subscribe")
	}

	// Two deliveries with no listener draining: the buffer holds only
	// the newest.
	stub.callback(older)
	stub.callback(newer)

	state := <-model.updates
	if len(state.Sessions) != 2 {
		t.Errorf("buffered snapshot has %d sessions, want 2 (the newer one)", len(state.Sessions))
	}
	select {
	case extra := <-model.updates:
		t.Errorf("unexpected second buffered snapshot with %d sessions", len(extra.Sessions))
	default:
	}
}

func TestModelListenForWorldDeliversBuffered(t *testing.T) {
	t.Parallel()

	model, stub := newTestModel(t)
	stub.callback(stub.state)

	msg := model.listenForWorld()()
	delivered, ok := msg.(worldMsg)
	if !ok {
		t.Fatalf("listener produced %T, want worldMsg", msg)
	}
	if len(delivered.state.Sessions) != 2 {
		t.Errorf("delivered snapshot has %d sessions, want 2", len(delivered.state.Sessions))
	}
}

func TestModelLogRecordLifecycle(t *testing.T) {
	t.Parallel()

	model, _ := newTestModel(t)

	_, cmd := model.Update(logRecordMsg{Seq: 7, Summary: "discovery failed", Level: slog.LevelWarn})
	if cmd == nil {
		t.Fatal("logRecordMsg returned nil cmd, want fade timer")
	}
	if view := stripView(model); !strings.Contains(view, "discovery failed") {
		t.Errorf("log line missing from view:\n%s", view)
	}

	// A stale fade (from an older record's timer) must not clear the
	// newer line.
	model.Update(logRecordFadeMsg{Seq: 6})
	if model.logLine == "" {
		t.Error("stale fade cleared the current log line")
	}

	model.Update(logRecordFadeMsg{Seq: 7})
	if model.logLine != "" {
		t.Errorf("log line after fade = %q, want empty", model.logLine)
	}
	if view := stripView(model); !strings.Contains(view, "quit") {
		t.Errorf("help line missing after fade:\n%s", view)
	}
}

func TestModelCloseIdempotent(t *testing.T) {
	t.Parallel()

	stub := &stubSource{}
	model := NewModel(stub)
	model.Close()
	model.Close()
	if stub.unsubscribed != 1 {
		t.Errorf("unsubscribe calls = %d, want 1", stub.unsubscribed)
	}
}
