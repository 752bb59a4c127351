// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package watchui

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/fleetglass/fleetglass/world"
)

func TestBuildSessionRowsNesting(t *testing.T) {
	t.Parallel()

	engine := newWorldEngine(t)
	injectSession(engine, "ses_root", "", "root task", 3000)
	injectSession(engine, "ses_child", "ses_root", "subtask", 2000)
	injectSession(engine, "ses_lone", "", "standalone", 1000)

	rows := buildSessionRows(engine.Snapshot())
	if len(rows) != 3 {
		t.Fatalf("buildSessionRows returned %d rows, want 3", len(rows))
	}

	wantOrder := []struct {
		id    string
		depth int
	}{
		{"ses_root", 0},
		{"ses_child", 1},
		{"ses_lone", 0},
	}
	for index, want := range wantOrder {
		if got := rows[index].Session.Info.ID; got != want.id {
			t.Errorf("rows[%d].ID = %s, want %s", index, got, want.id)
		}
		if got := rows[index].Depth; got != want.depth {
			t.Errorf("rows[%d].Depth = %d, want %d", index, got, want.depth)
		}
	}
}

func TestBuildSessionRowsOrphanPromoted(t *testing.T) {
	t.Parallel()

	engine := newWorldEngine(t)
	injectSession(engine, "ses_orphan", "ses_gone", "orphaned subtask", 1000)

	rows := buildSessionRows(engine.Snapshot())
	if len(rows) != 1 {
		t.Fatalf("buildSessionRows returned %d rows, want 1", len(rows))
	}
	if rows[0].Depth != 0 {
		t.Errorf("orphan Depth = %d, want 0", rows[0].Depth)
	}
}

func TestFormatElapsed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		elapsed time.Duration
		want    string
	}{
		{-time.Second, "-"},
		{5 * time.Second, "now"},
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{3 * time.Hour, "3h"},
		{50 * time.Hour, "2d"},
	}
	for _, test := range tests {
		if got := formatElapsed(test.elapsed); got != test.want {
			t.Errorf("formatElapsed(%v) = %q, want %q", test.elapsed, got, test.want)
		}
	}
}

func TestFormatAge(t *testing.T) {
	t.Parallel()

	if got := formatAge(testStart, 0); got != "-" {
		t.Errorf("formatAge(0) = %q, want %q", got, "-")
	}
	millis := testStart.Add(-2 * time.Minute).UnixMilli()
	if got := formatAge(testStart, millis); got != "2m" {
		t.Errorf("formatAge(2m ago) = %q, want %q", got, "2m")
	}
}

func TestSessionGlyph(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state world.SessionState
		want  string
	}{
		{world.SessionRunning, "●"},
		{world.SessionError, "✖"},
		{world.SessionIdle, "○"},
	}
	for _, test := range tests {
		if got := sessionGlyph(test.state); got != test.want {
			t.Errorf("sessionGlyph(%s) = %q, want %q", test.state, got, test.want)
		}
	}
}

func TestRowIndent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		depth int
		want  string
	}{
		{0, ""},
		{1, "└ "},
		{3, "    └ "},
	}
	for _, test := range tests {
		if got := rowIndent(test.depth); got != test.want {
			t.Errorf("rowIndent(%d) = %q, want %q", test.depth, got, test.want)
		}
	}
}

func TestTruncateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text     string
		maxWidth int
		want     string
	}{
		{"hello", 10, "hello"},
		{"hello world", 5, "hello"},
		{"日本語テキスト", 4, "日本"},
		{"", 5, ""},
	}
	for _, test := range tests {
		if got := truncateString(test.text, test.maxWidth); got != test.want {
			t.Errorf("truncateString(%q, %d) = %q, want %q", test.text, test.maxWidth, got, test.want)
		}
	}
}

func TestRenderRowShowsFields(t *testing.T) {
	t.Parallel()

	session := enrichedSession("ses_build", "build pipeline", world.SessionRunning,
		testStart.Add(-3*time.Minute).UnixMilli())
	session.Context = &world.ContextUsage{Percent: 42, Used: 84_000, Usable: 200_000}
	row := SessionRow{Session: session, Instance: "box:4096"}

	renderer := NewListRenderer(DefaultTheme, 60)
	got := ansi.Strip(renderer.RenderRow(row, false, testStart, nil))

	for _, want := range []string{"●", "ses_build", "build pipeline", "42%", "3m"} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered row %q missing %q", got, want)
		}
	}
}

func TestRenderRowUntitled(t *testing.T) {
	t.Parallel()

	row := SessionRow{Session: enrichedSession("ses_blank", "", world.SessionIdle, 0)}
	renderer := NewListRenderer(DefaultTheme, 60)
	got := ansi.Strip(renderer.RenderRow(row, false, testStart, nil))
	if !strings.Contains(got, "(untitled)") {
		t.Errorf("rendered row %q missing %q", got, "(untitled)")
	}
}

func TestRenderRowWidthBound(t *testing.T) {
	t.Parallel()

	session := enrichedSession("ses_longtitle",
		strings.Repeat("a very long title ", 10), world.SessionIdle, testStart.UnixMilli())
	row := SessionRow{Session: session}

	for _, width := range []int{40, 60, 80} {
		renderer := NewListRenderer(DefaultTheme, width)
		for _, selected := range []bool{false, true} {
			rendered := renderer.RenderRow(row, selected, testStart, nil)
			if got := lipgloss.Width(rendered); got > width {
				t.Errorf("width %d selected=%v: rendered width = %d", width, selected, got)
			}
		}
	}
}

func TestHighlightMatchesPreservesText(t *testing.T) {
	t.Parallel()

	base := lipgloss.NewStyle()
	highlight := base.Bold(true)

	tests := []struct {
		name      string
		display   string
		original  int
		positions []int
	}{
		{"no positions", "stream work", 11, nil},
		{"some positions", "stream work", 11, []int{0, 1, 2}},
		{"positions beyond truncation", "stre", 11, []int{0, 8, 9}},
		{"all positions", "abc", 3, []int{0, 1, 2}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			got := ansi.Strip(highlightMatches(test.display, test.original, test.positions, base, highlight))
			if got != test.display {
				t.Errorf("highlightMatches altered text: got %q, want %q", got, test.display)
			}
		})
	}
}
