// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package watchui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fleetglass/fleetglass/discovery"
	"github.com/fleetglass/fleetglass/world"
)

// Column widths for the session list. The title column fills remaining
// space; all others are fixed.
const (
	// columnWidthID is the session ID column: 10 visible characters
	// plus a trailing space.
	columnWidthID = 11

	// fixedLeftWidth is the width of the left portion before the ID
	// column: 1 (margin) + 1 (state glyph) + 1 (gap).
	fixedLeftWidth = 3
)

// SessionRow is one renderable line in the sessions list: a session
// joined with the instance it routes to and its depth in the
// parent/child tree.
type SessionRow struct {
	Session  world.EnrichedSession
	Instance discovery.InstanceKey
	Depth    int
}

// buildSessionRows flattens the snapshot's session tree into display
// order: each root in activity order, immediately followed by its
// children depth-first. The tree shape (orphan promotion, depth and
// child caps, cycle handling) is [world.WorldState.SessionTree]'s.
func buildSessionRows(state world.WorldState) []SessionRow {
	rows := make([]SessionRow, 0, len(state.Sessions))
	var flatten func(node world.TreeNode)
	flatten = func(node world.TreeNode) {
		rows = append(rows, SessionRow{
			Session:  node.Session,
			Instance: state.Routing[node.Session.Info.ID],
			Depth:    node.Depth,
		})
		for _, child := range node.Children {
			flatten(child)
		}
	}
	for _, root := range state.SessionTree() {
		flatten(root)
	}
	return rows
}

// sessionGlyph returns the single-column state indicator for a session.
func sessionGlyph(state world.SessionState) string {
	switch state {
	case world.SessionRunning:
		return "●"
	case world.SessionError:
		return "✖"
	default:
		return "○"
	}
}

// rowIndent returns the tree indentation prefix for a row depth.
func rowIndent(depth int) string {
	if depth <= 0 {
		return ""
	}
	return strings.Repeat("  ", depth-1) + "└ "
}

// formatAge renders the elapsed time since an epoch-millisecond
// timestamp in at most four characters. Zero renders as "-".
func formatAge(now time.Time, millis int64) string {
	if millis <= 0 {
		return "-"
	}
	return formatElapsed(now.Sub(time.UnixMilli(millis)))
}

// formatElapsed renders a duration as a compact age: "now" under ten
// seconds, then one unit of seconds, minutes, hours, or days.
func formatElapsed(elapsed time.Duration) string {
	switch {
	case elapsed < 0:
		return "-"
	case elapsed < 10*time.Second:
		return "now"
	case elapsed < time.Minute:
		return fmt.Sprintf("%ds", int(elapsed.Seconds()))
	case elapsed < time.Hour:
		return fmt.Sprintf("%dm", int(elapsed.Minutes()))
	case elapsed < 24*time.Hour:
		return fmt.Sprintf("%dh", int(elapsed.Hours()))
	default:
		return fmt.Sprintf("%dd", int(elapsed.Hours()/24))
	}
}

// ListRenderer handles the table-style rendering of session rows
// within a given width.
type ListRenderer struct {
	theme Theme
	width int
}

// NewListRenderer creates a ListRenderer for the given width.
func NewListRenderer(theme Theme, width int) ListRenderer {
	return ListRenderer{theme: theme, width: width}
}

// RenderRow renders a single session as a formatted table row. The
// selected flag controls highlight styling. The matchPositions
// parameter contains rune indices in the title that matched the
// current fuzzy filter query; when non-nil, those characters are
// highlighted with the search highlight background.
//
// Row layout: margin + glyph + " " + indent + ID + title [+ " N%"] + " age"
//
//	 ● ses_9imdoc Fix the flaky retry test 62% 3m
//	 ○ ses_b2k41x └ explore stream backoff    12m
func (renderer ListRenderer) RenderRow(row SessionRow, selected bool, now time.Time, matchPositions []int) string {
	indent := rowIndent(row.Depth)
	age := " " + formatAge(now, row.Session.LastActivityAt)

	gauge := ""
	if usage := row.Session.Context; usage != nil {
		gauge = fmt.Sprintf(" %d%%", usage.Percent)
	}

	titleWidth := renderer.width - fixedLeftWidth - columnWidthID -
		lipgloss.Width(indent) - lipgloss.Width(gauge) - lipgloss.Width(age)
	if titleWidth < 10 {
		titleWidth = 10
	}

	title := row.Session.Info.Title
	untitled := title == ""
	if untitled {
		title = "(untitled)"
	}
	display := title
	if lipgloss.Width(display) > titleWidth {
		display = truncateString(display, titleWidth-1) + "…"
	}

	if selected {
		return renderer.renderSelectedRow(row, indent, display, gauge, age, matchPositions, len([]rune(title)))
	}
	return renderer.renderNormalRow(row, indent, display, gauge, age, untitled, matchPositions, len([]rune(title)))
}

// renderNormalRow renders a row with per-component foreground colors on
// the default terminal background.
func (renderer ListRenderer) renderNormalRow(row SessionRow, indent, display, gauge, age string, untitled bool, matchPositions []int, titleLength int) string {
	state := row.Session.Status.State

	glyphStyle := lipgloss.NewStyle().Foreground(renderer.theme.SessionColor(state))
	idStyle := lipgloss.NewStyle().
		Width(columnWidthID).
		Foreground(renderer.theme.SessionColor(state))
	indentStyle := lipgloss.NewStyle().Foreground(renderer.theme.BorderColor)

	titleStyle := lipgloss.NewStyle().Foreground(renderer.theme.NormalText)
	if untitled {
		titleStyle = titleStyle.Foreground(renderer.theme.FaintText)
	}

	var titleRendered string
	if len(matchPositions) > 0 {
		highlightStyle := lipgloss.NewStyle().
			Foreground(renderer.theme.NormalText).
			Background(renderer.theme.SearchHighlightBackground)
		titleRendered = highlightMatches(display, titleLength, matchPositions, titleStyle, highlightStyle)
	} else {
		titleRendered = titleStyle.Render(display)
	}

	var suffix string
	if gauge != "" {
		percent := 0
		if usage := row.Session.Context; usage != nil {
			percent = usage.Percent
		}
		suffix += lipgloss.NewStyle().
			Foreground(renderer.theme.GaugeColor(percent)).
			Render(gauge)
	}
	suffix += lipgloss.NewStyle().Foreground(renderer.theme.FaintText).Render(age)

	rendered := " " +
		glyphStyle.Render(sessionGlyph(state)) +
		" " +
		indentStyle.Render(indent) +
		idStyle.Render(truncateString(row.Session.Info.ID, columnWidthID-1)) +
		titleRendered +
		suffix

	return lipgloss.NewStyle().Width(renderer.width).MaxWidth(renderer.width).Render(rendered)
}

// renderSelectedRow renders the selected row with a highlight
// background. All text uses the selected foreground color; filter
// matches pop with bold+underline since a background tint would be
// invisible against the selection.
func (renderer ListRenderer) renderSelectedRow(row SessionRow, indent, display, gauge, age string, matchPositions []int, titleLength int) string {
	baseStyle := lipgloss.NewStyle().
		Background(renderer.theme.SelectedBackground).
		Foreground(renderer.theme.SelectedForeground)

	var titleRendered string
	if len(matchPositions) > 0 {
		highlightStyle := baseStyle.Bold(true).Underline(true)
		titleRendered = highlightMatches(display, titleLength, matchPositions, baseStyle, highlightStyle)
	} else {
		titleRendered = baseStyle.Render(display)
	}

	rendered := " " +
		baseStyle.Bold(true).Render(sessionGlyph(row.Session.Status.State)) +
		" " +
		baseStyle.Render(indent) +
		baseStyle.Width(columnWidthID).Render(truncateString(row.Session.Info.ID, columnWidthID-1)) +
		titleRendered +
		baseStyle.Render(gauge+age)

	return baseStyle.Width(renderer.width).MaxWidth(renderer.width).Render(rendered)
}

// highlightMatches renders display text with character-level
// highlighting at the given rune positions. Positions index into the
// original (untruncated) title, which aligns 1:1 with display up to the
// truncation point. Consecutive runs of same-style characters are
// batched into a single Render call to keep ANSI output compact.
func highlightMatches(display string, originalLength int, positions []int, baseStyle, highlightStyle lipgloss.Style) string {
	if len(positions) == 0 {
		return baseStyle.Render(display)
	}

	positionSet := make(map[int]bool, len(positions))
	for _, position := range positions {
		positionSet[position] = true
	}

	displayRunes := []rune(display)
	var result strings.Builder
	runStart := 0
	isHighlighted := originalLength > 0 && positionSet[0]

	for index := 1; index <= len(displayRunes); index++ {
		currentHighlighted := index < originalLength && positionSet[index]
		if currentHighlighted != isHighlighted || index == len(displayRunes) {
			chunk := string(displayRunes[runStart:index])
			if isHighlighted {
				result.WriteString(highlightStyle.Render(chunk))
			} else {
				result.WriteString(baseStyle.Render(chunk))
			}
			runStart = index
			isHighlighted = currentHighlighted
		}
	}

	return result.String()
}

// truncateString truncates a string to maxWidth visual columns.
// Handles wide characters via lipgloss width measurement.
func truncateString(text string, maxWidth int) string {
	if lipgloss.Width(text) <= maxWidth {
		return text
	}
	runes := []rune(text)
	for length := len(runes) - 1; length >= 0; length-- {
		candidate := string(runes[:length])
		if lipgloss.Width(candidate) <= maxWidth {
			return candidate
		}
	}
	return ""
}
