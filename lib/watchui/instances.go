// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package watchui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fleetglass/fleetglass/stream"
	"github.com/fleetglass/fleetglass/world"
)

// InstanceRow is one renderable line in the instances tab: an instance
// joined with its stream diagnostics and the number of sessions routed
// to it.
type InstanceRow struct {
	Instance world.Instance
	Sessions int

	// Stream is the zero value when the stream manager has no
	// supervisor for the instance yet (HasStream false).
	Stream    stream.Status
	HasStream bool
}

// buildInstanceRows joins a world snapshot with the stream manager's
// diagnostics. Rows come out in the snapshot's instance order (sorted
// by key).
func buildInstanceRows(state world.WorldState, statuses []stream.Status) []InstanceRow {
	byKey := make(map[string]stream.Status, len(statuses))
	for _, status := range statuses {
		byKey[string(status.Key)] = status
	}

	sessions := make(map[string]int, len(state.Routing))
	for _, key := range state.Routing {
		sessions[string(key)]++
	}

	rows := make([]InstanceRow, 0, len(state.Instances))
	for _, instance := range state.Instances {
		row := InstanceRow{
			Instance: instance,
			Sessions: sessions[string(instance.Key)],
		}
		if status, ok := byKey[string(instance.Key)]; ok {
			row.Stream = status
			row.HasStream = true
		}
		rows = append(rows, row)
	}
	return rows
}

// connGlyph returns the single-column indicator for a stream
// connection state.
func connGlyph(state stream.ConnState) string {
	switch state {
	case stream.StateConnected:
		return "●"
	case stream.StateConnecting:
		return "◌"
	case stream.StateDisconnected:
		return "✖"
	default:
		return "○"
	}
}

// InstanceRenderer handles the table-style rendering of instance rows
// within a given width.
type InstanceRenderer struct {
	theme Theme
	width int
}

// NewInstanceRenderer creates an InstanceRenderer for the given width.
func NewInstanceRenderer(theme Theme, width int) InstanceRenderer {
	return InstanceRenderer{theme: theme, width: width}
}

// RenderRow renders a single instance as a formatted table row. The
// name column fills remaining space; the key and the diagnostic
// figures trail it.
//
// Row layout: margin + glyph + " " + name + "  " + key + diagnostics + age
//
//	 ● fleetglass  127.0.0.1:4096  3 ses  124 ev  3s
//	 ✖ beta.lab    10.1.0.7:4096  0 ses  0 ev  retry 4  -
func (renderer InstanceRenderer) RenderRow(row InstanceRow, selected bool, now time.Time) string {
	state := row.Instance.State

	var parts []string
	parts = append(parts, fmt.Sprintf("%d ses", row.Sessions))
	if row.HasStream {
		parts = append(parts, fmt.Sprintf("%d ev", row.Stream.Received))
		if row.Stream.Attempts > 0 && state != stream.StateConnected {
			parts = append(parts, fmt.Sprintf("retry %d", row.Stream.Attempts))
		}
	}
	age := "-"
	if row.HasStream && !row.Stream.LastEvent.IsZero() {
		age = formatElapsed(now.Sub(row.Stream.LastEvent))
	}
	parts = append(parts, age)
	figures := "  " + strings.Join(parts, "  ")

	key := string(row.Instance.Key)
	nameWidth := renderer.width - fixedLeftWidth - lipgloss.Width(figures) - len(key) - 2
	if nameWidth < 10 {
		nameWidth = 10
	}
	name := row.Instance.DisplayName()
	if lipgloss.Width(name) > nameWidth {
		name = truncateString(name, nameWidth-1) + "…"
	}
	name += strings.Repeat(" ", max(nameWidth-lipgloss.Width(name), 0))

	if selected {
		baseStyle := lipgloss.NewStyle().
			Background(renderer.theme.SelectedBackground).
			Foreground(renderer.theme.SelectedForeground)
		rendered := " " +
			baseStyle.Bold(true).Render(connGlyph(state)) +
			" " +
			baseStyle.Render(name+"  "+key+figures)
		return baseStyle.Width(renderer.width).MaxWidth(renderer.width).Render(rendered)
	}

	glyphStyle := lipgloss.NewStyle().Foreground(renderer.theme.ConnColor(state))
	nameStyle := lipgloss.NewStyle().Foreground(renderer.theme.NormalText)
	keyStyle := lipgloss.NewStyle().Foreground(renderer.theme.FaintText)
	figureStyle := lipgloss.NewStyle().Foreground(renderer.theme.FaintText)

	rendered := " " +
		glyphStyle.Render(connGlyph(state)) +
		" " +
		nameStyle.Render(name) +
		"  " +
		keyStyle.Render(key) +
		figureStyle.Render(figures)

	return lipgloss.NewStyle().Width(renderer.width).MaxWidth(renderer.width).Render(rendered)
}

// RenderRecent renders the one-line diagnostics strip for the selected
// instance: the most recently received event kinds with their ages,
// newest last. Empty when the instance has no stream or no events yet.
func (renderer InstanceRenderer) RenderRecent(row InstanceRow, now time.Time) string {
	if !row.HasStream || len(row.Stream.Recent) == 0 {
		return ""
	}

	// The ring is oldest-first; show the tail that fits.
	entries := row.Stream.Recent
	const maxShown = 4
	if len(entries) > maxShown {
		entries = entries[len(entries)-maxShown:]
	}

	labelStyle := lipgloss.NewStyle().Foreground(renderer.theme.FaintText)
	kindStyle := lipgloss.NewStyle().Foreground(renderer.theme.NormalText)

	var parts []string
	for _, entry := range entries {
		parts = append(parts, kindStyle.Render(entry.Kind)+
			labelStyle.Render(fmt.Sprintf("(%s)", formatElapsed(now.Sub(entry.At)))))
	}

	line := labelStyle.Render(" recent: ") + strings.Join(parts, "  ")
	return lipgloss.NewStyle().Width(renderer.width).MaxWidth(renderer.width).Render(line)
}
