// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package watchui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/fleetglass/fleetglass/stream"
	"github.com/fleetglass/fleetglass/world"
)

// Theme defines the color palette for the watch TUI. All colors use
// lipgloss ANSI 256-color codes for broad terminal compatibility.
//
// The fields cover universal chrome (text, selection, borders) and the
// semantic categories the watcher renders: session execution states,
// stream connection states, context-window pressure, and message roles.
type Theme struct {
	// Text colors.
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Selected row.
	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color

	// Session execution states.
	SessionIdle    lipgloss.Color
	SessionRunning lipgloss.Color
	SessionError   lipgloss.Color

	// Event stream connection states.
	ConnConnected    lipgloss.Color
	ConnConnecting   lipgloss.Color
	ConnDisconnected lipgloss.Color

	// Context gauge bands: comfortable, filling, near the window limit.
	GaugeLow  lipgloss.Color
	GaugeMid  lipgloss.Color
	GaugeHigh lipgloss.Color

	// Message roles in the transcript pane.
	RoleUser      lipgloss.Color
	RoleAssistant lipgloss.Color

	// UI chrome.
	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color

	// Filter match highlighting.
	SearchHighlightBackground lipgloss.Color
}

// SessionColor returns the color for a session execution state.
// Unknown states return FaintText.
func (theme Theme) SessionColor(state world.SessionState) lipgloss.Color {
	switch state {
	case world.SessionRunning:
		return theme.SessionRunning
	case world.SessionError:
		return theme.SessionError
	case world.SessionIdle:
		return theme.SessionIdle
	default:
		return theme.FaintText
	}
}

// ConnColor returns the color for a stream connection state. Unknown
// states return FaintText.
func (theme Theme) ConnColor(state stream.ConnState) lipgloss.Color {
	switch state {
	case stream.StateConnected:
		return theme.ConnConnected
	case stream.StateConnecting:
		return theme.ConnConnecting
	case stream.StateDisconnected:
		return theme.ConnDisconnected
	default:
		return theme.FaintText
	}
}

// GaugeColor returns the color for a context usage percentage. The
// high band starts above 80 percent, matching the engine's near-limit
// threshold.
func (theme Theme) GaugeColor(percent int) lipgloss.Color {
	switch {
	case percent > 80:
		return theme.GaugeHigh
	case percent > 50:
		return theme.GaugeMid
	default:
		return theme.GaugeLow
	}
}

// DefaultTheme is the built-in dark-terminal color scheme. Designed for
// 256-color terminals with a dark background (the common case for
// development environments and tmux sessions).
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	SelectedBackground: lipgloss.Color("236"),
	SelectedForeground: lipgloss.Color("255"),

	SessionIdle:    lipgloss.Color("245"), // gray
	SessionRunning: lipgloss.Color("114"), // green
	SessionError:   lipgloss.Color("196"), // bright red

	ConnConnected:    lipgloss.Color("114"), // green
	ConnConnecting:   lipgloss.Color("220"), // yellow/amber
	ConnDisconnected: lipgloss.Color("196"), // red

	GaugeLow:  lipgloss.Color("114"), // green
	GaugeMid:  lipgloss.Color("220"), // amber
	GaugeHigh: lipgloss.Color("196"), // red

	RoleUser:      lipgloss.Color("75"),  // blue
	RoleAssistant: lipgloss.Color("141"), // light purple

	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("240"),
	HelpText:         lipgloss.Color("241"),

	SearchHighlightBackground: lipgloss.Color("58"), // dark amber
}
