// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package watchui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// renderScrollbar renders a one-column vertical scrollbar as a
// newline-joined string of height cells. The thumb position and size
// reflect the window [scrollOffset, scrollOffset+visibleItems) within
// totalItems. When everything fits the thumb fills the track, which
// keeps the column stable instead of flickering in and out as content
// crosses the pane height.
func renderScrollbar(theme Theme, height, totalItems, visibleItems, scrollOffset int, focused bool) string {
	if height <= 0 {
		return ""
	}

	thumbColor := theme.BorderColor
	if focused {
		thumbColor = theme.SessionRunning
	}
	thumbStyle := lipgloss.NewStyle().Foreground(thumbColor)
	trackStyle := lipgloss.NewStyle().Foreground(theme.BorderColor)

	thumbStart := 0
	thumbHeight := height
	if totalItems > visibleItems && totalItems > 0 {
		thumbHeight = height * visibleItems / totalItems
		if thumbHeight < 1 {
			thumbHeight = 1
		}
		maxOffset := totalItems - visibleItems
		thumbStart = (height - thumbHeight) * scrollOffset / maxOffset
		if thumbStart > height-thumbHeight {
			thumbStart = height - thumbHeight
		}
	}

	cells := make([]string, 0, height)
	for row := 0; row < height; row++ {
		if row >= thumbStart && row < thumbStart+thumbHeight {
			cells = append(cells, thumbStyle.Render("┃"))
		} else {
			cells = append(cells, trackStyle.Render("│"))
		}
	}
	return strings.Join(cells, "\n")
}
